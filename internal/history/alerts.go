package history

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/akagifreeez/donut-orders/internal/snapshot"
	"github.com/akagifreeez/donut-orders/internal/tooltip"
	"github.com/akagifreeez/donut-orders/pkg/statefile"
)

const alertsFileName = "orders-alerts.json"

// Rule is one operator-defined alert condition. All bounds are optional and
// inclusive; quantity bounds apply to the undelivered remainder. A rule with
// no enabled flag is live.
type Rule struct {
	ID         string   `json:"id"`
	ProductKey string   `json:"productKey"`
	PriceMin   *float64 `json:"priceMin,omitempty"`
	PriceMax   *float64 `json:"priceMax,omitempty"`
	QtyMin     *int64   `json:"qtyMin,omitempty"`
	QtyMax     *int64   `json:"qtyMax,omitempty"`
	WebhookURL string   `json:"webhookUrl,omitempty"`
	Enabled    *bool    `json:"enabled,omitempty"`
}

// IsEnabled reports whether the rule participates in evaluation.
func (r Rule) IsEnabled() bool {
	return r.Enabled == nil || *r.Enabled
}

// Config is the alert configuration persisted as a unit: the default webhook
// target plus the rule list.
type Config struct {
	WebhookURL string `json:"webhookUrl"`
	Rules      []Rule `json:"rules"`
}

// Alerter evaluates alert rules against captured pages and posts webhook
// notifications. One notification per (rule, counterparty) per cooldown
// window; the window is derived from the listing's expiry so a long-lived
// listing does not re-fire on every scan.
type Alerter struct {
	mu        sync.Mutex
	cfg       Config
	cooldowns map[string]time.Time

	path     string
	fallback time.Duration
	prices   *Prices
	client   *http.Client
	printer  *message.Printer
}

// NewAlerter returns an alerter persisted under dataDir. defaultWebhook seeds
// the webhook target until the operator configures one.
func NewAlerter(dataDir string, fallback time.Duration, defaultWebhook string, prices *Prices) *Alerter {
	return &Alerter{
		cfg:       Config{WebhookURL: defaultWebhook},
		cooldowns: make(map[string]time.Time),
		path:      filepath.Join(dataDir, alertsFileName),
		fallback:  fallback,
		prices:    prices,
		client:    &http.Client{Timeout: 10 * time.Second},
		printer:   message.NewPrinter(language.English),
	}
}

// Load restores the persisted configuration.
func (a *Alerter) Load() {
	var stored Config
	ok, err := statefile.Load(a.path, &stored)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to load alert config")
		return
	}
	if !ok {
		return
	}
	a.mu.Lock()
	a.cfg = stored
	a.mu.Unlock()
	log.Info().Int("rules", len(stored.Rules)).Msg("Alert config restored")
}

// Config returns a copy of the current configuration.
func (a *Alerter) Config() Config {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := a.cfg
	out.Rules = append([]Rule(nil), a.cfg.Rules...)
	return out
}

// SetConfig validates and replaces the whole configuration as a unit,
// assigning ids to new rules.
func (a *Alerter) SetConfig(cfg Config) (Config, error) {
	for i := range cfg.Rules {
		r := &cfg.Rules[i]
		r.ProductKey = tooltip.NormalizeKey(r.ProductKey)
		if r.ProductKey == "" {
			return Config{}, fmt.Errorf("rule %d: product key required", i)
		}
		if r.PriceMin != nil && r.PriceMax != nil && *r.PriceMin > *r.PriceMax {
			return Config{}, fmt.Errorf("rule %d: price bounds inverted", i)
		}
		if r.QtyMin != nil && r.QtyMax != nil && *r.QtyMin > *r.QtyMax {
			return Config{}, fmt.Errorf("rule %d: quantity bounds inverted", i)
		}
		if r.ID == "" {
			r.ID = uuid.NewString()
		}
	}

	a.mu.Lock()
	a.cfg = cfg
	a.mu.Unlock()

	if err := statefile.Save(a.path, cfg); err != nil {
		log.Warn().Err(err).Msg("Failed to persist alert config")
	}
	return a.Config(), nil
}

// ObserveSnapshot feeds the price window and evaluates the page's best order
// against the rule set, using the capture time as the clock. Sweep pages are
// skipped: alerting and history follow tracked products only.
func (a *Alerter) ObserveSnapshot(snap *snapshot.Snapshot) {
	if snap == nil || snap.Mode == snapshot.ModeSweep {
		return
	}
	if a.prices != nil {
		a.prices.ObserveSnapshot(snap)
	}
	if o := snap.MaxOrder(); o != nil {
		a.evaluate(*o, snap.TS)
	}
}

func (a *Alerter) evaluate(o tooltip.Order, now time.Time) {
	a.mu.Lock()
	rules := a.cfg.Rules
	a.mu.Unlock()

	for i := range rules {
		r := rules[i]
		if !r.IsEnabled() || !a.matches(r, o) {
			continue
		}
		if !a.claimCooldown(r, o, now) {
			continue
		}
		// Fire and forget: a slow webhook must never hold up the scan worker.
		go a.dispatch(r, o, now)
	}
}

func (a *Alerter) matches(r Rule, o tooltip.Order) bool {
	if r.ProductKey != o.BaseKey() && r.ProductKey != o.IdentityKey() {
		return false
	}
	if r.PriceMin != nil && o.Price < *r.PriceMin {
		return false
	}
	if r.PriceMax != nil && o.Price > *r.PriceMax {
		return false
	}
	rem := o.Remaining()
	if r.QtyMin != nil && rem < *r.QtyMin {
		return false
	}
	if r.QtyMax != nil && rem > *r.QtyMax {
		return false
	}
	return true
}

// claimCooldown records the (rule, counterparty) cooldown and reports whether
// a notification may fire. The cooldown is claimed before delivery is even
// attempted: a failed webhook must not turn into a retry storm on the next
// scan.
func (a *Alerter) claimCooldown(r Rule, o tooltip.Order, now time.Time) bool {
	key := r.ID + "|" + o.UserName

	a.mu.Lock()
	defer a.mu.Unlock()

	if until, ok := a.cooldowns[key]; ok && now.Before(until) {
		return false
	}
	until := now.Add(a.fallback)
	if exp := time.UnixMilli(o.ExpiresAt); exp.After(now) {
		until = exp
	}
	a.cooldowns[key] = until
	return true
}

func (a *Alerter) dispatch(r Rule, o tooltip.Order, now time.Time) {
	url := r.WebhookURL
	if url == "" {
		a.mu.Lock()
		url = a.cfg.WebhookURL
		a.mu.Unlock()
	}
	if url == "" {
		log.Debug().Str("rule", r.ID).Msg("Alert matched but no webhook configured")
		return
	}

	content := a.printer.Sprintf("Order alert: %s at %s by %s, %d remaining",
		o.ProductName, tooltip.FormatPriceCompact(o.Price), o.UserName, o.Remaining())
	if a.prices != nil {
		if mean, n := a.prices.Mean(o.BaseKey(), now); n > 1 {
			gain := (o.Price - mean) * float64(o.AmountOrdered)
			content += a.printer.Sprintf(" (avg %s over %d listings, potential gain %s)",
				tooltip.FormatPriceCompact(mean), n, tooltip.FormatPriceCompact(gain))
		}
	}

	body, _ := json.Marshal(map[string]string{"content": content})
	resp, err := a.client.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		log.Warn().Err(err).Str("rule", r.ID).Msg("Alert webhook failed")
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		log.Warn().Int("status", resp.StatusCode).Str("rule", r.ID).Msg("Alert webhook rejected")
		return
	}
	log.Info().Str("rule", r.ID).Str("product", o.ProductName).Str("user", o.UserName).Msg("Alert sent")
}
