// Package trader matches the operator's owned stock against live market
// listings and executes profitable deliveries. It only ever runs on the
// scheduler's worker goroutine, between scans, so it can never fight a scan
// or a sweep for the container.
package trader

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/akagifreeez/donut-orders/internal/config"
	"github.com/akagifreeez/donut-orders/internal/market"
	"github.com/akagifreeez/donut-orders/internal/navigator"
	"github.com/akagifreeez/donut-orders/internal/orderconfig"
	"github.com/akagifreeez/donut-orders/pkg/jsonl"
)

const dealsFileName = "orders-deals.jsonl"

// How long a listing stays blocked after each outcome. Harsher failures and
// unknown outcomes block longer; an unknown confirm may well have gone
// through, and retrying it would double-deliver.
const (
	cooldownOpenFail       = time.Minute
	cooldownClaimFail      = 5 * time.Minute
	cooldownRelocateFail   = 10 * time.Minute
	cooldownConfirmUnknown = 30 * time.Minute
	cooldownSuccess        = 30 * time.Minute
)

// ownedSyncInterval bounds how stale the owned index may get before an idle
// pass is spent refreshing it instead of trading.
const ownedSyncInterval = 10 * time.Minute

// Candidate is one scored owned-stock/listing pairing.
type Candidate struct {
	Owned     market.OwnedOrder
	Entry     market.Entry
	Sellable  int64
	MarginAbs float64
	Score     float64
}

// Trader is the trading engine. See RunIdle.
type Trader struct {
	cfg   *config.Config
	nav   *navigator.Navigator
	idx   *market.Index
	owned *market.Owned
	prefs *orderconfig.Store
	deals *jsonl.Writer

	mu            sync.Mutex
	cooldowns     map[string]time.Time
	lastOwnedSync time.Time
}

// New returns a trader over the given collaborators.
func New(cfg *config.Config, nav *navigator.Navigator, idx *market.Index, owned *market.Owned, prefs *orderconfig.Store) *Trader {
	return &Trader{
		cfg:       cfg,
		nav:       nav,
		idx:       idx,
		owned:     owned,
		prefs:     prefs,
		deals:     jsonl.NewWriter(filepath.Join(cfg.DataDir, dealsFileName)),
		cooldowns: make(map[string]time.Time),
	}
}

// Close flushes the deal log.
func (t *Trader) Close() {
	_ = t.deals.Close()
}

// RunIdle performs at most one trading action: an owned-index refresh when it
// has gone stale, otherwise one full execution of the best candidate. Called
// by the scheduler when no scan or sweep is pending.
func (t *Trader) RunIdle(ctx context.Context) {
	if !t.cfg.TradingEnabled {
		return
	}
	now := time.Now()

	t.mu.Lock()
	needSync := now.Sub(t.lastOwnedSync) > ownedSyncInterval
	t.mu.Unlock()
	if needSync {
		t.syncOwned(ctx)
		return
	}

	cand := SelectCandidate(t.owned.Snapshot(), t.idx.Snapshot(), t.cfg.MarginThreshold, t.cfg.SelfName, t.onCooldown)
	if cand == nil {
		return
	}
	t.execute(ctx, cand)
}

func (t *Trader) onCooldown(fingerprint string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	until, ok := t.cooldowns[fingerprint]
	return ok && time.Now().Before(until)
}

func (t *Trader) blockListing(fingerprint string, d time.Duration) {
	t.mu.Lock()
	t.cooldowns[fingerprint] = time.Now().Add(d)
	t.mu.Unlock()
}

func (t *Trader) markOwnedStale() {
	t.mu.Lock()
	t.lastOwnedSync = time.Time{}
	t.mu.Unlock()
}

// SelectCandidate picks the highest-scoring pairing of owned stock against a
// live listing, or nil when nothing clears the margin gate. A listing is
// eligible when its unit price covers the owned purchase price plus the
// margin, it still wants items, it was not posted by the operator, and it is
// not blocked by a cooldown.
func SelectCandidate(owned []market.OwnedOrder, entries []market.Entry, margin float64, self string, blocked func(fingerprint string) bool) *Candidate {
	var best *Candidate
	for _, o := range owned {
		if o.AmountReady != nil && *o.AmountReady == 0 {
			continue
		}
		for _, e := range entries {
			if e.Order.UserName == self && self != "" {
				continue
			}
			remaining := e.Order.Remaining()
			if remaining == 0 {
				continue
			}
			if o.IdentityKey() != e.Order.IdentityKey() {
				continue
			}
			if e.Order.Price < o.UnitPrice*(1+margin) {
				continue
			}
			if blocked != nil && blocked(e.Fingerprint) {
				continue
			}

			sellable := remaining
			if o.AmountReady != nil && *o.AmountReady < sellable {
				sellable = *o.AmountReady
			}
			marginAbs := e.Order.Price - o.UnitPrice
			qty := sellable
			if qty < 1 {
				qty = 1
			}
			c := &Candidate{
				Owned:     o,
				Entry:     e,
				Sellable:  sellable,
				MarginAbs: marginAbs,
				Score:     marginAbs * float64(qty),
			}
			if best == nil || c.Score > best.Score ||
				(c.Score == best.Score && c.MarginAbs > best.MarginAbs) {
				best = c
			}
		}
	}
	return best
}

func (t *Trader) recordDeal(d Deal) {
	if err := t.deals.Append(d); err != nil {
		log.Warn().Err(err).Str("deal", d.ID).Msg("Failed to append deal record")
	}
}
