// Package tracker owns the tracked-product set and the single scan worker.
// All container interaction in the process funnels through one goroutine
// here, so a tracked scan, a full sweep and a trading pass can never overlap.
package tracker

import (
	"context"
	"math/rand"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/akagifreeez/donut-orders/internal/config"
	"github.com/akagifreeez/donut-orders/internal/navigator"
	"github.com/akagifreeez/donut-orders/internal/orderconfig"
	"github.com/akagifreeez/donut-orders/internal/snapshot"
	"github.com/akagifreeez/donut-orders/internal/sweep"
	"github.com/akagifreeez/donut-orders/internal/tooltip"
	"github.com/akagifreeez/donut-orders/pkg/statefile"
)

const (
	trackedFileName = "orders-tracked.json"
	aliasFileName   = "orders-aliases.json"

	// minInterval guards against hot-looping a product.
	minInterval = 5 * time.Second

	// maxChatLen is the server-side chat length limit.
	maxChatLen = 255
)

// TrackedProduct is one periodically scanned product. Timestamps are epoch
// milliseconds, matching the durable log.
type TrackedProduct struct {
	Key        string `json:"key"`
	IntervalMs int64  `json:"intervalMs"`
	NextRunAt  int64  `json:"nextRunAt"`
	LastRunAt  int64  `json:"lastRunAt,omitempty"`
}

// TrackedItem is a tracked product with its resolved command alias, as served
// over the control API.
type TrackedItem struct {
	TrackedProduct
	CommandAlias string `json:"commandAlias,omitempty"`
}

// QueueStatus is the scheduler state served over the control API. Tracked is
// the key list in insertion order; Items carries the full entries in the same
// order.
type QueueStatus struct {
	Tracked  []string          `json:"tracked"`
	Items    []TrackedItem     `json:"items"`
	Aliases  map[string]string `json:"aliases"`
	Pending  []string          `json:"pending"`
	Current  string            `json:"current,omitempty"`
	ChatHeld int               `json:"queuedMessages"`
}

// Scheduler ticks the tracked set, maintains the pending scan queue and runs
// the scan worker. See Run for the worker loop.
type Scheduler struct {
	cfg     *config.Config
	nav     *navigator.Navigator
	store   *snapshot.Store
	prefs   *orderconfig.Store
	sweeper *sweep.Sweeper

	onSnapshot func(*snapshot.Snapshot)
	idle       IdleTask

	mu          sync.Mutex
	tracked     map[string]*TrackedProduct
	order       []string
	aliases     map[string]string
	queue       []string
	pending     map[string]bool
	once        map[string]bool
	current     string
	pendingChat []string
	nextWorkAt  time.Time
	rng         *rand.Rand

	trackedPath string
	aliasPath   string
}

// IdleTask is opportunistic work the worker runs when nothing else is queued.
type IdleTask interface {
	RunIdle(ctx context.Context)
}

// New returns a scheduler over the given collaborators.
func New(cfg *config.Config, nav *navigator.Navigator, store *snapshot.Store, prefs *orderconfig.Store, sweeper *sweep.Sweeper) *Scheduler {
	return &Scheduler{
		cfg:         cfg,
		nav:         nav,
		store:       store,
		prefs:       prefs,
		sweeper:     sweeper,
		tracked:     make(map[string]*TrackedProduct),
		aliases:     make(map[string]string),
		pending:     make(map[string]bool),
		once:        make(map[string]bool),
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
		trackedPath: filepath.Join(cfg.DataDir, trackedFileName),
		aliasPath:   filepath.Join(cfg.DataDir, aliasFileName),
	}
}

// SetSnapshotHandler installs the per-page callback fed by every scan.
func (s *Scheduler) SetSnapshotHandler(fn func(*snapshot.Snapshot)) { s.onSnapshot = fn }

// Load restores the tracked set and aliases. Restored products get staggered
// near-term first runs rather than all firing on the first tick.
func (s *Scheduler) Load() {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stored []TrackedProduct
	if ok, err := statefile.Load(s.trackedPath, &stored); err != nil {
		log.Warn().Err(err).Msg("Failed to load tracked products")
	} else if ok {
		base := time.Now().Add(s.cfg.StartDelay)
		for i := range stored {
			p := stored[i]
			if p.Key == "" {
				continue
			}
			if p.IntervalMs < minInterval.Milliseconds() {
				p.IntervalMs = s.cfg.TrackInterval.Milliseconds()
			}
			p.NextRunAt = base.Add(time.Duration(len(s.tracked)) * 5 * time.Second).UnixMilli()
			if _, ok := s.tracked[p.Key]; !ok {
				s.order = append(s.order, p.Key)
			}
			s.tracked[p.Key] = &p
		}
		log.Info().Int("products", len(s.tracked)).Msg("Tracked products restored")
	}

	var aliases map[string]string
	if ok, err := statefile.Load(s.aliasPath, &aliases); err != nil {
		log.Warn().Err(err).Msg("Failed to load command aliases")
	} else if ok {
		s.aliases = aliases
	}
}

// EnsureDefault tracks the configured default product when nothing is
// tracked yet and auto-tracking is on.
func (s *Scheduler) EnsureDefault() {
	s.mu.Lock()
	empty := len(s.tracked) == 0
	s.mu.Unlock()
	if s.cfg.AutoTrack && empty && s.cfg.DefaultProduct != "" {
		s.Track(s.cfg.DefaultProduct, "", 0)
	}
}

// Track adds or updates a tracked product and schedules an immediate first
// scan. An empty interval falls back to the configured default; command, when
// given, becomes the product's command alias.
func (s *Scheduler) Track(product, command string, interval time.Duration) TrackedProduct {
	key := tooltip.NormalizeKey(product)
	if interval <= 0 {
		interval = s.cfg.TrackInterval
	}
	if interval < minInterval {
		interval = minInterval
	}

	s.mu.Lock()
	p, ok := s.tracked[key]
	if !ok {
		p = &TrackedProduct{Key: key}
		s.tracked[key] = p
		s.order = append(s.order, key)
	}
	p.IntervalMs = interval.Milliseconds()
	p.NextRunAt = time.Now().UnixMilli()
	if command != "" {
		s.aliases[key] = tooltip.SanitizeCommand(command)
	}
	out := *p
	s.persistLocked()
	s.mu.Unlock()

	log.Info().Str("product", key).Dur("interval", interval).Msg("Tracking product")
	return out
}

// TrackOnce queues a single scan without adding the product to the tracked
// set.
func (s *Scheduler) TrackOnce(product, command string) string {
	key := tooltip.NormalizeKey(product)

	s.mu.Lock()
	if command != "" {
		s.aliases[key] = tooltip.SanitizeCommand(command)
		s.persistAliasesLocked()
	}
	if s.enqueueLocked(key) {
		s.once[key] = true
	}
	s.mu.Unlock()

	log.Info().Str("product", key).Msg("One-shot scan queued")
	return key
}

// Untrack removes a product from the tracked set and drops any queued scan
// for it. The alias, if any, is kept.
func (s *Scheduler) Untrack(product string) bool {
	key := tooltip.NormalizeKey(product)

	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.tracked[key]
	if !ok {
		return false
	}
	delete(s.tracked, key)
	for i, k := range s.order {
		if k == key {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	if s.pending[key] {
		delete(s.pending, key)
		for i, k := range s.queue {
			if k == key {
				s.queue = append(s.queue[:i], s.queue[i+1:]...)
				break
			}
		}
	}
	s.persistLocked()
	log.Info().Str("product", key).Msg("Untracked product")
	return true
}

// SetAlias stores the chat command used to open the market for a product. An
// empty command clears the alias.
func (s *Scheduler) SetAlias(product, command string) string {
	key := tooltip.NormalizeKey(product)
	cmd := tooltip.SanitizeCommand(command)

	s.mu.Lock()
	if cmd == "" {
		delete(s.aliases, key)
	} else {
		s.aliases[key] = cmd
	}
	s.persistAliasesLocked()
	s.mu.Unlock()
	return cmd
}

// Say queues a chat message for delivery when the worker is idle. Messages
// are clipped to the server's chat length limit.
func (s *Scheduler) Say(message string) string {
	msg := tooltip.SanitizeCommand(message)
	if len(msg) > maxChatLen {
		msg = msg[:maxChatLen]
	}
	if msg == "" {
		return ""
	}
	s.mu.Lock()
	s.pendingChat = append(s.pendingChat, msg)
	s.mu.Unlock()
	return msg
}

// Status reports the tracked set, queue and worker state.
func (s *Scheduler) Status() QueueStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := QueueStatus{
		Tracked:  append([]string(nil), s.order...),
		Items:    make([]TrackedItem, 0, len(s.order)),
		Aliases:  make(map[string]string, len(s.aliases)),
		Pending:  append([]string(nil), s.queue...),
		Current:  s.current,
		ChatHeld: len(s.pendingChat),
	}
	for _, key := range s.order {
		if p, ok := s.tracked[key]; ok {
			st.Items = append(st.Items, TrackedItem{TrackedProduct: *p, CommandAlias: s.aliases[key]})
		}
	}
	for k, v := range s.aliases {
		st.Aliases[k] = v
	}
	return st
}

// commandFor resolves the market-open chat command for a product key.
func (s *Scheduler) commandFor(key string) string {
	s.mu.Lock()
	alias := s.aliases[key]
	s.mu.Unlock()
	if alias != "" {
		return alias
	}
	return strings.ReplaceAll(key, "_", " ")
}

// enqueueLocked appends key to the scan queue unless it is already pending
// or mid-scan. Callers hold mu.
func (s *Scheduler) enqueueLocked(key string) bool {
	if s.pending[key] || s.current == key {
		return false
	}
	s.pending[key] = true
	s.queue = append(s.queue, key)
	return true
}

// persistLocked writes the tracked list in insertion order, which is also the
// order it is served and restored in.
func (s *Scheduler) persistLocked() {
	list := make([]TrackedProduct, 0, len(s.order))
	for _, key := range s.order {
		if p, ok := s.tracked[key]; ok {
			list = append(list, *p)
		}
	}
	if err := statefile.Save(s.trackedPath, list); err != nil {
		log.Warn().Err(err).Msg("Failed to persist tracked products")
	}
	s.persistAliasesLocked()
}

func (s *Scheduler) persistAliasesLocked() {
	if err := statefile.Save(s.aliasPath, s.aliases); err != nil {
		log.Warn().Err(err).Msg("Failed to persist command aliases")
	}
}
