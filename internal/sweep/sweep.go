// Package sweep implements the on-demand full-marketplace crawl: open the
// market with no product filter and walk every page until the pagination
// wraps or runs out, recording each page to the sweep log.
package sweep

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/akagifreeez/donut-orders/internal/config"
	"github.com/akagifreeez/donut-orders/internal/navigator"
	"github.com/akagifreeez/donut-orders/internal/orderconfig"
	"github.com/akagifreeez/donut-orders/internal/snapshot"
)

// Status is the externally visible sweep state, served over the control API.
type Status struct {
	Running   bool   `json:"running"`
	Requested bool   `json:"requested"`
	RunID     string `json:"runId,omitempty"`
	LastRunTS string `json:"lastRunTs,omitempty"`
}

// Sweeper owns full-sweep requests and their execution. Requests only set a
// flag; the scan worker calls Run when the session is free, so a sweep never
// races a tracked scan for the container.
type Sweeper struct {
	nav   *navigator.Navigator
	store *snapshot.Store
	prefs *orderconfig.Store
	cfg   *config.Config

	onSnapshot func(*snapshot.Snapshot)

	mu          sync.Mutex
	requested   bool
	requestedAt time.Time
	running     bool
	cancelled   bool
	runID       string
	lastRun     time.Time
}

// New returns a sweeper driving nav and recording into store.
func New(nav *navigator.Navigator, store *snapshot.Store, prefs *orderconfig.Store, cfg *config.Config) *Sweeper {
	return &Sweeper{nav: nav, store: store, prefs: prefs, cfg: cfg}
}

// SetSnapshotHandler installs the per-page callback used to feed history and
// the live-market index.
func (s *Sweeper) SetSnapshotHandler(fn func(*snapshot.Snapshot)) { s.onSnapshot = fn }

// SeedLastRun installs the last-run timestamp recovered from the sweep log.
func (s *Sweeper) SeedLastRun(t time.Time) {
	s.mu.Lock()
	s.lastRun = t
	s.mu.Unlock()
}

// Request marks a sweep as wanted. Idempotent: a pending request or a running
// sweep absorbs further requests.
func (s *Sweeper) Request() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running && !s.requested {
		s.requested = true
		s.requestedAt = time.Now()
		log.Info().Msg("Full sweep requested")
	}
	return s.statusLocked()
}

// Cancel asks a running sweep to stop at the next page boundary.
func (s *Sweeper) Cancel() {
	s.mu.Lock()
	s.cancelled = true
	s.requested = false
	s.mu.Unlock()
}

// Status reports the current sweep state.
func (s *Sweeper) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusLocked()
}

func (s *Sweeper) statusLocked() Status {
	st := Status{Running: s.running, Requested: s.requested, RunID: s.runID}
	if !s.lastRun.IsZero() {
		st.LastRunTS = s.lastRun.UTC().Format(time.RFC3339)
	}
	return st
}

// TakeRequest consumes a pending request if one is still fresh. Requests
// older than the request timeout are dropped; the operator can always ask
// again.
func (s *Sweeper) TakeRequest(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.requested || s.running {
		return false
	}
	if now.Sub(s.requestedAt) > s.cfg.SweepRequestTimeout {
		log.Warn().Msg("Dropping expired sweep request")
		s.requested = false
		return false
	}
	s.requested = false
	return true
}

func (s *Sweeper) isCancelled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled
}

// Run executes one full sweep to completion. It is called from the scan
// worker, which guarantees no other container interaction is in flight.
func (s *Sweeper) Run(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	runID := uuid.NewString()
	runTS := time.Now().UTC().Format(time.RFC3339)
	s.running = true
	s.cancelled = false
	s.runID = runID
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.lastRun = time.Now()
		s.mu.Unlock()
	}()

	log.Info().Str("run_id", runID).Msg("Full sweep started")

	c, err := s.nav.Open(ctx, s.cfg.CommandPrefix, s.cfg.SweepOpenTimeout)
	if err != nil {
		log.Warn().Err(err).Msg("Full sweep could not open the market")
		return
	}
	defer func() { _ = s.nav.Close(context.Background()) }()

	if next, err := s.nav.EnsureSortOption(ctx, c, s.prefs.Get().SweepSort, s.cfg.ChangeTimeout); next != nil {
		c = next
		if err != nil {
			// The crawl is still complete unsorted, just unordered.
			log.Debug().Err(err).Msg("Continuing sweep unsorted")
		}
	}

	seen := make(map[string]bool)
	page := 1
	for {
		if ctx.Err() != nil || s.isCancelled() {
			log.Info().Str("run_id", runID).Int("pages", page-1).Msg("Full sweep cancelled")
			return
		}

		sig := navigator.Fingerprint(c)
		if seen[sig] {
			log.Info().Str("run_id", runID).Int("page", page).Msg("Pagination wrapped around, stopping")
			break
		}
		seen[sig] = true

		snap := snapshot.Capture(c, snapshot.Meta{
			ProductKey: snapshot.SweepProductKey,
			Page:       page,
			RunID:      runID,
			RunTS:      runTS,
			Mode:       snapshot.ModeSweep,
		})
		s.store.RecordSweepPage(snap)
		if s.onSnapshot != nil {
			s.onSnapshot(snap)
		}

		if !s.nav.HasNextControl(c) {
			break
		}
		if !s.pausePage(ctx) {
			return
		}

		next, err := s.nav.NextPage(ctx, c, navigator.PageOpts{
			ChangeTimeout: s.cfg.ChangeTimeout,
			StallTimeout:  s.cfg.SweepStallTimeout,
			Running:       func() bool { return !s.isCancelled() },
		})
		if err != nil {
			log.Warn().Err(err).Str("run_id", runID).Int("pages", page).Msg("Full sweep aborted mid-crawl")
			return
		}
		if next == nil {
			break
		}
		c = next
		page++
	}

	log.Info().Str("run_id", runID).Int("pages", page).Msg("Full sweep finished")
}

// pausePage waits the configured inter-page delay, honoring cancellation.
func (s *Sweeper) pausePage(ctx context.Context) bool {
	if s.cfg.SweepPageDelay <= 0 {
		return true
	}
	t := time.NewTimer(s.cfg.SweepPageDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return !s.isCancelled()
	}
}
