package tracker

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/akagifreeez/donut-orders/internal/navigator"
	"github.com/akagifreeez/donut-orders/internal/snapshot"
)

// SetIdleTask installs work (trading) executed when the queue is empty and no
// sweep is pending.
func (s *Scheduler) SetIdleTask(t IdleTask) { s.idle = t }

// Run is the scheduler loop and the only goroutine that touches the session.
// Each tick advances due products into the queue, then performs at most one
// unit of work: a requested sweep, a queued scan, a held chat message or an
// idle pass, in that priority order.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.SchedulerTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			s.tick(now)
			s.dispatch(ctx, now)
		}
	}
}

// tick enqueues every tracked product whose next run is due and advances its
// schedule by whole intervals past now, so a stall never causes a burst of
// catch-up scans.
func (s *Scheduler) tick(now time.Time) {
	nowMs := now.UnixMilli()

	s.mu.Lock()
	defer s.mu.Unlock()

	dirty := false
	for _, p := range s.tracked {
		if p.NextRunAt > nowMs {
			continue
		}
		s.enqueueLocked(p.Key)
		for p.NextRunAt <= nowMs {
			p.NextRunAt += p.IntervalMs
		}
		dirty = true
	}
	if dirty {
		s.persistLocked()
	}
}

// dispatch performs at most one unit of session work per call.
func (s *Scheduler) dispatch(ctx context.Context, now time.Time) {
	s.mu.Lock()
	if now.Before(s.nextWorkAt) {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	if s.sweeper != nil && s.sweeper.TakeRequest(now) {
		s.sweeper.Run(ctx)
		s.afterWork()
		return
	}

	if key, ok := s.dequeue(); ok {
		s.runScan(ctx, key)
		s.afterWork()
		return
	}

	if msg, ok := s.takeChat(); ok {
		if err := s.nav.Conn().SendCommand(ctx, msg); err != nil {
			log.Warn().Err(err).Msg("Failed to send queued chat message")
		}
		s.afterWork()
		return
	}

	if s.idle != nil {
		s.idle.RunIdle(ctx)
	}
}

func (s *Scheduler) dequeue() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return "", false
	}
	key := s.queue[0]
	s.queue = s.queue[1:]
	delete(s.pending, key)
	s.current = key
	return key, true
}

func (s *Scheduler) takeChat() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pendingChat) == 0 {
		return "", false
	}
	msg := s.pendingChat[0]
	s.pendingChat = s.pendingChat[1:]
	return msg, true
}

// afterWork applies the randomized human-pacing delay before the next unit.
func (s *Scheduler) afterWork() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextWorkAt = time.Now().Add(s.humanDelayLocked())
}

func (s *Scheduler) humanDelayLocked() time.Duration {
	min, max := s.cfg.HumanDelayMin, s.cfg.HumanDelayMax
	if max <= min {
		return min
	}
	return min + time.Duration(s.rng.Int63n(int64(max-min)))
}

// runScan opens the market for one product and reads pages until enough
// matching listings were seen or the page ceiling is hit. Open timeouts are
// retryable: the product stays tracked and fires again on its next interval.
func (s *Scheduler) runScan(ctx context.Context, key string) {
	defer func() {
		s.mu.Lock()
		s.current = ""
		wasOnce := s.once[key]
		delete(s.once, key)
		if p, ok := s.tracked[key]; ok {
			p.LastRunAt = time.Now().UnixMilli()
			s.persistLocked()
		} else if !wasOnce {
			log.Debug().Str("product", key).Msg("Scanned product no longer tracked")
		}
		s.mu.Unlock()
	}()

	command := s.cfg.CommandPrefix + " " + s.commandFor(key)
	c, err := s.nav.Open(ctx, command, s.cfg.OpenTimeout)
	if err != nil {
		log.Warn().Err(err).Str("product", key).Msg("Scan could not open the market")
		return
	}
	defer s.closeAfterDelay(ctx)

	if next, err := s.nav.EnsureSortOption(ctx, c, s.prefs.Get().TrackingSort, s.cfg.ChangeTimeout); next != nil {
		c = next
		if err != nil {
			log.Debug().Err(err).Str("product", key).Msg("Continuing scan unsorted")
		}
	}

	matching := 0
	page := 1
	for {
		snap := snapshot.Capture(c, snapshot.Meta{ProductKey: key, Page: page, Mode: snapshot.ModeTracked})
		s.store.RecordScan(snap)
		if s.onSnapshot != nil {
			s.onSnapshot(snap)
		}

		matching += snap.MatchingSlots(key)
		if matching >= s.cfg.MinMatchingSlots || page >= s.cfg.MaxTrackedPages {
			break
		}

		// A short stall budget lets one flaky click/verify cycle retry
		// before the scan is abandoned as partial.
		next, err := s.nav.NextPage(ctx, c, navigator.PageOpts{
			ChangeTimeout: s.cfg.ChangeTimeout,
			StallTimeout:  2 * s.cfg.ChangeTimeout,
		})
		if err != nil {
			log.Debug().Err(err).Str("product", key).Int("page", page).Msg("Stopping scan on page advance failure")
			break
		}
		if next == nil {
			break
		}
		c = next
		page++
	}

	log.Info().Str("product", key).Int("pages", page).Int("matching", matching).Msg("Scan complete")
}

// closeAfterDelay lets the last page render before closing, mimicking a human
// glancing at the result.
func (s *Scheduler) closeAfterDelay(ctx context.Context) {
	if s.cfg.CloseDelay > 0 {
		t := time.NewTimer(s.cfg.CloseDelay)
		defer t.Stop()
		select {
		case <-ctx.Done():
		case <-t.C:
		}
	}
	if err := s.nav.Close(ctx); err != nil {
		log.Debug().Err(err).Msg("Container close failed")
	}
}
