package market

import (
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/akagifreeez/donut-orders/internal/tooltip"
	"github.com/akagifreeez/donut-orders/pkg/statefile"
)

const stateFileName = "orders-market.json"

// Entry is one live market listing, keyed by its composite fingerprint. The
// marketplace assigns no listing ids, so identity is the tuple of observable
// stable fields.
type Entry struct {
	Order       tooltip.Order `json:"order"`
	Fingerprint string        `json:"fingerprint"`
	SeenCount   int           `json:"seenCount"`
	FirstSeenAt time.Time     `json:"firstSeenAt"`
	LastSeenAt  time.Time     `json:"lastSeenAt"`
}

// Index is the live-market view assembled from every tracked-scan and sweep
// page. It prunes entries not observed for staleAge or past expiry plus
// grace, and persists itself after every update.
type Index struct {
	mu       sync.RWMutex
	entries  map[string]*Entry
	path     string
	staleAge time.Duration
	grace    time.Duration
}

// NewIndex returns a market index persisted under dataDir.
func NewIndex(dataDir string, staleAge, grace time.Duration) *Index {
	return &Index{
		entries:  make(map[string]*Entry),
		path:     filepath.Join(dataDir, stateFileName),
		staleAge: staleAge,
		grace:    grace,
	}
}

// Load restores the persisted market view, if any.
func (x *Index) Load() {
	var stored map[string]*Entry
	ok, err := statefile.Load(x.path, &stored)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to load market state")
		return
	}
	if !ok {
		return
	}
	x.mu.Lock()
	x.entries = stored
	x.mu.Unlock()
	log.Info().Int("entries", len(stored)).Msg("Market state restored")
}

// Observe upserts every order from a freshly read page, prunes stale
// entries, and persists the result.
func (x *Index) Observe(orders []tooltip.Order, now time.Time) {
	x.mu.Lock()
	for _, o := range orders {
		fp := o.Fingerprint()
		if e, ok := x.entries[fp]; ok {
			e.Order = o
			e.SeenCount++
			e.LastSeenAt = now
			continue
		}
		x.entries[fp] = &Entry{
			Order:       o,
			Fingerprint: fp,
			SeenCount:   1,
			FirstSeenAt: now,
			LastSeenAt:  now,
		}
	}
	x.pruneLocked(now)
	copied := x.copyLocked()
	x.mu.Unlock()

	x.persist(copied)
}

func (x *Index) pruneLocked(now time.Time) {
	for fp, e := range x.entries {
		if now.Sub(e.LastSeenAt) > x.staleAge {
			delete(x.entries, fp)
			continue
		}
		expires := time.UnixMilli(e.Order.ExpiresAt)
		if e.Order.ExpiresAt > 0 && now.After(expires.Add(x.grace)) {
			delete(x.entries, fp)
		}
	}
}

func (x *Index) copyLocked() map[string]*Entry {
	out := make(map[string]*Entry, len(x.entries))
	for fp, e := range x.entries {
		c := *e
		out[fp] = &c
	}
	return out
}

func (x *Index) persist(entries map[string]*Entry) {
	if err := statefile.Save(x.path, entries); err != nil {
		log.Warn().Err(err).Msg("Failed to persist market state")
	}
}

// Get returns the entry for a fingerprint.
func (x *Index) Get(fingerprint string) (Entry, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	if e, ok := x.entries[fingerprint]; ok {
		return *e, true
	}
	return Entry{}, false
}

// Snapshot returns a consistent copy of all live entries, ordered by
// fingerprint for deterministic iteration.
func (x *Index) Snapshot() []Entry {
	x.mu.RLock()
	defer x.mu.RUnlock()
	out := make([]Entry, 0, len(x.entries))
	for _, e := range x.entries {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Fingerprint < out[j].Fingerprint })
	return out
}

// Len returns the live entry count.
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.entries)
}
