// Package orderconfig persists the operator's sort preferences for market
// reads. The preferences survive restarts and are applied before every
// tracked scan and full sweep.
package orderconfig

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/akagifreeez/donut-orders/internal/navigator"
	"github.com/akagifreeez/donut-orders/pkg/statefile"
)

const fileName = "orders-sort.json"

// Config holds the desired sort key per read mode.
type Config struct {
	TrackingSort navigator.SortKey `json:"trackingSort"`
	SweepSort    navigator.SortKey `json:"searchAllSort"`
}

// Store is the persisted sort-preference store.
type Store struct {
	mu   sync.RWMutex
	cfg  Config
	path string
}

// NewStore returns a store persisted under dataDir with default preferences.
func NewStore(dataDir string) *Store {
	return &Store{
		cfg:  Config{TrackingSort: navigator.SortRecent, SweepSort: navigator.SortRecent},
		path: filepath.Join(dataDir, fileName),
	}
}

// Load restores the persisted preferences, keeping defaults for anything
// missing or invalid.
func (s *Store) Load() {
	var stored Config
	ok, err := statefile.Load(s.path, &stored)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to load sort preferences")
		return
	}
	if !ok {
		return
	}
	s.mu.Lock()
	if navigator.ValidSortKey(string(stored.TrackingSort)) {
		s.cfg.TrackingSort = stored.TrackingSort
	}
	if navigator.ValidSortKey(string(stored.SweepSort)) {
		s.cfg.SweepSort = stored.SweepSort
	}
	s.mu.Unlock()
}

// Get returns the current preferences.
func (s *Store) Get() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Set validates and persists new preferences. Empty fields keep their current
// value.
func (s *Store) Set(next Config) (Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if next.TrackingSort != "" {
		if !navigator.ValidSortKey(string(next.TrackingSort)) {
			return s.cfg, fmt.Errorf("invalid sort key %q", next.TrackingSort)
		}
		s.cfg.TrackingSort = next.TrackingSort
	}
	if next.SweepSort != "" {
		if !navigator.ValidSortKey(string(next.SweepSort)) {
			return s.cfg, fmt.Errorf("invalid sort key %q", next.SweepSort)
		}
		s.cfg.SweepSort = next.SweepSort
	}
	if err := statefile.Save(s.path, s.cfg); err != nil {
		log.Warn().Err(err).Msg("Failed to persist sort preferences")
	}
	return s.cfg, nil
}
