package snapshot

import (
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/akagifreeez/donut-orders/pkg/jsonl"
)

const (
	scanLogName  = "orders-snapshots.jsonl"
	sweepLogName = "orders-all.jsonl"
)

// Store is the durable append-only log of parsed pages: one file for tracked
// scans, one for full-sweep pages. The log is the system of record; it is
// replayed at startup to seed in-memory price history. Write failures are
// logged and swallowed so a bad disk never blocks a scan.
type Store struct {
	scanPath  string
	sweepPath string
	scans     *jsonl.Writer
	sweeps    *jsonl.Writer
}

// NewStore returns a store rooted at dataDir.
func NewStore(dataDir string) *Store {
	scanPath := filepath.Join(dataDir, scanLogName)
	sweepPath := filepath.Join(dataDir, sweepLogName)
	return &Store{
		scanPath:  scanPath,
		sweepPath: sweepPath,
		scans:     jsonl.NewWriter(scanPath),
		sweeps:    jsonl.NewWriter(sweepPath),
	}
}

// RecordScan appends a tracked-scan page to the scan log.
func (s *Store) RecordScan(snap *Snapshot) {
	if snap == nil {
		return
	}
	if err := s.scans.Append(snap); err != nil {
		log.Warn().Err(err).Str("product", snap.ProductKey).Msg("Failed to append scan snapshot")
	}
}

// RecordSweepPage appends a full-sweep page to the sweep log.
func (s *Store) RecordSweepPage(snap *Snapshot) {
	if snap == nil {
		return
	}
	if err := s.sweeps.Append(snap); err != nil {
		log.Warn().Err(err).Int("page", snap.Page).Msg("Failed to append sweep page")
	}
}

// ReplayScans streams every recorded tracked-scan snapshot into fn, oldest
// first, skipping unparsable lines.
func (s *Store) ReplayScans(fn func(*Snapshot)) error {
	return jsonl.ForEach(s.scanPath, func(snap Snapshot) {
		fn(&snap)
	})
}

// LastSweepRun recovers the timestamp of the most recent sweep page, if any.
func (s *Store) LastSweepRun() (time.Time, bool) {
	var last time.Time
	var found bool
	err := jsonl.ForEach(s.sweepPath, func(snap Snapshot) {
		if snap.RunTS != "" {
			if ts, err := time.Parse(time.RFC3339, snap.RunTS); err == nil {
				last, found = ts, true
				return
			}
		}
		if !snap.TS.IsZero() {
			last, found = snap.TS, true
		}
	})
	if err != nil {
		log.Warn().Err(err).Msg("Failed to read sweep log")
	}
	return last, found
}

// Close flushes and closes both logs.
func (s *Store) Close() {
	_ = s.scans.Close()
	_ = s.sweeps.Close()
}
