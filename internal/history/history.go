// Package history keeps the rolling price window per product and drives
// webhook alerts off freshly captured pages.
package history

import (
	"sync"
	"time"

	"github.com/akagifreeez/donut-orders/internal/snapshot"
)

type point struct {
	ts    time.Time
	price float64
}

// Stat summarizes one product's recent price activity.
type Stat struct {
	Mean   float64 `json:"mean"`
	Latest float64 `json:"latest"`
	Points int     `json:"points"`
}

// Prices is the in-memory rolling price window, keyed by base product key.
// It is rebuilt from the snapshot log at startup, so nothing here persists.
type Prices struct {
	mu     sync.Mutex
	window time.Duration
	series map[string][]point
}

// NewPrices returns a price window of the given width.
func NewPrices(window time.Duration) *Prices {
	return &Prices{window: window, series: make(map[string][]point)}
}

// Observe appends one price observation.
func (p *Prices) Observe(key string, price float64, ts time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.series[key] = p.pruneLocked(append(p.series[key], point{ts, price}), ts)
}

// ObserveSnapshot feeds every parsed order on a page into the window, using
// the page's capture time as the clock.
func (p *Prices) ObserveSnapshot(snap *snapshot.Snapshot) {
	if snap == nil {
		return
	}
	for _, o := range snap.Orders() {
		p.Observe(o.BaseKey(), o.Price, snap.TS)
	}
}

// Mean returns the windowed average price and the number of points behind it.
func (p *Prices) Mean(key string, now time.Time) (float64, int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	pts := p.pruneLocked(p.series[key], now)
	p.series[key] = pts
	if len(pts) == 0 {
		return 0, 0
	}
	sum := 0.0
	for _, pt := range pts {
		sum += pt.price
	}
	return sum / float64(len(pts)), len(pts)
}

// Stats returns a per-product summary of the current window.
func (p *Prices) Stats(now time.Time) map[string]Stat {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make(map[string]Stat, len(p.series))
	for key, pts := range p.series {
		pts = p.pruneLocked(pts, now)
		p.series[key] = pts
		if len(pts) == 0 {
			delete(p.series, key)
			continue
		}
		sum := 0.0
		for _, pt := range pts {
			sum += pt.price
		}
		out[key] = Stat{
			Mean:   sum / float64(len(pts)),
			Latest: pts[len(pts)-1].price,
			Points: len(pts),
		}
	}
	return out
}

func (p *Prices) pruneLocked(pts []point, now time.Time) []point {
	cutoff := now.Add(-p.window)
	i := 0
	for i < len(pts) && pts[i].ts.Before(cutoff) {
		i++
	}
	return pts[i:]
}
