package snapshot

import (
	"time"

	"github.com/akagifreeez/donut-orders/internal/session"
	"github.com/akagifreeez/donut-orders/internal/tooltip"
)

// SweepProductKey is the sentinel product key for full-marketplace pages.
const SweepProductKey = "__all__"

// Capture modes, recorded on every page.
const (
	ModeTracked = "tracked"
	ModeSweep   = "search_all"
)

// ItemInfo is the visible identity of a slot's item inside a snapshot.
type ItemInfo struct {
	Name        string `json:"name"`
	DisplayName string `json:"displayName,omitempty"`
	Count       int    `json:"count"`
}

// Slot is one container slot as captured at read time. Order is nil when the
// slot held no parseable sell listing.
type Slot struct {
	Index   int            `json:"slot"`
	Item    *ItemInfo      `json:"item,omitempty"`
	Order   *tooltip.Order `json:"order,omitempty"`
	Tooltip []string       `json:"tooltipText,omitempty"`
}

// Max is the best order on a page: highest price, ties broken by larger
// ordered amount.
type Max struct {
	Price           float64 `json:"price"`
	AmountOrdered   int64   `json:"amountOrdered"`
	AmountDelivered int64   `json:"amountDelivered"`
	Slot            int     `json:"slot"`
	UserName        string  `json:"userName"`
}

// Snapshot is one parsed page, appended to the durable log and never mutated
// afterwards.
type Snapshot struct {
	TS          time.Time `json:"ts"`
	ProductKey  string    `json:"productKey"`
	ProductName string    `json:"productName"`
	Page        int       `json:"page"`
	Max         *Max      `json:"max"`
	Slots       []Slot    `json:"slots"`
	RunID       string    `json:"runId,omitempty"`
	RunTS       string    `json:"runTs,omitempty"`
	Mode        string    `json:"mode,omitempty"`
}

// Meta carries the page context a capture cannot derive from the container.
type Meta struct {
	ProductKey  string
	ProductName string
	Page        int
	RunID       string
	RunTS       string
	Mode        string
}

// Capture reads every grid slot of a container into a Snapshot. Tooltip
// parse failures mark a slot as non-order; they never abort the page.
func Capture(c *session.Container, meta Meta) *Snapshot {
	return CaptureAt(c, meta, time.Now())
}

// CaptureAt is Capture with an explicit clock.
func CaptureAt(c *session.Container, meta Meta, now time.Time) *Snapshot {
	if c == nil {
		return nil
	}

	size := c.GridSize()
	slots := make([]Slot, 0, size)
	for i := 0; i < size; i++ {
		slot := Slot{Index: i}
		if it := c.Slot(i); it != nil {
			slot.Item = &ItemInfo{Name: it.Name, DisplayName: it.DisplayName, Count: it.Count}
			slot.Tooltip = tooltip.CleanLines(it.Tooltip)
			if order, err := tooltip.ParseAt(it.Label(), slot.Tooltip, now); err == nil {
				slot.Order = &order
			}
		}
		slots = append(slots, slot)
	}

	snap := &Snapshot{
		TS:          now,
		ProductKey:  meta.ProductKey,
		ProductName: meta.ProductName,
		Page:        meta.Page,
		Max:         deriveMax(slots),
		Slots:       slots,
		RunID:       meta.RunID,
		RunTS:       meta.RunTS,
		Mode:        meta.Mode,
	}
	if snap.Page == 0 {
		snap.Page = 1
	}
	if snap.ProductName == "" {
		snap.ProductName = firstNamed(slots, meta.ProductKey)
	}
	return snap
}

func deriveMax(slots []Slot) *Max {
	var best *Slot
	for i := range slots {
		s := &slots[i]
		if s.Order == nil {
			continue
		}
		if best == nil ||
			s.Order.Price > best.Order.Price ||
			(s.Order.Price == best.Order.Price && s.Order.AmountOrdered > best.Order.AmountOrdered) {
			best = s
		}
	}
	if best == nil {
		return nil
	}
	return &Max{
		Price:           best.Order.Price,
		AmountOrdered:   best.Order.AmountOrdered,
		AmountDelivered: best.Order.AmountDelivered,
		Slot:            best.Index,
		UserName:        best.Order.UserName,
	}
}

func firstNamed(slots []Slot, fallback string) string {
	for _, s := range slots {
		if s.Order != nil && s.Order.ProductName != "" {
			return s.Order.ProductName
		}
	}
	for _, s := range slots {
		if s.Item != nil && s.Item.DisplayName != "" {
			return s.Item.DisplayName
		}
	}
	return fallback
}

// MaxOrder returns the parsed order behind Max, or nil when the page held no
// parseable listing.
func (s *Snapshot) MaxOrder() *tooltip.Order {
	if s.Max == nil {
		return nil
	}
	for _, slot := range s.Slots {
		if slot.Index == s.Max.Slot {
			return slot.Order
		}
	}
	return nil
}

// Orders returns every parsed order on the page.
func (s *Snapshot) Orders() []tooltip.Order {
	var out []tooltip.Order
	for _, slot := range s.Slots {
		if slot.Order != nil {
			out = append(out, *slot.Order)
		}
	}
	return out
}

// MatchingSlots counts slots whose order matches the given product key,
// either as the full composite identity or the base product key. Tracked
// products are keyed by base product, which must also count enchanted
// variants of the same item.
func (s *Snapshot) MatchingSlots(productKey string) int {
	n := 0
	for _, slot := range s.Slots {
		if slot.Order == nil {
			continue
		}
		if slot.Order.IdentityKey() == productKey || slot.Order.BaseKey() == productKey {
			n++
		}
	}
	return n
}
