package navigator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/akagifreeez/donut-orders/internal/session"
	"github.com/akagifreeez/donut-orders/internal/tooltip"
)

// SortKey names one of the four positions on the marketplace's sort ring.
type SortKey string

const (
	SortRecent    SortKey = "recent"
	SortPriceHigh SortKey = "price_high"
	SortPriceLow  SortKey = "price_low"
	SortAmount    SortKey = "amount"
)

// sortRing is the fixed cycle order the control steps through per click.
var sortRing = []SortKey{SortRecent, SortPriceHigh, SortPriceLow, SortAmount}

// sortLabels are the tooltip option labels as rendered by the marketplace.
var sortLabels = map[SortKey]string{
	SortRecent:    "Recently Listed",
	SortPriceHigh: "Highest Price",
	SortPriceLow:  "Lowest Price",
	SortAmount:    "Largest Amount",
}

// SortKeys lists the valid keys in ring order.
func SortKeys() []SortKey {
	return append([]SortKey(nil), sortRing...)
}

// ValidSortKey reports whether s is one of the four ring positions.
func ValidSortKey(s string) bool {
	for _, k := range sortRing {
		if string(k) == s {
			return true
		}
	}
	return false
}

func ringIndex(key SortKey) int {
	for i, k := range sortRing {
		if k == key {
			return i
		}
	}
	return -1
}

// FindSortControl locates the sort-cycling control in a container.
func FindSortControl(c *session.Container) (int, *session.Item) {
	for i := 0; i < c.GridSize(); i++ {
		if it := c.Slot(i); IsSortControl(it) {
			return i, it
		}
	}
	return -1, nil
}

// currentSortIndex reads the selected option off the sort control's tooltip.
// The selected option is the one whose line ends in a non-white color marker.
func currentSortIndex(it *session.Item) (int, bool) {
	if it == nil {
		return 0, false
	}
	for _, raw := range it.Tooltip {
		text, _ := tooltip.NormalizeLine(raw)
		for i, key := range sortRing {
			if strings.Contains(text, sortLabels[key]) && tooltip.IsSelectedLine(raw) {
				return i, true
			}
		}
	}
	return 0, false
}

const maxSortAttempts = 8

// EnsureSortOption cycles the sort control until the desired option is
// selected. When the current selection is readable it issues exactly the
// forward ring distance in clicks; otherwise it falls back to click-and-
// recheck. Failure to converge is reported but callers may continue unsorted
// (degraded mode).
func (n *Navigator) EnsureSortOption(ctx context.Context, cur *session.Container, desired SortKey, changeTimeout time.Duration) (*session.Container, error) {
	want := ringIndex(desired)
	if want < 0 {
		return cur, fmt.Errorf("unknown sort key %q", desired)
	}

	slot, control := FindSortControl(cur)
	if control == nil {
		return cur, fmt.Errorf("sort control not found")
	}

	if have, ok := currentSortIndex(control); ok {
		clicks := (want - have + len(sortRing)) % len(sortRing)
		for i := 0; i < clicks; i++ {
			var err error
			cur, err = n.clickSortOnce(ctx, cur, slot, changeTimeout)
			if err != nil {
				return cur, err
			}
		}
		if _, it := FindSortControl(cur); it != nil {
			if have, ok := currentSortIndex(it); ok && have == want {
				return cur, nil
			}
		}
		// Fall through to the linear loop if the shortcut missed.
	}

	for attempt := 0; attempt < maxSortAttempts; attempt++ {
		_, it := FindSortControl(cur)
		if have, ok := currentSortIndex(it); ok && have == want {
			return cur, nil
		}
		var err error
		cur, err = n.clickSortOnce(ctx, cur, slot, changeTimeout)
		if err != nil {
			return cur, err
		}
	}

	log.Warn().Str("desired", string(desired)).Msg("Sort option did not converge, continuing unsorted")
	return cur, fmt.Errorf("sort option %q did not converge", desired)
}

func (n *Navigator) clickSortOnce(ctx context.Context, cur *session.Container, slot int, changeTimeout time.Duration) (*session.Container, error) {
	prev := Fingerprint(n.currentOr(cur))
	if err := n.conn.ClickSlot(ctx, slot, 0, 0); err != nil {
		return cur, err
	}
	if next, changed := n.waitForChange(ctx, prev, changeTimeout); changed {
		return next, nil
	}
	// The control may update its own tooltip without shifting the grid; keep
	// whatever the connection reports as current.
	return n.currentOr(cur), nil
}
