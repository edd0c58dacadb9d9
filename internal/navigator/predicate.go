package navigator

import (
	"strings"

	"github.com/akagifreeez/donut-orders/internal/session"
	"github.com/akagifreeez/donut-orders/internal/tooltip"
)

// The marketplace exposes no machine-readable protocol; controls are
// recognized by item names and tooltip phrases observed in the wild. Each
// heuristic lives behind a named predicate so it stays independently testable.

// NextControlSlot is the fixed bottom-right slot carrying the "next page"
// control when more pages exist.
const NextControlSlot = 53

// IsNextArrow reports whether an item is the "next page" control: an arrow
// whose label or tooltip advertises the next page.
func IsNextArrow(it *session.Item) bool {
	if it == nil {
		return false
	}
	name := strings.ToLower(it.Name)
	label := strings.ToLower(it.Label())
	isArrow := strings.Contains(name, "arrow") || strings.Contains(label, "arrow")
	if !isArrow && !strings.Contains(label, "next") {
		return false
	}
	if strings.Contains(label, "next") {
		return true
	}
	return tooltipMentions(it, "next")
}

// IsSortControl reports whether an item is the sort-cycling control.
func IsSortControl(it *session.Item) bool {
	return it != nil && strings.Contains(strings.ToLower(it.Name), "cauldron")
}

// IsOwnedOrdersControl reports whether an item opens the operator's own
// orders sub-interface.
func IsOwnedOrdersControl(it *session.Item) bool {
	if it == nil || !strings.Contains(strings.ToLower(it.Name), "chest") {
		return false
	}
	return strings.Contains(strings.ToUpper(it.Label()), "YOUR ORDERS") ||
		tooltipMentions(it, "your orders")
}

// IsConfirmButton reports whether an item is the trade confirmation control.
func IsConfirmButton(it *session.Item) bool {
	if it == nil {
		return false
	}
	return strings.Contains(strings.ToUpper(it.Label()), "CONFIRM") ||
		tooltipMentions(it, "confirm")
}

// IsNavigationItem reports whether an item is interface furniture rather than
// listing content: panes, page arrows, and similar decoration.
func IsNavigationItem(it *session.Item) bool {
	if it == nil {
		return false
	}
	name := strings.ToLower(it.Name)
	if strings.Contains(name, "glass_pane") || strings.Contains(name, "barrier") {
		return true
	}
	if IsNextArrow(it) || IsSortControl(it) {
		return true
	}
	label := strings.ToLower(it.Label())
	for _, phrase := range []string{"previous page", "next page", "go back", "refresh"} {
		if strings.Contains(label, phrase) {
			return true
		}
	}
	return false
}

func tooltipMentions(it *session.Item, phrase string) bool {
	for _, line := range tooltip.CleanLines(it.Tooltip) {
		if strings.Contains(strings.ToLower(line), phrase) {
			return true
		}
	}
	return false
}
