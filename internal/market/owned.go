package market

import (
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/akagifreeez/donut-orders/internal/navigator"
	"github.com/akagifreeez/donut-orders/internal/session"
	"github.com/akagifreeez/donut-orders/internal/tooltip"
	"github.com/akagifreeez/donut-orders/pkg/statefile"
)

const ownedFileName = "orders-owned.json"

// OwnedOrder is a fulfilled or claimable order the operator holds, read from
// the "your orders" sub-interface.
type OwnedOrder struct {
	ProductName  string                `json:"productName"`
	Enchantments []tooltip.Enchantment `json:"enchantments,omitempty"`
	UnitPrice    float64               `json:"unitPrice"`
	AmountBought int64                 `json:"amountBought"`
	AmountReady  *int64                `json:"amountReady,omitempty"`
	SourceSlot   int                   `json:"sourceSlot"`
}

// IdentityKey returns the composite product identity of the owned order.
func (o OwnedOrder) IdentityKey() string {
	return tooltip.Order{ProductName: o.ProductName, Enchantments: o.Enchantments}.IdentityKey()
}

// Owned is the owned-orders index. It is never patched incrementally: a full
// resync of the sub-interface replaces the whole set.
type Owned struct {
	mu      sync.RWMutex
	entries []OwnedOrder
	path    string
}

// NewOwned returns an owned-orders index persisted under dataDir.
func NewOwned(dataDir string) *Owned {
	return &Owned{path: filepath.Join(dataDir, ownedFileName)}
}

// Load restores the last persisted owned set.
func (o *Owned) Load() {
	var stored []OwnedOrder
	ok, err := statefile.Load(o.path, &stored)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to load owned orders")
		return
	}
	if !ok {
		return
	}
	o.mu.Lock()
	o.entries = stored
	o.mu.Unlock()
	log.Info().Int("entries", len(stored)).Msg("Owned orders restored")
}

// Replace swaps in a freshly scanned owned set and persists it immediately.
func (o *Owned) Replace(entries []OwnedOrder) {
	o.mu.Lock()
	o.entries = entries
	o.mu.Unlock()
	if err := statefile.Save(o.path, entries); err != nil {
		log.Warn().Err(err).Msg("Failed to persist owned orders")
	}
}

// Snapshot returns a copy of the owned set.
func (o *Owned) Snapshot() []OwnedOrder {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return append([]OwnedOrder(nil), o.entries...)
}

var (
	currencyRe = regexp.MustCompile(`^\$([\d.KMB,]+)`)
	readyRe    = regexp.MustCompile(`^([\d.KMB,]+)/([\d.KMB,]+)(?:\s+Ready)?$`)
	quantityRe = regexp.MustCompile(`^(?:Amount:\s*)?([\d.KMB,]+)x?$`)
)

// ParseOwnedSlot reads one slot of the "your orders" sub-interface. The
// format is looser than market tooltips, so this is heuristic: navigation
// items are skipped, a currency line is mandatory, and quantity comes from a
// ready/bought pair when present else a single-quantity line.
func ParseOwnedSlot(index int, it *session.Item) (OwnedOrder, bool) {
	if it == nil || navigator.IsNavigationItem(it) {
		return OwnedOrder{}, false
	}

	lines := tooltip.CleanLines(it.Tooltip)
	if len(lines) == 0 {
		return OwnedOrder{}, false
	}

	priceIdx := -1
	var price float64
	for i, line := range lines {
		if m := currencyRe.FindStringSubmatch(line); m != nil {
			if v, err := tooltip.ParseCompactNumber(m[1]); err == nil {
				priceIdx, price = i, v
				break
			}
		}
	}
	if priceIdx < 0 {
		return OwnedOrder{}, false
	}

	entry := OwnedOrder{
		ProductName: it.Label(),
		UnitPrice:   price,
		SourceSlot:  index,
	}

	var enchantLines []string
	for i, line := range lines {
		if i == 0 || i == priceIdx {
			continue
		}
		if m := readyRe.FindStringSubmatch(line); m != nil {
			ready, err1 := tooltip.ParseCompactNumber(m[1])
			bought, err2 := tooltip.ParseCompactNumber(m[2])
			if err1 == nil && err2 == nil {
				r := int64(ready)
				entry.AmountReady = &r
				entry.AmountBought = int64(bought)
			}
			continue
		}
		if m := quantityRe.FindStringSubmatch(line); m != nil && entry.AmountBought == 0 {
			if v, err := tooltip.ParseCompactNumber(m[1]); err == nil {
				entry.AmountBought = int64(v)
			}
			continue
		}
		if i < priceIdx && !looksLikeChrome(line) {
			enchantLines = append(enchantLines, line)
		}
	}
	entry.Enchantments = tooltip.MapEnchantmentLines(enchantLines)

	if entry.AmountBought == 0 && entry.AmountReady == nil {
		// No quantity at all: control item dressed up as a listing.
		return OwnedOrder{}, false
	}
	return entry, true
}

func looksLikeChrome(line string) bool {
	lowered := strings.ToLower(line)
	for _, phrase := range []string{"click", "page", "back", "shift"} {
		if strings.Contains(lowered, phrase) {
			return true
		}
	}
	return false
}
