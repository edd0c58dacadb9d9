package tooltip

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Order is one parsed sell listing. Constructed once per tooltip parse and
// never mutated afterwards.
type Order struct {
	ProductName     string        `json:"name"`
	Enchantments    []Enchantment `json:"enchantments,omitempty"`
	Price           float64       `json:"price"`
	AmountOrdered   int64         `json:"amountOrdered"`
	AmountDelivered int64         `json:"amountDelivered"`
	UserName        string        `json:"userName"`
	ExpiresAt       int64         `json:"expiresAt"` // epoch ms, floored to a 5 minute grid
}

// Enchantment is a single name/level pair. The set on an order is kept in
// canonical (name, level) sort order because it participates in product
// identity, not just display.
type Enchantment struct {
	Name  string `json:"name"`
	Level int    `json:"level"`
}

// Remaining returns the undelivered quantity, clamped at zero. Listings with
// delivered > ordered do occur upstream and are kept as data.
func (o Order) Remaining() int64 {
	r := o.AmountOrdered - o.AmountDelivered
	if r < 0 {
		return 0
	}
	return r
}

// BaseKey returns the normalized product key without the enchantment
// signature.
func (o Order) BaseKey() string {
	return NormalizeKey(o.ProductName)
}

// IdentityKey returns the composite product identity: normalized base product
// key plus the canonical enchantment signature. Two orders for the same base
// item with different enchantment sets are different products.
func (o Order) IdentityKey() string {
	base := NormalizeKey(o.ProductName)
	if len(o.Enchantments) == 0 {
		return base
	}
	parts := make([]string, len(o.Enchantments))
	for i, e := range o.Enchantments {
		parts[i] = fmt.Sprintf("%s.%d", e.Name, e.Level)
	}
	return base + "+" + strings.Join(parts, "|")
}

// Fingerprint identifies a live market listing across page reads. The
// marketplace exposes no listing id, so the identity is the full tuple of
// observable stable fields.
func (o Order) Fingerprint() string {
	return fmt.Sprintf("%s#%s#%.2f#%d#%d",
		o.IdentityKey(), o.UserName, o.Price, o.AmountOrdered, o.ExpiresAt)
}

var (
	keyDropRe     = regexp.MustCompile(`[^a-z0-9\s_\-]`)
	keySepRe      = regexp.MustCompile(`[\s\-]+`)
	multiSpaceRe  = regexp.MustCompile(`\s+`)
	romanNumerals = map[string]int{
		"I": 1, "II": 2, "III": 3, "IV": 4, "V": 5,
		"VI": 6, "VII": 7, "VIII": 8, "IX": 9, "X": 10,
	}
)

// NormalizeKey lowercases a product name and collapses it to a stable
// underscore-separated key.
func NormalizeKey(value string) string {
	s := strings.ToLower(value)
	s = strings.ReplaceAll(s, `"`, "")
	s = strings.ReplaceAll(s, "'", "")
	s = keyDropRe.ReplaceAllString(s, "")
	s = strings.TrimSpace(s)
	return keySepRe.ReplaceAllString(s, "_")
}

// SanitizeCommand collapses whitespace in a user-supplied command alias.
func SanitizeCommand(value string) string {
	return multiSpaceRe.ReplaceAllString(strings.TrimSpace(value), " ")
}

// ParseCompactNumber decodes the marketplace's compact numeric notation:
// K, M and B multiply by 1e3, 1e6 and 1e9; no suffix is a literal value.
func ParseCompactNumber(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty number")
	}
	mult := 1.0
	switch s[len(s)-1] {
	case 'K':
		mult, s = 1e3, s[:len(s)-1]
	case 'M':
		mult, s = 1e6, s[:len(s)-1]
	case 'B':
		mult, s = 1e9, s[:len(s)-1]
	}
	n, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", ""), 64)
	if err != nil {
		return 0, err
	}
	return n * mult, nil
}

// FormatPriceCompact renders a price the way the marketplace does.
func FormatPriceCompact(v float64) string {
	return "$" + FormatNumberCompact(v)
}

// FormatNumberCompact renders a quantity in compact K/M/B notation.
func FormatNumberCompact(v float64) string {
	switch {
	case math.IsNaN(v) || math.IsInf(v, 0):
		return "n/a"
	case v >= 1e9:
		return strconv.FormatFloat(v/1e9, 'f', 1, 64) + "B"
	case v >= 1e6:
		return strconv.FormatFloat(v/1e6, 'f', 1, 64) + "M"
	case v >= 1e3:
		return strconv.FormatFloat(v/1e3, 'f', 1, 64) + "K"
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// ParseDuration decodes expiry expressions of the form "2d 3h 5m 30s". Tokens
// may appear in any subset and order; unrecognized tokens contribute nothing.
func ParseDuration(s string) time.Duration {
	var total time.Duration
	for _, part := range strings.Fields(s) {
		if len(part) < 2 {
			continue
		}
		n, err := strconv.Atoi(part[:len(part)-1])
		if err != nil {
			continue
		}
		switch part[len(part)-1] {
		case 'd':
			total += time.Duration(n) * 24 * time.Hour
		case 'h':
			total += time.Duration(n) * time.Hour
		case 'm':
			total += time.Duration(n) * time.Minute
		case 's':
			total += time.Duration(n) * time.Second
		}
	}
	return total
}

const expiryGrid = 5 * time.Minute

// roundDownToGrid floors an epoch-ms timestamp to the expiry grid. Expiry is
// derived from a coarse countdown string, so neighbouring reads of the same
// listing must land on the same value.
func roundDownToGrid(epochMs int64) int64 {
	grid := expiryGrid.Milliseconds()
	return epochMs / grid * grid
}

// MapEnchantmentLines maps display lines like "Sharpness V" through the known
// display-name table. A trailing token that is not a roman numeral is part of
// the name and means level 1. Unknown names are dropped; the result is in
// canonical (name, level) order.
func MapEnchantmentLines(lines []string) []Enchantment {
	var out []Enchantment
	for _, line := range lines {
		parts := strings.Fields(line)
		if len(parts) == 0 {
			continue
		}
		level := 1
		name := strings.Join(parts, " ")
		if lvl, ok := romanNumerals[parts[len(parts)-1]]; ok && len(parts) > 1 {
			level = lvl
			name = strings.Join(parts[:len(parts)-1], " ")
		}
		id, ok := enchantmentIDs[name]
		if !ok {
			continue
		}
		out = append(out, Enchantment{Name: id, Level: level})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].Level < out[j].Level
	})
	return out
}

// enchantmentIDs maps in-game display names to stable identifiers.
var enchantmentIDs = map[string]string{
	"Protection":            "protection",
	"Fire Protection":       "fire_protection",
	"Feather Falling":       "feather_falling",
	"Blast Protection":      "blast_protection",
	"Projectile Protection": "projectile_protection",
	"Respiration":           "respiration",
	"Aqua Affinity":         "aqua_affinity",
	"Thorns":                "thorns",
	"Depth Strider":         "depth_strider",
	"Frost Walker":          "frost_walker",
	"Curse of Binding":      "binding_curse",
	"Soul Speed":            "soul_speed",
	"Swift Sneak":           "swift_sneak",
	"Sharpness":             "sharpness",
	"Smite":                 "smite",
	"Bane of Arthropods":    "bane_of_arthropods",
	"Knockback":             "knockback",
	"Fire Aspect":           "fire_aspect",
	"Looting":               "looting",
	"Sweeping Edge":         "sweeping",
	"Efficiency":            "efficiency",
	"Silk Touch":            "silk_touch",
	"Unbreaking":            "unbreaking",
	"Fortune":               "fortune",
	"Power":                 "power",
	"Punch":                 "punch",
	"Flame":                 "flame",
	"Infinity":              "infinity",
	"Luck of the Sea":       "luck_of_the_sea",
	"Lure":                  "lure",
	"Loyalty":               "loyalty",
	"Impaling":              "impaling",
	"Riptide":               "riptide",
	"Channeling":            "channeling",
	"Multishot":             "multishot",
	"Quick Charge":          "quick_charge",
	"Piercing":              "piercing",
	"Mending":               "mending",
	"Curse of Vanishing":    "vanishing_curse",
}
