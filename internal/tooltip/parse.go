package tooltip

import (
	"errors"
	"math"
	"regexp"
	"strings"
	"time"
)

// Parse failures. A slot whose tooltip fails to parse is simply not an order
// (a decoration or control item); callers never abort a page read over these.
var (
	ErrMissingPrice         = errors.New("tooltip: no price line")
	ErrMissingDeliveredPair = errors.New("tooltip: no delivered/ordered line")
	ErrMissingCounterparty  = errors.New("tooltip: no counterparty line")
	ErrMissingDuration      = errors.New("tooltip: no duration line")
)

var (
	priceLineRe     = regexp.MustCompile(`^\$\d`)
	deliveredLineRe = regexp.MustCompile(`^[\d.KMB,]+/[\d.KMB,]+ Delivered$`)
)

const deliverPhrase = "Click to deliver "

// Parse turns a slot's display name and normalized tooltip lines into an
// Order. Lines must already be cleaned of color markup (see CleanLines).
func Parse(name string, lines []string) (Order, error) {
	return ParseAt(name, lines, time.Now())
}

// ParseAt is Parse with an explicit clock for expiry derivation.
func ParseAt(name string, lines []string, now time.Time) (Order, error) {
	priceIdx := -1
	for i, line := range lines {
		if priceLineRe.MatchString(line) {
			priceIdx = i
			break
		}
	}
	if priceIdx < 0 {
		return Order{}, ErrMissingPrice
	}

	priceToken := strings.TrimPrefix(strings.Fields(lines[priceIdx])[0], "$")
	price, err := ParseCompactNumber(priceToken)
	if err != nil {
		return Order{}, ErrMissingPrice
	}

	var enchantLines []string
	if priceIdx > 1 {
		enchantLines = lines[1:priceIdx]
	}

	delivered, ordered, ok := parseDeliveredPair(lines)
	if !ok {
		return Order{}, ErrMissingDeliveredPair
	}

	user, ok := parseCounterparty(lines)
	if !ok {
		return Order{}, ErrMissingCounterparty
	}

	last := lines[len(lines)-1]
	durationPart := strings.SplitN(last, " Until", 2)[0]
	dur := ParseDuration(durationPart)
	if dur <= 0 {
		return Order{}, ErrMissingDuration
	}

	return Order{
		ProductName:     name,
		Enchantments:    MapEnchantmentLines(enchantLines),
		Price:           price,
		AmountOrdered:   ordered,
		AmountDelivered: delivered,
		UserName:        user,
		ExpiresAt:       roundDownToGrid(now.UnixMilli() + dur.Milliseconds()),
	}, nil
}

func parseDeliveredPair(lines []string) (delivered, ordered int64, ok bool) {
	for _, line := range lines {
		if !deliveredLineRe.MatchString(line) {
			continue
		}
		pair := strings.TrimSuffix(line, " Delivered")
		left, right, found := strings.Cut(pair, "/")
		if !found {
			return 0, 0, false
		}
		d, err1 := ParseCompactNumber(left)
		o, err2 := ParseCompactNumber(right)
		if err1 != nil || err2 != nil {
			return 0, 0, false
		}
		return int64(math.Floor(d)), int64(math.Floor(o)), true
	}
	return 0, 0, false
}

func parseCounterparty(lines []string) (string, bool) {
	for _, line := range lines {
		if !strings.HasPrefix(line, deliverPhrase) {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 4 {
			return "", false
		}
		return fields[3], true
	}
	return "", false
}
