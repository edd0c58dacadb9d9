package tooltip

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var parseClock = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func orderLines() []string {
	return []string{
		"Diamond Sword",
		"Sharpness V",
		"Unbreaking III",
		"$12K each",
		"40/100 Delivered",
		"Click to deliver Steve_99 directly",
		"2d 3h Until expiry",
	}
}

func TestParseWellFormedTooltip(t *testing.T) {
	o, err := ParseAt("Diamond Sword", orderLines(), parseClock)
	require.NoError(t, err)

	assert.Equal(t, "Diamond Sword", o.ProductName)
	assert.Equal(t, 12000.0, o.Price)
	assert.Equal(t, int64(40), o.AmountDelivered)
	assert.Equal(t, int64(100), o.AmountOrdered)
	assert.Equal(t, "Steve_99", o.UserName)

	require.Len(t, o.Enchantments, 2)
	// Canonical order: by name.
	assert.Equal(t, Enchantment{Name: "sharpness", Level: 5}, o.Enchantments[0])
	assert.Equal(t, Enchantment{Name: "unbreaking", Level: 3}, o.Enchantments[1])

	wantExpiry := parseClock.Add(51 * time.Hour).UnixMilli()
	wantExpiry = wantExpiry / (5 * time.Minute).Milliseconds() * (5 * time.Minute).Milliseconds()
	assert.Equal(t, wantExpiry, o.ExpiresAt)
}

func TestParseMissingLines(t *testing.T) {
	drop := func(lines []string, idx int) []string {
		out := make([]string, 0, len(lines)-1)
		out = append(out, lines[:idx]...)
		return append(out, lines[idx+1:]...)
	}

	base := orderLines()

	_, err := ParseAt("x", drop(base, 3), parseClock)
	assert.ErrorIs(t, err, ErrMissingPrice)

	_, err = ParseAt("x", drop(base, 4), parseClock)
	assert.ErrorIs(t, err, ErrMissingDeliveredPair)

	_, err = ParseAt("x", drop(base, 5), parseClock)
	assert.ErrorIs(t, err, ErrMissingCounterparty)

	_, err = ParseAt("x", drop(base, 6), parseClock)
	assert.ErrorIs(t, err, ErrMissingDuration)
}

func TestParseCompactNumber(t *testing.T) {
	cases := map[string]float64{
		"12K":  12000,
		"3.5M": 3500000,
		"1B":   1000000000,
		"42":   42,
	}
	for in, want := range cases {
		got, err := ParseCompactNumber(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseCompactNumber("")
	assert.Error(t, err)
	_, err = ParseCompactNumber("x12")
	assert.Error(t, err)
}

func TestParseDuration(t *testing.T) {
	assert.Equal(t, 51*time.Hour, ParseDuration("2d 3h"))
	assert.Equal(t, 90*time.Second, ParseDuration("1m 30s"))
	// Order does not matter, junk tokens contribute nothing.
	assert.Equal(t, 25*time.Hour, ParseDuration("1h 1d banana"))
	assert.Equal(t, time.Duration(0), ParseDuration(""))
}

func TestEnchantmentLevelFallback(t *testing.T) {
	lines := orderLines()
	lines[1] = "Mending"
	lines[2] = "Aqua Affinity"

	o, err := ParseAt("Trident", lines, parseClock)
	require.NoError(t, err)
	require.Len(t, o.Enchantments, 2)
	assert.Equal(t, Enchantment{Name: "aqua_affinity", Level: 1}, o.Enchantments[0])
	assert.Equal(t, Enchantment{Name: "mending", Level: 1}, o.Enchantments[1])
}

func TestUnknownEnchantmentDropped(t *testing.T) {
	lines := orderLines()
	lines[1] = "Market Exclusive IV"

	o, err := ParseAt("Diamond Sword", lines, parseClock)
	require.NoError(t, err)
	require.Len(t, o.Enchantments, 1)
	assert.Equal(t, "unbreaking", o.Enchantments[0].Name)
}

func TestFingerprintStability(t *testing.T) {
	a, err := ParseAt("Diamond Sword", orderLines(), parseClock)
	require.NoError(t, err)
	b, err := ParseAt("Diamond Sword", orderLines(), parseClock)
	require.NoError(t, err)
	assert.Equal(t, a.Fingerprint(), b.Fingerprint())

	// Clock jitter inside the 5 minute grid does not move the fingerprint.
	c, err := ParseAt("Diamond Sword", orderLines(), parseClock.Add(90*time.Second))
	require.NoError(t, err)
	assert.Equal(t, a.Fingerprint(), c.Fingerprint())

	for _, mutate := range []func([]string){
		func(l []string) { l[3] = "$13K each" },
		func(l []string) { l[4] = "40/200 Delivered" },
		func(l []string) { l[5] = "Click to deliver Alex_12 directly" },
		func(l []string) { l[6] = "6d Until expiry" },
	} {
		lines := orderLines()
		mutate(lines)
		m, err := ParseAt("Diamond Sword", lines, parseClock)
		require.NoError(t, err)
		assert.NotEqual(t, a.Fingerprint(), m.Fingerprint())
	}
}

func TestIdentityKeySeparatesEnchantmentSets(t *testing.T) {
	plain := Order{ProductName: "Diamond Sword"}
	sharp := Order{ProductName: "Diamond Sword", Enchantments: []Enchantment{{Name: "sharpness", Level: 5}}}
	assert.NotEqual(t, plain.IdentityKey(), sharp.IdentityKey())
	assert.Equal(t, "diamond_sword", plain.IdentityKey())
}

func TestRemainingClampsAtZero(t *testing.T) {
	o := Order{AmountOrdered: 10, AmountDelivered: 25}
	assert.Equal(t, int64(0), o.Remaining())
}

func TestNormalizeKey(t *testing.T) {
	assert.Equal(t, "diamond_sword", NormalizeKey(`"Diamond Sword"`))
	assert.Equal(t, "tnt", NormalizeKey("  TNT!  "))
	assert.Equal(t, "oak_log", NormalizeKey("oak-log"))
}
