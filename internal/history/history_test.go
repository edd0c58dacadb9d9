package history

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akagifreeez/donut-orders/internal/snapshot"
	"github.com/akagifreeez/donut-orders/internal/tooltip"
)

var alertClock = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func TestMeanPrunesOutsideWindow(t *testing.T) {
	p := NewPrices(time.Hour)
	p.Observe("emerald", 100, alertClock.Add(-2*time.Hour))
	p.Observe("emerald", 200, alertClock.Add(-30*time.Minute))
	p.Observe("emerald", 400, alertClock)

	mean, n := p.Mean("emerald", alertClock)
	assert.Equal(t, 2, n, "the two-hour-old point is gone")
	assert.Equal(t, 300.0, mean)

	_, n = p.Mean("repeater", alertClock)
	assert.Zero(t, n)
}

func TestStatsSummarizesWindow(t *testing.T) {
	p := NewPrices(time.Hour)
	p.Observe("emerald", 100, alertClock.Add(-10*time.Minute))
	p.Observe("emerald", 300, alertClock)

	stats := p.Stats(alertClock)
	require.Contains(t, stats, "emerald")
	assert.Equal(t, 200.0, stats["emerald"].Mean)
	assert.Equal(t, 300.0, stats["emerald"].Latest)
	assert.Equal(t, 2, stats["emerald"].Points)
}

func f64(v float64) *float64 { return &v }
func i64(v int64) *int64     { return &v }
func off() *bool             { v := false; return &v }

func order(price float64, ordered, delivered int64, user string, expiresAt time.Time) tooltip.Order {
	return tooltip.Order{
		ProductName:     "Diamond Sword",
		Price:           price,
		AmountOrdered:   ordered,
		AmountDelivered: delivered,
		UserName:        user,
		ExpiresAt:       expiresAt.UnixMilli(),
	}
}

func TestRuleBoundsAreInclusive(t *testing.T) {
	a := NewAlerter(t.TempDir(), time.Minute, "", nil)
	r := Rule{ProductKey: "diamond_sword", PriceMin: f64(100), PriceMax: f64(200), QtyMin: i64(10), QtyMax: i64(64)}

	exp := alertClock.Add(time.Hour)
	assert.True(t, a.matches(r, order(100, 64, 0, "A", exp)), "price at the lower bound")
	assert.True(t, a.matches(r, order(200, 74, 10, "A", exp)), "price and remaining at bounds")
	assert.False(t, a.matches(r, order(99.99, 64, 0, "A", exp)))
	assert.False(t, a.matches(r, order(150, 64, 55, "A", exp)), "remaining 9 is under the floor")
	assert.False(t, a.matches(r, order(150, 100, 0, "A", exp)), "remaining 100 is over the ceiling")
	assert.False(t, a.matches(Rule{ProductKey: "emerald"}, order(150, 64, 0, "A", exp)))
}

func snapFor(o tooltip.Order, ts time.Time) *snapshot.Snapshot {
	return &snapshot.Snapshot{
		TS:         ts,
		ProductKey: o.BaseKey(),
		Mode:       snapshot.ModeTracked,
		Max: &snapshot.Max{
			Price:           o.Price,
			AmountOrdered:   o.AmountOrdered,
			AmountDelivered: o.AmountDelivered,
			Slot:            0,
			UserName:        o.UserName,
		},
		Slots: []snapshot.Slot{{Index: 0, Order: &o}},
	}
}

func awaitPosts(t *testing.T, posts *atomic.Int64, want int64) {
	t.Helper()
	require.Eventually(t, func() bool { return posts.Load() == want },
		time.Second, 5*time.Millisecond)
}

func TestAlertFiresOncePerCooldownWindow(t *testing.T) {
	var posts atomic.Int64
	var lastContent atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var payload map[string]string
		require.NoError(t, json.Unmarshal(body, &payload))
		lastContent.Store(payload["content"])
		posts.Add(1)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	a := NewAlerter(t.TempDir(), 5*time.Minute, "", NewPrices(24*time.Hour))
	_, err := a.SetConfig(Config{
		WebhookURL: srv.URL,
		Rules:      []Rule{{ProductKey: "Diamond Sword", PriceMin: f64(1000)}},
	})
	require.NoError(t, err)

	expiry := alertClock.Add(10 * time.Minute)
	o := order(5000, 64, 4, "Alice_1", expiry)

	a.ObserveSnapshot(snapFor(o, alertClock))
	awaitPosts(t, &posts, 1)
	content, _ := lastContent.Load().(string)
	assert.Contains(t, content, "Diamond Sword")
	assert.Contains(t, content, "$5.0K")
	assert.Contains(t, content, "Alice_1")

	// Same listing again inside the window: suppressed.
	a.ObserveSnapshot(snapFor(o, alertClock.Add(time.Minute)))
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int64(1), posts.Load())

	// A different counterparty is a separate cooldown.
	a.ObserveSnapshot(snapFor(order(5000, 64, 4, "Bob_2", expiry), alertClock.Add(time.Minute)))
	awaitPosts(t, &posts, 2)

	// Past the listing expiry the same pair fires again.
	a.ObserveSnapshot(snapFor(o, expiry.Add(time.Second)))
	awaitPosts(t, &posts, 3)
}

func TestCooldownClaimedEvenWhenWebhookFails(t *testing.T) {
	var posts atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		posts.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	a := NewAlerter(t.TempDir(), 5*time.Minute, srv.URL, nil)
	_, err := a.SetConfig(Config{WebhookURL: srv.URL, Rules: []Rule{{ProductKey: "diamond_sword"}}})
	require.NoError(t, err)

	o := order(5000, 64, 0, "Alice_1", alertClock.Add(time.Hour))
	a.ObserveSnapshot(snapFor(o, alertClock))
	awaitPosts(t, &posts, 1)
	a.ObserveSnapshot(snapFor(o, alertClock.Add(time.Minute)))
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int64(1), posts.Load(), "no retry storm after a failed delivery")
}

func TestDisabledRuleNeverFires(t *testing.T) {
	var posts atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		posts.Add(1)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	a := NewAlerter(t.TempDir(), time.Minute, srv.URL, nil)
	_, err := a.SetConfig(Config{WebhookURL: srv.URL, Rules: []Rule{{ProductKey: "diamond_sword", Enabled: off()}}})
	require.NoError(t, err)

	a.ObserveSnapshot(snapFor(order(5000, 64, 0, "Alice_1", alertClock.Add(time.Hour)), alertClock))
	time.Sleep(30 * time.Millisecond)
	assert.Zero(t, posts.Load())
}

func TestSweepPagesDoNotDriveAlerts(t *testing.T) {
	var posts atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		posts.Add(1)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	a := NewAlerter(t.TempDir(), time.Minute, srv.URL, NewPrices(time.Hour))
	_, err := a.SetConfig(Config{WebhookURL: srv.URL, Rules: []Rule{{ProductKey: "diamond_sword"}}})
	require.NoError(t, err)

	snap := snapFor(order(5000, 64, 0, "Alice_1", alertClock.Add(time.Hour)), alertClock)
	snap.Mode = snapshot.ModeSweep
	a.ObserveSnapshot(snap)

	time.Sleep(30 * time.Millisecond)
	assert.Zero(t, posts.Load())
	_, n := a.prices.Mean("diamond_sword", alertClock)
	assert.Zero(t, n, "sweep pages stay out of the price window")
}

func TestOnlyPageMaxIsEvaluated(t *testing.T) {
	var posts atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		posts.Add(1)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	a := NewAlerter(t.TempDir(), time.Minute, srv.URL, nil)
	// Only listings at 100 or below match; the page max sits above the cap.
	_, err := a.SetConfig(Config{WebhookURL: srv.URL, Rules: []Rule{{ProductKey: "diamond_sword", PriceMax: f64(100)}}})
	require.NoError(t, err)

	cheap := order(100, 64, 0, "Alice_1", alertClock.Add(time.Hour))
	best := order(5000, 64, 0, "Bob_2", alertClock.Add(time.Hour))
	snap := snapFor(best, alertClock)
	snap.Slots = append(snap.Slots, snapshot.Slot{Index: 1, Order: &cheap})
	a.ObserveSnapshot(snap)

	time.Sleep(30 * time.Millisecond)
	assert.Zero(t, posts.Load(), "non-best listings never trigger rules")
}

func TestSetConfigValidatesAndAssignsIDs(t *testing.T) {
	a := NewAlerter(t.TempDir(), time.Minute, "", nil)

	cfg, err := a.SetConfig(Config{Rules: []Rule{{ProductKey: "Diamond Sword"}}})
	require.NoError(t, err)
	require.Len(t, cfg.Rules, 1)
	assert.Equal(t, "diamond_sword", cfg.Rules[0].ProductKey)
	assert.NotEmpty(t, cfg.Rules[0].ID)
	assert.True(t, cfg.Rules[0].IsEnabled(), "rules default to enabled")

	_, err = a.SetConfig(Config{Rules: []Rule{{ProductKey: ""}}})
	assert.Error(t, err)
	_, err = a.SetConfig(Config{Rules: []Rule{{ProductKey: "emerald", PriceMin: f64(10), PriceMax: f64(5)}}})
	assert.Error(t, err)
	_, err = a.SetConfig(Config{Rules: []Rule{{ProductKey: "emerald", QtyMin: i64(10), QtyMax: i64(5)}}})
	assert.Error(t, err)
}

func TestConfigPersistsAsAUnit(t *testing.T) {
	dir := t.TempDir()
	a := NewAlerter(dir, time.Minute, "", nil)
	_, err := a.SetConfig(Config{
		WebhookURL: "https://hooks.example/orders",
		Rules: []Rule{
			{ProductKey: "emerald"},
			{ProductKey: "repeater", Enabled: off()},
		},
	})
	require.NoError(t, err)

	b := NewAlerter(dir, time.Minute, "", nil)
	b.Load()
	got := b.Config()
	assert.Equal(t, "https://hooks.example/orders", got.WebhookURL)
	require.Len(t, got.Rules, 2)
	assert.Equal(t, "emerald", got.Rules[0].ProductKey)
	assert.True(t, got.Rules[0].IsEnabled())
	assert.False(t, got.Rules[1].IsEnabled())
}
