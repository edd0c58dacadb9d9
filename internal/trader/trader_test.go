package trader

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akagifreeez/donut-orders/internal/config"
	"github.com/akagifreeez/donut-orders/internal/market"
	"github.com/akagifreeez/donut-orders/internal/navigator"
	"github.com/akagifreeez/donut-orders/internal/orderconfig"
	"github.com/akagifreeez/donut-orders/internal/session"
	"github.com/akagifreeez/donut-orders/internal/session/sessiontest"
	"github.com/akagifreeez/donut-orders/internal/tooltip"
	"github.com/akagifreeez/donut-orders/pkg/jsonl"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		CommandPrefix:   "/orders",
		OpenTimeout:     100 * time.Millisecond,
		ChangeTimeout:   80 * time.Millisecond,
		ConfirmTimeout:  150 * time.Millisecond,
		TradingEnabled:  true,
		MarginThreshold: 0.15,
		MarketStaleAge:  6 * time.Hour,
		ExpiryGrace:     10 * time.Minute,
		SelfName:        "Me_0",
		DataDir:         t.TempDir(),
	}
}

func i64(v int64) *int64 { return &v }

func ownedEmerald(ready int64) market.OwnedOrder {
	return market.OwnedOrder{
		ProductName:  "Emerald",
		UnitPrice:    100,
		AmountBought: 64,
		AmountReady:  i64(ready),
		SourceSlot:   10,
	}
}

func entryFor(price float64, ordered, delivered int64, user string) market.Entry {
	o := tooltip.Order{
		ProductName:     "Emerald",
		Price:           price,
		AmountOrdered:   ordered,
		AmountDelivered: delivered,
		UserName:        user,
		ExpiresAt:       time.Now().Add(time.Hour).UnixMilli(),
	}
	return market.Entry{Order: o, Fingerprint: o.Fingerprint()}
}

func TestSelectCandidateMarginGate(t *testing.T) {
	owned := []market.OwnedOrder{ownedEmerald(32)}

	// 100 * 1.15 = 115: strictly below the gate loses, at the gate wins.
	for _, tc := range []struct {
		price float64
		want  bool
	}{
		{114.99, false},
		{115, true},
		{200, true},
	} {
		got := SelectCandidate(owned, []market.Entry{entryFor(tc.price, 64, 0, "Buyer_9")}, 0.15, "Me_0", nil)
		assert.Equal(t, tc.want, got != nil, "price %v", tc.price)
	}
}

func TestSelectCandidateScoresByMarginTimesQuantity(t *testing.T) {
	owned := []market.OwnedOrder{ownedEmerald(64)}
	entries := []market.Entry{
		entryFor(115, 64, 54, "Small_1"), // margin 15 x 10 remaining = 150
		entryFor(200, 64, 59, "Big_2"),   // margin 100 x 5 remaining = 500
	}
	got := SelectCandidate(owned, entries, 0.15, "Me_0", nil)
	require.NotNil(t, got)
	assert.Equal(t, "Big_2", got.Entry.Order.UserName)
	assert.Equal(t, int64(5), got.Sellable)
	assert.Equal(t, 100.0, got.MarginAbs)
}

func TestSelectCandidateSellableCapsAtReadyStock(t *testing.T) {
	owned := []market.OwnedOrder{ownedEmerald(3)}
	got := SelectCandidate(owned, []market.Entry{entryFor(200, 64, 0, "Buyer_9")}, 0.15, "Me_0", nil)
	require.NotNil(t, got)
	assert.Equal(t, int64(3), got.Sellable)
}

func TestSelectCandidateExclusions(t *testing.T) {
	owned := []market.OwnedOrder{ownedEmerald(32)}

	self := entryFor(200, 64, 0, "Me_0")
	assert.Nil(t, SelectCandidate(owned, []market.Entry{self}, 0.15, "Me_0", nil),
		"operator-authored listings are never traded against")

	filled := entryFor(200, 64, 64, "Buyer_9")
	assert.Nil(t, SelectCandidate(owned, []market.Entry{filled}, 0.15, "Me_0", nil),
		"nothing remaining to deliver")

	blocked := entryFor(200, 64, 0, "Buyer_9")
	assert.Nil(t, SelectCandidate(owned, []market.Entry{blocked}, 0.15, "Me_0",
		func(fp string) bool { return fp == blocked.Fingerprint }))

	assert.Nil(t, SelectCandidate([]market.OwnedOrder{ownedEmerald(0)},
		[]market.Entry{entryFor(200, 64, 0, "Buyer_9")}, 0.15, "Me_0", nil),
		"no ready stock, nothing to claim")
}

func ownedStockItem() *session.Item {
	return &session.Item{
		Name:        "emerald",
		DisplayName: "Emerald",
		Count:       32,
		Tooltip: []string{
			"§fEmerald",
			"§6$100 each",
			"§a32/64 Ready",
		},
	}
}

func marketListingItem(user string) *session.Item {
	return &session.Item{
		Name:        "emerald",
		DisplayName: "Emerald",
		Count:       1,
		Tooltip: []string{
			"§fEmerald",
			"§6$120 each",
			"§70/64 Delivered",
			"§eClick to deliver " + user + " directly",
			"§82d Until expiry",
		},
	}
}

// tradeStage wires the fake through the full hop sequence: market home with
// the owned-orders chest, the owned view, the product page, the delivery
// window fed from the inventory, and the confirmation window the server opens
// when the loaded delivery window is closed.
type tradeStage struct {
	fake     *sessiontest.Fake
	home     *session.Container
	owned    *session.Container
	emptied  *session.Container
	product  *session.Container
	delivery *session.Container
	loaded   *session.Container
	confirm  *session.Container
	step     int
}

func newTradeStage(confirmWorks bool) *tradeStage {
	st := &tradeStage{fake: &sessiontest.Fake{}}

	st.home = sessiontest.NewContainer(1, 54)
	st.home.Slots[4] = &session.Item{Name: "chest", DisplayName: "YOUR ORDERS"}

	st.owned = sessiontest.NewContainer(2, 54)
	st.owned.Slots[10] = ownedStockItem()

	st.emptied = sessiontest.NewContainer(3, 54)

	st.product = sessiontest.NewContainer(4, 54)
	st.product.Slots[20] = marketListingItem("Buyer_9")

	// The delivery window carries the inventory mirror past the grid; the
	// claimed stack sits there until it is moved in.
	st.delivery = sessiontest.NewContainer(5, 90)
	st.delivery.Slots[60] = &session.Item{Name: "emerald", DisplayName: "Emerald", Count: 32}

	st.loaded = sessiontest.NewContainer(6, 90)
	st.loaded.Slots[13] = &session.Item{Name: "emerald", DisplayName: "Emerald", Count: 32}

	st.confirm = sessiontest.NewContainer(7, 54)
	st.confirm.Slots[31] = &session.Item{Name: "lime_wool", DisplayName: "CONFIRM"}

	st.fake.QueueOpen(st.home)
	st.fake.QueueOpen(st.product)
	st.fake.ClickFunc = func(slot, _, mode int) error {
		switch {
		case st.step == 0 && slot == 4:
			st.step = 1
			st.fake.SetCurrent(st.owned)
		case st.step == 1 && slot == 10 && mode == 1:
			st.step = 2
			st.fake.SetCurrent(st.emptied)
		case st.step == 2 && slot == 20:
			st.step = 3
			st.fake.SetCurrent(st.delivery)
		case st.step == 3 && slot == 60 && mode == 1:
			st.step = 4
			st.fake.SetCurrent(st.loaded)
		case st.step == 5 && slot == 31 && confirmWorks:
			st.step = 6
			st.fake.SetCurrent(nil)
		}
		return nil
	}
	st.fake.CloseFunc = func() {
		// Closing the loaded delivery window makes the server push the
		// confirmation window.
		if st.step == 4 {
			st.step = 5
			st.fake.QueueOpen(st.confirm)
		}
	}
	return st
}

func newTrader(t *testing.T, cfg *config.Config, fake *sessiontest.Fake) *Trader {
	t.Helper()
	nav := navigator.New(fake)
	nav.SetPollInterval(10 * time.Millisecond)
	idx := market.NewIndex(cfg.DataDir, cfg.MarketStaleAge, cfg.ExpiryGrace)
	owned := market.NewOwned(cfg.DataDir)
	tr := New(cfg, nav, idx, owned, orderconfig.NewStore(cfg.DataDir))
	t.Cleanup(tr.Close)
	return tr
}

func candidateFor(t *testing.T, st *tradeStage) *Candidate {
	t.Helper()
	o, err := tooltip.Parse("Emerald", tooltip.CleanLines(st.product.Slots[20].Tooltip))
	require.NoError(t, err)
	entry := market.Entry{Order: o, Fingerprint: o.Fingerprint()}
	cand := SelectCandidate([]market.OwnedOrder{ownedEmerald(32)}, []market.Entry{entry}, 0.15, "Me_0", nil)
	require.NotNil(t, cand)
	return cand
}

func readDeals(t *testing.T, dataDir string) []Deal {
	t.Helper()
	var deals []Deal
	require.NoError(t, jsonl.ForEach(filepath.Join(dataDir, "orders-deals.jsonl"), func(d Deal) {
		deals = append(deals, d)
	}))
	return deals
}

func TestExecuteHappyPath(t *testing.T) {
	cfg := testConfig(t)
	st := newTradeStage(true)
	tr := newTrader(t, cfg, st.fake)
	tr.mu.Lock()
	tr.lastOwnedSync = time.Now()
	tr.mu.Unlock()

	cand := candidateFor(t, st)
	tr.execute(context.Background(), cand)

	assert.Equal(t, 6, st.step, "every hop ran")
	assert.Contains(t, st.fake.Commands, "/orders")
	assert.Contains(t, st.fake.Commands, "/orders emerald")
	assert.Equal(t, []sessiontest.Click{
		{Slot: 4},           // enter the owned-orders view
		{Slot: 10, Mode: 1}, // claim the stock into the inventory
		{Slot: 20},          // open the listing's delivery window
		{Slot: 60, Mode: 1}, // move the claimed stack in
		{Slot: 31},          // confirm
	}, st.fake.Clicks)

	deals := readDeals(t, cfg.DataDir)
	require.Len(t, deals, 1)
	assert.Equal(t, "confirmed", deals[0].Outcome)
	assert.Equal(t, "Buyer_9", deals[0].CounterParty)
	assert.Equal(t, 100.0, deals[0].BuyPrice)
	assert.Equal(t, 120.0, deals[0].SellPrice)
	assert.Equal(t, int64(32), deals[0].Quantity)

	assert.True(t, tr.onCooldown(cand.Entry.Fingerprint), "a traded listing is not retraded immediately")
	tr.mu.Lock()
	assert.True(t, tr.lastOwnedSync.IsZero(), "success forces an owned resync")
	tr.mu.Unlock()
}

func TestExecuteConfirmTimeoutIsUnknownNotRetried(t *testing.T) {
	cfg := testConfig(t)
	st := newTradeStage(false) // confirm click lands but the view never reacts
	tr := newTrader(t, cfg, st.fake)
	tr.mu.Lock()
	tr.lastOwnedSync = time.Now()
	tr.mu.Unlock()

	cand := candidateFor(t, st)
	tr.execute(context.Background(), cand)

	deals := readDeals(t, cfg.DataDir)
	require.Len(t, deals, 1)
	assert.Equal(t, "confirm_timeout", deals[0].Outcome)

	assert.True(t, tr.onCooldown(cand.Entry.Fingerprint),
		"unknown outcome blocks the listing instead of retrying")
	tr.mu.Lock()
	assert.True(t, tr.lastOwnedSync.IsZero(), "ambiguous confirm forces an owned resync")
	tr.mu.Unlock()

	clicks := len(st.fake.Clicks)
	tr.RunIdle(context.Background())
	// The idle pass resyncs owned stock; it must not touch the blocked listing.
	assert.False(t, func() bool {
		for _, c := range st.fake.Clicks[clicks:] {
			if c.Slot == 20 {
				return true
			}
		}
		return false
	}(), "no second delivery attempt for an unknown outcome")
}

func TestExecuteRelocateFailureCoolsDown(t *testing.T) {
	cfg := testConfig(t)
	st := newTradeStage(true)
	st.product.Slots[20] = nil // the listing vanished between scan and trade
	tr := newTrader(t, cfg, st.fake)

	cand := SelectCandidate([]market.OwnedOrder{ownedEmerald(32)},
		[]market.Entry{entryFor(120, 64, 0, "Buyer_9")}, 0.15, "Me_0", nil)
	require.NotNil(t, cand)
	tr.execute(context.Background(), cand)

	deals := readDeals(t, cfg.DataDir)
	require.Len(t, deals, 1)
	assert.Equal(t, "failed", deals[0].Outcome)
	assert.Equal(t, "relocate", deals[0].FailedStep)
	assert.True(t, tr.onCooldown(cand.Entry.Fingerprint))
}

func TestExecuteMoveFailureCoolsDown(t *testing.T) {
	cfg := testConfig(t)
	st := newTradeStage(true)
	st.delivery.Slots[60] = nil // the claimed stack never surfaced in the inventory
	tr := newTrader(t, cfg, st.fake)

	cand := candidateFor(t, st)
	tr.execute(context.Background(), cand)

	deals := readDeals(t, cfg.DataDir)
	require.Len(t, deals, 1)
	assert.Equal(t, "failed", deals[0].Outcome)
	assert.Equal(t, "move", deals[0].FailedStep)
	assert.True(t, tr.onCooldown(cand.Entry.Fingerprint))
}

func TestExecuteMissingConfirmWindowIsUnknown(t *testing.T) {
	cfg := testConfig(t)
	st := newTradeStage(true)
	st.fake.CloseFunc = nil // the confirmation window never shows up
	tr := newTrader(t, cfg, st.fake)
	tr.mu.Lock()
	tr.lastOwnedSync = time.Now()
	tr.mu.Unlock()

	cand := candidateFor(t, st)
	tr.execute(context.Background(), cand)

	deals := readDeals(t, cfg.DataDir)
	require.Len(t, deals, 1)
	assert.Equal(t, "confirm_timeout", deals[0].Outcome)
	assert.True(t, tr.onCooldown(cand.Entry.Fingerprint),
		"the stack already moved, a retry risks a double delivery")
	tr.mu.Lock()
	assert.True(t, tr.lastOwnedSync.IsZero(), "ambiguous delivery forces an owned resync")
	tr.mu.Unlock()
}

func TestRunIdleRefreshesStaleOwnedIndex(t *testing.T) {
	cfg := testConfig(t)
	st := newTradeStage(true)
	tr := newTrader(t, cfg, st.fake)

	tr.RunIdle(context.Background())

	got := tr.owned.Snapshot()
	require.Len(t, got, 1)
	assert.Equal(t, "Emerald", got[0].ProductName)
	assert.Equal(t, int64(64), got[0].AmountBought)
	require.NotNil(t, got[0].AmountReady)
	assert.Equal(t, int64(32), *got[0].AmountReady)

	tr.mu.Lock()
	assert.False(t, tr.lastOwnedSync.IsZero())
	tr.mu.Unlock()
}

func TestRunIdleDisabledDoesNothing(t *testing.T) {
	cfg := testConfig(t)
	cfg.TradingEnabled = false
	st := newTradeStage(true)
	tr := newTrader(t, cfg, st.fake)

	tr.RunIdle(context.Background())
	assert.Empty(t, st.fake.Commands)
}
