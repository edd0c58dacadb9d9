package trader

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/akagifreeez/donut-orders/internal/market"
	"github.com/akagifreeez/donut-orders/internal/navigator"
	"github.com/akagifreeez/donut-orders/internal/session"
	"github.com/akagifreeez/donut-orders/internal/tooltip"
)

// Deal is one execution attempt, appended to the immutable deal log whatever
// the outcome.
type Deal struct {
	ID           string    `json:"id"`
	TS           time.Time `json:"ts"`
	ProductKey   string    `json:"productKey"`
	Fingerprint  string    `json:"fingerprint"`
	CounterParty string    `json:"userName"`
	BuyPrice     float64   `json:"buyPrice"`
	SellPrice    float64   `json:"sellPrice"`
	Quantity     int64     `json:"quantity"`
	MarginAbs    float64   `json:"marginAbs"`
	Outcome      string    `json:"outcome"`
	FailedStep   string    `json:"failedStep,omitempty"`
}

// maxRelocatePages bounds the post-claim search for the target listing.
const maxRelocatePages = 10

// execute runs the delivery hops for one candidate: claim the owned stock,
// reopen the product's market view, relocate the listing, open its delivery
// view and confirm. Every exit path records a deal and a listing cooldown.
func (t *Trader) execute(ctx context.Context, cand *Candidate) {
	deal := Deal{
		ID:           uuid.NewString(),
		TS:           time.Now(),
		ProductKey:   cand.Entry.Order.IdentityKey(),
		Fingerprint:  cand.Entry.Fingerprint,
		CounterParty: cand.Entry.Order.UserName,
		BuyPrice:     cand.Owned.UnitPrice,
		SellPrice:    cand.Entry.Order.Price,
		Quantity:     cand.Sellable,
		MarginAbs:    cand.MarginAbs,
	}
	log.Info().
		Str("deal", deal.ID).
		Str("product", deal.ProductKey).
		Str("user", deal.CounterParty).
		Float64("margin", deal.MarginAbs).
		Int64("qty", deal.Quantity).
		Msg("Executing trade")

	w, ok := t.openOwnedView(ctx)
	if !ok {
		t.finishFailed(&deal, "open_owned", cooldownOpenFail)
		return
	}
	if !t.claimStock(ctx, w, cand) {
		t.finishFailed(&deal, "claim", cooldownClaimFail)
		return
	}

	listing, slotIdx, ok := t.relocateListing(ctx, cand)
	if !ok {
		t.finishFailed(&deal, "relocate", cooldownRelocateFail)
		return
	}

	dv, ok := t.openDelivery(ctx, listing, slotIdx)
	if !ok {
		t.finishFailed(&deal, "deliver", cooldownRelocateFail)
		return
	}
	if !t.moveIntoDelivery(ctx, dv, cand) {
		t.finishFailed(&deal, "move", cooldownRelocateFail)
		return
	}

	confirmSlot, ok := t.awaitConfirmWindow(ctx)
	if !ok {
		// The stack already left the inventory; without the confirmation
		// window there is no telling whether the delivery landed.
		t.finishUnknown(&deal)
		return
	}

	switch t.confirm(ctx, confirmSlot) {
	case confirmOK:
		deal.Outcome = "confirmed"
		t.blockListing(deal.Fingerprint, cooldownSuccess)
		t.markOwnedStale()
		t.recordDeal(deal)
		log.Info().Str("deal", deal.ID).Msg("Trade confirmed")
	case confirmUnknown:
		t.finishUnknown(&deal)
	case confirmClickFailed:
		t.finishFailed(&deal, "confirm_click", cooldownClaimFail)
	}
}

// finishUnknown records an ambiguous outcome. The click or move may have
// landed; retrying risks a double delivery, so the listing is blocked and the
// owned index resynced instead.
func (t *Trader) finishUnknown(deal *Deal) {
	deal.Outcome = "confirm_timeout"
	t.blockListing(deal.Fingerprint, cooldownConfirmUnknown)
	t.markOwnedStale()
	t.recordDeal(*deal)
	log.Warn().Str("deal", deal.ID).Msg("Trade confirmation timed out, outcome unknown")
}

func (t *Trader) finishFailed(deal *Deal, step string, cooldown time.Duration) {
	deal.Outcome = "failed"
	deal.FailedStep = step
	t.blockListing(deal.Fingerprint, cooldown)
	t.recordDeal(*deal)
	_ = t.nav.Close(context.Background())
	log.Warn().Str("deal", deal.ID).Str("step", step).Msg("Trade aborted")
}

// claimStock pulls the candidate's stock from the owned-orders view into the
// inventory: shift-click first, slot-to-slot as fallback. The owned view may
// have shifted since the last resync, so the slot is re-derived from the live
// window before clicking.
func (t *Trader) claimStock(ctx context.Context, w *session.Container, cand *Candidate) bool {
	src := findOwnedSlot(w, cand.Owned)
	w2, changed, err := t.nav.ClickAndWait(ctx, w, src, 0, 1, t.cfg.ChangeTimeout)
	if err != nil {
		return false
	}
	if !changed {
		// Some container types reject shift-click; move the stack by hand
		// into the first slot past the container grid.
		dest := w2.GridSize()
		if _, _, err := t.nav.ClickAndWait(ctx, w2, src, 0, 0, t.cfg.ChangeTimeout); err != nil {
			return false
		}
		if _, changed, err = t.nav.ClickAndWait(ctx, w2, dest, 0, 0, t.cfg.ChangeTimeout); err != nil || !changed {
			return false
		}
	}
	return t.nav.Close(ctx) == nil
}

// openOwnedView opens the market home and enters the owned-orders
// sub-interface.
func (t *Trader) openOwnedView(ctx context.Context) (*session.Container, bool) {
	home, err := t.nav.Open(ctx, t.cfg.CommandPrefix, t.cfg.OpenTimeout)
	if err != nil {
		return nil, false
	}
	slot := findOwnedControl(home)
	if slot < 0 {
		return nil, false
	}
	w, changed, err := t.nav.ClickAndWait(ctx, home, slot, 0, 0, t.cfg.ChangeTimeout)
	if err != nil || !changed {
		return nil, false
	}
	return w, true
}

// findOwnedSlot locates the owned order in the live window by identity and
// unit price. The recorded source slot is only a fallback.
func findOwnedSlot(w *session.Container, want market.OwnedOrder) int {
	for i := 0; i < w.GridSize(); i++ {
		e, ok := market.ParseOwnedSlot(i, w.Slot(i))
		if !ok {
			continue
		}
		if e.IdentityKey() == want.IdentityKey() && e.UnitPrice == want.UnitPrice {
			return i
		}
	}
	return want.SourceSlot
}

func findOwnedControl(c *session.Container) int {
	for i := 0; i < c.GridSize(); i++ {
		if navigator.IsOwnedOrdersControl(c.Slot(i)) {
			return i
		}
	}
	return -1
}

// relocateListing reopens the product's market view and finds the candidate's
// listing again: exact fingerprint first, then the product/counterparty/price
// triple as a fallback for listings whose countdown drifted a grid step.
func (t *Trader) relocateListing(ctx context.Context, cand *Candidate) (*session.Container, int, bool) {
	command := t.cfg.CommandPrefix + " " + strings.ReplaceAll(cand.Entry.Order.BaseKey(), "_", " ")
	c, err := t.nav.Open(ctx, command, t.cfg.OpenTimeout)
	if err != nil {
		return nil, 0, false
	}
	if next, _ := t.nav.EnsureSortOption(ctx, c, t.prefs.Get().TrackingSort, t.cfg.ChangeTimeout); next != nil {
		c = next
	}

	want := cand.Entry.Order
	for page := 1; page <= maxRelocatePages; page++ {
		fallbackSlot := -1
		for i := 0; i < c.GridSize(); i++ {
			it := c.Slot(i)
			if it == nil {
				continue
			}
			order, err := parseSlot(it)
			if err != nil {
				continue
			}
			if order.Fingerprint() == cand.Entry.Fingerprint {
				return c, i, true
			}
			if fallbackSlot < 0 &&
				order.IdentityKey() == want.IdentityKey() &&
				order.UserName == want.UserName &&
				order.Price == want.Price {
				fallbackSlot = i
			}
		}
		if fallbackSlot >= 0 {
			return c, fallbackSlot, true
		}
		next, err := t.nav.NextPage(ctx, c, navigator.PageOpts{ChangeTimeout: t.cfg.ChangeTimeout})
		if err != nil || next == nil {
			break
		}
		c = next
	}
	return nil, 0, false
}

// openDelivery clicks the listing and returns its delivery sub-window.
func (t *Trader) openDelivery(ctx context.Context, c *session.Container, slotIdx int) (*session.Container, bool) {
	w, changed, err := t.nav.ClickAndWait(ctx, c, slotIdx, 0, 0, t.cfg.ChangeTimeout)
	if err != nil || !changed {
		return nil, false
	}
	return w, true
}

// moveIntoDelivery shift-clicks the claimed stack from the player inventory
// into the delivery window. The inventory mirror sits past the container grid.
func (t *Trader) moveIntoDelivery(ctx context.Context, w *session.Container, cand *Candidate) bool {
	key := cand.Entry.Order.BaseKey()
	for i := w.GridSize(); i < len(w.Slots); i++ {
		it := w.Slot(i)
		if it == nil || tooltip.NormalizeKey(it.Label()) != key {
			continue
		}
		_, changed, err := t.nav.ClickAndWait(ctx, w, i, 0, 1, t.cfg.ChangeTimeout)
		return err == nil && changed
	}
	return false
}

// awaitConfirmWindow closes the delivery view, which prompts the server to
// open the confirmation sub-window, then locates its confirm control.
func (t *Trader) awaitConfirmWindow(ctx context.Context) (int, bool) {
	if err := t.nav.Close(ctx); err != nil {
		return 0, false
	}
	w, err := t.nav.Conn().AwaitOpen(ctx, t.cfg.ConfirmTimeout)
	if err != nil {
		return 0, false
	}
	for i := 0; i < w.GridSize(); i++ {
		if navigator.IsConfirmButton(w.Slot(i)) {
			return i, true
		}
	}
	return 0, false
}

type confirmResult int

const (
	confirmOK confirmResult = iota
	confirmUnknown
	confirmClickFailed
)

// confirm clicks the confirm control and waits for the delivery view to
// close or change. Silence within the confirm timeout is an unknown outcome,
// never a retryable failure.
func (t *Trader) confirm(ctx context.Context, confirmSlot int) confirmResult {
	conn := t.nav.Conn()
	prev := navigator.Fingerprint(conn.Current())
	if err := conn.ClickSlot(ctx, confirmSlot, 0, 0); err != nil {
		return confirmClickFailed
	}

	deadline := time.Now().Add(t.cfg.ConfirmTimeout)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return confirmUnknown
		case <-ticker.C:
			cur := conn.Current()
			if cur == nil {
				return confirmOK
			}
			if sig := navigator.Fingerprint(cur); sig != prev {
				_ = t.nav.Close(ctx)
				return confirmOK
			}
			if time.Now().After(deadline) {
				_ = t.nav.Close(ctx)
				return confirmUnknown
			}
		}
	}
}

func parseSlot(it *session.Item) (tooltip.Order, error) {
	return tooltip.Parse(it.Label(), tooltip.CleanLines(it.Tooltip))
}

// syncOwned refreshes the owned index with a full resync of the owned-orders
// view.
func (t *Trader) syncOwned(ctx context.Context) {
	w, ok := t.openOwnedView(ctx)
	if !ok {
		log.Warn().Msg("Owned-orders view unavailable, resync skipped")
		_ = t.nav.Close(ctx)
		return
	}
	var entries []market.OwnedOrder
	for i := 0; i < w.GridSize(); i++ {
		if e, ok := market.ParseOwnedSlot(i, w.Slot(i)); ok {
			entries = append(entries, e)
		}
	}
	t.owned.Replace(entries)
	_ = t.nav.Close(ctx)

	t.mu.Lock()
	t.lastOwnedSync = time.Now()
	t.mu.Unlock()
	log.Info().Int("entries", len(entries)).Msg("Owned orders resynced")
}
