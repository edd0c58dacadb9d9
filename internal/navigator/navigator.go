package navigator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/akagifreeez/donut-orders/internal/session"
)

// Navigator drives one container interaction at a time: open, paginate,
// adjust sort, close. Container handles are threaded explicitly through every
// call so staleness is visible in the types; nothing here reads ambient
// "current window" state except to detect content changes.
type Navigator struct {
	conn session.Conn
	poll time.Duration
}

// New returns a navigator over conn.
func New(conn session.Conn) *Navigator {
	return &Navigator{conn: conn, poll: 200 * time.Millisecond}
}

// SetPollInterval overrides the content-change poll interval.
func (n *Navigator) SetPollInterval(d time.Duration) { n.poll = d }

// Conn exposes the underlying session connection.
func (n *Navigator) Conn() session.Conn { return n.conn }

// Fingerprint derives a stable signature of a container's visible content,
// used to detect page transitions.
func Fingerprint(c *session.Container) string {
	if c == nil {
		return ""
	}
	limit := c.GridSize()
	parts := make([]string, 0, limit)
	for i := 0; i < limit; i++ {
		it := c.Slot(i)
		if it == nil {
			parts = append(parts, "empty")
			continue
		}
		parts = append(parts, fmt.Sprintf("%s:%d:%s", it.Name, it.Count, it.Label()))
	}
	return strings.Join(parts, "|")
}

// Open sends command and waits for a container to appear. A timeout is a
// retryable failure (session.ErrOpenTimeout), never fatal.
func (n *Navigator) Open(ctx context.Context, command string, timeout time.Duration) (*session.Container, error) {
	if err := n.conn.SendCommand(ctx, command); err != nil {
		return nil, err
	}
	c, err := n.conn.AwaitOpen(ctx, timeout)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Close closes whatever container is open.
func (n *Navigator) Close(ctx context.Context) error {
	return n.conn.CloseContainer(ctx)
}

// HasNextControl reports whether the container carries a next-page control.
func (n *Navigator) HasNextControl(c *session.Container) bool {
	return IsNextArrow(c.Slot(NextControlSlot))
}

// PageOpts bounds a page advance.
type PageOpts struct {
	// ChangeTimeout bounds one click/verify cycle.
	ChangeTimeout time.Duration
	// StallTimeout bounds the total retry budget. Zero means a single cycle.
	StallTimeout time.Duration
	// Running is the cooperative cancel flag, checked at every retry
	// boundary. Nil means always running.
	Running func() bool
}

func (o PageOpts) running() bool {
	return o.Running == nil || o.Running()
}

// NextPage advances to the following page. It returns (nil, nil) when the
// container has no next control or the control vanished mid-advance (terminal,
// not an error), the new container on success, or an error: ErrStallTimeout
// when content never changed within the budget, ErrClickFailed when the click
// primitive rejected, or ctx's error on cancellation.
func (n *Navigator) NextPage(ctx context.Context, cur *session.Container, opts PageOpts) (*session.Container, error) {
	if !n.HasNextControl(cur) {
		return nil, nil
	}

	deadline := time.Now().Add(opts.StallTimeout)
	for {
		if !opts.running() {
			return nil, session.ErrStallTimeout
		}
		prev := Fingerprint(n.currentOr(cur))
		if err := n.conn.ClickSlot(ctx, NextControlSlot, 0, 0); err != nil {
			return nil, err
		}
		next, changed := n.waitForChange(ctx, prev, opts.ChangeTimeout)
		if changed {
			return next, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		// Re-check the control: the page may have flipped faster than the
		// fingerprint comparison could observe.
		latest := n.currentOr(cur)
		if !n.HasNextControl(latest) {
			return nil, nil
		}
		if opts.StallTimeout <= 0 || time.Now().After(deadline) {
			return nil, session.ErrStallTimeout
		}
		log.Debug().Msg("Page did not change after click, retrying")
	}
}

// ClickAndWait clicks one slot and waits for the container content to react.
// It returns the refreshed container and whether the content changed; an
// unchanged container after the timeout is not an error, callers decide.
func (n *Navigator) ClickAndWait(ctx context.Context, cur *session.Container, slot, button, mode int, timeout time.Duration) (*session.Container, bool, error) {
	prev := Fingerprint(n.currentOr(cur))
	if err := n.conn.ClickSlot(ctx, slot, button, mode); err != nil {
		return cur, false, err
	}
	if next, changed := n.waitForChange(ctx, prev, timeout); changed {
		return next, true, nil
	}
	return n.currentOr(cur), false, nil
}

func (n *Navigator) currentOr(fallback *session.Container) *session.Container {
	if c := n.conn.Current(); c != nil {
		return c
	}
	return fallback
}

// waitForChange polls the connection's current container until its
// fingerprint differs from prev or the timeout fires.
func (n *Navigator) waitForChange(ctx context.Context, prev string, timeout time.Duration) (*session.Container, bool) {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(n.poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, false
		case <-ticker.C:
			c := n.conn.Current()
			sig := Fingerprint(c)
			if sig != "" && sig != prev {
				return c, true
			}
			if time.Now().After(deadline) {
				return nil, false
			}
		}
	}
}
