package session

import (
	"context"
	"errors"
	"time"
)

// Session failure taxonomy. All of these abort only the current task; the
// process never exits on them.
var (
	ErrOpenTimeout    = errors.New("session: container did not open in time")
	ErrStallTimeout   = errors.New("session: container content did not change in time")
	ErrClickFailed    = errors.New("session: click rejected")
	ErrConfirmTimeout = errors.New("session: confirmation window did not appear")
	ErrNotOpen        = errors.New("session: no container open")
	ErrDisconnected   = errors.New("session: gateway disconnected")
)

// Item is the visible payload of a container slot.
type Item struct {
	Name        string   `json:"name"`
	DisplayName string   `json:"displayName"`
	Count       int      `json:"count"`
	Tooltip     []string `json:"tooltip"`
}

// Label returns the display name when present, else the internal name.
func (it *Item) Label() string {
	if it == nil {
		return ""
	}
	if it.DisplayName != "" {
		return it.DisplayName
	}
	return it.Name
}

// Container is one remote-rendered grid of item slots. Slots is
// index-addressed; a nil entry is an empty slot. Containers are value
// snapshots of gateway state: once handed out they are never mutated, so a
// stale handle compares unequal to the current one by ID and revision.
type Container struct {
	ID       int     `json:"id"`
	Type     string  `json:"type"`
	Revision int     `json:"revision"`
	Slots    []*Item `json:"slots"`
}

// Slot returns the item at index i, or nil when empty or out of range.
func (c *Container) Slot(i int) *Item {
	if c == nil || i < 0 || i >= len(c.Slots) {
		return nil
	}
	return c.Slots[i]
}

// GridSize caps the addressable container area at the standard 54-slot grid;
// anything past that is the player inventory mirror.
func (c *Container) GridSize() int {
	if c == nil {
		return 0
	}
	if len(c.Slots) > 54 {
		return 54
	}
	return len(c.Slots)
}

// Conn is the boundary to the external session collaborator. Implementations
// must be safe for use from a single task goroutine plus the gateway's own
// reader.
type Conn interface {
	// SendCommand issues a chat command on the session.
	SendCommand(ctx context.Context, text string) error
	// ClickSlot clicks slot index with the given button and click mode.
	ClickSlot(ctx context.Context, slot, button, mode int) error
	// Current returns the currently open container, or nil.
	Current() *Container
	// AwaitOpen blocks until a container opens or the timeout fires
	// (ErrOpenTimeout). The returned handle is a snapshot.
	AwaitOpen(ctx context.Context, timeout time.Duration) (*Container, error)
	// CloseContainer closes the open container, if any.
	CloseContainer(ctx context.Context) error
}
