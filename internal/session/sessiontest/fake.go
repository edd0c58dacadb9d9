// Package sessiontest provides a scripted in-memory session.Conn for tests.
package sessiontest

import (
	"context"
	"sync"
	"time"

	"github.com/akagifreeez/donut-orders/internal/session"
)

// Click records one ClickSlot call.
type Click struct {
	Slot, Button, Mode int
}

// Fake is a scripted session connection. Tests queue containers to be
// delivered by AwaitOpen and install a ClickFunc to mutate state on clicks.
type Fake struct {
	mu        sync.Mutex
	current   *session.Container
	openQueue []*session.Container
	revision  int

	Commands []string
	Clicks   []Click
	Closed   int

	// ClickFunc, when set, runs on every ClickSlot call with the lock
	// released. Returning an error propagates to the caller.
	ClickFunc func(slot, button, mode int) error
	// CommandFunc, when set, runs on every SendCommand call.
	CommandFunc func(text string) error
	// CloseFunc, when set, runs after every CloseContainer call with the lock
	// released, letting tests script a follow-up window opened by the server.
	CloseFunc func()
}

// NewContainer builds a container with the given number of slots.
func NewContainer(id, size int) *session.Container {
	return &session.Container{ID: id, Type: "generic_9x6", Slots: make([]*session.Item, size)}
}

// QueueOpen schedules c to be returned by the next AwaitOpen call and become
// current.
func (f *Fake) QueueOpen(c *session.Container) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.openQueue = append(f.openQueue, c)
}

// SetCurrent swaps the current container, bumping its revision as the
// gateway would on a content update.
func (f *Fake) SetCurrent(c *session.Container) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setCurrentLocked(c)
}

func (f *Fake) setCurrentLocked(c *session.Container) {
	if c != nil {
		f.revision++
		c.Revision = f.revision
	}
	f.current = c
}

func (f *Fake) SendCommand(_ context.Context, text string) error {
	f.mu.Lock()
	f.Commands = append(f.Commands, text)
	fn := f.CommandFunc
	f.mu.Unlock()
	if fn != nil {
		return fn(text)
	}
	return nil
}

func (f *Fake) ClickSlot(_ context.Context, slot, button, mode int) error {
	f.mu.Lock()
	f.Clicks = append(f.Clicks, Click{slot, button, mode})
	fn := f.ClickFunc
	f.mu.Unlock()
	if fn != nil {
		return fn(slot, button, mode)
	}
	return nil
}

func (f *Fake) Current() *session.Container {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

// AwaitOpen pops the next queued container, or fails with ErrOpenTimeout
// immediately when nothing is scripted.
func (f *Fake) AwaitOpen(_ context.Context, _ time.Duration) (*session.Container, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.openQueue) == 0 {
		return nil, session.ErrOpenTimeout
	}
	c := f.openQueue[0]
	f.openQueue = f.openQueue[1:]
	f.setCurrentLocked(c)
	return c, nil
}

func (f *Fake) CloseContainer(context.Context) error {
	f.mu.Lock()
	f.Closed++
	f.current = nil
	fn := f.CloseFunc
	f.mu.Unlock()
	if fn != nil {
		fn()
	}
	return nil
}

var _ session.Conn = (*Fake)(nil)
