package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const (
	reconnectInterval = 10 * time.Second
	readLimit         = 1024 * 1024
	pongWait          = 60 * time.Second
	pingPeriod        = 50 * time.Second
)

// Gateway is the websocket client to the session bridge. Outgoing frames are
// commands and clicks; incoming frames are container open/update/close
// events. It reconnects forever until its context is cancelled.
type Gateway struct {
	url      string
	token    string
	limiter  *rate.Limiter
	mu       sync.Mutex
	conn     *websocket.Conn
	current  *Container
	revision int
	waiters  []chan *Container
}

type outFrame struct {
	Op     string `json:"op"`
	Text   string `json:"text,omitempty"`
	Slot   int    `json:"slot,omitempty"`
	Button int    `json:"button,omitempty"`
	Mode   int    `json:"mode,omitempty"`
	Window int    `json:"window,omitempty"`
	Token  string `json:"token,omitempty"`
}

type inFrame struct {
	Op     string     `json:"op"`
	Window *Container `json:"window,omitempty"`
	Error  string     `json:"error,omitempty"`
}

// NewGateway returns a gateway for url. commandsPerMin bounds the outgoing
// command/click rate.
func NewGateway(url, token string, commandsPerMin int) *Gateway {
	if commandsPerMin <= 0 {
		commandsPerMin = 60
	}
	return &Gateway{
		url:     url,
		token:   token,
		limiter: rate.NewLimiter(rate.Limit(float64(commandsPerMin)/60.0), 5),
	}
}

// Run maintains the connection until ctx is cancelled.
func (g *Gateway) Run(ctx context.Context) {
	for {
		if err := g.runOnce(ctx); err != nil {
			log.Error().Err(err).Msg("Gateway connection lost, reconnecting")
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectInterval):
		}
	}
}

func (g *Gateway) runOnce(ctx context.Context) error {
	log.Info().Str("url", g.url).Msg("Connecting to session gateway")

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, g.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	g.mu.Lock()
	g.conn = conn
	g.mu.Unlock()
	defer func() {
		g.mu.Lock()
		if g.conn != nil {
			g.conn.Close()
			g.conn = nil
		}
		g.current = nil
		g.mu.Unlock()
	}()

	conn.SetReadLimit(readLimit)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go g.pingLoop(ctx, conn)

	if g.token != "" {
		if err := g.writeFrame(outFrame{Op: "auth", Token: g.token}); err != nil {
			return fmt.Errorf("auth send: %w", err)
		}
	}

	log.Info().Msg("Session gateway connected")

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		var frame inFrame
		if err := conn.ReadJSON(&frame); err != nil {
			return fmt.Errorf("read: %w", err)
		}
		g.handleFrame(frame)
	}
}

func (g *Gateway) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.mu.Lock()
			same := g.conn == conn
			g.mu.Unlock()
			if !same {
				return
			}
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		}
	}
}

func (g *Gateway) handleFrame(frame inFrame) {
	switch frame.Op {
	case "window_open":
		if frame.Window == nil {
			return
		}
		g.mu.Lock()
		g.revision++
		frame.Window.Revision = g.revision
		g.current = frame.Window
		waiters := g.waiters
		g.waiters = nil
		g.mu.Unlock()
		for _, w := range waiters {
			w <- frame.Window
		}
		log.Debug().Int("window", frame.Window.ID).Int("slots", len(frame.Window.Slots)).Msg("Container opened")
	case "window_update":
		if frame.Window == nil {
			return
		}
		g.mu.Lock()
		g.revision++
		frame.Window.Revision = g.revision
		g.current = frame.Window
		g.mu.Unlock()
	case "window_close":
		g.mu.Lock()
		g.current = nil
		g.mu.Unlock()
		log.Debug().Msg("Container closed")
	case "error":
		log.Warn().Str("error", frame.Error).Msg("Gateway reported error")
	}
}

func (g *Gateway) writeFrame(frame outFrame) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.conn == nil {
		return ErrDisconnected
	}
	b, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	return g.conn.WriteMessage(websocket.TextMessage, b)
}

// SendCommand issues a chat command, honoring the outgoing rate limit.
func (g *Gateway) SendCommand(ctx context.Context, text string) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return err
	}
	log.Debug().Str("command", text).Msg("Sending command")
	return g.writeFrame(outFrame{Op: "chat", Text: text})
}

// ClickSlot clicks a slot in the open container.
func (g *Gateway) ClickSlot(ctx context.Context, slot, button, mode int) error {
	g.mu.Lock()
	open := g.current != nil
	var window int
	if open {
		window = g.current.ID
	}
	g.mu.Unlock()
	if !open {
		return ErrNotOpen
	}
	if err := g.limiter.Wait(ctx); err != nil {
		return err
	}
	if err := g.writeFrame(outFrame{Op: "click", Slot: slot, Button: button, Mode: mode, Window: window}); err != nil {
		return fmt.Errorf("%w: %v", ErrClickFailed, err)
	}
	return nil
}

// Current returns the open container snapshot, or nil.
func (g *Gateway) Current() *Container {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.current
}

// AwaitOpen blocks until the next container-open event, bounded by timeout.
func (g *Gateway) AwaitOpen(ctx context.Context, timeout time.Duration) (*Container, error) {
	ch := make(chan *Container, 1)
	g.mu.Lock()
	g.waiters = append(g.waiters, ch)
	g.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case c := <-ch:
		return c, nil
	case <-timer.C:
		g.dropWaiter(ch)
		return nil, ErrOpenTimeout
	case <-ctx.Done():
		g.dropWaiter(ch)
		return nil, ctx.Err()
	}
}

func (g *Gateway) dropWaiter(ch chan *Container) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i, w := range g.waiters {
		if w == ch {
			g.waiters = append(g.waiters[:i], g.waiters[i+1:]...)
			return
		}
	}
}

// CloseContainer closes the open container, if any.
func (g *Gateway) CloseContainer(ctx context.Context) error {
	g.mu.Lock()
	open := g.current != nil
	var window int
	if open {
		window = g.current.ID
	}
	g.current = nil
	g.mu.Unlock()
	if !open {
		return nil
	}
	return g.writeFrame(outFrame{Op: "close", Window: window})
}
