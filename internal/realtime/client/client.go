// Package client implements the driver/viewer side of the realtime
// protocol: a websocket client that authenticates, subscribes, pushes
// location reports, and survives connection loss with exponential-backoff
// reconnection and subscription replay.
//
// The reconnect logic is an explicit state machine rather than nested
// timer callbacks, so backoff and cancellation are testable in isolation.
package client

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"transit-fleet/internal/general/logger"
	"transit-fleet/internal/realtime/codec"
)

// State of the connection state machine.
type State string

const (
	StateDisconnected       State = "disconnected"
	StateConnecting         State = "connecting"
	StateConnected          State = "connected"
	StateReconnectScheduled State = "reconnect-scheduled"
)

// ErrNormalClosure is returned by Conn implementations when the peer
// closed the connection cleanly; it suppresses reconnection.
var ErrNormalClosure = errors.New("normal closure")

var ErrClientClosed = errors.New("client is closed")

// Conn is one live transport connection.
type Conn interface {
	// ReadMessage blocks for the next text frame.
	ReadMessage() ([]byte, error)
	// WriteMessage writes one text frame.
	WriteMessage(payload []byte) error
	// Close tears the transport down without a close handshake.
	Close() error
	// CloseNormal performs a clean close handshake (normal closure).
	CloseNormal() error
}

// DialFunc opens a new transport connection.
type DialFunc func(ctx context.Context, url string) (Conn, error)

// Config tunes the client.
type Config struct {
	URL         string
	BackoffBase time.Duration // first reconnect delay; doubles per failure
	BackoffMax  time.Duration // cap on the reconnect delay
	Dial        DialFunc      // nil: gorilla dialer
	OnMessage   func([]byte)  // inbound frames; called from the read loop
	OnState     func(State)   // state transitions; called outside locks
	Logger      *logger.Logger
}

// Client is safe for concurrent use.
type Client struct {
	cfg    Config
	logger *logger.Logger

	mu      sync.Mutex
	state   State
	conn    Conn
	gen     int // connection generation; stale read loops are ignored
	auth    *codec.Auth
	subs    []string // retained subscriptions, original subscribe order
	backoff time.Duration
	timer   *time.Timer // pending reconnect attempt
	closed  bool
	ctx     context.Context
}

func New(cfg Config) *Client {
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = time.Second
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = 30 * time.Second
	}
	if cfg.Dial == nil {
		cfg.Dial = gorillaDial
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.New("realtime-client")
	}
	return &Client{
		cfg:     cfg,
		logger:  cfg.Logger,
		state:   StateDisconnected,
		backoff: cfg.BackoffBase,
	}
}

// State returns the current state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect performs the initial dial. On failure the reconnect loop takes
// over; the error is informational.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClientClosed
	}
	c.ctx = ctx
	c.mu.Unlock()

	return c.attempt()
}

// Close cleanly terminates the client. This is the only transition that
// suppresses the reconnect loop.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	conn := c.conn
	c.conn = nil
	c.gen++
	c.mu.Unlock()

	c.setState(StateDisconnected)
	if conn != nil {
		return conn.CloseNormal()
	}
	return nil
}

// Authenticate sends an auth envelope and retains it for replay after a
// reconnect.
func (c *Client) Authenticate(userID int64, role, token string) error {
	msg := codec.Auth{UserID: userID, Role: role, Token: token}
	c.mu.Lock()
	c.auth = &msg
	c.mu.Unlock()
	return c.send(msg)
}

// Subscribe adds the channel to the retained set (preserving original
// subscribe order) and tells the server.
func (c *Client) Subscribe(channel string) error {
	c.mu.Lock()
	if !containsString(c.subs, channel) {
		c.subs = append(c.subs, channel)
	}
	c.mu.Unlock()
	return c.send(codec.Subscribe{Channel: channel})
}

// Unsubscribe removes the channel from the retained set and tells the
// server.
func (c *Client) Unsubscribe(channel string) error {
	c.mu.Lock()
	for i, ch := range c.subs {
		if ch == channel {
			c.subs = append(c.subs[:i], c.subs[i+1:]...)
			break
		}
	}
	c.mu.Unlock()
	return c.send(codec.Unsubscribe{Channel: channel})
}

// SendLocation pushes one location report.
func (c *Client) SendLocation(report codec.LocationReport) error {
	return c.send(report)
}

// Subscriptions returns the retained channels in original subscribe order.
func (c *Client) Subscriptions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.subs))
	copy(out, c.subs)
	return out
}

// ----- internals -----

// send writes an encoded envelope to the live connection, if any. While
// disconnected the state mutation alone is retained for replay.
func (c *Client) send(msg codec.Message) error {
	payload, err := codec.Encode(msg)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClientClosed
	}
	if c.conn == nil || c.state != StateConnected {
		return nil // will be replayed (auth/subscribe) once reconnected
	}
	return c.conn.WriteMessage(payload)
}

// attempt dials once; on success it replays auth and subscriptions before
// any new traffic, on failure it schedules the next attempt.
func (c *Client) attempt() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClientClosed
	}
	ctx := c.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	c.mu.Unlock()

	c.setState(StateConnecting)

	conn, err := c.cfg.Dial(ctx, c.cfg.URL)
	if err != nil {
		c.logger.Error(ctx, "ws_dial_failed", "Failed to dial realtime endpoint", err,
			map[string]any{"url": c.cfg.URL})
		c.scheduleReconnect()
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = conn.Close()
		return ErrClientClosed
	}
	c.conn = conn
	c.gen++
	gen := c.gen
	c.backoff = c.cfg.BackoffBase // reset on successful connect

	// Replay auth first, then every retained subscription in original
	// order, before the caller can interleave new traffic.
	var replay [][]byte
	if c.auth != nil {
		if b, err := codec.Encode(*c.auth); err == nil {
			replay = append(replay, b)
		}
	}
	for _, ch := range c.subs {
		if b, err := codec.Encode(codec.Subscribe{Channel: ch}); err == nil {
			replay = append(replay, b)
		}
	}
	for _, frame := range replay {
		if err := conn.WriteMessage(frame); err != nil {
			c.mu.Unlock()
			c.disconnected(gen, err)
			return err
		}
	}
	c.state = StateConnected
	c.mu.Unlock()

	c.notify(StateConnected)
	c.logger.Info(ctx, "ws_connected", "Realtime connection established",
		map[string]any{"url": c.cfg.URL, "replayed_frames": len(replay)})

	go c.readLoop(conn, gen)
	return nil
}

// readLoop pumps inbound frames until the connection dies.
func (c *Client) readLoop(conn Conn, gen int) {
	for {
		payload, err := conn.ReadMessage()
		if err != nil {
			c.disconnected(gen, err)
			return
		}
		if c.cfg.OnMessage != nil {
			c.cfg.OnMessage(payload)
		}
	}
}

// disconnected handles a dead connection: clean closes stay down, anything
// else schedules a reconnect.
func (c *Client) disconnected(gen int, cause error) {
	c.mu.Lock()
	if c.closed || gen != c.gen {
		c.mu.Unlock()
		return // intentional close or an already-superseded connection
	}
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.mu.Unlock()

	if errors.Is(cause, ErrNormalClosure) || websocket.IsCloseError(cause, websocket.CloseNormalClosure) {
		c.setState(StateDisconnected)
		return
	}

	c.logger.Info(context.Background(), "ws_connection_lost", "Realtime connection lost; scheduling reconnect",
		map[string]any{"error": cause.Error()})
	c.scheduleReconnect()
}

// scheduleReconnect arms the backoff timer, doubling the delay up to the
// cap.
func (c *Client) scheduleReconnect() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	delay := c.backoff
	c.backoff *= 2
	if c.backoff > c.cfg.BackoffMax {
		c.backoff = c.cfg.BackoffMax
	}
	c.state = StateReconnectScheduled
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = time.AfterFunc(delay, func() { _ = c.attempt() })
	c.mu.Unlock()

	c.notify(StateReconnectScheduled)
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
	c.notify(s)
}

func (c *Client) notify(s State) {
	if c.cfg.OnState != nil {
		c.cfg.OnState(s)
	}
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
