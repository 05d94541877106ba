package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-chat-client/internal/observability"
)

const (
	DefaultReconnectAttempts = 5
	DefaultReconnectDelay    = time.Second
	DefaultHeartbeatInterval = 30 * time.Second

	writeTimeout     = 10 * time.Second
	handshakeTimeout = 10 * time.Second
)

var (
	// ErrNotConnected is returned by Emit when the command was dropped.
	ErrNotConnected = errors.New("realtime transport not connected")
	// ErrMissingToken indicates Connect was called without an access token.
	ErrMissingToken = errors.New("realtime transport requires an access token")
	// ErrMissingUser indicates Connect was called without a local user id.
	ErrMissingUser = errors.New("realtime transport requires a user id")
)

// Options configures a realtime Client.
type Options struct {
	URL               string
	Token             string
	UserID            string
	ReconnectAttempts int
	ReconnectDelay    time.Duration
	HeartbeatInterval time.Duration
	Clock             clock.Clock
	Dialer            *websocket.Dialer
}

// Handler receives typed events.
type Handler func(Event)

// ListenerID identifies a registered handler for Off.
type ListenerID uint64

type listener struct {
	id      ListenerID
	handler Handler
}

type inboundFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type outboundFrame struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Client is the realtime transport to chat-api. Frames are JSON objects of the
// form {"event": name, "data": payload}.
type Client struct {
	opts   Options
	clock  clock.Clock
	dialer *websocket.Dialer
	logger zerolog.Logger

	mu            sync.Mutex
	conn          *websocket.Conn
	stopHeartbeat chan struct{}
	cancel        context.CancelFunc

	writeMu sync.Mutex

	listenersMu sync.RWMutex
	listeners   map[string][]listener
	nextID      atomic.Uint64
}

// NewClient builds a client; nothing is dialled until Connect.
func NewClient(opts Options, logger zerolog.Logger) *Client {
	if opts.ReconnectAttempts <= 0 {
		opts.ReconnectAttempts = DefaultReconnectAttempts
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = DefaultReconnectDelay
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = DefaultHeartbeatInterval
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.New()
	}
	dialer := opts.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
		}
	}

	return &Client{
		opts:      opts,
		clock:     clk,
		dialer:    dialer,
		logger:    logger.With().Str("component", "realtime_client").Logger(),
		listeners: make(map[string][]listener),
	}
}

// Connected reports whether a connection is currently established.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// On registers a handler for the named event.
func (c *Client) On(name string, handler Handler) ListenerID {
	id := ListenerID(c.nextID.Add(1))
	c.listenersMu.Lock()
	c.listeners[name] = append(c.listeners[name], listener{id: id, handler: handler})
	c.listenersMu.Unlock()
	return id
}

// Off removes a handler previously registered with On.
func (c *Client) Off(name string, id ListenerID) {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()

	current := c.listeners[name]
	for i, l := range current {
		if l.id == id {
			c.listeners[name] = append(current[:i:i], current[i+1:]...)
			break
		}
	}
	if len(c.listeners[name]) == 0 {
		delete(c.listeners, name)
	}
}

// Connect dials chat-api. It is a no-op while already connected. When the
// first dial fails the error is returned and the bounded reconnect loop takes over.
func (c *Client) Connect(ctx context.Context) error {
	if strings.TrimSpace(c.opts.Token) == "" {
		return ErrMissingToken
	}
	if strings.TrimSpace(c.opts.UserID) == "" {
		return ErrMissingUser
	}

	c.mu.Lock()
	if c.conn != nil {
		c.mu.Unlock()
		return nil
	}
	if c.cancel != nil {
		c.cancel()
	}
	lifecycle, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.mu.Unlock()

	conn, err := c.dial(ctx)
	if err != nil {
		if ctx.Err() == nil {
			c.logger.Warn().Err(err).Msg("initial connection failed, retrying")
			go c.reconnect(lifecycle)
		}
		return fmt.Errorf("connect realtime transport: %w", err)
	}
	if !c.attach(lifecycle, conn) {
		_ = conn.Close()
		return ErrNotConnected
	}

	c.logger.Info().Str("user_id", c.opts.UserID).Msg("realtime transport connected")
	c.dispatch(Connected{})
	return nil
}

// Disconnect closes the connection and stops reconnection. Safe to call repeatedly.
func (c *Client) Disconnect() {
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	conn := c.conn
	if conn != nil {
		c.detachLocked()
	}
	c.mu.Unlock()

	if conn == nil {
		return
	}

	deadline := time.Now().Add(time.Second)
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client disconnect"), deadline)
	_ = conn.Close()

	c.logger.Info().Msg("realtime transport disconnected")
	c.dispatch(Disconnected{Reason: "client disconnect"})
}

// Emit writes a command. While disconnected the command is dropped, logged and
// ErrNotConnected returned; nothing is queued.
func (c *Client) Emit(cmd Command) error {
	name := cmd.CommandName()

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		observability.RealtimeDropped().WithLabelValues(name).Inc()
		c.logger.Warn().Str("command", name).Msg("dropping command while disconnected")
		return ErrNotConnected
	}

	payload, err := json.Marshal(outboundFrame{Event: name, Data: cmd})
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		c.logger.Warn().Err(err).Str("command", name).Msg("failed to write command")
		return fmt.Errorf("emit %s: %w", name, err)
	}

	observability.RealtimeCommands().WithLabelValues(name).Inc()
	return nil
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	target, err := url.Parse(c.opts.URL)
	if err != nil {
		return nil, fmt.Errorf("parse socket url: %w", err)
	}
	switch target.Scheme {
	case "http":
		target.Scheme = "ws"
	case "https":
		target.Scheme = "wss"
	}
	query := target.Query()
	query.Set("userId", c.opts.UserID)
	target.RawQuery = query.Encode()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.opts.Token)

	conn, _, err := c.dialer.DialContext(ctx, target.String(), header)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// attach installs conn as the live connection unless the lifecycle has ended.
func (c *Client) attach(lifecycle context.Context, conn *websocket.Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if lifecycle.Err() != nil || c.conn != nil {
		return false
	}

	stop := make(chan struct{})
	c.conn = conn
	c.stopHeartbeat = stop
	observability.RealtimeConnected().Set(1)

	go c.heartbeat(stop)
	go c.readLoop(lifecycle, conn)
	return true
}

func (c *Client) detachLocked() {
	c.conn = nil
	if c.stopHeartbeat != nil {
		close(c.stopHeartbeat)
		c.stopHeartbeat = nil
	}
	observability.RealtimeConnected().Set(0)
}

func (c *Client) readLoop(lifecycle context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.connectionLost(lifecycle, conn, err)
			return
		}
		c.handleFrame(data)
	}
}

func (c *Client) connectionLost(lifecycle context.Context, conn *websocket.Conn, cause error) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.detachLocked()
	c.mu.Unlock()

	_ = conn.Close()
	c.logger.Warn().Err(cause).Msg("realtime connection lost")
	c.dispatch(Disconnected{Reason: cause.Error()})

	if lifecycle.Err() == nil {
		c.reconnect(lifecycle)
	}
}

func (c *Client) reconnect(lifecycle context.Context) {
	for attempt := 1; attempt <= c.opts.ReconnectAttempts; attempt++ {
		select {
		case <-lifecycle.Done():
			return
		case <-c.clock.After(c.opts.ReconnectDelay):
		}

		conn, err := c.dial(lifecycle)
		if err != nil {
			if lifecycle.Err() != nil {
				return
			}
			observability.RealtimeReconnects().WithLabelValues("error").Inc()
			c.logger.Warn().Err(err).Int("attempt", attempt).Msg("reconnection attempt failed")
			c.dispatch(ReconnectError{Attempt: attempt, Err: err.Error()})
			continue
		}

		if !c.attach(lifecycle, conn) {
			_ = conn.Close()
			return
		}

		observability.RealtimeReconnects().WithLabelValues("success").Inc()
		c.logger.Info().Int("attempt", attempt).Msg("realtime transport reconnected")
		c.dispatch(Reconnected{Attempt: attempt})
		_ = c.Emit(PresenceOnline{UserID: c.opts.UserID})
		return
	}

	observability.RealtimeReconnects().WithLabelValues("exhausted").Inc()
	c.logger.Error().Int("attempts", c.opts.ReconnectAttempts).Msg("reconnection attempts exhausted")
	c.dispatch(ReconnectFailed{Attempts: c.opts.ReconnectAttempts})
}

func (c *Client) heartbeat(stop <-chan struct{}) {
	ticker := c.clock.Ticker(c.opts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			_ = c.Emit(Heartbeat{UserID: c.opts.UserID})
		}
	}
}

func (c *Client) handleFrame(data []byte) {
	var frame inboundFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		c.logger.Warn().Err(err).Msg("discarding malformed frame")
		return
	}

	event, err := DecodeEvent(frame.Event, frame.Data)
	if err != nil {
		c.logger.Warn().Err(err).Str("event", frame.Event).Msg("discarding inbound event")
		return
	}

	observability.RealtimeEvents().WithLabelValues(frame.Event).Inc()
	c.dispatch(event)
}

func (c *Client) dispatch(event Event) {
	c.listenersMu.RLock()
	registered := append([]listener(nil), c.listeners[event.Name()]...)
	c.listenersMu.RUnlock()

	for _, l := range registered {
		l.handler(event)
	}
}
