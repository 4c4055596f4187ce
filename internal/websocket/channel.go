package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	ws "github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

type ConnState string

const (
	StateConnecting   ConnState = "connecting"
	StateConnected    ConnState = "connected"
	StateReconnecting ConnState = "reconnecting"
	StateDisconnected ConnState = "disconnected"
)

var (
	ErrNotConnected        = errors.New("channel not connected")
	ErrReconnectsExhausted = errors.New("reconnect attempts exhausted")
	ErrInvokeTimeout       = errors.New("invocation timed out")
	ErrSendBufferFull      = errors.New("send buffer full")
)

// StateObserver receives every connection state change. The error is non-nil
// only for terminal disconnects caused by a failure.
type StateObserver func(state ConnState, err error)

type EventHandler func(msg *Message)

// Options configure the channel's timeouts and reconnection policy.
type Options struct {
	HandshakeTimeout time.Duration
	WriteWait        time.Duration
	PongWait         time.Duration
	PingPeriod       time.Duration
	InvokeTimeout    time.Duration
	MaxReconnects    int
	ReconnectBase    time.Duration
}

// Channel is the persistent client connection to the backend push hub. It
// dispatches named inbound events to subscribers, supports outbound
// invocations with correlated replies, and reconnects with a bounded number
// of linearly backed-off attempts after an unexpected drop.
type Channel struct {
	url    string
	opts   Options
	dialer *ws.Dialer
	logger zerolog.Logger

	mu           sync.Mutex
	conn         *ws.Conn
	send         chan []byte
	done         chan struct{}
	quit         chan struct{}
	connectionID string
	state        ConnState
	closing      bool
	deviceName   string
	token        string

	handlersMu  sync.RWMutex
	handlers    map[MessageType][]EventHandler
	observer    StateObserver
	onConnected func(connectionID string)

	pendingMu sync.Mutex
	pending   map[string]chan *InvokeResultPayload
}

func NewChannel(hubURL string, opts Options, logger zerolog.Logger) *Channel {
	return &Channel{
		url:      hubURL,
		opts:     opts,
		dialer:   &ws.Dialer{HandshakeTimeout: opts.HandshakeTimeout},
		logger:   logger.With().Str("component", "channel").Logger(),
		state:    StateDisconnected,
		handlers: make(map[MessageType][]EventHandler),
		pending:  make(map[string]chan *InvokeResultPayload),
	}
}

// SetDeviceName sets the device name sent as a dial parameter. Must be set
// before Connect.
func (c *Channel) SetDeviceName(name string) {
	c.mu.Lock()
	c.deviceName = name
	c.mu.Unlock()
}

// SetToken sets the bearer token attached to the dial query.
func (c *Channel) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// Subscribe registers a handler for a named inbound event. Handlers run on
// the read loop, one at a time, in arrival order.
func (c *Channel) Subscribe(msgType MessageType, handler EventHandler) {
	c.handlersMu.Lock()
	c.handlers[msgType] = append(c.handlers[msgType], handler)
	c.handlersMu.Unlock()
}

func (c *Channel) SetStateObserver(observer StateObserver) {
	c.handlersMu.Lock()
	c.observer = observer
	c.handlersMu.Unlock()
}

// SetConnectedHandler registers the callback fired with the connection id
// after every successful dial. The hub may repeat the notification for a
// single connection id; consumers must guard against duplicates.
func (c *Channel) SetConnectedHandler(handler func(connectionID string)) {
	c.handlersMu.Lock()
	c.onConnected = handler
	c.handlersMu.Unlock()
}

func (c *Channel) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Channel) ConnectionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectionID
}

// Connect dials the hub and starts the read/write pumps. No-op when already
// connected.
func (c *Channel) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateConnected {
		c.mu.Unlock()
		return nil
	}
	c.closing = false
	c.quit = make(chan struct{})
	c.mu.Unlock()

	c.setState(StateConnecting, nil)

	conn, connID, err := c.dial(ctx)
	if err != nil {
		c.setState(StateDisconnected, err)
		return fmt.Errorf("failed to connect channel: %w", err)
	}

	c.startSession(conn, connID)

	return nil
}

// Close tears the connection down without triggering reconnection. Safe to
// call when already disconnected.
func (c *Channel) Close() {
	c.mu.Lock()
	c.closing = true
	if c.quit != nil {
		select {
		case <-c.quit:
		default:
			close(c.quit)
		}
	}
	conn := c.conn
	c.conn = nil
	c.connectionID = ""
	alreadyDown := c.state == StateDisconnected
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	if !alreadyDown {
		c.setState(StateDisconnected, nil)
	}
}

// Invoke sends a named server invocation and waits for the correlated reply.
func (c *Channel) Invoke(ctx context.Context, method string, params interface{}) (*InvokeResultPayload, error) {
	var rawParams json.RawMessage
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("failed to encode invocation params: %w", err)
		}
		rawParams = data
	}

	msg, err := NewMessage(TypeInvoke, &InvokePayload{Method: method, Params: rawParams})
	if err != nil {
		return nil, fmt.Errorf("failed to build invocation: %w", err)
	}
	msg.ID = uuid.New().String()

	reply := make(chan *InvokeResultPayload, 1)
	c.pendingMu.Lock()
	c.pending[msg.ID] = reply
	c.pendingMu.Unlock()

	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, msg.ID)
		c.pendingMu.Unlock()
	}()

	if err := c.sendMessage(msg); err != nil {
		return nil, err
	}

	timer := time.NewTimer(c.opts.InvokeTimeout)
	defer timer.Stop()

	select {
	case result := <-reply:
		return result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, fmt.Errorf("%w: %s", ErrInvokeTimeout, method)
	}
}

func (c *Channel) dial(ctx context.Context) (*ws.Conn, string, error) {
	c.mu.Lock()
	deviceName := c.deviceName
	token := c.token
	c.mu.Unlock()

	u, err := url.Parse(c.url)
	if err != nil {
		return nil, "", fmt.Errorf("invalid hub url: %w", err)
	}

	q := u.Query()
	q.Set("device_name", deviceName)
	if token != "" {
		q.Set("token", token)
	}
	u.RawQuery = q.Encode()

	conn, _, err := c.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to dial hub: %w", err)
	}

	// The hub's first frame is the hello carrying our connection id.
	_ = conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))

	var hello Message
	if err := conn.ReadJSON(&hello); err != nil {
		_ = conn.Close()
		return nil, "", fmt.Errorf("failed to read hello frame: %w", err)
	}
	if hello.Type != TypeHello {
		_ = conn.Close()
		return nil, "", fmt.Errorf("unexpected first frame type %q", hello.Type)
	}

	var payload HelloPayload
	if err := hello.UnmarshalPayload(&payload); err != nil || payload.ConnectionID == "" {
		_ = conn.Close()
		return nil, "", errors.New("hello frame missing connection id")
	}

	return conn, payload.ConnectionID, nil
}

func (c *Channel) startSession(conn *ws.Conn, connID string) {
	c.mu.Lock()
	c.conn = conn
	c.connectionID = connID
	c.send = make(chan []byte, 256)
	c.done = make(chan struct{})
	send, done := c.send, c.done
	c.mu.Unlock()

	c.setState(StateConnected, nil)

	c.logger.Info().Str("connection_id", connID).Msg("channel connected")

	go c.writePump(conn, send, done)
	go c.readPump(conn, done)

	c.handlersMu.RLock()
	onConnected := c.onConnected
	c.handlersMu.RUnlock()

	if onConnected != nil {
		go onConnected(connID)
	}
}

func (c *Channel) readPump(conn *ws.Conn, done chan struct{}) {
	defer func() {
		close(done)
		_ = conn.Close()
	}()

	_ = conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ws.IsUnexpectedCloseError(err, ws.CloseGoingAway, ws.CloseNormalClosure) {
				c.logger.Warn().Err(err).Msg("channel read failed")
			}

			c.mu.Lock()
			closing := c.closing
			c.mu.Unlock()

			if closing {
				return
			}

			go c.reconnectLoop(err)

			return
		}

		_ = conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
		c.dispatch(raw)
	}
}

func (c *Channel) writePump(conn *ws.Conn, send chan []byte, done chan struct{}) {
	ticker := time.NewTicker(c.opts.PingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case message, ok := <-send:
			_ = conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			if !ok {
				_ = conn.WriteMessage(ws.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(ws.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			if err := conn.WriteMessage(ws.PingMessage, nil); err != nil {
				return
			}

		case <-done:
			return
		}
	}
}

func (c *Channel) dispatch(raw []byte) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		c.logger.Warn().Err(err).Msg("failed to decode inbound frame")
		return
	}

	switch msg.Type {
	case TypePing:
		if pong, err := NewMessage(TypePong, nil); err == nil {
			_ = c.sendMessage(pong)
		}
		return

	case TypeInvokeResult:
		c.pendingMu.Lock()
		reply, ok := c.pending[msg.ID]
		c.pendingMu.Unlock()
		if !ok {
			c.logger.Debug().Str("id", msg.ID).Msg("reply for unknown invocation")
			return
		}

		var result InvokeResultPayload
		if err := msg.UnmarshalPayload(&result); err != nil {
			result = InvokeResultPayload{Success: false, Error: "malformed invocation result"}
		}
		reply <- &result

		return
	}

	c.handlersMu.RLock()
	handlers := c.handlers[msg.Type]
	c.handlersMu.RUnlock()

	if len(handlers) == 0 {
		c.logger.Debug().Str("type", string(msg.Type)).Msg("unhandled event type")
		return
	}

	for _, handler := range handlers {
		handler(&msg)
	}
}

// reconnectLoop retries the dial a bounded number of times with linearly
// increasing delay: attempt N waits N x base. After exhaustion the channel
// goes terminally disconnected until Connect is called again.
func (c *Channel) reconnectLoop(cause error) {
	c.mu.Lock()
	quit := c.quit
	c.mu.Unlock()

	for attempt := 1; attempt <= c.opts.MaxReconnects; attempt++ {
		c.setState(StateReconnecting, nil)

		delay := time.Duration(attempt) * c.opts.ReconnectBase
		c.logger.Info().
			Int("attempt", attempt).
			Dur("delay", delay).
			Msg("reconnecting to hub")

		select {
		case <-time.After(delay):
		case <-quit:
			return
		}

		c.mu.Lock()
		if c.closing {
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), c.opts.HandshakeTimeout)
		conn, connID, err := c.dial(ctx)
		cancel()

		if err != nil {
			c.logger.Warn().Err(err).Int("attempt", attempt).Msg("reconnect attempt failed")
			continue
		}

		c.startSession(conn, connID)

		return
	}

	c.logger.Error().Err(cause).Msg("reconnect attempts exhausted")
	c.setState(StateDisconnected, ErrReconnectsExhausted)
}

func (c *Channel) sendMessage(msg *Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}

	c.mu.Lock()
	send := c.send
	connected := c.state == StateConnected
	c.mu.Unlock()

	if !connected || send == nil {
		return ErrNotConnected
	}

	select {
	case send <- data:
		return nil
	default:
		return ErrSendBufferFull
	}
}

func (c *Channel) setState(state ConnState, err error) {
	c.mu.Lock()
	c.state = state
	c.mu.Unlock()

	c.handlersMu.RLock()
	observer := c.observer
	c.handlersMu.RUnlock()

	if observer != nil {
		observer(state, err)
	}
}
