package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/darkden-lab/herald/internal/auth"
)

// State is a Connection's lifecycle state. Transitions only move forward:
// OPEN -> CLOSING -> CLOSED.
type State int32

const (
	StateOpen State = iota
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "OPEN"
	case StateClosing:
		return "CLOSING"
	case StateClosed:
		return "CLOSED"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Options tunes per-connection buffering and heartbeat timings.
type Options struct {
	// SendBuffer is the number of messages that may be queued for the writer.
	SendBuffer int
	// WriteWait is the maximum time allowed to write a message to the peer.
	WriteWait time.Duration
	// PongWait is the maximum time to wait for a pong reply from the peer.
	PongWait time.Duration
	// PingPeriod must be less than PongWait.
	PingPeriod time.Duration
	// MaxMessageSize is the maximum inbound message size in bytes.
	MaxMessageSize int64
}

// DefaultOptions returns the production timings.
func DefaultOptions() Options {
	return Options{
		SendBuffer:     64,
		WriteWait:      10 * time.Second,
		PongWait:       60 * time.Second,
		PingPeriod:     54 * time.Second,
		MaxMessageSize: 4096,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.SendBuffer <= 0 {
		o.SendBuffer = d.SendBuffer
	}
	if o.WriteWait <= 0 {
		o.WriteWait = d.WriteWait
	}
	if o.PongWait <= 0 {
		o.PongWait = d.PongWait
	}
	if o.PingPeriod <= 0 || o.PingPeriod >= o.PongWait {
		o.PingPeriod = (o.PongWait * 9) / 10
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = d.MaxMessageSize
	}
	return o
}

// transport is the part of *websocket.Conn a Connection drives.
type transport interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

// inboundMessage is the envelope clients may send. Only "ping" is acted on.
type inboundMessage struct {
	Type string `json:"type"`
}

var pongPayload = []byte(`{"type":"pong"}`)

// Connection is one authenticated notification channel. The writer goroutine
// is the only code that writes data frames to the socket; everyone else goes
// through Deliver.
type Connection struct {
	ID        string
	Identity  auth.Identity
	CreatedAt time.Time

	conn  transport
	opts  Options
	state atomic.Int32

	send     chan []byte
	done     chan struct{}
	pumpDone chan struct{}

	// Written once by the Close call that wins the OPEN->CLOSING transition,
	// read by the writer after done is closed.
	closeCode   int
	closeReason string

	// writeFailures is attached by Registry.Insert and counts queued
	// messages the writer could not send.
	writeFailures atomic.Pointer[atomic.Uint64]

	onClose func(*Connection)
	log     zerolog.Logger
}

func newConnection(conn transport, identity auth.Identity, opts Options, onClose func(*Connection), log zerolog.Logger) *Connection {
	opts = opts.withDefaults()
	id := uuid.NewString()
	return &Connection{
		ID:        id,
		Identity:  identity,
		CreatedAt: time.Now(),
		conn:      conn,
		opts:      opts,
		send:      make(chan []byte, opts.SendBuffer),
		done:      make(chan struct{}),
		pumpDone:  make(chan struct{}),
		onClose:   onClose,
		log: log.With().
			Str("conn", id).
			Str("user", identity.UserID).
			Logger(),
	}
}

// State reports the current lifecycle state.
func (c *Connection) State() State {
	return State(c.state.Load())
}

// Deliver queues msg for the writer. It blocks while the queue is full, until
// ctx is done or the connection starts closing. It never writes to the socket
// itself.
func (c *Connection) Deliver(ctx context.Context, msg []byte) error {
	if c.State() != StateOpen {
		return ErrConnectionClosed
	}
	select {
	case c.send <- msg:
		return nil
	case <-c.done:
		return ErrConnectionClosed
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrDeliveryTimeout, ctx.Err())
	}
}

// Close starts teardown: the connection moves to CLOSING, stops accepting
// deliveries and is removed from the registry before Close returns. The
// writer then sends a close frame with code and reason. Only the first call
// has any effect; it reports whether this call performed the transition.
func (c *Connection) Close(code int, reason string) bool {
	if !c.state.CompareAndSwap(int32(StateOpen), int32(StateClosing)) {
		return false
	}
	c.closeCode = code
	c.closeReason = reason
	close(c.done)

	if c.onClose != nil {
		c.onClose(c)
	}
	c.log.Debug().Int("code", code).Str("reason", reason).Msg("connection closing")
	return true
}

// start launches the writer goroutine.
func (c *Connection) start() {
	go c.writePump()
}

// finish completes teardown from the owning handler: it makes sure Close has
// run, waits for the writer to flush the close frame and release the socket,
// then marks the connection CLOSED.
func (c *Connection) finish() {
	c.Close(websocket.CloseNormalClosure, "")
	<-c.pumpDone
	c.state.Store(int32(StateClosed))
}

// writePump drains the send queue to the socket and keeps the peer alive with
// pings. A write failure tears the connection down.
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.opts.PingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close() //nolint:errcheck
		close(c.pumpDone)
	}()

	for {
		select {
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait)) //nolint:errcheck
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				if n := c.writeFailures.Load(); n != nil {
					n.Add(1)
				}
				c.fail(fmt.Errorf("%w: %w", ErrTransport, err))
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait)) //nolint:errcheck
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.fail(fmt.Errorf("%w: ping: %w", ErrTransport, err))
				return
			}

		case <-c.done:
			frame := websocket.FormatCloseMessage(c.closeCode, c.closeReason)
			c.conn.WriteControl(websocket.CloseMessage, frame, time.Now().Add(c.opts.WriteWait)) //nolint:errcheck
			return
		}
	}
}

func (c *Connection) fail(err error) {
	if c.Close(websocket.CloseInternalServerErr, "write failed") {
		c.log.Warn().Err(err).Msg("connection write failed")
	}
}

// readPump blocks reading client frames until the peer goes away or the
// socket fails. It returns the error that ended the loop.
func (c *Connection) readPump() error {
	c.conn.SetReadLimit(c.opts.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait)) //nolint:errcheck
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return err
		}
		if err := c.handleInbound(data); err != nil {
			c.log.Warn().Err(err).Msg("dropping inbound message")
		}
	}
}

func (c *Connection) handleInbound(data []byte) error {
	var msg inboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedMessage, err)
	}

	switch msg.Type {
	case "ping":
		ctx, cancel := context.WithTimeout(context.Background(), c.opts.WriteWait)
		defer cancel()
		if err := c.Deliver(ctx, pongPayload); err != nil {
			c.log.Debug().Err(err).Msg("pong not queued")
		}
	case "":
		return fmt.Errorf("%w: missing type", ErrMalformedMessage)
	default:
		c.log.Debug().Str("type", msg.Type).Msg("ignoring inbound message")
	}
	return nil
}
