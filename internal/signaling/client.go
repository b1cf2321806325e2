package signaling

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/phudinh153/camcast/internal/dns"
	"github.com/phudinh153/camcast/internal/version"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	closeGrace     = 2 * time.Second
)

var (
	// ErrConnection reports that the relay could not be reached.
	ErrConnection = errors.New("signaling connection failed")

	// ErrConnectionLost reports that an established connection dropped.
	ErrConnectionLost = errors.New("signaling connection lost")

	// ErrClientClosed is returned after Close.
	ErrClientClosed = errors.New("signaling client closed")
)

// Client manages the WebSocket connection to the signaling relay. Inbound
// frames are decoded and handed to the registered handlers one at a time,
// in arrival order, on a single dispatch goroutine.
type Client struct {
	serverURL string
	codec     Codec
	logger    *slog.Logger
	resolver  *dns.Resolver

	conn     *websocket.Conn
	incoming chan *Message
	outgoing chan []byte
	closing  chan struct{}
	done     chan struct{}

	handlers *handlers

	closeOnce sync.Once
	mu        sync.Mutex
	err       error
	closed    bool
}

// Option configures a Client.
type Option func(*Client)

// WithCodec selects the wire codec. Defaults to JSON.
func WithCodec(codec Codec) Option {
	return func(c *Client) { c.codec = codec }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithResolver dials through r instead of the system resolver alone.
func WithResolver(r *dns.Resolver) Option {
	return func(c *Client) { c.resolver = r }
}

// NewClient creates a new signaling client
func NewClient(serverURL string, opts ...Option) *Client {
	c := &Client{
		serverURL: serverURL,
		codec:     JSON,
		logger:    slog.Default(),
		incoming:  make(chan *Message, 32),
		outgoing:  make(chan []byte, 64),
		closing:   make(chan struct{}),
		done:      make(chan struct{}),
		handlers:  newHandlers(),
	}
	for _, o := range opts {
		o(c)
	}
	c.logger = c.logger.With("component", "signaling")
	return c
}

// On registers fn for every inbound message named event.
func (c *Client) On(event string, fn Handler) {
	c.handlers.add(event, fn)
}

// OnConnect registers fn to run on the dispatch goroutine once the
// connection is up, before any inbound message is dispatched.
func (c *Client) OnConnect(fn func()) {
	c.handlers.addConnect(fn)
}

// Connect establishes WebSocket connection to the relay. A failure wraps
// ErrConnection.
func (c *Client) Connect(ctx context.Context) error {
	target, err := c.dialURL()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConnection, err)
	}

	dialer := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: 45 * time.Second,
	}
	if c.resolver != nil {
		dialer.NetDialContext = c.resolver.DialContext
	}

	header := http.Header{}
	header.Set("User-Agent", version.UserAgent())

	conn, _, err := dialer.DialContext(ctx, target, header)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConnection, err)
	}
	c.conn = conn

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	c.logger.Info("connected to signaling relay", "url", target, "codec", c.codec.Name())

	go c.readPump()
	go c.writePump()
	go c.dispatch()

	return nil
}

func (c *Client) dialURL() (string, error) {
	u, err := url.Parse(c.serverURL)
	if err != nil {
		return "", fmt.Errorf("invalid server URL: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return "", fmt.Errorf("invalid server URL scheme %q", u.Scheme)
	}
	if c.codec.Name() != JSON.Name() {
		q := u.Query()
		q.Set("codec", c.codec.Name())
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// readPump reads frames from the WebSocket connection.
func (c *Client) readPump() {
	defer close(c.incoming)

	c.conn.SetReadDeadline(time.Now().Add(pongWait))

	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			c.fail(err)
			return
		}

		msg, err := c.codec.Decode(frame)
		if err != nil {
			c.logger.Warn("dropping undecodable frame", "err", err)
			continue
		}
		c.incoming <- msg
	}
}

// writePump writes frames to the WebSocket connection and sends periodic pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame := <-c.outgoing:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(c.codec.FrameType(), frame); err != nil {
				c.fail(err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.fail(err)
				return
			}

		case <-c.closing:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case <-c.done:
			return
		}
	}
}

// dispatch runs connect hooks, then every inbound message, sequentially.
// When the read side ends it records the terminal error and closes done.
func (c *Client) dispatch() {
	defer close(c.done)

	c.handlers.connected()
	for msg := range c.incoming {
		c.handlers.dispatch(msg, c.logger)
	}
}

// fail records the first terminal error. A read error after Close is the
// expected shutdown path and reports ErrClientClosed instead.
func (c *Client) fail(cause error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return
	}
	if c.closed {
		c.err = ErrClientClosed
		return
	}
	c.err = fmt.Errorf("%w: %w", ErrConnectionLost, cause)
	c.logger.Error("signaling connection lost", "err", cause)
	// Unblock the reader if the writer failed first.
	c.conn.Close()
}

// Emit sends a named event. It never blocks once the connection is gone.
func (c *Client) Emit(event string, payload any) error {
	frame, err := c.codec.Encode(event, payload)
	if err != nil {
		return err
	}

	c.mu.Lock()
	closed, lost := c.closed, c.err
	c.mu.Unlock()
	if closed {
		return ErrClientClosed
	}
	if lost != nil {
		return lost
	}

	select {
	case c.outgoing <- frame:
		return nil
	case <-c.done:
		return c.Err()
	}
}

// Done is closed once the connection has ended and every inbound message
// has been dispatched.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err reports why the connection ended, or nil while it is up.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Wait blocks until the connection ends or ctx is done. Cancellation is not
// an error; connection loss is.
func (c *Client) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return nil
	case <-c.done:
		if err := c.Err(); !errors.Is(err, ErrClientClosed) {
			return err
		}
		return nil
	}
}

// Close closes the WebSocket connection and cleans up resources.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()

		if c.conn == nil {
			close(c.done)
			return
		}

		close(c.closing)
		select {
		case <-c.done:
		case <-time.After(closeGrace):
			c.conn.Close()
			<-c.done
		}
	})
}
