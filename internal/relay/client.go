package relay

import (
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/phudinh153/camcast/internal/signaling"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 64 * 1024 // 64 KB - enough for SDP with gathered candidates

	sendBuffer = 256
)

// Client is a wrapper for a single websocket connection.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	codec  signaling.Codec
	logger *slog.Logger

	// rooms is owned by the hub goroutine.
	rooms map[string]struct{}

	// send is a buffered channel for all outbound frames, already encoded
	// in this client's codec.
	send chan []byte
}

func newClient(hub *Hub, conn *websocket.Conn, codec signaling.Codec) *Client {
	return &Client{
		hub:    hub,
		conn:   conn,
		codec:  codec,
		logger: hub.logger.With("remote", conn.RemoteAddr().String(), "codec", codec.Name()),
		rooms:  make(map[string]struct{}),
		send:   make(chan []byte, sendBuffer),
	}
}

// readPump pumps frames from the websocket connection to the hub.
//
// At most one reader runs per connection; all reads happen on this goroutine.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.logger.Warn("read failed", "err", err)
			}
			return
		}

		msg, err := c.codec.Decode(frame)
		if err != nil {
			c.logger.Warn("dropping undecodable frame", "err", err)
			continue
		}

		select {
		case c.hub.broadcast <- &inbound{msg: msg, frame: frame, client: c}:
		case <-c.hub.done:
			return
		}
	}
}

// writePump pumps frames from the hub to the websocket connection.
//
// At most one writer runs per connection; all writes happen on this goroutine.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(c.codec.FrameType(), frame); err != nil {
				c.logger.Warn("write failed", "err", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// deliver queues a frame without blocking the hub. A client whose buffer is
// full is too slow to keep and is dropped.
func (c *Client) deliver(frame []byte) bool {
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// sendEvent encodes and queues an event for this client.
func (c *Client) sendEvent(event string, payload any) {
	frame, err := c.codec.Encode(event, payload)
	if err != nil {
		c.logger.Error("encode failed", "event", event, "err", err)
		return
	}
	c.deliver(frame)
}
