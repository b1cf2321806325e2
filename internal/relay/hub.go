package relay

import (
	"context"
	"log/slog"

	"github.com/phudinh153/camcast/internal/signaling"
)

// Hub is the central brain of the relay.
// It manages all rooms and clients from a single goroutine.
type Hub struct {
	rooms   map[string]*Room
	clients map[*Client]struct{}

	register   chan *Client
	unregister chan *Client
	broadcast  chan *inbound
	done       chan struct{}

	logger *slog.Logger
}

// NewHub creates a new Hub instance.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		rooms:      make(map[string]*Room),
		clients:    make(map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *inbound),
		done:       make(chan struct{}),
		logger:     logger.With("component", "relay"),
	}
}

// Run processes registrations and frames until ctx is done, then closes
// every client connection.
func (h *Hub) Run(ctx context.Context) {
	defer func() {
		close(h.done)
		for c := range h.clients {
			close(c.send)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case c := <-h.register:
			h.clients[c] = struct{}{}
			c.logger.Debug("client registered")

		case c := <-h.unregister:
			h.drop(c)

		case in := <-h.broadcast:
			h.route(in)
		}
	}
}

func (h *Hub) route(in *inbound) {
	c := in.client
	if _, ok := h.clients[c]; !ok {
		return
	}

	switch in.msg.Event {
	case signaling.EventJoin:
		var p signaling.JoinPayload
		if err := in.msg.Decode(&p); err != nil || p.Room == "" {
			c.sendEvent(signaling.EventError, signaling.ErrorPayload{Error: "join requires a room"})
			return
		}
		room, ok := h.rooms[p.Room]
		if !ok {
			room = newRoom(p.Room)
			h.rooms[p.Room] = room
			h.logger.Info("room created", "room", p.Room)
		}
		room.Members[c] = struct{}{}
		c.rooms[p.Room] = struct{}{}
		c.logger.Info("client joined room", "room", p.Room, "username", p.Username, "members", len(room.Members))

	case signaling.EventLeave:
		var p signaling.RoomRef
		if err := in.msg.Decode(&p); err != nil {
			return
		}
		h.leave(c, p.Room)

	default:
		var p signaling.RoomRef
		if err := in.msg.Decode(&p); err != nil || p.Room == "" {
			c.logger.Debug("dropping event without room", "event", in.msg.Event)
			return
		}
		room, ok := h.rooms[p.Room]
		if !ok {
			c.logger.Warn("event for unknown room", "event", in.msg.Event, "room", p.Room)
			c.sendEvent(signaling.EventError, signaling.ErrorPayload{Error: "Room not found"})
			return
		}
		if _, member := room.Members[c]; !member {
			c.sendEvent(signaling.EventError, signaling.ErrorPayload{Error: "You must join a room first"})
			return
		}
		for _, target := range room.Others(c) {
			frame, err := in.encodeFor(target)
			if err != nil {
				c.logger.Warn("transcode failed", "event", in.msg.Event, "err", err)
				return
			}
			if !target.deliver(frame) {
				target.logger.Warn("client too slow, dropping")
				h.drop(target)
			}
		}
		c.logger.Debug("relayed event", "event", in.msg.Event, "room", p.Room)
	}
}

func (h *Hub) leave(c *Client, id string) {
	room, ok := h.rooms[id]
	if !ok {
		return
	}
	delete(room.Members, c)
	delete(c.rooms, id)
	if len(room.Members) == 0 {
		delete(h.rooms, id)
		h.logger.Info("room deleted", "room", id)
	}
}

// drop removes c from every room and stops its writePump.
func (h *Hub) drop(c *Client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	for id := range c.rooms {
		h.leave(c, id)
	}
	delete(h.clients, c)
	close(c.send)
	c.logger.Debug("client unregistered")
}
