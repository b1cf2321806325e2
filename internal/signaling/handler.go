package signaling

import (
	"log/slog"
	"sync"
)

// Handler processes one inbound message. Handlers run on the client's
// dispatch goroutine and must not call Close.
type Handler func(msg *Message)

type handlers struct {
	mu        sync.RWMutex
	byEvent   map[string][]Handler
	onConnect []func()
}

func newHandlers() *handlers {
	return &handlers{byEvent: make(map[string][]Handler)}
}

func (h *handlers) add(event string, fn Handler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.byEvent[event] = append(h.byEvent[event], fn)
}

func (h *handlers) addConnect(fn func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onConnect = append(h.onConnect, fn)
}

func (h *handlers) connected() {
	h.mu.RLock()
	hooks := append([]func(){}, h.onConnect...)
	h.mu.RUnlock()

	for _, fn := range hooks {
		fn()
	}
}

func (h *handlers) dispatch(msg *Message, logger *slog.Logger) {
	h.mu.RLock()
	fns := h.byEvent[msg.Event]
	h.mu.RUnlock()

	if len(fns) == 0 {
		if msg.Event == EventError {
			var p ErrorPayload
			if err := msg.Decode(&p); err == nil {
				logger.Warn("relay reported error", "error", p.Error)
				return
			}
		}
		logger.Debug("no handler for event", "event", msg.Event)
		return
	}
	for _, fn := range fns {
		fn(msg)
	}
}
