package media

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"

	"github.com/pion/rtp"
)

const rtpBufferSize = 1500

// rtpWriter is the part of an RTP track the relay writes to.
type rtpWriter interface {
	WriteRTP(p *rtp.Packet) error
}

// Relay fans packets from one source out to every subscribed track. It is
// the only reader of the source; subscribers never touch it.
type Relay struct {
	mu          sync.RWMutex
	subscribers map[rtpWriter]struct{}
	logger      *slog.Logger
}

// NewRelay creates an empty relay.
func NewRelay(logger *slog.Logger) *Relay {
	return &Relay{
		subscribers: make(map[rtpWriter]struct{}),
		logger:      logger,
	}
}

// Subscribe adds w and returns the function that removes it.
func (r *Relay) Subscribe(w rtpWriter) (unsubscribe func()) {
	r.mu.Lock()
	r.subscribers[w] = struct{}{}
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.subscribers, w)
			r.mu.Unlock()
		})
	}
}

// Subscribers reports the number of subscribed tracks.
func (r *Relay) Subscribers() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subscribers)
}

// Publish writes p to every subscriber. A failing subscriber is logged and
// kept; its session's monitor is responsible for removing it.
func (r *Relay) Publish(p *rtp.Packet) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for w := range r.subscribers {
		if err := w.WriteRTP(p); err != nil {
			r.logger.Debug("relay write failed", "err", err)
		}
	}
}

// Pump reads RTP datagrams from conn and publishes them until ctx is done
// or conn is closed.
func (r *Relay) Pump(ctx context.Context, conn net.PacketConn) error {
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	buf := make([]byte, rtpBufferSize)
	for {
		n, _, err := conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}

		var pkt rtp.Packet
		if err := pkt.Unmarshal(buf[:n]); err != nil {
			r.logger.Debug("dropping malformed rtp packet", "err", err)
			continue
		}
		r.Publish(&pkt)
	}
}
