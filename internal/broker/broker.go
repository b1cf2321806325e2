// Package broker answers WebRTC offers for a fixed set of rooms. Offers
// arrive through signaling, wait in a FIFO queue and are negotiated one at a
// time; each room holds at most one session until its peer connection fails
// or closes.
package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	pion "github.com/pion/webrtc/v4"
	"golang.org/x/sync/errgroup"

	"github.com/phudinh153/camcast/internal/config"
	"github.com/phudinh153/camcast/internal/media"
	"github.com/phudinh153/camcast/internal/observe"
	"github.com/phudinh153/camcast/internal/signaling"
)

// Signaler is the signaling connection the broker drives.
type Signaler interface {
	Emit(event string, payload any) error
	On(event string, fn signaling.Handler)
	OnConnect(fn func())
	Connect(ctx context.Context) error
	Wait(ctx context.Context) error
	Close()
}

// PeerFactory creates peer connections.
type PeerFactory interface {
	NewPeerConnection() (*pion.PeerConnection, error)
}

// Options tunes the broker.
type Options struct {
	Username         string
	Rooms            []string
	AudioCodec       string
	VideoCodec       string
	NotifyRejections bool

	// NegotiationTimeout bounds the time from dequeue to Connected. Zero
	// disables it.
	NegotiationTimeout time.Duration

	// QueueDepth caps waiting offers. Zero means unbounded.
	QueueDepth int
}

// OptionsFromConfig extracts broker options from cfg.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Username:           cfg.Signaling.Username,
		Rooms:              cfg.Signaling.Rooms,
		AudioCodec:         cfg.Media.AudioCodec,
		VideoCodec:         cfg.Media.VideoCodec,
		NotifyRejections:   cfg.Signaling.NotifyRejections,
		NegotiationTimeout: cfg.Broker.NegotiationTimeout,
		QueueDepth:         cfg.Broker.QueueDepth,
	}
}

// Deps are the broker's collaborators. Metrics and Logger default to the
// package-level instances.
type Deps struct {
	Signaling Signaler
	Peers     PeerFactory
	Media     media.Provider
	Metrics   *observe.Metrics
	Logger    *slog.Logger
}

// Broker owns the session table, the offer queue and every collaborator.
type Broker struct {
	opts  Options
	prefs map[pion.RTPCodecType]*CodecPreference

	table   *Table
	queue   *Queue
	monitor *monitor

	signal  Signaler
	peers   PeerFactory
	media   media.Provider
	metrics *observe.Metrics
	logger  *slog.Logger

	mu     sync.Mutex
	closed []View
}

// New creates a broker. It fails if a forced codec is malformed.
func New(opts Options, deps Deps) (*Broker, error) {
	if deps.Signaling == nil || deps.Peers == nil || deps.Media == nil {
		return nil, errors.New("broker: signaling, peers and media are required")
	}
	if deps.Metrics == nil {
		deps.Metrics = observe.DefaultMetrics()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	logger := deps.Logger.With("component", "broker")

	prefs := make(map[pion.RTPCodecType]*CodecPreference)
	for _, mime := range []string{opts.AudioCodec, opts.VideoCodec} {
		p, err := ParseCodecPreference(mime)
		if err != nil {
			return nil, err
		}
		if p != nil {
			prefs[p.Kind] = p
		}
	}

	b := &Broker{
		opts:    opts,
		prefs:   prefs,
		table:   NewTable(),
		queue:   NewQueue(opts.QueueDepth),
		signal:  deps.Signaling,
		peers:   deps.Peers,
		media:   deps.Media,
		metrics: deps.Metrics,
		logger:  logger,
	}
	b.monitor = &monitor{table: b.table, metrics: b.metrics, logger: logger}
	b.table.onChange = func(delta int) {
		b.metrics.SessionsActive.Add(context.Background(), int64(delta))
	}
	return b, nil
}

// Table exposes the session table.
func (b *Broker) Table() *Table {
	return b.table
}

// Sessions returns a snapshot of live sessions ordered by room.
func (b *Broker) Sessions() []View {
	return b.table.Snapshot()
}

// Closed returns the sessions closed at shutdown. It is empty until Run
// returns.
func (b *Broker) Closed() []View {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]View(nil), b.closed...)
}

// Run connects to signaling, joins every room and answers offers until ctx
// is done or the signaling connection is lost, then shuts down. Losing the
// connection is returned as an error; cancellation is not.
func (b *Broker) Run(ctx context.Context) error {
	b.signal.OnConnect(b.joinRooms)
	b.signal.On(signaling.EventOffer, b.onOffer)

	if err := b.signal.Connect(ctx); err != nil {
		b.shutdown()
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return b.signal.Wait(gctx)
	})
	g.Go(func() error {
		return b.consume(gctx)
	})

	err := g.Wait()
	b.shutdown()
	return err
}

func (b *Broker) joinRooms() {
	for _, room := range b.opts.Rooms {
		if err := b.signal.Emit(signaling.EventJoin, signaling.JoinPayload{Username: b.opts.Username, Room: room}); err != nil {
			b.logger.Error("join failed", "room", room, "err", err)
			continue
		}
		b.logger.Info("joined room", "room", room, "username", b.opts.Username)
	}
}

// onOffer is the signaling handler. It only enqueues.
func (b *Broker) onOffer(msg *signaling.Message) {
	var d signaling.Description
	if err := msg.Decode(&d); err != nil {
		b.logger.Warn("dropping undecodable offer", "err", err)
		return
	}

	err := b.queue.Enqueue(Offer{Room: d.Room, SDP: d.SDP, Type: d.Type, ReceivedAt: time.Now()})
	if err != nil {
		b.logger.Warn("offer not queued", "room", d.Room, "err", err)
		b.metrics.RecordOutcome(context.Background(), outcomeOf(err))
		b.reject(d.Room, err)
		return
	}
	b.metrics.OffersReceived.Add(context.Background(), 1)
	b.metrics.QueueDepth.Add(context.Background(), 1)
	b.logger.Debug("offer queued", "room", d.Room, "depth", b.queue.Len())
}

// reject tells the caller its offer was dropped, when enabled.
func (b *Broker) reject(room string, cause error) {
	if !b.opts.NotifyRejections || room == "" || errors.Is(cause, context.Canceled) {
		return
	}
	payload := signaling.RejectionPayload{Room: room, Reason: outcomeOf(cause), Username: b.opts.Username}
	if err := b.signal.Emit(signaling.EventOfferRejected, payload); err != nil {
		b.logger.Debug("rejection not sent", "room", room, "err", err)
	}
}

// shutdown discards queued offers, closes every session concurrently and
// releases signaling and media.
func (b *Broker) shutdown() {
	if dropped := b.queue.Close(); len(dropped) > 0 {
		b.metrics.QueueDepth.Add(context.Background(), -int64(len(dropped)))
		b.logger.Info("discarded queued offers", "count", len(dropped))
	}

	sessions := b.table.drain()
	var g errgroup.Group
	for _, s := range sessions {
		g.Go(func() error {
			if err := s.Close(); err != nil {
				return fmt.Errorf("room %s: %w", s.Room, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		b.logger.Warn("closing sessions", "err", err)
	}

	closed := make([]View, 0, len(sessions))
	for _, s := range sessions {
		closed = append(closed, s.View())
	}
	sort.Slice(closed, func(i, j int) bool { return closed[i].Room < closed[j].Room })
	b.mu.Lock()
	b.closed = closed
	b.mu.Unlock()

	b.signal.Close()
	if err := b.media.Close(); err != nil {
		b.logger.Warn("closing media", "err", err)
	}
	b.logger.Info("broker stopped", "sessions_closed", len(closed))
}
