package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	pion "github.com/pion/webrtc/v4"

	"github.com/phudinh153/camcast/internal/media"
	"github.com/phudinh153/camcast/internal/observe"
	"github.com/phudinh153/camcast/internal/signaling"
)

// consume negotiates queued offers one at a time, in arrival order, until
// ctx is done or the queue closes.
func (b *Broker) consume(ctx context.Context) error {
	for {
		o, err := b.queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, ErrQueueClosed) || ctx.Err() != nil {
				return nil
			}
			return err
		}
		b.handle(ctx, o)
	}
}

// handle processes one offer. Every failure is contained here.
func (b *Broker) handle(ctx context.Context, o Offer) {
	b.metrics.QueueDepth.Add(ctx, -1)
	start := time.Now()
	logger := b.logger.With("room", o.Room)

	err := b.negotiate(ctx, o)
	outcome := outcomeOf(err)
	b.metrics.RecordOutcome(ctx, outcome)

	switch {
	case err == nil:
		b.metrics.NegotiationDuration.Record(ctx, time.Since(start).Seconds())
		logger.Info("answer sent", "elapsed", time.Since(start), "waited", start.Sub(o.ReceivedAt))
		return
	case errors.Is(err, ErrRoomOccupied):
		logger.Info("room occupied, dropping offer")
	case outcome == observe.OutcomeShuttingDown:
		logger.Info("offer abandoned at shutdown")
	default:
		logger.Warn("offer rejected", "outcome", outcome, "err", err)
	}
	b.reject(o.Room, err)
}

// negotiate admits an offer and emits its answer. On any failure the
// partially built session is evicted and closed before returning.
func (b *Broker) negotiate(ctx context.Context, o Offer) (err error) {
	if o.Type != pion.SDPTypeOffer.String() {
		return wrapError("validate offer", o.Room, ErrUnexpectedSignal, fmt.Sprintf("type %q", o.Type))
	}
	if o.Room == "" {
		return wrapError("validate offer", o.Room, ErrUnexpectedSignal, "missing room")
	}

	s, err := b.table.TryClaim(o.Room, b.monitor)
	if err != nil {
		return newError("claim", o.Room, err)
	}
	defer func() {
		if err != nil {
			b.table.release(s)
			b.monitor.close(s)
		}
	}()

	negCtx := ctx
	if timeout := b.opts.NegotiationTimeout; timeout > 0 {
		var cancel context.CancelFunc
		negCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
		s.armTimeout(timeout, func() { b.monitor.expire(s) })
	}

	pc, err := b.peers.NewPeerConnection()
	if err != nil {
		return newError("create peer connection", o.Room, fmt.Errorf("%w: %w", ErrNegotiation, err))
	}
	s.attach(pc, nil)
	pc.OnConnectionStateChange(s.handleState)

	tracks, err := b.media.AcquireTracks(negCtx)
	if err != nil {
		return newError("acquire tracks", o.Room, err)
	}
	s.attach(nil, tracks)

	for _, track := range tracks.List() {
		sender, err := pc.AddTrack(track)
		if err != nil {
			return newError("add track", o.Room, fmt.Errorf("%w: %w", ErrNegotiation, err))
		}
		if pref := b.prefs[track.Kind()]; pref != nil {
			if err := pref.Apply(pc, sender); err != nil {
				return newError("apply codec preference", o.Room, err)
			}
		}
		go drainRTCP(sender)
	}

	offer := pion.SessionDescription{Type: pion.SDPTypeOffer, SDP: o.SDP}
	if err := pc.SetRemoteDescription(offer); err != nil {
		return newError("set remote description", o.Room, fmt.Errorf("%w: %w", ErrSDPParse, err))
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return newError("create answer", o.Room, fmt.Errorf("%w: %w", ErrNegotiation, err))
	}

	gathered := pion.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		return newError("set local description", o.Room, fmt.Errorf("%w: %w", ErrNegotiation, err))
	}

	select {
	case <-gathered:
	case <-negCtx.Done():
		if ctx.Err() != nil {
			return newError("gather candidates", o.Room, ctx.Err())
		}
		return newError("gather candidates", o.Room, ErrNegotiationTimeout)
	}

	if st := s.State(); st == StateFailed || st == StateClosed {
		return wrapError("negotiate", o.Room, ErrNegotiation, "session ended before answer")
	}

	local := pc.LocalDescription()
	reply := signaling.Description{
		Room:     o.Room,
		SDP:      local.SDP,
		Type:     local.Type.String(),
		Username: b.opts.Username,
	}
	if err := b.signal.Emit(signaling.EventAnswer, reply); err != nil {
		return newError("emit answer", o.Room, err)
	}
	return nil
}

// drainRTCP reads RTCP for sender so interceptors keep running.
func drainRTCP(sender *pion.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

// outcomeOf classifies a negotiation result for metrics and rejections.
func outcomeOf(err error) string {
	switch {
	case err == nil:
		return observe.OutcomeAnswered
	case errors.Is(err, ErrRoomOccupied):
		return observe.OutcomeOccupied
	case errors.Is(err, ErrUnexpectedSignal), errors.Is(err, ErrSDPParse):
		return observe.OutcomeInvalid
	case errors.Is(err, media.ErrDeviceUnavailable), errors.Is(err, media.ErrFileNotFound),
		errors.Is(err, media.ErrUnsupportedContainer):
		return observe.OutcomeMediaError
	case errors.Is(err, ErrNegotiationTimeout):
		return observe.OutcomeTimeout
	case errors.Is(err, ErrBackpressure), errors.Is(err, ErrQueueClosed):
		return observe.OutcomeBackpressure
	case errors.Is(err, context.Canceled):
		return observe.OutcomeShuttingDown
	}
	return observe.OutcomeFailed
}
