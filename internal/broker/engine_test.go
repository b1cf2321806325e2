package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pion/sdp/v3"
	pion "github.com/pion/webrtc/v4"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/phudinh153/camcast/internal/config"
	"github.com/phudinh153/camcast/internal/media"
	"github.com/phudinh153/camcast/internal/observe"
	"github.com/phudinh153/camcast/internal/signaling"
	"github.com/phudinh153/camcast/internal/webrtc"
)

const waitTimeout = 10 * time.Second

type emission struct {
	event   string
	payload any
}

// fakeSignaler stands in for the relay connection. Deliveries run handlers
// synchronously, like the client's dispatch goroutine.
type fakeSignaler struct {
	mu        sync.Mutex
	handlers  map[string][]signaling.Handler
	onConnect []func()

	emitted chan emission
	lost    chan error
	closed  atomic.Bool
}

func newFakeSignaler() *fakeSignaler {
	return &fakeSignaler{
		handlers: make(map[string][]signaling.Handler),
		emitted:  make(chan emission, 64),
		lost:     make(chan error, 1),
	}
}

func (f *fakeSignaler) Emit(event string, payload any) error {
	if f.closed.Load() {
		return signaling.ErrClientClosed
	}
	select {
	case f.emitted <- emission{event: event, payload: payload}:
	default:
	}
	return nil
}

func (f *fakeSignaler) On(event string, fn signaling.Handler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[event] = append(f.handlers[event], fn)
}

func (f *fakeSignaler) OnConnect(fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onConnect = append(f.onConnect, fn)
}

func (f *fakeSignaler) Connect(context.Context) error {
	f.mu.Lock()
	hooks := slices.Clone(f.onConnect)
	f.mu.Unlock()
	for _, fn := range hooks {
		fn()
	}
	return nil
}

func (f *fakeSignaler) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return nil
	case err := <-f.lost:
		return err
	}
}

func (f *fakeSignaler) Close() {
	f.closed.Store(true)
}

func (f *fakeSignaler) deliver(t *testing.T, event string, payload any) {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal %s: %v", event, err)
	}
	msg := signaling.NewMessage(signaling.JSON, event, body)

	f.mu.Lock()
	handlers := slices.Clone(f.handlers[event])
	f.mu.Unlock()
	for _, fn := range handlers {
		fn(msg)
	}
}

// next returns the next emission of event, skipping others.
func (f *fakeSignaler) next(t *testing.T, event string) any {
	t.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case e := <-f.emitted:
			if e.event == event {
				return e.payload
			}
		case <-deadline:
			t.Fatalf("no %q emitted within %s", event, waitTimeout)
			return nil
		}
	}
}

// none fails if event is emitted within d.
func (f *fakeSignaler) none(t *testing.T, event string, d time.Duration) {
	t.Helper()
	deadline := time.After(d)
	for {
		select {
		case e := <-f.emitted:
			if e.event == event {
				t.Fatalf("unexpected %q emitted: %+v", event, e.payload)
			}
		case <-deadline:
			return
		}
	}
}

// fakeMedia hands out one static video track per session.
type fakeMedia struct {
	capability pion.RTPCodecCapability
	err        error
	acquired   atomic.Int32
}

func (m *fakeMedia) AcquireTracks(context.Context) (*media.Tracks, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.acquired.Add(1)
	track, err := pion.NewTrackLocalStaticSample(m.capability, "video", "camcast-test")
	if err != nil {
		return nil, err
	}
	return &media.Tracks{Video: track}, nil
}

func (m *fakeMedia) Close() error { return nil }

func vp8Media() *fakeMedia {
	return &fakeMedia{capability: pion.RTPCodecCapability{MimeType: pion.MimeTypeVP8, ClockRate: 90000}}
}

type harness struct {
	broker *Broker
	signal *fakeSignaler
	engine *webrtc.Engine
	reader *sdkmetric.ManualReader
	cancel context.CancelFunc
	done   chan error
}

func startBroker(t *testing.T, opts Options, provider media.Provider) *harness {
	t.Helper()

	engine, err := webrtc.NewEngine(config.ICE{}, webrtc.WithLoopback())
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	metrics, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	sig := newFakeSignaler()
	b, err := New(opts, Deps{
		Signaling: sig,
		Peers:     engine,
		Media:     provider,
		Metrics:   metrics,
		Logger:    slog.New(slog.DiscardHandler),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &harness{broker: b, signal: sig, engine: engine, reader: reader, cancel: cancel, done: make(chan error, 1)}
	go func() { h.done <- b.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-h.done:
		case <-time.After(waitTimeout):
			t.Error("Run did not return after cancel")
		}
	})

	for range opts.Rooms {
		if _, ok := sig.next(t, signaling.EventJoin).(signaling.JoinPayload); !ok {
			t.Fatal("join payload has the wrong type")
		}
	}
	return h
}

// newOfferer creates a receive-only peer and its complete offer.
func (h *harness) newOfferer(t *testing.T) (*pion.PeerConnection, string) {
	t.Helper()

	pc, err := h.engine.API().NewPeerConnection(pion.Configuration{})
	if err != nil {
		t.Fatalf("offerer: %v", err)
	}
	t.Cleanup(func() { _ = pc.Close() })

	if _, err := pc.AddTransceiverFromKind(pion.RTPCodecTypeVideo, pion.RTPTransceiverInit{
		Direction: pion.RTPTransceiverDirectionRecvonly,
	}); err != nil {
		t.Fatalf("AddTransceiverFromKind: %v", err)
	}
	offer, err := pc.CreateOffer(nil)
	if err != nil {
		t.Fatalf("CreateOffer: %v", err)
	}
	gathered := pion.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		t.Fatalf("SetLocalDescription: %v", err)
	}
	<-gathered
	return pc, pc.LocalDescription().SDP
}

func (h *harness) offer(t *testing.T, room, sdpText string) {
	t.Helper()
	h.signal.deliver(t, signaling.EventOffer, signaling.Description{Room: room, SDP: sdpText, Type: "offer"})
}

func (h *harness) answer(t *testing.T, room string) signaling.Description {
	t.Helper()
	d, ok := h.signal.next(t, signaling.EventAnswer).(signaling.Description)
	if !ok {
		t.Fatal("answer payload has the wrong type")
	}
	if d.Room != room {
		t.Fatalf("answer for room %q, want %q", d.Room, room)
	}
	return d
}

func (h *harness) rejection(t *testing.T) signaling.RejectionPayload {
	t.Helper()
	r, ok := h.signal.next(t, signaling.EventOfferRejected).(signaling.RejectionPayload)
	if !ok {
		t.Fatal("rejection payload has the wrong type")
	}
	return r
}

func (h *harness) outcomes(t *testing.T) map[string]int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := h.reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	out := make(map[string]int64)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "camcast.offers.outcome" {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("outcome data is %T", m.Data)
			}
			for _, dp := range sum.DataPoints {
				v, _ := dp.Attributes.Value("outcome")
				out[v.AsString()] += dp.Value
			}
		}
	}
	return out
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func connect(t *testing.T, h *harness, room string) (*pion.PeerConnection, *Session) {
	t.Helper()

	pc, offer := h.newOfferer(t)
	h.offer(t, room, offer)
	answer := h.answer(t, room)
	if err := pc.SetRemoteDescription(pion.SessionDescription{Type: pion.SDPTypeAnswer, SDP: answer.SDP}); err != nil {
		t.Fatalf("SetRemoteDescription: %v", err)
	}

	var s *Session
	eventually(t, "room "+room+" to connect", func() bool {
		var ok bool
		s, ok = h.broker.Table().Get(room)
		return ok && s.State() == StateConnected
	})
	return pc, s
}

func TestBroker_AnswersAndConnects(t *testing.T) {
	t.Parallel()

	h := startBroker(t, Options{Username: "cam", Rooms: []string{"1"}}, vp8Media())
	_, s := connect(t, h, "1")

	if s.View().ConnectedAt.IsZero() {
		t.Error("ConnectedAt not set")
	}
	if got := h.outcomes(t)[observe.OutcomeAnswered]; got != 1 {
		t.Errorf("answered outcomes = %d, want 1", got)
	}
}

func TestBroker_ConnectedRoomDropsSecondOffer(t *testing.T) {
	t.Parallel()

	h := startBroker(t, Options{Username: "cam", Rooms: []string{"2"}, NotifyRejections: true}, vp8Media())
	_, first := connect(t, h, "2")

	_, offer := h.newOfferer(t)
	h.offer(t, "2", offer)

	r := h.rejection(t)
	if r.Room != "2" || r.Reason != observe.OutcomeOccupied || r.Username != "cam" {
		t.Errorf("rejection = %+v, want room 2 occupied by cam", r)
	}
	h.signal.none(t, signaling.EventAnswer, 200*time.Millisecond)

	s, ok := h.broker.Table().Get("2")
	if !ok || s.ID != first.ID {
		t.Fatalf("room 2 session changed: got %v, want %s", s, first.ID)
	}
	if s.State() != StateConnected {
		t.Errorf("state = %s, want connected", s.State())
	}
}

func TestBroker_FailedSessionIsEvicted(t *testing.T) {
	t.Parallel()

	h := startBroker(t, Options{Username: "cam", Rooms: []string{"3"}}, vp8Media())

	_, offer := h.newOfferer(t)
	h.offer(t, "3", offer)
	h.answer(t, "3")

	old, ok := h.broker.Table().Get("3")
	if !ok {
		t.Fatal("room 3 has no session after answering")
	}
	old.handleState(pion.PeerConnectionStateFailed)

	eventually(t, "room 3 eviction", func() bool {
		_, ok := h.broker.Table().Get("3")
		return !ok
	})
	eventually(t, "old session to close", func() bool { return old.State() == StateFailed })

	_, offer = h.newOfferer(t)
	h.offer(t, "3", offer)
	h.answer(t, "3")

	current, ok := h.broker.Table().Get("3")
	if !ok || current.ID == old.ID {
		t.Fatal("room 3 did not admit a fresh session")
	}
}

func TestBroker_MalformedOfferLeavesNoSession(t *testing.T) {
	t.Parallel()

	h := startBroker(t, Options{Username: "cam", Rooms: []string{"4"}, NotifyRejections: true}, vp8Media())
	h.offer(t, "4", "v=0 this is not sdp")

	r := h.rejection(t)
	if r.Reason != observe.OutcomeInvalid {
		t.Errorf("reason = %q, want %q", r.Reason, observe.OutcomeInvalid)
	}
	if _, ok := h.broker.Table().Get("4"); ok {
		t.Error("malformed offer left a session in the table")
	}
	h.signal.none(t, signaling.EventAnswer, 100*time.Millisecond)
}

func TestBroker_UnexpectedSignalType(t *testing.T) {
	t.Parallel()

	h := startBroker(t, Options{Rooms: []string{"5"}, NotifyRejections: true}, vp8Media())
	h.signal.deliver(t, signaling.EventOffer, signaling.Description{Room: "5", SDP: "v=0", Type: "answer"})

	if r := h.rejection(t); r.Reason != observe.OutcomeInvalid {
		t.Errorf("reason = %q, want %q", r.Reason, observe.OutcomeInvalid)
	}
}

func TestBroker_MediaErrorIsContained(t *testing.T) {
	t.Parallel()

	m := &fakeMedia{err: fmt.Errorf("open: %w", media.ErrDeviceUnavailable)}
	h := startBroker(t, Options{Rooms: []string{"6"}, NotifyRejections: true}, m)

	_, offer := h.newOfferer(t)
	h.offer(t, "6", offer)
	if r := h.rejection(t); r.Reason != observe.OutcomeMediaError {
		t.Errorf("reason = %q, want %q", r.Reason, observe.OutcomeMediaError)
	}
	if h.broker.Table().Len() != 0 {
		t.Error("failed offer left a session in the table")
	}

	// The engine keeps consuming after a failure.
	h.signal.deliver(t, signaling.EventOffer, signaling.Description{Room: "6", Type: "pranswer"})
	if r := h.rejection(t); r.Reason != observe.OutcomeInvalid {
		t.Errorf("reason = %q, want %q", r.Reason, observe.OutcomeInvalid)
	}
}

func TestBroker_NegotiationTimeoutEvicts(t *testing.T) {
	t.Parallel()

	h := startBroker(t, Options{Rooms: []string{"7"}, NegotiationTimeout: time.Second}, vp8Media())

	_, offer := h.newOfferer(t)
	h.offer(t, "7", offer)
	h.answer(t, "7")

	// The answer is never applied, so the session cannot connect.
	eventually(t, "timed out session eviction", func() bool {
		return h.broker.Table().Len() == 0
	})
	eventually(t, "timeout outcome", func() bool {
		return h.outcomes(t)[observe.OutcomeTimeout] == 1
	})
}

func TestBroker_ForcedVideoCodec(t *testing.T) {
	t.Parallel()

	provider := &fakeMedia{capability: pion.RTPCodecCapability{
		MimeType:    pion.MimeTypeH264,
		ClockRate:   90000,
		SDPFmtpLine: "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42001f",
	}}
	h := startBroker(t, Options{Rooms: []string{"8"}, VideoCodec: "video/H264"}, provider)

	_, offer := h.newOfferer(t)
	h.offer(t, "8", offer)
	answer := h.answer(t, "8")

	var parsed sdp.SessionDescription
	if err := parsed.Unmarshal([]byte(answer.SDP)); err != nil {
		t.Fatalf("parse answer: %v", err)
	}
	var formats []string
	for _, md := range parsed.MediaDescriptions {
		if md.MediaName.Media == "video" {
			formats = md.MediaName.Formats
		}
	}
	if want := []string{"102", "125"}; !slices.Equal(formats, want) {
		t.Errorf("video formats = %v, want %v", formats, want)
	}
}

func TestBroker_UnknownForcedCodec(t *testing.T) {
	t.Parallel()

	_, err := New(Options{VideoCodec: "H264"}, Deps{
		Signaling: newFakeSignaler(),
		Peers:     &webrtc.Engine{},
		Media:     vp8Media(),
	})
	if err == nil {
		t.Fatal("New accepted a codec without a kind")
	}
}

func TestBroker_SignalingLossStopsRun(t *testing.T) {
	t.Parallel()

	h := startBroker(t, Options{Rooms: []string{"9"}}, vp8Media())
	connect(t, h, "9")

	h.signal.lost <- fmt.Errorf("%w: read: EOF", signaling.ErrConnectionLost)

	select {
	case err := <-h.done:
		if !errors.Is(err, signaling.ErrConnectionLost) {
			t.Fatalf("Run() = %v, want ErrConnectionLost", err)
		}
		h.done <- err
	case <-time.After(waitTimeout):
		t.Fatal("Run did not return after signaling loss")
	}

	if h.broker.Table().Len() != 0 {
		t.Error("sessions survived shutdown")
	}
	closed := h.broker.Closed()
	if len(closed) != 1 || closed[0].Room != "9" || closed[0].State != StateClosed {
		t.Errorf("Closed() = %+v, want room 9 closed", closed)
	}
}

func TestBroker_CancelIsCleanShutdown(t *testing.T) {
	t.Parallel()

	h := startBroker(t, Options{Rooms: []string{"10", "11"}}, vp8Media())
	connect(t, h, "10")
	connect(t, h, "11")

	h.cancel()
	select {
	case err := <-h.done:
		if err != nil {
			t.Fatalf("Run() = %v, want nil", err)
		}
		h.done <- err
	case <-time.After(waitTimeout):
		t.Fatal("Run did not return after cancel")
	}

	closed := h.broker.Closed()
	if len(closed) != 2 || closed[0].Room != "10" || closed[1].Room != "11" {
		t.Errorf("Closed() = %+v, want rooms 10 and 11", closed)
	}
}

func TestOutcomeOf(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		want string
	}{
		{nil, observe.OutcomeAnswered},
		{newError("claim", "1", ErrRoomOccupied), observe.OutcomeOccupied},
		{fmt.Errorf("%w: bad", ErrSDPParse), observe.OutcomeInvalid},
		{media.ErrFileNotFound, observe.OutcomeMediaError},
		{ErrNegotiationTimeout, observe.OutcomeTimeout},
		{ErrBackpressure, observe.OutcomeBackpressure},
		{context.Canceled, observe.OutcomeShuttingDown},
		{errors.New("boom"), observe.OutcomeFailed},
	}
	for _, tt := range tests {
		if got := outcomeOf(tt.err); got != tt.want {
			t.Errorf("outcomeOf(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
