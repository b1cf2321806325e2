package relay

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/phudinh153/camcast/internal/signaling"
)

func startRelay(t *testing.T) string {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub(nil)
	go hub.Run(ctx)
	srv := httptest.NewServer(Handler(hub))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return srv.URL
}

func wsURL(base string) string {
	return "ws" + strings.TrimPrefix(base, "http") + "/ws"
}

func dial(t *testing.T, base string, codec signaling.Codec, setup func(*signaling.Client)) *signaling.Client {
	t.Helper()
	c := signaling.NewClient(wsURL(base), signaling.WithCodec(codec))
	if setup != nil {
		setup(c)
	}
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

// nonBlockingSend keeps handlers from stalling the dispatch goroutine.
func nonBlockingSend[T any](ch chan<- T, v T) {
	select {
	case ch <- v:
	default:
	}
}

// emitUntil re-sends until got fires, since joins on other connections may
// not have reached the hub yet.
func emitUntil[T any](t *testing.T, c *signaling.Client, event string, payload any, got <-chan T) T {
	t.Helper()
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	deadline := time.After(5 * time.Second)
	for {
		if err := c.Emit(event, payload); err != nil {
			t.Fatalf("Emit: %v", err)
		}
		select {
		case v := <-got:
			return v
		case <-ticker.C:
		case <-deadline:
			t.Fatalf("%s never arrived", event)
		}
	}
}

func TestHub_ForwardsAcrossCodecs(t *testing.T) {
	t.Parallel()

	base := startRelay(t)

	offers := make(chan signaling.Description, 16)
	callee := dial(t, base, signaling.Msgpack, func(c *signaling.Client) {
		c.On(signaling.EventOffer, func(msg *signaling.Message) {
			var d signaling.Description
			if err := msg.Decode(&d); err != nil {
				t.Errorf("decode offer: %v", err)
				return
			}
			nonBlockingSend(offers, d)
		})
	})
	if err := callee.Emit(signaling.EventJoin, signaling.JoinPayload{Username: "webcam", Room: "1"}); err != nil {
		t.Fatalf("join: %v", err)
	}

	caller := dial(t, base, signaling.JSON, nil)
	if err := caller.Emit(signaling.EventJoin, signaling.JoinPayload{Username: "browser", Room: "1"}); err != nil {
		t.Fatalf("join: %v", err)
	}

	want := signaling.Description{Room: "1", Type: "offer", SDP: "v=0\r\n"}
	got := emitUntil(t, caller, signaling.EventOffer, want, offers)
	if got != want {
		t.Errorf("forwarded offer = %+v, want %+v", got, want)
	}
}

func TestHub_SenderDoesNotHearItself(t *testing.T) {
	t.Parallel()

	base := startRelay(t)

	echoed := make(chan struct{}, 1)
	a := dial(t, base, signaling.JSON, func(c *signaling.Client) {
		c.On(signaling.EventAnswer, func(*signaling.Message) { nonBlockingSend(echoed, struct{}{}) })
	})
	answers := make(chan struct{}, 16)
	b := dial(t, base, signaling.JSON, func(c *signaling.Client) {
		c.On(signaling.EventAnswer, func(*signaling.Message) { nonBlockingSend(answers, struct{}{}) })
	})
	a.Emit(signaling.EventJoin, signaling.JoinPayload{Room: "2"})
	b.Emit(signaling.EventJoin, signaling.JoinPayload{Room: "2"})

	emitUntil(t, a, signaling.EventAnswer, signaling.Description{Room: "2", Type: "answer"}, answers)

	select {
	case <-echoed:
		t.Fatal("sender received its own event")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestHub_Errors(t *testing.T) {
	t.Parallel()

	base := startRelay(t)

	member := dial(t, base, signaling.JSON, nil)
	member.Emit(signaling.EventJoin, signaling.JoinPayload{Room: "occupied"})

	errs := make(chan string, 16)
	outsider := dial(t, base, signaling.JSON, func(c *signaling.Client) {
		c.On(signaling.EventError, func(msg *signaling.Message) {
			var p signaling.ErrorPayload
			msg.Decode(&p)
			nonBlockingSend(errs, p.Error)
		})
	})

	if got := emitUntil(t, outsider, signaling.EventOffer, signaling.Description{Room: "nowhere"}, errs); got != "Room not found" {
		t.Errorf("unknown room error = %q", got)
	}

	// Wait until the member's join has been processed.
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		got := emitUntil(t, outsider, signaling.EventOffer, signaling.Description{Room: "occupied"}, errs)
		if got == "You must join a room first" {
			return
		}
	}
	t.Fatal("outsider was never told to join first")
}

func TestHealth(t *testing.T) {
	t.Parallel()

	base := startRelay(t)
	resp, err := http.Get(base + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "healthy") {
		t.Errorf("health = %d %q", resp.StatusCode, body)
	}
}

func TestServeWs_RejectsUnknownCodec(t *testing.T) {
	t.Parallel()

	base := startRelay(t)
	resp, err := http.Get(base + "/ws?codec=xml")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}
