package broker

import (
	"sync"
	"time"

	"github.com/google/uuid"
	pion "github.com/pion/webrtc/v4"

	"github.com/phudinh153/camcast/internal/media"
)

// State is a session's position in its lifecycle.
type State int

const (
	StateNegotiating State = iota
	StateConnected
	StateFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNegotiating:
		return "negotiating"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// ConnectivityListener receives a session's peer connection transitions.
// One listener is fixed at session construction.
type ConnectivityListener interface {
	OnConnecting(s *Session)
	OnConnected(s *Session)
	OnDisconnected(s *Session)
	OnFailed(s *Session)
	OnClosed(s *Session)
}

// Session is the broker's record of one room's call.
type Session struct {
	ID        string
	Room      string
	CreatedAt time.Time

	listener ConnectivityListener

	mu          sync.Mutex
	state       State
	connectedAt time.Time
	pc          *pion.PeerConnection
	tracks      *media.Tracks
	timer       *time.Timer
	closeOnce   sync.Once
}

func newSession(room string, listener ConnectivityListener) *Session {
	return &Session{
		ID:        uuid.NewString(),
		Room:      room,
		CreatedAt: time.Now(),
		listener:  listener,
		state:     StateNegotiating,
	}
}

// View is a read-only copy of a session for display.
type View struct {
	ID          string
	Room        string
	State       State
	CreatedAt   time.Time
	ConnectedAt time.Time
}

// View returns a snapshot of s.
func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return View{
		ID:          s.ID,
		Room:        s.Room,
		State:       s.state,
		CreatedAt:   s.CreatedAt,
		ConnectedAt: s.connectedAt,
	}
}

// State reports the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// transition moves s to next unless it already reached a terminal state.
// It reports whether the state changed.
func (s *Session) transition(next State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateFailed || s.state == StateClosed || s.state == next {
		return false
	}
	s.state = next
	if next == StateConnected {
		s.connectedAt = time.Now()
	}
	if next != StateNegotiating && s.timer != nil {
		s.timer.Stop()
	}
	return true
}

func (s *Session) attach(pc *pion.PeerConnection, tracks *media.Tracks) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if pc != nil {
		s.pc = pc
	}
	if tracks != nil {
		s.tracks = tracks
	}
}

// armTimeout runs fn after d unless the session leaves Negotiating first.
func (s *Session) armTimeout(d time.Duration, fn func()) {
	if d <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timer = time.AfterFunc(d, func() {
		if s.State() == StateNegotiating {
			fn()
		}
	})
}

// startMedia begins playback once the call is connected.
func (s *Session) startMedia() {
	s.mu.Lock()
	tracks := s.tracks
	s.mu.Unlock()
	if tracks != nil {
		tracks.Start()
	}
}

// handleState routes a peer connection state to the listener. It is the
// only callback registered on the peer connection.
func (s *Session) handleState(state pion.PeerConnectionState) {
	switch state {
	case pion.PeerConnectionStateConnecting:
		s.listener.OnConnecting(s)
	case pion.PeerConnectionStateConnected:
		s.listener.OnConnected(s)
	case pion.PeerConnectionStateDisconnected:
		s.listener.OnDisconnected(s)
	case pion.PeerConnectionStateFailed:
		s.listener.OnFailed(s)
	case pion.PeerConnectionStateClosed:
		s.listener.OnClosed(s)
	}
}

// Close releases the peer connection and tracks. A session that had not
// failed ends in StateClosed. Safe to call more than once.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		if s.state != StateFailed {
			s.state = StateClosed
		}
		if s.timer != nil {
			s.timer.Stop()
		}
		pc, tracks := s.pc, s.tracks
		s.mu.Unlock()

		if tracks != nil {
			tracks.Close()
		}
		if pc != nil {
			err = pc.Close()
		}
	})
	return err
}
