package broker

import (
	"context"
	"log/slog"

	"github.com/phudinh153/camcast/internal/observe"
)

// monitor reacts to connectivity changes. Only failed evicts; connected
// starts media. Closed is reached through Session.Close, whose callers have
// already released the room.
type monitor struct {
	table   *Table
	metrics *observe.Metrics
	logger  *slog.Logger
}

var _ ConnectivityListener = (*monitor)(nil)

func (m *monitor) record(s *Session, state string) {
	m.metrics.RecordTransition(context.Background(), state)
	m.logger.Info("connection state changed", "room", s.Room, "session", s.ID, "state", state)
}

func (m *monitor) OnConnecting(s *Session) {
	m.record(s, "connecting")
}

func (m *monitor) OnConnected(s *Session) {
	m.record(s, "connected")
	if !s.transition(StateConnected) {
		return
	}
	s.startMedia()
}

func (m *monitor) OnDisconnected(s *Session) {
	// Transient; ICE may recover or move on to failed.
	m.record(s, "disconnected")
}

func (m *monitor) OnFailed(s *Session) {
	m.record(s, "failed")
	s.transition(StateFailed)
	if m.table.release(s) {
		m.logger.Info("evicted failed session", "room", s.Room, "session", s.ID)
	}
	// The peer connection must not be closed from its own state callback.
	go m.close(s)
}

func (m *monitor) OnClosed(s *Session) {
	m.record(s, "closed")
}

// expire evicts a session that did not connect in time.
func (m *monitor) expire(s *Session) {
	if !m.table.release(s) {
		return
	}
	m.logger.Warn("negotiation timed out, evicting", "room", s.Room, "session", s.ID)
	m.metrics.RecordOutcome(context.Background(), observe.OutcomeTimeout)
	m.close(s)
}

func (m *monitor) close(s *Session) {
	if err := s.Close(); err != nil {
		m.logger.Debug("close peer connection", "room", s.Room, "session", s.ID, "err", err)
	}
}
