package broker

import (
	"sort"
	"sync"
)

// Table maps rooms to their sessions. At most one session exists per room;
// TryClaim and Evict are the only mutators that callers use.
type Table struct {
	mu       sync.Mutex
	sessions map[string]*Session
	onChange func(delta int)
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{sessions: make(map[string]*Session)}
}

// TryClaim creates a Negotiating session for room, or fails with
// ErrRoomOccupied if the room already has one in any state.
func (t *Table) TryClaim(room string, listener ConnectivityListener) (*Session, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.sessions[room]; ok {
		return nil, ErrRoomOccupied
	}
	s := newSession(room, listener)
	t.sessions[room] = s
	t.changed(1)
	return s, nil
}

// Evict removes room's session and returns it, or nil if the room was free.
// Evicting a free room does nothing.
func (t *Table) Evict(room string) *Session {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.sessions[room]
	if !ok {
		return nil
	}
	delete(t.sessions, room)
	t.changed(-1)
	return s
}

// release evicts s only if it still owns its room, so a late callback from
// an old session cannot remove a newer one.
func (t *Table) release(s *Session) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if cur, ok := t.sessions[s.Room]; !ok || cur != s {
		return false
	}
	delete(t.sessions, s.Room)
	t.changed(-1)
	return true
}

// Get returns room's session.
func (t *Table) Get(room string) (*Session, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[room]
	return s, ok
}

// Len reports the number of claimed rooms.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}

// Snapshot returns a view of every session ordered by room.
func (t *Table) Snapshot() []View {
	t.mu.Lock()
	sessions := make([]*Session, 0, len(t.sessions))
	for _, s := range t.sessions {
		sessions = append(sessions, s)
	}
	t.mu.Unlock()

	views := make([]View, 0, len(sessions))
	for _, s := range sessions {
		views = append(views, s.View())
	}
	sort.Slice(views, func(i, j int) bool { return views[i].Room < views[j].Room })
	return views
}

// drain removes and returns every session.
func (t *Table) drain() []*Session {
	t.mu.Lock()
	defer t.mu.Unlock()

	sessions := make([]*Session, 0, len(t.sessions))
	for room, s := range t.sessions {
		sessions = append(sessions, s)
		delete(t.sessions, room)
	}
	t.changed(-len(sessions))
	return sessions
}

func (t *Table) changed(delta int) {
	if t.onChange != nil && delta != 0 {
		t.onChange(delta)
	}
}
