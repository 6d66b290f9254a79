package session

import "time"

// Store maps session ids to live sessions and tracks which connection is
// playing where. Like Session it is owned by one goroutine.
type Store struct {
	sessions map[string]*Session
	byConn   map[string]string // connection id -> session id
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		sessions: make(map[string]*Session),
		byConn:   make(map[string]string),
	}
}

// Add registers a session and indexes its connections.
func (st *Store) Add(s *Session) {
	st.sessions[s.ID] = s
	for _, c := range s.Conns {
		if c != nil {
			st.byConn[c.ID()] = s.ID
		}
	}
}

// Get returns a session by id.
func (st *Store) Get(id string) (*Session, bool) {
	s, ok := st.sessions[id]
	return s, ok
}

// ForConn returns the live session a connection is playing in.
func (st *Store) ForConn(connID string) (*Session, bool) {
	id, ok := st.byConn[connID]
	if !ok {
		return nil, false
	}
	return st.Get(id)
}

// Remove deletes a session. Removing an unknown id is a no-op.
func (st *Store) Remove(id string) {
	s, ok := st.sessions[id]
	if !ok {
		return
	}
	for _, c := range s.Conns {
		if c != nil && st.byConn[c.ID()] == id {
			delete(st.byConn, c.ID())
		}
	}
	delete(st.sessions, id)
}

// IdleSince returns the sessions with no activity after cutoff.
func (st *Store) IdleSince(cutoff time.Time) []*Session {
	var idle []*Session
	for _, s := range st.sessions {
		if !s.LastActive.After(cutoff) {
			idle = append(idle, s)
		}
	}
	return idle
}

// Len returns the number of live sessions.
func (st *Store) Len() int {
	return len(st.sessions)
}

// List returns info for all live sessions.
func (st *Store) List() []Info {
	infos := make([]Info, 0, len(st.sessions))
	for _, s := range st.sessions {
		infos = append(infos, s.Info())
	}
	return infos
}
