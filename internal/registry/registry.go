// Package registry tracks live transport sessions per user and answers
// presence queries for the dispatcher. It is the only concurrently-mutated
// in-memory structure in the delivery core: one mutex guards the session map,
// and the lock is never held across a transport write.
package registry

import (
	"errors"
	"sync"
)

// ErrNoIdentity is returned when a session is registered without a resolved
// user identity. Such connections must be rejected, not tracked.
var ErrNoIdentity = errors.New("session has no resolved user identity")

// Peer is the write side of one live connection. Implementations serialize
// their own writes; the registry never locks around a Send.
type Peer interface {
	Send(event string, payload any) error
}

// Session is one live transport connection belonging to a user. A user may
// own several simultaneously (multiple devices or tabs).
type Session struct {
	UserID string
	Peer   Peer
}

// Registry owns the user -> sessions map for its whole lifetime. Sessions are
// appended in registration order, so index 0 is always the oldest live one.
type Registry struct {
	mu       sync.Mutex
	sessions map[string][]*Session
}

func New() *Registry {
	return &Registry{sessions: make(map[string][]*Session)}
}

// Register adds a session for the user and returns it. An empty user id is an
// error condition: the caller must reject the connection instead.
func (r *Registry) Register(userID string, peer Peer) (*Session, error) {
	if userID == "" {
		return nil, ErrNoIdentity
	}
	s := &Session{UserID: userID, Peer: peer}

	r.mu.Lock()
	r.sessions[userID] = append(r.sessions[userID], s)
	r.mu.Unlock()
	return s, nil
}

// Remove drops a session from its owner's set, deleting the set once empty.
// Removing an unknown session is a no-op.
func (r *Registry) Remove(s *Session) {
	if s == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	list := r.sessions[s.UserID]
	for i, cur := range list {
		if cur == s {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(r.sessions, s.UserID)
		return
	}
	r.sessions[s.UserID] = list
}

// IsPresent reports whether the user owns at least one live session.
func (r *Registry) IsPresent(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions[userID]) > 0
}

// SessionCount returns how many live sessions the user owns.
func (r *Registry) SessionCount(userID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions[userID])
}

// DispatchToOne delivers the event to exactly one of the user's sessions, the
// first-registered live one. A user with three open tabs sees one pop-up, not
// three; the delivery record is what the other tabs catch up from. Returns
// false when the user has no sessions or every write failed, in which case the
// caller falls back to store-and-forward.
func (r *Registry) DispatchToOne(userID, event string, payload any) bool {
	r.mu.Lock()
	snapshot := make([]*Session, len(r.sessions[userID]))
	copy(snapshot, r.sessions[userID])
	r.mu.Unlock()

	// A dead first session should not swallow the delivery: walk the
	// registration order until one write succeeds.
	for _, s := range snapshot {
		if err := s.Peer.Send(event, payload); err == nil {
			return true
		}
	}
	return false
}

// BroadcastToAll delivers to every session of every user, for system-wide
// announcements.
func (r *Registry) BroadcastToAll(event string, payload any) {
	for _, s := range r.allSessions("") {
		_ = s.Peer.Send(event, payload)
	}
}

// BroadcastToOthers delivers to every session except those owned by the
// excluded user.
func (r *Registry) BroadcastToOthers(excludeUserID, event string, payload any) {
	for _, s := range r.allSessions(excludeUserID) {
		_ = s.Peer.Send(event, payload)
	}
}

func (r *Registry) allSessions(exclude string) []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*Session
	for userID, list := range r.sessions {
		if exclude != "" && userID == exclude {
			continue
		}
		out = append(out, list...)
	}
	return out
}
