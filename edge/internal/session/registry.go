package session

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrDuplicateSessionID is a defensive check: session ids are assigned from a
// process-unique counter, so a collision indicates a bug, not client input.
var ErrDuplicateSessionID = errors.New("duplicate session id")

// Listener observes registry mutations. Listeners run synchronously, in
// registration order, after the mutation is visible to lookups and before the
// triggering Add/Remove returns.
type Listener interface {
	SessionAdded(s *Session)
	SessionRemoved(s *Session)
}

// Registry is the concurrent directory of live sessions on one edge node.
// A session id maps to at most one session; a uid may map to several
// (multi-device).
type Registry struct {
	logger *slog.Logger

	mu        sync.RWMutex
	byID      map[uint64]*Session
	byUID     map[string]map[uint64]*Session
	listeners []Listener
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		logger: logger.With("component", "session-registry"),
		byID:   make(map[uint64]*Session),
		byUID:  make(map[string]map[uint64]*Session),
	}
}

// RegisterListener adds a listener. Registration order is invocation order.
func (r *Registry) RegisterListener(l Listener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, l)
}

// Add registers the session by id and indexes it by uid, then notifies
// listeners. Anonymous sessions are registered by id only.
func (r *Registry) Add(s *Session) error {
	r.mu.Lock()
	if _, exists := r.byID[s.ID]; exists {
		r.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrDuplicateSessionID, s.ID)
	}
	r.byID[s.ID] = s
	if s.UID != "" {
		set := r.byUID[s.UID]
		if set == nil {
			set = make(map[uint64]*Session)
			r.byUID[s.UID] = set
		}
		set[s.ID] = s
	}
	listeners := r.listeners
	r.mu.Unlock()

	for _, l := range listeners {
		l.SessionAdded(s)
	}
	r.logger.Debug("session added", "session_id", s.ID, "uid", s.UID)
	return nil
}

// Remove deletes the session from both indices and notifies listeners.
// Removing an absent session is a no-op and fires no events.
func (r *Registry) Remove(s *Session) {
	r.mu.Lock()
	if _, exists := r.byID[s.ID]; !exists {
		r.mu.Unlock()
		return
	}
	delete(r.byID, s.ID)
	if s.UID != "" {
		if set, ok := r.byUID[s.UID]; ok {
			delete(set, s.ID)
			if len(set) == 0 {
				delete(r.byUID, s.UID)
			}
		}
	}
	listeners := r.listeners
	r.mu.Unlock()

	for _, l := range listeners {
		l.SessionRemoved(s)
	}
	r.logger.Debug("session removed", "session_id", s.ID, "uid", s.UID)
}

// FindByUID returns a snapshot of the live sessions for a uid.
func (r *Registry) FindByUID(uid string) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.byUID[uid]
	sessions := make([]*Session, 0, len(set))
	for _, s := range set {
		sessions = append(sessions, s)
	}
	return sessions
}

// FindByID returns the session with the given id, if registered.
func (r *Registry) FindByID(id uint64) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byID[id]
	return s, ok
}

// Snapshot returns all currently registered sessions.
func (r *Registry) Snapshot() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sessions := make([]*Session, 0, len(r.byID))
	for _, s := range r.byID {
		sessions = append(sessions, s)
	}
	return sessions
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}
