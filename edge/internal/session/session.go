// Package session holds the edge node's in-memory view of live client
// connections: the session registry, the group subscription index, and the
// auto-subscription listener that keeps the two aligned on connect and
// disconnect. Both structures are owned by the edge process and are never
// shared across nodes.
package session

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// Transport pushes encoded frames to the remote client. A session's transport
// is exclusively owned by that session; implementations must serialize writes.
type Transport interface {
	Write(data []byte) error
	Close() error
}

// AuthContext exposes the identity attached to a connection. Anonymous
// contexts fail UID/Token lookups but remain queryable via IsAnonymous.
type AuthContext interface {
	UID() (string, error)
	Token() (string, error)
	IsAnonymous() bool
}

// ErrAnonymous is returned when identity is read from an anonymous context.
var ErrAnonymous = errors.New("anonymous session has no identity")

type anonymousContext struct{}

func (anonymousContext) UID() (string, error)   { return "", ErrAnonymous }
func (anonymousContext) Token() (string, error) { return "", ErrAnonymous }
func (anonymousContext) IsAnonymous() bool      { return true }

// Anonymous returns the auth context for an unauthenticated connection.
func Anonymous() AuthContext { return anonymousContext{} }

type tokenContext struct {
	uid   string
	token string
}

func (c tokenContext) UID() (string, error)   { return c.uid, nil }
func (c tokenContext) Token() (string, error) { return c.token, nil }
func (c tokenContext) IsAnonymous() bool      { return false }

// Authenticated returns the auth context for a validated connection.
func Authenticated(uid, token string) AuthContext {
	return tokenContext{uid: uid, token: token}
}

var nextSessionID atomic.Uint64

// Session is one live client connection plus its identity and subscriptions.
type Session struct {
	ID        uint64
	UID       string // empty until authenticated
	Auth      AuthContext
	CreatedAt time.Time

	transport Transport

	mu     sync.Mutex
	groups map[string]struct{}
}

// New creates a session around a transport. The session id is process-unique
// and assigned here, once.
func New(auth AuthContext, transport Transport) *Session {
	uid := ""
	if !auth.IsAnonymous() {
		uid, _ = auth.UID()
	}
	return &Session{
		ID:        nextSessionID.Add(1),
		UID:       uid,
		Auth:      auth,
		CreatedAt: time.Now(),
		transport: transport,
		groups:    make(map[string]struct{}),
	}
}

// Write pushes encoded bytes to the client.
func (s *Session) Write(data []byte) error { return s.transport.Write(data) }

// Close tears down the underlying transport.
func (s *Session) Close() error { return s.transport.Close() }

// Groups returns a snapshot of the session's subscribed group ids.
func (s *Session) Groups() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	gids := make([]string, 0, len(s.groups))
	for gid := range s.groups {
		gids = append(gids, gid)
	}
	return gids
}

// addGroups and removeGroups are called only by the GroupIndex, which owns
// subscription bookkeeping on the session's behalf.

func (s *Session) addGroups(gids []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, gid := range gids {
		s.groups[gid] = struct{}{}
	}
}

func (s *Session) removeGroups(gids []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, gid := range gids {
		delete(s.groups, gid)
	}
}
