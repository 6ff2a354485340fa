// Package handler applies inbound agent link commands against the edge
// node's local registries and routes packets to matching client sessions.
package handler

import (
	"log/slog"

	"github.com/loqui-im/loqui/edge/internal/session"
)

// Router delivers encoded packets to local sessions. A failed write to one
// session never blocks or fails delivery to the others; the failing session
// is closed and removed from the registry and the group index.
type Router struct {
	registry *session.Registry
	groups   *session.GroupIndex
	logger   *slog.Logger
}

// NewRouter creates a message router over the registry and group index.
func NewRouter(registry *session.Registry, groups *session.GroupIndex, logger *slog.Logger) *Router {
	return &Router{
		registry: registry,
		groups:   groups,
		logger:   logger.With("component", "message-router"),
	}
}

// Route delivers data to every registered session the predicate matches.
// Returns the number of successful writes.
func (r *Router) Route(data []byte, match func(*session.Session) bool) int {
	delivered := 0
	for _, s := range r.registry.Snapshot() {
		if !match(s) {
			continue
		}
		if r.deliver(s, data) {
			delivered++
		}
	}
	return delivered
}

// Deliver writes data to a precomputed candidate set with the same
// per-session failure isolation as Route.
func (r *Router) Deliver(sessions []*session.Session, data []byte) int {
	delivered := 0
	for _, s := range sessions {
		if r.deliver(s, data) {
			delivered++
		}
	}
	return delivered
}

func (r *Router) deliver(s *session.Session, data []byte) bool {
	if err := s.Write(data); err != nil {
		r.logger.Warn("session delivery failed, dropping session",
			"session_id", s.ID, "uid", s.UID, "error", err)
		// Remove fires the removal listeners only while the session is still
		// registered. A subscribe racing with an earlier removal can leave a
		// stale group entry behind, so purge the index directly as well.
		r.registry.Remove(s)
		r.groups.UnsubAll(s)
		_ = s.Close()
		return false
	}
	return true
}
