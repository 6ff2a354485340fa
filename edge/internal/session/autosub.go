package session

import (
	"context"
	"log/slog"
	"time"
)

// MembershipSource answers which groups a uid belongs to. On the edge this is
// backed by a logic-tier query; tests supply an in-memory fake.
type MembershipSource interface {
	GroupsOf(ctx context.Context, uid string) ([]string, error)
}

// AutoSubscriber is a registry listener that subscribes a newly connected
// uid's session to its groups and cleans the index up on disconnect.
type AutoSubscriber struct {
	source  MembershipSource
	groups  *GroupIndex
	timeout time.Duration
	logger  *slog.Logger
}

// NewAutoSubscriber creates the listener. queryTimeout bounds the membership
// lookup on connect; zero means 5s.
func NewAutoSubscriber(source MembershipSource, groups *GroupIndex, queryTimeout time.Duration, logger *slog.Logger) *AutoSubscriber {
	if queryTimeout == 0 {
		queryTimeout = 5 * time.Second
	}
	return &AutoSubscriber{
		source:  source,
		groups:  groups,
		timeout: queryTimeout,
		logger:  logger.With("component", "auto-subscriber"),
	}
}

// SessionAdded subscribes the session to its uid's groups. Anonymous sessions
// have no memberships and are skipped. A failed lookup leaves the session
// connected but unsubscribed; group delivery resumes after reconnect.
func (a *AutoSubscriber) SessionAdded(s *Session) {
	if s.UID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()

	gids, err := a.source.GroupsOf(ctx, s.UID)
	if err != nil {
		a.logger.Warn("membership lookup failed", "uid", s.UID, "session_id", s.ID, "error", err)
		return
	}
	a.groups.SubGroups(s, gids)
	a.logger.Debug("auto-subscribed", "uid", s.UID, "session_id", s.ID, "groups", len(gids))
}

// SessionRemoved drops the session from every group set so the index never
// references a session absent from the registry.
func (a *AutoSubscriber) SessionRemoved(s *Session) {
	a.groups.UnsubAll(s)
}
