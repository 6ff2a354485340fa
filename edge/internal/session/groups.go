package session

import "sync"

// GroupIndex maps group ids to the local sessions subscribed to them. It
// holds weak back-references only: the auto-subscriber drops a session's
// entries on registry removal, and the router drops them again on delivery
// failure, so an entry never outlives the session for long.
type GroupIndex struct {
	mu      sync.RWMutex
	byGroup map[string]map[uint64]*Session
}

// NewGroupIndex creates an empty index.
func NewGroupIndex() *GroupIndex {
	return &GroupIndex{byGroup: make(map[string]map[uint64]*Session)}
}

// SubGroups adds the session to each group's set and records the group ids on
// the session. Duplicate subscriptions are no-ops.
func (g *GroupIndex) SubGroups(s *Session, gids []string) {
	if len(gids) == 0 {
		return
	}
	g.mu.Lock()
	for _, gid := range gids {
		set := g.byGroup[gid]
		if set == nil {
			set = make(map[uint64]*Session)
			g.byGroup[gid] = set
		}
		set[s.ID] = s
	}
	g.mu.Unlock()

	s.addGroups(gids)
}

// UnsubGroups removes the session from each group's set. Unsubscribing from a
// group the session never joined is a no-op.
func (g *GroupIndex) UnsubGroups(s *Session, gids []string) {
	if len(gids) == 0 {
		return
	}
	g.mu.Lock()
	for _, gid := range gids {
		if set, ok := g.byGroup[gid]; ok {
			delete(set, s.ID)
			if len(set) == 0 {
				delete(g.byGroup, gid)
			}
		}
	}
	g.mu.Unlock()

	s.removeGroups(gids)
}

// UnsubAll removes the session from every group it is subscribed to.
func (g *GroupIndex) UnsubAll(s *Session) {
	g.UnsubGroups(s, s.Groups())
}

// FindByGroupID returns a snapshot of the sessions subscribed to a group.
func (g *GroupIndex) FindByGroupID(gid string) []*Session {
	g.mu.RLock()
	defer g.mu.RUnlock()
	set := g.byGroup[gid]
	sessions := make([]*Session, 0, len(set))
	for _, s := range set {
		sessions = append(sessions, s)
	}
	return sessions
}
