package handler

import (
	"log/slog"

	"github.com/loqui-im/loqui/edge/internal/session"
	"github.com/loqui-im/loqui/pkg/protocol"
)

// Handler reacts to one command variant. A handler receiving a command it
// does not recognize is a no-op, never an error: commands without a payload
// for this node are silently ignored.
type Handler interface {
	Handle(cmd protocol.Command)
}

// Dispatcher fans an inbound command to every registered handler.
type Dispatcher struct {
	handlers []Handler
}

// NewDispatcher creates a dispatcher over the given handlers.
func NewDispatcher(handlers ...Handler) *Dispatcher {
	return &Dispatcher{handlers: handlers}
}

// Dispatch hands the command to each handler in order.
func (d *Dispatcher) Dispatch(cmd protocol.Command) {
	for _, h := range d.handlers {
		h.Handle(cmd)
	}
}

// PushHandler delivers pushed packets to whichever targets exist locally.
type PushHandler struct {
	registry *session.Registry
	groups   *session.GroupIndex
	router   *Router
	logger   *slog.Logger
}

// NewPushHandler creates the push handler.
func NewPushHandler(registry *session.Registry, groups *session.GroupIndex, router *Router, logger *slog.Logger) *PushHandler {
	return &PushHandler{
		registry: registry,
		groups:   groups,
		router:   router,
		logger:   logger.With("component", "push-handler"),
	}
}

func (h *PushHandler) Handle(cmd protocol.Command) {
	push, ok := cmd.(*protocol.Push)
	if !ok {
		return
	}

	if push.BroadcastAll {
		h.router.Deliver(h.registry.Snapshot(), push.Packet)
		return
	}

	// A session can match both a target uid and a target group; dedupe by
	// session id so each local session receives the packet exactly once.
	candidates := make(map[uint64]*session.Session)
	for _, uid := range push.TargetUIDs {
		for _, s := range h.registry.FindByUID(uid) {
			candidates[s.ID] = s
		}
	}
	for _, gid := range push.TargetGIDs {
		for _, s := range h.groups.FindByGroupID(gid) {
			candidates[s.ID] = s
		}
	}
	if len(candidates) == 0 {
		// None of the targets live here; other nodes handle them.
		return
	}

	sessions := make([]*session.Session, 0, len(candidates))
	for _, s := range candidates {
		sessions = append(sessions, s)
	}
	delivered := h.router.Deliver(sessions, push.Packet)
	h.logger.Debug("push delivered", "candidates", len(sessions), "delivered", delivered)
}

// SubGroupHandler applies logic-initiated group subscriptions to the local
// sessions of the named uid.
type SubGroupHandler struct {
	registry *session.Registry
	groups   *session.GroupIndex
}

// NewSubGroupHandler creates the subscribe handler.
func NewSubGroupHandler(registry *session.Registry, groups *session.GroupIndex) *SubGroupHandler {
	return &SubGroupHandler{registry: registry, groups: groups}
}

func (h *SubGroupHandler) Handle(cmd protocol.Command) {
	sub, ok := cmd.(*protocol.SubGroup)
	if !ok {
		return
	}
	for _, s := range h.registry.FindByUID(sub.UID) {
		h.groups.SubGroups(s, sub.GIDs)
	}
}

// UnsubGroupHandler is the inverse of SubGroupHandler.
type UnsubGroupHandler struct {
	registry *session.Registry
	groups   *session.GroupIndex
}

// NewUnsubGroupHandler creates the unsubscribe handler.
func NewUnsubGroupHandler(registry *session.Registry, groups *session.GroupIndex) *UnsubGroupHandler {
	return &UnsubGroupHandler{registry: registry, groups: groups}
}

func (h *UnsubGroupHandler) Handle(cmd protocol.Command) {
	unsub, ok := cmd.(*protocol.UnsubGroup)
	if !ok {
		return
	}
	for _, s := range h.registry.FindByUID(unsub.UID) {
		h.groups.UnsubGroups(s, unsub.GIDs)
	}
}
