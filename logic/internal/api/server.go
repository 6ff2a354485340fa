// Package api provides the logic tier's HTTP surface: the message-send and
// group-membership use cases consumed by edge nodes, the agent link WebSocket
// mount, and health endpoints.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/loqui-im/loqui/logic/internal/store"
	"github.com/loqui-im/loqui/logic/linkhub"
	"github.com/loqui-im/loqui/pkg/auth"
	"github.com/loqui-im/loqui/pkg/idgen"
	"github.com/loqui-im/loqui/pkg/packet"
	"github.com/loqui-im/loqui/pkg/protocol"
)

// PacketSender fans packets out to edge nodes.
type PacketSender interface {
	SendToUsers(uids []string, p packet.Packet) error
	SendToGroups(gids []string, p packet.Packet) error
	SendToAll(p packet.Packet) error
}

// Server is the logic tier HTTP server.
type Server struct {
	store        store.Store
	authProvider auth.Provider
	sender       PacketSender
	links        *linkhub.Hub
	ids          idgen.MessageIDGenerator
	logger       *slog.Logger
	mux          *chi.Mux
	maxBodyBytes int64
}

// NewServer wires the API routes.
func NewServer(s store.Store, ap auth.Provider, snd PacketSender, links *linkhub.Hub, ids idgen.MessageIDGenerator, logger *slog.Logger) *Server {
	srv := &Server{
		store:        s,
		authProvider: ap,
		sender:       snd,
		links:        links,
		ids:          ids,
		logger:       logger.With("component", "api"),
		maxBodyBytes: 64 * 1024,
	}

	mux := chi.NewRouter()
	mux.Use(chimw.Recoverer)
	mux.Use(chimw.RealIP)

	mux.Get("/healthz", srv.handleHealthz)
	mux.Get("/readyz", srv.handleReadyz)

	// Agent link streams (edge processes, authenticated at hello).
	mux.Get("/ws/link", links.HandleLinkWS)

	mux.Group(func(r chi.Router) {
		r.Use(srv.authMiddleware)

		r.Post("/api/messages", srv.handleSendMessage)
		r.Post("/api/broadcasts", srv.handleBroadcast)
		r.Put("/api/groups/{gid}/members/{uid}", srv.handleJoinGroup)
		r.Delete("/api/groups/{gid}/members/{uid}", srv.handleLeaveGroup)
		r.Get("/api/users/{uid}/groups", srv.handleUserGroups)
		r.Get("/api/links", srv.handleListLinks)
	})

	srv.mux = mux
	return srv
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.mux }

type ctxKey string

const identityKey ctxKey = "identity"

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get("Authorization")
		token = strings.TrimPrefix(token, "Bearer ")
		if token == "" {
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
			return
		}
		identity, err := s.authProvider.ValidateToken(r.Context(), token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized", "invalid token")
			return
		}
		ctx := context.WithValue(r.Context(), identityKey, identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func identityFrom(r *http.Request) *auth.Identity {
	id, _ := r.Context().Value(identityKey).(*auth.Identity)
	return id
}

// handleSendMessage accepts a client packet (private or group message),
// assigns the authoritative message id, archives it, and fans it out.
func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r, s.maxBodyBytes)
	if err != nil {
		return
	}

	p, err := packet.Decode(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed_packet", err.Error())
		return
	}

	identity := identityFrom(r)
	messageID := s.ids.NextID()

	var rec *store.Message
	switch v := p.(type) {
	case *packet.PrivateMessage:
		v.MessageID = messageID
		if !identity.Service {
			v.From = identity.UID
		}
		rec = &store.Message{ID: messageID, Ns: v.Ns(), From: v.From, To: v.To,
			Kind: string(v.Kind), Content: v.Content, ContentType: string(v.ContentType)}
	case *packet.GroupMessage:
		v.MessageID = messageID
		if !identity.Service {
			v.From = identity.UID
		}
		rec = &store.Message{ID: messageID, Ns: v.Ns(), From: v.From, To: v.To,
			Kind: string(v.Kind), Content: v.Content, ContentType: string(v.ContentType)}
	default:
		writeError(w, http.StatusBadRequest, "unsupported_packet", "only p.message and g.message can be sent")
		return
	}

	if err := packet.Validate(p); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "validation_failed", err.Error())
		return
	}

	rec.CreatedAt = time.Now()
	if err := s.store.SaveMessage(r.Context(), rec); err != nil {
		s.logger.Warn("message archive failed", "message_id", messageID, "error", err)
		writeError(w, http.StatusInternalServerError, "persist_failed", "failed to archive message")
		return
	}

	switch v := p.(type) {
	case *packet.PrivateMessage:
		err = s.sender.SendToUsers([]string{v.To}, v)
	case *packet.GroupMessage:
		err = s.sender.SendToGroups([]string{v.To}, v)
	}
	if err != nil {
		s.logger.Warn("fan-out failed", "message_id", messageID, "error", err)
		writeError(w, http.StatusInternalServerError, "send_failed", "failed to broadcast message")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"message_id": messageID})
}

type broadcastRequest struct {
	Kind        packet.Kind        `json:"kind"`
	Content     string             `json:"content"`
	ContentType packet.ContentType `json:"content_type,omitempty"`
}

// handleBroadcast pushes a system message to every live session.
func (s *Server) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r, s.maxBodyBytes)
	if err != nil {
		return
	}
	var req broadcastRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed_request", err.Error())
		return
	}

	msg := &packet.SystemMessage{
		MessageID:   s.ids.NextID(),
		Kind:        req.Kind,
		Content:     req.Content,
		ContentType: req.ContentType,
	}
	if msg.Kind == "" {
		msg.Kind = packet.KindNotice
	}
	if err := packet.Validate(msg); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "validation_failed", err.Error())
		return
	}

	if err := s.sender.SendToAll(msg); err != nil {
		writeError(w, http.StatusInternalServerError, "send_failed", "failed to broadcast")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"message_id": msg.MessageID})
}

// handleJoinGroup records the membership and tells every edge node to
// subscribe the uid's live sessions.
func (s *Server) handleJoinGroup(w http.ResponseWriter, r *http.Request) {
	gid := chi.URLParam(r, "gid")
	uid := chi.URLParam(r, "uid")
	if gid == "" || uid == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "group id and uid are required")
		return
	}

	if err := s.store.AddGroupMember(r.Context(), gid, uid); err != nil {
		writeError(w, http.StatusInternalServerError, "persist_failed", "failed to record membership")
		return
	}
	s.broadcastCommand(&protocol.SubGroup{UID: uid, GIDs: []string{gid}})
	writeJSON(w, http.StatusOK, map[string]string{"status": "joined"})
}

// handleLeaveGroup is the inverse of handleJoinGroup.
func (s *Server) handleLeaveGroup(w http.ResponseWriter, r *http.Request) {
	gid := chi.URLParam(r, "gid")
	uid := chi.URLParam(r, "uid")
	if gid == "" || uid == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "group id and uid are required")
		return
	}

	if err := s.store.RemoveGroupMember(r.Context(), gid, uid); err != nil {
		writeError(w, http.StatusInternalServerError, "persist_failed", "failed to record membership")
		return
	}
	s.broadcastCommand(&protocol.UnsubGroup{UID: uid, GIDs: []string{gid}})
	writeJSON(w, http.StatusOK, map[string]string{"status": "left"})
}

// handleUserGroups answers the membership query edge nodes make when a
// session connects.
func (s *Server) handleUserGroups(w http.ResponseWriter, r *http.Request) {
	uid := chi.URLParam(r, "uid")
	groups, err := s.store.GroupsOfUser(r.Context(), uid)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "query_failed", "failed to query memberships")
		return
	}
	if groups == nil {
		groups = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"groups": groups})
}

// broadcastCommand sends a control command to every open link. Subscription
// changes are best-effort toward edges that are momentarily unreachable; their
// sessions re-sync memberships on reconnect.
func (s *Server) broadcastCommand(cmd protocol.Command) {
	frame, err := protocol.CommandFrame(cmd)
	if err != nil {
		s.logger.Warn("encode command failed", "error", err)
		return
	}
	s.links.Broadcast(frame)
}

func (s *Server) handleListLinks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"links": s.links.Links()})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.store.Ping(ctx); err != nil {
		writeError(w, http.StatusServiceUnavailable, "not_ready", "storage unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func readBody(w http.ResponseWriter, r *http.Request, limit int64) ([]byte, error) {
	body := http.MaxBytesReader(w, r.Body, limit)
	defer body.Close()
	data, err := io.ReadAll(body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "body_too_large", "request body exceeds limit")
		} else {
			writeError(w, http.StatusBadRequest, "read_failed", "failed to read request body")
		}
		return nil, err
	}
	return data, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, map[string]string{"code": code, "message": msg})
}
