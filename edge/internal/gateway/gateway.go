// Package gateway terminates client WebSocket connections on the edge node.
// Each accepted connection becomes a session in the registry; inbound packets
// are validated and relayed to the logic tier, outbound delivery happens via
// the command handlers writing through the session transport.
package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/loqui-im/loqui/edge/internal/session"
	"github.com/loqui-im/loqui/pkg/auth"
	"github.com/loqui-im/loqui/pkg/packet"
)

// MessageSink relays client packets to the logic tier and returns the
// authoritative message id.
type MessageSink interface {
	SendMessage(ctx context.Context, p packet.Packet) (string, error)
}

const (
	maxClientFrameSize = 256 * 1024
	relayTimeout       = 10 * time.Second
)

// wsTransport adapts a client WebSocket connection to the session transport.
type wsTransport struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (t *wsTransport) Write(data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

func (t *wsTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn.Close()
}

// Gateway is the client-facing WebSocket endpoint.
type Gateway struct {
	registry     *session.Registry
	sink         MessageSink
	authProvider auth.Provider
	logger       *slog.Logger
	upgrader     websocket.Upgrader
}

// NewGateway creates the endpoint. authProvider may be nil, in which case
// every connection is anonymous (receive-only).
func NewGateway(registry *session.Registry, sink MessageSink, authProvider auth.Provider, logger *slog.Logger) *Gateway {
	return &Gateway{
		registry:     registry,
		sink:         sink,
		authProvider: authProvider,
		logger:       logger.With("component", "gateway"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// HandleClientWS upgrades a client connection and runs its read loop until
// the client disconnects. Authentication is via ?token= query param with an
// Authorization header fallback; a missing token yields an anonymous
// receive-only session, an invalid one is rejected before the upgrade.
func (g *Gateway) HandleClientWS(w http.ResponseWriter, r *http.Request) {
	authCtx, err := g.authenticate(r)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn("client upgrade failed", "error", err)
		return
	}
	conn.SetReadLimit(maxClientFrameSize)

	transport := &wsTransport{conn: conn}
	sess := session.New(authCtx, transport)

	if err := g.registry.Add(sess); err != nil {
		g.logger.Error("session add failed", "session_id", sess.ID, "error", err)
		_ = transport.Close()
		return
	}
	defer func() {
		g.registry.Remove(sess)
		_ = transport.Close()
	}()

	g.logger.Info("client connected", "session_id", sess.ID, "uid", sess.UID)

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			g.logger.Debug("client read error", "session_id", sess.ID, "error", err)
			return
		}
		g.handleInbound(r.Context(), sess, msg)
	}
}

func (g *Gateway) authenticate(r *http.Request) (session.AuthContext, error) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	}
	if token == "" {
		return session.Anonymous(), nil
	}
	if g.authProvider == nil {
		return nil, errors.New("no auth provider configured")
	}
	identity, err := g.authProvider.ValidateToken(r.Context(), token)
	if err != nil {
		return nil, err
	}
	return session.Authenticated(identity.UID, token), nil
}

// handleInbound decodes, validates and relays one client packet. Failures are
// reported back to this client only; the connection stays open.
func (g *Gateway) handleInbound(ctx context.Context, sess *session.Session, msg []byte) {
	p, err := packet.Decode(msg)
	if err != nil {
		g.writeError(sess, "malformed_packet", "could not decode packet")
		return
	}

	switch p.(type) {
	case *packet.PrivateMessage, *packet.GroupMessage:
	default:
		g.writeError(sess, "unsupported_packet", "clients may send p.message and g.message only")
		return
	}

	if err := packet.Validate(p); err != nil {
		g.writeError(sess, "validation_failed", err.Error())
		return
	}

	if sess.Auth.IsAnonymous() {
		g.writeError(sess, "unauthorized", "anonymous sessions cannot send messages")
		return
	}

	// Stamp the sender; the packet's own from field is untrusted.
	clientMessageID := ""
	switch v := p.(type) {
	case *packet.PrivateMessage:
		clientMessageID = v.MessageID
		v.From = sess.UID
	case *packet.GroupMessage:
		clientMessageID = v.MessageID
		v.From = sess.UID
	}

	relayCtx, cancel := context.WithTimeout(ctx, relayTimeout)
	defer cancel()

	messageID, err := g.sink.SendMessage(relayCtx, p)
	if err != nil {
		g.logger.Warn("relay failed", "session_id", sess.ID, "error", err)
		g.writeError(sess, "relay_failed", "message could not be accepted")
		return
	}

	// Ack carries the authoritative id; content echoes the client's own id so
	// it can correlate.
	ack := &packet.SystemMessage{
		MessageID: messageID,
		To:        sess.UID,
		Kind:      packet.KindAck,
		Content:   clientMessageID,
	}
	g.writePacket(sess, ack)
}

func (g *Gateway) writeError(sess *session.Session, code, message string) {
	g.writePacket(sess, &packet.ErrorPacket{Code: code, Message: message})
}

func (g *Gateway) writePacket(sess *session.Session, p packet.Packet) {
	data, err := packet.Encode(p)
	if err != nil {
		g.logger.Error("encode packet failed", "error", err)
		return
	}
	if err := sess.Write(data); err != nil {
		g.logger.Debug("client write failed", "session_id", sess.ID, "error", err)
	}
}
