// Package linkhub manages the logic tier's side of agent links: the
// WebSocket endpoint edge nodes connect to, the registry of open links, and
// the broadcast primitive that writes a command frame to every link.
package linkhub

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/loqui-im/loqui/pkg/protocol"
)

// frameWriter is the outbound half of a link. Implementations serialize
// concurrent writes; frames reach the remote end in write order.
type frameWriter interface {
	WriteFrame(f protocol.Frame) error
	Close() error
}

type link struct {
	id       string
	name     string
	hostName string
	writer   frameWriter
}

// wsWriter wraps a WebSocket connection with a write mutex.
type wsWriter struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (w *wsWriter) WriteFrame(f protocol.Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteMessage(websocket.TextMessage, data)
}

func (w *wsWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.Close()
}

// LinkInfo describes an open link for introspection.
type LinkInfo struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	HostName string `json:"host_name"`
}

// Hub owns the registry of open agent links. Entries exist only while the
// stream is open; nothing survives a process restart.
type Hub struct {
	logger       *slog.Logger
	upgrader     websocket.Upgrader
	maxFrameSize int64

	mu    sync.RWMutex
	links map[string]*link
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		logger: logger.With("component", "linkhub"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Links come from edge processes, not browsers.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		maxFrameSize: 1024 * 1024,
		links:        make(map[string]*link),
	}
}

// HandleLinkWS accepts an agent link stream from an edge node. The first
// frame must be link.hello; the link is then registered until the stream
// closes or a write to it fails.
func (h *Hub) HandleLinkWS(w http.ResponseWriter, req *http.Request) {
	conn, err := h.upgrader.Upgrade(w, req, nil)
	if err != nil {
		h.logger.Warn("link upgrade failed", "error", err)
		return
	}
	defer func() { _ = conn.Close() }()

	conn.SetReadLimit(h.maxFrameSize)

	_, msg, err := conn.ReadMessage()
	if err != nil {
		h.logger.Warn("link hello read failed", "error", err)
		return
	}

	var frame protocol.Frame
	if err := json.Unmarshal(msg, &frame); err != nil || frame.Type != protocol.TypeLinkHello {
		h.logger.Warn("expected link.hello as first frame", "error", err, "type", frame.Type)
		return
	}
	var hello protocol.LinkHello
	if err := json.Unmarshal(frame.Payload, &hello); err != nil {
		h.logger.Warn("link hello unmarshal failed", "error", err)
		return
	}

	writer := &wsWriter{conn: conn}

	if hello.Name == "" || hello.HostName == "" {
		h.ack(writer, false, "name and host_name are required")
		return
	}

	l := &link{
		id:       uuid.New().String(),
		name:     hello.Name,
		hostName: hello.HostName,
		writer:   writer,
	}

	// The ack must be the first frame on the stream: register only after it
	// is written, otherwise a concurrent Broadcast could slot a command frame
	// ahead of it and the edge would fail its handshake.
	if err := h.ack(writer, true, ""); err != nil {
		h.logger.Warn("link ack write failed", "error", err)
		return
	}

	h.mu.Lock()
	h.links[l.id] = l
	h.mu.Unlock()

	h.logger.Info("link opened", "link_id", l.id, "name", l.name, "host", l.hostName)

	cancelKeepalive := startWSKeepalive(conn, &writer.mu)
	defer cancelKeepalive()

	defer func() {
		// A broadcast write failure may have deregistered us already.
		h.mu.Lock()
		_, open := h.links[l.id]
		delete(h.links, l.id)
		h.mu.Unlock()
		if open {
			h.logger.Info("link closed", "link_id", l.id, "name", l.name)
		}
	}()

	// The edge→logic direction carries heartbeats only.
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			h.logger.Debug("link read error", "link_id", l.id, "error", err)
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))

		var inbound protocol.Frame
		if err := json.Unmarshal(msg, &inbound); err != nil {
			h.logger.Warn("invalid frame from link", "link_id", l.id, "error", err)
			continue
		}
		if inbound.Type == protocol.TypePing {
			if frame, err := protocol.NewFrame(protocol.TypePong, nil); err == nil {
				_ = writer.WriteFrame(frame)
			}
		}
	}
}

func (h *Hub) ack(w frameWriter, ok bool, msg string) error {
	frame, err := protocol.NewFrame(protocol.TypeHelloAck, protocol.HelloAck{OK: ok, Error: msg})
	if err != nil {
		return err
	}
	return w.WriteFrame(frame)
}

// Broadcast writes a frame to every open link. Writes are independent: one
// failing link is logged, closed and deregistered without affecting the rest.
// The call returns once every link has been attempted.
func (h *Hub) Broadcast(f protocol.Frame) {
	h.mu.RLock()
	links := make([]*link, 0, len(h.links))
	for _, l := range h.links {
		links = append(links, l)
	}
	h.mu.RUnlock()

	for _, l := range links {
		if err := l.writer.WriteFrame(f); err != nil {
			h.logger.Warn("link unavailable, deregistering",
				"link_id", l.id, "name", l.name, "error", err)
			h.remove(l.id)
			_ = l.writer.Close()
		}
	}
}

func (h *Hub) remove(id string) {
	h.mu.Lock()
	delete(h.links, id)
	h.mu.Unlock()
}

// Links returns a snapshot of the open links.
func (h *Hub) Links() []LinkInfo {
	h.mu.RLock()
	defer h.mu.RUnlock()
	infos := make([]LinkInfo, 0, len(h.links))
	for _, l := range h.links {
		infos = append(infos, LinkInfo{ID: l.id, Name: l.name, HostName: l.hostName})
	}
	return infos
}

// Len returns the number of open links.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.links)
}
