package link

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/loqui-im/loqui/logic/linkhub"
	"github.com/loqui-im/loqui/pkg/protocol"
)

type fakeSink struct {
	mu   sync.Mutex
	cmds []protocol.Command
}

func (s *fakeSink) Dispatch(cmd protocol.Command) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cmds = append(s.cmds, cmd)
}

func (s *fakeSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.cmds)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func startLogicTier(t *testing.T) (*linkhub.Hub, string) {
	t.Helper()
	hub := linkhub.NewHub(testLogger())
	mux := http.NewServeMux()
	mux.HandleFunc("/ws/link", hub.HandleLinkWS)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return hub, "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/link"
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met within deadline")
}

func TestClient_ReceivesBroadcastCommands(t *testing.T) {
	hub, url := startLogicTier(t)
	sink := &fakeSink{}
	client := NewClient(url, Options{Name: "edge-1", HostName: "n1"}, sink, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = client.Run(ctx) }()

	waitFor(t, func() bool { return hub.Len() == 1 })

	frame, err := protocol.CommandFrame(&protocol.Push{
		Packet:     json.RawMessage(`{"@ns":"s.message","message_id":"m1","to":"bob","kind":"ack","content":"x"}`),
		TargetUIDs: []string{"bob"},
	})
	if err != nil {
		t.Fatalf("frame: %v", err)
	}
	hub.Broadcast(frame)

	waitFor(t, func() bool { return sink.count() == 1 })

	sink.mu.Lock()
	push, ok := sink.cmds[0].(*protocol.Push)
	sink.mu.Unlock()
	if !ok {
		t.Fatalf("expected *Push, got %T", sink.cmds[0])
	}
	if len(push.TargetUIDs) != 1 || push.TargetUIDs[0] != "bob" {
		t.Errorf("unexpected targets: %v", push.TargetUIDs)
	}
}

func TestClient_UnknownFrameDispatchedAsUnknown(t *testing.T) {
	hub, url := startLogicTier(t)
	sink := &fakeSink{}
	client := NewClient(url, Options{Name: "edge-1", HostName: "n1"}, sink, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = client.Run(ctx) }()

	waitFor(t, func() bool { return hub.Len() == 1 })

	hub.Broadcast(protocol.Frame{Type: "mute_user", Timestamp: time.Now(), Payload: json.RawMessage(`{}`)})

	waitFor(t, func() bool { return sink.count() == 1 })
	sink.mu.Lock()
	_, ok := sink.cmds[0].(*protocol.Unknown)
	sink.mu.Unlock()
	if !ok {
		t.Errorf("expected *Unknown for future frame type")
	}
}

func TestClient_SilentLinkTriggersReconnect(t *testing.T) {
	// A server that acks the hello and then goes mute: no frames, no pings,
	// heartbeats swallowed. The client must tear the link down and redial.
	var dials atomic.Int32
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		dials.Add(1)
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		ack, _ := protocol.NewFrame(protocol.TypeHelloAck, protocol.HelloAck{OK: true})
		data, _ := json.Marshal(ack)
		_ = conn.WriteMessage(websocket.TextMessage, data)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(server.Close)
	url := "ws" + strings.TrimPrefix(server.URL, "http")

	client := NewClient(url, Options{
		Name: "edge-1", HostName: "n1",
		BackoffMin: 10 * time.Millisecond, BackoffMax: 20 * time.Millisecond,
		HeartbeatInterval: 20 * time.Millisecond,
	}, &fakeSink{}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = client.Run(ctx) }()

	waitFor(t, func() bool { return dials.Load() >= 2 })
}

func TestClient_RunStopsOnCancel(t *testing.T) {
	// Unreachable target: Run sits in its backoff loop until canceled.
	sink := &fakeSink{}
	client := NewClient("ws://127.0.0.1:1/ws/link", Options{
		Name: "edge-1", HostName: "n1",
		BackoffMin: 10 * time.Millisecond, BackoffMax: 20 * time.Millisecond,
	}, sink, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- client.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

func TestManager_ParsesTargets(t *testing.T) {
	m := NewManager("ws://a/ws/link, ws://b/ws/link,,  ws://c/ws/link", Options{Name: "e", HostName: "h"}, &fakeSink{}, testLogger())
	if m.Targets() != 3 {
		t.Errorf("expected 3 targets, got %d", m.Targets())
	}
}

func TestManager_RunStopsOnCancel(t *testing.T) {
	m := NewManager("ws://127.0.0.1:1/a,ws://127.0.0.1:1/b", Options{
		Name: "e", HostName: "h",
		BackoffMin: 10 * time.Millisecond, BackoffMax: 20 * time.Millisecond,
	}, &fakeSink{}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { m.Run(ctx); close(done) }()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("manager did not stop after cancel")
	}
}
