package sender

import (
	"log/slog"
	"os"
	"testing"

	"github.com/loqui-im/loqui/pkg/packet"
	"github.com/loqui-im/loqui/pkg/protocol"
)

type fakeBroadcaster struct {
	frames []protocol.Frame
}

func (b *fakeBroadcaster) Broadcast(f protocol.Frame) { b.frames = append(b.frames, f) }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func lastPush(t *testing.T, b *fakeBroadcaster) *protocol.Push {
	t.Helper()
	if len(b.frames) == 0 {
		t.Fatal("no frames broadcast")
	}
	frame := b.frames[len(b.frames)-1]
	if frame.Type != protocol.TypePush {
		t.Fatalf("expected push frame, got %s", frame.Type)
	}
	cmd, err := protocol.ParseCommand(frame)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	push, ok := cmd.(*protocol.Push)
	if !ok {
		t.Fatalf("expected *Push, got %T", cmd)
	}
	return push
}

func testMessage(t *testing.T) packet.Packet {
	t.Helper()
	return &packet.PrivateMessage{
		MessageID: "m1", From: "alice", To: "bob",
		Kind: packet.KindChat, Content: "hi", ContentType: packet.ContentText,
	}
}

func TestSendToUsers(t *testing.T) {
	b := &fakeBroadcaster{}
	s := New(b, testLogger())

	if err := s.SendToUsers([]string{"bob", "carol"}, testMessage(t)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	push := lastPush(t, b)
	if len(push.TargetUIDs) != 2 || push.TargetUIDs[0] != "bob" {
		t.Errorf("unexpected targets: %v", push.TargetUIDs)
	}
	if push.BroadcastAll || len(push.TargetGIDs) != 0 {
		t.Errorf("unexpected extra targeting: %+v", push)
	}

	// The carried packet is the client wire encoding.
	p, err := packet.Decode(push.Packet)
	if err != nil {
		t.Fatalf("decode carried packet: %v", err)
	}
	if pm, ok := p.(*packet.PrivateMessage); !ok || pm.To != "bob" {
		t.Errorf("unexpected carried packet: %+v", p)
	}
}

func TestSendToGroups(t *testing.T) {
	b := &fakeBroadcaster{}
	s := New(b, testLogger())

	if err := s.SendToGroups([]string{"7"}, testMessage(t)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	push := lastPush(t, b)
	if len(push.TargetGIDs) != 1 || push.TargetGIDs[0] != "7" {
		t.Errorf("unexpected targets: %v", push.TargetGIDs)
	}
}

func TestSendToAll(t *testing.T) {
	b := &fakeBroadcaster{}
	s := New(b, testLogger())

	if err := s.SendToAll(testMessage(t)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	push := lastPush(t, b)
	if !push.BroadcastAll {
		t.Error("expected broadcast_all")
	}
}

func TestSend_OneFramePerCall(t *testing.T) {
	b := &fakeBroadcaster{}
	s := New(b, testLogger())

	if err := s.SendToUsers([]string{"a", "b", "c"}, testMessage(t)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(b.frames) != 1 {
		t.Errorf("expected exactly one frame, got %d", len(b.frames))
	}
}
