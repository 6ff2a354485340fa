package link

import (
	"context"
	"sync"
	"testing"

	"github.com/loqui-im/loqui/edge/internal/handler"
	"github.com/loqui-im/loqui/edge/internal/session"
	"github.com/loqui-im/loqui/pkg/packet"
	"github.com/loqui-im/loqui/pkg/protocol"
)

type memTransport struct {
	mu     sync.Mutex
	writes [][]byte
}

func (t *memTransport) Write(data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.writes = append(t.writes, append([]byte(nil), data...))
	return nil
}

func (t *memTransport) Close() error { return nil }

func (t *memTransport) writeCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.writes)
}

func (t *memTransport) first() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.writes[0]
}

// End to end: a group message broadcast by the logic tier crosses a real
// WebSocket link and reaches exactly the subscribed local session, once.
func TestGroupPushDeliveredAcrossLink(t *testing.T) {
	hub, url := startLogicTier(t)
	logger := testLogger()

	registry := session.NewRegistry(logger)
	groups := session.NewGroupIndex()
	router := handler.NewRouter(registry, groups, logger)
	dispatcher := handler.NewDispatcher(
		handler.NewPushHandler(registry, groups, router, logger),
		handler.NewSubGroupHandler(registry, groups),
		handler.NewUnsubGroupHandler(registry, groups),
	)

	client := NewClient(url, Options{Name: "edge-1", HostName: "n1"}, dispatcher, logger)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = client.Run(ctx) }()
	waitFor(t, func() bool { return hub.Len() == 1 })

	subscribed := &memTransport{}
	alice := session.New(session.Authenticated("alice", "tok"), subscribed)
	if err := registry.Add(alice); err != nil {
		t.Fatalf("add alice: %v", err)
	}
	groups.SubGroups(alice, []string{"7"})

	bystander := &memTransport{}
	bob := session.New(session.Authenticated("bob", "tok"), bystander)
	if err := registry.Add(bob); err != nil {
		t.Fatalf("add bob: %v", err)
	}

	data, err := packet.Encode(&packet.GroupMessage{
		MessageID: "m1", From: "carol", To: "7", Kind: packet.KindChat, Content: "hi",
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	frame, err := protocol.CommandFrame(&protocol.Push{Packet: data, TargetGIDs: []string{"7"}})
	if err != nil {
		t.Fatalf("frame: %v", err)
	}
	hub.Broadcast(frame)

	waitFor(t, func() bool { return subscribed.writeCount() >= 1 })

	out, err := packet.Decode(subscribed.first())
	if err != nil {
		t.Fatalf("delivered bytes do not decode: %v", err)
	}
	gm, ok := out.(*packet.GroupMessage)
	if !ok || gm.To != "7" || gm.Content != "hi" {
		t.Errorf("unexpected delivered packet: %+v", out)
	}

	// A second push addressed to bob acts as a barrier: the link delivers
	// frames in order, so once it lands the first push has fully settled.
	barrier, err := protocol.CommandFrame(&protocol.Push{Packet: data, TargetUIDs: []string{"bob"}})
	if err != nil {
		t.Fatalf("barrier frame: %v", err)
	}
	hub.Broadcast(barrier)
	waitFor(t, func() bool { return bystander.writeCount() >= 1 })

	if got := subscribed.writeCount(); got != 1 {
		t.Errorf("subscribed session must receive the group push exactly once, got %d writes", got)
	}
	if got := bystander.writeCount(); got != 1 {
		t.Errorf("bystander must see only the barrier push, got %d writes", got)
	}
}

// The mirror scenario: a node hosting no member of the target group stays
// silent for the same broadcast.
func TestGroupPushSilentOnNonHostingNode(t *testing.T) {
	hub, url := startLogicTier(t)
	logger := testLogger()

	registry := session.NewRegistry(logger)
	groups := session.NewGroupIndex()
	router := handler.NewRouter(registry, groups, logger)
	dispatcher := handler.NewDispatcher(
		handler.NewPushHandler(registry, groups, router, logger),
	)

	client := NewClient(url, Options{Name: "edge-2", HostName: "n2"}, dispatcher, logger)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = client.Run(ctx) }()
	waitFor(t, func() bool { return hub.Len() == 1 })

	tr := &memTransport{}
	dave := session.New(session.Authenticated("dave", "tok"), tr)
	if err := registry.Add(dave); err != nil {
		t.Fatalf("add dave: %v", err)
	}

	data, err := packet.Encode(&packet.GroupMessage{
		MessageID: "m1", From: "carol", To: "7", Kind: packet.KindChat, Content: "hi",
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	frame, err := protocol.CommandFrame(&protocol.Push{Packet: data, TargetGIDs: []string{"7"}})
	if err != nil {
		t.Fatalf("frame: %v", err)
	}
	hub.Broadcast(frame)

	// A direct push to dave settles the stream before the silence check.
	barrier, err := protocol.CommandFrame(&protocol.Push{Packet: data, TargetUIDs: []string{"dave"}})
	if err != nil {
		t.Fatalf("barrier frame: %v", err)
	}
	hub.Broadcast(barrier)
	waitFor(t, func() bool { return tr.writeCount() >= 1 })

	if got := tr.writeCount(); got != 1 {
		t.Errorf("non-member session must not receive the group push, got %d writes", got)
	}
}
