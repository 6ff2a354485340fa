package logicapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/loqui-im/loqui/pkg/packet"
)

func TestSendMessage(t *testing.T) {
	var gotAuth string
	var gotBody []byte
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/messages" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(map[string]string{"message_id": "m-42"})
	}))
	defer ts.Close()

	c := NewClient(ts.URL, "svc-token")
	id, err := c.SendMessage(context.Background(), &packet.PrivateMessage{
		MessageID: "client-id", From: "alice", To: "bob",
		Kind: packet.KindChat, Content: "hi",
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if id != "m-42" {
		t.Errorf("expected m-42, got %q", id)
	}
	if gotAuth != "Bearer svc-token" {
		t.Errorf("expected service bearer token, got %q", gotAuth)
	}

	// The body is the packet's wire form.
	p, err := packet.Decode(gotBody)
	if err != nil {
		t.Fatalf("submitted body is not a packet: %v", err)
	}
	if pm, ok := p.(*packet.PrivateMessage); !ok || pm.To != "bob" {
		t.Errorf("unexpected submitted packet: %+v", p)
	}
}

func TestGroupsOf(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/users/alice/groups" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(map[string][]string{"groups": {"7", "9"}})
	}))
	defer ts.Close()

	c := NewClient(ts.URL, "svc-token")
	groups, err := c.GroupsOf(context.Background(), "alice")
	if err != nil {
		t.Fatalf("groups: %v", err)
	}
	if len(groups) != 2 || groups[0] != "7" || groups[1] != "9" {
		t.Errorf("unexpected groups: %v", groups)
	}
}

func TestGroupsOf_EscapesUID(t *testing.T) {
	var gotPath string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		_ = json.NewEncoder(w).Encode(map[string][]string{"groups": {}})
	}))
	defer ts.Close()

	c := NewClient(ts.URL, "svc-token")
	if _, err := c.GroupsOf(context.Background(), "dev/ops?1"); err != nil {
		t.Fatalf("groups: %v", err)
	}
	if gotPath != "/api/users/dev%2Fops%3F1/groups" {
		t.Errorf("uid not escaped in request path: %s", gotPath)
	}
}

func TestErrorResponse(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_ = json.NewEncoder(w).Encode(map[string]string{"code": "validation_failed", "message": "empty content"})
	}))
	defer ts.Close()

	c := NewClient(ts.URL, "svc-token")
	_, err := c.SendMessage(context.Background(), &packet.PrivateMessage{
		MessageID: "m1", To: "bob", Kind: packet.KindChat, Content: "x",
	})
	if err == nil {
		t.Fatal("expected error for 422 response")
	}
}

func TestContextCancellation(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := NewClient(ts.URL, "svc-token")
	if _, err := c.GroupsOf(ctx, "alice"); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}
