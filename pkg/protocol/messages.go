// Package protocol defines the agent link wire protocol spoken between edge
// nodes and the logic tier over a persistent WebSocket stream.
//
// All frames are JSON-encoded and share a common envelope with a "type" field
// that determines the payload structure. Commands (the logic→edge direction)
// form a forward-compatible tagged union: a frame with an unrecognized type
// decodes to Unknown with its payload preserved, never to an error.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// Frame is the top-level wire format for all agent link messages.
type Frame struct {
	Type      string          `json:"type"`
	Timestamp time.Time       `json:"ts"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// --- Frame type constants ---

const (
	TypeLinkHello  = "link.hello"
	TypeHelloAck   = "hello.ack"
	TypeSubGroup   = "sub_group"
	TypeUnsubGroup = "unsub_group"
	TypePush       = "push"
	TypePing       = "ping"
	TypePong       = "pong"
)

// LinkHello is the first frame an edge node sends after connecting.
type LinkHello struct {
	Name     string `json:"name"`
	HostName string `json:"host_name"`
}

// HelloAck is the logic tier's response to LinkHello.
type HelloAck struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// Command is the sealed union of control messages carried logic→edge.
type Command interface {
	frameType() string
}

// SubGroup subscribes a uid's local sessions to the given groups.
type SubGroup struct {
	UID  string   `json:"uid"`
	GIDs []string `json:"gids"`
}

func (*SubGroup) frameType() string { return TypeSubGroup }

// UnsubGroup removes a uid's local sessions from the given groups.
type UnsubGroup struct {
	UID  string   `json:"uid"`
	GIDs []string `json:"gids"`
}

func (*UnsubGroup) frameType() string { return TypeUnsubGroup }

// Push asks every edge node to deliver a packet to whichever targets it holds
// locally. Packet carries the already-encoded client wire bytes so the
// broadcast encodes once and each edge writes them through unchanged.
type Push struct {
	Packet       json.RawMessage `json:"packet"`
	TargetUIDs   []string        `json:"target_uids,omitempty"`
	TargetGIDs   []string        `json:"target_gids,omitempty"`
	BroadcastAll bool            `json:"broadcast_all,omitempty"`
}

func (*Push) frameType() string { return TypePush }

// Unknown preserves a command frame whose type this build does not recognize.
// Handlers treat it as a no-op; the payload survives re-encoding losslessly.
type Unknown struct {
	Type    string
	Payload json.RawMessage
}

func (u *Unknown) frameType() string { return u.Type }

// NewFrame wraps a payload into a timestamped frame.
func NewFrame(frameType string, payload any) (Frame, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, fmt.Errorf("marshal %s payload: %w", frameType, err)
	}
	return Frame{Type: frameType, Timestamp: time.Now(), Payload: data}, nil
}

// CommandFrame wraps a command into a frame.
func CommandFrame(cmd Command) (Frame, error) {
	if u, ok := cmd.(*Unknown); ok {
		return Frame{Type: u.Type, Timestamp: time.Now(), Payload: u.Payload}, nil
	}
	return NewFrame(cmd.frameType(), cmd)
}

// ParseCommand extracts the command carried by a frame. Frames of an
// unrecognized type come back as *Unknown rather than failing, so old edge
// nodes tolerate newer logic tiers.
func ParseCommand(f Frame) (Command, error) {
	var cmd Command
	switch f.Type {
	case TypeSubGroup:
		cmd = &SubGroup{}
	case TypeUnsubGroup:
		cmd = &UnsubGroup{}
	case TypePush:
		cmd = &Push{}
	default:
		return &Unknown{Type: f.Type, Payload: f.Payload}, nil
	}

	if err := json.Unmarshal(f.Payload, cmd); err != nil {
		return nil, fmt.Errorf("unmarshal %s payload: %w", f.Type, err)
	}
	return cmd, nil
}
