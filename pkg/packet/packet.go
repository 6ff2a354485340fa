// Package packet defines the client-facing wire format: a tagged union of
// message, error and system packets exchanged with connected clients.
//
// All packets are JSON-encoded. The discriminator field "@ns" is always the
// first field of the object and selects the variant. Field names are
// snake_case, defaulted fields are omitted, and unrecognized input fields are
// ignored on decode.
package packet

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Discriminator values for the "@ns" field.
const (
	NsPrivateMessage = "p.message"
	NsGroupMessage   = "g.message"
	NsError          = "error"
	NsSystemMessage  = "s.message"
)

// Kind is the message category.
type Kind string

const (
	KindChat   Kind = "chat"
	KindNotice Kind = "notice"
	KindAck    Kind = "ack"
)

// ContentType describes the content payload format.
type ContentType string

const (
	ContentText  ContentType = "text"
	ContentJSON  ContentType = "json"
	ContentImage ContentType = "image"
)

// Decode-time errors. Codec failures are distinct from validation failures.
var (
	ErrUnknownPacketKind = errors.New("unknown packet kind")
	ErrMalformedPacket   = errors.New("malformed packet")
)

// Packet is the sealed union of all wire packet variants.
// Packets are immutable once constructed.
type Packet interface {
	// Ns returns the wire discriminator for this variant.
	Ns() string
}

// PrivateMessage is a user-to-user message.
type PrivateMessage struct {
	MessageID   string            `json:"message_id,omitempty"`
	From        string            `json:"from,omitempty"`
	To          string            `json:"to,omitempty"` // recipient uid
	Kind        Kind              `json:"kind,omitempty"`
	Content     string            `json:"content,omitempty"`
	ContentType ContentType       `json:"content_type,omitempty"`
	ExtraArgs   map[string]string `json:"extra_args,omitempty"`
}

func (*PrivateMessage) Ns() string { return NsPrivateMessage }

// GroupMessage is a message addressed to a group.
type GroupMessage struct {
	MessageID   string            `json:"message_id,omitempty"`
	From        string            `json:"from,omitempty"`
	To          string            `json:"to,omitempty"` // recipient group id
	Kind        Kind              `json:"kind,omitempty"`
	Content     string            `json:"content,omitempty"`
	ContentType ContentType       `json:"content_type,omitempty"`
	ExtraArgs   map[string]string `json:"extra_args,omitempty"`
}

func (*GroupMessage) Ns() string { return NsGroupMessage }

// ErrorPacket reports a rejected request back to the offending client only.
type ErrorPacket struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

func (*ErrorPacket) Ns() string { return NsError }

// SystemMessage is a server-originated notification. From may be empty.
type SystemMessage struct {
	MessageID   string            `json:"message_id,omitempty"`
	From        string            `json:"from,omitempty"`
	To          string            `json:"to,omitempty"`
	Kind        Kind              `json:"kind,omitempty"`
	Content     string            `json:"content,omitempty"`
	ContentType ContentType       `json:"content_type,omitempty"`
	ExtraArgs   map[string]string `json:"extra_args,omitempty"`
}

func (*SystemMessage) Ns() string { return NsSystemMessage }

// Encode serializes a packet with the "@ns" discriminator first.
func Encode(p Packet) ([]byte, error) {
	switch v := p.(type) {
	case *PrivateMessage:
		return json.Marshal(struct {
			Ns string `json:"@ns"`
			*PrivateMessage
		}{NsPrivateMessage, v})
	case *GroupMessage:
		return json.Marshal(struct {
			Ns string `json:"@ns"`
			*GroupMessage
		}{NsGroupMessage, v})
	case *ErrorPacket:
		return json.Marshal(struct {
			Ns string `json:"@ns"`
			*ErrorPacket
		}{NsError, v})
	case *SystemMessage:
		return json.Marshal(struct {
			Ns string `json:"@ns"`
			*SystemMessage
		}{NsSystemMessage, v})
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownPacketKind, p)
	}
}

// Decode parses a packet, dispatching purely on the "@ns" value.
// Unknown fields are ignored; an unknown discriminator is a decode error.
func Decode(data []byte) (Packet, error) {
	var probe struct {
		Ns string `json:"@ns"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPacket, err)
	}

	var p Packet
	switch probe.Ns {
	case NsPrivateMessage:
		p = &PrivateMessage{}
	case NsGroupMessage:
		p = &GroupMessage{}
	case NsError:
		p = &ErrorPacket{}
	case NsSystemMessage:
		p = &SystemMessage{}
	case "":
		return nil, fmt.Errorf("%w: missing @ns", ErrMalformedPacket)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownPacketKind, probe.Ns)
	}

	if err := json.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPacket, err)
	}
	return p, nil
}
