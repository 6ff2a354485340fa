package packet

import (
	"errors"
	"fmt"
)

// ErrValidation is wrapped by all pre-delivery validation failures.
var ErrValidation = errors.New("packet validation failed")

// maxMessageIDLen bounds the opaque message id. IDs are generated server-side
// (UUID strings by default) so anything longer indicates a hostile client.
const maxMessageIDLen = 64

var knownKinds = map[Kind]bool{
	KindChat:   true,
	KindNotice: true,
	KindAck:    true,
}

// Validate applies the pre-delivery gate to a decoded packet. It is a caller
// concern, deliberately separate from the codec: a packet can decode cleanly
// and still be rejected here.
func Validate(p Packet) error {
	switch v := p.(type) {
	case *PrivateMessage:
		return validateMessage(v.MessageID, v.To, v.Kind, v.Content)
	case *GroupMessage:
		return validateMessage(v.MessageID, v.To, v.Kind, v.Content)
	case *SystemMessage:
		// System messages with no recipient address every live session.
		to := v.To
		if to == "" {
			to = "*"
		}
		return validateMessage(v.MessageID, to, v.Kind, v.Content)
	case *ErrorPacket:
		if v.Code == "" {
			return fmt.Errorf("%w: missing error code", ErrValidation)
		}
		return nil
	default:
		return fmt.Errorf("%w: unsupported packet %T", ErrValidation, p)
	}
}

func validateMessage(messageID, to string, kind Kind, content string) error {
	if messageID == "" {
		return fmt.Errorf("%w: missing message id", ErrValidation)
	}
	if len(messageID) > maxMessageIDLen {
		return fmt.Errorf("%w: message id exceeds %d chars", ErrValidation, maxMessageIDLen)
	}
	if to == "" {
		return fmt.Errorf("%w: missing recipient", ErrValidation)
	}
	if content == "" {
		return fmt.Errorf("%w: empty content", ErrValidation)
	}
	if !knownKinds[kind] {
		return fmt.Errorf("%w: unknown kind %q", ErrValidation, kind)
	}
	return nil
}
