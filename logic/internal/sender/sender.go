// Package sender turns delivery intents (users, groups, everyone) into push
// commands broadcast over every open agent link. The logic tier keeps no map
// of which edge node holds which user: every link gets the command and each
// edge filters against its own registries.
package sender

import (
	"fmt"
	"log/slog"

	"github.com/loqui-im/loqui/pkg/packet"
	"github.com/loqui-im/loqui/pkg/protocol"
)

// Broadcaster fans a frame out to all open links.
type Broadcaster interface {
	Broadcast(f protocol.Frame)
}

// Sender is the packet sender consumed by the message and group use cases.
// All sends are fire-and-forget: there is no delivery receipt, and a dead
// link never surfaces as an error here.
type Sender struct {
	links  Broadcaster
	logger *slog.Logger
}

// New creates a sender over the link hub.
func New(links Broadcaster, logger *slog.Logger) *Sender {
	return &Sender{
		links:  links,
		logger: logger.With("component", "sender"),
	}
}

// SendToUsers pushes a packet to every live session of the given uids,
// wherever they are connected.
func (s *Sender) SendToUsers(uids []string, p packet.Packet) error {
	return s.push(&protocol.Push{TargetUIDs: uids}, p)
}

// SendToGroups pushes a packet to every local subscriber of the given groups
// on every node.
func (s *Sender) SendToGroups(gids []string, p packet.Packet) error {
	return s.push(&protocol.Push{TargetGIDs: gids}, p)
}

// SendToAll pushes a packet to every live session in the cluster.
func (s *Sender) SendToAll(p packet.Packet) error {
	return s.push(&protocol.Push{BroadcastAll: true}, p)
}

func (s *Sender) push(cmd *protocol.Push, p packet.Packet) error {
	data, err := packet.Encode(p)
	if err != nil {
		return fmt.Errorf("encode packet: %w", err)
	}
	cmd.Packet = data

	frame, err := protocol.CommandFrame(cmd)
	if err != nil {
		return fmt.Errorf("build push frame: %w", err)
	}

	s.links.Broadcast(frame)
	s.logger.Debug("push broadcast",
		"target_uids", len(cmd.TargetUIDs),
		"target_gids", len(cmd.TargetGIDs),
		"broadcast_all", cmd.BroadcastAll)
	return nil
}
