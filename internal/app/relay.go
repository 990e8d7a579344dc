package app

import (
	"github.com/rs/zerolog"

	"github.com/hireloop/signaling/internal/core"
)

// Relay validates and forwards peer-to-peer negotiation messages between
// members of a room. It is a pure forwarder: payloads pass through
// unmodified and per-sender ordering is preserved, because each sender's
// channel is read by one pump and delivery is an ordered buffered channel
// per receiver. Duplicate messages are forwarded as-is; deduplication
// belongs to the peer coordinator.
type Relay struct {
	reg    *Registry
	logger zerolog.Logger
}

func NewRelay(reg *Registry, logger *zerolog.Logger) *Relay {
	return &Relay{
		reg:    reg,
		logger: logger.With().Str("component", "relay").Logger(),
	}
}

// Forward checks sender membership, and target membership for
// point-to-point events, then delivers the envelope. Broadcast-class
// events (media-state-change, recording, share-file) fan out to the room.
func (r *Relay) Forward(env *core.Envelope) error {
	if !r.reg.IsMember(env.RoomID, env.SenderID) {
		return core.ErrNotRoomMember
	}

	data, err := core.Encode(env)
	if err != nil {
		return err
	}

	if env.Type.PointToPoint() {
		if env.TargetID == "" {
			return core.ErrInvalidTarget
		}
		// Negotiation payloads pass through opaque, but they must at least
		// decode against the declared tag; arbitrary bytes are rejected here,
		// not at the receiving peer.
		if _, err := env.DecodePayload(); err != nil {
			return err
		}
		if err := r.reg.SendTo(env.RoomID, env.TargetID, data); err != nil {
			r.logger.Warn().
				Str("room", string(env.RoomID)).
				Str("sender", string(env.SenderID)).
				Str("target", string(env.TargetID)).
				Str("type", string(env.Type)).
				Err(err).
				Msg("point-to-point forward rejected")
			return err
		}
		return nil
	}

	res := r.reg.Broadcast(env.RoomID, env.SenderID, data)
	r.logger.Debug().
		Str("room", string(env.RoomID)).
		Str("sender", string(env.SenderID)).
		Str("type", string(env.Type)).
		Int("sent_to", res.SentTo).
		Int("dropped", len(res.Dropped)).
		Msg("broadcast forwarded")
	return nil
}
