package signal

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/hireloop/signaling/internal/core"
	"github.com/hireloop/signaling/internal/domain"
)

func (ctl *Controller) handleJoin(ctx context.Context, sess *clientSession, env *core.Envelope) {
	if !ctl.Limiter.Allow(sess.uid) {
		ctl.sendError(sess.conn, fmt.Errorf("%w: join rate limit exceeded", core.ErrNotPermitted))
		return
	}

	payload, err := env.DecodePayload()
	if err != nil {
		ctl.sendError(sess.conn, err)
		return
	}
	join := payload.(*core.JoinRoomPayload)

	meta, err := ctl.Rooms.Resolve(ctx, string(env.RoomID))
	if err != nil {
		ctl.sendError(sess.conn, err)
		return
	}

	participant, err := domain.NewParticipant(sess.uid, join.UserInfo)
	if err != nil {
		ctl.sendError(sess.conn, fmt.Errorf("%w: %v", core.ErrBadPayload, err))
		return
	}

	// A join while already in another room leaves that room first.
	if sess.roomID != "" && sess.roomID != meta.ID {
		ctl.handleLeave(sess)
	}

	room := domain.Room{
		ID:              meta.ID,
		CreatedAt:       meta.CreatedAt,
		MaxParticipants: meta.MaxParticipants,
	}
	snap, err := ctl.Registry.Join(room, sess.sid, core.NewMemberSession(participant, sess.conn))
	if err != nil {
		ctl.sendError(sess.conn, err)
		return
	}
	sess.roomID = meta.ID
	sess.participant = participant

	ctl.sendEvent(sess.conn, core.MustEnvelope(core.EventRoomJoined, meta.ID, "", sess.uid,
		core.RoomJoinedPayload{Snapshot: snap}))
	ctl.fanOut(meta.ID, sess.uid, core.MustEnvelope(core.EventParticipantJoined, meta.ID, sess.uid, "",
		core.ParticipantJoinedPayload{Participant: *participant}))
}

func (ctl *Controller) handleLeave(sess *clientSession) {
	if sess.roomID == "" {
		return
	}
	roomID := sess.roomID
	_, left := ctl.Registry.Leave(roomID, sess.uid, sess.sid)
	sess.roomID = ""
	sess.participant = nil
	if left {
		ctl.fanOut(roomID, sess.uid, core.MustEnvelope(core.EventParticipantLeft, roomID, "", "",
			core.ParticipantLeftPayload{UserID: sess.uid}))
	}
}

// handleDisconnect runs when the channel closes for any reason. A stale
// binding (the user already rejoined on a fresh channel) leaves membership
// untouched.
func (ctl *Controller) handleDisconnect(sess *clientSession) {
	if sess.roomID == "" {
		return
	}
	roomID := sess.roomID
	if _, left := ctl.Registry.Leave(roomID, sess.uid, sess.sid); left {
		log.Info().Str("module", "signal").Str("user", string(sess.uid)).Str("room", string(roomID)).Msg("channel closed, member left")
		ctl.fanOut(roomID, sess.uid, core.MustEnvelope(core.EventParticipantLeft, roomID, "", "",
			core.ParticipantLeftPayload{UserID: sess.uid}))
	}
}

func (ctl *Controller) handleMediaState(sess *clientSession, env *core.Envelope) {
	payload, err := env.DecodePayload()
	if err != nil {
		ctl.sendError(sess.conn, err)
		return
	}
	p := payload.(*core.MediaStateChangePayload)

	if err := ctl.Registry.SetMediaState(env.RoomID, sess.uid, p.MediaType, p.Enabled); err != nil {
		ctl.sendError(sess.conn, err)
		return
	}
	if err := ctl.Relay.Forward(env); err != nil {
		ctl.sendError(sess.conn, err)
	}
}

// handleRecording toggles the room recording flag. Only interviewers may
// do this.
func (ctl *Controller) handleRecording(sess *clientSession, env *core.Envelope, active bool) {
	if sess.participant == nil || sess.participant.Display.Role != domain.RoleInterviewer {
		ctl.sendError(sess.conn, fmt.Errorf("%w: recording requires the interviewer role", core.ErrNotPermitted))
		return
	}
	if err := ctl.Registry.SetRecording(env.RoomID, active); err != nil {
		ctl.sendError(sess.conn, err)
		return
	}
	if err := ctl.Relay.Forward(env); err != nil {
		ctl.sendError(sess.conn, err)
	}
}

func (ctl *Controller) handleShareFile(sess *clientSession, env *core.Envelope) {
	if _, err := env.DecodePayload(); err != nil {
		ctl.sendError(sess.conn, err)
		return
	}
	if err := ctl.Relay.Forward(env); err != nil {
		ctl.sendError(sess.conn, err)
	}
}
