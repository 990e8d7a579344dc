// Package app holds the server-side application services: the room and
// presence registry, the signaling relay and the fan-out policy.
package app

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/hireloop/signaling/internal/core"
	"github.com/hireloop/signaling/internal/domain"
)

const DefaultGracePeriod = 30 * time.Second

// Registry is the authoritative owner of room membership. Membership is
// exactly the set of currently-bound channels: every mutation goes through
// the owning room's lock, different rooms proceed in parallel.
type Registry struct {
	mu     sync.RWMutex
	rooms  map[domain.RoomID]*roomState
	grace  time.Duration
	logger zerolog.Logger
}

type roomState struct {
	mu      sync.Mutex
	room    domain.Room
	members map[domain.UserID]*memberEntry
	gc      *time.Timer
}

type memberEntry struct {
	sid  core.SessionID
	sess core.MemberSession
}

func NewRegistry(grace time.Duration, logger *zerolog.Logger) *Registry {
	if grace <= 0 {
		grace = DefaultGracePeriod
	}
	return &Registry{
		rooms:  make(map[domain.RoomID]*roomState),
		grace:  grace,
		logger: logger.With().Str("component", "registry").Logger(),
	}
}

func (r *Registry) getOrCreate(room domain.Room) *roomState {
	r.mu.RLock()
	st, ok := r.rooms[room.ID]
	r.mu.RUnlock()
	if ok {
		return st
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, ok = r.rooms[room.ID]; ok {
		return st
	}
	st = &roomState{room: room, members: make(map[domain.UserID]*memberEntry)}
	r.rooms[room.ID] = st
	return st
}

func (r *Registry) get(roomID domain.RoomID) (*roomState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.rooms[roomID]
	return st, ok
}

// Join binds a session to a room. It is idempotent per (room, user): a
// duplicate join from the same identity replaces the prior channel binding
// (browser refresh) instead of erroring, closing the stale channel. The
// returned snapshot is the full authoritative membership after the join.
func (r *Registry) Join(room domain.Room, sid core.SessionID, sess core.MemberSession) (core.RoomSnapshot, error) {
	st := r.getOrCreate(room)
	uid := sess.Participant().UserID

	st.mu.Lock()
	defer st.mu.Unlock()

	if prev, ok := st.members[uid]; ok {
		// Keep the original join time across a refresh.
		sess.Participant().JoinedAt = prev.sess.Participant().JoinedAt
		prev.sess.Signal().Close()
	} else if st.room.MaxParticipants > 0 && len(st.members) >= st.room.MaxParticipants {
		return core.RoomSnapshot{}, core.ErrRoomFull
	}

	st.members[uid] = &memberEntry{sid: sid, sess: sess}
	if st.gc != nil {
		st.gc.Stop()
		st.gc = nil
	}
	r.logger.Info().
		Str("room", string(room.ID)).
		Str("user", string(uid)).
		Str("sid", string(sid)).
		Int("members", len(st.members)).
		Msg("member joined")
	return st.snapshotLocked(), nil
}

// Leave removes a binding. The sid must match the current binding: a close
// of a stale channel arriving after a refresh must not evict the fresh one.
// An empty room is scheduled for removal after the grace period, which a
// rapid rejoin cancels.
func (r *Registry) Leave(roomID domain.RoomID, uid domain.UserID, sid core.SessionID) (*domain.Participant, bool) {
	st, ok := r.get(roomID)
	if !ok {
		return nil, false
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	entry, ok := st.members[uid]
	if !ok || entry.sid != sid {
		return nil, false
	}
	delete(st.members, uid)
	r.logger.Info().
		Str("room", string(roomID)).
		Str("user", string(uid)).
		Int("members", len(st.members)).
		Msg("member left")

	if len(st.members) == 0 {
		roomID := roomID
		st.gc = time.AfterFunc(r.grace, func() { r.removeIfEmpty(roomID) })
	}
	return entry.sess.Participant(), true
}

func (r *Registry) removeIfEmpty(roomID domain.RoomID) {
	st, ok := r.get(roomID)
	if !ok {
		return
	}
	st.mu.Lock()
	empty := len(st.members) == 0
	st.mu.Unlock()
	if !empty {
		return
	}
	r.mu.Lock()
	delete(r.rooms, roomID)
	r.mu.Unlock()
	r.logger.Info().Str("room", string(roomID)).Msg("empty room removed")
}

func (r *Registry) Snapshot(roomID domain.RoomID) (core.RoomSnapshot, error) {
	st, ok := r.get(roomID)
	if !ok {
		return core.RoomSnapshot{}, core.ErrRoomNotFound
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.snapshotLocked(), nil
}

func (st *roomState) snapshotLocked() core.RoomSnapshot {
	out := core.RoomSnapshot{Room: st.room}
	out.Participants = make([]domain.Participant, 0, len(st.members))
	for _, e := range st.members {
		out.Participants = append(out.Participants, *e.sess.Participant())
	}
	return out
}

func (r *Registry) IsMember(roomID domain.RoomID, uid domain.UserID) bool {
	st, ok := r.get(roomID)
	if !ok {
		return false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	_, ok = st.members[uid]
	return ok
}

// Broadcast fans a frame to every member except the originator. Sends are
// non-blocking: a slow consumer is reported in Dropped, never waited on.
func (r *Registry) Broadcast(roomID domain.RoomID, except domain.UserID, data core.Frame) core.PublishResult {
	st, ok := r.get(roomID)
	if !ok {
		return core.PublishResult{}
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	res := core.PublishResult{}
	for uid, e := range st.members {
		if uid == except {
			continue
		}
		if err := e.sess.Signal().TrySend(data); err != nil {
			res.Dropped = append(res.Dropped, uid)
			continue
		}
		res.SentTo++
	}
	return res
}

// SendTo delivers a frame to a single member.
func (r *Registry) SendTo(roomID domain.RoomID, target domain.UserID, data core.Frame) error {
	st, ok := r.get(roomID)
	if !ok {
		return core.ErrRoomNotFound
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	e, ok := st.members[target]
	if !ok {
		return core.ErrInvalidTarget
	}
	return e.sess.Signal().TrySend(data)
}

// SetMediaState applies a media-state change for uid. Only the owning
// client's messages reach here; the adapter guarantees sender identity.
func (r *Registry) SetMediaState(roomID domain.RoomID, uid domain.UserID, mediaType string, enabled bool) error {
	st, ok := r.get(roomID)
	if !ok {
		return core.ErrRoomNotFound
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	e, ok := st.members[uid]
	if !ok {
		return core.ErrNotRoomMember
	}
	m := &e.sess.Participant().Media
	switch mediaType {
	case "audio":
		m.AudioEnabled = enabled
	case "video":
		m.VideoEnabled = enabled
	case "screen":
		m.ScreenSharing = enabled
	default:
		return core.ErrBadPayload
	}
	return nil
}

func (r *Registry) SetRecording(roomID domain.RoomID, active bool) error {
	st, ok := r.get(roomID)
	if !ok {
		return core.ErrRoomNotFound
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	st.room.RecordingActive = active
	return nil
}

// Kick force-removes a member regardless of session binding, closing its
// channel. Used by the backpressure policy.
func (r *Registry) Kick(roomID domain.RoomID, uid domain.UserID) {
	st, ok := r.get(roomID)
	if !ok {
		return
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if e, ok := st.members[uid]; ok {
		e.sess.Signal().Close()
		delete(st.members, uid)
		r.logger.Warn().Str("room", string(roomID)).Str("user", string(uid)).Msg("member kicked")
		if len(st.members) == 0 {
			st.gc = time.AfterFunc(r.grace, func() { r.removeIfEmpty(roomID) })
		}
	}
}
