package app

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/hireloop/signaling/internal/core"
	"github.com/hireloop/signaling/internal/domain"
)

// fakeConn records delivered frames; full simulates a saturated send queue.
type fakeConn struct {
	mu     sync.Mutex
	frames []core.Frame
	full   bool
	closed bool
}

func (c *fakeConn) TrySend(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("connection closed")
	}
	if c.full {
		return core.ErrBackpressure
	}
	c.frames = append(c.frames, f)
	return nil
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) sent() []core.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]core.Frame, len(c.frames))
	copy(out, c.frames)
	return out
}

func newTestRegistry(grace time.Duration) *Registry {
	nop := zerolog.Nop()
	return NewRegistry(grace, &nop)
}

func member(t *testing.T, uid domain.UserID) (core.MemberSession, *fakeConn) {
	t.Helper()
	p, err := domain.NewParticipant(uid, domain.DisplayInfo{Name: string(uid), Role: domain.RoleCandidate})
	if err != nil {
		t.Fatalf("new participant: %v", err)
	}
	conn := &fakeConn{}
	return core.NewMemberSession(p, conn), conn
}

func TestJoinReplacesChannelBinding(t *testing.T) {
	reg := newTestRegistry(time.Minute)
	room := domain.Room{ID: "r1", MaxParticipants: 8}

	sessA, connA := member(t, "alice")
	if _, err := reg.Join(room, "sid-1", sessA); err != nil {
		t.Fatalf("first join: %v", err)
	}
	joinedAt := sessA.Participant().JoinedAt

	// Same identity on a fresh channel: a refresh, not an error.
	sessB, _ := member(t, "alice")
	snap, err := reg.Join(room, "sid-2", sessB)
	if err != nil {
		t.Fatalf("rejoin: %v", err)
	}
	if !connA.isClosed() {
		t.Fatal("stale channel not closed on rejoin")
	}
	if len(snap.Participants) != 1 {
		t.Fatalf("want 1 participant, got %d", len(snap.Participants))
	}
	if !sessB.Participant().JoinedAt.Equal(joinedAt) {
		t.Fatal("rejoin reset the original join time")
	}
}

func TestJoinRoomFull(t *testing.T) {
	reg := newTestRegistry(time.Minute)
	room := domain.Room{ID: "r1", MaxParticipants: 2}

	for i, uid := range []domain.UserID{"alice", "bob"} {
		sess, _ := member(t, uid)
		if _, err := reg.Join(room, core.SessionID(uid), sess); err != nil {
			t.Fatalf("join %d: %v", i, err)
		}
	}
	sess, _ := member(t, "carol")
	if _, err := reg.Join(room, "sid-c", sess); !errors.Is(err, core.ErrRoomFull) {
		t.Fatalf("want ErrRoomFull, got %v", err)
	}

	// A rejoin of an existing member is not a capacity problem.
	again, _ := member(t, "alice")
	if _, err := reg.Join(room, "sid-a2", again); err != nil {
		t.Fatalf("rejoin at capacity: %v", err)
	}
}

func TestLeaveIgnoresStaleSession(t *testing.T) {
	reg := newTestRegistry(time.Minute)
	room := domain.Room{ID: "r1", MaxParticipants: 8}

	sess, _ := member(t, "alice")
	if _, err := reg.Join(room, "sid-2", sess); err != nil {
		t.Fatalf("join: %v", err)
	}

	// The old channel's close arrives after the refresh already rebound.
	if _, ok := reg.Leave("r1", "alice", "sid-1"); ok {
		t.Fatal("stale session close evicted the fresh binding")
	}
	if !reg.IsMember("r1", "alice") {
		t.Fatal("member lost after stale leave")
	}

	if _, ok := reg.Leave("r1", "alice", "sid-2"); !ok {
		t.Fatal("current session leave rejected")
	}
	if reg.IsMember("r1", "alice") {
		t.Fatal("member still present after leave")
	}
}

func TestEmptyRoomRemovedAfterGrace(t *testing.T) {
	reg := newTestRegistry(10 * time.Millisecond)
	room := domain.Room{ID: "r1", MaxParticipants: 8}

	sess, _ := member(t, "alice")
	if _, err := reg.Join(room, "sid-1", sess); err != nil {
		t.Fatalf("join: %v", err)
	}
	reg.Leave("r1", "alice", "sid-1")

	deadline := time.Now().Add(time.Second)
	for {
		if _, err := reg.Snapshot("r1"); errors.Is(err, core.ErrRoomNotFound) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("empty room survived the grace period")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRejoinWithinGraceKeepsRoom(t *testing.T) {
	reg := newTestRegistry(50 * time.Millisecond)
	room := domain.Room{ID: "r1", MaxParticipants: 8}

	sess, _ := member(t, "alice")
	if _, err := reg.Join(room, "sid-1", sess); err != nil {
		t.Fatalf("join: %v", err)
	}
	reg.Leave("r1", "alice", "sid-1")

	sess2, _ := member(t, "alice")
	if _, err := reg.Join(room, "sid-2", sess2); err != nil {
		t.Fatalf("rejoin: %v", err)
	}
	time.Sleep(100 * time.Millisecond)
	if _, err := reg.Snapshot("r1"); err != nil {
		t.Fatalf("room removed despite rejoin: %v", err)
	}
}

func TestBroadcastSkipsSenderAndReportsSlowConsumers(t *testing.T) {
	reg := newTestRegistry(time.Minute)
	room := domain.Room{ID: "r1", MaxParticipants: 8}

	sessA, connA := member(t, "alice")
	sessB, connB := member(t, "bob")
	sessC, connC := member(t, "carol")
	connC.full = true
	for uid, sess := range map[domain.UserID]core.MemberSession{"alice": sessA, "bob": sessB, "carol": sessC} {
		if _, err := reg.Join(room, core.SessionID(uid), sess); err != nil {
			t.Fatalf("join %s: %v", uid, err)
		}
	}

	res := reg.Broadcast("r1", "alice", core.Frame(`{"type":"participant-left"}`))
	if res.SentTo != 1 {
		t.Fatalf("want 1 delivery, got %d", res.SentTo)
	}
	if len(res.Dropped) != 1 || res.Dropped[0] != "carol" {
		t.Fatalf("want carol dropped, got %v", res.Dropped)
	}
	if len(connA.sent()) != 0 {
		t.Fatal("broadcast echoed to the sender")
	}
	if len(connB.sent()) != 1 {
		t.Fatalf("bob got %d frames, want 1", len(connB.sent()))
	}
}

func TestSetMediaState(t *testing.T) {
	reg := newTestRegistry(time.Minute)
	room := domain.Room{ID: "r1", MaxParticipants: 8}
	sess, _ := member(t, "alice")
	if _, err := reg.Join(room, "sid-1", sess); err != nil {
		t.Fatalf("join: %v", err)
	}

	if err := reg.SetMediaState("r1", "alice", "audio", false); err != nil {
		t.Fatalf("set media state: %v", err)
	}
	snap, err := reg.Snapshot("r1")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.Participants[0].Media.AudioEnabled {
		t.Fatal("mute not reflected in snapshot")
	}
	if !snap.Participants[0].Media.VideoEnabled {
		t.Fatal("mute touched the video state")
	}

	if err := reg.SetMediaState("r1", "alice", "hologram", true); !errors.Is(err, core.ErrBadPayload) {
		t.Fatalf("want ErrBadPayload for unknown media type, got %v", err)
	}
	if err := reg.SetMediaState("r1", "ghost", "audio", true); !errors.Is(err, core.ErrNotRoomMember) {
		t.Fatalf("want ErrNotRoomMember, got %v", err)
	}
}

func TestKickClosesChannel(t *testing.T) {
	reg := newTestRegistry(time.Minute)
	room := domain.Room{ID: "r1", MaxParticipants: 8}
	sess, conn := member(t, "alice")
	if _, err := reg.Join(room, "sid-1", sess); err != nil {
		t.Fatalf("join: %v", err)
	}

	reg.Kick("r1", "alice")
	if reg.IsMember("r1", "alice") {
		t.Fatal("kicked member still present")
	}
	if !conn.isClosed() {
		t.Fatal("kicked member's channel left open")
	}
}
