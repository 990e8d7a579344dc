package core

import "github.com/hireloop/signaling/internal/domain"

// Frame is a raw encoded signaling event.
type Frame []byte

// SessionID identifies one channel binding. A user that reconnects gets a
// new SessionID while keeping its UserID.
type SessionID string

// SignalConnection abstracts the system messaging transport.
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}

// MemberSession binds a participant and its transport endpoint.
// This is what a room stores and fans out to.
type MemberSession interface {
	Participant() *domain.Participant
	Signal() SignalConnection
}

// PublishResult reports delivery stats/backpressure to the caller.
type PublishResult struct {
	SentTo  int
	Dropped []domain.UserID
}

// RoomSnapshot is the full authoritative view of a room, returned on join
// and on resync after reconnect.
type RoomSnapshot struct {
	Room         domain.Room          `json:"room_snapshot"`
	Participants []domain.Participant `json:"participants"`
	RecentChat   []string             `json:"recent_chat,omitempty"`
}
