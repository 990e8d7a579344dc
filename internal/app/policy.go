package app

import "github.com/hireloop/signaling/internal/domain"

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	MarkSlow
	KickMember
	DropFrame
)

// Policy decides what to do with a member whose channel could not accept
// a broadcast frame.
type Policy interface {
	OnBackPressure(roomID domain.RoomID, uid domain.UserID) BackpressureAction
}

type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(domain.RoomID, domain.UserID) BackpressureAction {
	return KickMember
}
