package core

import "errors"

var (
	ErrUnauthenticated        = errors.New("unauthenticated")
	ErrRoomNotFound           = errors.New("room not found")
	ErrRoomFull               = errors.New("room full")
	ErrNotRoomMember          = errors.New("sender is not a room member")
	ErrInvalidTarget          = errors.New("target is not a room member")
	ErrSignalingTimeout       = errors.New("signaling timeout")
	ErrTransportFailed        = errors.New("media transport failed")
	ErrMediaAccessDenied      = errors.New("media access denied")
	ErrMediaDeviceUnavailable = errors.New("media device unavailable")
	ErrUnknownEvent           = errors.New("unknown event type")
	ErrBadPayload             = errors.New("bad payload")
	ErrBackpressure           = errors.New("backpressure")
	ErrNotPermitted           = errors.New("not permitted")
)

// ErrorCode maps an error to the stable wire code carried by error events.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrUnauthenticated):
		return "unauthenticated"
	case errors.Is(err, ErrRoomNotFound):
		return "room_not_found"
	case errors.Is(err, ErrRoomFull):
		return "room_full"
	case errors.Is(err, ErrNotRoomMember):
		return "not_room_member"
	case errors.Is(err, ErrInvalidTarget):
		return "invalid_target"
	case errors.Is(err, ErrSignalingTimeout):
		return "signaling_timeout"
	case errors.Is(err, ErrTransportFailed):
		return "transport_failed"
	case errors.Is(err, ErrMediaAccessDenied):
		return "media_access_denied"
	case errors.Is(err, ErrMediaDeviceUnavailable):
		return "media_device_unavailable"
	case errors.Is(err, ErrUnknownEvent):
		return "unknown_event"
	case errors.Is(err, ErrBadPayload):
		return "bad_payload"
	case errors.Is(err, ErrNotPermitted):
		return "not_permitted"
	}
	return "internal"
}
