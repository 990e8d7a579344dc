package core

import (
	"encoding/json"
	"fmt"

	"github.com/pion/webrtc/v4"

	"github.com/hireloop/signaling/internal/domain"
)

type EventType string

const (
	EventJoinRoom          EventType = "join-room"
	EventLeaveRoom         EventType = "leave-room"
	EventRoomJoined        EventType = "room-joined"
	EventParticipantJoined EventType = "participant-joined"
	EventParticipantLeft   EventType = "participant-left"
	EventOffer             EventType = "webrtc-offer"
	EventAnswer            EventType = "webrtc-answer"
	EventICECandidate      EventType = "webrtc-ice-candidate"
	EventMediaStateChange  EventType = "media-state-change"
	EventStartRecording    EventType = "start-recording"
	EventStopRecording     EventType = "stop-recording"
	EventShareFile         EventType = "share-file"
	EventError             EventType = "error"
)

// Envelope is the wire form of every signaling event. Payload stays raw
// until DecodePayload, so the relay forwards point-to-point events
// unmodified.
type Envelope struct {
	Type     EventType       `json:"type"`
	RoomID   domain.RoomID   `json:"room_id,omitempty"`
	SenderID domain.UserID   `json:"sender_id,omitempty"`
	TargetID domain.UserID   `json:"target_id,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

type JoinRoomPayload struct {
	UserInfo domain.DisplayInfo `json:"user_info"`
}

type RoomJoinedPayload struct {
	Snapshot RoomSnapshot `json:"snapshot"`
}

type ParticipantJoinedPayload struct {
	Participant domain.Participant `json:"participant"`
}

type ParticipantLeftPayload struct {
	UserID domain.UserID `json:"user_id"`
}

type OfferPayload struct {
	Offer     webrtc.SessionDescription `json:"offer"`
	MediaType string                    `json:"media_type,omitempty"`
}

type AnswerPayload struct {
	Answer webrtc.SessionDescription `json:"answer"`
}

type ICECandidatePayload struct {
	Candidate webrtc.ICECandidateInit `json:"candidate"`
}

type MediaStateChangePayload struct {
	MediaType string `json:"media_type"`
	Enabled   bool   `json:"enabled"`
}

type StartRecordingPayload struct {
	Settings json.RawMessage `json:"settings,omitempty"`
}

type ShareFilePayload struct {
	FileInfo json.RawMessage `json:"file_info"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PointToPoint reports whether the event type is addressed to a single
// participant. Every such event must carry target_id.
func (t EventType) PointToPoint() bool {
	switch t {
	case EventOffer, EventAnswer, EventICECandidate:
		return true
	}
	return false
}

func (t EventType) Known() bool {
	switch t {
	case EventJoinRoom, EventLeaveRoom, EventRoomJoined,
		EventParticipantJoined, EventParticipantLeft,
		EventOffer, EventAnswer, EventICECandidate,
		EventMediaStateChange, EventStartRecording, EventStopRecording,
		EventShareFile, EventError:
		return true
	}
	return false
}

func Decode(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if !env.Type.Known() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Type)
	}
	if env.Type.PointToPoint() && env.TargetID == "" {
		return nil, fmt.Errorf("%w: %s without target_id", ErrInvalidTarget, env.Type)
	}
	return &env, nil
}

func Encode(env *Envelope) (Frame, error) {
	b, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return b, nil
}

// DecodePayload decodes the raw payload against the declared type. The
// switch is exhaustive over every known event; payload-less events return
// nil.
func (e *Envelope) DecodePayload() (any, error) {
	decode := func(v any) (any, error) {
		if len(e.Payload) == 0 {
			return nil, fmt.Errorf("%w: %s without payload", ErrBadPayload, e.Type)
		}
		if err := json.Unmarshal(e.Payload, v); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrBadPayload, e.Type, err)
		}
		return v, nil
	}

	switch e.Type {
	case EventJoinRoom:
		return decode(&JoinRoomPayload{})
	case EventRoomJoined:
		return decode(&RoomJoinedPayload{})
	case EventParticipantJoined:
		return decode(&ParticipantJoinedPayload{})
	case EventParticipantLeft:
		return decode(&ParticipantLeftPayload{})
	case EventOffer:
		return decode(&OfferPayload{})
	case EventAnswer:
		return decode(&AnswerPayload{})
	case EventICECandidate:
		return decode(&ICECandidatePayload{})
	case EventMediaStateChange:
		return decode(&MediaStateChangePayload{})
	case EventShareFile:
		return decode(&ShareFilePayload{})
	case EventError:
		return decode(&ErrorPayload{})
	case EventStartRecording:
		// settings are optional
		p := &StartRecordingPayload{}
		if len(e.Payload) > 0 {
			if err := json.Unmarshal(e.Payload, p); err != nil {
				return nil, fmt.Errorf("%w: %s: %v", ErrBadPayload, e.Type, err)
			}
		}
		return p, nil
	case EventLeaveRoom, EventStopRecording:
		return nil, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, e.Type)
}

// MustEnvelope builds an envelope with an already-typed payload.
// Marshal failure here means a programming error in the payload type.
func MustEnvelope(t EventType, roomID domain.RoomID, sender, target domain.UserID, payload any) *Envelope {
	env := &Envelope{Type: t, RoomID: roomID, SenderID: sender, TargetID: target}
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			panic(fmt.Sprintf("marshal %s payload: %v", t, err))
		}
		env.Payload = b
	}
	return env
}
