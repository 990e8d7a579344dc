// Package domain contains entities without logic, just meta-data.
package domain

import (
	"errors"
	"time"
)

const MaxDisplayNameLen = 64

var (
	ErrDisplayNameEmpty   = errors.New("display name empty")
	ErrDisplayNameTooLong = errors.New("display name too long")
	ErrUnknownRole        = errors.New("unknown role")
)

type UserID string

type Role string

const (
	RoleCandidate   Role = "candidate"
	RoleInterviewer Role = "interviewer"
	RoleObserver    Role = "observer"
)

func (r Role) Valid() bool {
	switch r {
	case RoleCandidate, RoleInterviewer, RoleObserver:
		return true
	}
	return false
}

type ConnectionStatus string

const (
	StatusConnected    ConnectionStatus = "connected"
	StatusReconnecting ConnectionStatus = "reconnecting"
	StatusDisconnected ConnectionStatus = "disconnected"
)

type DisplayInfo struct {
	Name string `json:"name"`
	Role Role   `json:"role"`
}

// MediaState is owned by the participant's own client; the registry
// applies changes only from messages on that participant's channel.
type MediaState struct {
	AudioEnabled  bool `json:"audio_enabled"`
	VideoEnabled  bool `json:"video_enabled"`
	ScreenSharing bool `json:"screen_sharing"`
}

type Participant struct {
	UserID   UserID           `json:"user_id"`
	Display  DisplayInfo      `json:"display_info"`
	Status   ConnectionStatus `json:"connection_status"`
	Media    MediaState       `json:"media_state"`
	JoinedAt time.Time        `json:"joined_at"`
}

// NewParticipant avoids raw literals in adapters and keeps construction obvious.
func NewParticipant(id UserID, info DisplayInfo) (*Participant, error) {
	if len(info.Name) == 0 {
		return nil, ErrDisplayNameEmpty
	}
	if len(info.Name) > MaxDisplayNameLen {
		return nil, ErrDisplayNameTooLong
	}
	if !info.Role.Valid() {
		return nil, ErrUnknownRole
	}
	return &Participant{
		UserID:   id,
		Display:  info,
		Status:   StatusConnected,
		Media:    MediaState{AudioEnabled: true, VideoEnabled: true},
		JoinedAt: time.Now(),
	}, nil
}
