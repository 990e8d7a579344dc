package domain

import "time"

type RoomID string

type Room struct {
	ID              RoomID    `json:"id"`
	CreatedAt       time.Time `json:"created_at"`
	RecordingActive bool      `json:"recording_active"`
	MaxParticipants int       `json:"max_participants"`
}
