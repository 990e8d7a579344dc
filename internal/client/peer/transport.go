// Package peer owns one negotiation state machine per remote participant:
// offer/answer exchange, glare resolution, candidate buffering and
// failure recovery for a single media link.
package peer

import (
	"errors"
	"time"

	"github.com/pion/webrtc/v4"
)

type TransportState int

const (
	TransportConnecting TransportState = iota
	TransportConnected
	TransportFailed
	TransportClosed
)

func (s TransportState) String() string {
	switch s {
	case TransportConnecting:
		return "connecting"
	case TransportConnected:
		return "connected"
	case TransportFailed:
		return "failed"
	case TransportClosed:
		return "closed"
	}
	return "unknown"
}

// ErrReplaceUnsupported is returned by ReplaceVideoTrack when the transport
// cannot swap a track in place; the coordinator falls back to renegotiation.
var ErrReplaceUnsupported = errors.New("in-place track replacement unsupported")

// LinkStats is one reading of transport-level statistics for a link.
type LinkStats struct {
	BandwidthKbps int
	PacketLoss    float64
	Latency       time.Duration
	Jitter        time.Duration
}

// MediaTransport is the capability boundary over the underlying
// peer-to-peer media connection. The negotiation logic depends only on
// this interface, so the state machine is testable without media hardware.
//
// CreateOffer and CreateAnswer set the local description as a side effect;
// candidates gathered afterwards arrive via the OnICECandidate callback.
type MediaTransport interface {
	CreateOffer(iceRestart bool) (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetRemoteDescription(webrtc.SessionDescription) error
	// Rollback discards the pending local offer (polite-peer glare path).
	Rollback() error
	AddICECandidate(webrtc.ICECandidateInit) error
	AddTrack(track webrtc.TrackLocal) error
	ReplaceVideoTrack(track webrtc.TrackLocal) error
	OnICECandidate(func(webrtc.ICECandidateInit))
	OnStateChange(func(TransportState))
	Stats() (LinkStats, error)
	Close()
}
