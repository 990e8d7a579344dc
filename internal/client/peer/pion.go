package peer

import (
	"errors"
	"fmt"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// PionTransport implements MediaTransport over a pion PeerConnection.
type PionTransport struct {
	pc      *webrtc.PeerConnection
	onICE   func(webrtc.ICECandidateInit)
	onState func(TransportState)
}

func DefaultRTCConfig() webrtc.Configuration {
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{URLs: []string{"stun:stun.l.google.com:19302"}},
		},
	}
}

func NewPionTransport(cfg webrtc.Configuration) (*PionTransport, error) {
	pc, err := webrtc.NewPeerConnection(cfg)
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}
	t := &PionTransport{pc: pc}

	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand != nil && t.onICE != nil {
			t.onICE(cand.ToJSON())
		}
	})
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Debug().Str("module", "peer.pion").Str("state", s.String()).Msg("peer connection state")
		if t.onState == nil {
			return
		}
		switch s {
		case webrtc.PeerConnectionStateConnected:
			t.onState(TransportConnected)
		case webrtc.PeerConnectionStateFailed:
			t.onState(TransportFailed)
		case webrtc.PeerConnectionStateClosed:
			t.onState(TransportClosed)
		default:
			t.onState(TransportConnecting)
		}
	})
	return t, nil
}

func (t *PionTransport) CreateOffer(iceRestart bool) (webrtc.SessionDescription, error) {
	var opts *webrtc.OfferOptions
	if iceRestart {
		opts = &webrtc.OfferOptions{ICERestart: true}
	}
	offer, err := t.pc.CreateOffer(opts)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := t.pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	return offer, nil
}

func (t *PionTransport) CreateAnswer() (webrtc.SessionDescription, error) {
	answer, err := t.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := t.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	return answer, nil
}

func (t *PionTransport) SetRemoteDescription(sd webrtc.SessionDescription) error {
	return t.pc.SetRemoteDescription(sd)
}

func (t *PionTransport) Rollback() error {
	return t.pc.SetLocalDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeRollback})
}

func (t *PionTransport) AddICECandidate(ci webrtc.ICECandidateInit) error {
	return t.pc.AddICECandidate(ci)
}

func (t *PionTransport) AddTrack(track webrtc.TrackLocal) error {
	_, err := t.pc.AddTrack(track)
	return err
}

// ReplaceVideoTrack swaps the track on the existing video sender, keeping
// the link up. pion supports this in place.
func (t *PionTransport) ReplaceVideoTrack(track webrtc.TrackLocal) error {
	for _, sender := range t.pc.GetSenders() {
		cur := sender.Track()
		if cur == nil || cur.Kind() != webrtc.RTPCodecTypeVideo {
			continue
		}
		if err := sender.ReplaceTrack(track); err != nil {
			return fmt.Errorf("replace track: %w", err)
		}
		return nil
	}
	return errors.New("no video sender on link")
}

func (t *PionTransport) OnICECandidate(fn func(webrtc.ICECandidateInit)) { t.onICE = fn }
func (t *PionTransport) OnStateChange(fn func(TransportState))           { t.onState = fn }

// Stats reads the selected candidate pair for latency and bandwidth and
// the remote inbound stream for loss and jitter.
func (t *PionTransport) Stats() (LinkStats, error) {
	report := t.pc.GetStats()
	var out LinkStats
	for _, s := range report {
		switch st := s.(type) {
		case webrtc.ICECandidatePairStats:
			if st.State != webrtc.StatsICECandidatePairStateSucceeded {
				continue
			}
			out.Latency = time.Duration(st.CurrentRoundTripTime * float64(time.Second))
			out.BandwidthKbps = int(st.AvailableOutgoingBitrate / 1000)
		case webrtc.RemoteInboundRTPStreamStats:
			out.PacketLoss = st.FractionLost
			out.Jitter = time.Duration(st.Jitter * float64(time.Second))
		}
	}
	return out, nil
}

func (t *PionTransport) Close() {
	if err := t.pc.Close(); err != nil {
		log.Error().Err(err).Str("module", "peer.pion").Msg("close peer connection")
	}
}
