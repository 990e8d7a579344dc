// Package client implements the in-room client: one authenticated message
// channel, one peer coordinator per remote participant, reconnection
// supervision and quality monitoring. All signaling events and local API
// calls are serialized through a single event loop, so a local action
// never races an in-flight remote negotiation message.
package client

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/hireloop/signaling/internal/client/channel"
	"github.com/hireloop/signaling/internal/client/peer"
	"github.com/hireloop/signaling/internal/client/quality"
	"github.com/hireloop/signaling/internal/core"
	"github.com/hireloop/signaling/internal/domain"
)

const DefaultJoinTimeout = 10 * time.Second

type Config struct {
	ServerURL string
	Token     string
	UserID    domain.UserID
	RoomID    domain.RoomID
	UserInfo  domain.DisplayInfo

	// LocalTracks are attached to every link before negotiation.
	LocalTracks []webrtc.TrackLocal

	// NewTransport mints the media capability per link; defaults to the
	// pion transport with the stock ICE configuration.
	NewTransport func() (peer.MediaTransport, error)

	JoinTimeout time.Duration
	Logger      *zerolog.Logger

	OnConnState   func(channel.State)
	OnLinkState   func(remote domain.UserID, s peer.State)
	OnLinkFailure func(remote domain.UserID, err error)
	OnQuality     func(quality.Event)
	OnError       func(code, message string)
}

type Session struct {
	cfg    Config
	logger zerolog.Logger

	chMu   sync.Mutex
	ch     *channel.Channel
	rejoin *time.Timer

	recon   *channel.Reconnector
	monitor *quality.Monitor

	commands chan func()
	joined   chan struct{}

	// loop-owned state
	room         domain.Room
	participants map[domain.UserID]domain.Participant
	peers        map[domain.UserID]*peer.Coordinator
	transports   map[domain.UserID]peer.MediaTransport
	media        domain.MediaState

	ctx    context.Context
	cancel context.CancelFunc
}

func New(cfg Config) *Session {
	if cfg.JoinTimeout <= 0 {
		cfg.JoinTimeout = DefaultJoinTimeout
	}
	if cfg.NewTransport == nil {
		cfg.NewTransport = func() (peer.MediaTransport, error) {
			return peer.NewPionTransport(peer.DefaultRTCConfig())
		}
	}
	s := &Session{
		cfg:          cfg,
		logger:       cfg.Logger.With().Str("component", "client").Str("user", string(cfg.UserID)).Logger(),
		commands:     make(chan func(), 16),
		joined:       make(chan struct{}, 1),
		participants: make(map[domain.UserID]domain.Participant),
		peers:        make(map[domain.UserID]*peer.Coordinator),
		transports:   make(map[domain.UserID]peer.MediaTransport),
		media:        domain.MediaState{AudioEnabled: true, VideoEnabled: true},
	}
	s.monitor = quality.NewMonitor(quality.DefaultInterval, cfg.OnQuality, cfg.Logger)
	s.recon = channel.NewReconnector(channel.ReconnectorConfig{
		Dial: func(ctx context.Context) (*channel.Channel, error) {
			return channel.Dial(ctx, cfg.ServerURL, cfg.Token)
		},
		OnState: cfg.OnConnState,
		Logger:  cfg.Logger,
	})
	return s
}

// Connect opens the channel, joins the room and waits for the server's
// snapshot, bounded by the join timeout.
func (s *Session) Connect(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	ch, err := channel.Dial(s.ctx, s.cfg.ServerURL, s.cfg.Token)
	if err != nil {
		s.cancel()
		return err
	}
	s.setChannel(ch)
	go s.run()

	if err := s.sendJoin(); err != nil {
		s.cancel()
		return err
	}

	timer := time.NewTimer(s.cfg.JoinTimeout)
	defer timer.Stop()
	select {
	case <-s.joined:
		return nil
	case <-timer.C:
		s.cancel()
		return core.ErrSignalingTimeout
	case <-s.ctx.Done():
		return s.ctx.Err()
	}
}

func (s *Session) setChannel(ch *channel.Channel) {
	s.chMu.Lock()
	s.ch = ch
	s.chMu.Unlock()
}

// send is safe from any goroutine; coordinators use it for offers and
// candidates.
func (s *Session) send(env *core.Envelope) error {
	s.chMu.Lock()
	ch := s.ch
	s.chMu.Unlock()
	if ch == nil {
		return channel.ErrChannelClosed
	}
	return ch.Send(env)
}

func (s *Session) sendJoin() error {
	return s.send(core.MustEnvelope(core.EventJoinRoom, s.cfg.RoomID, s.cfg.UserID, "",
		core.JoinRoomPayload{UserInfo: s.cfg.UserInfo}))
}

func (s *Session) run() {
	for {
		s.chMu.Lock()
		ch := s.ch
		s.chMu.Unlock()

		select {
		case <-s.ctx.Done():
			s.teardown()
			return
		case cmd := <-s.commands:
			cmd()
		case env, ok := <-ch.Incoming():
			if !ok {
				if !s.handleChannelLoss(ch) {
					s.teardown()
					return
				}
				continue
			}
			s.handleEvent(env)
		}
	}
}

// handleChannelLoss runs the reconnection controller. Reports whether the
// session should keep running.
func (s *Session) handleChannelLoss(lost *channel.Channel) bool {
	if lost.UserClosed() {
		return false
	}
	s.logger.Warn().Msg("channel lost, reconnecting")
	ch, err := s.recon.Reconnect(s.ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("reconnect failed, session disconnected")
		return false
	}
	s.setChannel(ch)
	// Rejoin: the server answers with a full snapshot which resync diffs
	// against local state. Missed events are not replayed.
	if err := s.sendJoin(); err != nil {
		s.logger.Error().Err(err).Msg("rejoin after reconnect")
		return false
	}
	s.armRejoinDeadline(ch)
	return true
}

// armRejoinDeadline bounds the wait for the post-reconnect snapshot the
// same way Connect bounds the initial join. On expiry the channel is
// aborted, which sends the loop back through the reconnection controller.
func (s *Session) armRejoinDeadline(ch *channel.Channel) {
	s.chMu.Lock()
	defer s.chMu.Unlock()
	if s.rejoin != nil {
		s.rejoin.Stop()
	}
	s.rejoin = time.AfterFunc(s.cfg.JoinTimeout, func() {
		s.logger.Error().Dur("timeout", s.cfg.JoinTimeout).Msg("rejoin acknowledgment timed out")
		if s.cfg.OnError != nil {
			s.cfg.OnError(core.ErrorCode(core.ErrSignalingTimeout), core.ErrSignalingTimeout.Error())
		}
		ch.Abort()
	})
}

func (s *Session) clearRejoinDeadline() {
	s.chMu.Lock()
	defer s.chMu.Unlock()
	if s.rejoin != nil {
		s.rejoin.Stop()
		s.rejoin = nil
	}
}

func (s *Session) teardown() {
	for remote := range s.peers {
		s.closePeer(remote)
	}
	s.chMu.Lock()
	if s.ch != nil {
		s.ch.Close()
	}
	s.chMu.Unlock()
	s.cancel()
}

func (s *Session) handleEvent(env *core.Envelope) {
	payload, err := env.DecodePayload()
	if err != nil {
		s.logger.Warn().Err(err).Str("type", string(env.Type)).Msg("bad server event")
		return
	}

	switch env.Type {
	case core.EventRoomJoined:
		s.clearRejoinDeadline()
		s.resync(payload.(*core.RoomJoinedPayload).Snapshot)
		select {
		case s.joined <- struct{}{}:
		default:
		}
	case core.EventParticipantJoined:
		p := payload.(*core.ParticipantJoinedPayload).Participant
		if p.UserID == s.cfg.UserID {
			return
		}
		s.participants[p.UserID] = p
		s.ensurePeer(p.UserID)
	case core.EventParticipantLeft:
		uid := payload.(*core.ParticipantLeftPayload).UserID
		delete(s.participants, uid)
		s.closePeer(uid)
	case core.EventOffer:
		p := payload.(*core.OfferPayload)
		if c := s.ensurePeer(env.SenderID); c != nil {
			if err := c.HandleOffer(p.Offer); err != nil {
				s.logger.Error().Err(err).Str("remote", string(env.SenderID)).Msg("handle offer")
			}
		}
	case core.EventAnswer:
		if c, ok := s.peers[env.SenderID]; ok {
			if err := c.HandleAnswer(payload.(*core.AnswerPayload).Answer); err != nil {
				s.logger.Error().Err(err).Str("remote", string(env.SenderID)).Msg("handle answer")
			}
		}
	case core.EventICECandidate:
		if c, ok := s.peers[env.SenderID]; ok {
			if err := c.HandleCandidate(payload.(*core.ICECandidatePayload).Candidate); err != nil {
				s.logger.Warn().Err(err).Str("remote", string(env.SenderID)).Msg("handle candidate")
			}
		}
	case core.EventMediaStateChange:
		p := payload.(*core.MediaStateChangePayload)
		if part, ok := s.participants[env.SenderID]; ok {
			switch p.MediaType {
			case "audio":
				part.Media.AudioEnabled = p.Enabled
			case "video":
				part.Media.VideoEnabled = p.Enabled
			case "screen":
				part.Media.ScreenSharing = p.Enabled
			}
			s.participants[env.SenderID] = part
		}
	case core.EventStartRecording:
		s.room.RecordingActive = true
	case core.EventStopRecording:
		s.room.RecordingActive = false
	case core.EventShareFile:
		s.logger.Debug().Str("sender", string(env.SenderID)).Msg("file shared")
	case core.EventError:
		p := payload.(*core.ErrorPayload)
		s.logger.Warn().Str("code", p.Code).Str("message", p.Message).Msg("server error event")
		if s.cfg.OnError != nil {
			s.cfg.OnError(p.Code, p.Message)
		}
	}
}

// resync replaces local membership with the authoritative snapshot,
// closing links to departed peers and opening links to new ones.
func (s *Session) resync(snap core.RoomSnapshot) {
	s.room = snap.Room

	fresh := make(map[domain.UserID]domain.Participant, len(snap.Participants))
	for _, p := range snap.Participants {
		if p.UserID != s.cfg.UserID {
			fresh[p.UserID] = p
		}
	}
	for uid := range s.peers {
		if _, ok := fresh[uid]; !ok {
			s.closePeer(uid)
		}
	}
	s.participants = fresh
	for uid := range fresh {
		s.ensurePeer(uid)
	}
}

// ensurePeer returns the coordinator for a remote, creating and starting
// one when needed. The initiator side is fixed by the ID tie-break, so
// both sides agree without talking.
func (s *Session) ensurePeer(remote domain.UserID) *peer.Coordinator {
	if c, ok := s.peers[remote]; ok {
		return c
	}
	transport, err := s.cfg.NewTransport()
	if err != nil {
		s.logger.Error().Err(err).Str("remote", string(remote)).Msg("create media transport")
		if s.cfg.OnLinkFailure != nil {
			s.cfg.OnLinkFailure(remote, core.ErrMediaDeviceUnavailable)
		}
		return nil
	}
	for _, track := range s.cfg.LocalTracks {
		if err := transport.AddTrack(track); err != nil {
			s.logger.Error().Err(err).Str("remote", string(remote)).Msg("add local track")
		}
	}

	c := peer.NewCoordinator(peer.Config{
		RoomID:    s.cfg.RoomID,
		LocalID:   s.cfg.UserID,
		RemoteID:  remote,
		Transport: transport,
		Send:      s.send,
		Logger:    s.cfg.Logger,
		OnStateChange: func(st peer.State) {
			if s.cfg.OnLinkState != nil {
				s.cfg.OnLinkState(remote, st)
			}
			switch st {
			case peer.StateConnected:
				s.monitor.Track(s.ctx, string(remote), transport)
			case peer.StateFailed, peer.StateClosed:
				s.monitor.Untrack(string(remote))
			}
		},
		OnFailure: func(err error) {
			if s.cfg.OnLinkFailure != nil {
				s.cfg.OnLinkFailure(remote, err)
			}
		},
	})
	s.peers[remote] = c
	s.transports[remote] = transport
	if err := c.Start(); err != nil {
		s.logger.Error().Err(err).Str("remote", string(remote)).Msg("start negotiation")
	}
	return c
}

func (s *Session) closePeer(remote domain.UserID) {
	if c, ok := s.peers[remote]; ok {
		c.Close()
		delete(s.peers, remote)
	}
	delete(s.transports, remote)
	s.monitor.Untrack(string(remote))
}

// do runs fn on the event loop, serialized with signaling handling.
func (s *Session) do(fn func() error) error {
	errc := make(chan error, 1)
	select {
	case s.commands <- func() { errc <- fn() }:
	case <-s.ctx.Done():
		return s.ctx.Err()
	}
	select {
	case err := <-errc:
		return err
	case <-s.ctx.Done():
		return s.ctx.Err()
	}
}

func (s *Session) sendMediaState(mediaType string, enabled bool) error {
	return s.send(core.MustEnvelope(core.EventMediaStateChange, s.cfg.RoomID, s.cfg.UserID, "",
		core.MediaStateChangePayload{MediaType: mediaType, Enabled: enabled}))
}

// ToggleAudio flips the microphone. A lightweight signaling event, no
// renegotiation.
func (s *Session) ToggleAudio(enabled bool) error {
	return s.do(func() error {
		s.media.AudioEnabled = enabled
		return s.sendMediaState("audio", enabled)
	})
}

func (s *Session) ToggleVideo(enabled bool) error {
	return s.do(func() error {
		s.media.VideoEnabled = enabled
		return s.sendMediaState("video", enabled)
	})
}

// StartScreenShare replaces the outgoing video track on every connected
// link; audio and link state are untouched.
func (s *Session) StartScreenShare(track webrtc.TrackLocal) error {
	return s.do(func() error {
		var firstErr error
		for remote, c := range s.peers {
			if c.State() != peer.StateConnected {
				continue
			}
			if err := c.ReplaceVideoTrack(track); err != nil && firstErr == nil {
				firstErr = fmt.Errorf("screen share to %s: %w", remote, err)
			}
		}
		if firstErr != nil {
			return firstErr
		}
		s.media.ScreenSharing = true
		return s.sendMediaState("screen", true)
	})
}

// StopScreenShare swaps the camera track back in.
func (s *Session) StopScreenShare(camera webrtc.TrackLocal) error {
	return s.do(func() error {
		for _, c := range s.peers {
			if c.State() != peer.StateConnected {
				continue
			}
			if err := c.ReplaceVideoTrack(camera); err != nil {
				s.logger.Warn().Err(err).Msg("restore camera track")
			}
		}
		s.media.ScreenSharing = false
		return s.sendMediaState("screen", false)
	})
}

// Participants returns the current remote membership view.
func (s *Session) Participants() []domain.Participant {
	var out []domain.Participant
	_ = s.do(func() error {
		for _, p := range s.participants {
			out = append(out, p)
		}
		return nil
	})
	return out
}

// Leave tears the session down: pending negotiation waits are cancelled,
// every link transitions to Closed and the channel closes for good.
func (s *Session) Leave() error {
	return s.do(func() error {
		_ = s.send(core.MustEnvelope(core.EventLeaveRoom, s.cfg.RoomID, s.cfg.UserID, "", nil))
		s.cancel()
		return nil
	})
}
