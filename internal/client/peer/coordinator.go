package peer

import (
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/hireloop/signaling/internal/core"
	"github.com/hireloop/signaling/internal/domain"
)

type State string

const (
	StateNew            State = "new"
	StateOffering       State = "offering"
	StateAwaitingAnswer State = "awaiting_answer"
	StateAwaitingOffer  State = "awaiting_offer"
	StateAnswering      State = "answering"
	StateConnected      State = "connected"
	StateFailed         State = "failed"
	StateRestarting     State = "restarting"
	StateClosed         State = "closed"
)

const (
	// DefaultWatchdogTimeout bounds how long a link may negotiate without
	// reaching Connected before it is treated as failed.
	DefaultWatchdogTimeout = 10 * time.Second
	// failureWindow: a second transport failure inside this window is not
	// retried automatically.
	failureWindow = time.Minute
)

// SendFunc delivers a signaling envelope to the relay.
type SendFunc func(*core.Envelope) error

type Config struct {
	RoomID    domain.RoomID
	LocalID   domain.UserID
	RemoteID  domain.UserID
	Transport MediaTransport
	Send      SendFunc
	Logger    *zerolog.Logger

	WatchdogTimeout time.Duration
	OnStateChange   func(State)
	OnFailure       func(error)

	// test seams
	now   func() time.Time
	after func(time.Duration, func()) *time.Timer
}

// Coordinator drives the negotiation state machine for one remote
// participant. All entry points serialize on one mutex: signaling events
// and local API calls never race against each other.
type Coordinator struct {
	mu sync.Mutex

	roomID    domain.RoomID
	localID   domain.UserID
	remoteID  domain.UserID
	transport MediaTransport
	send      SendFunc
	logger    zerolog.Logger

	state     State
	remoteSet bool
	// Candidates that arrived before the remote description; drained in
	// arrival order once it lands, never dropped.
	pending []webrtc.ICECandidateInit

	restarts    int
	lastRestart time.Time
	watchdog    *time.Timer
	watchdogTTL time.Duration

	onStateChange func(State)
	onFailure     func(error)
	now           func() time.Time
	after         func(time.Duration, func()) *time.Timer
}

func NewCoordinator(cfg Config) *Coordinator {
	c := &Coordinator{
		roomID:        cfg.RoomID,
		localID:       cfg.LocalID,
		remoteID:      cfg.RemoteID,
		transport:     cfg.Transport,
		send:          cfg.Send,
		state:         StateNew,
		watchdogTTL:   cfg.WatchdogTimeout,
		onStateChange: cfg.OnStateChange,
		onFailure:     cfg.OnFailure,
		now:           cfg.now,
		after:         cfg.after,
	}
	if c.watchdogTTL <= 0 {
		c.watchdogTTL = DefaultWatchdogTimeout
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.after == nil {
		c.after = time.AfterFunc
	}
	c.logger = cfg.Logger.With().
		Str("component", "peer").
		Str("remote", string(cfg.RemoteID)).
		Logger()
	return c
}

// Initiator reports whether the local side offers for this pair. Exactly
// one side of every ordered pair is the initiator: the lexicographically
// smaller participant ID.
func (c *Coordinator) Initiator() bool { return c.localID < c.remoteID }

func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Coordinator) setStateLocked(s State) {
	if c.state == s {
		return
	}
	c.logger.Debug().Str("from", string(c.state)).Str("to", string(s)).Msg("state transition")
	c.state = s
	if c.onStateChange != nil {
		c.onStateChange(s)
	}
}

// Start wires transport callbacks and, on the initiator side, sends the
// first offer. The negotiation watchdog is armed either way.
func (c *Coordinator) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.transport.OnICECandidate(func(ci webrtc.ICECandidateInit) {
		c.sendCandidate(ci)
	})
	c.transport.OnStateChange(c.onTransportState)
	c.armWatchdogLocked()

	if !c.Initiator() {
		c.setStateLocked(StateAwaitingOffer)
		return nil
	}
	return c.sendOfferLocked(false, "")
}

func (c *Coordinator) sendOfferLocked(iceRestart bool, mediaType string) error {
	c.setStateLocked(StateOffering)
	offer, err := c.transport.CreateOffer(iceRestart)
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	env := core.MustEnvelope(core.EventOffer, c.roomID, c.localID, c.remoteID,
		core.OfferPayload{Offer: offer, MediaType: mediaType})
	if err := c.send(env); err != nil {
		return fmt.Errorf("send offer: %w", err)
	}
	c.setStateLocked(StateAwaitingAnswer)
	return nil
}

func (c *Coordinator) sendCandidate(ci webrtc.ICECandidateInit) {
	env := core.MustEnvelope(core.EventICECandidate, c.roomID, c.localID, c.remoteID,
		core.ICECandidatePayload{Candidate: ci})
	if err := c.send(env); err != nil {
		c.logger.Warn().Err(err).Msg("send candidate")
	}
}

// HandleOffer applies a remote offer and answers it. An offer arriving
// while our own offer is in flight is glare: the initiator ignores it (the
// remote side rolls back), the polite peer rolls back its own offer and
// answers instead.
func (c *Coordinator) HandleOffer(offer webrtc.SessionDescription) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateClosed {
		return nil
	}
	if c.state == StateOffering || c.state == StateAwaitingAnswer {
		if c.Initiator() {
			c.logger.Debug().Msg("glare: ignoring remote offer, we are the initiator")
			return nil
		}
		c.logger.Debug().Msg("glare: rolling back own offer, answering as polite peer")
		if err := c.transport.Rollback(); err != nil {
			return fmt.Errorf("rollback: %w", err)
		}
	}

	wasConnected := c.state == StateConnected

	if err := c.transport.SetRemoteDescription(offer); err != nil {
		return fmt.Errorf("apply offer: %w", err)
	}
	c.remoteSet = true
	c.drainPendingLocked()

	// A renegotiation offer on an established link (remote screen-share
	// fallback, remote ICE restart) is answered without leaving Connected;
	// the transport never re-fires its connected state.
	if !wasConnected {
		c.setStateLocked(StateAnswering)
	}
	answer, err := c.transport.CreateAnswer()
	if err != nil {
		return fmt.Errorf("create answer: %w", err)
	}
	env := core.MustEnvelope(core.EventAnswer, c.roomID, c.localID, c.remoteID,
		core.AnswerPayload{Answer: answer})
	if err := c.send(env); err != nil {
		return fmt.Errorf("send answer: %w", err)
	}
	return nil
}

// HandleAnswer applies a remote answer. Accepted while awaiting one,
// during an ICE restart, and while Connected (in-place renegotiation,
// e.g. the screen-share fallback); anything else is a duplicate and is
// dropped.
func (c *Coordinator) HandleAnswer(answer webrtc.SessionDescription) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateAwaitingAnswer, StateRestarting, StateConnected:
	default:
		c.logger.Debug().Str("state", string(c.state)).Msg("dropping unexpected answer")
		return nil
	}
	if err := c.transport.SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("apply answer: %w", err)
	}
	c.remoteSet = true
	c.drainPendingLocked()
	return nil
}

// HandleCandidate applies a remote ICE candidate, buffering it if the
// paired description has not been applied yet.
func (c *Coordinator) HandleCandidate(ci webrtc.ICECandidateInit) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateClosed {
		return nil
	}
	if !c.remoteSet {
		c.pending = append(c.pending, ci)
		return nil
	}
	if err := c.transport.AddICECandidate(ci); err != nil {
		return fmt.Errorf("add candidate: %w", err)
	}
	return nil
}

func (c *Coordinator) drainPendingLocked() {
	for _, ci := range c.pending {
		if err := c.transport.AddICECandidate(ci); err != nil {
			c.logger.Warn().Err(err).Msg("drain buffered candidate")
		}
	}
	c.pending = nil
}

// AddTrack attaches a local track before or during negotiation.
func (c *Coordinator) AddTrack(track webrtc.TrackLocal) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosed {
		return core.ErrTransportFailed
	}
	return c.transport.AddTrack(track)
}

// ReplaceVideoTrack swaps the outgoing video track in place (screen
// share). The link stays Connected throughout; if the transport cannot
// swap in place, a renegotiation offer is sent instead.
func (c *Coordinator) ReplaceVideoTrack(track webrtc.TrackLocal) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateConnected {
		return fmt.Errorf("%w: link not connected", core.ErrTransportFailed)
	}
	err := c.transport.ReplaceVideoTrack(track)
	if err == nil {
		return nil
	}
	if err != ErrReplaceUnsupported {
		return fmt.Errorf("replace video track: %w", err)
	}
	// Renegotiate without leaving Connected.
	offer, err := c.transport.CreateOffer(false)
	if err != nil {
		return fmt.Errorf("renegotiation offer: %w", err)
	}
	env := core.MustEnvelope(core.EventOffer, c.roomID, c.localID, c.remoteID,
		core.OfferPayload{Offer: offer, MediaType: "screen"})
	return c.send(env)
}

func (c *Coordinator) onTransportState(s TransportState) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateClosed {
		return
	}
	switch s {
	case TransportConnected:
		c.stopWatchdogLocked()
		c.setStateLocked(StateConnected)
	case TransportFailed:
		c.handleFailureLocked()
	case TransportClosed:
		c.closeLocked()
	}
}

// handleFailureLocked performs exactly one automatic ICE restart; a second
// failure within the failure window is surfaced, not retried.
func (c *Coordinator) handleFailureLocked() {
	now := c.now()
	if c.restarts >= 1 && now.Sub(c.lastRestart) < failureWindow {
		c.stopWatchdogLocked()
		c.setStateLocked(StateFailed)
		if c.onFailure != nil {
			c.onFailure(core.ErrTransportFailed)
		}
		return
	}
	c.restarts = 1
	c.lastRestart = now
	c.remoteSet = false
	c.setStateLocked(StateRestarting)
	c.armWatchdogLocked()
	c.logger.Warn().Msg("transport failed, attempting ICE restart")

	// The restart offer is sent from Restarting, not Offering; HandleAnswer
	// accepts it there.
	offer, err := c.transport.CreateOffer(true)
	if err == nil {
		env := core.MustEnvelope(core.EventOffer, c.roomID, c.localID, c.remoteID,
			core.OfferPayload{Offer: offer})
		err = c.send(env)
	}
	if err != nil {
		c.logger.Error().Err(err).Msg("ice restart offer")
		c.stopWatchdogLocked()
		c.setStateLocked(StateFailed)
		if c.onFailure != nil {
			c.onFailure(core.ErrTransportFailed)
		}
	}
}

func (c *Coordinator) armWatchdogLocked() {
	c.stopWatchdogLocked()
	c.watchdog = c.after(c.watchdogTTL, c.watchdogFired)
}

func (c *Coordinator) stopWatchdogLocked() {
	if c.watchdog != nil {
		c.watchdog.Stop()
		c.watchdog = nil
	}
}

func (c *Coordinator) watchdogFired() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateConnected || c.state == StateClosed {
		return
	}
	c.logger.Warn().Str("state", string(c.state)).Msg("negotiation watchdog fired")
	c.handleFailureLocked()
}

// Close tears the link down. Terminal: later signaling messages for this
// link are dropped, not queued.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
}

func (c *Coordinator) closeLocked() {
	if c.state == StateClosed {
		return
	}
	c.stopWatchdogLocked()
	c.setStateLocked(StateClosed)
	c.pending = nil
	c.transport.Close()
}
