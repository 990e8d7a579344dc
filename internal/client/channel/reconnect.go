package channel

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// State is the abstract connection state surfaced to downstream consumers.
// Presentation (spinners, toasts) is not this package's concern.
type State string

const (
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateDisconnected State = "disconnected"
)

// ErrReconnectExhausted marks the terminal disconnected state: no further
// automatic attempts, explicit user action required.
var ErrReconnectExhausted = errors.New("reconnect attempts exhausted")

const (
	DefaultMaxAttempts = 5
	DefaultBackoffCap  = 30 * time.Second
)

// DialFunc opens a fresh underlying transport.
type DialFunc func(context.Context) (*Channel, error)

// Reconnector supervises channel liveness. On an unexpected closure it
// retries with exponential backoff: delay = min(2^attempt, cap) seconds,
// bounded by a maximum attempt count.
type Reconnector struct {
	dial        DialFunc
	maxAttempts int
	cap         time.Duration
	onState     func(State)
	logger      zerolog.Logger

	// sleep is a test seam; the default honours context cancellation.
	sleep func(context.Context, time.Duration) error
}

type ReconnectorConfig struct {
	Dial        DialFunc
	MaxAttempts int
	BackoffCap  time.Duration
	OnState     func(State)
	Logger      *zerolog.Logger

	Sleep func(context.Context, time.Duration) error
}

func NewReconnector(cfg ReconnectorConfig) *Reconnector {
	r := &Reconnector{
		dial:        cfg.Dial,
		maxAttempts: cfg.MaxAttempts,
		cap:         cfg.BackoffCap,
		onState:     cfg.OnState,
		sleep:       cfg.Sleep,
	}
	if r.maxAttempts <= 0 {
		r.maxAttempts = DefaultMaxAttempts
	}
	if r.cap <= 0 {
		r.cap = DefaultBackoffCap
	}
	if r.sleep == nil {
		r.sleep = sleepCtx
	}
	r.logger = cfg.Logger.With().Str("component", "reconnect").Logger()
	return r
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (r *Reconnector) notify(s State) {
	if r.onState != nil {
		r.onState(s)
	}
}

// Backoff returns the delay before the given attempt (1-based).
func (r *Reconnector) Backoff(attempt int) time.Duration {
	d := time.Second << attempt // 2^attempt seconds
	if d > r.cap || d <= 0 {
		return r.cap
	}
	return d
}

// Reconnect runs the backoff loop until a dial succeeds or attempts are
// exhausted. The caller is responsible for rejoining and resyncing state
// over the fresh channel; missed events are not replayed.
func (r *Reconnector) Reconnect(ctx context.Context) (*Channel, error) {
	r.notify(StateReconnecting)
	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		delay := r.Backoff(attempt)
		r.logger.Info().Int("attempt", attempt).Dur("delay", delay).Msg("scheduling reconnect")
		if err := r.sleep(ctx, delay); err != nil {
			r.notify(StateDisconnected)
			return nil, err
		}
		ch, err := r.dial(ctx)
		if err == nil {
			r.notify(StateConnected)
			r.logger.Info().Int("attempt", attempt).Msg("reconnected")
			return ch, nil
		}
		r.logger.Warn().Err(err).Int("attempt", attempt).Msg("reconnect attempt failed")
	}
	r.notify(StateDisconnected)
	return nil, ErrReconnectExhausted
}
