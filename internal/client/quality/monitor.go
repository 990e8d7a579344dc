// Package quality samples per-link transport statistics, classifies link
// quality into threshold bands, and surfaces band transitions.
package quality

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/hireloop/signaling/internal/client/peer"
	"github.com/hireloop/signaling/internal/domain"
)

const (
	DefaultInterval = 5 * time.Second
	// WindowSize bounds the rolling sample history per link (~1 minute at
	// the default cadence). Samples are ephemeral; nothing is persisted.
	WindowSize = 12
)

// StatsProvider yields one statistics reading. peer.MediaTransport
// satisfies it.
type StatsProvider interface {
	Stats() (peer.LinkStats, error)
}

// Event fires only on a band transition, never on every sample.
type Event struct {
	Link   string
	From   domain.Quality
	To     domain.Quality
	Sample domain.QualitySample
}

type linkMonitor struct {
	src    StatsProvider
	window []domain.QualitySample
	last   domain.Quality
	cancel context.CancelFunc
}

type Monitor struct {
	mu       sync.Mutex
	links    map[string]*linkMonitor
	interval time.Duration
	onEvent  func(Event)
	logger   zerolog.Logger
}

func NewMonitor(interval time.Duration, onEvent func(Event), logger *zerolog.Logger) *Monitor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Monitor{
		links:    make(map[string]*linkMonitor),
		interval: interval,
		onEvent:  onEvent,
		logger:   logger.With().Str("component", "quality").Logger(),
	}
}

// Track starts sampling a link on the fixed interval until ctx is done or
// Untrack is called.
func (m *Monitor) Track(ctx context.Context, linkID string, src StatsProvider) {
	ctx, cancel := context.WithCancel(ctx)
	lm := &linkMonitor{src: src, cancel: cancel}

	m.mu.Lock()
	if old, ok := m.links[linkID]; ok {
		old.cancel()
	}
	m.links[linkID] = lm
	m.mu.Unlock()

	go m.loop(ctx, linkID, lm)
}

func (m *Monitor) Untrack(linkID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if lm, ok := m.links[linkID]; ok {
		lm.cancel()
		delete(m.links, linkID)
	}
}

func (m *Monitor) loop(ctx context.Context, linkID string, lm *linkMonitor) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats, err := lm.src.Stats()
			if err != nil {
				m.logger.Debug().Err(err).Str("link", linkID).Msg("stats unavailable")
				continue
			}
			m.ingest(linkID, lm, stats, time.Now())
		}
	}
}

// ingest classifies one reading and emits an event on band transition.
func (m *Monitor) ingest(linkID string, lm *linkMonitor, stats peer.LinkStats, now time.Time) {
	q := domain.Classify(stats.Latency, stats.PacketLoss, stats.Jitter)
	sample := domain.QualitySample{
		Link:          linkID,
		Timestamp:     now,
		BandwidthKbps: stats.BandwidthKbps,
		PacketLoss:    stats.PacketLoss,
		Latency:       stats.Latency,
		Jitter:        stats.Jitter,
		Quality:       q,
	}

	m.mu.Lock()
	lm.window = append(lm.window, sample)
	if len(lm.window) > WindowSize {
		lm.window = lm.window[len(lm.window)-WindowSize:]
	}
	prev := lm.last
	lm.last = q
	m.mu.Unlock()

	if prev != q && m.onEvent != nil {
		m.onEvent(Event{Link: linkID, From: prev, To: q, Sample: sample})
	}
}

// Samples returns a copy of the rolling window for a link.
func (m *Monitor) Samples(linkID string) []domain.QualitySample {
	m.mu.Lock()
	defer m.mu.Unlock()
	lm, ok := m.links[linkID]
	if !ok {
		return nil
	}
	out := make([]domain.QualitySample, len(lm.window))
	copy(out, lm.window)
	return out
}
