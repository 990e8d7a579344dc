package quality

import (
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/hireloop/signaling/internal/client/peer"
	"github.com/hireloop/signaling/internal/domain"
)

func excellent() peer.LinkStats {
	return peer.LinkStats{Latency: 40 * time.Millisecond, PacketLoss: 0.001, Jitter: 5 * time.Millisecond}
}

func poor() peer.LinkStats {
	return peer.LinkStats{Latency: 900 * time.Millisecond, PacketLoss: 0.2, Jitter: 200 * time.Millisecond}
}

func TestEventsOnlyOnBandTransition(t *testing.T) {
	nop := zerolog.Nop()
	var events []Event
	m := NewMonitor(time.Second, func(e Event) { events = append(events, e) }, &nop)
	lm := &linkMonitor{}
	m.links["link"] = lm

	now := time.Unix(1000, 0)
	m.ingest("link", lm, excellent(), now)
	if len(events) != 1 || events[0].To != domain.QualityExcellent {
		t.Fatalf("want initial band event, got %v", events)
	}

	// Repeated samples in the same band stay quiet.
	for i := 0; i < 5; i++ {
		m.ingest("link", lm, excellent(), now.Add(time.Duration(i)*time.Second))
	}
	if len(events) != 1 {
		t.Fatalf("same-band samples emitted events: %v", events)
	}

	m.ingest("link", lm, poor(), now.Add(time.Minute))
	if len(events) != 2 {
		t.Fatalf("band drop not reported: %v", events)
	}
	if events[1].From != domain.QualityExcellent || events[1].To != domain.QualityPoor {
		t.Fatalf("wrong transition: %+v", events[1])
	}

	m.ingest("link", lm, excellent(), now.Add(2*time.Minute))
	if len(events) != 3 || events[2].To != domain.QualityExcellent {
		t.Fatalf("recovery not reported: %v", events)
	}
}

func TestWorstMetricWins(t *testing.T) {
	nop := zerolog.Nop()
	var events []Event
	m := NewMonitor(time.Second, func(e Event) { events = append(events, e) }, &nop)
	lm := &linkMonitor{}
	m.links["link"] = lm

	// Latency alone in the fair band drags the whole sample down.
	stats := excellent()
	stats.Latency = 300 * time.Millisecond
	m.ingest("link", lm, stats, time.Unix(1000, 0))
	if events[0].To != domain.QualityFair {
		t.Fatalf("want fair, got %s", events[0].To)
	}
}

func TestWindowBounded(t *testing.T) {
	nop := zerolog.Nop()
	m := NewMonitor(time.Second, nil, &nop)
	lm := &linkMonitor{}
	m.links["link"] = lm

	base := time.Unix(1000, 0)
	for i := 0; i < WindowSize+5; i++ {
		stats := excellent()
		stats.BandwidthKbps = i
		m.ingest("link", lm, stats, base.Add(time.Duration(i)*time.Second))
	}

	window := m.Samples("link")
	if len(window) != WindowSize {
		t.Fatalf("want %d samples, got %d", WindowSize, len(window))
	}
	// Oldest samples evicted first.
	if window[0].BandwidthKbps != 5 || window[len(window)-1].BandwidthKbps != WindowSize+4 {
		t.Fatalf("window misordered: first=%d last=%d", window[0].BandwidthKbps, window[len(window)-1].BandwidthKbps)
	}
}

func TestUntrackForgetsLink(t *testing.T) {
	nop := zerolog.Nop()
	m := NewMonitor(time.Second, nil, &nop)
	lm := &linkMonitor{cancel: func() {}}
	m.links["link"] = lm
	m.ingest("link", lm, excellent(), time.Unix(1000, 0))

	m.Untrack("link")
	if got := m.Samples("link"); got != nil {
		t.Fatalf("samples survive untrack: %v", got)
	}
}

func ExampleEvent() {
	e := Event{Link: "alice->bob", From: domain.QualityGood, To: domain.QualityPoor}
	fmt.Println(e.Link, string(e.From), "->", string(e.To))
	// Output: alice->bob good -> poor
}
