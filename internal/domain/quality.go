package domain

import "time"

type Quality string

const (
	QualityExcellent Quality = "excellent"
	QualityGood      Quality = "good"
	QualityFair      Quality = "fair"
	QualityPoor      Quality = "poor"
)

// Classification bands. A sample falls into the worst band any single
// metric puts it in.
//
//	excellent: latency < 100ms, loss < 1%,  jitter < 20ms
//	good:      latency < 200ms, loss < 3%,  jitter < 40ms
//	fair:      latency < 400ms, loss < 8%,  jitter < 80ms
//	poor:      everything else
const (
	latencyExcellent = 100 * time.Millisecond
	latencyGood      = 200 * time.Millisecond
	latencyFair      = 400 * time.Millisecond

	lossExcellent = 0.01
	lossGood      = 0.03
	lossFair      = 0.08

	jitterExcellent = 20 * time.Millisecond
	jitterGood      = 40 * time.Millisecond
	jitterFair      = 80 * time.Millisecond
)

type QualitySample struct {
	Link          string        `json:"link_id"`
	Timestamp     time.Time     `json:"timestamp"`
	BandwidthKbps int           `json:"bandwidth"`
	PacketLoss    float64       `json:"packet_loss"`
	Latency       time.Duration `json:"latency_ms"`
	Jitter        time.Duration `json:"jitter_ms"`
	Quality       Quality       `json:"quality"`
}

func Classify(latency time.Duration, loss float64, jitter time.Duration) Quality {
	switch {
	case latency < latencyExcellent && loss < lossExcellent && jitter < jitterExcellent:
		return QualityExcellent
	case latency < latencyGood && loss < lossGood && jitter < jitterGood:
		return QualityGood
	case latency < latencyFair && loss < lossFair && jitter < jitterFair:
		return QualityFair
	}
	return QualityPoor
}
