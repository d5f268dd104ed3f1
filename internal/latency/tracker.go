// Package latency derives timing metrics for a relay session and for the
// capture client.
package latency

import (
	"math"
	"time"
)

// Metric names reported to the downstream client
const (
	MetricUpstreamTTFB = "upstream_ttfb_ms"
	MetricOverallTTFB  = "overall_ttfb_ms"
)

// Metric is a one-shot latency measurement in whole milliseconds
type Metric struct {
	Name  string
	Value int64
}

// Tracker measures time-to-first-result for one session.
// Each interval is reported at most once; later results are ignored.
type Tracker struct {
	upstreamOpenedAt time.Time
	firstAudioAt     time.Time

	upstreamDone bool
	overallDone  bool
}

// NewTracker creates an empty tracker
func NewTracker() *Tracker {
	return &Tracker{}
}

// UpstreamOpened records when the upstream handshake completed. Only the first call counts.
func (t *Tracker) UpstreamOpened(at time.Time) {
	if t.upstreamOpenedAt.IsZero() {
		t.upstreamOpenedAt = at
	}
}

// AudioSeen records the first audio byte relayed upstream.
// It reports whether this call set the timestamp.
func (t *Tracker) AudioSeen(at time.Time) bool {
	if !t.firstAudioAt.IsZero() {
		return false
	}
	t.firstAudioAt = at
	return true
}

// FirstAudioAt returns when audio was first seen, zero if never
func (t *Tracker) FirstAudioAt() time.Time {
	return t.firstAudioAt
}

// ResultReceived records a result-type message and returns the metrics that
// became measurable with it.
func (t *Tracker) ResultReceived(at time.Time) []Metric {
	var metrics []Metric

	if !t.upstreamDone && !t.upstreamOpenedAt.IsZero() {
		t.upstreamDone = true
		metrics = append(metrics, Metric{Name: MetricUpstreamTTFB, Value: Millis(at.Sub(t.upstreamOpenedAt))})
	}
	if !t.overallDone && !t.firstAudioAt.IsZero() {
		t.overallDone = true
		metrics = append(metrics, Metric{Name: MetricOverallTTFB, Value: Millis(at.Sub(t.firstAudioAt))})
	}

	return metrics
}

// Millis rounds a duration to whole milliseconds
func Millis(d time.Duration) int64 {
	return int64(math.Round(float64(d) / float64(time.Millisecond)))
}
