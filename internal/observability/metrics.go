package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Audio directions and malformed-message sides used as label values
const (
	DirectionIn = "in" // downstream client -> upstream

	SideDownstream = "downstream"
	SideUpstream   = "upstream"
)

var (
	// Session metrics
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relay_active_sessions",
		Help: "Number of active relay sessions",
	})

	totalSessions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_sessions_total",
		Help: "Total number of relay sessions opened",
	})

	sessionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "relay_session_duration_seconds",
		Help:    "Duration of relay sessions in seconds",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
	})

	// Upstream metrics
	upstreamHandshakes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_upstream_handshakes_total",
		Help: "Upstream handshake attempts by outcome",
	}, []string{"status"})

	ttfb = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "relay_ttfb_seconds",
		Help:    "Time to first transcription result",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0},
	}, []string{"kind"})

	upstreamAudioDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "relay_upstream_audio_duration_seconds",
		Help:    "Audio duration reported by upstream metadata at stream end",
		Buckets: []float64{1, 5, 10, 30, 60, 300, 900},
	})

	malformedMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_malformed_messages_total",
		Help: "Messages discarded because they could not be parsed",
	}, []string{"side"})

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_errors_total",
		Help: "Total number of errors",
	}, []string{"type", "component"})

	// Audio metrics
	audioBytesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_audio_bytes_total",
		Help: "Total audio bytes relayed",
	}, []string{"direction"})
)

// Metrics records process-wide collectors on behalf of one session.
// It is owned by the session's event loop and needs no locking.
type Metrics struct {
	sessionID string
	startTime time.Time
	ended     bool
}

// NewSessionMetrics creates a metrics recorder for a session
func NewSessionMetrics(sessionID string) *Metrics {
	return &Metrics{
		sessionID: sessionID,
		startTime: time.Now(),
	}
}

// RecordSessionStart records the start of a session
func (m *Metrics) RecordSessionStart() {
	activeSessions.Inc()
	totalSessions.Inc()
}

// RecordSessionEnd records the end of a session; only the first call counts
func (m *Metrics) RecordSessionEnd() {
	if m.ended {
		return
	}
	m.ended = true
	activeSessions.Dec()
	sessionDuration.Observe(time.Since(m.startTime).Seconds())
}

// RecordHandshake records the outcome of an upstream handshake ("ok" or an HTTP status)
func (m *Metrics) RecordHandshake(status string) {
	upstreamHandshakes.WithLabelValues(status).Inc()
}

// RecordTTFB records a time-to-first-result measurement
func (m *Metrics) RecordTTFB(kind string, ms int64) {
	ttfb.WithLabelValues(kind).Observe(float64(ms) / 1000)
}

// RecordUpstreamAudioDuration records the audio duration reported by upstream
func (m *Metrics) RecordUpstreamAudioDuration(seconds float64) {
	upstreamAudioDuration.Observe(seconds)
}

// RecordMalformed records a discarded message
func (m *Metrics) RecordMalformed(side string) {
	malformedMessages.WithLabelValues(side).Inc()
}

// RecordError records an error
func (m *Metrics) RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

// RecordAudioBytes records audio bytes relayed
func (m *Metrics) RecordAudioBytes(direction string, bytes int64) {
	audioBytesProcessed.WithLabelValues(direction).Add(float64(bytes))
}
