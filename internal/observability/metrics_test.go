package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// value reads the current value of a gauge or counter
func value(t *testing.T, c prometheus.Metric) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("Failed to read metric: %v", err)
	}
	if m.Gauge != nil {
		return m.Gauge.GetValue()
	}
	return m.Counter.GetValue()
}

func TestMetrics_SessionLifecycle(t *testing.T) {
	before := value(t, activeSessions)
	totalBefore := value(t, totalSessions)

	m := NewSessionMetrics(NewSessionID())
	m.RecordSessionStart()
	if got := value(t, activeSessions); got != before+1 {
		t.Errorf("Expected %v active sessions, got %v", before+1, got)
	}

	m.RecordSessionEnd()
	m.RecordSessionEnd()
	if got := value(t, activeSessions); got != before {
		t.Errorf("Expected %v active sessions after end, got %v", before, got)
	}
	if got := value(t, totalSessions); got != totalBefore+1 {
		t.Errorf("Expected %v total sessions, got %v", totalBefore+1, got)
	}
}

func TestMetrics_Counters(t *testing.T) {
	m := NewSessionMetrics("test")

	in := audioBytesProcessed.WithLabelValues(DirectionIn)
	before := value(t, in)
	m.RecordAudioBytes(DirectionIn, 3200)
	if got := value(t, in); got != before+3200 {
		t.Errorf("Expected %v bytes in, got %v", before+3200, got)
	}

	malformed := malformedMessages.WithLabelValues(SideUpstream)
	before = value(t, malformed)
	m.RecordMalformed(SideUpstream)
	if got := value(t, malformed); got != before+1 {
		t.Errorf("Expected %v malformed messages, got %v", before+1, got)
	}
}
