package relay

import (
	"encoding/json"
	"math"
)

// Message types exchanged with the downstream client and upstream
const (
	TypeSessionOpen   = "session_open"
	TypeProxyError    = "proxy_error"
	TypeMetric        = "metric"
	TypeStats         = "stats"
	TypeUpstreamClose = "upstream_close"

	TypeCloseStream = "CloseStream"
	TypeFinalize    = "Finalize"
	TypeKeepAlive   = "KeepAlive"

	TypeResults  = "Results"
	TypeMetadata = "Metadata"
)

// SessionOpen tells the client the upstream connection is ready
type SessionOpen struct {
	Type      string  `json:"type"`
	RequestID *string `json:"request_id"`
	Model     string  `json:"model"`
	Language  string  `json:"language"`
}

// ProxyError is the single explanatory event sent before a session ends on error
type ProxyError struct {
	Type              string `json:"type"`
	Message           string `json:"message"`
	UpstreamError     string `json:"upstream_error,omitempty"`
	UpstreamRequestID string `json:"upstream_request_id,omitempty"`
	Status            int    `json:"status,omitempty"`
}

// MetricMessage carries a one-shot latency measurement in milliseconds
type MetricMessage struct {
	Type  string `json:"type"`
	Name  string `json:"name"`
	Value int64  `json:"value"`
}

// Stats is the periodic usage snapshot
type Stats struct {
	Type           string  `json:"type"`
	AudioSeconds   float64 `json:"audio_seconds"`
	EstCostUSD     float64 `json:"est_cost_usd"`
	PricePerMinUSD float64 `json:"price_per_min_usd"`
	RequestID      *string `json:"request_id"`
}

// UpstreamClose reports that upstream closed the stream
type UpstreamClose struct {
	Type   string `json:"type"`
	Code   int    `json:"code"`
	Reason string `json:"reason"`
}

type controlMessage struct {
	Type string `json:"type"`
}

var (
	keepAliveFrame   = ControlFrame(TypeKeepAlive)
	closeStreamFrame = ControlFrame(TypeCloseStream)
)

// ControlFrame encodes a client control message such as Finalize or CloseStream
func ControlFrame(msgType string) []byte {
	return mustMarshal(controlMessage{Type: msgType})
}

func mustMarshal(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}

// nullable maps an unknown identifier to JSON null
func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// newStats computes the snapshot for a byte count of PCM16 mono audio
func newStats(audioBytes int64, sampleRate int, pricePerMin float64, requestID string) Stats {
	seconds := float64(audioBytes) / 2 / float64(sampleRate)
	cost := seconds / 60 * pricePerMin
	return Stats{
		Type:           TypeStats,
		AudioSeconds:   round(seconds, 2),
		EstCostUSD:     round(cost, 6),
		PricePerMinUSD: pricePerMin,
		RequestID:      nullable(requestID),
	}
}

func round(v float64, places int) float64 {
	scale := math.Pow(10, float64(places))
	return math.Round(v*scale) / scale
}
