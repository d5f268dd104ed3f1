package capture

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"github.com/lexiqai/stt-relay/internal/latency"
	"github.com/lexiqai/stt-relay/internal/observability"
	"github.com/lexiqai/stt-relay/internal/relay"
)

// MessageReader is the read half of the relay connection
type MessageReader interface {
	ReadMessage() (messageType int, data []byte, err error)
}

// RelayError is a proxy_error reported by the relay
type RelayError struct {
	Message           string `json:"message"`
	UpstreamError     string `json:"upstream_error,omitempty"`
	UpstreamRequestID string `json:"upstream_request_id,omitempty"`
	Status            int    `json:"status,omitempty"`
}

func (e *RelayError) Error() string {
	msg := "relay: " + e.Message
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.UpstreamError != "" {
		msg += ": " + e.UpstreamError
	}
	return msg
}

// Summary describes one capture session
type Summary struct {
	RequestID string
	Model     string
	Language  string

	Finals    []string
	Languages []string // detected, in order of first appearance

	FirstTextMs  int64 // -1 when no transcript arrived
	Metrics      map[string]int64
	AudioSeconds float64
	EstCostUSD   float64

	DeliveryCount int
	DeliveryMaxMs int64
	DeliverySumMs int64

	UpstreamCloseCode   int
	UpstreamCloseReason string

	FramesSent    int64
	FramesDropped int64
	BytesSent     int64
	Capture       PipelineStats

	Err *RelayError
}

// DeliveryAvgMs returns the mean capture-to-delivery latency
func (s Summary) DeliveryAvgMs() int64 {
	if s.DeliveryCount == 0 {
		return 0
	}
	return s.DeliverySumMs / int64(s.DeliveryCount)
}

// Transcript joins the final transcripts
func (s Summary) Transcript() string {
	return strings.Join(s.Finals, " ")
}

// Receiver consumes relay messages, prints transcripts and builds the summary
type Receiver struct {
	mu       sync.Mutex
	out      io.Writer
	clock    clockwork.Clock
	delivery *latency.DeliveryEstimator
	summary  Summary
	seenLang map[string]bool
	logger   zerolog.Logger
}

// NewReceiver creates a receiver printing to out; time-to-first-text is measured from sessionStart
func NewReceiver(out io.Writer, sessionStart time.Time, clock clockwork.Clock) *Receiver {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Receiver{
		out:      out,
		clock:    clock,
		delivery: latency.NewDeliveryEstimator(sessionStart),
		summary:  Summary{FirstTextMs: -1, Metrics: make(map[string]int64)},
		seenLang: make(map[string]bool),
		logger:   observability.GetLogger().With().Str("component", "receiver").Logger(),
	}
}

// AudioStarted records when the first chunk was captured
func (r *Receiver) AudioStarted(at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delivery.AudioStarted(at)
}

// ReadFrom handles messages until the connection closes. A normal close returns nil.
func (r *Receiver) ReadFrom(conn MessageReader) error {
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}
		if messageType != websocket.TextMessage {
			continue
		}
		r.Handle(data)
	}
}

// Handle processes one text message from the relay
func (r *Receiver) Handle(data []byte) {
	if !gjson.ValidBytes(data) {
		r.logger.Debug().Int("bytes", len(data)).Msg("Ignoring non-JSON message")
		return
	}
	arrival := r.clock.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	switch gjson.GetBytes(data, "type").String() {
	case relay.TypeResults:
		r.handleResults(data, arrival)
	case relay.TypeMetadata:
		if id := gjson.GetBytes(data, "request_id").String(); id != "" && r.summary.RequestID == "" {
			r.summary.RequestID = id
		}
	case relay.TypeSessionOpen:
		r.summary.RequestID = gjson.GetBytes(data, "request_id").String()
		r.summary.Model = gjson.GetBytes(data, "model").String()
		r.summary.Language = gjson.GetBytes(data, "language").String()
		fmt.Fprintf(r.out, "[session] model=%s language=%s request_id=%s\n",
			r.summary.Model, r.summary.Language, orDash(r.summary.RequestID))
	case relay.TypeMetric:
		name := gjson.GetBytes(data, "name").String()
		value := gjson.GetBytes(data, "value").Int()
		r.summary.Metrics[name] = value
		fmt.Fprintf(r.out, "[metric] %s=%dms\n", name, value)
	case relay.TypeStats:
		r.summary.AudioSeconds = gjson.GetBytes(data, "audio_seconds").Float()
		r.summary.EstCostUSD = gjson.GetBytes(data, "est_cost_usd").Float()
		if id := gjson.GetBytes(data, "request_id").String(); id != "" {
			r.summary.RequestID = id
		}
	case relay.TypeProxyError:
		var relayErr RelayError
		if err := json.Unmarshal(data, &relayErr); err != nil {
			relayErr.Message = "unreadable proxy_error"
		}
		if r.summary.Err == nil {
			r.summary.Err = &relayErr
		}
		fmt.Fprintf(r.out, "[error] %s\n", relayErr.Error())
	case relay.TypeUpstreamClose:
		r.summary.UpstreamCloseCode = int(gjson.GetBytes(data, "code").Int())
		r.summary.UpstreamCloseReason = gjson.GetBytes(data, "reason").String()
		fmt.Fprintf(r.out, "[closed] upstream code=%d reason=%q\n",
			r.summary.UpstreamCloseCode, r.summary.UpstreamCloseReason)
	}
}

func (r *Receiver) handleResults(data []byte, arrival time.Time) {
	var msg msginterfaces.MessageResponse
	if err := json.Unmarshal(data, &msg); err != nil {
		r.logger.Debug().Err(err).Msg("Failed to decode results")
		return
	}
	if len(msg.Channel.Alternatives) == 0 {
		return
	}
	transcript := strings.TrimSpace(msg.Channel.Alternatives[0].Transcript)
	if transcript == "" {
		return
	}

	if ms, ok := r.delivery.FirstText(arrival); ok {
		r.summary.FirstTextMs = ms
	}
	if end, ok := latency.AudioEnd(&msg); ok {
		if ms, ok := r.delivery.Observe(end, arrival); ok {
			r.summary.DeliveryCount++
			r.summary.DeliverySumMs += ms
			if ms > r.summary.DeliveryMaxMs {
				r.summary.DeliveryMaxMs = ms
			}
		}
	}

	var langs []string
	gjson.GetBytes(data, "channel.alternatives.0.languages").ForEach(func(_, v gjson.Result) bool {
		lang := v.String()
		langs = append(langs, lang)
		if lang != "" && !r.seenLang[lang] {
			r.seenLang[lang] = true
			r.summary.Languages = append(r.summary.Languages, lang)
		}
		return true
	})

	label := "interim"
	if msg.IsFinal {
		label = "final"
		r.summary.Finals = append(r.summary.Finals, transcript)
	}
	if len(langs) > 0 {
		fmt.Fprintf(r.out, "[%s] (%s) %s\n", label, strings.Join(langs, ","), transcript)
		return
	}
	fmt.Fprintf(r.out, "[%s] %s\n", label, transcript)
}

// Summary returns a copy of the session summary so far
func (r *Receiver) Summary() Summary {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.summary
	s.Finals = append([]string(nil), r.summary.Finals...)
	s.Languages = append([]string(nil), r.summary.Languages...)
	s.Metrics = make(map[string]int64, len(r.summary.Metrics))
	for k, v := range r.summary.Metrics {
		s.Metrics[k] = v
	}
	return s
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
