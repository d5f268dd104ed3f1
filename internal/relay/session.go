// Package relay bridges one downstream audio client to one upstream
// transcription stream per session.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"github.com/lexiqai/stt-relay/internal/config"
	"github.com/lexiqai/stt-relay/internal/latency"
	"github.com/lexiqai/stt-relay/internal/observability"
	"github.com/lexiqai/stt-relay/internal/upstream"
)

// Socket is one end of the relay. *websocket.Conn satisfies it.
type Socket interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

type writeDeadliner interface {
	SetWriteDeadline(t time.Time) error
}

// DialFunc opens the upstream socket, returning the upstream request id if one was offered
type DialFunc func(ctx context.Context) (Socket, string, error)

// Settings are the read-only parameters of a session
type Settings struct {
	Model             string
	Language          string
	SampleRate        int
	KeepAliveInterval time.Duration
	StatsInterval     time.Duration
	CloseTimeout      time.Duration
	WriteTimeout      time.Duration
	PricePerMinUSD    float64
}

// SettingsFromConfig derives session settings; non-empty model/language override the defaults
func SettingsFromConfig(cfg *config.Config, model, language string) Settings {
	if model == "" {
		model = cfg.DeepgramModel
	}
	if language == "" {
		language = cfg.DeepgramLanguage
	}
	return Settings{
		Model:             model,
		Language:          language,
		SampleRate:        cfg.TargetSampleRate,
		KeepAliveInterval: cfg.KeepAliveInterval,
		StatsInterval:     cfg.StatsInterval,
		CloseTimeout:      cfg.CloseTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		PricePerMinUSD:    cfg.PricePerMinUSD,
	}
}

// Session owns a downstream socket, an upstream socket and the timers
// between them. All fields are mutated only by Handle, which runs on the
// single goroutine that called Run.
type Session struct {
	id       string
	settings Settings
	clock    clockwork.Clock
	dial     DialFunc

	downstream Socket
	upstream   Socket

	state      State
	audioBytes int64
	requestID  string
	startedAt  time.Time
	running    bool

	keepAlive  clockwork.Ticker
	stats      clockwork.Ticker
	closeTimer clockwork.Timer

	tracker *latency.Tracker
	metrics *observability.Metrics
	logger  zerolog.Logger

	events chan Event
	done   chan struct{}
}

// NewSession creates a session in CONNECTING. Nothing happens until Run.
func NewSession(downstream Socket, dial DialFunc, settings Settings, clock clockwork.Clock) *Session {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	id := observability.NewSessionID()
	metrics := observability.NewSessionMetrics(id)
	metrics.RecordSessionStart()

	return &Session{
		id:         id,
		settings:   settings,
		clock:      clock,
		dial:       dial,
		downstream: downstream,
		state:      StateConnecting,
		startedAt:  clock.Now(),
		tracker:    latency.NewTracker(),
		metrics:    metrics,
		logger: observability.WithSessionID(id).With().
			Str("model", settings.Model).
			Str("language", settings.Language).
			Logger(),
		events: make(chan Event),
		done:   make(chan struct{}),
	}
}

// ID returns the session id
func (s *Session) ID() string {
	return s.id
}

// State returns the current lifecycle state. Only safe from the session goroutine or after Run returns.
func (s *Session) State() State {
	return s.state
}

// AudioBytes returns the cumulative audio bytes relayed upstream
func (s *Session) AudioBytes() int64 {
	return s.audioBytes
}

// RequestID returns the upstream request id, if known
func (s *Session) RequestID() string {
	return s.requestID
}

// Done is closed when the session reaches CLOSED
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Run drives the session until it is CLOSED or ctx is cancelled
func (s *Session) Run(ctx context.Context) {
	if s.state == StateClosed {
		return
	}
	s.running = true

	s.stats = s.clock.NewTicker(s.settings.StatsInterval)
	s.keepAlive = s.clock.NewTicker(s.settings.KeepAliveInterval)

	dialCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.logger.Info().Msg("Relay session started")
	go s.dialUpstream(dialCtx)
	go s.readLoop(SideDownstream, s.downstream)

	for s.state != StateClosed {
		var keepAliveC, closeC <-chan time.Time
		if s.keepAlive != nil {
			keepAliveC = s.keepAlive.Chan()
		}
		if s.closeTimer != nil {
			closeC = s.closeTimer.Chan()
		}

		select {
		case ev := <-s.events:
			s.Handle(ev)
		case <-keepAliveC:
			s.Handle(KeepAliveTick{})
		case <-s.stats.Chan():
			s.Handle(StatsTick{})
		case <-closeC:
			s.Handle(CloseDeadline{})
		case <-ctx.Done():
			s.Stop("server shutting down")
		}
	}
}

// Handle applies one event to the session
func (s *Session) Handle(ev Event) {
	if s.state == StateClosed {
		if opened, ok := ev.(UpstreamOpened); ok && opened.Conn != nil {
			_ = opened.Conn.Close()
		}
		return
	}

	switch e := ev.(type) {
	case AudioFrame:
		s.handleAudio(e)
	case ControlSignal:
		s.handleControl(e)
	case UpstreamOpened:
		s.handleUpstreamOpened(e)
	case UpstreamRejected:
		s.handleUpstreamRejected(e)
	case UpstreamMessage:
		s.handleUpstreamMessage(e)
	case SocketClosed:
		s.handleSocketGone(e.Side, e.Code, e.Reason, nil)
	case SocketErrored:
		s.handleSocketGone(e.Side, 0, "", e.Err)
	case KeepAliveTick:
		if s.upstreamWritable() {
			s.writeUpstream(websocket.TextMessage, keepAliveFrame)
		}
	case StatsTick:
		s.sendDownstream(newStats(s.audioBytes, s.settings.SampleRate, s.settings.PricePerMinUSD, s.requestID))
	case CloseDeadline:
		if s.state == StateClosing {
			s.logger.Warn().Dur("timeout", s.settings.CloseTimeout).Msg("Upstream did not close in time")
			s.Stop("close timeout")
		}
	}
}

func (s *Session) handleAudio(e AudioFrame) {
	// an empty binary frame would be read upstream as end of stream
	if len(e.Data) == 0 {
		return
	}
	if !s.upstreamWritable() {
		s.logger.Debug().Str("state", s.state.String()).Int("bytes", len(e.Data)).Msg("Dropping audio frame")
		return
	}

	now := s.clock.Now()
	if s.tracker.AudioSeen(now) {
		s.logger.Debug().Msg("First audio frame relayed")
	}
	s.audioBytes += int64(len(e.Data))
	s.metrics.RecordAudioBytes(observability.DirectionIn, int64(len(e.Data)))
	s.writeUpstream(websocket.BinaryMessage, e.Data)

	if s.state == StateOpen {
		s.state = StateStreaming
	}
}

func (s *Session) handleControl(e ControlSignal) {
	if !gjson.ValidBytes(e.Raw) {
		s.metrics.RecordMalformed(observability.SideDownstream)
		return
	}

	msgType := gjson.GetBytes(e.Raw, "type").String()
	switch msgType {
	case TypeCloseStream:
		switch s.state {
		case StateConnecting:
			s.Stop("client closed before upstream opened")
		case StateOpen, StateStreaming:
			s.enterClosing()
			s.writeUpstream(websocket.TextMessage, closeStreamFrame)
		}

	case TypeFinalize, TypeKeepAlive:
		if s.upstreamWritable() {
			s.writeUpstream(websocket.TextMessage, e.Raw)
		}

	default:
		s.logger.Debug().Str("type", msgType).Msg("Ignoring unknown control message")
		s.metrics.RecordMalformed(observability.SideDownstream)
	}
}

func (s *Session) handleUpstreamOpened(e UpstreamOpened) {
	if s.state != StateConnecting {
		_ = e.Conn.Close()
		return
	}

	now := s.clock.Now()
	s.upstream = e.Conn
	s.requestID = e.RequestID
	s.state = StateOpen
	s.tracker.UpstreamOpened(now)
	s.metrics.RecordHandshake("ok")
	if s.requestID != "" {
		s.logger = s.logger.With().Str("request_id", s.requestID).Logger()
	}

	s.logger.Info().Dur("connect_time", now.Sub(s.startedAt)).Msg("Upstream connection opened")
	s.sendDownstream(SessionOpen{
		Type:      TypeSessionOpen,
		RequestID: nullable(s.requestID),
		Model:     s.settings.Model,
		Language:  s.settings.Language,
	})

	if s.running {
		go s.readLoop(SideUpstream, e.Conn)
	}
}

func (s *Session) handleUpstreamRejected(e UpstreamRejected) {
	if s.state != StateConnecting {
		return
	}

	msg := ProxyError{Type: TypeProxyError, Message: "upstream connection failed"}
	var hsErr *upstream.HandshakeError
	if errors.As(e.Err, &hsErr) {
		msg.Message = "upstream upgrade failed"
		msg.UpstreamError = hsErr.Code
		msg.UpstreamRequestID = hsErr.RequestID
		msg.Status = hsErr.Status
		s.metrics.RecordHandshake(strconv.Itoa(hsErr.Status))
	} else {
		s.metrics.RecordHandshake("error")
	}

	s.logger.Error().Err(e.Err).
		Int("status", msg.Status).
		Str("upstream_error", msg.UpstreamError).
		Str("upstream_request_id", msg.UpstreamRequestID).
		Msg("Upstream handshake failed")
	s.metrics.RecordError("handshake_failed", "upstream")

	s.sendDownstream(msg)
	s.Stop("upstream handshake failed")
}

func (s *Session) handleUpstreamMessage(e UpstreamMessage) {
	if s.upstream == nil {
		return
	}
	if e.Binary || !gjson.ValidBytes(e.Data) {
		s.metrics.RecordMalformed(observability.SideUpstream)
		return
	}

	switch gjson.GetBytes(e.Data, "type").String() {
	case TypeResults:
		for _, m := range s.tracker.ResultReceived(s.clock.Now()) {
			s.metrics.RecordTTFB(m.Name, m.Value)
			s.logger.Info().Int64(m.Name, m.Value).Msg("Time to first result")
			s.sendDownstream(MetricMessage{Type: TypeMetric, Name: m.Name, Value: m.Value})
		}

	case TypeMetadata:
		meta := gjson.GetManyBytes(e.Data, "request_id", "duration")
		if s.requestID == "" && meta[0].String() != "" {
			s.requestID = meta[0].String()
			s.logger = s.logger.With().Str("request_id", s.requestID).Logger()
		}
		if meta[1].Exists() {
			s.metrics.RecordUpstreamAudioDuration(meta[1].Float())
			s.logger.Info().Float64("duration", meta[1].Float()).Msg("Upstream metadata received")
		}
	}

	// forwarded as received, never re-serialized
	s.writeDownstream(websocket.TextMessage, e.Data)
}

func (s *Session) handleSocketGone(side Side, code int, reason string, err error) {
	if side == SideDownstream {
		s.logger.Info().Err(err).Int("code", code).Msg("Client disconnected")
		if s.upstreamWritable() {
			s.writeUpstream(websocket.TextMessage, closeStreamFrame)
		}
		s.Stop("client disconnected")
		return
	}

	if err != nil {
		s.logger.Error().Err(err).Msg("Upstream connection error")
		s.metrics.RecordError("read_error", "upstream")
		s.sendDownstream(ProxyError{Type: TypeProxyError, Message: "upstream connection error"})
		s.Stop("upstream error")
		return
	}

	s.logger.Info().Int("code", code).Str("reason", reason).Msg("Upstream closed")
	s.sendDownstream(UpstreamClose{Type: TypeUpstreamClose, Code: code, Reason: reason})
	s.Stop("upstream closed")
}

// enterClosing stops keep-alives and waits for upstream to finish
func (s *Session) enterClosing() {
	s.state = StateClosing
	if s.keepAlive != nil {
		s.keepAlive.Stop()
		s.keepAlive = nil
	}
	s.closeTimer = s.clock.NewTimer(s.settings.CloseTimeout)
	s.logger.Info().Msg("Closing stream, draining upstream results")
}

// Stop releases both sockets and all timers. Calling it again is a no-op.
func (s *Session) Stop(reason string) {
	if s.state == StateClosed {
		return
	}
	s.state = StateClosed

	if s.keepAlive != nil {
		s.keepAlive.Stop()
		s.keepAlive = nil
	}
	if s.stats != nil {
		s.stats.Stop()
	}
	if s.closeTimer != nil {
		s.closeTimer.Stop()
	}
	close(s.done)

	if s.downstream != nil {
		_ = write(s.downstream, websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), s.settings.WriteTimeout)
		if err := s.downstream.Close(); err != nil {
			s.logger.Debug().Err(err).Msg("Closing downstream socket")
		}
	}
	if s.upstream != nil {
		if err := s.upstream.Close(); err != nil {
			s.logger.Debug().Err(err).Msg("Closing upstream socket")
		}
	}

	s.metrics.RecordSessionEnd()
	s.logger.Info().
		Str("reason", reason).
		Dur("duration", s.clock.Since(s.startedAt)).
		Int64("audio_bytes", s.audioBytes).
		Msg("Relay session closed")
}

func (s *Session) upstreamWritable() bool {
	return s.upstream != nil && (s.state == StateOpen || s.state == StateStreaming)
}

func (s *Session) writeUpstream(messageType int, data []byte) {
	if err := write(s.upstream, messageType, data, s.settings.WriteTimeout); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to write upstream")
		s.metrics.RecordError("write_error", "upstream")
	}
}

func (s *Session) writeDownstream(messageType int, data []byte) {
	if err := write(s.downstream, messageType, data, s.settings.WriteTimeout); err != nil {
		s.logger.Debug().Err(err).Msg("Failed to write downstream")
		s.metrics.RecordError("write_error", "downstream")
	}
}

func (s *Session) sendDownstream(v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to encode message")
		return
	}
	s.writeDownstream(websocket.TextMessage, data)
}

func write(sock Socket, messageType int, data []byte, timeout time.Duration) error {
	if d, ok := sock.(writeDeadliner); ok && timeout > 0 {
		_ = d.SetWriteDeadline(time.Now().Add(timeout))
	}
	return sock.WriteMessage(messageType, data)
}

// post delivers an event to the loop, giving up once the session is done
func (s *Session) post(ev Event) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.done:
		return false
	}
}

func (s *Session) dialUpstream(ctx context.Context) {
	conn, requestID, err := s.dial(ctx)
	if err != nil {
		s.post(UpstreamRejected{Err: err})
		return
	}
	if !s.post(UpstreamOpened{Conn: conn, RequestID: requestID}) {
		_ = conn.Close()
	}
}

func (s *Session) readLoop(side Side, sock Socket) {
	for {
		messageType, data, err := sock.ReadMessage()
		if err != nil {
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				s.post(SocketClosed{Side: side, Code: closeErr.Code, Reason: closeErr.Text})
			} else {
				s.post(SocketErrored{Side: side, Err: err})
			}
			return
		}

		var ev Event
		switch {
		case side == SideUpstream:
			ev = UpstreamMessage{Data: data, Binary: messageType == websocket.BinaryMessage}
		case messageType == websocket.BinaryMessage:
			ev = AudioFrame{Data: data}
		default:
			ev = ControlSignal{Raw: data}
		}
		if !s.post(ev) {
			return
		}
	}
}
