package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/lexiqai/stt-relay/internal/config"
	"github.com/lexiqai/stt-relay/internal/observability"
	"github.com/lexiqai/stt-relay/internal/relay"
	"github.com/lexiqai/stt-relay/internal/resilience"
)

const shutdownTimeout = 10 * time.Second

// ErrRelayRejected is returned when the relay answers the upgrade with an HTTP error
var ErrRelayRejected = errors.New("relay rejected connection")

var (
	finalizeFrame    = relay.ControlFrame(relay.TypeFinalize)
	closeStreamFrame = relay.ControlFrame(relay.TypeCloseStream)
)

// Client streams one capture source to the relay and prints the transcripts
type Client struct {
	cfg    *config.CaptureConfig
	out    io.Writer
	dialer *websocket.Dialer
	clock  clockwork.Clock
	logger zerolog.Logger
}

// NewClient creates a client printing transcripts to out
func NewClient(cfg *config.CaptureConfig, out io.Writer) *Client {
	return &Client{
		cfg: cfg,
		out: out,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		},
		clock:  clockwork.NewRealClock(),
		logger: observability.GetLogger().With().Str("component", "client").Logger(),
	}
}

// Stream sends src to the relay until the source is exhausted, ctx is
// cancelled or the relay ends the session. On a local stop it asks the relay
// to finalize and close, then waits for the remaining transcripts.
// rec may be nil.
func (c *Client) Stream(ctx context.Context, src Source, rec Recorder) (*Summary, error) {
	sessionStart := c.clock.Now()

	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	receiver := NewReceiver(c.out, sessionStart, c.clock)
	sender := NewSender(conn, c.cfg.BackpressureThreshold)
	go sender.Run()

	pipeline, err := NewPipeline(src, sender, PipelineConfig{
		TargetRate:   c.cfg.TargetSampleRate,
		Quantum:      c.cfg.Quantum,
		Realtime:     c.cfg.Realtime,
		Recorder:     rec,
		OnFirstChunk: receiver.AudioStarted,
	}, c.clock)
	if err != nil {
		sender.Close()
		_ = sender.Wait()
		return nil, err
	}

	captureCtx, stopCapture := context.WithCancel(ctx)
	defer stopCapture()

	var recvErr error
	receiverDone := make(chan struct{})
	go func() {
		defer close(receiverDone)
		recvErr = receiver.ReadFrom(conn)
		// the relay ended the session; nothing more can be sent
		stopCapture()
	}()

	runErr := pipeline.Run(captureCtx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	select {
	case <-receiverDone:
	default:
		for _, frame := range [][]byte{finalizeFrame, closeStreamFrame} {
			if err := sender.SendControl(frame); err != nil {
				c.logger.Debug().Err(err).Msg("Failed to send control message")
				break
			}
		}
	}
	sender.Close()
	sendErr := sender.Wait()

	select {
	case <-receiverDone:
	case <-shutdownCtx.Done():
		c.logger.Warn().Msg("Relay did not close in time, closing connection")
		conn.Close()
		<-receiverDone
	}

	summary := receiver.Summary()
	summary.FramesSent = sender.Sent()
	summary.BytesSent = sender.SentBytes()
	summary.FramesDropped = sender.Dropped()
	summary.Capture = pipeline.Stats()

	c.logger.Info().
		Int64("frames_sent", summary.FramesSent).
		Int64("frames_dropped", summary.FramesDropped).
		Int64("bytes_sent", summary.BytesSent).
		Float64("audio_seconds", summary.AudioSeconds).
		Int64("first_text_ms", summary.FirstTextMs).
		Msg("Capture session finished")

	switch {
	case summary.Err != nil:
		return &summary, summary.Err
	case runErr != nil && !errors.Is(runErr, context.Canceled):
		return &summary, fmt.Errorf("capture failed: %w", runErr)
	case sendErr != nil:
		return &summary, fmt.Errorf("sending to relay: %w", sendErr)
	case recvErr != nil && !isClosedByUs(recvErr):
		return &summary, fmt.Errorf("reading from relay: %w", recvErr)
	}
	return &summary, nil
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	target, err := c.relayURL()
	if err != nil {
		return nil, err
	}

	retryCfg := resilience.DefaultRetryConfig()
	retryCfg.MaxAttempts = c.cfg.DialAttempts
	if retryCfg.MaxAttempts < 1 {
		retryCfg.MaxAttempts = 1
	}
	retryCfg.InitialBackoff = c.cfg.DialBackoff

	var conn *websocket.Conn
	err = resilience.Retry(ctx, func(ctx context.Context) error {
		dialed, resp, err := c.dialer.DialContext(ctx, target, nil)
		if err != nil {
			if errors.Is(err, websocket.ErrBadHandshake) && resp != nil {
				return fmt.Errorf("%w: status %d", ErrRelayRejected, resp.StatusCode)
			}
			c.logger.Debug().Err(err).Str("url", target).Msg("Dial attempt failed")
			return err
		}
		conn = dialed
		return nil
	}, retryCfg, func(err error) bool {
		return !errors.Is(err, ErrRelayRejected) && resilience.IsRetryableNetworkError(err)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to relay: %w", err)
	}

	c.logger.Info().Str("url", target).Msg("Connected to relay")
	return conn, nil
}

func (c *Client) relayURL() (string, error) {
	u, err := url.Parse(c.cfg.RelayURL)
	if err != nil {
		return "", fmt.Errorf("invalid relay URL: %w", err)
	}
	q := u.Query()
	if c.cfg.RelayModel != "" {
		q.Set("model", c.cfg.RelayModel)
	}
	if c.cfg.RelayLanguage != "" {
		q.Set("language", c.cfg.RelayLanguage)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// isClosedByUs reports the read error caused by closing the connection after a shutdown timeout
func isClosedByUs(err error) bool {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		return false
	}
	return errors.Is(err, net.ErrClosed)
}
