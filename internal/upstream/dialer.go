package upstream

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lexiqai/stt-relay/internal/config"
)

// Dialer opens authenticated live transcription connections. One attempt per call; it never retries.
type Dialer struct {
	baseURL  string
	authMode string
	creds    Credentials
	ws       *websocket.Dialer
}

// NewDialer creates a dialer for the configured upstream URL and auth mode
func NewDialer(cfg *config.Config, creds Credentials) *Dialer {
	return &Dialer{
		baseURL:  cfg.UpstreamURL,
		authMode: cfg.UpstreamAuthMode,
		creds:    creds,
		ws: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.DialTimeout,
			ReadBufferSize:   4096,
			WriteBufferSize:  4096,
		},
	}
}

// Dial connects with the given options and returns the connection together
// with the upstream request id from the upgrade response (may be empty).
// A rejected upgrade yields a *HandshakeError.
func (d *Dialer) Dial(ctx context.Context, opts Options) (*websocket.Conn, string, error) {
	token, err := d.creds.Token(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("failed to obtain upstream credentials: %w", err)
	}

	target, header, err := d.request(opts, token)
	if err != nil {
		return nil, "", err
	}

	start := time.Now()
	conn, resp, err := d.ws.DialContext(ctx, target, header)
	if err != nil {
		if resp != nil && errors.Is(err, websocket.ErrBadHandshake) {
			return nil, "", newHandshakeError(resp, err)
		}
		return nil, "", fmt.Errorf("failed to dial upstream after %s: %w", time.Since(start).Round(time.Millisecond), err)
	}

	return conn, resp.Header.Get(HeaderRequestID), nil
}

// request builds the target URL and headers for one dial
func (d *Dialer) request(opts Options, token string) (string, http.Header, error) {
	u, err := url.Parse(d.baseURL)
	if err != nil {
		return "", nil, fmt.Errorf("invalid upstream URL %q: %w", d.baseURL, err)
	}

	query, err := opts.Values()
	if err != nil {
		return "", nil, err
	}

	header := http.Header{}
	switch d.authMode {
	case config.AuthModeQuery:
		query.Set("token", "bearer "+token)
	default:
		header.Set("Authorization", "Token "+token)
	}

	u.RawQuery = query.Encode()
	return u.String(), header, nil
}
