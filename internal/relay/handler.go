package relay

import (
	"context"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/lexiqai/stt-relay/internal/config"
	"github.com/lexiqai/stt-relay/internal/observability"
	"github.com/lexiqai/stt-relay/internal/upstream"
)

var upgrader = websocket.Upgrader{
	// Browser clients connect from arbitrary origins; CORS policy lives in front of the relay
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// Dialer opens upstream connections. *upstream.Dialer satisfies it.
type Dialer interface {
	Dial(ctx context.Context, opts upstream.Options) (*websocket.Conn, string, error)
}

// Handler accepts downstream WebSocket clients and runs one Session per connection
type Handler struct {
	cfg    *config.Config
	dialer Dialer
	clock  clockwork.Clock
}

// NewHandler creates the /ws handler
func NewHandler(cfg *config.Config, dialer Dialer) *Handler {
	return &Handler{
		cfg:    cfg,
		dialer: dialer,
		clock:  clockwork.NewRealClock(),
	}
}

// ServeHTTP upgrades the request and blocks until the session ends.
// Optional model and language query parameters override the configured defaults.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := observability.GetLogger()

	query := r.URL.Query()
	model, language := query.Get("model"), query.Get("language")

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error response
		logger.Warn().Err(err).Str("remote_addr", r.RemoteAddr).Msg("Failed to upgrade connection to WebSocket")
		return
	}

	opts := upstream.OptionsFromConfig(h.cfg, model, language)
	dial := func(ctx context.Context) (Socket, string, error) {
		up, requestID, err := h.dialer.Dial(ctx, opts)
		if err != nil {
			return nil, "", err
		}
		return up, requestID, nil
	}

	session := NewSession(conn, dial, SettingsFromConfig(h.cfg, model, language), h.clock)
	logger.Info().
		Str("session_id", session.ID()).
		Str("remote_addr", r.RemoteAddr).
		Msg("New relay connection established")

	session.Run(r.Context())
}
