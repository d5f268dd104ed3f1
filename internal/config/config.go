package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Upstream authentication modes
const (
	AuthModeHeader = "header" // Authorization: Token <key>
	AuthModeQuery  = "query"  // token=bearer <token> query parameter
)

// Config holds all configuration for the relay server
type Config struct {
	// Server configuration
	Port string `envconfig:"PORT" default:"8080"`

	// Upstream recognition service
	UpstreamURL      string `envconfig:"UPSTREAM_URL" default:"wss://api.deepgram.com/v1/listen"`
	DeepgramAPIKey   string `envconfig:"DEEPGRAM_API_KEY" required:"true"`
	UpstreamAuthMode string `envconfig:"UPSTREAM_AUTH_MODE" default:"header"` // header or query
	DeepgramModel    string `envconfig:"DEEPGRAM_MODEL" default:"nova-3"`
	DeepgramLanguage string `envconfig:"DEEPGRAM_LANGUAGE" default:"multi"`

	// Recognition options sent on every upstream connection
	TargetSampleRate int  `envconfig:"TARGET_SAMPLE_RATE" default:"16000"`
	InterimResults   bool `envconfig:"INTERIM_RESULTS" default:"true"`
	SmartFormat      bool `envconfig:"SMART_FORMAT" default:"true"`
	VADEvents        bool `envconfig:"VAD_EVENTS" default:"true"`
	EndpointingMs    int  `envconfig:"ENDPOINTING_MS" default:"100"`
	UtteranceEndMs   int  `envconfig:"UTTERANCE_END_MS" default:"1000"`

	// Session timers
	KeepAliveInterval time.Duration `envconfig:"KEEPALIVE_INTERVAL" default:"5s"`
	StatsInterval     time.Duration `envconfig:"STATS_INTERVAL" default:"500ms"`
	CloseTimeout      time.Duration `envconfig:"CLOSE_TIMEOUT" default:"5s"` // drain window after CloseStream
	DialTimeout       time.Duration `envconfig:"DIAL_TIMEOUT" default:"10s"`
	WriteTimeout      time.Duration `envconfig:"WRITE_TIMEOUT" default:"10s"`

	// Cost estimate
	PricePerMinUSD float64 `envconfig:"PRICE_PER_MIN_USD" default:"0.0052"`

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`       // Log level: debug, info, warn, error
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`     // Pretty print logs (for development)
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"` // Enable Prometheus metrics
}

// CaptureConfig holds configuration for the capture client
type CaptureConfig struct {
	RelayURL      string `envconfig:"RELAY_URL" default:"ws://localhost:8080/ws"`
	RelayModel    string `envconfig:"RELAY_MODEL" default:""` // empty uses the relay's default
	RelayLanguage string `envconfig:"RELAY_LANGUAGE" default:""`

	TargetSampleRate      int  `envconfig:"TARGET_SAMPLE_RATE" default:"16000"`
	BackpressureThreshold int  `envconfig:"BACKPRESSURE_THRESHOLD" default:"1048576"` // bytes queued before frames are dropped
	Quantum               int  `envconfig:"CAPTURE_QUANTUM" default:"2048"`           // samples per captured chunk
	Realtime              bool `envconfig:"CAPTURE_REALTIME" default:"true"`          // pace file input at its natural rate
	RawSampleRate         int  `envconfig:"RAW_SAMPLE_RATE" default:"48000"`          // rate of raw f32le input

	DialAttempts int           `envconfig:"DIAL_ATTEMPTS" default:"3"`
	DialBackoff  time.Duration `envconfig:"DIAL_BACKOFF" default:"200ms"`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogPretty bool   `envconfig:"LOG_PRETTY" default:"false"`
}

// Load reads relay configuration from environment variables
// It first attempts to load from .env file if it exists, then from environment
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()
	return LoadFromEnv()
}

// LoadFromEnv loads relay configuration directly from environment variables
// without attempting to load .env file (useful for containerized deployments)
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values envconfig cannot
func (c *Config) Validate() error {
	if c.DeepgramAPIKey == "" {
		return fmt.Errorf("DEEPGRAM_API_KEY is required")
	}
	if c.UpstreamAuthMode != AuthModeHeader && c.UpstreamAuthMode != AuthModeQuery {
		return fmt.Errorf("UPSTREAM_AUTH_MODE must be %q or %q, got %q", AuthModeHeader, AuthModeQuery, c.UpstreamAuthMode)
	}
	if c.TargetSampleRate <= 0 {
		return fmt.Errorf("TARGET_SAMPLE_RATE must be positive, got %d", c.TargetSampleRate)
	}
	if c.KeepAliveInterval <= 0 || c.StatsInterval <= 0 || c.CloseTimeout <= 0 {
		return fmt.Errorf("KEEPALIVE_INTERVAL, STATS_INTERVAL and CLOSE_TIMEOUT must be positive")
	}
	if c.PricePerMinUSD < 0 {
		return fmt.Errorf("PRICE_PER_MIN_USD must not be negative, got %v", c.PricePerMinUSD)
	}
	return nil
}

// LoadCapture reads capture client configuration, including an optional .env file
func LoadCapture() (*CaptureConfig, error) {
	_ = godotenv.Load()

	var cfg CaptureConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load capture config: %w", err)
	}

	if cfg.RelayURL == "" {
		return nil, fmt.Errorf("RELAY_URL is required")
	}
	if cfg.TargetSampleRate <= 0 || cfg.RawSampleRate <= 0 {
		return nil, fmt.Errorf("sample rates must be positive")
	}
	if cfg.Quantum <= 0 {
		return nil, fmt.Errorf("CAPTURE_QUANTUM must be positive, got %d", cfg.Quantum)
	}
	if cfg.BackpressureThreshold <= 0 {
		return nil, fmt.Errorf("BACKPRESSURE_THRESHOLD must be positive, got %d", cfg.BackpressureThreshold)
	}
	if cfg.DialAttempts < 1 {
		cfg.DialAttempts = 1
	}

	return &cfg, nil
}
