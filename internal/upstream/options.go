// Package upstream opens live transcription connections to the recognition service.
package upstream

import (
	"fmt"
	"net/url"

	"github.com/gorilla/schema"

	"github.com/lexiqai/stt-relay/internal/config"
)

// Options are the per-connection recognition parameters, sent as query string
type Options struct {
	Model          string `schema:"model,omitempty"`
	Language       string `schema:"language,omitempty"`
	Encoding       string `schema:"encoding"`
	SampleRate     int    `schema:"sample_rate"`
	InterimResults bool   `schema:"interim_results"`
	SmartFormat    bool   `schema:"smart_format"`
	VADEvents      bool   `schema:"vad_events"`
	Endpointing    int    `schema:"endpointing,omitempty"`
	UtteranceEndMs int    `schema:"utterance_end_ms,omitempty"`
}

var encoder = schema.NewEncoder()

// OptionsFromConfig builds options from configuration. Non-empty model and
// language override the configured defaults.
func OptionsFromConfig(cfg *config.Config, model, language string) Options {
	if model == "" {
		model = cfg.DeepgramModel
	}
	if language == "" {
		language = cfg.DeepgramLanguage
	}
	return Options{
		Model:          model,
		Language:       language,
		Encoding:       "linear16",
		SampleRate:     cfg.TargetSampleRate,
		InterimResults: cfg.InterimResults,
		SmartFormat:    cfg.SmartFormat,
		VADEvents:      cfg.VADEvents,
		Endpointing:    cfg.EndpointingMs,
		UtteranceEndMs: cfg.UtteranceEndMs,
	}
}

// Values encodes the options as URL query values
func (o Options) Values() (url.Values, error) {
	values := url.Values{}
	if err := encoder.Encode(o, values); err != nil {
		return nil, fmt.Errorf("failed to encode upstream options: %w", err)
	}
	return values, nil
}
