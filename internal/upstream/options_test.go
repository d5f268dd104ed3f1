package upstream

import (
	"testing"

	"github.com/lexiqai/stt-relay/internal/config"
)

func testConfig() *config.Config {
	return &config.Config{
		UpstreamURL:      "wss://api.deepgram.com/v1/listen",
		DeepgramAPIKey:   "secret",
		UpstreamAuthMode: config.AuthModeHeader,
		DeepgramModel:    "nova-3",
		DeepgramLanguage: "multi",
		TargetSampleRate: 16000,
		InterimResults:   true,
		SmartFormat:      true,
		VADEvents:        true,
		EndpointingMs:    100,
		UtteranceEndMs:   1000,
	}
}

func TestOptionsFromConfig_Values(t *testing.T) {
	values, err := OptionsFromConfig(testConfig(), "", "").Values()
	if err != nil {
		t.Fatalf("Values() failed: %v", err)
	}

	expected := map[string]string{
		"model":            "nova-3",
		"language":         "multi",
		"encoding":         "linear16",
		"sample_rate":      "16000",
		"interim_results":  "true",
		"smart_format":     "true",
		"vad_events":       "true",
		"endpointing":      "100",
		"utterance_end_ms": "1000",
	}
	for key, want := range expected {
		if got := values.Get(key); got != want {
			t.Errorf("Expected %s=%s, got %q", key, want, got)
		}
	}
	if len(values) != len(expected) {
		t.Errorf("Expected %d query parameters, got %d: %v", len(expected), len(values), values)
	}
}

func TestOptionsFromConfig_Overrides(t *testing.T) {
	cfg := testConfig()
	cfg.InterimResults = false
	cfg.EndpointingMs = 0

	values, err := OptionsFromConfig(cfg, "nova-2", "en").Values()
	if err != nil {
		t.Fatalf("Values() failed: %v", err)
	}

	if values.Get("model") != "nova-2" || values.Get("language") != "en" {
		t.Errorf("Expected model nova-2 and language en, got %s and %s", values.Get("model"), values.Get("language"))
	}
	if values.Get("interim_results") != "false" {
		t.Errorf("Expected interim_results=false, got %q", values.Get("interim_results"))
	}
	if _, ok := values["endpointing"]; ok {
		t.Error("Expected zero endpointing to be omitted")
	}
}
