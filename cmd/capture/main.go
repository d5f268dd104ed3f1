package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/lexiqai/stt-relay/internal/capture"
	"github.com/lexiqai/stt-relay/internal/config"
	"github.com/lexiqai/stt-relay/internal/observability"
)

func main() {
	os.Exit(run())
}

func run() int {
	input := flag.String("input", "-", `audio input: a WAV file, or "-" for raw float32le mono on stdin`)
	record := flag.String("record", "", "optional path to write the PCM16 audio sent to the relay as WAV")
	flag.Parse()

	cfg, err := config.LoadCapture()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		return 1
	}

	// stdout carries transcripts; logs go to stderr
	observability.InitLoggerTo(os.Stderr, cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()

	src, err := capture.Open(*input, cfg.RawSampleRate)
	if err != nil {
		logger.Error().Err(err).Str("input", *input).Msg("Failed to open audio input")
		return 1
	}
	defer src.Close()

	var rec capture.Recorder
	if *record != "" {
		wavRec, err := capture.CreateWAVRecorder(*record, cfg.TargetSampleRate)
		if err != nil {
			logger.Error().Err(err).Msg("Failed to create recording")
			return 1
		}
		defer func() {
			if err := wavRec.Close(); err != nil {
				logger.Warn().Err(err).Msg("Failed to finalize recording")
			}
		}()
		rec = wavRec
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info().
		Str("relay_url", cfg.RelayURL).
		Str("input", *input).
		Int("input_rate", src.SampleRate()).
		Int("target_rate", cfg.TargetSampleRate).
		Msg("Capture client starting")

	client := capture.NewClient(cfg, os.Stdout)
	summary, streamErr := client.Stream(ctx, src, rec)
	if summary != nil {
		printSummary(summary)
	}
	if streamErr != nil {
		logger.Error().Err(streamErr).Msg("Capture session failed")
		return 1
	}
	return 0
}

func printSummary(s *capture.Summary) {
	fmt.Println("---")
	fmt.Printf("request_id:     %s\n", orNone(s.RequestID))
	fmt.Printf("transcript:     %s\n", orNone(s.Transcript()))
	if len(s.Languages) > 0 {
		fmt.Printf("languages:      %s\n", strings.Join(s.Languages, ", "))
	}
	if s.FirstTextMs >= 0 {
		fmt.Printf("first text:     %d ms\n", s.FirstTextMs)
	}
	for _, name := range []string{"upstream_ttfb_ms", "overall_ttfb_ms"} {
		if v, ok := s.Metrics[name]; ok {
			fmt.Printf("%-15s %d ms\n", name+":", v)
		}
	}
	if s.DeliveryCount > 0 {
		fmt.Printf("delivery:       avg %d ms, max %d ms over %d results\n", s.DeliveryAvgMs(), s.DeliveryMaxMs, s.DeliveryCount)
	}
	fmt.Printf("audio:          %.2f s, est. $%.6f\n", s.AudioSeconds, s.EstCostUSD)
	fmt.Printf("frames:         %d sent (%d bytes), %d dropped\n", s.FramesSent, s.BytesSent, s.FramesDropped)
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}
