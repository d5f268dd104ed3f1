package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/lexiqai/stt-relay/internal/audio"
	"github.com/lexiqai/stt-relay/internal/observability"
)

// Sink accepts encoded frames without blocking. *Sender satisfies it.
type Sink interface {
	Offer(frame []byte) bool
}

// PipelineConfig controls how a source is read
type PipelineConfig struct {
	TargetRate int
	Quantum    int  // samples read per chunk
	Realtime   bool // pace reads at the source's natural rate

	Recorder     Recorder             // optional copy of the outgoing audio
	OnFirstChunk func(at time.Time) // optional, called once with the first chunk's capture time
}

// PipelineStats summarises one pipeline run
type PipelineStats struct {
	Chunks        int
	FramesOffered int
	FramesDropped int
	SamplesIn     int64
	SamplesOut    int64
	PeakDBFS      float64
}

// Pipeline reads a source in fixed quanta, resamples to the target rate,
// encodes PCM16 and offers each frame to the sink
type Pipeline struct {
	src       Source
	sink      Sink
	cfg       PipelineConfig
	resampler *audio.Resampler
	clock     clockwork.Clock
	stats     PipelineStats
	logger    zerolog.Logger
}

// NewPipeline validates the configuration and builds the resampler
func NewPipeline(src Source, sink Sink, cfg PipelineConfig, clock clockwork.Clock) (*Pipeline, error) {
	if cfg.Quantum <= 0 {
		return nil, fmt.Errorf("capture quantum must be positive, got %d", cfg.Quantum)
	}
	resampler, err := audio.NewResampler(src.SampleRate(), cfg.TargetRate)
	if err != nil {
		return nil, err
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Pipeline{
		src:       src,
		sink:      sink,
		cfg:       cfg,
		resampler: resampler,
		clock:     clock,
		stats:     PipelineStats{PeakDBFS: math.Inf(-1)},
		logger:    observability.GetLogger().With().Str("component", "capture").Logger(),
	}, nil
}

// Run reads until the source is exhausted (returns nil) or ctx is cancelled (returns ctx.Err())
func (p *Pipeline) Run(ctx context.Context) error {
	buf := make([]float32, p.cfg.Quantum)
	rate := float64(p.src.SampleRate())
	start := p.clock.Now()

	p.logger.Info().
		Int("input_rate", p.src.SampleRate()).
		Int("target_rate", p.cfg.TargetRate).
		Float64("ratio", p.resampler.Ratio()).
		Bool("realtime", p.cfg.Realtime).
		Msg("Capture started")

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, err := p.src.Read(buf)
		if n > 0 && p.cfg.Realtime {
			// a chunk is only available once its last sample has been captured
			elapsed := time.Duration(float64(p.stats.SamplesIn+int64(n)) / rate * float64(time.Second))
			if wait := start.Add(elapsed).Sub(p.clock.Now()); wait > 0 {
				select {
				case <-p.clock.After(wait):
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
		if n > 0 {
			p.Process(buf[:n], p.clock.Now())
		}

		if errors.Is(err, io.EOF) {
			p.logger.Info().
				Int("chunks", p.stats.Chunks).
				Int("frames_dropped", p.stats.FramesDropped).
				Msg("Capture input exhausted")
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// Process handles one captured chunk. It never blocks.
func (p *Pipeline) Process(chunk []float32, at time.Time) {
	if p.stats.Chunks == 0 && p.cfg.OnFirstChunk != nil {
		p.cfg.OnFirstChunk(at)
	}
	p.stats.Chunks++
	p.stats.SamplesIn += int64(len(chunk))

	samples := p.resampler.Process(chunk)
	if len(samples) == 0 {
		return
	}
	p.stats.SamplesOut += int64(len(samples))

	if level := audio.LevelDBFS(audio.CalculateRMS(samples)); level > p.stats.PeakDBFS {
		p.stats.PeakDBFS = level
	}

	if p.cfg.Recorder != nil {
		if err := p.cfg.Recorder.Write(samples); err != nil {
			p.logger.Warn().Err(err).Msg("Recording failed, disabling recorder")
			p.cfg.Recorder = nil
		}
	}

	p.stats.FramesOffered++
	if !p.sink.Offer(audio.EncodePCM16(samples)) {
		p.stats.FramesDropped++
	}
}

// Stats returns the counters so far. Not safe to call concurrently with Run.
func (p *Pipeline) Stats() PipelineStats {
	return p.stats
}
