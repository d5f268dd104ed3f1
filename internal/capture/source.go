// Package capture turns local audio into PCM16 frames for the relay and
// prints what comes back.
package capture

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// ErrUnsupportedFormat is returned for input the capture sources cannot decode
var ErrUnsupportedFormat = errors.New("unsupported audio format")

// Source yields mono float samples in [-1, 1] at a fixed rate.
// Read returns io.EOF once the input is exhausted.
type Source interface {
	SampleRate() int
	Read(buf []float32) (int, error)
	Close() error
}

// WAVSource decodes integer PCM WAV files; only the first channel is kept.
type WAVSource struct {
	file     *os.File
	decoder  *wav.Decoder
	buf      *audio.IntBuffer
	channels int
	scale    float32
	rate     int
}

// OpenWAV opens and validates a WAV file. All failures happen here, before any network activity.
func OpenWAV(path string) (*WAVSource, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open audio input: %w", err)
	}

	decoder := wav.NewDecoder(file)
	if !decoder.IsValidFile() {
		file.Close()
		return nil, fmt.Errorf("%s is not a valid WAV file: %w", path, ErrUnsupportedFormat)
	}
	if decoder.WavAudioFormat != 1 {
		file.Close()
		return nil, fmt.Errorf("WAV audio format %d (only integer PCM is supported): %w", decoder.WavAudioFormat, ErrUnsupportedFormat)
	}
	if decoder.BitDepth != 16 && decoder.BitDepth != 24 && decoder.BitDepth != 32 {
		file.Close()
		return nil, fmt.Errorf("WAV bit depth %d: %w", decoder.BitDepth, ErrUnsupportedFormat)
	}

	channels := int(decoder.NumChans)
	return &WAVSource{
		file:     file,
		decoder:  decoder,
		buf:      &audio.IntBuffer{Format: decoder.Format()},
		channels: channels,
		scale:    float32(int64(1) << (decoder.BitDepth - 1)),
		rate:     int(decoder.SampleRate),
	}, nil
}

// SampleRate returns the file's sample rate
func (s *WAVSource) SampleRate() int {
	return s.rate
}

// Channels returns the file's channel count
func (s *WAVSource) Channels() int {
	return s.channels
}

// Read fills buf with up to len(buf) mono samples
func (s *WAVSource) Read(buf []float32) (int, error) {
	want := len(buf) * s.channels
	if cap(s.buf.Data) < want {
		s.buf.Data = make([]int, want)
	}
	s.buf.Data = s.buf.Data[:want]

	n, err := s.decoder.PCMBuffer(s.buf)
	if err != nil && !errors.Is(err, io.EOF) {
		return 0, fmt.Errorf("failed to decode WAV data: %w", err)
	}

	frames := n / s.channels
	if frames == 0 {
		return 0, io.EOF
	}
	for i := 0; i < frames; i++ {
		buf[i] = float32(s.buf.Data[i*s.channels]) / s.scale
	}
	return frames, nil
}

// Close closes the underlying file
func (s *WAVSource) Close() error {
	return s.file.Close()
}

// RawSource reads headerless little-endian float32 mono samples, e.g.
// `arecord -f FLOAT_LE -c 1 -r 48000` piped to stdin.
type RawSource struct {
	r      *bufio.Reader
	closer io.Closer
	rate   int
	raw    []byte
	eof    bool
}

// NewRawSource wraps r; rate is the sample rate the producer records at
func NewRawSource(r io.Reader, rate int) (*RawSource, error) {
	if rate <= 0 {
		return nil, fmt.Errorf("raw sample rate %d: %w", rate, ErrUnsupportedFormat)
	}
	src := &RawSource{r: bufio.NewReaderSize(r, 64*1024), rate: rate}
	if c, ok := r.(io.Closer); ok {
		src.closer = c
	}
	return src, nil
}

// SampleRate returns the configured rate
func (s *RawSource) SampleRate() int {
	return s.rate
}

// Read blocks until len(buf) samples are available or the stream ends.
// A trailing partial sample is discarded.
func (s *RawSource) Read(buf []float32) (int, error) {
	if s.eof {
		return 0, io.EOF
	}
	if cap(s.raw) < len(buf)*4 {
		s.raw = make([]byte, len(buf)*4)
	}
	raw := s.raw[:len(buf)*4]

	n, err := io.ReadFull(s.r, raw)
	switch {
	case errors.Is(err, io.ErrUnexpectedEOF):
		s.eof = true
	case errors.Is(err, io.EOF):
		s.eof = true
		return 0, io.EOF
	case err != nil:
		return 0, fmt.Errorf("failed to read raw audio: %w", err)
	}

	samples := n / 4
	if samples == 0 {
		return 0, io.EOF
	}
	for i := 0; i < samples; i++ {
		buf[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return samples, nil
}

// Close closes the underlying reader when it is closable
func (s *RawSource) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

// Open picks a source for path: "-" reads raw float32 from stdin at rawRate, anything else is a WAV file
func Open(path string, rawRate int) (Source, error) {
	if path == "-" {
		return NewRawSource(os.Stdin, rawRate)
	}
	return OpenWAV(path)
}
