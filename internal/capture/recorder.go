package capture

import (
	"fmt"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// Recorder receives exactly the samples offered to the relay
type Recorder interface {
	Write(samples []int16) error
}

// WAVRecorder writes PCM16 mono samples to a WAV file
type WAVRecorder struct {
	file *os.File
	enc  *wav.Encoder
	buf  *audio.IntBuffer
}

// CreateWAVRecorder creates (or truncates) path
func CreateWAVRecorder(path string, sampleRate int) (*WAVRecorder, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create recording: %w", err)
	}
	return &WAVRecorder{
		file: file,
		enc:  wav.NewEncoder(file, sampleRate, 16, 1, 1),
		buf:  &audio.IntBuffer{Format: &audio.Format{NumChannels: 1, SampleRate: sampleRate}, SourceBitDepth: 16},
	}, nil
}

// Write appends samples to the recording
func (r *WAVRecorder) Write(samples []int16) error {
	if cap(r.buf.Data) < len(samples) {
		r.buf.Data = make([]int, len(samples))
	}
	r.buf.Data = r.buf.Data[:len(samples)]
	for i, s := range samples {
		r.buf.Data[i] = int(s)
	}
	if err := r.enc.Write(r.buf); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	return nil
}

// Close finalizes the WAV header and closes the file
func (r *WAVRecorder) Close() error {
	if err := r.enc.Close(); err != nil {
		r.file.Close()
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return r.file.Close()
}
