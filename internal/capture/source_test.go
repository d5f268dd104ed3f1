package capture

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

func writeWAV(t *testing.T, path string, rate, bitDepth, channels int, data []int) {
	t.Helper()
	file, err := os.Create(path)
	if err != nil {
		t.Fatalf("Failed to create fixture: %v", err)
	}
	defer file.Close()

	enc := wav.NewEncoder(file, rate, bitDepth, channels, 1)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: channels, SampleRate: rate},
		Data:           data,
		SourceBitDepth: bitDepth,
	}
	if err := enc.Write(buf); err != nil {
		t.Fatalf("Failed to write fixture: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("Failed to close fixture: %v", err)
	}
}

func TestOpenWAV_StereoKeepsFirstChannel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stereo.wav")
	// interleaved L/R
	writeWAV(t, path, 8000, 16, 2, []int{16384, -100, -16384, -100, 0, -100})

	src, err := OpenWAV(path)
	if err != nil {
		t.Fatalf("OpenWAV failed: %v", err)
	}
	defer src.Close()

	if src.SampleRate() != 8000 {
		t.Errorf("Expected sample rate 8000, got %d", src.SampleRate())
	}
	if src.Channels() != 2 {
		t.Errorf("Expected 2 channels, got %d", src.Channels())
	}

	buf := make([]float32, 16)
	n, err := src.Read(buf)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	expected := []float32{0.5, -0.5, 0}
	if n != len(expected) {
		t.Fatalf("Expected %d samples, got %d", len(expected), n)
	}
	for i := range expected {
		if buf[i] != expected[i] {
			t.Errorf("Expected sample %d to be %v, got %v", i, expected[i], buf[i])
		}
	}

	if _, err := src.Read(buf); !errors.Is(err, io.EOF) {
		t.Errorf("Expected io.EOF after last sample, got %v", err)
	}
}

func TestOpenWAV_ReadsInQuanta(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mono.wav")
	data := make([]int, 1000)
	for i := range data {
		data[i] = i
	}
	writeWAV(t, path, 16000, 16, 1, data)

	src, err := OpenWAV(path)
	if err != nil {
		t.Fatalf("OpenWAV failed: %v", err)
	}
	defer src.Close()

	buf := make([]float32, 256)
	total := 0
	for {
		n, err := src.Read(buf)
		total += n
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("Read failed: %v", err)
		}
	}
	if total != 1000 {
		t.Errorf("Expected 1000 samples in total, got %d", total)
	}
}

func TestOpenWAV_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "noise.wav")
	if err := os.WriteFile(path, []byte("definitely not a riff file"), 0o644); err != nil {
		t.Fatalf("Failed to write fixture: %v", err)
	}

	if _, err := OpenWAV(path); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("Expected ErrUnsupportedFormat, got %v", err)
	}
}

func TestOpenWAV_Missing(t *testing.T) {
	_, err := OpenWAV(filepath.Join(t.TempDir(), "missing.wav"))
	if err == nil {
		t.Fatal("Expected error for missing file")
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Expected os.ErrNotExist, got %v", err)
	}
}

func f32le(samples ...float32) []byte {
	out := make([]byte, 4*len(samples))
	for i, s := range samples {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(s))
	}
	return out
}

func TestRawSource_Read(t *testing.T) {
	data := f32le(0.25, -0.5, 1, 0.125, -1)
	// trailing partial sample
	data = append(data, 0x01, 0x02)

	src, err := NewRawSource(bytes.NewReader(data), 48000)
	if err != nil {
		t.Fatalf("NewRawSource failed: %v", err)
	}

	buf := make([]float32, 3)
	n, err := src.Read(buf)
	if err != nil || n != 3 {
		t.Fatalf("Expected 3 samples, got %d (err %v)", n, err)
	}
	if buf[0] != 0.25 || buf[1] != -0.5 || buf[2] != 1 {
		t.Errorf("Unexpected samples %v", buf)
	}

	n, err = src.Read(buf)
	if err != nil || n != 2 {
		t.Fatalf("Expected 2 trailing samples, got %d (err %v)", n, err)
	}
	if buf[0] != 0.125 || buf[1] != -1 {
		t.Errorf("Unexpected samples %v", buf[:2])
	}

	if _, err := src.Read(buf); !errors.Is(err, io.EOF) {
		t.Errorf("Expected io.EOF, got %v", err)
	}
}

func TestNewRawSource_InvalidRate(t *testing.T) {
	if _, err := NewRawSource(bytes.NewReader(nil), 0); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("Expected ErrUnsupportedFormat, got %v", err)
	}
}

func TestWAVRecorder_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "recording.wav")
	rec, err := CreateWAVRecorder(path, 16000)
	if err != nil {
		t.Fatalf("CreateWAVRecorder failed: %v", err)
	}
	if err := rec.Write([]int16{0, 16384, -16384}); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := rec.Write([]int16{8192}); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := rec.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	src, err := OpenWAV(path)
	if err != nil {
		t.Fatalf("OpenWAV failed on recording: %v", err)
	}
	defer src.Close()

	if src.SampleRate() != 16000 {
		t.Errorf("Expected sample rate 16000, got %d", src.SampleRate())
	}
	buf := make([]float32, 8)
	n, _ := src.Read(buf)
	expected := []float32{0, 0.5, -0.5, 0.25}
	if n != len(expected) {
		t.Fatalf("Expected %d samples, got %d", len(expected), n)
	}
	for i := range expected {
		if buf[i] != expected[i] {
			t.Errorf("Expected sample %d to be %v, got %v", i, expected[i], buf[i])
		}
	}
}
