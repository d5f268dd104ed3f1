package capture

import (
	"io"
	"sync"
	"testing"
	"time"
)

// sliceSource serves samples from memory
type sliceSource struct {
	rate    int
	samples []float32
	pos     int
	closed  bool
}

func newSliceSource(rate int, samples []float32) *sliceSource {
	return &sliceSource{rate: rate, samples: samples}
}

func (s *sliceSource) SampleRate() int { return s.rate }

func (s *sliceSource) Read(buf []float32) (int, error) {
	if s.pos >= len(s.samples) {
		return 0, io.EOF
	}
	n := copy(buf, s.samples[s.pos:])
	s.pos += n
	return n, nil
}

func (s *sliceSource) Close() error {
	s.closed = true
	return nil
}

func constant(n int, v float32) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = v
	}
	return out
}

// memorySink collects offered frames
type memorySink struct {
	mu     sync.Mutex
	frames [][]byte
	reject bool
}

func (m *memorySink) Offer(frame []byte) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.reject {
		return false
	}
	m.frames = append(m.frames, frame)
	return true
}

func (m *memorySink) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.frames)
}

func (m *memorySink) bytes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0
	for _, f := range m.frames {
		total += len(f)
	}
	return total
}

type memoryRecorder struct {
	samples []int16
}

func (m *memoryRecorder) Write(samples []int16) error {
	m.samples = append(m.samples, samples...)
	return nil
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}
