package audio

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidRate is returned when a resampler is built with a non-positive sample rate
var ErrInvalidRate = errors.New("sample rate must be positive")

// Resampler converts mono float audio at an arbitrary input rate into signed
// 16-bit samples at a fixed target rate.
//
// It is stateful across calls: the last input sample and the fractional read
// position are carried from one chunk to the next, so feeding a stream chunk
// by chunk yields the same samples as feeding the concatenation in one call.
// A Resampler is not safe for concurrent use; give each stream its own.
type Resampler struct {
	inputRate  int
	targetRate int
	ratio      float64

	// carried state
	prev   float64 // last sample of the previous chunk
	pos    float64 // fractional read position into [prev] ++ chunk
	primed bool
}

// NewResampler creates a resampler from inputRate to targetRate (both in Hz)
func NewResampler(inputRate, targetRate int) (*Resampler, error) {
	if inputRate <= 0 || targetRate <= 0 {
		return nil, fmt.Errorf("resampler %d -> %d Hz: %w", inputRate, targetRate, ErrInvalidRate)
	}
	return &Resampler{
		inputRate:  inputRate,
		targetRate: targetRate,
		ratio:      float64(inputRate) / float64(targetRate),
	}, nil
}

// Ratio returns inputRate / targetRate
func (r *Resampler) Ratio() float64 {
	return r.ratio
}

// InputRate returns the input sample rate in Hz
func (r *Resampler) InputRate() int {
	return r.inputRate
}

// TargetRate returns the output sample rate in Hz
func (r *Resampler) TargetRate() int {
	return r.targetRate
}

// Process resamples one chunk and returns the quantized output samples.
// The returned slice may be empty when the chunk is too short to reach the
// next output position; the chunk is still absorbed into the carried state.
func (r *Resampler) Process(chunk []float32) []int16 {
	if len(chunk) == 0 {
		return nil
	}

	if r.inputRate == r.targetRate {
		out := make([]int16, len(chunk))
		for i, s := range chunk {
			out[i] = Quantize(float64(s))
		}
		r.prev = float64(chunk[len(chunk)-1])
		r.primed = true
		return out
	}

	// Seed with the first sample so the stream does not start with a jump from zero.
	if !r.primed {
		r.prev = float64(chunk[0])
		r.primed = true
	}

	n := len(chunk)
	limit := float64(n)
	out := make([]int16, 0, int((limit-r.pos)/r.ratio)+1)

	pos := r.pos
	// Virtual buffer is [prev] ++ chunk; index idx+1 must stay within it.
	for pos < limit {
		idx := int(math.Floor(pos))
		frac := pos - float64(idx)

		var s0, s1 float64
		if idx == 0 {
			s0 = r.prev
			s1 = float64(chunk[0])
		} else {
			s0 = float64(chunk[idx-1])
			s1 = float64(chunk[idx])
		}

		out = append(out, Quantize(s0+(s1-s0)*frac))
		pos += r.ratio
	}

	r.pos = pos - limit
	r.prev = float64(chunk[n-1])
	return out
}

// Reset drops all carried state; the next chunk is treated as the start of a new stream
func (r *Resampler) Reset() {
	r.prev = 0
	r.pos = 0
	r.primed = false
}

// Quantize clamps a float sample to [-1, 1] and converts it to int16.
// Negative values scale by 32768 and non-negative values by 32767, truncating.
func Quantize(sample float64) int16 {
	if math.IsNaN(sample) {
		return 0
	}
	if sample > 1 {
		sample = 1
	} else if sample < -1 {
		sample = -1
	}
	if sample < 0 {
		return int16(sample * 0x8000)
	}
	return int16(sample * 0x7FFF)
}
