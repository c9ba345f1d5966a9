package synth

import (
	"math"

	"github.com/cwbudde/algo-dsp/dsp/core"
	"github.com/cwbudde/algo-dsp/dsp/signal"

	"github.com/petems/visiontone/internal/sampler"
)

const (
	MinFrequency = 20.0
	MaxFrequency = 20000.0
)

// Format fixes the shape of rendered buffers.
type Format struct {
	SampleRate int
	BufferSize int
}

// Buffer is one block of stereo audio in planar layout.
type Buffer struct {
	Left  []float64
	Right []float64
}

// NewBuffer returns a silent buffer of n frames.
func NewBuffer(n int) *Buffer {
	return &Buffer{Left: make([]float64, n), Right: make([]float64, n)}
}

// Len returns the number of stereo frames.
func (b *Buffer) Len() int { return len(b.Left) }

// Scaled returns a copy of b multiplied by gain.
func (b *Buffer) Scaled(gain float64) *Buffer {
	out := NewBuffer(b.Len())
	for i := range b.Left {
		out.Left[i] = b.Left[i] * gain
		out.Right[i] = b.Right[i] * gain
	}
	return out
}

// Peak returns the largest absolute sample on either channel.
func (b *Buffer) Peak() float64 {
	peak := 0.0
	for i := range b.Left {
		peak = math.Max(peak, math.Max(math.Abs(b.Left[i]), math.Abs(b.Right[i])))
	}
	return peak
}

// Frequency maps a descriptor to f0 + α·depth + β·angle, clamped to the
// audible range.
func Frequency(d sampler.Descriptor, p Parameters) float64 {
	f := p.BaseFreq + p.DepthFactor*d.Depth + p.AngleFactor*d.Angle
	if math.IsNaN(f) {
		return MinFrequency
	}
	return core.Clamp(f, MinFrequency, MaxFrequency)
}

// PanGains returns left and right gains for a horizontal angle in [-1,1].
func PanGains(angle float64) (left, right float64) {
	if angle < 0 {
		return 1.0, 1.0 + angle
	}
	return 1.0 - angle, 1.0
}

// Render turns a descriptor grid into one buffer of format.BufferSize frames.
//
// Descriptors are rendered in row-major order, each as a sine burst of
// max(1, BufferSize/N) samples starting at phase zero, panned by its angle
// and added into the buffer at a running cursor. Descriptors that do not fit
// are not rendered. The result is peak-normalised if it exceeds 1.0, then
// reverb and compression are applied per p.
func Render(grid sampler.Grid, p Parameters, format Format) *Buffer {
	buf := NewBuffer(format.BufferSize)

	descriptors := grid.Flatten()
	if len(descriptors) == 0 || format.BufferSize == 0 {
		return buf
	}

	perDescriptor := max(1, format.BufferSize/len(descriptors))
	gen := signal.NewGenerator(core.WithSampleRate(float64(format.SampleRate)))

	cursor := 0
	for _, d := range descriptors {
		if cursor >= format.BufferSize {
			break
		}
		tone, err := gen.Sine(Frequency(d, p), d.Intensity*p.VolumeFactor, perDescriptor)
		if err != nil {
			break
		}
		left, right := PanGains(d.Angle)
		n := min(perDescriptor, format.BufferSize-cursor)
		for i := 0; i < n; i++ {
			buf.Left[cursor+i] += tone[i] * left
			buf.Right[cursor+i] += tone[i] * right
		}
		cursor += perDescriptor
	}

	normalizePeak(buf)
	applyReverb(buf, p.Reverb, format.SampleRate)
	if p.Compression {
		compress(buf)
	}
	return buf
}
