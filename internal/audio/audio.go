package audio

import (
	"math"

	"github.com/cwbudde/algo-dsp/dsp/core"
)

// Puller supplies interleaved stereo samples to a sink. Pull reports
// whether out holds a buffer not seen by the previous call.
type Puller interface {
	Pull(out []float32) (fresh bool)
	ReportUnderflow()
}

// Sink plays or records what a Puller produces.
type Sink interface {
	Start() error
	Stop() error
	Close() error
}

// OutputDevice represents an audio output device
type OutputDevice struct {
	ID      string
	Name    string
	Default bool
}

// Channels is the number of interleaved output channels.
const Channels = 2

// toPCM converts float samples in [-1,1] to signed integers of the given
// bit depth, clipping anything outside the range.
func toPCM(in []float32, out []int, bitDepth int) {
	scale := float64(int(1)<<(bitDepth-1) - 1)
	for i, v := range in {
		x := core.Clamp(float64(v), -1, 1)
		out[i] = int(math.Round(x * scale))
	}
}
