package synth

import (
	"math"

	"github.com/cwbudde/algo-dsp/dsp/core"
	"github.com/cwbudde/algo-dsp/dsp/delay"
)

const (
	reverbDelay = 0.05 // seconds
	reverbDecay = 0.6

	compThreshold = 0.5
	compRatio     = 4.0
	compMakeup    = 1.2

	// silenceDecay is applied to the last buffer on ticks with no new grid.
	silenceDecay = 0.95
)

// normalizePeak scales b down so that its peak is 1.0. Buffers already
// within [-1,1] are left alone.
func normalizePeak(b *Buffer) {
	peak := b.Peak()
	if peak <= 1.0 {
		return
	}
	for i := range b.Left {
		b.Left[i] /= peak
		b.Right[i] /= peak
	}
}

// applyReverb mixes in a 50ms delayed copy of the buffer attenuated by 0.6:
// out = in·(1−amount) + delayed·amount. Buffers shorter than the delay are
// left unchanged.
func applyReverb(b *Buffer, amount float64, sampleRate int) {
	if amount <= 0 {
		return
	}
	delaySamples := int(reverbDelay * float64(sampleRate))
	if delaySamples <= 0 || delaySamples >= b.Len() {
		return
	}
	for _, ch := range [][]float64{b.Left, b.Right} {
		line, err := delay.New(delaySamples)
		if err != nil {
			return
		}
		for i, x := range ch {
			delayed := line.Read(delaySamples) * reverbDecay
			line.Write(x)
			ch[i] = x*(1-amount) + delayed*amount
		}
	}
}

// compress reduces magnitudes above 0.5 by 4:1 keeping the sign, applies a
// makeup gain of 1.2 and clips to [-1,1].
func compress(b *Buffer) {
	for _, ch := range [][]float64{b.Left, b.Right} {
		for i, x := range ch {
			if mag := math.Abs(x); mag > compThreshold {
				x = math.Copysign(compThreshold+(mag-compThreshold)/compRatio, x)
			}
			ch[i] = core.Clamp(x*compMakeup, -1, 1)
		}
	}
}
