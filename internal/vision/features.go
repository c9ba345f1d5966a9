package vision

import (
	"image"
	"math"

	"github.com/cwbudde/algo-dsp/dsp/core"

	"github.com/petems/visiontone/internal/frame"
)

// epsilon guards normalisation against division by zero on uniform frames.
const epsilon = 1e-10

// FeatureMap holds the per-frame maps derived from one (possibly cropped)
// frame. All three maps are Width×Height, row-major, with values in [0,255].
type FeatureMap struct {
	Width     int
	Height    int
	Grayscale []float64
	Edges     []float64
	Depth     []float64
}

// Index returns the offset of (row, col) in the maps.
func (m *FeatureMap) Index(row, col int) int { return row*m.Width + col }

// Extract computes grayscale, edge magnitude and depth estimate for f.
//
// Edges are the Euclidean norm of horizontal and vertical Sobel responses,
// normalised to [0,255]. Depth is 255 minus the edges, smoothed with a
// Gaussian of sigma s.BlurRadius, renormalised to [0,255] and multiplied by
// s.DepthScale, then clamped back into [0,255].
func Extract(f *frame.Frame, s Settings) *FeatureMap {
	if s.ROI.Enabled {
		r := image.Rect(s.ROI.X, s.ROI.Y, s.ROI.X+s.ROI.Width, s.ROI.Y+s.ROI.Height)
		if cropped, ok := f.Crop(r); ok {
			f = cropped
		}
	}

	w, h := f.Width, f.Height
	gray := Grayscale(f)

	gx := sobel(gray, w, h, true)
	gy := sobel(gray, w, h, false)
	edges := make([]float64, len(gray))
	for i := range edges {
		edges[i] = math.Hypot(gx[i], gy[i])
	}
	normalize(edges, 255)

	depth := make([]float64, len(edges))
	for i, e := range edges {
		depth[i] = 255 - e
	}
	if s.BlurRadius > 0 {
		depth = gaussianBlur(depth, w, h, s.BlurRadius)
	}
	normalize(depth, 255*s.DepthScale)
	for i, d := range depth {
		depth[i] = core.Clamp(d, 0, 255)
	}

	return &FeatureMap{Width: w, Height: h, Grayscale: gray, Edges: edges, Depth: depth}
}

// Grayscale converts f to luma using the ITU-R BT.601 weights, rounded to
// whole intensity levels.
func Grayscale(f *frame.Frame) []float64 {
	out := make([]float64, f.Width*f.Height)
	for i := range out {
		px := f.Pix[i*f.Channels : (i+1)*f.Channels]
		if f.Channels == 1 {
			out[i] = float64(px[0])
			continue
		}
		out[i] = math.Round(0.299*float64(px[0]) + 0.587*float64(px[1]) + 0.114*float64(px[2]))
	}
	return out
}

// normalize scales v so its maximum maps to top.
func normalize(v []float64, top float64) {
	peak := 0.0
	for _, x := range v {
		if x > peak {
			peak = x
		}
	}
	scale := top / (peak + epsilon)
	for i := range v {
		v[i] *= scale
	}
}

// reflect maps an out-of-range index back into [0,n) by mirroring about the
// edge, duplicating the border sample.
func reflect(i, n int) int {
	if n == 1 {
		return 0
	}
	period := 2 * n
	i %= period
	if i < 0 {
		i += period
	}
	if i >= n {
		i = period - 1 - i
	}
	return i
}

// sobel applies the 3×3 Sobel operator. horizontal selects the derivative
// along columns; the perpendicular axis is smoothed with [1 2 1].
func sobel(src []float64, w, h int, horizontal bool) []float64 {
	at := func(r, c int) float64 { return src[reflect(r, h)*w+reflect(c, w)] }
	out := make([]float64, len(src))
	for r := 0; r < h; r++ {
		for c := 0; c < w; c++ {
			var v float64
			if horizontal {
				v = (at(r-1, c+1) + 2*at(r, c+1) + at(r+1, c+1)) -
					(at(r-1, c-1) + 2*at(r, c-1) + at(r+1, c-1))
			} else {
				v = (at(r+1, c-1) + 2*at(r+1, c) + at(r+1, c+1)) -
					(at(r-1, c-1) + 2*at(r-1, c) + at(r-1, c+1))
			}
			out[r*w+c] = v
		}
	}
	return out
}

// gaussianKernel returns a normalised kernel truncated at four sigma.
func gaussianKernel(sigma float64) []float64 {
	radius := int(4*sigma + 0.5)
	k := make([]float64, 2*radius+1)
	sum := 0.0
	for i := -radius; i <= radius; i++ {
		v := math.Exp(-0.5 * float64(i*i) / (sigma * sigma))
		k[i+radius] = v
		sum += v
	}
	for i := range k {
		k[i] /= sum
	}
	return k
}

// gaussianBlur is a separable Gaussian filter with reflected borders.
func gaussianBlur(src []float64, w, h int, sigma float64) []float64 {
	k := gaussianKernel(sigma)
	radius := len(k) / 2

	tmp := make([]float64, len(src))
	for r := 0; r < h; r++ {
		for c := 0; c < w; c++ {
			var acc float64
			for i, kv := range k {
				acc += kv * src[r*w+reflect(c+i-radius, w)]
			}
			tmp[r*w+c] = acc
		}
	}

	out := make([]float64, len(src))
	for r := 0; r < h; r++ {
		for c := 0; c < w; c++ {
			var acc float64
			for i, kv := range k {
				acc += kv * tmp[reflect(r+i-radius, h)*w+c]
			}
			out[r*w+c] = acc
		}
	}
	return out
}
