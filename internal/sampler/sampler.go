// Package sampler extracts strided grids of normalised pixel descriptors
// from a feature map.
package sampler

import (
	"sync/atomic"

	"github.com/petems/visiontone/internal/vision"
)

// Descriptor is the normalised summary of one sample point.
type Descriptor struct {
	Intensity float64 `json:"intensity"` // [0,1]
	Depth     float64 `json:"depth"`     // [0,1]
	Angle     float64 `json:"angle"`     // [-1,1], negative is left of centre
	VertPos   float64 `json:"vert_pos"`  // [0,1], 0 is the top row
}

// Grid is a row-major set of descriptor rows. Row and column order is the
// order in which tones are rendered.
type Grid [][]Descriptor

// Len returns the total number of descriptors.
func (g Grid) Len() int {
	n := 0
	for _, row := range g {
		n += len(row)
	}
	return n
}

// Flatten returns the descriptors in row-major order.
func (g Grid) Flatten() []Descriptor {
	out := make([]Descriptor, 0, g.Len())
	for _, row := range g {
		out = append(out, row...)
	}
	return out
}

// Sampler reads descriptors from the most recent feature map it was given.
type Sampler struct {
	fm atomic.Pointer[vision.FeatureMap]
}

// New returns a sampler with no feature map.
func New() *Sampler { return &Sampler{} }

// Update points the sampler at fm.
func (s *Sampler) Update(fm *vision.FeatureMap) { s.fm.Store(fm) }

// Descriptor returns the descriptor at (row, col). ok is false when no
// feature map is loaded or the position is out of bounds.
func (s *Sampler) Descriptor(row, col int) (Descriptor, bool) {
	return describe(s.fm.Load(), row, col)
}

// Row samples columns 0, colStep, 2·colStep, … of row.
func (s *Sampler) Row(row, colStep int) []Descriptor {
	return sampleRow(s.fm.Load(), row, colStep)
}

// Grid samples rows 0, rowStep, 2·rowStep, … and omits empty rows. The grid
// is empty when no feature map is loaded.
func (s *Sampler) Grid(rowStep, colStep int) Grid {
	fm := s.fm.Load()
	if fm == nil {
		return Grid{}
	}
	if rowStep < 1 {
		rowStep = 1
	}
	grid := Grid{}
	for row := 0; row < fm.Height; row += rowStep {
		if r := sampleRow(fm, row, colStep); len(r) > 0 {
			grid = append(grid, r)
		}
	}
	return grid
}

func sampleRow(fm *vision.FeatureMap, row, colStep int) []Descriptor {
	if fm == nil {
		return nil
	}
	if colStep < 1 {
		colStep = 1
	}
	var out []Descriptor
	for col := 0; col < fm.Width; col += colStep {
		if d, ok := describe(fm, row, col); ok {
			out = append(out, d)
		}
	}
	return out
}

func describe(fm *vision.FeatureMap, row, col int) (Descriptor, bool) {
	if fm == nil || row < 0 || row >= fm.Height || col < 0 || col >= fm.Width {
		return Descriptor{}, false
	}
	i := fm.Index(row, col)
	center := float64(fm.Width) / 2
	return Descriptor{
		Intensity: fm.Grayscale[i] / 255,
		Depth:     fm.Depth[i] / 255,
		Angle:     (float64(col) - center) / center,
		VertPos:   float64(row) / float64(fm.Height),
	}, true
}
