package vision

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/petems/visiontone/internal/frame"
	"github.com/petems/visiontone/internal/pipeline"
)

// checker builds an RGB frame of alternating black and white squares.
func checker(w, h, cell int) *frame.Frame {
	pix := make([]uint8, w*h*3)
	for r := 0; r < h; r++ {
		for c := 0; c < w; c++ {
			if (r/cell+c/cell)%2 == 0 {
				i := (r*w + c) * 3
				pix[i], pix[i+1], pix[i+2] = 255, 255, 255
			}
		}
	}
	f, _ := frame.New(w, h, 3, pix)
	return f
}

func uniform(w, h int, v uint8) *frame.Frame {
	pix := make([]uint8, w*h*3)
	for i := range pix {
		pix[i] = v
	}
	f, _ := frame.New(w, h, 3, pix)
	return f
}

func assertRange(t *testing.T, name string, v []float64) {
	t.Helper()
	for i, x := range v {
		if x < 0 || x > 255 || math.IsNaN(x) {
			t.Fatalf("%s[%d] = %f out of [0,255]", name, i, x)
		}
	}
}

func TestExtractDimensionsAndRanges(t *testing.T) {
	tests := []struct {
		name     string
		frame    *frame.Frame
		settings Settings
		w, h     int
	}{
		{"checker", checker(64, 48, 8), DefaultSettings(), 64, 48},
		{"uniform", uniform(32, 16, 90), DefaultSettings(), 32, 16},
		{"no blur", checker(20, 10, 3), Settings{DepthScale: 1}, 20, 10},
		{"large depth scale", checker(20, 10, 3), Settings{BlurRadius: 1, DepthScale: 4}, 20, 10},
		{"roi", checker(64, 48, 8), Settings{BlurRadius: 1, DepthScale: 1, ROI: ROI{Enabled: true, X: 4, Y: 6, Width: 10, Height: 12}}, 10, 12},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fm := Extract(tt.frame, tt.settings)
			if fm.Width != tt.w || fm.Height != tt.h {
				t.Fatalf("expected %dx%d, got %dx%d", tt.w, tt.h, fm.Width, fm.Height)
			}
			for name, m := range map[string][]float64{"gray": fm.Grayscale, "edges": fm.Edges, "depth": fm.Depth} {
				if len(m) != tt.w*tt.h {
					t.Fatalf("%s has %d values, want %d", name, len(m), tt.w*tt.h)
				}
				assertRange(t, name, m)
			}
		})
	}
}

func TestExtractUniformFrame(t *testing.T) {
	fm := Extract(uniform(16, 16, 128), DefaultSettings())
	for i := range fm.Edges {
		if fm.Edges[i] != 0 {
			t.Fatalf("expected zero edges on uniform frame, got %f", fm.Edges[i])
		}
		if math.Abs(fm.Depth[i]-255) > 1e-6 {
			t.Fatalf("expected full depth on uniform frame, got %f", fm.Depth[i])
		}
		if fm.Grayscale[i] != 128 {
			t.Fatalf("expected gray 128, got %f", fm.Grayscale[i])
		}
	}
}

func TestExtractEdgesPeakAt255(t *testing.T) {
	fm := Extract(checker(32, 32, 8), Settings{DepthScale: 1})
	peak := 0.0
	for _, e := range fm.Edges {
		peak = math.Max(peak, e)
	}
	if math.Abs(peak-255) > 1e-6 {
		t.Fatalf("expected edge peak 255, got %f", peak)
	}
}

func TestGrayscaleWeights(t *testing.T) {
	f, _ := frame.New(1, 1, 3, []uint8{255, 0, 0})
	if g := Grayscale(f)[0]; g != 76 {
		t.Fatalf("expected red luma 76, got %f", g)
	}
}

func TestGaussianKernelNormalised(t *testing.T) {
	k := gaussianKernel(3)
	if len(k) != 25 {
		t.Fatalf("expected 25 taps for sigma 3, got %d", len(k))
	}
	sum := 0.0
	for _, v := range k {
		sum += v
	}
	if math.Abs(sum-1) > 1e-12 {
		t.Fatalf("kernel sums to %f", sum)
	}
}

func TestReflect(t *testing.T) {
	cases := map[int]int{-1: 0, -2: 1, 0: 0, 4: 4, 5: 4, 6: 3}
	for in, want := range cases {
		if got := reflect(in, 5); got != want {
			t.Errorf("reflect(%d, 5) = %d, want %d", in, got, want)
		}
	}
}

func TestSetParametersPartial(t *testing.T) {
	p := New(Config{}, zerolog.Nop())
	before := p.Settings()

	p.SetParameters(Update{})
	if p.Settings() != before {
		t.Fatal("empty update must not change settings")
	}

	scale := 0.5
	p.SetParameters(Update{DepthScale: &scale})
	got := p.Settings()
	if got.DepthScale != 0.5 || got.BlurRadius != before.BlurRadius || got.EdgeThreshold != before.EdgeThreshold {
		t.Fatalf("unexpected settings %+v", got)
	}
}

func TestROI(t *testing.T) {
	p := New(Config{}, zerolog.Nop())
	p.SetROI(1, 2, 3, 4, true)
	if r := p.Settings().ROI; !r.Enabled || r.X != 1 || r.Height != 4 {
		t.Fatalf("unexpected roi %+v", r)
	}
	p.DisableROI()
	if r := p.Settings().ROI; r.Enabled || r.Width != 3 {
		t.Fatalf("unexpected roi after disable %+v", r)
	}
}

func TestProcessorLifecycle(t *testing.T) {
	p := New(Config{Width: 32, Height: 24, FrameRate: 100}, zerolog.Nop())

	if p.AddFrame(checker(64, 48, 8)) {
		t.Fatal("stopped processor must reject frames")
	}

	if err := p.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := p.Start(); !errors.Is(err, pipeline.ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}

	if !p.AddFrame(checker(64, 48, 8)) {
		t.Fatal("expected frame to be accepted")
	}

	var out *Processed
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		var ok bool
		if out, ok = p.GetLatestProcessed(); ok {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if out == nil {
		t.Fatal("no processed output")
	}
	if out.Features.Width != 32 || out.Features.Height != 24 {
		t.Fatalf("expected resized 32x24 features, got %dx%d", out.Features.Width, out.Features.Height)
	}
	if out.Original.Width != 32 {
		t.Fatal("bundle should reference the resized original frame")
	}
	if p.Stats().Processed != 1 {
		t.Fatalf("expected one processed frame, got %d", p.Stats().Processed)
	}

	if err := p.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := p.Stop(); err != nil {
		t.Fatalf("second stop: %v", err)
	}
}
