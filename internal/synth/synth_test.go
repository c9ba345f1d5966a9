package synth

import (
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/petems/visiontone/internal/pipeline"
	"github.com/petems/visiontone/internal/sampler"
)

const eps = 1e-9

func plain() Parameters {
	p := DefaultParameters()
	p.Reverb = 0
	p.Compression = false
	return p
}

func gridOf(n int, d sampler.Descriptor) sampler.Grid {
	row := make([]sampler.Descriptor, n)
	for i := range row {
		row[i] = d
	}
	return sampler.Grid{row}
}

func TestFrequencyMapping(t *testing.T) {
	p := Parameters{BaseFreq: 440, DepthFactor: 500, AngleFactor: 300}

	tests := []struct {
		name  string
		d     sampler.Descriptor
		p     Parameters
		want  float64
	}{
		{"base", sampler.Descriptor{}, p, 440},
		{"full depth", sampler.Descriptor{Depth: 1}, p, 940},
		{"left", sampler.Descriptor{Angle: -1}, p, 140},
		{"clamped high", sampler.Descriptor{Depth: 1}, Parameters{BaseFreq: 440, DepthFactor: 100000}, MaxFrequency},
		{"clamped low", sampler.Descriptor{Angle: -1}, Parameters{BaseFreq: 10, AngleFactor: 300}, MinFrequency},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Frequency(tt.d, tt.p); got != tt.want {
				t.Fatalf("expected %f, got %f", tt.want, got)
			}
		})
	}
}

func TestPanGains(t *testing.T) {
	tests := []struct {
		angle, left, right float64
	}{
		{-1, 1, 0},
		{1, 0, 1},
		{0, 1, 1},
		{-0.25, 1, 0.75},
		{0.5, 0.5, 1},
	}
	for _, tt := range tests {
		l, r := PanGains(tt.angle)
		if l != tt.left || r != tt.right {
			t.Errorf("angle %f: expected (%f, %f), got (%f, %f)", tt.angle, tt.left, tt.right, l, r)
		}
	}
}

func TestRenderSineTone(t *testing.T) {
	format := Format{SampleRate: 44100, BufferSize: 512}
	p := plain()
	p.VolumeFactor = 0.5

	buf := Render(gridOf(1, sampler.Descriptor{Intensity: 1}), p, format)
	if buf.Len() != 512 {
		t.Fatalf("expected 512 frames, got %d", buf.Len())
	}
	for i := 0; i < buf.Len(); i++ {
		want := 0.5 * math.Sin(2*math.Pi*440*float64(i)/44100)
		if math.Abs(buf.Left[i]-want) > eps || math.Abs(buf.Right[i]-want) > eps {
			t.Fatalf("sample %d: expected %f, got L=%f R=%f", i, want, buf.Left[i], buf.Right[i])
		}
	}
}

func TestRenderPansByAngle(t *testing.T) {
	format := Format{SampleRate: 44100, BufferSize: 256}
	buf := Render(gridOf(1, sampler.Descriptor{Intensity: 1, Angle: -1}), plain(), format)
	for i := 0; i < buf.Len(); i++ {
		if buf.Right[i] != 0 {
			t.Fatalf("hard-left tone leaked into right channel at %d", i)
		}
	}
	if buf.Peak() == 0 {
		t.Fatal("expected signal on the left channel")
	}
}

func TestRenderNeverExceedsBufferSize(t *testing.T) {
	format := Format{SampleRate: 44100, BufferSize: 1024}
	for _, n := range []int{1, 3, 1024, 1536, 5000} {
		buf := Render(gridOf(n, sampler.Descriptor{Intensity: 1, Depth: 0.5}), plain(), format)
		if buf.Len() != 1024 || len(buf.Right) != 1024 {
			t.Fatalf("n=%d: buffer grew to %d", n, buf.Len())
		}
	}
}

func TestRenderLeavesTailSilentWhenDescriptorsDoNotDivide(t *testing.T) {
	format := Format{SampleRate: 44100, BufferSize: 1024}
	// 3 descriptors × 341 samples leave the final frame untouched.
	buf := Render(gridOf(3, sampler.Descriptor{Intensity: 1}), plain(), format)
	if buf.Left[1023] != 0 || buf.Right[1023] != 0 {
		t.Fatalf("expected silent tail, got %f/%f", buf.Left[1023], buf.Right[1023])
	}
}

func TestRenderPreservesRowMajorOrder(t *testing.T) {
	format := Format{SampleRate: 44100, BufferSize: 200}
	grid := sampler.Grid{
		{{Intensity: 1, Angle: -1}},
		{{Intensity: 1, Angle: 1}},
	}
	buf := Render(grid, plain(), format)
	for i := 0; i < 100; i++ {
		if buf.Right[i] != 0 {
			t.Fatalf("first row should be hard left, right[%d]=%f", i, buf.Right[i])
		}
	}
	for i := 100; i < 200; i++ {
		if buf.Left[i] != 0 {
			t.Fatalf("second row should be hard right, left[%d]=%f", i, buf.Left[i])
		}
	}
}

func TestRenderEmptyGridIsSilent(t *testing.T) {
	buf := Render(sampler.Grid{}, DefaultParameters(), Format{SampleRate: 44100, BufferSize: 64})
	if buf.Len() != 64 || buf.Peak() != 0 {
		t.Fatalf("expected 64 silent frames, got len=%d peak=%f", buf.Len(), buf.Peak())
	}
}

func TestRenderNormalizesPeak(t *testing.T) {
	p := plain()
	p.VolumeFactor = 3
	buf := Render(gridOf(1, sampler.Descriptor{Intensity: 1}), p, Format{SampleRate: 44100, BufferSize: 1024})
	if math.Abs(buf.Peak()-1) > eps {
		t.Fatalf("expected peak 1.0 after normalisation, got %f", buf.Peak())
	}
}

func TestReverbMixesDelayedCopy(t *testing.T) {
	format := Format{SampleRate: 44100, BufferSize: 4410}
	grid := gridOf(1, sampler.Descriptor{Intensity: 0.5})

	dry := Render(grid, plain(), format)

	p := plain()
	p.Reverb = 0.5
	wet := Render(grid, p, format)

	delaySamples := 2205
	for i := 0; i < format.BufferSize; i++ {
		want := dry.Left[i] * 0.5
		if i >= delaySamples {
			want += dry.Left[i-delaySamples] * 0.6 * 0.5
		}
		if math.Abs(wet.Left[i]-want) > eps {
			t.Fatalf("sample %d: expected %f, got %f", i, want, wet.Left[i])
		}
	}
}

func TestReverbSkippedWhenDelayExceedsBuffer(t *testing.T) {
	format := Format{SampleRate: 44100, BufferSize: 1024}
	grid := gridOf(1, sampler.Descriptor{Intensity: 0.5})

	p := plain()
	p.Reverb = 0.3
	dry := Render(grid, plain(), format)
	wet := Render(grid, p, format)
	for i := range dry.Left {
		if dry.Left[i] != wet.Left[i] {
			t.Fatalf("expected reverb to be skipped, sample %d differs", i)
		}
	}
}

func TestCompress(t *testing.T) {
	b := &Buffer{
		Left:  []float64{0.2, 0.9, -0.9, 2.0},
		Right: []float64{0, -0.5, 0.5, -2.0},
	}
	compress(b)

	wantL := []float64{0.24, 0.72, -0.72, 1.0}
	wantR := []float64{0, -0.6, 0.6, -1.0}
	for i := range wantL {
		if math.Abs(b.Left[i]-wantL[i]) > eps || math.Abs(b.Right[i]-wantR[i]) > eps {
			t.Fatalf("sample %d: expected (%f, %f), got (%f, %f)", i, wantL[i], wantR[i], b.Left[i], b.Right[i])
		}
	}
}

func TestRenderOutputWithinUnitRange(t *testing.T) {
	p := DefaultParameters()
	p.VolumeFactor = 5
	p.Reverb = 1
	buf := Render(gridOf(7, sampler.Descriptor{Intensity: 1, Depth: 0.3, Angle: 0.2}), p, Format{SampleRate: 8000, BufferSize: 2048})
	if buf.Peak() > 1 {
		t.Fatalf("compressed output exceeded unit range: %f", buf.Peak())
	}
}

func TestSetParametersPartial(t *testing.T) {
	s := New(Format{}, zerolog.Nop())
	before := s.Parameters()

	s.SetParameters(Update{})
	if s.Parameters() != before {
		t.Fatal("empty update must not change parameters")
	}

	off := false
	freq := 220.0
	s.SetParameters(Update{BaseFreq: &freq, Compression: &off})
	got := s.Parameters()
	want := before
	want.BaseFreq = 220
	want.Compression = false
	if got != want {
		t.Fatalf("expected %+v, got %+v", want, got)
	}
}

func TestPullFreshness(t *testing.T) {
	s := New(Format{SampleRate: 44100, BufferSize: 8}, zerolog.Nop())

	out := make([]float32, 20)
	for i := range out {
		out[i] = 9
	}
	if !s.Pull(out) {
		t.Fatal("first pull should be fresh")
	}
	for i, v := range out {
		if v != 0 {
			t.Fatalf("expected silence and zero fill, out[%d]=%f", i, v)
		}
	}
	if s.Pull(out) {
		t.Fatal("second pull of the same buffer should not be fresh")
	}
}

func TestUnderrunsResetOnStart(t *testing.T) {
	s := New(Format{SampleRate: 44100, BufferSize: 64}, zerolog.Nop())
	s.ReportUnderflow()
	s.ReportUnderflow()
	if s.Status().Underruns != 2 {
		t.Fatalf("expected 2 underruns, got %d", s.Status().Underruns)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop()
	if s.Status().Underruns != 0 {
		t.Fatal("fresh start should reset underruns")
	}
	s.ReportUnderflow()
	if s.Status().Underruns != 1 {
		t.Fatal("underruns should only increase while running")
	}
}

func TestSynthLifecycle(t *testing.T) {
	s := New(Format{SampleRate: 44100, BufferSize: 256}, zerolog.Nop())

	if s.AddDescriptorGrid(gridOf(1, sampler.Descriptor{Intensity: 1})) {
		t.Fatal("stopped synth must reject grids")
	}
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := s.Start(); !errors.Is(err, pipeline.ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}

	p := plain()
	s.SetParameters(Update{Reverb: &p.Reverb, Compression: &p.Compression})

	if !s.AddDescriptorGrid(gridOf(4, sampler.Descriptor{Intensity: 1, Depth: 0.2})) {
		t.Fatal("expected grid to be accepted")
	}

	deadline := time.Now().Add(2 * time.Second)
	for s.Status().Rendered == 0 && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	st := s.Status()
	if st.Rendered == 0 || st.LastGridAt.IsZero() || !st.Playing {
		t.Fatalf("expected a rendered grid, got %+v", st)
	}

	peak := s.Latest().Peak()
	time.Sleep(100 * time.Millisecond)
	if decayed := s.Latest().Peak(); decayed >= peak {
		t.Fatalf("expected decay toward silence, peak %f -> %f", peak, decayed)
	}

	if err := s.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("second stop: %v", err)
	}
	if s.Status().Playing {
		t.Fatal("expected stopped status")
	}
}

func TestConcurrentStartSpawnsOneWorker(t *testing.T) {
	s := New(Format{SampleRate: 44100, BufferSize: 64}, zerolog.Nop())
	defer s.Stop()

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = s.Start()
		}(i)
	}
	wg.Wait()

	started := 0
	for _, err := range errs {
		switch {
		case err == nil:
			started++
		case !errors.Is(err, pipeline.ErrAlreadyRunning):
			t.Fatalf("unexpected start error: %v", err)
		}
	}
	if started != 1 {
		t.Fatalf("expected exactly one start, got %v", errs)
	}
}
