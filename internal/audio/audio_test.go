package audio

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-audio/wav"
	"github.com/rs/zerolog"

	"github.com/petems/visiontone/internal/pipeline"
)

type mockPuller struct {
	value     float32
	pulls     atomic.Int64
	underruns atomic.Int64
}

func (m *mockPuller) Pull(out []float32) bool {
	for i := range out {
		out[i] = m.value
	}
	return m.pulls.Add(1)%2 == 1
}

func (m *mockPuller) ReportUnderflow() { m.underruns.Add(1) }

func TestToPCM(t *testing.T) {
	in := []float32{0, 1, -1, 0.5, 1.5, -3}
	out := make([]int, len(in))
	toPCM(in, out, 16)

	expected := []int{0, 32767, -32767, 16384, 32767, -32767}
	for i := range expected {
		if out[i] != expected[i] {
			t.Fatalf("sample %d: expected %d, got %d", i, expected[i], out[i])
		}
	}
}

func TestRecorderWritesWav(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.wav")
	src := &mockPuller{value: 0.25}

	rec := NewRecorder(path, src, 8000, 80, zerolog.Nop())
	if err := rec.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := rec.Start(); err == nil {
		t.Fatal("expected second start to fail")
	}

	time.Sleep(60 * time.Millisecond)

	if err := rec.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := rec.Stop(); err != nil {
		t.Fatalf("second stop should be a no-op: %v", err)
	}
	if rec.Written() == 0 {
		t.Fatal("expected at least one buffer written")
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		t.Fatal("expected a valid wav file")
	}
	if dec.SampleRate != 8000 || dec.NumChans != 2 || dec.BitDepth != 16 {
		t.Fatalf("unexpected format: %d Hz, %d channels, %d bits", dec.SampleRate, dec.NumChans, dec.BitDepth)
	}

	pcm, err := dec.FullPCMBuffer()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if want := int(rec.Written()) * 80 * 2; len(pcm.Data) != want {
		t.Fatalf("expected %d samples, got %d", want, len(pcm.Data))
	}
	if pcm.Data[0] != 8192 {
		t.Fatalf("expected first sample 8192, got %d", pcm.Data[0])
	}
	if src.underruns.Load() != 0 {
		t.Fatal("recorder should not report device underflows")
	}
}

func TestRecorderStartFailsOnBadPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "out.wav")
	rec := NewRecorder(path, &mockPuller{}, 8000, 80, zerolog.Nop())
	if err := rec.Start(); err == nil {
		t.Fatal("expected error creating file in missing directory")
	}
	if err := rec.Stop(); err != nil {
		t.Fatalf("stop after failed start: %v", err)
	}
}

func TestRecorderConcurrentStartKeepsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.wav")
	rec := NewRecorder(path, &mockPuller{value: 0.25}, 8000, 80, zerolog.Nop())

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = rec.Start()
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

	time.Sleep(40 * time.Millisecond)
	if err := rec.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	pcm, err := wav.NewDecoder(f).FullPCMBuffer()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if want := int(rec.Written()) * 80 * 2; len(pcm.Data) != want {
		t.Fatalf("expected %d samples, got %d", want, len(pcm.Data))
	}
}
