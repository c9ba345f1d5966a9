package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
}

func TestDefaultsAreValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
	if cfg.Source.Width != 640 || cfg.Source.Height != 480 || cfg.Audio.SampleRate != 44100 || cfg.Audio.BufferSize != 1024 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.Interval() != 33*time.Millisecond {
		t.Fatalf("expected 33ms interval, got %v", cfg.Interval())
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if *cfg != *Default() {
		t.Fatal("expected defaults for a missing file")
	}
}

func TestLoadJSONOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	writeFile(t, path, `{"audio": {"base_freq": 220, "sink": "none"}, "sampling": {"row_step": 5}}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Audio.BaseFreq != 220 || cfg.Audio.Sink != SinkNone || cfg.Sampling.RowStep != 5 {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if cfg.Audio.DepthFactor != 500 || cfg.Sampling.ColStep != 10 {
		t.Fatal("absent keys should keep their defaults")
	}
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, `
source:
  kind: image
  image_path: scene.png
processing:
  blur_radius: 1.5
  roi:
    enabled: true
    x: 10
    y: 20
    width: 100
    height: 50
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Source.Kind != SourceImage || cfg.Source.ImagePath != "scene.png" {
		t.Fatalf("source not parsed: %+v", cfg.Source)
	}
	vs := cfg.VisionSettings()
	if vs.BlurRadius != 1.5 || !vs.ROI.Enabled || vs.ROI.Width != 100 {
		t.Fatalf("processing not parsed: %+v", vs)
	}
}

func TestLoadYAMLRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	writeFile(t, path, "audio:\n  base_frequency: 300\n")

	if _, err := Load(path); err == nil {
		t.Fatal("expected unknown key to be rejected")
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := Default()
	cfg.Source.Kind = "scanner"
	cfg.Audio.Reverb = 2
	cfg.Audio.Sink = SinkWAV
	cfg.Audio.WAVPath = ""
	cfg.LogLevel = "loud"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation errors")
	}
	for _, want := range []string{"source.kind", "audio.reverb", "audio.wav_path", "log_level"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("expected error mentioning %s, got: %v", want, err)
		}
	}

	var joined interface{ Unwrap() []error }
	if !errors.As(err, &joined) || len(joined.Unwrap()) != 4 {
		t.Fatalf("expected 4 joined errors, got %v", err)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.json")
	cfg := Default()
	cfg.Audio.VolumeFactor = 0.4

	if err := cfg.Save(path); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if *loaded != *cfg {
		t.Fatalf("expected %+v, got %+v", cfg, loaded)
	}
}

func TestToneParameters(t *testing.T) {
	cfg := Default()
	cfg.Audio.Compression = false
	p := cfg.ToneParameters()
	if p.BaseFreq != 440 || p.DepthFactor != 500 || p.AngleFactor != 300 || p.Compression {
		t.Fatalf("unexpected parameters: %+v", p)
	}
}

func TestDiff(t *testing.T) {
	old := Default()

	if c := Diff(old, Default()); !c.Empty() {
		t.Fatalf("identical configs should not differ: %+v", c)
	}

	next := Default()
	next.Audio.BaseFreq = 330
	next.Audio.Compression = false
	next.Processing.DepthScale = 0.5
	next.Processing.ROI = ROIConfig{Enabled: true, Width: 10, Height: 10}
	next.Sampling.RowStep = 4
	next.Audio.SampleRate = 48000
	next.LogLevel = "debug"

	c := Diff(old, next)
	if c.Tone.BaseFreq == nil || *c.Tone.BaseFreq != 330 {
		t.Fatal("expected base_freq change")
	}
	if c.Tone.Compression == nil || *c.Tone.Compression {
		t.Fatal("expected compression change")
	}
	if c.Tone.DepthFactor != nil || c.Tone.Reverb != nil {
		t.Fatal("unchanged tone fields must stay nil")
	}
	if c.Processing.DepthScale == nil || *c.Processing.DepthScale != 0.5 || c.Processing.BlurRadius != nil {
		t.Fatalf("unexpected processing update: %+v", c.Processing)
	}
	if c.ROI == nil || !c.ROI.Enabled || c.ROI.Width != 10 {
		t.Fatalf("expected roi change, got %+v", c.ROI)
	}
	if c.Sampling == nil || c.Sampling.RowStep != 4 {
		t.Fatal("expected sampling change")
	}
	if c.LogLevel != "debug" {
		t.Fatalf("expected log level change, got %q", c.LogLevel)
	}
	if len(c.Restart) != 1 || c.Restart[0] != "audio.sample_rate" {
		t.Fatalf("expected sample rate to need restart, got %v", c.Restart)
	}
}

func TestWatcherDetectsChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, "audio:\n  base_freq: 300\n")

	var mu sync.Mutex
	var got []Changes
	w, err := NewWatcher(path, zerolog.Nop(), func(old, new *Config) {
		mu.Lock()
		got = append(got, Diff(old, new))
		mu.Unlock()
	}, WithInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer w.Stop()

	if w.Current().Audio.BaseFreq != 300 {
		t.Fatal("initial load not applied")
	}

	writeFile(t, path, "audio:\n  base_freq: 600\n")
	future := time.Now().Add(time.Hour)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(got)
		mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 {
		t.Fatalf("expected one change callback, got %d", len(got))
	}
	if got[0].Tone.BaseFreq == nil || *got[0].Tone.BaseFreq != 600 {
		t.Fatalf("expected base_freq 600 in diff, got %+v", got[0].Tone)
	}
	if w.Current().Audio.BaseFreq != 600 {
		t.Fatal("Current should return the reloaded config")
	}
}

func TestWatcherKeepsConfigOnInvalidChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, "audio:\n  reverb: 0.2\n")

	called := make(chan struct{}, 1)
	w, err := NewWatcher(path, zerolog.Nop(), func(old, new *Config) {
		called <- struct{}{}
	}, WithInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer w.Stop()

	writeFile(t, path, "audio:\n  reverb: 7\n")
	future := time.Now().Add(time.Hour)
	_ = os.Chtimes(path, future, future)

	select {
	case <-called:
		t.Fatal("invalid config must not trigger onChange")
	case <-time.After(100 * time.Millisecond):
	}
	if w.Current().Audio.Reverb != 0.2 {
		t.Fatal("expected previous config to be kept")
	}
}

func TestNewWatcherFailsOnInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	writeFile(t, path, `{"source": {"kind": "tape"}}`)

	if _, err := NewWatcher(path, zerolog.Nop(), nil); err == nil {
		t.Fatal("expected initial load to fail")
	}
}
