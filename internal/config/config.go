package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/petems/visiontone/internal/synth"
	"github.com/petems/visiontone/internal/vision"
)

const (
	SourceCamera = "camera"
	SourceImage  = "image"

	SinkPortAudio = "portaudio"
	SinkWAV       = "wav"
	SinkNone      = "none"
)

type Config struct {
	LogLevel   string           `json:"log_level" yaml:"log_level"`
	Source     SourceConfig     `json:"source" yaml:"source"`
	Processing ProcessingConfig `json:"processing" yaml:"processing"`
	Sampling   SamplingConfig   `json:"sampling" yaml:"sampling"`
	Audio      AudioConfig      `json:"audio" yaml:"audio"`
	Server     ServerConfig     `json:"server" yaml:"server"`
}

type SourceConfig struct {
	Kind      string `json:"kind" yaml:"kind"` // "camera" or "image"
	Device    int    `json:"device" yaml:"device"`
	ImagePath string `json:"image_path" yaml:"image_path"`
	Width     int    `json:"width" yaml:"width"`
	Height    int    `json:"height" yaml:"height"`
	FPS       int    `json:"fps" yaml:"fps"`
}

type ProcessingConfig struct {
	FrameRate     int       `json:"frame_rate" yaml:"frame_rate"`
	BlurRadius    float64   `json:"blur_radius" yaml:"blur_radius"`
	EdgeThreshold float64   `json:"edge_threshold" yaml:"edge_threshold"`
	DepthScale    float64   `json:"depth_scale" yaml:"depth_scale"`
	ROI           ROIConfig `json:"roi" yaml:"roi"`
}

type ROIConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
	X       int  `json:"x" yaml:"x"`
	Y       int  `json:"y" yaml:"y"`
	Width   int  `json:"width" yaml:"width"`
	Height  int  `json:"height" yaml:"height"`
}

type SamplingConfig struct {
	RowStep    int `json:"row_step" yaml:"row_step"`
	ColStep    int `json:"col_step" yaml:"col_step"`
	IntervalMS int `json:"interval_ms" yaml:"interval_ms"`
}

type AudioConfig struct {
	SampleRate   int     `json:"sample_rate" yaml:"sample_rate"`
	BufferSize   int     `json:"buffer_size" yaml:"buffer_size"`
	Sink         string  `json:"sink" yaml:"sink"` // "portaudio", "wav" or "none"
	WAVPath      string  `json:"wav_path" yaml:"wav_path"`
	BaseFreq     float64 `json:"base_freq" yaml:"base_freq"`
	DepthFactor  float64 `json:"depth_factor" yaml:"depth_factor"`
	AngleFactor  float64 `json:"angle_factor" yaml:"angle_factor"`
	VolumeFactor float64 `json:"volume_factor" yaml:"volume_factor"`
	Reverb       float64 `json:"reverb" yaml:"reverb"`
	Compression  bool    `json:"compression" yaml:"compression"`
}

type ServerConfig struct {
	Addr string `json:"addr" yaml:"addr"` // empty disables the status server
}

// Default returns the built-in configuration.
func Default() *Config {
	vs := vision.DefaultSettings()
	tone := synth.DefaultParameters()
	return &Config{
		LogLevel: "info",
		Source: SourceConfig{
			Kind:   SourceCamera,
			Device: 0,
			Width:  640,
			Height: 480,
			FPS:    30,
		},
		Processing: ProcessingConfig{
			FrameRate:     30,
			BlurRadius:    vs.BlurRadius,
			EdgeThreshold: vs.EdgeThreshold,
			DepthScale:    vs.DepthScale,
		},
		Sampling: SamplingConfig{
			RowStep:    20,
			ColStep:    10,
			IntervalMS: 33,
		},
		Audio: AudioConfig{
			SampleRate:   44100,
			BufferSize:   1024,
			Sink:         SinkPortAudio,
			WAVPath:      "visiontone.wav",
			BaseFreq:     tone.BaseFreq,
			DepthFactor:  tone.DepthFactor,
			AngleFactor:  tone.AngleFactor,
			VolumeFactor: tone.VolumeFactor,
			Reverb:       tone.Reverb,
			Compression:  tone.Compression,
		},
		Server: ServerConfig{
			Addr: "127.0.0.1:8090",
		},
	}
}

// Load reads the config at path, or the platform config path when path is
// empty. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		path = Path()
	}

	cfg := Default()

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := decode(cfg, data, isYAML(path)); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// decode overlays data onto cfg so that absent keys keep their defaults.
func decode(cfg *Config, data []byte, asYAML bool) error {
	if !asYAML {
		return json.Unmarshal(data, cfg)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Validate reports every invalid field.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.LogLevel != "" {
		if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
			add("log_level: unknown level %q", c.LogLevel)
		}
	}

	switch c.Source.Kind {
	case SourceCamera:
		if c.Source.Device < 0 {
			add("source.device: must be >= 0, got %d", c.Source.Device)
		}
	case SourceImage:
		if c.Source.ImagePath == "" {
			add("source.image_path: required when source.kind is %q", SourceImage)
		}
	default:
		add("source.kind: must be %q or %q, got %q", SourceCamera, SourceImage, c.Source.Kind)
	}
	if c.Source.Width <= 0 || c.Source.Height <= 0 {
		add("source: width and height must be positive, got %dx%d", c.Source.Width, c.Source.Height)
	}
	if c.Source.FPS <= 0 {
		add("source.fps: must be positive, got %d", c.Source.FPS)
	}

	p := c.Processing
	if p.FrameRate <= 0 {
		add("processing.frame_rate: must be positive, got %d", p.FrameRate)
	}
	if p.BlurRadius < 0 {
		add("processing.blur_radius: must be >= 0, got %g", p.BlurRadius)
	}
	if p.EdgeThreshold < 0 {
		add("processing.edge_threshold: must be >= 0, got %g", p.EdgeThreshold)
	}
	if p.DepthScale < 0 {
		add("processing.depth_scale: must be >= 0, got %g", p.DepthScale)
	}
	if p.ROI.Enabled && (p.ROI.Width <= 0 || p.ROI.Height <= 0) {
		add("processing.roi: width and height must be positive when enabled")
	}

	if c.Sampling.IntervalMS <= 0 {
		add("sampling.interval_ms: must be positive, got %d", c.Sampling.IntervalMS)
	}

	a := c.Audio
	if a.SampleRate <= 0 {
		add("audio.sample_rate: must be positive, got %d", a.SampleRate)
	}
	if a.BufferSize <= 0 {
		add("audio.buffer_size: must be positive, got %d", a.BufferSize)
	}
	switch a.Sink {
	case SinkPortAudio, SinkNone:
	case SinkWAV:
		if a.WAVPath == "" {
			add("audio.wav_path: required when audio.sink is %q", SinkWAV)
		}
	default:
		add("audio.sink: must be one of %q, %q, %q, got %q", SinkPortAudio, SinkWAV, SinkNone, a.Sink)
	}
	if a.VolumeFactor < 0 {
		add("audio.volume_factor: must be >= 0, got %g", a.VolumeFactor)
	}
	if a.Reverb < 0 || a.Reverb > 1 {
		add("audio.reverb: must be within [0,1], got %g", a.Reverb)
	}

	return errors.Join(errs...)
}

// Save writes the config to path as JSON, or to the platform config path
// when path is empty.
func (c *Config) Save(path string) error {
	if path == "" {
		path = Path()
	}

	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// VisionSettings returns the processing section as processor settings.
func (c *Config) VisionSettings() vision.Settings {
	r := c.Processing.ROI
	return vision.Settings{
		BlurRadius:    c.Processing.BlurRadius,
		EdgeThreshold: c.Processing.EdgeThreshold,
		DepthScale:    c.Processing.DepthScale,
		ROI: vision.ROI{
			Enabled: r.Enabled,
			X:       r.X,
			Y:       r.Y,
			Width:   r.Width,
			Height:  r.Height,
		},
	}
}

// ToneParameters returns the audio section as synthesizer parameters.
func (c *Config) ToneParameters() synth.Parameters {
	return synth.Parameters{
		BaseFreq:     c.Audio.BaseFreq,
		DepthFactor:  c.Audio.DepthFactor,
		AngleFactor:  c.Audio.AngleFactor,
		VolumeFactor: c.Audio.VolumeFactor,
		Reverb:       c.Audio.Reverb,
		Compression:  c.Audio.Compression,
	}
}

// Interval returns how often the bridge loop moves data between stages.
func (c *Config) Interval() time.Duration {
	return time.Duration(c.Sampling.IntervalMS) * time.Millisecond
}

// Path returns the platform-specific config file path
func Path() string {
	var base string

	switch runtime.GOOS {
	case "darwin":
		base = os.Getenv("HOME") + "/Library/Application Support"
	case "windows":
		base = os.Getenv("APPDATA")
	default: // linux
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			base = xdg
		} else {
			base = os.Getenv("HOME") + "/.config"
		}
	}

	return filepath.Join(base, "visiontone", "config.json")
}
