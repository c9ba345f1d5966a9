// Package vision turns raw frames into grayscale, edge and depth feature maps
// on a background worker.
package vision

import (
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/petems/visiontone/internal/frame"
	"github.com/petems/visiontone/internal/pipeline"
)

// Processed is the bundle published for every processed frame.
type Processed struct {
	Original  *frame.Frame
	Features  *FeatureMap
	Timestamp time.Time
	FPS       float64
	Latency   time.Duration
}

// Config fixes the processor's target resolution and rate.
type Config struct {
	Width     int
	Height    int
	FrameRate int
}

// Stats is a snapshot of processor statistics.
type Stats struct {
	Running     bool          `json:"running"`
	FPS         float64       `json:"fps"`
	Latency     time.Duration `json:"latency"`
	Processed   uint64        `json:"processed"`
	InputDrops  uint64        `json:"input_drops"`
	OutputDrops uint64        `json:"output_drops"`
}

// Processor runs feature extraction on queued frames.
type Processor struct {
	cfg Config
	log zerolog.Logger

	worker   pipeline.Worker
	in       *pipeline.Queue[*frame.Frame]
	out      *pipeline.Queue[*Processed]
	settings atomic.Pointer[Settings]

	last      atomic.Pointer[Processed]
	processed atomic.Uint64
}

// New creates a processor with DefaultSettings.
func New(cfg Config, log zerolog.Logger) *Processor {
	if cfg.FrameRate <= 0 {
		cfg.FrameRate = 30
	}
	p := &Processor{
		cfg: cfg,
		log: log.With().Str("stage", "processor").Logger(),
		in:  pipeline.NewQueue[*frame.Frame](pipeline.DefaultCapacity),
		out: pipeline.NewQueue[*Processed](pipeline.DefaultCapacity),
	}
	s := DefaultSettings()
	p.settings.Store(&s)
	return p
}

// Start spawns the processing worker.
func (p *Processor) Start() error {
	if err := p.worker.Start(p.loop); err != nil {
		return err
	}
	p.log.Info().Int("frame_rate", p.cfg.FrameRate).Msg("Processing started")
	return nil
}

// Stop ends the processing worker. Safe to call on a stopped processor.
func (p *Processor) Stop() error {
	if !p.worker.Running() {
		return nil
	}
	err := p.worker.Stop(pipeline.JoinTimeout)
	if err != nil {
		p.log.Warn().Err(err).Msg("Processing worker did not exit in time")
	}
	p.log.Info().Msg("Processing stopped")
	return err
}

// Running reports whether the worker is active.
func (p *Processor) Running() bool { return p.worker.Running() }

// AddFrame enqueues f, resized to the target resolution, without blocking.
// It returns false when the processor is stopped or its queue is full.
func (p *Processor) AddFrame(f *frame.Frame) bool {
	if !p.worker.Running() {
		return false
	}
	if p.cfg.Width > 0 && p.cfg.Height > 0 {
		f = frame.Resize(f, p.cfg.Width, p.cfg.Height)
	}
	return p.in.Push(f)
}

// GetLatestProcessed pops the next processed bundle without blocking.
func (p *Processor) GetLatestProcessed() (*Processed, bool) {
	return p.out.Pop()
}

// Settings returns the current parameter snapshot.
func (p *Processor) Settings() Settings { return *p.settings.Load() }

// SetParameters applies a partial update. An empty update changes nothing.
func (p *Processor) SetParameters(u Update) {
	p.modify(u.Apply)
}

// SetROI restricts subsequent processing to the given rectangle.
func (p *Processor) SetROI(x, y, width, height int, enable bool) {
	p.modify(func(s Settings) Settings {
		s.ROI = ROI{Enabled: enable, X: x, Y: y, Width: width, Height: height}
		return s
	})
}

// DisableROI processes whole frames again, keeping the stored rectangle.
func (p *Processor) DisableROI() {
	p.modify(func(s Settings) Settings {
		s.ROI.Enabled = false
		return s
	})
}

func (p *Processor) modify(fn func(Settings) Settings) {
	for {
		old := p.settings.Load()
		next := fn(*old)
		if p.settings.CompareAndSwap(old, &next) {
			return
		}
	}
}

// Stats returns a snapshot of processor statistics.
func (p *Processor) Stats() Stats {
	st := Stats{
		Running:     p.worker.Running(),
		Processed:   p.processed.Load(),
		InputDrops:  p.in.Drops(),
		OutputDrops: p.out.Drops(),
	}
	if last := p.last.Load(); last != nil {
		st.FPS = last.FPS
		st.Latency = last.Latency
	}
	return st
}

func (p *Processor) loop(stop <-chan struct{}) {
	budget := time.Second / time.Duration(p.cfg.FrameRate)
	var lastDone time.Time

	pipeline.Run(stop, p.log, func() (time.Duration, error) {
		f, ok := p.in.Pop()
		if !ok {
			return pipeline.IdleBackoff, nil
		}

		started := time.Now()
		features := Extract(f, *p.settings.Load())
		latency := time.Since(started)

		now := time.Now()
		var fps float64
		if !lastDone.IsZero() {
			if dt := now.Sub(lastDone).Seconds(); dt > 0 {
				fps = 1 / dt
			}
		}
		lastDone = now

		out := &Processed{
			Original:  f,
			Features:  features,
			Timestamp: now,
			FPS:       fps,
			Latency:   latency,
		}
		p.last.Store(out)
		p.processed.Add(1)
		p.out.Push(out)

		return budget - latency, nil
	})
}
