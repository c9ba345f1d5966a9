// Package source acquires raw frames from a camera or a still image and
// hands them downstream through a bounded drop-newest queue.
package source

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/petems/visiontone/internal/frame"
	"github.com/petems/visiontone/internal/pipeline"
)

// Config describes the frame origin and capture cadence.
type Config struct {
	Device int
	Width  int
	Height int
	FPS    int
}

// Stats is a snapshot of capture statistics.
type Stats struct {
	Running  bool    `json:"running"`
	FPS      float64 `json:"fps"`
	Captured uint64  `json:"captured"`
	Failures uint64  `json:"failures"`
	Dropped  uint64  `json:"dropped"`
}

// Source runs the capture loop.
type Source struct {
	cfg    Config
	opener Opener
	log    zerolog.Logger

	worker pipeline.Worker
	queue  *pipeline.Queue[*frame.Frame]

	// life serializes Start and Stop so a device is only opened by the
	// call that goes on to spawn the worker.
	life sync.Mutex

	mu  sync.Mutex
	dev Device

	seq      atomic.Uint64
	captured atomic.Uint64
	failures atomic.Uint64
	fps      atomic.Uint64 // math.Float64bits
}

// New creates a source that opens cfg.Device through opener.
func New(cfg Config, opener Opener, log zerolog.Logger) *Source {
	if cfg.FPS <= 0 {
		cfg.FPS = 30
	}
	return &Source{
		cfg:    cfg,
		opener: opener,
		log:    log.With().Str("stage", "source").Logger(),
		queue:  pipeline.NewQueue[*frame.Frame](pipeline.DefaultCapacity),
	}
}

// NewStill creates a source that emits img on every capture tick.
func NewStill(cfg Config, img *frame.Frame, log zerolog.Logger) *Source {
	return New(cfg, stillOpener{img: img}, log)
}

// Start opens the device and spawns the capture worker. Nothing is spawned
// when the device fails to open. A second Start without Stop returns
// pipeline.ErrAlreadyRunning.
func (s *Source) Start() error {
	s.life.Lock()
	defer s.life.Unlock()

	if s.worker.Running() {
		return pipeline.ErrAlreadyRunning
	}

	opened, err := s.opener.Open(s.cfg.Device)
	if err != nil {
		if errors.Is(err, ErrDeviceOpen) {
			return err
		}
		return fmt.Errorf("%w %d: %w", ErrDeviceOpen, s.cfg.Device, err)
	}
	dev := newLockedDevice(opened)

	if err := s.worker.Start(func(stop <-chan struct{}) { s.loop(stop, dev) }); err != nil {
		dev.Close()
		return err
	}

	s.mu.Lock()
	s.dev = dev
	s.mu.Unlock()
	s.log.Info().Int("device", s.cfg.Device).Int("fps", s.cfg.FPS).Msg("Capture started")
	return nil
}

// Stop ends the capture worker and then releases the device. Safe to call
// on a stopped source.
func (s *Source) Stop() error {
	s.life.Lock()
	defer s.life.Unlock()

	err := s.worker.Stop(pipeline.JoinTimeout)
	if err != nil {
		s.log.Warn().Err(err).Msg("Capture worker did not exit in time")
	}

	s.mu.Lock()
	dev := s.dev
	s.dev = nil
	s.mu.Unlock()

	if dev != nil {
		if cerr := dev.Close(); cerr != nil {
			s.log.Warn().Err(cerr).Msg("Failed to release device")
		}
		s.log.Info().Msg("Capture stopped")
	}
	return err
}

// AddFrame resizes f to the target resolution if needed and enqueues it
// without blocking. It returns false when the queue is full.
func (s *Source) AddFrame(f *frame.Frame) bool {
	if s.cfg.Width > 0 && s.cfg.Height > 0 {
		f = frame.Resize(f, s.cfg.Width, s.cfg.Height)
	}
	return s.queue.Push(f)
}

// GetFrame pops the next captured frame without blocking.
func (s *Source) GetFrame() (*frame.Frame, bool) {
	return s.queue.Pop()
}

// Running reports whether the capture worker is active.
func (s *Source) Running() bool {
	return s.worker.Running()
}

// Stats returns a snapshot of capture statistics.
func (s *Source) Stats() Stats {
	return Stats{
		Running:  s.worker.Running(),
		FPS:      loadFloat(&s.fps),
		Captured: s.captured.Load(),
		Failures: s.failures.Load(),
		Dropped:  s.queue.Drops(),
	}
}

func (s *Source) loop(stop <-chan struct{}, dev Device) {
	period := time.Second / time.Duration(s.cfg.FPS)
	window := newRateWindow(time.Now())

	pipeline.Run(stop, s.log, func() (time.Duration, error) {
		started := time.Now()

		f, err := dev.Read()
		if err != nil {
			s.failures.Add(1)
			s.log.Warn().Err(err).Msg("Failed to capture frame")
			return pipeline.ErrorBackoff, nil
		}

		f.Seq = s.seq.Add(1)
		f.CapturedAt = started
		s.captured.Add(1)
		storeFloat(&s.fps, window.tick(started))

		s.AddFrame(f)
		return period - time.Since(started), nil
	})
}
