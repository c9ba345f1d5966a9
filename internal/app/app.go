package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/petems/visiontone/internal/audio"
	"github.com/petems/visiontone/internal/config"
	"github.com/petems/visiontone/internal/frame"
	"github.com/petems/visiontone/internal/logging"
	"github.com/petems/visiontone/internal/observe"
	"github.com/petems/visiontone/internal/pipeline"
	"github.com/petems/visiontone/internal/sampler"
	"github.com/petems/visiontone/internal/source"
	"github.com/petems/visiontone/internal/synth"
	"github.com/petems/visiontone/internal/vision"
)

// StatusInterval is how often status is pushed to the StatusUpdater.
const StatusInterval = 500 * time.Millisecond

// StatusUpdater is an interface for reporting pipeline state (e.g., websocket clients)
type StatusUpdater interface {
	SetIdle()
	SetRunning(Status)
	SetError(err error)
}

// FrameSource produces raw frames.
type FrameSource interface {
	Start() error
	Stop() error
	GetFrame() (*frame.Frame, bool)
	Stats() source.Stats
}

// FrameProcessor turns raw frames into feature maps.
type FrameProcessor interface {
	Start() error
	Stop() error
	AddFrame(f *frame.Frame) bool
	GetLatestProcessed() (*vision.Processed, bool)
	Settings() vision.Settings
	SetParameters(u vision.Update)
	SetROI(x, y, width, height int, enable bool)
	DisableROI()
	Stats() vision.Stats
}

// ToneSynthesizer renders descriptor grids to audio.
type ToneSynthesizer interface {
	Start() error
	Stop() error
	AddDescriptorGrid(grid sampler.Grid) bool
	SetParameters(u synth.Update)
	Status() synth.Status
}

// Service is a long-running companion such as the status server.
type Service interface {
	Run(ctx context.Context) error
}

type Config struct {
	Source        FrameSource
	Processor     FrameProcessor
	Synth         ToneSynthesizer
	Sink          audio.Sink       // Optional - nil means no playback
	Metrics       *observe.Metrics // Optional
	Server        Service          // Optional
	Config        *config.Config
	Logger        zerolog.Logger
	StatusUpdater StatusUpdater // Optional - can be nil
}

// Sampling controls how densely the feature map is sampled.
type Sampling struct {
	RowStep int `json:"row_step"`
	ColStep int `json:"col_step"`
}

// Status is a snapshot of the whole pipeline.
type Status struct {
	RunID      string          `json:"run_id"`
	Running    bool            `json:"running"`
	StartedAt  time.Time       `json:"started_at"`
	Source     source.Stats    `json:"source"`
	Processing vision.Stats    `json:"processing"`
	Settings   vision.Settings `json:"settings"`
	Synth      synth.Status    `json:"synth"`
	Sampling   Sampling        `json:"sampling"`
}

type App struct {
	source   FrameSource
	proc     FrameProcessor
	synth    ToneSynthesizer
	sink     audio.Sink
	sampler  *sampler.Sampler
	metrics  *observe.Metrics
	server   Service
	log      zerolog.Logger
	status   StatusUpdater

	// retick wakes the bridge after the interval changes.
	retick chan struct{}

	mu        sync.Mutex
	running   bool
	runID     string
	startedAt time.Time
	sampling  Sampling
	interval  time.Duration
}

func New(cfg Config) *App {
	c := cfg.Config
	if c == nil {
		c = config.Default()
	}
	interval := c.Interval()
	if interval <= 0 {
		interval = config.Default().Interval()
	}
	return &App{
		source:   cfg.Source,
		proc:     cfg.Processor,
		synth:    cfg.Synth,
		sink:     cfg.Sink,
		sampler:  sampler.New(),
		metrics:  cfg.Metrics,
		server:   cfg.Server,
		interval: interval,
		retick:   make(chan struct{}, 1),
		log:      cfg.Logger,
		status:   cfg.StatusUpdater,
		sampling: clampSampling(Sampling{RowStep: c.Sampling.RowStep, ColStep: c.Sampling.ColStep}),
	}
}

// Start brings the stages up downstream first so that nothing produced is
// lost to a stage that is not yet consuming. If any stage fails, the ones
// already started are stopped again.
func (a *App) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.running {
		return pipeline.ErrAlreadyRunning
	}

	type stage struct {
		name  string
		start func() error
		stop  func() error
	}
	stages := []stage{
		{"processor", a.proc.Start, a.proc.Stop},
		{"synth", a.synth.Start, a.synth.Stop},
	}
	if a.sink != nil {
		stages = append(stages, stage{"sink", a.sink.Start, a.sink.Stop})
	}
	stages = append(stages, stage{"source", a.source.Start, a.source.Stop})

	for i, s := range stages {
		if err := s.start(); err != nil {
			for j := i - 1; j >= 0; j-- {
				if stopErr := stages[j].stop(); stopErr != nil {
					a.log.Warn().Err(stopErr).Str("stage", stages[j].name).Msg("Failed to stop stage")
				}
			}
			err = fmt.Errorf("failed to start %s: %w", s.name, err)
			a.log.Error().Err(err).Msg("Pipeline start failed")
			if a.status != nil {
				a.status.SetError(err)
			}
			return err
		}
	}

	a.running = true
	a.runID = uuid.NewString()
	a.startedAt = time.Now()
	a.log.Info().Str("run_id", a.runID).Msg("Pipeline started")
	return nil
}

// Stop brings the stages down upstream first. Every stage is stopped even
// if an earlier one fails; the errors are joined.
func (a *App) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.running {
		return nil
	}
	a.running = false

	var errs []error
	if err := a.source.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("failed to stop source: %w", err))
	}
	if err := a.proc.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("failed to stop processor: %w", err))
	}
	if err := a.synth.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("failed to stop synth: %w", err))
	}
	if a.sink != nil {
		if err := a.sink.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop sink: %w", err))
		}
	}

	err := errors.Join(errs...)
	if err != nil {
		a.log.Error().Err(err).Str("run_id", a.runID).Msg("Pipeline stopped with errors")
	} else {
		a.log.Info().Str("run_id", a.runID).Msg("Pipeline stopped")
	}
	if a.status != nil {
		a.status.SetIdle()
	}
	return err
}

// IsRunning reports whether Start has succeeded without a matching Stop.
func (a *App) IsRunning() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.running
}

// Run starts the pipeline and drives it until ctx is cancelled or a
// companion service fails, then stops it.
func (a *App) Run(ctx context.Context) error {
	if err := a.Start(); err != nil {
		return err
	}

	if a.metrics != nil {
		reg, err := a.metrics.Observe(a.snapshot)
		if err != nil {
			a.log.Warn().Err(err).Msg("Failed to register pipeline gauges")
		} else {
			defer reg.Unregister()
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.bridge(ctx)
		return nil
	})
	g.Go(func() error {
		a.reportStatus(ctx)
		return nil
	})
	if a.server != nil {
		g.Go(func() error { return a.server.Run(ctx) })
	}

	runErr := g.Wait()
	stopErr := a.Stop()
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return stopErr
}

func (a *App) bridge(ctx context.Context) {
	ticker := time.NewTicker(a.Interval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-a.retick:
			ticker.Reset(a.Interval())
		case <-ticker.C:
			a.Step(ctx)
		}
	}
}

// Step moves at most one raw frame into the processor and one processed
// frame through the sampler into the synthesizer.
func (a *App) Step(ctx context.Context) {
	if f, ok := a.source.GetFrame(); ok {
		a.proc.AddFrame(f)
	}

	p, ok := a.proc.GetLatestProcessed()
	if !ok {
		return
	}
	a.sampler.Update(p.Features)

	s := a.Sampling()
	grid := a.sampler.Grid(s.RowStep, s.ColStep)
	a.synth.AddDescriptorGrid(grid)

	if a.metrics != nil {
		a.metrics.RecordProcessing(ctx, p.Latency)
		a.metrics.RecordGrid(ctx, grid.Len())
	}
}

func (a *App) reportStatus(ctx context.Context) {
	ticker := time.NewTicker(StatusInterval)
	defer ticker.Stop()

	var lastRendered uint64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st := a.Status()
			if a.metrics != nil && st.Synth.Rendered != lastRendered {
				a.metrics.RecordRender(ctx, st.Synth.RenderLatency)
			}
			lastRendered = st.Synth.Rendered
			if a.status != nil {
				a.status.SetRunning(st)
			}
		}
	}
}

// Status returns a snapshot of every stage.
func (a *App) Status() Status {
	a.mu.Lock()
	st := Status{
		RunID:     a.runID,
		Running:   a.running,
		StartedAt: a.startedAt,
		Sampling:  a.sampling,
	}
	a.mu.Unlock()

	st.Source = a.source.Stats()
	st.Processing = a.proc.Stats()
	st.Settings = a.proc.Settings()
	st.Synth = a.synth.Status()
	return st
}

func (a *App) snapshot() observe.Snapshot {
	st := a.Status()
	return observe.Snapshot{
		CaptureFPS:    st.Source.FPS,
		ProcessingFPS: st.Processing.FPS,
		Underruns:     st.Synth.Underruns,
		Drops: map[string]uint64{
			"frames":    st.Source.Dropped,
			"features":  st.Processing.InputDrops,
			"processed": st.Processing.OutputDrops,
			"grids":     st.Synth.Dropped,
		},
	}
}

// Parameter control

func (a *App) SetToneParameters(u synth.Update) {
	if u.Empty() {
		return
	}
	a.synth.SetParameters(u)
	a.log.Info().Interface("update", u).Msg("Tone parameters updated")
}

func (a *App) SetProcessingParameters(u vision.Update) {
	if u.Empty() {
		return
	}
	a.proc.SetParameters(u)
	a.log.Info().Interface("update", u).Msg("Processing parameters updated")
}

func (a *App) SetROI(x, y, width, height int, enable bool) {
	a.proc.SetROI(x, y, width, height, enable)
	a.log.Info().Int("x", x).Int("y", y).Int("width", width).Int("height", height).Bool("enabled", enable).Msg("ROI updated")
}

func (a *App) DisableROI() {
	a.proc.DisableROI()
	a.log.Info().Msg("ROI disabled")
}

// SetSampling changes the sampling strides. Values below 1 become 1.
func (a *App) SetSampling(rowStep, colStep int) {
	a.mu.Lock()
	a.sampling = clampSampling(Sampling{RowStep: rowStep, ColStep: colStep})
	a.mu.Unlock()
}

func (a *App) Sampling() Sampling {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sampling
}

// SetInterval changes the bridge period. Non-positive values are ignored.
func (a *App) SetInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	a.mu.Lock()
	changed := a.interval != d
	a.interval = d
	a.mu.Unlock()
	if !changed {
		return
	}

	select {
	case a.retick <- struct{}{}:
	default:
	}
	a.log.Info().Dur("interval", d).Msg("Bridge interval updated")
}

// Interval returns the bridge period.
func (a *App) Interval() time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.interval
}

// ApplyChanges applies a config diff to the running pipeline. Keys that
// need a restart are logged and otherwise ignored.
func (a *App) ApplyChanges(c config.Changes) {
	if c.LogLevel != "" {
		logging.SetLevel(c.LogLevel)
		a.log.Info().Str("level", c.LogLevel).Msg("Log level changed")
	}
	a.SetProcessingParameters(c.Processing)
	if c.ROI != nil {
		if c.ROI.Enabled {
			a.SetROI(c.ROI.X, c.ROI.Y, c.ROI.Width, c.ROI.Height, true)
		} else {
			a.DisableROI()
		}
	}
	a.SetToneParameters(c.Tone)
	if c.Sampling != nil {
		a.SetSampling(c.Sampling.RowStep, c.Sampling.ColStep)
		a.SetInterval(time.Duration(c.Sampling.IntervalMS) * time.Millisecond)
	}
	if len(c.Restart) > 0 {
		a.log.Warn().Strs("keys", c.Restart).Msg("Config changes take effect after restart")
	}
}

func clampSampling(s Sampling) Sampling {
	return Sampling{RowStep: max(1, s.RowStep), ColStep: max(1, s.ColStep)}
}
