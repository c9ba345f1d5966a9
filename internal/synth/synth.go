// Package synth renders descriptor grids into stereo audio buffers and
// publishes them to a playback sink.
package synth

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/petems/visiontone/internal/pipeline"
	"github.com/petems/visiontone/internal/sampler"
)

// Channels is the number of interleaved channels handed to sinks.
const Channels = 2

// Status is a snapshot of synthesizer state.
type Status struct {
	Playing       bool          `json:"playing"`
	RenderLatency time.Duration `json:"render_latency"`
	Underruns     uint64        `json:"underruns"`
	LastGridAt    time.Time     `json:"last_grid_at"`
	Rendered      uint64        `json:"rendered"`
	Dropped       uint64        `json:"dropped"`
	Parameters    Parameters    `json:"parameters"`
}

// published is an immutable buffer handed to readers. It is never written
// after being stored.
type published struct {
	buf *Buffer
	seq uint64
}

// Synth consumes descriptor grids and keeps the latest rendered buffer
// available to Pull.
type Synth struct {
	format Format
	log    zerolog.Logger

	life   sync.Mutex
	worker pipeline.Worker
	in     *pipeline.Queue[sampler.Grid]
	params atomic.Pointer[Parameters]

	current    atomic.Pointer[published]
	seq        atomic.Uint64
	lastPulled atomic.Uint64

	underruns atomic.Uint64
	rendered  atomic.Uint64
	latency   atomic.Int64
	lastGrid  atomic.Int64
}

// New creates a synthesizer with DefaultParameters.
func New(format Format, log zerolog.Logger) *Synth {
	if format.SampleRate <= 0 {
		format.SampleRate = 44100
	}
	if format.BufferSize <= 0 {
		format.BufferSize = 1024
	}
	s := &Synth{
		format: format,
		log:    log.With().Str("stage", "synth").Logger(),
		in:     pipeline.NewQueue[sampler.Grid](pipeline.DefaultCapacity),
	}
	p := DefaultParameters()
	s.params.Store(&p)
	s.publish(NewBuffer(format.BufferSize))
	return s
}

// Format returns the buffer format.
func (s *Synth) Format() Format { return s.format }

// Start spawns the render worker and resets the underrun counter.
func (s *Synth) Start() error {
	s.life.Lock()
	defer s.life.Unlock()

	if s.worker.Running() {
		return pipeline.ErrAlreadyRunning
	}
	s.underruns.Store(0)
	if err := s.worker.Start(s.loop); err != nil {
		return err
	}
	s.log.Info().
		Int("sample_rate", s.format.SampleRate).
		Int("buffer_size", s.format.BufferSize).
		Msg("Synthesis started")
	return nil
}

// Stop ends the render worker. Safe to call on a stopped synthesizer.
func (s *Synth) Stop() error {
	s.life.Lock()
	defer s.life.Unlock()

	if !s.worker.Running() {
		return nil
	}
	err := s.worker.Stop(pipeline.JoinTimeout)
	if err != nil {
		s.log.Warn().Err(err).Msg("Render worker did not exit in time")
	}
	s.log.Info().Msg("Synthesis stopped")
	return err
}

// Running reports whether the render worker is active.
func (s *Synth) Running() bool { return s.worker.Running() }

// AddDescriptorGrid enqueues grid without blocking. It returns false when
// the synthesizer is stopped or its queue is full.
func (s *Synth) AddDescriptorGrid(grid sampler.Grid) bool {
	if !s.worker.Running() {
		return false
	}
	return s.in.Push(grid)
}

// Parameters returns the current parameter snapshot.
func (s *Synth) Parameters() Parameters { return *s.params.Load() }

// SetParameters applies a partial update. An empty update changes nothing.
func (s *Synth) SetParameters(u Update) {
	for {
		old := s.params.Load()
		next := u.Apply(*old)
		if s.params.CompareAndSwap(old, &next) {
			return
		}
	}
}

// Pull copies the latest buffer into out as interleaved stereo float32,
// zero-filling anything beyond the buffer. fresh is false when the same
// buffer was already returned by the previous Pull.
func (s *Synth) Pull(out []float32) (fresh bool) {
	cur := s.current.Load()
	frames := min(len(out)/Channels, cur.buf.Len())
	for i := 0; i < frames; i++ {
		out[i*Channels] = float32(cur.buf.Left[i])
		out[i*Channels+1] = float32(cur.buf.Right[i])
	}
	clear(out[frames*Channels:])
	return s.lastPulled.Swap(cur.seq) != cur.seq
}

// Latest returns the most recently published buffer. Callers must not
// modify it.
func (s *Synth) Latest() *Buffer { return s.current.Load().buf }

// ReportUnderflow records a playback underrun.
func (s *Synth) ReportUnderflow() { s.underruns.Add(1) }

// Status returns a snapshot of synthesizer state.
func (s *Synth) Status() Status {
	st := Status{
		Playing:       s.worker.Running(),
		RenderLatency: time.Duration(s.latency.Load()),
		Underruns:     s.underruns.Load(),
		Rendered:      s.rendered.Load(),
		Dropped:       s.in.Drops(),
		Parameters:    s.Parameters(),
	}
	if ns := s.lastGrid.Load(); ns != 0 {
		st.LastGridAt = time.Unix(0, ns)
	}
	return st
}

func (s *Synth) publish(b *Buffer) {
	s.current.Store(&published{buf: b, seq: s.seq.Add(1)})
}

func (s *Synth) loop(stop <-chan struct{}) {
	period := time.Duration(float64(time.Second) * float64(s.format.BufferSize) / float64(s.format.SampleRate))

	pipeline.Run(stop, s.log, func() (time.Duration, error) {
		grid, ok := s.in.Pop()
		if !ok {
			s.publish(s.current.Load().buf.Scaled(silenceDecay))
			return pipeline.IdleBackoff, nil
		}

		started := time.Now()
		buf := Render(grid, s.Parameters(), s.format)
		s.publish(buf)

		elapsed := time.Since(started)
		s.latency.Store(int64(elapsed))
		s.lastGrid.Store(time.Now().UnixNano())
		s.rendered.Add(1)
		return period - elapsed, nil
	})
}
