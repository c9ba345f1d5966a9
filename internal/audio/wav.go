package audio

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/rs/zerolog"

	"github.com/petems/visiontone/internal/pipeline"
)

const wavBitDepth = 16

// Recorder writes pulled buffers to a 16-bit stereo WAV file at the
// playback rate. Repeated buffers are written as-is, the same way a sound
// card would replay them.
type Recorder struct {
	path       string
	src        Puller
	sampleRate int
	bufferSize int
	log        zerolog.Logger

	life   sync.Mutex
	worker pipeline.Worker

	mu   sync.Mutex
	file *os.File
	enc  *wav.Encoder

	written atomic.Uint64
	stale   atomic.Uint64
}

// NewRecorder creates a WAV sink. The file is created on Start.
func NewRecorder(path string, src Puller, sampleRate, bufferSize int, log zerolog.Logger) *Recorder {
	return &Recorder{
		path:       path,
		src:        src,
		sampleRate: sampleRate,
		bufferSize: bufferSize,
		log:        log.With().Str("sink", "wav").Str("path", path).Logger(),
	}
}

func (r *Recorder) Start() error {
	r.life.Lock()
	defer r.life.Unlock()

	if r.worker.Running() {
		return pipeline.ErrAlreadyRunning
	}

	f, err := os.Create(r.path)
	if err != nil {
		return fmt.Errorf("failed to create wav file: %w", err)
	}

	r.mu.Lock()
	r.file = f
	r.enc = wav.NewEncoder(f, r.sampleRate, wavBitDepth, Channels, 1)
	r.mu.Unlock()

	if err := r.worker.Start(r.loop); err != nil {
		r.finish()
		return err
	}
	r.log.Info().Msg("Recording started")
	return nil
}

func (r *Recorder) loop(stop <-chan struct{}) {
	period := time.Duration(float64(time.Second) * float64(r.bufferSize) / float64(r.sampleRate))
	samples := make([]float32, r.bufferSize*Channels)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: Channels, SampleRate: r.sampleRate},
		Data:           make([]int, len(samples)),
		SourceBitDepth: wavBitDepth,
	}

	pipeline.Run(stop, r.log, func() (time.Duration, error) {
		started := time.Now()
		if !r.src.Pull(samples) {
			r.stale.Add(1)
		}
		toPCM(samples, buf.Data, wavBitDepth)

		r.mu.Lock()
		err := r.enc.Write(buf)
		r.mu.Unlock()
		if err != nil {
			return 0, fmt.Errorf("failed to write wav buffer: %w", err)
		}
		r.written.Add(1)
		return period - time.Since(started), nil
	})
}

// Stop ends recording and finalises the file header.
func (r *Recorder) Stop() error {
	r.life.Lock()
	defer r.life.Unlock()

	if !r.worker.Running() {
		return nil
	}
	stopErr := r.worker.Stop(pipeline.JoinTimeout)
	if err := r.finish(); err != nil {
		return err
	}
	r.log.Info().
		Uint64("buffers", r.written.Load()).
		Uint64("repeated", r.stale.Load()).
		Msg("Recording stopped")
	return stopErr
}

func (r *Recorder) Close() error {
	return r.Stop()
}

// Written returns how many buffers have been written.
func (r *Recorder) Written() uint64 { return r.written.Load() }

func (r *Recorder) finish() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file == nil {
		return nil
	}
	encErr := r.enc.Close()
	fileErr := r.file.Close()
	r.file, r.enc = nil, nil

	if encErr != nil {
		return fmt.Errorf("failed to finalize wav file: %w", encErr)
	}
	if fileErr != nil {
		return fmt.Errorf("failed to close wav file: %w", fileErr)
	}
	return nil
}
