package pipeline

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	// ErrAlreadyRunning is returned by Start when the stage has not been stopped.
	ErrAlreadyRunning = errors.New("stage already running")
	// ErrStopTimeout is returned by Stop when the worker did not exit in time.
	ErrStopTimeout = errors.New("worker did not stop before timeout")
)

const (
	// JoinTimeout bounds how long Stop waits for a worker goroutine.
	JoinTimeout = time.Second
	// IdleBackoff is the pause taken when a pop finds nothing queued.
	IdleBackoff = 10 * time.Millisecond
	// ErrorBackoff is the pause taken after a failed tick.
	ErrorBackoff = 100 * time.Millisecond
)

// Worker runs a single background loop. It is safe for concurrent use.
type Worker struct {
	mu      sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}
}

// Start spawns loop in a new goroutine. The loop must return once stop is
// closed. Start returns ErrAlreadyRunning if a previous loop was not stopped.
func (w *Worker) Start(loop func(stop <-chan struct{})) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return ErrAlreadyRunning
	}

	w.running = true
	w.stop = make(chan struct{})
	w.done = make(chan struct{})

	stop, done := w.stop, w.done
	go func() {
		defer close(done)
		loop(stop)
	}()
	return nil
}

// Stop signals the loop to exit and waits up to timeout for it. Calling Stop
// on a stopped worker is a no-op.
func (w *Worker) Stop(timeout time.Duration) error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	close(w.stop)
	done := w.done
	w.mu.Unlock()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return ErrStopTimeout
	}
}

// Running reports whether the loop has been started and not stopped.
func (w *Worker) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// Sleep pauses for d or until stop is closed. It returns false if stop fired.
func Sleep(stop <-chan struct{}, d time.Duration) bool {
	if d <= 0 {
		select {
		case <-stop:
			return false
		default:
			return true
		}
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-stop:
		return false
	case <-t.C:
		return true
	}
}

// Pace sleeps whatever remains of period since started.
func Pace(stop <-chan struct{}, started time.Time, period time.Duration) bool {
	return Sleep(stop, period-time.Since(started))
}

// Guard runs one tick, converting a panic into an error so the calling loop
// can log it and keep going.
func Guard(tick func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in tick: %v", r)
		}
	}()
	return tick()
}

// Run is the loop body shared by the stages: it calls tick until stop is
// closed, logging failures and backing off after each one. tick returns how
// long to sleep before the next tick.
func Run(stop <-chan struct{}, log zerolog.Logger, tick func() (time.Duration, error)) {
	for {
		select {
		case <-stop:
			return
		default:
		}

		var wait time.Duration
		err := Guard(func() error {
			var err error
			wait, err = tick()
			return err
		})
		if err != nil {
			log.Error().Err(err).Msg("Tick failed")
			wait = ErrorBackoff
		}
		if !Sleep(stop, wait) {
			return
		}
	}
}
