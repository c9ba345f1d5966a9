package source

import (
	"math"
	"sync/atomic"
	"time"
)

// rateWindow measures achieved frame rate, restarting its count every second.
type rateWindow struct {
	start time.Time
	count int
	rate  float64
}

func newRateWindow(now time.Time) *rateWindow {
	return &rateWindow{start: now}
}

func (w *rateWindow) tick(now time.Time) float64 {
	w.count++
	elapsed := now.Sub(w.start).Seconds()
	if elapsed > 0 {
		w.rate = float64(w.count) / elapsed
	}
	if elapsed > 1.0 {
		w.start = now
		w.count = 0
	}
	return w.rate
}

func storeFloat(v *atomic.Uint64, f float64) { v.Store(math.Float64bits(f)) }

func loadFloat(v *atomic.Uint64) float64 { return math.Float64frombits(v.Load()) }
