// Package observe records pipeline metrics through the OpenTelemetry
// metrics API and exposes them for Prometheus scraping.
package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/petems/visiontone"

// Metrics holds the instruments recorded by the pipeline driver.
type Metrics struct {
	// ProcessingDuration tracks per-frame feature extraction time.
	ProcessingDuration metric.Float64Histogram

	// RenderDuration tracks per-grid synthesis time.
	RenderDuration metric.Float64Histogram

	// Grids counts descriptor grids handed to the synthesizer.
	Grids metric.Int64Counter

	// Descriptors counts the descriptors in those grids.
	Descriptors metric.Int64Counter

	meter metric.Meter
}

// Snapshot is the state read by the observable instruments on each
// collection.
type Snapshot struct {
	CaptureFPS    float64
	ProcessingFPS float64
	Underruns     uint64
	// Drops is keyed by queue name.
	Drops map[string]uint64
}

// latencyBuckets are in seconds and sized for per-frame work around a 33ms
// budget.
var latencyBuckets = []float64{
	0.001, 0.0025, 0.005, 0.01, 0.02, 0.033, 0.05, 0.1, 0.25,
}

// NewMetrics creates the instruments on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{meter: m}

	if met.ProcessingDuration, err = m.Float64Histogram("visiontone.processing.duration",
		metric.WithDescription("Time spent extracting features from one frame."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.RenderDuration, err = m.Float64Histogram("visiontone.render.duration",
		metric.WithDescription("Time spent rendering one descriptor grid."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.Grids, err = m.Int64Counter("visiontone.grids",
		metric.WithDescription("Descriptor grids submitted for synthesis."),
	); err != nil {
		return nil, err
	}
	if met.Descriptors, err = m.Int64Counter("visiontone.descriptors",
		metric.WithDescription("Descriptors submitted for synthesis."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// RecordProcessing records one processed frame.
func (m *Metrics) RecordProcessing(ctx context.Context, d time.Duration) {
	m.ProcessingDuration.Record(ctx, d.Seconds())
}

// RecordRender records one rendered grid.
func (m *Metrics) RecordRender(ctx context.Context, d time.Duration) {
	m.RenderDuration.Record(ctx, d.Seconds())
}

// RecordGrid records a grid of n descriptors.
func (m *Metrics) RecordGrid(ctx context.Context, n int) {
	m.Grids.Add(ctx, 1)
	m.Descriptors.Add(ctx, int64(n))
}

// Observe registers gauges read from snapshot at collection time. Unregister
// the returned registration when the pipeline stops.
func (m *Metrics) Observe(snapshot func() Snapshot) (metric.Registration, error) {
	captureFPS, err := m.meter.Float64ObservableGauge("visiontone.capture.fps",
		metric.WithDescription("Frames captured per second."))
	if err != nil {
		return nil, err
	}
	processingFPS, err := m.meter.Float64ObservableGauge("visiontone.processing.fps",
		metric.WithDescription("Frames processed per second."))
	if err != nil {
		return nil, err
	}
	underruns, err := m.meter.Int64ObservableGauge("visiontone.audio.underruns",
		metric.WithDescription("Playback underruns since the synthesizer started."))
	if err != nil {
		return nil, err
	}
	drops, err := m.meter.Int64ObservableCounter("visiontone.queue.drops",
		metric.WithDescription("Items dropped by full queues, by queue."))
	if err != nil {
		return nil, err
	}

	return m.meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		s := snapshot()
		o.ObserveFloat64(captureFPS, s.CaptureFPS)
		o.ObserveFloat64(processingFPS, s.ProcessingFPS)
		o.ObserveInt64(underruns, int64(s.Underruns))
		for queue, n := range s.Drops {
			o.ObserveInt64(drops, int64(n), metric.WithAttributes(attribute.String("queue", queue)))
		}
		return nil
	}, captureFPS, processingFPS, underruns, drops)
}
