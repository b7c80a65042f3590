// Package observe provides OpenTelemetry metrics for the capture pipeline
// and streaming server, bridged to Prometheus so they can be scraped via the
// standard /metrics endpoint.
//
// A package-level default [Metrics] instance ([DefaultMetrics]) is provided
// for convenience; tests should use [NewMetrics] with their own
// [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name for all screencaster metrics.
const meterName = "strzcam.com/screencaster"

// Metrics holds the metric instruments for the application. The underlying
// OTel types handle their own synchronisation.
type Metrics struct {
	// FramesExtracted counts frames cut out of the producer stream.
	FramesExtracted metric.Int64Counter

	// BytesRead counts raw bytes read from the producer.
	BytesRead metric.Int64Counter

	// Desyncs counts accumulation buffer resets.
	Desyncs metric.Int64Counter

	// FramesServed counts multipart parts written to viewers.
	FramesServed metric.Int64Counter

	// ActiveViewers tracks currently connected stream viewers.
	ActiveViewers metric.Int64UpDownCounter

	// ActiveSessions tracks the active capture session (0 or 1).
	ActiveSessions metric.Int64UpDownCounter

	// FrameSize records extracted frame sizes in bytes.
	FrameSize metric.Int64Histogram
}

// frameSizeBuckets covers typical JPEG frame sizes from thumbnails to
// full-screen captures.
var frameSizeBuckets = []float64{
	1 << 10, 4 << 10, 16 << 10, 64 << 10, 256 << 10, 1 << 20, 4 << 20,
}

// NewMetrics creates a fully initialised [Metrics] using the given provider.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.FramesExtracted, err = m.Int64Counter("screencaster.frames.extracted",
		metric.WithDescription("Frames cut out of the producer byte stream."),
	); err != nil {
		return nil, err
	}
	if met.BytesRead, err = m.Int64Counter("screencaster.producer.bytes_read",
		metric.WithDescription("Raw bytes read from the producer stdout."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if met.Desyncs, err = m.Int64Counter("screencaster.scanner.desyncs",
		metric.WithDescription("Accumulation buffer resets after the cap was exceeded."),
	); err != nil {
		return nil, err
	}
	if met.FramesServed, err = m.Int64Counter("screencaster.stream.frames_served",
		metric.WithDescription("Multipart parts written to stream viewers."),
	); err != nil {
		return nil, err
	}
	if met.ActiveViewers, err = m.Int64UpDownCounter("screencaster.stream.active_viewers",
		metric.WithDescription("Currently connected stream viewers."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("screencaster.active_sessions",
		metric.WithDescription("Active capture sessions (0 or 1)."),
	); err != nil {
		return nil, err
	}
	if met.FrameSize, err = m.Int64Histogram("screencaster.frame.size",
		metric.WithDescription("Extracted frame size."),
		metric.WithUnit("By"),
		metric.WithExplicitBucketBoundaries(frameSizeBuckets...),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics], creating it on first
// call from the global meter provider.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// AddFrameExtracted records one extracted frame of the given size.
func (m *Metrics) AddFrameExtracted(ctx context.Context, size int64) {
	m.FramesExtracted.Add(ctx, 1)
	m.FrameSize.Record(ctx, size)
}

// AddBytesRead records raw bytes read from the producer.
func (m *Metrics) AddBytesRead(ctx context.Context, n int64) {
	m.BytesRead.Add(ctx, n)
}

// AddDesync records one accumulation buffer reset.
func (m *Metrics) AddDesync(ctx context.Context) {
	m.Desyncs.Add(ctx, 1)
}

// AddFrameServed records one multipart part written to a viewer.
func (m *Metrics) AddFrameServed(ctx context.Context) {
	m.FramesServed.Add(ctx, 1)
}

// ViewerUp / ViewerDown track stream viewer connections.
func (m *Metrics) ViewerUp(ctx context.Context)   { m.ActiveViewers.Add(ctx, 1) }
func (m *Metrics) ViewerDown(ctx context.Context) { m.ActiveViewers.Add(ctx, -1) }

// SessionUp / SessionDown track the capture session gauge.
func (m *Metrics) SessionUp(ctx context.Context)   { m.ActiveSessions.Add(ctx, 1) }
func (m *Metrics) SessionDown(ctx context.Context) { m.ActiveSessions.Add(ctx, -1) }
