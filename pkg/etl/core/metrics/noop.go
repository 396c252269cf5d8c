package metrics

import (
	"context"
	"time"
)

// NoOpMetricRecorder is used when metrics are disabled and in tests.
type NoOpMetricRecorder struct{}

// NewNoOpMetricRecorder creates a new instance of NoOpMetricRecorder.
func NewNoOpMetricRecorder() MetricRecorder {
	return &NoOpMetricRecorder{}
}

func (r *NoOpMetricRecorder) RecordRowsPartitioned(ctx context.Context, partition string, rows int) {}
func (r *NoOpMetricRecorder) RecordBlobUploaded(ctx context.Context, category string, bytes int)    {}
func (r *NoOpMetricRecorder) RecordRecordsLoaded(ctx context.Context, table string, count int)      {}
func (r *NoOpMetricRecorder) RecordRowSkipped(ctx context.Context, table string, reason string)     {}
func (r *NoOpMetricRecorder) RecordNotification(ctx context.Context, kind string, outcome string)   {}
func (r *NoOpMetricRecorder) RecordRetry(ctx context.Context, operation string)                     {}
func (r *NoOpMetricRecorder) RecordDuration(ctx context.Context, name string, duration time.Duration, tags map[string]string) {
}

var _ MetricRecorder = (*NoOpMetricRecorder)(nil)

// --- NoOpTracer ---

// NoOpTracer is an implementation of Tracer that does nothing.
type NoOpTracer struct{}

// NewNoOpTracer creates a new instance of NoOpTracer.
func NewNoOpTracer() Tracer {
	return &NoOpTracer{}
}

func (t *NoOpTracer) StartSpan(ctx context.Context, name string, attributes map[string]string) (context.Context, func()) {
	return ctx, func() {}
}

func (t *NoOpTracer) RecordError(ctx context.Context, module string, err error) {}

func (t *NoOpTracer) RecordEvent(ctx context.Context, name string, attributes map[string]interface{}) {
}

var _ Tracer = (*NoOpTracer)(nil)
