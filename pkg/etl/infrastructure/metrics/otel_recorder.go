package metrics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/tigerroll/citybike/pkg/etl/core/metrics"
)

// OtelRecorder records pipeline activity as OpenTelemetry instruments.
type OtelRecorder struct {
	rowsPartitioned metric.Int64Counter
	blobsUploaded   metric.Int64Counter
	blobBytes       metric.Int64Counter
	recordsLoaded   metric.Int64Counter
	rowsSkipped     metric.Int64Counter
	notifications   metric.Int64Counter
	retries         metric.Int64Counter
	durations       metric.Float64Histogram
}

func NewOtelRecorder(meter metric.Meter) (*OtelRecorder, error) {
	r := &OtelRecorder{}
	counters := []struct {
		target *metric.Int64Counter
		name   string
		desc   string
	}{
		{&r.rowsPartitioned, "etl.rows.partitioned", "Rows grouped into month partitions."},
		{&r.blobsUploaded, "etl.blobs.uploaded", "Blobs written to the object store."},
		{&r.blobBytes, "etl.blob.bytes", "Bytes written to the object store."},
		{&r.recordsLoaded, "etl.records.loaded", "Records put into the table store."},
		{&r.rowsSkipped, "etl.rows.skipped", "Rows dropped by the skip policy."},
		{&r.notifications, "etl.notifications", "Routed notification records."},
		{&r.retries, "etl.retries", "Retried external calls."},
	}
	for _, c := range counters {
		counter, err := meter.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return nil, err
		}
		*c.target = counter
	}
	h, err := meter.Float64Histogram("etl.operation.duration", metric.WithDescription("Duration of named operations."), metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	r.durations = h
	return r, nil
}

func (r *OtelRecorder) RecordRowsPartitioned(ctx context.Context, partition string, rows int) {
	r.rowsPartitioned.Add(ctx, int64(rows), metric.WithAttributes(attribute.String("partition", partition)))
}

func (r *OtelRecorder) RecordBlobUploaded(ctx context.Context, category string, bytes int) {
	attrs := metric.WithAttributes(attribute.String("category", category))
	r.blobsUploaded.Add(ctx, 1, attrs)
	r.blobBytes.Add(ctx, int64(bytes), attrs)
}

func (r *OtelRecorder) RecordRecordsLoaded(ctx context.Context, table string, count int) {
	r.recordsLoaded.Add(ctx, int64(count), metric.WithAttributes(attribute.String("table", table)))
}

func (r *OtelRecorder) RecordRowSkipped(ctx context.Context, table string, reason string) {
	r.rowsSkipped.Add(ctx, 1, metric.WithAttributes(attribute.String("table", table), attribute.String("reason", reason)))
}

func (r *OtelRecorder) RecordNotification(ctx context.Context, kind string, outcome string) {
	r.notifications.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind), attribute.String("outcome", outcome)))
}

func (r *OtelRecorder) RecordRetry(ctx context.Context, operation string) {
	r.retries.Add(ctx, 1, metric.WithAttributes(attribute.String("operation", operation)))
}

func (r *OtelRecorder) RecordDuration(ctx context.Context, name string, duration time.Duration, tags map[string]string) {
	attrs := make([]attribute.KeyValue, 0, len(tags)+1)
	attrs = append(attrs, attribute.String("name", name))
	for k, v := range tags {
		attrs = append(attrs, attribute.String(k, v))
	}
	r.durations.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

var _ metrics.MetricRecorder = (*OtelRecorder)(nil)
