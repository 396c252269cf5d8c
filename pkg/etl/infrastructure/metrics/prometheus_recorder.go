package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/tigerroll/citybike/pkg/etl/core/metrics"
)

// PrometheusRecorder is a Prometheus implementation of the metrics.MetricRecorder interface.
type PrometheusRecorder struct {
	registry *prometheus.Registry

	rowsPartitioned *prometheus.CounterVec
	blobsUploaded   *prometheus.CounterVec
	blobBytes       *prometheus.CounterVec
	recordsLoaded   *prometheus.CounterVec
	rowsSkipped     *prometheus.CounterVec
	notifications   *prometheus.CounterVec
	retries         *prometheus.CounterVec
	durations       *prometheus.HistogramVec
}

// NewPrometheusRecorder creates a recorder with its own registry, including the Go and
// process collectors.
func NewPrometheusRecorder() *PrometheusRecorder {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	r := &PrometheusRecorder{
		registry: registry,
		rowsPartitioned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "etl_rows_partitioned_total",
			Help: "Rows grouped into month partitions.",
		}, []string{"partition"}),
		blobsUploaded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "etl_blobs_uploaded_total",
			Help: "Blobs written to the object store.",
		}, []string{"category"}),
		blobBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "etl_blob_bytes_total",
			Help: "Bytes written to the object store.",
		}, []string{"category"}),
		recordsLoaded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "etl_records_loaded_total",
			Help: "Records put into the table store.",
		}, []string{"table"}),
		rowsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "etl_rows_skipped_total",
			Help: "Rows dropped by the skip policy.",
		}, []string{"table", "reason"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "etl_notifications_total",
			Help: "Routed notification records by kind and outcome.",
		}, []string{"kind", "outcome"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "etl_retries_total",
			Help: "Retried external calls.",
		}, []string{"operation"}),
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "etl_operation_duration_seconds",
			Help:    "Duration of named operations.",
			Buckets: prometheus.DefBuckets,
		}, []string{"name", "status"}),
	}

	registry.MustRegister(
		r.rowsPartitioned,
		r.blobsUploaded,
		r.blobBytes,
		r.recordsLoaded,
		r.rowsSkipped,
		r.notifications,
		r.retries,
		r.durations,
	)
	return r
}

// GetRegistry returns the Prometheus registry.
func (r *PrometheusRecorder) GetRegistry() *prometheus.Registry {
	return r.registry
}

func (r *PrometheusRecorder) RecordRowsPartitioned(ctx context.Context, partition string, rows int) {
	r.rowsPartitioned.WithLabelValues(partition).Add(float64(rows))
}

func (r *PrometheusRecorder) RecordBlobUploaded(ctx context.Context, category string, bytes int) {
	r.blobsUploaded.WithLabelValues(category).Inc()
	r.blobBytes.WithLabelValues(category).Add(float64(bytes))
}

func (r *PrometheusRecorder) RecordRecordsLoaded(ctx context.Context, table string, count int) {
	r.recordsLoaded.WithLabelValues(table).Add(float64(count))
}

func (r *PrometheusRecorder) RecordRowSkipped(ctx context.Context, table string, reason string) {
	r.rowsSkipped.WithLabelValues(table, reason).Inc()
}

func (r *PrometheusRecorder) RecordNotification(ctx context.Context, kind string, outcome string) {
	r.notifications.WithLabelValues(kind, outcome).Inc()
}

func (r *PrometheusRecorder) RecordRetry(ctx context.Context, operation string) {
	r.retries.WithLabelValues(operation).Inc()
}

// RecordDuration observes duration under name. Only the "status" tag becomes a label.
func (r *PrometheusRecorder) RecordDuration(ctx context.Context, name string, duration time.Duration, tags map[string]string) {
	r.durations.WithLabelValues(name, tags["status"]).Observe(duration.Seconds())
}

var _ metrics.MetricRecorder = (*PrometheusRecorder)(nil)
