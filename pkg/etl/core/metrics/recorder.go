package metrics

import (
	"context"
	"time"
)

// Outcome labels shared by recorders.
const (
	OutcomeSuccess   = "success"
	OutcomeFailure   = "failure"
	OutcomeDuplicate = "duplicate"
	OutcomeIgnored   = "ignored"
)

// MetricRecorder records pipeline activity.
// Implementations must be safe for concurrent use.
type MetricRecorder interface {
	// RecordRowsPartitioned records rows grouped into a month partition.
	RecordRowsPartitioned(ctx context.Context, partition string, rows int)

	// RecordBlobUploaded records a blob written to the object store.
	//
	// category: "raw", "station-metric" or "daily-metric".
	RecordBlobUploaded(ctx context.Context, category string, bytes int)

	// RecordRecordsLoaded records items put into a table.
	RecordRecordsLoaded(ctx context.Context, table string, count int)

	// RecordRowSkipped records a row dropped by the skip policy.
	RecordRowSkipped(ctx context.Context, table string, reason string)

	// RecordNotification records the outcome of one routed notification record.
	//
	// kind: "test", "raw" or "metric". outcome: one of the Outcome constants.
	RecordNotification(ctx context.Context, kind string, outcome string)

	// RecordRetry records a retried external call.
	RecordRetry(ctx context.Context, operation string)

	// RecordDuration records the execution time of a named operation.
	// Example tags: `{"table": "2021-06", "status": "success"}`
	RecordDuration(ctx context.Context, name string, duration time.Duration, tags map[string]string)
}
