package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/tigerroll/citybike/pkg/etl/core/metrics"
	"github.com/tigerroll/citybike/pkg/etl/support/util/logger"
)

// Retrier runs external calls under a RetryPolicy and reports each retry.
type Retrier struct {
	policy   RetryPolicy
	recorder metrics.MetricRecorder
}

// NewRetrier creates a Retrier. A nil recorder disables retry metrics.
func NewRetrier(policy RetryPolicy, recorder metrics.MetricRecorder) *Retrier {
	if recorder == nil {
		recorder = metrics.NewNoOpMetricRecorder()
	}
	return &Retrier{policy: policy, recorder: recorder}
}

// Do runs fn until it succeeds, fails with a non-retryable error, attempts are exhausted
// or ctx is done. The last error is returned unwrapped.
func (r *Retrier) Do(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	_, err := DoValue(ctx, r, operation, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// DoValue is Do for calls returning a value.
func DoValue[T any](ctx context.Context, r *Retrier, operation string, fn func(ctx context.Context) (T, error)) (T, error) {
	attempt := 0
	return backoff.Retry(ctx, func() (T, error) {
		attempt++
		v, err := fn(ctx)
		if err != nil && !r.policy.ShouldRetry(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	},
		backoff.WithBackOff(r.policy.NewBackOff()),
		backoff.WithMaxTries(uint(r.policy.GetMaxAttempts())),
		backoff.WithNotify(func(err error, next time.Duration) {
			logger.Warnf("%s failed (attempt %d/%d), retrying in %s: %v", operation, attempt, r.policy.GetMaxAttempts(), next, err)
			r.recorder.RecordRetry(ctx, operation)
		}),
	)
}
