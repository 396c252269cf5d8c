// Package retry bounds retries of calls that cross an external boundary (object store,
// table store, queue). Business logic is never wrapped.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/tigerroll/citybike/pkg/etl/core/config"
	"github.com/tigerroll/citybike/pkg/etl/support/util/exception"
)

// RetryPolicy decides whether and how often an external call is retried.
type RetryPolicy interface {
	// ShouldRetry determines if a given error is retryable.
	ShouldRetry(err error) bool
	// GetMaxAttempts returns the maximum number of attempts, including the first call.
	GetMaxAttempts() int
	// NewBackOff returns a fresh backoff schedule for one call.
	NewBackOff() backoff.BackOff
}

type defaultRetryPolicy struct {
	maxAttempts         int
	initialInterval     time.Duration
	maxInterval         time.Duration
	factor              float64
	retryableExceptions []string
}

// NewPolicy builds a policy from configuration. Errors are retried when exception.IsTemporary
// holds or when they match one of retryableExceptions (see exception.IsErrorOfType).
func NewPolicy(cfg config.RetryConfig, retryableExceptions ...string) RetryPolicy {
	p := &defaultRetryPolicy{
		maxAttempts:         cfg.MaxAttempts,
		initialInterval:     time.Duration(cfg.InitialInterval) * time.Millisecond,
		maxInterval:         time.Duration(cfg.MaxInterval) * time.Millisecond,
		factor:              cfg.Factor,
		retryableExceptions: retryableExceptions,
	}
	if p.maxAttempts < 1 {
		p.maxAttempts = 1
	}
	if p.factor < 1 {
		p.factor = backoff.DefaultMultiplier
	}
	if p.initialInterval <= 0 {
		p.initialInterval = backoff.DefaultInitialInterval
	}
	if p.maxInterval < p.initialInterval {
		p.maxInterval = p.initialInterval
	}
	return p
}

// NoRetry runs every call exactly once.
func NoRetry() RetryPolicy {
	return NewPolicy(config.RetryConfig{MaxAttempts: 1})
}

func (p *defaultRetryPolicy) GetMaxAttempts() int {
	return p.maxAttempts
}

func (p *defaultRetryPolicy) ShouldRetry(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if exception.IsObjectNotFound(err) || exception.IsMalformedInput(err) {
		return false
	}
	if exception.IsTemporary(err) {
		return true
	}
	for _, typeName := range p.retryableExceptions {
		if exception.IsErrorOfType(err, typeName) {
			return true
		}
	}
	return false
}

func (p *defaultRetryPolicy) NewBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.initialInterval
	b.MaxInterval = p.maxInterval
	b.Multiplier = p.factor
	return b
}
