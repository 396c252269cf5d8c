package tablestore_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/citybike/pkg/etl/adapter/tablestore"
	"github.com/tigerroll/citybike/pkg/etl/adapter/tablestore/memory"
	"github.com/tigerroll/citybike/pkg/etl/core/config"
	"github.com/tigerroll/citybike/pkg/etl/core/port"
	"github.com/tigerroll/citybike/pkg/etl/engine/retry"
)

// lostResponseLedger commits the first claim and then reports a timeout.
type lostResponseLedger struct {
	*memory.Ledger
	calls int
}

func (l *lostResponseLedger) Claim(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	l.calls++
	ok, err := l.Ledger.Claim(ctx, key, owner, ttl)
	if l.calls == 1 {
		return false, errors.New("read tcp 10.0.0.1:443: i/o timeout")
	}
	return ok, err
}

type ledgerStore struct {
	*memory.Store
	ledger port.NotificationLedger
}

func (s ledgerStore) NewLedger(ctx context.Context, table string) (port.NotificationLedger, error) {
	return s.ledger, nil
}

func fastRetrier() *retry.Retrier {
	return retry.NewRetrier(retry.NewPolicy(config.RetryConfig{MaxAttempts: 3, InitialInterval: 1, MaxInterval: 2, Factor: 2}), nil)
}

func TestRetriedClaimDoesNotLoseToItself(t *testing.T) {
	ctx := context.Background()
	inner := &lostResponseLedger{Ledger: memory.NewLedger()}
	conn := tablestore.WithRetry(ledgerStore{Store: memory.NewStore("test"), ledger: inner}, fastRetrier())

	l, err := conn.NewLedger(ctx, "processed_notifications")
	require.NoError(t, err)

	claimed, err := l.Claim(ctx, "bucket/key#1", "a", time.Minute)
	require.NoError(t, err)
	assert.True(t, claimed)
	assert.Equal(t, 2, inner.calls)

	claimed, err = l.Claim(ctx, "bucket/key#1", "b", time.Minute)
	require.NoError(t, err)
	assert.False(t, claimed)
}

func TestRetryingLedgerCompletes(t *testing.T) {
	ctx := context.Background()
	conn := tablestore.WithRetry(memory.NewStore("test"), fastRetrier())
	l, err := conn.NewLedger(ctx, "processed_notifications")
	require.NoError(t, err)

	claimed, err := l.Claim(ctx, "k", "a", time.Minute)
	require.NoError(t, err)
	require.True(t, claimed)
	require.NoError(t, l.Complete(ctx, "k", "a"))
	require.NoError(t, l.Release(ctx, "k", "a"))

	claimed, err = l.Claim(ctx, "k", "b", time.Minute)
	require.NoError(t, err)
	assert.False(t, claimed)
}
