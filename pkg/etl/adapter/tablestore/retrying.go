package tablestore

import (
	"context"
	"time"

	"github.com/tigerroll/citybike/pkg/etl/core/domain/model"
	"github.com/tigerroll/citybike/pkg/etl/core/port"
	"github.com/tigerroll/citybike/pkg/etl/engine/retry"
)

type retryingConnection struct {
	TableStoreConnection
	retrier *retry.Retrier
}

// WithRetry wraps conn so table and ledger calls are retried under retrier.
// Puts are upserts by id, so replaying one is safe.
func WithRetry(conn TableStoreConnection, retrier *retry.Retrier) TableStoreConnection {
	if retrier == nil {
		return conn
	}
	return &retryingConnection{TableStoreConnection: conn, retrier: retrier}
}

func (c *retryingConnection) CreateTable(ctx context.Context, def model.TableDefinition) error {
	return c.retrier.Do(ctx, "table_store.create_table", func(ctx context.Context) error {
		return c.TableStoreConnection.CreateTable(ctx, def)
	})
}

func (c *retryingConnection) PutItem(ctx context.Context, rec model.TableRecord) error {
	return c.retrier.Do(ctx, "table_store.put_item", func(ctx context.Context) error {
		return c.TableStoreConnection.PutItem(ctx, rec)
	})
}

func (c *retryingConnection) NewLedger(ctx context.Context, table string) (port.NotificationLedger, error) {
	ledger, err := retry.DoValue(ctx, c.retrier, "table_store.new_ledger", func(ctx context.Context) (port.NotificationLedger, error) {
		return c.TableStoreConnection.NewLedger(ctx, table)
	})
	if err != nil {
		return nil, err
	}
	return &retryingLedger{ledger: ledger, retrier: c.retrier}, nil
}

type retryingLedger struct {
	ledger  port.NotificationLedger
	retrier *retry.Retrier
}

// Claim is retried only on errors. A retry after a claim that committed but lost its
// response succeeds, because the ledger lets the same owner claim again.
func (l *retryingLedger) Claim(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	return retry.DoValue(ctx, l.retrier, "ledger.claim", func(ctx context.Context) (bool, error) {
		return l.ledger.Claim(ctx, key, owner, ttl)
	})
}

func (l *retryingLedger) Complete(ctx context.Context, key, owner string) error {
	return l.retrier.Do(ctx, "ledger.complete", func(ctx context.Context) error {
		return l.ledger.Complete(ctx, key, owner)
	})
}

func (l *retryingLedger) Release(ctx context.Context, key, owner string) error {
	return l.retrier.Do(ctx, "ledger.release", func(ctx context.Context) error {
		return l.ledger.Release(ctx, key, owner)
	})
}
