package app

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/citybike/pkg/etl/adapter/queue"
	coreAdapter "github.com/tigerroll/citybike/pkg/etl/core/adapter"
	"github.com/tigerroll/citybike/pkg/etl/core/config"
)

// brokenConn fails Consume with err, or blocks until the context ends when err is nil.
type brokenConn struct {
	err   error
	calls int
}

func (b *brokenConn) Close() error { return nil }
func (b *brokenConn) Type() string { return "inline" }
func (b *brokenConn) Name() string { return "notifications" }
func (b *brokenConn) Publish(context.Context, []byte) error { return nil }
func (b *brokenConn) Consume(ctx context.Context, _ queue.Subscription) error {
	b.calls++
	if b.err != nil {
		return b.err
	}
	<-ctx.Done()
	return ctx.Err()
}

// reopeningResolver hands out next on every reconnect.
type reopeningResolver struct {
	next       func() queue.QueueConnection
	reconnects int
}

func (r *reopeningResolver) ResolveConnection(ctx context.Context, name string) (coreAdapter.ResourceConnection, error) {
	return r.ResolveQueueConnection(ctx, name)
}
func (r *reopeningResolver) ResolveQueueConnection(context.Context, string) (queue.QueueConnection, error) {
	return r.next(), nil
}
func (r *reopeningResolver) ReconnectQueueConnection(context.Context, string) (queue.QueueConnection, error) {
	r.reconnects++
	return r.next(), nil
}

func TestConsumerReconnectsAfterConnectionFailure(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	healthy := &brokenConn{}
	resolver := &reopeningResolver{next: func() queue.QueueConnection {
		cancel()
		return healthy
	}}
	c := &consumer{
		conn: &brokenConn{err: errors.New("Exception (504) Reason: \"channel/connection is not open\"")},
		cfg:  config.ConsumerConfig{QueueRef: "notifications", ReconnectAttempts: 3},
	}

	require.NoError(t, c.run(ctx, resolver))
	assert.Equal(t, 1, resolver.reconnects)
	assert.Equal(t, 1, healthy.calls)
	assert.Same(t, healthy, c.conn)
}

func TestConsumerGivesUpAfterReconnectAttempts(t *testing.T) {
	broken := errors.New("connection refused")
	resolver := &reopeningResolver{next: func() queue.QueueConnection { return &brokenConn{err: broken} }}
	c := &consumer{
		conn: &brokenConn{err: broken},
		cfg:  config.ConsumerConfig{QueueRef: "notifications", ReconnectAttempts: 2},
	}

	err := c.run(context.Background(), resolver)
	assert.ErrorIs(t, err, broken)
	assert.Equal(t, 2, resolver.reconnects)
}
