// Package queue defines notification queue contracts. Implementations live in the sqs and
// rabbitmq subpackages.
package queue

import (
	"context"

	coreAdapter "github.com/tigerroll/citybike/pkg/etl/core/adapter"
)

// Message is one delivered notification.
type Message struct {
	ID   string
	Body []byte
}

// Subscription describes how consumed messages are handled.
type Subscription struct {
	Handler func(ctx context.Context, msg Message) error
	// Permanent reports errors that redelivery cannot fix; such messages are settled like successes.
	// Nil means every error is redelivered.
	Permanent func(err error) bool
	// Concurrency bounds in-flight messages. Values below 1 mean 1.
	Concurrency int
}

// Settle reports whether a message whose handler returned err should be removed from the queue.
func (s Subscription) Settle(err error) bool {
	return err == nil || (s.Permanent != nil && s.Permanent(err))
}

// QueueConnection publishes and consumes notifications.
type QueueConnection interface {
	coreAdapter.ResourceConnection
	Publish(ctx context.Context, body []byte) error
	// Consume blocks, handling messages until ctx is done or the connection fails.
	Consume(ctx context.Context, sub Subscription) error
}

type QueueProvider interface {
	GetConnection(name string) (QueueConnection, error)
	CloseAll() error
	Type() string
	ForceReconnect(name string) (QueueConnection, error)
}

type QueueConnectionResolver interface {
	coreAdapter.ResourceConnectionResolver
	ResolveQueueConnection(ctx context.Context, name string) (QueueConnection, error)
	// ReconnectQueueConnection closes the cached connection for name and opens a new one.
	ReconnectQueueConnection(ctx context.Context, name string) (QueueConnection, error)
}
