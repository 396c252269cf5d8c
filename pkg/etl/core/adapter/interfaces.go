// Package adapter defines the lifecycle contracts shared by every external-resource adapter
// (object stores, table stores, queues, databases).
package adapter

import "context"

// ResourceConnection is an open handle on an external resource.
type ResourceConnection interface {
	// Close releases the underlying resources.
	Close() error
	// Type returns the adapter type (e.g. "s3", "dynamodb", "rabbitmq").
	Type() string
	// Name returns the configured connection name.
	Name() string
}

// ResourceConnectionResolver resolves a connection by its configured name.
type ResourceConnectionResolver interface {
	ResolveConnection(ctx context.Context, name string) (ResourceConnection, error)
}
