// Package tablestore defines the table store contracts. Implementations live in the dynamodb,
// sql and memory subpackages.
package tablestore

import (
	"context"

	coreAdapter "github.com/tigerroll/citybike/pkg/etl/core/adapter"
	"github.com/tigerroll/citybike/pkg/etl/core/port"
)

// TableStoreConnection is a named table store that can also host a notification ledger.
type TableStoreConnection interface {
	coreAdapter.ResourceConnection
	port.TableWriter
	// NewLedger returns a ledger stored in table, creating the table when the store supports it.
	NewLedger(ctx context.Context, table string) (port.NotificationLedger, error)
}

// TableStoreProvider manages the connections of one table store type.
type TableStoreProvider interface {
	GetConnection(name string) (TableStoreConnection, error)
	CloseAll() error
	Type() string
}

// TableStoreConnectionResolver resolves a configured table store name to a connection.
type TableStoreConnectionResolver interface {
	coreAdapter.ResourceConnectionResolver
	ResolveTableStoreConnection(ctx context.Context, name string) (TableStoreConnection, error)
}
