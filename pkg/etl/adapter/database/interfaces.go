// Package database defines gorm-backed database connections used by the SQL table store
// and the notification ledger.
package database

import (
	"context"
	"database/sql"

	"gorm.io/gorm"

	dbconfig "github.com/tigerroll/citybike/pkg/etl/adapter/database/config"
	coreAdapter "github.com/tigerroll/citybike/pkg/etl/core/adapter"
)

// DBConnection is an open database handle.
type DBConnection interface {
	coreAdapter.ResourceConnection

	// Gorm returns a session bound to ctx.
	Gorm(ctx context.Context) *gorm.DB
	// GetSQLDB returns the underlying *sql.DB connection.
	GetSQLDB() (*sql.DB, error)
	// Config returns the database configuration associated with this connection.
	Config() dbconfig.DatabaseConfig
}

// DBProvider manages the connections of one database type.
type DBProvider interface {
	GetConnection(name string) (DBConnection, error)
	CloseAll() error
	Type() string
	ForceReconnect(name string) (DBConnection, error)
}

// DBConnectionResolver resolves a configured database name to a connection.
type DBConnectionResolver interface {
	coreAdapter.ResourceConnectionResolver
	ResolveDBConnection(ctx context.Context, name string) (DBConnection, error)
}

// DBProviderGroup is the fx group collecting every DBProvider.
const DBProviderGroup = "db_providers"
