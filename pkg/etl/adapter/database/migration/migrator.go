// Package migration applies the schema the SQL table store depends on.
package migration

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	migratedb "github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/tigerroll/citybike/pkg/etl/adapter/database"
	"github.com/tigerroll/citybike/pkg/etl/support/util/logger"
)

//go:embed sql/*.sql
var embedded embed.FS

const (
	// MigrationsTable records the applied schema version.
	MigrationsTable = "etl_schema_migrations"
	// LedgerTable is created by the embedded migrations.
	LedgerTable = "processed_notifications"
)

// Migrator runs golang-migrate against an open connection.
type Migrator struct {
	conn database.DBConnection
}

func NewMigrator(conn database.DBConnection) *Migrator {
	return &Migrator{conn: conn}
}

// Up applies the embedded migrations.
func (m *Migrator) Up(ctx context.Context) error {
	return m.UpFS(ctx, embedded, "sql", MigrationsTable)
}

// UpFS applies every pending migration found under path in migrationFS.
func (m *Migrator) UpFS(ctx context.Context, migrationFS fs.FS, path, table string) error {
	logger.Infof("Applying migrations (connection: %s, path: %s, table: %s)", m.conn.Name(), path, table)

	inst, release, err := m.instance(ctx, migrationFS, path, table)
	if err != nil {
		return err
	}
	defer release()

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := inst.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		if version, dirty, verr := inst.Version(); verr == nil {
			logger.Errorf("Migration failed at version %d (dirty=%t).", version, dirty)
		}
		return fmt.Errorf("migration failed (db: %s, path: %s): %w", m.conn.Type(), path, err)
	}
	logger.Infof("Migrations applied on '%s'.", m.conn.Name())
	return nil
}

// instance builds a migrate.Migrate that never owns the shared *sql.DB: postgres and mysql run
// on a dedicated *sql.Conn, sqlite on the pool itself. release frees what was acquired here
// and leaves the pool open for the table store.
func (m *Migrator) instance(ctx context.Context, migrationFS fs.FS, path, table string) (*migrate.Migrate, func(), error) {
	sqlDB, err := m.conn.GetSQLDB()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	src, err := iofs.New(migrationFS, path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create iofs source driver for path %s: %w", path, err)
	}

	var conn *sql.Conn
	release := func() {
		if err := src.Close(); err != nil {
			logger.Warnf("Failed to close migration source: %v", err)
		}
		if conn != nil {
			if err := conn.Close(); err != nil {
				logger.Warnf("Failed to release migration connection: %v", err)
			}
		}
	}

	var drv migratedb.Driver
	switch m.conn.Type() {
	case "postgres", "mysql":
		if conn, err = sqlDB.Conn(ctx); err != nil {
			release()
			return nil, nil, fmt.Errorf("failed to acquire migration connection: %w", err)
		}
		drv, err = connDriver(ctx, m.conn.Type(), conn, table)
	case "sqlite":
		drv, err = sqlite.WithInstance(sqlDB, &sqlite.Config{MigrationsTable: table})
	default:
		err = fmt.Errorf("unsupported database type for migration: %s", m.conn.Type())
	}
	if err != nil {
		release()
		return nil, nil, err
	}

	inst, err := migrate.NewWithInstance("iofs", src, m.conn.Type(), drv)
	if err != nil {
		release()
		return nil, nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	return inst, release, nil
}

func connDriver(ctx context.Context, dbType string, conn *sql.Conn, table string) (migratedb.Driver, error) {
	if dbType == "postgres" {
		return postgres.WithConnection(ctx, conn, &postgres.Config{MigrationsTable: table})
	}
	return mysql.WithConnection(ctx, conn, &mysql.Config{MigrationsTable: table})
}
