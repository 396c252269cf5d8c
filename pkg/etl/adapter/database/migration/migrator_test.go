package migration_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dbconfig "github.com/tigerroll/citybike/pkg/etl/adapter/database/config"
	gormadapter "github.com/tigerroll/citybike/pkg/etl/adapter/database/gorm"
	_ "github.com/tigerroll/citybike/pkg/etl/adapter/database/gorm/sqlite"
	"github.com/tigerroll/citybike/pkg/etl/adapter/database/migration"
)

func TestUpCreatesLedgerTableAndIsIdempotent(t *testing.T) {
	cfg := dbconfig.DatabaseConfig{Type: "sqlite", Database: filepath.Join(t.TempDir(), "etl.db")}
	db, err := gormadapter.Open(cfg)
	require.NoError(t, err)
	conn := gormadapter.NewGormDBAdapter(db, cfg, "ledger")
	defer conn.Close()

	m := migration.NewMigrator(conn)
	require.NoError(t, m.Up(context.Background()))
	require.NoError(t, m.Up(context.Background()), "a second run is a no-op")

	assert.True(t, db.Migrator().HasTable(migration.LedgerTable))
	assert.True(t, db.Migrator().HasTable(migration.MigrationsTable))
}

func TestUpLeavesConnectionOpen(t *testing.T) {
	cfg := dbconfig.DatabaseConfig{Type: "sqlite", Database: filepath.Join(t.TempDir(), "etl.db")}
	db, err := gormadapter.Open(cfg)
	require.NoError(t, err)
	conn := gormadapter.NewGormDBAdapter(db, cfg, "ledger")
	defer conn.Close()

	require.NoError(t, migration.NewMigrator(conn).Up(context.Background()))

	sqlDB, err := conn.GetSQLDB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Ping())
	require.NoError(t, db.Exec("INSERT INTO processed_notifications (notification_key, claimed_at, owner, state) VALUES (?, CURRENT_TIMESTAMP, ?, ?)", "k", "a", "claimed").Error)

	var n int64
	require.NoError(t, db.Table(migration.LedgerTable).Count(&n).Error)
	assert.EqualValues(t, 1, n)
}
