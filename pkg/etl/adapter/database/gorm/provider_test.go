package gorm_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dbconfig "github.com/tigerroll/citybike/pkg/etl/adapter/database/config"
	gormadapter "github.com/tigerroll/citybike/pkg/etl/adapter/database/gorm"
	_ "github.com/tigerroll/citybike/pkg/etl/adapter/database/gorm/sqlite"
)

func TestOpenAppliesPoolSettings(t *testing.T) {
	cfg := dbconfig.DatabaseConfig{
		Type:     "sqlite",
		Database: filepath.Join(t.TempDir(), "etl.db"),
		Pool:     dbconfig.PoolConfig{MaxOpenConns: 1},
	}
	db, err := gormadapter.Open(cfg)
	require.NoError(t, err)

	conn := gormadapter.NewGormDBAdapter(db, cfg, "warehouse")
	defer conn.Close()

	sqlDB, err := conn.GetSQLDB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.PingContext(context.Background()))
	assert.Equal(t, 1, sqlDB.Stats().MaxOpenConnections)
	assert.Equal(t, "sqlite", conn.Type())
	assert.Equal(t, "warehouse", conn.Name())
}

func TestOpenUnknownDialect(t *testing.T) {
	_, err := gormadapter.Open(dbconfig.DatabaseConfig{Type: "oracle"})
	assert.Error(t, err)
}

func TestGormWriterDoesNotPanic(t *testing.T) {
	w := &gormadapter.GormWriter{}
	w.Printf("[%.3fms] [rows:%d] %s", 1.2, 1, "SELECT 1")
	w.Printf("slow query")
}
