// Package gorm opens database connections through gorm. Dialects register themselves
// from the mysql, postgres and sqlite subpackages.
package gorm

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/tigerroll/citybike/pkg/etl/adapter/database"
	dbconfig "github.com/tigerroll/citybike/pkg/etl/adapter/database/config"
	coreAdapter "github.com/tigerroll/citybike/pkg/etl/core/adapter"
	"github.com/tigerroll/citybike/pkg/etl/core/config"
	"github.com/tigerroll/citybike/pkg/etl/support/util/logger"
)

// DialectorFactory generates a gorm.Dialector from a dbconfig.DatabaseConfig.
type DialectorFactory func(cfg dbconfig.DatabaseConfig) (gorm.Dialector, error)

var (
	dialectorRegistry = make(map[string]DialectorFactory)
	dialectorMutex    sync.RWMutex
)

// RegisterDialector registers a DialectorFactory for the given database type.
func RegisterDialector(dbType string, factory DialectorFactory) {
	dialectorMutex.Lock()
	defer dialectorMutex.Unlock()
	if _, exists := dialectorRegistry[dbType]; exists {
		logger.Warnf("Dialector for type '%s' already registered. Overwriting.", dbType)
	}
	dialectorRegistry[dbType] = factory
}

// GetDialectorFactory retrieves the DialectorFactory corresponding to the specified DB type.
func GetDialectorFactory(dbType string) (DialectorFactory, error) {
	dialectorMutex.RLock()
	defer dialectorMutex.RUnlock()
	factory, ok := dialectorRegistry[dbType]
	if !ok {
		return nil, fmt.Errorf("no dialector registered for database type: %s", dbType)
	}
	return factory, nil
}

// BaseProvider opens and caches connections for one database type.
type BaseProvider struct {
	*coreAdapter.Registry[database.DBConnection]
}

// NewBaseProvider creates a provider for dbType reading etl.adapter.database.<name>.
func NewBaseProvider(cfg *config.Config, dbType string) *BaseProvider {
	return &BaseProvider{
		Registry: coreAdapter.NewRegistry(dbType, func(name string) (database.DBConnection, error) {
			var dbCfg dbconfig.DatabaseConfig
			if err := cfg.AdapterConfig(config.AdapterDatabase, name, &dbCfg); err != nil {
				return nil, err
			}
			if dbCfg.Type != dbType {
				return nil, fmt.Errorf("provider type mismatch: expected '%s', got '%s' for connection '%s'", dbType, dbCfg.Type, name)
			}
			db, err := Open(dbCfg)
			if err != nil {
				return nil, err
			}
			logger.Infof("Established new DB connection: %s (%s)", name, dbType)
			return NewGormDBAdapter(db, dbCfg, name), nil
		}),
	}
}

// Open establishes a gorm connection and applies the pool settings.
func Open(dbCfg dbconfig.DatabaseConfig) (*gorm.DB, error) {
	dialectorFactory, err := GetDialectorFactory(dbCfg.Type)
	if err != nil {
		return nil, fmt.Errorf("failed to get dialector factory for %s: %w", dbCfg.Type, err)
	}
	dialector, err := dialectorFactory(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create dialector for %s: %w", dbCfg.Type, err)
	}
	return OpenDialector(dialector, dbCfg)
}

// OpenDialector opens db over an explicit dialector (tests pass sqlmock-backed dialectors here).
func OpenDialector(dialector gorm.Dialector, dbCfg dbconfig.DatabaseConfig) (*gorm.DB, error) {
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:                 NewGormLogger(dbCfg.LogLevel),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open GORM connection: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	if dbCfg.Pool.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(dbCfg.Pool.MaxOpenConns)
	}
	if dbCfg.Pool.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(dbCfg.Pool.MaxIdleConns)
	}
	if dbCfg.Pool.ConnMaxLifetimeMinutes > 0 {
		sqlDB.SetConnMaxLifetime(time.Duration(dbCfg.Pool.ConnMaxLifetimeMinutes) * time.Minute)
	}
	return db, nil
}

// GormDBAdapter implements database.DBConnection.
type GormDBAdapter struct {
	db   *gorm.DB
	cfg  dbconfig.DatabaseConfig
	name string
}

// NewGormDBAdapter wraps an open gorm.DB.
func NewGormDBAdapter(db *gorm.DB, cfg dbconfig.DatabaseConfig, name string) database.DBConnection {
	return &GormDBAdapter{db: db, cfg: cfg, name: name}
}

func (a *GormDBAdapter) Gorm(ctx context.Context) *gorm.DB {
	return a.db.WithContext(ctx)
}

func (a *GormDBAdapter) GetSQLDB() (*sql.DB, error) {
	return a.db.DB()
}

func (a *GormDBAdapter) Config() dbconfig.DatabaseConfig { return a.cfg }
func (a *GormDBAdapter) Type() string                    { return a.cfg.Type }
func (a *GormDBAdapter) Name() string                    { return a.name }

func (a *GormDBAdapter) Close() error {
	sqlDB, err := a.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

var _ database.DBConnection = (*GormDBAdapter)(nil)
