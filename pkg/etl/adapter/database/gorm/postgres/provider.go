// Package postgres registers the PostgreSQL dialect and provides its DBProvider.
package postgres

import (
	"fmt"

	"go.uber.org/fx"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/tigerroll/citybike/pkg/etl/adapter/database"
	dbconfig "github.com/tigerroll/citybike/pkg/etl/adapter/database/config"
	gormadapter "github.com/tigerroll/citybike/pkg/etl/adapter/database/gorm"
	"github.com/tigerroll/citybike/pkg/etl/core/config"
)

const ProviderType = "postgres"

func init() {
	gormadapter.RegisterDialector(ProviderType, func(cfg dbconfig.DatabaseConfig) (gorm.Dialector, error) {
		return postgres.Open(DSN(cfg)), nil
	})
}

// DSN builds the key/value connection string. sslmode defaults to disable.
func DSN(cfg dbconfig.DatabaseConfig) string {
	sslmode := cfg.Sslmode
	if sslmode == "" {
		sslmode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, sslmode)
}

func NewProvider(cfg *config.Config) database.DBProvider {
	return gormadapter.NewBaseProvider(cfg, ProviderType)
}

var Module = fx.Provide(fx.Annotate(NewProvider, fx.ResultTags(`group:"db_providers"`)))
