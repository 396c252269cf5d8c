// Package sqlite registers the SQLite dialect and provides its DBProvider.
package sqlite

import (
	"go.uber.org/fx"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/tigerroll/citybike/pkg/etl/adapter/database"
	dbconfig "github.com/tigerroll/citybike/pkg/etl/adapter/database/config"
	gormadapter "github.com/tigerroll/citybike/pkg/etl/adapter/database/gorm"
	"github.com/tigerroll/citybike/pkg/etl/core/config"
)

const ProviderType = "sqlite"

func init() {
	gormadapter.RegisterDialector(ProviderType, func(cfg dbconfig.DatabaseConfig) (gorm.Dialector, error) {
		return sqlite.Open(cfg.Database), nil
	})
}

func NewProvider(cfg *config.Config) database.DBProvider {
	return gormadapter.NewBaseProvider(cfg, ProviderType)
}

var Module = fx.Provide(fx.Annotate(NewProvider, fx.ResultTags(`group:"db_providers"`)))
