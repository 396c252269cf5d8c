// Package mysql registers the MySQL dialect and provides its DBProvider.
package mysql

import (
	"fmt"
	"time"

	gomysql "github.com/go-sql-driver/mysql"
	"go.uber.org/fx"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/tigerroll/citybike/pkg/etl/adapter/database"
	dbconfig "github.com/tigerroll/citybike/pkg/etl/adapter/database/config"
	gormadapter "github.com/tigerroll/citybike/pkg/etl/adapter/database/gorm"
	"github.com/tigerroll/citybike/pkg/etl/core/config"
)

const ProviderType = "mysql"

func init() {
	gormadapter.RegisterDialector(ProviderType, func(cfg dbconfig.DatabaseConfig) (gorm.Dialector, error) {
		return mysql.Open(DSN(cfg)), nil
	})
}

// DSN builds the driver connection string. Times are parsed in UTC.
func DSN(cfg dbconfig.DatabaseConfig) string {
	c := gomysql.NewConfig()
	c.User = cfg.User
	c.Passwd = cfg.Password
	c.Net = "tcp"
	c.Addr = fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	c.DBName = cfg.Database
	c.ParseTime = true
	c.Loc = time.UTC
	c.Params = map[string]string{"charset": "utf8mb4"}
	return c.FormatDSN()
}

// NewProvider creates a new MySQL DBProvider.
func NewProvider(cfg *config.Config) database.DBProvider {
	return gormadapter.NewBaseProvider(cfg, ProviderType)
}

// Module contributes the MySQL provider to the "db_providers" group.
var Module = fx.Provide(fx.Annotate(NewProvider, fx.ResultTags(`group:"db_providers"`)))
