// Package app wires the chunker and loader applications with fx.
package app

import (
	"os"
	"strings"

	"go.uber.org/fx"

	gormAdapter "github.com/tigerroll/citybike/pkg/etl/adapter/database/gorm"
	"github.com/tigerroll/citybike/pkg/etl/adapter/database/gorm/mysql"
	"github.com/tigerroll/citybike/pkg/etl/adapter/database/gorm/postgres"
	"github.com/tigerroll/citybike/pkg/etl/adapter/database/gorm/sqlite"
	"github.com/tigerroll/citybike/pkg/etl/adapter/queue"
	"github.com/tigerroll/citybike/pkg/etl/adapter/queue/rabbitmq"
	"github.com/tigerroll/citybike/pkg/etl/adapter/queue/sqs"
	"github.com/tigerroll/citybike/pkg/etl/adapter/storage"
	"github.com/tigerroll/citybike/pkg/etl/adapter/storage/gcs"
	"github.com/tigerroll/citybike/pkg/etl/adapter/storage/local"
	"github.com/tigerroll/citybike/pkg/etl/adapter/storage/s3"
	"github.com/tigerroll/citybike/pkg/etl/adapter/tablestore"
	"github.com/tigerroll/citybike/pkg/etl/adapter/tablestore/dynamodb"
	"github.com/tigerroll/citybike/pkg/etl/adapter/tablestore/memory"
	sqlStore "github.com/tigerroll/citybike/pkg/etl/adapter/tablestore/sql"
	_ "github.com/tigerroll/citybike/pkg/etl/codec/columnar"
	_ "github.com/tigerroll/citybike/pkg/etl/codec/delimited"
	"github.com/tigerroll/citybike/pkg/etl/core/config"
	coreMetrics "github.com/tigerroll/citybike/pkg/etl/core/metrics"
	"github.com/tigerroll/citybike/pkg/etl/engine/retry"
	"github.com/tigerroll/citybike/pkg/etl/infrastructure/metrics"
	"github.com/tigerroll/citybike/pkg/etl/support/util/logger"
)

// DBProviderMap maps DB_ADAPTORS entries to their provider modules.
var DBProviderMap = map[string]fx.Option{
	postgres.ProviderType: postgres.Module,
	mysql.ProviderType:    mysql.Module,
	sqlite.ProviderType:   sqlite.Module,
}

// DBProviderOptions selects database providers from the comma-separated DB_ADAPTORS
// variable. All dialects are registered when it is unset.
func DBProviderOptions() []fx.Option {
	adaptors := os.Getenv("DB_ADAPTORS")
	if adaptors == "" {
		adaptors = "postgres,mysql,sqlite"
	}
	options := make([]fx.Option, 0)
	for _, name := range strings.Split(adaptors, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if m, ok := DBProviderMap[name]; ok {
			options = append(options, m)
			logger.Debugf("DB Provider '%s' selected and registered.", name)
		} else {
			logger.Warnf("DB Provider '%s' is configured but not recognized/supported. Skipping.", name)
		}
	}
	return options
}

// CommonOptions are the modules shared by both applications: configuration, logging,
// telemetry, retry and every adapter provider.
func CommonOptions(envFilePath string, embeddedConfig config.EmbeddedConfig, dbProviderOptions []fx.Option) fx.Option {
	return fx.Options(
		fx.Supply(
			embeddedConfig,
			fx.Annotate(envFilePath, fx.ResultTags(`name:"envFilePath"`)),
		),
		logger.Module,
		config.Module,
		coreMetrics.Module,
		metrics.Module,
		retry.Module,

		storage.Module,
		local.Module,
		s3.Module,
		gcs.Module,

		gormAdapter.Module,
		fx.Options(dbProviderOptions...),

		tablestore.Module,
		memory.Module,
		dynamodb.Module,
		sqlStore.Module,

		queue.Module,
		sqs.Module,
		rabbitmq.Module,
	)
}

