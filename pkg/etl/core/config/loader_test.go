package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/citybike/pkg/etl/core/config"
)

const sampleYAML = `
etl:
  system:
    logging:
      level: DEBUG
  layout:
    format: parquet
  pipeline:
    input_dir: /srv/bikes
    workers: 8
  aggregator:
    join: inner
  adapter:
    storage:
      bikes:
        type: s3
        bucket_name: ${TEST_BUCKET}
        region: us-east-1
        path_style: true
    database:
      warehouse:
        type: sqlite
        database: ":memory:"
`

func TestLoadConfigLayers(t *testing.T) {
	t.Setenv("TEST_BUCKET", "test-bucket")
	t.Setenv("ETL_PIPELINE_WORKERS", "2")
	t.Setenv("ETL_LOADER_ON_BAD_ROW", "skip")

	cfg, err := config.LoadConfig("", config.EmbeddedConfig(sampleYAML))
	require.NoError(t, err)

	// YAML overrides defaults.
	assert.Equal(t, "DEBUG", cfg.Etl.System.Logging.Level)
	assert.Equal(t, "parquet", cfg.Etl.Layout.Format)
	assert.Equal(t, "/srv/bikes", cfg.Etl.Pipeline.InputDir)
	assert.Equal(t, "inner", cfg.Etl.Aggregator.Join)
	// Defaults survive where YAML is silent.
	assert.Equal(t, "UTC", cfg.Etl.System.Timezone)
	assert.Equal(t, "data_by_month", cfg.Etl.Layout.RawPrefix)
	assert.Equal(t, "half_even", cfg.Etl.Aggregator.Rounding)
	// Environment overrides YAML.
	assert.Equal(t, 2, cfg.Etl.Pipeline.Workers)
	assert.Equal(t, "skip", cfg.Etl.Loader.OnBadRow)
}

func TestAdapterConfig(t *testing.T) {
	t.Setenv("TEST_BUCKET", "expanded-bucket")
	cfg, err := config.LoadConfig("", config.EmbeddedConfig(sampleYAML))
	require.NoError(t, err)

	var s3cfg struct {
		Type       string `yaml:"type"`
		BucketName string `yaml:"bucket_name"`
		PathStyle  bool   `yaml:"path_style"`
	}
	require.NoError(t, cfg.AdapterConfig(config.AdapterStorage, "bikes", &s3cfg))
	assert.Equal(t, "s3", s3cfg.Type)
	assert.Equal(t, "expanded-bucket", s3cfg.BucketName)
	assert.True(t, s3cfg.PathStyle)

	typ, err := cfg.AdapterType(config.AdapterDatabase, "warehouse")
	require.NoError(t, err)
	assert.Equal(t, "sqlite", typ)

	_, err = cfg.AdapterType(config.AdapterStorage, "missing")
	assert.Error(t, err)
	assert.ElementsMatch(t, []string{"bikes"}, cfg.AdapterNames(config.AdapterStorage))
}

func TestLoadConfigRejectsUnknownPolicy(t *testing.T) {
	_, err := config.LoadConfig("", config.EmbeddedConfig("etl:\n  aggregator:\n    join: left\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "etl.aggregator.join")
}

func TestLoadConfigReadsEnvFile(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("ETL_ROUTER_RAW_MARKER=raw_partitions\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("ETL_ROUTER_RAW_MARKER") })

	cfg, err := config.LoadConfig(envFile, config.EmbeddedConfig("etl: {}\n"))
	require.NoError(t, err)
	assert.Equal(t, "raw_partitions", cfg.Etl.Router.RawMarker)
}
