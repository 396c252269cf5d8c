// Package config holds the pipeline configuration tree and its loader.
package config

import (
	"fmt"
	"time"

	"github.com/tigerroll/citybike/pkg/etl/support/util/configbinder"
)

// EmbeddedConfig is the raw application.yaml compiled into a binary.
type EmbeddedConfig []byte

// Adapter kinds under etl.adapter.
const (
	AdapterStorage    = "storage"
	AdapterTableStore = "table_store"
	AdapterQueue      = "queue"
	AdapterDatabase   = "database"
)

// RetryConfig bounds retries at external-call boundaries.
type RetryConfig struct {
	MaxAttempts     int     `yaml:"max_attempts"`     // MaxAttempts includes the first call.
	InitialInterval int     `yaml:"initial_interval"` // InitialInterval is the first backoff in milliseconds.
	MaxInterval     int     `yaml:"max_interval"`     // MaxInterval caps a single backoff in milliseconds.
	Factor          float64 `yaml:"factor"`           // Factor multiplies the interval after each attempt.
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Encoding string `yaml:"encoding"` // console or json
}

type SystemConfig struct {
	// Timezone is used to interpret timestamps without an explicit offset.
	Timezone string        `yaml:"timezone"`
	Logging  LoggingConfig `yaml:"logging"`
}

// BlobLayoutConfig describes where blobs live in the object store.
type BlobLayoutConfig struct {
	Format       string `yaml:"format"`        // csv or parquet
	RawPrefix    string `yaml:"raw_prefix"`    // folder of monthly raw partitions
	MetricPrefix string `yaml:"metric_prefix"` // folder of station metric blobs
}

// PipelineConfig configures the chunk job.
type PipelineConfig struct {
	InputDir       string `yaml:"input_dir"`
	Pattern        string `yaml:"pattern"`
	TimestampField string `yaml:"timestamp_field"`
	StorageRef     string `yaml:"storage_ref"`
	Bucket         string `yaml:"bucket"`
	// StagingRef optionally names a second storage connection receiving a copy of each raw partition.
	StagingRef string `yaml:"staging_ref"`
	Workers    int    `yaml:"workers"`
	// DailyMetrics also uploads the daily averages of each partition.
	DailyMetrics bool `yaml:"daily_metrics"`
}

type AggregatorConfig struct {
	Join     string `yaml:"join"`     // outer or inner
	Rounding string `yaml:"rounding"` // half_even or half_up
}

type LoaderConfig struct {
	TableStoreRef string `yaml:"table_store_ref"`
	OnBadRow      string `yaml:"on_bad_row"` // abort or skip
	DailyTable    string `yaml:"daily_table"`
}

type RouterConfig struct {
	StorageRef      string `yaml:"storage_ref"`
	RawMarker       string `yaml:"raw_marker"`
	FirstRecordOnly bool   `yaml:"first_record_only"`
}

// ConsumerConfig configures the long-running queue consumer.
type ConsumerConfig struct {
	QueueRef string `yaml:"queue_ref"`
	// Concurrency is the number of messages handled in parallel.
	Concurrency int `yaml:"concurrency"`
	// ReconnectAttempts bounds how often a failed queue connection is reopened before the
	// consumer gives up.
	ReconnectAttempts int `yaml:"reconnect_attempts"`
}

// NotifierConfig configures publishing of object-created notifications by the chunk job.
type NotifierConfig struct {
	Type     string `yaml:"type"` // none or queue
	QueueRef string `yaml:"queue_ref"`
}

type LedgerConfig struct {
	Enabled       bool   `yaml:"enabled"`
	TableStoreRef string `yaml:"table_store_ref"`
	Table         string `yaml:"table"`
	// LeaseSeconds bounds how long an unfinished claim blocks redeliveries.
	LeaseSeconds  int    `yaml:"lease_seconds"`
}

type MetricsConfig struct {
	Type     string `yaml:"type"`    // none, prometheus or otel
	Address  string `yaml:"address"` // admin HTTP listen address; empty disables the server
	Endpoint string `yaml:"endpoint"`
	Protocol string `yaml:"protocol"` // grpc or http
	// IntervalSeconds is the otel periodic export interval.
	IntervalSeconds int `yaml:"interval_seconds"`
}

type TracingConfig struct {
	Type        string  `yaml:"type"` // none or otel
	Endpoint    string  `yaml:"endpoint"`
	Protocol    string  `yaml:"protocol"`
	ServiceName string  `yaml:"service_name"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

// EtlConfig holds everything under the top-level "etl" key.
type EtlConfig struct {
	System     SystemConfig     `yaml:"system"`
	Layout     BlobLayoutConfig `yaml:"layout"`
	Pipeline   PipelineConfig   `yaml:"pipeline"`
	Aggregator AggregatorConfig `yaml:"aggregator"`
	Loader     LoaderConfig     `yaml:"loader"`
	Router     RouterConfig     `yaml:"router"`
	Consumer   ConsumerConfig   `yaml:"consumer"`
	Notifier   NotifierConfig   `yaml:"notifier"`
	Ledger     LedgerConfig     `yaml:"ledger"`
	Retry      RetryConfig      `yaml:"retry"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Tracing    TracingConfig    `yaml:"tracing"`
	// AdapterConfigs holds named connection settings per adapter kind, e.g. adapter.storage.bikes.
	AdapterConfigs map[string]interface{} `yaml:"adapter"`
}

// Config is the root of the application configuration.
type Config struct {
	Etl            EtlConfig      `yaml:"etl"`
	EmbeddedConfig EmbeddedConfig `yaml:"-"`
}

// NewConfig returns a Config populated with defaults matching the localstack deployment.
func NewConfig() *Config {
	return &Config{
		Etl: EtlConfig{
			System: SystemConfig{
				Timezone: "UTC",
				Logging:  LoggingConfig{Level: "INFO", Encoding: "console"},
			},
			Layout: BlobLayoutConfig{
				Format:       "csv",
				RawPrefix:    "data_by_month",
				MetricPrefix: "metrics_by_month",
			},
			Pipeline: PipelineConfig{
				InputDir:       "data",
				Pattern:        "*.csv",
				TimestampField: "departure",
				StorageRef:     "bikes",
				Bucket:         "helsinki-city-bikes-bucket",
				Workers:        4,
			},
			Aggregator: AggregatorConfig{Join: "outer", Rounding: "half_even"},
			Loader: LoaderConfig{
				TableStoreRef: "metrics",
				OnBadRow:      "abort",
				DailyTable:    "avg_metrics_by_day",
			},
			Router: RouterConfig{
				StorageRef: "bikes",
				RawMarker:  "data_by_month",
			},
			Consumer: ConsumerConfig{QueueRef: "notifications", Concurrency: 1, ReconnectAttempts: 3},
			Notifier: NotifierConfig{Type: "none"},
			Ledger:   LedgerConfig{Enabled: false, TableStoreRef: "metrics", Table: "processed_notifications", LeaseSeconds: 900},
			Retry: RetryConfig{
				MaxAttempts:     3,
				InitialInterval: 200,
				MaxInterval:     5000,
				Factor:          2.0,
			},
			Metrics: MetricsConfig{Type: "none", Protocol: "grpc", IntervalSeconds: 15},
			Tracing: TracingConfig{Type: "none", Protocol: "grpc", ServiceName: "citybike-etl", SampleRatio: 1.0},
			AdapterConfigs: map[string]interface{}{},
		},
	}
}

// AdapterConfig decodes the named connection settings of an adapter kind into target.
func (c *Config) AdapterConfig(kind, name string, target interface{}) error {
	kindMap, ok := c.Etl.AdapterConfigs[kind].(map[string]interface{})
	if !ok {
		return fmt.Errorf("no '%s' adapter configuration found", kind)
	}
	named, ok := kindMap[name].(map[string]interface{})
	if !ok {
		return fmt.Errorf("%s connection '%s' not found in configuration", kind, name)
	}
	return configbinder.BindProperties(named, target)
}

// AdapterType returns the "type" field of a named adapter connection.
func (c *Config) AdapterType(kind, name string) (string, error) {
	var head struct {
		Type string `yaml:"type"`
	}
	if err := c.AdapterConfig(kind, name, &head); err != nil {
		return "", err
	}
	if head.Type == "" {
		return "", fmt.Errorf("%s connection '%s' has no type", kind, name)
	}
	return head.Type, nil
}

// AdapterNames lists the configured connection names of an adapter kind.
func (c *Config) AdapterNames(kind string) []string {
	kindMap, ok := c.Etl.AdapterConfigs[kind].(map[string]interface{})
	if !ok {
		return nil
	}
	names := make([]string, 0, len(kindMap))
	for name := range kindMap {
		names = append(names, name)
	}
	return names
}

// Location resolves etl.system.timezone. Empty means UTC.
func (c *Config) Location() (*time.Location, error) {
	if c.Etl.System.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Etl.System.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone '%s': %w", c.Etl.System.Timezone, err)
	}
	return loc, nil
}
