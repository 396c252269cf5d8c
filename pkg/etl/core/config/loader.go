package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
	"gopkg.in/yaml.v3"

	"github.com/tigerroll/citybike/pkg/etl/support/util/exception"
	"github.com/tigerroll/citybike/pkg/etl/support/util/logger"
)

const moduleName = "config"

// ConfigParams defines the dependencies for NewConfigProvider.
type ConfigParams struct {
	fx.In
	EmbeddedConfig EmbeddedConfig
	EnvFilePath    string `name:"envFilePath" optional:"true"`
}

// LoadConfig builds the configuration in layers: defaults, then the embedded YAML
// (after ${VAR} expansion), then ETL_* environment variables derived from yaml tags.
// A missing .env file is not an error.
func LoadConfig(envFilePath string, embeddedConfig EmbeddedConfig) (*Config, error) {
	if envFilePath != "" {
		if err := godotenv.Load(envFilePath); err != nil {
			logger.Debugf(".env file (%s) not loaded: %v", envFilePath, err)
		}
	}

	cfg := NewConfig()

	expanded, err := NewOsEnvironmentExpander().Expand(embeddedConfig)
	if err != nil {
		return nil, exception.NewEtlError(moduleName, "failed to expand environment placeholders", err, false, false)
	}

	var yamlConfig Config
	if err := yaml.Unmarshal(expanded, &yamlConfig); err != nil {
		return nil, exception.NewEtlError(moduleName, "failed to unmarshal embedded config", err, false, false)
	}
	mergeConfig(cfg, &yamlConfig)

	if err := loadStructFromEnv(reflect.ValueOf(cfg).Elem(), ""); err != nil {
		return nil, exception.NewEtlError(moduleName, "failed to load config from environment variables", err, false, false)
	}
	cfg.EmbeddedConfig = embeddedConfig

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// NewConfigProvider is the fx constructor for *Config. It also applies the logging settings.
func NewConfigProvider(params ConfigParams) (*Config, error) {
	cfg, err := LoadConfig(params.EnvFilePath, params.EmbeddedConfig)
	if err != nil {
		return nil, err
	}
	ApplyLogging(cfg)
	return cfg, nil
}

// ApplyLogging pushes the configured level and encoding into the logger package.
func ApplyLogging(cfg *Config) {
	logger.SetEncoding(cfg.Etl.System.Logging.Encoding)
	logger.SetLogLevel(cfg.Etl.System.Logging.Level)
	logger.Debugf("Log level set to: %s", cfg.Etl.System.Logging.Level)
}

// Validate rejects option values the pipeline cannot interpret.
func Validate(cfg *Config) error {
	e := cfg.Etl
	checks := []struct {
		name  string
		value string
		allow []string
	}{
		{"etl.layout.format", e.Layout.Format, []string{"csv", "parquet"}},
		{"etl.aggregator.join", e.Aggregator.Join, []string{"outer", "inner"}},
		{"etl.aggregator.rounding", e.Aggregator.Rounding, []string{"half_even", "half_up"}},
		{"etl.loader.on_bad_row", e.Loader.OnBadRow, []string{"abort", "skip"}},
		{"etl.notifier.type", e.Notifier.Type, []string{"none", "queue"}},
		{"etl.metrics.type", e.Metrics.Type, []string{"none", "prometheus", "otel"}},
		{"etl.tracing.type", e.Tracing.Type, []string{"none", "otel"}},
	}
	for _, c := range checks {
		if !contains(c.allow, strings.ToLower(c.value)) {
			return exception.NewEtlErrorf(moduleName, "%s: unsupported value '%s' (allowed: %s)", c.name, c.value, strings.Join(c.allow, ", "))
		}
	}
	if e.Pipeline.Workers < 1 {
		return exception.NewEtlErrorf(moduleName, "etl.pipeline.workers must be >= 1, got %d", e.Pipeline.Workers)
	}
	if e.Retry.MaxAttempts < 1 {
		return exception.NewEtlErrorf(moduleName, "etl.retry.max_attempts must be >= 1, got %d", e.Retry.MaxAttempts)
	}
	return nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// mergeConfig copies every non-zero value of source over dest.
func mergeConfig(dest, source *Config) {
	mergeValue(reflect.ValueOf(&dest.Etl).Elem(), reflect.ValueOf(&source.Etl).Elem())
}

// mergeValue merges struct fields recursively. Maps are merged key by key;
// scalars and slices overwrite when the source is non-zero, so a YAML "false"
// cannot switch off a default "true".
func mergeValue(dest, source reflect.Value) {
	switch source.Kind() {
	case reflect.Struct:
		for i := 0; i < source.NumField(); i++ {
			if !dest.Field(i).CanSet() {
				continue
			}
			mergeValue(dest.Field(i), source.Field(i))
		}
	case reflect.Map:
		if source.IsNil() {
			return
		}
		if dest.IsNil() {
			dest.Set(reflect.MakeMap(source.Type()))
		}
		iter := source.MapRange()
		for iter.Next() {
			dest.SetMapIndex(iter.Key(), iter.Value())
		}
	default:
		if !source.IsZero() {
			dest.Set(source)
		}
	}
}

// loadStructFromEnv overrides struct fields from environment variables named after
// their yaml tag path, e.g. etl.pipeline.input_dir -> ETL_PIPELINE_INPUT_DIR.
func loadStructFromEnv(val reflect.Value, prefix string) error {
	typ := val.Type()
	for i := 0; i < typ.NumField(); i++ {
		field := val.Field(i)
		fieldType := typ.Field(i)
		yamlTag := strings.Split(fieldType.Tag.Get("yaml"), ",")[0]
		if yamlTag == "" || yamlTag == "-" {
			continue
		}
		envVarName := strings.ToUpper(prefix + yamlTag)

		if field.Kind() == reflect.Struct {
			if err := loadStructFromEnv(field, envVarName+"_"); err != nil {
				return err
			}
			continue
		}

		envValue, exists := os.LookupEnv(envVarName)
		if !exists {
			continue
		}
		if err := setField(field, envValue); err != nil {
			return fmt.Errorf("failed to set field '%s' from env var '%s': %w", fieldType.Name, envVarName, err)
		}
	}
	return nil
}

func setField(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		intValue, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetInt(intValue)
	case reflect.Float64, reflect.Float32:
		floatValue, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(floatValue)
	case reflect.Bool:
		boolValue, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(boolValue)
	}
	return nil
}
