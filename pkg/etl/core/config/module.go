package config

import (
	"time"

	"go.uber.org/fx"
)

// Module provides *Config from the supplied EmbeddedConfig and optional envFilePath,
// plus the *time.Location of etl.system.timezone.
var Module = fx.Options(
	fx.Provide(NewConfigProvider),
	fx.Provide(func(cfg *Config) (*time.Location, error) { return cfg.Location() }),
)
