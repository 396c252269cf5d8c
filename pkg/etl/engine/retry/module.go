package retry

import (
	"go.uber.org/fx"

	"github.com/tigerroll/citybike/pkg/etl/core/config"
	"github.com/tigerroll/citybike/pkg/etl/core/metrics"
)

// NewConfiguredRetrier builds the Retrier shared by the adapters from etl.retry.
func NewConfiguredRetrier(cfg *config.Config, recorder metrics.MetricRecorder) *Retrier {
	return NewRetrier(NewPolicy(cfg.Etl.Retry), recorder)
}

var Module = fx.Provide(NewConfiguredRetrier)
