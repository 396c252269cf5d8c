// Package metrics provides the Prometheus and OpenTelemetry backends of the recorder and
// tracer ports, and the admin HTTP server.
package metrics

import (
	"context"

	"go.uber.org/fx"

	"github.com/tigerroll/citybike/pkg/etl/core/config"
	"github.com/tigerroll/citybike/pkg/etl/core/metrics"
)

func provideTelemetry(lc fx.Lifecycle, cfg *config.Config) (*Telemetry, error) {
	t, err := NewTelemetry(context.Background(), cfg)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{OnStop: t.Shutdown})
	return t, nil
}

func decorateRecorder(t *Telemetry, base metrics.MetricRecorder) metrics.MetricRecorder {
	if t.Recorder != nil {
		return t.Recorder
	}
	return base
}

func decorateTracer(t *Telemetry, base metrics.Tracer) metrics.Tracer {
	if t.Tracer != nil {
		return t.Tracer
	}
	return base
}

func registerAdminServer(lc fx.Lifecycle, cfg *config.Config, t *Telemetry) {
	addr := cfg.Etl.Metrics.Address
	if addr == "" {
		return
	}
	s := NewAdminServer(addr, t.Registry)
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error { return s.Start() },
		OnStop:  s.Shutdown,
	})
}

// Module replaces the no-op recorder and tracer of metrics.Module with the configured
// backends and starts the admin server when etl.metrics.address is set.
var Module = fx.Options(
	fx.Provide(provideTelemetry),
	fx.Decorate(decorateRecorder),
	fx.Decorate(decorateTracer),
	fx.Invoke(registerAdminServer),
)
