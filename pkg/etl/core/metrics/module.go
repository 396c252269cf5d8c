// Package metrics defines the recorder and tracer ports used by the pipeline components.
package metrics

import (
	"go.uber.org/fx"
)

// Module provides the no-op recorder and tracer. The infrastructure metrics module
// decorates them with Prometheus or OpenTelemetry implementations when configured.
var Module = fx.Options(
	fx.Provide(NewNoOpMetricRecorder),
	fx.Provide(NewNoOpTracer),
)
