package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/tigerroll/citybike/pkg/etl/core/config"
	"github.com/tigerroll/citybike/pkg/etl/core/metrics"
	"github.com/tigerroll/citybike/pkg/etl/support/util/logger"
)

// Backend types.
const (
	TypeNone       = "none"
	TypePrometheus = "prometheus"
	TypeOtel       = "otel"

	ProtocolGRPC = "grpc"
	ProtocolHTTP = "http"

	instrumentationName = "github.com/tigerroll/citybike"
)

// Telemetry holds the configured recorder and tracer. Either may be nil, meaning the
// no-op default stays in place.
type Telemetry struct {
	Recorder metrics.MetricRecorder
	Tracer   metrics.Tracer
	// Registry is set for the prometheus backend and served by the admin server.
	Registry *prometheus.Registry

	shutdown []func(context.Context) error
}

// NewTelemetry builds the backends named by etl.metrics and etl.tracing.
func NewTelemetry(ctx context.Context, cfg *config.Config) (*Telemetry, error) {
	t := &Telemetry{}
	mc, tc := cfg.Etl.Metrics, cfg.Etl.Tracing
	res := resource.NewSchemaless(attribute.String("service.name", tc.ServiceName))

	switch mc.Type {
	case "", TypeNone:
	case TypePrometheus:
		r := NewPrometheusRecorder()
		t.Recorder, t.Registry = r, r.GetRegistry()
	case TypeOtel:
		mp, err := newMeterProvider(ctx, mc, res)
		if err != nil {
			return nil, err
		}
		t.shutdown = append(t.shutdown, mp.Shutdown)
		r, err := NewOtelRecorder(mp.Meter(instrumentationName))
		if err != nil {
			return nil, err
		}
		t.Recorder = r
	default:
		return nil, fmt.Errorf("unknown metrics type '%s'", mc.Type)
	}

	switch tc.Type {
	case "", TypeNone:
	case TypeOtel:
		tp, err := newTracerProvider(ctx, tc, res)
		if err != nil {
			return nil, err
		}
		t.shutdown = append(t.shutdown, tp.Shutdown)
		t.Tracer = NewOpenTelemetryTracer(tp.Tracer(instrumentationName))
	default:
		return nil, fmt.Errorf("unknown tracing type '%s'", tc.Type)
	}
	logger.Debugf("Telemetry: metrics=%s tracing=%s", mc.Type, tc.Type)
	return t, nil
}

// Shutdown flushes and stops the otel providers.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var result error
	for _, fn := range t.shutdown {
		if err := fn(ctx); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result
}

func newMeterProvider(ctx context.Context, mc config.MetricsConfig, res *resource.Resource) (*sdkmetric.MeterProvider, error) {
	var (
		exp sdkmetric.Exporter
		err error
	)
	switch mc.Protocol {
	case "", ProtocolGRPC:
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if mc.Endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(mc.Endpoint))
		}
		exp, err = otlpmetricgrpc.New(ctx, opts...)
	case ProtocolHTTP:
		opts := []otlpmetrichttp.Option{otlpmetrichttp.WithInsecure()}
		if mc.Endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(mc.Endpoint))
		}
		exp, err = otlpmetrichttp.New(ctx, opts...)
	default:
		return nil, fmt.Errorf("unknown otlp protocol '%s'", mc.Protocol)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create otlp metric exporter: %w", err)
	}
	interval := time.Duration(mc.IntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(interval))),
		sdkmetric.WithResource(res),
	), nil
}

func newTracerProvider(ctx context.Context, tc config.TracingConfig, res *resource.Resource) (*sdktrace.TracerProvider, error) {
	var (
		exp sdktrace.SpanExporter
		err error
	)
	switch tc.Protocol {
	case "", ProtocolGRPC:
		opts := []otlptracegrpc.Option{otlptracegrpc.WithInsecure()}
		if tc.Endpoint != "" {
			opts = append(opts, otlptracegrpc.WithEndpoint(tc.Endpoint))
		}
		exp, err = otlptracegrpc.New(ctx, opts...)
	case ProtocolHTTP:
		opts := []otlptracehttp.Option{otlptracehttp.WithInsecure()}
		if tc.Endpoint != "" {
			opts = append(opts, otlptracehttp.WithEndpoint(tc.Endpoint))
		}
		exp, err = otlptracehttp.New(ctx, opts...)
	default:
		return nil, fmt.Errorf("unknown otlp protocol '%s'", tc.Protocol)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create otlp trace exporter: %w", err)
	}
	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(tc.SampleRatio))),
	), nil
}
