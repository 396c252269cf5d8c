package metrics_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/tigerroll/citybike/pkg/etl/core/config"
	coreMetrics "github.com/tigerroll/citybike/pkg/etl/core/metrics"
	"github.com/tigerroll/citybike/pkg/etl/infrastructure/metrics"
)

func TestPrometheusRecorder(t *testing.T) {
	r := metrics.NewPrometheusRecorder()
	ctx := context.Background()
	r.RecordRecordsLoaded(ctx, "2021-06", 3)
	r.RecordRecordsLoaded(ctx, "2021-06", 2)
	r.RecordNotification(ctx, "raw", coreMetrics.OutcomeSuccess)
	r.RecordBlobUploaded(ctx, "raw", 100)
	r.RecordDuration(ctx, "loader.load", 20*time.Millisecond, map[string]string{"status": "success"})

	expected := `
# HELP etl_records_loaded_total Records put into the table store.
# TYPE etl_records_loaded_total counter
etl_records_loaded_total{table="2021-06"} 5
`
	require.NoError(t, testutil.GatherAndCompare(r.GetRegistry(), strings.NewReader(expected), "etl_records_loaded_total"))
	count, err := testutil.GatherAndCount(r.GetRegistry(), "etl_notifications_total", "etl_blob_bytes_total", "etl_operation_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestAdminRouter(t *testing.T) {
	r := metrics.NewPrometheusRecorder()
	r.RecordRetry(context.Background(), "storage.upload")
	srv := httptest.NewServer(metrics.NewAdminRouter(r.GetRegistry()))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAdminRouterWithoutRegistry(t *testing.T) {
	srv := httptest.NewServer(metrics.NewAdminRouter(nil))
	defer srv.Close()
	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestOpenTelemetryTracer(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	tracer := metrics.NewOpenTelemetryTracer(tp.Tracer("test"))

	ctx, end := tracer.StartSpan(context.Background(), "loader.load", map[string]string{"table": "2021-06"})
	tracer.RecordEvent(ctx, "created", map[string]interface{}{"rows": 2, "ok": true})
	tracer.RecordError(ctx, "loader", errors.New("boom"))
	end()

	spans := sr.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "loader.load", spans[0].Name())
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	var names []string
	for _, e := range spans[0].Events() {
		names = append(names, e.Name)
	}
	assert.Equal(t, []string{"created", "exception"}, names)
}

func TestOtelRecorder(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	r, err := metrics.NewOtelRecorder(mp.Meter("test"))
	require.NoError(t, err)

	ctx := context.Background()
	r.RecordRowsPartitioned(ctx, "2021-06", 7)
	r.RecordRowSkipped(ctx, "2021-06", "RecordConversionError")

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	found := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range sum.DataPoints {
					found[m.Name] += dp.Value
				}
			}
		}
	}
	assert.Equal(t, int64(7), found["etl.rows.partitioned"])
	assert.Equal(t, int64(1), found["etl.rows.skipped"])
}

func TestNewTelemetry(t *testing.T) {
	cfg := config.NewConfig()
	tel, err := metrics.NewTelemetry(context.Background(), cfg)
	require.NoError(t, err)
	assert.Nil(t, tel.Recorder)
	assert.Nil(t, tel.Tracer)

	cfg.Etl.Metrics.Type = metrics.TypePrometheus
	tel, err = metrics.NewTelemetry(context.Background(), cfg)
	require.NoError(t, err)
	assert.NotNil(t, tel.Registry)
	assert.NoError(t, tel.Shutdown(context.Background()))

	cfg.Etl.Metrics.Type = "statsd"
	_, err = metrics.NewTelemetry(context.Background(), cfg)
	assert.Error(t, err)
}
