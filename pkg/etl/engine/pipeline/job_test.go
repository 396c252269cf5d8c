package pipeline_test

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/citybike/pkg/etl/adapter/queue"
	"github.com/tigerroll/citybike/pkg/etl/adapter/storage"
	storageConfig "github.com/tigerroll/citybike/pkg/etl/adapter/storage/config"
	"github.com/tigerroll/citybike/pkg/etl/adapter/storage/local"
	"github.com/tigerroll/citybike/pkg/etl/adapter/tablestore/memory"
	"github.com/tigerroll/citybike/pkg/etl/codec"
	_ "github.com/tigerroll/citybike/pkg/etl/codec/delimited"
	"github.com/tigerroll/citybike/pkg/etl/component/aggregator"
	"github.com/tigerroll/citybike/pkg/etl/component/loader"
	"github.com/tigerroll/citybike/pkg/etl/component/partitioner"
	"github.com/tigerroll/citybike/pkg/etl/component/router"
	"github.com/tigerroll/citybike/pkg/etl/core/domain/model"
	"github.com/tigerroll/citybike/pkg/etl/core/port"
	"github.com/tigerroll/citybike/pkg/etl/engine/pipeline"
	"github.com/tigerroll/citybike/pkg/etl/support/util/exception"
)

const bucket = "helsinki-city-bikes-bucket"

const header = "departure,return,departure_id,departure_name,return_id,return_name,distance (m),duration (sec.),avg_speed (km/h),departure_latitude,departure_longitude,return_latitude,return_longitude,Air temperature (degC)\n"

const tripsJune = header +
	"2021-06-01T08:00:00,2021-06-01T08:10:00,001,Kamppi,002,Baana,10,600,1.0,,,,,15\n" +
	"2021-06-02T09:00:00,2021-06-02T09:20:00,002,Baana,001,Kamppi,20,1200,1.0,,,,,16\n"

const tripsJuly = header +
	"2021-07-01T08:00:00,2021-07-01T08:10:00,003,Töölöntori,002,Baana,30,900,2.0,,,,,18\n"

type recordingNotifier struct {
	mu      sync.Mutex
	created []port.ObjectCreated
}

func (n *recordingNotifier) Notify(_ context.Context, obj port.ObjectCreated) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.created = append(n.created, obj)
	return nil
}

func (n *recordingNotifier) keys() []string {
	var keys []string
	for _, c := range n.created {
		keys = append(keys, c.Key)
	}
	return keys
}

type failingStore struct {
	storage.StorageConnection
	failKey string
}

func (s *failingStore) Upload(ctx context.Context, b, key string, data io.Reader, ct string) error {
	if key == s.failKey {
		return errors.New("disk full")
	}
	return s.StorageConnection.Upload(ctx, b, key, data, ct)
}

func newLocal(t *testing.T, name string) storage.StorageConnection {
	t.Helper()
	conn, err := local.NewLocalAdapter(storageConfig.StorageConfig{Type: local.ProviderType, BaseDir: t.TempDir(), BucketName: bucket}, name)
	require.NoError(t, err)
	return conn
}

func newInput(t *testing.T, files map[string]string) storage.StorageConnection {
	t.Helper()
	conn, err := local.NewLocalAdapter(storageConfig.StorageConfig{Type: local.ProviderType, BaseDir: t.TempDir()}, "input")
	require.NoError(t, err)
	for name, body := range files {
		require.NoError(t, conn.Upload(context.Background(), "", name, strings.NewReader(body), "text/csv"))
	}
	return conn
}

func newJob(t *testing.T, c pipeline.Collaborators, opts pipeline.Options) *pipeline.Job {
	t.Helper()
	agg, err := aggregator.NewAggregator(aggregator.JoinOuter, aggregator.RoundHalfEven, time.UTC)
	require.NoError(t, err)
	csv, err := codec.ForExtension("csv")
	require.NoError(t, err)
	c.Partitioner = partitioner.NewMonthPartitioner("departure", time.UTC)
	c.Aggregator = agg
	c.Codec = csv
	opts.Bucket = bucket
	opts.Layout = model.BlobLayout{RawPrefix: "data_by_month", MetricPrefix: "metrics_by_month"}
	job, err := pipeline.NewJob(c, opts)
	require.NoError(t, err)
	return job
}

func read(t *testing.T, s storage.StorageExecutor, key string) string {
	t.Helper()
	rc, err := s.Download(context.Background(), bucket, key)
	require.NoError(t, err)
	defer rc.Close()
	b, err := io.ReadAll(rc)
	require.NoError(t, err)
	return string(b)
}

func TestRunUploadsPartitionsAndStationCounts(t *testing.T) {
	store := newLocal(t, "bikes")
	job := newJob(t, pipeline.Collaborators{
		Input: newInput(t, map[string]string{"a.csv": tripsJune, "b.csv": tripsJuly, "notes.txt": "ignored"}),
		Store: store,
	}, pipeline.Options{Workers: 2})

	report, err := job.Run(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, report.RunID)
	assert.Equal(t, []string{"a.csv", "b.csv"}, report.Files)
	assert.Equal(t, 3, report.Rows)
	assert.ElementsMatch(t, []model.PartitionKey{"2021-06", "2021-07"}, report.Partitions)

	june := read(t, store, "data_by_month/2021-06.csv")
	assert.Equal(t, tripsJune, june)
	assert.Equal(t, "station_name,count_of_departures,count_of_returns\nBaana,1,1\nKamppi,1,1\n",
		read(t, store, "metrics_by_month/2021-06-get_bike_count.csv"))

	_, err = store.Download(context.Background(), bucket, "metrics_by_month/2021-06-avg_metrics_by_day.csv")
	assert.True(t, exception.IsObjectNotFound(err))
}

func TestRunWithoutInputIsEmptyInput(t *testing.T) {
	job := newJob(t, pipeline.Collaborators{Input: newInput(t, nil), Store: newLocal(t, "bikes")}, pipeline.Options{})
	_, err := job.Run(context.Background())
	assert.True(t, exception.IsEmptyInput(err))
}

func TestRunWithHeaderOnlyIsEmptyInput(t *testing.T) {
	job := newJob(t, pipeline.Collaborators{Input: newInput(t, map[string]string{"a.csv": header}), Store: newLocal(t, "bikes")}, pipeline.Options{})
	_, err := job.Run(context.Background())
	assert.True(t, exception.IsEmptyInput(err))
}

func TestRunRejectsDifferentHeaders(t *testing.T) {
	job := newJob(t, pipeline.Collaborators{
		Input: newInput(t, map[string]string{"a.csv": tripsJune, "b.csv": "departure,x\n2021-06-01T00:00:00,1\n"}),
		Store: newLocal(t, "bikes"),
	}, pipeline.Options{})
	_, err := job.Run(context.Background())
	assert.True(t, exception.IsMalformedInput(err))
}

func TestRunStagesAndNotifies(t *testing.T) {
	staging := newLocal(t, "staging")
	notifier := &recordingNotifier{}
	job := newJob(t, pipeline.Collaborators{
		Input:    newInput(t, map[string]string{"a.csv": tripsJune}),
		Store:    newLocal(t, "bikes"),
		Staging:  staging,
		Notifier: notifier,
	}, pipeline.Options{DailyMetrics: true})

	_, err := job.Run(context.Background())
	require.NoError(t, err)

	rc, err := staging.Download(context.Background(), "", "data_by_month/2021-06.csv")
	require.NoError(t, err)
	rc.Close()
	assert.Equal(t, []string{
		"data_by_month/2021-06.csv",
		"metrics_by_month/2021-06-get_bike_count.csv",
		"metrics_by_month/2021-06-avg_metrics_by_day.csv",
	}, notifier.keys())
	assert.Equal(t, bucket, notifier.created[0].Bucket)
	assert.Equal(t, int64(len(tripsJune)), notifier.created[0].Size)
}

func TestRunCollectsPartitionFailures(t *testing.T) {
	store := newLocal(t, "bikes")
	notifier := &recordingNotifier{}
	job := newJob(t, pipeline.Collaborators{
		Input:    newInput(t, map[string]string{"a.csv": tripsJune, "b.csv": tripsJuly}),
		Store:    &failingStore{StorageConnection: store, failKey: "data_by_month/2021-06.csv"},
		Notifier: notifier,
	}, pipeline.Options{Workers: 2})

	report, err := job.Run(context.Background())
	require.Error(t, err)
	var merr *multierror.Error
	require.ErrorAs(t, err, &merr)
	assert.Len(t, merr.Errors, 1)
	assert.Equal(t, []model.PartitionKey{"2021-07"}, report.Partitions)

	_, err = store.Download(context.Background(), bucket, "metrics_by_month/2021-06-get_bike_count.csv")
	assert.True(t, exception.IsObjectNotFound(err), "metrics are not uploaded for a failed raw partition")
	assert.NotContains(t, notifier.keys(), "data_by_month/2021-06.csv")
}

func TestRunMalformedTimestampFailsBeforeUpload(t *testing.T) {
	store := newLocal(t, "bikes")
	job := newJob(t, pipeline.Collaborators{
		Input: newInput(t, map[string]string{"a.csv": tripsJune + "someday,2021-06-01T00:00:00,1,A,2,B,1,1,1,,,,,1\n"}),
		Store: store,
	}, pipeline.Options{})
	_, err := job.Run(context.Background())
	assert.True(t, exception.IsMalformedInput(err))

	_, err = store.Download(context.Background(), bucket, "data_by_month/2021-06.csv")
	assert.True(t, exception.IsObjectNotFound(err))
}

func TestRunBadMeasurementUploadsNothing(t *testing.T) {
	store := newLocal(t, "bikes")
	staging := newLocal(t, "staging")
	notifier := &recordingNotifier{}
	job := newJob(t, pipeline.Collaborators{
		Input:    newInput(t, map[string]string{"a.csv": tripsJune + "2021-06-03T08:00:00,2021-06-03T08:10:00,001,Kamppi,002,Baana,ten,600,1.0,,,,,15\n"}),
		Store:    store,
		Staging:  staging,
		Notifier: notifier,
	}, pipeline.Options{DailyMetrics: true})

	_, err := job.Run(context.Background())
	assert.True(t, exception.IsMalformedInput(err))

	for _, s := range []storage.StorageExecutor{store, staging} {
		var keys []string
		require.NoError(t, s.ListObjects(context.Background(), "", "", func(name string) error {
			keys = append(keys, name)
			return nil
		}))
		assert.Empty(t, keys)
	}
	assert.Empty(t, notifier.created)
}

func TestRunRemovesBlobsOfFailedPartition(t *testing.T) {
	store := newLocal(t, "bikes")
	staging := newLocal(t, "staging")
	notifier := &recordingNotifier{}
	job := newJob(t, pipeline.Collaborators{
		Input:    newInput(t, map[string]string{"a.csv": tripsJune}),
		Store:    &failingStore{StorageConnection: store, failKey: "metrics_by_month/2021-06-get_bike_count.csv"},
		Staging:  staging,
		Notifier: notifier,
	}, pipeline.Options{})

	_, err := job.Run(context.Background())
	require.Error(t, err)

	_, err = store.Download(context.Background(), bucket, "data_by_month/2021-06.csv")
	assert.True(t, exception.IsObjectNotFound(err), "raw blob is removed with its partition")
	_, err = staging.Download(context.Background(), "", "data_by_month/2021-06.csv")
	assert.True(t, exception.IsObjectNotFound(err), "staging copy is removed with its partition")
	assert.Empty(t, notifier.created)
}

// queueConn feeds published notifications straight into a router.
type queueConn struct {
	router *router.Router
	errs   []error
}

func (q *queueConn) Close() error { return nil }
func (q *queueConn) Type() string { return "inline" }
func (q *queueConn) Name() string { return "inline" }
func (q *queueConn) Publish(ctx context.Context, body []byte) error {
	q.errs = append(q.errs, q.router.HandleMessage(ctx, body))
	return nil
}
func (q *queueConn) Consume(context.Context, queue.Subscription) error { return nil }

func TestChunkThenLoad(t *testing.T) {
	store := newLocal(t, "bikes")
	tables := memory.NewStore("metrics")
	agg, err := aggregator.NewAggregator(aggregator.JoinOuter, aggregator.RoundHalfEven, time.UTC)
	require.NoError(t, err)
	ld, err := loader.NewLoader(tables, loader.BadRowAbort, time.UTC, nil, nil)
	require.NoError(t, err)
	conn := &queueConn{router: router.NewRouter(store, agg, ld, memory.NewLedger(),
		router.Options{Bucket: bucket, RawMarker: "data_by_month", DailyTable: "avg_metrics_by_day"}, nil, nil)}

	job := newJob(t, pipeline.Collaborators{
		Input:    newInput(t, map[string]string{"a.csv": tripsJune + tripsJuly[len(header):]}),
		Store:    store,
		Notifier: queue.NewNotifier(conn),
	}, pipeline.Options{Workers: 1})
	_, err = job.Run(context.Background())
	require.NoError(t, err)
	for _, e := range conn.errs {
		require.NoError(t, e)
	}

	assert.Equal(t, []string{"2021-06", "2021-06-get_bike_count", "2021-07", "2021-07-get_bike_count", "avg_metrics_by_day"}, tables.Tables())
	assert.Len(t, tables.Items("2021-06"), 2)
	assert.Len(t, tables.Items("2021-06-get_bike_count"), 2)
	assert.Len(t, tables.Items("avg_metrics_by_day"), 3, "06-01, 06-02 and 07-01")
}
