// Package pipeline runs the chunk job: it partitions the input files by month and uploads
// the raw partitions with their station metrics.
package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tigerroll/citybike/pkg/etl/adapter/storage"
	"github.com/tigerroll/citybike/pkg/etl/codec"
	"github.com/tigerroll/citybike/pkg/etl/component/aggregator"
	"github.com/tigerroll/citybike/pkg/etl/component/partitioner"
	"github.com/tigerroll/citybike/pkg/etl/core/domain/model"
	"github.com/tigerroll/citybike/pkg/etl/core/metrics"
	"github.com/tigerroll/citybike/pkg/etl/core/port"
	"github.com/tigerroll/citybike/pkg/etl/support/util/exception"
	"github.com/tigerroll/citybike/pkg/etl/support/util/logger"
)

const moduleName = "pipeline"

// Options configure a Job.
type Options struct {
	// Pattern filters input file names, e.g. "*.csv".
	Pattern string
	// Bucket receives the blobs.
	Bucket string
	Layout model.BlobLayout
	// Workers bounds the partitions processed concurrently.
	Workers      int
	DailyMetrics bool
}

// Collaborators of a Job. Staging and Notifier are optional.
type Collaborators struct {
	Input       storage.StorageExecutor
	Store       storage.StorageExecutor
	Staging     storage.StorageExecutor
	Notifier    port.Notifier
	Partitioner partitioner.Partitioner
	Aggregator  *aggregator.Aggregator
	Codec       codec.Codec
	Recorder    metrics.MetricRecorder
	Tracer      metrics.Tracer
}

// Report summarizes a run.
type Report struct {
	RunID      string
	Files      []string
	Rows       int
	Partitions []model.PartitionKey
}

// Job is the chunk job.
type Job struct {
	c    Collaborators
	opts Options
}

func NewJob(c Collaborators, opts Options) (*Job, error) {
	if c.Input == nil || c.Store == nil || c.Partitioner == nil || c.Aggregator == nil || c.Codec == nil {
		return nil, fmt.Errorf("pipeline: input, store, partitioner, aggregator and codec are required")
	}
	if opts.Pattern == "" {
		opts.Pattern = "*.csv"
	}
	if _, err := path.Match(opts.Pattern, ""); err != nil {
		return nil, fmt.Errorf("pipeline: invalid pattern '%s': %w", opts.Pattern, err)
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	opts.Layout.Extension = c.Codec.Extension()
	if c.Recorder == nil {
		c.Recorder = metrics.NewNoOpMetricRecorder()
	}
	if c.Tracer == nil {
		c.Tracer = metrics.NewNoOpTracer()
	}
	return &Job{c: c, opts: opts}, nil
}

// Run processes every input file. No input files, or input without rows, is reported as an
// EmptyInputWarning. Partition failures do not stop the other partitions; they are returned together.
func (j *Job) Run(ctx context.Context) (Report, error) {
	report := Report{RunID: uuid.NewString()}
	log := logger.With("run_id", report.RunID)
	start := time.Now()
	ctx, end := j.c.Tracer.StartSpan(ctx, "pipeline.run", map[string]string{"run_id": report.RunID})
	defer end()
	defer func() { j.c.Recorder.RecordDuration(ctx, "pipeline.run", time.Since(start), nil) }()

	files, err := j.listInputs(ctx)
	if err != nil {
		return report, err
	}
	report.Files = files
	if len(files) == 0 {
		return report, exception.NewEmptyInputWarning(moduleName, fmt.Sprintf("no input files match '%s'", j.opts.Pattern))
	}
	log.Infof("Chunking %d input file(s).", len(files))

	table, err := j.readInputs(ctx, files)
	if err != nil {
		j.c.Tracer.RecordError(ctx, moduleName, err)
		return report, err
	}
	report.Rows = table.Len()
	if table.Len() == 0 {
		return report, exception.NewEmptyInputWarning(moduleName, "input files contain no rows")
	}

	blobs, err := j.c.Partitioner.Partition(ctx, table)
	if err != nil {
		j.c.Tracer.RecordError(ctx, moduleName, err)
		return report, err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(j.opts.Workers)
	errs := make([]error, len(blobs))
	for i, blob := range blobs {
		g.Go(func() error {
			errs[i] = j.processPartition(gctx, log, blob)
			return nil
		})
	}
	_ = g.Wait()

	var result error
	for i, perr := range errs {
		if perr != nil {
			result = multierror.Append(result, fmt.Errorf("partition %s: %w", blobs[i].Key, perr))
			continue
		}
		report.Partitions = append(report.Partitions, blobs[i].Key)
	}
	if result != nil {
		j.c.Tracer.RecordError(ctx, moduleName, result)
	}
	log.Infof("Chunked %d row(s) into %d partition(s).", report.Rows, len(report.Partitions))
	return report, result
}

// listInputs returns the matching input files in lexical order.
func (j *Job) listInputs(ctx context.Context) ([]string, error) {
	var files []string
	err := j.c.Input.ListObjects(ctx, "", "", func(name string) error {
		if ok, _ := path.Match(j.opts.Pattern, path.Base(name)); ok {
			files = append(files, name)
		}
		return nil
	})
	if err != nil {
		return nil, exception.NewEtlError(moduleName, "failed to list input files", err, false, false)
	}
	sort.Strings(files)
	return files, nil
}

// readInputs concatenates the input files, which must share one header.
func (j *Job) readInputs(ctx context.Context, files []string) (model.Table, error) {
	var merged model.Table
	for _, name := range files {
		t, err := j.decode(ctx, name)
		if err != nil {
			return model.Table{}, err
		}
		if merged.Header == nil {
			merged.Header = t.Header
		} else if !sameHeader(merged.Header, t.Header) {
			return model.Table{}, exception.NewMalformedInputError(moduleName,
				fmt.Sprintf("header of '%s' differs from the first input file", name), nil)
		}
		merged.Records = append(merged.Records, t.Records...)
		logger.Debugf("Read %d row(s) from '%s'.", t.Len(), name)
	}
	return merged, nil
}

func (j *Job) decode(ctx context.Context, name string) (model.Table, error) {
	c, err := codec.ForExtension(path.Ext(name))
	if err != nil {
		return model.Table{}, exception.NewMalformedInputError(moduleName, fmt.Sprintf("unsupported input file '%s'", name), err)
	}
	rc, err := j.c.Input.Download(ctx, "", name)
	if err != nil {
		return model.Table{}, err
	}
	defer rc.Close()
	t, err := c.Decode(rc)
	if err != nil {
		return model.Table{}, exception.NewMalformedInputError(moduleName, fmt.Sprintf("failed to decode '%s'", name), err)
	}
	return t, nil
}

func sameHeader(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if model.NormalizeHeader(a[i]) != model.NormalizeHeader(b[i]) {
			return false
		}
	}
	return true
}

// artifact is one encoded blob of a partition.
type artifact struct {
	category model.Category
	key      string
	body     []byte
}

// processPartition encodes every blob of the partition, uploads them raw first and then
// announces them. A partition whose rows do not decode uploads nothing; a failed upload
// removes the blobs already written for it.
func (j *Job) processPartition(ctx context.Context, log *zap.SugaredLogger, blob model.RawBlob) error {
	ctx, end := j.c.Tracer.StartSpan(ctx, "pipeline.partition", map[string]string{"partition": blob.Key.String()})
	defer end()
	j.c.Recorder.RecordRowsPartitioned(ctx, blob.Key.String(), blob.Len())

	artifacts, err := j.build(ctx, blob)
	if err != nil {
		return err
	}

	var created []port.ObjectCreated
	staged := ""
	for _, a := range artifacts {
		obj, err := j.upload(ctx, a.category, a.key, a.body)
		if err != nil {
			j.rollback(ctx, log, created, staged)
			return err
		}
		created = append(created, obj)
		if a.category == model.CategoryRaw && j.c.Staging != nil {
			if err := j.c.Staging.Upload(ctx, "", a.key, bytes.NewReader(a.body), j.c.Codec.ContentType()); err != nil {
				j.rollback(ctx, log, created, staged)
				return fmt.Errorf("staging copy of '%s': %w", a.key, err)
			}
			staged = a.key
		}
	}

	if j.c.Notifier != nil {
		for _, o := range created {
			if err := j.c.Notifier.Notify(ctx, o); err != nil {
				return fmt.Errorf("notify '%s': %w", o.Key, err)
			}
		}
	}
	log.Infof("Partition %s: %d row(s), %d blob(s).", blob.Key, blob.Len(), len(created))
	return nil
}

// build aggregates and encodes the raw, station-count and (optionally) daily-average blobs.
func (j *Job) build(ctx context.Context, blob model.RawBlob) ([]artifact, error) {
	station, daily, err := j.c.Aggregator.Aggregate(ctx, blob)
	if err != nil {
		return nil, err
	}
	artifacts := []artifact{
		{category: model.CategoryRaw, key: j.opts.Layout.RawKey(blob.Key)},
		{category: model.CategoryStationMetric, key: j.opts.Layout.StationMetricKey(blob.Key)},
	}
	tables := []model.Table{blob.Table, station.Table}
	if j.opts.DailyMetrics {
		artifacts = append(artifacts, artifact{category: model.CategoryDailyMetric, key: j.opts.Layout.DailyMetricKey(blob.Key)})
		tables = append(tables, daily.Table)
	}
	for i := range artifacts {
		if artifacts[i].body, err = j.encode(tables[i]); err != nil {
			return nil, err
		}
	}
	return artifacts, nil
}

// rollback deletes the blobs of a failed partition. Failures are only logged.
func (j *Job) rollback(ctx context.Context, log *zap.SugaredLogger, created []port.ObjectCreated, staged string) {
	ctx = context.WithoutCancel(ctx)
	for _, o := range created {
		if err := j.c.Store.DeleteObject(ctx, o.Bucket, o.Key); err != nil {
			log.Warnf("Failed to remove '%s' of a failed partition: %v", o.Key, err)
		}
	}
	if staged != "" {
		if err := j.c.Staging.DeleteObject(ctx, "", staged); err != nil {
			log.Warnf("Failed to remove staging copy '%s' of a failed partition: %v", staged, err)
		}
	}
}

func (j *Job) encode(t model.Table) ([]byte, error) {
	var buf bytes.Buffer
	if err := j.c.Codec.Encode(&buf, t); err != nil {
		return nil, exception.NewEtlError(moduleName, "failed to encode blob", err, false, false)
	}
	return buf.Bytes(), nil
}

func (j *Job) upload(ctx context.Context, category model.Category, key string, body []byte) (port.ObjectCreated, error) {
	if err := j.c.Store.Upload(ctx, j.opts.Bucket, key, bytes.NewReader(body), j.c.Codec.ContentType()); err != nil {
		return port.ObjectCreated{}, fmt.Errorf("upload '%s': %w", key, err)
	}
	j.c.Recorder.RecordBlobUploaded(ctx, category.String(), len(body))
	logger.Debugf("Uploaded %s blob '%s' (%d bytes).", category, key, len(body))
	return port.ObjectCreated{Bucket: j.opts.Bucket, Key: key, Size: int64(len(body))}, nil
}
