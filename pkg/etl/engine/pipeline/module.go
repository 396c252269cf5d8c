package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/fx"

	"github.com/tigerroll/citybike/pkg/etl/adapter/queue"
	"github.com/tigerroll/citybike/pkg/etl/adapter/storage"
	storageConfig "github.com/tigerroll/citybike/pkg/etl/adapter/storage/config"
	"github.com/tigerroll/citybike/pkg/etl/adapter/storage/local"
	"github.com/tigerroll/citybike/pkg/etl/codec"
	"github.com/tigerroll/citybike/pkg/etl/component/aggregator"
	"github.com/tigerroll/citybike/pkg/etl/component/partitioner"
	"github.com/tigerroll/citybike/pkg/etl/core/config"
	"github.com/tigerroll/citybike/pkg/etl/core/domain/model"
	"github.com/tigerroll/citybike/pkg/etl/core/metrics"
	"github.com/tigerroll/citybike/pkg/etl/core/port"
	"github.com/tigerroll/citybike/pkg/etl/engine/retry"
)

// Notifier types.
const (
	NotifierNone  = "none"
	NotifierQueue = "queue"
)

type Params struct {
	fx.In
	Config   *config.Config
	Location *time.Location
	Storage  storage.StorageConnectionResolver
	Queues   queue.QueueConnectionResolver
	Retrier  *retry.Retrier
	Recorder metrics.MetricRecorder
	Tracer   metrics.Tracer
}

// New wires the chunk job from configuration.
func New(p Params) (*Job, error) {
	ctx := context.Background()
	etl := p.Config.Etl

	input, err := local.NewLocalAdapter(storageConfig.StorageConfig{Type: local.ProviderType, BaseDir: etl.Pipeline.InputDir}, "input")
	if err != nil {
		return nil, err
	}
	store, err := p.Storage.ResolveStorageConnection(ctx, etl.Pipeline.StorageRef)
	if err != nil {
		return nil, err
	}

	var staging storage.StorageExecutor
	if etl.Pipeline.StagingRef != "" {
		conn, err := p.Storage.ResolveStorageConnection(ctx, etl.Pipeline.StagingRef)
		if err != nil {
			return nil, err
		}
		staging = storage.WithRetry(conn, p.Retrier)
	}

	var notifier port.Notifier
	switch etl.Notifier.Type {
	case "", NotifierNone:
	case NotifierQueue:
		conn, err := p.Queues.ResolveQueueConnection(ctx, etl.Notifier.QueueRef)
		if err != nil {
			return nil, err
		}
		notifier = queue.NewNotifier(conn)
	default:
		return nil, fmt.Errorf("unknown notifier type '%s'", etl.Notifier.Type)
	}

	c, err := codec.ForExtension(etl.Layout.Format)
	if err != nil {
		return nil, err
	}
	agg, err := aggregator.NewAggregator(aggregator.JoinPolicy(etl.Aggregator.Join), aggregator.RoundingMode(etl.Aggregator.Rounding), p.Location)
	if err != nil {
		return nil, err
	}

	return NewJob(Collaborators{
		Input:       input,
		Store:       storage.WithRetry(store, p.Retrier),
		Staging:     staging,
		Notifier:    notifier,
		Partitioner: partitioner.NewMonthPartitioner(etl.Pipeline.TimestampField, p.Location),
		Aggregator:  agg,
		Codec:       c,
		Recorder:    p.Recorder,
		Tracer:      p.Tracer,
	}, Options{
		Pattern:      etl.Pipeline.Pattern,
		Bucket:       etl.Pipeline.Bucket,
		Layout:       model.BlobLayout{RawPrefix: etl.Layout.RawPrefix, MetricPrefix: etl.Layout.MetricPrefix},
		Workers:      etl.Pipeline.Workers,
		DailyMetrics: etl.Pipeline.DailyMetrics,
	})
}

// Module provides the chunk Job.
var Module = fx.Provide(New)
