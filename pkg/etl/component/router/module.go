package router

import (
	"context"
	"time"

	"go.uber.org/fx"

	"github.com/tigerroll/citybike/pkg/etl/adapter/storage"
	"github.com/tigerroll/citybike/pkg/etl/adapter/tablestore"
	"github.com/tigerroll/citybike/pkg/etl/component/aggregator"
	"github.com/tigerroll/citybike/pkg/etl/component/loader"
	"github.com/tigerroll/citybike/pkg/etl/core/config"
	"github.com/tigerroll/citybike/pkg/etl/core/metrics"
	"github.com/tigerroll/citybike/pkg/etl/core/port"
	"github.com/tigerroll/citybike/pkg/etl/engine/retry"
)

// Params are the collaborators of the fx-provided Router.
type Params struct {
	fx.In
	Config      *config.Config
	Location    *time.Location
	Storage     storage.StorageConnectionResolver
	TableStores tablestore.TableStoreConnectionResolver
	Retrier     *retry.Retrier
	Recorder    metrics.MetricRecorder
	Tracer      metrics.Tracer
}

// New wires a Router from configuration: object store for downloads, table store for
// records and, when enabled, the notification ledger.
func New(p Params) (*Router, error) {
	ctx := context.Background()
	etl := p.Config.Etl

	conn, err := p.Storage.ResolveStorageConnection(ctx, etl.Router.StorageRef)
	if err != nil {
		return nil, err
	}
	tables, err := p.TableStores.ResolveTableStoreConnection(ctx, etl.Loader.TableStoreRef)
	if err != nil {
		return nil, err
	}
	tables = tablestore.WithRetry(tables, p.Retrier)

	agg, err := aggregator.NewAggregator(aggregator.JoinPolicy(etl.Aggregator.Join), aggregator.RoundingMode(etl.Aggregator.Rounding), p.Location)
	if err != nil {
		return nil, err
	}
	ld, err := loader.NewLoader(tables, loader.BadRowPolicy(etl.Loader.OnBadRow), p.Location, p.Recorder, p.Tracer)
	if err != nil {
		return nil, err
	}

	var ledger port.NotificationLedger
	if etl.Ledger.Enabled {
		ledgerStore := tables
		if etl.Ledger.TableStoreRef != "" && etl.Ledger.TableStoreRef != etl.Loader.TableStoreRef {
			other, err := p.TableStores.ResolveTableStoreConnection(ctx, etl.Ledger.TableStoreRef)
			if err != nil {
				return nil, err
			}
			ledgerStore = tablestore.WithRetry(other, p.Retrier)
		}
		if ledger, err = ledgerStore.NewLedger(ctx, etl.Ledger.Table); err != nil {
			return nil, err
		}
	}

	opts := Options{
		Bucket:          etl.Pipeline.Bucket,
		RawMarker:       etl.Router.RawMarker,
		DailyTable:      etl.Loader.DailyTable,
		FirstRecordOnly: etl.Router.FirstRecordOnly,
		LeaseTTL:        time.Duration(etl.Ledger.LeaseSeconds) * time.Second,
	}
	return NewRouter(storage.WithRetry(conn, p.Retrier), agg, ld, ledger, opts, p.Recorder, p.Tracer), nil
}

// Module provides the Router.
var Module = fx.Provide(New)
