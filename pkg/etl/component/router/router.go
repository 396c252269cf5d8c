// Package router dispatches object-created notifications to the loading pathways.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"github.com/tigerroll/citybike/pkg/etl/adapter/storage"
	"github.com/tigerroll/citybike/pkg/etl/codec"
	"github.com/tigerroll/citybike/pkg/etl/component/aggregator"
	"github.com/tigerroll/citybike/pkg/etl/component/loader"
	"github.com/tigerroll/citybike/pkg/etl/core/domain/model"
	"github.com/tigerroll/citybike/pkg/etl/core/metrics"
	"github.com/tigerroll/citybike/pkg/etl/core/port"
	"github.com/tigerroll/citybike/pkg/etl/support/util/exception"
	"github.com/tigerroll/citybike/pkg/etl/support/util/logger"
)

const moduleName = "router"

// TestEvent is the Event value of the message S3 sends when notifications are configured.
const TestEvent = "s3:TestEvent"

// MonthPlaceholder in DailyTable is replaced by the partition of the blob, e.g. "avg_metrics_by_day_{month}".
const MonthPlaceholder = "{month}"

// Notification kinds used in logs and metrics.
const (
	KindTest   = "test"
	KindRaw    = "raw"
	KindMetric = "metric"
)

// Options configure routing.
type Options struct {
	// Bucket is used when a record does not name one.
	Bucket string
	// RawMarker is the path fragment identifying raw partitions ("data_by_month").
	RawMarker string
	// DailyTable receives daily averages.
	DailyTable string
	// FirstRecordOnly handles only the first record of an event and of each notification body.
	FirstRecordOnly bool
	// LeaseTTL bounds how long an unfinished ledger claim blocks redeliveries.
	LeaseTTL time.Duration
}

// DefaultLeaseTTL matches the longest Lambda timeout.
const DefaultLeaseTTL = 15 * time.Minute

// Router handles notifications: raw blobs are loaded and then aggregated into daily averages,
// metric blobs are loaded directly.
type Router struct {
	store      storage.StorageExecutor
	aggregator *aggregator.Aggregator
	loader     *loader.Loader
	ledger     port.NotificationLedger
	opts       Options
	recorder   metrics.MetricRecorder
	tracer     metrics.Tracer
}

// NewRouter creates a Router. ledger may be nil to disable duplicate detection.
func NewRouter(store storage.StorageExecutor, agg *aggregator.Aggregator, ld *loader.Loader, ledger port.NotificationLedger,
	opts Options, recorder metrics.MetricRecorder, tracer metrics.Tracer) *Router {
	if opts.DailyTable == "" {
		opts.DailyTable = "avg_metrics_by_day"
	}
	if opts.LeaseTTL <= 0 {
		opts.LeaseTTL = DefaultLeaseTTL
	}
	if recorder == nil {
		recorder = metrics.NewNoOpMetricRecorder()
	}
	if tracer == nil {
		tracer = metrics.NewNoOpTracer()
	}
	return &Router{store: store, aggregator: agg, loader: ld, ledger: ledger, opts: opts, recorder: recorder, tracer: tracer}
}

// HandleSQSEvent handles a Lambda SQS batch. Failed messages are reported individually so
// only they are redelivered.
func (r *Router) HandleSQSEvent(ctx context.Context, ev events.SQSEvent) (events.SQSEventResponse, error) {
	var resp events.SQSEventResponse
	records := ev.Records
	if r.opts.FirstRecordOnly && len(records) > 1 {
		logger.Warnf("Event carries %d records; handling the first only.", len(records))
		records = records[:1]
	}
	for _, msg := range records {
		if err := r.HandleMessage(ctx, []byte(msg.Body)); err != nil {
			logger.Errorf("Message %s failed: %v", msg.MessageId, err)
			resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{ItemIdentifier: msg.MessageId})
		}
	}
	return resp, nil
}

type envelope struct {
	Event   string          `json:"Event"`
	Records json.RawMessage `json:"Records"`
}

// HandleMessage handles one notification body: an S3 event or the S3 test event.
func (r *Router) HandleMessage(ctx context.Context, body []byte) error {
	var p envelope
	if err := json.Unmarshal(body, &p); err != nil {
		return exception.NewMalformedInputError(moduleName, "notification body is not JSON", err)
	}
	if p.Event == TestEvent {
		logger.Infof("Test Event - %s", p.Event)
		r.recorder.RecordNotification(ctx, KindTest, metrics.OutcomeIgnored)
		return nil
	}

	var ev events.S3Event
	if err := json.Unmarshal(body, &ev); err != nil {
		return exception.NewMalformedInputError(moduleName, "notification body is not an S3 event", err)
	}
	if len(ev.Records) == 0 {
		return exception.NewMalformedInputError(moduleName, "notification has no records", nil)
	}
	records := ev.Records
	if r.opts.FirstRecordOnly {
		records = records[:1]
	}

	var result error
	for _, rec := range records {
		if err := r.HandleRecord(ctx, rec); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result
}

// HandleRecord routes one object-created record. The record is leased in the ledger before any
// work: a completed or foreign-held record is acknowledged without work, a failed record
// releases its lease so redelivery retries it, and a finished one is marked complete.
func (r *Router) HandleRecord(ctx context.Context, rec events.S3EventRecord) error {
	if rec.EventName != "" && !strings.HasPrefix(rec.EventName, "ObjectCreated") {
		logger.Debugf("Ignoring %s event.", rec.EventName)
		r.recorder.RecordNotification(ctx, KindMetric, metrics.OutcomeIgnored)
		return nil
	}

	key := rec.S3.Object.URLDecodedKey
	if key == "" {
		var err error
		if key, err = model.DecodeObjectKey(rec.S3.Object.Key); err != nil {
			return exception.NewMalformedInputError(moduleName, "object key", err)
		}
	}
	bucket := rec.S3.Bucket.Name
	if bucket == "" {
		bucket = r.opts.Bucket
	}
	ref, err := model.ClassifyKey(key, r.opts.RawMarker)
	if err != nil {
		return exception.NewMalformedInputError(moduleName, "unroutable object key", err)
	}
	kind := KindMetric
	if ref.Category == model.CategoryRaw {
		kind = KindRaw
	}
	log := logger.With("bucket", bucket, "key", key, "kind", kind)

	ctx, end := r.tracer.StartSpan(ctx, "router.record", map[string]string{"key": key, "kind": kind})
	defer end()

	ledgerKey := LedgerKey(bucket, key, rec.S3.Object)
	owner := uuid.NewString()
	if r.ledger != nil {
		claimed, err := r.ledger.Claim(ctx, ledgerKey, owner, r.opts.LeaseTTL)
		if err != nil {
			r.recorder.RecordNotification(ctx, kind, metrics.OutcomeFailure)
			return exception.NewEtlError(moduleName, "ledger claim", err, false, exception.IsTemporary(err))
		}
		if !claimed {
			log.Infof("%v", exception.NewDuplicateDeliveryError(moduleName, ledgerKey))
			r.recorder.RecordNotification(ctx, kind, metrics.OutcomeDuplicate)
			return nil
		}
	}

	start := time.Now()
	if ref.Category == model.CategoryRaw {
		log.Infof("Raw data - %s", key)
	} else {
		log.Infof("Metric data - %s", key)
	}
	err = r.route(ctx, bucket, ref)
	r.recorder.RecordDuration(ctx, "router.record", time.Since(start), map[string]string{"kind": kind})
	if err != nil {
		r.tracer.RecordError(ctx, moduleName, err)
		r.recorder.RecordNotification(ctx, kind, metrics.OutcomeFailure)
		if r.ledger != nil {
			if rerr := r.ledger.Release(ctx, ledgerKey, owner); rerr != nil {
				log.Warnf("Failed to release ledger entry '%s' (it lapses after %s): %v", ledgerKey, r.opts.LeaseTTL, rerr)
			}
		}
		return err
	}
	if r.ledger != nil {
		if cerr := r.ledger.Complete(ctx, ledgerKey, owner); cerr != nil {
			// the rows are written; a lapsed lease only allows an idempotent reload
			log.Warnf("Failed to complete ledger entry '%s': %v", ledgerKey, cerr)
		}
	}
	r.recorder.RecordNotification(ctx, kind, metrics.OutcomeSuccess)
	return nil
}

func (r *Router) route(ctx context.Context, bucket string, ref model.BlobRef) error {
	table, err := r.fetch(ctx, bucket, ref)
	if err != nil {
		return err
	}
	dailyTable := r.dailyTable(ref.Partition)

	switch ref.Category {
	case model.CategoryRaw:
		if _, err := r.loader.Load(ctx, loader.Batch{
			Table: ref.TableName(dailyTable), Category: model.CategoryRaw, Partition: ref.Partition, Rows: table,
		}); err != nil {
			return err
		}
		daily, err := r.aggregator.AggregateDaily(ctx, model.RawBlob{Key: ref.Partition, Table: table})
		if err != nil {
			return err
		}
		_, err = r.loader.Load(ctx, loader.Batch{
			Table: dailyTable, Category: model.CategoryDailyMetric, Partition: ref.Partition, Rows: daily.Table,
		})
		return err
	default:
		_, err := r.loader.Load(ctx, loader.Batch{
			Table: ref.TableName(dailyTable), Category: ref.Category, Partition: ref.Partition, Rows: table,
		})
		return err
	}
}

func (r *Router) fetch(ctx context.Context, bucket string, ref model.BlobRef) (model.Table, error) {
	c, err := codec.ForExtension(ref.Extension)
	if err != nil {
		return model.Table{}, exception.NewMalformedInputError(moduleName, ref.Key, err)
	}
	body, err := r.store.Download(ctx, bucket, ref.Key)
	if err != nil {
		return model.Table{}, err
	}
	defer body.Close()

	table, err := c.Decode(body)
	if err != nil {
		return model.Table{}, exception.NewMalformedInputError(moduleName, fmt.Sprintf("decode %s", ref.Key), err)
	}
	return table, nil
}

func (r *Router) dailyTable(partition model.PartitionKey) string {
	return strings.ReplaceAll(r.opts.DailyTable, MonthPlaceholder, string(partition))
}

// LedgerKey identifies one object version: "bucket/key#sequencer", falling back to the eTag.
func LedgerKey(bucket, key string, obj events.S3Object) string {
	version := obj.Sequencer
	if version == "" {
		version = obj.ETag
	}
	return fmt.Sprintf("%s/%s#%s", bucket, key, version)
}

// IsPermanent reports whether redelivering the notification cannot help. An aggregated error
// is permanent only when each of its parts is.
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}
	var merr *multierror.Error
	if errors.As(err, &merr) {
		for _, e := range merr.Errors {
			if !IsPermanent(e) {
				return false
			}
		}
		return len(merr.Errors) > 0
	}
	return exception.IsMalformedInput(err) || exception.IsObjectNotFound(err) || exception.IsRecordConversion(err)
}
