// Package loader converts blob rows into TableRecords and writes them to a table store.
package loader

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tigerroll/citybike/pkg/etl/core/domain/model"
	"github.com/tigerroll/citybike/pkg/etl/core/metrics"
	"github.com/tigerroll/citybike/pkg/etl/core/port"
	"github.com/tigerroll/citybike/pkg/etl/support/util/exception"
	"github.com/tigerroll/citybike/pkg/etl/support/util/logger"
)

const (
	moduleName = "loader"
	dayLayout  = "2006-01-02"
)

// BadRowPolicy decides what happens to a row that fails conversion.
type BadRowPolicy string

const (
	// BadRowAbort fails the whole batch before anything is written.
	BadRowAbort BadRowPolicy = "abort"
	// BadRowSkip logs and drops the row. Ids of the remaining rows are unchanged.
	BadRowSkip BadRowPolicy = "skip"
)

// idempotencyNamespace seeds the name-based (v5) record keys.
var idempotencyNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("urn:citybike:table-record"))

// Batch is one blob's rows bound for one table.
type Batch struct {
	Table    string
	Category model.Category
	// Partition feeds the idempotency key; it may be empty for blobs not named after a month.
	Partition model.PartitionKey
	Rows      model.Table
}

// Result summarizes a load.
type Result struct {
	Table   string
	Loaded  int
	Skipped int
}

// Loader writes batches one record at a time. Loads into the same table are serialized.
type Loader struct {
	store    port.TableWriter
	policy   BadRowPolicy
	loc      *time.Location
	recorder metrics.MetricRecorder
	tracer   metrics.Tracer

	locks sync.Map // table name -> *sync.Mutex
}

// NewLoader creates a Loader. Nil recorder and tracer fall back to no-ops.
func NewLoader(store port.TableWriter, policy BadRowPolicy, loc *time.Location, recorder metrics.MetricRecorder, tracer metrics.Tracer) (*Loader, error) {
	switch policy {
	case BadRowAbort, BadRowSkip:
	case "":
		policy = BadRowAbort
	default:
		return nil, fmt.Errorf("unknown bad row policy '%s'", policy)
	}
	if loc == nil {
		loc = time.UTC
	}
	if recorder == nil {
		recorder = metrics.NewNoOpMetricRecorder()
	}
	if tracer == nil {
		tracer = metrics.NewNoOpTracer()
	}
	return &Loader{store: store, policy: policy, loc: loc, recorder: recorder, tracer: tracer}, nil
}

// Load converts every row, creates the table if needed and puts the records in row order.
// Ids are the 1-based source row offsets, except for daily averages, whose id is the day as
// YYYYMMDD so that every month can share one table. Reloading a blob overwrites the same items.
func (l *Loader) Load(ctx context.Context, b Batch) (Result, error) {
	ctx, end := l.tracer.StartSpan(ctx, "loader.load", map[string]string{"table": b.Table, "category": b.Category.String()})
	defer end()
	start := time.Now()

	res, err := l.load(ctx, b)
	status := metrics.OutcomeSuccess
	if err != nil {
		status = metrics.OutcomeFailure
		l.tracer.RecordError(ctx, moduleName, err)
	}
	l.recorder.RecordDuration(ctx, "loader.load", time.Since(start), map[string]string{"table": b.Table, "status": status})
	return res, err
}

func (l *Loader) load(ctx context.Context, b Batch) (Result, error) {
	res := Result{Table: b.Table}
	if b.Table == "" {
		return res, exception.NewMalformedInputError(moduleName, "batch has no target table", nil)
	}
	schema := model.SchemaFor(b.Category)

	records, skipped, err := l.Convert(ctx, b, schema)
	if err != nil {
		return res, err
	}
	res.Skipped = skipped

	mu := l.lock(b.Table)
	mu.Lock()
	defer mu.Unlock()

	if err := l.store.CreateTable(ctx, model.DefinitionFor(b.Table, schema)); err != nil {
		return res, exception.NewEtlError(moduleName, fmt.Sprintf("create table '%s'", b.Table), err, false, false)
	}
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if err := l.store.PutItem(ctx, rec); err != nil {
			l.recorder.RecordRecordsLoaded(ctx, b.Table, res.Loaded)
			return res, exception.NewEtlError(moduleName, fmt.Sprintf("put item %d into '%s'", rec.ID, b.Table), err, false, false)
		}
		res.Loaded++
	}
	l.recorder.RecordRecordsLoaded(ctx, b.Table, res.Loaded)
	logger.Infof("Loaded %d record(s) into '%s' (%d skipped).", res.Loaded, b.Table, res.Skipped)
	return res, nil
}

func (l *Loader) lock(table string) *sync.Mutex {
	mu, _ := l.locks.LoadOrStore(table, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// Convert maps rows to TableRecords under schema. Under the abort policy the first bad row
// fails the batch; under skip it is logged and counted.
func (l *Loader) Convert(ctx context.Context, b Batch, schema model.Schema) ([]model.TableRecord, int, error) {
	index, err := schema.ColumnIndex(b.Rows.Header)
	if err != nil {
		return nil, 0, exception.NewMalformedInputError(moduleName, fmt.Sprintf("blob for '%s'", b.Table), err)
	}

	records := make([]model.TableRecord, 0, b.Rows.Len())
	skipped := 0
	for offset := range b.Rows.Records {
		rec, err := l.convertRow(b, schema, index, offset)
		if err == nil {
			records = append(records, rec)
			continue
		}
		if exception.IsRecordConversion(err) && l.policy == BadRowSkip {
			logger.Warnf("Skipping row: %v", err)
			l.recorder.RecordRowSkipped(ctx, b.Table, "conversion")
			skipped++
			continue
		}
		return nil, skipped, err
	}
	return records, skipped, nil
}

func (l *Loader) convertRow(b Batch, schema model.Schema, index []int, offset int) (model.TableRecord, error) {
	rec := model.TableRecord{
		Table:          b.Table,
		ID:             int64(offset) + 1,
		IdempotencyKey: IdempotencyKey(b.Table, b.Partition, offset),
		Attributes:     make([]model.Attribute, 0, len(schema.Fields)),
	}
	for i, f := range schema.Fields {
		raw := b.Rows.Cell(offset, index[i])
		v, err := f.Convert(raw, l.loc)
		switch {
		case errors.Is(err, model.ErrNotNumeric):
			return rec, exception.NewRecordConversionError(moduleName, exception.ConversionDetail{
				Table: b.Table, Offset: offset, Field: f.Name, Value: raw,
			}, err)
		case err != nil:
			return rec, exception.NewMalformedInputError(moduleName, fmt.Sprintf("row %d of '%s'", offset, b.Table), err)
		case v.Null:
			continue
		}
		attr := model.Attribute{Name: f.Name, Type: f.Type}
		if f.Type == model.FieldNumber {
			attr.Number = v.Number
		} else {
			// Timestamps keep their source text.
			attr.Type = model.FieldString
			attr.Text = v.Text
		}
		rec.Attributes = append(rec.Attributes, attr)
		if b.Category == model.CategoryDailyMetric && f.Name == model.Day {
			id, err := dayID(v.Text)
			if err != nil {
				return rec, exception.NewMalformedInputError(moduleName, fmt.Sprintf("row %d of '%s'", offset, b.Table), err)
			}
			rec.ID = id
		}
	}
	return rec, nil
}

// dayID maps "2021-06-01" to 20210601.
func dayID(day string) (int64, error) {
	t, err := time.Parse(dayLayout, day)
	if err != nil {
		return 0, fmt.Errorf("invalid day %q: %w", day, err)
	}
	return int64(t.Year()*10000 + int(t.Month())*100 + t.Day()), nil
}

// IdempotencyKey derives a stable key from (table, partition, offset).
func IdempotencyKey(table string, partition model.PartitionKey, offset int) string {
	return uuid.NewSHA1(idempotencyNamespace, []byte(fmt.Sprintf("%s/%s/%d", table, partition, offset))).String()
}
