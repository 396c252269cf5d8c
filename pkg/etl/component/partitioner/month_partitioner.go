// Package partitioner groups raw trip rows into calendar-month partitions.
package partitioner

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/tigerroll/citybike/pkg/etl/core/domain/model"
	"github.com/tigerroll/citybike/pkg/etl/support/util/exception"
	"github.com/tigerroll/citybike/pkg/etl/support/util/logger"
)

const moduleName = "partitioner"

// Partitioner splits a table into RawBlobs.
type Partitioner interface {
	Partition(ctx context.Context, table model.Table) ([]model.RawBlob, error)
}

// MonthPartitioner keys each row by the year-month of its timestamp column.
type MonthPartitioner struct {
	field model.Field
	loc   *time.Location
}

// NewMonthPartitioner creates a partitioner keyed on timestampField, which may be a
// canonical field name ("departure_time") or any header title the raw schema accepts
// ("departure"). Timestamps without an offset are read in loc.
func NewMonthPartitioner(timestampField string, loc *time.Location) *MonthPartitioner {
	f := model.Field{Name: timestampField, Header: timestampField, Type: model.FieldTimestamp, Required: true}
	for _, rf := range model.RawSchema.Fields {
		candidates := append([]string{rf.Name, rf.Header}, rf.Aliases...)
		for _, c := range candidates {
			if model.NormalizeHeader(c) == model.NormalizeHeader(timestampField) {
				f.Aliases = candidates
			}
		}
	}
	if loc == nil {
		loc = time.UTC
	}
	return &MonthPartitioner{field: f, loc: loc}
}

// Partition groups rows by month. Every timestamp is parsed before any blob is emitted,
// so one bad row fails the whole table with a MalformedInputError. Blobs are ordered by
// key and keep the original header and the source order of their rows.
func (p *MonthPartitioner) Partition(ctx context.Context, table model.Table) ([]model.RawBlob, error) {
	schema := model.Schema{Name: "partition", Fields: []model.Field{p.field}}
	index, err := schema.ColumnIndex(table.Header)
	if err != nil {
		return nil, exception.NewMalformedInputError(moduleName, "timestamp column not found", err)
	}
	col := index[0]

	keys := make([]model.PartitionKey, table.Len())
	for i := range table.Records {
		if i%10000 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		v, err := p.field.Convert(table.Cell(i, col), p.loc)
		if err != nil {
			return nil, exception.NewMalformedInputError(moduleName, fmt.Sprintf("row %d", i), err)
		}
		keys[i] = model.PartitionKeyOf(v.Time)
	}

	groups := make(map[model.PartitionKey][][]string)
	for i, rec := range table.Records {
		groups[keys[i]] = append(groups[keys[i]], rec)
	}

	blobs := make([]model.RawBlob, 0, len(groups))
	for key, records := range groups {
		header := make([]string, len(table.Header))
		copy(header, table.Header)
		blobs = append(blobs, model.RawBlob{Key: key, Table: model.Table{Header: header, Records: records}})
	}
	sort.Slice(blobs, func(i, j int) bool { return blobs[i].Key < blobs[j].Key })

	logger.Debugf("Partitioned %d rows into %d month(s).", table.Len(), len(blobs))
	return blobs, nil
}

var _ Partitioner = (*MonthPartitioner)(nil)
