package model

import (
	"errors"
	"fmt"
	"strconv"
	"time"
)

// Number is a numeric cell that may be null.
type Number struct {
	Value float64
	Valid bool
}

// N returns a valid Number.
func N(v float64) Number {
	return Number{Value: v, Valid: true}
}

func (n Number) String() string {
	if !n.Valid {
		return ""
	}
	return strconv.FormatFloat(n.Value, 'f', -1, 64)
}

// Row is one trip record with canonical, typed fields.
type Row struct {
	DepartureTime        time.Time
	ReturnTime           time.Time
	DepartureStationID   string
	DepartureStationName string
	ReturnStationID      string
	ReturnStationName    string
	DistanceM            Number
	DurationS            Number
	AvgSpeedKmh          Number
	DepartureLat         Number
	DepartureLon         Number
	ReturnLat            Number
	ReturnLon            Number
	AirTempC             Number
}

// RowError locates a conversion failure inside a table.
type RowError struct {
	Offset int
	Err    error
}

func (e *RowError) Error() string {
	return fmt.Sprintf("row %d: %v", e.Offset, e.Err)
}

func (e *RowError) Unwrap() error {
	return e.Err
}

// DecodeRows converts a raw table into typed Rows using RawSchema.
// Errors are *MissingFieldError for the header or *RowError wrapping ErrNotNumeric / ErrBadTimestamp.
func DecodeRows(t Table, loc *time.Location) ([]Row, error) {
	index, err := RawSchema.ColumnIndex(t.Header)
	if err != nil {
		return nil, err
	}
	rows := make([]Row, 0, t.Len())
	for offset := range t.Records {
		var r Row
		for i, f := range RawSchema.Fields {
			v, err := f.Convert(t.Cell(offset, index[i]), loc)
			if err != nil {
				return nil, &RowError{Offset: offset, Err: err}
			}
			r.set(f.Name, v)
		}
		rows = append(rows, r)
	}
	return rows, nil
}

func (r *Row) set(name string, v Value) {
	num := Number{Value: v.Number, Valid: !v.Null}
	switch name {
	case DepartureTime:
		r.DepartureTime = v.Time
	case ReturnTime:
		r.ReturnTime = v.Time
	case DepartureStationID:
		r.DepartureStationID = v.Text
	case DepartureStationName:
		r.DepartureStationName = v.Text
	case ReturnStationID:
		r.ReturnStationID = v.Text
	case ReturnStationName:
		r.ReturnStationName = v.Text
	case DistanceM:
		r.DistanceM = num
	case DurationS:
		r.DurationS = num
	case AvgSpeedKmh:
		r.AvgSpeedKmh = num
	case DepartureLat:
		r.DepartureLat = num
	case DepartureLon:
		r.DepartureLon = num
	case ReturnLat:
		r.ReturnLat = num
	case ReturnLon:
		r.ReturnLon = num
	case AirTempC:
		r.AirTempC = num
	}
}

// EncodeRows renders Rows back into a raw table with the source header titles.
func EncodeRows(rows []Row) Table {
	t := Table{Header: RawSchema.Headers(), Records: make([][]string, 0, len(rows))}
	for _, r := range rows {
		t.Records = append(t.Records, []string{
			formatTime(r.DepartureTime),
			formatTime(r.ReturnTime),
			r.DepartureStationID,
			r.DepartureStationName,
			r.ReturnStationID,
			r.ReturnStationName,
			r.DistanceM.String(),
			r.DurationS.String(),
			r.AvgSpeedKmh.String(),
			r.DepartureLat.String(),
			r.DepartureLon.String(),
			r.ReturnLat.String(),
			r.ReturnLon.String(),
			r.AirTempC.String(),
		})
	}
	return t
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	if t.Nanosecond() != 0 {
		return t.Format("2006-01-02T15:04:05.999999999")
	}
	return t.Format(TimestampLayout)
}

// IsConversion reports whether err came from a numeric conversion.
func IsConversion(err error) bool {
	return errors.Is(err, ErrNotNumeric)
}
