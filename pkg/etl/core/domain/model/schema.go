// Package model defines the pipeline's value records and the typed schemas that
// govern how delimited cells map to canonical, typed fields.
package model

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// FieldType is the storage type of a field.
type FieldType int

const (
	FieldString FieldType = iota
	FieldNumber
	FieldTimestamp
)

func (t FieldType) String() string {
	switch t {
	case FieldNumber:
		return "number"
	case FieldTimestamp:
		return "timestamp"
	default:
		return "string"
	}
}

// Field is one column of a schema.
type Field struct {
	// Name is the canonical field name used in records and metric blobs.
	Name string
	Type FieldType
	// Header is the column title written when encoding source-shaped blobs.
	Header string
	// Aliases are alternative header titles accepted on ingestion (matched case-insensitively).
	Aliases  []string
	Required bool
}

// Schema is an ordered set of fields.
type Schema struct {
	Name   string
	Fields []Field
}

// Field returns the field with the given canonical name.
func (s Schema) Field(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Names returns the canonical field names in schema order.
func (s Schema) Names() []string {
	names := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		names[i] = f.Name
	}
	return names
}

// Headers returns the source header titles in schema order.
func (s Schema) Headers() []string {
	headers := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		headers[i] = f.Header
	}
	return headers
}

// ColumnIndex maps each schema field to its column position in header, -1 when absent.
// A missing required field is reported as a *MissingFieldError.
func (s Schema) ColumnIndex(header []string) ([]int, error) {
	positions := make(map[string]int, len(header))
	for i, h := range header {
		key := NormalizeHeader(h)
		if _, dup := positions[key]; !dup {
			positions[key] = i
		}
	}
	index := make([]int, len(s.Fields))
	var missing []string
	for i, f := range s.Fields {
		index[i] = -1
		for _, candidate := range append([]string{f.Name, f.Header}, f.Aliases...) {
			if pos, ok := positions[NormalizeHeader(candidate)]; ok {
				index[i] = pos
				break
			}
		}
		if index[i] < 0 && f.Required {
			missing = append(missing, f.Name)
		}
	}
	if len(missing) > 0 {
		return nil, &MissingFieldError{Schema: s.Name, Fields: missing}
	}
	return index, nil
}

// NormalizeHeader trims whitespace and a UTF-8 BOM and lower-cases a header title.
func NormalizeHeader(h string) string {
	return strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
}

// MissingFieldError reports required fields absent from a header row.
type MissingFieldError struct {
	Schema string
	Fields []string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("%s: missing required column(s) %s", e.Schema, strings.Join(e.Fields, ", "))
}

// Value is a converted cell.
type Value struct {
	Type   FieldType
	Text   string
	Number float64
	Time   time.Time
	// Null is set for empty cells and NaN; null values are omitted from records.
	Null bool
}

var (
	// ErrNotNumeric is returned when a number field holds a non-numeric value.
	ErrNotNumeric = errors.New("not numeric")
	// ErrBadTimestamp is returned when a timestamp field cannot be parsed.
	ErrBadTimestamp = errors.New("unparseable timestamp")
)

// Convert converts a raw cell according to the field type.
func (f Field) Convert(raw string, loc *time.Location) (Value, error) {
	text := strings.TrimSpace(raw)
	v := Value{Type: f.Type, Text: text}
	switch f.Type {
	case FieldNumber:
		if text == "" {
			v.Null = true
			return v, nil
		}
		n, err := strconv.ParseFloat(text, 64)
		if err != nil || math.IsInf(n, 0) {
			return v, fmt.Errorf("%s=%q: %w", f.Name, raw, ErrNotNumeric)
		}
		if math.IsNaN(n) {
			v.Null = true
			return v, nil
		}
		v.Number = n
	case FieldTimestamp:
		if text == "" {
			if f.Required {
				return v, fmt.Errorf("%s is empty: %w", f.Name, ErrBadTimestamp)
			}
			v.Null = true
			return v, nil
		}
		t, err := ParseTimestamp(text, loc)
		if err != nil {
			return v, fmt.Errorf("%s=%q: %w", f.Name, raw, ErrBadTimestamp)
		}
		v.Time = t
	default:
		v.Null = text == "" && !f.Required
	}
	return v, nil
}

// timestampLayouts are tried in order for values without an explicit offset.
var timestampLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006-01-02",
}

// TimestampLayout is the layout used when timestamps are written back out.
const TimestampLayout = "2006-01-02T15:04:05"

// ParseTimestamp parses a source timestamp. RFC 3339 values keep their offset and are
// converted into loc; other layouts are interpreted in loc (UTC when nil).
func ParseTimestamp(value string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t.In(loc), nil
	}
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("no known layout matches %q", value)
}

// Canonical raw field names.
const (
	DepartureTime        = "departure_time"
	ReturnTime           = "return_time"
	DepartureStationID   = "departure_station_id"
	DepartureStationName = "departure_station_name"
	ReturnStationID      = "return_station_id"
	ReturnStationName    = "return_station_name"
	DistanceM            = "distance_m"
	DurationS            = "duration_s"
	AvgSpeedKmh          = "avg_speed_kmh"
	DepartureLat         = "departure_lat"
	DepartureLon         = "departure_lon"
	ReturnLat            = "return_lat"
	ReturnLon            = "return_lon"
	AirTempC             = "air_temp_c"
)

// RawSchema describes one trip row. Header titles follow the city bike open-data export.
var RawSchema = Schema{
	Name: "raw",
	Fields: []Field{
		{Name: DepartureTime, Type: FieldTimestamp, Header: "departure", Required: true},
		{Name: ReturnTime, Type: FieldTimestamp, Header: "return", Required: true},
		{Name: DepartureStationID, Type: FieldString, Header: "departure_id", Aliases: []string{"departure station id"}},
		{Name: DepartureStationName, Type: FieldString, Header: "departure_name", Aliases: []string{"departure station name"}, Required: true},
		{Name: ReturnStationID, Type: FieldString, Header: "return_id", Aliases: []string{"return station id"}},
		{Name: ReturnStationName, Type: FieldString, Header: "return_name", Aliases: []string{"return station name"}, Required: true},
		{Name: DistanceM, Type: FieldNumber, Header: "distance (m)", Aliases: []string{"covered distance (m)", "distance"}, Required: true},
		{Name: DurationS, Type: FieldNumber, Header: "duration (sec.)", Aliases: []string{"duration"}, Required: true},
		{Name: AvgSpeedKmh, Type: FieldNumber, Header: "avg_speed (km/h)", Aliases: []string{"avg_speed"}},
		{Name: DepartureLat, Type: FieldNumber, Header: "departure_latitude"},
		{Name: DepartureLon, Type: FieldNumber, Header: "departure_longitude"},
		{Name: ReturnLat, Type: FieldNumber, Header: "return_latitude"},
		{Name: ReturnLon, Type: FieldNumber, Header: "return_longitude"},
		{Name: AirTempC, Type: FieldNumber, Header: "Air temperature (degC)", Aliases: []string{"air_temperature"}},
	},
}

// Station metric field names.
const (
	StationName       = "station_name"
	CountOfDepartures = "count_of_departures"
	CountOfReturns    = "count_of_returns"
)

var StationCountSchema = Schema{
	Name: "station-metric",
	Fields: []Field{
		{Name: StationName, Type: FieldString, Header: StationName, Required: true},
		{Name: CountOfDepartures, Type: FieldNumber, Header: CountOfDepartures, Required: true},
		{Name: CountOfReturns, Type: FieldNumber, Header: CountOfReturns, Required: true},
	},
}

// Day is the grouping field of daily averages.
const Day = "day"

// DailyAverageSchema accepts both canonical names and the source header titles for the averaged columns.
var DailyAverageSchema = Schema{
	Name: "daily-metric",
	Fields: []Field{
		{Name: Day, Type: FieldString, Header: Day, Required: true},
		{Name: DistanceM, Type: FieldNumber, Header: DistanceM, Aliases: []string{"distance (m)"}, Required: true},
		{Name: DurationS, Type: FieldNumber, Header: DurationS, Aliases: []string{"duration (sec.)"}, Required: true},
		{Name: AvgSpeedKmh, Type: FieldNumber, Header: AvgSpeedKmh, Aliases: []string{"avg_speed (km/h)"}},
		{Name: AirTempC, Type: FieldNumber, Header: AirTempC, Aliases: []string{"air temperature (degc)"}},
	},
}

// SchemaFor returns the schema governing blobs of a category.
func SchemaFor(c Category) Schema {
	switch c {
	case CategoryStationMetric:
		return StationCountSchema
	case CategoryDailyMetric:
		return DailyAverageSchema
	default:
		return RawSchema
	}
}
