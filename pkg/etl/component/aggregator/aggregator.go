// Package aggregator computes the per-partition metrics: departure/return counts per station
// and per-day means of the trip measurements.
package aggregator

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tigerroll/citybike/pkg/etl/core/domain/model"
	"github.com/tigerroll/citybike/pkg/etl/support/util/exception"
	"github.com/tigerroll/citybike/pkg/etl/support/util/logger"
)

const moduleName = "aggregator"

// JoinPolicy controls how departure and return counts are combined.
type JoinPolicy string

const (
	// JoinOuter keeps stations seen on either side, with a zero count for the missing side.
	JoinOuter JoinPolicy = "outer"
	// JoinInner keeps only stations with both departures and returns.
	JoinInner JoinPolicy = "inner"
)

// RoundingMode selects how means are rounded to two decimals.
type RoundingMode string

const (
	RoundHalfEven RoundingMode = "half_even"
	// RoundHalfUp rounds ties away from zero.
	RoundHalfUp RoundingMode = "half_up"
)

const (
	meanPlaces   = 2
	dayKeyLayout = "2006-01-02"
)

// Aggregator is stateless and safe for concurrent use.
type Aggregator struct {
	join     JoinPolicy
	rounding RoundingMode
	loc      *time.Location
}

// NewAggregator validates the policies. Timestamps without an offset are read in loc.
func NewAggregator(join JoinPolicy, rounding RoundingMode, loc *time.Location) (*Aggregator, error) {
	switch join {
	case JoinOuter, JoinInner:
	default:
		return nil, fmt.Errorf("unknown join policy %q", join)
	}
	switch rounding {
	case RoundHalfEven, RoundHalfUp:
	default:
		return nil, fmt.Errorf("unknown rounding mode %q", rounding)
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Aggregator{join: join, rounding: rounding, loc: loc}, nil
}

// Aggregate decodes a raw blob and returns its station-count and daily-average blobs, both
// tagged with the blob's partition. Zero rows produce two empty blobs.
func (a *Aggregator) Aggregate(ctx context.Context, blob model.RawBlob) (model.MetricBlob, model.MetricBlob, error) {
	if err := ctx.Err(); err != nil {
		return model.MetricBlob{}, model.MetricBlob{}, err
	}
	rows, err := model.DecodeRows(blob.Table, a.loc)
	if err != nil {
		return model.MetricBlob{}, model.MetricBlob{}, exception.NewMalformedInputError(
			moduleName, fmt.Sprintf("partition %s", blob.Key), err)
	}
	stations := a.StationCounts(rows)
	days := a.DailyAverages(rows)
	logger.Debugf("Partition %s: %d rows, %d stations, %d days.", blob.Key, len(rows), len(stations), len(days))
	return model.EncodeStationCounts(blob.Key, stations), model.EncodeDailyAverages(blob.Key, days), nil
}

// AggregateDaily is Aggregate restricted to daily averages.
func (a *Aggregator) AggregateDaily(ctx context.Context, blob model.RawBlob) (model.MetricBlob, error) {
	_, daily, err := a.Aggregate(ctx, blob)
	return daily, err
}

// StationCounts counts departures per departure station and returns per return station and
// joins the two on station name. Rows with an empty station name are not counted on that side.
// The result is ordered by station name.
func (a *Aggregator) StationCounts(rows []model.Row) []model.StationCount {
	departures := make(map[string]int64)
	returns := make(map[string]int64)
	for _, r := range rows {
		if r.DepartureStationName != "" {
			departures[r.DepartureStationName]++
		}
		if r.ReturnStationName != "" {
			returns[r.ReturnStationName]++
		}
	}

	names := make(map[string]struct{}, len(departures)+len(returns))
	for n := range departures {
		names[n] = struct{}{}
	}
	for n := range returns {
		names[n] = struct{}{}
	}

	counts := make([]model.StationCount, 0, len(names))
	for n := range names {
		d, r := departures[n], returns[n]
		if a.join == JoinInner && (d == 0 || r == 0) {
			continue
		}
		counts = append(counts, model.StationCount{StationName: n, CountOfDepartures: d, CountOfReturns: r})
	}
	sort.Slice(counts, func(i, j int) bool { return counts[i].StationName < counts[j].StationName })
	return counts
}

type meanAcc struct {
	sum decimal.Decimal
	n   int64
}

func (m *meanAcc) add(v model.Number) {
	if !v.Valid {
		return
	}
	m.sum = m.sum.Add(decimal.NewFromFloat(v.Value))
	m.n++
}

// DailyAverages groups rows by the calendar date of departure and averages each measurement.
// Null cells are excluded; a measurement with no values for a day is null. Ordered by day.
func (a *Aggregator) DailyAverages(rows []model.Row) []model.DailyAverage {
	type dayAcc struct{ distance, duration, speed, temp meanAcc }
	byDay := make(map[string]*dayAcc)
	for _, r := range rows {
		day := r.DepartureTime.In(a.loc).Format(dayKeyLayout)
		acc, ok := byDay[day]
		if !ok {
			acc = &dayAcc{}
			byDay[day] = acc
		}
		acc.distance.add(r.DistanceM)
		acc.duration.add(r.DurationS)
		acc.speed.add(r.AvgSpeedKmh)
		acc.temp.add(r.AirTempC)
	}

	out := make([]model.DailyAverage, 0, len(byDay))
	for day, acc := range byDay {
		out = append(out, model.DailyAverage{
			Day:         day,
			DistanceM:   a.mean(acc.distance),
			DurationS:   a.mean(acc.duration),
			AvgSpeedKmh: a.mean(acc.speed),
			AirTempC:    a.mean(acc.temp),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Day < out[j].Day })
	return out
}

func (a *Aggregator) mean(m meanAcc) model.Number {
	if m.n == 0 {
		return model.Number{}
	}
	return model.N(a.quotient(m.sum, decimal.NewFromInt(m.n)))
}

// Round rounds d to two decimals under the configured mode.
func (a *Aggregator) Round(d decimal.Decimal) float64 {
	return a.quotient(d, decimal.NewFromInt(1))
}

// quotient rounds num/den (den > 0) to two decimals from the exact remainder, so a quotient
// just below a tie is never pushed onto it by an intermediate rounding.
func (a *Aggregator) quotient(num, den decimal.Decimal) float64 {
	q, r := num.Shift(meanPlaces).QuoRem(den, 0)
	step := decimal.NewFromInt(int64(num.Sign()))
	two := decimal.NewFromInt(2)
	switch c := r.Abs().Mul(two).Cmp(den); {
	case c > 0:
		q = q.Add(step)
	case c == 0 && (a.rounding == RoundHalfUp || !q.Mod(two).IsZero()):
		q = q.Add(step)
	}
	return q.Shift(-meanPlaces).InexactFloat64()
}
