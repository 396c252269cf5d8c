package model

import (
	"strconv"
)

// StationCount is the departure/return tally of one station within a partition.
type StationCount struct {
	StationName       string
	CountOfDepartures int64
	CountOfReturns    int64
}

// DailyAverage holds per-day means, already rounded to two decimals. Invalid means had no input values.
type DailyAverage struct {
	Day         string
	DistanceM   Number
	DurationS   Number
	AvgSpeedKmh Number
	AirTempC    Number
}

// MetricBlob is a serialized aggregate tagged with its originating partition.
type MetricBlob struct {
	Kind Category
	Key  PartitionKey
	Table
}

// EncodeStationCounts renders station counts as a metric table.
func EncodeStationCounts(key PartitionKey, counts []StationCount) MetricBlob {
	t := Table{Header: StationCountSchema.Names(), Records: make([][]string, 0, len(counts))}
	for _, c := range counts {
		t.Records = append(t.Records, []string{
			c.StationName,
			strconv.FormatInt(c.CountOfDepartures, 10),
			strconv.FormatInt(c.CountOfReturns, 10),
		})
	}
	return MetricBlob{Kind: CategoryStationMetric, Key: key, Table: t}
}

// EncodeDailyAverages renders daily averages with exactly two decimals.
func EncodeDailyAverages(key PartitionKey, averages []DailyAverage) MetricBlob {
	t := Table{Header: DailyAverageSchema.Names(), Records: make([][]string, 0, len(averages))}
	for _, a := range averages {
		t.Records = append(t.Records, []string{
			a.Day,
			fixed2(a.DistanceM),
			fixed2(a.DurationS),
			fixed2(a.AvgSpeedKmh),
			fixed2(a.AirTempC),
		})
	}
	return MetricBlob{Kind: CategoryDailyMetric, Key: key, Table: t}
}

func fixed2(n Number) string {
	if !n.Valid {
		return ""
	}
	return strconv.FormatFloat(n.Value, 'f', 2, 64)
}
