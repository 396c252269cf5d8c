package model

import (
	"fmt"
	"net/url"
	"path"
	"strings"
)

// Category is the logical kind of a blob.
type Category int

const (
	CategoryRaw Category = iota
	CategoryStationMetric
	CategoryDailyMetric
)

func (c Category) String() string {
	switch c {
	case CategoryStationMetric:
		return "station-metric"
	case CategoryDailyMetric:
		return "daily-metric"
	default:
		return "raw"
	}
}

// Metric blob name suffixes.
const (
	StationMetricSuffix = "-get_bike_count"
	DailyMetricSuffix   = "-avg_metrics_by_day"
)

// BlobLayout names blobs inside the object store.
type BlobLayout struct {
	RawPrefix    string
	MetricPrefix string
	// Extension is the container extension without the dot, e.g. "csv".
	Extension string
}

// RawKey is "<raw_prefix>/<YYYY-MM>.<ext>".
func (l BlobLayout) RawKey(k PartitionKey) string {
	return path.Join(l.RawPrefix, fmt.Sprintf("%s.%s", k, l.Extension))
}

// StationMetricKey is "<metric_prefix>/<YYYY-MM>-get_bike_count.<ext>".
func (l BlobLayout) StationMetricKey(k PartitionKey) string {
	return path.Join(l.MetricPrefix, fmt.Sprintf("%s%s.%s", k, StationMetricSuffix, l.Extension))
}

// DailyMetricKey is "<metric_prefix>/<YYYY-MM>-avg_metrics_by_day.<ext>".
func (l BlobLayout) DailyMetricKey(k PartitionKey) string {
	return path.Join(l.MetricPrefix, fmt.Sprintf("%s%s.%s", k, DailyMetricSuffix, l.Extension))
}

// BlobRef is a classified object key.
type BlobRef struct {
	Key string
	// Base is the file name without extension.
	Base string
	// Extension is without the dot.
	Extension string
	Category  Category
	// Partition is empty when the name does not start with YYYY-MM.
	Partition PartitionKey
}

// ClassifyKey decides whether key refers to raw or metric data. A key whose path contains
// rawMarker is raw; otherwise it is a metric blob, daily when its name carries the daily suffix.
func ClassifyKey(key, rawMarker string) (BlobRef, error) {
	if key == "" || strings.HasSuffix(key, "/") {
		return BlobRef{}, fmt.Errorf("object key %q does not name a blob", key)
	}
	name := path.Base(key)
	ext := strings.TrimPrefix(path.Ext(name), ".")
	base := strings.TrimSuffix(name, path.Ext(name))

	ref := BlobRef{Key: key, Base: base, Extension: strings.ToLower(ext)}
	switch {
	case rawMarker != "" && strings.Contains(key, rawMarker):
		ref.Category = CategoryRaw
	case strings.HasSuffix(base, DailyMetricSuffix):
		ref.Category = CategoryDailyMetric
	default:
		ref.Category = CategoryStationMetric
	}

	if len(base) >= len(partitionLayout) {
		if pk, err := ParsePartitionKey(base[:len(partitionLayout)]); err == nil {
			ref.Partition = pk
		}
	}
	if ref.Category == CategoryRaw && ref.Partition == "" {
		return BlobRef{}, fmt.Errorf("raw blob %q is not named after a YYYY-MM partition", key)
	}
	return ref, nil
}

// DecodeObjectKey undoes the form encoding of keys in object-created notifications ("+" is a space).
func DecodeObjectKey(key string) (string, error) {
	decoded, err := url.QueryUnescape(key)
	if err != nil {
		return "", fmt.Errorf("object key %q is not URL-encoded: %w", key, err)
	}
	return decoded, nil
}

// TableName returns the target table of a blob: the partition for raw rows, the blob name for
// station metrics, and dailyTable for daily averages.
func (r BlobRef) TableName(dailyTable string) string {
	switch r.Category {
	case CategoryRaw:
		return string(r.Partition)
	case CategoryDailyMetric:
		return dailyTable
	default:
		return r.Base
	}
}
