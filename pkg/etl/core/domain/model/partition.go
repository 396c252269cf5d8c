package model

import (
	"fmt"
	"time"
)

// PartitionKey is the year-month bucket of a row, e.g. "2021-06".
type PartitionKey string

const partitionLayout = "2006-01"

// PartitionKeyOf truncates t to its calendar month.
func PartitionKeyOf(t time.Time) PartitionKey {
	return PartitionKey(t.Format(partitionLayout))
}

// ParsePartitionKey validates a "YYYY-MM" string.
func ParsePartitionKey(s string) (PartitionKey, error) {
	if len(s) != len(partitionLayout) {
		return "", fmt.Errorf("partition key %q is not YYYY-MM", s)
	}
	if _, err := time.Parse(partitionLayout, s); err != nil {
		return "", fmt.Errorf("partition key %q is not YYYY-MM: %w", s, err)
	}
	return PartitionKey(s), nil
}

func (k PartitionKey) String() string {
	return string(k)
}

// RawBlob is the rows of one partition with the original columns, in source order.
type RawBlob struct {
	Key PartitionKey
	Table
}
