package partitioner_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/citybike/pkg/etl/component/partitioner"
	"github.com/tigerroll/citybike/pkg/etl/core/domain/model"
	"github.com/tigerroll/citybike/pkg/etl/support/util/exception"
)

func tripTable(departures ...string) model.Table {
	t := model.Table{Header: []string{"departure", "return", "departure_name", "return_name", "distance (m)", "duration (sec.)"}}
	for i, d := range departures {
		t.Records = append(t.Records, []string{d, d, fmt.Sprintf("S%d", i), "R", "100", "60"})
	}
	return t
}

func TestPartitionGroupsByMonth(t *testing.T) {
	table := tripTable(
		"2021-06-30T23:59:59",
		"2021-05-01 00:00:00",
		"2021-06-01T00:00:00",
		"2021-07-15T12:00:00",
		"2021-05-31T08:00:00",
	)
	p := partitioner.NewMonthPartitioner("departure", time.UTC)
	blobs, err := p.Partition(context.Background(), table)
	require.NoError(t, err)
	require.Len(t, blobs, 3)

	assert.Equal(t, model.PartitionKey("2021-05"), blobs[0].Key)
	assert.Equal(t, model.PartitionKey("2021-06"), blobs[1].Key)
	assert.Equal(t, model.PartitionKey("2021-07"), blobs[2].Key)

	// Original column set and in-group source order.
	assert.Equal(t, table.Header, blobs[1].Header)
	assert.Equal(t, "S0", blobs[1].Records[0][2])
	assert.Equal(t, "S2", blobs[1].Records[1][2])
	assert.Equal(t, "S1", blobs[0].Records[0][2])
	assert.Equal(t, "S4", blobs[0].Records[1][2])
}

func TestPartitionIsDisjointAndComplete(t *testing.T) {
	var departures []string
	start := time.Date(2020, 11, 3, 7, 0, 0, 0, time.UTC)
	for i := 0; i < 200; i++ {
		departures = append(departures, start.Add(time.Duration(i)*37*time.Hour).Format(model.TimestampLayout))
	}
	table := tripTable(departures...)

	blobs, err := partitioner.NewMonthPartitioner("departure_time", time.UTC).Partition(context.Background(), table)
	require.NoError(t, err)

	seen := map[string]int{}
	total := 0
	for _, b := range blobs {
		for _, rec := range b.Records {
			ts, err := model.ParseTimestamp(rec[0], time.UTC)
			require.NoError(t, err)
			assert.Equal(t, b.Key, model.PartitionKeyOf(ts))
			seen[rec[2]]++
			total++
		}
	}
	assert.Equal(t, table.Len(), total)
	for name, n := range seen {
		assert.Equal(t, 1, n, "row %s emitted more than once", name)
	}
}

func TestPartitionFailsWholeTableOnBadTimestamp(t *testing.T) {
	table := tripTable("2021-06-01T00:00:00", "not a date", "2021-07-01T00:00:00")
	blobs, err := partitioner.NewMonthPartitioner("departure", time.UTC).Partition(context.Background(), table)
	require.Error(t, err)
	assert.Nil(t, blobs)
	assert.True(t, exception.IsMalformedInput(err))
	assert.Contains(t, err.Error(), "row 1")
}

func TestPartitionMissingTimestampColumn(t *testing.T) {
	table := model.Table{Header: []string{"return", "distance (m)"}, Records: [][]string{{"2021-06-01", "1"}}}
	_, err := partitioner.NewMonthPartitioner("departure", time.UTC).Partition(context.Background(), table)
	assert.True(t, exception.IsMalformedInput(err))
}

func TestPartitionEmptyTable(t *testing.T) {
	blobs, err := partitioner.NewMonthPartitioner("departure", time.UTC).Partition(context.Background(), tripTable())
	require.NoError(t, err)
	assert.Empty(t, blobs)
}

func TestPartitionUsesConfiguredZone(t *testing.T) {
	helsinki, err := time.LoadLocation("Europe/Helsinki")
	require.NoError(t, err)
	table := tripTable("2021-06-30T22:30:00Z")
	blobs, err := partitioner.NewMonthPartitioner("departure", helsinki).Partition(context.Background(), table)
	require.NoError(t, err)
	assert.Equal(t, model.PartitionKey("2021-07"), blobs[0].Key)
}
