package columnar_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/citybike/pkg/etl/codec"
	"github.com/tigerroll/citybike/pkg/etl/codec/columnar"
	"github.com/tigerroll/citybike/pkg/etl/core/domain/model"
)

func TestParquetRoundTrip(t *testing.T) {
	table := model.Table{
		Header: []string{"departure", "departure_name", "distance (m)", "Air temperature (degC)"},
		Records: [][]string{
			{"2021-06-01T10:00:00", "Kamppi (M)", "1200", "15.1"},
			{"2021-06-01T10:05:00", "Töölöntori", "845.5", ""},
		},
	}
	for _, compression := range []string{"SNAPPY", "GZIP", "NONE"} {
		t.Run(compression, func(t *testing.T) {
			c := columnar.New(compression)
			data, err := c.EncodeBytes(table)
			require.NoError(t, err)

			got, err := c.Decode(bytes.NewReader(data))
			require.NoError(t, err)
			assert.Equal(t, table, got)
		})
	}
}

func TestParquetRejectsUnknownCompression(t *testing.T) {
	err := columnar.New("LZMA").Encode(&bytes.Buffer{}, model.Table{Header: []string{"a"}})
	assert.Error(t, err)
}

func TestParquetRegistered(t *testing.T) {
	c, err := codec.ForExtension("parquet")
	require.NoError(t, err)
	assert.Equal(t, "parquet", c.Extension())
}
