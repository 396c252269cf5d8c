package delimited_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/citybike/pkg/etl/codec"
	"github.com/tigerroll/citybike/pkg/etl/codec/delimited"
	"github.com/tigerroll/citybike/pkg/etl/core/domain/model"
)

func TestEncodeDecode(t *testing.T) {
	table := model.Table{
		Header:  []string{"departure", "departure_name", "distance (m)"},
		Records: [][]string{{"2021-06-01T10:00:00", "Kamppi, (M)", "1200"}, {"2021-06-02T11:00:00", "Töölöntori", ""}},
	}
	var buf bytes.Buffer
	require.NoError(t, delimited.New().Encode(&buf, table))
	assert.Contains(t, buf.String(), `"Kamppi, (M)"`)

	got, err := delimited.New().Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, table, got)
}

func TestDecodeDropsIndexColumn(t *testing.T) {
	in := ",station_name,count_of_departures,count_of_returns\n0,A,2,0\n1,B,0,1\n"
	got, err := delimited.New().Decode(strings.NewReader(in))
	require.NoError(t, err)
	assert.Equal(t, []string{"station_name", "count_of_departures", "count_of_returns"}, got.Header)
	assert.Equal(t, []string{"B", "0", "1"}, got.Records[1])
}

func TestDecodeEmpty(t *testing.T) {
	got, err := delimited.New().Decode(strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, 0, got.Len())
}

func TestRegistered(t *testing.T) {
	c, err := codec.ForExtension(".CSV")
	require.NoError(t, err)
	assert.Equal(t, "text/csv", c.ContentType())
	_, err = codec.ForExtension("xlsx")
	assert.Error(t, err)
}
