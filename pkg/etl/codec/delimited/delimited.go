// Package delimited reads and writes comma-separated blobs with a header row.
package delimited

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"

	"github.com/tigerroll/citybike/pkg/etl/codec"
	"github.com/tigerroll/citybike/pkg/etl/core/domain/model"
)

const Extension = "csv"

// Codec is the CSV container. A leading unnamed index column (as written by dataframe
// exports) is dropped on decode.
type Codec struct {
	Comma rune
}

func init() {
	codec.Register(New())
}

func New() *Codec {
	return &Codec{Comma: ','}
}

func (c *Codec) Extension() string   { return Extension }
func (c *Codec) ContentType() string { return "text/csv" }

func (c *Codec) Encode(w io.Writer, t model.Table) error {
	cw := csv.NewWriter(w)
	cw.Comma = c.Comma
	if err := cw.Write(t.Header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if err := cw.WriteAll(t.Records); err != nil {
		return fmt.Errorf("write records: %w", err)
	}
	return nil
}

func (c *Codec) Decode(r io.Reader) (model.Table, error) {
	cr := csv.NewReader(r)
	cr.Comma = c.Comma
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = false

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return model.Table{}, nil
	}
	if err != nil {
		return model.Table{}, fmt.Errorf("read header: %w", err)
	}
	dropIndex := len(header) > 0 && header[0] == ""
	if dropIndex {
		header = header[1:]
	}

	t := model.Table{Header: header}
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return model.Table{}, fmt.Errorf("read record %d: %w", len(t.Records), err)
		}
		if dropIndex && len(rec) > 0 {
			rec = rec[1:]
		}
		t.Records = append(t.Records, rec)
	}
	return t, nil
}

var _ codec.Codec = (*Codec)(nil)
