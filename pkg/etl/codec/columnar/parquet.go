// Package columnar stores blobs as parquet files. Every column is a UTF-8 string
// so cells round-trip verbatim; the original header titles travel in the file's
// key/value metadata because they are not valid parquet column names.
package columnar

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/xitongsys/parquet-go-source/buffer"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/reader"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/tigerroll/citybike/pkg/etl/codec"
	"github.com/tigerroll/citybike/pkg/etl/core/domain/model"
)

const (
	Extension = "parquet"
	headerKey = "citybike.header"
)

// Codec is the parquet container.
type Codec struct {
	// CompressionType is SNAPPY, GZIP or NONE.
	CompressionType string
}

func init() {
	codec.Register(New("SNAPPY"))
}

func New(compression string) *Codec {
	return &Codec{CompressionType: compression}
}

func (c *Codec) Extension() string   { return Extension }
func (c *Codec) ContentType() string { return "application/vnd.apache.parquet" }

func (c *Codec) Encode(w io.Writer, t model.Table) (err error) {
	compression, err := compressionCodec(c.CompressionType)
	if err != nil {
		return err
	}

	md := make([]string, len(t.Header))
	for i := range t.Header {
		md[i] = fmt.Sprintf("name=c%d, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN", i)
	}
	pw, err := writer.NewCSVWriterFromWriter(md, w, 1)
	if err != nil {
		return fmt.Errorf("create parquet writer: %w", err)
	}
	pw.CompressionType = compression

	headerJSON, err := json.Marshal(t.Header)
	if err != nil {
		return fmt.Errorf("encode header: %w", err)
	}
	headerValue := string(headerJSON)
	pw.Footer.KeyValueMetadata = append(pw.Footer.KeyValueMetadata, &parquet.KeyValue{Key: headerKey, Value: &headerValue})

	for i := range t.Records {
		rec := make([]*string, len(t.Header))
		for col := range rec {
			cell := t.Cell(i, col)
			rec[col] = &cell
		}
		if err := pw.WriteString(rec); err != nil {
			return fmt.Errorf("write record %d: %w", i, err)
		}
	}

	// The library panics on some malformed inputs during finalization.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("parquet writer panicked during WriteStop: %v", r)
		}
	}()
	if err := pw.WriteStop(); err != nil {
		return fmt.Errorf("finalize parquet file: %w", err)
	}
	return nil
}

func (c *Codec) Decode(r io.Reader) (model.Table, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return model.Table{}, fmt.Errorf("read parquet blob: %w", err)
	}
	pf, err := buffer.NewBufferFile(data)
	if err != nil {
		return model.Table{}, fmt.Errorf("open parquet buffer: %w", err)
	}
	pr, err := reader.NewParquetColumnReader(pf, 1)
	if err != nil {
		return model.Table{}, fmt.Errorf("open parquet reader: %w", err)
	}
	defer pr.ReadStop()

	var header []string
	for _, kv := range pr.Footer.GetKeyValueMetadata() {
		if kv.Key == headerKey && kv.Value != nil {
			if err := json.Unmarshal([]byte(*kv.Value), &header); err != nil {
				return model.Table{}, fmt.Errorf("decode header metadata: %w", err)
			}
		}
	}
	if header == nil {
		return model.Table{}, fmt.Errorf("parquet blob has no '%s' metadata", headerKey)
	}

	numRows := pr.GetNumRows()
	t := model.Table{Header: header, Records: make([][]string, numRows)}
	for i := range t.Records {
		t.Records[i] = make([]string, len(header))
	}
	if numRows == 0 {
		return t, nil
	}
	for col := range header {
		values, _, _, err := pr.ReadColumnByIndex(int64(col), numRows)
		if err != nil {
			return model.Table{}, fmt.Errorf("read column %d: %w", col, err)
		}
		if int64(len(values)) != numRows {
			return model.Table{}, fmt.Errorf("column %d has %d values, expected %d", col, len(values), numRows)
		}
		for row, v := range values {
			if s, ok := v.(string); ok {
				t.Records[row][col] = s
			}
		}
	}
	return t, nil
}

func compressionCodec(compressionType string) (parquet.CompressionCodec, error) {
	switch strings.ToUpper(compressionType) {
	case "SNAPPY":
		return parquet.CompressionCodec_SNAPPY, nil
	case "GZIP":
		return parquet.CompressionCodec_GZIP, nil
	case "NONE", "":
		return parquet.CompressionCodec_UNCOMPRESSED, nil
	default:
		return 0, fmt.Errorf("unsupported compression type: %s", compressionType)
	}
}

// EncodeBytes is a convenience for callers that upload from memory.
func (c *Codec) EncodeBytes(t model.Table) ([]byte, error) {
	var buf bytes.Buffer
	if err := c.Encode(&buf, t); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

var _ codec.Codec = (*Codec)(nil)
