// Package codec converts blob bytes to and from model.Table.
package codec

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/tigerroll/citybike/pkg/etl/core/domain/model"
)

// Codec is a blob container format.
type Codec interface {
	// Extension is the file extension without the dot.
	Extension() string
	ContentType() string
	Encode(w io.Writer, t model.Table) error
	Decode(r io.Reader) (model.Table, error)
}

var (
	registryMu sync.RWMutex
	registry   = map[string]Codec{}
)

// Register makes a codec available by its extension. Codec packages call it from init.
func Register(c Codec) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[strings.ToLower(c.Extension())] = c
}

// ForExtension returns the codec for a blob extension ("csv", "parquet").
func ForExtension(ext string) (Codec, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	c, ok := registry[strings.ToLower(strings.TrimPrefix(ext, "."))]
	if !ok {
		return nil, fmt.Errorf("no codec registered for extension '%s'", ext)
	}
	return c, nil
}
