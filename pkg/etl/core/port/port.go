// Package port declares the outbound contracts the components depend on.
package port

import (
	"context"
	"time"

	"github.com/tigerroll/citybike/pkg/etl/core/domain/model"
)

// TableWriter writes records into a table store.
type TableWriter interface {
	// CreateTable creates def if it does not exist yet. An existing table is not an error.
	CreateTable(ctx context.Context, def model.TableDefinition) error
	// PutItem inserts rec or replaces the item with the same id.
	PutItem(ctx context.Context, rec model.TableRecord) error
}

// NotificationLedger remembers which object notifications were processed. A claim is a
// lease held by owner: it lapses after ttl unless completed, so a consumer that dies mid-way
// does not block redeliveries forever.
type NotificationLedger interface {
	// Claim leases key to owner. It returns false when key is completed or leased to another
	// owner whose lease has not expired. Claiming again as the same owner succeeds.
	Claim(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)
	// Complete marks key processed; later claims return false.
	Complete(ctx context.Context, key, owner string) error
	// Release drops the unfinished lease owner holds on key so a redelivery is processed again.
	Release(ctx context.Context, key, owner string) error
}

// ObjectCreated describes a blob written by the chunk job.
type ObjectCreated struct {
	Bucket string
	Key    string
	Size   int64
	ETag   string
}

// Notifier announces new blobs to the loader when the object store does not do it itself.
type Notifier interface {
	Notify(ctx context.Context, obj ObjectCreated) error
}
