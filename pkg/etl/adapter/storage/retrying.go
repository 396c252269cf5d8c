package storage

import (
	"bytes"
	"context"
	"io"

	"github.com/tigerroll/citybike/pkg/etl/engine/retry"
)

// retryingConnection retries transient failures of a StorageConnection.
type retryingConnection struct {
	StorageConnection
	retrier *retry.Retrier
}

// WithRetry wraps conn so single-object calls are retried under retrier.
// Upload buffers the body so it can be replayed. ListObjects is not retried since fn may
// already have seen part of the listing.
func WithRetry(conn StorageConnection, retrier *retry.Retrier) StorageConnection {
	if retrier == nil {
		return conn
	}
	return &retryingConnection{StorageConnection: conn, retrier: retrier}
}

func (c *retryingConnection) Upload(ctx context.Context, bucket, objectName string, data io.Reader, contentType string) error {
	body, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	return c.retrier.Do(ctx, "storage.upload", func(ctx context.Context) error {
		return c.StorageConnection.Upload(ctx, bucket, objectName, bytes.NewReader(body), contentType)
	})
}

func (c *retryingConnection) Download(ctx context.Context, bucket, objectName string) (io.ReadCloser, error) {
	return retry.DoValue(ctx, c.retrier, "storage.download", func(ctx context.Context) (io.ReadCloser, error) {
		return c.StorageConnection.Download(ctx, bucket, objectName)
	})
}

func (c *retryingConnection) DeleteObject(ctx context.Context, bucket, objectName string) error {
	return c.retrier.Do(ctx, "storage.delete", func(ctx context.Context) error {
		return c.StorageConnection.DeleteObject(ctx, bucket, objectName)
	})
}
