// Package gcs implements the storage adapter on Google Cloud Storage.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"

	gstorage "cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	storageAdapter "github.com/tigerroll/citybike/pkg/etl/adapter/storage"
	storageConfig "github.com/tigerroll/citybike/pkg/etl/adapter/storage/config"
	coreAdapter "github.com/tigerroll/citybike/pkg/etl/core/adapter"
	"github.com/tigerroll/citybike/pkg/etl/core/config"
	"github.com/tigerroll/citybike/pkg/etl/support/util/exception"
	"github.com/tigerroll/citybike/pkg/etl/support/util/logger"
)

const ProviderType = "gcs"

type gcsAdapter struct {
	client *gstorage.Client
	bucket string
	name   string
}

var _ storageAdapter.StorageConnection = (*gcsAdapter)(nil)

// ClientOptions maps connection settings to client options. An endpoint without
// credentials targets an emulator and disables authentication.
func ClientOptions(cfg storageConfig.StorageConfig) []option.ClientOption {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
		if cfg.CredentialsFile == "" {
			opts = append(opts, option.WithoutAuthentication())
		}
	}
	return opts
}

// NewGCSAdapter opens a client for the configured connection.
func NewGCSAdapter(ctx context.Context, cfg storageConfig.StorageConfig, name string) (storageAdapter.StorageConnection, error) {
	client, err := gstorage.NewClient(ctx, ClientOptions(cfg)...)
	if err != nil {
		return nil, fmt.Errorf("gcs storage adapter '%s': failed to create client: %w", name, err)
	}
	return &gcsAdapter{client: client, bucket: cfg.BucketName, name: name}, nil
}

func (a *gcsAdapter) Close() error {
	logger.Debugf("GCS storage adapter '%s' closed.", a.name)
	return a.client.Close()
}

func (a *gcsAdapter) Type() string { return ProviderType }
func (a *gcsAdapter) Name() string { return a.name }

func (a *gcsAdapter) bucketOrDefault(bucket string) string {
	if bucket == "" {
		return a.bucket
	}
	return bucket
}

func (a *gcsAdapter) Upload(ctx context.Context, bucket, objectName string, data io.Reader, contentType string) error {
	b := a.bucketOrDefault(bucket)
	w := a.client.Bucket(b).Object(objectName).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := io.Copy(w, data); err != nil {
		w.Close()
		return fmt.Errorf("failed to write gs://%s/%s: %w", b, objectName, err)
	}
	// The object is committed on Close.
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to commit gs://%s/%s: %w", b, objectName, err)
	}
	logger.Debugf("Uploaded gs://%s/%s (gcs adapter '%s').", b, objectName, a.name)
	return nil
}

func (a *gcsAdapter) Download(ctx context.Context, bucket, objectName string) (io.ReadCloser, error) {
	b := a.bucketOrDefault(bucket)
	r, err := a.client.Bucket(b).Object(objectName).NewReader(ctx)
	if err != nil {
		if errors.Is(err, gstorage.ErrObjectNotExist) {
			return nil, exception.NewObjectNotFoundError(ProviderType, b, objectName, err)
		}
		return nil, fmt.Errorf("failed to read gs://%s/%s: %w", b, objectName, err)
	}
	return r, nil
}

func (a *gcsAdapter) ListObjects(ctx context.Context, bucket, prefix string, fn func(objectName string) error) error {
	b := a.bucketOrDefault(bucket)
	it := a.client.Bucket(b).Objects(ctx, &gstorage.Query{Prefix: prefix})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to list gs://%s/%s: %w", b, prefix, err)
		}
		if err := fn(attrs.Name); err != nil {
			return err
		}
	}
}

func (a *gcsAdapter) DeleteObject(ctx context.Context, bucket, objectName string) error {
	b := a.bucketOrDefault(bucket)
	if err := a.client.Bucket(b).Object(objectName).Delete(ctx); err != nil {
		if errors.Is(err, gstorage.ErrObjectNotExist) {
			return nil
		}
		return fmt.Errorf("failed to delete gs://%s/%s: %w", b, objectName, err)
	}
	return nil
}

// GCSProvider opens GCS connections from etl.adapter.storage.<name>.
type GCSProvider struct {
	*coreAdapter.Registry[storageAdapter.StorageConnection]
}

// NewGCSProvider creates a new GCSProvider instance.
func NewGCSProvider(cfg *config.Config) storageAdapter.StorageProvider {
	return &GCSProvider{
		Registry: coreAdapter.NewRegistry(ProviderType, func(name string) (storageAdapter.StorageConnection, error) {
			var storageCfg storageConfig.StorageConfig
			if err := cfg.AdapterConfig(config.AdapterStorage, name, &storageCfg); err != nil {
				return nil, err
			}
			if storageCfg.Type != ProviderType {
				return nil, fmt.Errorf("storage config type mismatch for '%s': expected '%s', got '%s'", name, ProviderType, storageCfg.Type)
			}
			return NewGCSAdapter(context.Background(), storageCfg, name)
		}),
	}
}
