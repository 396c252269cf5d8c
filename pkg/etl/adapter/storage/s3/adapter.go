// Package s3 implements the storage adapter on Amazon S3 (or any S3-compatible endpoint such as localstack).
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/tigerroll/citybike/pkg/etl/adapter/awsconf"
	storageAdapter "github.com/tigerroll/citybike/pkg/etl/adapter/storage"
	storageConfig "github.com/tigerroll/citybike/pkg/etl/adapter/storage/config"
	coreAdapter "github.com/tigerroll/citybike/pkg/etl/core/adapter"
	"github.com/tigerroll/citybike/pkg/etl/core/config"
	"github.com/tigerroll/citybike/pkg/etl/support/util/exception"
	"github.com/tigerroll/citybike/pkg/etl/support/util/logger"
)

const ProviderType = "s3"

// API is the subset of the S3 client used by the adapter.
type API interface {
	awss3.ListObjectsV2APIClient
	PutObject(ctx context.Context, params *awss3.PutObjectInput, optFns ...func(*awss3.Options)) (*awss3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *awss3.GetObjectInput, optFns ...func(*awss3.Options)) (*awss3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *awss3.DeleteObjectInput, optFns ...func(*awss3.Options)) (*awss3.DeleteObjectOutput, error)
}

var _ API = (*awss3.Client)(nil)

type s3Adapter struct {
	client API
	bucket string
	name   string
}

var _ storageAdapter.StorageConnection = (*s3Adapter)(nil)

// NewS3Adapter creates an adapter over an existing client.
func NewS3Adapter(client API, defaultBucket, name string) storageAdapter.StorageConnection {
	return &s3Adapter{client: client, bucket: defaultBucket, name: name}
}

// NewClient builds an S3 client from connection settings.
func NewClient(ctx context.Context, cfg storageConfig.StorageConfig) (*awss3.Client, error) {
	opts := awsconf.Options{
		Region:          cfg.Region,
		Endpoint:        cfg.Endpoint,
		AccessKeyID:     cfg.AccessKeyID,
		SecretAccessKey: cfg.SecretAccessKey,
	}
	awsCfg, err := awsconf.Load(ctx, opts)
	if err != nil {
		return nil, err
	}
	return awss3.NewFromConfig(awsCfg, func(o *awss3.Options) {
		o.BaseEndpoint = opts.BaseEndpoint()
		o.UsePathStyle = cfg.PathStyle
	}), nil
}

func (a *s3Adapter) Close() error { return nil }
func (a *s3Adapter) Type() string { return ProviderType }
func (a *s3Adapter) Name() string { return a.name }

func (a *s3Adapter) bucketOrDefault(bucket string) string {
	if bucket == "" {
		return a.bucket
	}
	return bucket
}

// Upload buffers non-seekable bodies so the SDK can compute the payload hash and length.
func (a *s3Adapter) Upload(ctx context.Context, bucket, objectName string, data io.Reader, contentType string) error {
	body, ok := data.(io.ReadSeeker)
	if !ok {
		buf, err := io.ReadAll(data)
		if err != nil {
			return fmt.Errorf("failed to read upload body for '%s': %w", objectName, err)
		}
		body = bytes.NewReader(buf)
	}
	input := &awss3.PutObjectInput{
		Bucket: aws.String(a.bucketOrDefault(bucket)),
		Key:    aws.String(objectName),
		Body:   body,
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	if _, err := a.client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("failed to put s3://%s/%s: %w", a.bucketOrDefault(bucket), objectName, err)
	}
	logger.Debugf("Uploaded s3://%s/%s (s3 adapter '%s').", a.bucketOrDefault(bucket), objectName, a.name)
	return nil
}

func (a *s3Adapter) Download(ctx context.Context, bucket, objectName string) (io.ReadCloser, error) {
	b := a.bucketOrDefault(bucket)
	out, err := a.client.GetObject(ctx, &awss3.GetObjectInput{
		Bucket: aws.String(b),
		Key:    aws.String(objectName),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, exception.NewObjectNotFoundError(ProviderType, b, objectName, err)
		}
		return nil, fmt.Errorf("failed to get s3://%s/%s: %w", b, objectName, err)
	}
	return out.Body, nil
}

func (a *s3Adapter) ListObjects(ctx context.Context, bucket, prefix string, fn func(objectName string) error) error {
	b := a.bucketOrDefault(bucket)
	paginator := awss3.NewListObjectsV2Paginator(a.client, &awss3.ListObjectsV2Input{
		Bucket: aws.String(b),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("failed to list s3://%s/%s: %w", b, prefix, err)
		}
		for _, obj := range page.Contents {
			if err := fn(aws.ToString(obj.Key)); err != nil {
				return err
			}
		}
	}
	return nil
}

func (a *s3Adapter) DeleteObject(ctx context.Context, bucket, objectName string) error {
	b := a.bucketOrDefault(bucket)
	if _, err := a.client.DeleteObject(ctx, &awss3.DeleteObjectInput{
		Bucket: aws.String(b),
		Key:    aws.String(objectName),
	}); err != nil {
		return fmt.Errorf("failed to delete s3://%s/%s: %w", b, objectName, err)
	}
	return nil
}

// S3Provider opens S3 connections from etl.adapter.storage.<name>.
type S3Provider struct {
	*coreAdapter.Registry[storageAdapter.StorageConnection]
}

// NewS3Provider creates a new S3Provider instance.
func NewS3Provider(cfg *config.Config) storageAdapter.StorageProvider {
	return &S3Provider{
		Registry: coreAdapter.NewRegistry(ProviderType, func(name string) (storageAdapter.StorageConnection, error) {
			var storageCfg storageConfig.StorageConfig
			if err := cfg.AdapterConfig(config.AdapterStorage, name, &storageCfg); err != nil {
				return nil, err
			}
			if storageCfg.Type != ProviderType {
				return nil, fmt.Errorf("storage config type mismatch for '%s': expected '%s', got '%s'", name, ProviderType, storageCfg.Type)
			}
			client, err := NewClient(context.Background(), storageCfg)
			if err != nil {
				return nil, err
			}
			return NewS3Adapter(client, storageCfg.BucketName, name), nil
		}),
	}
}
