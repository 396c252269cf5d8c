// Package sqs implements the queue adapter on Amazon SQS (or localstack).
package sqs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awssqs "github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"golang.org/x/sync/errgroup"

	"github.com/tigerroll/citybike/pkg/etl/adapter/awsconf"
	"github.com/tigerroll/citybike/pkg/etl/adapter/queue"
	queueConfig "github.com/tigerroll/citybike/pkg/etl/adapter/queue/config"
	coreAdapter "github.com/tigerroll/citybike/pkg/etl/core/adapter"
	"github.com/tigerroll/citybike/pkg/etl/core/config"
	"github.com/tigerroll/citybike/pkg/etl/support/util/exception"
	"github.com/tigerroll/citybike/pkg/etl/support/util/logger"
)

const (
	ProviderType = "sqs"

	defaultWaitSeconds = 20
	defaultMaxMessages = 10
	// receiveErrorPause throttles the poll loop after a failed receive.
	receiveErrorPause = time.Second
)

// API is the subset of the SQS client used by the adapter.
type API interface {
	ReceiveMessage(ctx context.Context, params *awssqs.ReceiveMessageInput, optFns ...func(*awssqs.Options)) (*awssqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *awssqs.DeleteMessageInput, optFns ...func(*awssqs.Options)) (*awssqs.DeleteMessageOutput, error)
	SendMessage(ctx context.Context, params *awssqs.SendMessageInput, optFns ...func(*awssqs.Options)) (*awssqs.SendMessageOutput, error)
	GetQueueUrl(ctx context.Context, params *awssqs.GetQueueUrlInput, optFns ...func(*awssqs.Options)) (*awssqs.GetQueueUrlOutput, error)
}

var _ API = (*awssqs.Client)(nil)

// Adapter long-polls one queue and deletes messages once they are settled.
type Adapter struct {
	client API
	cfg    queueConfig.QueueConfig
	name   string

	urlMu sync.Mutex
	url   string
}

var _ queue.QueueConnection = (*Adapter)(nil)

func NewAdapter(client API, cfg queueConfig.QueueConfig, name string) *Adapter {
	if cfg.WaitSeconds <= 0 {
		cfg.WaitSeconds = defaultWaitSeconds
	}
	if cfg.MaxMessages <= 0 || cfg.MaxMessages > defaultMaxMessages {
		cfg.MaxMessages = defaultMaxMessages
	}
	return &Adapter{client: client, cfg: cfg, name: name}
}

// NewClient builds an SQS client from connection settings.
func NewClient(ctx context.Context, cfg queueConfig.QueueConfig) (*awssqs.Client, error) {
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
	return awssqs.NewFromConfig(awsCfg, func(o *awssqs.Options) {
		o.BaseEndpoint = opts.BaseEndpoint()
	}), nil
}

func (a *Adapter) Close() error { return nil }
func (a *Adapter) Type() string { return ProviderType }
func (a *Adapter) Name() string { return a.name }

// queueURL resolves the queue URL, by name when no URL is configured. Only a resolved URL is
// cached; a failed lookup is retried on the next call.
func (a *Adapter) queueURL(ctx context.Context) (string, error) {
	if a.cfg.QueueURL != "" {
		return a.cfg.QueueURL, nil
	}
	if a.cfg.QueueName == "" {
		return "", fmt.Errorf("sqs connection '%s' has neither queue_url nor queue_name", a.name)
	}

	a.urlMu.Lock()
	defer a.urlMu.Unlock()
	if a.url != "" {
		return a.url, nil
	}
	out, err := a.client.GetQueueUrl(ctx, &awssqs.GetQueueUrlInput{QueueName: aws.String(a.cfg.QueueName)})
	if err != nil {
		return "", exception.NewEtlError(ProviderType, fmt.Sprintf("resolve queue '%s'", a.cfg.QueueName), err, false, exception.IsTemporary(err))
	}
	a.url = aws.ToString(out.QueueUrl)
	return a.url, nil
}

func (a *Adapter) Publish(ctx context.Context, body []byte) error {
	url, err := a.queueURL(ctx)
	if err != nil {
		return err
	}
	_, err = a.client.SendMessage(ctx, &awssqs.SendMessageInput{
		QueueUrl:    aws.String(url),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		return exception.NewEtlError(ProviderType, "send message", err, false, exception.IsTemporary(err))
	}
	return nil
}

// Consume long-polls until ctx is done. Settled messages are deleted; the others become
// visible again after the visibility timeout.
func (a *Adapter) Consume(ctx context.Context, sub queue.Subscription) error {
	url, err := a.queueURL(ctx)
	if err != nil {
		return err
	}
	limit := sub.Concurrency
	if limit < 1 {
		limit = 1
	}
	logger.Infof("Consuming SQS queue %s (concurrency %d).", url, limit)

	for {
		if ctx.Err() != nil {
			return nil
		}
		out, err := a.client.ReceiveMessage(ctx, &awssqs.ReceiveMessageInput{
			QueueUrl:            aws.String(url),
			MaxNumberOfMessages: a.cfg.MaxMessages,
			WaitTimeSeconds:     a.cfg.WaitSeconds,
			VisibilityTimeout:   a.cfg.VisibilityTimeout,
		})
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			logger.Warnf("SQS receive failed: %v", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(receiveErrorPause):
			}
			continue
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(limit)
		for _, m := range out.Messages {
			m := m
			g.Go(func() error {
				a.handle(gctx, url, m, sub)
				return nil
			})
		}
		_ = g.Wait()
	}
}

func (a *Adapter) handle(ctx context.Context, url string, m types.Message, sub queue.Subscription) {
	id := aws.ToString(m.MessageId)
	err := sub.Handler(ctx, queue.Message{ID: id, Body: []byte(aws.ToString(m.Body))})
	if err != nil {
		logger.Errorf("Message %s failed: %v", id, err)
	}
	if !sub.Settle(err) {
		return
	}
	// Deletion must survive the consumer shutting down mid-batch.
	_, derr := a.client.DeleteMessage(context.WithoutCancel(ctx), &awssqs.DeleteMessageInput{
		QueueUrl:      aws.String(url),
		ReceiptHandle: m.ReceiptHandle,
	})
	if derr != nil {
		logger.Warnf("Failed to delete message %s: %v", id, derr)
	}
}

// Provider opens SQS connections from etl.adapter.queue.<name>.
type Provider struct {
	*coreAdapter.Registry[queue.QueueConnection]
}

func NewProvider(cfg *config.Config) queue.QueueProvider {
	return &Provider{
		Registry: coreAdapter.NewRegistry(ProviderType, func(name string) (queue.QueueConnection, error) {
			var qCfg queueConfig.QueueConfig
			if err := cfg.AdapterConfig(config.AdapterQueue, name, &qCfg); err != nil {
				return nil, err
			}
			if qCfg.Type != ProviderType {
				return nil, fmt.Errorf("queue config type mismatch for '%s': expected '%s', got '%s'", name, ProviderType, qCfg.Type)
			}
			client, err := NewClient(context.Background(), qCfg)
			if err != nil {
				return nil, err
			}
			return NewAdapter(client, qCfg, name), nil
		}),
	}
}
