// Package rabbitmq implements the queue adapter on a RabbitMQ work queue.
package rabbitmq

import (
	"context"
	"fmt"
	"io"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"golang.org/x/sync/errgroup"

	"github.com/tigerroll/citybike/pkg/etl/adapter/queue"
	queueConfig "github.com/tigerroll/citybike/pkg/etl/adapter/queue/config"
	coreAdapter "github.com/tigerroll/citybike/pkg/etl/core/adapter"
	"github.com/tigerroll/citybike/pkg/etl/core/config"
	"github.com/tigerroll/citybike/pkg/etl/support/util/exception"
	"github.com/tigerroll/citybike/pkg/etl/support/util/logger"
)

const (
	ProviderType = "rabbitmq"

	defaultPort  = 5672
	defaultVHost = "/"
)

// Channel is the subset of *amqp.Channel used by the adapter.
type Channel interface {
	Qos(prefetchCount, prefetchSize int, global bool) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

var _ Channel = (*amqp.Channel)(nil)

// BuildURL returns cfg.URL, or an amqp URL assembled from its parts.
func BuildURL(cfg queueConfig.QueueConfig) string {
	if cfg.URL != "" {
		return cfg.URL
	}
	port := cfg.Port
	if port == 0 {
		port = defaultPort
	}
	vhost := cfg.VHost
	if vhost == "" {
		vhost = defaultVHost
	}
	return fmt.Sprintf("amqp://%s:%s@%s:%d%s", cfg.User, cfg.Password, cfg.Host, port, vhost)
}

// Adapter consumes and publishes on one declared queue with manual acknowledgement.
type Adapter struct {
	ch   Channel
	conn io.Closer
	cfg  queueConfig.QueueConfig
	name string

	// amqp channels are not safe for concurrent publishing.
	pubMu sync.Mutex
}

var _ queue.QueueConnection = (*Adapter)(nil)

// NewAdapter declares cfg.Queue on ch. conn, when non-nil, is closed with the adapter.
func NewAdapter(ch Channel, conn io.Closer, cfg queueConfig.QueueConfig, name string) (*Adapter, error) {
	if cfg.Queue == "" {
		return nil, fmt.Errorf("rabbitmq connection '%s' has no queue", name)
	}
	if _, err := ch.QueueDeclare(cfg.Queue, cfg.Durable, false, false, false, nil); err != nil {
		return nil, exception.NewEtlError(ProviderType, fmt.Sprintf("declare queue '%s'", cfg.Queue), err, false, true)
	}
	return &Adapter{ch: ch, conn: conn, cfg: cfg, name: name}, nil
}

// Dial connects to the broker and opens a channel.
func Dial(cfg queueConfig.QueueConfig, name string) (*Adapter, error) {
	conn, err := amqp.Dial(BuildURL(cfg))
	if err != nil {
		return nil, exception.NewEtlError(ProviderType, "failed to connect to RabbitMQ", err, false, true)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, exception.NewEtlError(ProviderType, "failed to open channel", err, false, true)
	}
	a, err := NewAdapter(ch, conn, cfg, name)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}
	return a, nil
}

func (a *Adapter) Type() string { return ProviderType }
func (a *Adapter) Name() string { return a.name }

func (a *Adapter) Close() error {
	err := a.ch.Close()
	if a.conn != nil {
		if cerr := a.conn.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

func (a *Adapter) Publish(ctx context.Context, body []byte) error {
	mode := amqp.Transient
	if a.cfg.Durable {
		mode = amqp.Persistent
	}
	a.pubMu.Lock()
	defer a.pubMu.Unlock()
	err := a.ch.PublishWithContext(ctx, "", a.cfg.Queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: mode,
		Body:         body,
	})
	if err != nil {
		return exception.NewEtlError(ProviderType, fmt.Sprintf("publish to '%s'", a.cfg.Queue), err, false, true)
	}
	return nil
}

// Consume acks settled deliveries and requeues the rest. It returns nil when ctx is done
// and an error when the broker closes the delivery channel.
func (a *Adapter) Consume(ctx context.Context, sub queue.Subscription) error {
	limit := sub.Concurrency
	if limit < 1 {
		limit = 1
	}
	prefetch := a.cfg.Prefetch
	if prefetch < limit {
		prefetch = limit
	}
	if err := a.ch.Qos(prefetch, 0, false); err != nil {
		return exception.NewEtlError(ProviderType, "set qos", err, false, true)
	}
	deliveries, err := a.ch.Consume(a.cfg.Queue, "", false, false, false, false, nil)
	if err != nil {
		return exception.NewEtlError(ProviderType, fmt.Sprintf("consume '%s'", a.cfg.Queue), err, false, true)
	}
	logger.Infof("Consuming RabbitMQ queue %s (concurrency %d).", a.cfg.Queue, limit)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	defer g.Wait()
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("rabbitmq delivery channel for '%s' closed", a.cfg.Queue)
			}
			g.Go(func() error {
				handle(gctx, d, sub)
				return nil
			})
		}
	}
}

func handle(ctx context.Context, d amqp.Delivery, sub queue.Subscription) {
	err := sub.Handler(ctx, queue.Message{ID: d.MessageId, Body: d.Body})
	if err != nil {
		logger.Errorf("Message %s failed: %v", d.MessageId, err)
	}
	if sub.Settle(err) {
		if aerr := d.Ack(false); aerr != nil {
			logger.Warnf("Failed to ack message %s: %v", d.MessageId, aerr)
		}
		return
	}
	if nerr := d.Nack(false, true); nerr != nil {
		logger.Warnf("Failed to nack message %s: %v", d.MessageId, nerr)
	}
}

// Provider opens RabbitMQ connections from etl.adapter.queue.<name>.
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
			return Dial(qCfg, name)
		}),
	}
}
