package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/aws/aws-lambda-go/lambda"
	"go.uber.org/fx"

	"github.com/tigerroll/citybike/pkg/etl/adapter/queue"
	"github.com/tigerroll/citybike/pkg/etl/component/router"
	"github.com/tigerroll/citybike/pkg/etl/core/config"
	"github.com/tigerroll/citybike/pkg/etl/support/util/logger"
)

// LambdaRuntimeEnv is set by the AWS Lambda runtime.
const LambdaRuntimeEnv = "AWS_LAMBDA_RUNTIME_API"

// RunLoader starts the notification-driven loader: a Lambda SQS handler when running
// inside Lambda, otherwise a long-running consumer of etl.consumer.queue_ref.
func RunLoader(appCtx context.Context, envFilePath string, embeddedConfig config.EmbeddedConfig, dbProviderOptions []fx.Option) {
	if os.Getenv(LambdaRuntimeEnv) != "" {
		runLambda(appCtx, envFilePath, embeddedConfig, dbProviderOptions)
		return
	}
	app := fx.New(
		CommonOptions(envFilePath, embeddedConfig, dbProviderOptions),
		router.Module,
		fx.Supply(fx.Annotate(appCtx, fx.As(new(context.Context)), fx.ResultTags(`name:"appCtx"`))),
		fx.Invoke(fx.Annotate(startConsumer, fx.ParamTags("", "", "", "", "", `name:"appCtx"`))),
	)
	app.Run()
	if app.Err() != nil {
		logger.Fatalf("Application run failed: %v", app.Err())
	}
}

func runLambda(appCtx context.Context, envFilePath string, embeddedConfig config.EmbeddedConfig, dbProviderOptions []fx.Option) {
	var r *router.Router
	app := fx.New(
		CommonOptions(envFilePath, embeddedConfig, dbProviderOptions),
		router.Module,
		fx.Populate(&r),
	)
	if err := app.Start(appCtx); err != nil {
		logger.Fatalf("Application start failed: %v", err)
	}
	logger.Infof("Starting Lambda SQS handler.")
	// lambda.Start does not return.
	lambda.Start(r.HandleSQSEvent)
}

// consumer runs the queue subscription between OnStart and OnStop.
type consumer struct {
	conn   queue.QueueConnection
	router *router.Router
	cfg    config.ConsumerConfig

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func (c *consumer) subscription() queue.Subscription {
	return queue.Subscription{
		Handler: func(ctx context.Context, msg queue.Message) error {
			logger.With("message_id", msg.ID).Debugf("Handling notification.")
			return c.router.HandleMessage(ctx, msg.Body)
		},
		Permanent:   router.IsPermanent,
		Concurrency: c.cfg.Concurrency,
	}
}

// run consumes until ctx is done. A failed connection is reopened at most
// cfg.ReconnectAttempts times.
func (c *consumer) run(ctx context.Context, queues queue.QueueConnectionResolver) error {
	for attempt := 1; ; attempt++ {
		err := c.conn.Consume(ctx, c.subscription())
		if err == nil || errors.Is(err, context.Canceled) || ctx.Err() != nil {
			return nil
		}
		if attempt > c.cfg.ReconnectAttempts {
			return err
		}
		logger.Warnf("Queue connection '%s' failed (%v). Reconnecting (%d/%d).", c.cfg.QueueRef, err, attempt, c.cfg.ReconnectAttempts)
		conn, rerr := queues.ReconnectQueueConnection(ctx, c.cfg.QueueRef)
		if rerr != nil {
			return fmt.Errorf("reconnect after '%v': %w", err, rerr)
		}
		c.conn = conn
	}
}

func startConsumer(lc fx.Lifecycle, shutdowner fx.Shutdowner, cfg *config.Config, queues queue.QueueConnectionResolver, r *router.Router, appCtx context.Context) {
	c := &consumer{router: r, cfg: cfg.Etl.Consumer}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			conn, err := queues.ResolveQueueConnection(ctx, c.cfg.QueueRef)
			if err != nil {
				return err
			}
			c.conn = conn
			runCtx, cancel := context.WithCancel(appCtx)
			c.cancel = cancel
			c.wg.Add(1)
			go func() {
				defer c.wg.Done()
				if err := c.run(runCtx, queues); err != nil {
					logger.Errorf("Consumer stopped: %v", err)
					if serr := shutdowner.Shutdown(fx.ExitCode(1)); serr != nil {
						logger.Errorf("Failed to shutdown application: %v", serr)
					}
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if c.cancel != nil {
				c.cancel()
			}
			done := make(chan struct{})
			go func() {
				c.wg.Wait()
				close(done)
			}()
			select {
			case <-done:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	})
}
