package queue

import (
	"context"

	"go.uber.org/fx"
)

// Module provides the queue ConnectionResolver. The sqs and rabbitmq modules contribute to
// the "queue_providers" group.
var Module = fx.Options(
	fx.Provide(fx.Annotate(
		NewConnectionResolver,
		fx.As(fx.Self()),
		fx.As(new(QueueConnectionResolver)),
	)),
	fx.Invoke(func(lc fx.Lifecycle, r *ConnectionResolver) {
		lc.Append(fx.Hook{OnStop: func(ctx context.Context) error { return r.CloseAll() }})
	}),
)
