package storage

import (
	"context"

	"go.uber.org/fx"
)

// Module provides the storage ConnectionResolver. Provider modules (local, s3, gcs) contribute
// to the "storage_providers" group.
var Module = fx.Options(
	fx.Provide(
		fx.Annotate(
			NewConnectionResolver,
			fx.As(fx.Self()),
			fx.As(new(StorageConnectionResolver)),
		),
	),
	fx.Invoke(func(lc fx.Lifecycle, r *ConnectionResolver) {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error { return r.CloseAll() },
		})
	}),
)
