package tablestore

import (
	"context"

	"go.uber.org/fx"
)

// Module provides the table store ConnectionResolver. Provider modules contribute to the
// "table_store_providers" group.
var Module = fx.Options(
	fx.Provide(fx.Annotate(
		NewConnectionResolver,
		fx.As(fx.Self()),
		fx.As(new(TableStoreConnectionResolver)),
	)),
	fx.Invoke(func(lc fx.Lifecycle, r *ConnectionResolver) {
		lc.Append(fx.Hook{OnStop: func(ctx context.Context) error { return r.CloseAll() }})
	}),
)
