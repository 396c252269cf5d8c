package gorm

import (
	"context"

	"go.uber.org/fx"

	"github.com/tigerroll/citybike/pkg/etl/adapter/database"
)

// Module provides the database connection resolver. Dialect modules contribute providers.
var Module = fx.Options(
	fx.Provide(fx.Annotate(
		NewGormDBConnectionResolver,
		fx.As(fx.Self()),
		fx.As(new(database.DBConnectionResolver)),
	)),
	fx.Invoke(func(lc fx.Lifecycle, r *GormDBConnectionResolver) {
		lc.Append(fx.Hook{OnStop: func(ctx context.Context) error { return r.CloseAll() }})
	}),
)
