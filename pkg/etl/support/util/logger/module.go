package logger

import (
	"context"

	"go.uber.org/fx"
)

func registerSync(lc fx.Lifecycle) {
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			Sync()
			return nil
		},
	})
}

// Module routes fx events through zap and flushes buffered entries on stop.
var Module = fx.Options(
	fx.WithLogger(NewFxLoggerAdapter),
	fx.Invoke(registerSync),
)
