package rabbitmq

import "go.uber.org/fx"

var Module = fx.Provide(fx.Annotate(NewProvider, fx.ResultTags(`group:"queue_providers"`)))
