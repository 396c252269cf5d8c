package memory

import "go.uber.org/fx"

var Module = fx.Provide(fx.Annotate(NewProvider, fx.ResultTags(`group:"table_store_providers"`)))
