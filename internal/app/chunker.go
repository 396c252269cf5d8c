package app

import (
	"context"

	"go.uber.org/fx"

	"github.com/tigerroll/citybike/pkg/etl/core/config"
	"github.com/tigerroll/citybike/pkg/etl/engine/pipeline"
	"github.com/tigerroll/citybike/pkg/etl/support/util/exception"
	"github.com/tigerroll/citybike/pkg/etl/support/util/logger"
)

// RunChunker runs the chunk job once and shuts the application down. An empty input
// directory is a warning, not a failure.
func RunChunker(appCtx context.Context, envFilePath string, embeddedConfig config.EmbeddedConfig, dbProviderOptions []fx.Option) {
	app := fx.New(
		CommonOptions(envFilePath, embeddedConfig, dbProviderOptions),
		pipeline.Module,
		fx.Supply(fx.Annotate(appCtx, fx.As(new(context.Context)), fx.ResultTags(`name:"appCtx"`))),
		fx.Invoke(fx.Annotate(startChunkJob, fx.ParamTags("", "", "", `name:"appCtx"`))),
	)
	app.Run()
	if app.Err() != nil {
		logger.Fatalf("Application run failed: %v", app.Err())
	}
}

func startChunkJob(lc fx.Lifecycle, shutdowner fx.Shutdowner, job *pipeline.Job, appCtx context.Context) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				code := 0
				defer func() {
					if r := recover(); r != nil {
						logger.Errorf("Panic recovered in chunk job: %v", r)
						code = 1
					}
					if err := shutdowner.Shutdown(fx.ExitCode(code)); err != nil {
						logger.Errorf("Failed to shutdown application: %v", err)
					}
				}()
				code = runChunkJob(appCtx, job)
			}()
			return nil
		},
	})
}

func runChunkJob(ctx context.Context, job *pipeline.Job) int {
	report, err := job.Run(ctx)
	switch {
	case err == nil:
		logger.Infof("Chunk job %s finished: %d file(s), %d partition(s).", report.RunID, len(report.Files), len(report.Partitions))
		return 0
	case exception.IsEmptyInput(err):
		logger.Warnf("Chunk job %s: %v", report.RunID, err)
		return 0
	default:
		logger.Errorf("Chunk job %s failed: %v", report.RunID, err)
		return 1
	}
}
