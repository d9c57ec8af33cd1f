package main

import (
	"context"

	"github.com/aws/aws-lambda-go/lambda"
	"go.uber.org/zap"

	"github.com/kailas-cloud/vecdex-ingest/internal/bootstrap"
	"github.com/kailas-cloud/vecdex-ingest/internal/config"
	logpkg "github.com/kailas-cloud/vecdex-ingest/internal/logger"
	"github.com/kailas-cloud/vecdex-ingest/internal/transport/sqs"
	"github.com/kailas-cloud/vecdex-ingest/internal/version"
)

func main() {
	env := config.GetEnv("lambda")

	cfg, err := config.Load(env)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger, err := logpkg.NewLogger(env, cfg.Logging.Level)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting vecdex ingest lambda",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("env", env),
		zap.String("driver", cfg.Index.Driver),
		zap.String("index", cfg.Index.Name),
		zap.Bool("report_batch_item_failures", cfg.Lambda.ReportFailures()),
	)

	// Built once per execution environment and reused across invocations.
	app, err := bootstrap.Build(context.Background(), cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize ingestor", zap.Error(err))
	}

	handler := sqs.NewHandler(app.Ingest, logger, cfg.Lambda.ReportFailures())
	lambda.Start(handler.Handle)
}
