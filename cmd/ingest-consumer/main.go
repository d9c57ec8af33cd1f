package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kailas-cloud/vecdex-ingest/internal/bootstrap"
	"github.com/kailas-cloud/vecdex-ingest/internal/config"
	logpkg "github.com/kailas-cloud/vecdex-ingest/internal/logger"
	chiTransport "github.com/kailas-cloud/vecdex-ingest/internal/transport/chi"
	"github.com/kailas-cloud/vecdex-ingest/internal/transport/kafka"
	healthuc "github.com/kailas-cloud/vecdex-ingest/internal/usecase/health"
	"github.com/kailas-cloud/vecdex-ingest/internal/version"
)

func main() {
	env := config.GetEnv("local")

	cfg, err := config.Load(env)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}
	if err := cfg.ValidateConsumer(); err != nil {
		panic("invalid consumer config: " + err.Error())
	}

	logger, err := logpkg.NewLogger(env, cfg.Logging.Level)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting vecdex ingest consumer",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("env", env),
		zap.String("driver", cfg.Index.Driver),
		zap.String("index", cfg.Index.Name),
		zap.Strings("brokers", cfg.Kafka.Brokers),
		zap.String("topic", cfg.Kafka.Topic),
		zap.Int("admin_port", cfg.Admin.Port),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.Build(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize ingestor", zap.Error(err))
	}
	defer func() { _ = app.Close() }()

	// Pass a nil interface, not a typed nil pointer, when dead-lettering is off.
	var deadLetter healthuc.DeadLetterChecker
	if cfg.DeadLetter.Enabled {
		pub, err := kafka.NewDeadLetterPublisher(kafka.DeadLetterConfig{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.DeadLetter.Topic,
		})
		if err != nil {
			logger.Fatal("Failed to create dead-letter publisher", zap.Error(err))
		}
		defer pub.Close()
		app.Ingest.WithDeadLetter(pub)
		deadLetter = pub
		logger.Info("Dead-lettering enabled", zap.String("topic", cfg.DeadLetter.Topic))
	}

	consumer, err := kafka.NewConsumer(kafka.ConsumerConfig{
		Brokers:          cfg.Kafka.Brokers,
		Topic:            cfg.Kafka.Topic,
		ConsumerGroup:    cfg.Kafka.ConsumerGroup,
		ConsumeFromStart: cfg.Kafka.ConsumeFromStart,
		SessionTimeout:   time.Duration(cfg.Kafka.SessionTimeoutMs) * time.Millisecond,
		MaxPollRecords:   cfg.Ingest.MaxBatchSize,
	}, app.Ingest, logger)
	if err != nil {
		logger.Fatal("Failed to create consumer", zap.Error(err))
	}
	defer consumer.Close()

	admin := chiTransport.NewServer(healthuc.New(app.Store, deadLetter), logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return admin.ListenAndServe(gctx, cfg.Admin.Port, time.Duration(cfg.Admin.ShutdownSec)*time.Second)
	})
	g.Go(func() error {
		// The admin server goes down with the consumer.
		defer stop()
		return consumer.Run(gctx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("Consumer stopped with error", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1) //nolint:gocritic // deferred closers are best-effort on fatal exit
	}
	logger.Info("Consumer stopped gracefully")
}
