// Command worker consumes the analysis queue, drives the model services and
// writes results back onto scan records.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/imagemedix/imagemedix/internal/config"
	"github.com/imagemedix/imagemedix/internal/database"
	"github.com/imagemedix/imagemedix/internal/imagestore"
	"github.com/imagemedix/imagemedix/internal/inference"
	"github.com/imagemedix/imagemedix/internal/logging"
	"github.com/imagemedix/imagemedix/internal/queue"
	"github.com/imagemedix/imagemedix/internal/repository"
	"github.com/imagemedix/imagemedix/internal/worker"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		bootLog := logging.New("info", "console")
		bootLog.Fatal().Err(err).Msg("load config")
	}
	log := logging.New(cfg.LogLevel, cfg.LogFormat).With().Str("component", "worker").Logger()

	pool, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("connect database")
	}
	defer pool.Close()
	if err := database.EnsureSchema(ctx, pool); err != nil {
		log.Fatal().Err(err).Msg("ensure schema")
	}
	scans := repository.NewScanRepository(pool)

	blobs, err := imagestore.New(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("init storage")
	}
	if err := blobs.EnsureBuckets(ctx); err != nil {
		log.Fatal().Err(err).Msg("ensure buckets")
	}

	classifier := inference.NewClient(cfg.BrainModelURL, cfg.ChestModelURL, cfg.ModelAPIKey, cfg.InferenceTimeout)
	signImage := func(ctx context.Context, imageKey string) (string, error) {
		return blobs.PresignScanURL(ctx, imageKey, cfg.InferenceTimeout)
	}
	processor := worker.NewProcessor(scans, classifier, signImage, log)

	server := asynq.NewServer(asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, asynq.Config{
		Concurrency:    cfg.WorkerConcurrency,
		Queues:         map[string]int{queue.AnalysisQueue: 1},
		RetryDelayFunc: worker.RetryDelay,
		ErrorHandler:   worker.ErrorHandler(log),
	})

	go func() {
		<-ctx.Done()
		server.Shutdown()
	}()

	log.Info().Int("concurrency", cfg.WorkerConcurrency).Msg("worker started")
	if err := server.Run(processor.Handler()); err != nil {
		log.Error().Err(err).Msg("worker stopped")
		os.Exit(1)
	}
}
