// Command server runs the HTTP API: uploads, listings, status polling and
// report downloads. Analysis itself happens in the worker binary; the two
// communicate only through Redis and Postgres.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/imagemedix/imagemedix/internal/analysis"
	"github.com/imagemedix/imagemedix/internal/api"
	"github.com/imagemedix/imagemedix/internal/config"
	"github.com/imagemedix/imagemedix/internal/database"
	"github.com/imagemedix/imagemedix/internal/imagestore"
	"github.com/imagemedix/imagemedix/internal/logging"
	"github.com/imagemedix/imagemedix/internal/queue"
	"github.com/imagemedix/imagemedix/internal/repository"
	"github.com/imagemedix/imagemedix/internal/signing"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		bootLog := logging.New("info", "console")
		bootLog.Fatal().Err(err).Msg("load config")
	}
	log := logging.New(cfg.LogLevel, cfg.LogFormat).With().Str("component", "server").Logger()

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

	jobs := queue.NewRedisQueue(cfg)
	defer jobs.Close()

	svc := analysis.NewService(scans, jobs, log)
	signer := signing.NewSigner(cfg.SigningSecret)
	srv := api.New(cfg, scans, blobs, svc, jobs, signer, log)

	if err := srv.Run(ctx); err != nil {
		log.Error().Err(err).Msg("server stopped")
		os.Exit(1)
	}
}
