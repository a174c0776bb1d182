// Command inference serves risk scores from the currently promoted model
// and follows model promotions over redis pub/sub.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/chenzhangda16/riskpipe/internal/config"
	"github.com/chenzhangda16/riskpipe/internal/inference"
	"github.com/chenzhangda16/riskpipe/internal/logging"
	"github.com/chenzhangda16/riskpipe/internal/model"
)

func main() {
	if err := run(); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, "inference:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.Load()
	logger := logging.New("inference", cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("parse REDIS_URL: %w", err)
	}
	rdb := redis.NewClient(opts)
	defer rdb.Close()

	store := model.NewRedisStore(rdb)

	if cfg.ModelSeedPath != "" {
		id, err := model.SeedFromFile(ctx, store, cfg.ModelSeedPath)
		if err != nil {
			logger.Warn("model seeding failed, relying on stored model", "path", cfg.ModelSeedPath, "error", err)
		} else {
			logger.Info("model seeded", "model_id", id, "path", cfg.ModelSeedPath)
		}
	}

	cell := &model.Cell{}
	watcher := model.NewWatcher(store, cell, logger)
	if err := watcher.Seed(ctx); err != nil {
		return err
	}

	svc := inference.New(&inference.RedisModels{Cell: cell, Store: store}, cfg.SentinelAuth, logger)
	srv := &http.Server{Addr: ":" + cfg.InferencePort, Handler: svc.Router()}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return watcher.Run(ctx) })
	g.Go(func() error {
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	})

	logger.Info("inference started", "port", cfg.InferencePort)
	return g.Wait()
}
