// Command trainer consumes the event bus, correlates pre-settlements with
// outcomes into labeled examples, and periodically fits and promotes a new
// risk model.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/chenzhangda16/riskpipe/internal/bus"
	"github.com/chenzhangda16/riskpipe/internal/config"
	"github.com/chenzhangda16/riskpipe/internal/dataset"
	"github.com/chenzhangda16/riskpipe/internal/event"
	"github.com/chenzhangda16/riskpipe/internal/health"
	"github.com/chenzhangda16/riskpipe/internal/logging"
	"github.com/chenzhangda16/riskpipe/internal/model"
)

const flushEvery = 30 * time.Second

func main() {
	if err := run(); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, "trainer:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.Load()
	logger := logging.New("trainer", cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("parse REDIS_URL: %w", err)
	}
	rdb := redis.NewClient(opts)
	defer rdb.Close()

	store, err := openExamples(ctx, cfg, rdb)
	if err != nil {
		return err
	}
	defer store.Close()

	correlator := dataset.NewCorrelator(dataset.Config{
		PendingTTL: cfg.PendingTTL,
		BatchSize:  cfg.BatchSize,
	}, store, logger)

	if err := bus.EnsureTopics(cfg.BrokerList(), logger, bus.DefaultTopicSpecs(cfg.Topic, cfg.DLQTopic)...); err != nil {
		logger.Warn("topic setup skipped", "error", err)
	}

	consumer, err := bus.NewConsumer(cfg.BrokerList(), cfg.ConsumerGroup, cfg.Topic, logger)
	if err != nil {
		return err
	}
	defer consumer.Close()

	models := model.NewRedisStore(rdb)

	reg := health.NewRegistry()
	reg.Register("redis", func(ctx context.Context) health.Status {
		err := rdb.Ping(ctx).Err()
		st := health.Status{Name: "redis", Ready: err == nil}
		if err != nil {
			st.Detail = err.Error()
		}
		return st
	})

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return consumer.Run(ctx, correlator.HandleMessage) })
	g.Go(func() error { return flushLoop(ctx, correlator) })
	g.Go(func() error { return trainLoop(ctx, cfg, store, models, logger) })
	g.Go(func() error { return health.Serve(ctx, ":"+cfg.HealthPort, reg) })

	logger.Info("trainer started", "group", cfg.ConsumerGroup, "topic", cfg.Topic)
	return g.Wait()
}

func openExamples(ctx context.Context, cfg config.Config, rdb *redis.Client) (dataset.Store, error) {
	if cfg.DatabaseURL != "" {
		return dataset.NewPostgresStore(ctx, cfg.DatabaseURL, cfg.MaxExamples)
	}
	return dataset.NewRedisStore(rdb, "dataset:examples", cfg.MaxExamples), nil
}

func flushLoop(ctx context.Context, c *dataset.Correlator) error {
	ticker := time.NewTicker(flushEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			// last drain on the way out
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			_ = c.Flush(flushCtx)
			cancel()
			return ctx.Err()
		case <-ticker.C:
			_ = c.Flush(ctx)
		}
	}
}

func trainLoop(ctx context.Context, cfg config.Config, store dataset.Store, models *model.RedisStore, logger *slog.Logger) error {
	ticker := time.NewTicker(cfg.TrainInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			examples, err := store.Recent(ctx, cfg.MaxExamples)
			if err != nil {
				logger.Warn("reading examples failed, skipping cycle", "error", err)
				continue
			}
			m, err := model.Fit(examples, model.FitConfig{MinExamples: cfg.MinTrainExamples})
			if err != nil {
				logger.Warn("training skipped", "examples", len(examples), "reason", err)
				continue
			}
			id := event.NewID()
			if err := models.Save(ctx, id, m, time.Now()); err != nil {
				logger.Warn("model save failed", "model_id", id, "error", err)
				continue
			}
			if err := models.Promote(ctx, id); err != nil {
				logger.Warn("model promote failed", "model_id", id, "error", err)
				continue
			}
			logger.Info("model promoted", "model_id", id, "examples", len(examples))
		}
	}
}
