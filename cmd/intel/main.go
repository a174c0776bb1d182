// Command intel polls threat-intelligence feeds and publishes labeled
// SETTLEMENT_OUTCOME events for the transactions they implicate.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/chenzhangda16/riskpipe/internal/bus"
	"github.com/chenzhangda16/riskpipe/internal/config"
	"github.com/chenzhangda16/riskpipe/internal/dedup"
	"github.com/chenzhangda16/riskpipe/internal/health"
	"github.com/chenzhangda16/riskpipe/internal/intel"
	"github.com/chenzhangda16/riskpipe/internal/logging"
)

func main() {
	if err := run(); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, "intel:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.Load()
	logger := logging.New("intel", cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	seen, err := dedup.Open(cfg.DedupBackend, cfg.RedisURL, cfg.RocksPath, "dedup:")
	if err != nil {
		return err
	}
	defer seen.Close()

	if err := bus.EnsureTopics(cfg.BrokerList(), logger, bus.DefaultTopicSpecs(cfg.Topic, cfg.DLQTopic)...); err != nil {
		logger.Warn("topic setup skipped", "error", err)
	}

	pub, err := bus.NewKafkaPublisher(cfg.BrokerList(), cfg.Topic, cfg.DLQTopic, logger)
	if err != nil {
		return err
	}
	defer pub.Close()

	sources := []*intel.Source{
		intel.NewSanctionsSource(cfg.SanctionsURL, cfg.SanctionsKey, nil),
		intel.NewAuditSource(cfg.AuditURL, cfg.AuditKey, nil),
		intel.NewIncidentSource(cfg.IncidentURL, cfg.IncidentKey, nil),
	}
	oracle := intel.NewOracle(sources, seen, pub, logger)

	reg := health.NewRegistry()
	reg.Register("dedup", func(ctx context.Context) health.Status {
		_, err := seen.Exists(ctx, "health:probe")
		st := health.Status{Name: "dedup", Ready: err == nil}
		if err != nil {
			st.Detail = err.Error()
		}
		return st
	})

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return oracle.Run(ctx) })
	g.Go(func() error { return health.Serve(ctx, ":"+cfg.HealthPort, reg) })

	logger.Info("intel started", "sources", len(sources), "topic", cfg.Topic)
	return g.Wait()
}
