// Command adapter runs the chain-monitoring pollers: it watches the
// configured chains, features their transactions, and publishes
// PRE_SETTLEMENT events onto the bus.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/chenzhangda16/riskpipe/internal/adapter"
	"github.com/chenzhangda16/riskpipe/internal/bus"
	"github.com/chenzhangda16/riskpipe/internal/config"
	"github.com/chenzhangda16/riskpipe/internal/dedup"
	"github.com/chenzhangda16/riskpipe/internal/feature"
	"github.com/chenzhangda16/riskpipe/internal/health"
	"github.com/chenzhangda16/riskpipe/internal/logging"
)

func main() {
	if err := run(); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, "adapter:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.Load()
	logger := logging.New("adapter", cfg.LogLevel, cfg.LogFormat)

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

	codec := feature.NewCodec(cfg.BTCUSDPrice, cfg.ETHUSDPrice, cfg.SOLUSDPrice)
	timeout := 10 * time.Second
	sources := []adapter.ChainSource{
		adapter.NewBitcoinProvider(adapter.NewEndpoints(config.SplitList(cfg.BTCAPIURLs)...), codec, timeout),
		adapter.NewEthereumProvider(adapter.NewEndpoints(config.SplitList(cfg.ETHRPCURLs)...), codec, timeout),
		adapter.NewSolanaProvider(adapter.NewEndpoints(config.SplitList(cfg.SOLRPCURLs)...), codec,
			config.SplitList(cfg.SOLWatchList), timeout),
	}

	reg := health.NewRegistry()
	reg.Register("dedup", func(ctx context.Context) health.Status {
		_, err := seen.Exists(ctx, "health:probe")
		return health.Status{Name: "dedup", Ready: err == nil, Detail: detail(err)}
	})

	g, ctx := errgroup.WithContext(ctx)
	for _, src := range sources {
		a := adapter.New(adapter.Config{}, src, seen, pub, logger)
		g.Go(func() error { return a.Run(ctx) })
	}
	g.Go(func() error { return health.Serve(ctx, ":"+cfg.HealthPort, reg) })

	logger.Info("adapter started", "chains", len(sources), "topic", cfg.Topic)
	return g.Wait()
}

func detail(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
