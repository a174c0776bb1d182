// Command gateway exposes the settlement gatekeeper: it verifies device
// signatures, rejects duplicates and high-risk transactions, settles the
// rest through the bank HSM, and publishes every outcome onto the bus.
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

	"golang.org/x/sync/errgroup"

	"github.com/chenzhangda16/riskpipe/internal/bus"
	"github.com/chenzhangda16/riskpipe/internal/config"
	"github.com/chenzhangda16/riskpipe/internal/gatekeeper"
	"github.com/chenzhangda16/riskpipe/internal/logging"
)

func main() {
	if err := run(); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, "gateway:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.Load()
	logger := logging.New("gateway", cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := bus.EnsureTopics(cfg.BrokerList(), logger, bus.DefaultTopicSpecs(cfg.Topic, cfg.DLQTopic)...); err != nil {
		logger.Warn("topic setup skipped", "error", err)
	}

	pub, err := bus.NewKafkaPublisher(cfg.BrokerList(), cfg.Topic, cfg.DLQTopic, logger)
	if err != nil {
		return err
	}
	defer pub.Close()

	svc := gatekeeper.New(
		gatekeeper.Config{
			Threshold: cfg.SentinelThreshold,
			FailOpen:  cfg.SentinelFailOpen,
		},
		gatekeeper.NewDeviceRegistry(),
		gatekeeper.NewHTTPSentinel(cfg.SentinelURL, cfg.SentinelAuth, 600*time.Millisecond),
		gatekeeper.NewHSMClient(cfg.SettlementURL, cfg.HSMSecret, 5*time.Second),
		pub,
		logger,
	)

	srv := &http.Server{Addr: ":" + cfg.GatewayPort, Handler: svc.Router()}

	g, ctx := errgroup.WithContext(ctx)
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

	logger.Info("gateway started", "port", cfg.GatewayPort,
		"threshold", cfg.SentinelThreshold, "fail_open", cfg.SentinelFailOpen)
	return g.Wait()
}
