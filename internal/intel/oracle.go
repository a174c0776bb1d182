package intel

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/chenzhangda16/riskpipe/internal/bus"
	"github.com/chenzhangda16/riskpipe/internal/dedup"
	"github.com/chenzhangda16/riskpipe/internal/event"
	"github.com/chenzhangda16/riskpipe/internal/metrics"
)

// Oracle polls intelligence sources and publishes a labeled outcome for
// every transaction an alert implicates. Alerts are deduplicated for 24h so
// overlapping feeds do not relabel the same incident.
type Oracle struct {
	sources []*Source
	seen    dedup.Store
	pub     bus.Publisher
	logger  *slog.Logger
	now     func() time.Time
}

func NewOracle(sources []*Source, seen dedup.Store, pub bus.Publisher, logger *slog.Logger) *Oracle {
	return &Oracle{
		sources: sources,
		seen:    seen,
		pub:     pub,
		logger:  logger,
		now:     time.Now,
	}
}

// Run polls every source on its own interval until ctx is done.
func (o *Oracle) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, src := range o.sources {
		g.Go(func() error {
			ticker := time.NewTicker(src.Interval())
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-ticker.C:
					o.poll(ctx, src)
				}
			}
		})
	}
	return g.Wait()
}

func (o *Oracle) poll(ctx context.Context, src *Source) {
	alerts, err := src.Fetch(ctx)
	if err != nil {
		o.logger.Error("intel fetch failed", "source", src.Name(), "error", err)
		return
	}
	published := 0
	for _, a := range alerts {
		published += o.process(ctx, src.Name(), a)
	}
	if published > 0 {
		o.logger.Info("published intel outcomes", "source", src.Name(), "alerts", len(alerts), "outcomes", published)
	}
}

// process handles one alert and returns how many outcomes it published.
func (o *Oracle) process(ctx context.Context, srcName string, a Alert) int {
	key := "intel:alert:" + a.ID
	seen, err := o.seen.Exists(ctx, key)
	if err != nil {
		o.logger.Warn("alert dedup check failed, continuing", "alert", a.ID, "error", err)
	} else if seen {
		metrics.DedupeHits.WithLabelValues("intel").Inc()
		return 0
	}

	hashes := a.TxHashes()
	if len(hashes) == 0 {
		// address-only alerts still mark as seen; nothing to label yet
		o.mark(ctx, key)
		return 0
	}

	conf := a.Confidence()
	result := ResultFor(a)
	published := 0
	for _, h := range hashes {
		ev := event.TransactionEvent{
			EventID:     event.NewID(),
			EventType:   event.TypeSettlementOutcome,
			CouponHash:  h,
			Result:      result,
			Confidence:  conf,
			Source:      a.Channel,
			Severity:    a.Severity,
			Description: a.Title,
			Ts:          o.now().UnixMilli(),
		}
		if err := o.pub.Publish(ctx, ev, "intel"); err != nil {
			o.logger.Error("intel publish failed", "alert", a.ID, "tx", h, "error", err)
			continue
		}
		published++
	}
	o.mark(ctx, key)
	return published
}

func (o *Oracle) mark(ctx context.Context, key string) {
	if err := o.seen.MarkSeen(ctx, key, dedup.AlertTTL); err != nil {
		o.logger.Warn("alert dedup mark failed", "key", key, "error", err)
	}
}
