// Package adapter implements the chain-monitoring pollers. One Adapter runs
// per chain, driving a ChainSource through two independent loops: a short
// recent/pending poll and a slower finalized-block pass.
package adapter

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/chenzhangda16/riskpipe/internal/bus"
	"github.com/chenzhangda16/riskpipe/internal/dedup"
	"github.com/chenzhangda16/riskpipe/internal/event"
	"github.com/chenzhangda16/riskpipe/internal/metrics"
	"github.com/chenzhangda16/riskpipe/internal/retry"
)

// Candidate is one record discovered by a recent poll. Sources that already
// have the full record attach it; otherwise the adapter fetches detail.
type Candidate struct {
	ID    string
	Event *event.TransactionEvent
}

// Block identifies a finalized block.
type Block struct {
	ID     string
	Height int64
}

// ChainSource is the per-chain provider capability.
type ChainSource interface {
	// Name is the short dedup-key tag, e.g. "btc".
	Name() string
	// Source is the metrics/bus source label, e.g. "bitcoin".
	Source() string
	// Recent lists candidate recent/pending transactions.
	Recent(ctx context.Context) ([]Candidate, error)
	// Detail fetches the full featurized record for a candidate.
	Detail(ctx context.Context, id string) (event.TransactionEvent, error)
	// FinalizedBlock returns the newest finalized block.
	FinalizedBlock(ctx context.Context) (Block, error)
	// BlockTxs featurizes the block's transactions with confirmed status.
	BlockTxs(ctx context.Context, b Block) ([]event.TransactionEvent, error)
}

type Config struct {
	PollInterval  time.Duration // recent loop, default 15s
	BlockInterval time.Duration // finalized loop, default 60s
	MaxPerPoll    int           // cap per recent tick, default 10
	MaxPerBlock   int           // cap per block pass, default 50
	Pacing        time.Duration // delay between publishes, default 100ms
	FetchRetries  int           // bounded detail-fetch retries, default 3
}

func (c *Config) defaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = 15 * time.Second
	}
	if c.BlockInterval <= 0 {
		c.BlockInterval = time.Minute
	}
	if c.MaxPerPoll <= 0 {
		c.MaxPerPoll = 10
	}
	if c.MaxPerBlock <= 0 {
		c.MaxPerBlock = 50
	}
	if c.Pacing < 0 {
		c.Pacing = 0
	} else if c.Pacing == 0 {
		c.Pacing = 100 * time.Millisecond
	}
	if c.FetchRetries <= 0 {
		c.FetchRetries = 3
	}
}

// Adapter runs dedup → fetch → featurize → publish → mark for one chain.
type Adapter struct {
	cfg    Config
	src    ChainSource
	seen   dedup.Store
	pub    bus.Publisher
	logger *slog.Logger
}

func New(cfg Config, src ChainSource, seen dedup.Store, pub bus.Publisher, logger *slog.Logger) *Adapter {
	cfg.defaults()
	return &Adapter{
		cfg:    cfg,
		src:    src,
		seen:   seen,
		pub:    pub,
		logger: logger.With("chain", src.Source()),
	}
}

// Run drives both loops until ctx is done. A cycle failure is logged and
// retried on the next tick; there is no backoff escalation across cycles.
func (a *Adapter) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.loop(ctx, a.cfg.PollInterval, a.pollRecent) })
	g.Go(func() error { return a.loop(ctx, a.cfg.BlockInterval, a.pollBlocks) })
	return g.Wait()
}

func (a *Adapter) loop(ctx context.Context, every time.Duration, tick func(context.Context)) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			tick(ctx)
		}
	}
}

// pollRecent is one recent-transactions tick.
func (a *Adapter) pollRecent(ctx context.Context) {
	cands, err := a.src.Recent(ctx)
	if err != nil {
		a.logger.Error("recent poll failed", "error", err)
		return
	}

	processed := 0
	for _, c := range cands {
		if processed >= a.cfg.MaxPerPoll {
			break
		}
		if ctx.Err() != nil {
			return
		}
		key := a.src.Name() + ":tx:" + c.ID
		if a.alreadySeen(ctx, key) {
			continue
		}

		ev := c.Event
		if ev == nil {
			full, err := a.fetchDetail(ctx, c.ID)
			if err != nil {
				a.logger.Warn("detail fetch failed, skipping record", "tx", c.ID, "error", err)
				continue
			}
			ev = &full
		}

		if err := a.publishPre(ctx, *ev); err != nil {
			a.logger.Error("publish failed, skipping record", "tx", c.ID, "error", err)
			continue
		}
		a.markSeen(ctx, key, dedup.TxTTL)
		processed++

		// small pacing delay so a burst does not saturate the bus
		if a.cfg.Pacing > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(a.cfg.Pacing):
			}
		}
	}

	a.logger.Debug("recent poll complete", "candidates", len(cands), "processed", processed)
}

// pollBlocks reprocesses the newest finalized block once.
func (a *Adapter) pollBlocks(ctx context.Context) {
	blk, err := a.src.FinalizedBlock(ctx)
	if err != nil {
		a.logger.Error("block poll failed", "error", err)
		return
	}
	blockKey := a.src.Name() + ":block:" + blk.ID
	if a.alreadySeen(ctx, blockKey) {
		return
	}

	txs, err := a.src.BlockTxs(ctx, blk)
	if err != nil {
		a.logger.Error("block txs fetch failed", "block", blk.ID, "error", err)
		return
	}
	if len(txs) > a.cfg.MaxPerBlock {
		txs = txs[:a.cfg.MaxPerBlock]
	}

	published := 0
	for _, ev := range txs {
		if ctx.Err() != nil {
			return
		}
		key := a.src.Name() + ":tx:" + ev.CouponHash
		if a.alreadySeen(ctx, key) {
			continue
		}
		if err := a.publishPre(ctx, ev); err != nil {
			a.logger.Error("publish failed, skipping record", "tx", ev.CouponHash, "error", err)
			continue
		}
		a.markSeen(ctx, key, dedup.TxTTL)
		published++
	}
	a.markSeen(ctx, blockKey, dedup.BlockTTL)
	a.logger.Info("processed finalized block", "block", blk.ID, "height", blk.Height, "published", published)
}

func (a *Adapter) fetchDetail(ctx context.Context, id string) (event.TransactionEvent, error) {
	var out event.TransactionEvent
	err := retry.Do(ctx, retry.Policy{
		MaxAttempts: a.cfg.FetchRetries,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    5 * time.Second,
		Jitter:      250 * time.Millisecond,
	}, func(ctx context.Context) error {
		var err error
		out, err = a.src.Detail(ctx, id)
		return err
	})
	return out, err
}

func (a *Adapter) publishPre(ctx context.Context, ev event.TransactionEvent) error {
	ev.EventID = event.NewID()
	ev.EventType = event.TypePreSettlement
	return a.pub.Publish(ctx, ev, a.src.Source())
}

// alreadySeen treats a dedup store error as "not seen": ingestion keeps
// going and downstream idempotency absorbs the duplicates.
func (a *Adapter) alreadySeen(ctx context.Context, key string) bool {
	seen, err := a.seen.Exists(ctx, key)
	if err != nil {
		a.logger.Warn("dedup check failed, continuing", "key", key, "error", err)
		return false
	}
	if seen {
		metrics.DedupeHits.WithLabelValues(a.src.Source()).Inc()
	}
	return seen
}

func (a *Adapter) markSeen(ctx context.Context, key string, ttl time.Duration) {
	if err := a.seen.MarkSeen(ctx, key, ttl); err != nil {
		a.logger.Warn("dedup mark failed", "key", key, "error", err)
	}
}
