package dataset

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/chenzhangda16/riskpipe/internal/event"
	"github.com/chenzhangda16/riskpipe/internal/feature"
	"github.com/chenzhangda16/riskpipe/internal/metrics"
)

type Config struct {
	// PendingTTL bounds how long a pre-settlement waits for its outcome.
	// Zero (the zero value) selects the 5m default; the smallest usable
	// window is 1ns, under which only a same-instant outcome correlates.
	PendingTTL time.Duration
	BatchSize  int // examples buffered before a flush, default 500
}

func (c *Config) defaults() {
	if c.PendingTTL <= 0 {
		c.PendingTTL = 5 * time.Minute
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 500
	}
}

type pendingEntry struct {
	x        feature.Vector
	grid     string
	storedAt time.Time
}

// Correlator joins PRE_SETTLEMENT events with their SETTLEMENT_OUTCOME by
// coupon hash. Features are captured at pre-settlement time so the example
// reflects what inference would have seen; the outcome only contributes the
// label.
type Correlator struct {
	cfg    Config
	store  Store
	logger *slog.Logger

	mu      sync.Mutex
	pending map[string]pendingEntry
	buf     []Example

	now func() time.Time
}

func NewCorrelator(cfg Config, store Store, logger *slog.Logger) *Correlator {
	cfg.defaults()
	return &Correlator{
		cfg:     cfg,
		store:   store,
		logger:  logger,
		pending: make(map[string]pendingEntry),
		now:     time.Now,
	}
}

// HandleMessage is the bus consumer entrypoint. Malformed payloads are
// counted and dropped; returning an error would stall the partition.
func (c *Correlator) HandleMessage(ctx context.Context, raw []byte) error {
	ev, err := event.Decode(raw)
	if err != nil {
		metrics.MalformedEvents.Inc()
		c.logger.Warn("dropping malformed event", "error", err)
		return nil
	}
	metrics.EventsConsumed.Inc()

	switch ev.EventType {
	case event.TypePreSettlement:
		c.HandlePre(ev)
	case event.TypeSettlementOutcome:
		return c.HandleOutcome(ctx, ev)
	default:
		metrics.MalformedEvents.Inc()
		c.logger.Warn("dropping event with unknown type", "event_type", ev.EventType)
	}
	return nil
}

// HandlePre captures the feature vector and parks it until the outcome
// arrives. A second pre-settlement for the same coupon overwrites the first.
func (c *Correlator) HandlePre(ev event.TransactionEvent) {
	now := c.now()
	x := feature.Numeric(ev, now)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.pruneLocked(now)
	c.pending[ev.CouponHash] = pendingEntry{x: x, grid: ev.GridID, storedAt: now}
}

// HandleOutcome labels the parked features and buffers the example. An
// outcome with no parked pre-settlement is a correlation miss (the pre side
// expired, or the outcome came from an intel feed for a never-seen tx).
func (c *Correlator) HandleOutcome(ctx context.Context, ev event.TransactionEvent) error {
	now := c.now()

	c.mu.Lock()
	entry, ok := c.pending[ev.CouponHash]
	if ok && now.Sub(entry.storedAt) > c.cfg.PendingTTL {
		delete(c.pending, ev.CouponHash)
		ok = false
	}
	if !ok {
		c.mu.Unlock()
		metrics.CorrelationMisses.Inc()
		c.logger.Debug("outcome without pending features", "coupon_hash", ev.CouponHash, "result", ev.Result)
		return nil
	}
	delete(c.pending, ev.CouponHash)

	if ev.GridID != "" && ev.GridID != entry.grid {
		metrics.GridMismatches.Inc()
		c.logger.Warn("grid mismatch on correlation", "coupon_hash", ev.CouponHash,
			"pre_grid", entry.grid, "outcome_grid", ev.GridID)
	}

	y := 0
	if ev.Result == event.ResultSuccess {
		y = 1
	}
	c.buf = append(c.buf, Example{Ts: now.UnixMilli(), X: entry.x, Y: y})
	flush := len(c.buf) >= c.cfg.BatchSize
	c.mu.Unlock()

	if flush {
		return c.Flush(ctx)
	}
	return nil
}

// Flush writes the buffered examples to the store. On failure the batch is
// kept so the next outcome retries it.
func (c *Correlator) Flush(ctx context.Context) error {
	c.mu.Lock()
	batch := c.buf
	c.buf = nil
	c.mu.Unlock()
	if len(batch) == 0 {
		return nil
	}

	if err := c.store.Append(ctx, batch); err != nil {
		c.mu.Lock()
		c.buf = append(batch, c.buf...)
		c.mu.Unlock()
		c.logger.Error("example flush failed, batch retained", "batch", len(batch), "error", err)
		return err
	}
	metrics.ExamplesFlushed.Add(float64(len(batch)))
	c.logger.Info("flushed examples", "batch", len(batch))
	return nil
}

// PendingCount reports how many pre-settlements are awaiting an outcome.
func (c *Correlator) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// pruneLocked drops entries past the TTL. Called on the insert path so the
// map stays bounded without a background sweeper.
func (c *Correlator) pruneLocked(now time.Time) {
	for k, e := range c.pending {
		if now.Sub(e.storedAt) > c.cfg.PendingTTL {
			delete(c.pending, k)
		}
	}
}
