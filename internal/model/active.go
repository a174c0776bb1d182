package model

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/chenzhangda16/riskpipe/internal/metrics"
)

// Active is the immutable currently-served model.
type Active struct {
	ID string
	M  Logistic
}

// Cell is the lock-free holder the scoring path reads from. Swaps are
// whole-pointer so a reader always sees a consistent id/model pair.
type Cell struct {
	ptr atomic.Pointer[Active]
}

// Load returns the active model, or nil before the first swap.
func (c *Cell) Load() *Active {
	return c.ptr.Load()
}

// Swap installs a new active model.
func (c *Cell) Swap(a *Active) {
	c.ptr.Store(a)
	metrics.ModelVersion.Reset()
	metrics.ModelVersion.WithLabelValues(a.ID).Set(1)
}

// Watcher keeps a Cell in sync with the store: it blocks at startup until a
// current model exists, then follows promotion announcements.
type Watcher struct {
	store  *RedisStore
	cell   *Cell
	logger *slog.Logger

	retryEvery time.Duration
}

func NewWatcher(store *RedisStore, cell *Cell, logger *slog.Logger) *Watcher {
	return &Watcher{store: store, cell: cell, logger: logger, retryEvery: time.Second}
}

// Seed blocks until model:current exists and decodes, retrying every second.
// It only returns early when ctx is cancelled.
func (w *Watcher) Seed(ctx context.Context) error {
	for {
		id, m, err := w.store.LoadCurrent(ctx)
		if err == nil {
			w.cell.Swap(&Active{ID: id, M: m})
			w.logger.Info("model loaded", "model_id", id)
			return nil
		}
		w.logger.Warn("model not available yet, retrying", "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(w.retryEvery):
		}
	}
}

// Run follows the update channel until ctx is done. A message that fails to
// fetch or decode is logged and the previous model stays active.
func (w *Watcher) Run(ctx context.Context) error {
	sub := w.store.Subscribe(ctx)
	defer sub.Close()
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			id := msg.Payload
			loadedID, m, err := w.store.Load(ctx, id)
			if err != nil {
				w.logger.Error("model update rejected, keeping previous", "model_id", id, "error", err)
				continue
			}
			w.cell.Swap(&Active{ID: loadedID, M: m})
			w.logger.Info("model swapped", "model_id", loadedID)
		}
	}
}
