package inference

import (
	"context"
	"time"

	"github.com/chenzhangda16/riskpipe/internal/model"
)

// RedisModels adapts the model cell and store to the service's ModelSource.
type RedisModels struct {
	Cell  *model.Cell
	Store *model.RedisStore
}

func (r *RedisModels) Active() *model.Active {
	return r.Cell.Load()
}

func (r *RedisModels) Reachable(timeout time.Duration) bool {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return r.Store.Ping(ctx) == nil
}
