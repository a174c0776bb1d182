package dataset

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps examples in a capped redis list so the trainer and the
// correlator can run as separate processes.
type RedisStore struct {
	rdb *redis.Client
	key string
	cap int64
}

func NewRedisStore(rdb *redis.Client, key string, capacity int) *RedisStore {
	if key == "" {
		key = "dataset:examples"
	}
	if capacity <= 0 {
		capacity = 50000
	}
	return &RedisStore{rdb: rdb, key: key, cap: int64(capacity)}
}

func (s *RedisStore) Append(ctx context.Context, batch []Example) error {
	if len(batch) == 0 {
		return nil
	}
	payloads := make([]any, 0, len(batch))
	for _, ex := range batch {
		b, err := json.Marshal(ex)
		if err != nil {
			return fmt.Errorf("dataset: marshal example: %w", err)
		}
		payloads = append(payloads, b)
	}
	pipe := s.rdb.TxPipeline()
	pipe.RPush(ctx, s.key, payloads...)
	pipe.LTrim(ctx, s.key, -s.cap, -1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("dataset: append: %w", err)
	}
	return nil
}

func (s *RedisStore) Recent(ctx context.Context, limit int) ([]Example, error) {
	start := int64(0)
	if limit > 0 {
		start = -int64(limit)
	}
	raw, err := s.rdb.LRange(ctx, s.key, start, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("dataset: recent: %w", err)
	}
	out := make([]Example, 0, len(raw))
	for _, r := range raw {
		var ex Example
		if err := json.Unmarshal([]byte(r), &ex); err != nil {
			// skip a corrupt record rather than fail the whole read
			continue
		}
		out = append(out, ex)
	}
	return out, nil
}

func (s *RedisStore) Close() error { return s.rdb.Close() }
