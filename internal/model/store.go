package model

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	currentKey    = "model:current"
	keyPrefix     = "model:"
	UpdateChannel = "model-updates"
)

// RedisStore persists model envelopes and announces promotions over pub/sub.
type RedisStore struct {
	rdb *redis.Client
}

func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

// Save writes the envelope under model:<id> without promoting it.
func (s *RedisStore) Save(ctx context.Context, id string, m Logistic, createdAt time.Time) error {
	raw, err := Encode(id, m, createdAt)
	if err != nil {
		return err
	}
	if err := s.rdb.Set(ctx, keyPrefix+id, raw, 0).Err(); err != nil {
		return fmt.Errorf("model: save %s: %w", id, err)
	}
	return nil
}

// Promote makes the saved model current and publishes its id so running
// inference services swap to it.
func (s *RedisStore) Promote(ctx context.Context, id string) error {
	raw, err := s.rdb.Get(ctx, keyPrefix+id).Bytes()
	if err != nil {
		return fmt.Errorf("model: promote %s: %w", id, err)
	}
	if err := s.rdb.Set(ctx, currentKey, raw, 0).Err(); err != nil {
		return fmt.Errorf("model: promote %s: %w", id, err)
	}
	if err := s.rdb.Publish(ctx, UpdateChannel, id).Err(); err != nil {
		return fmt.Errorf("model: announce %s: %w", id, err)
	}
	return nil
}

// Load fetches and decodes model:<id>.
func (s *RedisStore) Load(ctx context.Context, id string) (string, Logistic, error) {
	raw, err := s.rdb.Get(ctx, keyPrefix+id).Bytes()
	if err != nil {
		return "", Logistic{}, fmt.Errorf("model: load %s: %w", id, err)
	}
	return Decode(raw)
}

// LoadCurrent fetches and decodes the promoted model.
func (s *RedisStore) LoadCurrent(ctx context.Context) (string, Logistic, error) {
	raw, err := s.rdb.Get(ctx, currentKey).Bytes()
	if err != nil {
		return "", Logistic{}, fmt.Errorf("model: load current: %w", err)
	}
	return Decode(raw)
}

// Ping reports whether the backing redis is reachable.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// Subscribe returns the pub/sub subscription carrying promoted model ids.
func (s *RedisStore) Subscribe(ctx context.Context) *redis.PubSub {
	return s.rdb.Subscribe(ctx, UpdateChannel)
}
