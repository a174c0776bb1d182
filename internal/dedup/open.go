package dedup

import (
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Open builds the configured backend. backend is "redis" (default),
// "rocksdb", or "memory".
func Open(backend, redisURL, rocksPath, prefix string) (Store, error) {
	switch backend {
	case "rocksdb":
		return OpenRocksStore(rocksPath, 60)
	case "memory":
		return NewMemoryStore(), nil
	case "", "redis":
		opts, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("dedup: parse redis url: %w", err)
		}
		return NewRedisStore(redis.NewClient(opts), prefix), nil
	default:
		return nil, fmt.Errorf("dedup: unknown backend %q", backend)
	}
}
