// Package dedup provides the shared seen-record store used by every adapter
// and source to suppress reprocessing.
//
// The store is advisory: callers treat an error from Exists as "not seen"
// and keep ingesting, accepting that duplicate publishes are possible and
// must be tolerated by idempotent consumers downstream.
package dedup

import (
	"context"
	"time"
)

type Store interface {
	// Exists reports whether key was marked within its TTL.
	Exists(ctx context.Context, key string) (bool, error)
	// MarkSeen records key for ttl.
	MarkSeen(ctx context.Context, key string, ttl time.Duration) error
	Close() error
}

// Common TTLs: re-poll windows of the sources.
const (
	TxTTL    = time.Hour
	BlockTTL = 24 * time.Hour
	AlertTTL = 24 * time.Hour
)
