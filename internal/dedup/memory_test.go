package dedup

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarkThenExists(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	ok, err := s.Exists(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.MarkSeen(ctx, "k1", time.Minute))
	ok, err = s.Exists(ctx, "k1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEntryExpires(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	base := time.UnixMilli(1700000000000)
	s.now = func() time.Time { return base }

	require.NoError(t, s.MarkSeen(ctx, "k", time.Minute))

	// at the exact expiry instant the entry is still live
	s.now = func() time.Time { return base.Add(time.Minute) }
	ok, err := s.Exists(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)

	s.now = func() time.Time { return base.Add(time.Minute + time.Nanosecond) }
	ok, err = s.Exists(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSeenOrMarkIdempotency(t *testing.T) {
	s := NewMemoryStore()

	assert.False(t, s.SeenOrMark("coupon", time.Minute), "first submission records")
	assert.True(t, s.SeenOrMark("coupon", time.Minute), "second submission is a duplicate")
	assert.True(t, s.SeenOrMark("coupon", time.Minute))
	assert.False(t, s.SeenOrMark("other", time.Minute))
}

func TestSeenOrMarkAfterExpiry(t *testing.T) {
	s := NewMemoryStore()
	base := time.UnixMilli(1700000000000)
	s.now = func() time.Time { return base }

	require.False(t, s.SeenOrMark("k", time.Minute))
	s.now = func() time.Time { return base.Add(2 * time.Minute) }
	assert.False(t, s.SeenOrMark("k", time.Minute), "expired key is fresh again")
}

func TestRemarkExtendsLifetime(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	base := time.UnixMilli(1700000000000)
	s.now = func() time.Time { return base }

	require.NoError(t, s.MarkSeen(ctx, "k", time.Minute))
	s.now = func() time.Time { return base.Add(30 * time.Second) }
	require.NoError(t, s.MarkSeen(ctx, "k", time.Minute))

	// the first queue entry expires; the re-mark must survive its eviction
	s.now = func() time.Time { return base.Add(70 * time.Second) }
	require.NoError(t, s.MarkSeen(ctx, "trigger-evict", time.Minute))
	ok, err := s.Exists(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestQueueCompacts(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	base := time.UnixMilli(1700000000000)
	tick := 0
	s.now = func() time.Time { return base.Add(time.Duration(tick) * time.Second) }

	for i := 0; i < 10000; i++ {
		tick = i
		require.NoError(t, s.MarkSeen(ctx, fmt.Sprintf("k%d", i), time.Millisecond))
	}
	assert.Less(t, len(s.q), 10000, "expired entries must be compacted away")
	assert.Less(t, len(s.m), 10, "expired keys must leave the map")
}
