package adapter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chenzhangda16/riskpipe/internal/dedup"
	"github.com/chenzhangda16/riskpipe/internal/event"
)

type fakeSource struct {
	recent    []Candidate
	recentErr error
	details   map[string]event.TransactionEvent
	detailErr map[string]error
	block     Block
	blockTxs  []event.TransactionEvent

	detailCalls int
}

func (f *fakeSource) Name() string   { return "btc" }
func (f *fakeSource) Source() string { return "bitcoin" }

func (f *fakeSource) Recent(context.Context) ([]Candidate, error) {
	return f.recent, f.recentErr
}

func (f *fakeSource) Detail(_ context.Context, id string) (event.TransactionEvent, error) {
	f.detailCalls++
	if err := f.detailErr[id]; err != nil {
		return event.TransactionEvent{}, err
	}
	ev, ok := f.details[id]
	if !ok {
		return event.TransactionEvent{}, fmt.Errorf("no such tx %s", id)
	}
	return ev, nil
}

func (f *fakeSource) FinalizedBlock(context.Context) (Block, error) {
	return f.block, nil
}

func (f *fakeSource) BlockTxs(context.Context, Block) ([]event.TransactionEvent, error) {
	return f.blockTxs, nil
}

type capturePublisher struct {
	mu     sync.Mutex
	events []event.TransactionEvent
	err    error
}

func (c *capturePublisher) Publish(_ context.Context, ev event.TransactionEvent, _ string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.events = append(c.events, ev)
	return nil
}

func (c *capturePublisher) Close() error { return nil }

func (c *capturePublisher) published() []event.TransactionEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]event.TransactionEvent(nil), c.events...)
}

func newTestAdapter(src ChainSource, pub *capturePublisher) (*Adapter, *dedup.MemoryStore) {
	seen := dedup.NewMemoryStore()
	a := New(Config{Pacing: -1, FetchRetries: 1}, src, seen, pub, slog.New(slog.DiscardHandler))
	return a, seen
}

func preEvent(coupon string) event.TransactionEvent {
	return event.TransactionEvent{CouponHash: coupon, KID: "bitcoin:alice", GridID: "crypto:bitcoin", Amount: 5}
}

func TestPollRecentPublishesAndMarks(t *testing.T) {
	src := &fakeSource{
		recent: []Candidate{{ID: "t1"}, {ID: "t2"}},
		details: map[string]event.TransactionEvent{
			"t1": preEvent("t1"),
			"t2": preEvent("t2"),
		},
	}
	pub := &capturePublisher{}
	a, seen := newTestAdapter(src, pub)

	a.pollRecent(context.Background())

	got := pub.published()
	require.Len(t, got, 2)
	for _, ev := range got {
		assert.Equal(t, event.TypePreSettlement, ev.EventType)
		assert.NotEmpty(t, ev.EventID)
	}

	ok, err := seen.Exists(context.Background(), "btc:tx:t1")
	require.NoError(t, err)
	assert.True(t, ok)

	// second pass is a no-op
	a.pollRecent(context.Background())
	assert.Len(t, pub.published(), 2)
}

func TestPollRecentCapsPerTick(t *testing.T) {
	src := &fakeSource{details: map[string]event.TransactionEvent{}}
	for i := 0; i < 25; i++ {
		id := fmt.Sprintf("t%d", i)
		src.recent = append(src.recent, Candidate{ID: id})
		src.details[id] = preEvent(id)
	}
	pub := &capturePublisher{}
	a, _ := newTestAdapter(src, pub)

	a.pollRecent(context.Background())

	assert.Len(t, pub.published(), 10)
}

func TestPollRecentSkipsFailedRecord(t *testing.T) {
	src := &fakeSource{
		recent: []Candidate{{ID: "bad"}, {ID: "good"}},
		details: map[string]event.TransactionEvent{
			"good": preEvent("good"),
		},
		detailErr: map[string]error{"bad": errors.New("rpc down")},
	}
	pub := &capturePublisher{}
	a, seen := newTestAdapter(src, pub)

	a.pollRecent(context.Background())

	got := pub.published()
	require.Len(t, got, 1)
	assert.Equal(t, "good", got[0].CouponHash)

	// the failed record stays unmarked so the next tick retries it
	ok, err := seen.Exists(context.Background(), "btc:tx:bad")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPollRecentPublishFailureLeavesUnmarked(t *testing.T) {
	src := &fakeSource{
		recent:  []Candidate{{ID: "t1"}},
		details: map[string]event.TransactionEvent{"t1": preEvent("t1")},
	}
	pub := &capturePublisher{err: errors.New("broker unavailable")}
	a, seen := newTestAdapter(src, pub)

	a.pollRecent(context.Background())

	ok, err := seen.Exists(context.Background(), "btc:tx:t1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPollBlocksOncePerBlock(t *testing.T) {
	src := &fakeSource{
		block:    Block{ID: "blk-1", Height: 100},
		blockTxs: []event.TransactionEvent{preEvent("b1"), preEvent("b2")},
	}
	pub := &capturePublisher{}
	a, seen := newTestAdapter(src, pub)

	a.pollBlocks(context.Background())
	require.Len(t, pub.published(), 2)

	ok, err := seen.Exists(context.Background(), "btc:block:blk-1")
	require.NoError(t, err)
	assert.True(t, ok)

	// same block again: nothing new
	a.pollBlocks(context.Background())
	assert.Len(t, pub.published(), 2)
}

func TestPollBlocksSkipsAlreadySeenTxs(t *testing.T) {
	src := &fakeSource{
		block:    Block{ID: "blk-2", Height: 101},
		blockTxs: []event.TransactionEvent{preEvent("dup"), preEvent("fresh")},
	}
	pub := &capturePublisher{}
	a, seen := newTestAdapter(src, pub)
	require.NoError(t, seen.MarkSeen(context.Background(), "btc:tx:dup", dedup.TxTTL))

	a.pollBlocks(context.Background())

	got := pub.published()
	require.Len(t, got, 1)
	assert.Equal(t, "fresh", got[0].CouponHash)
}

func TestEndpointsRotate(t *testing.T) {
	e := NewEndpoints("a", "b", "c")
	assert.Equal(t, "a", e.Current())
	assert.Equal(t, "b", e.Rotate())
	assert.Equal(t, "c", e.Rotate())
	assert.Equal(t, "a", e.Rotate())
	assert.Equal(t, "a", e.Current())
}

func TestRunStopsOnContextCancel(t *testing.T) {
	src := &fakeSource{}
	pub := &capturePublisher{}
	a, _ := newTestAdapter(src, pub)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("adapter did not stop after cancel")
	}
}
