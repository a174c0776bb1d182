package bus

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chenzhangda16/riskpipe/internal/event"
	"github.com/chenzhangda16/riskpipe/internal/metrics"
)

// fakeSender fails the first failN main-topic sends, then succeeds. DLQ
// sends are recorded separately.
type fakeSender struct {
	failN    int
	dlqFail  bool
	sent     []*sarama.ProducerMessage
	dlq      []*sarama.ProducerMessage
	mainSeen int
}

func (f *fakeSender) SendMessage(msg *sarama.ProducerMessage) (int32, int64, error) {
	if msg.Topic == "tx-events-dlq" {
		if f.dlqFail {
			return 0, 0, errors.New("dlq broker down")
		}
		f.dlq = append(f.dlq, msg)
		return 0, 0, nil
	}
	f.mainSeen++
	if f.mainSeen <= f.failN {
		return 0, 0, errors.New("not enough replicas")
	}
	f.sent = append(f.sent, msg)
	return 0, int64(len(f.sent)), nil
}

func (f *fakeSender) Close() error { return nil }

func newTestPublisher(s syncSender) *KafkaPublisher {
	return &KafkaPublisher{
		topic:       "tx-events",
		dlqTopic:    "tx-events-dlq",
		sp:          s,
		logger:      slog.New(slog.DiscardHandler),
		maxAttempts: 3,
		baseDelay:   time.Millisecond,
	}
}

func testEvent() event.TransactionEvent {
	return event.TransactionEvent{
		EventID:    "e-1",
		EventType:  event.TypePreSettlement,
		CouponHash: "abc123",
		Amount:     15000,
	}
}

func TestPublishConfirmedFirstTry(t *testing.T) {
	s := &fakeSender{}
	p := newTestPublisher(s)

	require.NoError(t, p.Publish(context.Background(), testEvent(), "bitcoin"))
	require.Len(t, s.sent, 1)
	assert.Empty(t, s.dlq)

	msg := s.sent[0]
	key, _ := msg.Key.Encode()
	assert.Equal(t, "abc123", string(key))
	require.Len(t, msg.Headers, 2)
	assert.Equal(t, event.HeaderEventType, string(msg.Headers[0].Key))
	assert.Equal(t, event.TypePreSettlement, string(msg.Headers[0].Value))
	assert.Equal(t, "bitcoin", string(msg.Headers[1].Value))
}

func TestPublishRetriesExactlyUpToMax(t *testing.T) {
	// two failures then success: 3 attempts total, no DLQ
	s := &fakeSender{failN: 2}
	p := newTestPublisher(s)

	require.NoError(t, p.Publish(context.Background(), testEvent(), "bitcoin"))
	assert.Equal(t, 3, s.mainSeen)
	assert.Len(t, s.sent, 1)
	assert.Empty(t, s.dlq)
}

func TestPublishExhaustionDeadLettersAndErrors(t *testing.T) {
	s := &fakeSender{failN: 99}
	p := newTestPublisher(s)

	err := p.Publish(context.Background(), testEvent(), "bitcoin")
	require.Error(t, err)
	assert.Equal(t, 3, s.mainSeen, "exactly maxAttempts sends")
	require.Len(t, s.dlq, 1)

	raw, _ := s.dlq[0].Value.Encode()
	var dl event.DeadLetter
	require.NoError(t, json.Unmarshal(raw, &dl))
	assert.Equal(t, "abc123", dl.CouponHash)
	assert.Equal(t, 3, dl.RetryCount)
	assert.Contains(t, dl.Error, "not enough replicas")
	parsed, perr := time.Parse(time.RFC3339, dl.FailedAt)
	require.NoError(t, perr)
	assert.WithinDuration(t, time.Now().UTC(), parsed, time.Minute)
}

func TestDLQFailureStillReturnsOriginalError(t *testing.T) {
	s := &fakeSender{failN: 99, dlqFail: true}
	p := newTestPublisher(s)

	err := p.Publish(context.Background(), testEvent(), "bitcoin")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not enough replicas")
}

func TestPublishStopsOnCancelledContext(t *testing.T) {
	s := &fakeSender{failN: 99}
	p := newTestPublisher(s)
	p.baseDelay = 50 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := p.Publish(ctx, testEvent(), "bitcoin")
	require.Error(t, err)
	assert.LessOrEqual(t, s.mainSeen, 1, "no retries once the context is gone")
	if s.mainSeen == 0 {
		assert.Empty(t, s.dlq, "an undelivered event must not be dead-lettered")
	}
}

func TestCancelledBeforeFirstSendSkipsDLQ(t *testing.T) {
	s := &fakeSender{failN: 99}
	p := newTestPublisher(s)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := p.Publish(ctx, testEvent(), "bitcoin")
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, s.mainSeen)
	assert.Empty(t, s.dlq)
}

func TestRiskFactorCountersSurviveJSONRoundTrip(t *testing.T) {
	s := &fakeSender{}
	p := newTestPublisher(s)

	ev := testEvent()
	ev.Metadata = map[string]any{"risk_factors": []string{"darknet_market"}}
	raw, err := json.Marshal(ev)
	require.NoError(t, err)
	var decoded event.TransactionEvent
	require.NoError(t, json.Unmarshal(raw, &decoded))
	_, isAny := decoded.Metadata["risk_factors"].([]any)
	require.True(t, isAny, "JSON turns the slice into []any")

	source := "risk-factor-roundtrip"
	before := testutil.ToFloat64(metrics.PublishByRiskFactor.WithLabelValues(source, "darknet_market"))
	require.NoError(t, p.Publish(context.Background(), decoded, source))
	after := testutil.ToFloat64(metrics.PublishByRiskFactor.WithLabelValues(source, "darknet_market"))
	assert.Equal(t, before+1, after)
}
