// Package bus wraps Kafka with the delivery discipline the pipeline relies
// on: confirmed publishes, bounded retry, and dead-letter routing.
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"

	"github.com/chenzhangda16/riskpipe/internal/event"
	"github.com/chenzhangda16/riskpipe/internal/metrics"
	"github.com/chenzhangda16/riskpipe/internal/retry"
)

// Publisher is the producer-side contract. A nil error means the event is
// broker-confirmed and durable (at-least-once); an error means the event is
// either dead-lettered or lost, and the caller decides whether that is fatal
// to its own operation.
type Publisher interface {
	Publish(ctx context.Context, ev event.TransactionEvent, source string) error
	Close() error
}

// syncSender is the slice of sarama.SyncProducer the publisher needs;
// narrowed so tests can inject a fake.
type syncSender interface {
	SendMessage(msg *sarama.ProducerMessage) (partition int32, offset int64, err error)
	Close() error
}

type KafkaPublisher struct {
	topic    string
	dlqTopic string
	sp       syncSender
	logger   *slog.Logger

	maxAttempts int
	baseDelay   time.Duration
}

// NewKafkaPublisher connects a confirmed producer: acks from all in-sync
// replicas, idempotent, bounded broker-side retries.
func NewKafkaPublisher(brokers []string, topic, dlqTopic string, logger *slog.Logger) (*KafkaPublisher, error) {
	if topic == "" || dlqTopic == "" {
		return nil, errors.New("bus: topic and dlq topic required")
	}
	if len(brokers) == 0 {
		return nil, errors.New("bus: no brokers")
	}

	cfg := sarama.NewConfig()
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 10
	cfg.Producer.Retry.Backoff = 200 * time.Millisecond
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	cfg.Producer.Idempotent = true
	cfg.Net.MaxOpenRequests = 1
	cfg.Version = sarama.V2_1_0_0

	sp, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, err
	}
	return &KafkaPublisher{
		topic:       topic,
		dlqTopic:    dlqTopic,
		sp:          sp,
		logger:      logger,
		maxAttempts: 3,
		baseDelay:   100 * time.Millisecond,
	}, nil
}

func (p *KafkaPublisher) Close() error { return p.sp.Close() }

// Publish sends ev and waits for broker confirmation, retrying with backoff.
// After the attempts are exhausted the annotated payload goes to the DLQ and
// the original error is returned.
func (p *KafkaPublisher) Publish(ctx context.Context, ev event.TransactionEvent, source string) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("bus: marshal: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(ev.CouponHash),
		Value: sarama.ByteEncoder(payload),
		Headers: []sarama.RecordHeader{
			{Key: []byte(event.HeaderEventType), Value: []byte(ev.EventType)},
			{Key: []byte(event.HeaderSource), Value: []byte(source)},
		},
	}

	attempts := 0
	sendErr := retry.Do(ctx, retry.Policy{
		MaxAttempts: p.maxAttempts,
		BaseDelay:   p.baseDelay,
		MaxDelay:    5 * time.Second,
		OnRetry: func(attempt int, wait time.Duration, err error) {
			metrics.PublishRetries.WithLabelValues(source).Inc()
			p.logger.Warn("publish retry",
				"source", source, "attempt", attempt, "wait", wait, "error", err)
		},
	}, func(context.Context) error {
		attempts++
		_, _, err := p.sp.SendMessage(msg)
		if err != nil {
			metrics.PublishFailure.WithLabelValues(source).Inc()
		}
		return err
	})

	if sendErr == nil {
		metrics.PublishSuccess.WithLabelValues(source).Inc()
		countRiskFactors(ev, source)
		return nil
	}
	if attempts == 0 {
		// nothing was sent, so there is no failed delivery to dead-letter
		return fmt.Errorf("bus: publish aborted: %w", sendErr)
	}

	p.deadLetter(ev, source, sendErr, attempts)
	return fmt.Errorf("bus: publish after %d attempts: %w", attempts, sendErr)
}

// deadLetter routes the annotated payload to the DLQ; a DLQ failure is
// logged only, the original error still reaches the caller.
func (p *KafkaPublisher) deadLetter(ev event.TransactionEvent, source string, cause error, attempts int) {
	dl := event.DeadLetter{
		TransactionEvent: ev,
		Error:            cause.Error(),
		RetryCount:       attempts,
		FailedAt:         time.Now().UTC().Format(time.RFC3339),
	}
	payload, err := json.Marshal(dl)
	if err != nil {
		p.logger.Error("dead-letter marshal failed", "source", source, "error", err)
		return
	}
	_, _, err = p.sp.SendMessage(&sarama.ProducerMessage{
		Topic: p.dlqTopic,
		Key:   sarama.StringEncoder(ev.CouponHash),
		Value: sarama.ByteEncoder(payload),
		Headers: []sarama.RecordHeader{
			{Key: []byte(event.HeaderEventType), Value: []byte(ev.EventType)},
			{Key: []byte(event.HeaderSource), Value: []byte(source)},
		},
	})
	if err != nil {
		p.logger.Error("dead-letter publish failed", "source", source, "error", err)
		return
	}
	metrics.DeadLettered.WithLabelValues(source).Inc()
}

// countRiskFactors handles both the producer-side []string and the []any
// shape the slice takes after a JSON round-trip.
func countRiskFactors(ev event.TransactionEvent, source string) {
	if ev.Metadata == nil {
		return
	}
	switch rfs := ev.Metadata["risk_factors"].(type) {
	case []string:
		for _, rf := range rfs {
			metrics.PublishByRiskFactor.WithLabelValues(source, rf).Inc()
		}
	case []any:
		for _, v := range rfs {
			if rf, ok := v.(string); ok {
				metrics.PublishByRiskFactor.WithLabelValues(source, rf).Inc()
			}
		}
	}
}
