package bus

import (
	"context"
	"log/slog"
	"time"

	"github.com/IBM/sarama"
)

// MessageHandler processes one bus payload. A nil return acknowledges the
// message; handlers drop malformed payloads themselves so the consumer
// never stalls on bad input.
type MessageHandler func(ctx context.Context, payload []byte) error

// Consumer reads the event topic through a consumer group, one message at a
// time in delivery order per partition.
type Consumer struct {
	group  sarama.ConsumerGroup
	topic  string
	logger *slog.Logger
}

func NewConsumer(brokers []string, groupID, topic string, logger *slog.Logger) (*Consumer, error) {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_1_0_0
	cfg.Consumer.Group.Rebalance.Strategy = sarama.BalanceStrategyRange
	cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	cfg.Consumer.Return.Errors = true

	cg, err := sarama.NewConsumerGroup(brokers, groupID, cfg)
	if err != nil {
		return nil, err
	}
	return &Consumer{group: cg, topic: topic, logger: logger}, nil
}

func (c *Consumer) Close() error { return c.group.Close() }

// Run consumes until ctx is done. sarama requires re-entering Consume after
// every rebalance.
func (c *Consumer) Run(ctx context.Context, handle MessageHandler) error {
	h := &groupHandler{handle: handle, logger: c.logger}
	for {
		if err := c.group.Consume(ctx, []string{c.topic}, h); err != nil {
			c.logger.Warn("consume error", "error", err)
			time.Sleep(300 * time.Millisecond)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

type groupHandler struct {
	handle MessageHandler
	logger *slog.Logger
}

func (h *groupHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *groupHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *groupHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		if err := h.handle(sess.Context(), msg.Value); err != nil {
			// handler errors are not retryable here; log and move on
			h.logger.Error("handler error", "partition", msg.Partition, "offset", msg.Offset, "error", err)
		}
		sess.MarkMessage(msg, "")
	}
	return nil
}
