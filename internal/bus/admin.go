package bus

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/IBM/sarama"
)

// TopicSpec declares one topic with its broker-side retention bounds.
// Retention is the backpressure/staleness policy: once a bound is exceeded
// the broker drops the oldest messages.
type TopicSpec struct {
	Name           string
	Partitions     int32
	RetentionMS    int64
	RetentionBytes int64
}

// DefaultTopicSpecs bounds the main topic at 24h and the dead-letter topic
// at 7 days with a tighter size cap.
func DefaultTopicSpecs(topic, dlqTopic string) []TopicSpec {
	return []TopicSpec{
		{Name: topic, Partitions: 3, RetentionMS: 86400000, RetentionBytes: 1 << 30},
		{Name: dlqTopic, Partitions: 1, RetentionMS: 604800000, RetentionBytes: 1 << 27},
	}
}

// EnsureTopics creates each topic with its retention config, or re-applies
// the retention config when the topic already exists. Callers treat a
// failure as non-fatal: a locked-down broker may refuse admin operations
// while still accepting produce/consume.
func EnsureTopics(brokers []string, logger *slog.Logger, specs ...TopicSpec) error {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_1_0_0

	admin, err := sarama.NewClusterAdmin(brokers, cfg)
	if err != nil {
		return fmt.Errorf("bus: cluster admin: %w", err)
	}
	defer admin.Close()

	for _, spec := range specs {
		entries := retentionEntries(spec)
		err := admin.CreateTopic(spec.Name, &sarama.TopicDetail{
			NumPartitions:     spec.Partitions,
			ReplicationFactor: 1,
			ConfigEntries:     entries,
		}, false)
		switch {
		case err == nil:
			logger.Info("topic created", "topic", spec.Name,
				"retention_ms", spec.RetentionMS, "retention_bytes", spec.RetentionBytes)
		case isTopicExists(err):
			if err := admin.AlterConfig(sarama.TopicResource, spec.Name, entries, false); err != nil {
				return fmt.Errorf("bus: alter %s retention: %w", spec.Name, err)
			}
			logger.Debug("topic retention re-applied", "topic", spec.Name)
		default:
			return fmt.Errorf("bus: create %s: %w", spec.Name, err)
		}
	}
	return nil
}

func retentionEntries(spec TopicSpec) map[string]*string {
	ms := fmt.Sprintf("%d", spec.RetentionMS)
	bytes := fmt.Sprintf("%d", spec.RetentionBytes)
	return map[string]*string{
		"retention.ms":    &ms,
		"retention.bytes": &bytes,
	}
}

func isTopicExists(err error) bool {
	var topicErr *sarama.TopicError
	if errors.As(err, &topicErr) {
		return topicErr.Err == sarama.ErrTopicAlreadyExists
	}
	return errors.Is(err, sarama.ErrTopicAlreadyExists)
}
