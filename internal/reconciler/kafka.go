package reconciler

import (
	"context"
	"encoding/json"
	"fmt"

	"h2ledger/internal/platform/kafka/consumer"
)

// SnapshotFunc pulls the authoritative current state, typically from the
// chain gateway's query API.
type SnapshotFunc func(ctx context.Context) (*Snapshot, error)

// KafkaSource consumes chain events from a Kafka topic. Records are keyed by
// entity id, so per-entity order holds within a partition; offsets commit
// only after the handler succeeds, giving at-least-once delivery.
type KafkaSource struct {
	consumer *consumer.Consumer
	snapshot SnapshotFunc
}

func NewKafkaSource(c *consumer.Consumer, snapshot SnapshotFunc) *KafkaSource {
	return &KafkaSource{consumer: c, snapshot: snapshot}
}

func (s *KafkaSource) Subscribe(ctx context.Context, handler Handler) error {
	return s.consumer.Run(ctx, func(ctx context.Context, msg *consumer.Message) error {
		var event ChainEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			return fmt.Errorf("decode chain event at %s/%d@%d: %w",
				msg.Topic, msg.Partition, msg.Offset, err)
		}
		return handler(ctx, &event)
	})
}

func (s *KafkaSource) Snapshot(ctx context.Context) (*Snapshot, error) {
	return s.snapshot(ctx)
}
