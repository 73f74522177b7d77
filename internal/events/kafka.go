package events

import (
	"context"
	"encoding/json"
	"log/slog"

	"h2ledger/internal/platform/kafka/producer"
)

// KafkaPublisher publishes envelopes keyed by entity id so consumers see
// per-entity order. Failures are logged, not propagated: the stores remain
// the authoritative record and downstream consumers heal via resync.
type KafkaPublisher struct {
	producer *producer.Producer
	logger   *slog.Logger
}

func NewKafkaPublisher(p *producer.Producer, logger *slog.Logger) *KafkaPublisher {
	return &KafkaPublisher{producer: p, logger: logger}
}

func (p *KafkaPublisher) Publish(ctx context.Context, event Event) {
	value, err := json.Marshal(event)
	if err != nil {
		p.logger.ErrorContext(ctx, "marshal domain event", "kind", event.Kind, "error", err)
		return
	}
	if err := p.producer.Publish(ctx, event.EntityID, value); err != nil {
		p.logger.ErrorContext(ctx, "publish domain event",
			"kind", event.Kind, "entity_id", event.EntityID, "error", err)
	}
}
