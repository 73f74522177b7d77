// Package events publishes the engine's domain events for notification and
// audit consumers: submission resolved, batch issued, batch retired, listing
// created/sold/cancelled, purchase settled.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Kind names a domain event type.
type Kind string

const (
	KindSubmissionResolved Kind = "submission.resolved"
	KindBatchIssued        Kind = "batch.issued"
	KindBatchRetired       Kind = "batch.retired"
	KindListingChanged     Kind = "listing.changed"
	KindPurchaseSettled    Kind = "purchase.settled"
)

// Event is the envelope published to consumers. EntityID keys per-entity
// ordering downstream; Payload is the JSON-encoded entity snapshot.
type Event struct {
	ID       uuid.UUID       `json:"id"`
	Kind     Kind            `json:"kind"`
	EntityID string          `json:"entity_id"`
	Payload  json.RawMessage `json:"payload"`
	EmittedAt time.Time      `json:"emitted_at"`
}

// Publisher delivers events to an external sink. Delivery is best-effort
// fire-and-forget from the engines' perspective; the authoritative record of
// every state change lives in the stores, not in this stream.
type Publisher interface {
	Publish(ctx context.Context, event Event)
}

// NewEvent builds an envelope around an entity snapshot. Marshal failures
// cannot happen for the engine's own model types, so the payload is built
// with best effort and an empty payload on error.
func NewEvent(kind Kind, entityID string, payload any, now time.Time) Event {
	raw, err := json.Marshal(payload)
	if err != nil {
		raw = nil
	}
	return Event{
		ID:        uuid.New(),
		Kind:      kind,
		EntityID:  entityID,
		Payload:   raw,
		EmittedAt: now,
	}
}
