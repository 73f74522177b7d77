package reconciler

import (
	"fmt"
	"time"

	"h2ledger/internal/mirror"
	dErrors "h2ledger/pkg/domain-errors"
)

// EventKind names an authoritative chain event type.
type EventKind string

const (
	KindSubmission     EventKind = "submission"
	KindIssuance       EventKind = "issuance"
	KindTransfer       EventKind = "transfer"
	KindRetirement     EventKind = "retirement"
	KindListingCreated EventKind = "listing.created"
	KindPriceUpdated   EventKind = "listing.price_updated"
	KindPurchased      EventKind = "listing.purchased"
	KindCancelled      EventKind = "listing.cancelled"
)

// ChainEvent is one event from the authoritative source. The payload pointers
// carry the entity's full post-event state; which pointers are set depends on
// Kind. Sequence is the source's per-stream position, used only for keys of
// events that legitimately repeat on the same entity.
type ChainEvent struct {
	Kind       EventKind          `json:"kind"`
	Sequence   uint64             `json:"sequence"`
	OccurredAt time.Time          `json:"occurred_at"`
	Submission *mirror.Submission `json:"submission,omitempty"`
	Batch      *mirror.Batch      `json:"batch,omitempty"`
	Transfer   *mirror.Transfer   `json:"transfer,omitempty"`
	Listing    *mirror.Listing    `json:"listing,omitempty"`
	Settlement *mirror.Settlement `json:"settlement,omitempty"`
}

// Validate checks that the payloads the kind requires are present.
func (e *ChainEvent) Validate() error {
	missing := func(what string) error {
		return dErrors.Newf(dErrors.CodeInvalidInput, "%s event without %s payload", e.Kind, what)
	}
	switch e.Kind {
	case KindSubmission:
		if e.Submission == nil {
			return missing("submission")
		}
	case KindIssuance, KindRetirement:
		if e.Batch == nil {
			return missing("batch")
		}
	case KindTransfer:
		if e.Transfer == nil || e.Batch == nil {
			return missing("transfer and batch")
		}
	case KindListingCreated, KindPriceUpdated, KindCancelled:
		if e.Listing == nil {
			return missing("listing")
		}
	case KindPurchased:
		if e.Settlement == nil || e.Listing == nil {
			return missing("settlement and listing")
		}
	default:
		return dErrors.Newf(dErrors.CodeInvalidInput, "unknown chain event kind %q", e.Kind)
	}
	return nil
}

// IdempotencyKey derives the stable key that identifies this event across
// redeliveries. Built from immutable identifying fields where the event has
// them; price updates repeat on one entity, so they fall back to the stream
// sequence.
func (e *ChainEvent) IdempotencyKey() string {
	switch e.Kind {
	case KindSubmission:
		return fmt.Sprintf("submission:%s:%s", e.Submission.ID, e.Submission.Status)
	case KindIssuance:
		return "batch:" + e.Batch.ID.String()
	case KindTransfer:
		return "transfer:" + e.Transfer.ID.String()
	case KindRetirement:
		return "retire:" + e.Batch.ID.String()
	case KindListingCreated:
		return "listing:" + e.Listing.ID.String()
	case KindPriceUpdated:
		return fmt.Sprintf("price:%s:%d", e.Listing.ID, e.Sequence)
	case KindPurchased:
		return "settlement:" + e.Settlement.ID.String()
	case KindCancelled:
		return "cancel:" + e.Listing.ID.String()
	default:
		return fmt.Sprintf("seq:%d", e.Sequence)
	}
}
