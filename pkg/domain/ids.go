// Package domain defines the typed identifiers shared across the engine.
//
// Each entity gets its own UUID-backed type so the compiler rejects
// cross-entity mixups (passing a ListingID where a BatchID is expected).
// Parse functions enforce the invariant that ids are valid, non-nil UUIDs at
// trust boundaries; internal code constructs ids directly from uuid.New().
package domain

import (
	"github.com/google/uuid"

	dErrors "h2ledger/pkg/domain-errors"
)

type (
	// ActorID identifies any authenticated party: producer owner, verifier,
	// buyer, admin. Producers reference their owning actor separately.
	ActorID uuid.UUID

	// ProducerID identifies a registered production plant operator.
	ProducerID uuid.UUID

	// SubmissionID identifies a production claim awaiting verification.
	SubmissionID uuid.UUID

	// BatchID identifies an issued credit batch.
	BatchID uuid.UUID

	// ListingID identifies a marketplace listing.
	ListingID uuid.UUID

	// SettlementID is the unique settlement reference for a purchase. It
	// doubles as the idempotency key for settlement events.
	SettlementID uuid.UUID
)

func (id ActorID) String() string      { return uuid.UUID(id).String() }
func (id ProducerID) String() string   { return uuid.UUID(id).String() }
func (id SubmissionID) String() string { return uuid.UUID(id).String() }
func (id BatchID) String() string      { return uuid.UUID(id).String() }
func (id ListingID) String() string    { return uuid.UUID(id).String() }
func (id SettlementID) String() string { return uuid.UUID(id).String() }

func (id ActorID) IsNil() bool      { return uuid.UUID(id) == uuid.Nil }
func (id ProducerID) IsNil() bool   { return uuid.UUID(id) == uuid.Nil }
func (id SubmissionID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id BatchID) IsNil() bool      { return uuid.UUID(id) == uuid.Nil }
func (id ListingID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }
func (id SettlementID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }

func NewActorID() ActorID           { return ActorID(uuid.New()) }
func NewProducerID() ProducerID     { return ProducerID(uuid.New()) }
func NewSubmissionID() SubmissionID { return SubmissionID(uuid.New()) }
func NewBatchID() BatchID           { return BatchID(uuid.New()) }
func NewListingID() ListingID       { return ListingID(uuid.New()) }
func NewSettlementID() SettlementID { return SettlementID(uuid.New()) }

func parseUUID(raw, kind string) (uuid.UUID, error) {
	if raw == "" {
		return uuid.Nil, dErrors.Newf(dErrors.CodeInvalidInput, "%s id is required", kind)
	}
	parsed, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, dErrors.Newf(dErrors.CodeInvalidInput, "%s id is not a valid uuid", kind)
	}
	if parsed == uuid.Nil {
		return uuid.Nil, dErrors.Newf(dErrors.CodeInvalidInput, "%s id must not be the nil uuid", kind)
	}
	return parsed, nil
}

func ParseActorID(raw string) (ActorID, error) {
	u, err := parseUUID(raw, "actor")
	return ActorID(u), err
}

func ParseProducerID(raw string) (ProducerID, error) {
	u, err := parseUUID(raw, "producer")
	return ProducerID(u), err
}

func ParseSubmissionID(raw string) (SubmissionID, error) {
	u, err := parseUUID(raw, "submission")
	return SubmissionID(u), err
}

func ParseBatchID(raw string) (BatchID, error) {
	u, err := parseUUID(raw, "batch")
	return BatchID(u), err
}

func ParseListingID(raw string) (ListingID, error) {
	u, err := parseUUID(raw, "listing")
	return ListingID(u), err
}

func ParseSettlementID(raw string) (SettlementID, error) {
	u, err := parseUUID(raw, "settlement")
	return SettlementID(u), err
}
