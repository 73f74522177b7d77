package ledger

import (
	"time"

	id "h2ledger/pkg/domain"
	dErrors "h2ledger/pkg/domain-errors"
)

// SourceCategory classifies the renewable input of a production plant.
type SourceCategory string

const (
	SourceSolar      SourceCategory = "solar"
	SourceWind       SourceCategory = "wind"
	SourceHydro      SourceCategory = "hydro"
	SourceGeothermal SourceCategory = "geothermal"
)

// Producer is the aggregate root for a registered hydrogen plant operator.
//
// Invariants:
//   - PlantID is unique across all producers
//   - TotalProduced is monotonic: mutated only by successful batch issuance,
//     never decreased
//   - Conservation: sum of the producer's batch amounts always equals
//     TotalProduced
type Producer struct {
	ID             id.ProducerID  `json:"id"`
	Owner          id.ActorID     `json:"owner"`
	PlantID        string         `json:"plant_id"`
	Source         SourceCategory `json:"source"`
	MonthlyLimit   int64          `json:"monthly_limit"`
	TotalProduced  int64          `json:"total_produced"`
	Active         bool           `json:"active"`
	Verified       bool           `json:"verified"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// CreditBatch is an immutable unit of issued credit tied to one verified
// submission.
//
// Invariants:
//   - Amount is immutable after creation
//   - Retired transitions false to true exactly once; retirement removes the
//     amount from circulating supply but never from the producer's
//     TotalProduced
//   - Holder changes only via custody transfer; batch identity and amount
//     are unaffected
type CreditBatch struct {
	ID               id.BatchID      `json:"id"`
	Producer         id.ProducerID   `json:"producer"`
	Holder           id.ActorID      `json:"holder"`
	Amount           int64           `json:"amount"`
	Submission       id.SubmissionID `json:"submission"`
	IssuedAt         time.Time       `json:"issued_at"`
	Retired          bool            `json:"retired"`
	RetirementReason string          `json:"retirement_reason,omitempty"`
	RetiredAt        *time.Time      `json:"retired_at,omitempty"`
}

// CanRetire checks the batch side of the retirement preconditions.
func (b *CreditBatch) CanRetire(holder id.ActorID) error {
	if b.Retired {
		return dErrors.Newf(dErrors.CodeConflict, "batch %s is already retired", b.ID)
	}
	if b.Holder != holder {
		return dErrors.Newf(dErrors.CodeForbidden, "batch %s is not held by the caller", b.ID)
	}
	return nil
}

// ApplyRetirement marks the batch retired. Call CanRetire first.
func (b *CreditBatch) ApplyRetirement(reason string, now time.Time) {
	b.Retired = true
	b.RetirementReason = reason
	at := now
	b.RetiredAt = &at
}

// RetirementRecord is the append-only trail of a retirement. Never mutated.
type RetirementRecord struct {
	ID        id.SettlementID `json:"id"`
	Holder    id.ActorID      `json:"holder"`
	Batches   []id.BatchID    `json:"batches"`
	Amount    int64           `json:"amount"`
	Reason    string          `json:"reason"`
	RetiredAt time.Time       `json:"retired_at"`
}

// Balance is an actor's credit position. Escrowed credits remain the actor's
// economic property but are excluded from Spendable while a listing holds
// them (escrow custody, not a transfer to another account).
//
// Invariants:
//   - Spendable >= 0 and Escrowed >= 0 at every observation point
//   - Escrowed only grows via listing creation and only shrinks via purchase
//     settlement or listing cancellation
type Balance struct {
	Actor     id.ActorID `json:"actor"`
	Spendable int64      `json:"spendable"`
	Escrowed  int64      `json:"escrowed"`
	UpdatedAt time.Time  `json:"updated_at"`
}
