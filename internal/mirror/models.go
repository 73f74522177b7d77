// Package mirror holds the queryable off-chain projection of the
// authoritative chain state. The reconciler is the only writer; every other
// component treats the mirror as read-only.
package mirror

import (
	"time"

	id "h2ledger/pkg/domain"
)

// Submission mirrors a production claim and its resolution.
type Submission struct {
	ID          id.SubmissionID `json:"id"`
	Producer    id.ProducerID   `json:"producer"`
	ContentHash string          `json:"content_hash"`
	Amount      int64           `json:"amount"`
	ClaimedAt   time.Time       `json:"claimed_at"`
	SubmittedAt time.Time       `json:"submitted_at"`
	Status      string          `json:"status"`
	Verifier    *id.ActorID     `json:"verifier,omitempty"`
	ResolvedAt  *time.Time      `json:"resolved_at,omitempty"`
}

// ImmutableEquals reports whether the fields that never change after a
// submission is recorded agree. Status, verifier, and resolution time are
// lifecycle fields and excluded.
func (s *Submission) ImmutableEquals(other *Submission) bool {
	return s.ID == other.ID &&
		s.Producer == other.Producer &&
		s.ContentHash == other.ContentHash &&
		s.Amount == other.Amount &&
		s.ClaimedAt.Equal(other.ClaimedAt) &&
		s.SubmittedAt.Equal(other.SubmittedAt)
}

func (s *Submission) Equals(other *Submission) bool {
	verifierEqual := (s.Verifier == nil) == (other.Verifier == nil) &&
		(s.Verifier == nil || *s.Verifier == *other.Verifier)
	return s.ImmutableEquals(other) &&
		s.Status == other.Status &&
		verifierEqual &&
		timePtrEqual(s.ResolvedAt, other.ResolvedAt)
}

// Batch mirrors an issued credit batch. Holder and the retirement fields are
// the only mutable parts; everything else is fixed at issuance.
type Batch struct {
	ID         id.BatchID      `json:"id"`
	Producer   id.ProducerID   `json:"producer"`
	Holder     id.ActorID      `json:"holder"`
	Amount     int64           `json:"amount"`
	Submission id.SubmissionID `json:"submission"`
	IssuedAt   time.Time       `json:"issued_at"`
	Retired    bool            `json:"retired"`
	RetiredAt  *time.Time      `json:"retired_at,omitempty"`
}

func (b *Batch) ImmutableEquals(other *Batch) bool {
	return b.ID == other.ID &&
		b.Producer == other.Producer &&
		b.Amount == other.Amount &&
		b.Submission == other.Submission &&
		b.IssuedAt.Equal(other.IssuedAt)
}

// Equals reports full payload equality, mutable fields included. Used to
// distinguish a pure redelivery from a state progression.
func (b *Batch) Equals(other *Batch) bool {
	return b.ImmutableEquals(other) &&
		b.Holder == other.Holder &&
		b.Retired == other.Retired &&
		timePtrEqual(b.RetiredAt, other.RetiredAt)
}

// Transfer mirrors one custody move of a batch. Append-only.
type Transfer struct {
	ID            id.SettlementID `json:"id"`
	Batch         id.BatchID      `json:"batch"`
	From          id.ActorID      `json:"from"`
	To            id.ActorID      `json:"to"`
	TransferredAt time.Time       `json:"transferred_at"`
}

func (t *Transfer) Equals(other *Transfer) bool {
	return t.ID == other.ID &&
		t.Batch == other.Batch &&
		t.From == other.From &&
		t.To == other.To &&
		t.TransferredAt.Equal(other.TransferredAt)
}

// Listing mirrors an escrow-backed sale offer. Amount is the original listed
// size and never changes; Remaining, PricePerUnit, and Status track the
// listing's live state.
type Listing struct {
	ID           id.ListingID `json:"id"`
	Seller       id.ActorID   `json:"seller"`
	Amount       int64        `json:"amount"`
	Remaining    int64        `json:"remaining"`
	PricePerUnit int64        `json:"price_per_unit"`
	Status       string       `json:"status"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

func (l *Listing) ImmutableEquals(other *Listing) bool {
	return l.ID == other.ID &&
		l.Seller == other.Seller &&
		l.Amount == other.Amount &&
		l.CreatedAt.Equal(other.CreatedAt)
}

func (l *Listing) Equals(other *Listing) bool {
	return l.ImmutableEquals(other) &&
		l.Remaining == other.Remaining &&
		l.PricePerUnit == other.PricePerUnit &&
		l.Status == other.Status &&
		l.UpdatedAt.Equal(other.UpdatedAt)
}

// Settlement mirrors one purchase. Its ID is the settlement reference from
// the marketplace and doubles as the idempotency key; the whole record is
// immutable, so any payload divergence on redelivery is a conflict.
type Settlement struct {
	ID         id.SettlementID `json:"id"`
	Listing    id.ListingID    `json:"listing"`
	Buyer      id.ActorID      `json:"buyer"`
	Seller     id.ActorID      `json:"seller"`
	Amount     int64           `json:"amount"`
	TotalPrice int64           `json:"total_price"`
	Fee        int64           `json:"fee"`
	SettledAt  time.Time       `json:"settled_at"`
}

func timePtrEqual(a, b *time.Time) bool {
	if (a == nil) != (b == nil) {
		return false
	}
	return a == nil || a.Equal(*b)
}

func (s *Settlement) Equals(other *Settlement) bool {
	return s.ID == other.ID &&
		s.Listing == other.Listing &&
		s.Buyer == other.Buyer &&
		s.Seller == other.Seller &&
		s.Amount == other.Amount &&
		s.TotalPrice == other.TotalPrice &&
		s.Fee == other.Fee &&
		s.SettledAt.Equal(other.SettledAt)
}
