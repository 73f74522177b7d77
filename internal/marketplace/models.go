package marketplace

import (
	"time"

	id "h2ledger/pkg/domain"
	dErrors "h2ledger/pkg/domain-errors"
)

// ListingStatus is the listing lifecycle state. active is the only state in
// which purchases and price updates succeed; sold and cancelled are terminal.
type ListingStatus string

const (
	ListingActive    ListingStatus = "active"
	ListingSold      ListingStatus = "sold"
	ListingCancelled ListingStatus = "cancelled"
)

// Listing is an escrow-backed offer of credits for sale.
//
// Invariants:
//   - Remaining is never negative and never increases after creation
//   - Remaining decreases only via purchases; reaching zero transitions the
//     listing to sold
//   - The amount escrowed for the seller always equals Remaining while the
//     listing is active (escrow custody)
type Listing struct {
	ID           id.ListingID  `json:"id"`
	Seller       id.ActorID    `json:"seller"`
	Remaining    int64         `json:"remaining"`
	PricePerUnit int64         `json:"price_per_unit"`
	Status       ListingStatus `json:"status"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// CanSell checks the listing side of a purchase. Requested amounts above
// Remaining are rejected outright; partial fills are the caller's decision to
// retry with a smaller amount.
func (l *Listing) CanSell(buyer id.ActorID, amount int64) error {
	if l.Status != ListingActive {
		return dErrors.Newf(dErrors.CodeConflict, "listing %s is %s", l.ID, l.Status)
	}
	if buyer == l.Seller {
		return dErrors.New(dErrors.CodeForbidden, "seller cannot purchase own listing")
	}
	if amount <= 0 {
		return dErrors.New(dErrors.CodeInvalidInput, "purchase amount must be positive")
	}
	if amount > l.Remaining {
		return dErrors.Newf(dErrors.CodeConflict,
			"requested %d exceeds remaining listing amount %d", amount, l.Remaining)
	}
	return nil
}

// ApplySale decrements the remaining amount and transitions to sold at zero.
// Call CanSell first.
func (l *Listing) ApplySale(amount int64, now time.Time) {
	l.Remaining -= amount
	if l.Remaining == 0 {
		l.Status = ListingSold
	}
	l.UpdatedAt = now
}

// Settlement is the append-only record of one purchase. Its ID is the unique
// settlement reference used as the idempotency key downstream.
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

// ComputeFee splits a purchase total using basis-point fee arithmetic.
// Integer only: seller proceeds are computed with truncating division and the
// fee takes the remainder, so any rounding always lands in the platform's
// favor and total == fee + proceeds exactly. Deliberate, testable rule.
func ComputeFee(total int64, feeBps int64) (fee, sellerProceeds int64) {
	sellerProceeds = total * (10_000 - feeBps) / 10_000
	return total - sellerProceeds, sellerProceeds
}
