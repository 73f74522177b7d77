package verification

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	id "h2ledger/pkg/domain"
	dErrors "h2ledger/pkg/domain-errors"
)

// Status is the submission lifecycle state. pending is the only non-terminal
// state; verified and rejected are both terminal.
type Status string

const (
	StatusPending  Status = "pending"
	StatusVerified Status = "verified"
	StatusRejected Status = "rejected"
)

// Submission is a production claim awaiting verification.
//
// Invariants:
//   - ContentHash is unique (the idempotency key for duplicate claims)
//   - Status transitions exactly once: pending -> verified or pending -> rejected
//   - A rejected or expired submission never produces a credit batch
type Submission struct {
	ID          id.SubmissionID `json:"id"`
	Producer    id.ProducerID   `json:"producer"`
	ContentHash string          `json:"content_hash"`
	Amount      int64           `json:"amount"`
	ClaimedAt   time.Time       `json:"claimed_at"`
	SubmittedAt time.Time       `json:"submitted_at"`
	Status      Status          `json:"status"`
	Verifier    *id.ActorID     `json:"verifier,omitempty"`
	Notes       string          `json:"notes,omitempty"`
	ResolvedAt  *time.Time      `json:"resolved_at,omitempty"`
	EvidenceRef string          `json:"evidence_ref"`
}

// ContentHash derives the deterministic idempotency key for a claim. Two
// submissions describing the same production event hash identically even when
// submitted twice.
func ContentHash(producer id.ProducerID, plantID string, amount int64, claimedAt time.Time, evidenceRef string) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%d|%d|%s", producer, plantID, amount, claimedAt.UTC().Unix(), evidenceRef)
	return hex.EncodeToString(h.Sum(nil))
}

// CanResolve checks the submission side of the resolution preconditions.
func (sub *Submission) CanResolve(now time.Time, window time.Duration) error {
	if sub.Status != StatusPending {
		return dErrors.Newf(dErrors.CodeConflict, "submission %s is already %s", sub.ID, sub.Status)
	}
	if now.After(sub.SubmittedAt.Add(window)) {
		return dErrors.Newf(dErrors.CodeConflict, "verification window expired for submission %s", sub.ID)
	}
	return nil
}

// ApplyResolution transitions the submission to a terminal state. Call
// CanResolve first.
func (sub *Submission) ApplyResolution(status Status, verifier id.ActorID, notes string, now time.Time) {
	sub.Status = status
	v := verifier
	sub.Verifier = &v
	sub.Notes = notes
	at := now
	sub.ResolvedAt = &at
}

// ApplyExpiry rejects a pending submission whose verification window lapsed.
// The sweep is the only caller; no verifier is recorded.
func (sub *Submission) ApplyExpiry(now time.Time) {
	sub.Status = StatusRejected
	sub.Notes = "verification window expired"
	at := now
	sub.ResolvedAt = &at
}

// MonthKey returns the calendar month bucket of the claimed production time,
// in UTC. The monthly cap is evaluated per bucket.
func (sub *Submission) MonthKey() string {
	return MonthKey(sub.ClaimedAt)
}

// MonthKey formats t's calendar month in UTC as "2006-01".
func MonthKey(t time.Time) string {
	return t.UTC().Format("2006-01")
}
