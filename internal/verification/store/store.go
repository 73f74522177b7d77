// Package store persists production submissions.
package store

import (
	"context"
	"time"

	"h2ledger/internal/verification"
	id "h2ledger/pkg/domain"
)

// Store is the submission persistence port. Implementations return sentinel
// errors; the verification service translates them.
type Store interface {
	Create(ctx context.Context, sub *verification.Submission) error
	Get(ctx context.Context, submissionID id.SubmissionID) (*verification.Submission, error)
	Update(ctx context.Context, sub *verification.Submission) error
	// SumVerifiedInMonth returns the total verified amount for the producer
	// whose claimed production time falls in the given month bucket.
	SumVerifiedInMonth(ctx context.Context, producerID id.ProducerID, monthKey string) (int64, error)
	// ListPendingBefore returns pending submissions submitted at or before
	// the cutoff, for the expiry sweep.
	ListPendingBefore(ctx context.Context, cutoff time.Time) ([]*verification.Submission, error)
	ListByProducer(ctx context.Context, producerID id.ProducerID) ([]*verification.Submission, error)
}
