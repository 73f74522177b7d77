// Package store defines the persistence port for the mirror projection and
// its in-memory and postgres implementations. Writes come only from the
// reconciler; reads come from the query transport.
package store

import (
	"context"

	"h2ledger/internal/mirror"
	id "h2ledger/pkg/domain"
)

// SubmissionFilter narrows submission listings. Zero values match everything.
type SubmissionFilter struct {
	Producer id.ProducerID
	Status   string
}

// BatchFilter narrows batch listings. Retired nil matches both states.
type BatchFilter struct {
	Producer id.ProducerID
	Holder   id.ActorID
	Retired  *bool
}

// ListingFilter narrows listing listings.
type ListingFilter struct {
	Seller id.ActorID
	Status string
}

// SettlementFilter narrows settlement listings.
type SettlementFilter struct {
	Listing id.ListingID
	Buyer   id.ActorID
	Seller  id.ActorID
}

// Store is the mirror persistence port. Put operations are full-record
// upserts; the reconciler has already decided that the write is safe
// (duplicate no-op, mutable progression, or drift correction). List
// operations paginate with limit/offset over a stable ordering.
type Store interface {
	GetSubmission(ctx context.Context, submissionID id.SubmissionID) (*mirror.Submission, error)
	PutSubmission(ctx context.Context, sub *mirror.Submission) error
	ListSubmissions(ctx context.Context, filter SubmissionFilter, limit, offset int) ([]*mirror.Submission, error)

	GetBatch(ctx context.Context, batchID id.BatchID) (*mirror.Batch, error)
	PutBatch(ctx context.Context, b *mirror.Batch) error
	ListBatches(ctx context.Context, filter BatchFilter, limit, offset int) ([]*mirror.Batch, error)

	GetTransfer(ctx context.Context, transferID id.SettlementID) (*mirror.Transfer, error)
	PutTransfer(ctx context.Context, t *mirror.Transfer) error
	ListTransfers(ctx context.Context, batchID id.BatchID) ([]*mirror.Transfer, error)

	GetListing(ctx context.Context, listingID id.ListingID) (*mirror.Listing, error)
	PutListing(ctx context.Context, l *mirror.Listing) error
	ListListings(ctx context.Context, filter ListingFilter, limit, offset int) ([]*mirror.Listing, error)

	GetSettlement(ctx context.Context, settlementID id.SettlementID) (*mirror.Settlement, error)
	PutSettlement(ctx context.Context, rec *mirror.Settlement) error
	ListSettlements(ctx context.Context, filter SettlementFilter, limit, offset int) ([]*mirror.Settlement, error)
}
