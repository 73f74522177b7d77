// Package store persists marketplace listings and settlement records.
package store

import (
	"context"

	"h2ledger/internal/marketplace"
	id "h2ledger/pkg/domain"
)

// Store is the marketplace persistence port. The settlements table is
// append-only; listings are updated in place under the engine's per-listing
// lock.
type Store interface {
	CreateListing(ctx context.Context, l *marketplace.Listing) error
	GetListing(ctx context.Context, listingID id.ListingID) (*marketplace.Listing, error)
	UpdateListing(ctx context.Context, l *marketplace.Listing) error
	ListListings(ctx context.Context, status marketplace.ListingStatus, limit, offset int) ([]*marketplace.Listing, error)

	AppendSettlement(ctx context.Context, rec *marketplace.Settlement) error
	ListSettlements(ctx context.Context, listingID id.ListingID) ([]*marketplace.Settlement, error)
}
