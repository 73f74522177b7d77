// Package marketplace implements the escrow marketplace engine: listing
// lifecycle, escrow custody accounting, and atomic purchase settlement.
package marketplace

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"h2ledger/internal/marketplace/metrics"
	id "h2ledger/pkg/domain"
	dErrors "h2ledger/pkg/domain-errors"
	"h2ledger/pkg/platform/keyedmutex"
	"h2ledger/pkg/platform/sentinel"
)

// DefaultFeeBps is the platform fee in basis points (2.5%).
const DefaultFeeBps = 250

// Store is the marketplace persistence port (internal/marketplace/store).
type Store interface {
	CreateListing(ctx context.Context, l *Listing) error
	GetListing(ctx context.Context, listingID id.ListingID) (*Listing, error)
	UpdateListing(ctx context.Context, l *Listing) error
	ListListings(ctx context.Context, status ListingStatus, limit, offset int) ([]*Listing, error)
	AppendSettlement(ctx context.Context, rec *Settlement) error
	ListSettlements(ctx context.Context, listingID id.ListingID) ([]*Settlement, error)
}

// Custodian is the slice of the ledger core the engine needs: escrow custody
// moves. Escrow itself rejects amounts the seller's spendable balance does
// not cover.
type Custodian interface {
	Escrow(ctx context.Context, seller id.ActorID, amount int64, now time.Time) error
	ReleaseEscrow(ctx context.Context, seller id.ActorID, amount int64, now time.Time) error
	SettlePurchase(ctx context.Context, seller, buyer id.ActorID, amount int64, now time.Time) error
}

// EventSink receives listing and settlement events.
type EventSink interface {
	ListingChanged(ctx context.Context, l *Listing)
	PurchaseSettled(ctx context.Context, rec *Settlement)
}

type Service struct {
	store     Store
	custodian Custodian
	events    EventSink
	logger    *slog.Logger
	m         *metrics.Metrics
	feeBps    int64

	// Per-listing locks: purchase, cancel, and price update against the same
	// listing serialize so concurrent purchases can never oversell.
	listings *keyedmutex.Mutex
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithEventSink(sink EventSink) Option {
	return func(s *Service) { s.events = sink }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.m = m }
}

func WithFeeBps(bps int64) Option {
	return func(s *Service) { s.feeBps = bps }
}

func New(store Store, custodian Custodian, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("marketplace store is required")
	}
	if custodian == nil {
		return nil, errors.New("ledger custodian is required")
	}
	svc := &Service{
		store:     store,
		custodian: custodian,
		logger:    slog.Default(),
		feeBps:    DefaultFeeBps,
		listings:  keyedmutex.New(),
	}
	for _, opt := range opts {
		opt(svc)
	}
	if svc.feeBps < 0 || svc.feeBps > 10_000 {
		return nil, errors.New("fee basis points must be in [0, 10000]")
	}
	return svc, nil
}

// CreateListing escrows amount credits from the seller's spendable balance
// and opens an active listing over them.
func (s *Service) CreateListing(ctx context.Context, seller id.ActorID, amount, pricePerUnit int64, now time.Time) (*Listing, error) {
	if amount <= 0 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "listing amount must be positive")
	}
	if pricePerUnit <= 0 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "price per unit must be positive")
	}

	if err := s.custodian.Escrow(ctx, seller, amount, now); err != nil {
		return nil, err
	}

	listing := &Listing{
		ID:           id.NewListingID(),
		Seller:       seller,
		Remaining:    amount,
		PricePerUnit: pricePerUnit,
		Status:       ListingActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.CreateListing(ctx, listing); err != nil {
		// Return the escrowed amount; the listing never existed.
		if rbErr := s.custodian.ReleaseEscrow(ctx, seller, amount, now); rbErr != nil {
			s.logger.ErrorContext(ctx, "escrow rollback failed",
				"seller", seller, "amount", amount, "error", rbErr)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "create listing")
	}

	if s.m != nil {
		s.m.Listings.WithLabelValues("created").Inc()
	}
	s.logger.InfoContext(ctx, "listing created",
		"listing_id", listing.ID, "seller", seller, "amount", amount, "price", pricePerUnit)
	if s.events != nil {
		s.events.ListingChanged(ctx, listing)
	}
	return listing, nil
}

// Purchase settles a buy against a listing as a single atomic unit: decrement
// remaining, mark sold at zero, move escrow to the buyer, append exactly one
// settlement record. Concurrent purchases against the same listing serialize
// on the per-listing lock, so the approved amounts can never exceed the
// remaining amount at decision time.
func (s *Service) Purchase(ctx context.Context, listingID id.ListingID, buyer id.ActorID, amount int64, now time.Time) (*Settlement, error) {
	unlock := s.listings.Lock("listing:" + listingID.String())
	defer unlock()

	listing, err := s.store.GetListing(ctx, listingID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.Newf(dErrors.CodeNotFound, "listing %s not found", listingID)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load listing")
	}
	if err := listing.CanSell(buyer, amount); err != nil {
		if s.m != nil && dErrors.HasCode(err, dErrors.CodeConflict) && listing.Status == ListingActive {
			s.m.Oversell.Inc()
		}
		return nil, err
	}

	total := amount * listing.PricePerUnit
	fee, sellerProceeds := ComputeFee(total, s.feeBps)

	if err := s.custodian.SettlePurchase(ctx, listing.Seller, buyer, amount, now); err != nil {
		return nil, err
	}

	listing.ApplySale(amount, now)
	if err := s.store.UpdateListing(ctx, listing); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "update listing")
	}

	rec := &Settlement{
		ID:         id.NewSettlementID(),
		Listing:    listingID,
		Buyer:      buyer,
		Seller:     listing.Seller,
		Amount:     amount,
		TotalPrice: total,
		Fee:        fee,
		SettledAt:  now,
	}
	if err := s.store.AppendSettlement(ctx, rec); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "append settlement")
	}

	if s.m != nil {
		s.m.Settlements.Inc()
		s.m.FeesTotal.Add(float64(fee))
		if listing.Status == ListingSold {
			s.m.Listings.WithLabelValues("sold").Inc()
		}
	}
	s.logger.InfoContext(ctx, "purchase settled",
		"settlement_id", rec.ID, "listing_id", listingID, "buyer", buyer,
		"amount", amount, "total", total, "fee", fee, "seller_proceeds", sellerProceeds)
	if s.events != nil {
		s.events.PurchaseSettled(ctx, rec)
		if listing.Status == ListingSold {
			s.events.ListingChanged(ctx, listing)
		}
	}
	return rec, nil
}

// CancelListing returns the full remaining escrowed amount to the seller and
// marks the listing cancelled. Terminal.
func (s *Service) CancelListing(ctx context.Context, listingID id.ListingID, seller id.ActorID, now time.Time) error {
	unlock := s.listings.Lock("listing:" + listingID.String())
	defer unlock()

	listing, err := s.store.GetListing(ctx, listingID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.Newf(dErrors.CodeNotFound, "listing %s not found", listingID)
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "load listing")
	}
	if listing.Seller != seller {
		return dErrors.New(dErrors.CodeForbidden, "only the seller may cancel the listing")
	}
	if listing.Status != ListingActive {
		return dErrors.Newf(dErrors.CodeConflict, "listing %s is %s", listingID, listing.Status)
	}

	if err := s.custodian.ReleaseEscrow(ctx, seller, listing.Remaining, now); err != nil {
		return err
	}
	listing.Status = ListingCancelled
	listing.UpdatedAt = now
	if err := s.store.UpdateListing(ctx, listing); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "update listing")
	}

	if s.m != nil {
		s.m.Listings.WithLabelValues("cancelled").Inc()
	}
	s.logger.InfoContext(ctx, "listing cancelled",
		"listing_id", listingID, "returned", listing.Remaining)
	if s.events != nil {
		s.events.ListingChanged(ctx, listing)
	}
	return nil
}

// UpdatePrice changes the unit price of an active listing. Remaining amount
// and escrow are untouched.
func (s *Service) UpdatePrice(ctx context.Context, listingID id.ListingID, seller id.ActorID, newPrice int64, now time.Time) error {
	if newPrice <= 0 {
		return dErrors.New(dErrors.CodeInvalidInput, "price per unit must be positive")
	}

	unlock := s.listings.Lock("listing:" + listingID.String())
	defer unlock()

	listing, err := s.store.GetListing(ctx, listingID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.Newf(dErrors.CodeNotFound, "listing %s not found", listingID)
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "load listing")
	}
	if listing.Seller != seller {
		return dErrors.New(dErrors.CodeForbidden, "only the seller may update the price")
	}
	if listing.Status != ListingActive {
		return dErrors.Newf(dErrors.CodeConflict, "listing %s is %s", listingID, listing.Status)
	}

	listing.PricePerUnit = newPrice
	listing.UpdatedAt = now
	if err := s.store.UpdateListing(ctx, listing); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "update listing")
	}
	if s.events != nil {
		s.events.ListingChanged(ctx, listing)
	}
	return nil
}

// Listing returns one listing by id.
func (s *Service) Listing(ctx context.Context, listingID id.ListingID) (*Listing, error) {
	listing, err := s.store.GetListing(ctx, listingID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.Newf(dErrors.CodeNotFound, "listing %s not found", listingID)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load listing")
	}
	return listing, nil
}
