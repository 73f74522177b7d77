package events

import (
	"context"
	"time"

	"h2ledger/internal/ledger"
	"h2ledger/internal/marketplace"
	"h2ledger/internal/verification"
)

// Sink adapts the engines' typed event hooks onto a Publisher. It implements
// ledger.EventSink, verification.EventSink, and marketplace.EventSink.
type Sink struct {
	publisher Publisher
}

func NewSink(publisher Publisher) *Sink {
	return &Sink{publisher: publisher}
}

func (s *Sink) SubmissionResolved(ctx context.Context, sub *verification.Submission) {
	s.publisher.Publish(ctx, NewEvent(KindSubmissionResolved, sub.ID.String(), sub, time.Now()))
}

func (s *Sink) BatchIssued(ctx context.Context, b *ledger.CreditBatch) {
	s.publisher.Publish(ctx, NewEvent(KindBatchIssued, b.ID.String(), b, time.Now()))
}

func (s *Sink) BatchRetired(ctx context.Context, r *ledger.RetirementRecord) {
	s.publisher.Publish(ctx, NewEvent(KindBatchRetired, r.ID.String(), r, time.Now()))
}

func (s *Sink) ListingChanged(ctx context.Context, l *marketplace.Listing) {
	s.publisher.Publish(ctx, NewEvent(KindListingChanged, l.ID.String(), l, time.Now()))
}

func (s *Sink) PurchaseSettled(ctx context.Context, rec *marketplace.Settlement) {
	s.publisher.Publish(ctx, NewEvent(KindPurchaseSettled, rec.ID.String(), rec, time.Now()))
}
