package reconciler_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"h2ledger/internal/mirror"
	mirrorstore "h2ledger/internal/mirror/store"
	"h2ledger/internal/reconciler"
	id "h2ledger/pkg/domain"
	dErrors "h2ledger/pkg/domain-errors"
	"h2ledger/pkg/platform/sentinel"
)

type ReconcilerSuite struct {
	suite.Suite
	store   *mirrorstore.Memory
	source  *reconciler.MemorySource
	service *reconciler.Service

	now time.Time
}

func TestReconcilerSuite(t *testing.T) {
	suite.Run(t, new(ReconcilerSuite))
}

func (s *ReconcilerSuite) SetupTest() {
	s.now = time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	s.store = mirrorstore.NewMemory()
	s.source = reconciler.NewMemorySource()

	var err error
	s.service, err = reconciler.New(s.store, s.source)
	s.Require().NoError(err)
}

func (s *ReconcilerSuite) batch() *mirror.Batch {
	return &mirror.Batch{
		ID:         id.NewBatchID(),
		Producer:   id.NewProducerID(),
		Holder:     id.NewActorID(),
		Amount:     500,
		Submission: id.NewSubmissionID(),
		IssuedAt:   s.now,
	}
}

func (s *ReconcilerSuite) listing(seller id.ActorID, amount int64) *mirror.Listing {
	return &mirror.Listing{
		ID:           id.NewListingID(),
		Seller:       seller,
		Amount:       amount,
		Remaining:    amount,
		PricePerUnit: 5,
		Status:       "active",
		CreatedAt:    s.now,
		UpdatedAt:    s.now,
	}
}

func (s *ReconcilerSuite) handle(event *reconciler.ChainEvent) error {
	return s.service.HandleEvent(context.Background(), event)
}

func (s *ReconcilerSuite) TestIssuanceApply() {
	ctx := context.Background()
	b := s.batch()
	event := &reconciler.ChainEvent{Kind: reconciler.KindIssuance, Sequence: 1, OccurredAt: s.now, Batch: b}

	s.Run("first delivery lands in the mirror", func() {
		s.Require().NoError(s.handle(event))
		got, err := s.store.GetBatch(ctx, b.ID)
		s.Require().NoError(err)
		s.Equal(b.Amount, got.Amount)
		s.Equal(b.Holder, got.Holder)
	})

	s.Run("redelivery is a no-op", func() {
		s.Require().NoError(s.handle(event))
		got, err := s.store.GetBatch(ctx, b.ID)
		s.Require().NoError(err)
		s.True(got.Equals(b))
	})

	s.Run("diverging immutable payload is a conflict", func() {
		tampered := *b
		tampered.Amount = 501
		err := s.handle(&reconciler.ChainEvent{Kind: reconciler.KindIssuance, Sequence: 2, Batch: &tampered})
		s.True(dErrors.HasCode(err, dErrors.CodeIntegrityViolation))

		got, getErr := s.store.GetBatch(ctx, b.ID)
		s.Require().NoError(getErr)
		s.Equal(int64(500), got.Amount, "mirror must keep the original payload")
	})
}

func (s *ReconcilerSuite) TestRetirementProgressesBatch() {
	ctx := context.Background()
	b := s.batch()
	s.Require().NoError(s.handle(&reconciler.ChainEvent{Kind: reconciler.KindIssuance, Sequence: 1, Batch: b}))

	retired := *b
	retired.Retired = true
	at := s.now.Add(time.Hour)
	retired.RetiredAt = &at
	event := &reconciler.ChainEvent{Kind: reconciler.KindRetirement, Sequence: 2, Batch: &retired}

	s.Require().NoError(s.handle(event))
	s.Require().NoError(s.handle(event), "retirement redelivery must stay idempotent")

	got, err := s.store.GetBatch(ctx, b.ID)
	s.Require().NoError(err)
	s.True(got.Retired)
}

func (s *ReconcilerSuite) TestTransferIdempotence() {
	ctx := context.Background()
	b := s.batch()
	s.Require().NoError(s.handle(&reconciler.ChainEvent{Kind: reconciler.KindIssuance, Sequence: 1, Batch: b}))

	newHolder := id.NewActorID()
	moved := *b
	moved.Holder = newHolder
	transfer := &mirror.Transfer{
		ID:            id.NewSettlementID(),
		Batch:         b.ID,
		From:          b.Holder,
		To:            newHolder,
		TransferredAt: s.now.Add(time.Minute),
	}
	event := &reconciler.ChainEvent{
		Kind: reconciler.KindTransfer, Sequence: 2, Transfer: transfer, Batch: &moved,
	}

	s.Require().NoError(s.handle(event))

	// A later transfer moves the batch again; then the first event is
	// redelivered. The stale holder must not be restored.
	finalHolder := id.NewActorID()
	moved2 := moved
	moved2.Holder = finalHolder
	s.Require().NoError(s.handle(&reconciler.ChainEvent{
		Kind:     reconciler.KindTransfer,
		Sequence: 3,
		Transfer: &mirror.Transfer{
			ID: id.NewSettlementID(), Batch: b.ID, From: newHolder, To: finalHolder,
			TransferredAt: s.now.Add(2 * time.Minute),
		},
		Batch: &moved2,
	}))
	s.Require().NoError(s.handle(event))

	got, err := s.store.GetBatch(ctx, b.ID)
	s.Require().NoError(err)
	s.Equal(finalHolder, got.Holder)

	transfers, err := s.store.ListTransfers(ctx, b.ID)
	s.Require().NoError(err)
	s.Len(transfers, 2)
}

func (s *ReconcilerSuite) TestPurchaseRedelivery() {
	ctx := context.Background()
	seller := id.NewActorID()
	l := s.listing(seller, 100)
	s.Require().NoError(s.handle(&reconciler.ChainEvent{Kind: reconciler.KindListingCreated, Sequence: 1, Listing: l}))

	after := *l
	after.Remaining = 70
	after.UpdatedAt = s.now.Add(time.Minute)
	settlement := &mirror.Settlement{
		ID:         id.NewSettlementID(),
		Listing:    l.ID,
		Buyer:      id.NewActorID(),
		Seller:     seller,
		Amount:     30,
		TotalPrice: 150,
		Fee:        4,
		SettledAt:  s.now.Add(time.Minute),
	}
	event := &reconciler.ChainEvent{
		Kind: reconciler.KindPurchased, Sequence: 2, Settlement: settlement, Listing: &after,
	}

	s.Require().NoError(s.handle(event))
	s.Require().NoError(s.handle(event))
	s.Require().NoError(s.handle(event))

	got, err := s.store.GetListing(ctx, l.ID)
	s.Require().NoError(err)
	s.Equal(int64(70), got.Remaining, "redelivery must not re-decrement")

	recs, err := s.store.ListSettlements(ctx, mirrorstore.SettlementFilter{Listing: l.ID}, 0, 0)
	s.Require().NoError(err)
	s.Len(recs, 1)

	s.Run("same reference with a different payload is a conflict", func() {
		tampered := *settlement
		tampered.TotalPrice = 151
		err := s.handle(&reconciler.ChainEvent{
			Kind: reconciler.KindPurchased, Sequence: 3, Settlement: &tampered, Listing: &after,
		})
		s.True(dErrors.HasCode(err, dErrors.CodeIntegrityViolation))
	})
}

func (s *ReconcilerSuite) TestSubmissionLifecycle() {
	ctx := context.Background()
	sub := &mirror.Submission{
		ID:          id.NewSubmissionID(),
		Producer:    id.NewProducerID(),
		ContentHash: "abc123",
		Amount:      700,
		ClaimedAt:   s.now.Add(-2 * time.Hour),
		SubmittedAt: s.now.Add(-time.Hour),
		Status:      "pending",
	}
	s.Require().NoError(s.handle(&reconciler.ChainEvent{Kind: reconciler.KindSubmission, Sequence: 1, Submission: sub}))

	verifier := id.NewActorID()
	resolvedAt := s.now
	resolved := *sub
	resolved.Status = "verified"
	resolved.Verifier = &verifier
	resolved.ResolvedAt = &resolvedAt
	s.Require().NoError(s.handle(&reconciler.ChainEvent{Kind: reconciler.KindSubmission, Sequence: 2, Submission: &resolved}))

	got, err := s.store.GetSubmission(ctx, sub.ID)
	s.Require().NoError(err)
	s.Equal("verified", got.Status)
	s.Require().NotNil(got.Verifier)
	s.Equal(verifier, *got.Verifier)
}

func (s *ReconcilerSuite) TestResyncHealsDrift() {
	ctx := context.Background()

	// Mirror missed a purchase event entirely: it still thinks the listing
	// has its full amount. The snapshot carries the truth.
	l := s.listing(id.NewActorID(), 100)
	s.Require().NoError(s.handle(&reconciler.ChainEvent{Kind: reconciler.KindListingCreated, Sequence: 1, Listing: l}))

	truth := *l
	truth.Remaining = 40
	truth.UpdatedAt = s.now.Add(time.Hour)
	s.source.SetListing(&truth)

	missedBatch := s.batch()
	s.source.SetBatch(missedBatch)

	s.Require().NoError(s.service.Resync(ctx))

	gotListing, err := s.store.GetListing(ctx, l.ID)
	s.Require().NoError(err)
	s.Equal(int64(40), gotListing.Remaining)

	gotBatch, err := s.store.GetBatch(ctx, missedBatch.ID)
	s.Require().NoError(err)
	s.True(gotBatch.Equals(missedBatch))

	s.Run("resync is idempotent", func() {
		s.Require().NoError(s.service.Resync(ctx))
		again, err := s.store.GetListing(ctx, l.ID)
		s.Require().NoError(err)
		s.True(again.Equals(&truth))
	})
}

func (s *ReconcilerSuite) TestRunDrainsStreamAndStops() {
	b := s.batch()
	s.source.Emit(&reconciler.ChainEvent{Kind: reconciler.KindIssuance, Sequence: 1, Batch: b})
	s.source.Emit(&reconciler.ChainEvent{Kind: reconciler.KindIssuance, Sequence: 1, Batch: b})
	s.source.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := s.service.Run(ctx)
	s.Require().NoError(err)

	got, err := s.store.GetBatch(context.Background(), b.ID)
	s.Require().NoError(err)
	s.True(got.Equals(b))
}

func (s *ReconcilerSuite) TestValidateRejectsMissingPayload() {
	err := s.handle(&reconciler.ChainEvent{Kind: reconciler.KindIssuance, Sequence: 1})
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))

	err = s.handle(&reconciler.ChainEvent{Kind: "unknown", Sequence: 2})
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
}

func (s *ReconcilerSuite) TestMirrorReadBeforeWrite() {
	_, err := s.store.GetBatch(context.Background(), id.NewBatchID())
	s.ErrorIs(err, sentinel.ErrNotFound)
}
