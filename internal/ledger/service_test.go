package ledger_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"h2ledger/internal/ledger"
	ledgerstore "h2ledger/internal/ledger/store"
	id "h2ledger/pkg/domain"
	dErrors "h2ledger/pkg/domain-errors"
)

type LedgerServiceSuite struct {
	suite.Suite
	store   *ledgerstore.Memory
	service *ledger.Service
	now     time.Time
}

func TestLedgerServiceSuite(t *testing.T) {
	suite.Run(t, new(LedgerServiceSuite))
}

func (s *LedgerServiceSuite) SetupTest() {
	s.store = ledgerstore.NewMemory()
	var err error
	s.service, err = ledger.New(s.store)
	s.Require().NoError(err)
	s.now = time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
}

func (s *LedgerServiceSuite) registerProducer() *ledger.Producer {
	p, err := s.service.RegisterProducer(context.Background(),
		id.NewActorID(), "plant-"+id.NewProducerID().String(), ledger.SourceWind, 1000, s.now)
	s.Require().NoError(err)
	return p
}

func (s *LedgerServiceSuite) TestRegisterProducer() {
	ctx := context.Background()

	s.Run("duplicate plant id conflicts", func() {
		owner := id.NewActorID()
		_, err := s.service.RegisterProducer(ctx, owner, "plant-dup", ledger.SourceSolar, 500, s.now)
		s.Require().NoError(err)

		_, err = s.service.RegisterProducer(ctx, id.NewActorID(), "plant-dup", ledger.SourceSolar, 500, s.now)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})

	s.Run("non-positive limit rejected", func() {
		_, err := s.service.RegisterProducer(ctx, id.NewActorID(), "plant-x", ledger.SourceHydro, 0, s.now)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})
}

// Conservation: after every issuance and retirement, the sum of the
// producer's batch amounts equals TotalProduced.
func (s *LedgerServiceSuite) TestConservationHoldsAfterEveryOperation() {
	ctx := context.Background()
	producer := s.registerProducer()

	var batches []id.BatchID
	for _, amount := range []int64{100, 250, 75} {
		b, err := s.service.IssueBatch(ctx, producer.ID, amount, id.NewSubmissionID(), s.now)
		s.Require().NoError(err)
		batches = append(batches, b.ID)
		s.NoError(s.service.CheckConservation(ctx, producer.ID))
	}

	// Retirement removes circulating supply but never TotalProduced.
	_, err := s.service.Retire(ctx, producer.Owner, batches[:1], "compliance 2025", s.now)
	s.Require().NoError(err)
	s.NoError(s.service.CheckConservation(ctx, producer.ID))

	p, err := s.service.Producer(ctx, producer.ID)
	s.Require().NoError(err)
	s.Equal(int64(425), p.TotalProduced)

	bal, err := s.service.Balance(ctx, producer.Owner)
	s.Require().NoError(err)
	s.Equal(int64(325), bal.Spendable)
}

func (s *LedgerServiceSuite) TestIssueBatch() {
	ctx := context.Background()

	s.Run("non-positive amount rejected", func() {
		producer := s.registerProducer()
		_, err := s.service.IssueBatch(ctx, producer.ID, 0, id.NewSubmissionID(), s.now)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	s.Run("unknown producer rejected", func() {
		_, err := s.service.IssueBatch(ctx, id.NewProducerID(), 100, id.NewSubmissionID(), s.now)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("credits owner spendable balance", func() {
		producer := s.registerProducer()
		_, err := s.service.IssueBatch(ctx, producer.ID, 40, id.NewSubmissionID(), s.now)
		s.Require().NoError(err)

		bal, err := s.service.Balance(ctx, producer.Owner)
		s.Require().NoError(err)
		s.Equal(int64(40), bal.Spendable)
	})
}

func (s *LedgerServiceSuite) TestRetire() {
	ctx := context.Background()

	s.Run("set with one already-retired batch fails with no partial effect", func() {
		producer := s.registerProducer()
		var batchIDs []id.BatchID
		for range 3 {
			b, err := s.service.IssueBatch(ctx, producer.ID, 10, id.NewSubmissionID(), s.now)
			s.Require().NoError(err)
			batchIDs = append(batchIDs, b.ID)
		}
		_, err := s.service.Retire(ctx, producer.Owner, batchIDs[2:], "first pass", s.now)
		s.Require().NoError(err)

		_, err = s.service.Retire(ctx, producer.Owner, batchIDs, "second pass", s.now)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))

		// The two unretired batches stay unretired and spendable.
		bal, err := s.service.Balance(ctx, producer.Owner)
		s.Require().NoError(err)
		s.Equal(int64(20), bal.Spendable)
		s.NoError(s.service.CheckConservation(ctx, producer.ID))
	})

	s.Run("ownership mismatch rejected", func() {
		producer := s.registerProducer()
		b, err := s.service.IssueBatch(ctx, producer.ID, 10, id.NewSubmissionID(), s.now)
		s.Require().NoError(err)

		_, err = s.service.Retire(ctx, id.NewActorID(), []id.BatchID{b.ID}, "not mine", s.now)
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})

	s.Run("unknown batch rejected", func() {
		producer := s.registerProducer()
		_, err := s.service.Retire(ctx, producer.Owner, []id.BatchID{id.NewBatchID()}, "ghost", s.now)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("duplicate ids in the set rejected", func() {
		producer := s.registerProducer()
		b, err := s.service.IssueBatch(ctx, producer.ID, 10, id.NewSubmissionID(), s.now)
		s.Require().NoError(err)

		_, err = s.service.Retire(ctx, producer.Owner, []id.BatchID{b.ID, b.ID}, "twice", s.now)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})
}

func (s *LedgerServiceSuite) TestTransfer() {
	ctx := context.Background()
	producer := s.registerProducer()
	buyer := id.NewActorID()

	b, err := s.service.IssueBatch(ctx, producer.ID, 60, id.NewSubmissionID(), s.now)
	s.Require().NoError(err)

	s.Run("moves holder and balances, preserves identity", func() {
		err := s.service.Transfer(ctx, b.ID, producer.Owner, buyer, s.now)
		s.Require().NoError(err)

		sellerBal, _ := s.service.Balance(ctx, producer.Owner)
		buyerBal, _ := s.service.Balance(ctx, buyer)
		s.Equal(int64(0), sellerBal.Spendable)
		s.Equal(int64(60), buyerBal.Spendable)

		// Conservation is per producer and unaffected by trading.
		s.NoError(s.service.CheckConservation(ctx, producer.ID))
	})

	s.Run("previous holder can no longer transfer", func() {
		err := s.service.Transfer(ctx, b.ID, producer.Owner, id.NewActorID(), s.now)
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})
}

func (s *LedgerServiceSuite) TestEscrow() {
	ctx := context.Background()
	producer := s.registerProducer()
	_, err := s.service.IssueBatch(ctx, producer.ID, 100, id.NewSubmissionID(), s.now)
	s.Require().NoError(err)

	s.Run("escrow excludes amount from spendable", func() {
		s.Require().NoError(s.service.Escrow(ctx, producer.Owner, 70, s.now))

		bal, _ := s.service.Balance(ctx, producer.Owner)
		s.Equal(int64(30), bal.Spendable)
		s.Equal(int64(70), bal.Escrowed)
	})

	s.Run("escrowed credits cannot be retired", func() {
		batches, err := s.store.ListBatchesByProducer(ctx, producer.ID)
		s.Require().NoError(err)
		_, err = s.service.Retire(ctx, producer.Owner, []id.BatchID{batches[0].ID}, "blocked", s.now)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})

	s.Run("release returns exactly the escrowed amount", func() {
		s.Require().NoError(s.service.ReleaseEscrow(ctx, producer.Owner, 70, s.now))

		bal, _ := s.service.Balance(ctx, producer.Owner)
		s.Equal(int64(100), bal.Spendable)
		s.Equal(int64(0), bal.Escrowed)
	})

	s.Run("over-escrow rejected", func() {
		err := s.service.Escrow(ctx, producer.Owner, 101, s.now)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})
}

func (s *LedgerServiceSuite) TestSettlePurchase() {
	ctx := context.Background()
	producer := s.registerProducer()
	buyer := id.NewActorID()

	_, err := s.service.IssueBatch(ctx, producer.ID, 100, id.NewSubmissionID(), s.now)
	s.Require().NoError(err)
	s.Require().NoError(s.service.Escrow(ctx, producer.Owner, 100, s.now))

	s.Require().NoError(s.service.SettlePurchase(ctx, producer.Owner, buyer, 60, s.now))

	sellerBal, _ := s.service.Balance(ctx, producer.Owner)
	buyerBal, _ := s.service.Balance(ctx, buyer)
	s.Equal(int64(40), sellerBal.Escrowed)
	s.Equal(int64(0), sellerBal.Spendable)
	s.Equal(int64(60), buyerBal.Spendable)
}
