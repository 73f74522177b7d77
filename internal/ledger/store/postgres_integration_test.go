//go:build integration

package store_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"h2ledger/internal/ledger"
	"h2ledger/internal/ledger/store"
	id "h2ledger/pkg/domain"
	"h2ledger/pkg/platform/sentinel"
	"h2ledger/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *store.Postgres
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.postgres = mgr.GetPostgres(s.T())
	s.store = store.NewPostgres(s.postgres.DB)
}

func (s *PostgresStoreSuite) SetupTest() {
	ctx := context.Background()
	err := s.postgres.TruncateTables(ctx,
		"retirement_records", "balances", "credit_batches", "producers")
	s.Require().NoError(err)
}

func newTestProducer(plantID string) *ledger.Producer {
	now := time.Now().UTC()
	return &ledger.Producer{
		ID:           id.NewProducerID(),
		Owner:        id.NewActorID(),
		PlantID:      plantID,
		Source:       ledger.SourceSolar,
		MonthlyLimit: 10_000,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func (s *PostgresStoreSuite) newTestBatch(producer *ledger.Producer, amount int64) *ledger.CreditBatch {
	b := &ledger.CreditBatch{
		ID:         id.NewBatchID(),
		Producer:   producer.ID,
		Holder:     producer.Owner,
		Amount:     amount,
		Submission: id.NewSubmissionID(),
		IssuedAt:   time.Now().UTC(),
	}
	s.Require().NoError(s.store.AppendBatch(context.Background(), b))
	return b
}

// TestConcurrentPlantIDUniqueness verifies that concurrent registrations of
// the same plant result in exactly one success.
func (s *PostgresStoreSuite) TestConcurrentPlantIDUniqueness() {
	ctx := context.Background()
	plantID := "DE-PLANT-" + uuid.NewString()
	const goroutines = 50

	var wg sync.WaitGroup
	var successCount atomic.Int32
	var duplicateCount atomic.Int32

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			p := newTestProducer(plantID)
			err := s.store.CreateProducer(ctx, p)
			if err == nil {
				successCount.Add(1)
			} else if errors.Is(err, sentinel.ErrDuplicate) {
				duplicateCount.Add(1)
			}
		}()
	}

	wg.Wait()

	s.Equal(int32(1), successCount.Load(), "exactly one registration should succeed")
	s.Equal(int32(goroutines-1), duplicateCount.Load(), "all others should get duplicate error")

	found, err := s.store.GetProducerByPlant(ctx, plantID)
	s.Require().NoError(err)
	s.Equal(plantID, found.PlantID)
}

// TestConcurrentBalanceDebits verifies that racing debits never overdraw a
// balance below zero.
func (s *PostgresStoreSuite) TestConcurrentBalanceDebits() {
	ctx := context.Background()
	actor := id.NewActorID()

	err := s.store.ApplyBalance(ctx, actor, 100, 0, time.Now().UTC())
	s.Require().NoError(err)

	const goroutines = 50
	var wg sync.WaitGroup
	var successCount atomic.Int32

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.store.ApplyBalance(ctx, actor, -10, 0, time.Now().UTC()); err == nil {
				successCount.Add(1)
			}
		}()
	}

	wg.Wait()

	// Only 10 debits of 10 fit into a balance of 100.
	s.Equal(int32(10), successCount.Load())

	bal, err := s.store.GetBalance(ctx, actor)
	s.Require().NoError(err)
	s.Equal(int64(0), bal.Spendable)
	s.Equal(int64(0), bal.Escrowed)
}

// TestEscrowMoveRoundTrip verifies moving credits between the spendable and
// escrowed sides and back.
func (s *PostgresStoreSuite) TestEscrowMoveRoundTrip() {
	ctx := context.Background()
	actor := id.NewActorID()
	now := time.Now().UTC()

	s.Require().NoError(s.store.ApplyBalance(ctx, actor, 500, 0, now))
	s.Require().NoError(s.store.ApplyBalance(ctx, actor, -200, 200, now))

	bal, err := s.store.GetBalance(ctx, actor)
	s.Require().NoError(err)
	s.Equal(int64(300), bal.Spendable)
	s.Equal(int64(200), bal.Escrowed)

	// Releasing more than is escrowed must fail without touching the row.
	err = s.store.ApplyBalance(ctx, actor, 300, -300, now)
	s.ErrorIs(err, sentinel.ErrInvalidState)

	s.Require().NoError(s.store.ApplyBalance(ctx, actor, 200, -200, now))

	bal, err = s.store.GetBalance(ctx, actor)
	s.Require().NoError(err)
	s.Equal(int64(500), bal.Spendable)
	s.Equal(int64(0), bal.Escrowed)
}

// TestConcurrentRetireSameBatch verifies that racing retirements of one
// batch succeed exactly once.
func (s *PostgresStoreSuite) TestConcurrentRetireSameBatch() {
	ctx := context.Background()

	p := newTestProducer("DE-PLANT-" + uuid.NewString())
	s.Require().NoError(s.store.CreateProducer(ctx, p))
	b := s.newTestBatch(p, 100)

	const goroutines = 20
	var wg sync.WaitGroup
	var successCount atomic.Int32
	var invalidCount atomic.Int32

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.store.RetireBatches(ctx, []id.BatchID{b.ID}, "audit", time.Now().UTC())
			if err == nil {
				successCount.Add(1)
			} else if errors.Is(err, sentinel.ErrInvalidState) {
				invalidCount.Add(1)
			}
		}()
	}

	wg.Wait()

	s.Equal(int32(1), successCount.Load(), "exactly one retirement should succeed")
	s.Equal(int32(goroutines-1), invalidCount.Load())

	got, err := s.store.GetBatch(ctx, b.ID)
	s.Require().NoError(err)
	s.True(got.Retired)
	s.Equal("audit", got.RetirementReason)
}

// TestRetireBatchesAllOrNothing verifies that a set containing an already
// retired batch leaves the fresh batch untouched.
func (s *PostgresStoreSuite) TestRetireBatchesAllOrNothing() {
	ctx := context.Background()

	p := newTestProducer("DE-PLANT-" + uuid.NewString())
	s.Require().NoError(s.store.CreateProducer(ctx, p))
	retired := s.newTestBatch(p, 100)
	fresh := s.newTestBatch(p, 50)

	s.Require().NoError(s.store.RetireBatches(ctx, []id.BatchID{retired.ID}, "first", time.Now().UTC()))

	err := s.store.RetireBatches(ctx, []id.BatchID{retired.ID, fresh.ID}, "second", time.Now().UTC())
	s.ErrorIs(err, sentinel.ErrInvalidState)

	got, err := s.store.GetBatch(ctx, fresh.ID)
	s.Require().NoError(err)
	s.False(got.Retired, "fresh batch must not be retired by a failed set")
}

// TestRetirementRecordRoundTrip verifies the append-only retirement trail.
func (s *PostgresStoreSuite) TestRetirementRecordRoundTrip() {
	ctx := context.Background()

	p := newTestProducer("DE-PLANT-" + uuid.NewString())
	s.Require().NoError(s.store.CreateProducer(ctx, p))
	b1 := s.newTestBatch(p, 100)
	b2 := s.newTestBatch(p, 50)

	rec := &ledger.RetirementRecord{
		ID:        id.NewSettlementID(),
		Holder:    p.Owner,
		Batches:   []id.BatchID{b1.ID, b2.ID},
		Amount:    150,
		Reason:    "compliance 2026",
		RetiredAt: time.Now().UTC().Truncate(time.Microsecond),
	}
	s.Require().NoError(s.store.AppendRetirement(ctx, rec))

	records, err := s.store.ListRetirements(ctx)
	s.Require().NoError(err)
	s.Require().Len(records, 1)
	s.Equal(rec.ID, records[0].ID)
	s.Equal(rec.Batches, records[0].Batches)
	s.Equal(rec.Amount, records[0].Amount)
	s.Equal(rec.Reason, records[0].Reason)
}

// TestNotFoundErrors verifies sentinel mapping for missing rows.
func (s *PostgresStoreSuite) TestNotFoundErrors() {
	ctx := context.Background()

	_, err := s.store.GetProducer(ctx, id.NewProducerID())
	s.ErrorIs(err, sentinel.ErrNotFound)

	_, err = s.store.GetBatch(ctx, id.NewBatchID())
	s.ErrorIs(err, sentinel.ErrNotFound)

	err = s.store.SetBatchHolder(ctx, id.NewBatchID(), id.NewActorID())
	s.ErrorIs(err, sentinel.ErrNotFound)

	err = s.store.UpdateProducer(ctx, newTestProducer("DE-PLANT-"+uuid.NewString()))
	s.ErrorIs(err, sentinel.ErrNotFound)

	// A missing balance row reads as an empty position, not an error.
	bal, err := s.store.GetBalance(ctx, id.NewActorID())
	s.Require().NoError(err)
	s.Equal(int64(0), bal.Spendable)
	s.Equal(int64(0), bal.Escrowed)
}

// TestTransferUpdatesHolderOnly verifies custody transfer leaves batch
// identity and amount alone.
func (s *PostgresStoreSuite) TestTransferUpdatesHolderOnly() {
	ctx := context.Background()

	p := newTestProducer("DE-PLANT-" + uuid.NewString())
	s.Require().NoError(s.store.CreateProducer(ctx, p))
	b := s.newTestBatch(p, 100)

	recipient := id.NewActorID()
	s.Require().NoError(s.store.SetBatchHolder(ctx, b.ID, recipient))

	got, err := s.store.GetBatch(ctx, b.ID)
	s.Require().NoError(err)
	s.Equal(recipient, got.Holder)
	s.Equal(b.ID, got.ID)
	s.Equal(int64(100), got.Amount)
	s.Equal(b.Submission, got.Submission)
}
