package verification_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"h2ledger/internal/ledger"
	ledgerstore "h2ledger/internal/ledger/store"
	"h2ledger/internal/verification"
	verificationstore "h2ledger/internal/verification/store"
	id "h2ledger/pkg/domain"
	dErrors "h2ledger/pkg/domain-errors"
)

type VerificationServiceSuite struct {
	suite.Suite
	submissions *verificationstore.Memory
	ledger      *ledger.Service
	service     *verification.Service

	producer *ledger.Producer
	verifier id.ActorID
	now      time.Time
}

func TestVerificationServiceSuite(t *testing.T) {
	suite.Run(t, new(VerificationServiceSuite))
}

func (s *VerificationServiceSuite) SetupTest() {
	s.now = time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	s.submissions = verificationstore.NewMemory()

	var err error
	s.ledger, err = ledger.New(ledgerstore.NewMemory())
	s.Require().NoError(err)
	s.service, err = verification.New(s.submissions, s.ledger)
	s.Require().NoError(err)

	s.producer, err = s.ledger.RegisterProducer(context.Background(),
		id.NewActorID(), "plant-001", ledger.SourceWind, 1000, s.now)
	s.Require().NoError(err)
	s.verifier = id.NewActorID()
}

func (s *VerificationServiceSuite) submit(amount int64, claimedAt time.Time) *verification.Submission {
	sub, err := s.service.Submit(context.Background(), s.producer.ID, amount, claimedAt, "evidence://"+id.NewSubmissionID().String(), s.now)
	s.Require().NoError(err)
	return sub
}

func (s *VerificationServiceSuite) accept(sub *verification.Submission) *verification.Resolution {
	res, err := s.service.Resolve(context.Background(), sub.ID, s.verifier, true, true, "ok", s.now)
	s.Require().NoError(err)
	return res
}

func (s *VerificationServiceSuite) TestSubmit() {
	ctx := context.Background()
	claimed := s.now.Add(-time.Hour)

	s.Run("non-positive amount rejected", func() {
		_, err := s.service.Submit(ctx, s.producer.ID, 0, claimed, "ev", s.now)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	s.Run("future production time rejected", func() {
		_, err := s.service.Submit(ctx, s.producer.ID, 100, s.now.Add(time.Minute), "ev", s.now)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	s.Run("production time older than retention rejected", func() {
		_, err := s.service.Submit(ctx, s.producer.ID, 100, s.now.Add(-31*24*time.Hour), "ev", s.now)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	s.Run("identical claim is a duplicate", func() {
		_, err := s.service.Submit(ctx, s.producer.ID, 100, claimed, "ev-dup", s.now)
		s.Require().NoError(err)
		_, err = s.service.Submit(ctx, s.producer.ID, 100, claimed, "ev-dup", s.now)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})

	s.Run("unknown producer rejected", func() {
		_, err := s.service.Submit(ctx, id.NewProducerID(), 100, claimed, "ev", s.now)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("pessimistic cap check counts verified totals", func() {
		sub := s.submit(700, claimed)
		s.accept(sub)

		// 700 verified + 400 claimed > 1000: rejected at submission time.
		_, err := s.service.Submit(ctx, s.producer.ID, 400, claimed.Add(time.Minute), "ev-2", s.now)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))

		// Verified total for the month stays at 700.
		sum, err := s.submissions.SumVerifiedInMonth(ctx, s.producer.ID, verification.MonthKey(claimed))
		s.Require().NoError(err)
		s.Equal(int64(700), sum)
	})
}

func (s *VerificationServiceSuite) TestResolve() {
	ctx := context.Background()
	claimed := s.now.Add(-time.Hour)

	s.Run("accept issues exactly one batch and marks verified", func() {
		sub := s.submit(250, claimed)
		res := s.accept(sub)

		s.Equal(verification.StatusVerified, res.Submission.Status)
		s.Require().NotNil(res.Batch)
		s.Equal(int64(250), res.Batch.Amount)
		s.Equal(sub.ID, res.Batch.Submission)
		s.NoError(s.ledger.CheckConservation(ctx, s.producer.ID))
	})

	s.Run("reject creates no batch", func() {
		sub := s.submit(100, claimed.Add(time.Second))
		res, err := s.service.Resolve(ctx, sub.ID, s.verifier, true, false, "bad evidence", s.now)
		s.Require().NoError(err)
		s.Equal(verification.StatusRejected, res.Submission.Status)
		s.Nil(res.Batch)
	})

	s.Run("already resolved conflicts", func() {
		sub := s.submit(50, claimed.Add(2*time.Second))
		s.accept(sub)
		_, err := s.service.Resolve(ctx, sub.ID, s.verifier, true, false, "", s.now)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})

	s.Run("unknown submission not found", func() {
		_, err := s.service.Resolve(ctx, id.NewSubmissionID(), s.verifier, true, true, "", s.now)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("inactive verifier forbidden", func() {
		sub := s.submit(50, claimed.Add(3*time.Second))
		_, err := s.service.Resolve(ctx, sub.ID, s.verifier, false, true, "", s.now)
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})

	s.Run("producer cannot verify own submission", func() {
		sub := s.submit(50, claimed.Add(4*time.Second))
		_, err := s.service.Resolve(ctx, sub.ID, s.producer.Owner, true, true, "", s.now)
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})

	s.Run("resolution after the verification window conflicts", func() {
		sub := s.submit(50, claimed.Add(5*time.Second))
		late := s.now.Add(25 * time.Hour)
		_, err := s.service.Resolve(ctx, sub.ID, s.verifier, true, true, "", late)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})
}

// Two submissions whose combined amount exceeds the remaining headroom,
// verified concurrently: exactly one wins, the loser is hard-rejected.
func (s *VerificationServiceSuite) TestResolve_ConcurrentCapRace() {
	ctx := context.Background()
	claimed := s.now.Add(-time.Hour)

	// Both pass the pessimistic submit-time check (0 verified so far).
	a := s.submit(700, claimed)
	b := s.submit(600, claimed.Add(time.Second))

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, sub := range []*verification.Submission{a, b} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = s.service.Resolve(ctx, sub.ID, s.verifier, true, true, "", s.now)
		}()
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
		} else {
			s.True(dErrors.HasCode(err, dErrors.CodeConflict))
		}
	}
	s.Equal(1, winners, "exactly one verification may consume the headroom")

	// The loser is terminal-rejected, not retriable.
	subA, _ := s.service.Submission(ctx, a.ID)
	subB, _ := s.service.Submission(ctx, b.ID)
	statuses := []verification.Status{subA.Status, subB.Status}
	s.Contains(statuses, verification.StatusVerified)
	s.Contains(statuses, verification.StatusRejected)

	s.NoError(s.ledger.CheckConservation(ctx, s.producer.ID))
}

func (s *VerificationServiceSuite) TestSweepExpired() {
	ctx := context.Background()
	claimed := s.now.Add(-time.Hour)

	fresh := s.submit(10, claimed)
	stale := s.submit(20, claimed.Add(time.Second))

	// Move the clock past the verification window for the stale one only by
	// re-submitting fresh at a later submission time.
	later := s.now.Add(25 * time.Hour)
	relisted, err := s.service.Submit(ctx, s.producer.ID, 30, later.Add(-time.Hour), "ev-late", later)
	s.Require().NoError(err)

	swept, err := s.service.SweepExpired(ctx, later)
	s.Require().NoError(err)
	s.ElementsMatch([]id.SubmissionID{fresh.ID, stale.ID}, swept)

	s.Run("swept submissions are terminal-rejected", func() {
		sub, err := s.service.Submission(ctx, fresh.ID)
		s.Require().NoError(err)
		s.Equal(verification.StatusRejected, sub.Status)

		_, err = s.service.Resolve(ctx, sub.ID, s.verifier, true, true, "", later)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})

	s.Run("sweep is idempotent", func() {
		again, err := s.service.SweepExpired(ctx, later)
		s.Require().NoError(err)
		s.Empty(again)
	})

	s.Run("unexpired submissions survive", func() {
		sub, err := s.service.Submission(ctx, relisted.ID)
		s.Require().NoError(err)
		s.Equal(verification.StatusPending, sub.Status)
	})
}
