// Package verification implements the production verification engine: the
// pending -> {verified, rejected} state machine over production submissions,
// with verifier authorization, the monthly production cap, and the
// verification timeout policy.
package verification

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"h2ledger/internal/ledger"
	"h2ledger/internal/verification/metrics"
	id "h2ledger/pkg/domain"
	dErrors "h2ledger/pkg/domain-errors"
	"h2ledger/pkg/platform/keyedmutex"
	"h2ledger/pkg/platform/sentinel"
	"h2ledger/pkg/platform/tx"
)

const (
	// DefaultRetentionWindow bounds how old a claimed production time may be
	// at submission.
	DefaultRetentionWindow = 30 * 24 * time.Hour
	// DefaultVerificationWindow bounds how long a submission stays
	// resolvable after it was submitted.
	DefaultVerificationWindow = 24 * time.Hour
)

// Store is the submission persistence port (internal/verification/store).
type Store interface {
	Create(ctx context.Context, sub *Submission) error
	Get(ctx context.Context, submissionID id.SubmissionID) (*Submission, error)
	Update(ctx context.Context, sub *Submission) error
	SumVerifiedInMonth(ctx context.Context, producerID id.ProducerID, monthKey string) (int64, error)
	ListPendingBefore(ctx context.Context, cutoff time.Time) ([]*Submission, error)
	ListByProducer(ctx context.Context, producerID id.ProducerID) ([]*Submission, error)
}

// Issuer is the slice of the ledger core the engine needs on acceptance.
type Issuer interface {
	Producer(ctx context.Context, producerID id.ProducerID) (*ledger.Producer, error)
	IssueBatch(ctx context.Context, producerID id.ProducerID, amount int64, submissionRef id.SubmissionID, now time.Time) (*ledger.CreditBatch, error)
}

// EventSink receives submission resolution events.
type EventSink interface {
	SubmissionResolved(ctx context.Context, sub *Submission)
}

// Resolution is the outcome of a resolve call. Batch is set only on accept.
type Resolution struct {
	Submission *Submission
	Batch      *ledger.CreditBatch
}

type Service struct {
	store  Store
	issuer Issuer
	runner tx.Runner
	events EventSink
	logger *slog.Logger
	m      *metrics.Metrics

	retentionWindow    time.Duration
	verificationWindow time.Duration

	// Per-submission locks serialize resolution; per-producer locks make the
	// cap check-then-commit race-safe under concurrent verifications.
	submissions *keyedmutex.Mutex
	producers   *keyedmutex.Mutex
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

func WithTxRunner(runner tx.Runner) Option {
	return func(s *Service) { s.runner = runner }
}

func WithWindows(retention, verification time.Duration) Option {
	return func(s *Service) {
		s.retentionWindow = retention
		s.verificationWindow = verification
	}
}

func New(store Store, issuer Issuer, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("submission store is required")
	}
	if issuer == nil {
		return nil, errors.New("ledger issuer is required")
	}
	svc := &Service{
		store:              store,
		issuer:             issuer,
		runner:             tx.NopRunner{},
		logger:             slog.Default(),
		retentionWindow:    DefaultRetentionWindow,
		verificationWindow: DefaultVerificationWindow,
		submissions:        keyedmutex.New(),
		producers:          keyedmutex.New(),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

func (s *Service) countSubmission(outcome string) {
	if s.m != nil {
		s.m.Submissions.WithLabelValues(outcome).Inc()
	}
}

// Submit registers a production claim. The monthly cap is checked
// pessimistically against already-verified totals; Resolve re-checks it at
// commit time because concurrent submissions may race.
func (s *Service) Submit(ctx context.Context, producerID id.ProducerID, amount int64, claimedAt time.Time, evidenceRef string, now time.Time) (*Submission, error) {
	if amount <= 0 {
		s.countSubmission("invalid_amount")
		return nil, dErrors.New(dErrors.CodeInvalidInput, "production amount must be positive")
	}
	if claimedAt.After(now) {
		s.countSubmission("future_time")
		return nil, dErrors.New(dErrors.CodeInvalidInput, "claimed production time is in the future")
	}
	if claimedAt.Before(now.Add(-s.retentionWindow)) {
		s.countSubmission("stale_time")
		return nil, dErrors.New(dErrors.CodeInvalidInput, "claimed production time is outside the retention window")
	}

	producer, err := s.issuer.Producer(ctx, producerID)
	if err != nil {
		return nil, err
	}
	if !producer.Active {
		return nil, dErrors.Newf(dErrors.CodeForbidden, "producer %s is not active", producerID)
	}

	unlock := s.producers.Lock("prod:" + producerID.String())
	defer unlock()

	verified, err := s.store.SumVerifiedInMonth(ctx, producerID, MonthKey(claimedAt))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "sum verified amounts")
	}
	if verified+amount > producer.MonthlyLimit {
		s.countSubmission("cap_exceeded")
		return nil, dErrors.Newf(dErrors.CodeConflict,
			"monthly production cap exceeded: %d verified + %d claimed > %d limit",
			verified, amount, producer.MonthlyLimit)
	}

	sub := &Submission{
		ID:          id.NewSubmissionID(),
		Producer:    producerID,
		ContentHash: ContentHash(producerID, producer.PlantID, amount, claimedAt, evidenceRef),
		Amount:      amount,
		ClaimedAt:   claimedAt,
		SubmittedAt: now,
		Status:      StatusPending,
		EvidenceRef: evidenceRef,
	}
	if err := s.store.Create(ctx, sub); err != nil {
		if errors.Is(err, sentinel.ErrDuplicate) {
			s.countSubmission("duplicate")
			return nil, dErrors.New(dErrors.CodeConflict, "duplicate submission for the same production event")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "create submission")
	}

	s.countSubmission("accepted")
	s.logger.InfoContext(ctx, "submission created",
		"submission_id", sub.ID, "producer_id", producerID, "amount", amount)
	return sub, nil
}

// Resolve transitions a pending submission to a terminal state. On accept it
// re-validates the monthly cap against the current verified total under the
// producer lock and, when the cap still holds, atomically issues exactly one
// credit batch and marks the submission verified. A submission that loses the
// cap race is hard-rejected: the claimed production window has a fixed
// capacity and the hydrogen cannot be produced twice.
func (s *Service) Resolve(ctx context.Context, submissionID id.SubmissionID, verifier id.ActorID, verifierActive bool, accept bool, notes string, now time.Time) (*Resolution, error) {
	unlock := s.submissions.Lock("sub:" + submissionID.String())
	defer unlock()

	sub, err := s.store.Get(ctx, submissionID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.Newf(dErrors.CodeNotFound, "submission %s not found", submissionID)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load submission")
	}

	producer, err := s.issuer.Producer(ctx, sub.Producer)
	if err != nil {
		return nil, err
	}
	if !verifierActive {
		return nil, dErrors.New(dErrors.CodeForbidden, "verifier is not active")
	}
	if verifier == producer.Owner {
		return nil, dErrors.New(dErrors.CodeForbidden, "verifier must be distinct from the producer")
	}
	if err := sub.CanResolve(now, s.verificationWindow); err != nil {
		return nil, err
	}

	if !accept {
		sub.ApplyResolution(StatusRejected, verifier, notes, now)
		if err := s.store.Update(ctx, sub); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "update submission")
		}
		s.resolved(ctx, sub)
		return &Resolution{Submission: sub}, nil
	}

	unlockProducer := s.producers.Lock("prod:" + sub.Producer.String())
	defer unlockProducer()

	verified, err := s.store.SumVerifiedInMonth(ctx, sub.Producer, sub.MonthKey())
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "sum verified amounts")
	}
	if verified+sub.Amount > producer.MonthlyLimit {
		// A concurrent verification consumed the remaining headroom.
		sub.ApplyResolution(StatusRejected, verifier, "monthly production cap exceeded at verification", now)
		if err := s.store.Update(ctx, sub); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "update submission")
		}
		s.resolved(ctx, sub)
		return nil, dErrors.Newf(dErrors.CodeConflict,
			"monthly production cap exceeded: %d verified + %d claimed > %d limit",
			verified, sub.Amount, producer.MonthlyLimit)
	}

	var batch *ledger.CreditBatch
	err = s.runner.Atomically(ctx, func(ctx context.Context) error {
		sub.ApplyResolution(StatusVerified, verifier, notes, now)
		if err := s.store.Update(ctx, sub); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "update submission")
		}
		issued, err := s.issuer.IssueBatch(ctx, sub.Producer, sub.Amount, sub.ID, now)
		if err != nil {
			return err
		}
		batch = issued
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.resolved(ctx, sub)
	return &Resolution{Submission: sub, Batch: batch}, nil
}

// SweepExpired rejects pending submissions past the verification window.
// Safe to call repeatedly: a submission already terminal is skipped.
func (s *Service) SweepExpired(ctx context.Context, now time.Time) ([]id.SubmissionID, error) {
	cutoff := now.Add(-s.verificationWindow)
	pending, err := s.store.ListPendingBefore(ctx, cutoff)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "list pending submissions")
	}

	var swept []id.SubmissionID
	for _, stale := range pending {
		expired, err := s.expireOne(ctx, stale.ID, cutoff, now)
		if err != nil {
			return swept, err
		}
		if expired {
			swept = append(swept, stale.ID)
		}
	}
	if len(swept) > 0 {
		s.logger.InfoContext(ctx, "expired submissions swept", "count", len(swept))
	}
	return swept, nil
}

func (s *Service) expireOne(ctx context.Context, submissionID id.SubmissionID, cutoff, now time.Time) (bool, error) {
	unlock := s.submissions.Lock("sub:" + submissionID.String())
	defer unlock()

	// Re-read under the lock: a concurrent resolve may have won.
	sub, err := s.store.Get(ctx, submissionID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return false, nil
		}
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "load submission")
	}
	if sub.Status != StatusPending || sub.SubmittedAt.After(cutoff) {
		return false, nil
	}
	sub.ApplyExpiry(now)
	if err := s.store.Update(ctx, sub); err != nil {
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "update submission")
	}
	if s.m != nil {
		s.m.Swept.Inc()
	}
	if s.events != nil {
		s.events.SubmissionResolved(ctx, sub)
	}
	return true, nil
}

// Submission returns one submission by id.
func (s *Service) Submission(ctx context.Context, submissionID id.SubmissionID) (*Submission, error) {
	sub, err := s.store.Get(ctx, submissionID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.Newf(dErrors.CodeNotFound, "submission %s not found", submissionID)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load submission")
	}
	return sub, nil
}

func (s *Service) resolved(ctx context.Context, sub *Submission) {
	if s.m != nil {
		s.m.Resolutions.WithLabelValues(string(sub.Status)).Inc()
	}
	s.logger.InfoContext(ctx, "submission resolved",
		"submission_id", sub.ID, "status", sub.Status)
	if s.events != nil {
		s.events.SubmissionResolved(ctx, sub)
	}
}
