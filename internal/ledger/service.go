// Package ledger implements the conservation and custody bookkeeping over
// producers, credit batches, and balances. It performs no network I/O of its
// own; callers (verification, marketplace) enforce the policy-level
// preconditions and this service enforces arithmetic and structural ones.
package ledger

import (
	"context"
	"errors"
	"log/slog"
	"time"

	id "h2ledger/pkg/domain"
	dErrors "h2ledger/pkg/domain-errors"
	"h2ledger/pkg/platform/keyedmutex"
	"h2ledger/pkg/platform/sentinel"
)

// Store is the persistence port implemented by internal/ledger/store.
type Store interface {
	CreateProducer(ctx context.Context, p *Producer) error
	GetProducer(ctx context.Context, producerID id.ProducerID) (*Producer, error)
	GetProducerByPlant(ctx context.Context, plantID string) (*Producer, error)
	UpdateProducer(ctx context.Context, p *Producer) error

	AppendBatch(ctx context.Context, b *CreditBatch) error
	GetBatch(ctx context.Context, batchID id.BatchID) (*CreditBatch, error)
	GetBatches(ctx context.Context, batchIDs []id.BatchID) ([]*CreditBatch, error)
	RetireBatches(ctx context.Context, batchIDs []id.BatchID, reason string, at time.Time) error
	SetBatchHolder(ctx context.Context, batchID id.BatchID, holder id.ActorID) error
	ListBatchesByProducer(ctx context.Context, producerID id.ProducerID) ([]*CreditBatch, error)

	GetBalance(ctx context.Context, actor id.ActorID) (*Balance, error)
	ApplyBalance(ctx context.Context, actor id.ActorID, spendableDelta, escrowedDelta int64, at time.Time) error

	AppendRetirement(ctx context.Context, r *RetirementRecord) error
	ListRetirements(ctx context.Context) ([]*RetirementRecord, error)
}

// EventSink receives domain events for notification and audit consumers.
type EventSink interface {
	BatchIssued(ctx context.Context, b *CreditBatch)
	BatchRetired(ctx context.Context, r *RetirementRecord)
}

type Service struct {
	store  Store
	events EventSink
	logger *slog.Logger

	// Per-account and per-producer serialization. Every mutation of a batch's
	// holder or retirement flag happens under the current holder's account
	// lock, so transfer and retire of the same batch cannot interleave.
	accounts  *keyedmutex.Mutex
	producers *keyedmutex.Mutex
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithEventSink(sink EventSink) Option {
	return func(s *Service) { s.events = sink }
}

func New(store Store, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("ledger store is required")
	}
	svc := &Service{
		store:     store,
		logger:    slog.Default(),
		accounts:  keyedmutex.New(),
		producers: keyedmutex.New(),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// RegisterProducer creates a producer record. PlantID must be unique.
func (s *Service) RegisterProducer(ctx context.Context, owner id.ActorID, plantID string, source SourceCategory, monthlyLimit int64, now time.Time) (*Producer, error) {
	if plantID == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "plant id is required")
	}
	if monthlyLimit <= 0 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "monthly production limit must be positive")
	}
	p := &Producer{
		ID:           id.NewProducerID(),
		Owner:        owner,
		PlantID:      plantID,
		Source:       source,
		MonthlyLimit: monthlyLimit,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.CreateProducer(ctx, p); err != nil {
		if errors.Is(err, sentinel.ErrDuplicate) {
			return nil, dErrors.Newf(dErrors.CodeConflict, "plant %q is already registered", plantID)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "create producer")
	}
	return p, nil
}

// IssueBatch appends a credit batch for a verified submission, increments the
// producer's total, and credits the owner's spendable balance. Policy checks
// (cap, verification state) belong to the verification engine; here only the
// structural invariants hold: amount > 0 and the producer exists.
func (s *Service) IssueBatch(ctx context.Context, producerID id.ProducerID, amount int64, submissionRef id.SubmissionID, now time.Time) (*CreditBatch, error) {
	if amount <= 0 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "batch amount must be positive")
	}

	unlock := s.producers.Lock("prod:" + producerID.String())
	defer unlock()

	producer, err := s.store.GetProducer(ctx, producerID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.Newf(dErrors.CodeNotFound, "producer %s not found", producerID)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load producer")
	}

	batch := &CreditBatch{
		ID:         id.NewBatchID(),
		Producer:   producerID,
		Holder:     producer.Owner,
		Amount:     amount,
		Submission: submissionRef,
		IssuedAt:   now,
	}
	if err := s.store.AppendBatch(ctx, batch); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "append batch")
	}

	producer.TotalProduced += amount
	producer.UpdatedAt = now
	if err := s.store.UpdateProducer(ctx, producer); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "update producer total")
	}
	if err := s.store.ApplyBalance(ctx, producer.Owner, amount, 0, now); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "credit owner balance")
	}

	s.logger.InfoContext(ctx, "batch issued",
		"batch_id", batch.ID, "producer_id", producerID, "amount", amount)
	if s.events != nil {
		s.events.BatchIssued(ctx, batch)
	}
	return batch, nil
}

// Retire marks a set of batches retired, all-or-nothing, and removes their
// combined amount from the holder's circulating balance. TotalProduced is
// untouched: retirement removes supply from circulation, not from history.
func (s *Service) Retire(ctx context.Context, holder id.ActorID, batchIDs []id.BatchID, reason string, now time.Time) (*RetirementRecord, error) {
	if len(batchIDs) == 0 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "at least one batch id is required")
	}
	seen := make(map[id.BatchID]struct{}, len(batchIDs))
	for _, batchID := range batchIDs {
		if _, dup := seen[batchID]; dup {
			return nil, dErrors.Newf(dErrors.CodeInvalidInput, "batch %s listed twice", batchID)
		}
		seen[batchID] = struct{}{}
	}

	unlock := s.accounts.Lock("acct:" + holder.String())
	defer unlock()

	batches, err := s.store.GetBatches(ctx, batchIDs)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "batch not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load batches")
	}

	var total int64
	for _, b := range batches {
		if err := b.CanRetire(holder); err != nil {
			return nil, err
		}
		total += b.Amount
	}

	// Debit first: if the holder's spendable does not cover the set (part of
	// it is escrowed), nothing has been retired yet.
	if err := s.store.ApplyBalance(ctx, holder, -total, 0, now); err != nil {
		if errors.Is(err, sentinel.ErrInvalidState) {
			return nil, dErrors.New(dErrors.CodeConflict, "spendable balance does not cover the batch set")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "debit holder balance")
	}
	if err := s.store.RetireBatches(ctx, batchIDs, reason, now); err != nil {
		// Roll the debit back so a failed set leaves no partial effect.
		if rbErr := s.store.ApplyBalance(ctx, holder, total, 0, now); rbErr != nil {
			s.logger.ErrorContext(ctx, "retirement rollback failed",
				"holder", holder, "amount", total, "error", rbErr)
		}
		if errors.Is(err, sentinel.ErrInvalidState) {
			return nil, dErrors.New(dErrors.CodeConflict, "batch already retired")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "retire batches")
	}

	record := &RetirementRecord{
		ID:        id.NewSettlementID(),
		Holder:    holder,
		Batches:   batchIDs,
		Amount:    total,
		Reason:    reason,
		RetiredAt: now,
	}
	if err := s.store.AppendRetirement(ctx, record); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "append retirement record")
	}

	s.logger.InfoContext(ctx, "batches retired",
		"holder", holder, "count", len(batchIDs), "amount", total)
	if s.events != nil {
		s.events.BatchRetired(ctx, record)
	}
	return record, nil
}

// Transfer moves custody of a batch between actors. Batch identity and
// amount never change; only the holder and the two balances do.
func (s *Service) Transfer(ctx context.Context, batchID id.BatchID, from, to id.ActorID, now time.Time) error {
	if from == to {
		return dErrors.New(dErrors.CodeInvalidInput, "transfer to self")
	}

	unlock := s.accounts.LockPair("acct:"+from.String(), "acct:"+to.String())
	defer unlock()

	batch, err := s.store.GetBatch(ctx, batchID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.Newf(dErrors.CodeNotFound, "batch %s not found", batchID)
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "load batch")
	}
	if batch.Retired {
		return dErrors.Newf(dErrors.CodeConflict, "batch %s is retired", batchID)
	}
	if batch.Holder != from {
		return dErrors.Newf(dErrors.CodeForbidden, "batch %s is not held by the caller", batchID)
	}

	if err := s.store.ApplyBalance(ctx, from, -batch.Amount, 0, now); err != nil {
		if errors.Is(err, sentinel.ErrInvalidState) {
			return dErrors.New(dErrors.CodeConflict, "spendable balance does not cover the batch")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "debit sender")
	}
	if err := s.store.ApplyBalance(ctx, to, batch.Amount, 0, now); err != nil {
		if rbErr := s.store.ApplyBalance(ctx, from, batch.Amount, 0, now); rbErr != nil {
			s.logger.ErrorContext(ctx, "transfer rollback failed", "batch_id", batchID, "error", rbErr)
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "credit receiver")
	}
	if err := s.store.SetBatchHolder(ctx, batchID, to); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "move batch holder")
	}
	return nil
}

// Escrow moves amount from the seller's spendable balance into escrow
// custody. The seller keeps economic ownership; the amount is simply no
// longer spendable until release or settlement.
func (s *Service) Escrow(ctx context.Context, seller id.ActorID, amount int64, now time.Time) error {
	unlock := s.accounts.Lock("acct:" + seller.String())
	defer unlock()

	if err := s.store.ApplyBalance(ctx, seller, -amount, amount, now); err != nil {
		if errors.Is(err, sentinel.ErrInvalidState) {
			return dErrors.New(dErrors.CodeConflict, "insufficient spendable balance")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "escrow balance")
	}
	return nil
}

// ReleaseEscrow returns amount from escrow custody to the seller's spendable
// balance (listing cancellation).
func (s *Service) ReleaseEscrow(ctx context.Context, seller id.ActorID, amount int64, now time.Time) error {
	unlock := s.accounts.Lock("acct:" + seller.String())
	defer unlock()

	if err := s.store.ApplyBalance(ctx, seller, amount, -amount, now); err != nil {
		if errors.Is(err, sentinel.ErrInvalidState) {
			return dErrors.New(dErrors.CodeConflict, "escrowed balance does not cover the release")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "release escrow")
	}
	return nil
}

// SettlePurchase moves amount from the seller's escrow to the buyer's
// spendable balance.
func (s *Service) SettlePurchase(ctx context.Context, seller, buyer id.ActorID, amount int64, now time.Time) error {
	unlock := s.accounts.LockPair("acct:"+seller.String(), "acct:"+buyer.String())
	defer unlock()

	if err := s.store.ApplyBalance(ctx, seller, 0, -amount, now); err != nil {
		if errors.Is(err, sentinel.ErrInvalidState) {
			return dErrors.New(dErrors.CodeConflict, "escrowed balance does not cover the settlement")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "debit seller escrow")
	}
	if err := s.store.ApplyBalance(ctx, buyer, amount, 0, now); err != nil {
		if rbErr := s.store.ApplyBalance(ctx, seller, 0, amount, now); rbErr != nil {
			s.logger.ErrorContext(ctx, "settlement rollback failed", "seller", seller, "error", rbErr)
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "credit buyer")
	}
	return nil
}

// Balance returns an actor's position (zero for unknown actors).
func (s *Service) Balance(ctx context.Context, actor id.ActorID) (*Balance, error) {
	bal, err := s.store.GetBalance(ctx, actor)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load balance")
	}
	return bal, nil
}

// Producer returns a producer by id.
func (s *Service) Producer(ctx context.Context, producerID id.ProducerID) (*Producer, error) {
	p, err := s.store.GetProducer(ctx, producerID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.Newf(dErrors.CodeNotFound, "producer %s not found", producerID)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load producer")
	}
	return p, nil
}

// CheckConservation verifies that the sum of a producer's batch amounts
// equals its TotalProduced. Used by tests and the resync pass.
func (s *Service) CheckConservation(ctx context.Context, producerID id.ProducerID) error {
	producer, err := s.store.GetProducer(ctx, producerID)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "load producer")
	}
	batches, err := s.store.ListBatchesByProducer(ctx, producerID)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "list batches")
	}
	var sum int64
	for _, b := range batches {
		sum += b.Amount
	}
	if sum != producer.TotalProduced {
		return dErrors.Newf(dErrors.CodeIntegrityViolation,
			"conservation violated for producer %s: batches sum %d, total produced %d",
			producerID, sum, producer.TotalProduced)
	}
	return nil
}
