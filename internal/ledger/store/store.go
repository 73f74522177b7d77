// Package store defines the persistence port for the ledger core and its
// in-memory and postgres implementations.
package store

import (
	"context"
	"time"

	"h2ledger/internal/ledger"
	id "h2ledger/pkg/domain"
)

// Store is the only writable surface for producers, batches, and balances.
// Implementations return pkg/platform/sentinel errors for factual failures;
// the ledger service translates them into coded domain errors.
type Store interface {
	CreateProducer(ctx context.Context, p *ledger.Producer) error
	GetProducer(ctx context.Context, producerID id.ProducerID) (*ledger.Producer, error)
	GetProducerByPlant(ctx context.Context, plantID string) (*ledger.Producer, error)
	UpdateProducer(ctx context.Context, p *ledger.Producer) error

	AppendBatch(ctx context.Context, b *ledger.CreditBatch) error
	GetBatch(ctx context.Context, batchID id.BatchID) (*ledger.CreditBatch, error)
	GetBatches(ctx context.Context, batchIDs []id.BatchID) ([]*ledger.CreditBatch, error)
	// RetireBatches marks the whole set retired, all-or-nothing. The caller
	// has already validated every batch; the store only persists.
	RetireBatches(ctx context.Context, batchIDs []id.BatchID, reason string, at time.Time) error
	SetBatchHolder(ctx context.Context, batchID id.BatchID, holder id.ActorID) error
	ListBatchesByProducer(ctx context.Context, producerID id.ProducerID) ([]*ledger.CreditBatch, error)

	// GetBalance returns a zero balance for unknown actors.
	GetBalance(ctx context.Context, actor id.ActorID) (*ledger.Balance, error)
	// ApplyBalance adds the deltas to an actor's balance. Fails with
	// sentinel.ErrInvalidState if either side would go negative.
	ApplyBalance(ctx context.Context, actor id.ActorID, spendableDelta, escrowedDelta int64, at time.Time) error

	AppendRetirement(ctx context.Context, r *ledger.RetirementRecord) error
	ListRetirements(ctx context.Context) ([]*ledger.RetirementRecord, error)
}
