package store

import (
	"context"
	"sync"
	"time"

	"h2ledger/internal/ledger"
	id "h2ledger/pkg/domain"
	"h2ledger/pkg/platform/sentinel"
)

// Memory is the in-memory Store used by unit tests and single-node
// deployments. All methods copy on read so callers never share mutable state
// with the store.
type Memory struct {
	mu          sync.RWMutex
	producers   map[id.ProducerID]*ledger.Producer
	plants      map[string]id.ProducerID
	batches     map[id.BatchID]*ledger.CreditBatch
	balances    map[id.ActorID]*ledger.Balance
	retirements []*ledger.RetirementRecord
}

func NewMemory() *Memory {
	return &Memory{
		producers: make(map[id.ProducerID]*ledger.Producer),
		plants:    make(map[string]id.ProducerID),
		batches:   make(map[id.BatchID]*ledger.CreditBatch),
		balances:  make(map[id.ActorID]*ledger.Balance),
	}
}

func (s *Memory) CreateProducer(_ context.Context, p *ledger.Producer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.producers[p.ID]; ok {
		return sentinel.ErrDuplicate
	}
	if _, ok := s.plants[p.PlantID]; ok {
		return sentinel.ErrDuplicate
	}
	cp := *p
	s.producers[p.ID] = &cp
	s.plants[p.PlantID] = p.ID
	return nil
}

func (s *Memory) GetProducer(_ context.Context, producerID id.ProducerID) (*ledger.Producer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.producers[producerID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *Memory) GetProducerByPlant(_ context.Context, plantID string) (*ledger.Producer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	producerID, ok := s.plants[plantID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *s.producers[producerID]
	return &cp, nil
}

func (s *Memory) UpdateProducer(_ context.Context, p *ledger.Producer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.producers[p.ID]; !ok {
		return sentinel.ErrNotFound
	}
	cp := *p
	s.producers[p.ID] = &cp
	return nil
}

func (s *Memory) AppendBatch(_ context.Context, b *ledger.CreditBatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.batches[b.ID]; ok {
		return sentinel.ErrDuplicate
	}
	cp := *b
	s.batches[b.ID] = &cp
	return nil
}

func (s *Memory) GetBatch(_ context.Context, batchID id.BatchID) (*ledger.CreditBatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.batches[batchID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (s *Memory) GetBatches(_ context.Context, batchIDs []id.BatchID) ([]*ledger.CreditBatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*ledger.CreditBatch, 0, len(batchIDs))
	for _, batchID := range batchIDs {
		b, ok := s.batches[batchID]
		if !ok {
			return nil, sentinel.ErrNotFound
		}
		cp := *b
		out = append(out, &cp)
	}
	return out, nil
}

func (s *Memory) RetireBatches(_ context.Context, batchIDs []id.BatchID, reason string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Validate the whole set before touching anything so a partial failure
	// leaves every retirement flag unchanged.
	for _, batchID := range batchIDs {
		b, ok := s.batches[batchID]
		if !ok {
			return sentinel.ErrNotFound
		}
		if b.Retired {
			return sentinel.ErrInvalidState
		}
	}
	for _, batchID := range batchIDs {
		s.batches[batchID].ApplyRetirement(reason, at)
	}
	return nil
}

func (s *Memory) SetBatchHolder(_ context.Context, batchID id.BatchID, holder id.ActorID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[batchID]
	if !ok {
		return sentinel.ErrNotFound
	}
	b.Holder = holder
	return nil
}

func (s *Memory) ListBatchesByProducer(_ context.Context, producerID id.ProducerID) ([]*ledger.CreditBatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*ledger.CreditBatch
	for _, b := range s.batches {
		if b.Producer == producerID {
			cp := *b
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *Memory) GetBalance(_ context.Context, actor id.ActorID) (*ledger.Balance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	bal, ok := s.balances[actor]
	if !ok {
		return &ledger.Balance{Actor: actor}, nil
	}
	cp := *bal
	return &cp, nil
}

func (s *Memory) ApplyBalance(_ context.Context, actor id.ActorID, spendableDelta, escrowedDelta int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	bal, ok := s.balances[actor]
	if !ok {
		bal = &ledger.Balance{Actor: actor}
		s.balances[actor] = bal
	}
	if bal.Spendable+spendableDelta < 0 || bal.Escrowed+escrowedDelta < 0 {
		return sentinel.ErrInvalidState
	}
	bal.Spendable += spendableDelta
	bal.Escrowed += escrowedDelta
	bal.UpdatedAt = at
	return nil
}

func (s *Memory) AppendRetirement(_ context.Context, r *ledger.RetirementRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *r
	cp.Batches = append([]id.BatchID{}, r.Batches...)
	s.retirements = append(s.retirements, &cp)
	return nil
}

func (s *Memory) ListRetirements(_ context.Context) ([]*ledger.RetirementRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*ledger.RetirementRecord, 0, len(s.retirements))
	for _, r := range s.retirements {
		cp := *r
		cp.Batches = append([]id.BatchID{}, r.Batches...)
		out = append(out, &cp)
	}
	return out, nil
}
