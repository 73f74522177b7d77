package store

import (
	"context"
	"sort"
	"sync"

	"h2ledger/internal/mirror"
	id "h2ledger/pkg/domain"
	"h2ledger/pkg/platform/sentinel"
)

// Memory is the in-memory mirror store.
type Memory struct {
	mu          sync.RWMutex
	submissions map[id.SubmissionID]*mirror.Submission
	batches     map[id.BatchID]*mirror.Batch
	transfers   map[id.SettlementID]*mirror.Transfer
	listings    map[id.ListingID]*mirror.Listing
	settlements map[id.SettlementID]*mirror.Settlement
}

func NewMemory() *Memory {
	return &Memory{
		submissions: make(map[id.SubmissionID]*mirror.Submission),
		batches:     make(map[id.BatchID]*mirror.Batch),
		transfers:   make(map[id.SettlementID]*mirror.Transfer),
		listings:    make(map[id.ListingID]*mirror.Listing),
		settlements: make(map[id.SettlementID]*mirror.Settlement),
	}
}

func (s *Memory) GetSubmission(_ context.Context, submissionID id.SubmissionID) (*mirror.Submission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sub, ok := s.submissions[submissionID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *sub
	return &cp, nil
}

func (s *Memory) PutSubmission(_ context.Context, sub *mirror.Submission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *sub
	s.submissions[sub.ID] = &cp
	return nil
}

func (s *Memory) ListSubmissions(_ context.Context, filter SubmissionFilter, limit, offset int) ([]*mirror.Submission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var all []*mirror.Submission
	for _, sub := range s.submissions {
		if !filter.Producer.IsNil() && sub.Producer != filter.Producer {
			continue
		}
		if filter.Status != "" && sub.Status != filter.Status {
			continue
		}
		cp := *sub
		all = append(all, &cp)
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].SubmittedAt.Equal(all[j].SubmittedAt) {
			return all[i].SubmittedAt.Before(all[j].SubmittedAt)
		}
		return all[i].ID.String() < all[j].ID.String()
	})
	return paginate(all, limit, offset), nil
}

func (s *Memory) GetBatch(_ context.Context, batchID id.BatchID) (*mirror.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.batches[batchID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (s *Memory) PutBatch(_ context.Context, b *mirror.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *b
	s.batches[b.ID] = &cp
	return nil
}

func (s *Memory) ListBatches(_ context.Context, filter BatchFilter, limit, offset int) ([]*mirror.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var all []*mirror.Batch
	for _, b := range s.batches {
		if !filter.Producer.IsNil() && b.Producer != filter.Producer {
			continue
		}
		if !filter.Holder.IsNil() && b.Holder != filter.Holder {
			continue
		}
		if filter.Retired != nil && b.Retired != *filter.Retired {
			continue
		}
		cp := *b
		all = append(all, &cp)
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].IssuedAt.Equal(all[j].IssuedAt) {
			return all[i].IssuedAt.Before(all[j].IssuedAt)
		}
		return all[i].ID.String() < all[j].ID.String()
	})
	return paginate(all, limit, offset), nil
}

func (s *Memory) GetTransfer(_ context.Context, transferID id.SettlementID) (*mirror.Transfer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.transfers[transferID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *Memory) PutTransfer(_ context.Context, t *mirror.Transfer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *t
	s.transfers[t.ID] = &cp
	return nil
}

func (s *Memory) ListTransfers(_ context.Context, batchID id.BatchID) ([]*mirror.Transfer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*mirror.Transfer
	for _, t := range s.transfers {
		if t.Batch != batchID {
			continue
		}
		cp := *t
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TransferredAt.Before(out[j].TransferredAt) })
	return out, nil
}

func (s *Memory) GetListing(_ context.Context, listingID id.ListingID) (*mirror.Listing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.listings[listingID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *l
	return &cp, nil
}

func (s *Memory) PutListing(_ context.Context, l *mirror.Listing) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *l
	s.listings[l.ID] = &cp
	return nil
}

func (s *Memory) ListListings(_ context.Context, filter ListingFilter, limit, offset int) ([]*mirror.Listing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var all []*mirror.Listing
	for _, l := range s.listings {
		if !filter.Seller.IsNil() && l.Seller != filter.Seller {
			continue
		}
		if filter.Status != "" && l.Status != filter.Status {
			continue
		}
		cp := *l
		all = append(all, &cp)
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.Before(all[j].CreatedAt)
		}
		return all[i].ID.String() < all[j].ID.String()
	})
	return paginate(all, limit, offset), nil
}

func (s *Memory) GetSettlement(_ context.Context, settlementID id.SettlementID) (*mirror.Settlement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.settlements[settlementID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (s *Memory) PutSettlement(_ context.Context, rec *mirror.Settlement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rec
	s.settlements[rec.ID] = &cp
	return nil
}

func (s *Memory) ListSettlements(_ context.Context, filter SettlementFilter, limit, offset int) ([]*mirror.Settlement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var all []*mirror.Settlement
	for _, rec := range s.settlements {
		if !filter.Listing.IsNil() && rec.Listing != filter.Listing {
			continue
		}
		if !filter.Buyer.IsNil() && rec.Buyer != filter.Buyer {
			continue
		}
		if !filter.Seller.IsNil() && rec.Seller != filter.Seller {
			continue
		}
		cp := *rec
		all = append(all, &cp)
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].SettledAt.Equal(all[j].SettledAt) {
			return all[i].SettledAt.Before(all[j].SettledAt)
		}
		return all[i].ID.String() < all[j].ID.String()
	})
	return paginate(all, limit, offset), nil
}

func paginate[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
