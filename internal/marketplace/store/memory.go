package store

import (
	"context"
	"sort"
	"sync"

	"h2ledger/internal/marketplace"
	id "h2ledger/pkg/domain"
	"h2ledger/pkg/platform/sentinel"
)

// Memory is the in-memory marketplace store.
type Memory struct {
	mu          sync.RWMutex
	listings    map[id.ListingID]*marketplace.Listing
	settlements []*marketplace.Settlement
	refs        map[id.SettlementID]struct{}
}

func NewMemory() *Memory {
	return &Memory{
		listings: make(map[id.ListingID]*marketplace.Listing),
		refs:     make(map[id.SettlementID]struct{}),
	}
}

func (s *Memory) CreateListing(_ context.Context, l *marketplace.Listing) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.listings[l.ID]; ok {
		return sentinel.ErrDuplicate
	}
	cp := *l
	s.listings[l.ID] = &cp
	return nil
}

func (s *Memory) GetListing(_ context.Context, listingID id.ListingID) (*marketplace.Listing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.listings[listingID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *l
	return &cp, nil
}

func (s *Memory) UpdateListing(_ context.Context, l *marketplace.Listing) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.listings[l.ID]; !ok {
		return sentinel.ErrNotFound
	}
	cp := *l
	s.listings[l.ID] = &cp
	return nil
}

func (s *Memory) ListListings(_ context.Context, status marketplace.ListingStatus, limit, offset int) ([]*marketplace.Listing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var all []*marketplace.Listing
	for _, l := range s.listings {
		if status == "" || l.Status == status {
			cp := *l
			all = append(all, &cp)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.Before(all[j].CreatedAt) })
	return paginate(all, limit, offset), nil
}

func (s *Memory) AppendSettlement(_ context.Context, rec *marketplace.Settlement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.refs[rec.ID]; ok {
		return sentinel.ErrDuplicate
	}
	cp := *rec
	s.settlements = append(s.settlements, &cp)
	s.refs[rec.ID] = struct{}{}
	return nil
}

func (s *Memory) ListSettlements(_ context.Context, listingID id.ListingID) ([]*marketplace.Settlement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*marketplace.Settlement
	for _, rec := range s.settlements {
		if rec.Listing == listingID {
			cp := *rec
			out = append(out, &cp)
		}
	}
	return out, nil
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
