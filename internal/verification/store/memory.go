package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"h2ledger/internal/verification"
	id "h2ledger/pkg/domain"
	"h2ledger/pkg/platform/sentinel"
)

// Memory is the in-memory submission store.
type Memory struct {
	mu          sync.RWMutex
	submissions map[id.SubmissionID]*verification.Submission
	hashes      map[string]id.SubmissionID
}

func NewMemory() *Memory {
	return &Memory{
		submissions: make(map[id.SubmissionID]*verification.Submission),
		hashes:      make(map[string]id.SubmissionID),
	}
}

func (s *Memory) Create(_ context.Context, sub *verification.Submission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.hashes[sub.ContentHash]; ok {
		return sentinel.ErrDuplicate
	}
	cp := *sub
	s.submissions[sub.ID] = &cp
	s.hashes[sub.ContentHash] = sub.ID
	return nil
}

func (s *Memory) Get(_ context.Context, submissionID id.SubmissionID) (*verification.Submission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sub, ok := s.submissions[submissionID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *sub
	return &cp, nil
}

func (s *Memory) Update(_ context.Context, sub *verification.Submission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.submissions[sub.ID]; !ok {
		return sentinel.ErrNotFound
	}
	cp := *sub
	s.submissions[sub.ID] = &cp
	return nil
}

func (s *Memory) SumVerifiedInMonth(_ context.Context, producerID id.ProducerID, monthKey string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var sum int64
	for _, sub := range s.submissions {
		if sub.Producer == producerID && sub.Status == verification.StatusVerified && sub.MonthKey() == monthKey {
			sum += sub.Amount
		}
	}
	return sum, nil
}

func (s *Memory) ListPendingBefore(_ context.Context, cutoff time.Time) ([]*verification.Submission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*verification.Submission
	for _, sub := range s.submissions {
		if sub.Status == verification.StatusPending && !sub.SubmittedAt.After(cutoff) {
			cp := *sub
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SubmittedAt.Before(out[j].SubmittedAt) })
	return out, nil
}

func (s *Memory) ListByProducer(_ context.Context, producerID id.ProducerID) ([]*verification.Submission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*verification.Submission
	for _, sub := range s.submissions {
		if sub.Producer == producerID {
			cp := *sub
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SubmittedAt.Before(out[j].SubmittedAt) })
	return out, nil
}
