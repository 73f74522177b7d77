package reconciler

import (
	"context"
	"sync"

	"h2ledger/internal/mirror"
	id "h2ledger/pkg/domain"
)

// Snapshot is the authoritative source's current batch and listing state,
// pulled during a resync pass.
type Snapshot struct {
	Batches  []*mirror.Batch
	Listings []*mirror.Listing
}

// Handler processes one chain event. Returning an error stops delivery; the
// source redelivers the event on the next subscription (at-least-once).
type Handler func(ctx context.Context, event *ChainEvent) error

// Source abstracts the authoritative external event stream: an ordered,
// at-least-once push subscription plus a pull of the current state.
type Source interface {
	// Subscribe blocks delivering events in order until ctx is done or the
	// underlying stream fails.
	Subscribe(ctx context.Context, handler Handler) error
	Snapshot(ctx context.Context) (*Snapshot, error)
}

// MemorySource is an in-process Source for tests. Emitted events queue until
// a subscriber drains them; the snapshot state is set independently so drift
// between stream and snapshot can be staged deliberately.
type MemorySource struct {
	mu       sync.Mutex
	events   chan *ChainEvent
	batches  map[id.BatchID]*mirror.Batch
	listings map[id.ListingID]*mirror.Listing
}

func NewMemorySource() *MemorySource {
	return &MemorySource{
		events:   make(chan *ChainEvent, 256),
		batches:  make(map[id.BatchID]*mirror.Batch),
		listings: make(map[id.ListingID]*mirror.Listing),
	}
}

// Emit queues an event for the subscriber.
func (s *MemorySource) Emit(event *ChainEvent) {
	s.events <- event
}

// Close ends the stream; Subscribe returns nil once the queue drains.
func (s *MemorySource) Close() {
	close(s.events)
}

// SetBatch stages snapshot state for the next Snapshot call.
func (s *MemorySource) SetBatch(b *mirror.Batch) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *b
	s.batches[b.ID] = &cp
}

// SetListing stages snapshot state for the next Snapshot call.
func (s *MemorySource) SetListing(l *mirror.Listing) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *l
	s.listings[l.ID] = &cp
}

func (s *MemorySource) Subscribe(ctx context.Context, handler Handler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-s.events:
			if !ok {
				return nil
			}
			if err := handler(ctx, event); err != nil {
				return err
			}
		}
	}
}

func (s *MemorySource) Snapshot(_ context.Context) (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := &Snapshot{}
	for _, b := range s.batches {
		cp := *b
		snap.Batches = append(snap.Batches, &cp)
	}
	for _, l := range s.listings {
		cp := *l
		snap.Listings = append(snap.Listings, &cp)
	}
	return snap, nil
}
