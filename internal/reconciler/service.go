// Package reconciler consumes the authoritative chain event stream and keeps
// the mirror projection consistent with it: each event applies exactly once,
// redeliveries no-op, and a periodic full resync heals missed or reordered
// events. The reconciler is the only writer of the mirror store.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"h2ledger/internal/mirror"
	"h2ledger/internal/reconciler/metrics"
	id "h2ledger/pkg/domain"
	dErrors "h2ledger/pkg/domain-errors"
	"h2ledger/pkg/platform/sentinel"
)

const (
	// DefaultResyncInterval is the cadence of the periodic full snapshot
	// reconciliation.
	DefaultResyncInterval = 5 * time.Minute
	// DefaultMaxBackoff caps the retry delay after source failures.
	DefaultMaxBackoff = 30 * time.Second

	dedupeKeyPrefix = "reconciler:applied:"
	dedupeTTL       = 24 * time.Hour
)

// Store is the mirror persistence surface the reconciler writes through,
// implemented by internal/mirror/store.
type Store interface {
	GetSubmission(ctx context.Context, submissionID id.SubmissionID) (*mirror.Submission, error)
	PutSubmission(ctx context.Context, sub *mirror.Submission) error

	GetBatch(ctx context.Context, batchID id.BatchID) (*mirror.Batch, error)
	PutBatch(ctx context.Context, b *mirror.Batch) error

	GetTransfer(ctx context.Context, transferID id.SettlementID) (*mirror.Transfer, error)
	PutTransfer(ctx context.Context, t *mirror.Transfer) error

	GetListing(ctx context.Context, listingID id.ListingID) (*mirror.Listing, error)
	PutListing(ctx context.Context, l *mirror.Listing) error

	GetSettlement(ctx context.Context, settlementID id.SettlementID) (*mirror.Settlement, error)
	PutSettlement(ctx context.Context, rec *mirror.Settlement) error
}

// DataIntegrityConflict reports a redelivered event whose payload disagrees
// with the mirror on fields that should be immutable. Never auto-resolved:
// silently picking a version could violate conservation.
type DataIntegrityConflict struct {
	Key    string
	Reason string
}

func (e *DataIntegrityConflict) Error() string {
	return fmt.Sprintf("data integrity conflict on %s: %s", e.Key, e.Reason)
}

type Service struct {
	store  Store
	source Source
	logger *slog.Logger
	m      *metrics.Metrics

	// Optional redis fast path for duplicate detection. Advisory only: a
	// cache miss falls through to the store-level check, which stays
	// authoritative.
	dedupe *redis.Client

	resyncInterval time.Duration
	maxBackoff     time.Duration
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.m = m }
}

func WithDedupeCache(client *redis.Client) Option {
	return func(s *Service) { s.dedupe = client }
}

func WithResyncInterval(interval time.Duration) Option {
	return func(s *Service) { s.resyncInterval = interval }
}

func WithMaxBackoff(max time.Duration) Option {
	return func(s *Service) { s.maxBackoff = max }
}

func New(store Store, source Source, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("mirror store is required")
	}
	if source == nil {
		return nil, errors.New("chain event source is required")
	}
	svc := &Service{
		store:          store,
		source:         source,
		logger:         slog.Default(),
		resyncInterval: DefaultResyncInterval,
		maxBackoff:     DefaultMaxBackoff,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Run consumes the event stream and drives the resync ticker until ctx is
// cancelled or the stream ends. An initial resync runs before consumption so
// a restarted process starts from a healed mirror. Cancellation is a
// graceful shutdown, not an error.
func (s *Service) Run(ctx context.Context) error {
	if err := s.Resync(ctx); err != nil {
		s.logger.WarnContext(ctx, "initial resync failed, continuing with live stream", "error", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		return s.consume(ctx)
	})
	g.Go(func() error { return s.resyncLoop(ctx) })

	err := g.Wait()
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

// consume subscribes to the source, retrying transient failures with
// exponential backoff. Every reconnect is treated as a possible gap and
// followed by a resync.
func (s *Service) consume(ctx context.Context) error {
	backoff := time.Second
	for {
		err := s.source.Subscribe(ctx, s.handle)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err == nil {
			return nil
		}

		s.logger.WarnContext(ctx, "chain event subscription failed, retrying",
			"backoff", backoff, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		if backoff *= 2; backoff > s.maxBackoff {
			backoff = s.maxBackoff
		}

		if err := s.Resync(ctx); err != nil {
			s.logger.WarnContext(ctx, "post-reconnect resync failed", "error", err)
		}
	}
}

func (s *Service) resyncLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.resyncInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.Resync(ctx); err != nil {
				s.logger.WarnContext(ctx, "periodic resync failed", "error", err)
			}
		}
	}
}

// handle wraps HandleEvent for the subscription loop. Integrity conflicts
// are escalated through the log and metric but do not wedge the stream:
// redelivering a conflicting event forever cannot resolve it.
func (s *Service) handle(ctx context.Context, event *ChainEvent) error {
	err := s.HandleEvent(ctx, event)
	var conflict *DataIntegrityConflict
	if errors.As(err, &conflict) {
		return nil
	}
	return err
}

// HandleEvent applies one chain event to the mirror. Idempotent: a
// redelivery with an equal payload no-ops, a payload diverging on immutable
// fields returns a DataIntegrityConflict and leaves the mirror untouched.
func (s *Service) HandleEvent(ctx context.Context, event *ChainEvent) error {
	if err := event.Validate(); err != nil {
		return err
	}
	key := event.IdempotencyKey()

	if s.seenInCache(ctx, key) {
		s.countDuplicate()
		return nil
	}

	var (
		applied bool
		err     error
	)
	switch event.Kind {
	case KindSubmission:
		applied, err = s.applySubmission(ctx, key, event.Submission)
	case KindIssuance, KindRetirement:
		applied, err = s.applyBatch(ctx, key, event.Batch)
	case KindTransfer:
		applied, err = s.applyTransfer(ctx, key, event)
	case KindListingCreated, KindPriceUpdated, KindCancelled:
		applied, err = s.applyListing(ctx, key, event.Listing)
	case KindPurchased:
		applied, err = s.applyPurchase(ctx, key, event)
	}
	if err != nil {
		var conflict *DataIntegrityConflict
		if errors.As(err, &conflict) {
			s.countConflict()
			s.logger.ErrorContext(ctx, "chain event conflicts with mirror",
				"key", conflict.Key, "reason", conflict.Reason)
		}
		return err
	}

	if applied {
		s.countApplied(event.Kind)
	} else {
		s.countDuplicate()
	}
	s.markCache(ctx, key)
	return nil
}

// applySubmission upserts the submission's lifecycle state. Applied reports
// whether the mirror changed.
func (s *Service) applySubmission(ctx context.Context, key string, sub *mirror.Submission) (bool, error) {
	existing, err := s.store.GetSubmission(ctx, sub.ID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return true, s.store.PutSubmission(ctx, sub)
	}
	if err != nil {
		return false, err
	}
	if !existing.ImmutableEquals(sub) {
		return false, s.conflict(key, "submission identity fields diverge")
	}
	if existing.Equals(sub) {
		return false, nil
	}
	return true, s.store.PutSubmission(ctx, sub)
}

func (s *Service) applyBatch(ctx context.Context, key string, b *mirror.Batch) (bool, error) {
	existing, err := s.store.GetBatch(ctx, b.ID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return true, s.store.PutBatch(ctx, b)
	}
	if err != nil {
		return false, err
	}
	if !existing.ImmutableEquals(b) {
		return false, s.conflict(key, "batch identity fields diverge")
	}
	if existing.Equals(b) {
		return false, nil
	}
	return true, s.store.PutBatch(ctx, b)
}

// applyTransfer records the custody move and the batch's post-transfer
// state. The transfer record is the idempotency anchor: once it exists with
// an equal payload, the event is a redelivery and the batch is not touched
// again (a later transfer may already have moved it on).
func (s *Service) applyTransfer(ctx context.Context, key string, event *ChainEvent) (bool, error) {
	existing, err := s.store.GetTransfer(ctx, event.Transfer.ID)
	if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		return false, err
	}
	if err == nil {
		if !existing.Equals(event.Transfer) {
			return false, s.conflict(key, "transfer record payload diverges")
		}
		return false, nil
	}

	if err := s.store.PutTransfer(ctx, event.Transfer); err != nil {
		return false, err
	}
	if _, err := s.applyBatch(ctx, key, event.Batch); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Service) applyListing(ctx context.Context, key string, l *mirror.Listing) (bool, error) {
	existing, err := s.store.GetListing(ctx, l.ID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return true, s.store.PutListing(ctx, l)
	}
	if err != nil {
		return false, err
	}
	if !existing.ImmutableEquals(l) {
		return false, s.conflict(key, "listing identity fields diverge")
	}
	if existing.Equals(l) {
		return false, nil
	}
	return true, s.store.PutListing(ctx, l)
}

// applyPurchase anchors on the settlement reference. A known settlement with
// an equal payload means the whole event was already applied, listing
// decrement included, so nothing is touched twice.
func (s *Service) applyPurchase(ctx context.Context, key string, event *ChainEvent) (bool, error) {
	existing, err := s.store.GetSettlement(ctx, event.Settlement.ID)
	if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		return false, err
	}
	if err == nil {
		if !existing.Equals(event.Settlement) {
			return false, s.conflict(key, "settlement payload diverges")
		}
		return false, nil
	}

	if err := s.store.PutSettlement(ctx, event.Settlement); err != nil {
		return false, err
	}
	if _, err := s.applyListing(ctx, key, event.Listing); err != nil {
		return false, err
	}
	return true, nil
}

// Resync pulls the authoritative snapshot and corrects mirror drift.
// Idempotent and commutative with in-order live application: it only writes
// where the mirror disagrees with the snapshot.
func (s *Service) Resync(ctx context.Context) error {
	snap, err := s.source.Snapshot(ctx)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "chain snapshot unavailable")
	}

	var corrected int
	for _, b := range snap.Batches {
		changed, err := s.resyncBatch(ctx, b)
		if err != nil {
			return err
		}
		if changed {
			corrected++
		}
	}
	for _, l := range snap.Listings {
		changed, err := s.resyncListing(ctx, l)
		if err != nil {
			return err
		}
		if changed {
			corrected++
		}
	}

	if s.m != nil {
		s.m.ResyncRuns.Inc()
		s.m.Drift.Add(float64(corrected))
	}
	if corrected > 0 {
		s.logger.InfoContext(ctx, "resync corrected mirror drift", "records", corrected)
	}
	return nil
}

func (s *Service) resyncBatch(ctx context.Context, b *mirror.Batch) (bool, error) {
	changed, err := s.applyBatch(ctx, "batch:"+b.ID.String(), b)
	var conflict *DataIntegrityConflict
	if errors.As(err, &conflict) {
		s.countConflict()
		s.logger.ErrorContext(ctx, "snapshot conflicts with mirror",
			"key", conflict.Key, "reason", conflict.Reason)
		return false, nil
	}
	return changed, err
}

func (s *Service) resyncListing(ctx context.Context, l *mirror.Listing) (bool, error) {
	changed, err := s.applyListing(ctx, "listing:"+l.ID.String(), l)
	var conflict *DataIntegrityConflict
	if errors.As(err, &conflict) {
		s.countConflict()
		s.logger.ErrorContext(ctx, "snapshot conflicts with mirror",
			"key", conflict.Key, "reason", conflict.Reason)
		return false, nil
	}
	return changed, err
}

func (s *Service) conflict(key, reason string) error {
	return dErrors.Wrap(&DataIntegrityConflict{Key: key, Reason: reason},
		dErrors.CodeIntegrityViolation, "mirror apply rejected")
}

func (s *Service) seenInCache(ctx context.Context, key string) bool {
	if s.dedupe == nil {
		return false
	}
	n, err := s.dedupe.Exists(ctx, dedupeKeyPrefix+key).Result()
	if err != nil {
		s.logger.DebugContext(ctx, "dedupe cache read failed", "error", err)
		return false
	}
	return n > 0
}

func (s *Service) markCache(ctx context.Context, key string) {
	if s.dedupe == nil {
		return
	}
	if err := s.dedupe.SetNX(ctx, dedupeKeyPrefix+key, 1, dedupeTTL).Err(); err != nil {
		s.logger.DebugContext(ctx, "dedupe cache write failed", "error", err)
	}
}

func (s *Service) countApplied(kind EventKind) {
	if s.m != nil {
		s.m.Applied.WithLabelValues(string(kind)).Inc()
	}
}

func (s *Service) countDuplicate() {
	if s.m != nil {
		s.m.Duplicates.Inc()
	}
}

func (s *Service) countConflict() {
	if s.m != nil {
		s.m.Conflicts.Inc()
	}
}
