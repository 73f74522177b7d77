package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"

	"h2ledger/internal/mirror"
	id "h2ledger/pkg/domain"
	"h2ledger/pkg/platform/sentinel"
	txcontext "h2ledger/pkg/platform/tx"
)

// Postgres implements Store over database/sql. Every Put is an upsert keyed
// by the record's idempotent identity.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Postgres) q(ctx context.Context) querier {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

const submissionColumns = `id, producer_id, content_hash, amount, claimed_at, submitted_at, status, verifier_id, resolved_at`

func scanSubmission(scan func(...any) error) (*mirror.Submission, error) {
	var (
		sub        mirror.Submission
		sid, pid   uuid.UUID
		verifier   uuid.NullUUID
		resolvedAt sql.NullTime
	)
	err := scan(&sid, &pid, &sub.ContentHash, &sub.Amount, &sub.ClaimedAt,
		&sub.SubmittedAt, &sub.Status, &verifier, &resolvedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan mirror submission: %w", err)
	}
	sub.ID = id.SubmissionID(sid)
	sub.Producer = id.ProducerID(pid)
	if verifier.Valid {
		v := id.ActorID(verifier.UUID)
		sub.Verifier = &v
	}
	if resolvedAt.Valid {
		at := resolvedAt.Time
		sub.ResolvedAt = &at
	}
	return &sub, nil
}

func (s *Postgres) GetSubmission(ctx context.Context, submissionID id.SubmissionID) (*mirror.Submission, error) {
	row := s.q(ctx).QueryRowContext(ctx,
		`SELECT `+submissionColumns+` FROM mirror_submissions WHERE id = $1`, uuid.UUID(submissionID))
	return scanSubmission(row.Scan)
}

func (s *Postgres) PutSubmission(ctx context.Context, sub *mirror.Submission) error {
	const query = `
		INSERT INTO mirror_submissions (id, producer_id, content_hash, amount, claimed_at, submitted_at, status, verifier_id, resolved_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE
		SET status = EXCLUDED.status, verifier_id = EXCLUDED.verifier_id, resolved_at = EXCLUDED.resolved_at
	`
	var verifier uuid.NullUUID
	if sub.Verifier != nil {
		verifier = uuid.NullUUID{UUID: uuid.UUID(*sub.Verifier), Valid: true}
	}
	var resolvedAt sql.NullTime
	if sub.ResolvedAt != nil {
		resolvedAt = sql.NullTime{Time: *sub.ResolvedAt, Valid: true}
	}
	_, err := s.q(ctx).ExecContext(ctx, query,
		uuid.UUID(sub.ID), uuid.UUID(sub.Producer), sub.ContentHash, sub.Amount,
		sub.ClaimedAt, sub.SubmittedAt, sub.Status, verifier, resolvedAt)
	if err != nil {
		return fmt.Errorf("upsert mirror submission: %w", err)
	}
	return nil
}

func (s *Postgres) ListSubmissions(ctx context.Context, filter SubmissionFilter, limit, offset int) ([]*mirror.Submission, error) {
	query := `SELECT ` + submissionColumns + ` FROM mirror_submissions`
	var args []any
	query, args = appendWhere(query, args, "producer_id", !filter.Producer.IsNil(), uuid.UUID(filter.Producer))
	query, args = appendWhere(query, args, "status", filter.Status != "", filter.Status)
	query += ` ORDER BY submitted_at, id` + limitOffset(limit, offset)

	rows, err := s.q(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list mirror submissions: %w", err)
	}
	defer rows.Close()

	var out []*mirror.Submission
	for rows.Next() {
		sub, err := scanSubmission(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

const batchColumns = `id, producer_id, holder_id, amount, submission_id, issued_at, retired, retired_at`

func scanBatch(scan func(...any) error) (*mirror.Batch, error) {
	var (
		b              mirror.Batch
		bid, pid, hid  uuid.UUID
		subID          uuid.UUID
		retiredAt      sql.NullTime
	)
	err := scan(&bid, &pid, &hid, &b.Amount, &subID, &b.IssuedAt, &b.Retired, &retiredAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan mirror batch: %w", err)
	}
	b.ID = id.BatchID(bid)
	b.Producer = id.ProducerID(pid)
	b.Holder = id.ActorID(hid)
	b.Submission = id.SubmissionID(subID)
	if retiredAt.Valid {
		at := retiredAt.Time
		b.RetiredAt = &at
	}
	return &b, nil
}

func (s *Postgres) GetBatch(ctx context.Context, batchID id.BatchID) (*mirror.Batch, error) {
	row := s.q(ctx).QueryRowContext(ctx,
		`SELECT `+batchColumns+` FROM mirror_batches WHERE id = $1`, uuid.UUID(batchID))
	return scanBatch(row.Scan)
}

func (s *Postgres) PutBatch(ctx context.Context, b *mirror.Batch) error {
	const query = `
		INSERT INTO mirror_batches (id, producer_id, holder_id, amount, submission_id, issued_at, retired, retired_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE
		SET holder_id = EXCLUDED.holder_id, retired = EXCLUDED.retired, retired_at = EXCLUDED.retired_at
	`
	var retiredAt sql.NullTime
	if b.RetiredAt != nil {
		retiredAt = sql.NullTime{Time: *b.RetiredAt, Valid: true}
	}
	_, err := s.q(ctx).ExecContext(ctx, query,
		uuid.UUID(b.ID), uuid.UUID(b.Producer), uuid.UUID(b.Holder), b.Amount,
		uuid.UUID(b.Submission), b.IssuedAt, b.Retired, retiredAt)
	if err != nil {
		return fmt.Errorf("upsert mirror batch: %w", err)
	}
	return nil
}

func (s *Postgres) ListBatches(ctx context.Context, filter BatchFilter, limit, offset int) ([]*mirror.Batch, error) {
	query := `SELECT ` + batchColumns + ` FROM mirror_batches`
	var args []any
	query, args = appendWhere(query, args, "producer_id", !filter.Producer.IsNil(), uuid.UUID(filter.Producer))
	query, args = appendWhere(query, args, "holder_id", !filter.Holder.IsNil(), uuid.UUID(filter.Holder))
	if filter.Retired != nil {
		query, args = appendWhere(query, args, "retired", true, *filter.Retired)
	}
	query += ` ORDER BY issued_at, id` + limitOffset(limit, offset)

	rows, err := s.q(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list mirror batches: %w", err)
	}
	defer rows.Close()

	var out []*mirror.Batch
	for rows.Next() {
		b, err := scanBatch(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *Postgres) GetTransfer(ctx context.Context, transferID id.SettlementID) (*mirror.Transfer, error) {
	row := s.q(ctx).QueryRowContext(ctx,
		`SELECT id, batch_id, from_id, to_id, transferred_at FROM mirror_transfers WHERE id = $1`,
		uuid.UUID(transferID))
	return scanTransfer(row.Scan)
}

func scanTransfer(scan func(...any) error) (*mirror.Transfer, error) {
	var (
		t                  mirror.Transfer
		tid, bid, from, to uuid.UUID
	)
	err := scan(&tid, &bid, &from, &to, &t.TransferredAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan mirror transfer: %w", err)
	}
	t.ID = id.SettlementID(tid)
	t.Batch = id.BatchID(bid)
	t.From = id.ActorID(from)
	t.To = id.ActorID(to)
	return &t, nil
}

func (s *Postgres) PutTransfer(ctx context.Context, t *mirror.Transfer) error {
	const query = `
		INSERT INTO mirror_transfers (id, batch_id, from_id, to_id, transferred_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING
	`
	_, err := s.q(ctx).ExecContext(ctx, query,
		uuid.UUID(t.ID), uuid.UUID(t.Batch), uuid.UUID(t.From), uuid.UUID(t.To), t.TransferredAt)
	if err != nil {
		return fmt.Errorf("upsert mirror transfer: %w", err)
	}
	return nil
}

func (s *Postgres) ListTransfers(ctx context.Context, batchID id.BatchID) ([]*mirror.Transfer, error) {
	rows, err := s.q(ctx).QueryContext(ctx,
		`SELECT id, batch_id, from_id, to_id, transferred_at FROM mirror_transfers
		 WHERE batch_id = $1 ORDER BY transferred_at, id`, uuid.UUID(batchID))
	if err != nil {
		return nil, fmt.Errorf("list mirror transfers: %w", err)
	}
	defer rows.Close()

	var out []*mirror.Transfer
	for rows.Next() {
		t, err := scanTransfer(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

const mirrorListingColumns = `id, seller_id, amount, remaining, price_per_unit, status, created_at, updated_at`

func scanMirrorListing(scan func(...any) error) (*mirror.Listing, error) {
	var (
		l           mirror.Listing
		lid, seller uuid.UUID
	)
	err := scan(&lid, &seller, &l.Amount, &l.Remaining, &l.PricePerUnit,
		&l.Status, &l.CreatedAt, &l.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan mirror listing: %w", err)
	}
	l.ID = id.ListingID(lid)
	l.Seller = id.ActorID(seller)
	return &l, nil
}

func (s *Postgres) GetListing(ctx context.Context, listingID id.ListingID) (*mirror.Listing, error) {
	row := s.q(ctx).QueryRowContext(ctx,
		`SELECT `+mirrorListingColumns+` FROM mirror_listings WHERE id = $1`, uuid.UUID(listingID))
	return scanMirrorListing(row.Scan)
}

func (s *Postgres) PutListing(ctx context.Context, l *mirror.Listing) error {
	const query = `
		INSERT INTO mirror_listings (id, seller_id, amount, remaining, price_per_unit, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE
		SET remaining = EXCLUDED.remaining, price_per_unit = EXCLUDED.price_per_unit,
		    status = EXCLUDED.status, updated_at = EXCLUDED.updated_at
	`
	_, err := s.q(ctx).ExecContext(ctx, query,
		uuid.UUID(l.ID), uuid.UUID(l.Seller), l.Amount, l.Remaining,
		l.PricePerUnit, l.Status, l.CreatedAt, l.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert mirror listing: %w", err)
	}
	return nil
}

func (s *Postgres) ListListings(ctx context.Context, filter ListingFilter, limit, offset int) ([]*mirror.Listing, error) {
	query := `SELECT ` + mirrorListingColumns + ` FROM mirror_listings`
	var args []any
	query, args = appendWhere(query, args, "seller_id", !filter.Seller.IsNil(), uuid.UUID(filter.Seller))
	query, args = appendWhere(query, args, "status", filter.Status != "", filter.Status)
	query += ` ORDER BY created_at, id` + limitOffset(limit, offset)

	rows, err := s.q(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list mirror listings: %w", err)
	}
	defer rows.Close()

	var out []*mirror.Listing
	for rows.Next() {
		l, err := scanMirrorListing(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

const mirrorSettlementColumns = `id, listing_id, buyer_id, seller_id, amount, total_price, fee, settled_at`

func scanMirrorSettlement(scan func(...any) error) (*mirror.Settlement, error) {
	var (
		rec                    mirror.Settlement
		sid, lid, buyer, seller uuid.UUID
	)
	err := scan(&sid, &lid, &buyer, &seller, &rec.Amount, &rec.TotalPrice, &rec.Fee, &rec.SettledAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan mirror settlement: %w", err)
	}
	rec.ID = id.SettlementID(sid)
	rec.Listing = id.ListingID(lid)
	rec.Buyer = id.ActorID(buyer)
	rec.Seller = id.ActorID(seller)
	return &rec, nil
}

func (s *Postgres) GetSettlement(ctx context.Context, settlementID id.SettlementID) (*mirror.Settlement, error) {
	row := s.q(ctx).QueryRowContext(ctx,
		`SELECT `+mirrorSettlementColumns+` FROM mirror_settlements WHERE id = $1`, uuid.UUID(settlementID))
	return scanMirrorSettlement(row.Scan)
}

func (s *Postgres) PutSettlement(ctx context.Context, rec *mirror.Settlement) error {
	const query = `
		INSERT INTO mirror_settlements (id, listing_id, buyer_id, seller_id, amount, total_price, fee, settled_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING
	`
	_, err := s.q(ctx).ExecContext(ctx, query,
		uuid.UUID(rec.ID), uuid.UUID(rec.Listing), uuid.UUID(rec.Buyer), uuid.UUID(rec.Seller),
		rec.Amount, rec.TotalPrice, rec.Fee, rec.SettledAt)
	if err != nil {
		return fmt.Errorf("upsert mirror settlement: %w", err)
	}
	return nil
}

func (s *Postgres) ListSettlements(ctx context.Context, filter SettlementFilter, limit, offset int) ([]*mirror.Settlement, error) {
	query := `SELECT ` + mirrorSettlementColumns + ` FROM mirror_settlements`
	var args []any
	query, args = appendWhere(query, args, "listing_id", !filter.Listing.IsNil(), uuid.UUID(filter.Listing))
	query, args = appendWhere(query, args, "buyer_id", !filter.Buyer.IsNil(), uuid.UUID(filter.Buyer))
	query, args = appendWhere(query, args, "seller_id", !filter.Seller.IsNil(), uuid.UUID(filter.Seller))
	query += ` ORDER BY settled_at, id` + limitOffset(limit, offset)

	rows, err := s.q(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list mirror settlements: %w", err)
	}
	defer rows.Close()

	var out []*mirror.Settlement
	for rows.Next() {
		rec, err := scanMirrorSettlement(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// appendWhere conditionally grows a WHERE clause with a positional argument.
func appendWhere(query string, args []any, column string, active bool, value any) (string, []any) {
	if !active {
		return query, args
	}
	if len(args) == 0 {
		query += ` WHERE `
	} else {
		query += ` AND `
	}
	args = append(args, value)
	query += column + ` = $` + strconv.Itoa(len(args))
	return query, args
}

func limitOffset(limit, offset int) string {
	clause := ""
	if limit > 0 {
		clause += ` LIMIT ` + strconv.Itoa(limit)
	}
	if offset > 0 {
		clause += ` OFFSET ` + strconv.Itoa(offset)
	}
	return clause
}
