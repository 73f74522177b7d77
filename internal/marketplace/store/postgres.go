package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"h2ledger/internal/marketplace"
	id "h2ledger/pkg/domain"
	"h2ledger/pkg/platform/sentinel"
	txcontext "h2ledger/pkg/platform/tx"
)

// Postgres implements Store over database/sql.
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

func (s *Postgres) CreateListing(ctx context.Context, l *marketplace.Listing) error {
	const query = `
		INSERT INTO listings (id, seller_id, remaining, price_per_unit, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := s.q(ctx).ExecContext(ctx, query,
		uuid.UUID(l.ID), uuid.UUID(l.Seller), l.Remaining, l.PricePerUnit,
		string(l.Status), l.CreatedAt, l.UpdatedAt)
	if err != nil && strings.Contains(err.Error(), "23505") {
		return sentinel.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("insert listing: %w", err)
	}
	return nil
}

const listingColumns = `id, seller_id, remaining, price_per_unit, status, created_at, updated_at`

func scanListing(scan func(...any) error) (*marketplace.Listing, error) {
	var (
		l           marketplace.Listing
		lid, seller uuid.UUID
		status      string
	)
	err := scan(&lid, &seller, &l.Remaining, &l.PricePerUnit, &status, &l.CreatedAt, &l.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan listing: %w", err)
	}
	l.ID = id.ListingID(lid)
	l.Seller = id.ActorID(seller)
	l.Status = marketplace.ListingStatus(status)
	return &l, nil
}

func (s *Postgres) GetListing(ctx context.Context, listingID id.ListingID) (*marketplace.Listing, error) {
	row := s.q(ctx).QueryRowContext(ctx,
		`SELECT `+listingColumns+` FROM listings WHERE id = $1`, uuid.UUID(listingID))
	return scanListing(row.Scan)
}

func (s *Postgres) UpdateListing(ctx context.Context, l *marketplace.Listing) error {
	const query = `
		UPDATE listings
		SET remaining = $2, price_per_unit = $3, status = $4, updated_at = $5
		WHERE id = $1
	`
	res, err := s.q(ctx).ExecContext(ctx, query,
		uuid.UUID(l.ID), l.Remaining, l.PricePerUnit, string(l.Status), l.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update listing: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *Postgres) ListListings(ctx context.Context, status marketplace.ListingStatus, limit, offset int) ([]*marketplace.Listing, error) {
	query := `SELECT ` + listingColumns + ` FROM listings`
	args := []any{}
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, string(status))
	}
	query += fmt.Sprintf(` ORDER BY created_at LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit, offset)

	rows, err := s.q(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list listings: %w", err)
	}
	defer rows.Close()

	var out []*marketplace.Listing
	for rows.Next() {
		l, err := scanListing(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *Postgres) AppendSettlement(ctx context.Context, rec *marketplace.Settlement) error {
	const query = `
		INSERT INTO settlements (id, listing_id, buyer_id, seller_id, amount, total_price, fee, settled_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := s.q(ctx).ExecContext(ctx, query,
		uuid.UUID(rec.ID), uuid.UUID(rec.Listing), uuid.UUID(rec.Buyer), uuid.UUID(rec.Seller),
		rec.Amount, rec.TotalPrice, rec.Fee, rec.SettledAt)
	if err != nil && strings.Contains(err.Error(), "23505") {
		return sentinel.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("insert settlement: %w", err)
	}
	return nil
}

func (s *Postgres) ListSettlements(ctx context.Context, listingID id.ListingID) ([]*marketplace.Settlement, error) {
	rows, err := s.q(ctx).QueryContext(ctx, `
		SELECT id, listing_id, buyer_id, seller_id, amount, total_price, fee, settled_at
		FROM settlements WHERE listing_id = $1 ORDER BY settled_at
	`, uuid.UUID(listingID))
	if err != nil {
		return nil, fmt.Errorf("list settlements: %w", err)
	}
	defer rows.Close()

	var out []*marketplace.Settlement
	for rows.Next() {
		var (
			rec                       marketplace.Settlement
			sid, lid, buyer, seller   uuid.UUID
		)
		if err := rows.Scan(&sid, &lid, &buyer, &seller, &rec.Amount, &rec.TotalPrice, &rec.Fee, &rec.SettledAt); err != nil {
			return nil, fmt.Errorf("scan settlement: %w", err)
		}
		rec.ID = id.SettlementID(sid)
		rec.Listing = id.ListingID(lid)
		rec.Buyer = id.ActorID(buyer)
		rec.Seller = id.ActorID(seller)
		out = append(out, &rec)
	}
	return out, rows.Err()
}
