package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"h2ledger/internal/ledger"
	id "h2ledger/pkg/domain"
	"h2ledger/pkg/platform/sentinel"
	txcontext "h2ledger/pkg/platform/tx"
)

// Postgres implements Store over database/sql. Writes participate in a
// caller-provided transaction when one is carried in context, which is how
// the verification engine commits "issue batch + mark verified" atomically.
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

func isUniqueViolation(err error) bool {
	// pgx surfaces SQLSTATE 23505 in the error text via database/sql.
	return err != nil && strings.Contains(err.Error(), "23505")
}

func (s *Postgres) CreateProducer(ctx context.Context, p *ledger.Producer) error {
	const query = `
		INSERT INTO producers (id, owner_id, plant_id, source, monthly_limit, total_produced, active, verified, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := s.q(ctx).ExecContext(ctx, query,
		uuid.UUID(p.ID), uuid.UUID(p.Owner), p.PlantID, string(p.Source),
		p.MonthlyLimit, p.TotalProduced, p.Active, p.Verified, p.CreatedAt, p.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return sentinel.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("insert producer: %w", err)
	}
	return nil
}

const producerColumns = `id, owner_id, plant_id, source, monthly_limit, total_produced, active, verified, created_at, updated_at`

func scanProducer(row *sql.Row) (*ledger.Producer, error) {
	var (
		p          ledger.Producer
		pid, owner uuid.UUID
		source     string
	)
	err := row.Scan(&pid, &owner, &p.PlantID, &source, &p.MonthlyLimit,
		&p.TotalProduced, &p.Active, &p.Verified, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan producer: %w", err)
	}
	p.ID = id.ProducerID(pid)
	p.Owner = id.ActorID(owner)
	p.Source = ledger.SourceCategory(source)
	return &p, nil
}

func (s *Postgres) GetProducer(ctx context.Context, producerID id.ProducerID) (*ledger.Producer, error) {
	row := s.q(ctx).QueryRowContext(ctx,
		`SELECT `+producerColumns+` FROM producers WHERE id = $1`, uuid.UUID(producerID))
	return scanProducer(row)
}

func (s *Postgres) GetProducerByPlant(ctx context.Context, plantID string) (*ledger.Producer, error) {
	row := s.q(ctx).QueryRowContext(ctx,
		`SELECT `+producerColumns+` FROM producers WHERE plant_id = $1`, plantID)
	return scanProducer(row)
}

func (s *Postgres) UpdateProducer(ctx context.Context, p *ledger.Producer) error {
	const query = `
		UPDATE producers
		SET monthly_limit = $2, total_produced = $3, active = $4, verified = $5, updated_at = $6
		WHERE id = $1
	`
	res, err := s.q(ctx).ExecContext(ctx, query,
		uuid.UUID(p.ID), p.MonthlyLimit, p.TotalProduced, p.Active, p.Verified, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update producer: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *Postgres) AppendBatch(ctx context.Context, b *ledger.CreditBatch) error {
	const query = `
		INSERT INTO credit_batches (id, producer_id, holder_id, amount, submission_id, issued_at, retired)
		VALUES ($1, $2, $3, $4, $5, $6, false)
	`
	_, err := s.q(ctx).ExecContext(ctx, query,
		uuid.UUID(b.ID), uuid.UUID(b.Producer), uuid.UUID(b.Holder),
		b.Amount, uuid.UUID(b.Submission), b.IssuedAt)
	if isUniqueViolation(err) {
		return sentinel.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("insert batch: %w", err)
	}
	return nil
}

const batchColumns = `id, producer_id, holder_id, amount, submission_id, issued_at, retired, retirement_reason, retired_at`

func scanBatch(scan func(...any) error) (*ledger.CreditBatch, error) {
	var (
		b                     ledger.CreditBatch
		bid, prod, holder, sub uuid.UUID
		reason                sql.NullString
		retiredAt             sql.NullTime
	)
	err := scan(&bid, &prod, &holder, &b.Amount, &sub, &b.IssuedAt, &b.Retired, &reason, &retiredAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan batch: %w", err)
	}
	b.ID = id.BatchID(bid)
	b.Producer = id.ProducerID(prod)
	b.Holder = id.ActorID(holder)
	b.Submission = id.SubmissionID(sub)
	if reason.Valid {
		b.RetirementReason = reason.String
	}
	if retiredAt.Valid {
		at := retiredAt.Time
		b.RetiredAt = &at
	}
	return &b, nil
}

func (s *Postgres) GetBatch(ctx context.Context, batchID id.BatchID) (*ledger.CreditBatch, error) {
	row := s.q(ctx).QueryRowContext(ctx,
		`SELECT `+batchColumns+` FROM credit_batches WHERE id = $1`, uuid.UUID(batchID))
	return scanBatch(row.Scan)
}

func (s *Postgres) GetBatches(ctx context.Context, batchIDs []id.BatchID) ([]*ledger.CreditBatch, error) {
	out := make([]*ledger.CreditBatch, 0, len(batchIDs))
	for _, batchID := range batchIDs {
		b, err := s.GetBatch(ctx, batchID)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

func (s *Postgres) RetireBatches(ctx context.Context, batchIDs []id.BatchID, reason string, at time.Time) error {
	run := func(ctx context.Context, q querier) error {
		for _, batchID := range batchIDs {
			res, err := q.ExecContext(ctx, `
				UPDATE credit_batches
				SET retired = true, retirement_reason = $2, retired_at = $3
				WHERE id = $1 AND retired = false
			`, uuid.UUID(batchID), reason, at)
			if err != nil {
				return fmt.Errorf("retire batch: %w", err)
			}
			if n, _ := res.RowsAffected(); n == 0 {
				return sentinel.ErrInvalidState
			}
		}
		return nil
	}

	// Reuse an ambient transaction when present, otherwise open one so the
	// set retires all-or-nothing.
	if tx, ok := txcontext.From(ctx); ok {
		return run(ctx, tx)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin retire tx: %w", err)
	}
	if err := run(ctx, tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *Postgres) SetBatchHolder(ctx context.Context, batchID id.BatchID, holder id.ActorID) error {
	res, err := s.q(ctx).ExecContext(ctx,
		`UPDATE credit_batches SET holder_id = $2 WHERE id = $1`,
		uuid.UUID(batchID), uuid.UUID(holder))
	if err != nil {
		return fmt.Errorf("set batch holder: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *Postgres) ListBatchesByProducer(ctx context.Context, producerID id.ProducerID) ([]*ledger.CreditBatch, error) {
	rows, err := s.q(ctx).QueryContext(ctx,
		`SELECT `+batchColumns+` FROM credit_batches WHERE producer_id = $1 ORDER BY issued_at`,
		uuid.UUID(producerID))
	if err != nil {
		return nil, fmt.Errorf("list batches: %w", err)
	}
	defer rows.Close()

	var out []*ledger.CreditBatch
	for rows.Next() {
		b, err := scanBatch(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *Postgres) GetBalance(ctx context.Context, actor id.ActorID) (*ledger.Balance, error) {
	var bal ledger.Balance
	var actorID uuid.UUID
	err := s.q(ctx).QueryRowContext(ctx,
		`SELECT actor_id, spendable, escrowed, updated_at FROM balances WHERE actor_id = $1`,
		uuid.UUID(actor)).Scan(&actorID, &bal.Spendable, &bal.Escrowed, &bal.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return &ledger.Balance{Actor: actor}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan balance: %w", err)
	}
	bal.Actor = id.ActorID(actorID)
	return &bal, nil
}

func (s *Postgres) ApplyBalance(ctx context.Context, actor id.ActorID, spendableDelta, escrowedDelta int64, at time.Time) error {
	// The WHERE clause enforces non-negativity; zero rows means the delta
	// would overdraw.
	const query = `
		INSERT INTO balances (actor_id, spendable, escrowed, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (actor_id) DO UPDATE
		SET spendable = balances.spendable + $2,
		    escrowed = balances.escrowed + $3,
		    updated_at = $4
		WHERE balances.spendable + $2 >= 0 AND balances.escrowed + $3 >= 0
	`
	if spendableDelta < 0 || escrowedDelta < 0 {
		// Inserting a fresh row with a negative side is an overdraw too.
		bal, err := s.GetBalance(ctx, actor)
		if err != nil {
			return err
		}
		if bal.Spendable+spendableDelta < 0 || bal.Escrowed+escrowedDelta < 0 {
			return sentinel.ErrInvalidState
		}
	}
	res, err := s.q(ctx).ExecContext(ctx, query,
		uuid.UUID(actor), spendableDelta, escrowedDelta, at)
	if err != nil {
		return fmt.Errorf("apply balance: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sentinel.ErrInvalidState
	}
	return nil
}

func (s *Postgres) AppendRetirement(ctx context.Context, r *ledger.RetirementRecord) error {
	ids := make([]string, len(r.Batches))
	for i, batchID := range r.Batches {
		ids[i] = batchID.String()
	}
	const query = `
		INSERT INTO retirement_records (id, holder_id, batch_ids, amount, reason, retired_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := s.q(ctx).ExecContext(ctx, query,
		uuid.UUID(r.ID), uuid.UUID(r.Holder), strings.Join(ids, ","), r.Amount, r.Reason, r.RetiredAt)
	if err != nil {
		return fmt.Errorf("insert retirement: %w", err)
	}
	return nil
}

func (s *Postgres) ListRetirements(ctx context.Context) ([]*ledger.RetirementRecord, error) {
	rows, err := s.q(ctx).QueryContext(ctx,
		`SELECT id, holder_id, batch_ids, amount, reason, retired_at FROM retirement_records ORDER BY retired_at`)
	if err != nil {
		return nil, fmt.Errorf("list retirements: %w", err)
	}
	defer rows.Close()

	var out []*ledger.RetirementRecord
	for rows.Next() {
		var (
			r           ledger.RetirementRecord
			rid, holder uuid.UUID
			joined      string
		)
		if err := rows.Scan(&rid, &holder, &joined, &r.Amount, &r.Reason, &r.RetiredAt); err != nil {
			return nil, fmt.Errorf("scan retirement: %w", err)
		}
		r.ID = id.SettlementID(rid)
		r.Holder = id.ActorID(holder)
		for part := range strings.SplitSeq(joined, ",") {
			batchID, err := id.ParseBatchID(part)
			if err != nil {
				return nil, fmt.Errorf("parse retirement batch id: %w", err)
			}
			r.Batches = append(r.Batches, batchID)
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}
