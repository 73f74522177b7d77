package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"h2ledger/internal/verification"
	id "h2ledger/pkg/domain"
	"h2ledger/pkg/platform/sentinel"
	txcontext "h2ledger/pkg/platform/tx"
)

// Postgres implements Store over database/sql, joining a context-carried
// transaction when one is present.
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

func (s *Postgres) Create(ctx context.Context, sub *verification.Submission) error {
	const query = `
		INSERT INTO submissions (id, producer_id, content_hash, amount, claimed_at, submitted_at, status, evidence_ref)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := s.q(ctx).ExecContext(ctx, query,
		uuid.UUID(sub.ID), uuid.UUID(sub.Producer), sub.ContentHash, sub.Amount,
		sub.ClaimedAt, sub.SubmittedAt, string(sub.Status), sub.EvidenceRef)
	if err != nil && strings.Contains(err.Error(), "23505") {
		return sentinel.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("insert submission: %w", err)
	}
	return nil
}

const submissionColumns = `id, producer_id, content_hash, amount, claimed_at, submitted_at, status, verifier_id, notes, resolved_at, evidence_ref`

func scanSubmission(scan func(...any) error) (*verification.Submission, error) {
	var (
		sub        verification.Submission
		sid, prod  uuid.UUID
		status     string
		verifier   uuid.NullUUID
		notes      sql.NullString
		resolvedAt sql.NullTime
	)
	err := scan(&sid, &prod, &sub.ContentHash, &sub.Amount, &sub.ClaimedAt,
		&sub.SubmittedAt, &status, &verifier, &notes, &resolvedAt, &sub.EvidenceRef)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan submission: %w", err)
	}
	sub.ID = id.SubmissionID(sid)
	sub.Producer = id.ProducerID(prod)
	sub.Status = verification.Status(status)
	if verifier.Valid {
		v := id.ActorID(verifier.UUID)
		sub.Verifier = &v
	}
	if notes.Valid {
		sub.Notes = notes.String
	}
	if resolvedAt.Valid {
		at := resolvedAt.Time
		sub.ResolvedAt = &at
	}
	return &sub, nil
}

func (s *Postgres) Get(ctx context.Context, submissionID id.SubmissionID) (*verification.Submission, error) {
	row := s.q(ctx).QueryRowContext(ctx,
		`SELECT `+submissionColumns+` FROM submissions WHERE id = $1`, uuid.UUID(submissionID))
	return scanSubmission(row.Scan)
}

func (s *Postgres) Update(ctx context.Context, sub *verification.Submission) error {
	var verifier any
	if sub.Verifier != nil {
		verifier = uuid.UUID(*sub.Verifier)
	}
	var resolvedAt any
	if sub.ResolvedAt != nil {
		resolvedAt = *sub.ResolvedAt
	}
	const query = `
		UPDATE submissions
		SET status = $2, verifier_id = $3, notes = $4, resolved_at = $5
		WHERE id = $1
	`
	res, err := s.q(ctx).ExecContext(ctx, query,
		uuid.UUID(sub.ID), string(sub.Status), verifier, sub.Notes, resolvedAt)
	if err != nil {
		return fmt.Errorf("update submission: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *Postgres) SumVerifiedInMonth(ctx context.Context, producerID id.ProducerID, monthKey string) (int64, error) {
	// claimed_at is stored in UTC; bucket by its calendar month.
	const query = `
		SELECT COALESCE(SUM(amount), 0)
		FROM submissions
		WHERE producer_id = $1
		  AND status = 'verified'
		  AND to_char(claimed_at AT TIME ZONE 'UTC', 'YYYY-MM') = $2
	`
	var sum int64
	if err := s.q(ctx).QueryRowContext(ctx, query, uuid.UUID(producerID), monthKey).Scan(&sum); err != nil {
		return 0, fmt.Errorf("sum verified in month: %w", err)
	}
	return sum, nil
}

func (s *Postgres) ListPendingBefore(ctx context.Context, cutoff time.Time) ([]*verification.Submission, error) {
	rows, err := s.q(ctx).QueryContext(ctx,
		`SELECT `+submissionColumns+` FROM submissions WHERE status = 'pending' AND submitted_at <= $1 ORDER BY submitted_at`,
		cutoff)
	if err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}
	defer rows.Close()
	return collect(rows)
}

func (s *Postgres) ListByProducer(ctx context.Context, producerID id.ProducerID) ([]*verification.Submission, error) {
	rows, err := s.q(ctx).QueryContext(ctx,
		`SELECT `+submissionColumns+` FROM submissions WHERE producer_id = $1 ORDER BY submitted_at`,
		uuid.UUID(producerID))
	if err != nil {
		return nil, fmt.Errorf("list by producer: %w", err)
	}
	defer rows.Close()
	return collect(rows)
}

func collect(rows *sql.Rows) ([]*verification.Submission, error) {
	var out []*verification.Submission
	for rows.Next() {
		sub, err := scanSubmission(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}
