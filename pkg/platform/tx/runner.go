package tx

import (
	"context"
	"database/sql"
	"time"
)

const defaultTxTimeout = 5 * time.Second

// Runner executes fn atomically with respect to the backing store. The
// verification engine uses it to commit "issue batch + mark verified" as one
// unit.
type Runner interface {
	Atomically(ctx context.Context, fn func(ctx context.Context) error) error
}

// NopRunner runs fn directly. Memory stores are internally consistent per
// call, so single-process deployments and unit tests use this.
type NopRunner struct{}

func (NopRunner) Atomically(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// SQLRunner wraps fn in a database/sql transaction carried through context,
// so every store touched inside fn joins the same commit.
type SQLRunner struct {
	DB      *sql.DB
	Timeout time.Duration
}

func (r *SQLRunner) Atomically(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	timeout := r.Timeout
	if timeout == 0 {
		timeout = defaultTxTimeout
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	sqlTx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = sqlTx.Rollback()
	}()

	if err := fn(WithTx(ctx, sqlTx)); err != nil {
		return err
	}
	return sqlTx.Commit()
}
