package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/odyssey-pos/odyssey-pos/internal/shared"
)

// SQLSTATE codes Postgres raises when a concurrent writer wins.
const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
)

// TxStarter begins transactions. *pgxpool.Pool satisfies it.
type TxStarter interface {
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

type txKey struct{}

// ContextWithTx returns a context carrying tx. WithTx calls made with it
// join tx instead of opening their own.
func ContextWithTx(ctx context.Context, tx pgx.Tx) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

// TxFromContext returns the transaction carried by ctx.
func TxFromContext(ctx context.Context) (pgx.Tx, bool) {
	tx, ok := ctx.Value(txKey{}).(pgx.Tx)
	return tx, ok && tx != nil
}

// WithTx executes a function within a transaction using the RepeatableRead isolation level.
// When ctx already carries a transaction the function joins it and the
// outermost caller commits.
func WithTx(ctx context.Context, pool TxStarter, fn func(pgx.Tx) error) error {
	if tx, ok := TxFromContext(ctx); ok {
		return TranslateError(fn(tx))
	}

	tx, err := pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return fmt.Errorf("platform/db: begin tx: %w", err)
	}

	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(tx); err != nil {
		return TranslateError(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return TranslateError(fmt.Errorf("platform/db: commit tx: %w", err))
	}

	return nil
}

// Atomic runs fn in one transaction carried by the context it receives, so
// repositories called from fn write through the same transaction.
func Atomic(ctx context.Context, pool TxStarter, fn func(context.Context) error) error {
	if _, ok := TxFromContext(ctx); ok {
		return TranslateError(fn(ctx))
	}
	return WithTx(ctx, pool, func(tx pgx.Tx) error {
		return fn(ContextWithTx(ctx, tx))
	})
}

// TranslateError maps serialization failures and deadlocks to
// shared.ErrConflict. Other errors are returned unchanged.
func TranslateError(err error) error {
	if err == nil || shared.IsConflict(err) {
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeSerializationFailure, codeDeadlockDetected:
			return fmt.Errorf("%w: concurrent update (sqlstate %s): %w", shared.ErrConflict, pgErr.Code, err)
		}
	}
	return err
}

// TxRunner runs callbacks atomically over a pool.
type TxRunner struct {
	pool TxStarter
}

// NewTxRunner constructs TxRunner.
func NewTxRunner(pool TxStarter) *TxRunner {
	return &TxRunner{pool: pool}
}

// InTx runs fn inside one transaction carried by ctx.
func (r *TxRunner) InTx(ctx context.Context, fn func(context.Context) error) error {
	return Atomic(ctx, r.pool, fn)
}
