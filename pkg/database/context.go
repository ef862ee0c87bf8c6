package database

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Querier is the subset of pgx operations repositories need. Both
// *pgxpool.Pool and pgx.Tx satisfy it, so a repository runs against the pool
// by default and against an open transaction when the caller put one in
// context.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type contextKey string

const querierKey contextKey = "querier"

// WithQuerier stores a querier (typically an open pgx.Tx) in the context.
// Every repository call made with the returned context executes against it,
// which is how the access gate makes the grant, the protected operation's
// writes, and the debit a single all-or-nothing unit.
func WithQuerier(ctx context.Context, q Querier) context.Context {
	return context.WithValue(ctx, querierKey, q)
}

// QuerierFrom returns the querier from context, falling back to the pool.
func QuerierFrom(ctx context.Context, db *DB) Querier {
	if q, ok := ctx.Value(querierKey).(Querier); ok && q != nil {
		return q
	}
	return db.Pool
}

// InAmbientTx runs fn inside the context's existing transaction when one is
// present, and inside a fresh one otherwise. Used by writes that want local
// atomicity but must join an enclosing gate transaction instead of opening a
// second, independently committing one.
func InAmbientTx(ctx context.Context, db *DB, fn func(ctx context.Context) error) error {
	if q, ok := ctx.Value(querierKey).(Querier); ok && q != nil {
		return fn(ctx)
	}
	return InTx(ctx, db, fn)
}

// InTx begins a transaction on the pool, stores it in the context, runs fn,
// and commits on a nil return. Any error rolls the whole transaction back.
func InTx(ctx context.Context, db *DB, fn func(ctx context.Context) error) error {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return err
	}

	txCtx := WithQuerier(ctx, tx)
	if err := fn(txCtx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}

	return tx.Commit(ctx)
}
