// Package db provides shared database interfaces and transaction helpers.
package db

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Querier is the query subset shared by connection pools and transactions.
// Both *pgxpool.Pool and pgx.Tx satisfy it, so store code can run the same
// statements inside or outside a transaction.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Pool is the connection pool surface used across the engine.
// pgxmock's pool implements it, which keeps store tests hermetic.
type Pool interface {
	Querier
	Begin(ctx context.Context) (pgx.Tx, error)
}
