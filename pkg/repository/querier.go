// Package repository holds the database access shared by the repository packages.
package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Querier is satisfied by connections, pools and transactions, so repository
// functions can take part in a caller's transaction.
//
//nolint:lll // ok for interface
type Querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// TxStarter opens transactions, see RunInTx.
type TxStarter interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

var (
	_ Querier   = (*pgx.Conn)(nil)
	_ Querier   = (*pgxpool.Pool)(nil)
	_ Querier   = pgx.Tx(nil)
	_ TxStarter = (*pgxpool.Pool)(nil)
	_ TxStarter = pgx.Tx(nil)
)

// RunInTx calls fn within a transaction which is committed if fn returns nil.
func RunInTx(ctx context.Context, db TxStarter, fn func(q Querier) error) error {
	return pgx.BeginFunc(ctx, db, func(tx pgx.Tx) error {
		return fn(tx)
	})
}
