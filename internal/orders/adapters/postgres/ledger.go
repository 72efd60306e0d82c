package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/dejobratic/storefront/internal/orders/domain"
	"github.com/dejobratic/storefront/internal/orders/ports"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// DBTX is implemented by both *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Ledger stores orders, payments and stock in PostgreSQL.
type Ledger struct {
	pool *pgxpool.Pool
}

func NewLedger(pool *pgxpool.Pool) *Ledger {
	return &Ledger{pool: pool}
}

func (l *Ledger) Orders() ports.OrderRepository     { return OrderRepository{db: l.pool} }
func (l *Ledger) Payments() ports.PaymentRepository { return PaymentRepository{db: l.pool} }
func (l *Ledger) Products() ports.ProductRepository { return ProductRepository{db: l.pool} }

// WithinTx runs fn in a read-committed transaction. Conditional updates
// take row locks, so concurrent callers racing on the same payment or order
// serialize on those rows. A transaction aborted by deadlock detection or a
// serialization failure is retried, so fn may run more than once.
func (l *Ledger) WithinTx(ctx context.Context, fn func(ctx context.Context, repos ports.Repositories) error) error {
	var err error
	for range txAttempts {
		err = pgx.BeginTxFunc(ctx, l.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
			return fn(ctx, txRepos{tx: tx})
		})
		if !isRetryableTxError(err) {
			return err
		}
	}
	return err
}

const txAttempts = 2

type txRepos struct {
	tx pgx.Tx
}

func (r txRepos) Orders() ports.OrderRepository     { return OrderRepository{db: r.tx} }
func (r txRepos) Payments() ports.PaymentRepository { return PaymentRepository{db: r.tx} }
func (r txRepos) Products() ports.ProductRepository { return ProductRepository{db: r.tx} }

const (
	uniqueViolation      = "23505"
	serializationFailure = "40001"
	deadlockDetected     = "40P01"
)

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func isRetryableTxError(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == serializationFailure || pgErr.Code == deadlockDetected
}

// Money columns are read as text so precision never passes through float64.
func parseMoney(column, value string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse %s %q: %w", column, value, err)
	}
	return d, nil
}

// UpsertStore seeds a store row. The catalog itself is owned elsewhere.
func (l *Ledger) UpsertStore(ctx context.Context, store domain.Store) error {
	return ProductRepository{db: l.pool}.UpsertStore(ctx, store)
}

// UpsertProduct seeds a product row.
func (l *Ledger) UpsertProduct(ctx context.Context, product domain.Product) error {
	return ProductRepository{db: l.pool}.UpsertProduct(ctx, product)
}
