package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/shoecom/stockledger/internal/repository"
	"github.com/shoecom/stockledger/pkg/database"
)

// TxRunner implements repository.TxRunner with READ COMMITTED transactions.
// Consistency for concurrent writers comes from the row locks the
// repositories take, not from the isolation level.
type TxRunner struct {
	pool database.Pool
}

// NewTxRunner creates a transaction runner over pool.
func NewTxRunner(pool database.Pool) *TxRunner {
	return &TxRunner{pool: pool}
}

// WithinTx runs fn with repositories bound to a new transaction.
func (t *TxRunner) WithinTx(ctx context.Context, fn func(ctx context.Context, repos repository.Repositories) error) error {
	tx, err := t.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(ctx, NewRepositories(tx)); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// NewRepositories binds every repository to db.
func NewRepositories(db database.DBTX) repository.Repositories {
	return repository.Repositories{
		Stock:       NewStockRepository(db),
		Movements:   NewMovementRepository(db),
		Adjustments: NewAdjustmentRepository(db),
		Orders:      NewOrderRepository(db),
	}
}
