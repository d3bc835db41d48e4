package repository

import (
	"context"

	"github.com/shoecom/stockledger/internal/domain"
)

// StockRepository reads and writes stock balances.
type StockRepository interface {
	// Get returns the record for a pair, or apperrors.ErrNotFound when it was never written.
	Get(ctx context.Context, storeID, variantID string) (*domain.StockRecord, error)

	// GetMany returns the existing records for the given variants keyed by
	// variant ID. It takes no locks.
	GetMany(ctx context.Context, storeID string, variantIDs []string) (map[string]*domain.StockRecord, error)

	// LockForUpdate creates the pair at quantity 0 if needed and returns it
	// locked for the rest of the transaction.
	LockForUpdate(ctx context.Context, storeID, variantID string) (*domain.StockRecord, error)

	// Upsert writes quantity and status for a pair and returns the stored row.
	Upsert(ctx context.Context, record *domain.StockRecord) (*domain.StockRecord, error)

	// ListByStore pages through a store's records, optionally filtered by status.
	ListByStore(ctx context.Context, storeID string, status *domain.StockStatus, page domain.Page) ([]domain.StockRecord, int, error)
}

// MovementRepository appends to and queries the movement ledger.
type MovementRepository interface {
	// Append stores an immutable movement.
	Append(ctx context.Context, m *domain.Movement) error

	// ByVariant lists a variant's movements newest first, optionally in one store.
	ByVariant(ctx context.Context, variantID string, storeID *string, page domain.Page) ([]domain.MovementEntry, int, error)

	// ByStore lists a store's movements newest first within an optional date range.
	ByStore(ctx context.Context, storeID string, dr domain.DateRange, page domain.Page) ([]domain.MovementEntry, int, error)

	// ByUser lists the movements a staff user made, newest first.
	ByUser(ctx context.Context, userID string, page domain.Page) ([]domain.MovementEntry, int, error)

	// ByOrder returns an order's movements in the order they were made.
	ByOrder(ctx context.Context, orderID string) ([]domain.Movement, error)

	// ByAdjustment returns an adjustment's movements in the order they were made.
	ByAdjustment(ctx context.Context, adjustmentID string) ([]domain.Movement, error)
}

// AdjustmentRepository stores staff batch headers.
type AdjustmentRepository interface {
	Create(ctx context.Context, a *domain.Adjustment) error
	GetByID(ctx context.Context, id string) (*domain.Adjustment, error)
}

// OrderRepository stores the ledger's view of orders.
type OrderRepository interface {
	// Create inserts the order in state NONE together with its items.
	Create(ctx context.Context, o *domain.Order) error

	// GetByID returns an order with its items.
	GetByID(ctx context.Context, id string) (*domain.Order, error)

	// LockForUpdate returns an order with its items, locked for the rest of the transaction.
	LockForUpdate(ctx context.Context, id string) (*domain.Order, error)

	// SetStockState records a stock state transition and its reason.
	SetStockState(ctx context.Context, id string, state domain.StockState, reason string) error
}

// Repositories is the set of repositories bound to one transaction.
type Repositories struct {
	Stock       StockRepository
	Movements   MovementRepository
	Adjustments AdjustmentRepository
	Orders      OrderRepository
}

// TxRunner runs fn in one database transaction. The transaction commits when
// fn returns nil and rolls back otherwise.
type TxRunner interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, repos Repositories) error) error
}
