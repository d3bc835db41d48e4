package service

import (
	"context"

	"github.com/shoecom/stockledger/internal/domain"
)

// EventPublisher announces committed stock changes. Publish failures are
// logged by the caller and never undo a commit.
type EventPublisher interface {
	PublishStockUpdated(ctx context.Context, rec *domain.StockRecord, m *domain.Movement) error
	PublishLowStock(ctx context.Context, rec *domain.StockRecord) error
	PublishStockAdjusted(ctx context.Context, a *domain.Adjustment, movements []domain.Movement) error
	PublishOrderStockReserved(ctx context.Context, o *domain.Order) error
	PublishOrderStockRestored(ctx context.Context, o *domain.Order) error
}

// StockCache caches single stock records for reads.
type StockCache interface {
	Get(ctx context.Context, storeID, variantID string) (*domain.StockRecord, bool, error)
	Set(ctx context.Context, rec *domain.StockRecord) error
	Invalidate(ctx context.Context, records ...*domain.StockRecord) error
}
