package domain

import (
	"fmt"
	"time"
)

// StockStatus classifies a stock record for storefront display.
type StockStatus string

const (
	StatusInStock    StockStatus = "IN_STOCK"
	StatusLimited    StockStatus = "LIMITED"
	StatusOutOfStock StockStatus = "OUT_OF_STOCK"
)

// LimitedStockThreshold is the highest quantity still classified as LIMITED.
const LimitedStockThreshold = 10

// StockRecord is the current balance of one variant in one store.
type StockRecord struct {
	StoreID   string      `json:"storeId"`
	VariantID string      `json:"variantId"`
	Quantity  int         `json:"quantity"`
	Status    StockStatus `json:"status"`
	CreatedAt time.Time   `json:"createdAt"`
	UpdatedAt time.Time   `json:"updatedAt"`
}

// EmptyRecord is the balance of a pair that has never been written.
func EmptyRecord(storeID, variantID string) *StockRecord {
	return &StockRecord{
		StoreID:   storeID,
		VariantID: variantID,
		Status:    StatusOutOfStock,
	}
}

// IsLow reports whether the record should raise a low-stock signal.
func (r *StockRecord) IsLow() bool {
	return r.Status != StatusInStock
}

// DeriveStatus maps a quantity to its status: 0 is OUT_OF_STOCK, up to
// LimitedStockThreshold is LIMITED, anything above is IN_STOCK.
func DeriveStatus(quantity int) StockStatus {
	switch {
	case quantity <= 0:
		return StatusOutOfStock
	case quantity <= LimitedStockThreshold:
		return StatusLimited
	default:
		return StatusInStock
	}
}

// ResolveStatus returns the override when one is given, except that a zero
// quantity is always OUT_OF_STOCK.
func ResolveStatus(quantity int, override *StockStatus) StockStatus {
	if quantity == 0 || override == nil {
		return DeriveStatus(quantity)
	}
	return *override
}

// ParseStockStatus validates a status string. An empty string yields nil (no override).
func ParseStockStatus(s string) (*StockStatus, error) {
	if s == "" {
		return nil, nil
	}
	st := StockStatus(s)
	switch st {
	case StatusInStock, StatusLimited, StatusOutOfStock:
		return &st, nil
	}
	return nil, fmt.Errorf("unknown stock status %q", s)
}

// ValidStockStatuses returns every stock status.
func ValidStockStatuses() []StockStatus {
	return []StockStatus{StatusInStock, StatusLimited, StatusOutOfStock}
}
