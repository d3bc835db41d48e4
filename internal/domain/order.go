package domain

import (
	"time"
)

// StockState tracks what an order has done to stock.
type StockState string

const (
	StockStateNone     StockState = "NONE"
	StockStateReserved StockState = "RESERVED"
	StockStateRestored StockState = "RESTORED"
)

// CanTransition reports whether an order may move from one stock state to
// another. The only path is NONE -> RESERVED -> RESTORED.
func CanTransition(from, to StockState) bool {
	switch from {
	case StockStateNone:
		return to == StockStateReserved
	case StockStateReserved:
		return to == StockStateRestored
	}
	return false
}

// Order is the part of an order the ledger reads and writes.
type Order struct {
	ID         string      `json:"id"`
	CustomerID string      `json:"customerId"`
	StoreID    string      `json:"storeId"`
	StockState StockState  `json:"stockState"`
	Reason     string      `json:"reason,omitempty"`
	Items      []OrderItem `json:"items"`
	CreatedAt  time.Time   `json:"createdAt"`
	UpdatedAt  time.Time   `json:"updatedAt"`
}

// OrderItem is one line of an order.
type OrderItem struct {
	ID        string `json:"id"`
	VariantID string `json:"variantId"`
	Quantity  int    `json:"quantity"`
}

// Order restore reasons recorded on movements and the order row.
const (
	ReasonOrderPlaced   = "order_placed"
	ReasonOrderCanceled = "order_canceled"
	ReasonOrderReturned = "order_returned"
	ReasonOrderRefunded = "order_refunded"
)

// StockChange is one line of a batch update.
type StockChange struct {
	VariantID string
	Quantity  int
	Operation Operation
}

// RequestedByVariant sums line quantities per variant, for availability checks
// where an order lists the same variant twice.
func RequestedByVariant(items []OrderItem) map[string]int {
	out := make(map[string]int, len(items))
	for _, it := range items {
		out[it.VariantID] += it.Quantity
	}
	return out
}
