package domain

import (
	"fmt"

	apperrors "github.com/shoecom/stockledger/pkg/errors"
)

// InsufficientStockError is returned when a decrement would take a balance
// below zero.
type InsufficientStockError struct {
	VariantID string
	Available int
	Requested int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for variant %s: requested %d, available %d",
		e.VariantID, e.Requested, e.Available)
}

// Is lets errors.Is match the shared insufficient-stock sentinel.
func (e *InsufficientStockError) Is(target error) bool {
	return target == apperrors.ErrInsufficientStock
}

// QuantityLimitError is returned when an operation would leave a balance
// above MaxQuantity.
type QuantityLimitError struct {
	VariantID string
	Current   int
	Requested int
}

func (e *QuantityLimitError) Error() string {
	return fmt.Sprintf("stock for variant %s would exceed %d: requested %d, current %d",
		e.VariantID, MaxQuantity, e.Requested, e.Current)
}

func (e *QuantityLimitError) Is(target error) bool {
	return target == apperrors.ErrInvalidInput
}
