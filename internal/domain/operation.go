package domain

import (
	"fmt"
	"math"
)

// MaxQuantity is the largest balance a stock record can hold. The column is a
// 32-bit integer.
const MaxQuantity = math.MaxInt32

// Operation is how a requested quantity is applied to a balance.
type Operation string

const (
	OpIncrement Operation = "increment"
	OpDecrement Operation = "decrement"
	OpSet       Operation = "set"
)

// ParseOperation validates an operation name. An empty string defaults to increment.
func ParseOperation(s string) (Operation, bool) {
	switch op := Operation(s); op {
	case "":
		return OpIncrement, true
	case OpIncrement, OpDecrement, OpSet:
		return op, true
	}
	return "", false
}

// ValidateQuantity checks the requested magnitude for op. increment and
// decrement need at least one unit; set accepts zero. No operation may ask
// for more than MaxQuantity.
func ValidateQuantity(op Operation, quantity int) error {
	if quantity > MaxQuantity {
		return fmt.Errorf("must be less than or equal to %d", MaxQuantity)
	}
	if op == OpSet {
		if quantity < 0 {
			return fmt.Errorf("must be greater than or equal to 0")
		}
		return nil
	}
	if quantity < 1 {
		return fmt.Errorf("must be greater than or equal to 1")
	}
	return nil
}

// ApplyOperation computes the balance that results from applying op with the
// requested quantity to previous. It has no side effects; a decrement below
// zero returns *InsufficientStockError and a result above MaxQuantity returns
// *QuantityLimitError.
func ApplyOperation(variantID string, previous int, op Operation, quantity int) (int, error) {
	switch op {
	case OpIncrement:
		if quantity > MaxQuantity-previous {
			return previous, &QuantityLimitError{VariantID: variantID, Current: previous, Requested: quantity}
		}
		return previous + quantity, nil
	case OpDecrement:
		next := previous - quantity
		if next < 0 {
			return previous, &InsufficientStockError{
				VariantID: variantID,
				Available: previous,
				Requested: quantity,
			}
		}
		return next, nil
	case OpSet:
		if quantity > MaxQuantity {
			return previous, &QuantityLimitError{VariantID: variantID, Current: previous, Requested: quantity}
		}
		return quantity, nil
	}
	return previous, fmt.Errorf("unsupported operation %q", op)
}

// UpdateMessage is the human-readable summary returned after a single update,
// e.g. "Stock increased by 6 to 10".
func UpdateMessage(op Operation, quantity, newQuantity int) string {
	switch op {
	case OpIncrement:
		return fmt.Sprintf("Stock increased by %d to %d", quantity, newQuantity)
	case OpDecrement:
		return fmt.Sprintf("Stock decreased by %d to %d", quantity, newQuantity)
	default:
		return fmt.Sprintf("Stock set to %d", newQuantity)
	}
}
