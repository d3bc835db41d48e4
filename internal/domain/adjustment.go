package domain

import (
	"time"
)

// AdjustmentType categorizes a staff batch.
type AdjustmentType string

const (
	AdjustmentRestock    AdjustmentType = "RESTOCK"
	AdjustmentDamage     AdjustmentType = "DAMAGE"
	AdjustmentLoss       AdjustmentType = "LOSS"
	AdjustmentCorrection AdjustmentType = "CORRECTION"
	AdjustmentReturn     AdjustmentType = "RETURN"
)

// ParseAdjustmentType validates an adjustment type.
func ParseAdjustmentType(s string) (AdjustmentType, bool) {
	switch t := AdjustmentType(s); t {
	case AdjustmentRestock, AdjustmentDamage, AdjustmentLoss, AdjustmentCorrection, AdjustmentReturn:
		return t, true
	}
	return "", false
}

// DefaultAdjustmentType picks the type for a staff change when the caller did
// not name one. Single increments are restocks; everything else is a correction.
func DefaultAdjustmentType(op Operation, single bool) AdjustmentType {
	if single && op == OpIncrement {
		return AdjustmentRestock
	}
	return AdjustmentCorrection
}

// Adjustment groups the movements of one staff-initiated batch.
type Adjustment struct {
	ID             string         `json:"id"`
	UserID         string         `json:"userId"`
	StoreID        string         `json:"storeId"`
	AdjustmentType AdjustmentType `json:"adjustmentType"`
	Reason         string         `json:"reason"`
	Notes          string         `json:"notes"`
	CreatedAt      time.Time      `json:"createdAt"`
}

// AdjustmentDetail is an adjustment with the movements it owns.
type AdjustmentDetail struct {
	Adjustment
	Movements []Movement `json:"movements"`
}
