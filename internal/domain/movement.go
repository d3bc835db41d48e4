package domain

import (
	"time"
)

// Movement is one immutable change to a stock record. Quantity is the
// magnitude that was requested, not the difference between the balances.
type Movement struct {
	ID               string    `json:"id"`
	StoreID          string    `json:"storeId"`
	VariantID        string    `json:"variantId"`
	Operation        Operation `json:"operation"`
	Quantity         int       `json:"quantity"`
	PreviousQuantity int       `json:"previousQuantity"`
	NewQuantity      int       `json:"newQuantity"`
	Reason           string    `json:"reason"`
	Notes            string    `json:"notes"`
	Actor            Actor     `json:"actor"`
	CreatedAt        time.Time `json:"createdAt"`
}

// Delta is the signed change the movement made to the balance.
func (m *Movement) Delta() int {
	return m.NewQuantity - m.PreviousQuantity
}

// MovementEntry is a movement with display data for reports. Display fields
// are nil when the referenced row has no match.
type MovementEntry struct {
	Movement
	VariantSKU  *string `json:"variantSku,omitempty"`
	VariantName *string `json:"variantName,omitempty"`
	StoreName   *string `json:"storeName,omitempty"`
	ActorName   *string `json:"actorName,omitempty"`
	ActorEmail  *string `json:"actorEmail,omitempty"`
}

// DateRange bounds a movement query by creation time. From is inclusive and
// To is exclusive; either may be nil.
type DateRange struct {
	From *time.Time
	To   *time.Time
}

// Page selects a window of a newest-first listing.
type Page struct {
	Limit  int
	Offset int
}
