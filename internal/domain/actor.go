package domain

import (
	"encoding/json"
	"fmt"
)

// ActorType discriminates who caused a movement.
type ActorType string

const (
	ActorStaff    ActorType = "staff"
	ActorCustomer ActorType = "customer"
	ActorNone     ActorType = "none"
)

// Actor is the cause attached to a movement. It is one of StaffActor,
// CustomerActor or NoActor; the unexported method keeps the set closed.
type Actor interface {
	Type() ActorType
	isActor()
}

// StaffActor is a staff user acting through an adjustment.
type StaffActor struct {
	UserID       string `json:"userId"`
	AdjustmentID string `json:"adjustmentId"`
}

// CustomerActor is a customer purchase or return linked to an order.
type CustomerActor struct {
	CustomerID string `json:"customerId"`
	OrderID    string `json:"orderId"`
}

// NoActor marks a movement with no attributable cause.
type NoActor struct{}

func (StaffActor) Type() ActorType    { return ActorStaff }
func (CustomerActor) Type() ActorType { return ActorCustomer }
func (NoActor) Type() ActorType       { return ActorNone }

func (StaffActor) isActor()    {}
func (CustomerActor) isActor() {}
func (NoActor) isActor()       {}

func (a StaffActor) MarshalJSON() ([]byte, error) {
	type alias StaffActor
	return json.Marshal(struct {
		Type ActorType `json:"type"`
		alias
	}{ActorStaff, alias(a)})
}

func (a CustomerActor) MarshalJSON() ([]byte, error) {
	type alias CustomerActor
	return json.Marshal(struct {
		Type ActorType `json:"type"`
		alias
	}{ActorCustomer, alias(a)})
}

func (NoActor) MarshalJSON() ([]byte, error) {
	return []byte(`{"type":"none"}`), nil
}

// ActorColumns is the nullable column form of an Actor as stored in
// stock_movements.
type ActorColumns struct {
	Type         ActorType
	UserID       *string
	AdjustmentID *string
	CustomerID   *string
	OrderID      *string
}

// ColumnsOf flattens an actor for storage. A nil actor is stored as none.
func ColumnsOf(a Actor) ActorColumns {
	switch v := a.(type) {
	case StaffActor:
		return ActorColumns{Type: ActorStaff, UserID: &v.UserID, AdjustmentID: &v.AdjustmentID}
	case CustomerActor:
		return ActorColumns{Type: ActorCustomer, CustomerID: &v.CustomerID, OrderID: &v.OrderID}
	default:
		return ActorColumns{Type: ActorNone}
	}
}

// Actor rebuilds the tagged actor from stored columns, rejecting any shape
// other than the three valid ones.
func (c ActorColumns) Actor() (Actor, error) {
	switch c.Type {
	case ActorStaff:
		if c.UserID == nil || c.AdjustmentID == nil || c.CustomerID != nil || c.OrderID != nil {
			return nil, fmt.Errorf("malformed staff actor")
		}
		return StaffActor{UserID: *c.UserID, AdjustmentID: *c.AdjustmentID}, nil
	case ActorCustomer:
		if c.CustomerID == nil || c.OrderID == nil || c.UserID != nil || c.AdjustmentID != nil {
			return nil, fmt.Errorf("malformed customer actor")
		}
		return CustomerActor{CustomerID: *c.CustomerID, OrderID: *c.OrderID}, nil
	case ActorNone:
		if c.UserID != nil || c.AdjustmentID != nil || c.CustomerID != nil || c.OrderID != nil {
			return nil, fmt.Errorf("malformed empty actor")
		}
		return NoActor{}, nil
	}
	return nil, fmt.Errorf("unknown actor type %q", c.Type)
}
