package delivery

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-procurement/internal/shared"
)

// ValidationError points at the delivery input field that was rejected.
type ValidationError struct {
	Name   string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("delivery: %s %s", e.Name, e.Reason)
}

func (e *ValidationError) Field() string { return e.Name }
func (e *ValidationError) Unwrap() error { return shared.ErrValidation }

// QuantityExceedsError reports a delivered quantity above what is outstanding.
type QuantityExceedsError struct {
	OrderLineID int64
	Requested   decimal.Decimal
	Outstanding decimal.Decimal
}

func (e *QuantityExceedsError) Error() string {
	return fmt.Sprintf("delivery: order line %d quantity %s exceeds outstanding %s", e.OrderLineID, e.Requested, e.Outstanding)
}

func (e *QuantityExceedsError) Field() string { return "quantity" }
func (e *QuantityExceedsError) Unwrap() error { return shared.ErrValidation }

// ReturnExceedsDeliveredError reports a return larger than what is left to
// return on a delivery item.
type ReturnExceedsDeliveredError struct {
	DeliveryItemID int64
	Requested      decimal.Decimal
	Available      decimal.Decimal
}

func (e *ReturnExceedsDeliveredError) Error() string {
	return fmt.Sprintf("delivery: return of %s exceeds %s still returnable on delivery item %d", e.Requested, e.Available, e.DeliveryItemID)
}

func (e *ReturnExceedsDeliveredError) Field() string { return "quantity" }
func (e *ReturnExceedsDeliveredError) Unwrap() error { return shared.ErrValidation }

// ReworkScopeError reports a rework service the original delivery never had.
type ReworkScopeError struct {
	DeliveryID        int64
	DeliveryServiceID int64
}

func (e *ReworkScopeError) Error() string {
	return fmt.Sprintf("delivery: service line %d is not part of delivery %d", e.DeliveryServiceID, e.DeliveryID)
}

func (e *ReworkScopeError) Field() string { return "services" }
func (e *ReworkScopeError) Unwrap() error { return shared.ErrValidation }

// UnknownKindError reports a delivery without items or services.
type UnknownKindError struct {
	DeliveryID int64
}

func (e *UnknownKindError) Error() string {
	return fmt.Sprintf("delivery: delivery %d has neither items nor services", e.DeliveryID)
}

func (e *UnknownKindError) Field() string { return "items" }
func (e *UnknownKindError) Unwrap() error { return shared.ErrValidation }

// StateError reports an action the current status does not allow.
type StateError struct {
	Entity string
	ID     int64
	Status string
	Action string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("delivery: cannot %s %s %d in status %s", e.Action, e.Entity, e.ID, e.Status)
}

func (e *StateError) Unwrap() error { return shared.ErrInvalidState }

// NotFoundError reports a missing delivery record.
type NotFoundError struct {
	Entity string
	ID     int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("delivery: %s %d not found", e.Entity, e.ID)
}

func (e *NotFoundError) Unwrap() error { return shared.ErrNotFound }
