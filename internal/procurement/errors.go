package procurement

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-procurement/internal/shared"
)

// ValidationError points at an input field that cannot be accepted.
type ValidationError struct {
	Name   string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("procurement: %s %s", e.Name, e.Reason)
}

func (e *ValidationError) Field() string { return e.Name }
func (e *ValidationError) Unwrap() error { return shared.ErrValidation }

// TypeMismatchError reports a requisition whose order type differs from the
// order it is being merged into.
type TypeMismatchError struct {
	RequisitionID int64
	Expected      OrderType
	Actual        OrderType
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("procurement: requisition %d is %s, order expects %s", e.RequisitionID, e.Actual, e.Expected)
}

func (e *TypeMismatchError) Field() string { return "requisition_ids" }
func (e *TypeMismatchError) Unwrap() error { return shared.ErrValidation }

// BelowBaselineError reports a quantity lower than the requisitioned amount.
type BelowBaselineError struct {
	LineID    int64
	Baseline  decimal.Decimal
	Requested decimal.Decimal
}

func (e *BelowBaselineError) Error() string {
	return fmt.Sprintf("procurement: line %d quantity %s is below baseline %s", e.LineID, e.Requested, e.Baseline)
}

func (e *BelowBaselineError) Field() string { return "quantity" }
func (e *BelowBaselineError) Unwrap() error { return shared.ErrValidation }

// EmptySelectionError reports an order without any selected line.
type EmptySelectionError struct {
	OrderID int64
}

func (e *EmptySelectionError) Error() string {
	return fmt.Sprintf("procurement: order %d has no selected lines", e.OrderID)
}

func (e *EmptySelectionError) Field() string { return "lines" }
func (e *EmptySelectionError) Unwrap() error { return shared.ErrValidation }

// PaymentIncompatibleError reports a payment type the supplier does not accept.
type PaymentIncompatibleError struct {
	SupplierID  int64
	PaymentType PaymentType
	Allowed     []PaymentType
}

func (e *PaymentIncompatibleError) Error() string {
	return fmt.Sprintf("procurement: supplier %d does not accept %s payment (allowed %v)", e.SupplierID, e.PaymentType, e.Allowed)
}

func (e *PaymentIncompatibleError) Field() string { return "payment_type" }
func (e *PaymentIncompatibleError) Unwrap() error { return shared.ErrValidation }

// LastRequisitionError reports an attempt to detach the only requisition.
type LastRequisitionError struct {
	OrderID       int64
	RequisitionID int64
}

func (e *LastRequisitionError) Error() string {
	return fmt.Sprintf("procurement: requisition %d is the last one on order %d", e.RequisitionID, e.OrderID)
}

func (e *LastRequisitionError) Field() string { return "requisition_id" }
func (e *LastRequisitionError) Unwrap() error { return shared.ErrValidation }

// NotEditableError reports an edit outside pending_approval.
type NotEditableError struct {
	OrderID int64
	Status  Status
}

func (e *NotEditableError) Error() string {
	return fmt.Sprintf("procurement: order %d is not editable in status %s", e.OrderID, e.Status)
}

func (e *NotEditableError) Unwrap() error { return shared.ErrInvalidState }

// NotSubmittedError reports an order leaving pending_approval without a
// current submission.
type NotSubmittedError struct {
	OrderID int64
	To      Status
}

func (e *NotSubmittedError) Error() string {
	return fmt.Sprintf("procurement: order %d must be submitted for approval before moving to %s", e.OrderID, e.To)
}

func (e *NotSubmittedError) Unwrap() error { return shared.ErrInvalidState }

// IllegalTransitionError reports a status pair outside the lifecycle table.
type IllegalTransitionError struct {
	From Status
	To   Status
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("procurement: illegal transition %s -> %s", e.From, e.To)
}

func (e *IllegalTransitionError) Unwrap() error { return shared.ErrInvalidState }

// RequisitionStateError reports a requisition action out of workflow order.
type RequisitionStateError struct {
	RequisitionID int64
	Status        RequisitionStatus
	Action        string
}

func (e *RequisitionStateError) Error() string {
	return fmt.Sprintf("procurement: cannot %s requisition %d in status %s", e.Action, e.RequisitionID, e.Status)
}

func (e *RequisitionStateError) Unwrap() error { return shared.ErrInvalidState }

// ConflictError reports a stale write or a uniqueness violation.
type ConflictError struct {
	Entity string
	ID     int64
	Reason string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("procurement: %s %d conflict: %s", e.Entity, e.ID, e.Reason)
}

func (e *ConflictError) Unwrap() error { return shared.ErrConflict }

// NotFoundError reports a missing requisition, order or supplier.
type NotFoundError struct {
	Entity string
	ID     int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("procurement: %s %d not found", e.Entity, e.ID)
}

func (e *NotFoundError) Unwrap() error { return shared.ErrNotFound }
