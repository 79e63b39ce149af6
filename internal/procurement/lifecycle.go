package procurement

import "time"

// Origin separates user requests from transitions driven by deliveries.
type Origin int

const (
	OriginUser Origin = iota
	OriginSystem
)

func (o Origin) String() string {
	if o == OriginSystem {
		return "system"
	}
	return "user"
}

var transitions = map[Status][]Status{
	StatusPendingApproval:    {StatusMerged, StatusIssued, StatusRejected},
	StatusMerged:             {StatusIssued, StatusRejected},
	StatusIssued:             {StatusDelivered, StatusPartiallyDelivered, StatusRejected},
	StatusDelivered:          {StatusReceived},
	StatusPartiallyDelivered: {StatusReceived},
}

// systemTargets can only be reached through delivery recording.
var systemTargets = map[Status]bool{
	StatusDelivered:          true,
	StatusPartiallyDelivered: true,
	StatusReceived:           true,
}

// CanTransition reports whether from -> to is in the lifecycle table.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsEditable reports whether the order still accepts edits.
func IsEditable(po PurchaseOrder) bool {
	return po.Status == StatusPendingApproval
}

// RequireEditable fails with NotEditableError outside pending_approval.
func RequireEditable(po PurchaseOrder) error {
	if !IsEditable(po) {
		return &NotEditableError{OrderID: po.ID, Status: po.Status}
	}
	return nil
}

// ApplyTransition moves the order to the target status and stamps the
// matching timestamp. Users may not produce delivery statuses.
func ApplyTransition(po *PurchaseOrder, to Status, origin Origin, now time.Time) error {
	from := po.Status
	if !CanTransition(from, to) {
		return &IllegalTransitionError{From: from, To: to}
	}
	if origin == OriginUser && systemTargets[to] {
		return &IllegalTransitionError{From: from, To: to}
	}
	switch to {
	case StatusMerged:
		if len(po.RequisitionIDs) < 2 {
			return &ValidationError{Name: "requisition_ids", Reason: "merged orders need at least two requisitions"}
		}
		if err := requireSubmitted(po, to); err != nil {
			return err
		}
	case StatusIssued:
		if po.SupplierID == nil {
			return &ValidationError{Name: "supplier_id", Reason: "is required before issuing"}
		}
		if po.PaymentType == nil {
			return &ValidationError{Name: "payment_type", Reason: "is required before issuing"}
		}
		if len(po.SelectedLines()) == 0 {
			return &EmptySelectionError{OrderID: po.ID}
		}
		if err := requireSubmitted(po, to); err != nil {
			return err
		}
		po.IssuedAt = &now
	case StatusDelivered, StatusPartiallyDelivered:
		po.DeliveredAt = &now
	case StatusReceived:
		po.ReceivedAt = &now
	}
	po.Status = to
	po.UpdatedAt = now
	return nil
}

// requireSubmitted guards the way out of pending_approval. Submission is what
// drops deselected lines, and line edits clear it again.
func requireSubmitted(po *PurchaseOrder, to Status) error {
	if po.Status != StatusPendingApproval {
		return nil
	}
	if po.SubmittedAt == nil {
		return &NotSubmittedError{OrderID: po.ID, To: to}
	}
	for _, l := range po.Lines {
		if !l.Selected {
			return &NotSubmittedError{OrderID: po.ID, To: to}
		}
	}
	return nil
}

// ReleasesClaims reports whether entering status frees requisition lines.
func ReleasesClaims(to Status) bool {
	return !to.IsActive()
}
