package procurement

import "fmt"

// Aggregate builds the candidate line set of a new order. The first
// requisition fixes the order type; every line is tagged with its origin and
// carries the requested quantity as baseline.
func Aggregate(requisitions []Requisition) ([]OrderLine, OrderType, error) {
	if len(requisitions) == 0 {
		return nil, "", &ValidationError{Name: "requisition_ids", Reason: "must not be empty"}
	}
	orderType := requisitions[0].OrderType
	if !orderType.IsValid() {
		return nil, "", &ValidationError{Name: "order_type", Reason: fmt.Sprintf("unknown order type %q", orderType)}
	}
	seen := make(map[int64]struct{}, len(requisitions))
	var lines []OrderLine
	for _, req := range requisitions {
		if _, dup := seen[req.ID]; dup {
			return nil, "", &ValidationError{Name: "requisition_ids", Reason: fmt.Sprintf("contains requisition %d twice", req.ID)}
		}
		seen[req.ID] = struct{}{}
		admitted, err := admit(orderType, req)
		if err != nil {
			return nil, "", err
		}
		lines = append(lines, admitted...)
	}
	return lines, orderType, nil
}

// Merge returns the lines req contributes to an existing order.
func Merge(po PurchaseOrder, req Requisition) ([]OrderLine, error) {
	if po.HasRequisition(req.ID) {
		return nil, &ValidationError{Name: "requisition_id", Reason: fmt.Sprintf("requisition %d is already on order", req.ID)}
	}
	return admit(po.OrderType, req)
}

// Remove strips every line tagged with requisitionID from the order and
// returns them. The last requisition can never be removed.
func Remove(po *PurchaseOrder, requisitionID int64) ([]OrderLine, error) {
	if !po.HasRequisition(requisitionID) {
		return nil, &NotFoundError{Entity: "order requisition", ID: requisitionID}
	}
	if len(po.RequisitionIDs) == 1 {
		return nil, &LastRequisitionError{OrderID: po.ID, RequisitionID: requisitionID}
	}
	ids := po.RequisitionIDs[:0:0]
	for _, id := range po.RequisitionIDs {
		if id != requisitionID {
			ids = append(ids, id)
		}
	}
	var kept, removed []OrderLine
	for _, l := range po.Lines {
		if l.RequisitionID == requisitionID {
			removed = append(removed, l)
			continue
		}
		kept = append(kept, l)
	}
	po.RequisitionIDs = ids
	po.Lines = kept
	return removed, nil
}

func admit(orderType OrderType, req Requisition) ([]OrderLine, error) {
	if req.Status != RequisitionApproved {
		return nil, &ValidationError{Name: "requisition_ids", Reason: fmt.Sprintf("requisition %d is %s, not Approved", req.ID, req.Status)}
	}
	if req.OrderType != orderType {
		return nil, &TypeMismatchError{RequisitionID: req.ID, Expected: orderType, Actual: req.OrderType}
	}
	if len(req.Lines) == 0 {
		return nil, &ValidationError{Name: "requisition_ids", Reason: fmt.Sprintf("requisition %d has no lines", req.ID)}
	}
	lines := make([]OrderLine, 0, len(req.Lines))
	for _, l := range req.Lines {
		lines = append(lines, OrderLine{
			RequisitionID:     req.ID,
			RequisitionLineID: l.ID,
			Ref:               l.Ref,
			Baseline:          l.RequestedQty,
			Quantity:          l.RequestedQty,
			UnitPrice:         l.UnitPrice,
			Selected:          true,
		})
	}
	return lines, nil
}
