package procurement

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-procurement/internal/masterdata/catalog"
	"github.com/odyssey-erp/odyssey-procurement/internal/masterdata/suppliers"
	"github.com/odyssey-erp/odyssey-procurement/internal/shared"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetRequisition(ctx context.Context, id int64) (Requisition, error)
	GetOrder(ctx context.Context, id int64) (PurchaseOrder, error)
	ListOrders(ctx context.Context, filters ListFilters) ([]PurchaseOrder, int, error)
	ListOrderIDs(ctx context.Context, afterID int64, limit int) ([]int64, error)
}

// SupplierDirectory resolves suppliers for selection and ranking.
type SupplierDirectory interface {
	Get(ctx context.Context, id int64) (suppliers.Supplier, error)
	Covering(ctx context.Context, refs []catalog.Ref) ([]suppliers.Supplier, error)
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// ApprovalPort records and reads approval history of requisitions and orders.
type ApprovalPort interface {
	Record(ctx context.Context, log shared.ApprovalLog) error
	EnsureSubmit(ctx context.Context, module string, ref uuid.UUID, actorID int64, note string) error
	List(ctx context.Context, module string, ref uuid.UUID) ([]shared.ApprovalLog, error)
}

// ListFilters narrows order listings.
type ListFilters struct {
	Status     Status
	SupplierID int64
	Search     string
	Limit      int
	Offset     int
}

// Service orchestrates procurement flows.
type Service struct {
	repo      RepositoryPort
	suppliers SupplierDirectory
	catalog   catalog.Lookup
	rankings  *RankingCache
	approvals ApprovalPort
	audit     AuditPort
	listener  StatusListener
	logger    *slog.Logger
	now       func() time.Time
}

// NewService constructs procurement service.
func NewService(repo RepositoryPort, directory SupplierDirectory, lookup catalog.Lookup, rankings *RankingCache, approvals ApprovalPort, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if rankings == nil {
		rankings = NewRankingCache(nil, 0)
	}
	return &Service{
		repo:      repo,
		suppliers: directory,
		catalog:   lookup,
		rankings:  rankings,
		approvals: approvals,
		audit:     audit,
		logger:    logger,
		now:       time.Now,
	}
}

// WithStatusListener registers a listener for committed transitions.
func (s *Service) WithStatusListener(l StatusListener) *Service {
	s.listener = l
	return s
}

// CreateRequisitionInput describes creation payload.
type CreateRequisitionInput struct {
	Number      string
	OrderType   OrderType
	RequestorID int64
	Priority    Priority
	Note        string
	Lines       []RequisitionLineInput
}

// RequisitionLineInput describes a requested catalog entry. UnitPrice falls
// back to the catalog price when nil.
type RequisitionLineInput struct {
	Ref       catalog.Ref
	Quantity  decimal.Decimal
	UnitPrice *decimal.Decimal
}

// CreateOrderInput commits approved requisitions into a new order.
type CreateOrderInput struct {
	ReferenceNo    string
	RequisitionIDs []int64
	SupplierID     *int64
	PaymentType    *PaymentType
	Remarks        string
	ActorID        int64
}

// OrderRequisitionInput attaches or detaches a requisition.
type OrderRequisitionInput struct {
	OrderID         int64
	RequisitionID   int64
	ExpectedVersion int64
	ActorID         int64
}

// SetSupplierInput chooses or clears the supplier.
type SetSupplierInput struct {
	OrderID         int64
	SupplierID      *int64
	ExpectedVersion int64
	ActorID         int64
}

// SetPaymentTypeInput chooses or clears the payment type.
type SetPaymentTypeInput struct {
	OrderID         int64
	PaymentType     *PaymentType
	ExpectedVersion int64
	ActorID         int64
}

// UpdateQuantityInput raises a line quantity.
type UpdateQuantityInput struct {
	OrderID         int64
	LineID          int64
	Quantity        decimal.Decimal
	ExpectedVersion int64
	ActorID         int64
}

// ToggleSelectionInput includes or excludes a line from the order.
type ToggleSelectionInput struct {
	OrderID         int64
	LineID          int64
	Selected        bool
	ExpectedVersion int64
	ActorID         int64
}

// SubmitInput requests approval of an order.
type SubmitInput struct {
	OrderID         int64
	ExpectedVersion int64
	ActorID         int64
}

// TransitionInput moves an order to another status.
type TransitionInput struct {
	OrderID         int64
	To              Status
	ExpectedVersion int64
	ActorID         int64
	Note            string
}

// RefreshReport summarises a totals refresh run.
type RefreshReport struct {
	Scanned  int `json:"scanned"`
	Repaired int `json:"repaired"`
}

// CreateRequisition persists a draft requisition and its lines.
func (s *Service) CreateRequisition(ctx context.Context, input CreateRequisitionInput) (Requisition, error) {
	if !input.OrderType.IsValid() {
		return Requisition{}, &ValidationError{Name: "order_type", Reason: fmt.Sprintf("unknown order type %q", input.OrderType)}
	}
	if input.Priority == "" {
		input.Priority = PriorityNormal
	}
	if !input.Priority.IsValid() {
		return Requisition{}, &ValidationError{Name: "priority", Reason: fmt.Sprintf("unknown priority %q", input.Priority)}
	}
	if len(input.Lines) == 0 {
		return Requisition{}, &ValidationError{Name: "lines", Reason: "minimal 1 line"}
	}
	req := Requisition{
		Number:      defaultString(input.Number, generateNumber("REQ")),
		Status:      RequisitionDraft,
		OrderType:   input.OrderType,
		RequestorID: input.RequestorID,
		Priority:    input.Priority,
		Note:        input.Note,
	}
	kind := input.OrderType.CatalogKind()
	for i, in := range input.Lines {
		if in.Ref.Kind != kind {
			return Requisition{}, &ValidationError{Name: fmt.Sprintf("lines[%d].ref", i), Reason: fmt.Sprintf("must be a %s for %s requisitions", kind, input.OrderType)}
		}
		if !in.Quantity.IsPositive() {
			return Requisition{}, &ValidationError{Name: fmt.Sprintf("lines[%d].quantity", i), Reason: "must be positive"}
		}
		line := RequisitionLine{Ref: in.Ref, RequestedQty: in.Quantity}
		if s.catalog != nil {
			entry, err := catalog.Resolve(ctx, s.catalog, in.Ref)
			if err != nil {
				return Requisition{}, err
			}
			line.UnitPrice = entry.Price
			line.CategoryID = entry.CategoryID
		}
		if in.UnitPrice != nil {
			if in.UnitPrice.IsNegative() {
				return Requisition{}, &ValidationError{Name: fmt.Sprintf("lines[%d].unit_price", i), Reason: "must not be negative"}
			}
			line.UnitPrice = *in.UnitPrice
		}
		req.Lines = append(req.Lines, line)
	}
	var created Requisition
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		created, err = tx.CreateRequisition(ctx, req)
		return err
	})
	if err != nil {
		return Requisition{}, err
	}
	s.recordAudit(ctx, input.RequestorID, "REQUISITION_CREATE", "requisition", created.ID, map[string]any{"number": created.Number, "lines": len(created.Lines)})
	return created, nil
}

// SubmitRequisition moves a draft requisition to Submitted.
func (s *Service) SubmitRequisition(ctx context.Context, id, actorID int64) (Requisition, error) {
	return s.moveRequisition(ctx, id, actorID, RequisitionDraft, RequisitionSubmitted, "submit")
}

// ApproveRequisition approves a submitted requisition so it can be ordered.
func (s *Service) ApproveRequisition(ctx context.Context, id, actorID int64) (Requisition, error) {
	return s.moveRequisition(ctx, id, actorID, RequisitionSubmitted, RequisitionApproved, "approve")
}

// RejectRequisition rejects a submitted requisition.
func (s *Service) RejectRequisition(ctx context.Context, id, actorID int64) (Requisition, error) {
	return s.moveRequisition(ctx, id, actorID, RequisitionSubmitted, RequisitionRejected, "reject")
}

func (s *Service) moveRequisition(ctx context.Context, id, actorID int64, from, to RequisitionStatus, action string) (Requisition, error) {
	var req Requisition
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		req, err = tx.LockRequisition(ctx, id)
		if err != nil {
			return err
		}
		if req.Status != from {
			return &RequisitionStateError{RequisitionID: id, Status: req.Status, Action: action}
		}
		if err := tx.UpdateRequisitionStatus(ctx, id, to); err != nil {
			return err
		}
		req.Status = to
		return nil
	})
	if err != nil {
		return Requisition{}, err
	}
	refID := shared.ApprovalRef(shared.ApprovalModuleRequisition, id)
	switch to {
	case RequisitionSubmitted:
		s.recordApproval(ctx, func() error {
			return s.approvals.EnsureSubmit(ctx, shared.ApprovalModuleRequisition, refID, actorID, fmt.Sprintf("Requisition %s submitted", req.Number))
		})
	case RequisitionApproved:
		s.recordApproval(ctx, func() error {
			return s.approvals.Record(ctx, shared.ApprovalLog{Module: shared.ApprovalModuleRequisition, RefID: refID, ActorID: actorID, Action: shared.ApprovalApprove, Note: fmt.Sprintf("Requisition %s approved", req.Number)})
		})
	case RequisitionRejected:
		s.recordApproval(ctx, func() error {
			return s.approvals.Record(ctx, shared.ApprovalLog{Module: shared.ApprovalModuleRequisition, RefID: refID, ActorID: actorID, Action: shared.ApprovalReject, Note: fmt.Sprintf("Requisition %s rejected", req.Number)})
		})
	}
	s.recordAudit(ctx, actorID, "REQUISITION_"+strings.ToUpper(action), "requisition", id, map[string]any{"status": string(to)})
	return req, nil
}

// GetRequisition returns a requisition with its lines.
func (s *Service) GetRequisition(ctx context.Context, id int64) (Requisition, error) {
	return s.repo.GetRequisition(ctx, id)
}

// GetOrder returns an order with a freshly recomputed total.
func (s *Service) GetOrder(ctx context.Context, id int64) (PurchaseOrder, error) {
	po, err := s.repo.GetOrder(ctx, id)
	if err != nil {
		return PurchaseOrder{}, err
	}
	Recompute(&po)
	return po, nil
}

// ListOrders returns order headers.
func (s *Service) ListOrders(ctx context.Context, filters ListFilters) ([]PurchaseOrder, int, error) {
	return s.repo.ListOrders(ctx, filters)
}

// CreateOrder aggregates approved requisitions into a new pending order and
// claims their lines.
func (s *Service) CreateOrder(ctx context.Context, input CreateOrderInput) (PurchaseOrder, error) {
	if len(input.RequisitionIDs) == 0 {
		return PurchaseOrder{}, &ValidationError{Name: "requisition_ids", Reason: "must not be empty"}
	}
	var supplier *suppliers.Supplier
	if input.SupplierID != nil {
		sup, err := s.suppliers.Get(ctx, *input.SupplierID)
		if err != nil {
			return PurchaseOrder{}, err
		}
		supplier = &sup
	}
	if input.PaymentType != nil {
		if err := checkPaymentType(supplier, *input.PaymentType); err != nil {
			return PurchaseOrder{}, err
		}
	}

	var po PurchaseOrder
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		reqs := make([]Requisition, 0, len(input.RequisitionIDs))
		for _, id := range input.RequisitionIDs {
			req, err := tx.LockRequisition(ctx, id)
			if err != nil {
				return err
			}
			reqs = append(reqs, req)
		}
		lines, orderType, err := Aggregate(reqs)
		if err != nil {
			return err
		}
		po = PurchaseOrder{
			ReferenceNo:    defaultString(input.ReferenceNo, generateNumber("PO")),
			OrderType:      orderType,
			Status:         StatusPendingApproval,
			SupplierID:     input.SupplierID,
			PaymentType:    input.PaymentType,
			RequisitionIDs: append([]int64(nil), input.RequisitionIDs...),
			Lines:          lines,
			Remarks:        input.Remarks,
		}
		Recompute(&po)
		if err := tx.CreateOrder(ctx, &po); err != nil {
			return err
		}
		inserted, err := tx.InsertOrderLines(ctx, po.ID, po.Lines)
		if err != nil {
			return err
		}
		po.Lines = inserted
		return tx.ClaimLines(ctx, po.ID, requisitionLineIDs(inserted))
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	s.recordAudit(ctx, input.ActorID, "PO_CREATE", "purchase_order", po.ID, map[string]any{"reference_no": po.ReferenceNo, "requisitions": po.RequisitionIDs, "total_cost": po.TotalCost.String()})
	return po, nil
}

// AddRequisition merges another approved requisition of the same type.
func (s *Service) AddRequisition(ctx context.Context, input OrderRequisitionInput) (PurchaseOrder, error) {
	po, err := s.editOrder(ctx, input.OrderID, input.ExpectedVersion, func(ctx context.Context, tx TxRepository, po *PurchaseOrder) error {
		req, err := tx.LockRequisition(ctx, input.RequisitionID)
		if err != nil {
			return err
		}
		lines, err := Merge(*po, req)
		if err != nil {
			return err
		}
		inserted, err := tx.InsertOrderLines(ctx, po.ID, lines)
		if err != nil {
			return err
		}
		if err := tx.ClaimLines(ctx, po.ID, requisitionLineIDs(inserted)); err != nil {
			return err
		}
		po.RequisitionIDs = append(po.RequisitionIDs, req.ID)
		po.Lines = append(po.Lines, inserted...)
		po.SubmittedAt = nil
		return nil
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	s.recordAudit(ctx, input.ActorID, "PO_ADD_REQUISITION", "purchase_order", po.ID, map[string]any{"requisition_id": input.RequisitionID})
	return po, nil
}

// RemoveRequisition detaches a requisition, dropping its lines and claims.
func (s *Service) RemoveRequisition(ctx context.Context, input OrderRequisitionInput) (PurchaseOrder, error) {
	po, err := s.editOrder(ctx, input.OrderID, input.ExpectedVersion, func(ctx context.Context, tx TxRepository, po *PurchaseOrder) error {
		removed, err := Remove(po, input.RequisitionID)
		if err != nil {
			return err
		}
		if err := tx.DeleteOrderLines(ctx, po.ID, lineIDs(removed)); err != nil {
			return err
		}
		po.SubmittedAt = nil
		return tx.ReleaseLines(ctx, po.ID, requisitionLineIDs(removed))
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	s.recordAudit(ctx, input.ActorID, "PO_REMOVE_REQUISITION", "purchase_order", po.ID, map[string]any{"requisition_id": input.RequisitionID})
	return po, nil
}

// SetSupplier chooses the supplier. A payment type already on the order must
// be accepted by the new supplier.
func (s *Service) SetSupplier(ctx context.Context, input SetSupplierInput) (PurchaseOrder, error) {
	var supplier *suppliers.Supplier
	if input.SupplierID != nil {
		sup, err := s.suppliers.Get(ctx, *input.SupplierID)
		if err != nil {
			return PurchaseOrder{}, err
		}
		supplier = &sup
	}
	po, err := s.editOrder(ctx, input.OrderID, input.ExpectedVersion, func(_ context.Context, _ TxRepository, po *PurchaseOrder) error {
		if supplier != nil && po.PaymentType != nil {
			if err := CheckPayment(*supplier, *po.PaymentType); err != nil {
				return err
			}
		}
		po.SupplierID = input.SupplierID
		return nil
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	s.recordAudit(ctx, input.ActorID, "PO_SET_SUPPLIER", "purchase_order", po.ID, map[string]any{"supplier_id": input.SupplierID})
	return po, nil
}

// SetPaymentType chooses the payment type, gated by the supplier's flags.
func (s *Service) SetPaymentType(ctx context.Context, input SetPaymentTypeInput) (PurchaseOrder, error) {
	po, err := s.editOrder(ctx, input.OrderID, input.ExpectedVersion, func(ctx context.Context, _ TxRepository, po *PurchaseOrder) error {
		if input.PaymentType != nil {
			var supplier *suppliers.Supplier
			if po.SupplierID != nil {
				sup, err := s.suppliers.Get(ctx, *po.SupplierID)
				if err != nil {
					return err
				}
				supplier = &sup
			}
			if err := checkPaymentType(supplier, *input.PaymentType); err != nil {
				return err
			}
		}
		po.PaymentType = input.PaymentType
		return nil
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	s.recordAudit(ctx, input.ActorID, "PO_SET_PAYMENT", "purchase_order", po.ID, map[string]any{"payment_type": paymentTypeArg(input.PaymentType)})
	return po, nil
}

// UpdateLineItemQuantity raises a line quantity; the baseline is a floor.
func (s *Service) UpdateLineItemQuantity(ctx context.Context, input UpdateQuantityInput) (PurchaseOrder, error) {
	po, err := s.editOrder(ctx, input.OrderID, input.ExpectedVersion, func(ctx context.Context, tx TxRepository, po *PurchaseOrder) error {
		line, ok := po.Line(input.LineID)
		if !ok {
			return &NotFoundError{Entity: "order line", ID: input.LineID}
		}
		if err := ValidateQuantity(*line, input.Quantity); err != nil {
			return err
		}
		line.Quantity = input.Quantity
		po.SubmittedAt = nil
		return tx.UpdateOrderLine(ctx, *line)
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	s.recordAudit(ctx, input.ActorID, "PO_UPDATE_QUANTITY", "purchase_order", po.ID, map[string]any{"line_id": input.LineID, "quantity": input.Quantity.String()})
	return po, nil
}

// ToggleLineItemSelection includes or excludes a line. Excluded lines stay on
// the order until submission, and the order has to be submitted again before
// it can be issued.
func (s *Service) ToggleLineItemSelection(ctx context.Context, input ToggleSelectionInput) (PurchaseOrder, error) {
	po, err := s.editOrder(ctx, input.OrderID, input.ExpectedVersion, func(ctx context.Context, tx TxRepository, po *PurchaseOrder) error {
		line, ok := po.Line(input.LineID)
		if !ok {
			return &NotFoundError{Entity: "order line", ID: input.LineID}
		}
		line.Selected = input.Selected
		// changing lines withdraws an earlier submission
		po.SubmittedAt = nil
		return tx.UpdateOrderLine(ctx, *line)
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	s.recordAudit(ctx, input.ActorID, "PO_TOGGLE_LINE", "purchase_order", po.ID, map[string]any{"line_id": input.LineID, "selected": input.Selected})
	return po, nil
}

// SubmitForApproval drops deselected lines, releases their requisition lines
// and records the submission. The order stays pending_approval.
func (s *Service) SubmitForApproval(ctx context.Context, input SubmitInput) (PurchaseOrder, error) {
	po, err := s.editOrder(ctx, input.OrderID, input.ExpectedVersion, func(ctx context.Context, tx TxRepository, po *PurchaseOrder) error {
		var kept, dropped []OrderLine
		for _, l := range po.Lines {
			if l.Selected {
				kept = append(kept, l)
			} else {
				dropped = append(dropped, l)
			}
		}
		if len(kept) == 0 {
			return &EmptySelectionError{OrderID: po.ID}
		}
		if err := tx.DeleteOrderLines(ctx, po.ID, lineIDs(dropped)); err != nil {
			return err
		}
		if err := tx.ReleaseLines(ctx, po.ID, requisitionLineIDs(dropped)); err != nil {
			return err
		}
		now := s.now()
		po.Lines = kept
		po.SubmittedAt = &now
		return nil
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	s.recordApproval(ctx, func() error {
		return s.approvals.EnsureSubmit(ctx, shared.ApprovalModuleOrder, shared.ApprovalRef(shared.ApprovalModuleOrder, po.ID), input.ActorID, fmt.Sprintf("PO %s submitted", po.ReferenceNo))
	})
	s.recordAudit(ctx, input.ActorID, "PO_SUBMIT", "purchase_order", po.ID, map[string]any{"total_cost": po.TotalCost.String(), "lines": len(po.Lines)})
	return po, nil
}

// Transition applies a user-initiated status change.
func (s *Service) Transition(ctx context.Context, input TransitionInput) (PurchaseOrder, error) {
	var po PurchaseOrder
	var from Status
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		po, err = tx.LockOrder(ctx, input.OrderID)
		if err != nil {
			return err
		}
		if err := checkVersion(po, input.ExpectedVersion); err != nil {
			return err
		}
		from = po.Status
		if err := ApplyTransition(&po, input.To, OriginUser, s.now()); err != nil {
			return err
		}
		if ReleasesClaims(input.To) {
			if err := tx.ReleaseOrderClaims(ctx, po.ID); err != nil {
				return err
			}
		}
		Recompute(&po)
		return tx.SaveOrderHeader(ctx, &po)
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	refID := shared.ApprovalRef(shared.ApprovalModuleOrder, po.ID)
	switch input.To {
	case StatusIssued:
		s.recordApproval(ctx, func() error {
			return s.approvals.Record(ctx, shared.ApprovalLog{Module: shared.ApprovalModuleOrder, RefID: refID, ActorID: input.ActorID, Action: shared.ApprovalApprove, Note: defaultString(input.Note, fmt.Sprintf("PO %s issued", po.ReferenceNo))})
		})
	case StatusRejected:
		s.recordApproval(ctx, func() error {
			return s.approvals.Record(ctx, shared.ApprovalLog{Module: shared.ApprovalModuleOrder, RefID: refID, ActorID: input.ActorID, Action: shared.ApprovalReject, Note: defaultString(input.Note, fmt.Sprintf("PO %s rejected", po.ReferenceNo))})
		})
	}
	s.recordAudit(ctx, input.ActorID, "PO_TRANSITION", "purchase_order", po.ID, map[string]any{"from": string(from), "to": string(input.To)})
	s.NotifyTransition(ctx, po, from, OriginUser)
	return po, nil
}

// NotifyTransition publishes a committed transition to the registered listener.
func (s *Service) NotifyTransition(ctx context.Context, po PurchaseOrder, from Status, origin Origin) {
	if s.listener == nil || from == po.Status {
		return
	}
	s.listener.OrderStatusChanged(ctx, StatusChangedEvent{OrderID: po.ID, ReferenceNo: po.ReferenceNo, From: from, To: po.Status, Origin: origin, At: po.UpdatedAt})
}

// OrderApprovals returns the submit, issue and reject steps of an order.
func (s *Service) OrderApprovals(ctx context.Context, orderID int64) ([]shared.ApprovalLog, error) {
	if _, err := s.repo.GetOrder(ctx, orderID); err != nil {
		return nil, err
	}
	return s.approvalHistory(ctx, shared.ApprovalModuleOrder, orderID)
}

// RequisitionApprovals returns the approval steps of a requisition.
func (s *Service) RequisitionApprovals(ctx context.Context, requisitionID int64) ([]shared.ApprovalLog, error) {
	if _, err := s.repo.GetRequisition(ctx, requisitionID); err != nil {
		return nil, err
	}
	return s.approvalHistory(ctx, shared.ApprovalModuleRequisition, requisitionID)
}

func (s *Service) approvalHistory(ctx context.Context, module string, id int64) ([]shared.ApprovalLog, error) {
	if s.approvals == nil {
		return []shared.ApprovalLog{}, nil
	}
	return s.approvals.List(ctx, module, shared.ApprovalRef(module, id))
}

// RankSuppliers ranks suppliers against the catalog refs of an order type.
func (s *Service) RankSuppliers(ctx context.Context, refs []catalog.Ref, orderType OrderType) ([]Ranking, error) {
	if !orderType.IsValid() {
		return nil, &ValidationError{Name: "order_type", Reason: fmt.Sprintf("unknown order type %q", orderType)}
	}
	wanted := DistinctRefs(refs, orderType)
	if len(wanted) == 0 {
		return nil, &ValidationError{Name: "refs", Reason: fmt.Sprintf("must contain at least one %s", orderType.CatalogKind())}
	}
	return s.rankings.Fetch(ctx, orderType, wanted, func(ctx context.Context) ([]Ranking, error) {
		candidates, err := s.suppliers.Covering(ctx, wanted)
		if err != nil {
			return nil, err
		}
		return Rank(wanted, orderType, candidates), nil
	})
}

// RankSuppliersForOrder ranks suppliers against the selected lines of an order.
func (s *Service) RankSuppliersForOrder(ctx context.Context, orderID int64) ([]Ranking, error) {
	po, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	refs := SelectedRefs(po)
	if len(refs) == 0 {
		return nil, &EmptySelectionError{OrderID: orderID}
	}
	return s.RankSuppliers(ctx, refs, po.OrderType)
}

// RefreshTotals recomputes every order total and repairs drifted caches.
func (s *Service) RefreshTotals(ctx context.Context, batchSize int) (RefreshReport, error) {
	if batchSize <= 0 {
		batchSize = 100
	}
	var report RefreshReport
	var after int64
	for {
		ids, err := s.repo.ListOrderIDs(ctx, after, batchSize)
		if err != nil {
			return report, err
		}
		if len(ids) == 0 {
			return report, nil
		}
		for _, id := range ids {
			repaired, err := s.refreshOrderTotal(ctx, id)
			if err != nil {
				return report, fmt.Errorf("procurement: refresh order %d: %w", id, err)
			}
			report.Scanned++
			if repaired {
				report.Repaired++
			}
			after = id
		}
	}
}

func (s *Service) refreshOrderTotal(ctx context.Context, id int64) (bool, error) {
	repaired := false
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		po, err := tx.LockOrder(ctx, id)
		if err != nil {
			return err
		}
		stored := po.TotalCost
		if Recompute(&po).Equal(stored) {
			return nil
		}
		repaired = true
		s.logger.Warn("order total drifted", slog.Int64("order_id", id), slog.String("stored", stored.String()), slog.String("computed", po.TotalCost.String()))
		return tx.SaveOrderHeader(ctx, &po)
	})
	return repaired, err
}

// editOrder locks the order, re-checks version and editability inside the
// transaction, applies fn and persists the recomputed header.
func (s *Service) editOrder(ctx context.Context, orderID, expectedVersion int64, fn func(context.Context, TxRepository, *PurchaseOrder) error) (PurchaseOrder, error) {
	var result PurchaseOrder
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		po, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if err := checkVersion(po, expectedVersion); err != nil {
			return err
		}
		if err := RequireEditable(po); err != nil {
			return err
		}
		if err := fn(ctx, tx, &po); err != nil {
			return err
		}
		Recompute(&po)
		if err := tx.SaveOrderHeader(ctx, &po); err != nil {
			return err
		}
		result = po
		return nil
	})
	return result, err
}

func checkVersion(po PurchaseOrder, expected int64) error {
	if expected != 0 && po.Version != expected {
		return &ConflictError{Entity: "purchase order", ID: po.ID, Reason: fmt.Sprintf("version %d does not match current %d", expected, po.Version)}
	}
	return nil
}

func checkPaymentType(supplier *suppliers.Supplier, pt PaymentType) error {
	if !pt.IsValid() {
		return &ValidationError{Name: "payment_type", Reason: fmt.Sprintf("unknown payment type %q", pt)}
	}
	if supplier == nil {
		return nil
	}
	return CheckPayment(*supplier, pt)
}

func (s *Service) recordApproval(ctx context.Context, fn func() error) {
	if s.approvals == nil {
		return
	}
	if err := fn(); err != nil {
		s.logger.Warn("record approval failed", slog.Any("error", err))
	}
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action, entity string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{ActorID: actorID, Action: action, Entity: entity, EntityID: fmt.Sprintf("%d", entityID), Meta: meta}); err != nil {
		s.logger.Warn("record audit failed", slog.String("action", action), slog.Int64("entity_id", entityID), slog.Any("error", err))
	}
}

func lineIDs(lines []OrderLine) []int64 {
	ids := make([]int64, 0, len(lines))
	for _, l := range lines {
		ids = append(ids, l.ID)
	}
	return ids
}

func requisitionLineIDs(lines []OrderLine) []int64 {
	ids := make([]int64, 0, len(lines))
	for _, l := range lines {
		ids = append(ids, l.RequisitionLineID)
	}
	return ids
}

func generateNumber(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
}

func defaultString(value string, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
