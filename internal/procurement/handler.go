package procurement

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-procurement/internal/masterdata/catalog"
	"github.com/odyssey-erp/odyssey-procurement/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-procurement/internal/shared"
)

// Handler manages procurement endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers procurement routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/requisitions", h.createRequisition)
	r.Get("/requisitions/{id}", h.getRequisition)
	r.Post("/requisitions/{id}/submit", h.submitRequisition)
	r.Post("/requisitions/{id}/approve", h.approveRequisition)
	r.Post("/requisitions/{id}/reject", h.rejectRequisition)
	r.Get("/requisitions/{id}/approvals", h.requisitionApprovals)

	r.Get("/orders", h.listOrders)
	r.Post("/orders", h.createOrder)
	r.Get("/orders/{id}", h.getOrder)
	r.Post("/orders/{id}/requisitions", h.addRequisition)
	r.Delete("/orders/{id}/requisitions/{requisitionID}", h.removeRequisition)
	r.Put("/orders/{id}/supplier", h.setSupplier)
	r.Put("/orders/{id}/payment-type", h.setPaymentType)
	r.Put("/orders/{id}/lines/{lineID}/quantity", h.updateQuantity)
	r.Put("/orders/{id}/lines/{lineID}/selection", h.toggleSelection)
	r.Post("/orders/{id}/submit", h.submitOrder)
	r.Post("/orders/{id}/transitions", h.transition)
	r.Get("/orders/{id}/supplier-rankings", h.rankForOrder)
	r.Get("/orders/{id}/approvals", h.orderApprovals)

	r.Post("/supplier-rankings", h.rankSuppliers)
}

type requisitionLineRequest struct {
	Ref       string           `json:"ref" validate:"required"`
	Quantity  decimal.Decimal  `json:"quantity"`
	UnitPrice *decimal.Decimal `json:"unit_price"`
}

type createRequisitionRequest struct {
	Number    string                   `json:"number" validate:"max=64"`
	OrderType string                   `json:"order_type" validate:"required,oneof=items services"`
	Priority  string                   `json:"priority" validate:"omitempty,oneof=low normal high urgent"`
	Note      string                   `json:"note"`
	Lines     []requisitionLineRequest `json:"lines" validate:"required,min=1,dive"`
}

type createOrderRequest struct {
	ReferenceNo    string  `json:"reference_no" validate:"max=64"`
	RequisitionIDs []int64 `json:"requisition_ids" validate:"required,min=1,dive,gt=0"`
	SupplierID     *int64  `json:"supplier_id" validate:"omitempty,gt=0"`
	PaymentType    *string `json:"payment_type" validate:"omitempty,oneof=cash disbursement store_credit"`
	Remarks        string  `json:"remarks"`
}

type versioned struct {
	ExpectedVersion int64 `json:"expected_version" validate:"gte=0"`
}

type addRequisitionRequest struct {
	versioned
	RequisitionID int64 `json:"requisition_id" validate:"required,gt=0"`
}

type setSupplierRequest struct {
	versioned
	SupplierID *int64 `json:"supplier_id" validate:"omitempty,gt=0"`
}

type setPaymentTypeRequest struct {
	versioned
	PaymentType *string `json:"payment_type" validate:"omitempty,oneof=cash disbursement store_credit"`
}

type quantityRequest struct {
	versioned
	Quantity decimal.Decimal `json:"quantity"`
}

type selectionRequest struct {
	versioned
	Selected bool `json:"selected"`
}

type transitionRequest struct {
	versioned
	To   string `json:"to" validate:"required"`
	Note string `json:"note"`
}

type rankRequest struct {
	OrderType string   `json:"order_type" validate:"required,oneof=items services"`
	Refs      []string `json:"refs" validate:"required,min=1"`
}

type orderResponse struct {
	PurchaseOrder
	Merged bool `json:"merged"`
}

func newOrderResponse(po PurchaseOrder) orderResponse {
	return orderResponse{PurchaseOrder: po, Merged: po.Merged()}
}

func (h *Handler) createRequisition(w http.ResponseWriter, r *http.Request) {
	var req createRequisitionRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	input := CreateRequisitionInput{
		Number:      req.Number,
		OrderType:   OrderType(req.OrderType),
		RequestorID: httpx.ActorID(r),
		Priority:    Priority(req.Priority),
		Note:        req.Note,
	}
	for _, l := range req.Lines {
		ref, err := catalog.ParseRef(l.Ref)
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		input.Lines = append(input.Lines, RequisitionLineInput{Ref: ref, Quantity: l.Quantity, UnitPrice: l.UnitPrice})
	}
	created, err := h.service.CreateRequisition(r.Context(), input)
	if err != nil {
		h.fail(w, "create requisition", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, created)
}

func (h *Handler) getRequisition(w http.ResponseWriter, r *http.Request) {
	id, ok := httpx.PathID(w, r, "id")
	if !ok {
		return
	}
	req, err := h.service.GetRequisition(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, req)
}

func (h *Handler) submitRequisition(w http.ResponseWriter, r *http.Request) {
	h.moveRequisition(w, r, "submit requisition", h.service.SubmitRequisition)
}

func (h *Handler) approveRequisition(w http.ResponseWriter, r *http.Request) {
	h.moveRequisition(w, r, "approve requisition", h.service.ApproveRequisition)
}

func (h *Handler) rejectRequisition(w http.ResponseWriter, r *http.Request) {
	h.moveRequisition(w, r, "reject requisition", h.service.RejectRequisition)
}

func (h *Handler) moveRequisition(w http.ResponseWriter, r *http.Request, op string, fn func(ctx context.Context, id, actorID int64) (Requisition, error)) {
	id, ok := httpx.PathID(w, r, "id")
	if !ok {
		return
	}
	req, err := fn(r.Context(), id, httpx.ActorID(r))
	if err != nil {
		h.fail(w, op, err)
		return
	}
	httpx.JSON(w, http.StatusOK, req)
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = 20
	}
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	filters := ListFilters{
		Status:     Status(r.URL.Query().Get("status")),
		SupplierID: httpx.QueryInt64(r, "supplier_id"),
		Search:     r.URL.Query().Get("search"),
		Limit:      limit,
		Offset:     offset,
	}
	orders, total, err := h.service.ListOrders(r.Context(), filters)
	if err != nil {
		h.fail(w, "list orders", err)
		return
	}
	data := make([]orderResponse, 0, len(orders))
	for _, po := range orders {
		data = append(data, newOrderResponse(po))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": data, "total": total, "limit": limit, "offset": offset})
}

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	po, err := h.service.CreateOrder(r.Context(), CreateOrderInput{
		ReferenceNo:    req.ReferenceNo,
		RequisitionIDs: req.RequisitionIDs,
		SupplierID:     req.SupplierID,
		PaymentType:    toPaymentType(req.PaymentType),
		Remarks:        req.Remarks,
		ActorID:        httpx.ActorID(r),
	})
	if err != nil {
		h.fail(w, "create order", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, newOrderResponse(po))
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := httpx.PathID(w, r, "id")
	if !ok {
		return
	}
	po, err := h.service.GetOrder(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, newOrderResponse(po))
}

func (h *Handler) orderApprovals(w http.ResponseWriter, r *http.Request) {
	h.approvals(w, r, h.service.OrderApprovals)
}

func (h *Handler) requisitionApprovals(w http.ResponseWriter, r *http.Request) {
	h.approvals(w, r, h.service.RequisitionApprovals)
}

func (h *Handler) approvals(w http.ResponseWriter, r *http.Request, list func(context.Context, int64) ([]shared.ApprovalLog, error)) {
	id, ok := httpx.PathID(w, r, "id")
	if !ok {
		return
	}
	logs, err := list(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": logs})
}

func (h *Handler) addRequisition(w http.ResponseWriter, r *http.Request) {
	id, ok := httpx.PathID(w, r, "id")
	if !ok {
		return
	}
	var req addRequisitionRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	po, err := h.service.AddRequisition(r.Context(), OrderRequisitionInput{OrderID: id, RequisitionID: req.RequisitionID, ExpectedVersion: req.ExpectedVersion, ActorID: httpx.ActorID(r)})
	h.respondOrder(w, "add requisition", po, err)
}

func (h *Handler) removeRequisition(w http.ResponseWriter, r *http.Request) {
	id, ok := httpx.PathID(w, r, "id")
	if !ok {
		return
	}
	reqID, ok := httpx.PathID(w, r, "requisitionID")
	if !ok {
		return
	}
	po, err := h.service.RemoveRequisition(r.Context(), OrderRequisitionInput{OrderID: id, RequisitionID: reqID, ExpectedVersion: httpx.QueryInt64(r, "expected_version"), ActorID: httpx.ActorID(r)})
	h.respondOrder(w, "remove requisition", po, err)
}

func (h *Handler) setSupplier(w http.ResponseWriter, r *http.Request) {
	id, ok := httpx.PathID(w, r, "id")
	if !ok {
		return
	}
	var req setSupplierRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	po, err := h.service.SetSupplier(r.Context(), SetSupplierInput{OrderID: id, SupplierID: req.SupplierID, ExpectedVersion: req.ExpectedVersion, ActorID: httpx.ActorID(r)})
	h.respondOrder(w, "set supplier", po, err)
}

func (h *Handler) setPaymentType(w http.ResponseWriter, r *http.Request) {
	id, ok := httpx.PathID(w, r, "id")
	if !ok {
		return
	}
	var req setPaymentTypeRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	po, err := h.service.SetPaymentType(r.Context(), SetPaymentTypeInput{OrderID: id, PaymentType: toPaymentType(req.PaymentType), ExpectedVersion: req.ExpectedVersion, ActorID: httpx.ActorID(r)})
	h.respondOrder(w, "set payment type", po, err)
}

func (h *Handler) updateQuantity(w http.ResponseWriter, r *http.Request) {
	id, ok := httpx.PathID(w, r, "id")
	if !ok {
		return
	}
	lineID, ok := httpx.PathID(w, r, "lineID")
	if !ok {
		return
	}
	var req quantityRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	po, err := h.service.UpdateLineItemQuantity(r.Context(), UpdateQuantityInput{OrderID: id, LineID: lineID, Quantity: req.Quantity, ExpectedVersion: req.ExpectedVersion, ActorID: httpx.ActorID(r)})
	h.respondOrder(w, "update quantity", po, err)
}

func (h *Handler) toggleSelection(w http.ResponseWriter, r *http.Request) {
	id, ok := httpx.PathID(w, r, "id")
	if !ok {
		return
	}
	lineID, ok := httpx.PathID(w, r, "lineID")
	if !ok {
		return
	}
	var req selectionRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	po, err := h.service.ToggleLineItemSelection(r.Context(), ToggleSelectionInput{OrderID: id, LineID: lineID, Selected: req.Selected, ExpectedVersion: req.ExpectedVersion, ActorID: httpx.ActorID(r)})
	h.respondOrder(w, "toggle selection", po, err)
}

func (h *Handler) submitOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := httpx.PathID(w, r, "id")
	if !ok {
		return
	}
	po, err := h.service.SubmitForApproval(r.Context(), SubmitInput{OrderID: id, ExpectedVersion: httpx.QueryInt64(r, "expected_version"), ActorID: httpx.ActorID(r)})
	h.respondOrder(w, "submit order", po, err)
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request) {
	id, ok := httpx.PathID(w, r, "id")
	if !ok {
		return
	}
	var req transitionRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	po, err := h.service.Transition(r.Context(), TransitionInput{OrderID: id, To: Status(req.To), ExpectedVersion: req.ExpectedVersion, ActorID: httpx.ActorID(r), Note: req.Note})
	h.respondOrder(w, "transition order", po, err)
}

func (h *Handler) rankForOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := httpx.PathID(w, r, "id")
	if !ok {
		return
	}
	rankings, err := h.service.RankSuppliersForOrder(r.Context(), id)
	if err != nil {
		h.fail(w, "rank suppliers", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": rankings})
}

func (h *Handler) rankSuppliers(w http.ResponseWriter, r *http.Request) {
	var req rankRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	refs := make([]catalog.Ref, 0, len(req.Refs))
	for _, raw := range req.Refs {
		ref, err := catalog.ParseRef(raw)
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		refs = append(refs, ref)
	}
	rankings, err := h.service.RankSuppliers(r.Context(), refs, OrderType(req.OrderType))
	if err != nil {
		h.fail(w, "rank suppliers", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": rankings})
}

func (h *Handler) respondOrder(w http.ResponseWriter, op string, po PurchaseOrder, err error) {
	if err != nil {
		h.fail(w, op, err)
		return
	}
	httpx.JSON(w, http.StatusOK, newOrderResponse(po))
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	h.logger.Warn(op+" failed", slog.Any("error", err))
	httpx.RespondError(w, err)
}

func toPaymentType(raw *string) *PaymentType {
	if raw == nil {
		return nil
	}
	pt := PaymentType(*raw)
	return &pt
}
