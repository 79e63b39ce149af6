package delivery

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-procurement/internal/platform/httpx"
)

// Handler exposes delivery endpoints.
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

type itemRequest struct {
	OrderLineID int64           `json:"order_line_id" validate:"required,gt=0"`
	Quantity    decimal.Decimal `json:"quantity"`
}

type serviceRequest struct {
	OrderLineID int64           `json:"order_line_id" validate:"required,gt=0"`
	Hours       decimal.Decimal `json:"hours"`
}

type recordDeliveryRequest struct {
	OrderID         int64            `json:"order_id" validate:"required,gt=0"`
	ExpectedVersion int64            `json:"expected_version" validate:"gte=0"`
	Kind            string           `json:"kind" validate:"omitempty,oneof=ItemPurchase ServiceDelivery ItemReturn ServiceRework"`
	ReceiptNo       string           `json:"receipt_no" validate:"max=64"`
	DeliveryDate    *time.Time       `json:"delivery_date"`
	Status          string           `json:"status" validate:"omitempty,oneof=Pending InTransit Received"`
	Items           []itemRequest    `json:"items" validate:"dive"`
	Services        []serviceRequest `json:"services" validate:"dive"`
	Notes           string           `json:"notes"`
}

type returnItemRequest struct {
	DeliveryItemID int64           `json:"delivery_item_id" validate:"required,gt=0"`
	Quantity       decimal.Decimal `json:"quantity"`
}

type returnRequest struct {
	ReturnNo   string              `json:"return_no" validate:"max=64"`
	Reason     string              `json:"reason" validate:"required"`
	ReturnedAt *time.Time          `json:"returned_at"`
	Items      []returnItemRequest `json:"items" validate:"required,min=1,dive"`
}

type reworkServiceRequest struct {
	DeliveryServiceID int64           `json:"delivery_service_id" validate:"required,gt=0"`
	Hours             decimal.Decimal `json:"hours"`
}

type reworkRequest struct {
	ReworkNo    string                 `json:"rework_no" validate:"max=64"`
	Reason      string                 `json:"reason" validate:"required"`
	ScheduledAt *time.Time             `json:"scheduled_at"`
	Services    []reworkServiceRequest `json:"services" validate:"required,min=1,dive"`
}

// Record handles POST /.
func (h *Handler) Record(w http.ResponseWriter, r *http.Request) {
	var req recordDeliveryRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	input := RecordDeliveryInput{
		OrderID:         req.OrderID,
		ExpectedVersion: req.ExpectedVersion,
		Kind:            Kind(req.Kind),
		ReceiptNo:       req.ReceiptNo,
		Status:          Status(req.Status),
		Notes:           req.Notes,
		ActorID:         httpx.ActorID(r),
	}
	if req.DeliveryDate != nil {
		input.DeliveryDate = *req.DeliveryDate
	}
	for _, item := range req.Items {
		input.Items = append(input.Items, ItemInput{OrderLineID: item.OrderLineID, Quantity: item.Quantity})
	}
	for _, svc := range req.Services {
		input.Services = append(input.Services, ServiceInput{OrderLineID: svc.OrderLineID, Hours: svc.Hours})
	}
	d, err := h.service.RecordDelivery(r.Context(), input)
	if err != nil {
		h.fail(w, "record delivery", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, d)
}

// Show handles GET /{id}.
func (h *Handler) Show(w http.ResponseWriter, r *http.Request) {
	id, ok := httpx.PathID(w, r, "id")
	if !ok {
		return
	}
	view, err := h.service.GetDelivery(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, view)
}

// Ship handles POST /{id}/ship.
func (h *Handler) Ship(w http.ResponseWriter, r *http.Request) {
	h.move(w, r, "mark delivery in transit", h.service.MarkInTransit)
}

// Receive handles POST /{id}/receive.
func (h *Handler) Receive(w http.ResponseWriter, r *http.Request) {
	h.move(w, r, "confirm receipt", h.service.ConfirmReceipt)
}

// Cancel handles POST /{id}/cancel.
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.move(w, r, "cancel delivery", h.service.CancelDelivery)
}

func (h *Handler) move(w http.ResponseWriter, r *http.Request, op string, fn func(context.Context, int64, int64) (Delivery, error)) {
	id, ok := httpx.PathID(w, r, "id")
	if !ok {
		return
	}
	d, err := fn(r.Context(), id, httpx.ActorID(r))
	if err != nil {
		h.fail(w, op, err)
		return
	}
	httpx.JSON(w, http.StatusOK, d)
}

// Return handles POST /{id}/returns.
func (h *Handler) Return(w http.ResponseWriter, r *http.Request) {
	id, ok := httpx.PathID(w, r, "id")
	if !ok {
		return
	}
	var req returnRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	input := RecordReturnInput{DeliveryID: id, ReturnNo: req.ReturnNo, Reason: req.Reason, ActorID: httpx.ActorID(r)}
	if req.ReturnedAt != nil {
		input.ReturnedAt = *req.ReturnedAt
	}
	for _, item := range req.Items {
		input.Items = append(input.Items, ReturnItemInput{DeliveryItemID: item.DeliveryItemID, Quantity: item.Quantity})
	}
	ret, err := h.service.RecordReturn(r.Context(), input)
	if err != nil {
		h.fail(w, "record return", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, ret)
}

// Rework handles POST /{id}/reworks.
func (h *Handler) Rework(w http.ResponseWriter, r *http.Request) {
	id, ok := httpx.PathID(w, r, "id")
	if !ok {
		return
	}
	var req reworkRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	input := RecordReworkInput{DeliveryID: id, ReworkNo: req.ReworkNo, Reason: req.Reason, ActorID: httpx.ActorID(r)}
	if req.ScheduledAt != nil {
		input.ScheduledAt = *req.ScheduledAt
	}
	for _, svc := range req.Services {
		input.Services = append(input.Services, ReworkServiceInput{DeliveryServiceID: svc.DeliveryServiceID, Hours: svc.Hours})
	}
	rw, err := h.service.RecordRework(r.Context(), input)
	if err != nil {
		h.fail(w, "record rework", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, rw)
}

// Receipts handles GET /orders/{orderID}/receipts.
func (h *Handler) Receipts(w http.ResponseWriter, r *http.Request) {
	orderID, ok := httpx.PathID(w, r, "orderID")
	if !ok {
		return
	}
	lines, err := h.service.NetReceived(r.Context(), orderID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": lines})
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	h.logger.Warn(op+" failed", slog.Any("error", err))
	httpx.RespondError(w, err)
}
