package suppliers

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-procurement/internal/masterdata/catalog"
	"github.com/odyssey-erp/odyssey-procurement/internal/masterdata/shared"
	"github.com/odyssey-erp/odyssey-procurement/internal/platform/httpx"
	internalShared "github.com/odyssey-erp/odyssey-procurement/internal/shared"
)

type Handler struct {
	logger  *slog.Logger
	service *Service
}

func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

type supplierRequest struct {
	Code               string   `json:"code" validate:"required,max=32"`
	Name               string   `json:"name" validate:"required,max=255"`
	Address            string   `json:"address"`
	Email              string   `json:"email" validate:"omitempty,email"`
	Phone              string   `json:"phone"`
	AllowsCash         bool     `json:"allows_cash"`
	AllowsDisbursement bool     `json:"allows_disbursement"`
	AllowsStoreCredit  bool     `json:"allows_store_credit"`
	Coverage           []string `json:"coverage"`
}

func (req supplierRequest) toSupplier() (Supplier, error) {
	sup := Supplier{
		Code:               req.Code,
		Name:               req.Name,
		Address:            req.Address,
		Email:              req.Email,
		Phone:              req.Phone,
		AllowsCash:         req.AllowsCash,
		AllowsDisbursement: req.AllowsDisbursement,
		AllowsStoreCredit:  req.AllowsStoreCredit,
	}
	for _, raw := range req.Coverage {
		ref, err := catalog.ParseRef(raw)
		if err != nil {
			return Supplier{}, err
		}
		sup.Coverage = append(sup.Coverage, ref)
	}
	return sup, nil
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = shared.DefaultPage
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit < 1 {
		limit = shared.DefaultLimit
	}

	filters := shared.ListFilters{
		Page:    page,
		Limit:   limit,
		Search:  r.URL.Query().Get("search"),
		SortBy:  r.URL.Query().Get("sort"),
		SortDir: r.URL.Query().Get("dir"),
	}

	suppliers, total, err := h.service.List(r.Context(), filters)
	if err != nil {
		h.logger.Error("list suppliers failed", "error", err)
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"data":       suppliers,
		"pagination": internalShared.NewPagination(page, limit, total),
	})
}

func (h *Handler) Show(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	supplier, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, supplier)
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req supplierRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	supplier, err := req.toSupplier()
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	created, err := h.service.Create(r.Context(), supplier)
	if err != nil {
		h.logger.Warn("create supplier failed", "error", err)
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, created)
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	var req supplierRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	supplier, err := req.toSupplier()
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.Update(r.Context(), id, supplier); err != nil {
		h.logger.Warn("update supplier failed", "error", err, "id", id)
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	if err := h.service.Delete(r.Context(), id); err != nil {
		h.logger.Warn("delete supplier failed", "error", err, "id", id)
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) parseID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid supplier ID")
		return 0, false
	}
	return id, true
}
