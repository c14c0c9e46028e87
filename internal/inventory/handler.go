package inventory

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-inventory/internal/observability"
	"github.com/meridian-erp/meridian-inventory/internal/shared"
)

// Handler wires the JSON endpoints of the surrounding application onto the
// ledger service. It adds no semantics of its own.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	metrics  *observability.Metrics
	validate *validator.Validate
}

// NewHandler constructs the inventory handler.
func NewHandler(logger *slog.Logger, service *Service, metrics *observability.Metrics) *Handler {
	return &Handler{
		logger:   logger,
		service:  service,
		metrics:  metrics,
		validate: validator.New(),
	}
}

// MountRoutes registers inventory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/batches", h.handleCreateBatch)
	r.Post("/allocations/preview", h.handlePreview)
	r.Post("/allocations", h.handleAllocate)
	r.Post("/batches/{batchID}/adjust", h.handleAdjust)
	r.Post("/batches/{batchID}/transfer", h.handleTransfer)
	r.Post("/reversals", h.handleReverse)
	r.Get("/materials/{materialID}/summary", h.handleSummary)
	r.Get("/batches/{batchID}/movements", h.handleMovements)
}

type createBatchRequest struct {
	MaterialID      int64           `json:"material_id" validate:"required,gt=0"`
	BatchNo         string          `json:"batch_no"`
	SupplierID      int64           `json:"supplier_id" validate:"required,gt=0"`
	PurchaseOrderID int64           `json:"purchase_order_id"`
	LocationID      int64           `json:"location_id"`
	ReceivedAt      *time.Time      `json:"received_at"`
	Qty             decimal.Decimal `json:"qty"`
	UnitCost        decimal.Decimal `json:"unit_cost"`
	ExpiresAt       *time.Time      `json:"expires_at"`
	Condition       string          `json:"condition"`
	Note            string          `json:"note"`
	RefType         string          `json:"ref_type"`
	RefID           string          `json:"ref_id"`
	ActorID         int64           `json:"actor_id"`
}

type allocateRequest struct {
	MaterialID int64           `json:"material_id" validate:"required,gt=0"`
	LocationID int64           `json:"location_id"`
	Qty        decimal.Decimal `json:"qty"`
	RefType    string          `json:"ref_type"`
	RefID      string          `json:"ref_id"`
	Note       string          `json:"note"`
	ActorID    int64           `json:"actor_id"`
}

type adjustRequest struct {
	Delta   decimal.Decimal `json:"delta"`
	Reason  string          `json:"reason" validate:"required"`
	ActorID int64           `json:"actor_id"`
}

type transferRequest struct {
	Qty          decimal.Decimal `json:"qty"`
	ToLocationID int64           `json:"to_location_id" validate:"required,gt=0"`
	Note         string          `json:"note"`
	ActorID      int64           `json:"actor_id"`
}

type reverseRequest struct {
	RefType string `json:"ref_type" validate:"required"`
	RefID   string `json:"ref_id" validate:"required,uuid"`
	ActorID int64  `json:"actor_id"`
}

func (h *Handler) handleCreateBatch(w http.ResponseWriter, r *http.Request) {
	var req createBatchRequest
	if !h.decode(w, r, &req) {
		return
	}
	input := CreateBatchInput{
		MaterialID:      req.MaterialID,
		BatchNo:         req.BatchNo,
		SupplierID:      req.SupplierID,
		PurchaseOrderID: req.PurchaseOrderID,
		LocationID:      req.LocationID,
		Qty:             req.Qty,
		UnitCost:        req.UnitCost,
		ExpiresAt:       req.ExpiresAt,
		Condition:       req.Condition,
		Note:            req.Note,
		RefType:         req.RefType,
		RefID:           req.RefID,
		ActorID:         req.ActorID,
	}
	if req.ReceivedAt != nil {
		input.ReceivedAt = *req.ReceivedAt
	}
	batch, err := h.service.CreateBatch(r.Context(), input)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respond(w, http.StatusCreated, batch)
}

func (h *Handler) handlePreview(w http.ResponseWriter, r *http.Request) {
	var req allocateRequest
	if !h.decode(w, r, &req) {
		return
	}
	allocation, err := h.service.PreviewAllocation(r.Context(), req.MaterialID, req.Qty, req.LocationID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respond(w, http.StatusOK, allocation)
}

func (h *Handler) handleAllocate(w http.ResponseWriter, r *http.Request) {
	var req allocateRequest
	if !h.decode(w, r, &req) {
		return
	}
	allocation, err := h.service.Allocate(r.Context(), AllocateInput{
		MaterialID: req.MaterialID,
		LocationID: req.LocationID,
		Qty:        req.Qty,
		RefType:    req.RefType,
		RefID:      req.RefID,
		Note:       req.Note,
		ActorID:    req.ActorID,
	})
	if err != nil {
		h.metrics.ObserveAllocation(allocationOutcome(err), 0)
		h.fail(w, r, err)
		return
	}
	qty, _ := allocation.TotalQty().Float64()
	h.metrics.ObserveAllocation("ok", qty)
	h.respond(w, http.StatusCreated, allocation)
}

func (h *Handler) handleAdjust(w http.ResponseWriter, r *http.Request) {
	batchID, ok := h.pathID(w, r, "batchID")
	if !ok {
		return
	}
	var req adjustRequest
	if !h.decode(w, r, &req) {
		return
	}
	batch, err := h.service.Adjust(r.Context(), AdjustInput{
		BatchID: batchID,
		Delta:   req.Delta,
		Reason:  req.Reason,
		ActorID: req.ActorID,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respond(w, http.StatusOK, batch)
}

func (h *Handler) handleTransfer(w http.ResponseWriter, r *http.Request) {
	batchID, ok := h.pathID(w, r, "batchID")
	if !ok {
		return
	}
	var req transferRequest
	if !h.decode(w, r, &req) {
		return
	}
	result, err := h.service.Transfer(r.Context(), TransferInput{
		BatchID:      batchID,
		Qty:          req.Qty,
		ToLocationID: req.ToLocationID,
		Note:         req.Note,
		ActorID:      req.ActorID,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respond(w, http.StatusOK, result)
}

func (h *Handler) handleReverse(w http.ResponseWriter, r *http.Request) {
	var req reverseRequest
	if !h.decode(w, r, &req) {
		return
	}
	lines, err := h.service.Reverse(r.Context(), ReverseInput{
		RefType: req.RefType,
		RefID:   req.RefID,
		ActorID: req.ActorID,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respond(w, http.StatusOK, map[string]any{"lines": lines})
}

func (h *Handler) handleSummary(w http.ResponseWriter, r *http.Request) {
	materialID, ok := h.pathID(w, r, "materialID")
	if !ok {
		return
	}
	summary, err := h.service.MaterialSummary(r.Context(), materialID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respond(w, http.StatusOK, summary)
}

func (h *Handler) handleMovements(w http.ResponseWriter, r *http.Request) {
	batchID, ok := h.pathID(w, r, "batchID")
	if !ok {
		return
	}
	movements, err := h.service.ListMovements(r.Context(), batchID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respond(w, http.StatusOK, map[string]any{"movements": movements})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dest any) bool {
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		h.error(w, http.StatusBadRequest, "invalid JSON payload")
		return false
	}
	if err := h.validate.Struct(dest); err != nil {
		h.error(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		h.error(w, http.StatusBadRequest, "invalid "+name)
		return 0, false
	}
	return id, true
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	var stockErr *InsufficientStockError
	switch {
	case errors.As(err, &stockErr):
		h.respond(w, http.StatusConflict, map[string]any{
			"error":     "insufficient stock",
			"requested": stockErr.Requested,
			"available": stockErr.Available,
			"shortfall": stockErr.Shortfall(),
		})
	case errors.Is(err, ErrBatchNotFound):
		h.error(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrInvalidQuantity), errors.Is(err, ErrInvalidUnitCost), errors.Is(err, ErrInvalidReference):
		h.error(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrInvalidAdjustment),
		errors.Is(err, ErrAlreadyReversed),
		errors.Is(err, ErrNothingToReverse),
		errors.Is(err, shared.ErrIdempotencyConflict):
		h.error(w, http.StatusConflict, err.Error())
	case errors.Is(err, ErrConcurrencyConflict):
		h.error(w, http.StatusConflict, err.Error())
	default:
		h.logger.Error("inventory request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
		h.error(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
	}
}

func (h *Handler) respond(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("encode response", slog.Any("error", err))
	}
}

func (h *Handler) error(w http.ResponseWriter, status int, message string) {
	h.respond(w, status, map[string]string{"error": message})
}

func allocationOutcome(err error) string {
	switch {
	case errors.Is(err, ErrInsufficientStock):
		return "insufficient"
	case errors.Is(err, ErrConcurrencyConflict):
		return "conflict"
	default:
		return "error"
	}
}
