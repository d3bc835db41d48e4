package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/shoecom/stockledger/internal/domain"
	"github.com/shoecom/stockledger/internal/service"
	"github.com/shoecom/stockledger/pkg/httputil"
	"github.com/shoecom/stockledger/pkg/pagination"
)

// StockHandler handles HTTP requests for stock records.
type StockHandler struct {
	ledger StockLedger
	logger *slog.Logger
}

// NewStockHandler creates a new stock HTTP handler.
func NewStockHandler(ledger StockLedger, logger *slog.Logger) *StockHandler {
	return &StockHandler{ledger: ledger, logger: logger}
}

// --- Request DTOs ---

// UpdateStockRequest is the JSON body for a single stock update. The
// operation is checked by the ledger so an unknown one reports
// INVALID_OPERATION.
type UpdateStockRequest struct {
	Quantity       *int   `json:"quantity" validate:"required,lte=2147483647"`
	StockStatus    string `json:"stockStatus" validate:"omitempty,oneof=IN_STOCK LIMITED OUT_OF_STOCK"`
	Operation      string `json:"operation"`
	UserID         string `json:"userId" validate:"omitempty,uuid"`
	Reason         string `json:"reason" validate:"max=255"`
	Notes          string `json:"notes" validate:"max=2000"`
	AdjustmentType string `json:"adjustmentType" validate:"omitempty,oneof=RESTOCK DAMAGE LOSS CORRECTION RETURN"`
}

// BulkUpdateRequest is the JSON body for a bulk stock update.
type BulkUpdateRequest struct {
	Items          []BulkItemRequest `json:"items" validate:"required,min=1,max=500,dive"`
	UserID         string            `json:"userId" validate:"omitempty,uuid"`
	Reason         string            `json:"reason" validate:"required,max=255"`
	Notes          string            `json:"notes" validate:"max=2000"`
	StockStatus    string            `json:"stockStatus" validate:"omitempty,oneof=IN_STOCK LIMITED OUT_OF_STOCK"`
	AdjustmentType string            `json:"adjustmentType" validate:"omitempty,oneof=RESTOCK DAMAGE LOSS CORRECTION RETURN"`
}

// BulkItemRequest is one line of a bulk update.
type BulkItemRequest struct {
	VariantID string `json:"variantId" validate:"required,uuid"`
	Quantity  *int   `json:"quantity" validate:"required,lte=2147483647"`
	Operation string `json:"operation"`
}

// --- Handlers ---

// GetStock handles GET /api/v1/stores/{storeId}/variants/{variantId}/stock
func (h *StockHandler) GetStock(w http.ResponseWriter, r *http.Request) {
	storeID, ok := httputil.ParseUUID(w, chi.URLParam(r, "storeId"))
	if !ok {
		return
	}
	variantID, ok := httputil.ParseUUID(w, chi.URLParam(r, "variantId"))
	if !ok {
		return
	}

	rec, err := h.ledger.GetStock(r.Context(), storeID.String(), variantID.String())
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: rec})
}

// UpdateStock handles PUT /api/v1/stores/{storeId}/variants/{variantId}/stock
func (h *StockHandler) UpdateStock(w http.ResponseWriter, r *http.Request) {
	storeID, ok := httputil.ParseUUID(w, chi.URLParam(r, "storeId"))
	if !ok {
		return
	}
	variantID, ok := httputil.ParseUUID(w, chi.URLParam(r, "variantId"))
	if !ok {
		return
	}

	var req UpdateStockRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}

	status, _ := domain.ParseStockStatus(req.StockStatus)
	result, err := h.ledger.UpdateStock(r.Context(), service.UpdateStockInput{
		StoreID:        storeID.String(),
		VariantID:      variantID.String(),
		Quantity:       *req.Quantity,
		Operation:      domain.Operation(req.Operation),
		Status:         status,
		UserID:         actingUser(r, req.UserID),
		Reason:         req.Reason,
		Notes:          req.Notes,
		AdjustmentType: domain.AdjustmentType(req.AdjustmentType),
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: result})
}

// ListStoreStock handles GET /api/v1/stores/{storeId}/stock
func (h *StockHandler) ListStoreStock(w http.ResponseWriter, r *http.Request) {
	storeID, ok := httputil.ParseUUID(w, chi.URLParam(r, "storeId"))
	if !ok {
		return
	}
	params, ok := pageFromRequest(w, r)
	if !ok {
		return
	}
	status, err := parseStatus(r.URL.Query().Get("status"))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	records, total, err := h.ledger.ListStoreStock(r.Context(), storeID.String(), status, toPage(params))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: pagination.NewResult(records, total, params)})
}

// BulkUpdate handles POST /api/v1/stores/{storeId}/stock/bulk
func (h *StockHandler) BulkUpdate(w http.ResponseWriter, r *http.Request) {
	storeID, ok := httputil.ParseUUID(w, chi.URLParam(r, "storeId"))
	if !ok {
		return
	}

	var req BulkUpdateRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}

	items := make([]domain.StockChange, len(req.Items))
	for i, item := range req.Items {
		items[i] = domain.StockChange{
			VariantID: item.VariantID,
			Quantity:  *item.Quantity,
			Operation: domain.Operation(item.Operation),
		}
	}
	status, _ := domain.ParseStockStatus(req.StockStatus)

	records, err := h.ledger.BulkUpdate(r.Context(), service.BulkUpdateInput{
		StoreID:        storeID.String(),
		Items:          items,
		UserID:         actingUser(r, req.UserID),
		Reason:         req.Reason,
		Notes:          req.Notes,
		Status:         status,
		AdjustmentType: domain.AdjustmentType(req.AdjustmentType),
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: records})
}
