package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/shoecom/stockledger/internal/domain"
	"github.com/shoecom/stockledger/pkg/httputil"
	"github.com/shoecom/stockledger/pkg/pagination"
)

// MovementHandler serves movement history and adjustments.
type MovementHandler struct {
	ledger StockLedger
	logger *slog.Logger
}

// NewMovementHandler creates a new movement HTTP handler.
func NewMovementHandler(ledger StockLedger, logger *slog.Logger) *MovementHandler {
	return &MovementHandler{ledger: ledger, logger: logger}
}

// ByVariant handles GET /api/v1/movements/variants/{variantId}
func (h *MovementHandler) ByVariant(w http.ResponseWriter, r *http.Request) {
	variantID, ok := httputil.ParseUUID(w, chi.URLParam(r, "variantId"))
	if !ok {
		return
	}
	params, ok := pageFromRequest(w, r)
	if !ok {
		return
	}

	var storeID *string
	if raw := r.URL.Query().Get("storeId"); raw != "" {
		id, ok := httputil.ParseUUID(w, raw)
		if !ok {
			return
		}
		s := id.String()
		storeID = &s
	}

	entries, total, err := h.ledger.MovementsByVariant(r.Context(), variantID.String(), storeID, toPage(params))
	h.writePage(w, r, entries, total, params, err)
}

// ByStore handles GET /api/v1/movements/stores/{storeId}
func (h *MovementHandler) ByStore(w http.ResponseWriter, r *http.Request) {
	storeID, ok := httputil.ParseUUID(w, chi.URLParam(r, "storeId"))
	if !ok {
		return
	}
	params, ok := pageFromRequest(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	from, err := parseRangeBound("startDate", q.Get("startDate"), false)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	to, err := parseRangeBound("endDate", q.Get("endDate"), true)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	entries, total, err := h.ledger.MovementsByStore(r.Context(), storeID.String(),
		domain.DateRange{From: from, To: to}, toPage(params))
	h.writePage(w, r, entries, total, params, err)
}

// ByUser handles GET /api/v1/movements/users/{userId}
func (h *MovementHandler) ByUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParseUUID(w, chi.URLParam(r, "userId"))
	if !ok {
		return
	}
	params, ok := pageFromRequest(w, r)
	if !ok {
		return
	}

	entries, total, err := h.ledger.MovementsByUser(r.Context(), userID.String(), toPage(params))
	h.writePage(w, r, entries, total, params, err)
}

// GetAdjustment handles GET /api/v1/adjustments/{adjustmentId}
func (h *MovementHandler) GetAdjustment(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseUUID(w, chi.URLParam(r, "adjustmentId"))
	if !ok {
		return
	}

	detail, err := h.ledger.GetAdjustment(r.Context(), id.String())
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: detail})
}

func (h *MovementHandler) writePage(w http.ResponseWriter, r *http.Request, entries []domain.MovementEntry, total int, params pagination.Params, err error) {
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: pagination.NewResult(entries, total, params)})
}
