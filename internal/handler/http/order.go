package http

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/shoecom/stockledger/internal/domain"
	"github.com/shoecom/stockledger/internal/service"
	"github.com/shoecom/stockledger/pkg/httputil"
)

// OrderHandler handles HTTP requests that move stock for orders.
type OrderHandler struct {
	orders OrderStock
	logger *slog.Logger
}

// NewOrderHandler creates a new order HTTP handler.
func NewOrderHandler(orders OrderStock, logger *slog.Logger) *OrderHandler {
	return &OrderHandler{orders: orders, logger: logger}
}

// PlaceOrderRequest is the JSON body for placing an order.
type PlaceOrderRequest struct {
	StoreID    string             `json:"storeId" validate:"required,uuid"`
	CustomerID string             `json:"customerId" validate:"required,uuid"`
	Items      []OrderItemRequest `json:"items" validate:"required,min=1,max=100,dive"`
}

// OrderItemRequest is one order line.
type OrderItemRequest struct {
	VariantID string `json:"variantId" validate:"required,uuid"`
	Quantity  int    `json:"quantity" validate:"required,gte=1,lte=2147483647"`
}

// RestoreOrderRequest is the optional body for cancel and return.
type RestoreOrderRequest struct {
	Reason string `json:"reason" validate:"max=255"`
}

// PlaceOrder handles POST /api/v1/orders
func (h *OrderHandler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req PlaceOrderRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}

	items := make([]domain.OrderItem, len(req.Items))
	for i, item := range req.Items {
		items[i] = domain.OrderItem{VariantID: item.VariantID, Quantity: item.Quantity}
	}

	order, err := h.orders.PlaceOrder(r.Context(), service.PlaceOrderInput{
		StoreID:    req.StoreID,
		CustomerID: req.CustomerID,
		Items:      items,
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, httputil.Response{Data: order})
}

// GetOrder handles GET /api/v1/orders/{orderId}
func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseUUID(w, chi.URLParam(r, "orderId"))
	if !ok {
		return
	}

	order, err := h.orders.GetOrder(r.Context(), id.String())
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: order})
}

// CancelOrder handles POST /api/v1/orders/{orderId}/cancel
func (h *OrderHandler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	h.restore(w, r, h.orders.CancelOrder)
}

// ReturnOrder handles POST /api/v1/orders/{orderId}/return
func (h *OrderHandler) ReturnOrder(w http.ResponseWriter, r *http.Request) {
	h.restore(w, r, h.orders.ReturnOrder)
}

func (h *OrderHandler) restore(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, id, reason string) (*domain.Order, error)) {
	id, ok := httputil.ParseUUID(w, chi.URLParam(r, "orderId"))
	if !ok {
		return
	}
	var req RestoreOrderRequest
	if !decodeOptionalJSON(w, r, &req) {
		return
	}

	order, err := fn(r.Context(), id.String(), req.Reason)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: order})
}
