package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/shoecom/stockledger/internal/domain"
	"github.com/shoecom/stockledger/internal/repository"
	apperrors "github.com/shoecom/stockledger/pkg/errors"
)

// PlaceOrderInput is an order to reserve stock for.
type PlaceOrderInput struct {
	StoreID    string
	CustomerID string
	Items      []domain.OrderItem
}

// OrderService ties order lifecycle events to stock.
type OrderService struct {
	ledger *LedgerService
	logger *slog.Logger
}

// NewOrderService creates an order service that writes through ledger.
func NewOrderService(ledger *LedgerService, logger *slog.Logger) *OrderService {
	return &OrderService{ledger: ledger, logger: logger}
}

// GetOrder returns an order with its items and stock state.
func (s *OrderService) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	o, err := s.ledger.repos.Orders.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.NotFound("order", id)
		}
		return nil, fmt.Errorf("get order: %w", err)
	}
	return o, nil
}

// PlaceOrder records the order and decrements stock for every line in one
// transaction, leaving the order RESERVED.
func (s *OrderService) PlaceOrder(ctx context.Context, in PlaceOrderInput) (_ *domain.Order, err error) {
	ctx, end := startSpan(ctx, "OrderService.PlaceOrder",
		attribute.String("store.id", in.StoreID),
		attribute.Int("order.items", len(in.Items)),
	)
	defer func() { end(err) }()

	if err := validateStore(in.StoreID); err != nil {
		return nil, err
	}
	if in.CustomerID == "" {
		return nil, apperrors.Validation("customerId", "is required")
	}
	if len(in.Items) == 0 {
		return nil, apperrors.Validation("items", "must contain at least 1 item")
	}
	changes := make([]domain.StockChange, len(in.Items))
	for i, it := range in.Items {
		changes[i] = domain.StockChange{VariantID: it.VariantID, Quantity: it.Quantity, Operation: domain.OpDecrement}
		if err := validateChange(fmt.Sprintf("items[%d].", i), changes[i]); err != nil {
			return nil, err
		}
	}

	if err := s.checkAvailability(ctx, in.StoreID, in.Items); err != nil {
		return nil, err
	}

	now := s.ledger.now()
	order := &domain.Order{
		ID:         uuid.New().String(),
		CustomerID: in.CustomerID,
		StoreID:    in.StoreID,
		StockState: domain.StockStateNone,
		Items:      make([]domain.OrderItem, len(in.Items)),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	for i, it := range in.Items {
		order.Items[i] = domain.OrderItem{ID: uuid.New().String(), VariantID: it.VariantID, Quantity: it.Quantity}
	}

	var res *batchResult
	err = s.ledger.tx.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		if err := repos.Orders.Create(ctx, order); err != nil {
			return fmt.Errorf("create order: %w", err)
		}
		var err error
		res, err = s.ledger.runBatch(ctx, repos, order.StoreID, changes, batchMeta{
			customer: &domain.CustomerActor{CustomerID: order.CustomerID, OrderID: order.ID},
			reason:   domain.ReasonOrderPlaced,
		})
		if err != nil {
			return err
		}
		return transition(ctx, repos, order, domain.StockStateReserved, domain.ReasonOrderPlaced)
	})
	if err != nil {
		return nil, s.ledger.translate(err)
	}

	s.ledger.afterCommit(ctx, res)
	if err := s.ledger.publisher.PublishOrderStockReserved(ctx, order); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish order_stock.reserved event",
			slog.String("order_id", order.ID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "order stock reserved",
		slog.String("order_id", order.ID),
		slog.String("store_id", order.StoreID),
		slog.Int("items", len(order.Items)),
	)
	return order, nil
}

// CancelOrder puts a reserved order's stock back. reason defaults to
// order_canceled.
func (s *OrderService) CancelOrder(ctx context.Context, id, reason string) (*domain.Order, error) {
	if reason == "" {
		reason = domain.ReasonOrderCanceled
	}
	return s.restore(ctx, id, reason, true)
}

// ReturnOrder puts a reserved order's stock back after a return. reason
// defaults to order_returned.
func (s *OrderService) ReturnOrder(ctx context.Context, id, reason string) (*domain.Order, error) {
	if reason == "" {
		reason = domain.ReasonOrderReturned
	}
	return s.restore(ctx, id, reason, true)
}

// RestoreOrderStock is the event-driven form of CancelOrder. Restoring an
// order that is already RESTORED returns it unchanged so redelivered events
// are harmless.
func (s *OrderService) RestoreOrderStock(ctx context.Context, id, reason string) (*domain.Order, error) {
	if reason == "" {
		reason = domain.ReasonOrderCanceled
	}
	return s.restore(ctx, id, reason, false)
}

func (s *OrderService) restore(ctx context.Context, id, reason string, strict bool) (_ *domain.Order, err error) {
	ctx, end := startSpan(ctx, "OrderService.RestoreStock",
		attribute.String("order.id", id),
		attribute.String("order.reason", reason),
	)
	defer func() { end(err) }()

	var (
		order *domain.Order
		res   *batchResult
	)
	err = s.ledger.tx.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		var err error
		order, err = repos.Orders.LockForUpdate(ctx, id)
		if err != nil {
			if errors.Is(err, apperrors.ErrNotFound) {
				return apperrors.NotFound("order", id)
			}
			return fmt.Errorf("lock order: %w", err)
		}
		if order.StockState == domain.StockStateRestored && !strict {
			return nil
		}
		if !domain.CanTransition(order.StockState, domain.StockStateRestored) {
			return invalidTransition(order, domain.StockStateRestored)
		}

		movements, err := repos.Movements.ByOrder(ctx, id)
		if err != nil {
			return fmt.Errorf("read order movements: %w", err)
		}
		changes := restoreChanges(movements)

		res, err = s.ledger.runBatch(ctx, repos, order.StoreID, changes, batchMeta{
			customer: &domain.CustomerActor{CustomerID: order.CustomerID, OrderID: order.ID},
			reason:   reason,
		})
		if err != nil {
			return err
		}
		return transition(ctx, repos, order, domain.StockStateRestored, reason)
	})
	if err != nil {
		return nil, s.ledger.translate(err)
	}
	if res == nil {
		s.logger.InfoContext(ctx, "order stock already restored",
			slog.String("order_id", id),
		)
		return order, nil
	}

	s.ledger.afterCommit(ctx, res)
	if err := s.ledger.publisher.PublishOrderStockRestored(ctx, order); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish order_stock.restored event",
			slog.String("order_id", order.ID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "order stock restored",
		slog.String("order_id", order.ID),
		slog.String("reason", reason),
	)
	return order, nil
}

// checkAvailability compares the summed request per variant with current
// balances without locking, so most shortfalls fail before a transaction
// starts. The locked decrement still has the final say.
func (s *OrderService) checkAvailability(ctx context.Context, storeID string, items []domain.OrderItem) error {
	requested := domain.RequestedByVariant(items)
	ids := make([]string, 0, len(requested))
	for id := range requested {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	existing, err := s.ledger.repos.Stock.GetMany(ctx, storeID, ids)
	if err != nil {
		return fmt.Errorf("check availability: %w", err)
	}
	for _, id := range ids {
		available := 0
		if rec, ok := existing[id]; ok {
			available = rec.Quantity
		}
		if available < requested[id] {
			InsufficientTotal.Inc()
			return apperrors.InsufficientStock(id, available, requested[id], nil)
		}
	}
	return nil
}

// restoreChanges turns an order's decrements into the increments that undo them.
func restoreChanges(movements []domain.Movement) []domain.StockChange {
	var changes []domain.StockChange
	for _, m := range movements {
		if m.Operation != domain.OpDecrement {
			continue
		}
		changes = append(changes, domain.StockChange{
			VariantID: m.VariantID,
			Quantity:  m.Quantity,
			Operation: domain.OpIncrement,
		})
	}
	return changes
}

func transition(ctx context.Context, repos repository.Repositories, o *domain.Order, to domain.StockState, reason string) error {
	if !domain.CanTransition(o.StockState, to) {
		return invalidTransition(o, to)
	}
	if err := repos.Orders.SetStockState(ctx, o.ID, to, reason); err != nil {
		return fmt.Errorf("set order stock state: %w", err)
	}
	o.StockState = to
	o.Reason = reason
	return nil
}

func invalidTransition(o *domain.Order, to domain.StockState) error {
	return apperrors.Conflict("INVALID_STOCK_TRANSITION",
		fmt.Sprintf("order %s stock state %s cannot move to %s", o.ID, o.StockState, to))
}
