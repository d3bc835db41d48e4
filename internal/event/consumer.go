package event

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shoecom/stockledger/internal/domain"
	apperrors "github.com/shoecom/stockledger/pkg/errors"
	pkgkafka "github.com/shoecom/stockledger/pkg/kafka"
)

// Topics consumed by the stock ledger.
var (
	TopicOrderCanceled = pkgkafka.Topic("order", "canceled")
	TopicOrderRefunded = pkgkafka.Topic("order", "refunded")
)

// OrderRestorer defines what the consumer needs from the order service.
type OrderRestorer interface {
	RestoreOrderStock(ctx context.Context, orderID, reason string) (*domain.Order, error)
}

// OrderEventData is the expected payload of order.canceled and
// order.refunded events.
type OrderEventData struct {
	OrderID string `json:"order_id"`
	Reason  string `json:"reason,omitempty"`
}

// Consumer processes incoming order events for the stock ledger.
type Consumer struct {
	orders OrderRestorer
	logger *slog.Logger
}

// NewConsumer creates a new event consumer.
func NewConsumer(orders OrderRestorer, logger *slog.Logger) *Consumer {
	return &Consumer{
		orders: orders,
		logger: logger,
	}
}

// HandleOrderCanceled restores the stock of a canceled order.
func (c *Consumer) HandleOrderCanceled(ctx context.Context, event *pkgkafka.Event) error {
	return c.restore(ctx, event, domain.ReasonOrderCanceled)
}

// HandleOrderRefunded restores the stock of a refunded order.
func (c *Consumer) HandleOrderRefunded(ctx context.Context, event *pkgkafka.Event) error {
	return c.restore(ctx, event, domain.ReasonOrderRefunded)
}

func (c *Consumer) restore(ctx context.Context, event *pkgkafka.Event, defaultReason string) error {
	var data OrderEventData
	if err := event.UnmarshalData(&data); err != nil {
		return fmt.Errorf("unmarshal %s data: %w", event.EventType, err)
	}
	if data.OrderID == "" {
		return fmt.Errorf("%s event %s has no order_id", event.EventType, event.EventID)
	}
	reason := data.Reason
	if reason == "" {
		reason = defaultReason
	}

	c.logger.InfoContext(ctx, "processing order event",
		slog.String("event_type", event.EventType),
		slog.String("order_id", data.OrderID),
	)

	_, err := c.orders.RestoreOrderStock(ctx, data.OrderID, reason)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, apperrors.ErrNotFound):
		// Orders placed elsewhere never reserved stock here.
		c.logger.WarnContext(ctx, "order event for unknown order, skipping",
			slog.String("order_id", data.OrderID),
		)
		return nil
	case errors.Is(err, apperrors.ErrConflict):
		c.logger.WarnContext(ctx, "order stock cannot be restored, skipping",
			slog.String("order_id", data.OrderID),
			slog.String("error", err.Error()),
		)
		return nil
	default:
		return fmt.Errorf("restore stock for order %s: %w", data.OrderID, err)
	}
}
