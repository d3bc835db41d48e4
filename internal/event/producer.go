package event

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shoecom/stockledger/internal/domain"
	pkgkafka "github.com/shoecom/stockledger/pkg/kafka"
	"github.com/shoecom/stockledger/pkg/logger"
)

// Topics published by the stock ledger.
var (
	TopicStockUpdated       = pkgkafka.Topic("stock", "updated")
	TopicStockLowStock      = pkgkafka.Topic("stock", "low_stock")
	TopicStockAdjusted      = pkgkafka.Topic("stock", "adjusted")
	TopicOrderStockReserved = pkgkafka.Topic("order_stock", "reserved")
	TopicOrderStockRestored = pkgkafka.Topic("order_stock", "restored")
)

// Aggregate types.
const (
	AggregateTypeStock      = "stock"
	AggregateTypeAdjustment = "adjustment"
	AggregateTypeOrder      = "order"
)

// SourceStockLedger identifies events originating from this service.
const SourceStockLedger = "stock-ledger"

// StockUpdatedData is the payload of a stock.updated event.
type StockUpdatedData struct {
	StoreID          string `json:"store_id"`
	VariantID        string `json:"variant_id"`
	Quantity         int    `json:"quantity"`
	Status           string `json:"status"`
	MovementID       string `json:"movement_id"`
	Operation        string `json:"operation"`
	MovementQuantity int    `json:"movement_quantity"`
	PreviousQuantity int    `json:"previous_quantity"`
	ActorType        string `json:"actor_type"`
	Reason           string `json:"reason,omitempty"`
}

// LowStockData is the payload of a stock.low_stock event.
type LowStockData struct {
	StoreID   string `json:"store_id"`
	VariantID string `json:"variant_id"`
	Quantity  int    `json:"quantity"`
	Status    string `json:"status"`
	Threshold int    `json:"threshold"`
}

// AdjustedItem is one movement in a stock.adjusted payload.
type AdjustedItem struct {
	VariantID        string `json:"variant_id"`
	Operation        string `json:"operation"`
	Quantity         int    `json:"quantity"`
	PreviousQuantity int    `json:"previous_quantity"`
	NewQuantity      int    `json:"new_quantity"`
}

// StockAdjustedData is the payload of a stock.adjusted event.
type StockAdjustedData struct {
	AdjustmentID   string         `json:"adjustment_id"`
	UserID         string         `json:"user_id"`
	StoreID        string         `json:"store_id"`
	AdjustmentType string         `json:"adjustment_type"`
	Reason         string         `json:"reason"`
	Items          []AdjustedItem `json:"items"`
}

// OrderStockItem is one order line in an order_stock payload.
type OrderStockItem struct {
	VariantID string `json:"variant_id"`
	Quantity  int    `json:"quantity"`
}

// OrderStockData is the payload of order_stock.reserved and
// order_stock.restored events.
type OrderStockData struct {
	OrderID    string           `json:"order_id"`
	CustomerID string           `json:"customer_id"`
	StoreID    string           `json:"store_id"`
	StockState string           `json:"stock_state"`
	Reason     string           `json:"reason,omitempty"`
	Items      []OrderStockItem `json:"items"`
}

// Publisher is the part of pkg/kafka.Producer used here.
type Publisher interface {
	Publish(ctx context.Context, topic string, event *pkgkafka.Event) error
}

// Producer publishes stock ledger events to Kafka.
type Producer struct {
	kafka  Publisher
	logger *slog.Logger
}

// NewProducer creates a new event producer for the stock ledger.
func NewProducer(kafka Publisher, logger *slog.Logger) *Producer {
	return &Producer{
		kafka:  kafka,
		logger: logger,
	}
}

func (p *Producer) publish(ctx context.Context, topic, aggregateID, aggregateType string, data any) error {
	event, err := pkgkafka.NewEvent(topic, aggregateID, aggregateType, SourceStockLedger, data)
	if err != nil {
		return fmt.Errorf("create %s event: %w", topic, err)
	}
	if id := logger.CorrelationIDFromContext(ctx); id != "" {
		event.WithCorrelationID(id)
	}

	if err := p.kafka.Publish(ctx, topic, event); err != nil {
		return fmt.Errorf("publish %s event: %w", topic, err)
	}

	p.logger.DebugContext(ctx, "published event",
		slog.String("topic", topic),
		slog.String("aggregate_id", aggregateID),
	)
	return nil
}

// PublishStockUpdated publishes a stock.updated event for one movement.
func (p *Producer) PublishStockUpdated(ctx context.Context, rec *domain.StockRecord, m *domain.Movement) error {
	return p.publish(ctx, TopicStockUpdated, rec.VariantID, AggregateTypeStock, StockUpdatedData{
		StoreID:          rec.StoreID,
		VariantID:        rec.VariantID,
		Quantity:         rec.Quantity,
		Status:           string(rec.Status),
		MovementID:       m.ID,
		Operation:        string(m.Operation),
		MovementQuantity: m.Quantity,
		PreviousQuantity: m.PreviousQuantity,
		ActorType:        string(m.Actor.Type()),
		Reason:           m.Reason,
	})
}

// PublishLowStock publishes a stock.low_stock event.
func (p *Producer) PublishLowStock(ctx context.Context, rec *domain.StockRecord) error {
	return p.publish(ctx, TopicStockLowStock, rec.VariantID, AggregateTypeStock, LowStockData{
		StoreID:   rec.StoreID,
		VariantID: rec.VariantID,
		Quantity:  rec.Quantity,
		Status:    string(rec.Status),
		Threshold: domain.LimitedStockThreshold,
	})
}

// PublishStockAdjusted publishes a stock.adjusted event for a staff batch.
func (p *Producer) PublishStockAdjusted(ctx context.Context, a *domain.Adjustment, movements []domain.Movement) error {
	items := make([]AdjustedItem, len(movements))
	for i, m := range movements {
		items[i] = AdjustedItem{
			VariantID:        m.VariantID,
			Operation:        string(m.Operation),
			Quantity:         m.Quantity,
			PreviousQuantity: m.PreviousQuantity,
			NewQuantity:      m.NewQuantity,
		}
	}
	return p.publish(ctx, TopicStockAdjusted, a.ID, AggregateTypeAdjustment, StockAdjustedData{
		AdjustmentID:   a.ID,
		UserID:         a.UserID,
		StoreID:        a.StoreID,
		AdjustmentType: string(a.AdjustmentType),
		Reason:         a.Reason,
		Items:          items,
	})
}

// PublishOrderStockReserved publishes an order_stock.reserved event.
func (p *Producer) PublishOrderStockReserved(ctx context.Context, o *domain.Order) error {
	return p.publish(ctx, TopicOrderStockReserved, o.ID, AggregateTypeOrder, orderStockData(o))
}

// PublishOrderStockRestored publishes an order_stock.restored event.
func (p *Producer) PublishOrderStockRestored(ctx context.Context, o *domain.Order) error {
	return p.publish(ctx, TopicOrderStockRestored, o.ID, AggregateTypeOrder, orderStockData(o))
}

func orderStockData(o *domain.Order) OrderStockData {
	items := make([]OrderStockItem, len(o.Items))
	for i, it := range o.Items {
		items[i] = OrderStockItem{VariantID: it.VariantID, Quantity: it.Quantity}
	}
	return OrderStockData{
		OrderID:    o.ID,
		CustomerID: o.CustomerID,
		StoreID:    o.StoreID,
		StockState: string(o.StockState),
		Reason:     o.Reason,
		Items:      items,
	}
}
