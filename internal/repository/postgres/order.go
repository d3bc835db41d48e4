package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/shoecom/stockledger/internal/domain"
	"github.com/shoecom/stockledger/pkg/database"
	apperrors "github.com/shoecom/stockledger/pkg/errors"
)

const orderColumns = `id, customer_id, store_id, stock_state, reason, created_at, updated_at`

const (
	insertOrderQuery = `
		INSERT INTO orders (id, customer_id, store_id, stock_state, reason, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	insertOrderItemQuery = `
		INSERT INTO order_items (id, order_id, variant_id, quantity)
		VALUES ($1, $2, $3, $4)`

	getOrderQuery = `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE id = $1`

	lockOrderQuery = getOrderQuery + `
		FOR UPDATE`

	getOrderItemsQuery = `
		SELECT id, variant_id, quantity
		FROM order_items
		WHERE order_id = $1
		ORDER BY id`

	setStockStateQuery = `
		UPDATE orders SET stock_state = $2, reason = $3, updated_at = NOW()
		WHERE id = $1`
)

// OrderRepository implements repository.OrderRepository on PostgreSQL.
type OrderRepository struct {
	db database.DBTX
}

// NewOrderRepository creates an order repository over a pool or transaction.
// Create issues several statements and should run inside a transaction.
func NewOrderRepository(db database.DBTX) *OrderRepository {
	return &OrderRepository{db: db}
}

// Create inserts the order and its items.
func (r *OrderRepository) Create(ctx context.Context, o *domain.Order) (err error) {
	ctx, end := database.TraceQuery(ctx, "CreateOrder", insertOrderQuery)
	defer func() { end(err) }()

	_, err = r.db.Exec(ctx, insertOrderQuery,
		o.ID, o.CustomerID, o.StoreID, string(o.StockState), o.Reason, o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		return writeError("insert order", err)
	}

	for _, item := range o.Items {
		if _, err = r.db.Exec(ctx, insertOrderItemQuery, item.ID, o.ID, item.VariantID, item.Quantity); err != nil {
			return writeError("insert order item", err)
		}
	}
	return nil
}

// GetByID returns an order with its items.
func (r *OrderRepository) GetByID(ctx context.Context, id string) (_ *domain.Order, err error) {
	ctx, end := database.TraceQuery(ctx, "GetOrder", getOrderQuery)
	defer func() { end(err) }()

	return r.load(ctx, getOrderQuery, id)
}

// LockForUpdate returns an order with its items and holds its row lock until
// the transaction ends.
func (r *OrderRepository) LockForUpdate(ctx context.Context, id string) (_ *domain.Order, err error) {
	ctx, end := database.TraceQuery(ctx, "LockOrder", lockOrderQuery)
	defer func() { end(err) }()

	return r.load(ctx, lockOrderQuery, id)
}

// SetStockState records a stock state transition.
func (r *OrderRepository) SetStockState(ctx context.Context, id string, state domain.StockState, reason string) (err error) {
	ctx, end := database.TraceQuery(ctx, "SetOrderStockState", setStockStateQuery)
	defer func() { end(err) }()

	tag, err := r.db.Exec(ctx, setStockStateQuery, id, string(state), reason)
	if err != nil {
		return fmt.Errorf("set order stock state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *OrderRepository) load(ctx context.Context, query, id string) (*domain.Order, error) {
	var (
		o     domain.Order
		state string
	)
	err := r.db.QueryRow(ctx, query, id).Scan(
		&o.ID, &o.CustomerID, &o.StoreID, &state, &o.Reason, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}
	o.StockState = domain.StockState(state)

	rows, err := r.db.Query(ctx, getOrderItemsQuery, id)
	if err != nil {
		return nil, fmt.Errorf("get order items: %w", err)
	}
	defer rows.Close()

	o.Items = make([]domain.OrderItem, 0)
	for rows.Next() {
		var item domain.OrderItem
		if err := rows.Scan(&item.ID, &item.VariantID, &item.Quantity); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		o.Items = append(o.Items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order items: %w", err)
	}
	return &o, nil
}
