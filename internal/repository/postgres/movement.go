package postgres

import (
	"context"
	"fmt"
	"slices"

	"github.com/jackc/pgx/v5"

	"github.com/shoecom/stockledger/internal/domain"
	"github.com/shoecom/stockledger/pkg/database"
)

const movementColumns = `m.id, m.store_id, m.variant_id, m.operation, m.quantity,
		m.previous_quantity, m.new_quantity, m.reason, m.notes,
		m.actor_type, m.user_id, m.adjustment_id, m.customer_id, m.order_id, m.created_at`

// movementReport selects movements with variant, store and actor display
// columns plus the total row count. Callers append a filter and paging.
const movementReport = `
		SELECT ` + movementColumns + `,
			   v.sku, v.name, s.name,
			   COALESCE(u.name, c.name), COALESCE(u.email, c.email),
			   count(*) OVER() AS total_count
		FROM stock_movements m
		LEFT JOIN product_variants v ON v.id = m.variant_id
		LEFT JOIN stores s ON s.id = m.store_id
		LEFT JOIN users u ON u.id = m.user_id
		LEFT JOIN customers c ON c.id = m.customer_id`

// movementCount counts the rows a report filter matches. The window count is
// missing when the offset is past the last row.
const movementCount = `
		SELECT count(*) FROM stock_movements m`

const newestFirst = `
		ORDER BY m.created_at DESC, m.id DESC`

const (
	byVariantFilter = `
		WHERE m.variant_id = $1 AND ($2::uuid IS NULL OR m.store_id = $2)`

	byStoreFilter = `
		WHERE m.store_id = $1
		  AND ($2::timestamptz IS NULL OR m.created_at >= $2)
		  AND ($3::timestamptz IS NULL OR m.created_at < $3)`

	byUserFilter = `
		WHERE m.user_id = $1`
)

const (
	appendMovementQuery = `
		INSERT INTO stock_movements (
			id, store_id, variant_id, operation, quantity, previous_quantity, new_quantity,
			reason, notes, actor_type, user_id, adjustment_id, customer_id, order_id, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

	movementsByVariantQuery = movementReport + byVariantFilter + newestFirst + `
		LIMIT $3 OFFSET $4`

	movementsByStoreQuery = movementReport + byStoreFilter + newestFirst + `
		LIMIT $4 OFFSET $5`

	movementsByUserQuery = movementReport + byUserFilter + newestFirst + `
		LIMIT $2 OFFSET $3`

	movementsByOrderQuery = `
		SELECT ` + movementColumns + `
		FROM stock_movements m
		WHERE m.order_id = $1
		ORDER BY m.created_at, m.id`

	movementsByAdjustmentQuery = `
		SELECT ` + movementColumns + `
		FROM stock_movements m
		WHERE m.adjustment_id = $1
		ORDER BY m.created_at, m.id`
)

// MovementRepository implements repository.MovementRepository on PostgreSQL.
type MovementRepository struct {
	db database.DBTX
}

// NewMovementRepository creates a movement repository over a pool or transaction.
func NewMovementRepository(db database.DBTX) *MovementRepository {
	return &MovementRepository{db: db}
}

// Append inserts one movement. Unknown store, variant or actor ids surface as
// ReferenceNotFound.
func (r *MovementRepository) Append(ctx context.Context, m *domain.Movement) (err error) {
	ctx, end := database.TraceQuery(ctx, "AppendMovement", appendMovementQuery)
	defer func() { end(err) }()

	actor := domain.ColumnsOf(m.Actor)
	_, err = r.db.Exec(ctx, appendMovementQuery,
		m.ID, m.StoreID, m.VariantID, string(m.Operation), m.Quantity,
		m.PreviousQuantity, m.NewQuantity, m.Reason, m.Notes,
		string(actor.Type), actor.UserID, actor.AdjustmentID, actor.CustomerID, actor.OrderID,
		m.CreatedAt,
	)
	if err != nil {
		return writeError("append movement", err)
	}
	return nil
}

// ByVariant lists a variant's movements newest first.
func (r *MovementRepository) ByVariant(ctx context.Context, variantID string, storeID *string, page domain.Page) (_ []domain.MovementEntry, _ int, err error) {
	ctx, end := database.TraceQuery(ctx, "MovementsByVariant", movementsByVariantQuery)
	defer func() { end(err) }()

	return r.report(ctx, "movements by variant", movementsByVariantQuery, byVariantFilter, page, variantID, storeID)
}

// ByStore lists a store's movements newest first within dr.
func (r *MovementRepository) ByStore(ctx context.Context, storeID string, dr domain.DateRange, page domain.Page) (_ []domain.MovementEntry, _ int, err error) {
	ctx, end := database.TraceQuery(ctx, "MovementsByStore", movementsByStoreQuery)
	defer func() { end(err) }()

	return r.report(ctx, "movements by store", movementsByStoreQuery, byStoreFilter, page, storeID, dr.From, dr.To)
}

// ByUser lists the movements made by a staff user newest first.
func (r *MovementRepository) ByUser(ctx context.Context, userID string, page domain.Page) (_ []domain.MovementEntry, _ int, err error) {
	ctx, end := database.TraceQuery(ctx, "MovementsByUser", movementsByUserQuery)
	defer func() { end(err) }()

	return r.report(ctx, "movements by user", movementsByUserQuery, byUserFilter, page, userID)
}

// ByOrder returns an order's movements oldest first.
func (r *MovementRepository) ByOrder(ctx context.Context, orderID string) (_ []domain.Movement, err error) {
	ctx, end := database.TraceQuery(ctx, "MovementsByOrder", movementsByOrderQuery)
	defer func() { end(err) }()

	return r.list(ctx, "movements by order", movementsByOrderQuery, orderID)
}

// ByAdjustment returns an adjustment's movements oldest first.
func (r *MovementRepository) ByAdjustment(ctx context.Context, adjustmentID string) (_ []domain.Movement, err error) {
	ctx, end := database.TraceQuery(ctx, "MovementsByAdjustment", movementsByAdjustmentQuery)
	defer func() { end(err) }()

	return r.list(ctx, "movements by adjustment", movementsByAdjustmentQuery, adjustmentID)
}

// report runs a paged report query. filter is the report's WHERE clause and
// filterArgs its arguments; the page bounds follow them.
func (r *MovementRepository) report(ctx context.Context, op, query, filter string, page domain.Page, filterArgs ...any) ([]domain.MovementEntry, int, error) {
	args := append(slices.Clip(filterArgs), page.Limit, page.Offset)
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var total int
	entries := make([]domain.MovementEntry, 0)
	for rows.Next() {
		var e domain.MovementEntry
		if err := scanMovement(rows, &e.Movement,
			&e.VariantSKU, &e.VariantName, &e.StoreName, &e.ActorName, &e.ActorEmail, &total,
		); err != nil {
			return nil, 0, fmt.Errorf("%s: %w", op, err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("%s: %w", op, err)
	}

	if len(entries) == 0 && page.Offset > 0 {
		if err := r.db.QueryRow(ctx, movementCount+filter, filterArgs...).Scan(&total); err != nil {
			return nil, 0, fmt.Errorf("%s: count: %w", op, err)
		}
	}
	return entries, total, nil
}

func (r *MovementRepository) list(ctx context.Context, op, query string, args ...any) ([]domain.Movement, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	movements := make([]domain.Movement, 0)
	for rows.Next() {
		var m domain.Movement
		if err := scanMovement(rows, &m); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		movements = append(movements, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return movements, nil
}

func scanMovement(row pgx.Row, m *domain.Movement, extra ...any) error {
	var (
		op        string
		actorType string
		actor     domain.ActorColumns
	)
	dest := append([]any{
		&m.ID, &m.StoreID, &m.VariantID, &op, &m.Quantity,
		&m.PreviousQuantity, &m.NewQuantity, &m.Reason, &m.Notes,
		&actorType, &actor.UserID, &actor.AdjustmentID, &actor.CustomerID, &actor.OrderID, &m.CreatedAt,
	}, extra...)
	if err := row.Scan(dest...); err != nil {
		return fmt.Errorf("scan movement: %w", err)
	}

	m.Operation = domain.Operation(op)
	actor.Type = domain.ActorType(actorType)
	a, err := actor.Actor()
	if err != nil {
		return fmt.Errorf("movement %s: %w", m.ID, err)
	}
	m.Actor = a
	return nil
}
