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

const (
	createAdjustmentQuery = `
		INSERT INTO stock_adjustments (id, user_id, store_id, adjustment_type, reason, notes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	getAdjustmentQuery = `
		SELECT id, user_id, store_id, adjustment_type, reason, notes, created_at
		FROM stock_adjustments
		WHERE id = $1`
)

// AdjustmentRepository implements repository.AdjustmentRepository on PostgreSQL.
type AdjustmentRepository struct {
	db database.DBTX
}

// NewAdjustmentRepository creates an adjustment repository over a pool or transaction.
func NewAdjustmentRepository(db database.DBTX) *AdjustmentRepository {
	return &AdjustmentRepository{db: db}
}

// Create inserts an adjustment header.
func (r *AdjustmentRepository) Create(ctx context.Context, a *domain.Adjustment) (err error) {
	ctx, end := database.TraceQuery(ctx, "CreateAdjustment", createAdjustmentQuery)
	defer func() { end(err) }()

	_, err = r.db.Exec(ctx, createAdjustmentQuery,
		a.ID, a.UserID, a.StoreID, string(a.AdjustmentType), a.Reason, a.Notes, a.CreatedAt,
	)
	if err != nil {
		return writeError("create adjustment", err)
	}
	return nil
}

// GetByID returns an adjustment header.
func (r *AdjustmentRepository) GetByID(ctx context.Context, id string) (_ *domain.Adjustment, err error) {
	ctx, end := database.TraceQuery(ctx, "GetAdjustment", getAdjustmentQuery)
	defer func() { end(err) }()

	var (
		a       domain.Adjustment
		adjType string
	)
	err = r.db.QueryRow(ctx, getAdjustmentQuery, id).Scan(
		&a.ID, &a.UserID, &a.StoreID, &adjType, &a.Reason, &a.Notes, &a.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("get adjustment: %w", err)
	}
	a.AdjustmentType = domain.AdjustmentType(adjType)
	return &a, nil
}
