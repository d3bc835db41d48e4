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

const stockColumns = `store_id, variant_id, quantity, status, created_at, updated_at`

const (
	getStockQuery = `
		SELECT ` + stockColumns + `
		FROM stock_records
		WHERE store_id = $1 AND variant_id = $2`

	getManyStockQuery = `
		SELECT ` + stockColumns + `
		FROM stock_records
		WHERE store_id = $1 AND variant_id = ANY($2::uuid[])`

	ensureStockQuery = `
		INSERT INTO stock_records (store_id, variant_id, quantity, status)
		VALUES ($1, $2, 0, 'OUT_OF_STOCK')
		ON CONFLICT (store_id, variant_id) DO NOTHING`

	lockStockQuery = `
		SELECT ` + stockColumns + `
		FROM stock_records
		WHERE store_id = $1 AND variant_id = $2
		FOR UPDATE`

	upsertStockQuery = `
		INSERT INTO stock_records (store_id, variant_id, quantity, status)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (store_id, variant_id) DO UPDATE SET
			quantity = EXCLUDED.quantity,
			status = EXCLUDED.status,
			updated_at = clock_timestamp()
		RETURNING ` + stockColumns

	listStockFilter = `
		FROM stock_records
		WHERE store_id = $1 AND ($2::text IS NULL OR status = $2)`

	listStockQuery = `
		SELECT ` + stockColumns + `,
			   count(*) OVER() AS total_count` + listStockFilter + `
		ORDER BY variant_id
		LIMIT $3 OFFSET $4`

	// The window count in listStockQuery is lost when the offset is past the
	// last row.
	countStockQuery = `
		SELECT count(*)` + listStockFilter
)

// StockRepository implements repository.StockRepository on PostgreSQL.
type StockRepository struct {
	db database.DBTX
}

// NewStockRepository creates a stock repository over a pool or transaction.
func NewStockRepository(db database.DBTX) *StockRepository {
	return &StockRepository{db: db}
}

func scanStock(row pgx.Row, extra ...any) (*domain.StockRecord, error) {
	var (
		rec    domain.StockRecord
		status string
	)
	dest := append([]any{&rec.StoreID, &rec.VariantID, &rec.Quantity, &status, &rec.CreatedAt, &rec.UpdatedAt}, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	rec.Status = domain.StockStatus(status)
	return &rec, nil
}

// Get returns the record for a pair.
func (r *StockRepository) Get(ctx context.Context, storeID, variantID string) (rec *domain.StockRecord, err error) {
	ctx, end := database.TraceQuery(ctx, "GetStockRecord", getStockQuery)
	defer func() { end(err) }()

	rec, err = scanStock(r.db.QueryRow(ctx, getStockQuery, storeID, variantID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("get stock record: %w", err)
	}
	return rec, nil
}

// GetMany returns the existing records for variantIDs in one store.
func (r *StockRepository) GetMany(ctx context.Context, storeID string, variantIDs []string) (out map[string]*domain.StockRecord, err error) {
	ctx, end := database.TraceQuery(ctx, "GetStockRecords", getManyStockQuery)
	defer func() { end(err) }()

	rows, err := r.db.Query(ctx, getManyStockQuery, storeID, variantIDs)
	if err != nil {
		return nil, fmt.Errorf("get stock records: %w", err)
	}
	defer rows.Close()

	out = make(map[string]*domain.StockRecord, len(variantIDs))
	for rows.Next() {
		rec, err := scanStock(rows)
		if err != nil {
			return nil, fmt.Errorf("scan stock record: %w", err)
		}
		out[rec.VariantID] = rec
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stock records: %w", err)
	}
	return out, nil
}

// LockForUpdate makes sure the pair has a row, then locks it. Concurrent first
// writes to the same pair serialize on the primary key, and unknown store or
// variant ids fail here as ReferenceNotFound.
func (r *StockRepository) LockForUpdate(ctx context.Context, storeID, variantID string) (rec *domain.StockRecord, err error) {
	ctx, end := database.TraceQuery(ctx, "LockStockRecord", lockStockQuery)
	defer func() { end(err) }()

	if _, err = r.db.Exec(ctx, ensureStockQuery, storeID, variantID); err != nil {
		return nil, writeError("ensure stock record", err)
	}
	rec, err = scanStock(r.db.QueryRow(ctx, lockStockQuery, storeID, variantID))
	if err != nil {
		return nil, fmt.Errorf("lock stock record: %w", err)
	}
	return rec, nil
}

// Upsert writes quantity and status and returns the stored row.
func (r *StockRepository) Upsert(ctx context.Context, in *domain.StockRecord) (rec *domain.StockRecord, err error) {
	ctx, end := database.TraceQuery(ctx, "UpsertStockRecord", upsertStockQuery)
	defer func() { end(err) }()

	rec, err = scanStock(r.db.QueryRow(ctx, upsertStockQuery,
		in.StoreID, in.VariantID, in.Quantity, string(in.Status),
	))
	if err != nil {
		return nil, writeError("upsert stock record", err)
	}
	return rec, nil
}

// ListByStore pages through a store's records ordered by variant.
func (r *StockRepository) ListByStore(ctx context.Context, storeID string, status *domain.StockStatus, page domain.Page) (_ []domain.StockRecord, total int, err error) {
	ctx, end := database.TraceQuery(ctx, "ListStockRecords", listStockQuery)
	defer func() { end(err) }()

	var statusArg *string
	if status != nil {
		s := string(*status)
		statusArg = &s
	}

	rows, err := r.db.Query(ctx, listStockQuery, storeID, statusArg, page.Limit, page.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list stock records: %w", err)
	}
	defer rows.Close()

	records := make([]domain.StockRecord, 0)
	for rows.Next() {
		rec, err := scanStock(rows, &total)
		if err != nil {
			return nil, 0, fmt.Errorf("scan stock record: %w", err)
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate stock records: %w", err)
	}

	if len(records) == 0 && page.Offset > 0 {
		if err := r.db.QueryRow(ctx, countStockQuery, storeID, statusArg).Scan(&total); err != nil {
			return nil, 0, fmt.Errorf("count stock records: %w", err)
		}
	}
	return records, total, nil
}
