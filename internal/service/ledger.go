package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/shoecom/stockledger/internal/domain"
	"github.com/shoecom/stockledger/internal/repository"
	apperrors "github.com/shoecom/stockledger/pkg/errors"
)

// UpdateStockInput is a change to one stock record.
type UpdateStockInput struct {
	StoreID        string
	VariantID      string
	Quantity       int
	Operation      domain.Operation
	Status         *domain.StockStatus
	UserID         string
	Reason         string
	Notes          string
	AdjustmentType domain.AdjustmentType
}

// UpdateStockResult is the outcome of a single update.
type UpdateStockResult struct {
	Record   *domain.StockRecord `json:"record"`
	Movement *domain.Movement    `json:"movement"`
	Message  string              `json:"message"`
}

// BulkUpdateInput is a batch of changes to one store applied atomically.
type BulkUpdateInput struct {
	StoreID        string
	Items          []domain.StockChange
	UserID         string
	Reason         string
	Notes          string
	Status         *domain.StockStatus
	AdjustmentType domain.AdjustmentType
}

// batchMeta describes who made a batch and why. A staff batch has userID set
// and gets its own adjustment; an order batch has customer set.
type batchMeta struct {
	userID         string
	customer       *domain.CustomerActor
	reason         string
	notes          string
	status         *domain.StockStatus
	adjustmentType domain.AdjustmentType
}

// batchResult is what a committed batch produced.
type batchResult struct {
	storeID    string
	records    []*domain.StockRecord
	movements  []*domain.Movement
	adjustment *domain.Adjustment
}

// LedgerService applies stock changes and answers ledger queries.
type LedgerService struct {
	repos     repository.Repositories
	tx        repository.TxRunner
	cache     StockCache
	publisher EventPublisher
	logger    *slog.Logger
	now       func() time.Time
}

// NewLedgerService creates a ledger service. repos serve reads outside a
// transaction. cache may be nil.
func NewLedgerService(
	repos repository.Repositories,
	tx repository.TxRunner,
	cache StockCache,
	publisher EventPublisher,
	logger *slog.Logger,
) *LedgerService {
	return &LedgerService{
		repos:     repos,
		tx:        tx,
		cache:     cache,
		publisher: publisher,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// GetStock returns the record for a pair. A pair that was never written is
// reported as zero quantity and OUT_OF_STOCK.
func (s *LedgerService) GetStock(ctx context.Context, storeID, variantID string) (*domain.StockRecord, error) {
	if s.cache != nil {
		rec, ok, err := s.cache.Get(ctx, storeID, variantID)
		if err != nil {
			s.logger.WarnContext(ctx, "stock cache read failed",
				slog.String("store_id", storeID),
				slog.String("variant_id", variantID),
				slog.String("error", err.Error()),
			)
		} else if ok {
			return rec, nil
		}
	}

	rec, err := s.repos.Stock.Get(ctx, storeID, variantID)
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		rec = domain.EmptyRecord(storeID, variantID)
	case err != nil:
		return nil, fmt.Errorf("get stock: %w", err)
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, rec); err != nil {
			s.logger.WarnContext(ctx, "stock cache write failed",
				slog.String("store_id", storeID),
				slog.String("variant_id", variantID),
				slog.String("error", err.Error()),
			)
		}
	}
	return rec, nil
}

// ListStoreStock pages through a store's records, optionally by status.
func (s *LedgerService) ListStoreStock(ctx context.Context, storeID string, status *domain.StockStatus, page domain.Page) ([]domain.StockRecord, int, error) {
	records, total, err := s.repos.Stock.ListByStore(ctx, storeID, status, page)
	if err != nil {
		return nil, 0, fmt.Errorf("list store stock: %w", err)
	}
	return records, total, nil
}

// UpdateStock applies one change. A change with a user id is recorded under
// a new adjustment whose type defaults to RESTOCK for increments and
// CORRECTION otherwise.
func (s *LedgerService) UpdateStock(ctx context.Context, in UpdateStockInput) (_ *UpdateStockResult, err error) {
	ctx, end := startSpan(ctx, "LedgerService.UpdateStock",
		attribute.String("store.id", in.StoreID),
		attribute.String("variant.id", in.VariantID),
		attribute.String("stock.operation", string(in.Operation)),
	)
	defer func() { end(err) }()

	if in.Operation == "" {
		in.Operation = domain.OpIncrement
	}
	if err := validateStore(in.StoreID); err != nil {
		return nil, err
	}
	if err := validateChange("", domain.StockChange{
		VariantID: in.VariantID, Quantity: in.Quantity, Operation: in.Operation,
	}); err != nil {
		return nil, err
	}

	adjType := in.AdjustmentType
	if adjType == "" {
		adjType = domain.DefaultAdjustmentType(in.Operation, true)
	}

	change := domain.StockChange{VariantID: in.VariantID, Quantity: in.Quantity, Operation: in.Operation}
	res, err := s.commitBatch(ctx, in.StoreID, []domain.StockChange{change}, batchMeta{
		userID:         in.UserID,
		reason:         in.Reason,
		notes:          in.Notes,
		status:         in.Status,
		adjustmentType: adjType,
	})
	if err != nil {
		return nil, err
	}

	rec, m := res.records[0], res.movements[0]
	return &UpdateStockResult{
		Record:   rec,
		Movement: m,
		Message:  domain.UpdateMessage(m.Operation, m.Quantity, m.NewQuantity),
	}, nil
}

// BulkUpdate applies every item in one transaction and returns the updated
// records in input order. Nothing is written when any item fails.
func (s *LedgerService) BulkUpdate(ctx context.Context, in BulkUpdateInput) (_ []*domain.StockRecord, err error) {
	ctx, end := startSpan(ctx, "LedgerService.BulkUpdate",
		attribute.String("store.id", in.StoreID),
		attribute.Int("batch.size", len(in.Items)),
	)
	defer func() { end(err) }()

	if err := validateStore(in.StoreID); err != nil {
		return nil, err
	}
	if len(in.Items) == 0 {
		return nil, apperrors.Validation("items", "must contain at least 1 item")
	}
	if in.Reason == "" {
		return nil, apperrors.Validation("reason", "is required")
	}
	items := slices.Clone(in.Items)
	for i := range items {
		if items[i].Operation == "" {
			items[i].Operation = domain.OpIncrement
		}
		if err := validateChange(fmt.Sprintf("items[%d].", i), items[i]); err != nil {
			return nil, err
		}
	}

	adjType := in.AdjustmentType
	if adjType == "" {
		adjType = domain.AdjustmentCorrection
	}

	res, err := s.commitBatch(ctx, in.StoreID, items, batchMeta{
		userID:         in.UserID,
		reason:         in.Reason,
		notes:          in.Notes,
		status:         in.Status,
		adjustmentType: adjType,
	})
	if err != nil {
		return nil, err
	}
	return res.records, nil
}

// GetAdjustment returns an adjustment with its movements.
func (s *LedgerService) GetAdjustment(ctx context.Context, id string) (*domain.AdjustmentDetail, error) {
	a, err := s.repos.Adjustments.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.NotFound("adjustment", id)
		}
		return nil, fmt.Errorf("get adjustment: %w", err)
	}
	movements, err := s.repos.Movements.ByAdjustment(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get adjustment movements: %w", err)
	}
	return &domain.AdjustmentDetail{Adjustment: *a, Movements: movements}, nil
}

// MovementsByVariant lists a variant's movements newest first, optionally in one store.
func (s *LedgerService) MovementsByVariant(ctx context.Context, variantID string, storeID *string, page domain.Page) ([]domain.MovementEntry, int, error) {
	entries, total, err := s.repos.Movements.ByVariant(ctx, variantID, storeID, page)
	if err != nil {
		return nil, 0, fmt.Errorf("movements by variant: %w", err)
	}
	return entries, total, nil
}

// MovementsByStore lists a store's movements newest first within dr.
func (s *LedgerService) MovementsByStore(ctx context.Context, storeID string, dr domain.DateRange, page domain.Page) ([]domain.MovementEntry, int, error) {
	if dr.From != nil && dr.To != nil && !dr.From.Before(*dr.To) {
		return nil, 0, apperrors.Validation("endDate", "must not be before startDate")
	}
	entries, total, err := s.repos.Movements.ByStore(ctx, storeID, dr, page)
	if err != nil {
		return nil, 0, fmt.Errorf("movements by store: %w", err)
	}
	return entries, total, nil
}

// MovementsByUser lists a staff user's movements newest first.
func (s *LedgerService) MovementsByUser(ctx context.Context, userID string, page domain.Page) ([]domain.MovementEntry, int, error) {
	entries, total, err := s.repos.Movements.ByUser(ctx, userID, page)
	if err != nil {
		return nil, 0, fmt.Errorf("movements by user: %w", err)
	}
	return entries, total, nil
}

// commitBatch runs one batch in its own transaction and handles the
// post-commit work.
func (s *LedgerService) commitBatch(ctx context.Context, storeID string, changes []domain.StockChange, meta batchMeta) (*batchResult, error) {
	var res *batchResult
	err := s.tx.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		var err error
		res, err = s.runBatch(ctx, repos, storeID, changes, meta)
		return err
	})
	if err != nil {
		return nil, s.translate(err)
	}
	s.afterCommit(ctx, res)
	return res, nil
}

// runBatch applies changes inside the caller's transaction. Each distinct
// variant is locked once in ascending id order, then the changes are applied
// in input order so repeated variants compound.
func (s *LedgerService) runBatch(ctx context.Context, repos repository.Repositories, storeID string, changes []domain.StockChange, meta batchMeta) (*batchResult, error) {
	res := &batchResult{storeID: storeID}
	now := s.now()

	var actor domain.Actor = domain.NoActor{}
	switch {
	case meta.userID != "":
		adj := &domain.Adjustment{
			ID:             uuid.New().String(),
			UserID:         meta.userID,
			StoreID:        storeID,
			AdjustmentType: meta.adjustmentType,
			Reason:         meta.reason,
			Notes:          meta.notes,
			CreatedAt:      now,
		}
		if err := repos.Adjustments.Create(ctx, adj); err != nil {
			return nil, fmt.Errorf("create adjustment: %w", err)
		}
		res.adjustment = adj
		actor = domain.StaffActor{UserID: meta.userID, AdjustmentID: adj.ID}
	case meta.customer != nil:
		actor = *meta.customer
	}

	ids := make([]string, 0, len(changes))
	for _, c := range changes {
		ids = append(ids, c.VariantID)
	}
	slices.Sort(ids)
	ids = slices.Compact(ids)

	current := make(map[string]*domain.StockRecord, len(ids))
	for _, id := range ids {
		rec, err := repos.Stock.LockForUpdate(ctx, storeID, id)
		if err != nil {
			return nil, fmt.Errorf("lock stock %s: %w", id, err)
		}
		current[id] = rec
	}

	for _, c := range changes {
		prev := current[c.VariantID].Quantity
		next, err := domain.ApplyOperation(c.VariantID, prev, c.Operation, c.Quantity)
		if err != nil {
			return nil, err
		}

		rec, err := repos.Stock.Upsert(ctx, &domain.StockRecord{
			StoreID:   storeID,
			VariantID: c.VariantID,
			Quantity:  next,
			Status:    domain.ResolveStatus(next, meta.status),
		})
		if err != nil {
			return nil, fmt.Errorf("upsert stock %s: %w", c.VariantID, err)
		}
		current[c.VariantID] = rec

		m := &domain.Movement{
			ID:               uuid.New().String(),
			StoreID:          storeID,
			VariantID:        c.VariantID,
			Operation:        c.Operation,
			Quantity:         c.Quantity,
			PreviousQuantity: prev,
			NewQuantity:      next,
			Reason:           meta.reason,
			Notes:            meta.notes,
			Actor:            actor,
			CreatedAt:        now,
		}
		if err := repos.Movements.Append(ctx, m); err != nil {
			return nil, fmt.Errorf("append movement: %w", err)
		}

		res.records = append(res.records, rec)
		res.movements = append(res.movements, m)
	}
	return res, nil
}

// translate maps a failed batch to the error returned to callers.
func (s *LedgerService) translate(err error) error {
	var insufficient *domain.InsufficientStockError
	if errors.As(err, &insufficient) {
		InsufficientTotal.Inc()
		return apperrors.InsufficientStock(insufficient.VariantID, insufficient.Available, insufficient.Requested, insufficient)
	}
	var limit *domain.QuantityLimitError
	if errors.As(err, &limit) {
		return apperrors.Validation("quantity",
			fmt.Sprintf("would take variant %s above the maximum stock of %d", limit.VariantID, domain.MaxQuantity))
	}
	return err
}

// afterCommit invalidates cached records, records metrics and publishes
// events for a committed batch.
func (s *LedgerService) afterCommit(ctx context.Context, res *batchResult) {
	if len(res.records) == 0 {
		return
	}
	BatchSize.Observe(float64(len(res.records)))

	touched := make([]string, 0, len(res.records))
	final := make(map[string]*domain.StockRecord, len(res.records))
	for _, rec := range res.records {
		touched = append(touched, rec.VariantID)
		final[rec.VariantID] = rec
	}
	slices.Sort(touched)
	touched = slices.Compact(touched)

	if s.cache != nil {
		committed := make([]*domain.StockRecord, len(touched))
		for i, id := range touched {
			committed[i] = final[id]
		}
		if err := s.cache.Invalidate(ctx, committed...); err != nil {
			s.logger.WarnContext(ctx, "stock cache invalidation failed",
				slog.String("store_id", res.storeID),
				slog.String("error", err.Error()),
			)
		}
	}

	for i, m := range res.movements {
		MovementsTotal.WithLabelValues(string(m.Operation), string(m.Actor.Type())).Inc()
		if err := s.publisher.PublishStockUpdated(ctx, res.records[i], m); err != nil {
			s.logPublishError(ctx, "stock.updated", m.VariantID, err)
		}
	}

	// One low-stock signal per variant, for its final state in the batch.
	for _, id := range touched {
		if rec := final[id]; rec.IsLow() {
			if err := s.publisher.PublishLowStock(ctx, rec); err != nil {
				s.logPublishError(ctx, "stock.low_stock", id, err)
			}
		}
	}

	if res.adjustment != nil {
		movements := make([]domain.Movement, len(res.movements))
		for i, m := range res.movements {
			movements[i] = *m
		}
		if err := s.publisher.PublishStockAdjusted(ctx, res.adjustment, movements); err != nil {
			s.logger.ErrorContext(ctx, "failed to publish stock.adjusted event",
				slog.String("adjustment_id", res.adjustment.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	s.logger.InfoContext(ctx, "stock batch committed",
		slog.String("store_id", res.storeID),
		slog.Int("items", len(res.records)),
		slog.String("actor", string(res.movements[0].Actor.Type())),
	)
}

func (s *LedgerService) logPublishError(ctx context.Context, event, variantID string, err error) {
	s.logger.ErrorContext(ctx, "failed to publish "+event+" event",
		slog.String("variant_id", variantID),
		slog.String("error", err.Error()),
	)
}

func validateStore(storeID string) error {
	if storeID == "" {
		return apperrors.Validation("storeId", "is required")
	}
	return nil
}

// validateChange checks one change; prefix locates it in a batch.
func validateChange(prefix string, c domain.StockChange) error {
	if c.VariantID == "" {
		return apperrors.Validation(prefix+"variantId", "is required")
	}
	if _, ok := domain.ParseOperation(string(c.Operation)); !ok {
		return apperrors.InvalidOperation(string(c.Operation))
	}
	if err := domain.ValidateQuantity(c.Operation, c.Quantity); err != nil {
		return apperrors.Validation(prefix+"quantity", err.Error())
	}
	return nil
}
