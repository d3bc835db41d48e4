package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shoecom/stockledger/internal/domain"
	apperrors "github.com/shoecom/stockledger/pkg/errors"
)

const (
	store1   = "store-1"
	variant2 = "variant-2"
	variant5 = "variant-5"
	staff1   = "user-1"
)

func statusPtr(s domain.StockStatus) *domain.StockStatus { return &s }

// ---------------------------------------------------------------------------
// UpdateStock
// ---------------------------------------------------------------------------

func TestUpdateStock_IncrementFromFour(t *testing.T) {
	f := newFixture()
	f.store.seed(store1, variant2, 4)

	res, err := f.ledger.UpdateStock(context.Background(), UpdateStockInput{
		StoreID: store1, VariantID: variant2, Quantity: 6, Operation: domain.OpIncrement,
	})
	require.NoError(t, err)

	assert.Equal(t, 10, res.Record.Quantity)
	assert.Equal(t, domain.StatusLimited, res.Record.Status)
	assert.Equal(t, domain.OpIncrement, res.Movement.Operation)
	assert.Equal(t, 6, res.Movement.Quantity)
	assert.Equal(t, 4, res.Movement.PreviousQuantity)
	assert.Equal(t, 10, res.Movement.NewQuantity)
	assert.Equal(t, domain.NoActor{}, res.Movement.Actor)
	assert.Equal(t, "Stock increased by 6 to 10", res.Message)
	assert.Equal(t, 10, f.store.quantity(store1, variant2))
}

func TestUpdateStock_DecrementBeyondAvailable(t *testing.T) {
	f := newFixture()
	f.store.seed(store1, variant2, 4)
	before := testutil.ToFloat64(InsufficientTotal)

	_, err := f.ledger.UpdateStock(context.Background(), UpdateStockInput{
		StoreID: store1, VariantID: variant2, Quantity: 10, Operation: domain.OpDecrement, UserID: staff1,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrInsufficientStock))

	var appErr *apperrors.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, 4, appErr.Details["available"])
	assert.Equal(t, 10, appErr.Details["requested"])
	assert.Equal(t, variant2, appErr.Details["variant_id"])

	assert.Equal(t, 4, f.store.quantity(store1, variant2))
	assert.Empty(t, f.store.allMovements())
	assert.Zero(t, f.store.adjustmentCount())
	assert.Empty(t, f.publisher.kinds())
	assert.Equal(t, before+1, testutil.ToFloat64(InsufficientTotal))
}

func TestUpdateStock_SetRecordsAbsoluteQuantity(t *testing.T) {
	f := newFixture()
	f.store.seed(store1, variant2, 4)

	res, err := f.ledger.UpdateStock(context.Background(), UpdateStockInput{
		StoreID: store1, VariantID: variant2, Quantity: 50, Operation: domain.OpSet,
	})
	require.NoError(t, err)
	assert.Equal(t, 50, res.Record.Quantity)
	assert.Equal(t, domain.StatusInStock, res.Record.Status)
	assert.Equal(t, 50, res.Movement.Quantity)
	assert.Equal(t, 4, res.Movement.PreviousQuantity)
	assert.Equal(t, "Stock set to 50", res.Message)
}

func TestUpdateStock_DefaultsToIncrementOnAbsentRecord(t *testing.T) {
	f := newFixture()

	res, err := f.ledger.UpdateStock(context.Background(), UpdateStockInput{
		StoreID: store1, VariantID: variant2, Quantity: 3,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OpIncrement, res.Movement.Operation)
	assert.Equal(t, 0, res.Movement.PreviousQuantity)
	assert.Equal(t, 3, res.Record.Quantity)
}

func TestUpdateStock_StaffCreatesRestockAdjustment(t *testing.T) {
	f := newFixture()

	res, err := f.ledger.UpdateStock(context.Background(), UpdateStockInput{
		StoreID: store1, VariantID: variant2, Quantity: 12, UserID: staff1, Reason: "delivery",
	})
	require.NoError(t, err)

	staff, ok := res.Movement.Actor.(domain.StaffActor)
	require.True(t, ok)
	assert.Equal(t, staff1, staff.UserID)

	detail, err := f.ledger.GetAdjustment(context.Background(), staff.AdjustmentID)
	require.NoError(t, err)
	assert.Equal(t, domain.AdjustmentRestock, detail.AdjustmentType)
	assert.Equal(t, "delivery", detail.Reason)
	require.Len(t, detail.Movements, 1)
	assert.Equal(t, res.Movement.ID, detail.Movements[0].ID)

	assert.Equal(t, []string{"stock.updated", "stock.adjusted"}, f.publisher.kinds())
}

func TestUpdateStock_StaffDecrementIsCorrection(t *testing.T) {
	f := newFixture()
	f.store.seed(store1, variant2, 20)

	res, err := f.ledger.UpdateStock(context.Background(), UpdateStockInput{
		StoreID: store1, VariantID: variant2, Quantity: 2, Operation: domain.OpDecrement, UserID: staff1,
	})
	require.NoError(t, err)

	staff := res.Movement.Actor.(domain.StaffActor)
	detail, err := f.ledger.GetAdjustment(context.Background(), staff.AdjustmentID)
	require.NoError(t, err)
	assert.Equal(t, domain.AdjustmentCorrection, detail.AdjustmentType)
}

func TestUpdateStock_StatusOverride(t *testing.T) {
	f := newFixture()

	res, err := f.ledger.UpdateStock(context.Background(), UpdateStockInput{
		StoreID: store1, VariantID: variant2, Quantity: 100, Operation: domain.OpSet,
		Status: statusPtr(domain.StatusLimited),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusLimited, res.Record.Status)

	res, err = f.ledger.UpdateStock(context.Background(), UpdateStockInput{
		StoreID: store1, VariantID: variant2, Quantity: 0, Operation: domain.OpSet,
		Status: statusPtr(domain.StatusInStock),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusOutOfStock, res.Record.Status)
}

func TestUpdateStock_Validation(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	tests := []struct {
		name string
		in   UpdateStockInput
		code string
	}{
		{"missing store", UpdateStockInput{VariantID: variant2, Quantity: 1}, "VALIDATION_ERROR"},
		{"missing variant", UpdateStockInput{StoreID: store1, Quantity: 1}, "VALIDATION_ERROR"},
		{"zero increment", UpdateStockInput{StoreID: store1, VariantID: variant2}, "VALIDATION_ERROR"},
		{"negative set", UpdateStockInput{StoreID: store1, VariantID: variant2, Quantity: -1, Operation: domain.OpSet}, "VALIDATION_ERROR"},
		{"unknown operation", UpdateStockInput{StoreID: store1, VariantID: variant2, Quantity: 1, Operation: "multiply"}, "INVALID_OPERATION"},
		{"increment by max int", UpdateStockInput{StoreID: store1, VariantID: variant2, Quantity: math.MaxInt}, "VALIDATION_ERROR"},
		{"set above limit", UpdateStockInput{StoreID: store1, VariantID: variant2, Quantity: domain.MaxQuantity + 1, Operation: domain.OpSet}, "VALIDATION_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.ledger.UpdateStock(ctx, tt.in)
			var appErr *apperrors.AppError
			require.True(t, errors.As(err, &appErr))
			assert.Equal(t, tt.code, appErr.Code)
		})
	}
	assert.Empty(t, f.store.allMovements())
}

func TestUpdateStock_IncrementPastLimitRejected(t *testing.T) {
	f := newFixture()
	f.store.seed(store1, variant2, 5)

	_, err := f.ledger.UpdateStock(context.Background(), UpdateStockInput{
		StoreID: store1, VariantID: variant2, Quantity: domain.MaxQuantity,
	})
	var appErr *apperrors.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, "VALIDATION_ERROR", appErr.Code)
	assert.Contains(t, appErr.Details["fields"], "quantity")
	assert.True(t, errors.Is(err, apperrors.ErrInvalidInput))

	assert.Equal(t, 5, f.store.quantity(store1, variant2))
	assert.Empty(t, f.store.allMovements())
	assert.Empty(t, f.publisher.kinds())
}

func TestBulkUpdate_CompoundingPastLimitRollsBack(t *testing.T) {
	f := newFixture()
	f.store.seed(store1, variant2, 1)

	_, err := f.ledger.BulkUpdate(context.Background(), BulkUpdateInput{
		StoreID: store1,
		Reason:  "receiving",
		Items: []domain.StockChange{
			{VariantID: variant2, Quantity: domain.MaxQuantity - 1, Operation: domain.OpIncrement},
			{VariantID: variant2, Quantity: 1, Operation: domain.OpIncrement},
		},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrInvalidInput))

	assert.Equal(t, 1, f.store.quantity(store1, variant2))
	assert.Empty(t, f.store.allMovements())
}

func TestUpdateStock_SetZeroAllowed(t *testing.T) {
	f := newFixture()
	f.store.seed(store1, variant2, 7)

	res, err := f.ledger.UpdateStock(context.Background(), UpdateStockInput{
		StoreID: store1, VariantID: variant2, Quantity: 0, Operation: domain.OpSet,
	})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Record.Quantity)
	assert.Equal(t, domain.StatusOutOfStock, res.Record.Status)
	assert.Contains(t, f.publisher.kinds(), "stock.low_stock")
}

func TestUpdateStock_UnknownVariant(t *testing.T) {
	f := newFixture()
	f.store.variants = map[string]bool{variant2: true}

	_, err := f.ledger.UpdateStock(context.Background(), UpdateStockInput{
		StoreID: store1, VariantID: "ghost", Quantity: 1,
	})
	assert.True(t, errors.Is(err, apperrors.ErrReferenceNotFound))
	assert.Empty(t, f.store.allMovements())
}

// ---------------------------------------------------------------------------
// BulkUpdate
// ---------------------------------------------------------------------------

func TestBulkUpdate_AllOrNothing(t *testing.T) {
	f := newFixture()
	f.store.seed(store1, variant2, 8)
	f.store.seed(store1, variant5, 15)

	_, err := f.ledger.BulkUpdate(context.Background(), BulkUpdateInput{
		StoreID: store1,
		UserID:  staff1,
		Reason:  "shrinkage",
		Items: []domain.StockChange{
			{VariantID: variant2, Quantity: 2, Operation: domain.OpDecrement},
			{VariantID: variant5, Quantity: 100, Operation: domain.OpDecrement},
		},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrInsufficientStock))

	assert.Equal(t, 8, f.store.quantity(store1, variant2))
	assert.Equal(t, 15, f.store.quantity(store1, variant5))
	assert.Empty(t, f.store.allMovements())
	assert.Zero(t, f.store.adjustmentCount())
	assert.Empty(t, f.publisher.kinds())
}

func TestBulkUpdate_ReturnsRecordsInInputOrder(t *testing.T) {
	f := newFixture()
	f.store.seed(store1, variant5, 15)

	records, err := f.ledger.BulkUpdate(context.Background(), BulkUpdateInput{
		StoreID: store1,
		UserID:  staff1,
		Reason:  "recount",
		Items: []domain.StockChange{
			{VariantID: variant5, Quantity: 5, Operation: domain.OpDecrement},
			{VariantID: variant2, Quantity: 30, Operation: domain.OpSet},
		},
	})
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, variant5, records[0].VariantID)
	assert.Equal(t, 10, records[0].Quantity)
	assert.Equal(t, variant2, records[1].VariantID)
	assert.Equal(t, 30, records[1].Quantity)

	movements := f.store.allMovements()
	require.Len(t, movements, 2)
	a0 := movements[0].Actor.(domain.StaffActor)
	a1 := movements[1].Actor.(domain.StaffActor)
	assert.Equal(t, a0.AdjustmentID, a1.AdjustmentID)
	assert.Equal(t, 1, f.store.adjustmentCount())

	detail, err := f.ledger.GetAdjustment(context.Background(), a0.AdjustmentID)
	require.NoError(t, err)
	assert.Equal(t, domain.AdjustmentCorrection, detail.AdjustmentType)
	assert.Len(t, detail.Movements, 2)
}

func TestBulkUpdate_DuplicateVariantsCompound(t *testing.T) {
	f := newFixture()
	f.store.seed(store1, variant2, 5)

	records, err := f.ledger.BulkUpdate(context.Background(), BulkUpdateInput{
		StoreID: store1,
		Reason:  "two deliveries",
		Items: []domain.StockChange{
			{VariantID: variant2, Quantity: 3},
			{VariantID: variant2, Quantity: 4},
		},
	})
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, 8, records[0].Quantity)
	assert.Equal(t, 12, records[1].Quantity)

	movements := f.store.allMovements()
	require.Len(t, movements, 2)
	assert.Equal(t, 5, movements[0].PreviousQuantity)
	assert.Equal(t, 8, movements[1].PreviousQuantity)
	assert.Equal(t, 12, movements[1].NewQuantity)
	assert.Zero(t, f.store.adjustmentCount())
}

func TestBulkUpdate_LowStockOncePerVariant(t *testing.T) {
	f := newFixture()
	f.store.seed(store1, variant2, 20)

	_, err := f.ledger.BulkUpdate(context.Background(), BulkUpdateInput{
		StoreID: store1,
		Reason:  "sold at the counter",
		Items: []domain.StockChange{
			{VariantID: variant2, Quantity: 12, Operation: domain.OpDecrement},
			{VariantID: variant2, Quantity: 3, Operation: domain.OpDecrement},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"stock.updated", "stock.updated", "stock.low_stock"}, f.publisher.kinds())
}

func TestBulkUpdate_CustomAdjustmentType(t *testing.T) {
	f := newFixture()
	f.store.seed(store1, variant2, 20)

	_, err := f.ledger.BulkUpdate(context.Background(), BulkUpdateInput{
		StoreID:        store1,
		UserID:         staff1,
		Reason:         "water damage",
		AdjustmentType: domain.AdjustmentDamage,
		Items:          []domain.StockChange{{VariantID: variant2, Quantity: 4, Operation: domain.OpDecrement}},
	})
	require.NoError(t, err)

	staff := f.store.allMovements()[0].Actor.(domain.StaffActor)
	detail, err := f.ledger.GetAdjustment(context.Background(), staff.AdjustmentID)
	require.NoError(t, err)
	assert.Equal(t, domain.AdjustmentDamage, detail.AdjustmentType)
}

func TestBulkUpdate_Validation(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.ledger.BulkUpdate(ctx, BulkUpdateInput{StoreID: store1, Reason: "x"})
	assert.True(t, errors.Is(err, apperrors.ErrInvalidInput))

	_, err = f.ledger.BulkUpdate(ctx, BulkUpdateInput{
		StoreID: store1,
		Items:   []domain.StockChange{{VariantID: variant2, Quantity: 1}},
	})
	var appErr *apperrors.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, map[string]string{"reason": "is required"}, appErr.Details["fields"])

	_, err = f.ledger.BulkUpdate(ctx, BulkUpdateInput{
		StoreID: store1,
		Reason:  "x",
		Items: []domain.StockChange{
			{VariantID: variant2, Quantity: 1},
			{VariantID: variant5, Quantity: 0, Operation: domain.OpDecrement},
		},
	})
	require.True(t, errors.As(err, &appErr))
	assert.Contains(t, appErr.Details["fields"], "items[1].quantity")
}

func TestBulkUpdate_MidBatchWriteFailureRollsBack(t *testing.T) {
	f := newFixture()
	f.store.seed(store1, variant2, 10)
	f.store.seed(store1, variant5, 10)
	f.store.failAppend = func(m *domain.Movement) error {
		if m.VariantID == variant5 {
			return errors.New("disk full")
		}
		return nil
	}

	_, err := f.ledger.BulkUpdate(context.Background(), BulkUpdateInput{
		StoreID: store1,
		Reason:  "recount",
		Items: []domain.StockChange{
			{VariantID: variant2, Quantity: 1},
			{VariantID: variant5, Quantity: 1},
		},
	})
	require.ErrorContains(t, err, "disk full")
	assert.Equal(t, 10, f.store.quantity(store1, variant2))
	assert.Equal(t, 10, f.store.quantity(store1, variant5))
	assert.Empty(t, f.store.allMovements())
}

func TestBulkUpdate_RecordsMetrics(t *testing.T) {
	f := newFixture()
	before := testutil.ToFloat64(MovementsTotal.WithLabelValues("set", "staff"))

	_, err := f.ledger.BulkUpdate(context.Background(), BulkUpdateInput{
		StoreID: store1,
		UserID:  staff1,
		Reason:  "count",
		Items: []domain.StockChange{
			{VariantID: variant2, Quantity: 3, Operation: domain.OpSet},
			{VariantID: variant5, Quantity: 3, Operation: domain.OpSet},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, before+2, testutil.ToFloat64(MovementsTotal.WithLabelValues("set", "staff")))
}

// ---------------------------------------------------------------------------
// Reads
// ---------------------------------------------------------------------------

func TestGetStock_AbsentIsEmpty(t *testing.T) {
	f := newFixture()

	rec, err := f.ledger.GetStock(context.Background(), store1, variant2)
	require.NoError(t, err)
	assert.Equal(t, 0, rec.Quantity)
	assert.Equal(t, domain.StatusOutOfStock, rec.Status)
}

func TestGetStock_ReadThroughCache(t *testing.T) {
	f := newFixture()
	cache := newMapCache()
	f.ledger.cache = cache
	f.store.seed(store1, variant2, 4)
	ctx := context.Background()

	rec, err := f.ledger.GetStock(ctx, store1, variant2)
	require.NoError(t, err)
	assert.Equal(t, 4, rec.Quantity)
	assert.True(t, cache.has(store1, variant2))

	// A direct write behind the service is hidden by the cache.
	f.store.seed(store1, variant2, 99)
	rec, err = f.ledger.GetStock(ctx, store1, variant2)
	require.NoError(t, err)
	assert.Equal(t, 4, rec.Quantity)

	// A committed update drops the entry.
	_, err = f.ledger.UpdateStock(ctx, UpdateStockInput{StoreID: store1, VariantID: variant2, Quantity: 1})
	require.NoError(t, err)
	assert.False(t, cache.has(store1, variant2))

	rec, err = f.ledger.GetStock(ctx, store1, variant2)
	require.NoError(t, err)
	assert.Equal(t, 100, rec.Quantity)
}

// racingCache runs commit between the read-through load and the cache fill,
// the window in which a reader holds the pre-commit row.
type racingCache struct {
	*mapCache
	commit func()
}

func (c *racingCache) Set(ctx context.Context, rec *domain.StockRecord) error {
	if commit := c.commit; commit != nil {
		c.commit = nil
		commit()
	}
	return c.mapCache.Set(ctx, rec)
}

func TestGetStock_WriteDuringFillIsNotCachedStale(t *testing.T) {
	f := newFixture()
	f.store.seed(store1, variant2, 4)
	k := pairKey{store1, variant2}
	old := f.store.state.stock[k]
	old.UpdatedAt = old.UpdatedAt.Add(-time.Minute)
	f.store.state.stock[k] = old

	ctx := context.Background()
	cache := &racingCache{mapCache: newMapCache()}
	cache.commit = func() {
		_, err := f.ledger.UpdateStock(ctx, UpdateStockInput{StoreID: store1, VariantID: variant2, Quantity: 1})
		require.NoError(t, err)
	}
	f.ledger.cache = cache

	rec, err := f.ledger.GetStock(ctx, store1, variant2)
	require.NoError(t, err)
	assert.Equal(t, 4, rec.Quantity)
	assert.False(t, cache.has(store1, variant2))

	rec, err = f.ledger.GetStock(ctx, store1, variant2)
	require.NoError(t, err)
	assert.Equal(t, 5, rec.Quantity)
	assert.True(t, cache.has(store1, variant2))
}

func TestGetAdjustment_NotFound(t *testing.T) {
	f := newFixture()

	_, err := f.ledger.GetAdjustment(context.Background(), "missing")
	var appErr *apperrors.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, "NOT_FOUND", appErr.Code)
}

func TestMovementQueries(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		_, err := f.ledger.UpdateStock(ctx, UpdateStockInput{
			StoreID: store1, VariantID: variant2, Quantity: i, UserID: staff1,
		})
		require.NoError(t, err)
	}
	_, err := f.ledger.UpdateStock(ctx, UpdateStockInput{StoreID: "store-9", VariantID: variant2, Quantity: 1})
	require.NoError(t, err)

	entries, total, err := f.ledger.MovementsByVariant(ctx, variant2, nil, domain.Page{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 4, total)
	assert.Len(t, entries, 2)
	assert.Equal(t, "store-9", entries[0].StoreID)

	s := store1
	entries, total, err = f.ledger.MovementsByVariant(ctx, variant2, &s, domain.Page{Limit: 50})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Equal(t, 3, entries[0].Quantity)

	_, total, err = f.ledger.MovementsByUser(ctx, staff1, domain.Page{Limit: 50})
	require.NoError(t, err)
	assert.Equal(t, 3, total)

	_, total, err = f.ledger.MovementsByStore(ctx, store1, domain.DateRange{}, domain.Page{Limit: 50})
	require.NoError(t, err)
	assert.Equal(t, 3, total)

	records, total, err := f.ledger.ListStoreStock(ctx, store1, statusPtr(domain.StatusLimited), domain.Page{Limit: 50})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, 6, records[0].Quantity)
}

func TestMovementsByStore_RejectsInvertedRange(t *testing.T) {
	f := newFixture()
	from := time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC)
	to := from.Add(-time.Hour)

	_, _, err := f.ledger.MovementsByStore(context.Background(), store1,
		domain.DateRange{From: &from, To: &to}, domain.Page{Limit: 50})
	assert.True(t, errors.Is(err, apperrors.ErrInvalidInput))
}

// ---------------------------------------------------------------------------
// Properties
// ---------------------------------------------------------------------------

// TestRandomOperations_LedgerInvariants drives random single and bulk updates
// and checks, after every step, that balances never go negative, that every
// movement is self-consistent and that each balance equals the sum of its
// movement deltas.
func TestRandomOperations_LedgerInvariants(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	rng := rand.New(rand.NewPCG(7, 11))
	variants := []string{"v-a", "v-b", "v-c"}
	ops := []domain.Operation{domain.OpIncrement, domain.OpDecrement, domain.OpSet}

	randomChange := func() domain.StockChange {
		op := ops[rng.IntN(len(ops))]
		qty := 1 + rng.IntN(15)
		if op == domain.OpSet {
			qty = rng.IntN(20)
		}
		return domain.StockChange{VariantID: variants[rng.IntN(len(variants))], Quantity: qty, Operation: op}
	}

	for step := 0; step < 300; step++ {
		before := map[string]int{}
		for _, v := range variants {
			before[v] = f.store.quantity(store1, v)
		}
		movementsBefore := len(f.store.allMovements())

		var err error
		if rng.IntN(2) == 0 {
			c := randomChange()
			_, err = f.ledger.UpdateStock(ctx, UpdateStockInput{
				StoreID: store1, VariantID: c.VariantID, Quantity: c.Quantity, Operation: c.Operation,
			})
		} else {
			items := make([]domain.StockChange, 1+rng.IntN(4))
			for i := range items {
				items[i] = randomChange()
			}
			_, err = f.ledger.BulkUpdate(ctx, BulkUpdateInput{StoreID: store1, Reason: "random", Items: items})
		}

		if err != nil {
			require.True(t, errors.Is(err, apperrors.ErrInsufficientStock), "step %d: %v", step, err)
			for _, v := range variants {
				assert.Equal(t, before[v], f.store.quantity(store1, v), "step %d: failed batch changed %s", step, v)
			}
			assert.Len(t, f.store.allMovements(), movementsBefore)
		}

		sums := map[string]int{}
		for _, m := range f.store.allMovements() {
			want, applyErr := domain.ApplyOperation(m.VariantID, m.PreviousQuantity, m.Operation, m.Quantity)
			require.NoError(t, applyErr)
			require.Equal(t, want, m.NewQuantity, "movement %s", m.ID)
			sums[m.VariantID] += m.Delta()
		}
		for _, v := range variants {
			q := f.store.quantity(store1, v)
			require.GreaterOrEqual(t, q, 0)
			require.Equal(t, sums[v], q, "step %d: balance of %s disagrees with its movements", step, v)
			if rec, ok := f.store.record(store1, v); ok {
				require.Equal(t, domain.DeriveStatus(q), rec.Status)
			}
		}
	}
}

func TestStatusDerivation_SetAndIncrementAgree(t *testing.T) {
	for _, target := range []int{1, 10, 11, 40} {
		t.Run(fmt.Sprintf("qty=%d", target), func(t *testing.T) {
			f := newFixture()
			ctx := context.Background()

			viaSet, err := f.ledger.UpdateStock(ctx, UpdateStockInput{
				StoreID: store1, VariantID: "by-set", Quantity: target, Operation: domain.OpSet,
			})
			require.NoError(t, err)
			viaIncrement, err := f.ledger.UpdateStock(ctx, UpdateStockInput{
				StoreID: store1, VariantID: "by-increment", Quantity: target,
			})
			require.NoError(t, err)

			assert.Equal(t, viaSet.Record.Status, viaIncrement.Record.Status)
		})
	}
}

func TestConcurrentDecrements_NeverOversell(t *testing.T) {
	f := newFixture()
	f.store.seed(store1, variant2, 10)
	ctx := context.Background()

	var (
		wg           sync.WaitGroup
		mu           sync.Mutex
		succeeded    int
		insufficient int
	)
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.ledger.UpdateStock(ctx, UpdateStockInput{
				StoreID: store1, VariantID: variant2, Quantity: 1, Operation: domain.OpDecrement,
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, apperrors.ErrInsufficientStock):
				insufficient++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, succeeded)
	assert.Equal(t, 15, insufficient)
	assert.Equal(t, 0, f.store.quantity(store1, variant2))
	assert.Len(t, f.store.allMovements(), 10)
}
