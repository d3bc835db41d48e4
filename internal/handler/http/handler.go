package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/shoecom/stockledger/internal/domain"
	"github.com/shoecom/stockledger/internal/service"
	apperrors "github.com/shoecom/stockledger/pkg/errors"
	"github.com/shoecom/stockledger/pkg/httputil"
	"github.com/shoecom/stockledger/pkg/middleware"
	"github.com/shoecom/stockledger/pkg/pagination"
)

// StockLedger is the ledger surface served over HTTP.
type StockLedger interface {
	GetStock(ctx context.Context, storeID, variantID string) (*domain.StockRecord, error)
	ListStoreStock(ctx context.Context, storeID string, status *domain.StockStatus, page domain.Page) ([]domain.StockRecord, int, error)
	UpdateStock(ctx context.Context, in service.UpdateStockInput) (*service.UpdateStockResult, error)
	BulkUpdate(ctx context.Context, in service.BulkUpdateInput) ([]*domain.StockRecord, error)
	GetAdjustment(ctx context.Context, id string) (*domain.AdjustmentDetail, error)
	MovementsByVariant(ctx context.Context, variantID string, storeID *string, page domain.Page) ([]domain.MovementEntry, int, error)
	MovementsByStore(ctx context.Context, storeID string, dr domain.DateRange, page domain.Page) ([]domain.MovementEntry, int, error)
	MovementsByUser(ctx context.Context, userID string, page domain.Page) ([]domain.MovementEntry, int, error)
}

// OrderStock is the order lifecycle surface served over HTTP.
type OrderStock interface {
	PlaceOrder(ctx context.Context, in service.PlaceOrderInput) (*domain.Order, error)
	GetOrder(ctx context.Context, id string) (*domain.Order, error)
	CancelOrder(ctx context.Context, id, reason string) (*domain.Order, error)
	ReturnOrder(ctx context.Context, id, reason string) (*domain.Order, error)
}

const dateLayout = "2006-01-02"

// pageFromRequest reads limit and offset. On failure it writes a 400 and
// returns false.
func pageFromRequest(w http.ResponseWriter, r *http.Request) (pagination.Params, bool) {
	params, err := pagination.FromRequest(r)
	if err != nil {
		var pe *pagination.ParamError
		if errors.As(err, &pe) {
			httputil.WriteError(w, r, apperrors.Validation(pe.Name, pe.Reason), nil)
			return params, false
		}
		httputil.WriteError(w, r, apperrors.InvalidInput(err.Error()), nil)
		return params, false
	}
	return params, true
}

func toPage(p pagination.Params) domain.Page {
	return domain.Page{Limit: p.Limit, Offset: p.Offset}
}

// parseRangeBound accepts an RFC 3339 timestamp or a YYYY-MM-DD date. Upper
// bounds are inclusive, so they are pushed past the named instant or day to
// fit the exclusive end of domain.DateRange.
func parseRangeBound(name, raw string, upper bool) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		if upper {
			t = t.Add(time.Nanosecond)
		}
		return &t, nil
	}
	t, err := time.Parse(dateLayout, raw)
	if err != nil {
		return nil, apperrors.Validation(name, "must be an RFC 3339 timestamp or a YYYY-MM-DD date")
	}
	if upper {
		t = t.AddDate(0, 0, 1)
	}
	return &t, nil
}

// actingUser prefers an explicit userId from the body and falls back to the
// identity resolved by middleware.
func actingUser(r *http.Request, fromBody string) string {
	if fromBody != "" {
		return fromBody
	}
	return middleware.UserIDFromContext(r.Context())
}

// decodeOptionalJSON is DecodeJSON for endpoints whose body may be omitted.
func decodeOptionalJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if r.Body == nil || r.Body == http.NoBody || r.ContentLength == 0 {
		return true
	}
	return httputil.DecodeJSON(w, r, dst)
}

func parseStatus(raw string) (*domain.StockStatus, error) {
	st, err := domain.ParseStockStatus(raw)
	if err != nil {
		return nil, apperrors.Validation("status", "must be one of: IN_STOCK LIMITED OUT_OF_STOCK")
	}
	return st, nil
}
