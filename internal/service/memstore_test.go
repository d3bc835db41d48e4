package service

import (
	"context"
	"log/slog"
	"os"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/shoecom/stockledger/internal/domain"
	"github.com/shoecom/stockledger/internal/repository"
	apperrors "github.com/shoecom/stockledger/pkg/errors"
)

// memStore is an in-memory repository set with transactions. A transaction
// holds the store lock for its whole run, which stands in for row locks, and
// restores a snapshot when fn fails.
type memStore struct {
	mu    sync.Mutex
	state *memState

	// variants, when set, lists the variant ids that exist. Locking any other
	// id fails like a foreign key violation.
	variants map[string]bool
	// failAppend, when set, is consulted before every movement insert.
	failAppend func(m *domain.Movement) error
}

type pairKey struct{ store, variant string }

type memState struct {
	stock       map[pairKey]domain.StockRecord
	movements   []domain.Movement
	adjustments map[string]domain.Adjustment
	orders      map[string]domain.Order
}

func newMemStore() *memStore {
	return &memStore{state: &memState{
		stock:       map[pairKey]domain.StockRecord{},
		adjustments: map[string]domain.Adjustment{},
		orders:      map[string]domain.Order{},
	}}
}

func (s *memState) clone() *memState {
	out := &memState{
		stock:       make(map[pairKey]domain.StockRecord, len(s.stock)),
		movements:   slices.Clone(s.movements),
		adjustments: make(map[string]domain.Adjustment, len(s.adjustments)),
		orders:      make(map[string]domain.Order, len(s.orders)),
	}
	for k, v := range s.stock {
		out.stock[k] = v
	}
	for k, v := range s.adjustments {
		out.adjustments[k] = v
	}
	for k, v := range s.orders {
		v.Items = slices.Clone(v.Items)
		out.orders[k] = v
	}
	return out
}

// seed writes a balance directly, outside any transaction.
func (s *memStore) seed(storeID, variantID string, qty int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	s.state.stock[pairKey{storeID, variantID}] = domain.StockRecord{
		StoreID: storeID, VariantID: variantID, Quantity: qty,
		Status: domain.DeriveStatus(qty), CreatedAt: now, UpdatedAt: now,
	}
}

func (s *memStore) quantity(storeID, variantID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.stock[pairKey{storeID, variantID}].Quantity
}

func (s *memStore) record(storeID, variantID string) (domain.StockRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.state.stock[pairKey{storeID, variantID}]
	return rec, ok
}

func (s *memStore) allMovements() []domain.Movement {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.state.movements)
}

func (s *memStore) adjustmentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.state.adjustments)
}

// repos returns repositories that lock the store per call.
func (s *memStore) repos() repository.Repositories {
	return s.bind(false)
}

func (s *memStore) bind(inTx bool) repository.Repositories {
	b := memBinding{s: s, inTx: inTx}
	return repository.Repositories{
		Stock:       memStock{b},
		Movements:   memMovements{b},
		Adjustments: memAdjustments{b},
		Orders:      memOrders{b},
	}
}

func (s *memStore) WithinTx(ctx context.Context, fn func(ctx context.Context, repos repository.Repositories) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.state.clone()
	if err := fn(ctx, s.bind(true)); err != nil {
		s.state = snapshot
		return err
	}
	return nil
}

type memBinding struct {
	s    *memStore
	inTx bool
}

func (b memBinding) guard() func() {
	if b.inTx {
		return func() {}
	}
	b.s.mu.Lock()
	return b.s.mu.Unlock
}

// --- stock ---

type memStock struct{ memBinding }

func (r memStock) Get(_ context.Context, storeID, variantID string) (*domain.StockRecord, error) {
	defer r.guard()()
	rec, ok := r.s.state.stock[pairKey{storeID, variantID}]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return &rec, nil
}

func (r memStock) GetMany(_ context.Context, storeID string, variantIDs []string) (map[string]*domain.StockRecord, error) {
	defer r.guard()()
	out := map[string]*domain.StockRecord{}
	for _, id := range variantIDs {
		if rec, ok := r.s.state.stock[pairKey{storeID, id}]; ok {
			out[id] = &rec
		}
	}
	return out, nil
}

func (r memStock) LockForUpdate(_ context.Context, storeID, variantID string) (*domain.StockRecord, error) {
	defer r.guard()()
	if r.s.variants != nil && !r.s.variants[variantID] {
		return nil, apperrors.ReferenceNotFound("variant", nil)
	}
	k := pairKey{storeID, variantID}
	rec, ok := r.s.state.stock[k]
	if !ok {
		now := time.Now().UTC()
		rec = domain.StockRecord{
			StoreID: storeID, VariantID: variantID,
			Status: domain.StatusOutOfStock, CreatedAt: now, UpdatedAt: now,
		}
		r.s.state.stock[k] = rec
	}
	return &rec, nil
}

func (r memStock) Upsert(_ context.Context, in *domain.StockRecord) (*domain.StockRecord, error) {
	defer r.guard()()
	k := pairKey{in.StoreID, in.VariantID}
	rec := r.s.state.stock[k]
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	rec.StoreID, rec.VariantID = in.StoreID, in.VariantID
	rec.Quantity, rec.Status = in.Quantity, in.Status
	rec.UpdatedAt = time.Now().UTC()
	r.s.state.stock[k] = rec
	return &rec, nil
}

func (r memStock) ListByStore(_ context.Context, storeID string, status *domain.StockStatus, page domain.Page) ([]domain.StockRecord, int, error) {
	defer r.guard()()
	var all []domain.StockRecord
	for k, rec := range r.s.state.stock {
		if k.store == storeID && (status == nil || rec.Status == *status) {
			all = append(all, rec)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].VariantID < all[j].VariantID })
	return window(all, page), len(all), nil
}

// --- movements ---

type memMovements struct{ memBinding }

func (r memMovements) Append(_ context.Context, m *domain.Movement) error {
	defer r.guard()()
	if r.s.failAppend != nil {
		if err := r.s.failAppend(m); err != nil {
			return err
		}
	}
	r.s.state.movements = append(r.s.state.movements, *m)
	return nil
}

func (r memMovements) report(match func(m domain.Movement) bool, page domain.Page) ([]domain.MovementEntry, int, error) {
	var all []domain.MovementEntry
	for i := len(r.s.state.movements) - 1; i >= 0; i-- {
		if m := r.s.state.movements[i]; match(m) {
			all = append(all, domain.MovementEntry{Movement: m})
		}
	}
	out := window(all, page)
	if out == nil {
		out = []domain.MovementEntry{}
	}
	return out, len(all), nil
}

func (r memMovements) ByVariant(_ context.Context, variantID string, storeID *string, page domain.Page) ([]domain.MovementEntry, int, error) {
	defer r.guard()()
	return r.report(func(m domain.Movement) bool {
		return m.VariantID == variantID && (storeID == nil || m.StoreID == *storeID)
	}, page)
}

func (r memMovements) ByStore(_ context.Context, storeID string, dr domain.DateRange, page domain.Page) ([]domain.MovementEntry, int, error) {
	defer r.guard()()
	return r.report(func(m domain.Movement) bool {
		return m.StoreID == storeID &&
			(dr.From == nil || !m.CreatedAt.Before(*dr.From)) &&
			(dr.To == nil || m.CreatedAt.Before(*dr.To))
	}, page)
}

func (r memMovements) ByUser(_ context.Context, userID string, page domain.Page) ([]domain.MovementEntry, int, error) {
	defer r.guard()()
	return r.report(func(m domain.Movement) bool {
		staff, ok := m.Actor.(domain.StaffActor)
		return ok && staff.UserID == userID
	}, page)
}

func (r memMovements) ByOrder(_ context.Context, orderID string) ([]domain.Movement, error) {
	defer r.guard()()
	out := []domain.Movement{}
	for _, m := range r.s.state.movements {
		if c, ok := m.Actor.(domain.CustomerActor); ok && c.OrderID == orderID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (r memMovements) ByAdjustment(_ context.Context, adjustmentID string) ([]domain.Movement, error) {
	defer r.guard()()
	out := []domain.Movement{}
	for _, m := range r.s.state.movements {
		if staff, ok := m.Actor.(domain.StaffActor); ok && staff.AdjustmentID == adjustmentID {
			out = append(out, m)
		}
	}
	return out, nil
}

// --- adjustments ---

type memAdjustments struct{ memBinding }

func (r memAdjustments) Create(_ context.Context, a *domain.Adjustment) error {
	defer r.guard()()
	r.s.state.adjustments[a.ID] = *a
	return nil
}

func (r memAdjustments) GetByID(_ context.Context, id string) (*domain.Adjustment, error) {
	defer r.guard()()
	a, ok := r.s.state.adjustments[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return &a, nil
}

// --- orders ---

type memOrders struct{ memBinding }

func (r memOrders) Create(_ context.Context, o *domain.Order) error {
	defer r.guard()()
	cp := *o
	cp.Items = slices.Clone(o.Items)
	r.s.state.orders[o.ID] = cp
	return nil
}

func (r memOrders) get(id string) (*domain.Order, error) {
	o, ok := r.s.state.orders[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	o.Items = slices.Clone(o.Items)
	return &o, nil
}

func (r memOrders) GetByID(_ context.Context, id string) (*domain.Order, error) {
	defer r.guard()()
	return r.get(id)
}

func (r memOrders) LockForUpdate(_ context.Context, id string) (*domain.Order, error) {
	defer r.guard()()
	return r.get(id)
}

func (r memOrders) SetStockState(_ context.Context, id string, state domain.StockState, reason string) error {
	defer r.guard()()
	o, ok := r.s.state.orders[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	o.StockState, o.Reason = state, reason
	r.s.state.orders[id] = o
	return nil
}

func window[T any](all []T, page domain.Page) []T {
	if page.Offset >= len(all) {
		return nil
	}
	end := len(all)
	if page.Limit > 0 && page.Offset+page.Limit < end {
		end = page.Offset + page.Limit
	}
	return all[page.Offset:end]
}

// --- collaborators ---

type publishedEvent struct {
	kind    string
	variant string
	id      string
}

// recordingPublisher keeps every published event in order.
type recordingPublisher struct {
	mu     sync.Mutex
	events []publishedEvent
	err    error
}

func (p *recordingPublisher) add(e publishedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return p.err
}

func (p *recordingPublisher) kinds() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.kind
	}
	return out
}

func (p *recordingPublisher) PublishStockUpdated(_ context.Context, rec *domain.StockRecord, m *domain.Movement) error {
	return p.add(publishedEvent{kind: "stock.updated", variant: rec.VariantID, id: m.ID})
}

func (p *recordingPublisher) PublishLowStock(_ context.Context, rec *domain.StockRecord) error {
	return p.add(publishedEvent{kind: "stock.low_stock", variant: rec.VariantID})
}

func (p *recordingPublisher) PublishStockAdjusted(_ context.Context, a *domain.Adjustment, _ []domain.Movement) error {
	return p.add(publishedEvent{kind: "stock.adjusted", id: a.ID})
}

func (p *recordingPublisher) PublishOrderStockReserved(_ context.Context, o *domain.Order) error {
	return p.add(publishedEvent{kind: "order_stock.reserved", id: o.ID})
}

func (p *recordingPublisher) PublishOrderStockRestored(_ context.Context, o *domain.Order) error {
	return p.add(publishedEvent{kind: "order_stock.restored", id: o.ID})
}

// mapCache is a StockCache over a map. Like the Redis cache it remembers the
// newest version seen per pair and refuses older records.
type mapCache struct {
	mu       sync.Mutex
	entries  map[pairKey]domain.StockRecord
	versions map[pairKey]time.Time
	gets     int
}

func newMapCache() *mapCache {
	return &mapCache{entries: map[pairKey]domain.StockRecord{}, versions: map[pairKey]time.Time{}}
}

func (c *mapCache) Get(_ context.Context, storeID, variantID string) (*domain.StockRecord, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	rec, ok := c.entries[pairKey{storeID, variantID}]
	if !ok {
		return nil, false, nil
	}
	return &rec, true, nil
}

func (c *mapCache) Set(_ context.Context, rec *domain.StockRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := pairKey{rec.StoreID, rec.VariantID}
	if rec.UpdatedAt.Before(c.versions[k]) {
		return nil
	}
	c.entries[k] = *rec
	c.versions[k] = rec.UpdatedAt
	return nil
}

func (c *mapCache) Invalidate(_ context.Context, records ...*domain.StockRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, rec := range records {
		k := pairKey{rec.StoreID, rec.VariantID}
		if rec.UpdatedAt.Before(c.versions[k]) {
			continue
		}
		delete(c.entries, k)
		c.versions[k] = rec.UpdatedAt
	}
	return nil
}

func (c *mapCache) has(storeID, variantID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[pairKey{storeID, variantID}]
	return ok
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fixture struct {
	store     *memStore
	publisher *recordingPublisher
	ledger    *LedgerService
	orders    *OrderService
}

func newFixture() *fixture {
	store := newMemStore()
	pub := &recordingPublisher{}
	ledger := NewLedgerService(store.repos(), store, nil, pub, newTestLogger())
	return &fixture{
		store:     store,
		publisher: pub,
		ledger:    ledger,
		orders:    NewOrderService(ledger, newTestLogger()),
	}
}
