package delivery

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/thiagu-r/dairy-sub000/internal/pricing"
	"github.com/thiagu-r/dairy-sub000/internal/shared"
)

// ============================================================================
// MOCK REPOSITORY
// ============================================================================

// mockRepository keeps delivery orders in memory. WithTx snapshots state and
// restores it when the callback fails.
type mockRepository struct {
	mu       sync.Mutex
	orders   map[int64]DeliveryOrder
	items    map[int64]Item
	syncKeys map[uuid.UUID]int64
	nextID   int64

	failItemProduct int64
	totalsWrites    int
}

func newMockRepository() *mockRepository {
	return &mockRepository{
		orders:   make(map[int64]DeliveryOrder),
		items:    make(map[int64]Item),
		syncKeys: make(map[uuid.UUID]int64),
		nextID:   1,
	}
}

func (m *mockRepository) addOrder(o DeliveryOrder, items ...Item) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	o.ID = m.nextID
	m.nextID++
	if o.Status == "" {
		o.Status = StatusDraft
	}
	if o.SyncStatus == "" {
		o.SyncStatus = SyncPending
	}
	o.Items = nil
	m.orders[o.ID] = o
	for _, it := range items {
		it.ID = m.nextID
		m.nextID++
		it.DeliveryOrderID = o.ID
		it.TotalPrice = LineTotal(it.DeliveredQuantity, it.UnitPrice)
		m.items[it.ID] = it
	}
	return o.ID
}

func (m *mockRepository) WithTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	m.mu.Lock()
	orders := make(map[int64]DeliveryOrder, len(m.orders))
	for k, v := range m.orders {
		orders[k] = v
	}
	items := make(map[int64]Item, len(m.items))
	for k, v := range m.items {
		items[k] = v
	}
	keys := make(map[uuid.UUID]int64, len(m.syncKeys))
	for k, v := range m.syncKeys {
		keys[k] = v
	}
	m.mu.Unlock()

	if err := fn(ctx, m); err != nil {
		m.mu.Lock()
		m.orders, m.items, m.syncKeys = orders, items, keys
		m.mu.Unlock()
		return err
	}
	return nil
}

func (m *mockRepository) get(id int64) (*DeliveryOrder, error) {
	m.mu.Lock()
	o, ok := m.orders[id]
	m.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}
	items, _ := m.ListItems(context.Background(), id)
	o.Items = items
	return &o, nil
}

func (m *mockRepository) Get(_ context.Context, id int64) (*DeliveryOrder, error) { return m.get(id) }

func (m *mockRepository) GetForUpdate(_ context.Context, id int64) (*DeliveryOrder, error) {
	return m.get(id)
}

func (m *mockRepository) FindBySalesOrder(_ context.Context, salesOrderID int64) (*DeliveryOrder, error) {
	m.mu.Lock()
	var id int64
	for _, o := range m.orders {
		if o.SalesOrderID == salesOrderID {
			id = o.ID
		}
	}
	m.mu.Unlock()
	return m.get(id)
}

func (m *mockRepository) PreviousForSeller(_ context.Context, sellerID int64, before time.Time) (*DeliveryOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var best *DeliveryOrder
	for _, o := range m.orders {
		if o.SellerID != sellerID || !o.DeliveryDate.Before(before) {
			continue
		}
		if best == nil || o.DeliveryDate.After(best.DeliveryDate) ||
			(o.DeliveryDate.Equal(best.DeliveryDate) && laterTime(o.DeliveryTime, best.DeliveryTime)) {
			o := o
			best = &o
		}
	}
	return best, nil
}

func laterTime(a, b *time.Time) bool {
	if a == nil {
		return false
	}
	return b == nil || a.After(*b)
}

func (m *mockRepository) List(_ context.Context, filter ListFilter) ([]DeliveryOrder, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []DeliveryOrder
	for _, o := range m.orders {
		if filter.From != nil && o.DeliveryDate.Before(*filter.From) {
			continue
		}
		if filter.To != nil && o.DeliveryDate.After(*filter.To) {
			continue
		}
		if filter.SellerID != nil && o.SellerID != *filter.SellerID {
			continue
		}
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	total := len(out)
	if filter.Offset >= total {
		return nil, total, nil
	}
	out = out[filter.Offset:]
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, total, nil
}

func (m *mockRepository) ListItems(_ context.Context, orderID int64) ([]Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Item
	for _, it := range m.items {
		if it.DeliveryOrderID == orderID {
			out = append(out, it)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *mockRepository) GetItem(_ context.Context, itemID int64) (*Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[itemID]
	if !ok {
		return nil, ErrItemNotFound
	}
	return &it, nil
}

func (m *mockRepository) Create(_ context.Context, o DeliveryOrder) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.orders {
		if existing.RouteID == o.RouteID && existing.SellerID == o.SellerID && existing.DeliveryDate.Equal(o.DeliveryDate) {
			return 0, ErrDuplicateOrder
		}
	}
	o.ID = m.nextID
	m.nextID++
	o.Items = nil
	m.orders[o.ID] = o
	return o.ID, nil
}

func (m *mockRepository) Update(_ context.Context, id int64, updates map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return ErrNotFound
	}
	for field, v := range updates {
		switch field {
		case "status":
			o.Status = v.(Status)
		case "sync_status":
			o.SyncStatus = v.(SyncStatus)
		case "amount_collected":
			o.AmountCollected = v.(decimal.Decimal)
		case "payment_method":
			o.PaymentMethod = v.(PaymentMethod)
		case "last_synced_at":
			t := v.(time.Time)
			o.LastSyncedAt = &t
		case "actual_delivery_at":
			t := v.(time.Time)
			o.ActualDeliveryAt = &t
		case "updated_by":
			o.UpdatedBy = v.(int64)
		default:
			return fmt.Errorf("mock: unsupported column %s", field)
		}
	}
	m.orders[id] = o
	return nil
}

func (m *mockRepository) UpdateTotals(_ context.Context, id int64, t Totals) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return ErrNotFound
	}
	o.TotalPrice, o.BalanceAmount, o.TotalBalance = t.TotalPrice, t.BalanceAmount, t.TotalBalance
	m.orders[id] = o
	m.totalsWrites++
	return nil
}

func (m *mockRepository) InsertItem(_ context.Context, it Item) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failItemProduct != 0 && it.ProductID == m.failItemProduct {
		return 0, fmt.Errorf("mock: insert product %d failed", it.ProductID)
	}
	for _, existing := range m.items {
		if existing.DeliveryOrderID == it.DeliveryOrderID && existing.ProductID == it.ProductID {
			return 0, ErrDuplicateProduct
		}
	}
	it.ID = m.nextID
	m.nextID++
	m.items[it.ID] = it
	return it.ID, nil
}

func (m *mockRepository) UpdateItem(_ context.Context, it Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[it.ID]; !ok {
		return ErrItemNotFound
	}
	if m.failItemProduct != 0 && it.ProductID == m.failItemProduct {
		return fmt.Errorf("mock: update product %d failed", it.ProductID)
	}
	m.items[it.ID] = it
	return nil
}

func (m *mockRepository) DeleteItem(_ context.Context, itemID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[itemID]; !ok {
		return ErrItemNotFound
	}
	delete(m.items, itemID)
	return nil
}

func (m *mockRepository) ClaimSync(_ context.Context, syncID uuid.UUID, deliveryOrderID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if owner, ok := m.syncKeys[syncID]; ok {
		if owner != deliveryOrderID {
			return ErrSyncIDReused
		}
		return shared.ErrIdempotencyConflict
	}
	m.syncKeys[syncID] = deliveryOrderID
	return nil
}

// ============================================================================
// HELPERS
// ============================================================================

type stubPricer map[int64]pricing.Result

func (p stubPricer) ResolveCached(_ context.Context, productID, _ int64, _ time.Time) (pricing.Result, error) {
	if r, ok := p[productID]; ok {
		return r, nil
	}
	return pricing.NotFound, nil
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
