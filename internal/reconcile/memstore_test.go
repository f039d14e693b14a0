package reconcile

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/thiagu-r/dairy-sub000/internal/delivery"
	"github.com/thiagu-r/dairy-sub000/internal/masterdata"
	"github.com/thiagu-r/dairy-sub000/internal/numbering"
	"github.com/thiagu-r/dairy-sub000/internal/pricing"
	"github.com/thiagu-r/dairy-sub000/internal/sales"
)

// ============================================================================
// IN-MEMORY STORE
// ============================================================================

// memStore keeps both order families in memory. A failing transaction
// restores the state it started from.
type memStore struct {
	mu sync.Mutex

	sellers        map[int64]masterdata.Seller
	salesOrders    map[int64]sales.SalesOrder
	salesItems     map[int64]sales.OrderItem
	deliveryOrders map[int64]delivery.DeliveryOrder
	deliveryItems  map[int64]delivery.Item
	nextID         int64

	numbers *numbering.MemoryStore

	failDeliveryProducts map[int64]bool
	txCount              int
}

func newMemStore() *memStore {
	return &memStore{
		sellers:              make(map[int64]masterdata.Seller),
		salesOrders:          make(map[int64]sales.SalesOrder),
		salesItems:           make(map[int64]sales.OrderItem),
		deliveryOrders:       make(map[int64]delivery.DeliveryOrder),
		deliveryItems:        make(map[int64]delivery.Item),
		nextID:               1,
		numbers:              numbering.NewMemoryStore(),
		failDeliveryProducts: make(map[int64]bool),
	}
}

type memSnapshot struct {
	salesOrders    map[int64]sales.SalesOrder
	salesItems     map[int64]sales.OrderItem
	deliveryOrders map[int64]delivery.DeliveryOrder
	deliveryItems  map[int64]delivery.Item
}

func copyMap[K comparable, V any](in map[K]V) map[K]V {
	out := make(map[K]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func (s *memStore) WithTx(ctx context.Context, fn func(context.Context, Repos) error) error {
	s.mu.Lock()
	s.txCount++
	snap := memSnapshot{
		salesOrders:    copyMap(s.salesOrders),
		salesItems:     copyMap(s.salesItems),
		deliveryOrders: copyMap(s.deliveryOrders),
		deliveryItems:  copyMap(s.deliveryItems),
	}
	s.mu.Unlock()

	err := fn(ctx, Repos{
		Sales:      &memSales{s},
		Delivery:   &memDelivery{s},
		Numbers:    numbering.NewAllocator(s.numbers),
		Masterdata: memMasterdata{s},
		Savepoint:  func(_ context.Context, fn func() error) error { return fn() },
	})
	if err != nil {
		s.mu.Lock()
		s.salesOrders, s.salesItems = snap.salesOrders, snap.salesItems
		s.deliveryOrders, s.deliveryItems = snap.deliveryOrders, snap.deliveryItems
		s.mu.Unlock()
	}
	return err
}

func (s *memStore) Sales() sales.Repository       { return &memSales{s} }
func (s *memStore) Delivery() delivery.Repository { return &memDelivery{s} }

func (s *memStore) id() int64 {
	id := s.nextID
	s.nextID++
	return id
}

func (s *memStore) addSeller(id, routeID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sellers[id] = masterdata.Seller{ID: id, Code: fmt.Sprintf("S%03d", id), RouteID: routeID, IsActive: true}
}

func (s *memStore) deactivateSeller(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seller := s.sellers[id]
	seller.IsActive = false
	s.sellers[id] = seller
}

// ---------------------------------------------------------------------------
// masterdata

type memMasterdata struct{ s *memStore }

func (m memMasterdata) GetSeller(_ context.Context, id int64) (masterdata.Seller, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	seller, ok := m.s.sellers[id]
	if !ok {
		return masterdata.Seller{}, masterdata.ErrNotFound
	}
	return seller, nil
}

func (m memMasterdata) GetRoute(_ context.Context, id int64) (masterdata.Route, error) {
	return masterdata.Route{ID: id}, nil
}

func (m memMasterdata) GetProductByCode(context.Context, string) (masterdata.Product, error) {
	return masterdata.Product{}, masterdata.ErrNotFound
}

func (m memMasterdata) ListProducts(context.Context, []int64) (map[int64]masterdata.Product, error) {
	return map[int64]masterdata.Product{}, nil
}

// ---------------------------------------------------------------------------
// sales

type memSales struct{ s *memStore }

func (m *memSales) WithTx(ctx context.Context, fn func(context.Context, sales.Repository) error) error {
	return fn(ctx, m)
}

func (m *memSales) Create(_ context.Context, o sales.SalesOrder) (int64, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, existing := range m.s.salesOrders {
		if existing.SellerID == o.SellerID && existing.DeliveryDate.Equal(o.DeliveryDate) {
			return 0, sales.ErrDuplicateOrder
		}
	}
	o.ID = m.s.id()
	o.Items = nil
	m.s.salesOrders[o.ID] = o
	return o.ID, nil
}

func (m *memSales) Get(_ context.Context, id int64) (*sales.SalesOrder, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	o, ok := m.s.salesOrders[id]
	if !ok {
		return nil, sales.ErrNotFound
	}
	o.Items = nil
	for _, it := range m.s.salesItems {
		if it.SalesOrderID == id {
			o.Items = append(o.Items, it)
		}
	}
	sort.Slice(o.Items, func(i, j int) bool { return o.Items[i].ID < o.Items[j].ID })
	return &o, nil
}

func (m *memSales) GetForUpdate(ctx context.Context, id int64) (*sales.SalesOrder, error) {
	return m.Get(ctx, id)
}

func (m *memSales) GetItem(_ context.Context, itemID int64) (*sales.OrderItem, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	it, ok := m.s.salesItems[itemID]
	if !ok {
		return nil, sales.ErrItemNotFound
	}
	return &it, nil
}

func (m *memSales) InsertItem(_ context.Context, it sales.OrderItem) (int64, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, existing := range m.s.salesItems {
		if existing.SalesOrderID == it.SalesOrderID && existing.ProductID == it.ProductID {
			return 0, sales.ErrDuplicateProduct
		}
	}
	it.ID = m.s.id()
	m.s.salesItems[it.ID] = it
	return it.ID, nil
}

func (m *memSales) UpdateItem(_ context.Context, it sales.OrderItem) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if _, ok := m.s.salesItems[it.ID]; !ok {
		return sales.ErrItemNotFound
	}
	m.s.salesItems[it.ID] = it
	return nil
}

func (m *memSales) DeleteItem(_ context.Context, itemID int64) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if _, ok := m.s.salesItems[itemID]; !ok {
		return sales.ErrItemNotFound
	}
	delete(m.s.salesItems, itemID)
	return nil
}

func (m *memSales) UpdateStatus(_ context.Context, o sales.SalesOrder) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	stored, ok := m.s.salesOrders[o.ID]
	if !ok {
		return sales.ErrNotFound
	}
	stored.Status, stored.Delivered, stored.ActualDeliveryAt, stored.UpdatedBy = o.Status, o.Delivered, o.ActualDeliveryAt, o.UpdatedBy
	m.s.salesOrders[o.ID] = stored
	return nil
}

func (m *memSales) Touch(_ context.Context, id, userID int64) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	o := m.s.salesOrders[id]
	o.UpdatedBy = userID
	m.s.salesOrders[id] = o
	return nil
}

func (m *memSales) List(_ context.Context, filter sales.ListFilter) ([]sales.SalesOrder, int, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var out []sales.SalesOrder
	for _, o := range m.s.salesOrders {
		if filter.SellerID != nil && o.SellerID != *filter.SellerID {
			continue
		}
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, len(out), nil
}

// ---------------------------------------------------------------------------
// delivery

type memDelivery struct{ s *memStore }

func (m *memDelivery) WithTx(ctx context.Context, fn func(context.Context, delivery.Repository) error) error {
	return fn(ctx, m)
}

func (m *memDelivery) Get(_ context.Context, id int64) (*delivery.DeliveryOrder, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	return m.getLocked(id)
}

func (m *memDelivery) getLocked(id int64) (*delivery.DeliveryOrder, error) {
	o, ok := m.s.deliveryOrders[id]
	if !ok {
		return nil, delivery.ErrNotFound
	}
	o.Items = m.itemsLocked(id)
	return &o, nil
}

func (m *memDelivery) itemsLocked(orderID int64) []delivery.Item {
	var out []delivery.Item
	for _, it := range m.s.deliveryItems {
		if it.DeliveryOrderID == orderID {
			out = append(out, it)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *memDelivery) GetForUpdate(ctx context.Context, id int64) (*delivery.DeliveryOrder, error) {
	return m.Get(ctx, id)
}

func (m *memDelivery) FindBySalesOrder(_ context.Context, salesOrderID int64) (*delivery.DeliveryOrder, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for id, o := range m.s.deliveryOrders {
		if o.SalesOrderID == salesOrderID {
			return m.getLocked(id)
		}
	}
	return nil, delivery.ErrNotFound
}

func (m *memDelivery) PreviousForSeller(_ context.Context, sellerID int64, before time.Time) (*delivery.DeliveryOrder, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var best *delivery.DeliveryOrder
	for _, o := range m.s.deliveryOrders {
		if o.SellerID != sellerID || !o.DeliveryDate.Before(before) {
			continue
		}
		if best == nil || o.DeliveryDate.After(best.DeliveryDate) {
			o := o
			best = &o
		}
	}
	return best, nil
}

func (m *memDelivery) List(_ context.Context, _ delivery.ListFilter) ([]delivery.DeliveryOrder, int, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var out []delivery.DeliveryOrder
	for _, o := range m.s.deliveryOrders {
		out = append(out, o)
	}
	return out, len(out), nil
}

func (m *memDelivery) ListItems(_ context.Context, orderID int64) ([]delivery.Item, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	return m.itemsLocked(orderID), nil
}

func (m *memDelivery) GetItem(_ context.Context, itemID int64) (*delivery.Item, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	it, ok := m.s.deliveryItems[itemID]
	if !ok {
		return nil, delivery.ErrItemNotFound
	}
	return &it, nil
}

func (m *memDelivery) Create(_ context.Context, o delivery.DeliveryOrder) (int64, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, existing := range m.s.deliveryOrders {
		if existing.RouteID == o.RouteID && existing.SellerID == o.SellerID && existing.DeliveryDate.Equal(o.DeliveryDate) {
			return 0, delivery.ErrDuplicateOrder
		}
	}
	o.ID = m.s.id()
	o.Items = nil
	m.s.deliveryOrders[o.ID] = o
	return o.ID, nil
}

func (m *memDelivery) Update(_ context.Context, id int64, updates map[string]any) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	o, ok := m.s.deliveryOrders[id]
	if !ok {
		return delivery.ErrNotFound
	}
	for field, v := range updates {
		switch field {
		case "status":
			o.Status = v.(delivery.Status)
		case "actual_delivery_at":
			t := v.(time.Time)
			o.ActualDeliveryAt = &t
		case "updated_by":
			o.UpdatedBy = v.(int64)
		default:
			return fmt.Errorf("mem: unsupported column %s", field)
		}
	}
	m.s.deliveryOrders[id] = o
	return nil
}

func (m *memDelivery) UpdateTotals(_ context.Context, id int64, t delivery.Totals) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	o, ok := m.s.deliveryOrders[id]
	if !ok {
		return delivery.ErrNotFound
	}
	o.TotalPrice, o.BalanceAmount, o.TotalBalance = t.TotalPrice, t.BalanceAmount, t.TotalBalance
	m.s.deliveryOrders[id] = o
	return nil
}

func (m *memDelivery) InsertItem(_ context.Context, it delivery.Item) (int64, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if m.s.failDeliveryProducts[it.ProductID] {
		return 0, fmt.Errorf("mem: insert product %d rejected", it.ProductID)
	}
	for _, existing := range m.s.deliveryItems {
		if existing.DeliveryOrderID == it.DeliveryOrderID && existing.ProductID == it.ProductID {
			return 0, delivery.ErrDuplicateProduct
		}
	}
	it.ID = m.s.id()
	m.s.deliveryItems[it.ID] = it
	return it.ID, nil
}

func (m *memDelivery) UpdateItem(_ context.Context, it delivery.Item) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if m.s.failDeliveryProducts[it.ProductID] {
		return fmt.Errorf("mem: update product %d rejected", it.ProductID)
	}
	if _, ok := m.s.deliveryItems[it.ID]; !ok {
		return delivery.ErrItemNotFound
	}
	m.s.deliveryItems[it.ID] = it
	return nil
}

func (m *memDelivery) DeleteItem(_ context.Context, itemID int64) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if _, ok := m.s.deliveryItems[itemID]; !ok {
		return delivery.ErrItemNotFound
	}
	delete(m.s.deliveryItems, itemID)
	return nil
}

func (m *memDelivery) ClaimSync(context.Context, uuid.UUID, int64) error { return nil }

// setDelivery mutates a stored delivery order directly.
func (s *memStore) setDelivery(id int64, fn func(*delivery.DeliveryOrder)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o := s.deliveryOrders[id]
	fn(&o)
	s.deliveryOrders[id] = o
}

// adjustDelivered simulates an operator override of a delivery line.
func (s *memStore) adjustDelivered(orderID, productID int64, qty string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, it := range s.deliveryItems {
		if it.DeliveryOrderID == orderID && it.ProductID == productID {
			it.DeliveredQuantity = decimal.RequireFromString(qty)
			it.ManuallyAdjusted = true
			it.TotalPrice = delivery.LineTotal(it.DeliveredQuantity, it.UnitPrice)
			s.deliveryItems[id] = it
		}
	}
}

// ============================================================================
// STUBS
// ============================================================================

type stubPricer struct {
	plan  map[int64]pricing.Result
	cache map[int64]pricing.Result
}

func (p stubPricer) Resolve(_ context.Context, productID, _ int64, _ time.Time) (pricing.Result, error) {
	if r, ok := p.plan[productID]; ok {
		return r, nil
	}
	return pricing.NotFound, nil
}

func (p stubPricer) ResolveCached(_ context.Context, productID, _ int64, _ time.Time) (pricing.Result, error) {
	if r, ok := p.cache[productID]; ok {
		return r, nil
	}
	return pricing.NotFound, nil
}

type countingRecorder struct {
	mu       sync.Mutex
	ops      map[string]int
	failures map[string]int
	defaults map[string]int
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{ops: map[string]int{}, failures: map[string]int{}, defaults: map[string]int{}}
}

func (r *countingRecorder) ObserveReconcile(op string, _ time.Duration, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops[op]++
	if err != nil {
		r.failures[op]++
	}
}

func (r *countingRecorder) PriceDefaulted(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaults[path]++
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
