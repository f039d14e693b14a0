package pricing

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// ============================================================================
// MOCK REPOSITORY
// ============================================================================

type mockRepository struct {
	mu      sync.Mutex
	plans   []PricePlan
	prices  map[int64]map[int64]decimal.Decimal
	cache   []CacheEntry
	nextID  int64
	lookups int

	txError error
}

func newMockRepository() *mockRepository {
	return &mockRepository{prices: make(map[int64]map[int64]decimal.Decimal), nextID: 1}
}

func (m *mockRepository) addPlan(plan PricePlan, prices map[int64]string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	plan.ID = m.nextID
	m.nextID++
	if plan.CreatedAt.IsZero() {
		plan.CreatedAt = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(plan.ID) * time.Hour)
	}
	m.plans = append(m.plans, plan)
	m.prices[plan.ID] = make(map[int64]decimal.Decimal)
	for product, p := range prices {
		m.prices[plan.ID][product] = decimal.RequireFromString(p)
	}
	return plan.ID
}

func (m *mockRepository) WithTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	if m.txError != nil {
		return m.txError
	}
	return fn(ctx, m)
}

func (m *mockRepository) PlanPrice(_ context.Context, productID int64, sellerID *int64, date time.Time) (decimal.Decimal, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lookups++
	candidates := make([]PricePlan, 0)
	for _, p := range m.plans {
		if !p.IsActive || !p.ValidOn(date) {
			continue
		}
		if sellerID != nil && (p.IsGeneral || p.SellerID == nil || *p.SellerID != *sellerID) {
			continue
		}
		if sellerID == nil && !p.IsGeneral {
			continue
		}
		if _, ok := m.prices[p.ID][productID]; ok {
			candidates = append(candidates, p)
		}
	}
	if len(candidates) == 0 {
		return decimal.Zero, false, nil
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].CreatedAt.After(candidates[j].CreatedAt) })
	return m.prices[candidates[0].ID][productID], true, nil
}

func (m *mockRepository) CachePrice(_ context.Context, productID int64, sellerID *int64, date time.Time) (decimal.Decimal, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.cache {
		if e.ProductID != productID || !e.IsActive || date.Before(e.ValidFrom) || (e.ValidTo != nil && date.After(*e.ValidTo)) {
			continue
		}
		if (sellerID == nil) != (e.SellerID == nil) {
			continue
		}
		if sellerID != nil && *sellerID != *e.SellerID {
			continue
		}
		return e.Price, true, nil
	}
	return decimal.Zero, false, nil
}

func (m *mockRepository) CreatePlan(_ context.Context, plan PricePlan) (int64, error) {
	return m.addPlan(plan, nil), nil
}

func (m *mockRepository) UpsertProductPrices(_ context.Context, planID int64, prices []ProductPrice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range prices {
		m.prices[planID][p.ProductID] = p.Price
	}
	return nil
}

func (m *mockRepository) EffectivePlanPrices(ctx context.Context, date time.Time) ([]CacheEntry, error) {
	type key struct {
		seller  int64
		product int64
	}
	best := make(map[key]PricePlan)
	m.mu.Lock()
	for _, p := range m.plans {
		if !p.IsActive || !p.ValidOn(date) {
			continue
		}
		var seller int64
		if !p.IsGeneral && p.SellerID != nil {
			seller = *p.SellerID
		}
		for product := range m.prices[p.ID] {
			k := key{seller, product}
			if cur, ok := best[k]; !ok || p.CreatedAt.After(cur.CreatedAt) {
				best[k] = p
			}
		}
	}
	var out []CacheEntry
	for k, p := range best {
		e := CacheEntry{ProductID: k.product, Price: m.prices[p.ID][k.product], ValidFrom: p.ValidFrom, ValidTo: p.ValidTo, IsActive: true}
		if k.seller != 0 {
			s := k.seller
			e.SellerID = &s
		}
		out = append(out, e)
	}
	m.mu.Unlock()
	return out, nil
}

func (m *mockRepository) UpsertCacheEntries(_ context.Context, entries []CacheEntry) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache = append(m.cache, entries...)
	return len(entries), nil
}

func int64Ptr(v int64) *int64 { return &v }

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
