package pricing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/thiagu-r/dairy-sub000/internal/platform/db"
)

// Repository persists price plans and the offline price cache.
type Repository interface {
	Lookup
	WithTx(ctx context.Context, fn func(context.Context, Repository) error) error
	CreatePlan(ctx context.Context, plan PricePlan) (int64, error)
	UpsertProductPrices(ctx context.Context, planID int64, prices []ProductPrice) error
	EffectivePlanPrices(ctx context.Context, date time.Time) ([]CacheEntry, error)
	UpsertCacheEntries(ctx context.Context, entries []CacheEntry) (int, error)
}

// ErrDuplicatePrice indicates the same product twice in one plan.
var ErrDuplicatePrice = errors.New("pricing: product already priced in plan")

type repository struct {
	db       db.DBTX
	beginner db.Beginner
}

// NewRepository creates a repository over a pool or an open transaction.
func NewRepository(q db.DBTX) Repository {
	b, _ := q.(db.Beginner)
	return &repository{db: q, beginner: b}
}

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	if r.beginner == nil {
		return fn(ctx, r)
	}
	return db.WithTx(ctx, r.beginner, func(tx pgx.Tx) error {
		return fn(ctx, &repository{db: tx})
	})
}

const (
	sellerPlanPriceQuery = `
		SELECT pr.price
		FROM price_plans pp
		INNER JOIN product_prices pr ON pr.plan_id = pp.id
		WHERE pr.product_id = $1
		  AND pp.is_general = FALSE AND pp.seller_id = $2
		  AND pp.is_active
		  AND pp.valid_from <= $3 AND (pp.valid_to IS NULL OR pp.valid_to >= $3)
		ORDER BY pp.created_at DESC, pp.id DESC
		LIMIT 1
	`
	generalPlanPriceQuery = `
		SELECT pr.price
		FROM price_plans pp
		INNER JOIN product_prices pr ON pr.plan_id = pp.id
		WHERE pr.product_id = $1
		  AND pp.is_general = TRUE
		  AND pp.is_active
		  AND pp.valid_from <= $2 AND (pp.valid_to IS NULL OR pp.valid_to >= $2)
		ORDER BY pp.created_at DESC, pp.id DESC
		LIMIT 1
	`
	sellerCachePriceQuery = `
		SELECT price FROM seller_price_cache
		WHERE product_id = $1 AND seller_id = $2 AND is_active
		  AND valid_from <= $3 AND (valid_to IS NULL OR valid_to >= $3)
		ORDER BY valid_from DESC
		LIMIT 1
	`
	generalCachePriceQuery = `
		SELECT price FROM general_price_cache
		WHERE product_id = $1 AND is_active
		  AND valid_from <= $2 AND (valid_to IS NULL OR valid_to >= $2)
		ORDER BY valid_from DESC
		LIMIT 1
	`
)

func (r *repository) PlanPrice(ctx context.Context, productID int64, sellerID *int64, date time.Time) (decimal.Decimal, bool, error) {
	if sellerID != nil {
		return r.scanPrice(ctx, sellerPlanPriceQuery, productID, *sellerID, date)
	}
	return r.scanPrice(ctx, generalPlanPriceQuery, productID, date)
}

func (r *repository) CachePrice(ctx context.Context, productID int64, sellerID *int64, date time.Time) (decimal.Decimal, bool, error) {
	if sellerID != nil {
		return r.scanPrice(ctx, sellerCachePriceQuery, productID, *sellerID, date)
	}
	return r.scanPrice(ctx, generalCachePriceQuery, productID, date)
}

func (r *repository) scanPrice(ctx context.Context, query string, args ...any) (decimal.Decimal, bool, error) {
	var price decimal.Decimal
	err := r.db.QueryRow(ctx, query, args...).Scan(&price)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, err
	}
	return price, true, nil
}

func (r *repository) CreatePlan(ctx context.Context, plan PricePlan) (int64, error) {
	query := `
		INSERT INTO price_plans (name, seller_id, is_general, valid_from, valid_to, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		RETURNING id
	`
	var id int64
	err := r.db.QueryRow(ctx, query, plan.Name, plan.SellerID, plan.IsGeneral, plan.ValidFrom, plan.ValidTo, plan.IsActive).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert price plan: %w", err)
	}
	return id, nil
}

func (r *repository) UpsertProductPrices(ctx context.Context, planID int64, prices []ProductPrice) error {
	batch := &pgx.Batch{}
	for _, p := range prices {
		batch.Queue(`
			INSERT INTO product_prices (plan_id, product_id, price)
			VALUES ($1, $2, $3)
			ON CONFLICT (plan_id, product_id) DO UPDATE SET price = EXCLUDED.price
		`, planID, p.ProductID, p.Price)
	}
	return r.sendBatch(ctx, batch)
}

// EffectivePlanPrices returns, for every (seller or general, product), the
// price of the most recently created active plan valid on date.
func (r *repository) EffectivePlanPrices(ctx context.Context, date time.Time) ([]CacheEntry, error) {
	query := `
		SELECT DISTINCT ON (COALESCE(pp.seller_id, 0), pr.product_id)
		       CASE WHEN pp.is_general THEN NULL ELSE pp.seller_id END,
		       pr.product_id, pr.price, pp.valid_from, pp.valid_to
		FROM price_plans pp
		INNER JOIN product_prices pr ON pr.plan_id = pp.id
		WHERE pp.is_active
		  AND pp.valid_from <= $1 AND (pp.valid_to IS NULL OR pp.valid_to >= $1)
		  AND (pp.is_general OR pp.seller_id IS NOT NULL)
		ORDER BY COALESCE(pp.seller_id, 0), pr.product_id, pp.created_at DESC, pp.id DESC
	`
	rows, err := r.db.Query(ctx, query, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []CacheEntry
	for rows.Next() {
		e := CacheEntry{IsActive: true}
		if err := rows.Scan(&e.SellerID, &e.ProductID, &e.Price, &e.ValidFrom, &e.ValidTo); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (r *repository) UpsertCacheEntries(ctx context.Context, entries []CacheEntry) (int, error) {
	batch := &pgx.Batch{}
	for _, e := range entries {
		if e.SellerID != nil {
			batch.Queue(`
				INSERT INTO seller_price_cache (seller_id, product_id, price, valid_from, valid_to, is_active, updated_at)
				VALUES ($1, $2, $3, $4, $5, $6, NOW())
				ON CONFLICT (seller_id, product_id, valid_from)
				DO UPDATE SET price = EXCLUDED.price, valid_to = EXCLUDED.valid_to, is_active = EXCLUDED.is_active, updated_at = NOW()
			`, *e.SellerID, e.ProductID, e.Price, e.ValidFrom, e.ValidTo, e.IsActive)
			continue
		}
		batch.Queue(`
			INSERT INTO general_price_cache (product_id, price, valid_from, valid_to, is_active, updated_at)
			VALUES ($1, $2, $3, $4, $5, NOW())
			ON CONFLICT (product_id, valid_from)
			DO UPDATE SET price = EXCLUDED.price, valid_to = EXCLUDED.valid_to, is_active = EXCLUDED.is_active, updated_at = NOW()
		`, e.ProductID, e.Price, e.ValidFrom, e.ValidTo, e.IsActive)
	}
	if err := r.sendBatch(ctx, batch); err != nil {
		return 0, err
	}
	return len(entries), nil
}

func (r *repository) sendBatch(ctx context.Context, batch *pgx.Batch) error {
	if batch.Len() == 0 {
		return nil
	}
	sender, ok := r.db.(interface {
		SendBatch(context.Context, *pgx.Batch) pgx.BatchResults
	})
	if !ok {
		return errors.New("pricing: connection does not support batches")
	}
	results := sender.SendBatch(ctx, batch)
	defer results.Close()
	for i := 0; i < batch.Len(); i++ {
		if _, err := results.Exec(); err != nil {
			if db.IsUniqueViolation(err) {
				return ErrDuplicatePrice
			}
			return fmt.Errorf("batch statement %d: %w", i, err)
		}
	}
	return results.Close()
}
