package pricing

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Lookup reads single prices from storage. A nil sellerID selects general
// plans or general cache entries.
type Lookup interface {
	PlanPrice(ctx context.Context, productID int64, sellerID *int64, date time.Time) (decimal.Decimal, bool, error)
	CachePrice(ctx context.Context, productID int64, sellerID *int64, date time.Time) (decimal.Decimal, bool, error)
}

// Resolver applies the price precedence rules.
type Resolver struct {
	lookup Lookup
}

// NewResolver constructs a Resolver.
func NewResolver(lookup Lookup) *Resolver {
	return &Resolver{lookup: lookup}
}

type tier struct {
	source Source
	seller bool
	fetch  func(context.Context, int64, *int64, time.Time) (decimal.Decimal, bool, error)
}

// Resolve looks a price up in the live plan tables: the seller's own active
// plan first, then the general plan. Within a tier the most recently created
// plan wins.
func (r *Resolver) Resolve(ctx context.Context, productID, sellerID int64, date time.Time) (Result, error) {
	return r.walk(ctx, productID, sellerID, date, []tier{
		{source: SourceSellerPlan, seller: true, fetch: r.lookup.PlanPrice},
		{source: SourceGeneralPlan, fetch: r.lookup.PlanPrice},
	})
}

// ResolveCached looks a price up in the offline cache tables: the seller
// cache first, then the general cache.
func (r *Resolver) ResolveCached(ctx context.Context, productID, sellerID int64, date time.Time) (Result, error) {
	return r.walk(ctx, productID, sellerID, date, []tier{
		{source: SourceSellerCache, seller: true, fetch: r.lookup.CachePrice},
		{source: SourceGeneralCache, fetch: r.lookup.CachePrice},
	})
}

func (r *Resolver) walk(ctx context.Context, productID, sellerID int64, date time.Time, tiers []tier) (Result, error) {
	for _, t := range tiers {
		var seller *int64
		if t.seller {
			if sellerID == 0 {
				continue
			}
			seller = &sellerID
		}
		price, ok, err := t.fetch(ctx, productID, seller, date)
		if err != nil {
			return Result{}, fmt.Errorf("resolve %s price for product %d: %w", t.source, productID, err)
		}
		if ok {
			return Result{Price: price, Source: t.source}, nil
		}
	}
	return NotFound, nil
}
