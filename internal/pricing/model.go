// Package pricing resolves unit prices from price plans and the offline price cache.
package pricing

import (
	"time"

	"github.com/shopspring/decimal"
)

// PricePlan is a named, time-bounded set of product prices, either general or
// for one seller.
type PricePlan struct {
	ID        int64      `json:"id"`
	Name      string     `json:"name"`
	SellerID  *int64     `json:"seller_id,omitempty"`
	IsGeneral bool       `json:"is_general"`
	ValidFrom time.Time  `json:"valid_from"`
	ValidTo   *time.Time `json:"valid_to,omitempty"`
	IsActive  bool       `json:"is_active"`
	CreatedAt time.Time  `json:"created_at"`
}

// ValidOn reports whether the plan covers date.
func (p PricePlan) ValidOn(date time.Time) bool {
	if date.Before(p.ValidFrom) {
		return false
	}
	return p.ValidTo == nil || !date.After(*p.ValidTo)
}

// ProductPrice pins a price to a plan and product.
type ProductPrice struct {
	PlanID    int64           `json:"plan_id"`
	ProductID int64           `json:"product_id"`
	Price     decimal.Decimal `json:"price"`
}

// CacheEntry is a row of the offline seller or general price cache. SellerID is
// nil for general entries.
type CacheEntry struct {
	SellerID  *int64          `json:"seller_id,omitempty"`
	ProductID int64           `json:"product_id"`
	Price     decimal.Decimal `json:"price"`
	ValidFrom time.Time       `json:"valid_from"`
	ValidTo   *time.Time      `json:"valid_to,omitempty"`
	IsActive  bool            `json:"is_active"`
}

// Source tells where a resolved price came from.
type Source string

const (
	SourceNone         Source = "none"
	SourceSellerPlan   Source = "seller_plan"
	SourceGeneralPlan  Source = "general_plan"
	SourceSellerCache  Source = "seller_cache"
	SourceGeneralCache Source = "general_cache"
)

// Result is the outcome of a price lookup. A zero Result is NotFound.
type Result struct {
	Price  decimal.Decimal `json:"price"`
	Source Source          `json:"source"`
}

// NotFound is returned when no tier matched.
var NotFound = Result{Source: SourceNone}

// Found reports whether a tier matched.
func (r Result) Found() bool {
	return r.Source != "" && r.Source != SourceNone
}

// Or returns the resolved price, or def when nothing matched. The second
// return value is true when def was used.
func (r Result) Or(def decimal.Decimal) (decimal.Decimal, bool) {
	if r.Found() {
		return r.Price, false
	}
	return def, true
}
