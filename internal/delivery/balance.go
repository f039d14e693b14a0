package delivery

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Opening is a seller's carried-over balance for a new delivery order.
type Opening struct {
	Amount      decimal.Decimal
	FromOrderID *int64
}

// Defaulted reports whether no previous delivery existed and zero was used.
func (o Opening) Defaulted() bool {
	return o.FromOrderID == nil
}

// PreviousFinder locates a seller's latest delivery before a date.
type PreviousFinder interface {
	// PreviousForSeller returns nil, nil when there is none.
	PreviousForSeller(ctx context.Context, sellerID int64, before time.Time) (*DeliveryOrder, error)
}

// OpeningBalance returns the total balance of the seller's most recent
// delivery strictly before deliveryDate, or zero when there is none. It is
// taken once when a delivery order is created.
func OpeningBalance(ctx context.Context, finder PreviousFinder, sellerID int64, deliveryDate time.Time) (Opening, error) {
	prev, err := finder.PreviousForSeller(ctx, sellerID, deliveryDate)
	if err != nil {
		return Opening{}, fmt.Errorf("opening balance for seller %d: %w", sellerID, err)
	}
	if prev == nil {
		return Opening{Amount: decimal.Zero}, nil
	}
	id := prev.ID
	return Opening{Amount: prev.TotalBalance, FromOrderID: &id}, nil
}
