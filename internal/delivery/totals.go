package delivery

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// Totals are the three derived money columns of a delivery order.
type Totals struct {
	TotalPrice    decimal.Decimal `json:"total_price"`
	BalanceAmount decimal.Decimal `json:"balance_amount"`
	TotalBalance  decimal.Decimal `json:"total_balance"`
}

// Equal compares totals by value.
func (t Totals) Equal(o Totals) bool {
	return t.TotalPrice.Equal(o.TotalPrice) &&
		t.BalanceAmount.Equal(o.BalanceAmount) &&
		t.TotalBalance.Equal(o.TotalBalance)
}

// TotalsOf reads the stored totals of an order.
func TotalsOf(o DeliveryOrder) Totals {
	return Totals{TotalPrice: o.TotalPrice, BalanceAmount: o.BalanceAmount, TotalBalance: o.TotalBalance}
}

// ComputeTotals derives totals from items, the collected amount and the
// opening balance.
func ComputeTotals(items []Item, amountCollected, openingBalance decimal.Decimal) Totals {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(LineTotal(it.DeliveredQuantity, it.UnitPrice))
	}
	balance := total.Sub(amountCollected)
	return Totals{
		TotalPrice:    total,
		BalanceAmount: balance,
		TotalBalance:  openingBalance.Add(balance),
	}
}

// TotalsStore is the storage surface Recalculate needs.
type TotalsStore interface {
	ListItems(ctx context.Context, orderID int64) ([]Item, error)
	UpdateTotals(ctx context.Context, orderID int64, totals Totals) error
}

// Recalculate recomputes an order's totals from its current items and writes
// only total_price, balance_amount and total_balance. Orders without an id
// are left untouched. On success order carries the new totals and items.
func Recalculate(ctx context.Context, store TotalsStore, order *DeliveryOrder) (Totals, error) {
	if order == nil || order.ID == 0 {
		return Totals{}, nil
	}
	items, err := store.ListItems(ctx, order.ID)
	if err != nil {
		return Totals{}, fmt.Errorf("recalculate delivery order %d: list items: %w", order.ID, err)
	}
	totals := ComputeTotals(items, order.AmountCollected, order.OpeningBalance)
	if err := store.UpdateTotals(ctx, order.ID, totals); err != nil {
		return Totals{}, fmt.Errorf("recalculate delivery order %d: %w", order.ID, err)
	}
	order.Items = items
	order.TotalPrice = totals.TotalPrice
	order.BalanceAmount = totals.BalanceAmount
	order.TotalBalance = totals.TotalBalance
	return totals, nil
}
