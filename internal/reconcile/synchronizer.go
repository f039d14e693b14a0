package reconcile

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/thiagu-r/dairy-sub000/internal/delivery"
	"github.com/thiagu-r/dairy-sub000/internal/sales"
)

// SyncPlan lists the item writes that bring a delivery order in line with
// its sales order. Created items carry no price yet.
type SyncPlan struct {
	Create []delivery.Item
	Update []delivery.Item
	Delete []delivery.Item
}

// Empty reports whether the plan changes nothing.
func (p SyncPlan) Empty() bool {
	return len(p.Create) == 0 && len(p.Update) == 0 && len(p.Delete) == 0
}

// Plan compares sales items with delivery items. Only draft delivery orders
// are planned against; for any other status the plan is empty.
//
// Existing lines always take the new ordered quantity. Their delivered
// quantity follows along unless the line was manually adjusted. Products no
// longer on the sales order are deleted.
func Plan(order *delivery.DeliveryOrder, salesItems []sales.OrderItem, deliveryItems []delivery.Item) SyncPlan {
	var plan SyncPlan
	if order == nil || !order.Status.AllowsItemSync() {
		return plan
	}

	existing := make(map[int64]delivery.Item, len(deliveryItems))
	for _, it := range deliveryItems {
		existing[it.ProductID] = it
	}
	wanted := make(map[int64]bool, len(salesItems))

	ordered := append([]sales.OrderItem(nil), salesItems...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].ProductID < ordered[j].ProductID })

	for _, si := range ordered {
		wanted[si.ProductID] = true
		di, ok := existing[si.ProductID]
		if !ok {
			plan.Create = append(plan.Create, delivery.Item{
				DeliveryOrderID:   order.ID,
				ProductID:         si.ProductID,
				OrderedQuantity:   si.Quantity,
				DeliveredQuantity: si.Quantity,
			})
			continue
		}

		changed := false
		if !di.OrderedQuantity.Equal(si.Quantity) {
			di.OrderedQuantity = si.Quantity
			changed = true
		}
		if !di.ManuallyAdjusted && !di.DeliveredQuantity.Equal(si.Quantity) {
			di.DeliveredQuantity = si.Quantity
			changed = true
		}
		if total := delivery.LineTotal(di.DeliveredQuantity, di.UnitPrice); !total.Equal(di.TotalPrice) {
			di.TotalPrice = total
			changed = true
		}
		if changed {
			plan.Update = append(plan.Update, di)
		}
	}

	for _, di := range deliveryItems {
		if !wanted[di.ProductID] {
			plan.Delete = append(plan.Delete, di)
		}
	}
	sort.Slice(plan.Delete, func(i, j int) bool { return plan.Delete[i].ProductID < plan.Delete[j].ProductID })
	return plan
}

// partiallyDelivered reports whether any line fell short of its order.
func partiallyDelivered(items []delivery.Item) bool {
	for _, it := range items {
		if it.DeliveredQuantity.LessThan(it.OrderedQuantity) {
			return true
		}
	}
	return false
}

// shortSalesLine reports whether any sales line was delivered below its
// ordered quantity, including lines the delivery order never carried.
func shortSalesLine(items []sales.OrderItem) bool {
	for _, it := range items {
		if it.DeliveredQuantity.LessThan(it.Quantity) {
			return true
		}
	}
	return false
}

func deliveredByProduct(items []delivery.Item) map[int64]decimal.Decimal {
	out := make(map[int64]decimal.Decimal, len(items))
	for _, it := range items {
		out[it.ProductID] = it.DeliveredQuantity
	}
	return out
}
