// Package sales holds sales orders and their line items. Entities here are
// plain data; cross-entity effects live in the reconcile package.
package sales

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status represents the lifecycle of a sales order.
type Status string

const (
	StatusDraft              Status = "draft"
	StatusConfirmed          Status = "confirmed"
	StatusProcessing         Status = "processing"
	StatusReady              Status = "ready"
	StatusDelivered          Status = "delivered"
	StatusPartiallyDelivered Status = "partially_delivered"
	StatusCancelled          Status = "cancelled"
)

var transitions = map[Status][]Status{
	StatusDraft:              {StatusConfirmed, StatusCancelled},
	StatusConfirmed:          {StatusProcessing, StatusCancelled},
	StatusProcessing:         {StatusReady, StatusCancelled},
	StatusReady:              {StatusDelivered, StatusPartiallyDelivered, StatusCancelled},
	StatusPartiallyDelivered: {StatusDelivered},
}

// IsValid checks if the status is valid.
func (s Status) IsValid() bool {
	switch s {
	case StatusDraft, StatusConfirmed, StatusProcessing, StatusReady,
		StatusDelivered, StatusPartiallyDelivered, StatusCancelled:
		return true
	default:
		return false
	}
}

// CanTransitionTo reports whether a manual status change to next is allowed.
func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// CanEditItems reports whether line items may still change.
func (s Status) CanEditItems() bool {
	switch s {
	case StatusDelivered, StatusPartiallyDelivered, StatusCancelled:
		return false
	default:
		return true
	}
}

// PriceSourceManual marks a unit price typed in by the user.
const PriceSourceManual = "manual"

// SalesOrder is a seller's planned order for one delivery date.
type SalesOrder struct {
	ID               int64       `json:"id"`
	OrderNumber      string      `json:"order_number"`
	SellerID         int64       `json:"seller_id"`
	DeliveryDate     time.Time   `json:"delivery_date"`
	Status           Status      `json:"status"`
	Delivered        bool        `json:"delivered"`
	ActualDeliveryAt *time.Time  `json:"actual_delivery_at,omitempty"`
	Notes            *string     `json:"notes,omitempty"`
	CreatedBy        int64       `json:"created_by"`
	UpdatedBy        int64       `json:"updated_by"`
	CreatedAt        time.Time   `json:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at"`
	Items            []OrderItem `json:"items,omitempty"`
}

// OrderItem is one product line of a sales order. PriceSource records how
// UnitPrice was obtained: "manual", a pricing source name, or "none" when no
// price was found and zero was used.
type OrderItem struct {
	ID                int64           `json:"id"`
	SalesOrderID      int64           `json:"sales_order_id"`
	ProductID         int64           `json:"product_id"`
	Quantity          decimal.Decimal `json:"quantity"`
	DeliveredQuantity decimal.Decimal `json:"delivered_quantity"`
	UnitPrice         decimal.Decimal `json:"unit_price"`
	PriceSource       string          `json:"price_source"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// ItemByProduct indexes items by product id.
func ItemByProduct(items []OrderItem) map[int64]OrderItem {
	out := make(map[int64]OrderItem, len(items))
	for _, it := range items {
		out[it.ProductID] = it
	}
	return out
}
