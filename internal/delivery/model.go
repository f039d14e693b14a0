// Package delivery holds delivery orders, their items and the rules that keep
// their money columns consistent.
package delivery

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status represents the lifecycle of a delivery order.
type Status string

const (
	StatusDraft      Status = "draft"       // Items follow the sales order
	StatusInProgress Status = "in_progress" // Out for delivery, items frozen
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

// IsValid checks if the status is valid.
func (s Status) IsValid() bool {
	switch s {
	case StatusDraft, StatusInProgress, StatusCompleted, StatusCancelled:
		return true
	default:
		return false
	}
}

// AllowsItemSync reports whether sales order changes may add, change or
// remove items.
func (s Status) AllowsItemSync() bool {
	return s == StatusDraft
}

// CanStart checks if the order can go out for delivery.
func (s Status) CanStart() bool {
	return s == StatusDraft
}

// CanComplete checks if the order can be completed.
func (s Status) CanComplete() bool {
	return s == StatusInProgress
}

// CanCancel checks if the order can be cancelled.
func (s Status) CanCancel() bool {
	return s == StatusDraft || s == StatusInProgress
}

// CanEdit checks if operators may still edit quantities and collections.
func (s Status) CanEdit() bool {
	return s == StatusDraft || s == StatusInProgress
}

// SyncStatus tracks reconciliation with offline mobile clients.
type SyncStatus string

const (
	SyncPending SyncStatus = "pending"
	SyncSynced  SyncStatus = "synced"
	SyncFailed  SyncStatus = "failed"
)

// PaymentMethod records how the collected amount was paid.
type PaymentMethod string

const (
	PaymentCash   PaymentMethod = "cash"
	PaymentOnline PaymentMethod = "online"
	PaymentCredit PaymentMethod = "credit"
)

// IsValid checks if the payment method is known.
func (m PaymentMethod) IsValid() bool {
	return m == PaymentCash || m == PaymentOnline || m == PaymentCredit
}

// DeliveryOrder is the operational record of a sales order's delivery.
type DeliveryOrder struct {
	ID               int64           `json:"id"`
	OrderNumber      string          `json:"order_number"`
	LoadingOrderID   *int64          `json:"loading_order_id,omitempty"`
	RouteID          int64           `json:"route_id"`
	SellerID         int64           `json:"seller_id"`
	SalesOrderID     int64           `json:"sales_order_id"`
	DeliveryDate     time.Time       `json:"delivery_date"`
	DeliveryTime     *time.Time      `json:"delivery_time,omitempty"`
	ActualDeliveryAt *time.Time      `json:"actual_delivery_at,omitempty"`
	TotalPrice       decimal.Decimal `json:"total_price"`
	OpeningBalance   decimal.Decimal `json:"opening_balance"`
	AmountCollected  decimal.Decimal `json:"amount_collected"`
	PaymentMethod    PaymentMethod   `json:"payment_method"`
	BalanceAmount    decimal.Decimal `json:"balance_amount"`
	TotalBalance     decimal.Decimal `json:"total_balance"`
	Status           Status          `json:"status"`
	SyncStatus       SyncStatus      `json:"sync_status"`
	LastSyncedAt     *time.Time      `json:"last_synced_at,omitempty"`
	CreatedBy        int64           `json:"created_by"`
	UpdatedBy        int64           `json:"updated_by"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
	Items            []Item          `json:"items,omitempty"`
}

// Item is one product line of a delivery order. ManuallyAdjusted is set when
// an operator or mobile client edits DeliveredQuantity directly; the item
// synchronizer then leaves DeliveredQuantity alone.
type Item struct {
	ID                int64           `json:"id"`
	DeliveryOrderID   int64           `json:"delivery_order_id"`
	ProductID         int64           `json:"product_id"`
	OrderedQuantity   decimal.Decimal `json:"ordered_quantity"`
	DeliveredQuantity decimal.Decimal `json:"delivered_quantity"`
	UnitPrice         decimal.Decimal `json:"unit_price"`
	TotalPrice        decimal.Decimal `json:"total_price"`
	PriceSource       string          `json:"price_source"`
	ManuallyAdjusted  bool            `json:"manually_adjusted"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// LineTotal is delivered × unit price, or zero when nothing was delivered.
func LineTotal(delivered, unitPrice decimal.Decimal) decimal.Decimal {
	if !delivered.IsPositive() {
		return decimal.Zero
	}
	return delivered.Mul(unitPrice).Round(2)
}

// PriceSourceManual marks a unit price supplied by an operator or mobile client.
const PriceSourceManual = "manual"
