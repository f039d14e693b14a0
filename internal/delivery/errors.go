package delivery

import "errors"

// Domain errors for delivery orders.
var (
	// ErrNotFound indicates the requested delivery order was not found.
	ErrNotFound = errors.New("delivery order not found")
	// ErrItemNotFound indicates the requested delivery item was not found.
	ErrItemNotFound = errors.New("delivery order item not found")

	// ErrDuplicateOrder means route, seller and date already have a delivery order.
	ErrDuplicateOrder = errors.New("delivery order already exists for route, seller and delivery date")
	// ErrDuplicateProduct means the product already has a line on the order.
	ErrDuplicateProduct = errors.New("product already on delivery order")

	// Status transition errors.
	ErrCannotStart    = errors.New("cannot start delivery order in current status")
	ErrCannotComplete = errors.New("cannot complete delivery order in current status")
	ErrCannotCancel   = errors.New("cannot cancel delivery order in current status")
	ErrCannotEdit     = errors.New("cannot edit delivery order in current status")

	// Validation errors.
	ErrInvalidQuantity = errors.New("delivered quantity must not be negative")
	ErrInvalidAmount   = errors.New("collected amount must not be negative")
	ErrInvalidPayment  = errors.New("unknown payment method")

	// ErrSyncIDReused means a mobile sync id was already applied to another order.
	ErrSyncIDReused = errors.New("sync id already used for a different delivery order")
)
