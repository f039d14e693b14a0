package sales

import "errors"

// Domain errors for sales orders.
var (
	// ErrNotFound indicates the requested sales order was not found.
	ErrNotFound = errors.New("sales order not found")
	// ErrItemNotFound indicates the requested order item was not found.
	ErrItemNotFound = errors.New("sales order item not found")

	// ErrDuplicateOrder means the seller already has an order for the delivery date.
	ErrDuplicateOrder = errors.New("sales order already exists for seller and delivery date")
	// ErrDuplicateProduct means the product already has a line on the order.
	ErrDuplicateProduct = errors.New("product already on sales order")

	ErrInvalidQuantity   = errors.New("quantity must be greater than zero")
	ErrInvalidTransition = errors.New("sales order status change not allowed")
	ErrCannotEditItems   = errors.New("sales order items cannot change in current status")
)
