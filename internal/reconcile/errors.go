package reconcile

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnknownSeller indicates the order references a missing seller.
	ErrUnknownSeller = errors.New("reconcile: unknown seller")
	// ErrSellerInactive indicates the seller may not receive new orders.
	ErrSellerInactive = errors.New("reconcile: seller is inactive")
)

// ItemError is a failure to reconcile one product line.
type ItemError struct {
	ProductID int64
	Op        string
	Err       error
}

func (e ItemError) Error() string {
	return fmt.Sprintf("%s product %d: %v", e.Op, e.ProductID, e.Err)
}

func (e ItemError) Unwrap() error { return e.Err }

// SyncError collects every item that failed while syncing a delivery order.
// The whole unit is rolled back when it is returned.
type SyncError struct {
	DeliveryOrderID int64
	Items           []ItemError
}

func (e *SyncError) Error() string {
	msgs := make([]string, len(e.Items))
	for i, it := range e.Items {
		msgs[i] = it.Error()
	}
	return fmt.Sprintf("sync delivery order %d: %d item(s) failed: %s",
		e.DeliveryOrderID, len(e.Items), strings.Join(msgs, "; "))
}

// Unwrap exposes the item causes to errors.Is and errors.As.
func (e *SyncError) Unwrap() []error {
	out := make([]error, len(e.Items))
	for i, it := range e.Items {
		out[i] = it
	}
	return out
}
