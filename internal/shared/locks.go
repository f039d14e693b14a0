package shared

import (
	"fmt"
	"time"
)

// ReconcileLockKey builds the lock key guarding one seller's orders for a delivery date.
func ReconcileLockKey(sellerID int64, deliveryDate time.Time) string {
	return fmt.Sprintf("reconcile:seller:%d:%s", sellerID, deliveryDate.Format("2006-01-02"))
}

// PriceRefreshLockKey builds the lock key for the offline price cache refresh of a date.
func PriceRefreshLockKey(date time.Time) string {
	return fmt.Sprintf("pricing:refresh:%s:lock", date.Format("2006-01-02"))
}
