package jobs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskPriceCacheRefresh rebuilds the offline price cache for a business day.
	TaskPriceCacheRefresh = "pricing:cache_refresh"
	// TaskDeliveryTotalsAudit recomputes and repairs delivery order totals for a day.
	TaskDeliveryTotalsAudit = "delivery:totals_audit"
	// TaskIdempotencyCleanup prunes expired mobile sync idempotency keys.
	TaskIdempotencyCleanup = "idempotency:cleanup"
)

const dateLayout = "2006-01-02"

// DatePayload targets a business day. An empty Date means "today" in the
// worker's business timezone.
type DatePayload struct {
	Date string `json:"date,omitempty"`
}

// resolve parses Date, falling back to the current day in loc.
func (p DatePayload) resolve(now time.Time, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	if p.Date == "" {
		local := now.In(loc)
		return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC), nil
	}
	day, err := time.Parse(dateLayout, p.Date)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", p.Date, err)
	}
	return day, nil
}

// CleanupPayload configures idempotency key retention.
type CleanupPayload struct {
	Retention time.Duration `json:"retention"`
}

// NewPriceCacheRefreshTask builds a cache refresh task; date may be empty.
func NewPriceCacheRefreshTask(date string) (*asynq.Task, error) {
	return newDateTask(TaskPriceCacheRefresh, date)
}

// NewDeliveryTotalsAuditTask builds a totals audit task; date may be empty.
func NewDeliveryTotalsAuditTask(date string) (*asynq.Task, error) {
	return newDateTask(TaskDeliveryTotalsAudit, date)
}

// NewIdempotencyCleanupTask builds a cleanup task for keys older than retention.
func NewIdempotencyCleanupTask(retention time.Duration) (*asynq.Task, error) {
	data, err := json.Marshal(CleanupPayload{Retention: retention})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, data), nil
}

func newDateTask(typ, date string) (*asynq.Task, error) {
	if date != "" {
		if _, err := time.Parse(dateLayout, date); err != nil {
			return nil, fmt.Errorf("%s: invalid date %q: %w", typ, date, err)
		}
	}
	data, err := json.Marshal(DatePayload{Date: date})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(typ, data), nil
}
