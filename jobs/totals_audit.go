package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/thiagu-r/dairy-sub000/internal/delivery"
	jobmetrics "github.com/thiagu-r/dairy-sub000/internal/jobs"
)

// TotalsAuditor recomputes delivery totals for a day and repairs drift.
type TotalsAuditor interface {
	AuditTotals(ctx context.Context, date time.Time) (*delivery.AuditReport, error)
}

// TotalsAuditJob runs the end-of-day delivery totals audit.
type TotalsAuditJob struct {
	Auditor  TotalsAuditor
	Location *time.Location
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
	clock    func() time.Time
}

// NewTotalsAuditJob wires dependencies for the audit handler.
func NewTotalsAuditJob(auditor TotalsAuditor, loc *time.Location, logger *slog.Logger, metrics *jobmetrics.Metrics) *TotalsAuditJob {
	return &TotalsAuditJob{Auditor: auditor, Location: loc, Logger: logger, Metrics: metrics, clock: time.Now}
}

// Handle processes TaskDeliveryTotalsAudit tasks.
func (j *TotalsAuditJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Auditor == nil {
		return errors.New("totals audit: handler not configured")
	}
	var payload DatePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	now := time.Now
	if j.clock != nil {
		now = j.clock
	}
	date, err := payload.resolve(now(), j.Location)
	if err != nil {
		jobLogger(j.Logger, TaskDeliveryTotalsAudit).Error("totals audit payload", slog.Any("error", err))
		return asynq.SkipRetry
	}

	metrics := metricsOrDefault(j.Metrics)
	tracker := metrics.Track(TaskDeliveryTotalsAudit)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	day := date.Format(dateLayout)
	logger := jobLogger(j.Logger, TaskDeliveryTotalsAudit).With(slog.String("date", day))
	report, err := j.Auditor.AuditTotals(ctx, date)
	if err != nil {
		resultErr = err
		logger.Error("audit delivery totals", slog.Any("error", err))
		return resultErr
	}
	metrics.AddDrift(day, len(report.Drifted))
	logger.Info("completed delivery totals audit",
		slog.Int("checked", report.Checked),
		slog.Int("drifted", len(report.Drifted)))
	return resultErr
}
