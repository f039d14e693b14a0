package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thiagu-r/dairy-sub000/internal/delivery"
	jobmetrics "github.com/thiagu-r/dairy-sub000/internal/jobs"
)

// ============================================================================
// STUBS
// ============================================================================

type stubRefresher struct {
	dates   []time.Time
	written int
	err     error
}

func (s *stubRefresher) RefreshCache(_ context.Context, date time.Time) (int, error) {
	s.dates = append(s.dates, date)
	return s.written, s.err
}

type stubInvalidator struct{ calls int }

func (s *stubInvalidator) Invalidate(context.Context) error {
	s.calls++
	return nil
}

type stubAuditor struct {
	dates  []time.Time
	report *delivery.AuditReport
	err    error
}

func (s *stubAuditor) AuditTotals(_ context.Context, date time.Time) (*delivery.AuditReport, error) {
	s.dates = append(s.dates, date)
	return s.report, s.err
}

type stubPruner struct {
	retention time.Duration
	removed   int64
}

func (s *stubPruner) Cleanup(_ context.Context, olderThan time.Duration) (int64, error) {
	s.retention = olderThan
	return s.removed, nil
}

func testMetrics() *jobmetrics.Metrics {
	return jobmetrics.NewMetrics(prometheus.NewRegistry())
}

// ============================================================================
// TESTS
// ============================================================================

func TestNewDateTaskRejectsBadDate(t *testing.T) {
	_, err := NewPriceCacheRefreshTask("03/01/2024")
	assert.Error(t, err)

	task, err := NewDeliveryTotalsAuditTask("2024-03-01")
	require.NoError(t, err)
	assert.Equal(t, TaskDeliveryTotalsAudit, task.Type())

	var payload DatePayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	assert.Equal(t, "2024-03-01", payload.Date)
}

func TestDatePayloadDefaultsToBusinessDay(t *testing.T) {
	loc := time.FixedZone("IST", 5*3600+1800)
	// 20:00 UTC on Mar 1 is already Mar 2 in IST.
	now := time.Date(2024, 3, 1, 20, 0, 0, 0, time.UTC)

	day, err := DatePayload{}.resolve(now, loc)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC), day)
}

func TestPriceCacheRefreshJob(t *testing.T) {
	refresher := &stubRefresher{written: 12}
	invalidator := &stubInvalidator{}
	job := NewPriceCacheRefreshJob(refresher, invalidator, time.UTC, nil, testMetrics())

	task, err := NewPriceCacheRefreshTask("2024-03-01")
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))

	require.Len(t, refresher.dates, 1)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), refresher.dates[0])
	assert.Equal(t, 1, invalidator.calls)
}

func TestPriceCacheRefreshJobPropagatesFailure(t *testing.T) {
	refresher := &stubRefresher{err: errors.New("db down")}
	invalidator := &stubInvalidator{}
	job := NewPriceCacheRefreshJob(refresher, invalidator, time.UTC, nil, testMetrics())

	task, err := NewPriceCacheRefreshTask("")
	require.NoError(t, err)
	assert.EqualError(t, job.Handle(context.Background(), task), "db down")
	assert.Zero(t, invalidator.calls)
}

func TestPriceCacheRefreshJobSkipsRetryOnBadPayload(t *testing.T) {
	job := NewPriceCacheRefreshJob(&stubRefresher{}, nil, time.UTC, nil, testMetrics())
	err := job.Handle(context.Background(), asynq.NewTask(TaskPriceCacheRefresh, []byte(`{"date":"tomorrow"}`)))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestTotalsAuditJob(t *testing.T) {
	auditor := &stubAuditor{report: &delivery.AuditReport{Checked: 3, Drifted: []delivery.Drift{{DeliveryOrderID: 5}}}}
	job := NewTotalsAuditJob(auditor, time.UTC, nil, testMetrics())
	job.clock = func() time.Time { return time.Date(2024, 3, 1, 23, 30, 0, 0, time.UTC) }

	task, err := NewDeliveryTotalsAuditTask("")
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))

	require.Len(t, auditor.dates, 1)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), auditor.dates[0])
}

func TestTotalsAuditJobFailure(t *testing.T) {
	job := NewTotalsAuditJob(&stubAuditor{err: errors.New("boom")}, time.UTC, nil, testMetrics())
	task, err := NewDeliveryTotalsAuditTask("2024-03-01")
	require.NoError(t, err)
	assert.Error(t, job.Handle(context.Background(), task))
}

func TestIdempotencyCleanupJobDefaultsRetention(t *testing.T) {
	pruner := &stubPruner{removed: 4}
	job := NewIdempotencyCleanupJob(pruner, nil, testMetrics())

	task, err := NewIdempotencyCleanupTask(0)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	assert.Equal(t, defaultRetention, pruner.retention)

	task, err = NewIdempotencyCleanupTask(48 * time.Hour)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	assert.Equal(t, 48*time.Hour, pruner.retention)
}

func TestUnconfiguredJobsFail(t *testing.T) {
	task := asynq.NewTask(TaskDeliveryTotalsAudit, []byte(`{}`))
	assert.Error(t, (&TotalsAuditJob{}).Handle(context.Background(), task))
	assert.Error(t, (&PriceCacheRefreshJob{}).Handle(context.Background(), task))
	assert.Error(t, (&IdempotencyCleanupJob{}).Handle(context.Background(), task))
}

func TestHealthWithoutInspector(t *testing.T) {
	r := chi.NewRouter()
	r.Route("/jobs", NewHandler(nil, nil).MountRoutes)

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	var body queueHealth
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, QueueDefault, body.Queue)
	assert.Zero(t, body.Pending)
}
