package observability

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thiagu-r/dairy-sub000/internal/reconcile"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	return rr.Body.String()
}

func TestMetricsMiddlewareRecordsRequest(t *testing.T) {
	metrics := NewMetrics()

	handler := metrics.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	routeCtx := chi.NewRouteContext()
	routeCtx.RoutePatterns = append(routeCtx.RoutePatterns, "/test")

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusTeapot, rr.Code)

	body := scrape(t, metrics)
	assert.Contains(t, body, `dairy_http_requests_total{code="418",route="/test"} 1`)
	assert.Contains(t, body, `dairy_http_request_duration_seconds_bucket{route="/test"`)
}

func TestMetricsRecordReconcileOutcomes(t *testing.T) {
	metrics := NewMetrics()

	metrics.ObserveReconcile("sync", 20*time.Millisecond, nil)
	metrics.ObserveReconcile("sync", 5*time.Millisecond, &reconcile.SyncError{DeliveryOrderID: 9})
	metrics.ObserveReconcile("create_sales_order", time.Millisecond, errors.New("boom"))
	metrics.PriceDefaulted("plan")
	metrics.PriceDefaulted("plan")

	body := scrape(t, metrics)
	assert.Contains(t, body, `dairy_reconcile_total{op="sync",outcome="ok"} 1`)
	assert.Contains(t, body, `dairy_reconcile_total{op="sync",outcome="item_failure"} 1`)
	assert.Contains(t, body, `dairy_reconcile_total{op="create_sales_order",outcome="error"} 1`)
	assert.Contains(t, body, `dairy_reconcile_duration_seconds_count{op="sync"} 2`)
	assert.Contains(t, body, `dairy_price_defaulted_total{path="plan"} 2`)
}

func TestNilMetricsAreSafe(t *testing.T) {
	var metrics *Metrics

	metrics.ObserveReconcile("sync", time.Second, nil)
	metrics.PriceDefaulted("cache")

	rr := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)

	next := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})
	assert.NotNil(t, metrics.Middleware(next))
}
