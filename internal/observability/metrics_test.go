package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-procurement/internal/procurement"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	return rr.Body.String()
}

func TestMetricsHandlerExposesJobMetrics(t *testing.T) {
	metrics := NewMetrics()
	require.NoError(t, metrics.Jobs().Track("procurement:totals-refresh").End(nil))

	body := scrape(t, metrics)
	assert.Contains(t, body, `odyssey_jobs_total{job="procurement:totals-refresh",status="success"} 1`)
	assert.Contains(t, body, "go_goroutines")
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
	require.Equal(t, http.StatusTeapot, rr.Code)

	body := scrape(t, metrics)
	assert.Contains(t, body, `odyssey_http_requests_total{code="418",route="/test"} 1`)
	assert.Contains(t, body, `odyssey_http_request_duration_seconds_bucket{route="/test"`)
}

func TestOrderStatusChangedCountsTransitions(t *testing.T) {
	metrics := NewMetrics()
	var listener procurement.StatusListener = metrics

	listener.OrderStatusChanged(context.Background(), procurement.StatusChangedEvent{
		From: procurement.StatusPendingApproval, To: procurement.StatusIssued, Origin: procurement.OriginUser,
	})
	listener.OrderStatusChanged(context.Background(), procurement.StatusChangedEvent{
		From: procurement.StatusIssued, To: procurement.StatusDelivered, Origin: procurement.OriginSystem,
	})

	body := scrape(t, metrics)
	assert.Contains(t, body, `odyssey_procurement_order_transitions_total{from="pending_approval",origin="user",to="issued"} 1`)
	assert.Contains(t, body, `odyssey_procurement_order_transitions_total{from="issued",origin="system",to="delivered"} 1`)
}

func TestNilMetricsDegradeGracefully(t *testing.T) {
	var metrics *Metrics
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	assert.NotNil(t, metrics.Middleware(next))
	assert.Nil(t, metrics.Jobs())
	metrics.OrderStatusChanged(context.Background(), procurement.StatusChangedEvent{})

	rr := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}
