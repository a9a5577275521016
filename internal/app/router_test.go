package app

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/salesops/salesops/internal/analytics"
	analytichttp "github.com/salesops/salesops/internal/analytics/http"
	"github.com/salesops/salesops/internal/inventory"
	"github.com/salesops/salesops/internal/observability"
	"github.com/salesops/salesops/internal/sales"
	"github.com/salesops/salesops/internal/shared"
	"github.com/salesops/salesops/internal/store/memstore"
	"github.com/salesops/salesops/jobs"
)

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	repo := memstore.New()
	repo.AddAgent("Ana", decimal.NewFromInt(10))
	metrics := observability.NewMetrics()
	cfg := &Config{AppEnv: "test", AppRequestTimeout: time.Second, AppRateLimit: 1000}

	engine := sales.NewEngine(repo, nil, shared.NewMemoryIdempotencyStore(), nil, sales.EngineConfig{Metrics: metrics})
	adjuster := inventory.NewAdjuster(repo, nil, inventory.AdjusterConfig{Metrics: metrics})
	reports := analytics.NewEngine(repo, nil, analytics.Config{MonthlyTarget: decimal.NewFromInt(1000)})

	return NewRouter(RouterParams{
		Config:           cfg,
		SalesHandler:     sales.NewHandler(nil, engine, time.UTC),
		InventoryHandler: inventory.NewHandler(nil, adjuster),
		ReportHandler:    analytichttp.NewHandler(nil, reports, time.UTC, 0),
		JobHandler:       jobs.NewHandler(nil, nil),
		Metrics:          metrics,
	})
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestRouterHealthAndSecurityHeaders(t *testing.T) {
	rr := do(t, newTestRouter(t), http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
	assert.Equal(t, "DENY", rr.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
}

func TestRouterNotFoundIsProblem(t *testing.T) {
	rr := do(t, newTestRouter(t), http.MethodGet, "/api/nope", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "application/problem+json")
}

func TestRouterSaleFlow(t *testing.T) {
	h := newTestRouter(t)

	rr := do(t, h, http.MethodPost, "/api/products", map[string]any{
		"name": "Mouse", "category": "Peripherals", "price": "30.00", "initial_stock": 5,
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var product struct {
		ID int64 `json:"id"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &product))

	rr = do(t, h, http.MethodPost, "/api/sales", map[string]any{"agent_id": 1, "product_id": product.ID, "quantity": 3})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	rr = do(t, h, http.MethodPost, "/api/sales", map[string]any{"agent_id": 1, "product_id": product.ID, "quantity": 3})
	require.Equal(t, http.StatusConflict, rr.Code)
	var problem map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &problem))
	assert.EqualValues(t, 2, problem["available"])

	rr = do(t, h, http.MethodGet, "/api/reports/summary", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = do(t, h, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "salesops_insufficient_stock_total 1")

	rr = do(t, h, http.MethodGet, "/jobs/health", nil)
	require.Equal(t, http.StatusOK, rr.Code)
}
