package inventory

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/salesops/salesops/internal/store"
)

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	a, _ := newAdjuster(t)
	r := chi.NewRouter()
	r.Route("/api", NewHandler(nil, a).MountRoutes)
	return r
}

func send(t *testing.T, router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func TestHandlerProductLifecycle(t *testing.T) {
	router := newTestRouter(t)

	rr := send(t, router, http.MethodPost, "/api/products", `{"name":"Mouse","category":"Peripherals","price":"30.00","initial_stock":3}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var created store.Product
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&created))
	id := strconv.FormatInt(created.ID, 10)

	rr = send(t, router, http.MethodPost, "/api/products", `{"name":"MOUSE","category":"Hardware","price":5}`)
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = send(t, router, http.MethodPost, "/api/products/"+id+"/restock", `{"quantity":7}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var restocked restockResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&restocked))
	assert.EqualValues(t, 10, restocked.Stock)

	rr = send(t, router, http.MethodPatch, "/api/products/"+id+"/price", `{"price":"35.00"}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = send(t, router, http.MethodGet, "/api/products", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var products []store.Product
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&products))
	require.Len(t, products, 1)
	assert.Equal(t, "35", products[0].UnitPrice.String())
}

func TestHandlerRejectsBadInput(t *testing.T) {
	router := newTestRouter(t)
	tests := []struct {
		name, method, path, body string
		status                   int
	}{
		{"missing name", http.MethodPost, "/api/products", `{"category":"Other","price":"1"}`, http.StatusBadRequest},
		{"bad category", http.MethodPost, "/api/products", `{"name":"X","category":"Toys","price":"1"}`, http.StatusBadRequest},
		{"zero price", http.MethodPost, "/api/products", `{"name":"X","category":"Other","price":"0"}`, http.StatusBadRequest},
		{"restock zero", http.MethodPost, "/api/products/1/restock", `{"quantity":0}`, http.StatusBadRequest},
		{"restock unknown", http.MethodPost, "/api/products/42/restock", `{"quantity":1}`, http.StatusNotFound},
		{"bad threshold", http.MethodGet, "/api/products/low-stock?threshold=-2", ``, http.StatusBadRequest},
		{"malformed json", http.MethodPost, "/api/products", `{"name":`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := send(t, router, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, rr.Code, rr.Body.String())
		})
	}
}

func TestHandlerLowStock(t *testing.T) {
	router := newTestRouter(t)
	send(t, router, http.MethodPost, "/api/products", `{"name":"A","category":"Other","price":"1","initial_stock":2}`)
	send(t, router, http.MethodPost, "/api/products", `{"name":"B","category":"Other","price":"1","initial_stock":50}`)

	rr := send(t, router, http.MethodGet, "/api/products/low-stock", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var low []store.Product
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&low))
	require.Len(t, low, 1)
	assert.Equal(t, "A", low[0].Name)
}
