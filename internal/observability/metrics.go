package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics mengumpulkan metrik Prometheus untuk aplikasi.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	salesTotal      *prometheus.CounterVec
	unitsTotal      *prometheus.CounterVec
	stockRejections prometheus.Counter
	cacheLookups    *prometheus.CounterVec
}

// NewMetrics menginisialisasi registry, metrik HTTP, dan metrik ledger penjualan.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "salesops_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "salesops_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	sales := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "salesops_sales_total",
		Help: "Committed sale writes by operation.",
	}, []string{"op"})
	units := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "salesops_stock_units_total",
		Help: "Stock units moved by direction.",
	}, []string{"direction"})
	rejections := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "salesops_insufficient_stock_total",
		Help: "Sale writes refused because stock was short.",
	})
	cache := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "salesops_analytics_cache_total",
		Help: "Analytics cache lookups by result.",
	}, []string{"result"})
	registry.MustRegister(requests, duration, sales, units, rejections, cache)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		salesTotal:      sales,
		unitsTotal:      units,
		stockRejections: rejections,
		cacheLookups:    cache,
	}
}

// Handler mengembalikan http.Handler untuk endpoint /metrics.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware mencatat metrik untuk setiap permintaan HTTP.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// SaleCommitted mencatat penulisan penjualan (create, amend, delete).
func (m *Metrics) SaleCommitted(op string) {
	if m == nil {
		return
	}
	m.salesTotal.WithLabelValues(op).Inc()
}

// UnitsSold mencatat unit stok yang keluar.
func (m *Metrics) UnitsSold(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.unitsTotal.WithLabelValues("out").Add(float64(n))
}

// UnitsReturned mencatat unit stok yang masuk (restock atau rekonsiliasi).
func (m *Metrics) UnitsReturned(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.unitsTotal.WithLabelValues("in").Add(float64(n))
}

// InsufficientStock mencatat penolakan karena stok kurang.
func (m *Metrics) InsufficientStock() {
	if m == nil {
		return
	}
	m.stockRejections.Inc()
}

// CacheLookup mencatat hit atau miss cache analitik.
func (m *Metrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

// Registerer mengekspos registry untuk pendaftaran metrik khusus.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
