package analytichttp

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/salesops/salesops/internal/analytics"
	"github.com/salesops/salesops/internal/analytics/export"
	"github.com/salesops/salesops/internal/platform/httpx"
	"github.com/salesops/salesops/internal/store"
)

const (
	requestTimeout     = 5 * time.Second
	defaultExportLimit = 10
)

// ReportService defines the report data contract used by the handler.
type ReportService interface {
	Aggregate(ctx context.Context, rng store.DateRange) (analytics.Result, error)
	// Export returns the ledger rows and the summary built from them.
	Export(ctx context.Context, rng store.DateRange) ([]store.SaleRow, analytics.Result, error)
}

// Handler serves the summary and CSV export endpoints.
type Handler struct {
	logger      *slog.Logger
	service     ReportService
	loc         *time.Location
	exportLimit int
	csvPool     sync.Pool
	now         func() time.Time
}

// NewHandler constructs the report HTTP handler. exportLimit caps CSV
// exports per client per minute; zero selects the default.
func NewHandler(logger *slog.Logger, service ReportService, loc *time.Location, exportLimit int) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if loc == nil {
		loc = time.UTC
	}
	if exportLimit <= 0 {
		exportLimit = defaultExportLimit
	}
	h := &Handler{
		logger:      logger,
		service:     service,
		loc:         loc,
		exportLimit: exportLimit,
		now:         time.Now,
	}
	h.csvPool.New = func() interface{} { return new(bytes.Buffer) }
	return h
}

// WithNow overrides the handler clock for testing.
func (h *Handler) WithNow(fn func() time.Time) {
	if fn != nil {
		h.now = fn
	}
}

func (h *Handler) handleSummary(w http.ResponseWriter, r *http.Request) {
	rng, err := httpx.DateRangeQuery(r, h.loc, h.now())
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	res, err := h.service.Aggregate(ctx, rng)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

func (h *Handler) handleCSV(w http.ResponseWriter, r *http.Request) {
	rng, err := httpx.DateRangeQuery(r, h.loc, h.now())
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	rows, summary, err := h.service.Export(ctx, rng)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}

	buf := h.csvPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer func() {
		buf.Reset()
		h.csvPool.Put(buf)
	}()

	if err := export.WriteSalesCSV(buf, rows); err != nil {
		httpx.RespondError(w, h.logger, fmt.Errorf("write sales csv: %w", err))
		return
	}
	buf.WriteString("\n")
	if err := export.WriteSummaryCSV(buf, summary); err != nil {
		httpx.RespondError(w, h.logger, fmt.Errorf("write summary csv: %w", err))
		return
	}

	filename := fmt.Sprintf("sales-%s_%s.csv", rng.From.Format("2006-01-02"), rng.To.Format("2006-01-02"))
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", filename))
	if _, err := w.Write(buf.Bytes()); err != nil {
		h.logger.Error("stream csv", slog.Any("error", err))
	}
}
