package sales

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/salesops/salesops/internal/platform/httpx"
	"github.com/salesops/salesops/internal/store"
)

// IdempotencyHeader carries the client's UUID for safe POST retries.
const IdempotencyHeader = "Idempotency-Key"

// Service is the surface the handler needs from Engine.
type Service interface {
	RecordSale(ctx context.Context, input RecordSaleInput) (store.SaleRecord, error)
	AmendSale(ctx context.Context, saleID, quantity int64) (store.SaleRecord, error)
	DeleteSale(ctx context.Context, saleID int64) error
	GetSale(ctx context.Context, saleID int64) (store.SaleRecord, error)
	ListSales(ctx context.Context, p store.Period) ([]store.SaleRow, error)
	ListAgents(ctx context.Context) ([]store.SalesAgent, error)
}

// Handler wires JSON endpoints for sales.
type Handler struct {
	logger    *slog.Logger
	service   Service
	validator *validator.Validate
	loc       *time.Location
	now       func() time.Time
}

// NewHandler constructs a Handler. loc is the reporting time zone for date filters.
func NewHandler(logger *slog.Logger, service Service, loc *time.Location) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Handler{logger: logger, service: service, validator: validator.New(), loc: loc, now: time.Now}
}

// MountRoutes registers sales routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/agents", h.listAgents)
	r.Route("/sales", func(r chi.Router) {
		r.Get("/", h.listSales)
		r.Post("/", h.recordSale)
		r.Get("/{id}", h.getSale)
		r.Patch("/{id}", h.amendSale)
		r.Delete("/{id}", h.deleteSale)
	})
}

type recordSaleRequest struct {
	AgentID   int64 `json:"agent_id" validate:"required,gt=0"`
	ProductID int64 `json:"product_id" validate:"required,gt=0"`
	Quantity  int64 `json:"quantity" validate:"required,gte=1"`
}

type amendSaleRequest struct {
	Quantity int64 `json:"quantity" validate:"required,gte=1"`
}

type salesResponse struct {
	From  string          `json:"from"`
	To    string          `json:"to"`
	Sales []store.SaleRow `json:"sales"`
}

func (h *Handler) listAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := h.service.ListAgents(r.Context())
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	if agents == nil {
		agents = []store.SalesAgent{}
	}
	httpx.JSON(w, http.StatusOK, agents)
}

func (h *Handler) listSales(w http.ResponseWriter, r *http.Request) {
	rng, err := httpx.DateRangeQuery(r, h.loc, h.now())
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	rows, err := h.service.ListSales(r.Context(), rng.Period(h.loc))
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	if rows == nil {
		rows = []store.SaleRow{}
	}
	httpx.JSON(w, http.StatusOK, salesResponse{
		From:  rng.From.Format("2006-01-02"),
		To:    rng.To.Format("2006-01-02"),
		Sales: rows,
	})
}

func (h *Handler) getSale(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	sale, err := h.service.GetSale(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, sale)
}

func (h *Handler) recordSale(w http.ResponseWriter, r *http.Request) {
	var req recordSaleRequest
	if !h.decode(w, r, &req) {
		return
	}
	sale, err := h.service.RecordSale(r.Context(), RecordSaleInput{
		AgentID:        req.AgentID,
		ProductID:      req.ProductID,
		Quantity:       req.Quantity,
		IdempotencyKey: r.Header.Get(IdempotencyHeader),
	})
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, sale)
}

func (h *Handler) amendSale(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	var req amendSaleRequest
	if !h.decode(w, r, &req) {
		return
	}
	sale, err := h.service.AmendSale(r.Context(), id, req.Quantity)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, sale)
}

func (h *Handler) deleteSale(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	if err := h.service.DeleteSale(r.Context(), id); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	return httpx.Bind(w, r, h.logger, h.validator, dst)
}
