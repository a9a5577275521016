package inventory

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/salesops/salesops/internal/platform/httpx"
	"github.com/salesops/salesops/internal/shared"
	"github.com/salesops/salesops/internal/store"
)

// Service is the surface the handler needs from Adjuster.
type Service interface {
	RegisterProduct(ctx context.Context, input RegisterProductInput) (store.Product, error)
	Restock(ctx context.Context, productID, qty int64) (int64, error)
	UpdatePrice(ctx context.Context, productID int64, price decimal.Decimal) (store.Product, error)
	ListProducts(ctx context.Context) ([]store.Product, error)
	LowStock(ctx context.Context, threshold int64) ([]store.Product, error)
}

// Handler wires JSON endpoints for the product catalogue.
type Handler struct {
	logger    *slog.Logger
	service   Service
	validator *validator.Validate
}

// NewHandler constructs inventory handler.
func NewHandler(logger *slog.Logger, service Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers product routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/products", func(r chi.Router) {
		r.Get("/", h.listProducts)
		r.Post("/", h.registerProduct)
		r.Get("/low-stock", h.lowStock)
		r.Post("/{id}/restock", h.restock)
		r.Patch("/{id}/price", h.updatePrice)
	})
}

type registerProductRequest struct {
	Name         string          `json:"name" validate:"required,max=200"`
	Category     string          `json:"category" validate:"required"`
	Price        decimal.Decimal `json:"price"`
	InitialStock int64           `json:"initial_stock" validate:"gte=0"`
}

type restockRequest struct {
	Quantity int64 `json:"quantity" validate:"required,gte=1"`
}

type priceRequest struct {
	Price decimal.Decimal `json:"price"`
}

type restockResponse struct {
	ProductID int64 `json:"product_id"`
	Stock     int64 `json:"stock"`
}

func (h *Handler) listProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.service.ListProducts(r.Context())
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	if products == nil {
		products = []store.Product{}
	}
	httpx.JSON(w, http.StatusOK, products)
}

func (h *Handler) lowStock(w http.ResponseWriter, r *http.Request) {
	var threshold int64
	if raw := r.URL.Query().Get("threshold"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || v < 1 {
			httpx.RespondError(w, h.logger, shared.Invalid("threshold must be a positive integer"))
			return
		}
		threshold = v
	}
	products, err := h.service.LowStock(r.Context(), threshold)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	if products == nil {
		products = []store.Product{}
	}
	httpx.JSON(w, http.StatusOK, products)
}

func (h *Handler) registerProduct(w http.ResponseWriter, r *http.Request) {
	var req registerProductRequest
	if !h.decode(w, r, &req) {
		return
	}
	product, err := h.service.RegisterProduct(r.Context(), RegisterProductInput{
		Name:         req.Name,
		Category:     req.Category,
		Price:        req.Price,
		InitialStock: req.InitialStock,
	})
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, product)
}

func (h *Handler) restock(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	var req restockRequest
	if !h.decode(w, r, &req) {
		return
	}
	stock, err := h.service.Restock(r.Context(), id, req.Quantity)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, restockResponse{ProductID: id, Stock: stock})
}

func (h *Handler) updatePrice(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	var req priceRequest
	if !h.decode(w, r, &req) {
		return
	}
	product, err := h.service.UpdatePrice(r.Context(), id, req.Price)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, product)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	return httpx.Bind(w, r, h.logger, h.validator, dst)
}
