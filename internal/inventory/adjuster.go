// Package inventory registers products and moves stock in.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/salesops/salesops/internal/observability"
	"github.com/salesops/salesops/internal/shared"
	"github.com/salesops/salesops/internal/store"
)

const maxNameLength = 200

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// AdjusterConfig groups optional settings.
type AdjusterConfig struct {
	LowStockThreshold int64
	Logger            *slog.Logger
	Metrics           *observability.Metrics
}

// Adjuster coordinates catalogue and stock-in operations.
type Adjuster struct {
	repo      store.Repository
	audit     AuditPort
	threshold int64
	logger    *slog.Logger
	metrics   *observability.Metrics
}

// NewAdjuster builds Adjuster. audit may be nil.
func NewAdjuster(repo store.Repository, audit AuditPort, cfg AdjusterConfig) *Adjuster {
	a := &Adjuster{repo: repo, audit: audit, threshold: cfg.LowStockThreshold, logger: cfg.Logger, metrics: cfg.Metrics}
	if a.threshold <= 0 {
		a.threshold = 10
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	return a
}

// RegisterProductInput is the payload for RegisterProduct.
type RegisterProductInput struct {
	Name         string
	Category     string
	Price        decimal.Decimal
	InitialStock int64
}

// RegisterProduct creates a product. Names are unique ignoring case.
func (a *Adjuster) RegisterProduct(ctx context.Context, input RegisterProductInput) (store.Product, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return store.Product{}, shared.Invalid("product name required")
	}
	if len(name) > maxNameLength {
		return store.Product{}, shared.Invalid("product name longer than %d characters", maxNameLength)
	}
	category, err := store.ParseCategory(input.Category)
	if err != nil {
		return store.Product{}, shared.Invalid("%v", err)
	}
	if err := validatePrice(input.Price); err != nil {
		return store.Product{}, err
	}
	if input.InitialStock < 0 {
		return store.Product{}, shared.Invalid("initial stock must be >= 0")
	}

	var product store.Product
	err = a.repo.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		existing, err := tx.FindProductByName(ctx, name)
		switch {
		case err == nil:
			return fmt.Errorf("product %q matches %q: %w", name, existing.Name, shared.ErrDuplicateProduct)
		case !errors.Is(err, shared.ErrNotFound):
			return err
		}
		product, err = tx.InsertProduct(ctx, store.Product{
			Name:      name,
			Category:  category,
			UnitPrice: input.Price,
			Stock:     input.InitialStock,
		})
		return err
	})
	if err != nil {
		return store.Product{}, fmt.Errorf("inventory: register product: %w", err)
	}

	a.metrics.UnitsReturned(product.Stock)
	a.record(ctx, "product.create", product.ID, map[string]any{
		"name":     product.Name,
		"category": string(product.Category),
		"price":    product.UnitPrice.String(),
		"stock":    product.Stock,
	})
	return product, nil
}

// Restock adds qty units and returns the new stock level.
func (a *Adjuster) Restock(ctx context.Context, productID, qty int64) (int64, error) {
	if qty < 1 {
		return 0, shared.Invalid("restock quantity must be >= 1")
	}
	var stock int64
	err := a.repo.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		stock, err = tx.IncrementStock(ctx, productID, qty)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("inventory: restock product %d: %w", productID, err)
	}

	a.metrics.UnitsReturned(qty)
	a.record(ctx, "product.restock", productID, map[string]any{"added": qty, "stock": stock})
	return stock, nil
}

// UpdatePrice changes a product's unit price. Recorded sale totals keep their value.
func (a *Adjuster) UpdatePrice(ctx context.Context, productID int64, price decimal.Decimal) (store.Product, error) {
	if err := validatePrice(price); err != nil {
		return store.Product{}, err
	}
	var product store.Product
	err := a.repo.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		product, err = tx.UpdateProductPrice(ctx, productID, price)
		return err
	})
	if err != nil {
		return store.Product{}, fmt.Errorf("inventory: update price %d: %w", productID, err)
	}
	a.record(ctx, "product.price", productID, map[string]any{"price": price.String()})
	return product, nil
}

// ListProducts returns the catalogue.
func (a *Adjuster) ListProducts(ctx context.Context) ([]store.Product, error) {
	products, err := a.repo.ListProducts(ctx)
	if err != nil {
		return nil, fmt.Errorf("inventory: list products: %w", err)
	}
	return products, nil
}

// LowStock lists products under threshold, lowest stock first. threshold <= 0
// uses the configured default.
func (a *Adjuster) LowStock(ctx context.Context, threshold int64) ([]store.Product, error) {
	if threshold <= 0 {
		threshold = a.threshold
	}
	products, err := a.repo.ListLowStock(ctx, threshold)
	if err != nil {
		return nil, fmt.Errorf("inventory: low stock: %w", err)
	}
	return products, nil
}

// Threshold reports the default low stock threshold.
func (a *Adjuster) Threshold() int64 {
	return a.threshold
}

func (a *Adjuster) record(ctx context.Context, action string, productID int64, meta map[string]any) {
	if a.audit == nil {
		return
	}
	if err := a.audit.Record(ctx, shared.AuditLog{
		Action:   action,
		Entity:   "product",
		EntityID: strconv.FormatInt(productID, 10),
		Meta:     meta,
	}); err != nil {
		a.logger.Warn("record audit", slog.String("action", action), slog.Any("error", err))
	}
}

// maxPrice is the first value NUMERIC(12,2) cannot hold.
var maxPrice = decimal.New(1, 10)

// validatePrice accepts positive amounts in whole cents, so both store
// drivers freeze the same totals.
func validatePrice(price decimal.Decimal) error {
	if !price.IsPositive() {
		return shared.Invalid("price must be > 0")
	}
	if !price.Equal(price.Round(2)) {
		return shared.Invalid("price %s has more than 2 decimal places", price.String())
	}
	if price.GreaterThanOrEqual(maxPrice) {
		return shared.Invalid("price %s is too large", price.String())
	}
	return nil
}
