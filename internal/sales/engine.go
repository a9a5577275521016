// Package sales records, amends and deletes sales against the stock ledger.
package sales

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/salesops/salesops/internal/observability"
	"github.com/salesops/salesops/internal/shared"
	"github.com/salesops/salesops/internal/store"
)

const idempotencyModule = "sales"

// StockPolicy decides whether amending or deleting a sale moves stock.
type StockPolicy string

const (
	// StockPolicyReconcile returns or takes the quantity difference from stock.
	StockPolicyReconcile StockPolicy = "reconcile"
	// StockPolicyPreserve leaves stock untouched on amend and delete.
	StockPolicyPreserve StockPolicy = "preserve"
)

// ParseStockPolicy resolves s; an empty string selects reconcile.
func ParseStockPolicy(s string) (StockPolicy, error) {
	switch StockPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", StockPolicyReconcile:
		return StockPolicyReconcile, nil
	case StockPolicyPreserve:
		return StockPolicyPreserve, nil
	default:
		return "", fmt.Errorf("sales: unknown stock policy %q", s)
	}
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// IdempotencyPort claims request keys.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// Invalidator drops cached aggregates after a committed write.
type Invalidator interface {
	Bump(ctx context.Context) error
}

// EngineConfig groups optional settings.
type EngineConfig struct {
	StockPolicy StockPolicy
	Logger      *slog.Logger
	Metrics     *observability.Metrics
	Clock       func() time.Time
}

// Engine coordinates sale writes.
type Engine struct {
	repo    store.Repository
	audit   AuditPort
	idem    IdempotencyPort
	cache   Invalidator
	policy  StockPolicy
	logger  *slog.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

// NewEngine builds Engine. audit, idem and cache may be nil.
func NewEngine(repo store.Repository, audit AuditPort, idem IdempotencyPort, cache Invalidator, cfg EngineConfig) *Engine {
	e := &Engine{
		repo:    repo,
		audit:   audit,
		idem:    idem,
		cache:   cache,
		policy:  cfg.StockPolicy,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
		now:     cfg.Clock,
	}
	if e.policy == "" {
		e.policy = StockPolicyReconcile
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e
}

// Policy reports the configured stock policy.
func (e *Engine) Policy() StockPolicy {
	return e.policy
}

// RecordSaleInput is the payload for RecordSale.
type RecordSaleInput struct {
	AgentID        int64
	ProductID      int64
	Quantity       int64
	IdempotencyKey string
}

// RecordSale validates, takes stock and writes the sale in one transaction.
// Total is the product's current unit price times Quantity.
func (e *Engine) RecordSale(ctx context.Context, input RecordSaleInput) (store.SaleRecord, error) {
	if input.Quantity < 1 {
		return store.SaleRecord{}, shared.Invalid("quantity must be >= 1")
	}
	if input.AgentID <= 0 || input.ProductID <= 0 {
		return store.SaleRecord{}, shared.Invalid("agent and product required")
	}

	key, err := e.claim(ctx, input.IdempotencyKey)
	if err != nil {
		return store.SaleRecord{}, err
	}

	var sale store.SaleRecord
	err = e.repo.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if _, err := tx.GetAgent(ctx, input.AgentID); err != nil {
			return err
		}
		product, err := tx.GetProduct(ctx, input.ProductID)
		if err != nil {
			return err
		}
		change, err := tx.DecrementStockIfAvailable(ctx, product.ID, input.Quantity)
		if err != nil {
			return err
		}
		if !change.OK {
			return &shared.InsufficientStockError{ProductID: product.ID, Requested: input.Quantity, Available: change.Remaining}
		}
		sale, err = tx.InsertSale(ctx, store.SaleRecord{
			ProductID: product.ID,
			AgentID:   input.AgentID,
			Quantity:  input.Quantity,
			Total:     lineTotal(product.UnitPrice, input.Quantity),
			SoldAt:    e.now(),
		})
		return err
	})
	if err != nil {
		e.release(ctx, key)
		e.observeFailure(err)
		return store.SaleRecord{}, fmt.Errorf("sales: record sale: %w", err)
	}

	e.metrics.SaleCommitted("create")
	e.metrics.UnitsSold(sale.Quantity)
	e.afterCommit(ctx, "sale.create", sale.ID, map[string]any{
		"product_id": sale.ProductID,
		"agent_id":   sale.AgentID,
		"quantity":   sale.Quantity,
		"total":      sale.Total.String(),
	})
	return sale, nil
}

// AmendSale changes a sale's quantity and recomputes its total from the
// product's current unit price. Under the reconcile policy the quantity
// difference is taken from or returned to stock in the same transaction.
func (e *Engine) AmendSale(ctx context.Context, saleID, quantity int64) (store.SaleRecord, error) {
	if quantity < 1 {
		return store.SaleRecord{}, shared.Invalid("quantity must be >= 1")
	}

	var (
		amended store.SaleRecord
		delta   int64
	)
	err := e.repo.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		sale, err := tx.GetSaleForUpdate(ctx, saleID)
		if err != nil {
			return err
		}
		product, err := tx.GetProduct(ctx, sale.ProductID)
		if err != nil {
			return err
		}
		delta = quantity - sale.Quantity
		if e.policy == StockPolicyReconcile {
			if err := reconcileStock(ctx, tx, product.ID, delta); err != nil {
				return err
			}
		}
		total := lineTotal(product.UnitPrice, quantity)
		if err := tx.UpdateSale(ctx, sale.ID, quantity, total); err != nil {
			return err
		}
		sale.Quantity = quantity
		sale.Total = total
		amended = sale
		return nil
	})
	if err != nil {
		e.observeFailure(err)
		return store.SaleRecord{}, fmt.Errorf("sales: amend sale %d: %w", saleID, err)
	}

	e.metrics.SaleCommitted("amend")
	if e.policy == StockPolicyReconcile {
		if delta > 0 {
			e.metrics.UnitsSold(delta)
		} else {
			e.metrics.UnitsReturned(-delta)
		}
	}
	e.afterCommit(ctx, "sale.amend", amended.ID, map[string]any{
		"quantity": amended.Quantity,
		"delta":    delta,
		"total":    amended.Total.String(),
		"policy":   string(e.policy),
	})
	return amended, nil
}

// DeleteSale removes a sale. Under the reconcile policy its quantity goes back to stock.
func (e *Engine) DeleteSale(ctx context.Context, saleID int64) error {
	var removed store.SaleRecord
	err := e.repo.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		sale, err := tx.GetSaleForUpdate(ctx, saleID)
		if err != nil {
			return err
		}
		if e.policy == StockPolicyReconcile {
			if _, err := tx.IncrementStock(ctx, sale.ProductID, sale.Quantity); err != nil {
				return err
			}
		}
		removed = sale
		return tx.DeleteSale(ctx, sale.ID)
	})
	if err != nil {
		e.observeFailure(err)
		return fmt.Errorf("sales: delete sale %d: %w", saleID, err)
	}

	e.metrics.SaleCommitted("delete")
	if e.policy == StockPolicyReconcile {
		e.metrics.UnitsReturned(removed.Quantity)
	}
	e.afterCommit(ctx, "sale.delete", removed.ID, map[string]any{
		"product_id": removed.ProductID,
		"quantity":   removed.Quantity,
		"policy":     string(e.policy),
	})
	return nil
}

// GetSale loads one sale.
func (e *Engine) GetSale(ctx context.Context, saleID int64) (store.SaleRecord, error) {
	sale, err := e.repo.GetSale(ctx, saleID)
	if err != nil {
		return store.SaleRecord{}, fmt.Errorf("sales: get sale %d: %w", saleID, err)
	}
	return sale, nil
}

// ListSales returns the joined sale rows inside p.
func (e *Engine) ListSales(ctx context.Context, p store.Period) ([]store.SaleRow, error) {
	rows, err := e.repo.ListSaleRows(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("sales: list sales: %w", err)
	}
	return rows, nil
}

// ListAgents returns every sales agent.
func (e *Engine) ListAgents(ctx context.Context) ([]store.SalesAgent, error) {
	agents, err := e.repo.ListAgents(ctx)
	if err != nil {
		return nil, fmt.Errorf("sales: list agents: %w", err)
	}
	return agents, nil
}

func reconcileStock(ctx context.Context, tx store.Tx, productID, delta int64) error {
	switch {
	case delta > 0:
		change, err := tx.DecrementStockIfAvailable(ctx, productID, delta)
		if err != nil {
			return err
		}
		if !change.OK {
			return &shared.InsufficientStockError{ProductID: productID, Requested: delta, Available: change.Remaining}
		}
	case delta < 0:
		if _, err := tx.IncrementStock(ctx, productID, -delta); err != nil {
			return err
		}
	}
	return nil
}

func lineTotal(unitPrice decimal.Decimal, qty int64) decimal.Decimal {
	return unitPrice.Mul(decimal.NewFromInt(qty))
}

func (e *Engine) claim(ctx context.Context, raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || e.idem == nil {
		return "", nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return "", shared.Invalid("idempotency key must be a UUID")
	}
	key := idempotencyModule + ":" + id.String()
	if err := e.idem.CheckAndInsert(ctx, key, idempotencyModule); err != nil {
		if errors.Is(err, shared.ErrIdempotencyConflict) {
			return "", fmt.Errorf("sales: record sale: %w", err)
		}
		return "", shared.Storage("idempotency claim", err)
	}
	return key, nil
}

func (e *Engine) release(ctx context.Context, key string) {
	if key == "" {
		return
	}
	if err := e.idem.Delete(ctx, key); err != nil {
		e.logger.Warn("release idempotency key", slog.String("key", key), slog.Any("error", err))
	}
}

func (e *Engine) observeFailure(err error) {
	if errors.Is(err, shared.ErrInsufficientStock) {
		e.metrics.InsufficientStock()
	}
}

// afterCommit runs side effects that must not fail a committed write.
func (e *Engine) afterCommit(ctx context.Context, action string, saleID int64, meta map[string]any) {
	if e.cache != nil {
		if err := e.cache.Bump(ctx); err != nil {
			e.logger.Warn("bump analytics cache", slog.String("action", action), slog.Any("error", err))
		}
	}
	if e.audit != nil {
		if err := e.audit.Record(ctx, shared.AuditLog{
			Action:   action,
			Entity:   "sale",
			EntityID: strconv.FormatInt(saleID, 10),
			Meta:     meta,
			At:       e.now(),
		}); err != nil {
			e.logger.Warn("record audit", slog.String("action", action), slog.Any("error", err))
		}
	}
}
