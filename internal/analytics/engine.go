package analytics

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/salesops/salesops/internal/observability"
	"github.com/salesops/salesops/internal/shared"
	"github.com/salesops/salesops/internal/store"
)

// Repository is the read side the engine aggregates over.
type Repository interface {
	ListSaleRows(ctx context.Context, p store.Period) ([]store.SaleRow, error)
}

// Config groups engine settings.
type Config struct {
	MonthlyTarget decimal.Decimal
	Location      *time.Location
	Logger        *slog.Logger
	Metrics       *observability.Metrics
}

// Engine answers aggregate queries, caching results per cache version.
type Engine struct {
	repo    Repository
	cache   *Cache
	target  decimal.Decimal
	loc     *time.Location
	logger  *slog.Logger
	metrics *observability.Metrics
	group   singleflight.Group
}

// NewEngine wires a Repository with an optional Cache.
func NewEngine(repo Repository, cache *Cache, cfg Config) *Engine {
	e := &Engine{
		repo:    repo,
		cache:   cache,
		target:  cfg.MonthlyTarget,
		loc:     cfg.Location,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
	}
	if e.loc == nil {
		e.loc = time.UTC
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	return e
}

// Location reports the time zone used to bucket days.
func (e *Engine) Location() *time.Location {
	return e.loc
}

// Aggregate computes the Result for rng. Concurrent identical requests share one computation.
func (e *Engine) Aggregate(ctx context.Context, rng store.DateRange) (Result, error) {
	if err := rng.Validate(); err != nil {
		return Result{}, shared.Invalid("%v", err)
	}
	key, err := e.cache.BuildKey(ctx, "salesops", "analytics", "aggregate", e.loc.String(), rng.String(), e.target.String())
	if err != nil {
		e.logger.Warn("analytics cache key", slog.Any("error", err))
		return e.compute(ctx, rng)
	}

	ch := e.group.DoChan(key, func() (any, error) {
		return e.fetch(context.WithoutCancel(ctx), key, rng)
	})
	select {
	case <-ctx.Done():
		return Result{}, shared.Storage("aggregate", ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return Result{}, res.Err
		}
		return res.Val.(Result), nil
	}
}

// Rows returns the ordered joined rows for rng.
func (e *Engine) Rows(ctx context.Context, rng store.DateRange) ([]store.SaleRow, error) {
	if err := rng.Validate(); err != nil {
		return nil, shared.Invalid("%v", err)
	}
	rows, err := e.repo.ListSaleRows(ctx, rng.Period(e.loc))
	if err != nil {
		return nil, fmt.Errorf("analytics: rows: %w", err)
	}
	if rows == nil {
		rows = []store.SaleRow{}
	}
	return rows, nil
}

// Export returns the ordered rows for rng together with a Result computed from
// those same rows. The cache is bypassed so both halves describe one read.
func (e *Engine) Export(ctx context.Context, rng store.DateRange) ([]store.SaleRow, Result, error) {
	rows, err := e.Rows(ctx, rng)
	if err != nil {
		return nil, Result{}, err
	}
	return rows, Compute(rows, rng, e.target, e.loc), nil
}

func (e *Engine) fetch(ctx context.Context, key string, rng store.DateRange) (Result, error) {
	var loadErr error
	res, hit, err := Fetch(ctx, e.cache, key, func(ctx context.Context) (Result, error) {
		r, err := e.compute(ctx, rng)
		loadErr = err
		return r, err
	})
	if loadErr != nil {
		return Result{}, loadErr
	}
	if err != nil {
		e.logger.Warn("analytics cache unavailable", slog.String("key", key), slog.Any("error", err))
		if res.From == "" {
			return e.compute(ctx, rng)
		}
		return res, nil
	}
	if e.cache.Enabled() {
		e.metrics.CacheLookup(hit)
	}
	return res, nil
}

func (e *Engine) compute(ctx context.Context, rng store.DateRange) (Result, error) {
	rows, err := e.repo.ListSaleRows(ctx, rng.Period(e.loc))
	if err != nil {
		return Result{}, fmt.Errorf("analytics: aggregate: %w", err)
	}
	return Compute(rows, rng, e.target, e.loc), nil
}
