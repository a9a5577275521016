package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/salesops/salesops/internal/analytics"
	"github.com/salesops/salesops/internal/inventory"
	"github.com/salesops/salesops/internal/observability"
	"github.com/salesops/salesops/internal/platform/cache"
	"github.com/salesops/salesops/internal/platform/db"
	"github.com/salesops/salesops/internal/sales"
	"github.com/salesops/salesops/internal/shared"
	"github.com/salesops/salesops/internal/store"
	"github.com/salesops/salesops/internal/store/memstore"
)

// AuditRecorder persists audit entries.
type AuditRecorder interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// IdempotencyStore claims, releases and expires request keys.
type IdempotencyStore interface {
	sales.IdempotencyPort
	Cleanup(ctx context.Context, olderThan time.Duration) error
}

// AgentWriter inserts sales agents. Both store drivers implement it.
type AgentWriter interface {
	InsertAgent(ctx context.Context, name string, commissionPct decimal.Decimal) (store.SalesAgent, error)
}

// Deps holds the shared services both binaries build on.
type Deps struct {
	Repo        store.Repository
	Agents      AgentWriter
	Pool        *pgxpool.Pool
	Redis       *redis.Client
	Cache       *analytics.Cache
	Audit       AuditRecorder
	Idempotency IdempotencyStore
	Metrics     *observability.Metrics

	Sales     *sales.Engine
	Inventory *inventory.Adjuster
	Analytics *analytics.Engine

	closers []func()
}

// Build opens the configured store and Redis, then wires the engines. Redis
// is optional: without it the analytics cache is disabled.
func Build(ctx context.Context, cfg *Config, logger *slog.Logger) (*Deps, error) {
	if cfg == nil {
		return nil, errors.New("app: config required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	d := &Deps{Metrics: observability.NewMetrics()}

	switch cfg.StoreDriver {
	case DriverMemory:
		ms := memstore.New()
		d.Repo = ms
		d.Agents = ms
		d.Audit = shared.NewSlogAuditLogger(logger)
		d.Idempotency = shared.NewMemoryIdempotencyStore()
	default:
		pool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
		if err != nil {
			return nil, err
		}
		d.closers = append(d.closers, pool.Close)
		pg := store.NewPostgres(pool)
		d.Pool = pool
		d.Repo = pg
		d.Agents = pg
		d.Audit = shared.NewAuditLogger(pool)
		d.Idempotency = shared.NewIdempotencyStore(pool)
	}

	client, err := connectRedis(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable, analytics cache disabled", slog.Any("error", err))
	} else if client != nil {
		d.Redis = client
		d.closers = append(d.closers, func() {
			if err := client.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		})
	}
	d.Cache = analytics.NewCache(d.Redis, cfg.CacheTTL)

	d.Sales = sales.NewEngine(d.Repo, d.Audit, d.Idempotency, d.Cache, sales.EngineConfig{
		StockPolicy: cfg.Policy(),
		Logger:      logger,
		Metrics:     d.Metrics,
	})
	d.Inventory = inventory.NewAdjuster(d.Repo, d.Audit, inventory.AdjusterConfig{
		LowStockThreshold: cfg.LowStockThreshold,
		Logger:            logger,
		Metrics:           d.Metrics,
	})
	d.Analytics = analytics.NewEngine(d.Repo, d.Cache, analytics.Config{
		MonthlyTarget: cfg.MonthlyTarget,
		Location:      cfg.Location(),
		Logger:        logger,
		Metrics:       d.Metrics,
	})
	return d, nil
}

func connectRedis(ctx context.Context, addr string) (*redis.Client, error) {
	if addr == "" {
		return nil, nil
	}
	return cache.Connect(ctx, cache.Options{Addr: addr})
}

// Close releases connections in reverse order of acquisition.
func (d *Deps) Close() {
	if d == nil {
		return
	}
	for i := len(d.closers) - 1; i >= 0; i-- {
		d.closers[i]()
	}
	d.closers = nil
}

// Migrate applies pending schema migrations. The memory driver has no schema.
func (d *Deps) Migrate(ctx context.Context, logger *slog.Logger) ([]string, error) {
	if d.Pool == nil {
		return nil, nil
	}
	applied, err := db.Migrate(ctx, d.Pool, logger)
	if err != nil {
		return nil, fmt.Errorf("app: migrate: %w", err)
	}
	return applied, nil
}
