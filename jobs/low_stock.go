package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/salesops/salesops/internal/jobs"
	"github.com/salesops/salesops/internal/store"
)

// StockLister is the inventory surface the scan needs.
type StockLister interface {
	LowStock(ctx context.Context, threshold int64) ([]store.Product, error)
}

// LowStockScanJob logs products under the threshold and exports the count as a gauge.
type LowStockScanJob struct {
	Inventory StockLister
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
}

// NewLowStockScanJob wires dependencies for the scan handler.
func NewLowStockScanJob(inv StockLister, logger *slog.Logger, metrics *jobmetrics.Metrics) *LowStockScanJob {
	return &LowStockScanJob{Inventory: inv, Logger: logger, Metrics: metrics}
}

// Handle processes low stock scan tasks.
func (j *LowStockScanJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Inventory == nil {
		return errors.New("low stock scan: handler not configured")
	}
	var payload LowStockScanPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	metrics := j.Metrics
	if metrics == nil {
		metrics = defaultJobMetrics
	}
	tracker := metrics.Track(TaskLowStockScan)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("job", TaskLowStockScan), slog.String("request_id", payload.RequestID))

	products, err := j.Inventory.LowStock(ctx, payload.Threshold)
	if err != nil {
		resultErr = err
		logger.Error("list low stock", slog.Any("error", err))
		return resultErr
	}
	metrics.SetLowStock(len(products))
	for _, p := range products {
		logger.Warn("low stock", slog.Int64("product_id", p.ID), slog.String("name", p.Name), slog.Int64("stock", p.Stock))
	}
	logger.Info("completed low stock scan", slog.Int("products", len(products)))
	return nil
}
