package jobs

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskReportWarmup preloads the analytics cache for the ranges dashboards ask for most.
	TaskReportWarmup = "reports:warmup"
	// TaskLowStockScan records which products fell under the low stock threshold.
	TaskLowStockScan = "inventory:low-stock-scan"
)

// ReportWarmupPayload selects which ranges to warm. Empty Scopes warms all of them.
type ReportWarmupPayload struct {
	RequestID string   `json:"request_id"`
	Scopes    []string `json:"scopes,omitempty"`
}

// LowStockScanPayload carries an optional threshold override.
type LowStockScanPayload struct {
	RequestID string `json:"request_id"`
	Threshold int64  `json:"threshold,omitempty"`
}

// NewReportWarmupTask constructs the warmup task.
func NewReportWarmupTask(scopes ...string) (*asynq.Task, error) {
	data, err := json.Marshal(ReportWarmupPayload{RequestID: uuid.NewString(), Scopes: scopes})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskReportWarmup, data), nil
}

// NewLowStockScanTask constructs the scan task. threshold <= 0 uses the configured default.
func NewLowStockScanTask(threshold int64) (*asynq.Task, error) {
	data, err := json.Marshal(LowStockScanPayload{RequestID: uuid.NewString(), Threshold: threshold})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLowStockScan, data), nil
}
