package perf

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/shopspring/decimal"

	"github.com/salesops/salesops/internal/analytics"
	"github.com/salesops/salesops/internal/inventory"
	jobmetrics "github.com/salesops/salesops/internal/jobs"
	"github.com/salesops/salesops/internal/store"
	"github.com/salesops/salesops/jobs"
)

type flakyAggregator struct {
	inner *analytics.Engine
	fail  int
}

func (f *flakyAggregator) Aggregate(ctx context.Context, rng store.DateRange) (analytics.Result, error) {
	if f.fail > 0 {
		f.fail--
		return analytics.Result{}, errors.New("redis timeout")
	}
	return f.inner.Aggregate(ctx, rng)
}

func TestJobThroughputAndReliability(t *testing.T) {
	repo := seededLedger(t, 500)
	reg := prometheus.NewRegistry()
	metrics := jobmetrics.NewMetrics(reg)

	engine := analytics.NewEngine(repo, nil, analytics.Config{MonthlyTarget: decimal.NewFromInt(50000)})
	agg := &flakyAggregator{inner: engine}
	warmup := jobs.NewReportWarmupJob(agg, time.UTC, nil, metrics)
	scan := jobs.NewLowStockScanJob(inventory.NewAdjuster(repo, nil, inventory.AdjusterConfig{}), nil, metrics)

	ctx := context.Background()
	for i := 0; i < 40; i++ {
		if i%20 == 0 {
			agg.fail = 1
		} else {
			agg.fail = 0
		}
		task, err := jobs.NewReportWarmupTask(jobs.ScopeMonthToDate)
		if err != nil {
			t.Fatalf("build warmup task: %v", err)
		}
		_ = warmup.Handle(ctx, task)
	}
	for i := 0; i < 10; i++ {
		task, err := jobs.NewLowStockScanTask(0)
		if err != nil {
			t.Fatalf("build scan task: %v", err)
		}
		if err := scan.Handle(ctx, task); err != nil {
			t.Fatalf("scan failed: %v", err)
		}
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}

	success := metricValue(t, families, "salesops_jobs_total", map[string]string{"job": jobs.TaskReportWarmup, "status": "success"})
	failure := metricValue(t, families, "salesops_jobs_total", map[string]string{"job": jobs.TaskReportWarmup, "status": "failure"})
	if success != 38 || failure != 2 {
		t.Fatalf("warmup outcomes success=%v failure=%v", success, failure)
	}
	if ratio := success / (success + failure); ratio < 0.9 {
		t.Fatalf("warmup success ratio too low: %f", ratio)
	}

	if mean := histogramMean(t, families, "salesops_job_duration_seconds", map[string]string{"job": jobs.TaskReportWarmup}); mean > 0.5 {
		t.Fatalf("warmup duration above budget: %f", mean)
	}
	if mean := histogramMean(t, families, "salesops_job_duration_seconds", map[string]string{"job": jobs.TaskLowStockScan}); mean > 0.5 {
		t.Fatalf("low stock scan duration above budget: %f", mean)
	}
	if got := metricValue(t, families, "salesops_low_stock_products", nil); got != 1 {
		t.Fatalf("low stock gauge = %v, want 1", got)
	}
}

func metricValue(t *testing.T, families []*dto.MetricFamily, name string, labels map[string]string) float64 {
	t.Helper()
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, metric := range fam.GetMetric() {
			if hasLabels(metric, labels) {
				if fam.GetType() == dto.MetricType_COUNTER {
					return metric.GetCounter().GetValue()
				}
				if fam.GetType() == dto.MetricType_GAUGE {
					return metric.GetGauge().GetValue()
				}
			}
		}
	}
	t.Fatalf("metric %s with labels %v not found", name, labels)
	return 0
}

func histogramMean(t *testing.T, families []*dto.MetricFamily, name string, labels map[string]string) float64 {
	t.Helper()
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, metric := range fam.GetMetric() {
			if hasLabels(metric, labels) {
				hist := metric.GetHistogram()
				if hist == nil || hist.GetSampleCount() == 0 {
					t.Fatalf("histogram %s missing samples", name)
				}
				return hist.GetSampleSum() / float64(hist.GetSampleCount())
			}
		}
	}
	t.Fatalf("histogram %s with labels %v not found", name, labels)
	return 0
}

func hasLabels(metric *dto.Metric, labels map[string]string) bool {
	for _, lp := range metric.GetLabel() {
		if val, ok := labels[lp.GetName()]; ok {
			if lp.GetValue() != val {
				return false
			}
		}
	}
	for key := range labels {
		found := false
		for _, lp := range metric.GetLabel() {
			if lp.GetName() == key {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
