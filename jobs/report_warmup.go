package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/salesops/salesops/internal/analytics"
	jobmetrics "github.com/salesops/salesops/internal/jobs"
	"github.com/salesops/salesops/internal/store"
)

// Warmup scopes.
const (
	ScopeMonthToDate   = "month-to-date"
	ScopeToday         = "today"
	ScopePreviousMonth = "previous-month"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// Aggregator is the analytics surface the warmup needs.
type Aggregator interface {
	Aggregate(ctx context.Context, rng store.DateRange) (analytics.Result, error)
}

// ReportWarmupJob pre-populates the analytics cache for common report ranges.
type ReportWarmupJob struct {
	Analytics Aggregator
	Location  *time.Location
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
	clock     func() time.Time
}

// NewReportWarmupJob wires dependencies for the warmup handler.
func NewReportWarmupJob(agg Aggregator, loc *time.Location, logger *slog.Logger, metrics *jobmetrics.Metrics) *ReportWarmupJob {
	if loc == nil {
		loc = time.UTC
	}
	return &ReportWarmupJob{
		Analytics: agg,
		Location:  loc,
		Logger:    logger,
		Metrics:   metrics,
		clock:     time.Now,
	}
}

// Handle processes report warmup tasks.
func (j *ReportWarmupJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Analytics == nil {
		return errors.New("report warmup: handler not configured")
	}
	var payload ReportWarmupPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	tracker := j.metrics().Track(TaskReportWarmup)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger().With(slog.String("request_id", payload.RequestID))
	start := j.now()
	ranges, err := WarmupRanges(start, j.Location, payload.Scopes)
	if err != nil {
		resultErr = err
		logger.Error("resolve warmup ranges", slog.Any("error", err))
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}

	resultErr = j.warm(ctx, ranges)
	if resultErr != nil {
		logger.Error("warm reports", slog.Any("error", resultErr))
		return resultErr
	}
	j.metrics().AddWarmed(len(ranges))
	logger.Info("completed report warmup", slog.Int("ranges", len(ranges)), slog.Duration("duration", time.Since(start)))
	return nil
}

func (j *ReportWarmupJob) warm(ctx context.Context, ranges []store.DateRange) error {
	ctx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	for _, rng := range ranges {
		rng := rng
		g.Go(func() error {
			if _, err := j.Analytics.Aggregate(ctx, rng); err != nil {
				return fmt.Errorf("warm %s: %w", rng, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// WarmupRanges resolves scope names to date ranges relative to now.
func WarmupRanges(now time.Time, loc *time.Location, scopes []string) ([]store.DateRange, error) {
	if loc == nil {
		loc = time.UTC
	}
	if len(scopes) == 0 {
		scopes = []string{ScopeMonthToDate, ScopeToday, ScopePreviousMonth}
	}
	mtd := store.MonthToDate(now, loc)
	out := make([]store.DateRange, 0, len(scopes))
	for _, scope := range scopes {
		switch scope {
		case ScopeMonthToDate:
			out = append(out, mtd)
		case ScopeToday:
			out = append(out, store.DateRange{From: mtd.To, To: mtd.To})
		case ScopePreviousMonth:
			first := mtd.From.AddDate(0, -1, 0)
			out = append(out, store.DateRange{From: first, To: mtd.From.AddDate(0, 0, -1)})
		default:
			return nil, fmt.Errorf("unknown warmup scope %q", scope)
		}
	}
	return out, nil
}

func (j *ReportWarmupJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskReportWarmup))
	}
	return slog.Default().With(slog.String("job", TaskReportWarmup))
}

func (j *ReportWarmupJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *ReportWarmupJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now()
}
