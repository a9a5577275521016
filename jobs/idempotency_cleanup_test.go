package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/salesops/salesops/internal/jobs"
	"github.com/salesops/salesops/internal/shared"
)

func TestIdempotencyCleanupExpiresOldKeys(t *testing.T) {
	ctx := context.Background()
	store := shared.NewMemoryIdempotencyStore()
	require.NoError(t, store.CheckAndInsert(ctx, "sales:old", "sales"))

	job := &IdempotencyCleanupJob{Store: store, Metrics: jobmetrics.NewMetrics(prometheus.NewRegistry())}
	task, err := NewIdempotencyCleanupTask(time.Nanosecond)
	require.NoError(t, err)
	time.Sleep(time.Millisecond)
	require.NoError(t, job.Handle(ctx, task))

	// The key is free again.
	assert.NoError(t, store.CheckAndInsert(ctx, "sales:old", "sales"))
}

func TestIdempotencyCleanupKeepsRecentKeys(t *testing.T) {
	ctx := context.Background()
	store := shared.NewMemoryIdempotencyStore()
	require.NoError(t, store.CheckAndInsert(ctx, "sales:new", "sales"))

	job := &IdempotencyCleanupJob{Store: store}
	task, err := NewIdempotencyCleanupTask(0)
	require.NoError(t, err)
	require.NoError(t, job.Handle(ctx, task))

	assert.ErrorIs(t, store.CheckAndInsert(ctx, "sales:new", "sales"), shared.ErrIdempotencyConflict)
}
