package cli

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/salesops/salesops/jobs"
)

func TestBuildTask(t *testing.T) {
	for _, name := range []string{jobs.TaskReportWarmup, jobs.TaskLowStockScan, jobs.TaskIdempotencyCleanup} {
		task, err := BuildTask(name)
		require.NoError(t, err, name)
		assert.Equal(t, name, task.Type())
		assert.NotEmpty(t, task.Payload())
	}

	_, err := BuildTask("mail:send")
	assert.Error(t, err)
}

func TestNilCLIRejectsCalls(t *testing.T) {
	var c *JobsCLI
	_, err := c.Trigger(context.Background(), jobs.TaskReportWarmup)
	assert.Error(t, err)
	_, err = c.InspectQueue()
	assert.Error(t, err)
	_, err = c.ListScheduled(5)
	assert.Error(t, err)
}
