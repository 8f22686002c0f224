package scheduler

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewScheduler(t *testing.T) {
	s := NewScheduler(testLogger())
	require.NotNil(t, s)
	assert.False(t, s.IsRunning())
	assert.Empty(t, s.ListTasks())
}

func TestScheduler_AddCronTask(t *testing.T) {
	s := NewScheduler(testLogger())

	err := s.AddCronTask("cleanup", "0 0 3 * * *", func(ctx context.Context) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, []string{"cleanup"}, s.ListTasks())
}

func TestScheduler_AddCronTask_Replaces(t *testing.T) {
	s := NewScheduler(testLogger())

	require.NoError(t, s.AddCronTask("cleanup", "0 0 3 * * *", func(ctx context.Context) error { return nil }))
	require.NoError(t, s.AddCronTask("cleanup", "0 30 4 * * *", func(ctx context.Context) error { return nil }))

	// Re-registering under the same name replaces the entry
	assert.Len(t, s.ListTasks(), 1)
	assert.Len(t, s.cron.Entries(), 1)
}

func TestScheduler_AddCronTask_InvalidExpression(t *testing.T) {
	s := NewScheduler(testLogger())

	err := s.AddCronTask("bad", "not a schedule", func(ctx context.Context) error { return nil })
	assert.Error(t, err)
	assert.Empty(t, s.ListTasks())
}

func TestScheduler_AddIntervalTask(t *testing.T) {
	s := NewScheduler(testLogger())

	err := s.AddIntervalTask("stale_sweep", 5*time.Minute, func(ctx context.Context) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, []string{"stale_sweep"}, s.ListTasks())
}

func TestScheduler_RemoveTask(t *testing.T) {
	s := NewScheduler(testLogger())

	require.NoError(t, s.AddIntervalTask("stale_sweep", time.Minute, func(ctx context.Context) error { return nil }))
	s.RemoveTask("stale_sweep")
	assert.Empty(t, s.ListTasks())

	// Removing an unknown name is a no-op
	s.RemoveTask("missing")
}

func TestScheduler_StartStop(t *testing.T) {
	s := NewScheduler(testLogger())
	ctx := context.Background()

	require.NoError(t, s.Start(ctx))
	assert.True(t, s.IsRunning())

	// Start is idempotent
	require.NoError(t, s.Start(ctx))

	require.NoError(t, s.Stop(ctx))
	assert.False(t, s.IsRunning())

	// Stop is idempotent
	require.NoError(t, s.Stop(ctx))
}

func TestScheduler_GetTaskInfo(t *testing.T) {
	s := NewScheduler(testLogger())

	require.NoError(t, s.AddIntervalTask("stale_sweep", time.Minute, func(ctx context.Context) error { return nil }))
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop(context.Background())

	info := s.GetTaskInfo()
	require.Len(t, info, 1)
	assert.Equal(t, "stale_sweep", info[0].Name)
	assert.False(t, info[0].NextRun.IsZero())
}
