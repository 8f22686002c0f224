package monitoring

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JulesNsenda/ezsign-sub003/domain/dlq"
	"github.com/JulesNsenda/ezsign-sub003/internal/jobs"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeQueueStats struct {
	stats map[string]*jobs.Stats
	err   error
}

func (f *fakeQueueStats) StatsByQueue(ctx context.Context) (map[string]*jobs.Stats, error) {
	return f.stats, f.err
}

type fakeDeadLetterStats struct {
	stats *dlq.Stats
	err   error
}

func (f *fakeDeadLetterStats) Stats(ctx context.Context) (*dlq.Stats, error) {
	return f.stats, f.err
}

type fakePool struct {
	name    string
	metrics jobs.PoolMetrics
}

func (f *fakePool) QueueName() string        { return f.name }
func (f *fakePool) Metrics() jobs.PoolMetrics { return f.metrics }

func TestCollector_Refresh(t *testing.T) {
	store := &fakeQueueStats{stats: map[string]*jobs.Stats{
		"documents": {Waiting: 4, Active: 2, Failed: 1},
	}}
	dlStats := &fakeDeadLetterStats{stats: &dlq.Stats{
		Pending: 3,
		ByQueue: map[string]int64{"documents": 3},
	}}
	pool := &fakePool{name: "documents", metrics: jobs.PoolMetrics{Processed: 10, Succeeded: 9, Failed: 1}}

	c := NewCollector(store, dlStats, []PoolSampler{pool}, []string{"documents", "webhooks"}, time.Minute, testLogger())
	c.Refresh(context.Background())

	assert.Equal(t, 4.0, testutil.ToFloat64(QueueJobs.WithLabelValues("documents", "waiting")))
	assert.Equal(t, 2.0, testutil.ToFloat64(QueueJobs.WithLabelValues("documents", "active")))
	assert.Equal(t, 1.0, testutil.ToFloat64(QueueJobs.WithLabelValues("documents", "failed")))

	// Queues with no rows are zero-filled
	assert.Equal(t, 0.0, testutil.ToFloat64(QueueJobs.WithLabelValues("webhooks", "waiting")))

	assert.Equal(t, 3.0, testutil.ToFloat64(DeadLettersPending.WithLabelValues("documents")))
	assert.Equal(t, 0.0, testutil.ToFloat64(DeadLettersPending.WithLabelValues("webhooks")))

	assert.Equal(t, 10.0, testutil.ToFloat64(PoolJobs.WithLabelValues("documents", "processed")))
	assert.Equal(t, 9.0, testutil.ToFloat64(PoolJobs.WithLabelValues("documents", "succeeded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(PoolJobs.WithLabelValues("documents", "failed")))
}

func TestCollector_Refresh_SourceErrorKeepsSampling(t *testing.T) {
	store := &fakeQueueStats{err: errors.New("db down")}
	dlStats := &fakeDeadLetterStats{err: errors.New("db down")}
	pool := &fakePool{name: "webhooks", metrics: jobs.PoolMetrics{Processed: 7}}

	c := NewCollector(store, dlStats, []PoolSampler{pool}, []string{"webhooks"}, time.Minute, testLogger())
	c.Refresh(context.Background())

	// Pool counters are in-process and still sampled
	assert.Equal(t, 7.0, testutil.ToFloat64(PoolJobs.WithLabelValues("webhooks", "processed")))
}

func TestCollector_StartStop(t *testing.T) {
	store := &fakeQueueStats{stats: map[string]*jobs.Stats{}}
	dlStats := &fakeDeadLetterStats{stats: &dlq.Stats{ByQueue: map[string]int64{}}}

	c := NewCollector(store, dlStats, nil, nil, 50*time.Millisecond, testLogger())

	ctx := context.Background()
	require.NoError(t, c.Start(ctx))
	require.NoError(t, c.Start(ctx)) // idempotent

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	require.NoError(t, c.Stop(stopCtx))
	require.NoError(t, c.Stop(stopCtx)) // idempotent
}

func TestNewCollector_DefaultInterval(t *testing.T) {
	c := NewCollector(&fakeQueueStats{}, &fakeDeadLetterStats{}, nil, nil, 0, testLogger())
	assert.Equal(t, 15*time.Second, c.interval)
}
