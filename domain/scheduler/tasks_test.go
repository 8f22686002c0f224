package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JulesNsenda/ezsign-sub003/internal/config"
	"github.com/JulesNsenda/ezsign-sub003/internal/jobs"
)

type fakeEnqueuer struct {
	jobType string
	payload any
	opts    jobs.EnqueueOptions
	err     error
}

func (f *fakeEnqueuer) Enqueue(ctx context.Context, jobType string, payload any, opts jobs.EnqueueOptions) (*jobs.Job, error) {
	f.jobType = jobType
	f.payload = payload
	f.opts = opts
	if f.err != nil {
		return nil, f.err
	}
	return &jobs.Job{ID: "job-1", Type: jobType}, nil
}

type fakePruner struct {
	olderThan time.Duration
	n         int64
	err       error
}

func (f *fakePruner) PruneCompleted(ctx context.Context, olderThan time.Duration) (int64, error) {
	f.olderThan = olderThan
	return f.n, f.err
}

type fakeDLQCleaner struct {
	olderThan time.Duration
	n         int64
	err       error
}

func (f *fakeDLQCleaner) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	f.olderThan = olderThan
	return f.n, f.err
}

type fakeEventPruner struct {
	olderThan time.Duration
	n         int64
	err       error
}

func (f *fakeEventPruner) DeleteOldDeliveryEvents(ctx context.Context, olderThan time.Duration) (int64, error) {
	f.olderThan = olderThan
	return f.n, f.err
}

type fakeSweeper struct {
	enabled     bool
	tempCalled  bool
	tempMaxAge  time.Duration
	tempRemoved int
	tempErr     error
	keys        map[string][]string
	deleted     []string
	deleteErr   error
}

func (f *fakeSweeper) Enabled() bool { return f.enabled }

func (f *fakeSweeper) CleanupTemp(ctx context.Context, maxAge time.Duration) (int, error) {
	f.tempCalled = true
	f.tempMaxAge = maxAge
	return f.tempRemoved, f.tempErr
}

func (f *fakeSweeper) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	return f.keys[prefix], nil
}

func (f *fakeSweeper) Delete(ctx context.Context, key string) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted = append(f.deleted, key)
	return nil
}

type fakeIndex struct {
	documents map[string]bool
	signers   map[string]bool
}

func (f *fakeIndex) DocumentExists(ctx context.Context, id string) (bool, error) {
	return f.documents[id], nil
}

func (f *fakeIndex) SignerExists(ctx context.Context, id string) (bool, error) {
	return f.signers[id], nil
}

func testConfig() *config.Config {
	return &config.Config{
		Jobs: config.JobsConfig{
			CompletedRetentionHours: 72,
			LeaseMinutes:            10,
		},
		Webhooks: config.WebhooksConfig{
			RetentionDays: 30,
		},
		Scheduler: config.SchedulerConfig{
			Enabled:             true,
			DLQRetentionDays:    14,
			TempFileMaxAgeHours: 24,
		},
	}
}

type maintenanceFakes struct {
	queue   *fakeEnqueuer
	jobs    *fakePruner
	dlq     *fakeDLQCleaner
	events  *fakeEventPruner
	sweeper *fakeSweeper
	index   *fakeIndex
}

func newMaintenance(t *testing.T, f maintenanceFakes) *Maintenance {
	t.Helper()
	if f.queue == nil {
		f.queue = &fakeEnqueuer{}
	}
	if f.jobs == nil {
		f.jobs = &fakePruner{}
	}
	if f.dlq == nil {
		f.dlq = &fakeDLQCleaner{}
	}
	if f.events == nil {
		f.events = &fakeEventPruner{}
	}
	if f.sweeper == nil {
		f.sweeper = &fakeSweeper{enabled: true}
	}
	if f.index == nil {
		f.index = &fakeIndex{}
	}
	return NewMaintenance(f.queue, f.jobs, f.dlq, f.events, f.sweeper, f.index, testConfig(), testLogger())
}

func cleanupJob(t *testing.T, payload CleanupPayload) *jobs.Job {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return &jobs.Job{ID: "job-1", Type: jobs.TypeCleanup, Payload: raw}
}

func TestMaintenance_EnqueueCleanup(t *testing.T) {
	queue := &fakeEnqueuer{}
	m := newMaintenance(t, maintenanceFakes{queue: queue})

	err := m.EnqueueCleanup(context.Background())
	require.NoError(t, err)
	assert.Equal(t, jobs.TypeCleanup, queue.jobType)
	assert.Equal(t, "cleanup:daily", queue.opts.DedupeKey)
	assert.Equal(t, CleanupPayload{Type: CleanupFull}, queue.payload)
}

func TestMaintenance_EnqueueCleanup_Error(t *testing.T) {
	queue := &fakeEnqueuer{err: errors.New("db down")}
	m := newMaintenance(t, maintenanceFakes{queue: queue})

	err := m.EnqueueCleanup(context.Background())
	assert.Error(t, err)
}

func TestMaintenance_HandleCleanup_Full(t *testing.T) {
	f := maintenanceFakes{
		jobs:    &fakePruner{n: 12},
		dlq:     &fakeDLQCleaner{n: 3},
		events:  &fakeEventPruner{n: 40},
		sweeper: &fakeSweeper{enabled: true, tempRemoved: 5},
		index:   &fakeIndex{},
	}
	m := newMaintenance(t, f)

	result, err := m.HandleCleanup(context.Background(), cleanupJob(t, CleanupPayload{Type: CleanupFull}))
	require.NoError(t, err)

	got, ok := result.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, int64(12), got["jobsPruned"])
	assert.Equal(t, int64(3), got["deadLettersRemoved"])
	assert.Equal(t, int64(40), got["deliveryEventsRemoved"])
	assert.Equal(t, 5, got["tempFilesRemoved"])

	// Retention windows come straight from config
	assert.Equal(t, 72*time.Hour, f.jobs.olderThan)
	assert.Equal(t, 14*24*time.Hour, f.dlq.olderThan)
	assert.Equal(t, 30*24*time.Hour, f.events.olderThan)
	assert.Equal(t, 24*time.Hour, f.sweeper.tempMaxAge)
}

func TestMaintenance_HandleCleanup_EmptyPayloadIsFull(t *testing.T) {
	f := maintenanceFakes{jobs: &fakePruner{n: 1}}
	m := newMaintenance(t, f)

	result, err := m.HandleCleanup(context.Background(), &jobs.Job{ID: "job-1", Type: jobs.TypeCleanup})
	require.NoError(t, err)

	got := result.(map[string]any)
	assert.Equal(t, CleanupFull, got["type"])
	assert.Equal(t, int64(1), got["jobsPruned"])
}

func TestMaintenance_HandleCleanup_TempFilesOnly(t *testing.T) {
	f := maintenanceFakes{
		jobs:    &fakePruner{},
		sweeper: &fakeSweeper{enabled: true, tempRemoved: 2},
	}
	m := newMaintenance(t, f)

	_, err := m.HandleCleanup(context.Background(), cleanupJob(t, CleanupPayload{Type: CleanupTempFiles, MaxAgeHours: 6}))
	require.NoError(t, err)

	assert.True(t, f.sweeper.tempCalled)
	assert.Equal(t, 6*time.Hour, f.sweeper.tempMaxAge)
	// Retention sweeps stay untouched in a scoped run
	assert.Zero(t, f.jobs.olderThan)
}

func TestMaintenance_HandleCleanup_OrphanedDocuments(t *testing.T) {
	f := maintenanceFakes{
		sweeper: &fakeSweeper{
			enabled: true,
			keys: map[string][]string{
				"": {
					"doc-1/a.pdf",
					"doc-1/a.thumb.png",
					"doc-2/b.pdf",
					"signatures/sig-1/img.png",
					"stray",
				},
			},
		},
		index: &fakeIndex{documents: map[string]bool{"doc-1": true}},
	}
	m := newMaintenance(t, f)

	result, err := m.HandleCleanup(context.Background(), cleanupJob(t, CleanupPayload{Type: CleanupOrphanedDocuments}))
	require.NoError(t, err)

	// Only doc-2's object is orphaned: doc-1 exists, signature keys and
	// un-prefixed keys are out of scope
	assert.Equal(t, []string{"doc-2/b.pdf"}, f.sweeper.deleted)
	got := result.(map[string]any)
	assert.Equal(t, 1, got["orphanedDocumentsRemoved"])
}

func TestMaintenance_HandleCleanup_OrphanedSignatures(t *testing.T) {
	f := maintenanceFakes{
		sweeper: &fakeSweeper{
			enabled: true,
			keys: map[string][]string{
				signaturePrefix: {
					"signatures/signer-1/sig.png",
					"signatures/signer-2/sig.png",
				},
			},
		},
		index: &fakeIndex{signers: map[string]bool{"signer-1": true}},
	}
	m := newMaintenance(t, f)

	_, err := m.HandleCleanup(context.Background(), cleanupJob(t, CleanupPayload{Type: CleanupOrphanedSignatures}))
	require.NoError(t, err)
	assert.Equal(t, []string{"signatures/signer-2/sig.png"}, f.sweeper.deleted)
}

func TestMaintenance_HandleCleanup_UnknownTypeIsPermanent(t *testing.T) {
	m := newMaintenance(t, maintenanceFakes{})

	_, err := m.HandleCleanup(context.Background(), cleanupJob(t, CleanupPayload{Type: "defrag"}))
	require.Error(t, err)
	assert.True(t, jobs.IsPermanent(err))
}

func TestMaintenance_HandleCleanup_SkipsDisabledStorage(t *testing.T) {
	sweeper := &fakeSweeper{enabled: false}
	m := newMaintenance(t, maintenanceFakes{sweeper: sweeper})

	result, err := m.HandleCleanup(context.Background(), cleanupJob(t, CleanupPayload{Type: CleanupFull}))
	require.NoError(t, err)
	assert.False(t, sweeper.tempCalled)

	got := result.(map[string]any)
	assert.NotContains(t, got, "tempFilesRemoved")
}

func TestMaintenance_HandleCleanup_FailedStepDoesNotStopOthers(t *testing.T) {
	f := maintenanceFakes{
		jobs:    &fakePruner{err: errors.New("prune failed")},
		dlq:     &fakeDLQCleaner{n: 1},
		events:  &fakeEventPruner{n: 2},
		sweeper: &fakeSweeper{enabled: true},
	}
	m := newMaintenance(t, f)

	_, err := m.HandleCleanup(context.Background(), cleanupJob(t, CleanupPayload{Type: CleanupFull}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 failed steps")
	assert.False(t, jobs.IsPermanent(err))

	// The remaining sweeps still ran
	assert.NotZero(t, f.dlq.olderThan)
	assert.NotZero(t, f.events.olderThan)
	assert.True(t, f.sweeper.tempCalled)
}

type fakeStalledQueue struct {
	name      string
	lease     time.Duration
	recovered int
	err       error
	called    bool
}

func (f *fakeStalledQueue) Name() string { return f.name }

func (f *fakeStalledQueue) RecoverStalled(ctx context.Context, lease time.Duration) (int, error) {
	f.called = true
	f.lease = lease
	return f.recovered, f.err
}

func TestStaleSweeper_Run(t *testing.T) {
	q1 := &fakeStalledQueue{name: "documents", recovered: 2}
	q2 := &fakeStalledQueue{name: "webhooks"}
	s := NewStaleSweeper([]StalledRecoverer{q1, q2}, 10*time.Minute, testLogger())

	err := s.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, q1.called)
	assert.True(t, q2.called)
	assert.Equal(t, 10*time.Minute, q1.lease)
	assert.Equal(t, 10*time.Minute, q2.lease)
}

func TestStaleSweeper_Run_QueueErrorDoesNotStopSweep(t *testing.T) {
	q1 := &fakeStalledQueue{name: "documents", err: errors.New("query failed")}
	q2 := &fakeStalledQueue{name: "webhooks", recovered: 1}
	s := NewStaleSweeper([]StalledRecoverer{q1, q2}, 10*time.Minute, testLogger())

	err := s.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, q2.called)
}
