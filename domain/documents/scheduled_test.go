package documents

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JulesNsenda/ezsign-sub003/domain/email"
	"github.com/JulesNsenda/ezsign-sub003/internal/config"
	"github.com/JulesNsenda/ezsign-sub003/internal/jobs"
	"github.com/JulesNsenda/ezsign-sub003/pkg/apperror"
)

type fakeStore struct {
	docs map[string]*Document
}

func (s *fakeStore) Get(ctx context.Context, id string) (*Document, error) {
	return s.docs[id], nil
}

func (s *fakeStore) SetScheduled(ctx context.Context, id string, at time.Time) (bool, error) {
	doc, ok := s.docs[id]
	if !ok || (doc.Status != StatusDraft && doc.Status != StatusScheduled) {
		return false, nil
	}
	doc.Status = StatusScheduled
	doc.ScheduledAt = &at
	return true, nil
}

func (s *fakeStore) CancelSchedule(ctx context.Context, id string) (bool, error) {
	doc, ok := s.docs[id]
	if !ok || doc.Status != StatusScheduled {
		return false, nil
	}
	doc.Status = StatusDraft
	doc.ScheduledAt = nil
	return true, nil
}

func (s *fakeStore) MarkSent(ctx context.Context, id string) error {
	s.docs[id].Status = StatusSent
	return nil
}

func (s *fakeStore) MarkSignerNotified(ctx context.Context, signerID string) error {
	for _, doc := range s.docs {
		for _, signer := range doc.Signers {
			if signer.ID == signerID {
				signer.Status = SignerNotified
				return nil
			}
		}
	}
	return errors.New("signer not found")
}

type fakeEnqueuer struct {
	jobs []struct {
		Type string
		Opts jobs.EnqueueOptions
	}
	cancelled []string
}

func (f *fakeEnqueuer) Enqueue(ctx context.Context, jobType string, payload any, opts jobs.EnqueueOptions) (*jobs.Job, error) {
	f.jobs = append(f.jobs, struct {
		Type string
		Opts jobs.EnqueueOptions
	}{jobType, opts})
	body, _ := json.Marshal(payload)
	return &jobs.Job{ID: "job-1", Type: jobType, Payload: body}, nil
}

func (f *fakeEnqueuer) CancelByDedupeKey(ctx context.Context, dedupeKey string) (bool, error) {
	f.cancelled = append(f.cancelled, dedupeKey)
	return true, nil
}

type fakeSender struct {
	sent    []string
	failFor map[string]bool
}

func (f *fakeSender) Send(ctx context.Context, opts email.SendOptions) (*email.SendResult, error) {
	if f.failFor[opts.To] {
		return &email.SendResult{Success: false, Error: "mailbox unavailable"}, nil
	}
	f.sent = append(f.sent, opts.To)
	return &email.SendResult{Success: true, MessageID: "m-" + opts.To}, nil
}

type fakeEvents struct {
	triggered []string
	owners    []string
}

func (f *fakeEvents) Trigger(ctx context.Context, ownerID, eventType string, data any) {
	f.triggered = append(f.triggered, eventType)
	f.owners = append(f.owners, ownerID)
}

type fixture struct {
	store  *fakeStore
	queue  *fakeEnqueuer
	sender *fakeSender
	events *fakeEvents
	sched  *Scheduler
}

func newFixture(doc *Document) *fixture {
	f := &fixture{
		store:  &fakeStore{docs: map[string]*Document{}},
		queue:  &fakeEnqueuer{},
		sender: &fakeSender{failFor: map[string]bool{}},
		events: &fakeEvents{},
	}
	if doc != nil {
		f.store.docs[doc.ID] = doc
	}
	cfg := &config.Config{AppBaseURL: "https://app.example.com"}
	cfg.Email.FromName = "Acme Sign"
	f.sched = NewScheduler(f.store, f.queue, f.sender, f.events, cfg,
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	return f
}

func draftDoc(order SigningOrder) *Document {
	return &Document{
		ID:           "doc-1",
		OwnerID:      "owner-1",
		Title:        "Mutual NDA",
		Status:       StatusDraft,
		SigningOrder: order,
		Signers: []*Signer{
			{ID: "s1", DocumentID: "doc-1", Email: "ada@example.com", Name: "Ada", Position: 1, Status: SignerPending},
			{ID: "s2", DocumentID: "doc-1", Email: "bob@example.com", Name: "Bob", Position: 2, Status: SignerPending},
		},
	}
}

func sendJob(t *testing.T, docID string, at time.Time) *jobs.Job {
	t.Helper()
	body, err := json.Marshal(ScheduledSendPayload{DocumentID: docID, ScheduledFor: at})
	require.NoError(t, err)
	return &jobs.Job{ID: "job-1", Type: jobs.TypeScheduledSend, Payload: body}
}

func TestSchedule(t *testing.T) {
	f := newFixture(draftDoc(OrderParallel))
	at := time.Now().Add(time.Hour)

	doc, err := f.sched.Schedule(context.Background(), "doc-1", at)
	require.NoError(t, err)

	assert.Equal(t, StatusScheduled, doc.Status)
	require.Len(t, f.queue.jobs, 1)
	assert.Equal(t, jobs.TypeScheduledSend, f.queue.jobs[0].Type)
	assert.Equal(t, "scheduled-send:doc-1", f.queue.jobs[0].Opts.DedupeKey)
	assert.InDelta(t, time.Hour, f.queue.jobs[0].Opts.Delay, float64(5*time.Second))
}

func TestSchedule_Validation(t *testing.T) {
	t.Run("missing document", func(t *testing.T) {
		f := newFixture(nil)
		_, err := f.sched.Schedule(context.Background(), "doc-1", time.Now().Add(time.Hour))
		assert.ErrorIs(t, err, apperror.ErrDocumentNotFound)
	})

	t.Run("no signers", func(t *testing.T) {
		doc := draftDoc(OrderParallel)
		doc.Signers = nil
		f := newFixture(doc)
		_, err := f.sched.Schedule(context.Background(), "doc-1", time.Now().Add(time.Hour))
		assert.Error(t, err)
	})

	t.Run("time in the past", func(t *testing.T) {
		f := newFixture(draftDoc(OrderParallel))
		_, err := f.sched.Schedule(context.Background(), "doc-1", time.Now().Add(-time.Minute))
		assert.Error(t, err)
	})

	t.Run("already sent", func(t *testing.T) {
		doc := draftDoc(OrderParallel)
		doc.Status = StatusSent
		f := newFixture(doc)
		_, err := f.sched.Schedule(context.Background(), "doc-1", time.Now().Add(time.Hour))
		assert.Error(t, err)
	})
}

func TestHandleScheduledSend_Parallel(t *testing.T) {
	doc := draftDoc(OrderParallel)
	f := newFixture(doc)

	at := time.Now().Add(time.Hour)
	_, err := f.sched.Schedule(context.Background(), "doc-1", at)
	require.NoError(t, err)

	_, err = f.sched.HandleScheduledSend(context.Background(), sendJob(t, "doc-1", at))
	require.NoError(t, err)

	// Every signer notified at once
	assert.ElementsMatch(t, []string{"ada@example.com", "bob@example.com"}, f.sender.sent)
	assert.Equal(t, StatusSent, doc.Status)
	assert.Equal(t, SignerNotified, doc.Signers[0].Status)
	assert.Equal(t, SignerNotified, doc.Signers[1].Status)

	// One sent event plus one notified event per signer, all scoped to
	// the document's owner
	assert.Equal(t, []string{"document.sent", "signer.notified", "signer.notified"}, f.events.triggered)
	assert.Equal(t, []string{"owner-1", "owner-1", "owner-1"}, f.events.owners)
}

func TestHandleScheduledSend_Sequential(t *testing.T) {
	doc := draftDoc(OrderSequential)
	f := newFixture(doc)

	at := time.Now().Add(time.Hour)
	_, err := f.sched.Schedule(context.Background(), "doc-1", at)
	require.NoError(t, err)

	_, err = f.sched.HandleScheduledSend(context.Background(), sendJob(t, "doc-1", at))
	require.NoError(t, err)

	// Only the first signer in position order is notified
	assert.Equal(t, []string{"ada@example.com"}, f.sender.sent)
	assert.Equal(t, SignerNotified, doc.Signers[0].Status)
	assert.Equal(t, SignerPending, doc.Signers[1].Status)
}

func TestHandleScheduledSend_CancelledIsStale(t *testing.T) {
	doc := draftDoc(OrderParallel)
	f := newFixture(doc)

	at := time.Now().Add(time.Hour)
	_, err := f.sched.Schedule(context.Background(), "doc-1", at)
	require.NoError(t, err)
	require.NoError(t, f.sched.Cancel(context.Background(), "doc-1"))

	result, err := f.sched.HandleScheduledSend(context.Background(), sendJob(t, "doc-1", at))
	require.NoError(t, err)

	// The stale job completes without sending anything
	assert.Equal(t, map[string]any{"status": "stale"}, result)
	assert.Empty(t, f.sender.sent)
	assert.Empty(t, f.events.triggered)
	assert.Equal(t, StatusDraft, doc.Status)
}

func TestCancel_RemovesPendingJob(t *testing.T) {
	doc := draftDoc(OrderParallel)
	f := newFixture(doc)

	_, err := f.sched.Schedule(context.Background(), "doc-1", time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.NoError(t, f.sched.Cancel(context.Background(), "doc-1"))

	// The queued send is withdrawn along with the schedule
	assert.Equal(t, []string{"scheduled-send:doc-1"}, f.queue.cancelled)
}

func TestHandleScheduledSend_RescheduledIsStale(t *testing.T) {
	doc := draftDoc(OrderParallel)
	f := newFixture(doc)

	first := time.Now().Add(time.Hour)
	_, err := f.sched.Schedule(context.Background(), "doc-1", first)
	require.NoError(t, err)

	second := time.Now().Add(2 * time.Hour)
	_, err = f.sched.Schedule(context.Background(), "doc-1", second)
	require.NoError(t, err)

	// The job carrying the old time no-ops
	result, err := f.sched.HandleScheduledSend(context.Background(), sendJob(t, "doc-1", first))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"status": "stale"}, result)
	assert.Empty(t, f.sender.sent)
}

func TestHandleScheduledSend_PartialFailureRetriesOnlyPending(t *testing.T) {
	doc := draftDoc(OrderParallel)
	f := newFixture(doc)
	f.sender.failFor["bob@example.com"] = true

	at := time.Now().Add(time.Hour)
	_, err := f.sched.Schedule(context.Background(), "doc-1", at)
	require.NoError(t, err)

	job := sendJob(t, "doc-1", at)

	_, err = f.sched.HandleScheduledSend(context.Background(), job)
	require.Error(t, err)

	// The good signer was notified despite the failure
	assert.Equal(t, []string{"ada@example.com"}, f.sender.sent)
	assert.Equal(t, SignerNotified, doc.Signers[0].Status)
	assert.Equal(t, SignerPending, doc.Signers[1].Status)
	assert.Equal(t, StatusSent, doc.Status)

	// Retry reaches only the still-pending signer, and the sent event is
	// not fired again
	f.sender.failFor = map[string]bool{}
	_, err = f.sched.HandleScheduledSend(context.Background(), job)
	require.NoError(t, err)

	assert.Equal(t, []string{"ada@example.com", "bob@example.com"}, f.sender.sent)
	assert.Equal(t, SignerNotified, doc.Signers[1].Status)

	var sentEvents int
	for _, e := range f.events.triggered {
		if e == "document.sent" {
			sentEvents++
		}
	}
	assert.Equal(t, 1, sentEvents)
}

func TestCancel_NotScheduled(t *testing.T) {
	f := newFixture(draftDoc(OrderParallel))
	err := f.sched.Cancel(context.Background(), "doc-1")
	assert.Error(t, err)
}
