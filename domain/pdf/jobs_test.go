package pdf

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JulesNsenda/ezsign-sub003/internal/jobs"
	"github.com/JulesNsenda/ezsign-sub003/internal/storage"
)

type fakeQueue struct {
	enqueued []string
	progress []int
}

func (f *fakeQueue) Enqueue(ctx context.Context, jobType string, payload any, opts jobs.EnqueueOptions) (*jobs.Job, error) {
	f.enqueued = append(f.enqueued, jobType+"#"+opts.DedupeKey)
	body, _ := json.Marshal(payload)
	return &jobs.Job{ID: "job-1", Type: jobType, Payload: body}, nil
}

func (f *fakeQueue) UpdateProgress(ctx context.Context, id string, pct int) error {
	f.progress = append(f.progress, pct)
	return nil
}

type fakeObjectStore struct {
	objects map[string][]byte
	copies  []string
}

func (f *fakeObjectStore) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	data, ok := f.objects[key]
	if !ok {
		return nil, errors.New("object not found")
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (f *fakeObjectStore) Upload(ctx context.Context, key string, data io.Reader, size int64, opts storage.UploadOptions) (*storage.UploadResult, error) {
	body, _ := io.ReadAll(data)
	f.objects[key] = body
	return &storage.UploadResult{Key: key, Size: size}, nil
}

func (f *fakeObjectStore) Copy(ctx context.Context, srcKey, dstKey string) error {
	f.objects[dstKey] = f.objects[srcKey]
	f.copies = append(f.copies, srcKey+"->"+dstKey)
	return nil
}

type fakeProcessor struct{}

func (fakeProcessor) Thumbnail(ctx context.Context, pdf []byte, opts ThumbnailOptions) ([]byte, error) {
	return []byte("png-of-" + string(pdf)), nil
}

func (fakeProcessor) Optimize(ctx context.Context, pdf []byte) ([]byte, error) {
	return pdf[:len(pdf)/2], nil
}

func (fakeProcessor) Flatten(ctx context.Context, pdf []byte) ([]byte, error) {
	return pdf, nil
}

func (fakeProcessor) Watermark(ctx context.Context, pdf []byte, text string) ([]byte, error) {
	return append(pdf, text...), nil
}

func (fakeProcessor) Merge(ctx context.Context, pdfs [][]byte) ([]byte, error) {
	var out []byte
	for _, p := range pdfs {
		out = append(out, p...)
	}
	return out, nil
}

func newService(store *fakeObjectStore, queue *fakeQueue) *Service {
	return NewService(queue, store, fakeProcessor{},
		slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func pdfJob(t *testing.T, jobType, documentID, key string) *jobs.Job {
	t.Helper()
	body, err := json.Marshal(JobPayload{DocumentID: documentID, StorageKey: key})
	require.NoError(t, err)
	return &jobs.Job{ID: "job-1", Type: jobType, Payload: body}
}

func TestThumbnailKey(t *testing.T) {
	assert.Equal(t, "doc-1/contract.thumb.png", ThumbnailKey("doc-1/contract.pdf"))
	assert.Equal(t, "doc-1/raw.thumb.png", ThumbnailKey("doc-1/raw"))
}

func TestHandleThumbnail(t *testing.T) {
	store := &fakeObjectStore{objects: map[string][]byte{
		"doc-1/contract.pdf": []byte("pdfbytes"),
	}}
	queue := &fakeQueue{}
	svc := newService(store, queue)

	result, err := svc.HandleThumbnail(context.Background(),
		pdfJob(t, jobs.TypeGenerateThumbnail, "doc-1", "doc-1/contract.pdf"))
	require.NoError(t, err)

	assert.Equal(t, []byte("png-of-pdfbytes"), store.objects["doc-1/contract.thumb.png"])
	assert.NotEmpty(t, queue.progress)

	out, ok := result.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "doc-1/contract.thumb.png", out["thumbnailKey"])
}

func TestHandleOptimize_KeepsBackup(t *testing.T) {
	original := []byte("0123456789")
	store := &fakeObjectStore{objects: map[string][]byte{
		"doc-1/contract.pdf": original,
	}}
	svc := newService(store, &fakeQueue{})

	_, err := svc.HandleOptimize(context.Background(),
		pdfJob(t, jobs.TypeOptimizePDF, "doc-1", "doc-1/contract.pdf"))
	require.NoError(t, err)

	assert.Equal(t, original, store.objects["doc-1/contract.pdf.orig"])
	assert.Equal(t, original[:5], store.objects["doc-1/contract.pdf"])
	assert.Equal(t, []string{"doc-1/contract.pdf->doc-1/contract.pdf.orig"}, store.copies)
}

func TestHandlers_InvalidPayloadIsPermanent(t *testing.T) {
	svc := newService(&fakeObjectStore{objects: map[string][]byte{}}, &fakeQueue{})

	job := &jobs.Job{ID: "job-1", Payload: json.RawMessage(`{}`)}

	_, err := svc.HandleThumbnail(context.Background(), job)
	require.Error(t, err)
	assert.True(t, jobs.IsPermanent(err))

	_, err = svc.HandleOptimize(context.Background(), job)
	require.Error(t, err)
	assert.True(t, jobs.IsPermanent(err))
}

func TestHandleThumbnail_MissingObjectRetries(t *testing.T) {
	svc := newService(&fakeObjectStore{objects: map[string][]byte{}}, &fakeQueue{})

	_, err := svc.HandleThumbnail(context.Background(),
		pdfJob(t, jobs.TypeGenerateThumbnail, "doc-1", "doc-1/missing.pdf"))
	require.Error(t, err)

	// A missing object may be replication lag; leave it to the retry policy
	assert.False(t, jobs.IsPermanent(err))
}

func TestEnqueueHelpersDedupe(t *testing.T) {
	queue := &fakeQueue{}
	svc := newService(&fakeObjectStore{objects: map[string][]byte{}}, queue)

	_, err := svc.EnqueueThumbnail(context.Background(), "doc-1", "doc-1/contract.pdf")
	require.NoError(t, err)
	_, err = svc.EnqueueOptimize(context.Background(), "doc-1", "doc-1/contract.pdf")
	require.NoError(t, err)

	assert.Equal(t, []string{
		jobs.TypeGenerateThumbnail + "#thumbnail:doc-1",
		jobs.TypeOptimizePDF + "#optimize:doc-1",
	}, queue.enqueued)
}
