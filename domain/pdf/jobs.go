package pdf

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/JulesNsenda/ezsign-sub003/internal/jobs"
	"github.com/JulesNsenda/ezsign-sub003/internal/storage"
	"github.com/JulesNsenda/ezsign-sub003/pkg/logger"
)

// JobPayload names the document file a processing job works on.
// MaxWidth/MaxHeight only apply to thumbnail jobs.
type JobPayload struct {
	DocumentID string `json:"documentId"`
	StorageKey string `json:"storageKey"`
	MaxWidth   int    `json:"maxWidth,omitempty"`
	MaxHeight  int    `json:"maxHeight,omitempty"`
}

// ObjectStore is the slice of the storage service the workers use
type ObjectStore interface {
	Download(ctx context.Context, key string) (io.ReadCloser, error)
	Upload(ctx context.Context, key string, data io.Reader, size int64, opts storage.UploadOptions) (*storage.UploadResult, error)
	Copy(ctx context.Context, srcKey, dstKey string) error
}

// Queue is the slice of the job queue the service uses
type Queue interface {
	Enqueue(ctx context.Context, jobType string, payload any, opts jobs.EnqueueOptions) (*jobs.Job, error)
	UpdateProgress(ctx context.Context, id string, pct int) error
}

// Service enqueues and executes PDF processing jobs
type Service struct {
	queue     Queue
	store     ObjectStore
	processor Processor
	log       *slog.Logger
}

// NewService creates the PDF job service
func NewService(queue Queue, store ObjectStore, processor Processor, log *slog.Logger) *Service {
	return &Service{
		queue:     queue,
		store:     store,
		processor: processor,
		log:       log.With(logger.Scope("pdf")),
	}
}

// EnqueueThumbnail queues thumbnail generation for a document file
func (s *Service) EnqueueThumbnail(ctx context.Context, documentID, storageKey string) (*jobs.Job, error) {
	return s.queue.Enqueue(ctx, jobs.TypeGenerateThumbnail,
		JobPayload{DocumentID: documentID, StorageKey: storageKey},
		jobs.EnqueueOptions{DedupeKey: "thumbnail:" + documentID})
}

// EnqueueOptimize queues PDF optimization for a document file
func (s *Service) EnqueueOptimize(ctx context.Context, documentID, storageKey string) (*jobs.Job, error) {
	return s.queue.Enqueue(ctx, jobs.TypeOptimizePDF,
		JobPayload{DocumentID: documentID, StorageKey: storageKey},
		jobs.EnqueueOptions{DedupeKey: "optimize:" + documentID})
}

// ThumbnailKey derives the thumbnail object key from a document file key
func ThumbnailKey(storageKey string) string {
	return strings.TrimSuffix(storageKey, ".pdf") + ".thumb.png"
}

// BackupKey derives the pre-optimization backup key
func BackupKey(storageKey string) string {
	return storageKey + ".orig"
}

// HandleThumbnail is the GENERATE_THUMBNAIL job handler
func (s *Service) HandleThumbnail(ctx context.Context, job *jobs.Job) (any, error) {
	payload, err := parsePayload(job)
	if err != nil {
		return nil, err
	}

	pdf, err := s.download(ctx, payload.StorageKey)
	if err != nil {
		return nil, err
	}
	_ = s.queue.UpdateProgress(ctx, job.ID, 30)

	png, err := s.processor.Thumbnail(ctx, pdf, ThumbnailOptions{
		MaxWidth:  payload.MaxWidth,
		MaxHeight: payload.MaxHeight,
	})
	if err != nil {
		return nil, fmt.Errorf("render thumbnail: %w", err)
	}
	_ = s.queue.UpdateProgress(ctx, job.ID, 70)

	key := ThumbnailKey(payload.StorageKey)
	_, err = s.store.Upload(ctx, key, bytes.NewReader(png), int64(len(png)),
		storage.UploadOptions{ContentType: "image/png"})
	if err != nil {
		return nil, fmt.Errorf("upload thumbnail: %w", err)
	}

	s.log.Info("thumbnail generated",
		slog.String("document_id", payload.DocumentID),
		slog.String("key", key))

	return map[string]any{"thumbnailKey": key, "bytes": len(png)}, nil
}

// HandleOptimize is the OPTIMIZE_PDF job handler. The original file is
// kept under a backup key before it is replaced.
func (s *Service) HandleOptimize(ctx context.Context, job *jobs.Job) (any, error) {
	payload, err := parsePayload(job)
	if err != nil {
		return nil, err
	}

	pdf, err := s.download(ctx, payload.StorageKey)
	if err != nil {
		return nil, err
	}
	_ = s.queue.UpdateProgress(ctx, job.ID, 25)

	optimized, err := s.processor.Optimize(ctx, pdf)
	if err != nil {
		return nil, fmt.Errorf("optimize pdf: %w", err)
	}
	_ = s.queue.UpdateProgress(ctx, job.ID, 60)

	if err := s.store.Copy(ctx, payload.StorageKey, BackupKey(payload.StorageKey)); err != nil {
		return nil, fmt.Errorf("backup original: %w", err)
	}
	_ = s.queue.UpdateProgress(ctx, job.ID, 80)

	_, err = s.store.Upload(ctx, payload.StorageKey, bytes.NewReader(optimized), int64(len(optimized)),
		storage.UploadOptions{ContentType: "application/pdf"})
	if err != nil {
		return nil, fmt.Errorf("upload optimized pdf: %w", err)
	}

	saved := len(pdf) - len(optimized)
	s.log.Info("pdf optimized",
		slog.String("document_id", payload.DocumentID),
		slog.Int("bytes_saved", saved))

	return map[string]any{"originalBytes": len(pdf), "optimizedBytes": len(optimized)}, nil
}

func parsePayload(job *jobs.Job) (*JobPayload, error) {
	var payload JobPayload
	if err := job.UnmarshalPayload(&payload); err != nil {
		return nil, jobs.Permanent(fmt.Errorf("invalid pdf job payload: %w", err))
	}
	if payload.StorageKey == "" {
		return nil, jobs.Permanent(fmt.Errorf("pdf job payload missing storage key"))
	}
	return &payload, nil
}

func (s *Service) download(ctx context.Context, key string) ([]byte, error) {
	body, err := s.store.Download(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", key, err)
	}
	defer body.Close()

	pdf, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return pdf, nil
}
