// Package storage provides S3-compatible object storage for document
// files, generated thumbnails and temporary processing artifacts.
package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"go.uber.org/fx"

	"github.com/JulesNsenda/ezsign-sub003/internal/config"
	"github.com/JulesNsenda/ezsign-sub003/pkg/logger"
)

var Module = fx.Module("storage",
	fx.Provide(NewService),
)

// Service provides S3-compatible storage operations
type Service struct {
	client        *s3.Client
	presignClient *s3.PresignClient
	cfg           config.StorageConfig
	log           *slog.Logger
}

// UploadOptions configures an upload operation
type UploadOptions struct {
	ContentType        string
	ContentDisposition string
	Metadata           map[string]string
}

// UploadResult contains information about an uploaded object
type UploadResult struct {
	Key         string
	Bucket      string
	ETag        string
	Size        int64
	ContentType string
}

// NewService creates a new storage service
func NewService(cfg *config.Config, log *slog.Logger) (*Service, error) {
	storageCfg := cfg.Storage

	if !storageCfg.IsConfigured() {
		log.Warn("storage service disabled - no configuration provided")
		return &Service{
			cfg: storageCfg,
			log: log.With(logger.Scope("storage")),
		}, nil
	}

	// Custom endpoint resolver for MinIO
	customResolver := aws.EndpointResolverWithOptionsFunc(
		func(service, region string, options ...interface{}) (aws.Endpoint, error) {
			return aws.Endpoint{
				URL:               storageCfg.Endpoint,
				HostnameImmutable: true,
				SigningRegion:     storageCfg.Region,
			}, nil
		},
	)

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion(storageCfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			storageCfg.AccessKeyID,
			storageCfg.SecretAccessKey,
			"",
		)),
		awsconfig.WithEndpointResolverWithOptions(customResolver),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	// Path-style addressing (required for MinIO)
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = true
	})

	presignClient := s3.NewPresignClient(client)

	log.Info("storage service initialized",
		slog.String("endpoint", storageCfg.Endpoint),
		slog.String("bucket", storageCfg.Bucket),
	)

	return &Service{
		client:        client,
		presignClient: presignClient,
		cfg:           storageCfg,
		log:           log.With(logger.Scope("storage")),
	}, nil
}

// Enabled returns true if the storage service is properly configured
func (s *Service) Enabled() bool {
	return s.client != nil
}

// Bucket returns the documents bucket name
func (s *Service) Bucket() string { return s.cfg.Bucket }

// Upload uploads data to the specified key in the documents bucket
func (s *Service) Upload(ctx context.Context, key string, data io.Reader, size int64, opts UploadOptions) (*UploadResult, error) {
	return s.upload(ctx, s.cfg.Bucket, key, data, size, opts)
}

// UploadTemp uploads data to the temp bucket. Temp objects are reaped by
// the cleanup job once they outlive their max age.
func (s *Service) UploadTemp(ctx context.Context, key string, data io.Reader, size int64, opts UploadOptions) (*UploadResult, error) {
	return s.upload(ctx, s.cfg.BucketTemp, key, data, size, opts)
}

func (s *Service) upload(ctx context.Context, bucket, key string, data io.Reader, size int64, opts UploadOptions) (*UploadResult, error) {
	if !s.Enabled() {
		return nil, fmt.Errorf("storage service not enabled")
	}

	input := &s3.PutObjectInput{
		Bucket:        aws.String(bucket),
		Key:           aws.String(key),
		Body:          data,
		ContentLength: aws.Int64(size),
	}

	if opts.ContentType != "" {
		input.ContentType = aws.String(opts.ContentType)
	}
	if opts.ContentDisposition != "" {
		input.ContentDisposition = aws.String(opts.ContentDisposition)
	}
	if len(opts.Metadata) > 0 {
		input.Metadata = opts.Metadata
	}

	result, err := s.client.PutObject(ctx, input)
	if err != nil {
		s.log.Error("failed to upload object",
			slog.String("key", key),
			logger.Error(err),
		)
		return nil, fmt.Errorf("upload failed: %w", err)
	}

	etag := ""
	if result.ETag != nil {
		etag = strings.Trim(*result.ETag, "\"")
	}

	s.log.Debug("object uploaded",
		slog.String("key", key),
		slog.String("bucket", bucket),
		slog.Int64("size", size),
	)

	return &UploadResult{
		Key:         key,
		Bucket:      bucket,
		ETag:        etag,
		Size:        size,
		ContentType: opts.ContentType,
	}, nil
}

// Download retrieves an object from the documents bucket
func (s *Service) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	if !s.Enabled() {
		return nil, fmt.Errorf("storage service not enabled")
	}

	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		s.log.Error("failed to download object",
			slog.String("key", key),
			logger.Error(err),
		)
		return nil, fmt.Errorf("download failed: %w", err)
	}

	return result.Body, nil
}

// Delete removes an object from the documents bucket
func (s *Service) Delete(ctx context.Context, key string) error {
	if !s.Enabled() {
		return fmt.Errorf("storage service not enabled")
	}

	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		s.log.Error("failed to delete object",
			slog.String("key", key),
			logger.Error(err),
		)
		return fmt.Errorf("delete failed: %w", err)
	}

	s.log.Debug("object deleted", slog.String("key", key))
	return nil
}

// Exists checks if an object exists in the documents bucket
func (s *Service) Exists(ctx context.Context, key string) (bool, error) {
	if !s.Enabled() {
		return false, fmt.Errorf("storage service not enabled")
	}

	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		errStr := err.Error()
		if strings.Contains(errStr, "NotFound") || strings.Contains(errStr, "404") || strings.Contains(errStr, "NoSuchKey") {
			return false, nil
		}
		return false, fmt.Errorf("head object failed: %w", err)
	}

	return true, nil
}

// Copy copies an object within the documents bucket. PDF processing jobs
// use this to replace an original with its optimized version while keeping
// the original under a backup key.
func (s *Service) Copy(ctx context.Context, srcKey, dstKey string) error {
	if !s.Enabled() {
		return fmt.Errorf("storage service not enabled")
	}

	_, err := s.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(s.cfg.Bucket),
		CopySource: aws.String(fmt.Sprintf("%s/%s", s.cfg.Bucket, srcKey)),
		Key:        aws.String(dstKey),
	})
	if err != nil {
		s.log.Error("failed to copy object",
			slog.String("src", srcKey),
			slog.String("dst", dstKey),
			logger.Error(err),
		)
		return fmt.Errorf("copy failed: %w", err)
	}

	return nil
}

// Move copies an object to dstKey and deletes the source. S3 has no
// native rename, so a failure between the two calls leaves both keys in place.
func (s *Service) Move(ctx context.Context, srcKey, dstKey string) error {
	if err := s.Copy(ctx, srcKey, dstKey); err != nil {
		return err
	}
	return s.Delete(ctx, srcKey)
}

// CleanupTemp deletes temp-bucket objects older than maxAge and returns
// how many were removed
func (s *Service) CleanupTemp(ctx context.Context, maxAge time.Duration) (int, error) {
	if !s.Enabled() {
		return 0, fmt.Errorf("storage service not enabled")
	}

	cutoff := time.Now().Add(-maxAge)
	deleted := 0

	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.cfg.BucketTemp),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return deleted, fmt.Errorf("list temp objects: %w", err)
		}

		for _, obj := range page.Contents {
			if obj.LastModified == nil || obj.LastModified.After(cutoff) {
				continue
			}

			_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
				Bucket: aws.String(s.cfg.BucketTemp),
				Key:    obj.Key,
			})
			if err != nil {
				s.log.Warn("failed to delete temp object",
					slog.String("key", aws.ToString(obj.Key)),
					logger.Error(err),
				)
				continue
			}
			deleted++
		}
	}

	if deleted > 0 {
		s.log.Info("temp objects cleaned up",
			slog.Int("deleted", deleted),
			slog.Duration("max_age", maxAge),
		)
	}

	return deleted, nil
}

// ListKeys returns every key in the main bucket under the given prefix
func (s *Service) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	if !s.Enabled() {
		return nil, fmt.Errorf("storage service not enabled")
	}

	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(s.cfg.Bucket),
	}
	if prefix != "" {
		input.Prefix = aws.String(prefix)
	}

	var keys []string
	paginator := s3.NewListObjectsV2Paginator(s.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list objects: %w", err)
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}

	return keys, nil
}

// GetSignedDownloadURLOptions configures a signed download URL
type GetSignedDownloadURLOptions struct {
	ExpiresIn                  time.Duration
	ResponseContentDisposition string
}

// GetSignedDownloadURL generates a presigned URL for downloading an object
func (s *Service) GetSignedDownloadURL(ctx context.Context, key string, opts GetSignedDownloadURLOptions) (string, error) {
	if !s.Enabled() {
		return "", fmt.Errorf("storage service not enabled")
	}

	if opts.ExpiresIn == 0 {
		opts.ExpiresIn = time.Hour
	}

	input := &s3.GetObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(key),
	}

	if opts.ResponseContentDisposition != "" {
		input.ResponseContentDisposition = aws.String(opts.ResponseContentDisposition)
	}

	presignedReq, err := s.presignClient.PresignGetObject(ctx, input, func(po *s3.PresignOptions) {
		po.Expires = opts.ExpiresIn
	})
	if err != nil {
		s.log.Error("failed to generate presigned URL",
			slog.String("key", key),
			logger.Error(err),
		)
		return "", fmt.Errorf("presign failed: %w", err)
	}

	return presignedReq.URL, nil
}

// GenerateDocumentKey creates a storage key for a document file.
// Format: {documentId}/{uuid}-{sanitized_filename}
func GenerateDocumentKey(documentID, filename string) string {
	return fmt.Sprintf("%s/%s-%s", documentID, uuid.New().String(), SanitizeFilename(filename))
}

// SanitizeFilename cleans a filename for storage
func SanitizeFilename(filename string) string {
	if filename == "" {
		return "unnamed"
	}

	re := regexp.MustCompile(`[^a-zA-Z0-9._-]`)
	sanitized := re.ReplaceAllString(filename, "_")

	re = regexp.MustCompile(`_{2,}`)
	sanitized = re.ReplaceAllString(sanitized, "_")

	sanitized = strings.Trim(sanitized, "_")
	sanitized = strings.ToLower(sanitized)

	if len(sanitized) > 200 {
		sanitized = sanitized[:200]
	}

	if sanitized == "" {
		return "unnamed"
	}

	return sanitized
}
