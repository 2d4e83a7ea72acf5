// Package storage archives dead-letter entries to S3-compatible object storage.
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/crosslist/backend/internal/domain/integration"
	infraconfig "github.com/crosslist/backend/internal/infrastructure/config"
)

var (
	// ErrStorageConfigRequired is returned for a nil configuration
	ErrStorageConfigRequired = errors.New("storage: configuration is required")
	// ErrBucketRequired is returned when no bucket is configured
	ErrBucketRequired = errors.New("storage: bucket is required")
	// ErrNilEntry is returned when archiving a nil entry
	ErrNilEntry = errors.New("storage: entry is required")
)

// ObjectAPI is the subset of the S3 client used by the archive
type ObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	CreateBucket(ctx context.Context, in *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
}

// S3Archive writes each dead-letter entry as one JSON object.
// Keys look like <prefix>/<yyyy>/<mm>/<dd>/<marketplace>/<entry-id>.json, dated by entry creation.
type S3Archive struct {
	client ObjectAPI
	bucket string
	prefix string
	logger *zap.Logger
}

// S3ArchiveOption configures an S3Archive
type S3ArchiveOption func(*S3Archive)

// WithLogger sets the archive logger
func WithLogger(logger *zap.Logger) S3ArchiveOption {
	return func(a *S3Archive) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithClient replaces the S3 client
func WithClient(client ObjectAPI) S3ArchiveOption {
	return func(a *S3Archive) {
		a.client = client
	}
}

// NewS3Archive builds an archive from configuration. Any S3-compatible endpoint works
// (AWS S3, MinIO, RustFS). Without a key pair the default AWS credential chain is used.
func NewS3Archive(cfg *infraconfig.StorageConfig, opts ...S3ArchiveOption) (*S3Archive, error) {
	if cfg == nil {
		return nil, ErrStorageConfigRequired
	}
	if cfg.Bucket == "" {
		return nil, ErrBucketRequired
	}

	a := &S3Archive{
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.client != nil {
		return a, nil
	}

	client, err := newS3Client(cfg)
	if err != nil {
		return nil, err
	}
	a.client = client
	return a, nil
}

func newS3Client(cfg *infraconfig.StorageConfig) (*s3.Client, error) {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("storage: load aws config: %w", err)
	}

	endpoint := cfg.Endpoint
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.UsePathStyle
		if endpoint != "" {
			if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
				endpoint = "https://" + endpoint
			}
			o.BaseEndpoint = aws.String(endpoint)
		}
	}), nil
}

// EnsureBucket creates the bucket if it does not exist
func (a *S3Archive) EnsureBucket(ctx context.Context) error {
	_, err := a.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(a.bucket)})
	if err == nil {
		return nil
	}

	var notFound *types.NotFound
	var noSuchBucket *types.NoSuchBucket
	if !errors.As(err, &notFound) && !errors.As(err, &noSuchBucket) {
		return fmt.Errorf("storage: check bucket: %w", err)
	}

	a.logger.Info("creating archive bucket", zap.String("bucket", a.bucket))
	_, err = a.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(a.bucket)})
	if err != nil {
		var owned *types.BucketAlreadyOwnedByYou
		if errors.As(err, &owned) {
			return nil
		}
		return fmt.Errorf("storage: create bucket: %w", err)
	}
	return nil
}

// Archive uploads the entry as JSON
func (a *S3Archive) Archive(ctx context.Context, entry *integration.DeadLetterEntry) error {
	if entry == nil {
		return ErrNilEntry
	}

	body, err := json.Marshal(newArchivedEntry(entry))
	if err != nil {
		return fmt.Errorf("storage: encode entry %s: %w", entry.ID, err)
	}

	key := a.Key(entry)
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
		Metadata: map[string]string{
			"entry-id":       entry.ID.String(),
			"marketplace":    string(entry.Marketplace),
			"final-category": string(entry.FinalCategory),
		},
	})
	if err != nil {
		return fmt.Errorf("storage: put %s: %w", key, err)
	}

	a.logger.Debug("dead letter entry archived",
		zap.String("entry_id", entry.ID.String()),
		zap.String("bucket", a.bucket),
		zap.String("key", key),
	)
	return nil
}

// Exists reports whether the entry has already been archived
func (a *S3Archive) Exists(ctx context.Context, entry *integration.DeadLetterEntry) (bool, error) {
	_, err := a.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(a.Key(entry)),
	})
	if err == nil {
		return true, nil
	}
	var notFound *types.NotFound
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &notFound) || errors.As(err, &noSuchKey) {
		return false, nil
	}
	return false, fmt.Errorf("storage: head object: %w", err)
}

// Key returns the object key for an entry
func (a *S3Archive) Key(entry *integration.DeadLetterEntry) string {
	created := entry.CreatedAt.UTC()
	marketplace := string(entry.Marketplace)
	if marketplace == "" {
		marketplace = "unknown"
	}
	return path.Join(a.prefix, created.Format("2006/01/02"), marketplace, entry.ID.String()+".json")
}

// Bucket returns the archive bucket name
func (a *S3Archive) Bucket() string {
	return a.bucket
}

type archivedEntry struct {
	ID                   uuid.UUID                   `json:"id"`
	OriginalJobID        uuid.UUID                   `json:"original_job_id"`
	JobType              integration.JobType         `json:"job_type"`
	Marketplace          integration.MarketplaceID   `json:"marketplace"`
	UserID               string                      `json:"user_id"`
	Payload              map[string]any              `json:"payload"`
	FinalCategory        integration.FailureCategory `json:"final_category"`
	TotalAttempts        int                         `json:"total_attempts"`
	FailureHistory       []integration.FailureRecord `json:"failure_history"`
	RequiresManualReview bool                        `json:"requires_manual_review"`
	ResolutionStatus     string                      `json:"resolution_status"`
	CreatedAt            time.Time                   `json:"created_at"`
	UpdatedAt            time.Time                   `json:"updated_at"`
}

func newArchivedEntry(e *integration.DeadLetterEntry) archivedEntry {
	return archivedEntry{
		ID:                   e.ID,
		OriginalJobID:        e.OriginalJobID,
		JobType:              e.JobType,
		Marketplace:          e.Marketplace,
		UserID:               e.UserID,
		Payload:              e.Payload,
		FinalCategory:        e.FinalCategory,
		TotalAttempts:        e.TotalAttempts,
		FailureHistory:       e.FailureHistory,
		RequiresManualReview: e.RequiresManualReview,
		ResolutionStatus:     string(e.ResolutionStatus),
		CreatedAt:            e.CreatedAt,
		UpdatedAt:            e.UpdatedAt,
	}
}

var _ integration.DeadLetterArchiver = (*S3Archive)(nil)
