package storage

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crosslist/backend/internal/domain/integration"
	"github.com/crosslist/backend/internal/infrastructure/config"
)

type fakeS3 struct {
	objects      map[string][]byte
	metadata     map[string]map[string]string
	bucketExists bool
	created      int
	putErr       error
}

func newFakeS3() *fakeS3 {
	return &fakeS3{
		objects:  make(map[string][]byte),
		metadata: make(map[string]map[string]string),
	}
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	key := aws.ToString(in.Key)
	f.objects[key] = body
	f.metadata[key] = in.Metadata
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) HeadObject(ctx context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	if _, ok := f.objects[aws.ToString(in.Key)]; !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{}, nil
}

func (f *fakeS3) HeadBucket(ctx context.Context, in *s3.HeadBucketInput, _ ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	if !f.bucketExists {
		return nil, &types.NotFound{}
	}
	return &s3.HeadBucketOutput{}, nil
}

func (f *fakeS3) CreateBucket(ctx context.Context, in *s3.CreateBucketInput, _ ...func(*s3.Options)) (*s3.CreateBucketOutput, error) {
	f.created++
	f.bucketExists = true
	return &s3.CreateBucketOutput{}, nil
}

func sampleEntry() *integration.DeadLetterEntry {
	at := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	return &integration.DeadLetterEntry{
		ID:            uuid.MustParse("6f1c2a9e-4b1d-4c55-9a0e-2d1b9c0f7a11"),
		OriginalJobID: uuid.New(),
		JobType:       integration.JobTypeDelist,
		Marketplace:   "ebay",
		UserID:        "user-1",
		Payload:       map[string]any{"external_id": "v1|123"},
		FinalCategory: integration.CategoryServer,
		TotalAttempts: 3,
		FailureHistory: []integration.FailureRecord{
			{Attempt: 1, Category: integration.CategoryServer, Detail: "503", OccurredAt: at},
		},
		ResolutionStatus: integration.ResolutionPending,
		CreatedAt:        at,
		UpdatedAt:        at,
	}
}

func TestNewS3Archive_Validation(t *testing.T) {
	_, err := NewS3Archive(nil)
	assert.ErrorIs(t, err, ErrStorageConfigRequired)

	_, err = NewS3Archive(&config.StorageConfig{})
	assert.ErrorIs(t, err, ErrBucketRequired)

	archive, err := NewS3Archive(&config.StorageConfig{
		Bucket:          "dlq",
		Region:          "eu-west-1",
		Endpoint:        "localhost:9000",
		AccessKeyID:     "key",
		SecretAccessKey: "secret",
		UsePathStyle:    true,
	})
	require.NoError(t, err)
	assert.Equal(t, "dlq", archive.Bucket())
}

func TestS3Archive_Key(t *testing.T) {
	archive, err := NewS3Archive(&config.StorageConfig{Bucket: "dlq", Prefix: "/deadletters/"}, WithClient(newFakeS3()))
	require.NoError(t, err)

	entry := sampleEntry()
	assert.Equal(t, "deadletters/2026/03/02/ebay/6f1c2a9e-4b1d-4c55-9a0e-2d1b9c0f7a11.json", archive.Key(entry))

	entry.Marketplace = ""
	assert.Equal(t, "deadletters/2026/03/02/unknown/6f1c2a9e-4b1d-4c55-9a0e-2d1b9c0f7a11.json", archive.Key(entry))
}

func TestS3Archive_Archive(t *testing.T) {
	fake := newFakeS3()
	archive, err := NewS3Archive(&config.StorageConfig{Bucket: "dlq"}, WithClient(fake))
	require.NoError(t, err)

	entry := sampleEntry()
	exists, err := archive.Exists(context.Background(), entry)
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, archive.Archive(context.Background(), entry))

	key := archive.Key(entry)
	require.Contains(t, fake.objects, key)
	assert.Equal(t, "server", fake.metadata[key]["final-category"])

	var doc map[string]any
	require.NoError(t, json.Unmarshal(fake.objects[key], &doc))
	assert.Equal(t, entry.ID.String(), doc["id"])
	assert.Equal(t, "delist", doc["job_type"])
	assert.Equal(t, "pending", doc["resolution_status"])
	assert.Len(t, doc["failure_history"], 1)

	exists, err = archive.Exists(context.Background(), entry)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestS3Archive_ArchiveErrors(t *testing.T) {
	fake := newFakeS3()
	fake.putErr = errors.New("connection reset")
	archive, err := NewS3Archive(&config.StorageConfig{Bucket: "dlq"}, WithClient(fake))
	require.NoError(t, err)

	assert.ErrorIs(t, archive.Archive(context.Background(), nil), ErrNilEntry)

	err = archive.Archive(context.Background(), sampleEntry())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestS3Archive_EnsureBucket(t *testing.T) {
	fake := newFakeS3()
	archive, err := NewS3Archive(&config.StorageConfig{Bucket: "dlq"}, WithClient(fake))
	require.NoError(t, err)

	require.NoError(t, archive.EnsureBucket(context.Background()))
	require.NoError(t, archive.EnsureBucket(context.Background()))
	assert.Equal(t, 1, fake.created)
}
