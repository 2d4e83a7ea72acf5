package integration

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// Errors
// ---------------------------------------------------------------------------

var (
	// ErrJobNotFound is returned when a job does not exist
	ErrJobNotFound = errors.New("integration: job not found")
	// ErrInvalidJobTransition is returned when a job status change is not allowed
	ErrInvalidJobTransition = errors.New("integration: invalid job status transition")
	// ErrJobAttemptsExhausted is returned when a job has no attempts left
	ErrJobAttemptsExhausted = errors.New("integration: job attempts exhausted")
	// ErrInvalidJobPayload is returned when a job payload is missing required keys
	ErrInvalidJobPayload = errors.New("integration: invalid job payload")
)

// ---------------------------------------------------------------------------
// Job
// ---------------------------------------------------------------------------

// JobType names the kind of deferred work
type JobType string

const (
	// JobTypeDelist removes a listing from one marketplace after a sale elsewhere
	JobTypeDelist JobType = "delist"
)

// JobStatus is the lifecycle status of a job
type JobStatus string

const (
	JobStatusPending      JobStatus = "pending"
	JobStatusProcessing   JobStatus = "processing"
	JobStatusSucceeded    JobStatus = "succeeded"
	JobStatusFailed       JobStatus = "failed"
	JobStatusDeadLettered JobStatus = "dead_lettered"
)

// IsTerminal returns true if no further transition is possible
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusSucceeded || s == JobStatusFailed || s == JobStatusDeadLettered
}

// DefaultJobMaxAttempts is the attempt cap for retry jobs
const DefaultJobMaxAttempts = 3

// Job is a unit of deferred marketplace work
type Job struct {
	ID           uuid.UUID
	Type         JobType
	Marketplace  MarketplaceID
	UserID       string
	Payload      map[string]any
	Attempts     int
	MaxAttempts  int
	Status       JobStatus
	ScheduledFor time.Time
	LastError    string
	LastCategory FailureCategory
	// SourceEntryID is set when the job was spawned by a dead-letter resolution
	SourceEntryID *uuid.UUID
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// NewJob creates a pending job due at scheduledFor
func NewJob(jobType JobType, marketplace MarketplaceID, userID string, payload map[string]any, maxAttempts int, scheduledFor time.Time) *Job {
	if maxAttempts <= 0 {
		maxAttempts = DefaultJobMaxAttempts
	}
	if payload == nil {
		payload = map[string]any{}
	}
	return &Job{
		ID:           uuid.New(),
		Type:         jobType,
		Marketplace:  marketplace,
		UserID:       userID,
		Payload:      payload,
		MaxAttempts:  maxAttempts,
		Status:       JobStatusPending,
		ScheduledFor: scheduledFor,
		CreatedAt:    scheduledFor,
		UpdatedAt:    scheduledFor,
	}
}

// IsDue returns true if a pending job may run at now
func (j *Job) IsDue(now time.Time) bool {
	return j.Status == JobStatusPending && !now.Before(j.ScheduledFor)
}

// Start moves a pending job to processing and counts the attempt
func (j *Job) Start(now time.Time) error {
	if j.Status != JobStatusPending {
		return ErrInvalidJobTransition
	}
	if j.Attempts >= j.MaxAttempts {
		return ErrJobAttemptsExhausted
	}
	j.Attempts++
	j.Status = JobStatusProcessing
	j.UpdatedAt = now
	return nil
}

// Succeed marks the job as succeeded
func (j *Job) Succeed(now time.Time) error {
	if j.Status != JobStatusProcessing {
		return ErrInvalidJobTransition
	}
	j.Status = JobStatusSucceeded
	j.LastError = ""
	j.UpdatedAt = now
	return nil
}

// CanRetry returns true if another attempt is allowed
func (j *Job) CanRetry() bool {
	return j.Attempts < j.MaxAttempts
}

// Reschedule returns a processing job to pending, due at next
func (j *Job) Reschedule(category FailureCategory, errMsg string, next time.Time, now time.Time) error {
	if j.Status != JobStatusProcessing {
		return ErrInvalidJobTransition
	}
	if !j.CanRetry() {
		return ErrJobAttemptsExhausted
	}
	j.Status = JobStatusPending
	j.LastCategory = category
	j.LastError = errMsg
	j.ScheduledFor = next
	j.UpdatedAt = now
	return nil
}

// Fail marks the job as permanently failed
func (j *Job) Fail(category FailureCategory, errMsg string, now time.Time) {
	j.Status = JobStatusFailed
	j.LastCategory = category
	j.LastError = errMsg
	j.UpdatedAt = now
}

// MarkDeadLettered marks the job as handed to the dead-letter queue
func (j *Job) MarkDeadLettered(category FailureCategory, errMsg string, now time.Time) {
	j.Status = JobStatusDeadLettered
	j.LastCategory = category
	j.LastError = errMsg
	j.UpdatedAt = now
}

// ---------------------------------------------------------------------------
// Delist payload
// ---------------------------------------------------------------------------

// Delist job payload keys
const (
	PayloadListingID       = "listing_id"
	PayloadExternalID      = "external_id"
	PayloadSyncJobID       = "sync_job_id"
	PayloadSoldMarketplace = "sold_marketplace"
)

// DelistPayload is the typed form of a delist job payload
type DelistPayload struct {
	ListingID       uuid.UUID
	ExternalID      string
	SyncJobID       *uuid.UUID
	SoldMarketplace MarketplaceID
}

// Map converts the payload to the persisted job payload shape
func (p DelistPayload) Map() map[string]any {
	m := map[string]any{
		PayloadListingID:  p.ListingID.String(),
		PayloadExternalID: p.ExternalID,
	}
	if p.SyncJobID != nil {
		m[PayloadSyncJobID] = p.SyncJobID.String()
	}
	if p.SoldMarketplace != "" {
		m[PayloadSoldMarketplace] = string(p.SoldMarketplace)
	}
	return m
}

// ParseDelistPayload reads a delist payload from a job payload map
func ParseDelistPayload(m map[string]any) (DelistPayload, error) {
	var p DelistPayload

	rawListing, _ := m[PayloadListingID].(string)
	listingID, err := uuid.Parse(rawListing)
	if err != nil {
		return p, fmt.Errorf("%w: %s: %v", ErrInvalidJobPayload, PayloadListingID, err)
	}
	p.ListingID = listingID

	p.ExternalID, _ = m[PayloadExternalID].(string)
	if p.ExternalID == "" {
		return p, fmt.Errorf("%w: %s is required", ErrInvalidJobPayload, PayloadExternalID)
	}

	if raw, ok := m[PayloadSyncJobID].(string); ok && raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return p, fmt.Errorf("%w: %s: %v", ErrInvalidJobPayload, PayloadSyncJobID, err)
		}
		p.SyncJobID = &id
	}
	if raw, ok := m[PayloadSoldMarketplace].(string); ok {
		p.SoldMarketplace = MarketplaceID(raw)
	}
	return p, nil
}

// NewDelistJob creates a delist job for one sync target
func NewDelistJob(m MarketplaceID, userID string, payload DelistPayload, maxAttempts int, scheduledFor time.Time) *Job {
	return NewJob(JobTypeDelist, m, userID, payload.Map(), maxAttempts, scheduledFor)
}

// ---------------------------------------------------------------------------
// RetryAttemptRecord
// ---------------------------------------------------------------------------

// RetryAttemptRecord is an immutable log entry for one failed attempt
type RetryAttemptRecord struct {
	ID           uuid.UUID
	JobID        uuid.UUID
	Attempt      int
	Category     FailureCategory
	ErrorDetail  string
	DelayApplied time.Duration
	OccurredAt   time.Time
}

// NewRetryAttemptRecord creates an attempt record
func NewRetryAttemptRecord(jobID uuid.UUID, attempt int, category FailureCategory, detail string, delay time.Duration, at time.Time) RetryAttemptRecord {
	return RetryAttemptRecord{
		ID:           uuid.New(),
		JobID:        jobID,
		Attempt:      attempt,
		Category:     category,
		ErrorDetail:  detail,
		DelayApplied: delay,
		OccurredAt:   at,
	}
}

// ---------------------------------------------------------------------------
// Repositories
// ---------------------------------------------------------------------------

// JobRepository persists jobs
type JobRepository interface {
	// Save inserts or updates a job
	Save(ctx context.Context, job *Job) error
	// FindByID returns a job or ErrJobNotFound
	FindByID(ctx context.Context, id uuid.UUID) (*Job, error)
	// ClaimDue starts up to limit due pending jobs and returns them in processing state
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]*Job, error)
	// ListByStatus returns jobs with the given status, newest first
	ListByStatus(ctx context.Context, status JobStatus, limit int) ([]*Job, error)
}

// RetryAttemptRepository persists the immutable attempt log
type RetryAttemptRepository interface {
	// Append adds an attempt record
	Append(ctx context.Context, record RetryAttemptRecord) error
	// ListByJob returns a job's records ordered by attempt
	ListByJob(ctx context.Context, jobID uuid.UUID) ([]RetryAttemptRecord, error)
}
