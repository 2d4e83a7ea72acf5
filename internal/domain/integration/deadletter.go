package integration

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrDeadLetterNotFound is returned when an entry does not exist
	ErrDeadLetterNotFound = errors.New("integration: dead letter entry not found")
	// ErrDeadLetterAlreadyResolved is returned when resolving a non-pending entry
	ErrDeadLetterAlreadyResolved = errors.New("integration: dead letter entry already resolved")
	// ErrDeadLetterExists is returned when a job is admitted twice
	ErrDeadLetterExists = errors.New("integration: job already dead-lettered")
	// ErrInvalidResolutionAction is returned for an unknown resolution action
	ErrInvalidResolutionAction = errors.New("integration: invalid resolution action")
)

// ManualReviewSpan is the failure span past which an entry needs a human
const ManualReviewSpan = 24 * time.Hour

// manualReviewDistinctCategories is the number of distinct categories that forces review when exceeded
const manualReviewDistinctCategories = 2

// ResolutionStatus is the operator disposition of a dead-letter entry
type ResolutionStatus string

const (
	ResolutionPending   ResolutionStatus = "pending"
	ResolutionResolved  ResolutionStatus = "resolved"
	ResolutionDiscarded ResolutionStatus = "discarded"
)

// IsValid checks if the resolution status is known
func (s ResolutionStatus) IsValid() bool {
	switch s {
	case ResolutionPending, ResolutionResolved, ResolutionDiscarded:
		return true
	}
	return false
}

// ResolutionAction is what an operator does with a dead-letter entry
type ResolutionAction string

const (
	ActionRetry          ResolutionAction = "retry"
	ActionModifyAndRetry ResolutionAction = "modify_and_retry"
	ActionDiscard        ResolutionAction = "discard"
	ActionEscalate       ResolutionAction = "escalate"
)

// IsValid checks if the action is known
func (a ResolutionAction) IsValid() bool {
	switch a {
	case ActionRetry, ActionModifyAndRetry, ActionDiscard, ActionEscalate:
		return true
	}
	return false
}

// SpawnsJob returns true if the action creates a new job
func (a ResolutionAction) SpawnsJob() bool {
	return a == ActionRetry || a == ActionModifyAndRetry
}

// FailureRecord is one entry in a dead-letter failure history
type FailureRecord struct {
	Attempt    int             `json:"attempt"`
	Category   FailureCategory `json:"category"`
	Detail     string          `json:"detail"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// FailureHistoryFromAttempts converts attempt records into an ordered history
func FailureHistoryFromAttempts(records []RetryAttemptRecord) []FailureRecord {
	history := make([]FailureRecord, 0, len(records))
	for _, r := range records {
		history = append(history, FailureRecord{
			Attempt:    r.Attempt,
			Category:   r.Category,
			Detail:     r.ErrorDetail,
			OccurredAt: r.OccurredAt,
		})
	}
	return history
}

// RequiresManualReview decides whether a dead-lettered job needs a human.
// True iff the final category is auth, validation or permanent, the history
// holds more than two distinct categories, or the failures span more than 24h.
func RequiresManualReview(final FailureCategory, history []FailureRecord) bool {
	if final.RequiresManualReview() {
		return true
	}
	if len(history) == 0 {
		return false
	}

	distinct := make(map[FailureCategory]struct{}, len(history))
	first, last := history[0].OccurredAt, history[0].OccurredAt
	for _, h := range history {
		distinct[h.Category] = struct{}{}
		if h.OccurredAt.Before(first) {
			first = h.OccurredAt
		}
		if h.OccurredAt.After(last) {
			last = h.OccurredAt
		}
	}
	if len(distinct) > manualReviewDistinctCategories {
		return true
	}
	return last.Sub(first) > ManualReviewSpan
}

// DeadLetterEntry is the terminal record of a job that exhausted its retries
type DeadLetterEntry struct {
	ID                   uuid.UUID
	OriginalJobID        uuid.UUID
	JobType              JobType
	Marketplace          MarketplaceID
	UserID               string
	Payload              map[string]any
	FinalCategory        FailureCategory
	TotalAttempts        int
	FailureHistory       []FailureRecord
	RequiresManualReview bool
	ResolutionStatus     ResolutionStatus
	ResolutionAction     ResolutionAction
	ResolutionNotes      string
	// SpawnedJobID is the job created by a retry resolution
	SpawnedJobID *uuid.UUID
	ResolvedAt   *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NewDeadLetterEntry builds a pending entry from an exhausted job
func NewDeadLetterEntry(job *Job, final FailureCategory, history []FailureRecord, now time.Time) *DeadLetterEntry {
	payload := make(map[string]any, len(job.Payload))
	for k, v := range job.Payload {
		payload[k] = v
	}
	return &DeadLetterEntry{
		ID:                   uuid.New(),
		OriginalJobID:        job.ID,
		JobType:              job.Type,
		Marketplace:          job.Marketplace,
		UserID:               job.UserID,
		Payload:              payload,
		FinalCategory:        final,
		TotalAttempts:        job.Attempts,
		FailureHistory:       history,
		RequiresManualReview: RequiresManualReview(final, history),
		ResolutionStatus:     ResolutionPending,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
}

// IsPending returns true if no operator has acted on the entry
func (e *DeadLetterEntry) IsPending() bool {
	return e.ResolutionStatus == ResolutionPending
}

// Resolve records an operator disposition
func (e *DeadLetterEntry) Resolve(action ResolutionAction, notes string, spawned *uuid.UUID, now time.Time) error {
	if !action.IsValid() {
		return ErrInvalidResolutionAction
	}
	if !e.IsPending() {
		return ErrDeadLetterAlreadyResolved
	}
	e.ResolutionStatus = ResolutionResolved
	if action == ActionDiscard {
		e.ResolutionStatus = ResolutionDiscarded
	}
	e.ResolutionAction = action
	e.ResolutionNotes = notes
	e.SpawnedJobID = spawned
	e.ResolvedAt = &now
	e.UpdatedAt = now
	return nil
}

// IsExpired returns true if a pending entry is older than retention
func (e *DeadLetterEntry) IsExpired(retention time.Duration, now time.Time) bool {
	return e.IsPending() && now.Sub(e.CreatedAt) > retention
}

// DeadLetterFilter narrows a dead-letter listing
type DeadLetterFilter struct {
	Status               *ResolutionStatus
	Marketplace          *MarketplaceID
	RequiresManualReview *bool
	CreatedBefore        *time.Time
	Limit                int
	Offset               int
}

// DeadLetterRepository persists dead-letter entries
type DeadLetterRepository interface {
	// Create inserts an entry; returns ErrDeadLetterExists if the job already has one
	Create(ctx context.Context, entry *DeadLetterEntry) error
	// Update saves a modified entry
	Update(ctx context.Context, entry *DeadLetterEntry) error
	// ResolvePending saves a resolved entry only while the stored entry is still pending.
	// It returns ErrDeadLetterAlreadyResolved when another resolver got there first.
	ResolvePending(ctx context.Context, entry *DeadLetterEntry) error
	// FindByID returns an entry or ErrDeadLetterNotFound
	FindByID(ctx context.Context, id uuid.UUID) (*DeadLetterEntry, error)
	// List returns entries matching filter, oldest first, and the total count
	List(ctx context.Context, filter DeadLetterFilter) ([]*DeadLetterEntry, int64, error)
}

// EscalationNotifier raises an out-of-band notification for an escalated entry
type EscalationNotifier interface {
	NotifyEscalation(ctx context.Context, entry *DeadLetterEntry) error
}

// DeadLetterArchiver stores a copy of an entry before auto-discard
type DeadLetterArchiver interface {
	Archive(ctx context.Context, entry *DeadLetterEntry) error
}
