package dto

// DeadLetterListRequest filters the dead-letter queue
type DeadLetterListRequest struct {
	ListRequest
	Status               string `form:"status" binding:"omitempty,oneof=pending resolved discarded"`
	Marketplace          string `form:"marketplace"`
	RequiresManualReview *bool  `form:"requires_manual_review"`
}

// FailureRecordResponse is one failed attempt of a dead-lettered job
type FailureRecordResponse struct {
	Attempt    int    `json:"attempt" example:"3"`
	Category   string `json:"category" example:"server_error"`
	Detail     string `json:"detail"`
	OccurredAt string `json:"occurred_at"`
}

// DeadLetterResponse represents a dead-letter entry in API responses
type DeadLetterResponse struct {
	ID                   string                  `json:"id"`
	OriginalJobID        string                  `json:"original_job_id"`
	JobType              string                  `json:"job_type" example:"delist"`
	Marketplace          string                  `json:"marketplace" example:"mercari"`
	UserID               string                  `json:"user_id"`
	Payload              map[string]any          `json:"payload,omitempty"`
	FinalCategory        string                  `json:"final_category" example:"auth_error"`
	TotalAttempts        int                     `json:"total_attempts" example:"5"`
	FailureHistory       []FailureRecordResponse `json:"failure_history"`
	RequiresManualReview bool                    `json:"requires_manual_review"`
	ResolutionStatus     string                  `json:"resolution_status" example:"pending" enums:"pending,resolved,discarded"`
	ResolutionAction     string                  `json:"resolution_action,omitempty" example:"retry"`
	ResolutionNotes      string                  `json:"resolution_notes,omitempty"`
	SpawnedJobID         string                  `json:"spawned_job_id,omitempty"`
	ResolvedAt           string                  `json:"resolved_at,omitempty"`
	CreatedAt            string                  `json:"created_at"`
	UpdatedAt            string                  `json:"updated_at"`
}

// ResolveDeadLetterRequest is an operator disposition for one entry
type ResolveDeadLetterRequest struct {
	Action string         `json:"action" binding:"required,oneof=retry modify_and_retry discard escalate" example:"retry"`
	Notes  string         `json:"notes" binding:"max=2000"`
	Patch  map[string]any `json:"patch,omitempty"`
}

// ResolveDeadLetterResponse reports the resolved entry and any job it spawned
type ResolveDeadLetterResponse struct {
	Entry        DeadLetterResponse `json:"entry"`
	SpawnedJobID string             `json:"spawned_job_id,omitempty"`
}

// BulkResolveDeadLetterRequest applies one disposition to many entries
type BulkResolveDeadLetterRequest struct {
	IDs    []string       `json:"ids" binding:"required,min=1,max=500,dive,uuid"`
	Action string         `json:"action" binding:"required,oneof=retry modify_and_retry discard escalate"`
	Notes  string         `json:"notes" binding:"max=2000"`
	Patch  map[string]any `json:"patch,omitempty"`
}

// BulkResolveDeadLetterResponse reports a bulk resolution per id
type BulkResolveDeadLetterResponse struct {
	Resolved []string          `json:"resolved"`
	Failed   map[string]string `json:"failed,omitempty"`
}

// DeadLetterCleanupResponse reports one cleanup pass
type DeadLetterCleanupResponse struct {
	Discarded int `json:"discarded"`
	Archived  int `json:"archived"`
	Failed    int `json:"failed"`
}

// DeadLetterStatsResponse summarizes the queue
type DeadLetterStatsResponse struct {
	Pending int64 `json:"pending"`
}
