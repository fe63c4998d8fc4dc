/**
 * @description
 * This file defines the generation-job lifecycle models: the normalized job
 * status state machine, the provider-agnostic generation request, and the job
 * record tracked by the broker from submission to terminal outcome.
 *
 * @notes
 * - Job records live for the process lifetime only. Losing them on restart is
 *   an accepted limitation of the single-instance deployment.
 * - CoinsRefunded flips false->true at most once; it is the single source of
 *   truth for "has this job already been refunded".
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// JobStatus is the normalized three-state (plus transient queued) status
// vocabulary every provider's raw status maps into.
type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusSucceeded  JobStatus = "succeeded"
	JobStatusFailed     JobStatus = "failed"
)

// IsTerminal reports whether no further transitions are possible.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusSucceeded || s == JobStatusFailed
}

// Known provider names. The broker resolves a request's provider against the
// adapter registry keyed by these values.
const (
	ProviderMock      = "mock"
	ProviderReplicate = "replicate"
	ProviderVeo3      = "veo3"
	ProviderSora2     = "sora2"
	ProviderKling     = "kling"
)

// GenerationRequest is the provider-agnostic DTO for POST /generate. Only the
// prompt is mandatory; everything else defaults per provider.
type GenerationRequest struct {
	Prompt          string   `json:"prompt"`
	Provider        string   `json:"provider,omitempty"`
	Model           string   `json:"model,omitempty"`
	DurationSeconds int      `json:"duration_seconds,omitempty"`
	AspectRatio     string   `json:"aspect_ratio,omitempty"`
	Quality         string   `json:"quality,omitempty"`
	ImageURLs       []string `json:"image_urls,omitempty"`
}

// GenerationJob is one generation request's lifecycle record.
type GenerationJob struct {
	ID             uuid.UUID `json:"job_id"`
	UserID         uuid.UUID `json:"user_id"`
	Provider       string    `json:"provider"`
	Status         JobStatus `json:"status"`
	ProviderTaskID *string   `json:"provider_task_id,omitempty"`
	ResultURL      *string   `json:"result_url,omitempty"`
	Error          *string   `json:"error,omitempty"`
	CoinsSpent     int64     `json:"coins_spent"`
	CoinsRefunded  bool      `json:"coins_refunded"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// JobCreatedResponse is returned by POST /generate.
type JobCreatedResponse struct {
	JobID        uuid.UUID `json:"job_id"`
	Status       JobStatus `json:"status"`
	Provider     string    `json:"provider"`
	CoinsSpent   int64     `json:"coins_spent"`
	CoinsBalance int64     `json:"coins_balance"`
	ResultURL    *string   `json:"result_url,omitempty"`
	Error        *string   `json:"error,omitempty"`
}

// JobStatusResponse is returned by GET /jobs/{job_id}.
type JobStatusResponse struct {
	JobID     uuid.UUID `json:"job_id"`
	Status    JobStatus `json:"status"`
	Provider  string    `json:"provider"`
	ResultURL *string   `json:"result_url,omitempty"`
	Error     *string   `json:"error,omitempty"`
}
