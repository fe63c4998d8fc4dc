/**
 * @description
 * This file defines the in-memory generation-job store. Jobs are ephemeral
 * process-lifetime records driven entirely by client polling, so they live in
 * a mutex-guarded map behind a narrow interface rather than in the database.
 * The store is the single writer for job state: status transitions respect
 * terminal-state monotonicity, and the refund flag flips through a
 * compare-and-swap so concurrent pollers of the same job can never trigger a
 * double refund.
 *
 * @notes
 * - A process restart loses all jobs. This is an accepted limitation of the
 *   single-instance deployment; the interface would admit a persistent
 *   implementation without touching the broker.
 */

package store

import (
	"sync"
	"time"

	"github.com/arcforge/generation-service/internal/domain"
	"github.com/google/uuid"
)

// JobStore is the narrow contract the broker mutates job state through.
// Implementations must make each method atomic with respect to the others.
type JobStore interface {
	// Put stores a new job record.
	Put(job domain.GenerationJob)

	// Get returns a copy of the job, if known.
	Get(id uuid.UUID) (domain.GenerationJob, bool)

	// SetDispatched records the provider task id and moves the job out of
	// queued. It is a no-op on terminal jobs.
	SetDispatched(id uuid.UUID, providerTaskID string, status domain.JobStatus) (domain.GenerationJob, bool)

	// SetOutcome applies a normalized status to the job and reports whether
	// this call performed the transition. Terminal states are sticky: once
	// succeeded or failed, further writes are ignored and the stored record
	// is returned unchanged with false. Unknown ids return a zero job and
	// false.
	SetOutcome(id uuid.UUID, status domain.JobStatus, resultURL, errMsg string) (domain.GenerationJob, bool)

	// UpgradeResultURL replaces the result URL of a succeeded job (used when
	// a provider serves a higher-quality asset through a follow-up call).
	UpgradeResultURL(id uuid.UUID, resultURL string) (domain.GenerationJob, bool)

	// ClaimRefund flips coins_refunded false->true on a failed job and
	// reports whether this caller won the flip. At most one caller ever
	// does, and never on a job that settled as succeeded.
	ClaimRefund(id uuid.UUID) bool
}

// MemoryJobStore implements JobStore with a process-wide map.
type MemoryJobStore struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*domain.GenerationJob
}

// NewMemoryJobStore creates an empty job store.
func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{jobs: make(map[uuid.UUID]*domain.GenerationJob)}
}

// Put stores a copy of the job record.
func (s *MemoryJobStore) Put(job domain.GenerationJob) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := job
	s.jobs[job.ID] = &stored
}

// Get returns a copy of the job, if known.
func (s *MemoryJobStore) Get(id uuid.UUID) (domain.GenerationJob, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return domain.GenerationJob{}, false
	}
	return *job, true
}

// SetDispatched records the provider task id on a non-terminal job.
func (s *MemoryJobStore) SetDispatched(id uuid.UUID, providerTaskID string, status domain.JobStatus) (domain.GenerationJob, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return domain.GenerationJob{}, false
	}
	if !job.Status.IsTerminal() {
		taskID := providerTaskID
		job.ProviderTaskID = &taskID
		job.Status = status
		job.UpdatedAt = time.Now().UTC()
	}
	return *job, true
}

// SetOutcome applies a normalized status; terminal states are sticky and a
// sticky no-op reports false so callers know another writer settled the job.
func (s *MemoryJobStore) SetOutcome(id uuid.UUID, status domain.JobStatus, resultURL, errMsg string) (domain.GenerationJob, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return domain.GenerationJob{}, false
	}
	if job.Status.IsTerminal() {
		return *job, false
	}
	job.Status = status
	if resultURL != "" {
		url := resultURL
		job.ResultURL = &url
	}
	if errMsg != "" {
		msg := errMsg
		job.Error = &msg
	}
	job.UpdatedAt = time.Now().UTC()
	return *job, true
}

// UpgradeResultURL swaps in a better asset URL on a succeeded job.
func (s *MemoryJobStore) UpgradeResultURL(id uuid.UUID, resultURL string) (domain.GenerationJob, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return domain.GenerationJob{}, false
	}
	if job.Status == domain.JobStatusSucceeded && resultURL != "" {
		url := resultURL
		job.ResultURL = &url
		job.UpdatedAt = time.Now().UTC()
	}
	return *job, true
}

// ClaimRefund performs the refund-flag compare-and-swap. Only a job whose
// stored status is failed is refundable.
func (s *MemoryJobStore) ClaimRefund(id uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok || job.Status != domain.JobStatusFailed || job.CoinsRefunded {
		return false
	}
	job.CoinsRefunded = true
	job.UpdatedAt = time.Now().UTC()
	return true
}
