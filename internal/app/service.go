/**
 * @description
 * This file contains the core business logic for the generation-service. The
 * `Service` struct is the job broker: it orchestrates request validation,
 * pricing, the coin debit, provider dispatch, job record creation, and the
 * polling path that normalizes provider status and applies the
 * refund-on-terminal-failure guarantee exactly once per job.
 *
 * Key invariants:
 * - The debit happens before dispatch; a request that cannot be funded
 *   creates no job and has no side effects.
 * - Refunds flow through one path only: the first observer whose failed
 *   write lands (submit's dispatch error or a later poll) wins the job
 *   store's refund compare-and-swap and credits the ledger. A failure
 *   verdict that loses the outcome race to a success never refunds.
 * - Terminal jobs are answered from the store with no provider calls.
 *
 * @dependencies
 * - context, errors, fmt, log, time: Standard Go libraries.
 * - github.com/google/uuid: For job id generation.
 * - internal/domain, internal/store, internal/provider: Domain models, state, adapters.
 * - pkg/rabbitmq: Lifecycle event publishing (best-effort).
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/arcforge/generation-service/internal/domain"
	"github.com/arcforge/generation-service/internal/provider"
	"github.com/arcforge/generation-service/internal/store"
	"github.com/arcforge/generation-service/pkg/rabbitmq"
	"github.com/google/uuid"
)

// Service provides the core business logic for generation jobs and coins.
type Service struct {
	repo          store.Repository
	jobs          store.JobStore
	providers     *provider.Registry
	eventProducer rabbitmq.Publisher
}

// NewService creates a new broker service instance.
func NewService(repo store.Repository, jobs store.JobStore, providers *provider.Registry, producer rabbitmq.Publisher) *Service {
	return &Service{
		repo:          repo,
		jobs:          jobs,
		providers:     providers,
		eventProducer: producer,
	}
}

// SubmitResult carries the job record plus the caller's balance after the
// submit call settled (post-debit, post-refund when dispatch failed).
type SubmitResult struct {
	Job          domain.GenerationJob
	CoinsBalance int64
}

// Submit validates, prices, funds, and dispatches one generation request.
// A dispatch failure refunds the debit and returns the failed job alongside
// the provider error so the caller can surface both.
func (s *Service) Submit(ctx context.Context, userID uuid.UUID, req domain.GenerationRequest) (*SubmitResult, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, fmt.Errorf("%w: prompt must not be empty", ErrValidation)
	}

	adapter, err := s.providers.Resolve(strings.ToLower(strings.TrimSpace(req.Provider)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	price := adapter.Price(req)

	// Admission check and reserve. InsufficientFunds propagates with no job
	// created and no side effects.
	balance, err := s.repo.DebitCoins(ctx, userID, price)
	if err != nil {
		if errors.Is(err, store.ErrInsufficientFunds) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to debit coins: %w", err)
	}

	now := time.Now().UTC()
	job := domain.GenerationJob{
		ID:         uuid.New(),
		UserID:     userID,
		Provider:   adapter.Name(),
		Status:     domain.JobStatusQueued,
		CoinsSpent: price,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	s.jobs.Put(job)
	s.publishJobEvent(ctx, "job.submitted", job)

	handle, err := adapter.Create(ctx, req)
	if err != nil {
		log.Printf("level=warn component=broker msg=\"provider dispatch failed\" job_id=%s provider=%s err=%v", job.ID, job.Provider, err)
		failed, refundedBalance := s.finalizeFailure(ctx, job.ID, dispatchErrorMessage(err))
		return &SubmitResult{Job: failed, CoinsBalance: refundedBalance}, err
	}

	if handle.Inline && handle.Status.State.IsTerminal() {
		if handle.Status.State == domain.JobStatusFailed {
			failed, refundedBalance := s.finalizeFailure(ctx, job.ID, handle.Status.Error)
			return &SubmitResult{Job: failed, CoinsBalance: refundedBalance}, nil
		}
		job, _ = s.jobs.SetDispatched(job.ID, handle.TaskID, domain.JobStatusProcessing)
		job, _ = s.jobs.SetOutcome(job.ID, domain.JobStatusSucceeded, handle.Status.ResultURL, "")
		s.publishJobEvent(ctx, "job.succeeded", job)
		return &SubmitResult{Job: job, CoinsBalance: balance}, nil
	}

	job, _ = s.jobs.SetDispatched(job.ID, handle.TaskID, domain.JobStatusProcessing)
	return &SubmitResult{Job: job, CoinsBalance: balance}, nil
}

// Poll returns the job's current state, refreshing it from the provider when
// the job is still in flight. Repeated polls of a terminal job are pure reads.
func (s *Service) Poll(ctx context.Context, userID uuid.UUID, jobID uuid.UUID) (domain.GenerationJob, error) {
	job, ok := s.jobs.Get(jobID)
	if !ok {
		return domain.GenerationJob{}, ErrJobNotFound
	}
	if job.UserID != userID {
		return domain.GenerationJob{}, ErrJobForbidden
	}
	if job.Status.IsTerminal() {
		return job, nil
	}
	if job.ProviderTaskID == nil {
		// Dispatch still in flight on another request; report as pending.
		return job, nil
	}

	adapter, err := s.providers.Resolve(job.Provider)
	if err != nil {
		return job, fmt.Errorf("job provider no longer registered: %w", err)
	}

	taskID := *job.ProviderTaskID
	status, err := adapter.Poll(ctx, taskID)
	if err != nil {
		// A failed poll is not a provider verdict on the job; the job stays
		// in flight and the transport error surfaces to the caller.
		return job, err
	}

	switch status.State {
	case domain.JobStatusSucceeded:
		var applied bool
		job, applied = s.jobs.SetOutcome(jobID, domain.JobStatusSucceeded, status.ResultURL, "")
		if applied {
			s.publishJobEvent(ctx, "job.succeeded", job)
			// Only the poller that performed the transition asks for the
			// higher-quality asset, so the fetch happens at most once.
			if assetURL := s.upgradeAsset(ctx, adapter, taskID, status.ResultURL); assetURL != status.ResultURL {
				job, _ = s.jobs.UpgradeResultURL(jobID, assetURL)
			}
		}
	case domain.JobStatusFailed:
		job, _ = s.finalizeFailure(ctx, jobID, status.Error)
	default:
		// Still processing; nothing to write.
	}
	return job, nil
}

// GetBalance returns the caller's coin balance, creating the row on first use.
func (s *Service) GetBalance(ctx context.Context, userID uuid.UUID) (int64, error) {
	balance, err := s.repo.GetOrCreateBalance(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to load balance: %w", err)
	}
	return balance.Coins, nil
}

// finalizeFailure is the single refund path. It marks the job failed (sticky
// under the terminal-state guard) and, when this caller wins the refund
// compare-and-swap, credits the spent coins back. Returns the stored job and
// the balance after any refund (zero when this caller did not refund).
//
// The refund runs only when this caller's failed write actually landed. A
// concurrent poller may have already settled the job as succeeded; in that
// case the stored outcome stands and no coins move.
func (s *Service) finalizeFailure(ctx context.Context, jobID uuid.UUID, errMsg string) (domain.GenerationJob, int64) {
	if errMsg == "" {
		errMsg = "generation failed"
	}
	job, applied := s.jobs.SetOutcome(jobID, domain.JobStatusFailed, "", errMsg)
	if !applied {
		return job, 0
	}
	s.publishJobEvent(ctx, "job.failed", job)

	var balance int64
	if s.jobs.ClaimRefund(jobID) {
		newBalance, err := s.repo.CreditCoins(ctx, job.UserID, job.CoinsSpent)
		if err != nil {
			// The flag already flipped, so no second attempt will fire; this
			// needs operator attention.
			log.Printf("level=error component=broker msg=\"CRITICAL: refund credit failed\" job_id=%s user_id=%s coins=%d err=%v", job.ID, job.UserID, job.CoinsSpent, err)
		} else {
			balance = newBalance
			log.Printf("level=info component=broker msg=\"coins refunded\" job_id=%s user_id=%s coins=%d", job.ID, job.UserID, job.CoinsSpent)
		}
		job, _ = s.jobs.Get(jobID)
		s.publishJobEvent(ctx, "job.refunded", job)
	} else {
		job, _ = s.jobs.Get(jobID)
	}
	return job, balance
}

// upgradeAsset asks providers that support it for a higher-quality asset on
// the first transition to succeeded. Best-effort: the poll URL stands when
// the fetch fails.
func (s *Service) upgradeAsset(ctx context.Context, adapter provider.Adapter, taskID, pollURL string) string {
	fetcher, ok := adapter.(provider.AssetFetcher)
	if !ok {
		return pollURL
	}
	assetURL, err := fetcher.FetchAsset(ctx, taskID)
	if err != nil {
		log.Printf("level=warn component=broker msg=\"asset fetch failed; keeping poll url\" provider=%s task_id=%s err=%v", adapter.Name(), taskID, err)
		return pollURL
	}
	return assetURL
}

func (s *Service) publishJobEvent(ctx context.Context, routingKey string, job domain.GenerationJob) {
	if s.eventProducer == nil {
		return
	}
	event := rabbitmq.JobEvent{
		JobID:         job.ID,
		UserID:        job.UserID,
		Provider:      job.Provider,
		Status:        string(job.Status),
		CoinsSpent:    job.CoinsSpent,
		CoinsRefunded: job.CoinsRefunded,
		Timestamp:     time.Now().UTC(),
	}
	if err := s.eventProducer.PublishJobEvent(ctx, routingKey, event); err != nil {
		log.Printf("level=warn component=broker msg=\"job event publish failed\" job_id=%s routing_key=%s err=%v", job.ID, routingKey, err)
	}
}

// dispatchErrorMessage trims the sentinel prefix noise out of adapter errors
// so the stored job error reads like a provider message.
func dispatchErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
