/**
 * @description
 * This file contains the HTTP handlers for the generation and coin endpoints.
 * Handlers parse incoming requests, enforce per-user rate limits, call the
 * appropriate application service, and map service errors to HTTP responses.
 *
 * @dependencies
 * - encoding/json, log, net/http: Standard Go libraries.
 * - github.com/go-chi/chi/v5: URL parameter extraction.
 * - internal/app, internal/domain, internal/store: Service logic, models, custom errors.
 */

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/arcforge/generation-service/internal/app"
	"github.com/arcforge/generation-service/internal/domain"
	"github.com/arcforge/generation-service/internal/provider"
	"github.com/arcforge/generation-service/internal/store"
)

// RateLimits holds the per-minute request budgets for the expensive endpoints.
type RateLimits struct {
	GeneratePerMinute   int
	TopUpClaimPerMinute int
}

// GenerationHandlers holds the application services that handlers will use.
type GenerationHandlers struct {
	broker  *app.Service
	topup   *app.TopUpService
	limiter app.RateLimiter
	limits  RateLimits
}

// NewGenerationHandlers creates a new instance of GenerationHandlers.
func NewGenerationHandlers(broker *app.Service, topup *app.TopUpService, limiter app.RateLimiter, limits RateLimits) *GenerationHandlers {
	return &GenerationHandlers{broker: broker, topup: topup, limiter: limiter, limits: limits}
}

func jobCreatedResponse(job domain.GenerationJob, balance int64) domain.JobCreatedResponse {
	return domain.JobCreatedResponse{
		JobID:        job.ID,
		Status:       job.Status,
		Provider:     job.Provider,
		CoinsSpent:   job.CoinsSpent,
		CoinsBalance: balance,
		ResultURL:    job.ResultURL,
		Error:        job.Error,
	}
}

func jobStatusResponse(job domain.GenerationJob) domain.JobStatusResponse {
	return domain.JobStatusResponse{
		JobID:     job.ID,
		Status:    job.Status,
		Provider:  job.Provider,
		ResultURL: job.ResultURL,
		Error:     job.Error,
	}
}

// consumeRateLimit counts the request against the given scope's budget and
// writes a 429 when the budget is spent. Limiter errors fail open.
func (h *GenerationHandlers) consumeRateLimit(w http.ResponseWriter, r *http.Request, scope string, userID uuid.UUID, limit int) bool {
	if h.limiter == nil || limit <= 0 {
		return true
	}
	_, retryAfter, err := h.limiter.ConsumeRateLimit(r.Context(), scope, userID.String(), limit, time.Minute)
	if err != nil {
		log.Printf("level=warn component=api msg=\"rate limiter unavailable; allowing request\" scope=%s err=%v", scope, err)
		return true
	}
	if retryAfter > 0 {
		w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfter))
		h.writeError(w, http.StatusTooManyRequests, "Too many requests. Please slow down.")
		return false
	}
	return true
}

// CreateGenerationHandler handles POST /generate. The debit happens before
// dispatch; a dispatch failure still returns the (refunded) job record so the
// client can show what happened.
func (h *GenerationHandlers) CreateGenerationHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not get user ID from context")
		return
	}

	if !h.consumeRateLimit(w, r, "generate", userID, h.limits.GeneratePerMinute) {
		return
	}

	var req domain.GenerationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	result, err := h.broker.Submit(r.Context(), userID, req)
	if err != nil {
		switch {
		case errors.Is(err, app.ErrValidation):
			h.writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, store.ErrInsufficientFunds):
			h.writeError(w, http.StatusPaymentRequired, "Insufficient coins for this generation")
		case errors.Is(err, provider.ErrRejected), errors.Is(err, provider.ErrUnreachable):
			// The debit was refunded; the failed job record carries the detail.
			h.writeJSON(w, http.StatusBadGateway, jobCreatedResponse(result.Job, result.CoinsBalance))
		default:
			log.Printf("level=error component=api msg=\"generation submit failed\" user_id=%s err=%v", userID, err)
			h.writeError(w, http.StatusInternalServerError, "Internal server error")
		}
		return
	}

	h.writeJSON(w, http.StatusCreated, jobCreatedResponse(result.Job, result.CoinsBalance))
}

// GetJobHandler handles GET /jobs/{job_id} and refreshes in-flight jobs from
// the provider.
func (h *GenerationHandlers) GetJobHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not get user ID from context")
		return
	}

	jobIDStr := chi.URLParam(r, "jobID")
	jobID, err := uuid.Parse(jobIDStr)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid job ID format")
		return
	}

	job, err := h.broker.Poll(r.Context(), userID, jobID)
	if err != nil {
		switch {
		case errors.Is(err, app.ErrJobNotFound):
			h.writeError(w, http.StatusNotFound, "Job not found")
		case errors.Is(err, app.ErrJobForbidden):
			h.writeError(w, http.StatusForbidden, "Job belongs to another user")
		case errors.Is(err, provider.ErrRejected), errors.Is(err, provider.ErrUnreachable):
			// Transient provider failure. The job state is unchanged; report
			// it so the client keeps polling.
			h.writeJSON(w, http.StatusOK, jobStatusResponse(job))
		default:
			log.Printf("level=error component=api msg=\"job poll failed\" job_id=%s err=%v", jobID, err)
			h.writeError(w, http.StatusInternalServerError, "Internal server error")
		}
		return
	}

	h.writeJSON(w, http.StatusOK, jobStatusResponse(job))
}

// GetBalanceHandler handles GET /coins/balance.
func (h *GenerationHandlers) GetBalanceHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not get user ID from context")
		return
	}

	coins, err := h.broker.GetBalance(r.Context(), userID)
	if err != nil {
		log.Printf("level=error component=api msg=\"balance lookup failed\" user_id=%s err=%v", userID, err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, domain.CoinBalanceResponse{Coins: coins})
}

// ClaimTopUpHandler handles POST /coins/topup/claim. It verifies the on-chain
// transfer and credits the caller's balance exactly once per transaction hash.
func (h *GenerationHandlers) ClaimTopUpHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not get user ID from context")
		return
	}

	if !h.consumeRateLimit(w, r, "topup_claim", userID, h.limits.TopUpClaimPerMinute) {
		return
	}

	var req domain.TopUpClaimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	result, err := h.topup.ClaimTopUp(r.Context(), userID, req.TxHash)
	if err != nil {
		switch {
		case errors.Is(err, app.ErrMalformedHash):
			h.writeError(w, http.StatusBadRequest, "Malformed transaction hash")
		case errors.Is(err, app.ErrTxNotFound):
			h.writeError(w, http.StatusBadRequest, "Transaction not found on chain")
		case errors.Is(err, app.ErrTxNotConfirmed):
			h.writeError(w, http.StatusBadRequest, "Transaction is not confirmed yet")
		case errors.Is(err, app.ErrWrongRecipient):
			h.writeError(w, http.StatusBadRequest, "Transaction does not pay the treasury address")
		case errors.Is(err, app.ErrAmountTooSmall):
			h.writeError(w, http.StatusBadRequest, "Transferred amount is too small to credit any coins")
		case errors.Is(err, store.ErrTxHashClaimed):
			h.writeError(w, http.StatusBadRequest, "Transaction hash already claimed")
		case errors.Is(err, app.ErrUpstreamRPC):
			h.writeError(w, http.StatusBadGateway, "Chain RPC is unavailable. Please retry.")
		default:
			log.Printf("level=error component=api msg=\"topup claim failed\" user_id=%s err=%v", userID, err)
			h.writeError(w, http.StatusInternalServerError, "Internal server error")
		}
		return
	}

	h.writeJSON(w, http.StatusOK, result)
}

// writeJSON is a helper for writing JSON responses.
func (h *GenerationHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func (h *GenerationHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
