/**
 * @description
 * Sentinel errors owned by the application layer. Together with the store
 * sentinels they form the service's error taxonomy; handlers map them to HTTP
 * statuses with errors.Is and never parse message strings.
 */

package app

import "errors"

var (
	// ErrValidation indicates bad input with no side effects.
	ErrValidation = errors.New("validation error")

	// ErrJobNotFound indicates an unknown job id.
	ErrJobNotFound = errors.New("job not found")

	// ErrJobForbidden indicates the job exists but belongs to another user.
	ErrJobForbidden = errors.New("job not owned by caller")

	// Top-up claim taxonomy. None of these have side effects.
	ErrMalformedHash  = errors.New("malformed transaction hash")
	ErrTxNotFound     = errors.New("transaction not found on chain")
	ErrTxNotConfirmed = errors.New("transaction not confirmed")
	ErrWrongRecipient = errors.New("transaction recipient is not the treasury")
	ErrAmountTooSmall = errors.New("transferred amount too small")
	ErrUpstreamRPC    = errors.New("chain rpc unavailable")

	// Auth taxonomy.
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrPasswordTooLong    = errors.New("password must be at most 72 bytes")
	ErrInvalidResetToken  = errors.New("invalid or expired reset token")

	// ErrRateLimited indicates the per-user request budget is exhausted.
	ErrRateLimited = errors.New("rate limited")
)
