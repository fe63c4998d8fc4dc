/**
 * @description
 * This file defines the coin-ledger models: the per-user balance row and the
 * record of a claimed on-chain top-up payment.
 *
 * @notes
 * - Coin balances are plain non-negative integers; the ledger never stores
 *   fractional coins, which avoids floating-point inaccuracies entirely.
 * - The transferred value is kept as a decimal string because wei amounts
 *   exceed int64 range; arithmetic on it runs through math/big.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// CoinBalance is the single ledger row owned by a user. The `coins >= 0`
// invariant is enforced by the admission check inside the debit transaction.
type CoinBalance struct {
	UserID    uuid.UUID `json:"user_id"`
	Coins     int64     `json:"coins"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TopUpTransaction records one claimed on-chain payment. The unique tx_hash
// column doubles as the claim lock: a hash can be claimed by exactly one
// user exactly once.
type TopUpTransaction struct {
	ID         uuid.UUID `json:"id"`
	UserID     uuid.UUID `json:"user_id"`
	TxHash     string    `json:"tx_hash"`
	AmountWei  string    `json:"amount_wei"`
	CoinsAdded int64     `json:"coins_added"`
	CreatedAt  time.Time `json:"created_at"`
}

// TopUpClaimRequest is the DTO for POST /coins/topup/claim.
type TopUpClaimRequest struct {
	TxHash string `json:"tx_hash"`
}

// TopUpClaimResult is the response payload for a top-up claim. CoinsAdded is
// zero when the hash was already claimed by the same user (idempotent replay).
type TopUpClaimResult struct {
	Coins      int64  `json:"coins"`
	CoinsAdded int64  `json:"coins_added"`
	TxHash     string `json:"tx_hash"`
}

// CoinBalanceResponse is the payload for GET /coins/balance.
type CoinBalanceResponse struct {
	Coins int64 `json:"coins"`
}
