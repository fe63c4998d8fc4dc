/**
 * @description
 * This file defines the `Repository` interface, which specifies the contract
 * for all persistent data access required by the generation-service: user
 * identity, the per-user coin balance, and claimed top-up transactions. By
 * defining an interface, we decouple the application's business logic from the
 * PostgreSQL implementation, making the code more modular and easier to test.
 *
 * @dependencies
 * - context, time: Standard Go libraries.
 * - github.com/google/uuid: For UUID generation and handling.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"
	"errors"
	"time"

	"github.com/arcforge/generation-service/internal/domain"
	"github.com/google/uuid"
)

// Sentinel errors surfaced by repository implementations. The application
// layer matches on these with errors.Is and never inspects raw driver errors.
var (
	// ErrUserNotFound indicates no user row matched the lookup.
	ErrUserNotFound = errors.New("user not found")

	// ErrEmailTaken indicates the unique email constraint rejected an insert.
	ErrEmailTaken = errors.New("email already registered")

	// ErrInsufficientFunds indicates the admission check denied a debit.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrTopUpNotFound indicates no claim row exists for the tx hash.
	ErrTopUpNotFound = errors.New("topup transaction not found")

	// ErrTxHashClaimed indicates the tx_hash uniqueness constraint rejected a
	// claim insert: the hash has already been consumed.
	ErrTxHashClaimed = errors.New("transaction hash already claimed")
)

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// User methods. Email comparisons are case-insensitive.
	CreateUser(ctx context.Context, user *domain.User) error
	FindUserByEmail(ctx context.Context, email string) (*domain.User, error)
	FindUserByID(ctx context.Context, userID uuid.UUID) (*domain.User, error)
	SetResetToken(ctx context.Context, userID uuid.UUID, token string, expiresAt time.Time) error
	UpdatePasswordAndClearResetToken(ctx context.Context, userID uuid.UUID, hashedPassword string) error

	// Coin ledger methods. Debit and credit are single atomic
	// read-modify-writes on the balance row; debit fails with
	// ErrInsufficientFunds before the balance could go negative.
	GetOrCreateBalance(ctx context.Context, userID uuid.UUID) (*domain.CoinBalance, error)
	DebitCoins(ctx context.Context, userID uuid.UUID, amount int64) (int64, error)
	CreditCoins(ctx context.Context, userID uuid.UUID, amount int64) (int64, error)

	// Top-up claim methods. CreateTopUpClaim inserts the claim row and
	// credits the balance in one transaction; both commit together or
	// neither does. The unique tx_hash index is the concurrency guard.
	FindTopUpByTxHash(ctx context.Context, txHash string) (*domain.TopUpTransaction, error)
	CreateTopUpClaim(ctx context.Context, topup *domain.TopUpTransaction) (int64, error)
}
