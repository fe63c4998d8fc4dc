/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository`
 * interface using the pgx driver. Balance mutations lock the balance row
 * with SELECT ... FOR UPDATE so concurrent debits can never both pass the
 * admission check against a stale value, and top-up claims insert the claim
 * row and credit the balance inside one transaction.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: The PostgreSQL driver and toolkit.
 * - github.com/jackc/pgx/v5/pgxpool: Connection pooling.
 * - github.com/jackc/pgx/v5/pgconn: Driver-level error inspection.
 */

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/arcforge/generation-service/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// uniqueViolation is the PostgreSQL error code for a unique constraint breach.
const uniqueViolation = "23505"

// PostgresRepository implements Repository backed by PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new repository with the given connection pool.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// CreateUser inserts a new user row. The case-insensitive unique index on
// email surfaces as ErrEmailTaken.
func (r *PostgresRepository) CreateUser(ctx context.Context, user *domain.User) error {
	query := `INSERT INTO users (id, email, full_name, hashed_password, created_at)
	          VALUES ($1, lower($2), $3, $4, $5)`
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.Exec(ctx, query, user.ID, user.Email, user.FullName, user.HashedPassword, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrEmailTaken
		}
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

// FindUserByEmail looks a user up by email, case-insensitively.
func (r *PostgresRepository) FindUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	query := `SELECT id, email, full_name, hashed_password, reset_token, reset_token_expires_at, created_at
	          FROM users WHERE email = lower($1)`
	return r.scanUser(r.db.QueryRow(ctx, query, email))
}

// FindUserByID looks a user up by primary key.
func (r *PostgresRepository) FindUserByID(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	query := `SELECT id, email, full_name, hashed_password, reset_token, reset_token_expires_at, created_at
	          FROM users WHERE id = $1`
	return r.scanUser(r.db.QueryRow(ctx, query, userID))
}

func (r *PostgresRepository) scanUser(row pgx.Row) (*domain.User, error) {
	var u domain.User
	err := row.Scan(&u.ID, &u.Email, &u.FullName, &u.HashedPassword, &u.ResetToken, &u.ResetTokenExpiresAt, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}
	return &u, nil
}

// SetResetToken stores a freshly issued password-reset token on the user row.
func (r *PostgresRepository) SetResetToken(ctx context.Context, userID uuid.UUID, token string, expiresAt time.Time) error {
	query := `UPDATE users SET reset_token = $1, reset_token_expires_at = $2 WHERE id = $3`
	result, err := r.db.Exec(ctx, query, token, expiresAt, userID)
	if err != nil {
		return fmt.Errorf("failed to set reset token: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// UpdatePasswordAndClearResetToken rotates the password hash and invalidates
// the consumed reset token in one statement.
func (r *PostgresRepository) UpdatePasswordAndClearResetToken(ctx context.Context, userID uuid.UUID, hashedPassword string) error {
	query := `UPDATE users SET hashed_password = $1, reset_token = NULL, reset_token_expires_at = NULL WHERE id = $2`
	result, err := r.db.Exec(ctx, query, hashedPassword, userID)
	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// GetOrCreateBalance returns the user's balance row, creating it at zero on
// first use. INSERT ... ON CONFLICT DO NOTHING makes the first-call race safe.
func (r *PostgresRepository) GetOrCreateBalance(ctx context.Context, userID uuid.UUID) (*domain.CoinBalance, error) {
	insert := `INSERT INTO coin_balances (user_id, coins, updated_at) VALUES ($1, 0, NOW())
	           ON CONFLICT (user_id) DO NOTHING`
	if _, err := r.db.Exec(ctx, insert, userID); err != nil {
		return nil, fmt.Errorf("failed to ensure balance row: %w", err)
	}

	var b domain.CoinBalance
	query := `SELECT user_id, coins, updated_at FROM coin_balances WHERE user_id = $1`
	err := r.db.QueryRow(ctx, query, userID).Scan(&b.UserID, &b.Coins, &b.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to read balance: %w", err)
	}
	return &b, nil
}

// DebitCoins performs an atomic debit on the user's balance and returns the
// new balance. The row lock prevents two concurrent debits from both passing
// the admission check against a stale balance.
func (r *PostgresRepository) DebitCoins(ctx context.Context, userID uuid.UUID, amount int64) (int64, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin debit transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var balance int64
	// Use FOR UPDATE to lock the row, preventing race conditions.
	err = tx.QueryRow(ctx, "SELECT coins FROM coin_balances WHERE user_id = $1 FOR UPDATE", userID).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrInsufficientFunds
		}
		return 0, fmt.Errorf("failed to lock balance row: %w", err)
	}

	if balance < amount {
		return 0, ErrInsufficientFunds
	}

	newBalance := balance - amount
	_, err = tx.Exec(ctx, "UPDATE coin_balances SET coins = $1, updated_at = NOW() WHERE user_id = $2", newBalance, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to debit balance: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit debit: %w", err)
	}
	return newBalance, nil
}

// CreditCoins performs an atomic credit on the user's balance and returns the
// new balance. Used both for top-ups and refunds.
func (r *PostgresRepository) CreditCoins(ctx context.Context, userID uuid.UUID, amount int64) (int64, error) {
	var newBalance int64
	query := `INSERT INTO coin_balances (user_id, coins, updated_at) VALUES ($1, $2, NOW())
	          ON CONFLICT (user_id) DO UPDATE SET coins = coin_balances.coins + $2, updated_at = NOW()
	          RETURNING coins`
	err := r.db.QueryRow(ctx, query, userID, amount).Scan(&newBalance)
	if err != nil {
		return 0, fmt.Errorf("failed to credit balance: %w", err)
	}
	return newBalance, nil
}

// FindTopUpByTxHash returns the claim row for a hash, if any.
func (r *PostgresRepository) FindTopUpByTxHash(ctx context.Context, txHash string) (*domain.TopUpTransaction, error) {
	var t domain.TopUpTransaction
	query := `SELECT id, user_id, tx_hash, amount_wei, coins_added, created_at
	          FROM topup_transactions WHERE tx_hash = lower($1)`
	err := r.db.QueryRow(ctx, query, txHash).Scan(&t.ID, &t.UserID, &t.TxHash, &t.AmountWei, &t.CoinsAdded, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTopUpNotFound
		}
		return nil, fmt.Errorf("failed to read topup claim: %w", err)
	}
	return &t, nil
}

// CreateTopUpClaim inserts the claim row and credits the balance in one
// transaction, returning the new balance. A concurrent claim of the same hash
// loses on the unique tx_hash index and surfaces as ErrTxHashClaimed with
// neither the row nor the credit applied.
func (r *PostgresRepository) CreateTopUpClaim(ctx context.Context, topup *domain.TopUpTransaction) (int64, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin claim transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if topup.ID == uuid.Nil {
		topup.ID = uuid.New()
	}
	if topup.CreatedAt.IsZero() {
		topup.CreatedAt = time.Now().UTC()
	}

	insert := `INSERT INTO topup_transactions (id, user_id, tx_hash, amount_wei, coins_added, created_at)
	           VALUES ($1, $2, lower($3), $4, $5, $6)`
	_, err = tx.Exec(ctx, insert, topup.ID, topup.UserID, topup.TxHash, topup.AmountWei, topup.CoinsAdded, topup.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, ErrTxHashClaimed
		}
		return 0, fmt.Errorf("failed to insert topup claim: %w", err)
	}

	var newBalance int64
	credit := `INSERT INTO coin_balances (user_id, coins, updated_at) VALUES ($1, $2, NOW())
	           ON CONFLICT (user_id) DO UPDATE SET coins = coin_balances.coins + $2, updated_at = NOW()
	           RETURNING coins`
	err = tx.QueryRow(ctx, credit, topup.UserID, topup.CoinsAdded).Scan(&newBalance)
	if err != nil {
		return 0, fmt.Errorf("failed to credit topup: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit topup claim: %w", err)
	}
	return newBalance, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
