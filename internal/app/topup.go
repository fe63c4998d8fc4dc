/**
 * @description
 * This file implements the on-chain top-up claim path: a transaction hash is
 * validated syntactically, checked against prior claims, verified against the
 * chain RPC (existence, receipt success, treasury recipient, positive value),
 * converted to coins, and persisted together with the ledger credit in one
 * transaction. The tx_hash uniqueness constraint is the concurrency guard
 * against double claims.
 *
 * @dependencies
 * - math/big: Arbitrary-precision wei arithmetic.
 * - pkg/ethrpc: The chain JSON-RPC client.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/big"
	"regexp"
	"strings"
	"time"

	"github.com/arcforge/generation-service/internal/domain"
	"github.com/arcforge/generation-service/internal/store"
	"github.com/arcforge/generation-service/pkg/ethrpc"
	"github.com/arcforge/generation-service/pkg/rabbitmq"
	"github.com/google/uuid"
)

// txHashPattern matches a 0x-prefixed 32-byte hex hash.
var txHashPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)

// weiPerUSDC is the base-unit denominator for the chain's native USDC
// (18 decimals on the wire, whatever the display convention).
var weiPerUSDC = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// ChainVerifier is the subset of the RPC client the claim path depends on;
// tests inject a fake.
type ChainVerifier interface {
	GetTransactionByHash(ctx context.Context, txHash string) (*ethrpc.Transaction, error)
	GetTransactionReceipt(ctx context.Context, txHash string) (*ethrpc.Receipt, error)
}

// TopUpService verifies on-chain payments and credits the coin ledger.
type TopUpService struct {
	repo          store.Repository
	chain         ChainVerifier
	eventProducer rabbitmq.Publisher
	treasury      string
	coinsPerUSDC  int64
}

// NewTopUpService creates a new top-up verifier.
func NewTopUpService(repo store.Repository, chain ChainVerifier, producer rabbitmq.Publisher, treasuryAddress string, coinsPerUSDC int64) *TopUpService {
	return &TopUpService{
		repo:          repo,
		chain:         chain,
		eventProducer: producer,
		treasury:      strings.ToLower(strings.TrimSpace(treasuryAddress)),
		coinsPerUSDC:  coinsPerUSDC,
	}
}

// ClaimTopUp validates and credits one claimed on-chain payment. Re-claiming
// a hash the same user already claimed is a safe no-op returning the current
// balance with coins_added = 0; a hash claimed by anyone else is rejected.
func (t *TopUpService) ClaimTopUp(ctx context.Context, userID uuid.UUID, txHash string) (*domain.TopUpClaimResult, error) {
	txHash = strings.ToLower(strings.TrimSpace(txHash))
	if !txHashPattern.MatchString(txHash) {
		return nil, fmt.Errorf("%w: expected 0x-prefixed 64-hex-character hash", ErrMalformedHash)
	}

	// Duplicate pre-check. The insert's unique constraint backstops the race.
	if existing, err := t.repo.FindTopUpByTxHash(ctx, txHash); err == nil {
		return t.replayClaim(ctx, userID, existing)
	} else if !errors.Is(err, store.ErrTopUpNotFound) {
		return nil, fmt.Errorf("failed to check prior claims: %w", err)
	}

	tx, err := t.chain.GetTransactionByHash(ctx, txHash)
	if err != nil {
		if errors.Is(err, ethrpc.ErrNotFound) {
			return nil, ErrTxNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrUpstreamRPC, err)
	}

	receipt, err := t.chain.GetTransactionReceipt(ctx, txHash)
	if err != nil {
		if errors.Is(err, ethrpc.ErrNotFound) {
			// Mined-but-unreceipted means still pending; not confirmed yet.
			return nil, ErrTxNotConfirmed
		}
		return nil, fmt.Errorf("%w: %v", ErrUpstreamRPC, err)
	}
	if !receipt.Succeeded() {
		return nil, ErrTxNotConfirmed
	}

	if tx.To == nil || strings.ToLower(*tx.To) != t.treasury {
		return nil, ErrWrongRecipient
	}

	valueWei, err := tx.ValueWei()
	if err != nil {
		return nil, fmt.Errorf("%w: unreadable transfer value: %v", ErrUpstreamRPC, err)
	}
	coins := t.coinsForWei(valueWei)
	if coins <= 0 {
		return nil, ErrAmountTooSmall
	}

	claim := &domain.TopUpTransaction{
		UserID:     userID,
		TxHash:     txHash,
		AmountWei:  valueWei.String(),
		CoinsAdded: coins,
	}
	newBalance, err := t.repo.CreateTopUpClaim(ctx, claim)
	if err != nil {
		if errors.Is(err, store.ErrTxHashClaimed) {
			// Lost the race; resolve against the winning row.
			if existing, findErr := t.repo.FindTopUpByTxHash(ctx, txHash); findErr == nil {
				return t.replayClaim(ctx, userID, existing)
			}
			return nil, store.ErrTxHashClaimed
		}
		return nil, fmt.Errorf("failed to record topup claim: %w", err)
	}

	log.Printf("level=info component=topup msg=\"topup claimed\" user_id=%s tx_hash=%s coins_added=%d", userID, txHash, coins)
	t.publishTopUpEvent(ctx, userID, txHash, coins)

	return &domain.TopUpClaimResult{Coins: newBalance, CoinsAdded: coins, TxHash: txHash}, nil
}

// replayClaim resolves a duplicate submission: idempotent for the original
// claimant, rejected for anyone else.
func (t *TopUpService) replayClaim(ctx context.Context, userID uuid.UUID, existing *domain.TopUpTransaction) (*domain.TopUpClaimResult, error) {
	if existing.UserID != userID {
		return nil, store.ErrTxHashClaimed
	}
	balance, err := t.repo.GetOrCreateBalance(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load balance: %w", err)
	}
	return &domain.TopUpClaimResult{Coins: balance.Coins, CoinsAdded: 0, TxHash: existing.TxHash}, nil
}

// coinsForWei computes floor(value_wei * coinsPerUSDC / 1e18).
func (t *TopUpService) coinsForWei(valueWei *big.Int) int64 {
	if valueWei.Sign() <= 0 {
		return 0
	}
	product := new(big.Int).Mul(valueWei, big.NewInt(t.coinsPerUSDC))
	product.Quo(product, weiPerUSDC)
	if !product.IsInt64() {
		// A claim overflowing int64 coins is not a realistic payment.
		return 0
	}
	return product.Int64()
}

func (t *TopUpService) publishTopUpEvent(ctx context.Context, userID uuid.UUID, txHash string, coins int64) {
	if t.eventProducer == nil {
		return
	}
	event := rabbitmq.TopUpEvent{
		UserID:     userID,
		TxHash:     txHash,
		CoinsAdded: coins,
		Timestamp:  time.Now().UTC(),
	}
	if err := t.eventProducer.PublishTopUpEvent(ctx, event); err != nil {
		log.Printf("level=warn component=topup msg=\"topup event publish failed\" user_id=%s tx_hash=%s err=%v", userID, txHash, err)
	}
}
