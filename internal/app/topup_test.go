package app

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/arcforge/generation-service/internal/domain"
	"github.com/arcforge/generation-service/internal/store"
	"github.com/arcforge/generation-service/pkg/ethrpc"
)

const treasuryAddr = "0x9fE46736679d2D9a65F0992F2272dE9f3c7fa6e0"

type topupRepoStub struct {
	store.Repository

	balance     int64
	claims      map[string]*domain.TopUpTransaction
	claimErr    error
	createCalls int

	// winnerOnRefetch simulates a concurrent claimant whose row becomes
	// visible only after this caller's insert loses the race.
	winnerOnRefetch *domain.TopUpTransaction
}

func newTopupRepoStub(balance int64) *topupRepoStub {
	return &topupRepoStub{balance: balance, claims: make(map[string]*domain.TopUpTransaction)}
}

func (s *topupRepoStub) FindTopUpByTxHash(ctx context.Context, txHash string) (*domain.TopUpTransaction, error) {
	if claim, ok := s.claims[txHash]; ok {
		return claim, nil
	}
	if s.winnerOnRefetch != nil && s.createCalls > 0 {
		return s.winnerOnRefetch, nil
	}
	return nil, store.ErrTopUpNotFound
}

func (s *topupRepoStub) CreateTopUpClaim(ctx context.Context, topup *domain.TopUpTransaction) (int64, error) {
	s.createCalls++
	if s.claimErr != nil {
		return 0, s.claimErr
	}
	if _, ok := s.claims[topup.TxHash]; ok {
		return 0, store.ErrTxHashClaimed
	}
	stored := *topup
	s.claims[topup.TxHash] = &stored
	s.balance += topup.CoinsAdded
	return s.balance, nil
}

func (s *topupRepoStub) GetOrCreateBalance(ctx context.Context, userID uuid.UUID) (*domain.CoinBalance, error) {
	return &domain.CoinBalance{UserID: userID, Coins: s.balance}, nil
}

type chainStub struct {
	tx         *ethrpc.Transaction
	txErr      error
	receipt    *ethrpc.Receipt
	receiptErr error
}

func (c *chainStub) GetTransactionByHash(ctx context.Context, txHash string) (*ethrpc.Transaction, error) {
	return c.tx, c.txErr
}

func (c *chainStub) GetTransactionReceipt(ctx context.Context, txHash string) (*ethrpc.Receipt, error) {
	return c.receipt, c.receiptErr
}

func validHash(fill string) string {
	return "0x" + strings.Repeat(fill, 64)
}

// paymentTx is a confirmed 0.25 USDC transfer to the treasury.
func paymentTx() *chainStub {
	to := treasuryAddr
	return &chainStub{
		tx: &ethrpc.Transaction{
			Hash:  validHash("a"),
			To:    &to,
			Value: "0x3782dace9d90000", // 0.25e18
		},
		receipt: &ethrpc.Receipt{Status: "0x1"},
	}
}

func newTopupService(repo *topupRepoStub, chain *chainStub) *TopUpService {
	return NewTopUpService(repo, chain, nil, treasuryAddr, 100)
}

func TestClaimTopUpMalformedHash(t *testing.T) {
	svc := newTopupService(newTopupRepoStub(0), paymentTx())

	for _, hash := range []string{"", "abc", "0x1234", validHash("a") + "ff", "0x" + strings.Repeat("g", 64)} {
		if _, err := svc.ClaimTopUp(context.Background(), uuid.New(), hash); !errors.Is(err, ErrMalformedHash) {
			t.Errorf("hash %q: expected ErrMalformedHash, got %v", hash, err)
		}
	}
}

func TestClaimTopUpTxNotFound(t *testing.T) {
	chain := &chainStub{txErr: ethrpc.ErrNotFound}
	svc := newTopupService(newTopupRepoStub(0), chain)

	if _, err := svc.ClaimTopUp(context.Background(), uuid.New(), validHash("a")); !errors.Is(err, ErrTxNotFound) {
		t.Fatalf("expected ErrTxNotFound, got %v", err)
	}
}

func TestClaimTopUpPendingTxNotConfirmed(t *testing.T) {
	chain := paymentTx()
	chain.receipt = nil
	chain.receiptErr = ethrpc.ErrNotFound
	svc := newTopupService(newTopupRepoStub(0), chain)

	if _, err := svc.ClaimTopUp(context.Background(), uuid.New(), validHash("a")); !errors.Is(err, ErrTxNotConfirmed) {
		t.Fatalf("expected ErrTxNotConfirmed, got %v", err)
	}
}

func TestClaimTopUpRevertedTxNotConfirmed(t *testing.T) {
	chain := paymentTx()
	chain.receipt = &ethrpc.Receipt{Status: "0x0"}
	svc := newTopupService(newTopupRepoStub(0), chain)

	if _, err := svc.ClaimTopUp(context.Background(), uuid.New(), validHash("a")); !errors.Is(err, ErrTxNotConfirmed) {
		t.Fatalf("expected ErrTxNotConfirmed, got %v", err)
	}
}

func TestClaimTopUpWrongRecipient(t *testing.T) {
	other := "0x000000000000000000000000000000000000dead"
	chain := paymentTx()
	chain.tx.To = &other
	svc := newTopupService(newTopupRepoStub(0), chain)

	if _, err := svc.ClaimTopUp(context.Background(), uuid.New(), validHash("a")); !errors.Is(err, ErrWrongRecipient) {
		t.Fatalf("expected ErrWrongRecipient, got %v", err)
	}

	chain.tx.To = nil
	if _, err := svc.ClaimTopUp(context.Background(), uuid.New(), validHash("a")); !errors.Is(err, ErrWrongRecipient) {
		t.Fatalf("expected ErrWrongRecipient for contract creation, got %v", err)
	}
}

func TestClaimTopUpRPCOutage(t *testing.T) {
	chain := &chainStub{txErr: errors.New("connection refused")}
	svc := newTopupService(newTopupRepoStub(0), chain)

	if _, err := svc.ClaimTopUp(context.Background(), uuid.New(), validHash("a")); !errors.Is(err, ErrUpstreamRPC) {
		t.Fatalf("expected ErrUpstreamRPC, got %v", err)
	}
}

func TestClaimTopUpAmountTooSmall(t *testing.T) {
	chain := paymentTx()
	chain.tx.Value = "0x0"
	svc := newTopupService(newTopupRepoStub(0), chain)

	if _, err := svc.ClaimTopUp(context.Background(), uuid.New(), validHash("a")); !errors.Is(err, ErrAmountTooSmall) {
		t.Fatalf("expected ErrAmountTooSmall for zero value, got %v", err)
	}

	// 0.001 USDC floors to zero coins at 100 coins/USDC.
	chain.tx.Value = "0x38d7ea4c68000"
	if _, err := svc.ClaimTopUp(context.Background(), uuid.New(), validHash("a")); !errors.Is(err, ErrAmountTooSmall) {
		t.Fatalf("expected ErrAmountTooSmall for dust value, got %v", err)
	}
}

func TestClaimTopUpCreditsFlooredCoins(t *testing.T) {
	repo := newTopupRepoStub(10)
	svc := newTopupService(repo, paymentTx())
	userID := uuid.New()

	result, err := svc.ClaimTopUp(context.Background(), userID, validHash("a"))
	if err != nil {
		t.Fatalf("ClaimTopUp returned error: %v", err)
	}
	// 0.25 USDC at 100 coins/USDC.
	if result.CoinsAdded != 25 {
		t.Errorf("expected 25 coins added, got %d", result.CoinsAdded)
	}
	if result.Coins != 35 {
		t.Errorf("expected balance 35, got %d", result.Coins)
	}
	if result.TxHash != validHash("a") {
		t.Errorf("unexpected tx hash in result: %s", result.TxHash)
	}
}

func TestClaimTopUpHashNormalization(t *testing.T) {
	repo := newTopupRepoStub(0)
	svc := newTopupService(repo, paymentTx())
	userID := uuid.New()

	upper := "0x" + strings.Repeat("A", 64)
	result, err := svc.ClaimTopUp(context.Background(), userID, "  "+upper+"  ")
	if err != nil {
		t.Fatalf("ClaimTopUp returned error: %v", err)
	}
	if result.TxHash != validHash("a") {
		t.Errorf("expected lowercased hash, got %s", result.TxHash)
	}
}

func TestClaimTopUpReplayIsIdempotentForSameUser(t *testing.T) {
	repo := newTopupRepoStub(0)
	svc := newTopupService(repo, paymentTx())
	userID := uuid.New()

	first, err := svc.ClaimTopUp(context.Background(), userID, validHash("a"))
	if err != nil {
		t.Fatalf("first claim returned error: %v", err)
	}
	second, err := svc.ClaimTopUp(context.Background(), userID, validHash("a"))
	if err != nil {
		t.Fatalf("replay returned error: %v", err)
	}
	if second.CoinsAdded != 0 {
		t.Errorf("replay must add no coins, got %d", second.CoinsAdded)
	}
	if second.Coins != first.Coins {
		t.Errorf("replay balance %d differs from settled balance %d", second.Coins, first.Coins)
	}
	if repo.createCalls != 1 {
		t.Errorf("expected a single claim insert, got %d", repo.createCalls)
	}
}

func TestClaimTopUpRejectedForDifferentUser(t *testing.T) {
	repo := newTopupRepoStub(0)
	svc := newTopupService(repo, paymentTx())

	if _, err := svc.ClaimTopUp(context.Background(), uuid.New(), validHash("a")); err != nil {
		t.Fatalf("first claim returned error: %v", err)
	}
	if _, err := svc.ClaimTopUp(context.Background(), uuid.New(), validHash("a")); !errors.Is(err, store.ErrTxHashClaimed) {
		t.Fatalf("expected ErrTxHashClaimed for another user, got %v", err)
	}
}

func TestClaimTopUpInsertRaceResolvesAgainstWinner(t *testing.T) {
	userID := uuid.New()
	repo := newTopupRepoStub(40)
	// The pre-check misses, the insert loses to a concurrent winner, and the
	// re-fetch finds the winning row (same user, so the replay path applies).
	repo.claimErr = store.ErrTxHashClaimed
	repo.winnerOnRefetch = &domain.TopUpTransaction{UserID: userID, TxHash: validHash("a"), CoinsAdded: 25}

	svc := newTopupService(repo, paymentTx())
	result, err := svc.ClaimTopUp(context.Background(), userID, validHash("a"))
	if err != nil {
		t.Fatalf("expected race to resolve idempotently, got %v", err)
	}
	if result.CoinsAdded != 0 {
		t.Errorf("lost race must add no coins, got %d", result.CoinsAdded)
	}
	if result.Coins != 40 {
		t.Errorf("expected winner's settled balance 40, got %d", result.Coins)
	}
}
