package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/arcforge/generation-service/internal/domain"
	"github.com/arcforge/generation-service/internal/provider"
	"github.com/arcforge/generation-service/internal/store"
)

type ledgerRepoStub struct {
	store.Repository

	mu      sync.Mutex
	balance int64

	debitCalls  int
	creditCalls int
	debitErr    error
	creditErr   error
}

func (s *ledgerRepoStub) DebitCoins(ctx context.Context, userID uuid.UUID, amount int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.debitCalls++
	if s.debitErr != nil {
		return 0, s.debitErr
	}
	if s.balance < amount {
		return 0, store.ErrInsufficientFunds
	}
	s.balance -= amount
	return s.balance, nil
}

func (s *ledgerRepoStub) CreditCoins(ctx context.Context, userID uuid.UUID, amount int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creditCalls++
	if s.creditErr != nil {
		return 0, s.creditErr
	}
	s.balance += amount
	return s.balance, nil
}

func (s *ledgerRepoStub) GetOrCreateBalance(ctx context.Context, userID uuid.UUID) (*domain.CoinBalance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &domain.CoinBalance{UserID: userID, Coins: s.balance}, nil
}

// adapterStub is a scriptable provider adapter.
type adapterStub struct {
	name     string
	price    int64
	createFn func(ctx context.Context, req domain.GenerationRequest) (provider.Handle, error)
	pollFn   func(ctx context.Context, taskID string) (provider.NormalizedStatus, error)

	mu        sync.Mutex
	pollCalls int
}

func (a *adapterStub) Name() string { return a.name }

func (a *adapterStub) Price(req domain.GenerationRequest) int64 { return a.price }

func (a *adapterStub) Create(ctx context.Context, req domain.GenerationRequest) (provider.Handle, error) {
	if a.createFn != nil {
		return a.createFn(ctx, req)
	}
	return provider.Handle{TaskID: "task-1", Status: provider.NormalizedStatus{State: domain.JobStatusProcessing}}, nil
}

func (a *adapterStub) Poll(ctx context.Context, taskID string) (provider.NormalizedStatus, error) {
	a.mu.Lock()
	a.pollCalls++
	a.mu.Unlock()
	if a.pollFn != nil {
		return a.pollFn(ctx, taskID)
	}
	return provider.NormalizedStatus{State: domain.JobStatusProcessing}, nil
}

// fetcherStub is an adapterStub whose provider serves a higher-quality asset
// through a follow-up call.
type fetcherStub struct {
	adapterStub

	fetchFn    func(ctx context.Context, taskID string) (string, error)
	fetchCalls int
}

func (a *fetcherStub) FetchAsset(ctx context.Context, taskID string) (string, error) {
	a.fetchCalls++
	return a.fetchFn(ctx, taskID)
}

func newTestBroker(repo *ledgerRepoStub, adapter *adapterStub) (*Service, *store.MemoryJobStore) {
	jobs := store.NewMemoryJobStore()
	registry := provider.NewRegistry(adapter.name, adapter)
	return NewService(repo, jobs, registry, nil), jobs
}

func TestSubmitDebitsAndDispatches(t *testing.T) {
	repo := &ledgerRepoStub{balance: 100}
	adapter := &adapterStub{name: "stub", price: 30}
	svc, _ := newTestBroker(repo, adapter)

	result, err := svc.Submit(context.Background(), uuid.New(), domain.GenerationRequest{Prompt: "a red fox"})
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	if result.Job.Status != domain.JobStatusProcessing {
		t.Errorf("expected processing status, got %s", result.Job.Status)
	}
	if result.Job.CoinsSpent != 30 {
		t.Errorf("expected 30 coins spent, got %d", result.Job.CoinsSpent)
	}
	if result.CoinsBalance != 70 {
		t.Errorf("expected balance 70 after debit, got %d", result.CoinsBalance)
	}
	if result.Job.ProviderTaskID == nil || *result.Job.ProviderTaskID != "task-1" {
		t.Errorf("expected provider task id to be recorded")
	}
}

func TestSubmitEmptyPromptRejectedBeforeDebit(t *testing.T) {
	repo := &ledgerRepoStub{balance: 100}
	adapter := &adapterStub{name: "stub", price: 30}
	svc, _ := newTestBroker(repo, adapter)

	_, err := svc.Submit(context.Background(), uuid.New(), domain.GenerationRequest{Prompt: "   "})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if repo.debitCalls != 0 {
		t.Errorf("expected no debit on validation failure, got %d calls", repo.debitCalls)
	}
}

func TestSubmitUnknownProviderRejectedBeforeDebit(t *testing.T) {
	repo := &ledgerRepoStub{balance: 100}
	adapter := &adapterStub{name: "stub", price: 30}
	svc, _ := newTestBroker(repo, adapter)

	_, err := svc.Submit(context.Background(), uuid.New(), domain.GenerationRequest{Prompt: "x", Provider: "nonesuch"})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if repo.debitCalls != 0 {
		t.Errorf("expected no debit for unknown provider, got %d calls", repo.debitCalls)
	}
}

func TestSubmitInsufficientFundsCreatesNoJob(t *testing.T) {
	repo := &ledgerRepoStub{balance: 5}
	adapter := &adapterStub{name: "stub", price: 30}
	svc, _ := newTestBroker(repo, adapter)

	_, err := svc.Submit(context.Background(), uuid.New(), domain.GenerationRequest{Prompt: "x"})
	if !errors.Is(err, store.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if repo.balance != 5 {
		t.Errorf("balance changed on rejected admission: %d", repo.balance)
	}
	if repo.creditCalls != 0 {
		t.Errorf("unexpected credit: %d calls", repo.creditCalls)
	}
}

func TestSubmitDispatchFailureRefunds(t *testing.T) {
	repo := &ledgerRepoStub{balance: 100}
	adapter := &adapterStub{
		name:  "stub",
		price: 30,
		createFn: func(ctx context.Context, req domain.GenerationRequest) (provider.Handle, error) {
			return provider.Handle{}, fmt.Errorf("%w: connect refused", provider.ErrUnreachable)
		},
	}
	svc, _ := newTestBroker(repo, adapter)

	result, err := svc.Submit(context.Background(), uuid.New(), domain.GenerationRequest{Prompt: "x"})
	if !errors.Is(err, provider.ErrUnreachable) {
		t.Fatalf("expected ErrUnreachable, got %v", err)
	}
	if result == nil {
		t.Fatal("expected failed job record alongside the error")
	}
	if result.Job.Status != domain.JobStatusFailed {
		t.Errorf("expected failed status, got %s", result.Job.Status)
	}
	if !result.Job.CoinsRefunded {
		t.Error("expected coins_refunded to be set")
	}
	if repo.balance != 100 {
		t.Errorf("expected full refund back to 100, got %d", repo.balance)
	}
	if repo.creditCalls != 1 {
		t.Errorf("expected exactly one credit, got %d", repo.creditCalls)
	}
	if result.CoinsBalance != 100 {
		t.Errorf("expected refunded balance 100 in result, got %d", result.CoinsBalance)
	}
}

func TestSubmitInlineSuccessSkipsPolling(t *testing.T) {
	repo := &ledgerRepoStub{balance: 50}
	adapter := &adapterStub{
		name:  "stub",
		price: 25,
		createFn: func(ctx context.Context, req domain.GenerationRequest) (provider.Handle, error) {
			return provider.Handle{
				TaskID: "inline-1",
				Inline: true,
				Status: provider.NormalizedStatus{State: domain.JobStatusSucceeded, ResultURL: "https://cdn.example/video.mp4"},
			}, nil
		},
	}
	svc, _ := newTestBroker(repo, adapter)

	result, err := svc.Submit(context.Background(), uuid.New(), domain.GenerationRequest{Prompt: "x"})
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	if result.Job.Status != domain.JobStatusSucceeded {
		t.Errorf("expected succeeded, got %s", result.Job.Status)
	}
	if result.Job.ResultURL == nil || *result.Job.ResultURL != "https://cdn.example/video.mp4" {
		t.Error("expected inline result url to be stored")
	}
	if repo.balance != 25 {
		t.Errorf("expected debit to stand on success, balance=%d", repo.balance)
	}
	if repo.creditCalls != 0 {
		t.Errorf("unexpected refund on success: %d credits", repo.creditCalls)
	}
}

func TestPollSuccessStoresResult(t *testing.T) {
	repo := &ledgerRepoStub{balance: 100}
	adapter := &adapterStub{name: "stub", price: 30}
	adapter.pollFn = func(ctx context.Context, taskID string) (provider.NormalizedStatus, error) {
		return provider.NormalizedStatus{State: domain.JobStatusSucceeded, ResultURL: "https://cdn.example/out.mp4"}, nil
	}
	svc, _ := newTestBroker(repo, adapter)
	userID := uuid.New()

	result, err := svc.Submit(context.Background(), userID, domain.GenerationRequest{Prompt: "x"})
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}

	job, err := svc.Poll(context.Background(), userID, result.Job.ID)
	if err != nil {
		t.Fatalf("Poll returned error: %v", err)
	}
	if job.Status != domain.JobStatusSucceeded {
		t.Errorf("expected succeeded, got %s", job.Status)
	}
	if job.ResultURL == nil || *job.ResultURL != "https://cdn.example/out.mp4" {
		t.Error("expected result url from poll")
	}
}

func TestPollFailureRefundsExactlyOnce(t *testing.T) {
	repo := &ledgerRepoStub{balance: 100}
	adapter := &adapterStub{name: "stub", price: 30}
	adapter.pollFn = func(ctx context.Context, taskID string) (provider.NormalizedStatus, error) {
		return provider.NormalizedStatus{State: domain.JobStatusFailed, Error: "nsfw content rejected"}, nil
	}
	svc, _ := newTestBroker(repo, adapter)
	userID := uuid.New()

	result, err := svc.Submit(context.Background(), userID, domain.GenerationRequest{Prompt: "x"})
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}

	for i := 0; i < 3; i++ {
		job, pollErr := svc.Poll(context.Background(), userID, result.Job.ID)
		if pollErr != nil {
			t.Fatalf("Poll %d returned error: %v", i, pollErr)
		}
		if job.Status != domain.JobStatusFailed {
			t.Errorf("poll %d: expected failed, got %s", i, job.Status)
		}
	}

	if repo.creditCalls != 1 {
		t.Errorf("expected exactly one refund across repeated polls, got %d", repo.creditCalls)
	}
	if repo.balance != 100 {
		t.Errorf("expected balance restored to 100, got %d", repo.balance)
	}
	// Terminal state is sticky: the provider is asked only once.
	if adapter.pollCalls != 1 {
		t.Errorf("expected a single provider poll, got %d", adapter.pollCalls)
	}
}

func TestConcurrentFailurePollsSingleRefund(t *testing.T) {
	repo := &ledgerRepoStub{balance: 100}
	adapter := &adapterStub{name: "stub", price: 30}
	svc, jobs := newTestBroker(repo, adapter)
	userID := uuid.New()

	result, err := svc.Submit(context.Background(), userID, domain.GenerationRequest{Prompt: "x"})
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}

	// Drive the refund CAS directly from many goroutines the way concurrent
	// pollers observing the same terminal failure would.
	jobs.SetOutcome(result.Job.ID, domain.JobStatusFailed, "", "boom")
	var wg sync.WaitGroup
	wins := make(chan bool, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			wins <- jobs.ClaimRefund(result.Job.ID)
		}()
	}
	wg.Wait()
	close(wins)

	winners := 0
	for won := range wins {
		if won {
			winners++
		}
	}
	if winners != 1 {
		t.Fatalf("expected exactly one refund winner, got %d", winners)
	}
}

func TestContradictoryVerdictsNeverRefundASuccess(t *testing.T) {
	repo := &ledgerRepoStub{balance: 100}
	adapter := &adapterStub{name: "stub", price: 30}

	// The first poller gets a failed verdict but stalls before writing it;
	// a second poller gets a succeeded verdict and settles the job first.
	started := make(chan struct{})
	release := make(chan struct{})
	var mu sync.Mutex
	calls := 0
	adapter.pollFn = func(ctx context.Context, taskID string) (provider.NormalizedStatus, error) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			close(started)
			<-release
			return provider.NormalizedStatus{State: domain.JobStatusFailed, Error: "worker crashed"}, nil
		}
		return provider.NormalizedStatus{State: domain.JobStatusSucceeded, ResultURL: "https://cdn.example/out.mp4"}, nil
	}
	svc, jobs := newTestBroker(repo, adapter)
	userID := uuid.New()

	result, err := svc.Submit(context.Background(), userID, domain.GenerationRequest{Prompt: "x"})
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}

	slowDone := make(chan domain.GenerationJob, 1)
	go func() {
		job, _ := svc.Poll(context.Background(), userID, result.Job.ID)
		slowDone <- job
	}()
	<-started

	job, err := svc.Poll(context.Background(), userID, result.Job.ID)
	if err != nil {
		t.Fatalf("Poll returned error: %v", err)
	}
	if job.Status != domain.JobStatusSucceeded {
		t.Fatalf("expected succeeded from the fast poller, got %s", job.Status)
	}

	close(release)
	slow := <-slowDone

	stored, _ := jobs.Get(result.Job.ID)
	if stored.Status != domain.JobStatusSucceeded {
		t.Fatalf("success overwritten by the late failure: %s", stored.Status)
	}
	if stored.CoinsRefunded {
		t.Error("succeeded job marked refunded")
	}
	if slow.Status != domain.JobStatusSucceeded {
		t.Errorf("late poller returned %s for a settled success", slow.Status)
	}
	if repo.creditCalls != 0 {
		t.Errorf("delivered video refunded: %d credits", repo.creditCalls)
	}
	if repo.balance != 70 {
		t.Errorf("expected debit to stand at balance 70, got %d", repo.balance)
	}
}

func TestPollSuccessFetchesUpgradedAsset(t *testing.T) {
	repo := &ledgerRepoStub{balance: 100}
	adapter := &fetcherStub{adapterStub: adapterStub{name: "stub", price: 30}}
	adapter.pollFn = func(ctx context.Context, taskID string) (provider.NormalizedStatus, error) {
		return provider.NormalizedStatus{State: domain.JobStatusSucceeded, ResultURL: "https://cdn.example/sd.mp4"}, nil
	}
	adapter.fetchFn = func(ctx context.Context, taskID string) (string, error) {
		return "https://cdn.example/hd.mp4", nil
	}
	jobs := store.NewMemoryJobStore()
	svc := NewService(repo, jobs, provider.NewRegistry(adapter.name, adapter), nil)
	userID := uuid.New()

	result, err := svc.Submit(context.Background(), userID, domain.GenerationRequest{Prompt: "x"})
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}

	job, err := svc.Poll(context.Background(), userID, result.Job.ID)
	if err != nil {
		t.Fatalf("Poll returned error: %v", err)
	}
	if job.ResultURL == nil || *job.ResultURL != "https://cdn.example/hd.mp4" {
		t.Error("expected the upgraded asset url on the returned job")
	}

	// The job is terminal now; repeated polls are pure reads and never
	// trigger a second fetch.
	job, err = svc.Poll(context.Background(), userID, result.Job.ID)
	if err != nil {
		t.Fatalf("second Poll returned error: %v", err)
	}
	if job.ResultURL == nil || *job.ResultURL != "https://cdn.example/hd.mp4" {
		t.Error("upgraded asset url lost on repeated poll")
	}
	if adapter.fetchCalls != 1 {
		t.Errorf("expected a single asset fetch, got %d", adapter.fetchCalls)
	}
}

func TestPollAssetFetchFailureKeepsPollURL(t *testing.T) {
	repo := &ledgerRepoStub{balance: 100}
	adapter := &fetcherStub{adapterStub: adapterStub{name: "stub", price: 30}}
	adapter.pollFn = func(ctx context.Context, taskID string) (provider.NormalizedStatus, error) {
		return provider.NormalizedStatus{State: domain.JobStatusSucceeded, ResultURL: "https://cdn.example/sd.mp4"}, nil
	}
	adapter.fetchFn = func(ctx context.Context, taskID string) (string, error) {
		return "", fmt.Errorf("%w: asset not ready", provider.ErrUnreachable)
	}
	jobs := store.NewMemoryJobStore()
	svc := NewService(repo, jobs, provider.NewRegistry(adapter.name, adapter), nil)
	userID := uuid.New()

	result, err := svc.Submit(context.Background(), userID, domain.GenerationRequest{Prompt: "x"})
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}

	job, err := svc.Poll(context.Background(), userID, result.Job.ID)
	if err != nil {
		t.Fatalf("Poll returned error: %v", err)
	}
	if job.Status != domain.JobStatusSucceeded {
		t.Errorf("expected succeeded despite fetch failure, got %s", job.Status)
	}
	if job.ResultURL == nil || *job.ResultURL != "https://cdn.example/sd.mp4" {
		t.Error("expected the poll result url to stand when the fetch fails")
	}
	if repo.creditCalls != 0 {
		t.Errorf("fetch failure must not refund, got %d credits", repo.creditCalls)
	}
}

func TestPollTransportErrorLeavesJobInFlight(t *testing.T) {
	repo := &ledgerRepoStub{balance: 100}
	adapter := &adapterStub{name: "stub", price: 30}
	adapter.pollFn = func(ctx context.Context, taskID string) (provider.NormalizedStatus, error) {
		return provider.NormalizedStatus{}, fmt.Errorf("%w: timeout", provider.ErrUnreachable)
	}
	svc, _ := newTestBroker(repo, adapter)
	userID := uuid.New()

	result, err := svc.Submit(context.Background(), userID, domain.GenerationRequest{Prompt: "x"})
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}

	job, err := svc.Poll(context.Background(), userID, result.Job.ID)
	if !errors.Is(err, provider.ErrUnreachable) {
		t.Fatalf("expected ErrUnreachable, got %v", err)
	}
	if job.Status != domain.JobStatusProcessing {
		t.Errorf("expected job still processing after transport error, got %s", job.Status)
	}
	if repo.creditCalls != 0 {
		t.Errorf("transport error must not refund, got %d credits", repo.creditCalls)
	}
}

func TestPollOwnershipAndExistence(t *testing.T) {
	repo := &ledgerRepoStub{balance: 100}
	adapter := &adapterStub{name: "stub", price: 30}
	svc, _ := newTestBroker(repo, adapter)
	owner := uuid.New()

	result, err := svc.Submit(context.Background(), owner, domain.GenerationRequest{Prompt: "x"})
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}

	if _, err := svc.Poll(context.Background(), uuid.New(), result.Job.ID); !errors.Is(err, ErrJobForbidden) {
		t.Errorf("expected ErrJobForbidden for another user, got %v", err)
	}
	if _, err := svc.Poll(context.Background(), owner, uuid.New()); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("expected ErrJobNotFound for unknown job, got %v", err)
	}
}

func TestGetBalanceCreatesRowOnFirstUse(t *testing.T) {
	repo := &ledgerRepoStub{balance: 0}
	adapter := &adapterStub{name: "stub", price: 30}
	svc, _ := newTestBroker(repo, adapter)

	coins, err := svc.GetBalance(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("GetBalance returned error: %v", err)
	}
	if coins != 0 {
		t.Errorf("expected zero starting balance, got %d", coins)
	}
}
