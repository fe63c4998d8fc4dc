/**
 * @description
 * Mock provider adapter. It completes every request inline at create time
 * with a deterministic sample asset, which exercises the broker's synchronous
 * completion path without any network dependency. Useful for local
 * development and as the configured default provider.
 */

package provider

import (
	"context"
	"fmt"

	"github.com/arcforge/generation-service/internal/domain"
	"github.com/google/uuid"
)

const mockPrice = 25

// MockAdapter is a zero-dependency provider that succeeds immediately.
type MockAdapter struct {
	// SampleURL is the asset URL returned for every job.
	SampleURL string
}

// NewMockAdapter returns a mock adapter serving sampleURL (a built-in
// placeholder when empty).
func NewMockAdapter(sampleURL string) *MockAdapter {
	if sampleURL == "" {
		sampleURL = "https://storage.googleapis.com/gtv-videos-bucket/sample/BigBuckBunny.mp4"
	}
	return &MockAdapter{SampleURL: sampleURL}
}

func (m *MockAdapter) Name() string { return domain.ProviderMock }

// Price is a flat rate regardless of model or duration.
func (m *MockAdapter) Price(req domain.GenerationRequest) int64 { return mockPrice }

// Create completes synchronously: the returned handle is already succeeded.
func (m *MockAdapter) Create(ctx context.Context, req domain.GenerationRequest) (Handle, error) {
	taskID := "mock-" + uuid.NewString()
	return Handle{
		TaskID: taskID,
		Inline: true,
		Status: NormalizedStatus{
			State:     domain.JobStatusSucceeded,
			ResultURL: m.SampleURL,
		},
	}, nil
}

// Poll exists to satisfy the Adapter interface; the broker never reaches it
// because mock jobs are terminal at creation. Returning succeeded keeps the
// adapter total anyway.
func (m *MockAdapter) Poll(ctx context.Context, taskID string) (NormalizedStatus, error) {
	if taskID == "" {
		return NormalizedStatus{}, fmt.Errorf("%w: mock: empty task id", ErrRejected)
	}
	return NormalizedStatus{State: domain.JobStatusSucceeded, ResultURL: m.SampleURL}, nil
}
