/**
 * @description
 * This package contains the generation-provider adapters. Each adapter
 * translates the broker's generic generation request into one provider's
 * concrete job-creation call and maps that provider's status vocabulary back
 * into the normalized three-state status. Adapters are pure translators: they
 * perform network calls only and never touch the ledger or job state.
 *
 * @dependencies
 * - net/http: Outbound provider calls, one shared timeout per adapter.
 * - internal/domain: The normalized status vocabulary and request DTO.
 */

package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/arcforge/generation-service/internal/domain"
)

// Sentinel errors distinguishing the two adapter failure classes. Both trigger
// a refund in the broker; they map to different upstream diagnostics.
var (
	// ErrRejected indicates the provider refused the request (4xx: bad
	// parameters, auth failure, insufficient provider-side credit).
	ErrRejected = errors.New("provider rejected request")

	// ErrUnreachable indicates a transport failure, timeout, or an upstream
	// outage; the request may never have reached the provider.
	ErrUnreachable = errors.New("provider unreachable")
)

// NormalizedStatus is the provider-agnostic view of a job's progress.
// ResultURL is set only on succeeded, Error only on failed.
type NormalizedStatus struct {
	State     domain.JobStatus
	ResultURL string
	Error     string
}

// Handle is the result of a successful create call. Some providers complete
// synchronously; such adapters return Inline=true with a terminal Status so
// the broker can skip polling entirely.
type Handle struct {
	TaskID string
	Inline bool
	Status NormalizedStatus
}

// Adapter is the common capability set implemented once per provider.
type Adapter interface {
	// Name returns the registry key for this provider.
	Name() string

	// Price computes the coin cost of a request. It is a pure function of the
	// requested model/duration/quality and must be called before any debit.
	Price(req domain.GenerationRequest) int64

	// Create issues the provider's job-creation call.
	Create(ctx context.Context, req domain.GenerationRequest) (Handle, error)

	// Poll fetches and normalizes the provider's view of a task. Unrecognized
	// raw status values map to processing: never claim success or failure
	// without explicit provider confirmation.
	Poll(ctx context.Context, taskID string) (NormalizedStatus, error)
}

// AssetFetcher is an optional second operation for providers that expose a
// higher-quality asset through a follow-up call once a task has succeeded.
// The broker invokes it best-effort on the first processing->succeeded
// transition only.
type AssetFetcher interface {
	FetchAsset(ctx context.Context, taskID string) (string, error)
}

// Registry holds the configured adapters keyed by provider name.
type Registry struct {
	adapters        map[string]Adapter
	defaultProvider string
}

// NewRegistry builds a registry from the given adapters. defaultProvider is
// used when a request does not name one.
func NewRegistry(defaultProvider string, adapters ...Adapter) *Registry {
	m := make(map[string]Adapter, len(adapters))
	for _, a := range adapters {
		m[a.Name()] = a
	}
	return &Registry{adapters: m, defaultProvider: defaultProvider}
}

// Resolve returns the adapter for name, falling back to the default when name
// is empty. Unknown names are an error so typos fail before any debit.
func (r *Registry) Resolve(name string) (Adapter, error) {
	if name == "" {
		name = r.defaultProvider
	}
	a, ok := r.adapters[name]
	if !ok {
		return nil, fmt.Errorf("unknown provider %q", name)
	}
	return a, nil
}

// Names lists the registered provider names (for diagnostics).
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.adapters))
	for n := range r.adapters {
		names = append(names, n)
	}
	return names
}
