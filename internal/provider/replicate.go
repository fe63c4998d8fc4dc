/**
 * @description
 * Replicate provider adapter. Jobs are created through the predictions API
 * and polled by prediction id. Replicate's status vocabulary
 * (starting/processing/succeeded/failed/canceled) is normalized to the
 * three-state model; prediction output may be a single URL or a list, in
 * which case the first entry wins.
 */

package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/arcforge/generation-service/internal/domain"
)

// Model-name-bucketed pricing in coins. Unknown models fall back to the
// default tier rather than failing: pricing must stay total and deterministic.
var replicatePrices = map[string]int64{
	"wan-video/wan-2.2-t2v-fast":     10,
	"minimax/video-01":               50,
	"luma/ray":                       60,
	"black-forest-labs/flux-schnell": 5,
}

const replicateDefaultPrice = 30

// ReplicateAdapter talks to the Replicate predictions API.
type ReplicateAdapter struct {
	baseURL  string
	apiToken string
	client   httpDoer
}

// NewReplicateAdapter builds an adapter against the given API base URL.
func NewReplicateAdapter(baseURL, apiToken string, timeout time.Duration) *ReplicateAdapter {
	return &ReplicateAdapter{
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		apiToken: apiToken,
		client:   newHTTPClient(timeout),
	}
}

func (a *ReplicateAdapter) Name() string { return domain.ProviderReplicate }

// Price buckets by model name.
func (a *ReplicateAdapter) Price(req domain.GenerationRequest) int64 {
	if price, ok := replicatePrices[req.Model]; ok {
		return price
	}
	return replicateDefaultPrice
}

type replicateCreateRequest struct {
	Version string                 `json:"version,omitempty"`
	Input   map[string]interface{} `json:"input"`
}

type replicatePrediction struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Output json.RawMessage `json:"output"`
	Error  *string         `json:"error"`
}

// Create issues a prediction. Replicate occasionally answers with an already
// terminal prediction (cached output); that is surfaced as an inline result.
func (a *ReplicateAdapter) Create(ctx context.Context, req domain.GenerationRequest) (Handle, error) {
	input := map[string]interface{}{"prompt": req.Prompt}
	if req.AspectRatio != "" {
		input["aspect_ratio"] = req.AspectRatio
	}
	if req.DurationSeconds > 0 {
		input["duration"] = req.DurationSeconds
	}
	if len(req.ImageURLs) > 0 {
		input["image"] = req.ImageURLs[0]
	}

	payload := replicateCreateRequest{Version: req.Model, Input: input}

	var pred replicatePrediction
	err := doJSON(ctx, a.client, a.Name(), "POST", a.baseURL+"/v1/predictions", a.headers(), payload, &pred)
	if err != nil {
		return Handle{}, err
	}
	if pred.ID == "" {
		return Handle{}, fmt.Errorf("%w: replicate: prediction id missing from response", ErrRejected)
	}

	status := a.normalize(pred)
	return Handle{TaskID: pred.ID, Inline: status.State.IsTerminal(), Status: status}, nil
}

// Poll fetches the prediction and normalizes its status.
func (a *ReplicateAdapter) Poll(ctx context.Context, taskID string) (NormalizedStatus, error) {
	var pred replicatePrediction
	err := doJSON(ctx, a.client, a.Name(), "GET", a.baseURL+"/v1/predictions/"+taskID, a.headers(), nil, &pred)
	if err != nil {
		return NormalizedStatus{}, err
	}
	return a.normalize(pred), nil
}

func (a *ReplicateAdapter) headers() map[string]string {
	return map[string]string{"Authorization": "Bearer " + a.apiToken}
}

// normalize maps Replicate's vocabulary onto the three-state model. Unknown
// values map to processing.
func (a *ReplicateAdapter) normalize(pred replicatePrediction) NormalizedStatus {
	switch pred.Status {
	case "succeeded":
		return NormalizedStatus{State: domain.JobStatusSucceeded, ResultURL: firstOutputURL(pred.Output)}
	case "failed", "canceled":
		msg := "generation failed"
		if pred.Error != nil && *pred.Error != "" {
			msg = *pred.Error
		}
		return NormalizedStatus{State: domain.JobStatusFailed, Error: msg}
	default:
		// starting, processing, or anything Replicate adds later.
		return NormalizedStatus{State: domain.JobStatusProcessing}
	}
}

// firstOutputURL handles the two output shapes predictions use: a bare URL
// string or an array of URLs.
func firstOutputURL(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		return single
	}
	var many []string
	if err := json.Unmarshal(raw, &many); err == nil && len(many) > 0 {
		return many[0]
	}
	return ""
}
