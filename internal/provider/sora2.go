/**
 * @description
 * OpenAI Sora 2 provider adapter, built on the /v1/videos API. Video jobs are
 * created with a model + prompt + clip length, then polled by video id. The
 * finished asset is served from the API's own content endpoint, so the result
 * URL is derived from the video id rather than returned in the status payload.
 */

package provider

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/arcforge/generation-service/internal/domain"
)

const sora2DefaultModel = "sora-2"

// Sora2Adapter talks to the OpenAI video generation API.
type Sora2Adapter struct {
	baseURL string
	apiKey  string
	client  httpDoer
}

// NewSora2Adapter builds an adapter against the given API base URL.
func NewSora2Adapter(baseURL, apiKey string, timeout time.Duration) *Sora2Adapter {
	return &Sora2Adapter{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		client:  newHTTPClient(timeout),
	}
}

func (a *Sora2Adapter) Name() string { return domain.ProviderSora2 }

// Price buckets by requested clip length. A request without a duration prices
// as the shortest tier.
func (a *Sora2Adapter) Price(req domain.GenerationRequest) int64 {
	switch {
	case req.DurationSeconds <= 4:
		return 40
	case req.DurationSeconds <= 8:
		return 80
	default:
		return 120
	}
}

type sora2CreateRequest struct {
	Model   string `json:"model"`
	Prompt  string `json:"prompt"`
	Seconds string `json:"seconds,omitempty"`
	Size    string `json:"size,omitempty"`
}

type sora2Video struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Error  *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Create submits a video job.
func (a *Sora2Adapter) Create(ctx context.Context, req domain.GenerationRequest) (Handle, error) {
	model := req.Model
	if model == "" {
		model = sora2DefaultModel
	}
	payload := sora2CreateRequest{Model: model, Prompt: req.Prompt}
	if req.DurationSeconds > 0 {
		payload.Seconds = strconv.Itoa(req.DurationSeconds)
	}
	if req.AspectRatio == "9:16" {
		payload.Size = "720x1280"
	} else if req.AspectRatio == "16:9" {
		payload.Size = "1280x720"
	}

	var video sora2Video
	err := doJSON(ctx, a.client, a.Name(), "POST", a.baseURL+"/v1/videos", a.headers(), payload, &video)
	if err != nil {
		return Handle{}, err
	}
	if video.ID == "" {
		return Handle{}, fmt.Errorf("%w: sora2: video id missing from response", ErrRejected)
	}

	status := a.normalize(video)
	return Handle{TaskID: video.ID, Inline: status.State.IsTerminal(), Status: status}, nil
}

// Poll fetches the video job and normalizes its status.
func (a *Sora2Adapter) Poll(ctx context.Context, taskID string) (NormalizedStatus, error) {
	var video sora2Video
	err := doJSON(ctx, a.client, a.Name(), "GET", a.baseURL+"/v1/videos/"+taskID, a.headers(), nil, &video)
	if err != nil {
		return NormalizedStatus{}, err
	}
	return a.normalize(video), nil
}

func (a *Sora2Adapter) headers() map[string]string {
	return map[string]string{"Authorization": "Bearer " + a.apiKey}
}

// normalize maps the queued/in_progress/completed/failed vocabulary onto the
// three-state model. Unknown values map to processing.
func (a *Sora2Adapter) normalize(video sora2Video) NormalizedStatus {
	switch video.Status {
	case "completed":
		return NormalizedStatus{
			State:     domain.JobStatusSucceeded,
			ResultURL: a.baseURL + "/v1/videos/" + video.ID + "/content",
		}
	case "failed":
		msg := "generation failed"
		if video.Error != nil && video.Error.Message != "" {
			msg = video.Error.Message
		}
		return NormalizedStatus{State: domain.JobStatusFailed, Error: msg}
	default:
		// queued, in_progress, or anything added later.
		return NormalizedStatus{State: domain.JobStatusProcessing}
	}
}
