/**
 * @description
 * Veo3 provider adapter. The upstream API wraps everything in a
 * {code, msg, data} envelope and reports task progress through a numeric
 * successFlag (0 generating, 1 success, 2/3 failure). Veo3 also exposes a
 * follow-up endpoint that serves a 1080p variant of a finished video; the
 * adapter surfaces that as the optional asset-fetch operation, which the
 * broker calls once when a job first succeeds.
 */

package provider

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/arcforge/generation-service/internal/domain"
)

// Model-bucketed pricing. The HQ model is an order of magnitude more
// expensive than the fast one, mirroring upstream unit pricing.
var veo3Prices = map[string]int64{
	"veo3-fast": 25,
	"veo3":      180,
}

const veo3DefaultModel = "veo3-fast"

// Veo3Adapter talks to the Veo3 generation API.
type Veo3Adapter struct {
	baseURL string
	apiKey  string
	client  httpDoer
}

// NewVeo3Adapter builds an adapter against the given API base URL.
func NewVeo3Adapter(baseURL, apiKey string, timeout time.Duration) *Veo3Adapter {
	return &Veo3Adapter{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		client:  newHTTPClient(timeout),
	}
}

func (a *Veo3Adapter) Name() string { return domain.ProviderVeo3 }

// Price buckets by model name; an unset or unknown model prices as the fast
// tier. Duration is not a factor: the model determines clip length.
func (a *Veo3Adapter) Price(req domain.GenerationRequest) int64 {
	model := req.Model
	if model == "" {
		model = veo3DefaultModel
	}
	if price, ok := veo3Prices[model]; ok {
		return price
	}
	return veo3Prices[veo3DefaultModel]
}

type veo3Envelope struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data struct {
		TaskID       string `json:"taskId"`
		SuccessFlag  int    `json:"successFlag"`
		ErrorMessage string `json:"errorMessage"`
		ResultURL    string `json:"resultUrl"`
		Response     struct {
			ResultURLs []string `json:"resultUrls"`
		} `json:"response"`
	} `json:"data"`
}

type veo3CreateRequest struct {
	Prompt      string   `json:"prompt"`
	Model       string   `json:"model"`
	AspectRatio string   `json:"aspectRatio,omitempty"`
	ImageURLs   []string `json:"imageUrls,omitempty"`
}

// Create submits a generation task and returns its task id.
func (a *Veo3Adapter) Create(ctx context.Context, req domain.GenerationRequest) (Handle, error) {
	model := req.Model
	if model == "" {
		model = veo3DefaultModel
	}
	payload := veo3CreateRequest{
		Prompt:      req.Prompt,
		Model:       model,
		AspectRatio: req.AspectRatio,
		ImageURLs:   req.ImageURLs,
	}

	var env veo3Envelope
	err := doJSON(ctx, a.client, a.Name(), "POST", a.baseURL+"/api/v1/veo/generate", a.headers(), payload, &env)
	if err != nil {
		return Handle{}, err
	}
	// The API reports application-level rejection inside a 200 envelope.
	if env.Code != 200 {
		return Handle{}, fmt.Errorf("%w: veo3: %s (code %d)", ErrRejected, env.Msg, env.Code)
	}
	if env.Data.TaskID == "" {
		return Handle{}, fmt.Errorf("%w: veo3: task id missing from response", ErrRejected)
	}

	return Handle{
		TaskID: env.Data.TaskID,
		Status: NormalizedStatus{State: domain.JobStatusProcessing},
	}, nil
}

// Poll fetches the task record and normalizes its successFlag.
func (a *Veo3Adapter) Poll(ctx context.Context, taskID string) (NormalizedStatus, error) {
	endpoint := a.baseURL + "/api/v1/veo/record-info?taskId=" + url.QueryEscape(taskID)

	var env veo3Envelope
	err := doJSON(ctx, a.client, a.Name(), "GET", endpoint, a.headers(), nil, &env)
	if err != nil {
		return NormalizedStatus{}, err
	}
	if env.Code != 200 {
		return NormalizedStatus{}, fmt.Errorf("%w: veo3: %s (code %d)", ErrUnreachable, env.Msg, env.Code)
	}

	switch env.Data.SuccessFlag {
	case 1:
		result := ""
		if urls := env.Data.Response.ResultURLs; len(urls) > 0 {
			result = urls[0]
		}
		return NormalizedStatus{State: domain.JobStatusSucceeded, ResultURL: result}, nil
	case 2, 3:
		msg := env.Data.ErrorMessage
		if msg == "" {
			msg = "generation failed"
		}
		return NormalizedStatus{State: domain.JobStatusFailed, Error: msg}, nil
	default:
		// 0 is generating; any flag added later is treated as still pending.
		return NormalizedStatus{State: domain.JobStatusProcessing}, nil
	}
}

// FetchAsset retrieves the 1080p variant of a finished video. Errors are left
// to the caller, which keeps the standard-quality URL on failure.
func (a *Veo3Adapter) FetchAsset(ctx context.Context, taskID string) (string, error) {
	endpoint := a.baseURL + "/api/v1/veo/get-1080p-video?taskId=" + url.QueryEscape(taskID)

	var env veo3Envelope
	err := doJSON(ctx, a.client, a.Name(), "GET", endpoint, a.headers(), nil, &env)
	if err != nil {
		return "", err
	}
	if env.Code != 200 || env.Data.ResultURL == "" {
		return "", fmt.Errorf("veo3: 1080p asset unavailable (code %d)", env.Code)
	}
	return env.Data.ResultURL, nil
}

func (a *Veo3Adapter) headers() map[string]string {
	return map[string]string{"Authorization": "Bearer " + a.apiKey}
}
