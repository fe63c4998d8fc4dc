/**
 * @description
 * Kling AI provider adapter. Kling authenticates each request with a
 * short-lived HS256 JWT minted from an access-key/secret-key pair, wraps
 * responses in a {code, message, data} envelope, and reports task progress
 * through task_status (submitted/processing/succeed/failed). Pricing buckets
 * by clip length and generation mode (std/pro).
 *
 * @dependencies
 * - github.com/golang-jwt/jwt/v5: Provider-side request token minting.
 */

package provider

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/arcforge/generation-service/internal/domain"
	"github.com/golang-jwt/jwt/v5"
)

// KlingAdapter talks to the Kling AI video generation API.
type KlingAdapter struct {
	baseURL   string
	accessKey string
	secretKey string
	client    httpDoer
	now       func() time.Time
}

// NewKlingAdapter builds an adapter against the given API base URL.
func NewKlingAdapter(baseURL, accessKey, secretKey string, timeout time.Duration) *KlingAdapter {
	return &KlingAdapter{
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		accessKey: accessKey,
		secretKey: secretKey,
		client:    newHTTPClient(timeout),
		now:       time.Now,
	}
}

func (a *KlingAdapter) Name() string { return domain.ProviderKling }

// Price buckets by duration and mode. Pro mode costs 3.5x std, and a 10s clip
// costs double a 5s one.
func (a *KlingAdapter) Price(req domain.GenerationRequest) int64 {
	var base int64 = 20
	if req.DurationSeconds > 5 {
		base = 40
	}
	if strings.EqualFold(req.Quality, "pro") {
		return base * 7 / 2
	}
	return base
}

type klingCreateRequest struct {
	ModelName   string `json:"model_name"`
	Prompt      string `json:"prompt"`
	Duration    string `json:"duration,omitempty"`
	Mode        string `json:"mode,omitempty"`
	AspectRatio string `json:"aspect_ratio,omitempty"`
	Image       string `json:"image,omitempty"`
}

type klingEnvelope struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    struct {
		TaskID        string `json:"task_id"`
		TaskStatus    string `json:"task_status"`
		TaskStatusMsg string `json:"task_status_msg"`
		TaskResult    struct {
			Videos []struct {
				URL string `json:"url"`
			} `json:"videos"`
		} `json:"task_result"`
	} `json:"data"`
}

// Create submits a text-to-video task.
func (a *KlingAdapter) Create(ctx context.Context, req domain.GenerationRequest) (Handle, error) {
	model := req.Model
	if model == "" {
		model = "kling-v1-6"
	}
	mode := "std"
	if strings.EqualFold(req.Quality, "pro") {
		mode = "pro"
	}
	payload := klingCreateRequest{
		ModelName:   model,
		Prompt:      req.Prompt,
		Mode:        mode,
		AspectRatio: req.AspectRatio,
	}
	if req.DurationSeconds > 0 {
		// Kling accepts only 5s and 10s clips.
		if req.DurationSeconds > 5 {
			payload.Duration = "10"
		} else {
			payload.Duration = "5"
		}
	}
	if len(req.ImageURLs) > 0 {
		payload.Image = req.ImageURLs[0]
	}

	headers, err := a.headers()
	if err != nil {
		return Handle{}, err
	}

	var env klingEnvelope
	err = doJSON(ctx, a.client, a.Name(), "POST", a.baseURL+"/v1/videos/text2video", headers, payload, &env)
	if err != nil {
		return Handle{}, err
	}
	if env.Code != 0 {
		return Handle{}, fmt.Errorf("%w: kling: %s (code %d)", ErrRejected, env.Message, env.Code)
	}
	if env.Data.TaskID == "" {
		return Handle{}, fmt.Errorf("%w: kling: task id missing from response", ErrRejected)
	}

	return Handle{
		TaskID: env.Data.TaskID,
		Status: a.normalize(env),
	}, nil
}

// Poll fetches the task and normalizes its status.
func (a *KlingAdapter) Poll(ctx context.Context, taskID string) (NormalizedStatus, error) {
	headers, err := a.headers()
	if err != nil {
		return NormalizedStatus{}, err
	}

	var env klingEnvelope
	err = doJSON(ctx, a.client, a.Name(), "GET", a.baseURL+"/v1/videos/text2video/"+taskID, headers, nil, &env)
	if err != nil {
		return NormalizedStatus{}, err
	}
	if env.Code != 0 {
		return NormalizedStatus{}, fmt.Errorf("%w: kling: %s (code %d)", ErrUnreachable, env.Message, env.Code)
	}
	return a.normalize(env), nil
}

// normalize maps Kling's task_status vocabulary onto the three-state model.
// Unknown values map to processing.
func (a *KlingAdapter) normalize(env klingEnvelope) NormalizedStatus {
	switch env.Data.TaskStatus {
	case "succeed":
		result := ""
		if videos := env.Data.TaskResult.Videos; len(videos) > 0 {
			result = videos[0].URL
		}
		return NormalizedStatus{State: domain.JobStatusSucceeded, ResultURL: result}
	case "failed":
		msg := env.Data.TaskStatusMsg
		if msg == "" {
			msg = "generation failed"
		}
		return NormalizedStatus{State: domain.JobStatusFailed, Error: msg}
	default:
		// submitted, processing, or anything added later.
		return NormalizedStatus{State: domain.JobStatusProcessing}
	}
}

// headers mints the per-request API token. Kling requires iss=access key and
// a short expiry window.
func (a *KlingAdapter) headers() (map[string]string, error) {
	now := a.now()
	claims := jwt.MapClaims{
		"iss": a.accessKey,
		"exp": now.Add(30 * time.Minute).Unix(),
		"nbf": now.Add(-5 * time.Second).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(a.secretKey))
	if err != nil {
		return nil, fmt.Errorf("failed to sign kling api token: %w", err)
	}
	return map[string]string{"Authorization": "Bearer " + signed}, nil
}
