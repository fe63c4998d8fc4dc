/**
 * @description
 * Shared HTTP plumbing for the provider adapters: a thin JSON request helper
 * that classifies transport failures and provider error responses into the
 * package's two sentinel error classes.
 */

package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

// httpDoer is satisfied by *http.Client; adapters keep it as an interface so
// tests can inject fakes without a live endpoint.
type httpDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// newHTTPClient returns the default client used by adapters. Provider job
// creation can be slow, so the timeout is generous; a timeout surfaces as
// ErrUnreachable.
func newHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout}
}

// doJSON executes an HTTP request with a JSON body (nil for none), decodes a
// 2xx response into out (when out is non-nil), and classifies failures:
// transport errors become ErrUnreachable, 4xx responses become ErrRejected
// carrying the provider's message, and other non-2xx statuses become
// ErrUnreachable. An unparsable 2xx body is an error too, so the caller can
// treat the ambiguous outcome as a failure rather than risk a silent loss.
func doJSON(ctx context.Context, client httpDoer, providerName, method, url string, headers map[string]string, payload, out interface{}) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal %s request: %w", providerName, err)
		}
		body = bytes.NewBuffer(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return fmt.Errorf("failed to create %s request: %w", providerName, err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrUnreachable, providerName, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: %s: reading response: %v", ErrUnreachable, providerName, err)
	}

	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		msg := extractErrorMessage(raw)
		log.Printf("level=warn component=provider_client provider=%s status=%d msg=%q", providerName, resp.StatusCode, msg)
		return fmt.Errorf("%w: %s: %s (status %d)", ErrRejected, providerName, msg, resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Printf("level=warn component=provider_client provider=%s status=%d msg=\"upstream error response\"", providerName, resp.StatusCode)
		return fmt.Errorf("%w: %s: upstream status %d", ErrUnreachable, providerName, resp.StatusCode)
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("failed to decode %s response: %w", providerName, err)
		}
	}
	return nil
}

// extractErrorMessage pulls a human-readable message out of the common error
// body shapes the providers use ({"error": "..."}, {"detail": "..."},
// {"message": "..."}, or OpenAI's {"error": {"message": "..."}}).
func extractErrorMessage(raw []byte) string {
	var nested struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &nested); err == nil && nested.Error.Message != "" {
		return nested.Error.Message
	}

	var flat map[string]interface{}
	if err := json.Unmarshal(raw, &flat); err == nil {
		for _, key := range []string{"error", "detail", "message", "msg"} {
			if v, ok := flat[key].(string); ok && v != "" {
				return v
			}
		}
	}

	if len(raw) > 0 && len(raw) <= 200 {
		return string(raw)
	}
	return "request rejected"
}
