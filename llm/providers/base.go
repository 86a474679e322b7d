// Package providers holds the shared HTTP plumbing for LLM providers.
package providers

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/utlibraries/mediacat/core"
)

// APIError is a non-2xx provider response. It wraps the transient
// sentinel for retryable statuses and surfaces Retry-After hints.
type APIError struct {
	Provider   string
	StatusCode int
	Body       string
	Hint       time.Duration
}

func (e *APIError) Error() string {
	switch e.StatusCode {
	case http.StatusUnauthorized:
		return fmt.Sprintf("%s API error: invalid or missing API key", e.Provider)
	case http.StatusTooManyRequests:
		return fmt.Sprintf("%s API error: rate limit exceeded", e.Provider)
	case http.StatusBadRequest:
		return fmt.Sprintf("%s API error: invalid request - %s", e.Provider, e.Body)
	default:
		return fmt.Sprintf("%s API error (status %d): %s", e.Provider, e.StatusCode, e.Body)
	}
}

// Unwrap classifies the error for the shared retry policy
func (e *APIError) Unwrap() error {
	switch {
	case e.StatusCode == http.StatusTooManyRequests:
		return core.ErrTransientRemote
	case e.StatusCode >= 500:
		return core.ErrTransientRemote
	case e.StatusCode == http.StatusUnauthorized:
		return core.ErrAuthentication
	}
	return nil
}

// RetryAfter returns the provider-supplied wait, if any
func (e *APIError) RetryAfter() time.Duration {
	return e.Hint
}

// BaseClient provides common functionality for all LLM providers
type BaseClient struct {
	// HTTP client with timeout
	HTTPClient *http.Client

	// Logger for debugging
	Logger core.Logger

	// Default configuration
	DefaultModel     string
	DefaultMaxTokens int
}

// NewBaseClient creates a new base client with defaults
func NewBaseClient(timeout time.Duration, logger core.Logger) *BaseClient {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &BaseClient{
		HTTPClient: &http.Client{
			Timeout: timeout,
		},
		Logger:           logger,
		DefaultMaxTokens: 4096,
	}
}

// Do executes a single HTTP request built by the factory. Transport
// failures are classified transient; retries belong to the caller's
// retry policy, not this layer.
func (b *BaseClient) Do(ctx context.Context, build func() (*http.Request, error)) (*http.Response, error) {
	req, err := build()
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := b.HTTPClient.Do(req.WithContext(ctx))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("request failed: %v: %w", err, core.ErrTransientRemote)
	}
	return resp, nil
}

// HandleError converts a non-2xx response into an APIError, honoring
// a Retry-After header when present.
func (b *BaseClient) HandleError(provider string, resp *http.Response, body []byte) error {
	apiErr := &APIError{
		Provider:   provider,
		StatusCode: resp.StatusCode,
		Body:       string(body),
	}
	if ra := resp.Header.Get("Retry-After"); ra != "" {
		if secs, err := strconv.Atoi(ra); err == nil && secs > 0 {
			apiErr.Hint = time.Duration(secs) * time.Second
		}
	}

	b.Logger.Error("Provider API error", map[string]interface{}{
		"operation":   "llm_api_error",
		"provider":    provider,
		"status_code": resp.StatusCode,
		"retry_after": apiErr.Hint.Seconds(),
	})
	return apiErr
}

// LogRequest logs outgoing API requests
func (b *BaseClient) LogRequest(provider, model string, promptLen, imageCount int) {
	b.Logger.Info("LLM request initiated", map[string]interface{}{
		"operation":     "llm_request",
		"provider":      provider,
		"model":         model,
		"prompt_length": promptLen,
		"image_count":   imageCount,
	})
}

// LogResponse logs API responses with token usage
func (b *BaseClient) LogResponse(provider, model string, usage core.TokenUsage, duration time.Duration) {
	b.Logger.Info("LLM response received", map[string]interface{}{
		"operation":         "llm_response",
		"provider":          provider,
		"model":             model,
		"prompt_tokens":     usage.PromptTokens,
		"completion_tokens": usage.CompletionTokens,
		"total_tokens":      usage.TotalTokens,
		"duration_ms":       duration.Milliseconds(),
		"status":            "success",
	})
}
