// Package catalog talks to the external bibliographic services: the
// WorldCat discovery API for search and holdings, and the Alma bibs
// API for institutional verification.
package catalog

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/utlibraries/mediacat/core"
	"github.com/utlibraries/mediacat/resilience"
)

// apiError is a non-2xx response from a catalog service. It wraps the
// transient sentinel for retryable statuses so the shared retry policy
// can classify it, and surfaces Retry-After hints.
type apiError struct {
	Service    string
	StatusCode int
	Body       string
	Hint       time.Duration
}

func (e *apiError) Error() string {
	switch e.StatusCode {
	case http.StatusUnauthorized:
		return fmt.Sprintf("%s API error: authentication rejected", e.Service)
	case http.StatusTooManyRequests:
		return fmt.Sprintf("%s API error: rate limit exceeded", e.Service)
	default:
		return fmt.Sprintf("%s API error (status %d): %s", e.Service, e.StatusCode, e.Body)
	}
}

func (e *apiError) Unwrap() error {
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

func (e *apiError) RetryAfter() time.Duration {
	return e.Hint
}

// httpClient is the shared plumbing for the catalog services: one
// rate limiter, one retry policy, one logger. Each call acquires a
// limiter token before the request and retries transient failures.
type httpClient struct {
	service string
	client  *http.Client
	limiter *resilience.ServiceLimiter
	retry   *resilience.RetryConfig
	breaker *resilience.CircuitBreaker
	logger  core.Logger
}

func newHTTPClient(service string, timeout time.Duration, limiter *resilience.ServiceLimiter,
	retry *resilience.RetryConfig, logger core.Logger) *httpClient {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if retry == nil {
		retry = resilience.DefaultRetryConfig()
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &httpClient{
		service: service,
		client:  &http.Client{Timeout: timeout},
		limiter: limiter,
		retry:   retry,
		breaker: resilience.NewCircuitBreaker(service, 5, 30*time.Second, logger),
		logger:  logger,
	}
}

// get executes a rate-limited, retried GET built by the factory and
// returns the response body. The factory runs once per attempt so each
// retry carries fresh headers (auth tokens may rotate between tries).
// A run of consecutive failures opens the service's circuit breaker.
func (h *httpClient) get(ctx context.Context, build func() (*http.Request, error)) ([]byte, error) {
	var body []byte
	err := resilience.RetryWithCircuitBreaker(ctx, h.retry, h.breaker, func() error {
		if h.limiter != nil {
			if err := h.limiter.Acquire(ctx); err != nil {
				return err
			}
		}

		req, err := build()
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}

		start := time.Now()
		resp, err := h.client.Do(req.WithContext(ctx))
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%s request failed: %v: %w", h.service, err, core.ErrTransientRemote)
		}
		defer func() { _ = resp.Body.Close() }()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("%s response read failed: %v: %w", h.service, err, core.ErrTransientRemote)
		}

		if resp.StatusCode != http.StatusOK {
			apiErr := &apiError{Service: h.service, StatusCode: resp.StatusCode, Body: string(data)}
			if ra := resp.Header.Get("Retry-After"); ra != "" {
				if secs, convErr := strconv.Atoi(ra); convErr == nil && secs > 0 {
					apiErr.Hint = time.Duration(secs) * time.Second
				}
			}
			h.logger.Warn("Catalog API error", map[string]interface{}{
				"operation":   "catalog_api_error",
				"service":     h.service,
				"status_code": resp.StatusCode,
				"duration_ms": time.Since(start).Milliseconds(),
			})
			return apiErr
		}

		body = data
		return nil
	})
	return body, err
}
