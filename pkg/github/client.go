// Package github provides the GitHub REST client used by the reconciliation
// engine: authenticated requests with rate limit gating, the error taxonomy,
// list-page fetching and the follow/unfollow mutations.
package github

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Sternrassler/follow-reconciler/pkg/ratelimit"
)

// Prometheus metrics for GitHub client operations.
var (
	githubRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "github_requests_total",
		Help: "Total GitHub requests by operation and status",
	}, []string{"operation", "status"})

	githubRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "github_request_duration_seconds",
		Help:    "GitHub request duration in seconds by operation",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20},
	}, []string{"operation"})

	githubErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "github_errors_total",
		Help: "Total GitHub errors by kind",
	}, []string{"kind"})
)

const (
	// DefaultBaseURL is the public GitHub REST API.
	DefaultBaseURL = "https://api.github.com"

	// DefaultAPIVersion is sent as X-GitHub-Api-Version.
	DefaultAPIVersion = "2022-11-28"

	headerRateLimitRemaining = ratelimit.HeaderRemaining
	maxErrorBodyBytes        = 64 << 10
)

// Client is the GitHub REST client.
type Client struct {
	httpClient  *http.Client
	baseURL     *url.URL
	rateLimiter *ratelimit.Tracker
	config      Config
	logger      zerolog.Logger
}

// Config holds the client configuration.
type Config struct {
	// BaseURL of the REST API (overridable for GitHub Enterprise and tests).
	BaseURL string

	// User-Agent header (REQUIRED by GitHub)
	// Format: "AppName/Version (contact)"
	UserAgent string

	// APIVersion is sent as X-GitHub-Api-Version.
	APIVersion string

	// Timeout bounds every request, including reading the body.
	Timeout time.Duration

	// RateLimiter gates requests per token. Optional; a memory-backed tracker is used when nil.
	RateLimiter *ratelimit.Tracker
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(userAgent string) Config {
	return Config{
		BaseURL:    DefaultBaseURL,
		UserAgent:  userAgent,
		APIVersion: DefaultAPIVersion,
		Timeout:    20 * time.Second,
	}
}

// New creates a new GitHub client.
func New(cfg Config) (*Client, error) {
	if cfg.UserAgent == "" {
		return nil, ErrMissingUserAgent
	}

	if cfg.Timeout <= 0 {
		return nil, fmt.Errorf("timeout must be > 0 (got %s)", cfg.Timeout)
	}

	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	baseURL, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || baseURL.Scheme == "" || baseURL.Host == "" {
		return nil, fmt.Errorf("invalid base url %q", cfg.BaseURL)
	}

	if cfg.APIVersion == "" {
		cfg.APIVersion = DefaultAPIVersion
	}

	logger := log.With().Str("component", "github-client").Logger()

	rateLimiter := cfg.RateLimiter
	if rateLimiter == nil {
		rateLimiter = ratelimit.NewTracker(nil, logger)
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		baseURL:     baseURL,
		rateLimiter: rateLimiter,
		config:      cfg,
		logger:      logger,
	}, nil
}

// FollowingEndpoint is the list of accounts username follows.
func FollowingEndpoint(username string) string {
	return "/users/" + url.PathEscape(username) + "/following"
}

// FollowersEndpoint is the list of accounts following username.
func FollowersEndpoint(username string) string {
	return "/users/" + url.PathEscape(username) + "/followers"
}

// do executes one authenticated request. A 2xx response is returned with its
// body open. Any other outcome is returned as a *APIError (body already closed).
func (c *Client) do(ctx context.Context, op Operation, method, path string, query url.Values, token string) (*http.Response, error) {
	if token == "" {
		return nil, ErrMissingCredentials
	}

	startTime := time.Now()
	defer func() {
		githubRequestDuration.WithLabelValues(string(op)).Observe(time.Since(startTime).Seconds())
	}()

	allowed, err := c.rateLimiter.ShouldAllowRequest(ctx, token)
	if err != nil {
		c.logger.Warn().Err(err).Msg("Rate limit check failed")
		return nil, c.fail(&APIError{Kind: KindTransport, Operation: op, Err: err})
	}
	if !allowed {
		githubRequestsTotal.WithLabelValues(string(op), "rate_limited").Inc()
		return nil, c.fail(&APIError{Kind: KindRateLimited, Operation: op, Status: "blocked locally"})
	}

	endpoint := c.baseURL.JoinPath(path)
	if query != nil {
		endpoint.RawQuery = query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", c.config.APIVersion)
	req.Header.Set("User-Agent", c.config.UserAgent)

	c.logger.Debug().
		Str("operation", string(op)).
		Str("method", method).
		Str("path", path).
		Msg("Executing GitHub request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		githubRequestsTotal.WithLabelValues(string(op), "transport_error").Inc()
		c.logger.Error().Err(err).Str("operation", string(op)).Str("path", path).Msg("HTTP request failed")
		return nil, c.fail(&APIError{Kind: ClassifyTransport(err), Operation: op, Err: err})
	}

	if err := c.rateLimiter.UpdateFromHeaders(ctx, token, resp.Header); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to update rate limit from headers")
	}

	githubRequestsTotal.WithLabelValues(string(op), strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}

	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))

	apiErr := &APIError{
		Kind:       Classify(resp.StatusCode, resp.Header, body),
		Operation:  op,
		StatusCode: resp.StatusCode,
		Status:     statusText(resp),
		Detail:     errorDetail(body),
	}

	c.logger.Warn().
		Str("operation", string(op)).
		Str("path", path).
		Int("status", resp.StatusCode).
		Str("error_kind", string(apiErr.Kind)).
		Msg("GitHub request error")

	return nil, c.fail(apiErr)
}

func (c *Client) fail(apiErr *APIError) *APIError {
	githubErrorsTotal.WithLabelValues(string(apiErr.Kind)).Inc()
	return apiErr
}

// errorDetail extracts the "message" of a GitHub error payload. Decoding
// failures are swallowed: the status code is authoritative.
func errorDetail(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	var payload struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	return payload.Message
}

// asAPIError returns err as *APIError if it is one.
func asAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

// RateLimiter returns the tracker used by the client.
func (c *Client) RateLimiter() *ratelimit.Tracker {
	return c.rateLimiter
}
