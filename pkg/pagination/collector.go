package pagination

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Sternrassler/follow-reconciler/pkg/github"
)

var (
	pagesFetchedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pagination_pages_fetched_total",
		Help: "Total number of list pages fetched",
	})

	truncationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pagination_truncations_total",
		Help: "Total number of collections stopped by the page ceiling",
	})
)

// Config holds collector configuration.
type Config struct {
	// PageSize is the per_page value; a page with fewer elements is the last one.
	PageSize int
	// MaxPages is the hard page-count ceiling.
	MaxPages int
	// Timeout per page fetch.
	Timeout time.Duration
}

// DefaultConfig returns the GitHub defaults: 100 per page, 50 pages (5,000 elements), 20s.
func DefaultConfig() Config {
	return Config{
		PageSize: 100,
		MaxPages: 50,
		Timeout:  20 * time.Second,
	}
}

// PageFetcher fetches a single page of a list endpoint.
type PageFetcher[T any] interface {
	FetchPage(ctx context.Context, endpoint, token string, page, perPage int) ([]T, error)
}

// Collector retrieves one list endpoint to completion.
type Collector[T any] struct {
	fetcher PageFetcher[T]
	config  Config
	logger  zerolog.Logger
}

// NewCollector creates a collector. Zero config values fall back to DefaultConfig.
func NewCollector[T any](fetcher PageFetcher[T], config Config) *Collector[T] {
	defaults := DefaultConfig()
	if config.PageSize <= 0 {
		config.PageSize = defaults.PageSize
	}
	if config.MaxPages <= 0 {
		config.MaxPages = defaults.MaxPages
	}
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}

	return &Collector[T]{
		fetcher: fetcher,
		config:  config,
		logger:  log.With().Str("component", "pagination").Logger(),
	}
}

// Config returns the effective configuration.
func (c *Collector[T]) Config() Config {
	return c.config
}

// Collect fetches pages 1..N of endpoint until a short page or the page ceiling.
func (c *Collector[T]) Collect(ctx context.Context, endpoint, token string) ([]T, error) {
	start := time.Now()
	var results []T

	for page := 1; page <= c.config.MaxPages; page++ {
		pageCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
		items, err := c.fetcher.FetchPage(pageCtx, endpoint, token, page, c.config.PageSize)
		cancel()

		if err != nil {
			apiErr := annotate(err, page)
			c.logger.Warn().
				Err(err).
				Str("endpoint", endpoint).
				Int("page", page).
				Str("error_kind", string(apiErr.Kind)).
				Msg("Page fetch failed, aborting collection")
			return nil, apiErr
		}

		pagesFetchedTotal.Inc()
		results = append(results, items...)

		if len(items) < c.config.PageSize {
			c.logger.Debug().
				Str("endpoint", endpoint).
				Int("pages", page).
				Int("items", len(results)).
				Dur("duration", time.Since(start)).
				Msg("Collection complete")
			return results, nil
		}
	}

	truncationsTotal.Inc()
	c.logger.Warn().
		Str("endpoint", endpoint).
		Int("max_pages", c.config.MaxPages).
		Int("items", len(results)).
		Msg("Page ceiling reached, collection truncated")

	return results, nil
}

// annotate makes sure every collection failure is a *github.APIError carrying
// the page number and the fetch-pages operation.
func annotate(err error, page int) *github.APIError {
	var apiErr *github.APIError
	if errors.As(err, &apiErr) {
		annotated := *apiErr
		annotated.Page = page
		annotated.Operation = github.OperationFetchPages
		return &annotated
	}
	return &github.APIError{
		Kind:      github.KindTransport,
		Operation: github.OperationFetchPages,
		Page:      page,
		Err:       err,
	}
}
