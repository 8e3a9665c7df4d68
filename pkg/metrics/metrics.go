// Package metrics exposes the Prometheus registry shared by the reconciler.
// Metrics are defined next to the code that updates them (github, ratelimit,
// pagination, session, stats) and registered through promauto; this package
// serves them and documents the catalogue.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the default Prometheus registry.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Gatherer collects everything registered on Registry.
var Gatherer = prometheus.DefaultGatherer

// Handler serves the metrics in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// Metrics Documentation
//
// GitHub Client Metrics (pkg/github):
//   - github_requests_total{operation, status} (Counter): Requests by operation and HTTP status
//   - github_request_duration_seconds{operation} (Histogram): Request duration by operation
//   - github_errors_total{kind} (Counter): Failures by error kind
//
// Rate Limit Metrics (pkg/ratelimit):
//   - github_rate_limit_remaining (Gauge): Requests left in the last observed window
//   - github_rate_limit_blocks_total (Counter): Requests refused locally (window exhausted)
//   - github_rate_limit_throttles_total (Counter): Requests delayed (window running low)
//
// Pagination Metrics (pkg/pagination):
//   - pagination_pages_fetched_total (Counter): List pages fetched
//   - pagination_truncations_total (Counter): Collections stopped by the page ceiling
//
// Session Metrics (pkg/session):
//   - session_searches_total{result} (Counter): Searches by result
//   - session_active (Gauge): Sessions held by the registry
//   - batch_operations_total{direction, result} (Counter): Follow/unfollow outcomes
//   - batch_waves_total{direction} (Counter): Bulk waves dispatched
//
// Stats Metrics (pkg/stats):
//   - stats_visits_total (Counter): Recorded visits
//   - stats_searches_recorded_total (Counter): Searches added to the last-users list
//
// Example Prometheus Queries:
//
//   # Bulk failure ratio
//   sum(rate(batch_operations_total{result="failure"}[5m])) /
//   sum(rate(batch_operations_total[5m]))
//
//   # Rate limit running low
//   github_rate_limit_remaining < 100
//
//   # Errors by kind
//   sum by (kind) (rate(github_errors_total[5m]))
//
//   # P95 request latency
//   histogram_quantile(0.95, rate(github_request_duration_seconds_bucket[5m]))
