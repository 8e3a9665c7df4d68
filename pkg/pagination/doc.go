// Package pagination collects numbered-page list endpoints to completion.
//
// GitHub list endpoints (followers, following) do not announce a page count,
// so pages are requested strictly one after another: the decision to fetch
// page N+1 depends on page N being full. Collection stops at the first short
// page, or at the configured page ceiling, in which case the partial result is
// returned and the truncation is logged.
//
// Example usage:
//
//	collector := pagination.NewCollector[graph.User](ghClient, pagination.DefaultConfig())
//	following, err := collector.Collect(ctx, github.FollowingEndpoint("octocat"), token)
//
// The collector never retries. A failed page aborts the whole collection and
// the error is returned as a *github.APIError annotated with the page number.
package pagination
