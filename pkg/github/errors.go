package github

import (
	"errors"
	"net/http"
	"strings"
)

// Common errors returned by the client.
var (
	// ErrMissingCredentials is returned when a call is made without a token
	// (or, for searches, without a username).
	ErrMissingCredentials = errors.New("missing github username or token")

	// ErrMissingUserAgent is returned by New when no User-Agent is configured.
	ErrMissingUserAgent = errors.New("user-agent is required")
)

// ErrorKind is the closed taxonomy every failed GitHub interaction maps to.
type ErrorKind string

const (
	// KindUnauthenticated is a 401. It always aborts the enclosing operation.
	KindUnauthenticated ErrorKind = "unauthenticated"

	// KindPermissionDenied is a 403 without rate-limit markers.
	KindPermissionDenied ErrorKind = "permission_denied"

	// KindRateLimited is a 403 carrying rate-limit or abuse-detection markers,
	// or a request refused locally because the rate-limit window is exhausted.
	KindRateLimited ErrorKind = "rate_limited"

	// KindNotFound is a 404.
	KindNotFound ErrorKind = "not_found"

	// KindServerError is a 500.
	KindServerError ErrorKind = "server_error"

	// KindTransport covers timeouts, aborts and network failures.
	KindTransport ErrorKind = "transport"

	// KindUnclassified is any status without a dedicated explanation.
	KindUnclassified ErrorKind = "unclassified"
)

// Operation names the engine step an error belongs to. Message templates vary by operation.
type Operation string

const (
	OperationFetchPages        Operation = "fetch-pages"
	OperationFetchNonFollowers Operation = "fetch-non-followers"
	OperationFetchNonFollowing Operation = "fetch-non-following"
	OperationFollow            Operation = "follow"
	OperationUnfollow          Operation = "unfollow"
)

// rateLimitMarkers are matched case-insensitively against 403 bodies.
var rateLimitMarkers = []string{
	"rate limit",
	"abuse detection",
	"abuse-detection",
}

// Classify maps an HTTP status (plus response header and body for 403s) to an ErrorKind.
// The mapping is total: anything without a dedicated entry is KindUnclassified.
func Classify(statusCode int, header http.Header, body []byte) ErrorKind {
	switch statusCode {
	case http.StatusUnauthorized:
		return KindUnauthenticated
	case http.StatusForbidden:
		if isRateLimitResponse(header, body) {
			return KindRateLimited
		}
		return KindPermissionDenied
	case http.StatusNotFound:
		return KindNotFound
	case http.StatusInternalServerError:
		return KindServerError
	default:
		return KindUnclassified
	}
}

// ClassifyTransport classifies an error returned by the HTTP transport.
func ClassifyTransport(err error) ErrorKind {
	if err == nil {
		return ""
	}
	return KindTransport
}

func isRateLimitResponse(header http.Header, body []byte) bool {
	if header != nil && header.Get(headerRateLimitRemaining) == "0" {
		return true
	}
	text := strings.ToLower(string(body))
	for _, marker := range rateLimitMarkers {
		if strings.Contains(text, marker) {
			return true
		}
	}
	return false
}

// APIError is a classified GitHub failure with enough context to render a
// user-facing message.
type APIError struct {
	Kind       ErrorKind
	Operation  Operation
	StatusCode int
	Status     string // status text without the code, e.g. "Not Found"
	Page       int    // set by the paginated collector
	Login      string // target of a follow/unfollow
	Detail     string // "message" field of the GitHub error payload, if any
	Err        error
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return renderMessage(e)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *APIError) Unwrap() error {
	return e.Err
}

// Fatal reports whether the error must abort the enclosing multi-step operation.
func (e *APIError) Fatal() bool {
	return e.Kind == KindUnauthenticated
}

// KindOf returns the ErrorKind of the first *APIError in err's chain, or "" if none.
func KindOf(err error) ErrorKind {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}

// statusText strips the numeric prefix from resp.Status ("404 Not Found" -> "Not Found").
func statusText(resp *http.Response) string {
	if resp == nil {
		return ""
	}
	if _, text, ok := strings.Cut(resp.Status, " "); ok {
		return text
	}
	return http.StatusText(resp.StatusCode)
}
