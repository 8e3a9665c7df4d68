package github

import (
	"fmt"
	"strings"
)

// TokenGuidance is shown whenever GitHub rejects a token.
var TokenGuidance = []string{
	"To generate your GitHub personal access token:",
	"1. Visit https://github.com/settings/personal-access-tokens",
	"2. Click on Generate new token",
	"3. Fill in the token name, expiry and resource owner",
	"4. Grant the Followers permission (read and write) to your token",
	"Use the generated token here.",
}

// kindExplanations holds the dedicated explanation for every kind that has one.
var kindExplanations = map[ErrorKind]string{
	KindPermissionDenied: "access forbidden, check your token permissions",
	KindRateLimited:      "GitHub rate limit exceeded, wait for the limit to reset and try again",
	KindNotFound:         "resource not found, check the username",
	KindServerError:      "GitHub internal server error, please try again later",
}

// operationVerbs is the human name of each mutating or aggregate operation.
var operationVerbs = map[Operation]string{
	OperationFollow:            "follow",
	OperationUnfollow:          "unfollow",
	OperationFetchNonFollowers: "fetch non-followers",
	OperationFetchNonFollowing: "fetch non-following",
	OperationFetchPages:        "fetch data from multiple pages",
}

// Explanation returns the dedicated explanation for kind, or "" if it has none.
func Explanation(kind ErrorKind) string {
	if kind == KindUnauthenticated {
		return "authentication failed, the token was rejected. " + strings.Join(TokenGuidance, " ")
	}
	return kindExplanations[kind]
}

func renderMessage(e *APIError) string {
	verb := operationVerbs[e.Operation]
	if verb == "" {
		verb = string(e.Operation)
	}

	switch e.Operation {
	case OperationFetchNonFollowers, OperationFetchNonFollowing:
		if e.Err != nil {
			return fmt.Sprintf("failed to %s: %s", verb, e.Err.Error())
		}
		return fmt.Sprintf("failed to %s", verb)
	case OperationFetchPages:
		return renderPageMessage(e)
	}

	target := verb
	if e.Login != "" {
		target = verb + " " + e.Login
	}

	switch e.Kind {
	case KindUnauthenticated:
		return fmt.Sprintf("failed to %s: %s", target, Explanation(e.Kind))
	case KindTransport:
		if e.Err != nil {
			return fmt.Sprintf("failed to complete %s: %v", target, e.Err)
		}
		return fmt.Sprintf("failed to complete %s", target)
	case KindUnclassified:
		return withDetail(fmt.Sprintf("failed to %s: %d - %s", target, e.StatusCode, e.Status), e.Detail)
	default:
		return withDetail(fmt.Sprintf("failed to %s: %s", target, Explanation(e.Kind)), e.Detail)
	}
}

func renderPageMessage(e *APIError) string {
	switch e.Kind {
	case KindUnauthenticated:
		return fmt.Sprintf("failed to fetch page %d: %s", e.Page, Explanation(e.Kind))
	case KindTransport:
		if e.Err != nil {
			return fmt.Sprintf("failed to complete fetch of page %d: %v", e.Page, e.Err)
		}
		return fmt.Sprintf("failed to complete fetch of page %d", e.Page)
	case KindUnclassified:
		return withDetail(fmt.Sprintf("failed to fetch paginated data: %d - %s", e.StatusCode, e.Status), e.Detail)
	case KindRateLimited:
		if e.StatusCode == 0 {
			return fmt.Sprintf("failed to fetch page %d: %s", e.Page, Explanation(e.Kind))
		}
	}
	return withDetail(fmt.Sprintf("error fetching data on page %d: %d - %s (%s)",
		e.Page, e.StatusCode, e.Status, Explanation(e.Kind)), e.Detail)
}

func withDetail(message, detail string) string {
	if detail == "" {
		return message
	}
	return message + " [github: " + detail + "]"
}
