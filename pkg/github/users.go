package github

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/Sternrassler/follow-reconciler/pkg/graph"
)

// FetchPage fetches one page of a user list endpoint (followers or following).
// It satisfies pagination.PageFetcher[graph.User].
func (c *Client) FetchPage(ctx context.Context, endpoint, token string, page, perPage int) ([]graph.User, error) {
	query := url.Values{}
	query.Set("per_page", strconv.Itoa(perPage))
	query.Set("page", strconv.Itoa(page))

	resp, err := c.do(ctx, OperationFetchPages, http.MethodGet, endpoint, query, token)
	if err != nil {
		if apiErr, ok := asAPIError(err); ok {
			apiErr.Page = page
		}
		return nil, err
	}
	defer resp.Body.Close()

	var users []graph.User
	if err := json.NewDecoder(resp.Body).Decode(&users); err != nil {
		return nil, c.fail(&APIError{
			Kind:       KindTransport,
			Operation:  OperationFetchPages,
			StatusCode: resp.StatusCode,
			Status:     statusText(resp),
			Page:       page,
			Err:        fmt.Errorf("decode page: %w", err),
		})
	}

	return users, nil
}

// Follow makes the authenticated user follow login (PUT /user/following/{login}).
//
// It returns (true, nil) on any 2xx, including when login is already
// followed. Failures with a dedicated explanation (unauthenticated, forbidden,
// rate limited, not found, server error, transport) are returned as *APIError.
// Any other status returns (false, nil).
func (c *Client) Follow(ctx context.Context, login, token string) (bool, error) {
	return c.mutate(ctx, OperationFollow, http.MethodPut, login, token)
}

// Unfollow makes the authenticated user stop following login
// (DELETE /user/following/{login}). Same contract as Follow.
func (c *Client) Unfollow(ctx context.Context, login, token string) (bool, error) {
	return c.mutate(ctx, OperationUnfollow, http.MethodDelete, login, token)
}

func (c *Client) mutate(ctx context.Context, op Operation, method, login, token string) (bool, error) {
	if login == "" {
		return false, fmt.Errorf("%s: login is required", op)
	}

	resp, err := c.do(ctx, op, method, "/user/following/"+url.PathEscape(login), nil, token)
	if err != nil {
		apiErr, ok := asAPIError(err)
		if !ok {
			return false, err
		}
		apiErr.Login = login
		if apiErr.Kind == KindUnclassified {
			c.logger.Warn().
				Str("operation", string(op)).
				Str("login", login).
				Int("status", apiErr.StatusCode).
				Msg("Mutation not applied")
			return false, nil
		}
		return false, apiErr
	}
	resp.Body.Close()

	c.logger.Debug().Str("operation", string(op)).Str("login", login).Msg("Mutation applied")
	return true, nil
}
