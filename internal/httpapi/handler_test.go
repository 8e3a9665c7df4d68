package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sternrassler/follow-reconciler/internal/testutil"
	"github.com/Sternrassler/follow-reconciler/pkg/github"
	"github.com/Sternrassler/follow-reconciler/pkg/graph"
	"github.com/Sternrassler/follow-reconciler/pkg/pagination"
	"github.com/Sternrassler/follow-reconciler/pkg/session"
	"github.com/Sternrassler/follow-reconciler/pkg/stats"
)

const testToken = "ghp_api"

func init() {
	gin.SetMode(gin.TestMode)
}

type apiFixture struct {
	mock   *testutil.MockGitHub
	router *gin.Engine
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	mock := testutil.NewMockGitHub()
	t.Cleanup(mock.Close)
	mock.SetToken(testToken, "me")

	cfg := github.DefaultConfig("HTTPAPITest/1.0")
	cfg.BaseURL = mock.URL()
	cfg.Timeout = 2 * time.Second
	client, err := github.New(cfg)
	require.NoError(t, err)

	registry := session.NewRegistry(session.Config{
		Mutator:   client,
		Collector: pagination.NewCollector[graph.User](client, pagination.DefaultConfig()),
	})

	return &apiFixture{
		mock:   mock,
		router: NewRouter(NewHandler(registry, stats.NewMemoryRecorder())),
	}
}

func (f *apiFixture) do(t *testing.T, method, path, token string, body any) (*httptest.ResponseRecorder, Response) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	var resp Response
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	}
	return w, resp
}

func dataAs[T any](t *testing.T, resp Response) T {
	t.Helper()
	raw, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	var out T
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

func TestHealth(t *testing.T) {
	f := newAPIFixture(t)

	w, resp := f.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, resp.Success)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newAPIFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "github_rate_limit_remaining")
}

func TestRequireToken(t *testing.T) {
	f := newAPIFixture(t)

	w, resp := f.do(t, http.MethodPost, "/api/v1/search", "", map[string]string{"username": "me"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "UNAUTHORIZED", resp.Error.Code)
	assert.Zero(t, f.mock.GetRequestCount())
}

func TestSearch(t *testing.T) {
	f := newAPIFixture(t)
	f.mock.SetFollowing("me", "A", "B", "C")
	f.mock.SetFollowers("me", "B", "C", "D")

	w, resp := f.do(t, http.MethodPost, "/api/v1/search", testToken, map[string]string{"username": "me"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	data := dataAs[searchResponse](t, resp)
	assert.Equal(t, "me", data.Username)
	assert.Equal(t, []string{"A"}, graph.Logins(data.NotFollowingBack))
	assert.Equal(t, []string{"D"}, graph.Logins(data.NotFollowedBack))
}

func TestSearch_MissingUsername(t *testing.T) {
	f := newAPIFixture(t)

	w, resp := f.do(t, http.MethodPost, "/api/v1/search", testToken, map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "BAD_REQUEST", resp.Error.Code)
}

func TestSearch_BadCredentials(t *testing.T) {
	f := newAPIFixture(t)

	w, resp := f.do(t, http.MethodPost, "/api/v1/search", "wrong-token", map[string]string{"username": "me"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "unauthenticated", resp.Error.Kind)
	assert.Contains(t, resp.Error.Message, "personal-access-tokens")
}

func TestUnfollowAndSession(t *testing.T) {
	f := newAPIFixture(t)
	f.mock.SetFollowing("me", "A", "B")

	_, _ = f.do(t, http.MethodPost, "/api/v1/search", testToken, map[string]string{"username": "me"})

	w, resp := f.do(t, http.MethodDelete, "/api/v1/following/A", testToken, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, mutationResponse{Login: "A", Applied: true}, dataAs[mutationResponse](t, resp))

	w, resp = f.do(t, http.MethodGet, "/api/v1/session", testToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	snap := dataAs[session.Snapshot](t, resp)
	assert.Equal(t, []string{"B"}, graph.Logins(snap.NotFollowingBack))
	assert.Equal(t, []string{"A"}, graph.Logins(snap.Unfollowed))

	// another token gets its own session
	f.mock.SetToken("other", "someone")
	_, resp = f.do(t, http.MethodGet, "/api/v1/session", "other", nil)
	assert.Empty(t, dataAs[session.Snapshot](t, resp).Unfollowed)
}

func TestFollow_NotFound(t *testing.T) {
	f := newAPIFixture(t)

	w, resp := f.do(t, http.MethodPut, "/api/v1/following/ghost", testToken, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "not_found", resp.Error.Kind)
}

func TestUnfollowAll(t *testing.T) {
	f := newAPIFixture(t)
	f.mock.SetFollowing("me", testutil.LoginRange("user", 8)...)
	f.mock.FailLogin("user3", testutil.NewForbiddenResponse())

	_, _ = f.do(t, http.MethodPost, "/api/v1/search", testToken, map[string]string{"username": "me"})

	w, resp := f.do(t, http.MethodPost, "/api/v1/unfollow-all", testToken, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	data := dataAs[bulkResponse](t, resp)
	assert.Equal(t, 8, data.Attempted)
	assert.Equal(t, 2, data.Waves)
	assert.Len(t, data.Succeeded, 7)
	require.Len(t, data.Failures, 1)
	assert.Equal(t, "user3", data.Failures[0].Login)
	assert.Equal(t, "permission_denied", data.Failures[0].Kind)
	assert.Empty(t, data.Stopped)
}

func TestFollowAll_EmptySet(t *testing.T) {
	f := newAPIFixture(t)

	w, resp := f.do(t, http.MethodPost, "/api/v1/follow-all", testToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	data := dataAs[bulkResponse](t, resp)
	assert.Zero(t, data.Attempted)
	assert.Empty(t, data.Failures)
}

func TestStats(t *testing.T) {
	f := newAPIFixture(t)

	w, resp := f.do(t, http.MethodGet, "/api/stats", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(1), dataAs[stats.Stats](t, resp).Visitors)

	w, resp = f.do(t, http.MethodPost, "/api/stats", "", map[string]string{"username": "OctoCat"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"OctoCat"}, dataAs[stats.Stats](t, resp).LastUsers)

	w, resp = f.do(t, http.MethodPost, "/api/stats", "", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "username is required", resp.Error.Message)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err        error
		wantStatus int
		wantCode   string
	}{
		{github.ErrMissingCredentials, http.StatusBadRequest, "BAD_REQUEST"},
		{fmt.Errorf("x: %w", session.ErrOperationInProgress), http.StatusConflict, "CONFLICT"},
		{&github.APIError{Kind: github.KindUnauthenticated}, http.StatusUnauthorized, "UNAUTHORIZED"},
		{&github.APIError{Kind: github.KindPermissionDenied}, http.StatusForbidden, "FORBIDDEN"},
		{&github.APIError{Kind: github.KindRateLimited}, http.StatusTooManyRequests, "RATE_LIMITED"},
		{&github.APIError{Kind: github.KindNotFound}, http.StatusNotFound, "NOT_FOUND"},
		{&github.APIError{Kind: github.KindServerError}, http.StatusBadGateway, "UPSTREAM_ERROR"},
		{&github.APIError{Kind: github.KindTransport}, http.StatusGatewayTimeout, "UPSTREAM_UNAVAILABLE"},
		{&github.APIError{Kind: github.KindUnclassified}, http.StatusBadGateway, "UPSTREAM_ERROR"},
		{errors.New("boom"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.wantCode, func(t *testing.T) {
			status, code := statusFor(tt.err)
			assert.Equal(t, tt.wantStatus, status)
			assert.Equal(t, tt.wantCode, code)
		})
	}
}
