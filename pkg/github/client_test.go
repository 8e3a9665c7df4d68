package github

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/follow-reconciler/internal/testutil"
	"github.com/Sternrassler/follow-reconciler/pkg/ratelimit"
)

const testToken = "ghp_test"

func newTestClient(t *testing.T, mock *testutil.MockGitHub) *Client {
	t.Helper()

	cfg := DefaultConfig("FollowReconcilerTest/1.0 (test@example.com)")
	cfg.BaseURL = mock.URL()
	cfg.Timeout = 2 * time.Second

	client, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return client
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name      string
		config    Config
		wantError bool
		errorMsg  string
	}{
		{
			name:      "valid config",
			config:    DefaultConfig("TestApp/1.0.0"),
			wantError: false,
		},
		{
			name:      "empty user agent",
			config:    DefaultConfig(""),
			wantError: true,
			errorMsg:  "user-agent is required",
		},
		{
			name: "zero timeout",
			config: Config{
				UserAgent: "TestApp/1.0.0",
			},
			wantError: true,
			errorMsg:  "timeout must be > 0",
		},
		{
			name: "invalid base url",
			config: Config{
				BaseURL:   "not a url",
				UserAgent: "TestApp/1.0.0",
				Timeout:   time.Second,
			},
			wantError: true,
			errorMsg:  "invalid base url",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := New(tt.config)
			if tt.wantError {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				if !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("error = %q, want to contain %q", err.Error(), tt.errorMsg)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if client.RateLimiter() == nil {
				t.Error("expected default rate limiter")
			}
		})
	}
}

func TestFetchPage_SendsHeadersAndQuery(t *testing.T) {
	mock := testutil.NewMockGitHub()
	defer mock.Close()
	mock.SetToken(testToken, "me")
	mock.SetFollowing("octocat", testutil.LoginRange("u", 150)...)

	client := newTestClient(t, mock)

	users, err := client.FetchPage(context.Background(), FollowingEndpoint("octocat"), testToken, 2, 100)
	if err != nil {
		t.Fatalf("FetchPage() error = %v", err)
	}
	if len(users) != 50 {
		t.Errorf("len(users) = %d, want 50", len(users))
	}
	if users[0].Login != "u101" {
		t.Errorf("first login = %q, want u101", users[0].Login)
	}

	header := mock.LastRequestHeader
	if got := header.Get("Authorization"); got != "Bearer "+testToken {
		t.Errorf("Authorization = %q", got)
	}
	if got := header.Get("Accept"); got != "application/vnd.github+json" {
		t.Errorf("Accept = %q", got)
	}
	if got := header.Get("X-GitHub-Api-Version"); got != DefaultAPIVersion {
		t.Errorf("X-GitHub-Api-Version = %q", got)
	}
	if got := header.Get("User-Agent"); !strings.HasPrefix(got, "FollowReconcilerTest/") {
		t.Errorf("User-Agent = %q", got)
	}

	if got := mock.PageRequests("/users/octocat/following"); len(got) != 1 || got[0] != 2 {
		t.Errorf("page requests = %v, want [2]", got)
	}
}

func TestFetchPage_MissingToken(t *testing.T) {
	mock := testutil.NewMockGitHub()
	defer mock.Close()

	client := newTestClient(t, mock)

	_, err := client.FetchPage(context.Background(), FollowersEndpoint("octocat"), "", 1, 100)
	if !errors.Is(err, ErrMissingCredentials) {
		t.Errorf("error = %v, want ErrMissingCredentials", err)
	}
	if mock.GetRequestCount() != 0 {
		t.Errorf("request count = %d, want 0", mock.GetRequestCount())
	}
}

func TestFetchPage_ErrorClassification(t *testing.T) {
	tests := []struct {
		name     string
		response testutil.MockResponse
		wantKind ErrorKind
		wantText string
	}{
		{
			name:     "unauthorized",
			response: testutil.NewUnauthorizedResponse(),
			wantKind: KindUnauthenticated,
			wantText: "personal-access-tokens",
		},
		{
			name:     "forbidden",
			response: testutil.NewForbiddenResponse(),
			wantKind: KindPermissionDenied,
			wantText: "check your token permissions",
		},
		{
			name:     "rate limited",
			response: testutil.NewRateLimitResponse(),
			wantKind: KindRateLimited,
			wantText: "rate limit exceeded",
		},
		{
			name:     "secondary rate limit",
			response: testutil.NewSecondaryRateLimitResponse(),
			wantKind: KindRateLimited,
			wantText: "rate limit exceeded",
		},
		{
			name:     "server error",
			response: testutil.NewServerErrorResponse(),
			wantKind: KindServerError,
			wantText: "internal server error",
		},
		{
			name:     "teapot",
			response: testutil.MockResponse{StatusCode: http.StatusTeapot},
			wantKind: KindUnclassified,
			wantText: "failed to fetch paginated data: 418 - I'm a teapot",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := testutil.NewMockGitHub()
			defer mock.Close()
			mock.SetToken(testToken, "me")
			mock.FailPage("/users/octocat/followers", 3, tt.response)

			client := newTestClient(t, mock)

			_, err := client.FetchPage(context.Background(), FollowersEndpoint("octocat"), testToken, 3, 100)
			if err == nil {
				t.Fatal("expected error, got nil")
			}

			var apiErr *APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("error type = %T, want *APIError", err)
			}
			if apiErr.Kind != tt.wantKind {
				t.Errorf("Kind = %s, want %s", apiErr.Kind, tt.wantKind)
			}
			if apiErr.Page != 3 {
				t.Errorf("Page = %d, want 3", apiErr.Page)
			}
			if !strings.Contains(err.Error(), tt.wantText) {
				t.Errorf("message = %q, want to contain %q", err.Error(), tt.wantText)
			}
		})
	}
}

func TestFetchPage_UnknownUser(t *testing.T) {
	mock := testutil.NewMockGitHub()
	defer mock.Close()
	mock.SetToken(testToken, "me")

	client := newTestClient(t, mock)

	_, err := client.FetchPage(context.Background(), FollowersEndpoint("ghost"), testToken, 1, 100)
	if !IsKind(err, KindNotFound) {
		t.Fatalf("kind = %s, want not_found (err = %v)", KindOf(err), err)
	}
	want := "error fetching data on page 1: 404 - Not Found (resource not found, check the username) [github: Not Found]"
	if err.Error() != want {
		t.Errorf("message = %q, want %q", err.Error(), want)
	}
}

func TestFetchPage_Timeout(t *testing.T) {
	mock := testutil.NewMockGitHub()
	defer mock.Close()
	mock.SetToken(testToken, "me")
	mock.SetHandler("/users/slow/following", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})

	client := newTestClient(t, mock)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := client.FetchPage(ctx, FollowingEndpoint("slow"), testToken, 1, 100)
	if !IsKind(err, KindTransport) {
		t.Fatalf("kind = %s, want transport (err = %v)", KindOf(err), err)
	}
	if !strings.HasPrefix(err.Error(), "failed to complete fetch of page 1") {
		t.Errorf("message = %q", err.Error())
	}
}

func TestFetchPage_BlockedLocally(t *testing.T) {
	mock := testutil.NewMockGitHub()
	defer mock.Close()
	mock.SetToken(testToken, "me")

	client := newTestClient(t, mock)

	header := http.Header{}
	header.Set(ratelimit.HeaderRemaining, "0")
	header.Set(ratelimit.HeaderLimit, "5000")
	header.Set(ratelimit.HeaderReset, strconv.FormatInt(time.Now().Add(time.Hour).Unix(), 10))
	if err := client.RateLimiter().UpdateFromHeaders(context.Background(), testToken, header); err != nil {
		t.Fatalf("UpdateFromHeaders() error = %v", err)
	}

	_, err := client.FetchPage(context.Background(), FollowersEndpoint("octocat"), testToken, 1, 100)
	if !IsKind(err, KindRateLimited) {
		t.Fatalf("kind = %s, want rate_limited", KindOf(err))
	}
	if mock.GetRequestCount() != 0 {
		t.Errorf("request count = %d, want 0 (blocked before sending)", mock.GetRequestCount())
	}
}

func TestFollow(t *testing.T) {
	mock := testutil.NewMockGitHub()
	defer mock.Close()
	mock.SetToken(testToken, "me")
	mock.AddUsers("alice")

	client := newTestClient(t, mock)
	ctx := context.Background()

	ok, err := client.Follow(ctx, "alice", testToken)
	if err != nil || !ok {
		t.Fatalf("Follow() = (%v, %v), want (true, nil)", ok, err)
	}

	// Following again is a no-op on GitHub and still succeeds.
	ok, err = client.Follow(ctx, "alice", testToken)
	if err != nil || !ok {
		t.Fatalf("second Follow() = (%v, %v), want (true, nil)", ok, err)
	}

	if got := mock.Following("me"); len(got) != 1 || got[0] != "alice" {
		t.Errorf("following = %v, want [alice]", got)
	}
	if got := mock.Followers("alice"); len(got) != 1 || got[0] != "me" {
		t.Errorf("alice followers = %v, want [me]", got)
	}
}

func TestUnfollow(t *testing.T) {
	mock := testutil.NewMockGitHub()
	defer mock.Close()
	mock.SetToken(testToken, "me")
	mock.SetFollowing("me", "alice", "bob")

	client := newTestClient(t, mock)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, err := client.Unfollow(ctx, "alice", testToken)
		if err != nil || !ok {
			t.Fatalf("Unfollow() call %d = (%v, %v), want (true, nil)", i+1, ok, err)
		}
	}

	if got := mock.Following("me"); len(got) != 1 || got[0] != "bob" {
		t.Errorf("following = %v, want [bob]", got)
	}
}

func TestMutation_Errors(t *testing.T) {
	tests := []struct {
		name     string
		response testutil.MockResponse
		wantOK   bool
		wantKind ErrorKind
		wantText string
	}{
		{
			name:     "unauthorized",
			response: testutil.NewUnauthorizedResponse(),
			wantKind: KindUnauthenticated,
			wantText: "failed to unfollow alice: authentication failed",
		},
		{
			name:     "forbidden",
			response: testutil.NewForbiddenResponse(),
			wantKind: KindPermissionDenied,
			wantText: "failed to unfollow alice: access forbidden",
		},
		{
			name:     "rate limited",
			response: testutil.NewRateLimitResponse(),
			wantKind: KindRateLimited,
			wantText: "failed to unfollow alice: GitHub rate limit exceeded",
		},
		{
			name:     "server error",
			response: testutil.NewServerErrorResponse(),
			wantKind: KindServerError,
			wantText: "failed to unfollow alice: GitHub internal server error",
		},
		{
			name:     "unclassified status is not an error",
			response: testutil.MockResponse{StatusCode: http.StatusUnprocessableEntity},
			wantOK:   false,
			wantKind: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := testutil.NewMockGitHub()
			defer mock.Close()
			mock.SetToken(testToken, "me")
			mock.SetFollowing("me", "alice")
			mock.FailLogin("alice", tt.response)

			client := newTestClient(t, mock)

			ok, err := client.Unfollow(context.Background(), "alice", testToken)
			if ok != tt.wantOK {
				t.Errorf("ok = %v, want %v", ok, tt.wantOK)
			}
			if tt.wantKind == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}

			var apiErr *APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("error type = %T, want *APIError", err)
			}
			if apiErr.Kind != tt.wantKind {
				t.Errorf("Kind = %s, want %s", apiErr.Kind, tt.wantKind)
			}
			if apiErr.Login != "alice" {
				t.Errorf("Login = %q, want alice", apiErr.Login)
			}
			if apiErr.Operation != OperationUnfollow {
				t.Errorf("Operation = %s, want unfollow", apiErr.Operation)
			}
			if !strings.HasPrefix(err.Error(), tt.wantText) {
				t.Errorf("message = %q, want prefix %q", err.Error(), tt.wantText)
			}
		})
	}
}

func TestFollow_NotFound(t *testing.T) {
	mock := testutil.NewMockGitHub()
	defer mock.Close()
	mock.SetToken(testToken, "me")

	client := newTestClient(t, mock)

	ok, err := client.Follow(context.Background(), "nobody", testToken)
	if ok {
		t.Error("ok = true, want false")
	}
	if !IsKind(err, KindNotFound) {
		t.Errorf("kind = %s, want not_found", KindOf(err))
	}
}

func TestFollow_EmptyLogin(t *testing.T) {
	mock := testutil.NewMockGitHub()
	defer mock.Close()

	client := newTestClient(t, mock)

	if _, err := client.Follow(context.Background(), "", testToken); err == nil {
		t.Error("expected error for empty login")
	}
}

func TestClient_RateLimitTrackingFromHeaders(t *testing.T) {
	mock := testutil.NewMockGitHub()
	defer mock.Close()
	mock.SetToken(testToken, "me")
	mock.AddUsers("alice")

	client := newTestClient(t, mock)

	if _, err := client.Follow(context.Background(), "alice", testToken); err != nil {
		t.Fatalf("Follow() error = %v", err)
	}

	state, err := client.RateLimiter().GetState(context.Background(), testToken)
	if err != nil {
		t.Fatalf("GetState() error = %v", err)
	}
	if state.Remaining != 4999 {
		t.Errorf("Remaining = %d, want 4999", state.Remaining)
	}
	if state.Limit != 5000 {
		t.Errorf("Limit = %d, want 5000", state.Limit)
	}
}

func TestSetHTTPClient(t *testing.T) {
	mock := testutil.NewMockGitHub()
	defer mock.Close()

	client := newTestClient(t, mock)
	custom := &http.Client{Timeout: time.Second}
	client.SetHTTPClient(custom)

	if client.httpClient != custom {
		t.Error("SetHTTPClient did not replace the client")
	}
}

func init() {
	zerolog.SetGlobalLevel(zerolog.Disabled)
}
