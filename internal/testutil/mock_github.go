// Package testutil provides testing utilities for the follow reconciler.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Sternrassler/follow-reconciler/pkg/graph"
)

// MockResponse defines a canned response for a mock GitHub endpoint.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockGitHub is a fake GitHub REST API holding a small follow graph.
//
// GET  /users/{username}/following and /users/{username}/followers page through
// the graph; PUT and DELETE /user/following/{login} mutate it for the user the
// request token belongs to. Mutations are idempotent, like the real API.
type MockGitHub struct {
	server *httptest.Server

	mu             sync.RWMutex
	handlers       map[string]http.HandlerFunc
	pageOverrides  map[string]MockResponse
	loginOverrides map[string]MockResponse
	tokens         map[string]string
	users          map[string]graph.User
	following      map[string][]graph.User
	followers      map[string][]graph.User

	// Tracking
	RequestCount      int
	LastRequestHeader http.Header
	pageRequests      map[string][]int
	mutationRequests  map[string]int
	inFlight          int
	maxInFlight       int
}

// NewMockGitHub creates and starts a new mock GitHub server.
func NewMockGitHub() *MockGitHub {
	mock := &MockGitHub{
		handlers:         make(map[string]http.HandlerFunc),
		pageOverrides:    make(map[string]MockResponse),
		loginOverrides:   make(map[string]MockResponse),
		tokens:           make(map[string]string),
		users:            make(map[string]graph.User),
		following:        make(map[string][]graph.User),
		followers:        make(map[string][]graph.User),
		pageRequests:     make(map[string][]int),
		mutationRequests: make(map[string]int),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.RequestCount++
		mock.LastRequestHeader = r.Header.Clone()
		handler, exists := mock.handlers[r.URL.Path]
		mock.mu.Unlock()

		setRateLimitHeaders(w)

		if exists {
			handler(w, r)
			return
		}
		mock.defaultHandler(w, r)
	}))

	return mock
}

// URL returns the mock server URL.
func (m *MockGitHub) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockGitHub) Close() {
	m.server.Close()
}

// SetHandler sets a custom handler for an exact path, bypassing the graph.
func (m *MockGitHub) SetHandler(path string, handler http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetToken registers token as belonging to login.
func (m *MockGitHub) SetToken(token, login string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[token] = login
	m.addUserLocked(login)
}

// AddUsers registers accounts that exist without any relationship.
func (m *MockGitHub) AddUsers(logins ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, login := range logins {
		m.addUserLocked(login)
	}
}

// SetFollowing replaces the list of accounts username follows.
func (m *MockGitHub) SetFollowing(username string, logins ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.addUserLocked(username)
	m.following[graph.NormalizeLogin(username)] = m.usersLocked(logins)
}

// SetFollowers replaces the list of accounts following username.
func (m *MockGitHub) SetFollowers(username string, logins ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.addUserLocked(username)
	m.followers[graph.NormalizeLogin(username)] = m.usersLocked(logins)
}

// FailPage makes one page of a list path return resp instead of graph data.
func (m *MockGitHub) FailPage(path string, page int, resp MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pageOverrides[pageKey(path, page)] = resp
}

// FailLogin makes follow/unfollow of login return resp.
func (m *MockGitHub) FailLogin(login string, resp MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loginOverrides[graph.NormalizeLogin(login)] = resp
}

// Following returns the logins username currently follows.
func (m *MockGitHub) Following(username string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return graph.Logins(m.following[graph.NormalizeLogin(username)])
}

// Followers returns the logins currently following username.
func (m *MockGitHub) Followers(username string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return graph.Logins(m.followers[graph.NormalizeLogin(username)])
}

// PageRequests returns the page numbers requested for path, in order.
func (m *MockGitHub) PageRequests(path string) []int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]int(nil), m.pageRequests[path]...)
}

// MutationRequests returns how many follow/unfollow requests targeted login.
func (m *MockGitHub) MutationRequests(login string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.mutationRequests[graph.NormalizeLogin(login)]
}

// MaxConcurrentMutations returns the highest number of simultaneous mutation requests seen.
func (m *MockGitHub) MaxConcurrentMutations() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.maxInFlight
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockGitHub) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RequestCount
}

func (m *MockGitHub) defaultHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")

	login, ok := m.authenticate(r)
	if !ok {
		writeMessage(w, http.StatusUnauthorized, "Bad credentials")
		return
	}

	path := r.URL.Path
	switch {
	case r.Method == http.MethodGet && strings.HasPrefix(path, "/users/"):
		m.handleList(w, r)
	case strings.HasPrefix(path, "/user/following/") && (r.Method == http.MethodPut || r.Method == http.MethodDelete):
		m.handleMutation(w, r, login, strings.TrimPrefix(path, "/user/following/"))
	default:
		writeMessage(w, http.StatusNotFound, "Not Found")
	}
}

func (m *MockGitHub) authenticate(r *http.Request) (string, bool) {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	m.mu.RLock()
	defer m.mu.RUnlock()
	login, ok := m.tokens[token]
	return login, ok
}

func (m *MockGitHub) handleList(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) != 3 || (parts[2] != "following" && parts[2] != "followers") {
		writeMessage(w, http.StatusNotFound, "Not Found")
		return
	}
	username := graph.NormalizeLogin(parts[1])

	perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))
	if perPage <= 0 {
		perPage = 30
	}
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page <= 0 {
		page = 1
	}

	m.mu.Lock()
	m.pageRequests[r.URL.Path] = append(m.pageRequests[r.URL.Path], page)
	override, overridden := m.pageOverrides[pageKey(r.URL.Path, page)]
	_, exists := m.users[username]
	var list []graph.User
	if parts[2] == "following" {
		list = m.following[username]
	} else {
		list = m.followers[username]
	}
	list = append([]graph.User(nil), list...)
	m.mu.Unlock()

	if overridden {
		writeResponse(w, override)
		return
	}
	if !exists {
		writeMessage(w, http.StatusNotFound, "Not Found")
		return
	}

	start := (page - 1) * perPage
	if start > len(list) {
		start = len(list)
	}
	end := start + perPage
	if end > len(list) {
		end = len(list)
	}

	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(list[start:end])
}

func (m *MockGitHub) handleMutation(w http.ResponseWriter, r *http.Request, actor, target string) {
	key := graph.NormalizeLogin(target)

	m.mu.Lock()
	m.mutationRequests[key]++
	m.inFlight++
	if m.inFlight > m.maxInFlight {
		m.maxInFlight = m.inFlight
	}
	override, overridden := m.loginOverrides[key]
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.inFlight--
		m.mu.Unlock()
	}()

	if overridden {
		writeResponse(w, override)
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	targetUser, exists := m.users[key]
	if !exists {
		writeMessage(w, http.StatusNotFound, "Not Found")
		return
	}
	actorKey := graph.NormalizeLogin(actor)
	actorUser := m.users[actorKey]

	if r.Method == http.MethodPut {
		m.following[actorKey] = addUser(m.following[actorKey], targetUser)
		m.followers[key] = addUser(m.followers[key], actorUser)
	} else {
		m.following[actorKey] = removeUser(m.following[actorKey], key)
		m.followers[key] = removeUser(m.followers[key], actorKey)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (m *MockGitHub) addUserLocked(login string) graph.User {
	key := graph.NormalizeLogin(login)
	if u, ok := m.users[key]; ok {
		return u
	}
	u := graph.User{Login: login, AvatarURL: "https://avatars.githubusercontent.com/" + login}
	m.users[key] = u
	return u
}

func (m *MockGitHub) usersLocked(logins []string) []graph.User {
	out := make([]graph.User, 0, len(logins))
	for _, login := range logins {
		out = append(out, m.addUserLocked(login))
	}
	return out
}

func addUser(list []graph.User, u graph.User) []graph.User {
	for _, existing := range list {
		if existing.Key() == u.Key() {
			return list
		}
	}
	return append(list, u)
}

func removeUser(list []graph.User, key string) []graph.User {
	out := list[:0:0]
	for _, existing := range list {
		if existing.Key() != key {
			out = append(out, existing)
		}
	}
	return out
}

func pageKey(path string, page int) string {
	return fmt.Sprintf("%s?page=%d", path, page)
}

func setRateLimitHeaders(w http.ResponseWriter) {
	w.Header().Set("X-RateLimit-Limit", "5000")
	w.Header().Set("X-RateLimit-Remaining", "4999")
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(time.Hour).Unix(), 10))
}

func writeResponse(w http.ResponseWriter, resp MockResponse) {
	if resp.Delay > 0 {
		time.Sleep(resp.Delay)
	}
	for key, value := range resp.Headers {
		w.Header().Set(key, value)
	}
	w.WriteHeader(resp.StatusCode)
	if resp.Body != "" {
		_, _ = w.Write([]byte(resp.Body))
	}
}

func writeMessage(w http.ResponseWriter, status int, message string) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"message":           message,
		"documentation_url": "https://docs.github.com/rest",
	})
}

// LoginRange returns prefix1..prefixN, handy for building large follow lists.
func LoginRange(prefix string, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("%s%d", prefix, i+1)
	}
	return out
}

// NewForbiddenResponse creates a 403 for missing permissions.
func NewForbiddenResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusForbidden,
		Body:       `{"message": "Resource not accessible by personal access token"}`,
	}
}

// NewRateLimitResponse creates a 403 with GitHub's rate limit payload.
func NewRateLimitResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusForbidden,
		Body:       `{"message": "API rate limit exceeded for user ID 1."}`,
		Headers: map[string]string{
			"X-RateLimit-Remaining": "0",
		},
	}
}

// NewSecondaryRateLimitResponse creates a 403 for abuse detection without exhausting the primary window.
func NewSecondaryRateLimitResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusForbidden,
		Body:       `{"message": "You have triggered an abuse detection mechanism. Please wait a few minutes before you try again."}`,
	}
}

// NewUnauthorizedResponse creates a 401.
func NewUnauthorizedResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusUnauthorized,
		Body:       `{"message": "Bad credentials"}`,
	}
}

// NewServerErrorResponse creates a 500.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"message": "Server Error"}`,
	}
}
