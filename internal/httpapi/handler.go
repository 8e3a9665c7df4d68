// Package httpapi exposes the reconciliation engine over HTTP.
//
// Callers authenticate with their own GitHub token in the Authorization header;
// the token is forwarded to GitHub and only its digest is kept, as the key of the
// caller's session.
package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/follow-reconciler/pkg/batch"
	"github.com/Sternrassler/follow-reconciler/pkg/github"
	"github.com/Sternrassler/follow-reconciler/pkg/graph"
	"github.com/Sternrassler/follow-reconciler/pkg/logging"
	"github.com/Sternrassler/follow-reconciler/pkg/metrics"
	"github.com/Sternrassler/follow-reconciler/pkg/session"
	"github.com/Sternrassler/follow-reconciler/pkg/stats"
)

const (
	tokenKey     = "github_token"
	bearerPrefix = "Bearer "
)

// Handler handles HTTP requests.
type Handler struct {
	sessions *session.Registry
	recorder stats.Recorder
	logger   zerolog.Logger
}

// NewHandler creates a new HTTP handler.
func NewHandler(sessions *session.Registry, recorder stats.Recorder) *Handler {
	return &Handler{
		sessions: sessions,
		recorder: recorder,
		logger:   logging.NewLogger("httpapi"),
	}
}

// NewRouter returns a gin engine with recovery, request logging and every route registered.
func NewRouter(h *Handler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), h.requestLogger())
	h.RegisterRoutes(r)
	return r
}

// RegisterRoutes registers all routes onto the Gin engine.
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", h.Health)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	r.GET("/api/stats", h.Visit)
	r.POST("/api/stats", h.RecordSearch)

	api := r.Group("/api/v1", h.requireToken())
	{
		api.POST("/search", h.Search)
		api.GET("/session", h.Session)
		api.PUT("/following/:login", h.Follow)
		api.DELETE("/following/:login", h.Unfollow)
		api.POST("/follow-all", h.FollowAll)
		api.POST("/unfollow-all", h.UnfollowAll)
	}
}

// requireToken extracts the caller's GitHub token from a bearer Authorization header.
func (h *Handler) requireToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, bearerPrefix) {
			unauthorized(c, "missing bearer token: provide your GitHub personal access token")
			return
		}
		token := strings.TrimSpace(strings.TrimPrefix(header, bearerPrefix))
		if token == "" {
			unauthorized(c, "missing bearer token: provide your GitHub personal access token")
			return
		}
		c.Set(tokenKey, token)
		c.Next()
	}
}

func (h *Handler) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		event := h.logger.Debug()
		if c.Writer.Status() >= 500 {
			event = h.logger.Warn()
		}
		event.
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	}
}

// session resolves the caller's session. It writes the error response and returns false on failure.
func (h *Handler) session(c *gin.Context) (*session.Session, string, bool) {
	token := c.GetString(tokenKey)
	s, err := h.sessions.Get(token)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to create session")
		fail(c, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to create session")
		return nil, "", false
	}
	return s, token, true
}

// Health handles GET /health.
func (h *Handler) Health(c *gin.Context) {
	success(c, gin.H{"status": "ok"})
}

type searchRequest struct {
	Username string `json:"username" binding:"required"`
}

type searchResponse struct {
	Username         string       `json:"username"`
	NotFollowingBack []graph.User `json:"notFollowingBack"`
	NotFollowedBack  []graph.User `json:"notFollowedBack"`
}

// Search handles POST /api/v1/search.
func (h *Handler) Search(c *gin.Context) {
	var req searchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "username is required")
		return
	}

	s, token, ok := h.session(c)
	if !ok {
		return
	}

	result, err := s.Search(c.Request.Context(), req.Username, token)
	if err != nil {
		writeError(c, err)
		return
	}

	success(c, searchResponse{
		Username:         strings.TrimSpace(req.Username),
		NotFollowingBack: result.NotFollowingBack,
		NotFollowedBack:  result.NotFollowedBack,
	})
}

// Session handles GET /api/v1/session.
func (h *Handler) Session(c *gin.Context) {
	s, _, ok := h.session(c)
	if !ok {
		return
	}
	success(c, s.Snapshot())
}

type mutationResponse struct {
	Login   string `json:"login"`
	Applied bool   `json:"applied"`
}

// Follow handles PUT /api/v1/following/:login.
func (h *Handler) Follow(c *gin.Context) {
	h.mutate(c, (*session.Session).Follow)
}

// Unfollow handles DELETE /api/v1/following/:login.
func (h *Handler) Unfollow(c *gin.Context) {
	h.mutate(c, (*session.Session).Unfollow)
}

func (h *Handler) mutate(c *gin.Context, op func(*session.Session, context.Context, string, string) (bool, error)) {
	login := strings.TrimSpace(c.Param("login"))
	if login == "" {
		badRequest(c, "login is required")
		return
	}

	s, token, ok := h.session(c)
	if !ok {
		return
	}

	applied, err := op(s, c.Request.Context(), login, token)
	if err != nil {
		writeError(c, err)
		return
	}

	success(c, mutationResponse{Login: login, Applied: applied})
}

type failureInfo struct {
	Login   string `json:"login"`
	Kind    string `json:"kind,omitempty"`
	Message string `json:"message"`
}

type bulkResponse struct {
	Attempted int           `json:"attempted"`
	Succeeded []string      `json:"succeeded"`
	Failures  []failureInfo `json:"failures"`
	Waves     int           `json:"waves"`
	Stopped   string        `json:"stopped,omitempty"`
}

// FollowAll handles POST /api/v1/follow-all.
func (h *Handler) FollowAll(c *gin.Context) {
	h.mutateAll(c, (*session.Session).FollowAll)
}

// UnfollowAll handles POST /api/v1/unfollow-all.
func (h *Handler) UnfollowAll(c *gin.Context) {
	h.mutateAll(c, (*session.Session).UnfollowAll)
}

func (h *Handler) mutateAll(c *gin.Context, op func(*session.Session, context.Context, string) (batch.Report[graph.User], error)) {
	s, token, ok := h.session(c)
	if !ok {
		return
	}

	report, err := op(s, c.Request.Context(), token)
	if err != nil {
		writeError(c, err)
		return
	}

	success(c, newBulkResponse(report))
}

func newBulkResponse(report batch.Report[graph.User]) bulkResponse {
	resp := bulkResponse{
		Attempted: report.Attempted,
		Succeeded: graph.Logins(report.Succeeded),
		Failures:  make([]failureInfo, 0, len(report.Failures)),
		Waves:     report.Waves,
	}
	for _, f := range report.Failures {
		resp.Failures = append(resp.Failures, failureInfo{
			Login:   f.Item.Login,
			Kind:    string(github.KindOf(f.Err)),
			Message: f.Err.Error(),
		})
	}
	if report.Stopped != nil {
		resp.Stopped = report.Stopped.Error()
	}
	return resp
}

// Visit handles GET /api/stats: counts a visit and returns the stats.
func (h *Handler) Visit(c *gin.Context) {
	st, err := h.recorder.Visit(c.Request.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to record visit")
		fail(c, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to record visit")
		return
	}
	success(c, st)
}

type recordSearchRequest struct {
	Username string `json:"username"`
}

// RecordSearch handles POST /api/stats.
func (h *Handler) RecordSearch(c *gin.Context) {
	var req recordSearchRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Username) == "" {
		badRequest(c, "username is required")
		return
	}

	st, err := h.recorder.RecordSearch(c.Request.Context(), req.Username)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to record search")
		fail(c, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to record search")
		return
	}
	success(c, st)
}
