package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Sternrassler/follow-reconciler/pkg/github"
	"github.com/Sternrassler/follow-reconciler/pkg/session"
)

// Response is the envelope of every API response.
type Response struct {
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Error   *ErrorInfo `json:"error,omitempty"`
}

// ErrorInfo contains error details.
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	// Kind is the GitHub error kind when the failure came from GitHub.
	Kind string `json:"kind,omitempty"`
}

func success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, Response{Success: true, Data: data})
}

func fail(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, Response{
		Success: false,
		Error:   &ErrorInfo{Code: code, Message: message},
	})
}

func badRequest(c *gin.Context, message string) {
	fail(c, http.StatusBadRequest, "BAD_REQUEST", message)
}

func unauthorized(c *gin.Context, message string) {
	fail(c, http.StatusUnauthorized, "UNAUTHORIZED", message)
}

// kindStatus maps GitHub error kinds to the status returned to API callers.
var kindStatus = map[github.ErrorKind]struct {
	status int
	code   string
}{
	github.KindUnauthenticated:  {http.StatusUnauthorized, "UNAUTHORIZED"},
	github.KindPermissionDenied: {http.StatusForbidden, "FORBIDDEN"},
	github.KindRateLimited:      {http.StatusTooManyRequests, "RATE_LIMITED"},
	github.KindNotFound:         {http.StatusNotFound, "NOT_FOUND"},
	github.KindServerError:      {http.StatusBadGateway, "UPSTREAM_ERROR"},
	github.KindTransport:        {http.StatusGatewayTimeout, "UPSTREAM_UNAVAILABLE"},
	github.KindUnclassified:     {http.StatusBadGateway, "UPSTREAM_ERROR"},
}

// statusFor returns the HTTP status and code for err.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, github.ErrMissingCredentials):
		return http.StatusBadRequest, "BAD_REQUEST"
	case errors.Is(err, session.ErrOperationInProgress):
		return http.StatusConflict, "CONFLICT"
	}
	if m, ok := kindStatus[github.KindOf(err)]; ok {
		return m.status, m.code
	}
	return http.StatusInternalServerError, "INTERNAL_ERROR"
}

func writeError(c *gin.Context, err error) {
	status, code := statusFor(err)
	c.AbortWithStatusJSON(status, Response{
		Success: false,
		Error: &ErrorInfo{
			Code:    code,
			Message: err.Error(),
			Kind:    string(github.KindOf(err)),
		},
	})
}
