package http

import (
	"net/http"
	"time"

	"github.com/dmitrijs2005/authgate/internal/logging"
	"github.com/dmitrijs2005/authgate/internal/server/models"
	"github.com/dmitrijs2005/authgate/internal/server/services"
	"github.com/gin-gonic/gin"
)

const identityKey = "identity"

// requestLogger writes one line per request, at warn for 4xx and error for 5xx.
// Bodies are never logged: they carry passwords.
func requestLogger(l logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		c.Next()

		status := c.Writer.Status()
		args := []any{
			"status", status,
			"method", c.Request.Method,
			"path", path,
			"ip", c.ClientIP(),
			"latency", time.Since(start).String(),
		}
		if errs := c.Errors.ByType(gin.ErrorTypePrivate).String(); errs != "" {
			args = append(args, "errors", errs)
		}

		ctx := c.Request.Context()
		switch {
		case status >= 500:
			l.Error(ctx, "request", args...)
		case status >= 400:
			l.Warn(ctx, "request", args...)
		default:
			l.Info(ctx, "request", args...)
		}
	}
}

// requireAuth resolves the caller through the DB-backed check. Any failure
// clears the auth cookies and answers 401.
func (s *Server) requireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := s.deps.Cookies.AccessToken(c.Request)
		if token == "" {
			abortWithError(c, http.StatusUnauthorized, "Unauthorized")
			return
		}
		id, err := s.deps.Auth.Authenticate(c.Request.Context(), token)
		if err != nil {
			s.logger.Warn(c.Request.Context(), "authentication failed", "error", err)
			s.deps.Cookies.ClearAuthCookies(c.Writer)
			abortWithError(c, http.StatusUnauthorized, "Unauthorized")
			return
		}
		c.Set(identityKey, id)
		c.Next()
	}
}

func identity(c *gin.Context) *services.Identity {
	v, ok := c.Get(identityKey)
	if !ok {
		return nil
	}
	id, _ := v.(*services.Identity)
	return id
}

// clientInfo describes the caller. The IP comes from gin, which honours
// forwarding headers only when the peer is a trusted proxy.
func clientInfo(c *gin.Context) models.ClientInfo {
	return models.ClientInfo{IPAddress: c.ClientIP(), UserAgent: c.Request.UserAgent()}
}

func abortWithError(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"success": false, "error": msg})
}
