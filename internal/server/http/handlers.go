package http

import (
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dmitrijs2005/authgate/internal/common"
	"github.com/dmitrijs2005/authgate/internal/server/services"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type registerRequest struct {
	Email     string `json:"email"`
	Username  string `json:"username"`
	Password  string `json:"password"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

type loginRequest struct {
	Identifier string `json:"identifier"`
	Email      string `json:"email"`
	Password   string `json:"password"`
}

type sessionView struct {
	ID         string    `json:"id"`
	UserAgent  string    `json:"userAgent"`
	IPAddress  string    `json:"ipAddress"`
	CreatedAt  time.Time `json:"createdAt"`
	LastUsedAt time.Time `json:"lastUsedAt"`
	ExpiresAt  time.Time `json:"expiresAt"`
	Current    bool      `json:"current"`
}

func (s *Server) register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, "Invalid request body")
		return
	}

	res, err := s.deps.Auth.Register(c.Request.Context(), services.RegisterInput{
		Email:     req.Email,
		Username:  req.Username,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
	}, clientInfo(c))
	if err != nil {
		s.writeError(c, err, "Registration failed")
		return
	}

	s.deps.Cookies.SetAuthCookies(c.Writer, res.Tokens.AccessToken, res.Tokens.RefreshToken)
	c.JSON(http.StatusCreated, gin.H{"success": true, "user": res.User})
}

func (s *Server) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Identifier == "" {
		req.Identifier = req.Email
	}

	res, err := s.deps.Auth.Login(c.Request.Context(), services.LoginInput{
		Identifier: req.Identifier,
		Password:   req.Password,
	}, clientInfo(c))
	if err != nil {
		s.writeError(c, err, "Login failed")
		return
	}

	s.deps.Cookies.SetAuthCookies(c.Writer, res.Tokens.AccessToken, res.Tokens.RefreshToken)
	c.JSON(http.StatusOK, gin.H{"success": true, "user": res.User})
}

// refresh serves both the JSON API and middleware-initiated navigation. With
// a valid callbackUrl it answers with redirects instead of JSON.
func (s *Server) refresh(c *gin.Context) {
	ctx := c.Request.Context()
	callback := safeCallback(c.Query("callbackUrl"))

	token := s.deps.Cookies.RefreshToken(c.Request)
	if token == "" {
		s.deps.Cookies.ClearAuthCookies(c.Writer)
		if callback != "" {
			c.Redirect(http.StatusTemporaryRedirect, loginURL(callback))
			return
		}
		abortWithError(c, http.StatusBadRequest, "Refresh token is required")
		return
	}

	res, err := s.deps.Auth.Refresh(ctx, token, clientInfo(c))
	if err != nil {
		s.logger.Warn(ctx, "refresh failed", "error", err)
		s.deps.Cookies.ClearAuthCookies(c.Writer)
		if callback != "" {
			c.Redirect(http.StatusTemporaryRedirect, loginURL(callback))
			return
		}
		msg := "Invalid refresh token"
		switch {
		case errors.Is(err, common.ErrRefreshTokenExpired):
			msg = "Refresh token expired"
		case errors.Is(err, common.ErrorInternal):
			msg = "An error occurred during token refresh"
		}
		abortWithError(c, http.StatusUnauthorized, msg)
		return
	}

	s.deps.Cookies.SetAuthCookies(c.Writer, res.Tokens.AccessToken, res.Tokens.RefreshToken)
	if callback != "" {
		c.Redirect(http.StatusTemporaryRedirect, callback)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "user": res.User})
}

// logout always succeeds from the client's point of view.
func (s *Server) logout(c *gin.Context) {
	ctx := c.Request.Context()
	err := s.deps.Auth.Logout(ctx,
		s.deps.Cookies.RefreshToken(c.Request),
		s.deps.Cookies.AccessToken(c.Request),
		clientInfo(c),
	)
	if err != nil {
		s.logger.Warn(ctx, "logout cleanup failed", "error", err)
	}
	s.deps.Cookies.ClearAuthCookies(c.Writer)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) logoutAll(c *gin.Context) {
	id := identity(c)
	n, err := s.deps.Auth.RevokeAllSessions(c.Request.Context(), id.User.ID, clientInfo(c))
	if err != nil {
		s.writeError(c, err, "Logout failed")
		return
	}
	s.deps.Cookies.ClearAuthCookies(c.Writer)
	c.JSON(http.StatusOK, gin.H{"success": true, "revoked": n})
}

func (s *Server) me(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"success": true, "user": identity(c).User})
}

func (s *Server) listSessions(c *gin.Context) {
	id := identity(c)
	list, err := s.deps.Auth.ListSessions(c.Request.Context(), id.User.ID)
	if err != nil {
		s.writeError(c, err, "internal error")
		return
	}

	out := make([]sessionView, 0, len(list))
	for _, t := range list {
		out = append(out, sessionView{
			ID:         t.ID,
			UserAgent:  t.UserAgent,
			IPAddress:  t.IPAddress,
			CreatedAt:  t.CreatedAt,
			LastUsedAt: t.LastUsedAt,
			ExpiresAt:  t.ExpiresAt,
			Current:    t.ID == id.Session.ID,
		})
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "sessions": out})
}

func (s *Server) revokeSession(c *gin.Context) {
	id := identity(c)
	sessionID := c.Param("id")
	if _, err := uuid.Parse(sessionID); err != nil {
		abortWithError(c, http.StatusNotFound, "Not found")
		return
	}
	err := s.deps.Auth.RevokeSession(c.Request.Context(), id.User.ID, sessionID, clientInfo(c))
	if err != nil {
		s.writeError(c, err, "internal error")
		return
	}
	if sessionID == id.Session.ID {
		s.deps.Cookies.ClearAuthCookies(c.Writer)
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// writeError maps service errors to status codes. Unknown errors become a
// generic message; the details are already logged by the service.
func (s *Server) writeError(c *gin.Context, err error, fallback string) {
	var verr *services.ValidationError
	switch {
	case errors.As(err, &verr):
		abortWithError(c, http.StatusBadRequest, verr.Message)
	case errors.Is(err, common.ErrEmailTaken), errors.Is(err, common.ErrUsernameTaken):
		abortWithError(c, http.StatusConflict, err.Error())
	case errors.Is(err, common.ErrInvalidCredentials):
		abortWithError(c, http.StatusUnauthorized, err.Error())
	case errors.Is(err, common.ErrTooManyAttempts):
		abortWithError(c, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, common.ErrorNotFound):
		abortWithError(c, http.StatusNotFound, "Not found")
	case errors.Is(err, common.ErrorUnauthorized):
		abortWithError(c, http.StatusUnauthorized, "Unauthorized")
	default:
		_ = c.Error(err)
		abortWithError(c, http.StatusInternalServerError, fallback)
	}
}

// safeCallback accepts only same-origin relative paths.
func safeCallback(raw string) string {
	if raw == "" || !strings.HasPrefix(raw, "/") || strings.HasPrefix(raw, "//") || strings.HasPrefix(raw, "/\\") {
		return ""
	}
	return raw
}

func loginURL(callback string) string {
	return "/login?callbackUrl=" + url.QueryEscape(callback)
}
