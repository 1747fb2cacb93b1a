package http

import (
	"net/http"
	"strings"

	"github.com/dmitrijs2005/authgate/internal/logging"
	"github.com/dmitrijs2005/authgate/internal/server/auth"
	"github.com/dmitrijs2005/authgate/internal/server/models"
	"github.com/dmitrijs2005/authgate/internal/server/services"
	"github.com/dmitrijs2005/authgate/internal/server/session"
	"github.com/gin-gonic/gin"
)

// RouteClass says who may see a path.
type RouteClass int

const (
	RoutePass RouteClass = iota
	RoutePublicOnly
	RouteAuthOnly
)

// TokenState is the result of stateless access token verification.
type TokenState int

const (
	TokenNone TokenState = iota
	TokenValid
	TokenInvalid
)

// GuardConfig lists the paths the guard acts on.
type GuardConfig struct {
	// Paths starting with an Excluded prefix, or equal to an ExcludedExact
	// path, are never inspected.
	Excluded      []string
	ExcludedExact []string
	// PublicOnly paths are for anonymous users (exact match).
	PublicOnly []string
	// AuthOnly prefixes require a token; "/dashboard" covers "/dashboard/x".
	AuthOnly  []string
	LoginPath string
	HomePath  string
}

func DefaultGuardConfig() GuardConfig {
	return GuardConfig{
		Excluded:      []string{"/api", "/_next/static", "/_next/image", "/images"},
		ExcludedExact: []string{"/favicon.ico"},
		PublicOnly:    []string{"/login", "/register"},
		AuthOnly:      []string{"/dashboard"},
		LoginPath:     "/login",
		HomePath:      "/dashboard",
	}
}

// Guard redirects between public-only and auth-only pages based on the
// access cookie alone; it never touches the database.
type Guard struct {
	cfg      GuardConfig
	tokens   *auth.TokenService
	cookies  *session.Manager
	recorder services.AuditRecorder
	logger   logging.Logger
}

func NewGuard(cfg GuardConfig, tokens *auth.TokenService, cookies *session.Manager, rec services.AuditRecorder, l logging.Logger) *Guard {
	return &Guard{cfg: cfg, tokens: tokens, cookies: cookies, recorder: rec, logger: l}
}

// Skip reports whether path bypasses the guard.
func (g *Guard) Skip(path string) bool {
	for _, p := range g.cfg.ExcludedExact {
		if path == p {
			return true
		}
	}
	for _, p := range g.cfg.Excluded {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

func (g *Guard) Classify(path string) RouteClass {
	for _, p := range g.cfg.PublicOnly {
		if path == p {
			return RoutePublicOnly
		}
	}
	for _, p := range g.cfg.AuthOnly {
		if hasPathPrefix(path, p) {
			return RouteAuthOnly
		}
	}
	return RoutePass
}

// State verifies the token's signature and expiry only. A missing secret
// makes every token invalid.
func (g *Guard) State(token string) (TokenState, *auth.Claims) {
	if token == "" {
		return TokenNone, nil
	}
	if g.tokens == nil {
		return TokenInvalid, nil
	}
	claims, err := g.tokens.Verify(token)
	if err != nil {
		return TokenInvalid, nil
	}
	return TokenValid, claims
}

func (g *Guard) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.Request.URL.Path
		if g.Skip(path) {
			c.Next()
			return
		}

		class := g.Classify(path)
		if class == RoutePass {
			c.Next()
			return
		}

		state, claims := g.State(g.cookies.AccessToken(c.Request))

		switch {
		case class == RoutePublicOnly && state == TokenValid:
			g.audit(c, models.ActionRedirectDashboard, claims.UserID(), path)
			c.Redirect(http.StatusTemporaryRedirect, g.cfg.HomePath)
			c.Abort()
		case class == RouteAuthOnly && state != TokenValid:
			if state == TokenInvalid {
				g.cookies.ClearAuthCookies(c.Writer)
			}
			g.audit(c, models.ActionRedirectLogin, "", path)
			c.Redirect(http.StatusTemporaryRedirect, g.cfg.LoginPath)
			c.Abort()
		default:
			c.Next()
		}
	}
}

func (g *Guard) audit(c *gin.Context, action models.AuditAction, userID, path string) {
	g.logger.Debug(c.Request.Context(), "guard redirect", "action", action, "path", path)
	if g.recorder == nil {
		return
	}
	ci := clientInfo(c)
	g.recorder.Record(c.Request.Context(), models.AuditEvent{
		UserID:    userID,
		Action:    action,
		IPAddress: ci.IPAddress,
		UserAgent: ci.UserAgent,
		Path:      path,
	})
}

func hasPathPrefix(path, prefix string) bool {
	return path == prefix || strings.HasPrefix(path, strings.TrimSuffix(prefix, "/")+"/")
}
