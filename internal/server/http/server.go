// Package http is the browser-facing side of the gateway: the JSON auth API,
// the route guard and the reverse proxy to the application behind it.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/dmitrijs2005/authgate/internal/logging"
	"github.com/dmitrijs2005/authgate/internal/server/auth"
	"github.com/dmitrijs2005/authgate/internal/server/config"
	"github.com/dmitrijs2005/authgate/internal/server/models"
	"github.com/dmitrijs2005/authgate/internal/server/services"
	"github.com/dmitrijs2005/authgate/internal/server/session"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const shutdownTimeout = 10 * time.Second

// AuthService is the subset of services.AuthService the handlers use.
type AuthService interface {
	Register(ctx context.Context, in services.RegisterInput, client models.ClientInfo) (*services.AuthResult, error)
	Login(ctx context.Context, in services.LoginInput, client models.ClientInfo) (*services.AuthResult, error)
	Refresh(ctx context.Context, refreshToken string, client models.ClientInfo) (*services.AuthResult, error)
	Logout(ctx context.Context, refreshToken, accessToken string, client models.ClientInfo) error
	Authenticate(ctx context.Context, accessToken string) (*services.Identity, error)
	ListSessions(ctx context.Context, userID string) ([]models.RefreshToken, error)
	RevokeSession(ctx context.Context, userID, sessionID string, client models.ClientInfo) error
	RevokeAllSessions(ctx context.Context, userID string, client models.ClientInfo) (int64, error)
}

// Pinger reports database liveness; *sql.DB satisfies it.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Deps are the collaborators of the HTTP server.
type Deps struct {
	Auth     AuthService
	Tokens   *auth.TokenService
	Cookies  *session.Manager
	Recorder services.AuditRecorder // guard redirects; must not block
	DB       Pinger
	Logger   logging.Logger
}

type Server struct {
	address string
	deps    Deps
	logger  logging.Logger
	engine  *gin.Engine

	authLimiter    *ipLimiter
	refreshLimiter *ipLimiter
}

func init() {
	gin.SetMode(gin.ReleaseMode)
}

// NewServer builds the router. It fails on an unparsable upstream URL or a
// malformed trusted proxy entry.
func NewServer(cfg *config.Config, deps Deps) (*Server, error) {
	s := &Server{
		address: cfg.EndpointAddrHTTP,
		deps:    deps,
		logger:  deps.Logger.With("module", "http_server"),
		authLimiter: newIPLimiter(
			rate.Every(cfg.LoginWindow/time.Duration(cfg.LoginAttempts)),
			cfg.LoginAttempts,
		),
		refreshLimiter: newIPLimiter(rate.Every(2*time.Second), 30),
	}

	// the refresh token is only ever read by /api/auth/refresh
	var strip []string
	if deps.Cookies != nil {
		strip = append(strip, deps.Cookies.RefreshCookieName())
	}
	upstream, err := newUpstream(cfg.UpstreamURL, strip, s.logger)
	if err != nil {
		return nil, err
	}

	r := gin.New()
	if err := r.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		return nil, fmt.Errorf("trusted proxies: %w", err)
	}
	r.Use(requestLogger(s.logger))
	r.Use(gin.Recovery())
	r.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	r.GET("/healthz", s.healthz)

	api := r.Group("/api/auth")
	{
		limited := api.Group("", s.authLimiter.middleware())
		limited.POST("/register", s.register)
		limited.POST("/login", s.login)

		refresh := api.Group("", s.refreshLimiter.middleware())
		refresh.POST("/refresh", s.refresh)
		refresh.GET("/refresh", s.refresh)

		api.POST("/logout", s.logout)

		protected := api.Group("", s.requireAuth())
		protected.POST("/logout-all", s.logoutAll)
		protected.GET("/me", s.me)
		protected.GET("/sessions", s.listSessions)
		protected.DELETE("/sessions/:id", s.revokeSession)
	}

	guard := NewGuard(DefaultGuardConfig(), deps.Tokens, deps.Cookies, deps.Recorder, s.logger)
	r.NoRoute(guard.Middleware(), upstream)

	s.engine = r
	return s, nil
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.address,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go s.authLimiter.cleanup(ctx, time.Minute, 30*time.Minute)
	go s.refreshLimiter.cleanup(ctx, time.Minute, 30*time.Minute)

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Error(ctx, "http shutdown", "error", err)
		}
	}()

	s.logger.Info(ctx, "Starting HTTP server", "address", s.address)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	if s.deps.DB != nil {
		if err := s.deps.DB.PingContext(ctx); err != nil {
			s.logger.Warn(ctx, "health check failed", "error", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
