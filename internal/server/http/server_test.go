package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/authgate/internal/common"
	"github.com/dmitrijs2005/authgate/internal/logging"
	"github.com/dmitrijs2005/authgate/internal/server/auth"
	"github.com/dmitrijs2005/authgate/internal/server/config"
	"github.com/dmitrijs2005/authgate/internal/server/models"
	"github.com/dmitrijs2005/authgate/internal/server/services"
	"github.com/dmitrijs2005/authgate/internal/server/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- fakes ---

type fakeAuth struct {
	register     func(services.RegisterInput) (*services.AuthResult, error)
	login        func(services.LoginInput) (*services.AuthResult, error)
	refresh      func(string) (*services.AuthResult, error)
	authenticate func(string) (*services.Identity, error)
	sessions     []models.RefreshToken
	revokeErr    error
	revokeCalls  int
	revokedAll   int64

	mu          sync.Mutex
	logoutCalls [][2]string
	lastClient  models.ClientInfo
}

func (f *fakeAuth) Register(_ context.Context, in services.RegisterInput, ci models.ClientInfo) (*services.AuthResult, error) {
	f.lastClient = ci
	return f.register(in)
}

func (f *fakeAuth) Login(_ context.Context, in services.LoginInput, ci models.ClientInfo) (*services.AuthResult, error) {
	f.lastClient = ci
	return f.login(in)
}

func (f *fakeAuth) Refresh(_ context.Context, token string, _ models.ClientInfo) (*services.AuthResult, error) {
	return f.refresh(token)
}

func (f *fakeAuth) Logout(_ context.Context, refreshToken, accessToken string, _ models.ClientInfo) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logoutCalls = append(f.logoutCalls, [2]string{refreshToken, accessToken})
	return errors.New("cleanup failed")
}

func (f *fakeAuth) Authenticate(_ context.Context, token string) (*services.Identity, error) {
	return f.authenticate(token)
}

func (f *fakeAuth) ListSessions(context.Context, string) ([]models.RefreshToken, error) {
	return f.sessions, nil
}

func (f *fakeAuth) RevokeSession(context.Context, string, string, models.ClientInfo) error {
	f.revokeCalls++
	return f.revokeErr
}

func (f *fakeAuth) RevokeAllSessions(context.Context, string, models.ClientInfo) (int64, error) {
	return f.revokedAll, nil
}

type fakeRecorder struct {
	mu     sync.Mutex
	events []models.AuditEvent
}

func (f *fakeRecorder) Record(_ context.Context, e models.AuditEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, e)
}

type fakePinger struct{ err error }

func (p fakePinger) PingContext(context.Context) error { return p.err }

// --- fixture ---

var testUser = &models.User{ID: "u-1", Email: "test@example.com", Username: "tester", Role: models.RoleUser}

func okResult() *services.AuthResult {
	return &services.AuthResult{
		User:      testUser,
		Tokens:    &services.TokenPair{AccessToken: "new-access", RefreshToken: "new-refresh"},
		SessionID: "s-new",
	}
}

type env struct {
	srv    *Server
	auth   *fakeAuth
	rec    *fakeRecorder
	tokens *auth.TokenService
	cfg    *config.Config
}

func newEnv(t *testing.T, mutate ...func(*config.Config)) *env {
	t.Helper()
	cfg := &config.Config{}
	cfg.LoadDefaults()
	cfg.SecretKey = "test-secret"
	for _, m := range mutate {
		m(cfg)
	}

	tokens, err := auth.NewTokenService(cfg.SecretKey, cfg.AccessTokenValidityDuration)
	require.NoError(t, err)

	fa := &fakeAuth{
		register: func(services.RegisterInput) (*services.AuthResult, error) { return okResult(), nil },
		login:    func(services.LoginInput) (*services.AuthResult, error) { return okResult(), nil },
		refresh:  func(string) (*services.AuthResult, error) { return okResult(), nil },
		authenticate: func(string) (*services.Identity, error) {
			return nil, common.ErrorUnauthorized
		},
	}
	rec := &fakeRecorder{}

	srv, err := NewServer(cfg, Deps{
		Auth:     fa,
		Tokens:   tokens,
		Cookies:  session.NewManager(cfg),
		Recorder: rec,
		DB:       fakePinger{},
		Logger:   logging.Discard(),
	})
	require.NoError(t, err)
	return &env{srv: srv, auth: fa, rec: rec, tokens: tokens, cfg: cfg}
}

func (e *env) do(method, target, body string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func cookieMap(rec *httptest.ResponseRecorder) map[string]*http.Cookie {
	out := map[string]*http.Cookie{}
	for _, c := range rec.Result().Cookies() {
		out[c.Name] = c
	}
	return out
}

func assertCleared(t *testing.T, rec *httptest.ResponseRecorder) {
	t.Helper()
	got := cookieMap(rec)
	for _, name := range []string{"access_token", "refresh_token"} {
		c, ok := got[name]
		if assert.True(t, ok, "cookie %s not written", name) {
			assert.Equal(t, -1, c.MaxAge, name)
			assert.Empty(t, c.Value, name)
		}
	}
}

func assertSet(t *testing.T, rec *httptest.ResponseRecorder) {
	t.Helper()
	got := cookieMap(rec)
	require.Contains(t, got, "access_token")
	require.Contains(t, got, "refresh_token")
	assert.Equal(t, "new-access", got["access_token"].Value)
	assert.Equal(t, "new-refresh", got["refresh_token"].Value)
	assert.True(t, got["access_token"].HttpOnly)
}

const (
	currentSessionID = "6f0d3a52-1c7e-4b8a-9f21-3e4d5c6b7a80"
	otherSessionID   = "a8c4e2f0-5b3d-4e9a-8c17-2f6e0d9b1a34"
)

func validAccessCookie(t *testing.T, tokens *auth.TokenService) *http.Cookie {
	t.Helper()
	tok, err := tokens.Create(auth.Payload{UserID: "u-1", Email: "test@example.com", Role: "user", SessionID: currentSessionID})
	require.NoError(t, err)
	return &http.Cookie{Name: "access_token", Value: tok}
}

// --- API ---

func TestRegister(t *testing.T) {
	tests := []struct {
		name       string
		svcErr     error
		body       string
		wantStatus int
		wantError  string
	}{
		{"success", nil, `{"email":"test@example.com","password":"TestPassword123!"}`, http.StatusCreated, ""},
		{"validation", &services.ValidationError{Field: "Password", Message: "Password is required"}, `{"email":"a@b.co"}`, http.StatusBadRequest, "Password is required"},
		{"email taken", common.ErrEmailTaken, `{"email":"a@b.co","password":"x"}`, http.StatusConflict, "Email already in use"},
		{"username taken", common.ErrUsernameTaken, `{"email":"a@b.co","password":"x"}`, http.StatusConflict, "Username already in use"},
		{"internal", errors.New("db down"), `{"email":"a@b.co","password":"x"}`, http.StatusInternalServerError, "Registration failed"},
		{"bad json", nil, `{`, http.StatusBadRequest, "Invalid request body"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t)
			e.auth.register = func(in services.RegisterInput) (*services.AuthResult, error) {
				if tt.svcErr != nil {
					return nil, tt.svcErr
				}
				return okResult(), nil
			}
			rec := e.do(http.MethodPost, "/api/auth/register", tt.body)
			assert.Equal(t, tt.wantStatus, rec.Code)
			body := decode(t, rec)
			if tt.wantError == "" {
				assert.Equal(t, true, body["success"])
				user := body["user"].(map[string]any)
				assert.Equal(t, "u-1", user["id"])
				assert.NotContains(t, user, "passwordHash")
				assertSet(t, rec)
				return
			}
			assert.Equal(t, false, body["success"])
			assert.Equal(t, tt.wantError, body["error"])
			assert.Empty(t, rec.Result().Cookies())
		})
	}
}

func TestLogin(t *testing.T) {
	e := newEnv(t)
	var got services.LoginInput
	e.auth.login = func(in services.LoginInput) (*services.AuthResult, error) {
		got = in
		if in.Password != "TestPassword123!" {
			return nil, common.ErrInvalidCredentials
		}
		return okResult(), nil
	}

	rec := e.do(http.MethodPost, "/api/auth/login", `{"email":"test@example.com","password":"TestPassword123!"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "test@example.com", got.Identifier)
	assertSet(t, rec)

	rec = e.do(http.MethodPost, "/api/auth/login", `{"identifier":"tester","password":"nope"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "tester", got.Identifier)
	assert.Equal(t, "Invalid credentials", decode(t, rec)["error"])
}

func TestLogin_ClientInfo(t *testing.T) {
	tests := []struct {
		name    string
		trusted []string
		want    string
	}{
		{name: "trusted proxy chain", trusted: []string{"192.0.2.1", "10.0.0.0/8"}, want: "203.0.113.7"},
		{name: "last hop untrusted", trusted: []string{"192.0.2.1"}, want: "10.0.0.1"},
		{name: "no trusted proxies", trusted: nil, want: "192.0.2.1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t, func(c *config.Config) { c.TrustedProxies = tt.trusted })
			req := httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(`{"identifier":"x","password":"y"}`))
			req.RemoteAddr = "192.0.2.1:1234"
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
			req.Header.Set("User-Agent", "unit-test")
			e.srv.Handler().ServeHTTP(httptest.NewRecorder(), req)

			assert.Equal(t, tt.want, e.auth.lastClient.IPAddress)
			assert.Equal(t, "unit-test", e.auth.lastClient.UserAgent)
		})
	}
}

func TestLogin_RateLimitIgnoresSpoofedForwarding(t *testing.T) {
	e := newEnv(t)
	e.auth.login = func(services.LoginInput) (*services.AuthResult, error) {
		return nil, common.ErrInvalidCredentials
	}

	limited := 0
	for i := 0; i < 20; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(`{"identifier":"x","password":"y"}`))
		req.RemoteAddr = "198.51.100.9:4000"
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("10.0.0.%d", i+1))
		req.Header.Set("X-Real-IP", fmt.Sprintf("10.1.0.%d", i+1))
		rec := httptest.NewRecorder()
		e.srv.Handler().ServeHTTP(rec, req)
		if rec.Code == http.StatusTooManyRequests {
			limited++
		}
	}
	assert.Equal(t, 20-e.cfg.LoginAttempts, limited)
}

func TestNewServer_BadTrustedProxy(t *testing.T) {
	cfg := &config.Config{}
	cfg.LoadDefaults()
	cfg.TrustedProxies = []string{"not-an-ip"}
	_, err := NewServer(cfg, Deps{Logger: logging.Discard()})
	assert.Error(t, err)
}

func TestLogin_RateLimited(t *testing.T) {
	e := newEnv(t)
	e.auth.login = func(services.LoginInput) (*services.AuthResult, error) {
		return nil, common.ErrInvalidCredentials
	}

	for i := 0; i < e.cfg.LoginAttempts; i++ {
		rec := e.do(http.MethodPost, "/api/auth/login", `{"identifier":"x","password":"y"}`)
		require.Equal(t, http.StatusUnauthorized, rec.Code, "attempt %d", i+1)
	}
	rec := e.do(http.MethodPost, "/api/auth/login", `{"identifier":"x","password":"y"}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Equal(t, common.ErrTooManyAttempts.Error(), decode(t, rec)["error"])

	// register shares the same bucket
	rec = e.do(http.MethodPost, "/api/auth/register", `{"email":"a@b.co","password":"x"}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestRefresh(t *testing.T) {
	refreshCookie := &http.Cookie{Name: "refresh_token", Value: "old-refresh"}

	t.Run("missing cookie", func(t *testing.T) {
		e := newEnv(t)
		rec := e.do(http.MethodPost, "/api/auth/refresh", "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "Refresh token is required", decode(t, rec)["error"])
		assertCleared(t, rec)
	})

	t.Run("success", func(t *testing.T) {
		e := newEnv(t)
		var presented string
		e.auth.refresh = func(tok string) (*services.AuthResult, error) {
			presented = tok
			return okResult(), nil
		}
		rec := e.do(http.MethodPost, "/api/auth/refresh", "", refreshCookie)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "old-refresh", presented)
		assert.Equal(t, true, decode(t, rec)["success"])
		assertSet(t, rec)
	})

	failures := map[string]struct {
		err error
		msg string
	}{
		"invalid": {common.ErrInvalidRefreshToken, "Invalid refresh token"},
		"expired": {common.ErrRefreshTokenExpired, "Refresh token expired"},
	}
	for name, f := range failures {
		t.Run(name, func(t *testing.T) {
			e := newEnv(t)
			e.auth.refresh = func(string) (*services.AuthResult, error) { return nil, f.err }
			rec := e.do(http.MethodPost, "/api/auth/refresh", "", refreshCookie)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Equal(t, f.msg, decode(t, rec)["error"])
			assertCleared(t, rec)
		})
	}

	t.Run("GET with callback redirects back", func(t *testing.T) {
		e := newEnv(t)
		rec := e.do(http.MethodGet, "/api/auth/refresh?callbackUrl=%2Fdashboard%2Fsettings", "", refreshCookie)
		assert.Equal(t, http.StatusTemporaryRedirect, rec.Code)
		assert.Equal(t, "/dashboard/settings", rec.Header().Get("Location"))
		assertSet(t, rec)
	})

	t.Run("GET with callback failure redirects to login", func(t *testing.T) {
		e := newEnv(t)
		e.auth.refresh = func(string) (*services.AuthResult, error) { return nil, common.ErrInvalidRefreshToken }
		rec := e.do(http.MethodGet, "/api/auth/refresh?callbackUrl=%2Fdashboard", "", refreshCookie)
		assert.Equal(t, http.StatusTemporaryRedirect, rec.Code)
		assert.Equal(t, "/login?callbackUrl=%2Fdashboard", rec.Header().Get("Location"))
		assertCleared(t, rec)
	})

	t.Run("open redirect is ignored", func(t *testing.T) {
		e := newEnv(t)
		rec := e.do(http.MethodGet, "/api/auth/refresh?callbackUrl=%2F%2Fevil.example", "", refreshCookie)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, rec.Header().Get("Location"))
	})
}

func TestLogout_AlwaysClears(t *testing.T) {
	tests := []struct {
		name    string
		cookies []*http.Cookie
		want    [2]string
	}{
		{"no cookies", nil, [2]string{"", ""}},
		{"garbage", []*http.Cookie{{Name: "access_token", Value: "x.y.z"}, {Name: "refresh_token", Value: "r"}}, [2]string{"r", "x.y.z"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t)
			rec := e.do(http.MethodPost, "/api/auth/logout", "", tt.cookies...)
			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, true, decode(t, rec)["success"])
			assertCleared(t, rec)
			require.Len(t, e.auth.logoutCalls, 1)
			assert.Equal(t, tt.want, e.auth.logoutCalls[0])
		})
	}
}

func authedEnv(t *testing.T) (*env, *http.Cookie) {
	e := newEnv(t)
	cookie := validAccessCookie(t, e.tokens)
	e.auth.authenticate = func(tok string) (*services.Identity, error) {
		if tok != cookie.Value {
			return nil, common.ErrorUnauthorized
		}
		return &services.Identity{User: testUser, Session: &models.RefreshToken{ID: currentSessionID, UserID: "u-1"}}, nil
	}
	return e, cookie
}

func TestMe(t *testing.T) {
	e, cookie := authedEnv(t)

	rec := e.do(http.MethodGet, "/api/auth/me", "", cookie)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "u-1", decode(t, rec)["user"].(map[string]any)["id"])

	rec = e.do(http.MethodGet, "/api/auth/me", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// a token for a deleted user or revoked session
	rec = e.do(http.MethodGet, "/api/auth/me", "", &http.Cookie{Name: "access_token", Value: "stale"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assertCleared(t, rec)
}

func TestSessions(t *testing.T) {
	e, cookie := authedEnv(t)
	now := time.Now()
	e.auth.sessions = []models.RefreshToken{
		{ID: currentSessionID, UserAgent: "a", LastUsedAt: now},
		{ID: otherSessionID, UserAgent: "b", LastUsedAt: now.Add(-time.Hour)},
	}

	rec := e.do(http.MethodGet, "/api/auth/sessions", "", cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode(t, rec)["sessions"].([]any)
	require.Len(t, list, 2)
	assert.Equal(t, true, list[0].(map[string]any)["current"])
	assert.Equal(t, false, list[1].(map[string]any)["current"])

	rec = e.do(http.MethodDelete, "/api/auth/sessions/"+otherSessionID, "", cookie)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Result().Cookies())

	rec = e.do(http.MethodDelete, "/api/auth/sessions/"+currentSessionID, "", cookie)
	assert.Equal(t, http.StatusOK, rec.Code)
	assertCleared(t, rec)

	e.auth.revokeErr = common.ErrorNotFound
	rec = e.do(http.MethodDelete, "/api/auth/sessions/9b2f7c1e-0d4a-4f3b-8e6c-5a1d2b3c4d5e", "", cookie)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, 3, e.auth.revokeCalls)

	// malformed ids never reach the database
	rec = e.do(http.MethodDelete, "/api/auth/sessions/abc", "", cookie)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Not found", decode(t, rec)["error"])
	assert.Equal(t, 3, e.auth.revokeCalls)
}

func TestLogoutAll(t *testing.T) {
	e, cookie := authedEnv(t)
	e.auth.revokedAll = 3
	rec := e.do(http.MethodPost, "/api/auth/logout-all", "", cookie)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 3, decode(t, rec)["revoked"])
	assertCleared(t, rec)
}

func TestHealthz(t *testing.T) {
	e := newEnv(t)
	rec := e.do(http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	e.srv.deps.DB = fakePinger{err: errors.New("down")}
	rec = e.do(http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestUpstreamProxy(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("backend:" + r.URL.Path + " cookie:" + r.Header.Get("Cookie")))
	}))
	defer backend.Close()

	e := newEnv(t, func(c *config.Config) { c.UpstreamURL = backend.URL })
	cookie := validAccessCookie(t, e.tokens)
	theme := &http.Cookie{Name: "theme", Value: "dark"}
	refresh := &http.Cookie{Name: "refresh_token", Value: "r-1"}

	rec := e.do(http.MethodGet, "/dashboard/reports", "", cookie, refresh, theme)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "backend:/dashboard/reports cookie:access_token="+cookie.Value+"; theme=dark", rec.Body.String())
}

func TestNewServer_BadUpstream(t *testing.T) {
	cfg := &config.Config{}
	cfg.LoadDefaults()
	cfg.UpstreamURL = "::not a url"
	_, err := NewServer(cfg, Deps{Logger: logging.Discard()})
	assert.Error(t, err)
}

func TestSafeCallback(t *testing.T) {
	tests := map[string]string{
		"":                      "",
		"/dashboard":            "/dashboard",
		"/dashboard?tab=1":      "/dashboard?tab=1",
		"//evil.example":        "",
		"/\\evil.example":       "",
		"https://evil.example/": "",
		"dashboard":             "",
	}
	for in, want := range tests {
		assert.Equal(t, want, safeCallback(in), in)
	}
}
