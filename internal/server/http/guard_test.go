package http

import (
	"net/http"
	"testing"
	"time"

	"github.com/dmitrijs2005/authgate/internal/server/auth"
	"github.com/dmitrijs2005/authgate/internal/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGuard_SkipAndClassify(t *testing.T) {
	g := NewGuard(DefaultGuardConfig(), nil, nil, nil, nil)

	skip := map[string]bool{
		"/api/auth/login":        true,
		"/api":                   true,
		"/_next/static/chunk.js": true,
		"/_next/image":           true,
		"/images/logo.png":       true,
		"/favicon.ico":           true,
		"/favicon.ico/x":         false,
		"/dashboard":             false,
		"/":                      false,
	}
	for path, want := range skip {
		assert.Equal(t, want, g.Skip(path), path)
	}

	classes := map[string]RouteClass{
		"/login":         RoutePublicOnly,
		"/register":      RoutePublicOnly,
		"/login/help":    RoutePass,
		"/dashboard":     RouteAuthOnly,
		"/dashboard/":    RouteAuthOnly,
		"/dashboard/a/b": RouteAuthOnly,
		"/dashboards":    RoutePass,
		"/":              RoutePass,
		"/about":         RoutePass,
	}
	for path, want := range classes {
		assert.Equal(t, want, g.Classify(path), path)
	}
}

func TestGuard_State(t *testing.T) {
	e := newEnv(t)
	g := NewGuard(DefaultGuardConfig(), e.tokens, nil, nil, nil)

	state, _ := g.State("")
	assert.Equal(t, TokenNone, state)

	state, _ = g.State("garbage")
	assert.Equal(t, TokenInvalid, state)

	state, claims := g.State(validAccessCookie(t, e.tokens).Value)
	assert.Equal(t, TokenValid, state)
	require.NotNil(t, claims)
	assert.Equal(t, "u-1", claims.UserID())

	other, err := auth.NewTokenService("other-secret", time.Minute)
	require.NoError(t, err)
	foreign, err := other.Create(auth.Payload{UserID: "u-1"})
	require.NoError(t, err)
	state, _ = g.State(foreign)
	assert.Equal(t, TokenInvalid, state)

	expiredSvc, err := auth.NewTokenService("test-secret", -time.Minute)
	require.NoError(t, err)
	expired, err := expiredSvc.Create(auth.Payload{UserID: "u-1"})
	require.NoError(t, err)
	state, _ = g.State(expired)
	assert.Equal(t, TokenInvalid, state)

	// no token service configured: fail closed
	closed := NewGuard(DefaultGuardConfig(), nil, nil, nil, nil)
	state, _ = closed.State(validAccessCookie(t, e.tokens).Value)
	assert.Equal(t, TokenInvalid, state)
}

func TestGuard_Transitions(t *testing.T) {
	tests := []struct {
		name         string
		path         string
		token        string // "", "valid" or "invalid"
		wantStatus   int
		wantLocation string
		wantCleared  bool
		wantAction   models.AuditAction
	}{
		{"public no token", "/login", "", http.StatusOK, "", false, ""},
		{"public invalid token", "/register", "invalid", http.StatusOK, "", false, ""},
		{"public valid token", "/login", "valid", http.StatusTemporaryRedirect, "/dashboard", false, models.ActionRedirectDashboard},
		{"auth-only no token", "/dashboard", "", http.StatusTemporaryRedirect, "/login", false, models.ActionRedirectLogin},
		{"auth-only invalid token", "/dashboard/settings", "invalid", http.StatusTemporaryRedirect, "/login", true, models.ActionRedirectLogin},
		{"auth-only valid token", "/dashboard", "valid", http.StatusOK, "", false, ""},
		{"pass no token", "/about", "", http.StatusOK, "", false, ""},
		{"pass invalid token", "/about", "invalid", http.StatusOK, "", false, ""},
		{"pass valid token", "/", "valid", http.StatusOK, "", false, ""},
		{"excluded api path", "/api/unknown", "", http.StatusOK, "", false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t)
			var cookies []*http.Cookie
			switch tt.token {
			case "valid":
				cookies = append(cookies, validAccessCookie(t, e.tokens))
			case "invalid":
				cookies = append(cookies, &http.Cookie{Name: "access_token", Value: "tampered.jwt.value"})
			}

			rec := e.do(http.MethodGet, tt.path, "", cookies...)
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantLocation, rec.Header().Get("Location"))

			if tt.wantCleared {
				assertCleared(t, rec)
			} else {
				assert.Empty(t, rec.Result().Cookies())
			}

			if tt.wantAction == "" {
				assert.Empty(t, e.rec.events)
				if tt.wantStatus == http.StatusOK {
					assert.Equal(t, tt.path, decode(t, rec)["path"])
				}
				return
			}
			require.Len(t, e.rec.events, 1)
			ev := e.rec.events[0]
			assert.Equal(t, tt.wantAction, ev.Action)
			assert.Equal(t, tt.path, ev.Path)
			if tt.wantAction == models.ActionRedirectDashboard {
				assert.Equal(t, "u-1", ev.UserID)
			}
		})
	}
}
