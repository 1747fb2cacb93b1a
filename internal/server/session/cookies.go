// Package session writes and reads the auth cookies.
package session

import (
	"net/http"
	"time"

	"github.com/dmitrijs2005/authgate/internal/server/config"
)

// Manager owns cookie names and attributes. Both cookies are HttpOnly,
// scoped to "/", Secure in production and expire together with the token
// they carry.
type Manager struct {
	accessName  string
	refreshName string
	accessTTL   time.Duration
	refreshTTL  time.Duration
	secure      bool
	sameSite    http.SameSite
}

func NewManager(cfg *config.Config) *Manager {
	return &Manager{
		accessName:  cfg.AccessTokenCookieName,
		refreshName: cfg.RefreshTokenCookieName,
		accessTTL:   cfg.AccessTokenValidityDuration,
		refreshTTL:  cfg.RefreshTokenValidityDuration,
		secure:      cfg.IsProduction(),
		sameSite:    cfg.SameSite(),
	}
}

// RefreshCookieName is the name of the cookie carrying the refresh token.
func (m *Manager) RefreshCookieName() string { return m.refreshName }

// SetAuthCookies writes both tokens.
func (m *Manager) SetAuthCookies(w http.ResponseWriter, accessToken, refreshToken string) {
	http.SetCookie(w, m.cookie(m.accessName, accessToken, m.accessTTL))
	http.SetCookie(w, m.cookie(m.refreshName, refreshToken, m.refreshTTL))
}

// ClearAuthCookies expires both cookies in the browser.
func (m *Manager) ClearAuthCookies(w http.ResponseWriter) {
	for _, name := range []string{m.accessName, m.refreshName} {
		c := m.cookie(name, "", 0)
		c.MaxAge = -1
		c.Expires = time.Unix(0, 0)
		http.SetCookie(w, c)
	}
}

// AccessToken returns the access cookie value or "".
func (m *Manager) AccessToken(r *http.Request) string {
	return read(r, m.accessName)
}

// RefreshToken returns the refresh cookie value or "".
func (m *Manager) RefreshToken(r *http.Request) string {
	return read(r, m.refreshName)
}

func (m *Manager) cookie(name, value string, ttl time.Duration) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: m.sameSite,
	}
}

func read(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}
