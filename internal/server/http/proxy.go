package http

import (
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"slices"

	"github.com/dmitrijs2005/authgate/internal/logging"
	"github.com/gin-gonic/gin"
)

// newUpstream returns the handler for everything the guard lets through: a
// reverse proxy to rawURL, or a JSON placeholder when rawURL is empty. Cookies
// named in strip are not forwarded.
func newUpstream(rawURL string, strip []string, l logging.Logger) (gin.HandlerFunc, error) {
	if rawURL == "" {
		return placeholder, nil
	}

	target, err := url.Parse(rawURL)
	if err != nil || target.Scheme == "" || target.Host == "" {
		return nil, fmt.Errorf("invalid upstream url %q", rawURL)
	}

	proxy := httputil.NewSingleHostReverseProxy(target)
	director := proxy.Director
	proxy.Director = func(r *http.Request) {
		director(r)
		stripCookies(r, strip)
	}
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		l.Error(r.Context(), "upstream error", "path", r.URL.Path, "error", err)
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"success":false,"error":"Bad gateway"}`))
	}
	return gin.WrapH(proxy), nil
}

// stripCookies rewrites the Cookie header without the named cookies.
func stripCookies(r *http.Request, names []string) {
	if len(names) == 0 {
		return
	}
	cookies := r.Cookies()
	r.Header.Del("Cookie")
	for _, c := range cookies {
		if slices.Contains(names, c.Name) {
			continue
		}
		r.AddCookie(&http.Cookie{Name: c.Name, Value: c.Value})
	}
}

func placeholder(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"path": c.Request.URL.Path})
}
