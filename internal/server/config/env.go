package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// dotenvFile is loaded, if present, before the process environment is read.
// Variables already set in the environment are not overridden by it.
var dotenvFile = ".env"

// parseEnv overlays values from the environment.
//
//	HTTP_ADDRESS, GRPC_ADDRESS, DATABASE_URL, JWT_SECRET, REFRESH_TOKEN_SECRET,
//	ADMIN_EMAIL, ENVIRONMENT, LOG_LEVEL, ACCESS_TOKEN_TTL, REFRESH_TOKEN_TTL,
//	ACCESS_TOKEN_COOKIE, REFRESH_TOKEN_COOKIE, COOKIE_SAMESITE, UPSTREAM_URL,
//	ALLOWED_ORIGINS (comma separated), TRUSTED_PROXIES (comma separated), LOGIN_ATTEMPTS, LOGIN_WINDOW,
//	SWEEP_INTERVAL, AUDIT_RETENTION, S3_ROOT_USER, S3_ROOT_PASSWORD,
//	S3_BUCKET, S3_REGION, S3_BASE_ENDPOINT
//
// Durations use Go syntax ("15m", "168h"). A malformed value panics.
func parseEnv(config *Config) {
	if err := godotenv.Load(dotenvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		panic(err)
	}

	setString(&config.EndpointAddrHTTP, "HTTP_ADDRESS")
	setString(&config.EndpointAddrGRPC, "GRPC_ADDRESS")
	setString(&config.DatabaseDSN, "DATABASE_URL")
	setString(&config.SecretKey, "JWT_SECRET")
	setString(&config.RefreshTokenSecret, "REFRESH_TOKEN_SECRET")
	setString(&config.AdminEmail, "ADMIN_EMAIL")
	setString(&config.Environment, "ENVIRONMENT")
	setString(&config.LogLevel, "LOG_LEVEL")
	setDuration(&config.AccessTokenValidityDuration, "ACCESS_TOKEN_TTL")
	setDuration(&config.RefreshTokenValidityDuration, "REFRESH_TOKEN_TTL")
	setString(&config.AccessTokenCookieName, "ACCESS_TOKEN_COOKIE")
	setString(&config.RefreshTokenCookieName, "REFRESH_TOKEN_COOKIE")
	setString(&config.CookieSameSite, "COOKIE_SAMESITE")
	setString(&config.UpstreamURL, "UPSTREAM_URL")
	if v, ok := os.LookupEnv("ALLOWED_ORIGINS"); ok {
		config.AllowedOrigins = splitList(v)
	}
	if v, ok := os.LookupEnv("TRUSTED_PROXIES"); ok {
		config.TrustedProxies = splitList(v)
	}
	setInt(&config.LoginAttempts, "LOGIN_ATTEMPTS")
	setDuration(&config.LoginWindow, "LOGIN_WINDOW")
	setDuration(&config.SweepInterval, "SWEEP_INTERVAL")
	setDuration(&config.AuditRetention, "AUDIT_RETENTION")
	setString(&config.S3RootUser, "S3_ROOT_USER")
	setString(&config.S3RootPassword, "S3_ROOT_PASSWORD")
	setString(&config.S3Bucket, "S3_BUCKET")
	setString(&config.S3Region, "S3_REGION")
	setString(&config.S3BaseEndpoint, "S3_BASE_ENDPOINT")
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok {
		*dst = v
	}
}

func setDuration(dst *time.Duration, key string) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		panic(err)
	}
	*dst = d
}

func setInt(dst *int, key string) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		panic(err)
	}
	*dst = n
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
