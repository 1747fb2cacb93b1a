package config

import (
	"encoding/json"
	"os"

	"github.com/dmitrijs2005/authgate/internal/flagx"
	"github.com/dmitrijs2005/authgate/internal/timex"
)

// JsonConfig is the on-disk shape of the optional JSON config file.
// Durations accept both "15m" strings and integer nanoseconds.
type JsonConfig struct {
	EndpointAddrHTTP             string         `json:"endpoint_addr_http"`
	EndpointAddrGRPC             string         `json:"endpoint_addr_grpc"`
	DatabaseDSN                  string         `json:"database_dsn"`
	SecretKey                    string         `json:"secret_key"`
	RefreshTokenSecret           string         `json:"refresh_token_secret"`
	AdminEmail                   string         `json:"admin_email"`
	Environment                  string         `json:"environment"`
	LogLevel                     string         `json:"log_level"`
	AccessTokenValidityDuration  timex.Duration `json:"access_token_validity_duration"`
	RefreshTokenValidityDuration timex.Duration `json:"refresh_token_validity_duration"`
	AccessTokenCookieName        string         `json:"access_token_cookie"`
	RefreshTokenCookieName       string         `json:"refresh_token_cookie"`
	CookieSameSite               string         `json:"cookie_samesite"`
	UpstreamURL                  string         `json:"upstream_url"`
	AllowedOrigins               []string       `json:"allowed_origins"`
	TrustedProxies               []string       `json:"trusted_proxies"`
	LoginAttempts                int            `json:"login_attempts"`
	LoginWindow                  timex.Duration `json:"login_window"`
	SweepInterval                timex.Duration `json:"sweep_interval"`
	AuditRetention               timex.Duration `json:"audit_retention"`
	S3RootUser                   string         `json:"s3_root_user"`
	S3RootPassword               string         `json:"s3_root_password"`
	S3Bucket                     string         `json:"s3_bucket"`
	S3Region                     string         `json:"s3_region"`
	S3BaseEndpoint               string         `json:"s3_base_endpoint"`
}

// parseJson overlays values from the file named by -c/-config. Keys missing
// from the file leave the current value untouched. An unreadable file or
// invalid JSON panics.
func parseJson(config *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	c := &JsonConfig{}
	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	overlay(&config.EndpointAddrHTTP, c.EndpointAddrHTTP)
	overlay(&config.EndpointAddrGRPC, c.EndpointAddrGRPC)
	overlay(&config.DatabaseDSN, c.DatabaseDSN)
	overlay(&config.SecretKey, c.SecretKey)
	overlay(&config.RefreshTokenSecret, c.RefreshTokenSecret)
	overlay(&config.AdminEmail, c.AdminEmail)
	overlay(&config.Environment, c.Environment)
	overlay(&config.LogLevel, c.LogLevel)
	overlay(&config.AccessTokenValidityDuration, c.AccessTokenValidityDuration.Duration)
	overlay(&config.RefreshTokenValidityDuration, c.RefreshTokenValidityDuration.Duration)
	overlay(&config.AccessTokenCookieName, c.AccessTokenCookieName)
	overlay(&config.RefreshTokenCookieName, c.RefreshTokenCookieName)
	overlay(&config.CookieSameSite, c.CookieSameSite)
	overlay(&config.UpstreamURL, c.UpstreamURL)
	if len(c.AllowedOrigins) > 0 {
		config.AllowedOrigins = c.AllowedOrigins
	}
	if len(c.TrustedProxies) > 0 {
		config.TrustedProxies = c.TrustedProxies
	}
	overlay(&config.LoginAttempts, c.LoginAttempts)
	overlay(&config.LoginWindow, c.LoginWindow.Duration)
	overlay(&config.SweepInterval, c.SweepInterval.Duration)
	overlay(&config.AuditRetention, c.AuditRetention.Duration)
	overlay(&config.S3RootUser, c.S3RootUser)
	overlay(&config.S3RootPassword, c.S3RootPassword)
	overlay(&config.S3Bucket, c.S3Bucket)
	overlay(&config.S3Region, c.S3Region)
	overlay(&config.S3BaseEndpoint, c.S3BaseEndpoint)
}

func overlay[T comparable](dst *T, v T) {
	var zero T
	if v != zero {
		*dst = v
	}
}
