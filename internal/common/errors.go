// Package common defines shared constants and sentinel errors used across
// the gateway, the gRPC service and the operator CLI. Callers should use
// errors.Is to match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound      = errors.New("not found")
	ErrorAlreadyExists = errors.New("already exists")

	// Service-level errors (generic/internal flow control).
	ErrorInternal     = errors.New("internal error")
	ErrorUnauthorized = errors.New("unauthorized")
	ErrorForbidden    = errors.New("forbidden")

	// Configuration errors.
	ErrMissingSecret = errors.New("JWT_SECRET is not set")

	// Access token errors (invalid, malformed or expired token).
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")

	// Refresh token lifecycle errors.
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
	ErrRefreshTokenExpired = errors.New("refresh token expired")

	// Credential errors, rendered to end users as-is.
	ErrEmailTaken         = errors.New("Email already in use")
	ErrUsernameTaken      = errors.New("Username already in use")
	ErrInvalidCredentials = errors.New("Invalid credentials")
	ErrTooManyAttempts    = errors.New("Too many attempts, please try again later")
)
