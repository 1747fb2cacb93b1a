// Package auth issues and verifies the HS256 access tokens carried in the
// access_token cookie and in gRPC metadata.
package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/dmitrijs2005/authgate/internal/common"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Payload is the identity embedded into an access token.
type Payload struct {
	UserID    string
	Email     string
	Username  string
	Role      string
	SessionID string
}

// Claims are the decoded contents of an access token. The user id travels in
// the standard "sub" claim, the refresh-token session in "sid".
type Claims struct {
	jwt.RegisteredClaims
	Email     string `json:"email"`
	Username  string `json:"username"`
	Role      string `json:"role"`
	SessionID string `json:"sid,omitempty"`
}

// UserID returns the subject of the token.
func (c *Claims) UserID() string { return c.Subject }

// TokenService signs and verifies access tokens with a single shared secret.
type TokenService struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenService returns common.ErrMissingSecret when secret is empty; there
// is no fallback key.
func NewTokenService(secret string, ttl time.Duration) (*TokenService, error) {
	if secret == "" {
		return nil, common.ErrMissingSecret
	}
	return &TokenService{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// TTL is the lifetime of newly created tokens.
func (s *TokenService) TTL() time.Duration { return s.ttl }

// Create signs a new token for p, valid for the configured TTL.
func (s *TokenService) Create(p Payload) (string, error) {
	if p.UserID == "" {
		return "", errors.New("empty user id")
	}
	now := s.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.UserID,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
		Email:     p.Email,
		Username:  p.Username,
		Role:      p.Role,
		SessionID: p.SessionID,
	})

	return token.SignedString(s.secret)
}

// Verify checks algorithm, signature and expiry. It returns
// common.ErrTokenExpired for an expired but otherwise valid token and
// common.ErrInvalidToken for everything else.
func (s *TokenService) Verify(tokenString string) (*Claims, error) {
	return s.parse(tokenString,
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
}

// Decode checks the signature only, so an expired token still identifies its
// user. Logout uses it for best-effort session cleanup.
func (s *TokenService) Decode(tokenString string) (*Claims, error) {
	return s.parse(tokenString, jwt.WithoutClaimsValidation())
}

func (s *TokenService) parse(tokenString string, opts ...jwt.ParserOption) (*Claims, error) {
	if strings.TrimSpace(tokenString) == "" {
		return nil, common.ErrInvalidToken
	}

	claims := &Claims{}
	opts = append(opts, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, common.ErrTokenExpired
		}
		return nil, common.ErrInvalidToken
	}

	if !token.Valid || claims.Subject == "" {
		return nil, common.ErrInvalidToken
	}

	return claims, nil
}
