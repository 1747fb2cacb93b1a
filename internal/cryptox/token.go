package cryptox

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"

	"github.com/dmitrijs2005/authgate/internal/common"
)

// RefreshTokenSize is the number of random bytes in an opaque refresh token.
const RefreshTokenSize = 32

// NewRefreshToken returns a fresh opaque refresh token (64 hex characters).
func NewRefreshToken() (string, error) {
	return common.MakeRandHexString(RefreshTokenSize)
}

// HashToken returns the hex HMAC-SHA256 of token keyed by key. Only this
// value is persisted, so a leaked table does not yield usable tokens.
func HashToken(key []byte, token string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(token))
	return hex.EncodeToString(mac.Sum(nil))
}
