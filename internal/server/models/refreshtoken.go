package models

import "time"

// RefreshToken is one server-side session. The opaque token itself is never
// stored, only its keyed hash.
type RefreshToken struct {
	ID         string    `json:"id"`
	UserID     string    `json:"-"`
	TokenHash  string    `json:"-"`
	ExpiresAt  time.Time `json:"expiresAt"`
	UserAgent  string    `json:"userAgent"`
	IPAddress  string    `json:"ipAddress"`
	CreatedAt  time.Time `json:"createdAt"`
	LastUsedAt time.Time `json:"lastUsedAt"`
}

func (t *RefreshToken) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}
