// Package cryptox holds the small cryptographic helpers used by the auth
// service: bcrypt password hashing and opaque refresh token generation.
package cryptox

import (
	"golang.org/x/crypto/bcrypt"
)

// PasswordCost is the bcrypt work factor for stored password hashes.
const PasswordCost = 10

// dummyHash is compared against when a login names an unknown user, so the
// response time does not reveal whether the account exists.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("authgate-dummy-password"), PasswordCost)

// HashPassword returns the bcrypt hash of password.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), PasswordCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckPassword reports whether password matches hash. Any bcrypt error,
// including a malformed hash, is treated as a mismatch.
func CheckPassword(hash, password string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}

// BurnPasswordCheck spends the same time as a real CheckPassword call.
func BurnPasswordCheck(password string) {
	_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
}

// MaxPasswordBytes is the longest input bcrypt accepts.
const MaxPasswordBytes = 72

// IsPasswordTooLong reports whether bcrypt would reject password. The limit
// is in bytes, not characters.
func IsPasswordTooLong(password string) bool {
	return len(password) > MaxPasswordBytes
}
