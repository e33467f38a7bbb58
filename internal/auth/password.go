// Package auth is the session and access gate of spec.md §4.6: password
// hashing and complexity validation, session persistence, bootstrap-once
// administrator creation, and timing-attack-mitigated authentication.
// Grounded in original_source/backend/src/auth_routes.rs's init/login flow,
// adapted from axum_login's password hasher onto golang.org/x/crypto/bcrypt
// (present across the example pack, e.g. gear6io-ranger's go.mod).
package auth

import (
	"unicode"
	"unicode/utf8"

	"golang.org/x/crypto/bcrypt"

	"github.com/mapflow/mapflow/internal/httperr"
)

// ValidatePasswordComplexity enforces spec.md §4.6's bootstrap rule: at
// least 8 characters, one upper, one lower, one digit, one non-alphanumeric.
func ValidatePasswordComplexity(password string) error {
	if utf8.RuneCountInString(password) < 8 {
		return httperr.Validation("password must be at least 8 characters")
	}
	var hasUpper, hasLower, hasDigit, hasSpecial bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		case !unicode.IsLetter(r) && !unicode.IsDigit(r):
			hasSpecial = true
		}
	}
	if !hasUpper || !hasLower || !hasDigit || !hasSpecial {
		return httperr.Validation("password must contain an uppercase letter, a lowercase letter, a digit, and a non-alphanumeric character")
	}
	return nil
}

// HashPassword computes the salted verifier stored for a user.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// verifyPassword does the constant-time comparison of a candidate password
// against a stored bcrypt verifier.
func verifyPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
