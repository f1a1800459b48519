package session

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AccessExpiry reads the exp claim of a JWT access token. The signature is
// not checked: the backend verifies tokens, the client only needs the
// timestamp for display and logging.
func AccessExpiry(token string) (time.Time, bool) {
	token = strings.TrimSpace(token)
	if token == "" {
		return time.Time{}, false
	}
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}

// ExpiresWithin reports whether the access token expires inside window.
// Tokens without a readable exp claim are treated as not expiring.
func ExpiresWithin(token string, window time.Duration, now time.Time) bool {
	exp, ok := AccessExpiry(token)
	if !ok {
		return false
	}
	return !exp.After(now.Add(window))
}
