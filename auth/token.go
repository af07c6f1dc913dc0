package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// SignLocalToken mints an HS256 token accepted by a Verifier in shared
// secret mode.
func SignLocalToken(secret []byte, sub string, ttl time.Duration) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("auth: shared secret is empty")
	}
	if sub == "" {
		return "", errors.New("auth: subject is empty")
	}
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": sub,
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	})
	return token.SignedString(secret)
}
