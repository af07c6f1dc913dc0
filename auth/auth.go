// Package auth resolves the optional actor behind a bearer JWT.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/golang-jwt/jwt/v4"
)

const DefaultKeyCacheTTL = 15 * time.Minute

var (
	ErrMissingAuthorization = errors.New("missing authorization header")
	ErrBadAuthorization     = errors.New("bad auth header")
	ErrInvalidToken         = errors.New("invalid token")
)

// Config selects how tokens are verified. A non-empty SharedSecret switches
// to HS256 local mode; otherwise tokens are RS256 and checked against JWKS.
type Config struct {
	JWKS         *keyfunc.JWKS
	Audience     string
	Issuer       string
	SharedSecret []byte
	KeyCacheTTL  time.Duration
	// Required rejects requests without an Authorization header.
	Required bool
}

// Verifier validates incoming JWT tokens.
type Verifier struct {
	cfg    Config
	parser *jwt.Parser
	now    func() time.Time

	keyCache sync.Map
}

type cachedKey struct {
	key       any
	expiresAt time.Time
}

func New(cfg Config) (*Verifier, error) {
	v := &Verifier{cfg: cfg, now: time.Now}
	switch {
	case len(cfg.SharedSecret) > 0:
		v.parser = jwt.NewParser(jwt.WithValidMethods([]string{"HS256"}))
	case cfg.JWKS != nil:
		v.parser = jwt.NewParser(jwt.WithValidMethods([]string{"RS256"}))
	default:
		return nil, errors.New("auth: either a shared secret or a JWKS is required")
	}
	return v, nil
}

// ActorFromAuthHeader returns the token subject, or "" for a request without
// credentials when auth is optional. A present but invalid header is always
// an error.
func (v *Verifier) ActorFromAuthHeader(h string) (string, error) {
	if strings.TrimSpace(h) == "" {
		if v.cfg.Required {
			return "", ErrMissingAuthorization
		}
		return "", nil
	}
	token, err := bearerToken(h)
	if err != nil {
		return "", err
	}
	return v.Subject(token)
}

// Subject verifies a raw token and returns its sub claim.
func (v *Verifier) Subject(token string) (string, error) {
	if token == "" {
		return "", ErrBadAuthorization
	}
	parsed, err := v.parser.Parse(token, v.keyFor)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return "", fmt.Errorf("%w: invalid claims", ErrInvalidToken)
	}

	now := v.now().Add(time.Minute).Unix()
	if !claims.VerifyExpiresAt(now, true) {
		return "", fmt.Errorf("%w: token expired", ErrInvalidToken)
	}
	if !claims.VerifyNotBefore(now, false) {
		return "", fmt.Errorf("%w: token not valid yet", ErrInvalidToken)
	}
	if !claims.VerifyIssuedAt(now, false) {
		return "", fmt.Errorf("%w: token used before issued", ErrInvalidToken)
	}
	if v.cfg.Audience != "" && !claims.VerifyAudience(v.cfg.Audience, true) {
		return "", fmt.Errorf("%w: invalid audience", ErrInvalidToken)
	}
	if v.cfg.Issuer != "" && !claims.VerifyIssuer(v.cfg.Issuer, true) {
		return "", fmt.Errorf("%w: invalid issuer", ErrInvalidToken)
	}
	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return "", fmt.Errorf("%w: missing sub", ErrInvalidToken)
	}
	return sub, nil
}

func (v *Verifier) keyFor(t *jwt.Token) (any, error) {
	if len(v.cfg.SharedSecret) > 0 {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return v.cfg.SharedSecret, nil
	}
	if v.cfg.JWKS == nil {
		return nil, errors.New("jwks not configured")
	}

	kid, _ := t.Header["kid"].(string)
	if kid != "" && v.cfg.KeyCacheTTL > 0 {
		if cached, ok := v.keyCache.Load(kid); ok {
			entry := cached.(cachedKey)
			if v.now().Before(entry.expiresAt) {
				return entry.key, nil
			}
			v.keyCache.Delete(kid)
		}
	}
	key, err := v.cfg.JWKS.Keyfunc(t)
	if err != nil {
		return nil, err
	}
	if kid != "" && v.cfg.KeyCacheTTL > 0 {
		v.keyCache.Store(kid, cachedKey{key: key, expiresAt: v.now().Add(v.cfg.KeyCacheTTL)})
	}
	return key, nil
}

// bearerToken extracts the compact JWT from an Authorization header value.
func bearerToken(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	scheme, token, ok := strings.Cut(raw, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", ErrBadAuthorization
	}
	token = strings.TrimSpace(token)
	if strings.Count(token, ".") != 2 || len(token) < 5 {
		return "", ErrBadAuthorization
	}
	return token, nil
}
