// Package auth verifies the HS256 bearer tokens issued by the account
// service and extracts the caller's user id.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/golang-jwt/jwt/v5"

	"shikkha-messages/internal/integrations/paramstore"
)

// ErrInvalidToken is returned for missing, malformed, expired or wrongly
// signed tokens.
var ErrInvalidToken = errors.New("auth: invalid token")

const secretField = "secret"

type Verifier struct {
	getter      paramstore.Getter
	paramPrefix string

	mu     sync.RWMutex
	secret []byte
}

type Option func(*Verifier)

// WithStaticSecret skips Parameter Store and signs with secret. Intended for
// local development.
func WithStaticSecret(secret string) Option {
	return func(v *Verifier) {
		if s := strings.TrimSpace(secret); s != "" {
			v.secret = []byte(s)
		}
	}
}

// NewVerifier returns a Verifier that loads its signing secret from the JSON
// parameter <paramPrefix>/jwt-secret on first use. getter may be nil when a
// static secret is supplied.
func NewVerifier(getter paramstore.Getter, paramPrefix string, opts ...Option) (*Verifier, error) {
	v := &Verifier{
		getter:      getter,
		paramPrefix: strings.TrimRight(strings.TrimSpace(paramPrefix), "/"),
	}
	for _, opt := range opts {
		opt(v)
	}
	if v.secret != nil {
		return v, nil
	}
	if getter == nil {
		return nil, errors.New("auth: paramstore getter must not be nil")
	}
	if v.paramPrefix == "" {
		return nil, errors.New("auth: parameter prefix must not be empty")
	}
	return v, nil
}

// Authenticate validates token and returns the user id it was issued for.
// The id is read from the "id" claim, falling back to "sub".
func (v *Verifier) Authenticate(ctx context.Context, token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", fmt.Errorf("%w: missing token", ErrInvalidToken)
	}
	secret, err := v.signingSecret(ctx)
	if err != nil {
		return "", err
	}

	claims := jwt.MapClaims{}
	_, err = jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	for _, name := range []string{"id", "sub"} {
		if id, ok := claims[name].(string); ok && strings.TrimSpace(id) != "" {
			return strings.TrimSpace(id), nil
		}
	}
	return "", fmt.Errorf("%w: no user id claim", ErrInvalidToken)
}

// signingSecret returns the cached secret, loading it on first use. Failed
// loads are not cached so the next request retries.
func (v *Verifier) signingSecret(ctx context.Context) ([]byte, error) {
	v.mu.RLock()
	if v.secret != nil {
		defer v.mu.RUnlock()
		return v.secret, nil
	}
	v.mu.RUnlock()

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.secret != nil {
		return v.secret, nil
	}
	s, err := paramstore.GetJSONField(ctx, v.getter, v.paramPrefix+"/jwt-secret", secretField)
	if err != nil {
		return nil, fmt.Errorf("auth: load signing secret: %w", err)
	}
	v.secret = []byte(s)
	return v.secret, nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
