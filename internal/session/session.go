package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	issuer            = "center"
	secretEnvVariable = "CENTER_SESSION_SECRET"

	// DefaultTTL matches the hub session cookie lifetime.
	DefaultTTL = 7 * 24 * time.Hour

	// CookieName is the hub session cookie.
	CookieName = "center_session"
)

var (
	errMissingSecret = errors.New("session secret is not configured")

	secretMu sync.Mutex
	secret   cachedSecret
)

type cachedSecret struct {
	value []byte
	err   error
	ready bool
}

// ErrInvalidToken indicates the session token failed validation.
var ErrInvalidToken = errors.New("invalid session token")

// Provider identifies how the user authenticated to the hub.
type Provider string

const (
	ProviderGoogle   Provider = "google"
	ProviderPassword Provider = "password"
)

// ParseProvider validates a provider name from a request path or payload.
func ParseProvider(raw string) (Provider, error) {
	switch Provider(strings.TrimSpace(strings.ToLower(raw))) {
	case ProviderGoogle:
		return ProviderGoogle, nil
	case ProviderPassword:
		return ProviderPassword, nil
	default:
		return "", fmt.Errorf("unknown provider: %q", raw)
	}
}

// Claims carries the hub session identity. TokenVersion is compared against
// the stored user row on every verification, which is what makes the
// logout-everywhere kill switch work without a revocation list.
type Claims struct {
	TokenVersion int64    `json:"token_version"`
	Provider     Provider `json:"provider,omitempty"`
	jwt.RegisteredClaims
}

// GenerateToken signs a hub session JWT for the given user using HS256.
func GenerateToken(userID string, tokenVersion int64, provider Provider, ttl time.Duration) (string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", errors.New("userID is required")
	}
	if ttl <= 0 {
		return "", errors.New("ttl must be greater than zero")
	}
	secretBytes, err := loadSecret()
	if err != nil {
		return "", err
	}

	now := time.Now().UTC()
	claims := Claims{
		TokenVersion: tokenVersion,
		Provider:     provider,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secretBytes)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// ParseAndValidate verifies the token signature and required claims.
func ParseAndValidate(token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}
	secretBytes, err := loadSecret()
	if err != nil {
		return nil, err
	}

	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidToken
		}
		return secretBytes, nil
	})
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if err := validateClaims(claims); err != nil {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func validateClaims(claims *Claims) error {
	if claims.Issuer != issuer {
		return fmt.Errorf("unexpected issuer: %s", claims.Issuer)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return errors.New("subject missing")
	}
	if claims.ExpiresAt == nil || claims.IssuedAt == nil {
		return errors.New("timestamps missing")
	}
	if claims.TokenVersion < 0 {
		return errors.New("token version negative")
	}
	now := time.Now().UTC()
	if now.After(claims.ExpiresAt.Time) {
		return errors.New("token expired")
	}
	if claims.NotBefore != nil && now.Before(claims.NotBefore.Time) {
		return errors.New("token not yet valid")
	}
	// Allow a small clock skew of 5 seconds when validating issued-at.
	if claims.IssuedAt.Time.After(now.Add(5 * time.Second)) {
		return errors.New("token issued in the future")
	}
	if claims.ExpiresAt.Time.Before(claims.IssuedAt.Time) {
		return errors.New("token expiry precedes issued-at")
	}
	return nil
}

func loadSecret() ([]byte, error) {
	secretMu.Lock()
	defer secretMu.Unlock()
	if secret.ready {
		return secret.value, secret.err
	}
	raw := strings.TrimSpace(os.Getenv(secretEnvVariable))
	if raw == "" {
		secret.err = errMissingSecret
		secret.ready = true
		return nil, secret.err
	}
	secret.value = []byte(raw)
	secret.err = nil
	secret.ready = true
	return secret.value, nil
}

// ResetSecretForTests clears the cached secret value. Only intended for test use.
func ResetSecretForTests() {
	secretMu.Lock()
	defer secretMu.Unlock()
	secret = cachedSecret{}
}

type ctxKey string

const (
	userIDKey       ctxKey = "session_user_id"
	tokenVersionKey ctxKey = "session_token_version"
)

// ContextWithUser stores the hub session identity in the context.
func ContextWithUser(ctx context.Context, userID string, tokenVersion int64) context.Context {
	ctx = context.WithValue(ctx, userIDKey, strings.TrimSpace(userID))
	ctx = context.WithValue(ctx, tokenVersionKey, tokenVersion)
	return ctx
}

// UserIDFromContext extracts the authenticated user ID from context.
func UserIDFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(userIDKey).(string)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return v, true
}

// TokenVersionFromContext returns the token version carried by the session.
func TokenVersionFromContext(ctx context.Context) (int64, bool) {
	v, ok := ctx.Value(tokenVersionKey).(int64)
	return v, ok
}
