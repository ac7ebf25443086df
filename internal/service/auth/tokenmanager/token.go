package tokenmanager

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/nkiryanov/essaypay/internal/apperrors"
	"github.com/nkiryanov/essaypay/internal/models"
)

const (
	defaultTokenTTL      = 30 * 24 * time.Hour
	defaultSigningMethod = "HS256"
)

// Token manager with sensible default
type Config struct {
	// Secret key to sign service tokens
	// Required to be set
	SecretKey string

	// JWT MAC (Message Authentication Code) algorithm
	// If not set than default is used
	Alg string

	// Service token lifetime
	// If not set than default is used
	TTL time.Duration
}

// Issues and verifies tokens the front-end clients authenticate with
type TokenManager struct {
	// Secret key to sign service token
	key string

	// JWT MAC (Message Authentication Code) algorithm
	alg jwt.SigningMethod

	ttl time.Duration
}

func New(cfg Config) (*TokenManager, error) {
	if cfg.SecretKey == "" {
		return nil, errors.New("secret key must not be empty")
	}

	if cfg.Alg == "" {
		cfg.Alg = defaultSigningMethod
	}
	alg := jwt.GetSigningMethod(cfg.Alg)
	if alg == nil {
		return nil, fmt.Errorf("unknown signing method %q", cfg.Alg)
	}

	if cfg.TTL == 0 {
		cfg.TTL = defaultTokenTTL
	}

	return &TokenManager{
		key: cfg.SecretKey,
		alg: alg,
		ttl: cfg.TTL,
	}, nil
}

// Issue token for the client named subject
func (m *TokenManager) Issue(subject string) (models.IssuedToken, error) {
	if subject == "" {
		return models.IssuedToken{}, errors.New("subject must not be empty")
	}

	now := time.Now().Truncate(time.Second)
	expiresAt := now.Add(m.ttl)

	token := jwt.NewWithClaims(m.alg, jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	})
	value, err := token.SignedString([]byte(m.key))
	if err != nil {
		return models.IssuedToken{}, fmt.Errorf("error while signing service token. Err: %w", err)
	}

	return models.IssuedToken{Value: value, Subject: subject, ExpiresAt: expiresAt}, nil
}

// Parse and validate service token, return its subject
func (m *TokenManager) Parse(value string) (subject string, err error) {
	claims := &jwt.RegisteredClaims{}

	_, err = jwt.ParseWithClaims(
		value,
		claims,
		func(t *jwt.Token) (any, error) {
			return []byte(m.key), nil
		},
		jwt.WithValidMethods([]string{m.alg.Alg()}),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %w", apperrors.ErrTokenInvalid, err)
	}

	if claims.Subject == "" {
		return "", fmt.Errorf("%w: subject is empty", apperrors.ErrTokenInvalid)
	}

	return claims.Subject, nil
}
