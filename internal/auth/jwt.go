// Package auth issues and validates the operator tokens that protect the
// node's debug endpoints.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/phrazzld/papersum/internal/clock"
	"github.com/phrazzld/papersum/internal/platform/logger"
)

// OperatorScope is the only scope the node accepts.
const OperatorScope = "operator"

// MinSecretLength is the shortest HMAC secret NewTokenService accepts.
const MinSecretLength = 32

// DefaultClockSkew is the leeway applied to time claims.
const DefaultClockSkew = 2 * time.Minute

// TokenService issues and validates operator tokens.
type TokenService interface {
	// GenerateToken creates a signed token for subject, typically an operator
	// name or a host.
	GenerateToken(ctx context.Context, subject string) (string, error)

	// ValidateToken verifies the signature, time claims and scope.
	ValidateToken(ctx context.Context, tokenString string) (*Claims, error)
}

// Claims are the validated contents of an operator token.
type Claims struct {
	Subject   string    `json:"sub,omitempty"`
	Scope     string    `json:"scope,omitempty"`
	IssuedAt  time.Time `json:"iat,omitempty"`
	ExpiresAt time.Time `json:"exp,omitempty"`
	ID        string    `json:"jti,omitempty"`
}

type operatorClaims struct {
	Scope string `json:"scope"`
	jwt.RegisteredClaims
}

// hmacTokenService signs tokens with HMAC-SHA256.
type hmacTokenService struct {
	signingKey []byte
	lifetime   time.Duration
	clock      clock.Clock
	clockSkew  time.Duration
}

var _ TokenService = (*hmacTokenService)(nil)

// NewTokenService creates a TokenService. A nil clk uses the wall clock.
func NewTokenService(secret string, lifetime time.Duration, clk clock.Clock) (TokenService, error) {
	if len(secret) < MinSecretLength {
		return nil, fmt.Errorf("jwt secret must be at least %d characters", MinSecretLength)
	}
	if lifetime <= 0 {
		return nil, errors.New("token lifetime must be positive")
	}
	if clk == nil {
		clk = clock.New()
	}

	return &hmacTokenService{
		signingKey: []byte(secret),
		lifetime:   lifetime,
		clock:      clk,
		clockSkew:  DefaultClockSkew,
	}, nil
}

// GenerateToken creates a signed operator token.
func (s *hmacTokenService) GenerateToken(ctx context.Context, subject string) (string, error) {
	log := logger.FromContext(ctx)
	if subject == "" {
		return "", errors.New("token subject cannot be empty")
	}
	now := s.clock.Now()

	claims := operatorClaims{
		Scope: OperatorScope,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.lifetime)),
			ID:        uuid.New().String(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.signingKey)
	if err != nil {
		log.Error("failed to sign operator token",
			"error", err,
			"subject", subject,
			"signing_method", jwt.SigningMethodHS256.Name)
		return "", fmt.Errorf("failed to sign operator token with HMAC-SHA256: %w", err)
	}

	return signed, nil
}

// ValidateToken validates an operator token and returns its claims.
func (s *hmacTokenService) ValidateToken(ctx context.Context, tokenString string) (*Claims, error) {
	log := logger.FromContext(ctx)
	now := s.clock.Now()

	token, err := jwt.ParseWithClaims(
		tokenString,
		&operatorClaims{},
		func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return s.signingKey, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}),
		jwt.WithLeeway(s.clockSkew),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			log.Debug("operator token validation failed: token expired", "error", err)
			return nil, ErrExpiredToken
		case errors.Is(err, jwt.ErrTokenNotValidYet):
			log.Debug("operator token validation failed: token not yet valid", "error", err)
			return nil, ErrTokenNotYetValid
		default:
			log.Debug("operator token validation failed",
				"error", err,
				"error_type", fmt.Sprintf("%T", err))
			return nil, ErrInvalidToken
		}
	}

	claims, ok := token.Claims.(*operatorClaims)
	if !ok || !token.Valid {
		log.Debug("operator token validation failed: invalid claims")
		return nil, ErrInvalidToken
	}
	if claims.Scope != OperatorScope {
		log.Debug("operator token validation failed: wrong scope",
			"expected", OperatorScope,
			"actual", claims.Scope)
		return nil, ErrWrongScope
	}

	result := &Claims{
		Subject: claims.Subject,
		Scope:   claims.Scope,
		ID:      claims.ID,
	}
	if claims.IssuedAt != nil {
		result.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		result.ExpiresAt = claims.ExpiresAt.Time
	}
	return result, nil
}
