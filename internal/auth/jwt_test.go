package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/phrazzld/papersum/internal/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testSecret  = "test-secret-that-is-long-enough-for-testing"
	wrongSecret = "wrong-secret-that-is-long-enough-for-testing"
)

func newTestService(t *testing.T, secret string, clk clock.Clock) TokenService {
	t.Helper()
	svc, err := NewTokenService(secret, time.Hour, clk)
	require.NoError(t, err)
	return svc
}

func TestNewTokenService_Validation(t *testing.T) {
	t.Parallel()

	_, err := NewTokenService("short", time.Hour, nil)
	assert.Error(t, err)

	_, err = NewTokenService(testSecret, 0, nil)
	assert.Error(t, err)

	svc, err := NewTokenService(testSecret, time.Hour, nil)
	require.NoError(t, err)
	assert.NotNil(t, svc)
}

func TestGenerateToken(t *testing.T) {
	t.Parallel()

	fixedTime := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	svc := newTestService(t, testSecret, clock.NewFake(fixedTime))

	token, err := svc.GenerateToken(context.Background(), "ops@gateway")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := svc.ValidateToken(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "ops@gateway", claims.Subject)
	assert.Equal(t, OperatorScope, claims.Scope)
	assert.Equal(t, fixedTime.Unix(), claims.IssuedAt.Unix())
	assert.Equal(t, fixedTime.Add(time.Hour).Unix(), claims.ExpiresAt.Unix())
	assert.NotEmpty(t, claims.ID)

	_, err = svc.GenerateToken(context.Background(), "")
	assert.Error(t, err)
}

func TestValidateToken(t *testing.T) {
	t.Parallel()

	fixedTime := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		setupFunc func(t *testing.T) (TokenService, string)
		wantErr   error
	}{
		{
			name: "valid token",
			setupFunc: func(t *testing.T) (TokenService, string) {
				svc := newTestService(t, testSecret, clock.NewFake(fixedTime))
				token, err := svc.GenerateToken(context.Background(), "ops")
				require.NoError(t, err)
				return svc, token
			},
		},
		{
			name: "expired token",
			setupFunc: func(t *testing.T) (TokenService, string) {
				clk := clock.NewFake(fixedTime)
				svc := newTestService(t, testSecret, clk)
				token, err := svc.GenerateToken(context.Background(), "ops")
				require.NoError(t, err)
				clk.Advance(time.Hour + DefaultClockSkew + time.Minute)
				return svc, token
			},
			wantErr: ErrExpiredToken,
		},
		{
			name: "within clock skew",
			setupFunc: func(t *testing.T) (TokenService, string) {
				clk := clock.NewFake(fixedTime)
				svc := newTestService(t, testSecret, clk)
				token, err := svc.GenerateToken(context.Background(), "ops")
				require.NoError(t, err)
				clk.Advance(time.Hour + time.Minute)
				return svc, token
			},
		},
		{
			name: "wrong secret",
			setupFunc: func(t *testing.T) (TokenService, string) {
				issuer := newTestService(t, wrongSecret, clock.NewFake(fixedTime))
				token, err := issuer.GenerateToken(context.Background(), "ops")
				require.NoError(t, err)
				return newTestService(t, testSecret, clock.NewFake(fixedTime)), token
			},
			wantErr: ErrInvalidToken,
		},
		{
			name: "malformed token",
			setupFunc: func(t *testing.T) (TokenService, string) {
				return newTestService(t, testSecret, clock.NewFake(fixedTime)), "not.a.token"
			},
			wantErr: ErrInvalidToken,
		},
		{
			name: "wrong scope",
			setupFunc: func(t *testing.T) (TokenService, string) {
				claims := operatorClaims{
					Scope: "reader",
					RegisteredClaims: jwt.RegisteredClaims{
						Subject:   "ops",
						IssuedAt:  jwt.NewNumericDate(fixedTime),
						ExpiresAt: jwt.NewNumericDate(fixedTime.Add(time.Hour)),
					},
				}
				token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
				require.NoError(t, err)
				return newTestService(t, testSecret, clock.NewFake(fixedTime)), token
			},
			wantErr: ErrWrongScope,
		},
		{
			name: "unsigned token",
			setupFunc: func(t *testing.T) (TokenService, string) {
				claims := operatorClaims{Scope: OperatorScope}
				token, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
				require.NoError(t, err)
				return newTestService(t, testSecret, clock.NewFake(fixedTime)), token
			},
			wantErr: ErrInvalidToken,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			svc, token := tc.setupFunc(t)

			claims, err := svc.ValidateToken(context.Background(), token)
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
				assert.Nil(t, claims)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "ops", claims.Subject)
		})
	}
}
