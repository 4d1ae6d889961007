package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/phrazzld/papersum/internal/api/shared"
	"github.com/phrazzld/papersum/internal/auth"
	"github.com/phrazzld/papersum/internal/platform/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubTokens struct {
	claims *auth.Claims
	err    error
	seen   string
}

func (s *stubTokens) GenerateToken(context.Context, string) (string, error) {
	return "", errors.New("not implemented")
}

func (s *stubTokens) ValidateToken(_ context.Context, token string) (*auth.Claims, error) {
	s.seen = token
	return s.claims, s.err
}

func TestAuthMiddleware_Authenticate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name             string
		authHeader       string
		validateErr      error
		claims           *auth.Claims
		expectedStatus   int
		expectedOperator string
	}{
		{
			name:             "valid token",
			authHeader:       "Bearer valid-token",
			claims:           &auth.Claims{Subject: "ops", Scope: auth.OperatorScope},
			expectedStatus:   http.StatusOK,
			expectedOperator: "ops",
		},
		{
			name:             "lowercase scheme",
			authHeader:       "bearer valid-token",
			claims:           &auth.Claims{Subject: "ops", Scope: auth.OperatorScope},
			expectedStatus:   http.StatusOK,
			expectedOperator: "ops",
		},
		{
			name:           "missing auth header",
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "invalid auth format",
			authHeader:     "InvalidFormat",
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "wrong scheme",
			authHeader:     "Basic dXNlcjpwYXNz",
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "expired token",
			authHeader:     "Bearer expired-token",
			validateErr:    auth.ErrExpiredToken,
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "invalid token",
			authHeader:     "Bearer invalid-token",
			validateErr:    auth.ErrInvalidToken,
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "wrong scope",
			authHeader:     "Bearer reader-token",
			validateErr:    auth.ErrWrongScope,
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "unexpected validation error",
			authHeader:     "Bearer some-token",
			validateErr:    errors.New("keystore unavailable"),
			expectedStatus: http.StatusInternalServerError,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			tokens := &stubTokens{claims: tc.claims, err: tc.validateErr}
			mw := NewAuthMiddleware(tokens)

			var gotOperator string
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotOperator, _ = shared.GetOperator(r.Context())
				w.WriteHeader(http.StatusOK)
			})

			req := httptest.NewRequest(http.MethodPost, "/debug/test-shutdown", nil)
			if tc.authHeader != "" {
				req.Header.Set("Authorization", tc.authHeader)
			}
			rr := httptest.NewRecorder()

			mw.Authenticate(next).ServeHTTP(rr, req)

			assert.Equal(t, tc.expectedStatus, rr.Code)
			assert.Equal(t, tc.expectedOperator, gotOperator)
		})
	}
}

func TestOptional(t *testing.T) {
	t.Parallel()

	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	t.Run("nil token service passes through", func(t *testing.T) {
		rr := httptest.NewRecorder()
		Optional(nil)(ok).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/", nil))
		assert.Equal(t, http.StatusNoContent, rr.Code)
	})

	t.Run("configured token service enforces auth", func(t *testing.T) {
		rr := httptest.NewRecorder()
		Optional(&stubTokens{})(ok).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/", nil))
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})
}

func TestNewTraceMiddleware(t *testing.T) {
	t.Parallel()

	log, buf := logger.NewTestLogger()

	var traceID string
	var ctxLogger bool
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID = shared.GetTraceID(r.Context())
		ctxLogger = logger.FromContext(r.Context()) != log
		logger.FromContext(r.Context()).Info("handled")
	})

	NewTraceMiddleware(log)(next).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Len(t, traceID, 32)
	assert.True(t, ctxLogger, "handler should receive a derived logger")
	entries := buf.EntriesWithMessage("handled")
	require.Len(t, entries, 1)
	assert.Equal(t, traceID, entries[0]["trace_id"])
}
