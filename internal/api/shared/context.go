package shared

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
)

// ContextKey is the type of the keys this package stores in a context.
type ContextKey string

const (
	// TraceIDKey is the key for the trace ID in the request context
	TraceIDKey ContextKey = "traceID"

	// OperatorContextKey is the key for the authenticated operator subject
	OperatorContextKey ContextKey = "operator"

	// TraceIDLength is the number of random bytes in a trace ID
	TraceIDLength = 16
)

// SetTraceID adds a fresh trace ID to the context.
func SetTraceID(ctx context.Context) context.Context {
	return context.WithValue(ctx, TraceIDKey, generateTraceID())
}

// GetTraceID retrieves the trace ID from the context, or "" when absent.
func GetTraceID(ctx context.Context) string {
	traceID, ok := ctx.Value(TraceIDKey).(string)
	if !ok {
		return ""
	}
	return traceID
}

// SetOperator records the authenticated operator subject.
func SetOperator(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, OperatorContextKey, subject)
}

// GetOperator returns the authenticated operator subject, if any.
func GetOperator(ctx context.Context) (string, bool) {
	subject, ok := ctx.Value(OperatorContextKey).(string)
	return subject, ok && subject != ""
}

// generateTraceID returns 32 hex characters. A random UUID backs it if the
// system entropy source fails.
func generateTraceID() string {
	b := make([]byte, TraceIDLength)
	if _, err := rand.Read(b); err != nil {
		return strings.ReplaceAll(uuid.NewString(), "-", "")
	}
	return hex.EncodeToString(b)
}
