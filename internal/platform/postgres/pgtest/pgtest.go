// Package pgtest provides helpers for tests that need a real PostgreSQL
// database. Tests using it are skipped unless a database URL is set in the
// environment.
package pgtest

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/phrazzld/papersum/internal/platform/postgres"
	"github.com/phrazzld/papersum/internal/redact"
	"github.com/stretchr/testify/require"
)

// EnvVars are checked in order for the test database URL.
var EnvVars = []string{"PAPERSUM_TEST_DATABASE_URL", "DATABASE_URL"}

// Timeout bounds connection setup and migrations.
const Timeout = 30 * time.Second

// DatabaseURL returns the first non-empty URL from EnvVars.
func DatabaseURL() string {
	for _, name := range EnvVars {
		if v := os.Getenv(name); v != "" {
			return v
		}
	}
	return ""
}

// Open connects to the test database and applies all migrations. It skips
// the test when no URL is configured and closes the pool on cleanup.
func Open(t *testing.T) *sql.DB {
	t.Helper()

	url := DatabaseURL()
	if url == "" {
		t.Skip("no test database URL set; skipping PostgreSQL integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), Timeout)
	defer cancel()

	db, err := postgres.Open(ctx, url)
	require.NoError(t, err, "failed to connect to %s", redact.String(url))
	t.Cleanup(func() { _ = db.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	require.NoError(t, postgres.Migrate(ctx, db, "up", logger), "failed to apply migrations")

	return db
}

// Reset removes every record so a test starts from an empty table.
func Reset(t *testing.T, db *sql.DB) {
	t.Helper()
	_, err := db.ExecContext(context.Background(), `TRUNCATE records`)
	require.NoError(t, err)
}

// WithTx runs fn inside a transaction that is always rolled back, so tests
// can write freely without affecting each other.
func WithTx(t *testing.T, db *sql.DB, fn func(t *testing.T, tx *sql.Tx)) {
	t.Helper()

	tx, err := db.BeginTx(context.Background(), nil)
	require.NoError(t, err, "failed to begin transaction")

	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			t.Logf("failed to roll back transaction: %v", err)
		}
	}()

	fn(t, tx)
}
