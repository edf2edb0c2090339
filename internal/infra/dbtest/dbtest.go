// README: Test helper that connects to HANDOFF_TEST_DSN and migrates the schema.
package dbtest

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"handoff/internal/infra"
)

// Open skips the calling test when HANDOFF_TEST_DSN is unset.
func Open(t *testing.T) *pgxpool.Pool {
	t.Helper()

	dsn := os.Getenv("HANDOFF_TEST_DSN")
	if dsn == "" {
		t.Skip("HANDOFF_TEST_DSN not set; skipping DB-backed tests")
	}

	ctx := context.Background()
	db, err := infra.NewDB(ctx, dsn, 20)
	if err != nil {
		t.Fatalf("connect db: %v", err)
	}
	t.Cleanup(db.Close)

	if _, err := infra.Migrate(ctx, db); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	return db
}
