// README: Applies embedded goose migrations against the pgx pool.
package infra

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/pressly/goose/v3/lock"

	"handoff/migrations"
)

// Migrate brings the schema up to date. A postgres advisory lock serialises concurrent callers.
func Migrate(ctx context.Context, pool *pgxpool.Pool) (int, error) {
	locker, err := lock.NewPostgresSessionLocker()
	if err != nil {
		return 0, fmt.Errorf("migrate locker: %w", err)
	}
	// Closing the *sql.DB releases its connections back to the pool; the pool stays open.
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()
	provider, err := goose.NewProvider(goose.DialectPostgres, db, migrations.FS,
		goose.WithSessionLocker(locker),
	)
	if err != nil {
		return 0, fmt.Errorf("migrate provider: %w", err)
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return 0, fmt.Errorf("migrate up: %w", err)
	}
	return len(results), nil
}
