package integration

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	embeddedpostgres "github.com/fergusstrange/embedded-postgres"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dischargehq/discharge/internal/platform/db"
)

const (
	testPort     = 15433
	testDBName   = "discharge_test"
	testUser     = "postgres"
	testPassword = "postgres"
)

var (
	testDSN string
	pg      *embeddedpostgres.EmbeddedPostgres
)

// TestMain starts an embedded Postgres for the whole package. The tests are
// opt-in: set DISCHARGE_INTEGRATION=1 to run them.
func TestMain(m *testing.M) {
	if os.Getenv("DISCHARGE_INTEGRATION") != "1" {
		fmt.Fprintln(os.Stderr, "SKIP: set DISCHARGE_INTEGRATION=1 to run integration tests")
		os.Exit(0)
	}

	testDSN = fmt.Sprintf("postgresql://%s:%s@localhost:%d/%s?sslmode=disable",
		testUser, testPassword, testPort, testDBName)

	pg = embeddedpostgres.NewDatabase(
		embeddedpostgres.DefaultConfig().
			Port(uint32(testPort)).
			Database(testDBName).
			Username(testUser).
			Password(testPassword).
			Version(embeddedpostgres.V16).
			StartTimeout(30 * time.Second),
	)

	if err := pg.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to start embedded postgres: %v\n", err)
		os.Exit(1)
	}

	code := m.Run()

	if err := pg.Stop(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to stop embedded postgres: %v\n", err)
	}

	os.Exit(code)
}

// pgxWrapper bundles the pool with small query helpers for assertions.
type pgxWrapper struct {
	pool *pgxpool.Pool
}

func (w *pgxWrapper) scanOne(t *testing.T, sql string, dest interface{}, args ...interface{}) {
	t.Helper()
	if err := w.pool.QueryRow(context.Background(), sql, args...).Scan(dest); err != nil {
		t.Fatalf("query %q: %v", sql, err)
	}
}

// setupDB connects, resets the schema, and applies all migrations.
func setupDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, testDSN)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}

	if _, err := pool.Exec(ctx, "DROP SCHEMA public CASCADE; CREATE SCHEMA public"); err != nil {
		pool.Close()
		t.Fatalf("reset schema: %v", err)
	}

	migrator := db.NewMigrator(pool, "../../migrations")
	if _, err := migrator.Up(ctx); err != nil {
		pool.Close()
		t.Fatalf("migrations: %v", err)
	}

	t.Cleanup(func() { pool.Close() })
	return pool
}
