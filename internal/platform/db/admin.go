package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AdminConfig holds superuser connection details for provisioning and
// tearing down the application database.
type AdminConfig struct {
	// AdminURL points at the maintenance database (usually "postgres")
	// with a role allowed to create databases and roles.
	AdminURL    string
	DBName      string
	AppRole     string
	AppPassword string
}

// InitDatabase creates the application database and login role if missing,
// grants the role access, and applies all migrations from migrationsDir.
// It is safe to run repeatedly.
func InitDatabase(ctx context.Context, cfg AdminConfig, migrationsDir string) error {
	admin, err := pgx.Connect(ctx, cfg.AdminURL)
	if err != nil {
		return fmt.Errorf("connect admin database: %w", err)
	}
	defer admin.Close(ctx)

	var exists bool
	err = admin.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM pg_database WHERE datname = $1)", cfg.DBName,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check database existence: %w", err)
	}
	if !exists {
		// CREATE DATABASE cannot run inside a transaction
		if _, err := admin.Exec(ctx,
			fmt.Sprintf("CREATE DATABASE %s", pgx.Identifier{cfg.DBName}.Sanitize()),
		); err != nil {
			return fmt.Errorf("create database %s: %w", cfg.DBName, err)
		}
	}

	err = admin.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM pg_roles WHERE rolname = $1)", cfg.AppRole,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check role existence: %w", err)
	}
	if !exists {
		// CREATE ROLE cannot take the password as a bind parameter.
		if _, err := admin.Exec(ctx, fmt.Sprintf(
			"CREATE ROLE %s WITH LOGIN PASSWORD %s",
			pgx.Identifier{cfg.AppRole}.Sanitize(), quoteLiteral(cfg.AppPassword),
		)); err != nil {
			return fmt.Errorf("create role %s: %w", cfg.AppRole, err)
		}
	}

	if _, err := admin.Exec(ctx, fmt.Sprintf(
		"GRANT ALL PRIVILEGES ON DATABASE %s TO %s",
		pgx.Identifier{cfg.DBName}.Sanitize(), pgx.Identifier{cfg.AppRole}.Sanitize(),
	)); err != nil {
		return fmt.Errorf("grant database privileges: %w", err)
	}

	pool, err := targetPool(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	if _, err := NewMigrator(pool, migrationsDir).Up(ctx); err != nil {
		return err
	}

	grants := fmt.Sprintf(`
GRANT ALL PRIVILEGES ON ALL TABLES IN SCHEMA public TO %[1]s;
GRANT ALL PRIVILEGES ON ALL SEQUENCES IN SCHEMA public TO %[1]s;
ALTER DEFAULT PRIVILEGES IN SCHEMA public GRANT ALL PRIVILEGES ON TABLES TO %[1]s;
ALTER DEFAULT PRIVILEGES IN SCHEMA public GRANT ALL PRIVILEGES ON SEQUENCES TO %[1]s;
`, pgx.Identifier{cfg.AppRole}.Sanitize())
	if _, err := pool.Exec(ctx, grants); err != nil {
		return fmt.Errorf("grant table privileges: %w", err)
	}

	return nil
}

// TeardownDatabase terminates open sessions, drops the application database,
// and drops the login role. Missing objects are not an error.
func TeardownDatabase(ctx context.Context, cfg AdminConfig) error {
	admin, err := pgx.Connect(ctx, cfg.AdminURL)
	if err != nil {
		return fmt.Errorf("connect admin database: %w", err)
	}
	defer admin.Close(ctx)

	if _, err := admin.Exec(ctx,
		`SELECT pg_terminate_backend(pid) FROM pg_stat_activity
		 WHERE datname = $1 AND pid <> pg_backend_pid()`, cfg.DBName,
	); err != nil {
		return fmt.Errorf("terminate sessions: %w", err)
	}

	if _, err := admin.Exec(ctx, fmt.Sprintf(
		"DROP DATABASE IF EXISTS %s", pgx.Identifier{cfg.DBName}.Sanitize(),
	)); err != nil {
		return fmt.Errorf("drop database %s: %w", cfg.DBName, err)
	}

	if _, err := admin.Exec(ctx, fmt.Sprintf(
		"DROP ROLE IF EXISTS %s", pgx.Identifier{cfg.AppRole}.Sanitize(),
	)); err != nil {
		return fmt.Errorf("drop role %s: %w", cfg.AppRole, err)
	}

	return nil
}

// quoteLiteral single-quotes s for inline SQL, doubling embedded quotes.
func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// targetPool opens a short-lived pool on the application database using the
// admin credentials.
func targetPool(ctx context.Context, cfg AdminConfig) (*pgxpool.Pool, error) {
	pc, err := pgxpool.ParseConfig(cfg.AdminURL)
	if err != nil {
		return nil, fmt.Errorf("parse admin url: %w", err)
	}
	pc.ConnConfig.Database = cfg.DBName

	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", cfg.DBName, err)
	}
	return pool, nil
}
