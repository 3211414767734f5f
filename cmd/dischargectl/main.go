package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/dischargehq/discharge/internal/config"
	"github.com/dischargehq/discharge/internal/domain/audit"
	"github.com/dischargehq/discharge/internal/domain/registry"
	"github.com/dischargehq/discharge/internal/domain/staging"
	"github.com/dischargehq/discharge/internal/platform/db"
	"github.com/dischargehq/discharge/internal/platform/middleware"
)

const requestTimeout = 60 * time.Second

func main() {
	rootCmd := &cobra.Command{
		Use:   "dischargectl",
		Short: "Discharge summary ingestion service",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(dbCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the ingestion API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, db.PoolConfig{URL: cfg.DatabaseURL, MaxConns: cfg.DBMaxConns, MinConns: cfg.DBMinConns})
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			count, err := migrator.Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, db.PoolConfig{URL: cfg.DatabaseURL, MaxConns: cfg.DBMaxConns, MinConns: cfg.DBMinConns})
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			statuses, err := migrator.Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	return cmd
}

func dbCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Provision or tear down the application database",
	}

	adminFlags := func(c *cobra.Command) {
		c.Flags().String("admin-url", "", "Superuser URL for the maintenance database")
		c.Flags().String("db-name", "discharge", "Application database name")
		c.Flags().String("app-role", "discharge_app", "Application login role")
		c.Flags().String("app-password", "", "Password for the application role")
	}
	adminConfig := func(c *cobra.Command) (db.AdminConfig, error) {
		adminURL, _ := c.Flags().GetString("admin-url")
		if adminURL == "" {
			adminURL = os.Getenv("ADMIN_DATABASE_URL")
		}
		if adminURL == "" {
			return db.AdminConfig{}, fmt.Errorf("--admin-url or ADMIN_DATABASE_URL is required")
		}
		dbName, _ := c.Flags().GetString("db-name")
		appRole, _ := c.Flags().GetString("app-role")
		appPassword, _ := c.Flags().GetString("app-password")
		return db.AdminConfig{
			AdminURL:    adminURL,
			DBName:      dbName,
			AppRole:     appRole,
			AppPassword: appPassword,
		}, nil
	}

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Create the database, role, and schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")
			cfg, err := adminConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.AppPassword == "" {
				return fmt.Errorf("--app-password is required")
			}
			if err := db.InitDatabase(context.Background(), cfg, dir); err != nil {
				return err
			}
			fmt.Printf("Database %q initialized.\n", cfg.DBName)
			return nil
		},
	}
	adminFlags(initCmd)
	initCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(initCmd)

	teardownCmd := &cobra.Command{
		Use:   "teardown",
		Short: "Drop the database and role",
		RunE: func(cmd *cobra.Command, args []string) error {
			confirmed, _ := cmd.Flags().GetBool("yes")
			if !confirmed {
				return fmt.Errorf("teardown drops the database; pass --yes to confirm")
			}
			cfg, err := adminConfig(cmd)
			if err != nil {
				return err
			}
			if err := db.TeardownDatabase(context.Background(), cfg); err != nil {
				return err
			}
			fmt.Printf("Database %q dropped.\n", cfg.DBName)
			return nil
		},
	}
	adminFlags(teardownCmd)
	teardownCmd.Flags().Bool("yes", false, "Confirm the teardown")
	cmd.AddCommand(teardownCmd)

	return cmd
}

func runServer() error {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, db.PoolConfig{URL: cfg.DatabaseURL, MaxConns: cfg.DBMaxConns, MinConns: cfg.DBMinConns})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.Actor(cfg.DefaultActor()))
	e.Use(middleware.BodyLimit(cfg.MaxUploadBytes))
	e.Use(middleware.RequestTimeout(requestTimeout))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Content-Type", "X-Request-ID", "X-Actor-ID"},
	}))

	trail := audit.NewRecorder(pool)

	stagingRepo := staging.NewRepo(pool)
	stagingSvc := staging.NewService(stagingRepo, trail, pool, cfg.UploadDir)
	staging.NewHandler(stagingSvc).RegisterRoutes(e)

	registryRepo := registry.NewRepo(pool)
	registrySvc := registry.NewService(registryRepo, stagingRepo, trail, pool)
	registry.NewHandler(registrySvc).RegisterRoutes(e)

	e.GET("/", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"message": "Discharge ingestion API. See /import-types to get started.",
		})
	})
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": "0.1.0",
		})
	})
	e.GET("/health/db", db.HealthHandler(pool))

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
