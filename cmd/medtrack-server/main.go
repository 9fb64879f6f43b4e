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

	"github.com/medtrack/medtrack/internal/config"
	"github.com/medtrack/medtrack/internal/domain/adherence"
	"github.com/medtrack/medtrack/internal/domain/archive"
	"github.com/medtrack/medtrack/internal/domain/command"
	"github.com/medtrack/medtrack/internal/domain/correction"
	"github.com/medtrack/medtrack/internal/domain/event"
	"github.com/medtrack/medtrack/internal/domain/prefs"
	"github.com/medtrack/medtrack/internal/platform/auth"
	"github.com/medtrack/medtrack/internal/platform/cache"
	"github.com/medtrack/medtrack/internal/platform/db"
	"github.com/medtrack/medtrack/internal/platform/middleware"
	"github.com/medtrack/medtrack/internal/platform/notify"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "medtrack-server",
		Short: "Medication tracking API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(archiveCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
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
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
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
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
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

// archiveCmd runs one archive pass and exits, for cron-style deployments
// that prefer an external scheduler over the built-in runner.
func archiveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "archive-once",
		Short: "Run a single daily reset and archive pass",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			tx := db.NewTransactor(pool)
			prefsRepo := prefs.NewRepoPG(pool)
			cmdRepo := command.NewRepoPG(pool)
			eventRepo := event.NewRepoPG(pool)
			summaryRepo := archive.NewRepoPG(pool)
			adherSvc := adherence.NewService(eventRepo, archive.NewStatsSource(summaryRepo), prefsRepo, cache.Noop{}, logger)
			archiveSvc := archive.NewService(prefsRepo, eventRepo, summaryRepo, cmdRepo, adherSvc, tx,
				cfg.ArchiveWorkers, cfg.MidnightWindow, logger)

			report := archiveSvc.Run(ctx)
			fmt.Printf("patients=%d archived=%d skipped=%d failed=%d\n",
				report.Patients, report.Archived, report.Skipped, report.Failed)
			if report.Failed > 0 {
				return fmt.Errorf("%d patient(s) failed to archive", report.Failed)
			}
			return nil
		},
	}
}

func newLogger() zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return logger
}

func runServer() error {
	logger := newLogger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	// Cache: redis when configured, otherwise a no-op so the adherence
	// service always has something to talk to.
	var reportCache cache.Cache = cache.Noop{}
	if cfg.RedisURL != "" {
		rc, err := cache.NewRedis(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer rc.Close()
		reportCache = rc
		logger.Info().Msg("connected to redis")
	}

	// Notification intents go to Kafka when brokers are configured and to
	// the log otherwise.
	var emitter notify.Emitter = notify.NewLogEmitter(logger)
	if len(cfg.KafkaBrokers) > 0 {
		ke := notify.NewKafkaEmitter(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer ke.Close()
		emitter = ke
		logger.Info().Strs("brokers", cfg.KafkaBrokers).Str("topic", cfg.KafkaTopic).Msg("kafka emitter enabled")
	}
	dispatcher := notify.NewDispatcher(emitter, logger)

	// Repositories and services.
	tx := db.NewTransactor(pool)
	prefsRepo := prefs.NewRepoPG(pool)
	cmdRepo := command.NewRepoPG(pool)
	eventRepo := event.NewRepoPG(pool)
	summaryRepo := archive.NewRepoPG(pool)

	cmdSvc := command.NewService(cmdRepo, prefsRepo, logger)
	eventSvc := event.NewService(eventRepo, cmdRepo, cmdSvc, prefsRepo, tx, dispatcher, logger)
	adherSvc := adherence.NewService(eventRepo, archive.NewStatsSource(summaryRepo), prefsRepo, reportCache, logger)
	corrSvc := correction.NewService(eventRepo, prefsRepo, adherSvc, tx, logger)
	archiveSvc := archive.NewService(prefsRepo, eventRepo, summaryRepo, cmdRepo, adherSvc, tx,
		cfg.ArchiveWorkers, cfg.MidnightWindow, logger)
	archiveSvc.SetDispatcher(dispatcher)

	// Echo server.
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))

	if cfg.ResolvedAuthMode() == "development" {
		logger.Warn().Msg("development auth enabled; all requests run as an admin identity")
		e.Use(auth.DevAuthMiddleware())
	} else {
		e.Use(auth.JWTMiddleware([]byte(cfg.AuthSecret)))
	}

	e.GET("/health", db.HealthHandler(pool))

	apiV1 := e.Group("/api/v1")
	prefs.NewHandler(prefsRepo).RegisterRoutes(apiV1)
	command.NewHandler(cmdSvc).RegisterRoutes(apiV1)
	event.NewHandler(eventSvc).RegisterRoutes(apiV1)
	correction.NewHandler(corrSvc).RegisterRoutes(apiV1)
	adherence.NewHandler(adherSvc).RegisterRoutes(apiV1)
	archive.NewHandler(archiveSvc, prefsRepo, summaryRepo).RegisterRoutes(apiV1)

	// Daily reset runner.
	runner := archive.NewRunner(archiveSvc, cfg.ArchiveInterval, logger)
	runner.Start()

	// Start server.
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("server listening")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server stopped unexpectedly")
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info().Msg("shutting down")

	runner.Stop()

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("forced shutdown")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}
