package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/scribe/scribe/internal/config"
	"github.com/scribe/scribe/internal/domain/note"
	"github.com/scribe/scribe/internal/domain/patient"
	"github.com/scribe/scribe/internal/platform/blobstore"
	"github.com/scribe/scribe/internal/platform/db"
	"github.com/scribe/scribe/internal/platform/middleware"
	"github.com/scribe/scribe/internal/platform/summary"
	"github.com/scribe/scribe/internal/platform/telemetry"
	"github.com/scribe/scribe/internal/platform/transcription"
	"github.com/scribe/scribe/internal/server"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "scribe-server",
		Short: "Clinical notes API with audio transcription and AI summaries",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(seedCmd())

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

// openPool loads config and connects. Callers close the pool.
func openPool(ctx context.Context) (*config.Config, *pgxpool.Pool, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return nil, nil, err
	}
	return cfg, pool, nil
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	// migrate up
	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			_, pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator, err := db.NewMigrator(pool)
			if err != nil {
				return err
			}
			defer migrator.Close()

			count, err := migrator.Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
			return nil
		},
	})

	// migrate status
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			_, pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator, err := db.NewMigrator(pool)
			if err != nil {
				return err
			}
			defer migrator.Close()

			statuses, err := migrator.Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}
			printStatus(cmd.OutOrStdout(), statuses)
			return nil
		},
	})

	return cmd
}

func printStatus(w io.Writer, statuses []db.MigrationStatus) {
	fmt.Fprintf(w, "%-10s %-40s %s\n", "VERSION", "NAME", "STATUS")
	fmt.Fprintln(w, "---------- ---------------------------------------- ----------")
	for _, s := range statuses {
		state := "pending"
		if s.Applied {
			state = "applied"
		}
		fmt.Fprintf(w, "%-10d %-40s %s\n", s.Version, s.Name, state)
	}
}

func seedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Insert sample patients (idempotent)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			svc := patient.NewService(patient.NewPatientRepoPG(pool), newLogger(cfg.Env, os.Stderr))
			n, err := svc.Seed(ctx, patient.SamplePatients())
			if err != nil {
				return fmt.Errorf("seed failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Seeded %d patient(s).\n", n)
			return nil
		},
	}
}

func newLogger(env string, w io.Writer) zerolog.Logger {
	if env == "development" {
		w = zerolog.ConsoleWriter{Out: w}
	}
	return zerolog.New(w).With().Timestamp().Logger()
}

func newBlobStore(ctx context.Context, cfg *config.Config) (blobstore.BlobStore, error) {
	if cfg.StorageDriver == config.StorageMemory {
		return blobstore.NewInMemoryBlobStore(), nil
	}
	s3, err := blobstore.NewS3Store(ctx, blobstore.S3Config{
		Endpoint:        cfg.ResolvedStorageEndpoint(),
		Region:          cfg.StorageRegion,
		Bucket:          cfg.StorageBucket,
		AccessKeyID:     cfg.StorageAccessKeyID,
		SecretAccessKey: cfg.StorageSecretAccessKey,
	})
	if err != nil {
		return nil, err
	}
	return s3, nil
}

func serverOptions(cfg *config.Config) server.Options {
	return server.Options{
		CORSOrigins: cfg.CORSOrigins,
		RateLimit: middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimitRPS,
			BurstSize:         cfg.RateLimitBurst,
		},
		AudioBodyLimit: cfg.BodyLimit,
		RequestTimeout: cfg.RequestTimeout,
		HSTS:           cfg.IsProduction(),
	}
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Env, os.Stdout)

	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}
	if cfg.IsDev() {
		logger.Warn().Str("storage_driver", cfg.StorageDriver).Msg("running in development mode")
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	store, err := newBlobStore(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure object storage")
	}
	audio := blobstore.NewGateway(store, cfg.SignedURLTTL(), logger)

	tp := telemetry.NewTelemetryProvider(telemetry.TelemetryConfig{ProcessMetrics: true})

	whisper := transcription.NewWhisper(transcription.Config{
		APIKey:  cfg.OpenAIAPIKey,
		BaseURL: cfg.OpenAIBaseURL,
		Model:   cfg.TranscriptionModel,
	}, logger)
	summarizer := summary.NewOpenAI(summary.Config{
		APIKey:  cfg.OpenAIAPIKey,
		BaseURL: cfg.OpenAIBaseURL,
		Model:   cfg.SummaryModel,
	}, logger)

	patientSvc := patient.NewService(patient.NewPatientRepoPG(pool), logger)
	noteSvc := note.NewService(note.NewNoteRepoPG(pool), patientSvc, audio, whisper, summarizer, logger,
		note.WithTelemetry(tp),
		note.WithAutoSummary(cfg.AutoSummary),
	)

	e := server.New(serverOptions(cfg), server.Deps{
		Logger:    logger,
		Patients:  patient.NewHandler(patientSvc),
		Notes:     note.NewHandler(noteSvc),
		DBHealth:  db.PoolHealthHandler(pool),
		PoolStats: func() *db.PoolStats { return db.GetPoolStats(pool) },
		Telemetry: tp,
	})

	// Graceful shutdown
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
