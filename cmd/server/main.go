package main

import (
	"context"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/JonMunkholm/filestage/internal/config"
	"github.com/JonMunkholm/filestage/internal/history"
	"github.com/JonMunkholm/filestage/internal/logging"
	"github.com/JonMunkholm/filestage/internal/preview"
	"github.com/JonMunkholm/filestage/internal/session"
	"github.com/JonMunkholm/filestage/internal/staging"
	"github.com/JonMunkholm/filestage/internal/web"
)

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file")
	}

	// Load and validate configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Setup structured logging based on config
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("configuration loaded",
		"port", cfg.Server.Port,
		"max_files", cfg.Staging.MaxFiles,
		"max_file_size", cfg.Staging.MaxFileSize,
		"notice_ttl", cfg.Staging.NoticeTTL,
		"history_enabled", cfg.Database.HistoryEnabled(),
		"rate_limit_enabled", cfg.Rate.Enabled,
	)

	// Preview storage: in memory unless a directory is configured
	previewFs, err := preview.NewFs(cfg.Staging.PreviewDir)
	if err != nil {
		slog.Error("failed to prepare preview storage", "error", err)
		os.Exit(1)
	}
	previews := preview.New(previewFs, preview.WithLogger(slog.Default()))

	// Create cancellable context for background jobs
	jobCtx, cancelJobs := context.WithCancel(context.Background())
	defer cancelJobs()

	var (
		pool       *pgxpool.Pool
		recorder   *history.Recorder
		sessionOpt = []session.Option{session.WithLogger(slog.Default())}
		serverOpt  []web.Option
	)
	if cfg.Database.HistoryEnabled() {
		pool, err = connect(jobCtx, cfg)
		if err != nil {
			slog.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}

		recorder = history.NewRecorder(pool,
			history.WithQueueSize(cfg.Database.HistoryQueueSize),
			history.WithLogger(slog.Default()),
		)
		if err := recorder.EnsureSchema(jobCtx); err != nil {
			slog.Error("failed to create submissions table", "error", err)
			os.Exit(1)
		}
		// Runs until Close drains the queue
		recorder.Start(context.Background())

		sessionOpt = append(sessionOpt, session.WithRecorder(recorder))
		serverOpt = append(serverOpt, web.WithHistory(recorder))
	}

	sessions := session.NewManager(previews, session.Config{
		MaxFiles:    cfg.Staging.MaxFiles,
		Rules:       staging.NewRules(cfg.Staging.MaxFileSize, cfg.Staging.AllowedTypes),
		NoticeTTL:   cfg.Staging.NoticeTTL,
		IdleTimeout: cfg.Session.IdleTimeout,
	}, sessionOpt...)

	// Tear down idle sessions in the background
	go sessions.StartReaper(jobCtx, cfg.Session.ReapInterval)

	server := web.NewServer(cfg, sessions, previews, serverOpt...)

	// Graceful shutdown
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")

		// Stop background jobs
		cancelJobs()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// Let uploads that are mid-parse finish staging
		if err := server.WaitForIntake(shutdownCtx); err != nil {
			slog.Warn("uploads did not complete in time", "error", err)
		}

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}

		// Releases every preview handle and cancels pending notices
		sessions.Close()

		if recorder != nil {
			if err := recorder.Close(shutdownCtx); err != nil {
				slog.Warn("submission history not fully written", "error", err)
			}
		}
		if err := previews.Close(); err != nil {
			slog.Warn("preview cleanup failed", "error", err)
		}
		if pool != nil {
			pool.Close()
		}
	}()

	// Start server
	if err := server.Start(cfg.Server.Addr()); err != nil {
		slog.Error("server stopped", "error", err)
		os.Exit(1)
	}
	<-stopped
	slog.Info("server stopped")
}

// connect opens and verifies the history database pool.
func connect(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	// Parse and configure connection pool
	poolConfig, err := pgxpool.ParseConfig(cfg.Database.URL)
	if err != nil {
		return nil, err
	}

	// Apply pool configuration from config
	poolConfig.MaxConns = int32(cfg.Database.MaxConns)
	poolConfig.MinConns = int32(cfg.Database.MinConns)
	poolConfig.MaxConnLifetime = cfg.Database.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.Database.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, err
	}

	// Verify connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	// Log which database we connected to
	if u, err := url.Parse(cfg.Database.URL); err == nil {
		slog.Info("connected to database", "name", strings.TrimPrefix(u.Path, "/"))
	} else {
		slog.Info("connected to database")
	}
	return pool, nil
}
