package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/JoeBuildsStuff/cookbook-app-sub001/db"
	"github.com/JoeBuildsStuff/cookbook-app-sub001/internal/app"
	"github.com/JoeBuildsStuff/cookbook-app-sub001/internal/auth"
	"github.com/JoeBuildsStuff/cookbook-app-sub001/internal/config"
	"github.com/JoeBuildsStuff/cookbook-app-sub001/internal/events"
	"github.com/JoeBuildsStuff/cookbook-app-sub001/internal/idempotency"
	"github.com/JoeBuildsStuff/cookbook-app-sub001/internal/logging"
	"github.com/JoeBuildsStuff/cookbook-app-sub001/internal/metrics"
	"github.com/JoeBuildsStuff/cookbook-app-sub001/internal/search"
	"github.com/JoeBuildsStuff/cookbook-app-sub001/internal/store"
)

func newServeCmd() *cobra.Command {
	var skipMigrations bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), skipMigrations)
		},
	}
	cmd.Flags().BoolVar(&skipMigrations, "skip-migrations", false, "do not apply pending migrations on start")
	return cmd
}

func newMigrateCmd() *cobra.Command {
	var down bool
	var steps int
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.LogLevel)
			if err != nil {
				return fmt.Errorf("build logger: %w", err)
			}
			defer func() { _ = logger.Sync() }()

			ctx := cmd.Context()
			conn, err := openDatabase(ctx, cfg)
			if err != nil {
				return err
			}
			defer conn.Close()

			var done []string
			if down {
				done, err = store.RollbackMigrations(ctx, conn, migrationSource(cfg), steps, logger.Named("migrate"))
			} else {
				done, err = store.ApplyMigrations(ctx, conn, migrationSource(cfg), logger.Named("migrate"))
			}
			if err != nil {
				return fmt.Errorf("migrations failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d migrations run\n", len(done))
			return nil
		},
	}
	cmd.Flags().BoolVar(&down, "down", false, "revert applied migrations instead")
	cmd.Flags().IntVar(&steps, "steps", 1, "how many migrations --down reverts (0 for all)")
	return cmd
}

// migrationSource prefers an explicit directory over the bundled files.
func migrationSource(cfg config.Config) fs.FS {
	if dir := strings.TrimSpace(cfg.MigrationsDir); dir != "" {
		return os.DirFS(dir)
	}
	return db.Migrations()
}

func openDatabase(ctx context.Context, cfg config.Config) (*sql.DB, error) {
	conn, err := store.Open(ctx, cfg.DatabaseURL, store.PoolOptions{
		MaxOpenConns: cfg.DBMaxOpenConns,
		MaxIdleConns: cfg.DBMaxIdleConns,
	})
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}
	return conn, nil
}

// newTokenCmd signs a bearer token with the configured secret for local use.
func newTokenCmd() *cobra.Command {
	var ttl time.Duration
	var name string
	cmd := &cobra.Command{
		Use:   "token <user-id>",
		Short: "Issue a development bearer token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			token, err := auth.IssueToken([]byte(cfg.JWTSecret), args[0], name, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 12*time.Hour, "token lifetime")
	cmd.Flags().StringVar(&name, "name", "", "display name claim")
	return cmd
}

func serve(parent context.Context, skipMigrations bool) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	gin.SetMode(gin.ReleaseMode)

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	conn, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer conn.Close()

	if !skipMigrations {
		if _, err := store.ApplyMigrations(ctx, conn, migrationSource(cfg), logger.Named("migrate")); err != nil {
			return fmt.Errorf("migrations failed: %w", err)
		}
	}
	dataStore := store.NewPostgresStore(conn)

	pgfts := search.NewPgFTS(conn)
	var primary search.Backend
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient := search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger.Named("search"))
		defer meiliClient.Close()
		primary = meiliClient
	}
	searchService := search.NewService(primary, pgfts, logger.Named("search"))
	if primary != nil {
		go searchService.ReindexAll(ctx, pgfts)
	}

	publisher := events.NewNoop()
	if strings.TrimSpace(cfg.AMQPURL) != "" {
		rabbit, err := events.NewRabbit(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			logger.Warn("rabbitmq unavailable, lifecycle events disabled", zap.Error(err))
		} else {
			publisher = rabbit
		}
	}
	defer func() { _ = publisher.Close() }()

	m := metrics.New()
	m.MustRegister()

	httpCfg := app.HTTPConfig{
		CORSOrigin: cfg.CORSOrigin,
		JWTSecret:  []byte(cfg.JWTSecret),
		SyncRate:   rate.Limit(cfg.SyncRatePerSecond),
		SyncBurst:  cfg.SyncBurst,
		Metrics:    m,
		Logger:     logger.Named("http"),
	}
	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisStore, err := idempotency.NewRedisStore(cfg.RedisURL, cfg.IdempotencyTTL)
		if err != nil {
			return fmt.Errorf("redis connection failed: %w", err)
		}
		defer redisStore.Close()
		httpCfg.Idempotency = redisStore
	} else {
		logger.Info("REDIS_URL not set, Idempotency-Key replay disabled")
	}

	service := app.New(dataStore, searchService, publisher, m, logger.Named("service"))
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           app.NewHTTPServer(service, httpCfg).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("annotations API listening", zap.String("addr", cfg.Addr), zap.String("version", Version))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", zap.Error(err))
	}
	return nil
}
