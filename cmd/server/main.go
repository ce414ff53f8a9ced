package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/samber/do"
	"github.com/serroba/nillion-storage-api/internal/container"
	"github.com/serroba/nillion-storage-api/internal/messaging"
	"github.com/serroba/nillion-storage-api/internal/store"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// legacyEnv maps the variable names older deployments use to their option.
var legacyEnv = map[string]string{
	"NILLION_PRIVATE_KEY": "SERVICE_PRIVATE_KEY",
	"POSTGRESQL_URL":      "SERVICE_POSTGRES_URL",
	"REDIS_URL":           "SERVICE_REDIS_ADDR",
	"FRONTEND_ORIGIN":     "SERVICE_FRONTEND_ORIGIN",
}

func applyLegacyEnv() {
	for legacy, current := range legacyEnv {
		if os.Getenv(current) != "" {
			continue
		}

		if v := os.Getenv(legacy); v != "" {
			_ = os.Setenv(current, v)
		}
	}
}

func registerPackages(injector *do.Injector, options *container.Options) {
	container.CorePackage(injector, options)
	container.RedisPackage(injector)
	container.PostgresPackage(injector)
	container.RepositoryPackage(injector)
	container.CachePackage(injector)
	container.RateLimitPackage(injector)
	container.AuditStorePackage(injector)
	container.MetricsPackage(injector)
	container.PaymentPackage(injector)
	container.PubSubPackage(injector)
	container.PublisherGroupPackage(injector)
	container.ConsumerGroupPackage(injector)
	container.BrokerPackage(injector)
	container.HTTPPackage(injector)
}

func main() {
	_ = godotenv.Load()

	applyLegacyEnv()

	cli := humacli.New(func(hooks humacli.Hooks, options *container.Options) {
		injector := do.New()
		registerPackages(injector, options)

		logger := do.MustInvoke[*zap.Logger](injector)

		if err := options.Validate(); err != nil {
			logger.Fatal("invalid configuration", zap.Error(err))
		}

		for _, warning := range options.Warnings() {
			logger.Warn(warning)
		}

		var server *http.Server

		hooks.OnStart(func() {
			router := do.MustInvoke[*chi.Mux](injector)

			// Invoke API to trigger route registration
			_ = do.MustInvoke[huma.API](injector)

			// Without Redis the audit events travel on an in-process channel,
			// so the server consumes them itself.
			if do.MustInvoke[*redis.Client](injector) == nil {
				group := do.MustInvoke[*messaging.ConsumerGroup](injector)
				if err := group.Start(context.Background()); err != nil {
					logger.Fatal("failed to start audit consumer", zap.Error(err))
				}
			}

			server = &http.Server{
				Addr:              fmt.Sprintf(":%d", options.Port),
				Handler:           router,
				ReadHeaderTimeout: 10 * time.Second,
			}

			logger.Info("server starting",
				zap.Int("port", options.Port),
				zap.String("network", options.Network),
				zap.String("storage", options.Storage),
			)

			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Fatal("server failed", zap.Error(err))
			}
		})

		hooks.OnStop(func() {
			logger.Info("shutting down")

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			if server != nil {
				if err := server.Shutdown(ctx); err != nil {
					logger.Error("server shutdown error", zap.Error(err))
				}
			}

			if err := injector.Shutdown(); err != nil {
				logger.Error("service shutdown error", zap.Error(err))
			}

			logger.Info("shutdown complete")
		})
	})

	cli.Root().AddCommand(migrateCommand(), dropTablesCommand())

	cli.Run()
}

// withPool runs fn against the configured database and releases it after.
func withPool(options *container.Options, fn func(context.Context, *pgxpool.Pool, *zap.Logger) error) {
	injector := do.New()
	container.CorePackage(injector, options)
	container.PostgresPackage(injector)

	logger := do.MustInvoke[*zap.Logger](injector)
	pool := do.MustInvoke[*pgxpool.Pool](injector)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	err := fn(ctx, pool, logger)

	cancel()

	if shutdownErr := injector.Shutdown(); shutdownErr != nil {
		logger.Error("shutdown error", zap.Error(shutdownErr))
	}

	if err != nil {
		logger.Fatal("command failed", zap.Error(err))
	}
}

func migrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the database schema",
		Run: humacli.WithOptions(func(_ *cobra.Command, _ []string, options *container.Options) {
			withPool(options, func(ctx context.Context, pool *pgxpool.Pool, logger *zap.Logger) error {
				if err := store.Migrate(ctx, pool); err != nil {
					return err
				}

				logger.Info("schema ready")

				return nil
			})
		}),
	}
}

func dropTablesCommand() *cobra.Command {
	var confirmed bool

	cmd := &cobra.Command{
		Use:   "drop-tables",
		Short: "Drop every table, including per-app tables",
		Run: humacli.WithOptions(func(_ *cobra.Command, _ []string, options *container.Options) {
			withPool(options, func(ctx context.Context, pool *pgxpool.Pool, logger *zap.Logger) error {
				if !confirmed {
					return errors.New("refusing to drop tables without --yes")
				}

				dropped, err := store.DropTables(ctx, pool)
				if err != nil {
					return err
				}

				logger.Info("tables dropped", zap.Strings("tables", dropped))

				return nil
			})
		}),
	}

	cmd.Flags().BoolVar(&confirmed, "yes", false, "Confirm dropping all data")

	return cmd
}
