package container

import (
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	_ "github.com/danielgtaylor/huma/v2/formats/cbor" // CBOR format support for huma
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jaevor/go-nanoid"
	"github.com/redis/go-redis/v9"
	"github.com/samber/do"
	"github.com/serroba/nillion-storage-api/internal/audit"
	"github.com/serroba/nillion-storage-api/internal/handlers"
	"github.com/serroba/nillion-storage-api/internal/health"
	"github.com/serroba/nillion-storage-api/internal/messaging"
	"github.com/serroba/nillion-storage-api/internal/metrics"
	"github.com/serroba/nillion-storage-api/internal/middleware"
	"github.com/serroba/nillion-storage-api/internal/nillion"
	"github.com/serroba/nillion-storage-api/internal/payment"
	"github.com/serroba/nillion-storage-api/internal/ratelimit"
	"github.com/serroba/nillion-storage-api/internal/secrets"
	"go.uber.org/zap"
)

const operationIDLength = 21

// MetricsPackage provides the Prometheus collector.
func MetricsPackage(injector *do.Injector) {
	do.Provide(injector, func(_ *do.Injector) (*metrics.Collector, error) {
		return metrics.New(), nil
	})
}

// BrokerPackage provides the paid secret broker behind its retrieval cache.
func BrokerPackage(injector *do.Injector) {
	do.Provide(injector, func(i *do.Injector) (*secrets.Service, error) {
		opts := do.MustInvoke[*Options](i)

		newID, err := nanoid.Standard(operationIDLength)
		if err != nil {
			return nil, err
		}

		return secrets.NewService(
			do.MustInvoke[nillion.Network](i),
			do.MustInvoke[*payment.Sequencer](i),
			do.MustInvoke[secrets.Repository](i),
			do.MustInvoke[secrets.Journal](i),
			do.MustInvoke[messaging.Publish[audit.OperationEvent]](i),
			do.MustInvoke[*metrics.Collector](i),
			do.MustInvoke[*zap.Logger](i),
			opts.TTLDays,
			newID,
		), nil
	})

	do.Provide(injector, func(i *do.Injector) (secrets.Broker, error) {
		return secrets.NewCachedBroker(
			do.MustInvoke[*secrets.Service](i),
			do.MustInvoke[secrets.Cache](i),
			do.MustInvoke[*Options](i).CacheTTL,
			do.MustInvoke[*metrics.Collector](i),
			do.MustInvoke[*zap.Logger](i),
		), nil
	})
}

// HTTPPackage provides the router and the API with every route registered.
func HTTPPackage(injector *do.Injector) {
	do.Provide(injector, func(i *do.Injector) (*middleware.ClientIPResolver, error) {
		return middleware.ParseTrustedProxies(do.MustInvoke[*Options](i).TrustedProxies)
	})

	do.Provide(injector, func(i *do.Injector) (*chi.Mux, error) {
		opts := do.MustInvoke[*Options](i)
		collector := do.MustInvoke[*metrics.Collector](i)

		router := chi.NewMux()
		router.Use(chimw.Recoverer)
		router.Use(cors.Handler(cors.Options{
			AllowedOrigins:   []string{opts.FrontendOrigin},
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
			AllowedHeaders:   []string{"Accept", "Content-Type", "X-Requested-With"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
		router.Use(middleware.Metrics(collector))
		router.Method(http.MethodGet, "/metrics", collector.Handler())

		return router, nil
	})

	do.Provide(injector, func(i *do.Injector) (huma.API, error) {
		router := do.MustInvoke[*chi.Mux](i)
		logger := do.MustInvoke[*zap.Logger](i)
		limiter := do.MustInvoke[ratelimit.Limiter](i)

		api := humachi.New(router, huma.DefaultConfig("Nillion Storage API", "1.0.0"))
		clients := do.MustInvoke[*middleware.ClientIPResolver](i)

		api.UseMiddleware(
			middleware.RequestMeta(api, clients),
			middleware.RateLimiter(api, limiter, clients, do.MustInvoke[*metrics.Collector](i), logger),
		)

		health.RegisterRoutes(api, healthHandler(i))

		handlers.RegisterRoutes(api,
			handlers.NewSecretHandler(
				do.MustInvoke[secrets.Broker](i),
				do.MustInvoke[*payment.Wallet](i).Address(),
				logger,
			),
			handlers.NewRateLimitHandler(limiter, logger),
		)

		return api, nil
	})
}

// healthHandler checks Postgres only when it backs the bookkeeping and Redis
// only when configured.
func healthHandler(i *do.Injector) *health.Handler {
	var pg, rd health.Checker

	if do.MustInvoke[*Options](i).Storage == StoragePostgres {
		pg = do.MustInvoke[*pgxpool.Pool](i)
	}

	if client := do.MustInvoke[*redis.Client](i); client != nil {
		rd = health.NewRedisChecker(client)
	}

	return health.NewHandler(pg, rd)
}
