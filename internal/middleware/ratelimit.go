package middleware

import (
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/serroba/nillion-storage-api/internal/metrics"
	"github.com/serroba/nillion-storage-api/internal/ratelimit"
	"go.uber.org/zap"
)

const RateLimitedMessage = "Rate limit exceeded. Please try again later."

// MetadataSkipRateLimit marks an operation as exempt from rate limiting.
const MetadataSkipRateLimit = "skipRateLimit"

// RateLimiter returns a Huma middleware that admits requests per client IP.
func RateLimiter(
	api huma.API,
	limiter ratelimit.Limiter,
	clients *ClientIPResolver,
	m *metrics.Collector,
	logger *zap.Logger,
) func(ctx huma.Context, next func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		if skipRateLimit(ctx) {
			next(ctx)

			return
		}

		ip := clients.ClientIP(ctx)

		allowed, err := limiter.Allow(ctx.Context(), ip)
		if err != nil {
			logger.Error("rate limit check failed", zap.String("client_ip", ip), zap.Error(err))
			_ = huma.WriteErr(api, ctx, http.StatusInternalServerError, "internal server error")

			return
		}

		if !allowed {
			m.RecordRateLimited()
			logger.Debug("rate limited",
				zap.String("client_ip", ip),
				zap.String("method", ctx.Method()),
				zap.String("path", operationPath(ctx)),
			)
			_ = huma.WriteErr(api, ctx, http.StatusTooManyRequests, RateLimitedMessage)

			return
		}

		next(ctx)
	}
}

func skipRateLimit(ctx huma.Context) bool {
	op := ctx.Operation()
	if op == nil || op.Metadata == nil {
		return false
	}

	skip, _ := op.Metadata[MetadataSkipRateLimit].(bool)

	return skip
}

func operationPath(ctx huma.Context) string {
	if op := ctx.Operation(); op != nil {
		return op.Path
	}

	return ""
}
