package middleware

import (
	"github.com/danielgtaylor/huma/v2"
	"github.com/serroba/nillion-storage-api/internal/audit"
)

// RequestMeta adds the client IP and user-agent to the request context so
// audit events can name who triggered an operation.
func RequestMeta(_ huma.API, clients *ClientIPResolver) func(ctx huma.Context, next func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		meta := audit.RequestMeta{
			ClientIP:  clients.ClientIP(ctx),
			UserAgent: ctx.Header("User-Agent"),
		}

		next(huma.WithContext(ctx, audit.ContextWithRequestMeta(ctx.Context(), meta)))
	}
}
