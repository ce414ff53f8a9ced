package handlers

import (
	"context"

	"github.com/serroba/nillion-storage-api/internal/audit"
	"github.com/serroba/nillion-storage-api/internal/ratelimit"
	"go.uber.org/zap"
)

type RateLimitHandler struct {
	limiter ratelimit.Limiter
	logger  *zap.Logger
}

// NewRateLimitHandler creates a handler reporting limiter quota.
func NewRateLimitHandler(limiter ratelimit.Limiter, logger *zap.Logger) *RateLimitHandler {
	return &RateLimitHandler{limiter: limiter, logger: logger}
}

// Status reports the caller's remaining quota. The client IP comes from the
// request metadata middleware.
func (h *RateLimitHandler) Status(ctx context.Context, _ *struct{}) (*RateLimitStatusResponse, error) {
	ip := audit.RequestMetaFromContext(ctx).ClientIP

	status, err := h.limiter.Status(ctx, ip)
	if err != nil {
		return nil, httpError(h.logger, "rate limit status", err)
	}

	resp := &RateLimitStatusResponse{}
	resp.Body.RemainingRequests = status.Remaining
	resp.Body.TotalLimit = status.Limit
	resp.Body.WindowSizeSeconds = status.Window.Seconds()

	return resp, nil
}
