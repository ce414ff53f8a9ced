package health

import (
	"context"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/redis/go-redis/v9"
	"github.com/serroba/nillion-storage-api/internal/middleware"
)

const (
	healthy    = "healthy"
	unhealthy  = "unhealthy"
	notEnabled = "disabled"

	pingTimeout = 2 * time.Second
)

// Checker defines the interface for checking service health.
type Checker interface {
	Ping(ctx context.Context) error
}

// RedisChecker adapts redis.Client to Checker interface.
type RedisChecker struct {
	client *redis.Client
}

// NewRedisChecker creates a new Redis health checker.
func NewRedisChecker(client *redis.Client) *RedisChecker {
	return &RedisChecker{client: client}
}

// Ping checks Redis connectivity.
func (r *RedisChecker) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Handler reports the health of the database and, when configured, Redis.
// A nil checker means the dependency is not in use.
type Handler struct {
	postgres Checker
	redis    Checker
}

// NewHandler creates a health handler; a nil checker reports disabled.
func NewHandler(postgres, redis Checker) *Handler {
	return &Handler{postgres: postgres, redis: redis}
}

// Response is the response for health check endpoint.
type Response struct {
	Body struct {
		Status   string `json:"status"`
		Postgres string `json:"postgres"`
		Redis    string `json:"redis"`
	}
}

// Check pings every dependency. Any failure degrades the overall status.
func (h *Handler) Check(ctx context.Context, _ *struct{}) (*Response, error) {
	resp := &Response{}
	resp.Body.Status = "ok"
	resp.Body.Postgres = h.ping(ctx, h.postgres)
	resp.Body.Redis = h.ping(ctx, h.redis)

	if resp.Body.Postgres == unhealthy || resp.Body.Redis == unhealthy {
		resp.Body.Status = "degraded"
	}

	return resp, nil
}

func (h *Handler) ping(ctx context.Context, c Checker) string {
	if c == nil {
		return notEnabled
	}

	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	if err := c.Ping(ctx); err != nil {
		return unhealthy
	}

	return healthy
}

// RegisterRoutes registers health check routes.
func RegisterRoutes(api huma.API, h *Handler) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      "GET",
		Path:        "/health",
		Summary:     "Health check",
		Tags:        []string{"Health"},
		Metadata:    map[string]any{middleware.MetadataSkipRateLimit: true},
	}, h.Check)
}
