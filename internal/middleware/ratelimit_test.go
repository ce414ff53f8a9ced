package middleware_test

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/serroba/nillion-storage-api/internal/metrics"
	"github.com/serroba/nillion-storage-api/internal/middleware"
	"github.com/serroba/nillion-storage-api/internal/ratelimit"
	"github.com/serroba/nillion-storage-api/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	testRemoteAddr = "192.168.1.1:12345"
	testUserAgent  = "TestAgent/1.0"
)

var errMultipartNotSupported = errors.New("multipart not supported in mock")

func newTestAPI() huma.API {
	return humachi.New(chi.NewMux(), huma.DefaultConfig("Test", "1.0.0"))
}

type mockLimiter struct {
	allowed bool
	err     error
	keys    []string
}

func (m *mockLimiter) Allow(_ context.Context, key string) (bool, error) {
	m.keys = append(m.keys, key)

	return m.allowed, m.err
}

func (m *mockLimiter) Status(context.Context, string) (ratelimit.Status, error) {
	return ratelimit.Status{}, nil
}

func (m *mockLimiter) lastKey() string {
	if len(m.keys) == 0 {
		return ""
	}

	return m.keys[len(m.keys)-1]
}

// mockHumaContext implements huma.Context for testing.
type mockHumaContext struct {
	headers    map[string]string
	host       string
	remoteAddr string
	written    []byte
	statusCode int
	method     string
	operation  *huma.Operation
}

func newMockHumaContext() *mockHumaContext {
	return &mockHumaContext{
		headers:    make(map[string]string),
		method:     "GET",
		remoteAddr: testRemoteAddr,
	}
}

func (m *mockHumaContext) Operation() *huma.Operation {
	return m.operation
}
func (m *mockHumaContext) Context() context.Context              { return context.Background() }
func (m *mockHumaContext) TLS() *tls.ConnectionState             { return nil }
func (m *mockHumaContext) Version() huma.ProtoVersion            { return huma.ProtoVersion{} }
func (m *mockHumaContext) Method() string                        { return m.method }
func (m *mockHumaContext) Host() string                          { return m.host }
func (m *mockHumaContext) RemoteAddr() string                    { return m.remoteAddr }
func (m *mockHumaContext) URL() url.URL                          { return url.URL{} }
func (m *mockHumaContext) Param(_ string) string                 { return "" }
func (m *mockHumaContext) Query(_ string) string                 { return "" }
func (m *mockHumaContext) Header(name string) string             { return m.headers[name] }
func (m *mockHumaContext) EachHeader(_ func(name, value string)) {}
func (m *mockHumaContext) BodyReader() io.Reader                 { return nil }
func (m *mockHumaContext) GetMultipartForm() (*multipart.Form, error) {
	return nil, errMultipartNotSupported
}
func (m *mockHumaContext) SetReadDeadline(_ time.Time) error { return nil }
func (m *mockHumaContext) SetStatus(code int)                { m.statusCode = code }
func (m *mockHumaContext) Status() int                       { return m.statusCode }
func (m *mockHumaContext) AppendHeader(_, _ string)          {}
func (m *mockHumaContext) SetHeader(_, _ string)             {}
func (m *mockHumaContext) BodyWriter() io.Writer             { return &mockBodyWriter{ctx: m} }

type mockBodyWriter struct {
	ctx *mockHumaContext
}

func (w *mockBodyWriter) Write(p []byte) (n int, err error) {
	w.ctx.written = append(w.ctx.written, p...)

	return len(p), nil
}

func newRateLimiter(
	t *testing.T, api huma.API, limiter ratelimit.Limiter, trustedProxies ...string,
) func(huma.Context, func(huma.Context)) {
	t.Helper()

	clients, err := middleware.NewClientIPResolver(trustedProxies...)
	require.NoError(t, err)

	return middleware.RateLimiter(api, limiter, clients, metrics.New(), zap.NewNop())
}

func TestRateLimiter(t *testing.T) {
	t.Run("allows request when limiter allows", func(t *testing.T) {
		mw := newRateLimiter(t, newTestAPI(), &mockLimiter{allowed: true})
		ctx := newMockHumaContext()

		nextCalled := false

		mw(ctx, func(_ huma.Context) {
			nextCalled = true
		})

		assert.True(t, nextCalled, "next should be called when allowed")
	})

	t.Run("returns 429 when rate limited", func(t *testing.T) {
		mw := newRateLimiter(t, newTestAPI(), &mockLimiter{allowed: false})
		ctx := newMockHumaContext()

		nextCalled := false

		mw(ctx, func(_ huma.Context) {
			nextCalled = true
		})

		assert.False(t, nextCalled, "next should not be called when rate limited")
		assert.Equal(t, http.StatusTooManyRequests, ctx.statusCode)
		assert.Contains(t, string(ctx.written), middleware.RateLimitedMessage)
	})

	t.Run("returns 500 when the limiter fails", func(t *testing.T) {
		mw := newRateLimiter(t, newTestAPI(), &mockLimiter{err: errors.New("redis down")})
		ctx := newMockHumaContext()

		nextCalled := false

		mw(ctx, func(_ huma.Context) {
			nextCalled = true
		})

		assert.False(t, nextCalled)
		assert.Equal(t, http.StatusInternalServerError, ctx.statusCode)
		assert.NotContains(t, string(ctx.written), "redis down")
	})

	t.Run("skips operations marked exempt", func(t *testing.T) {
		limiter := &mockLimiter{allowed: false}
		mw := newRateLimiter(t, newTestAPI(), limiter)
		ctx := newMockHumaContext()
		ctx.operation = &huma.Operation{Metadata: map[string]any{middleware.MetadataSkipRateLimit: true}}

		nextCalled := false

		mw(ctx, func(_ huma.Context) {
			nextCalled = true
		})

		assert.True(t, nextCalled)
		assert.Empty(t, limiter.keys)
	})
}

func TestRateLimiter_ClientKey(t *testing.T) {
	t.Run("keys on the peer address without port", func(t *testing.T) {
		limiter := &mockLimiter{allowed: true}
		mw := newRateLimiter(t, newTestAPI(), limiter)

		ctx := newMockHumaContext()
		ctx.headers["User-Agent"] = testUserAgent
		mw(ctx, func(_ huma.Context) {})

		assert.Equal(t, "192.168.1.1", limiter.lastKey())

		other := newMockHumaContext()
		other.remoteAddr = "192.168.1.1:999"
		other.headers["User-Agent"] = "DifferentAgent/2.0"
		mw(other, func(_ huma.Context) {})

		assert.Equal(t, "192.168.1.1", limiter.lastKey(), "user-agent does not split the quota")
	})

	t.Run("ignores forwarding headers from an untrusted peer", func(t *testing.T) {
		limiter := &mockLimiter{allowed: true}
		mw := newRateLimiter(t, newTestAPI(), limiter)

		ctx := newMockHumaContext()
		ctx.headers["X-Forwarded-For"] = "203.0.113.195"
		ctx.headers["X-Real-IP"] = "203.0.113.100"
		mw(ctx, func(_ huma.Context) {})

		assert.Equal(t, "192.168.1.1", limiter.lastKey())
	})

	t.Run("uses the nearest untrusted X-Forwarded-For hop behind a trusted proxy", func(t *testing.T) {
		limiter := &mockLimiter{allowed: true}
		mw := newRateLimiter(t, newTestAPI(), limiter, "10.0.0.0/8")

		ctx := newMockHumaContext()
		ctx.remoteAddr = "10.0.0.1:12345"
		ctx.headers["X-Forwarded-For"] = "198.51.100.9, 203.0.113.195, 10.0.0.2"
		mw(ctx, func(_ huma.Context) {})

		assert.Equal(t, "203.0.113.195", limiter.lastKey(), "hops left of the client are client-supplied")
	})

	t.Run("uses X-Real-IP from a trusted proxy when X-Forwarded-For is absent", func(t *testing.T) {
		limiter := &mockLimiter{allowed: true}
		mw := newRateLimiter(t, newTestAPI(), limiter, "10.0.0.1")

		ctx := newMockHumaContext()
		ctx.remoteAddr = "10.0.0.1:12345"
		ctx.headers["X-Real-IP"] = "203.0.113.100"
		mw(ctx, func(_ huma.Context) {})

		assert.Equal(t, "203.0.113.100", limiter.lastKey())
	})

	t.Run("peer address without port is used as is", func(t *testing.T) {
		limiter := &mockLimiter{allowed: true}
		mw := newRateLimiter(t, newTestAPI(), limiter)

		ctx := newMockHumaContext()
		ctx.remoteAddr = "192.168.1.7"
		mw(ctx, func(_ huma.Context) {})

		assert.Equal(t, "192.168.1.7", limiter.lastKey())
	})
}

func TestRateLimiter_SlidingWindow(t *testing.T) {
	router := chi.NewMux()
	api := humachi.New(router, huma.DefaultConfig("Test", "1.0.0"))
	limiter := ratelimit.NewSlidingWindowLimiter(store.NewRateLimitMemoryStore(), 2, time.Minute)
	collector := metrics.New()
	api.UseMiddleware(middleware.RateLimiter(api, limiter, &middleware.ClientIPResolver{}, collector, zap.NewNop()))

	huma.Get(api, "/ping", func(_ context.Context, _ *struct{}) (*struct{}, error) {
		return nil, nil
	})

	do := func(ip string, headers ...string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		req.RemoteAddr = ip + ":4000"

		for i := 0; i+1 < len(headers); i += 2 {
			req.Header.Set(headers[i], headers[i+1])
		}

		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		return w
	}

	require.Equal(t, http.StatusNoContent, do("198.51.100.1").Code)
	require.Equal(t, http.StatusNoContent, do("198.51.100.1").Code)

	w := do("198.51.100.1")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Contains(t, w.Body.String(), middleware.RateLimitedMessage)

	assert.Equal(t, http.StatusNoContent, do("198.51.100.2").Code, "other clients keep their quota")

	t.Run("rotating a spoofed X-Forwarded-For does not reset the quota", func(t *testing.T) {
		require.Equal(t, http.StatusNoContent, do("198.51.100.3", "X-Forwarded-For", "203.0.113.1").Code)
		require.Equal(t, http.StatusNoContent, do("198.51.100.3", "X-Forwarded-For", "203.0.113.2").Code)

		w := do("198.51.100.3", "X-Forwarded-For", "203.0.113.3", "X-Real-IP", "203.0.113.4")
		assert.Equal(t, http.StatusTooManyRequests, w.Code)
	})
}
