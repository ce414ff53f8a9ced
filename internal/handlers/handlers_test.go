package handlers_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/danielgtaylor/huma/v2/humatest"
	"github.com/serroba/nillion-storage-api/internal/handlers"
	"github.com/serroba/nillion-storage-api/internal/metrics"
	"github.com/serroba/nillion-storage-api/internal/middleware"
	"github.com/serroba/nillion-storage-api/internal/nillion"
	"github.com/serroba/nillion-storage-api/internal/payment"
	"github.com/serroba/nillion-storage-api/internal/ratelimit"
	"github.com/serroba/nillion-storage-api/internal/secrets"
	"github.com/serroba/nillion-storage-api/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const walletAddress = "nillion1wallet"

// countingPayments settles every quote without a ledger.
type countingPayments struct {
	mu      sync.Mutex
	network nillion.Network
	calls   int
	err     error
}

func (p *countingPayments) QuoteAndPay(
	ctx context.Context, op nillion.Operation, _ string,
) (*nillion.PaymentReceipt, error) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()

	if p.err != nil {
		return nil, p.err
	}

	quote, err := p.network.RequestPriceQuote(ctx, op)
	if err != nil {
		return nil, err
	}

	return &nillion.PaymentReceipt{Quote: quote, TxHash: "TX"}, nil
}

func (p *countingPayments) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.calls
}

type testServer struct {
	api      humatest.TestAPI
	payments *countingPayments
}

// testPeer is the remote address humatest requests arrive from.
const testPeer = "127.0.0.1"

// newTestServer trusts forwarding headers from the test peer so from() can
// pick a client per call.
func newTestServer(t *testing.T) *testServer {
	t.Helper()

	return newTestServerTrusting(t, testPeer)
}

func newTestServerTrusting(t *testing.T, trustedProxies ...string) *testServer {
	t.Helper()

	network := nillion.NewMemoryNetwork(walletAddress, nillion.DefaultPricing())
	payments := &countingPayments{network: network}
	collector := metrics.New()

	var (
		mu  sync.Mutex
		seq int
	)

	newID := func() string {
		mu.Lock()
		defer mu.Unlock()

		seq++

		return fmt.Sprintf("op-%d", seq)
	}

	service := secrets.NewService(
		network, payments, store.NewMemoryRepository(), store.NewMemoryJournal(),
		nil, collector, zap.NewNop(), secrets.DefaultTTLDays, newID,
	)
	broker := secrets.NewCachedBroker(
		service, store.NewMemorySecretCache(), secrets.DefaultCacheTTL, collector, zap.NewNop(),
	)
	limiter := ratelimit.NewSlidingWindowLimiter(store.NewRateLimitMemoryStore(), 3, time.Minute)

	clients, err := middleware.NewClientIPResolver(trustedProxies...)
	require.NoError(t, err)

	_, api := humatest.New(t)
	api.UseMiddleware(middleware.RequestMeta(api, clients))
	api.UseMiddleware(middleware.RateLimiter(api, limiter, clients, collector, zap.NewNop()))

	handlers.RegisterRoutes(api,
		handlers.NewSecretHandler(broker, walletAddress, zap.NewNop()),
		handlers.NewRateLimitHandler(limiter, zap.NewNop()),
	)

	return &testServer{api: api, payments: payments}
}

// from gives each call its own client IP so the 3 per minute quota only
// applies where a test wants it.
func from(ip string) string {
	return "X-Forwarded-For: " + ip
}

func decode[T any](t *testing.T, body []byte) T {
	t.Helper()

	var v T
	require.NoError(t, json.Unmarshal(body, &v))

	return v
}

func (s *testServer) registerApp(t *testing.T) string {
	t.Helper()

	resp := s.api.Post("/api/apps/register", from("10.1.0.1"))
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	return decode[map[string]string](t, resp.Body.Bytes())["app_id"]
}

func (s *testServer) storeAppSecret(t *testing.T, appID string, value any) string {
	t.Helper()

	resp := s.api.Post("/api/apps/"+appID+"/secrets", from("10.1.0.2"), map[string]any{
		"secret": map[string]any{"secret_value": value},
	})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	return decode[map[string]string](t, resp.Body.Bytes())["store_id"]
}

func TestSecretRoutes_RoundTrip(t *testing.T) {
	t.Run("text", func(t *testing.T) {
		s := newTestServer(t)
		appID := s.registerApp(t)
		storeID := s.storeAppSecret(t, appID, "hello, world")

		resp := s.api.Get("/api/secret/retrieve/"+storeID, from("10.2.0.1"))
		require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

		body := decode[map[string]any](t, resp.Body.Bytes())
		assert.Equal(t, storeID, body["store_id"])
		assert.Equal(t, "hello, world", body["secret"])
	})

	t.Run("integer", func(t *testing.T) {
		s := newTestServer(t)
		appID := s.registerApp(t)
		storeID := s.storeAppSecret(t, appID, 42)

		resp := s.api.Get("/api/secret/retrieve/"+storeID+"?secret_name=my_secret", from("10.2.0.2"))
		require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
		assert.JSONEq(t, fmt.Sprintf(`{"store_id":%q,"secret":42}`, storeID), resp.Body.String())
	})

	t.Run("second retrieval is served from cache", func(t *testing.T) {
		s := newTestServer(t)
		appID := s.registerApp(t)
		storeID := s.storeAppSecret(t, appID, "cached")

		s.api.Get("/api/secret/retrieve/"+storeID, from("10.2.0.3"))
		paid := s.payments.Calls()

		resp := s.api.Get("/api/secret/retrieve/"+storeID, from("10.2.0.4"))
		require.Equal(t, http.StatusOK, resp.Code)
		assert.Equal(t, paid, s.payments.Calls())
	})

	t.Run("store ids are listed for the app", func(t *testing.T) {
		s := newTestServer(t)
		appID := s.registerApp(t)
		storeID := s.storeAppSecret(t, appID, "x")

		resp := s.api.Get("/api/apps/"+appID+"/store_ids?page=1&page_size=10", from("10.2.0.5"))
		require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

		body := decode[struct {
			StoreIDs []handlers.StoreIDItem `json:"store_ids"`
		}](t, resp.Body.Bytes())
		require.Len(t, body.StoreIDs, 1)
		assert.Equal(t, storeID, body.StoreIDs[0].StoreID)
		assert.Equal(t, "my_secret", body.StoreIDs[0].SecretName)
	})

	t.Run("update replaces the value", func(t *testing.T) {
		s := newTestServer(t)
		appID := s.registerApp(t)
		storeID := s.storeAppSecret(t, appID, "v1")

		resp := s.api.Put("/api/apps/"+appID+"/secrets/"+storeID, from("10.2.0.6"), map[string]any{
			"secret_value": 7,
		})
		require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
		assert.JSONEq(t, fmt.Sprintf(`{"store_id":%q,"secret":7}`, storeID), resp.Body.String())

		resp = s.api.Get("/api/secret/retrieve/"+storeID, from("10.2.0.7"))
		assert.JSONEq(t, fmt.Sprintf(`{"store_id":%q,"secret":7}`, storeID), resp.Body.String())
	})

	t.Run("user secret with topics", func(t *testing.T) {
		s := newTestServer(t)

		resp := s.api.Post("/api/secret", from("10.2.0.8"), map[string]any{
			"secret_value": "tagged",
			"topics":       []string{"weather"},
		})
		require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
		storeID := decode[map[string]string](t, resp.Body.Bytes())["store_id"]

		resp = s.api.Get("/api/topics/weather/store_ids", from("10.2.0.9"))
		require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
		assert.Contains(t, resp.Body.String(), storeID)
	})
}

func TestSecretRoutes_Errors(t *testing.T) {
	t.Run("unsupported values are 400 and cost nothing", func(t *testing.T) {
		s := newTestServer(t)
		appID := s.registerApp(t)

		for i, value := range []any{1.5, true, map[string]any{"a": 1}, []int{1}} {
			resp := s.api.Post("/api/apps/"+appID+"/secrets", from(fmt.Sprintf("10.3.0.%d", i)), map[string]any{
				"secret": map[string]any{"secret_value": value},
			})
			assert.Equal(t, http.StatusBadRequest, resp.Code, "%v: %s", value, resp.Body.String())
			assert.Contains(t, resp.Body.String(), "string or an integer")
		}

		assert.Zero(t, s.payments.Calls())
	})

	t.Run("unknown app is 404", func(t *testing.T) {
		s := newTestServer(t)

		resp := s.api.Get("/api/apps/7b5f7a1e-1111-4a4a-9b9b-000000000000/store_ids", from("10.3.1.1"))
		assert.Equal(t, http.StatusNotFound, resp.Code)

		resp = s.api.Get("/api/apps/not-a-uuid/store_ids", from("10.3.1.2"))
		assert.Equal(t, http.StatusNotFound, resp.Code)

		resp = s.api.Post("/api/apps/not-a-uuid/secrets", from("10.3.1.3"), map[string]any{
			"secret": map[string]any{"secret_value": "x"},
		})
		assert.Equal(t, http.StatusNotFound, resp.Code)
	})

	t.Run("unknown store id on update is 404", func(t *testing.T) {
		s := newTestServer(t)
		appID := s.registerApp(t)

		resp := s.api.Put("/api/apps/"+appID+"/secrets/missing", from("10.3.2.1"), map[string]any{
			"secret_value": "x",
		})
		assert.Equal(t, http.StatusNotFound, resp.Code)
	})

	t.Run("unknown topic is 404", func(t *testing.T) {
		s := newTestServer(t)

		resp := s.api.Get("/api/topics/nothing/store_ids", from("10.3.3.1"))
		assert.Equal(t, http.StatusNotFound, resp.Code)
	})

	t.Run("quote over the ceiling is 400", func(t *testing.T) {
		s := newTestServer(t)
		appID := s.registerApp(t)
		s.payments.err = fmt.Errorf("%w: total 300000 unil exceeds 250000", payment.ErrQuoteRejected)

		resp := s.api.Post("/api/apps/"+appID+"/secrets", from("10.3.4.1"), map[string]any{
			"secret": map[string]any{"secret_value": "x"},
		})
		assert.Equal(t, http.StatusBadRequest, resp.Code)
		assert.Contains(t, resp.Body.String(), "250000")
	})

	t.Run("payment failure is 500 without internals", func(t *testing.T) {
		s := newTestServer(t)
		appID := s.registerApp(t)
		s.payments.err = fmt.Errorf("%w: account sequence mismatch", payment.ErrPaymentFailed)

		resp := s.api.Post("/api/apps/"+appID+"/secrets", from("10.3.5.1"), map[string]any{
			"secret": map[string]any{"secret_value": "x"},
		})
		assert.Equal(t, http.StatusInternalServerError, resp.Code)
		assert.NotContains(t, resp.Body.String(), "sequence")
	})
}

func TestMiscRoutes(t *testing.T) {
	t.Run("wallet", func(t *testing.T) {
		s := newTestServer(t)

		resp := s.api.Get("/api/wallet")
		require.Equal(t, http.StatusOK, resp.Code)
		assert.JSONEq(t, `{"nillion_address":"nillion1wallet"}`, resp.Body.String())
	})

	t.Run("user registration is deterministic", func(t *testing.T) {
		s := newTestServer(t)

		first := s.api.Post("/api/user", from("10.4.0.1"), map[string]any{"nillion_seed": "alice"})
		second := s.api.Post("/api/user", from("10.4.0.2"), map[string]any{"nillion_seed": "alice"})

		require.Equal(t, http.StatusOK, first.Code, first.Body.String())
		assert.Equal(t, first.Body.String(), second.Body.String())

		want := nillion.UserKeyFromSeed("alice").UserID()
		assert.Equal(t, want, decode[map[string]string](t, first.Body.Bytes())["nillion_user_id"])

		users := s.api.Get("/api/users", from("10.4.0.3"))
		assert.Contains(t, users.Body.String(), want)
	})

	t.Run("apps are listed", func(t *testing.T) {
		s := newTestServer(t)
		appID := s.registerApp(t)

		resp := s.api.Get("/api/apps", from("10.4.1.1"))
		require.Equal(t, http.StatusOK, resp.Code)
		assert.JSONEq(t, fmt.Sprintf(`[{"app_id":%q}]`, appID), resp.Body.String())
	})

	t.Run("operations filter by status", func(t *testing.T) {
		s := newTestServer(t)
		appID := s.registerApp(t)
		s.storeAppSecret(t, appID, "x")

		resp := s.api.Get("/api/operations?status=committed", from("10.4.2.1"))
		require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

		body := decode[struct {
			Operations []handlers.OperationItem `json:"operations"`
		}](t, resp.Body.Bytes())
		require.Len(t, body.Operations, 1)
		assert.Equal(t, "store", body.Operations[0].Kind)

		resp = s.api.Get("/api/operations?status=orphaned", from("10.4.2.2"))
		assert.JSONEq(t, `{"operations":[]}`, resp.Body.String())

		resp = s.api.Get("/api/operations?status=bogus", from("10.4.2.3"))
		assert.Equal(t, http.StatusUnprocessableEntity, resp.Code)
	})
}

func TestRateLimitRoutes(t *testing.T) {
	s := newTestServer(t)
	client := from("10.9.9.9")

	status := func() map[string]float64 {
		resp := s.api.Get("/rate-limit-status", client)
		require.Equal(t, http.StatusOK, resp.Code)

		return decode[map[string]float64](t, resp.Body.Bytes())
	}

	assert.Equal(t, map[string]float64{
		"remaining_requests":  3,
		"total_limit":         3,
		"window_size_seconds": 60,
	}, status())

	// status checks never consume quota
	assert.Equal(t, float64(3), status()["remaining_requests"])

	for range 3 {
		resp := s.api.Get("/api/wallet", client)
		require.Equal(t, http.StatusOK, resp.Code)
	}

	resp := s.api.Get("/api/wallet", client)
	assert.Equal(t, http.StatusTooManyRequests, resp.Code)
	assert.Contains(t, resp.Body.String(), middleware.RateLimitedMessage)

	assert.Equal(t, float64(0), status()["remaining_requests"])
}

func TestRateLimitRoutes_SpoofedForwardingHeaders(t *testing.T) {
	s := newTestServerTrusting(t)

	for i := range 3 {
		resp := s.api.Get("/api/wallet", from(fmt.Sprintf("203.0.113.%d", i)))
		require.Equal(t, http.StatusOK, resp.Code)
	}

	resp := s.api.Get("/api/wallet", from("203.0.113.99"), "X-Real-IP: 203.0.113.100")
	assert.Equal(t, http.StatusTooManyRequests, resp.Code)
	assert.Contains(t, resp.Body.String(), middleware.RateLimitedMessage)
}
