package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "nillion_storage"

// Quote outcomes.
const (
	QuoteAccepted = "accepted"
	QuoteRejected = "rejected"
	QuoteFailed   = "failed"
)

// Payment outcomes.
const (
	PaymentSettled = "settled"
	PaymentFailed  = "failed"
)

// Collector owns a private prometheus registry with the service metrics.
type Collector struct {
	registry *prometheus.Registry

	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	rateLimited     prometheus.Counter
	cacheLookups    *prometheus.CounterVec
	quotes          *prometheus.CounterVec
	payments        *prometheus.CounterVec
	paidUnil        prometheus.Counter
	settlement      prometheus.Histogram
	operations      *prometheus.CounterVec
	userSecrets     prometheus.Gauge
}

// New creates a collector with every service metric registered.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by operation and status code.",
		}, []string{"method", "route", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the rate limiter.",
		}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "secret_cache_lookups_total",
			Help:      "Secret cache lookups by result.",
		}, []string{"result"}),
		quotes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "price_quotes_total",
			Help:      "Price quotes by operation kind and outcome.",
		}, []string{"kind", "outcome"}),
		payments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payments_total",
			Help:      "Payments by outcome.",
		}, []string{"outcome"}),
		paidUnil: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "paid_unil_total",
			Help:      "Total amount paid for settled quotes, in unil.",
		}),
		settlement: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "payment_settlement_seconds",
			Help:      "Time from broadcast to settlement.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
		}),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "secret_operations_total",
			Help:      "Secret operations by kind and final status.",
		}, []string{"kind", "status"}),
		userSecrets: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "user_secrets",
			Help:      "Topic-tagged user secrets recorded in the bookkeeping store.",
		}),
	}

	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.requests,
		c.requestDuration,
		c.rateLimited,
		c.cacheLookups,
		c.quotes,
		c.payments,
		c.paidUnil,
		c.settlement,
		c.operations,
		c.userSecrets,
	)

	return c
}

// Handler serves the registry in the prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

func (c *Collector) RecordRequest(method, route string, status int, d time.Duration) {
	c.requests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.requestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

func (c *Collector) RecordRateLimited() {
	c.rateLimited.Inc()
}

func (c *Collector) RecordCacheHit() {
	c.cacheLookups.WithLabelValues("hit").Inc()
}

func (c *Collector) RecordCacheMiss() {
	c.cacheLookups.WithLabelValues("miss").Inc()
}

func (c *Collector) RecordQuote(kind, outcome string) {
	c.quotes.WithLabelValues(kind, outcome).Inc()
}

// RecordPayment counts a payment; amount and duration only count when it settled.
func (c *Collector) RecordPayment(outcome string, amount int64, d time.Duration) {
	c.payments.WithLabelValues(outcome).Inc()

	if outcome == PaymentSettled {
		c.paidUnil.Add(float64(amount))
		c.settlement.Observe(d.Seconds())
	}
}

func (c *Collector) RecordOperation(kind, status string) {
	c.operations.WithLabelValues(kind, status).Inc()
}

func (c *Collector) SetUserSecrets(n int64) {
	c.userSecrets.Set(float64(n))
}
