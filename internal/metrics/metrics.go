// internal/metrics/metrics.go
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service counters on a private registry. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	registry            *prometheus.Registry
	requests            *prometheus.CounterVec
	durations           *prometheus.HistogramVec
	settlements         *prometheus.CounterVec
	settledAmount       *prometheus.CounterVec
	finalizeFailures    *prometheus.CounterVec
	votes               *prometheus.CounterVec
	clearanceTransition *prometheus.CounterVec
}

func New(prefix string) *Metrics {
	if prefix == "" {
		prefix = "revshare"
	}
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: prefix,
			Name:      "http_requests_total",
			Help:      "Total HTTP requests processed.",
		}, []string{"route", "method", "status"}),
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: prefix,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
		settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: prefix,
			Name:      "settlements_finalized_total",
			Help:      "Finalize calls that returned a settlement, by outcome.",
		}, []string{"outcome"}),
		settledAmount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: prefix,
			Name:      "settled_amount_total",
			Help:      "Net minor units distributed by newly created settlements.",
		}, []string{"currency"}),
		finalizeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: prefix,
			Name:      "finalize_failures_total",
			Help:      "Finalize calls that failed, by error code.",
		}, []string{"code"}),
		votes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: prefix,
			Name:      "clearance_votes_total",
			Help:      "Clearance votes recorded, by decision.",
		}, []string{"decision"}),
		clearanceTransition: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: prefix,
			Name:      "clearance_transitions_total",
			Help:      "Authorization status transitions, by resulting status.",
		}, []string{"status"}),
	}
	m.registry.MustRegister(
		m.requests,
		m.durations,
		m.settlements,
		m.settledAmount,
		m.finalizeFailures,
		m.votes,
		m.clearanceTransition,
	)
	return m
}

func (m *Metrics) SettlementFinalized(created bool, currency string, net int64) {
	if m == nil {
		return
	}
	if !created {
		m.settlements.WithLabelValues("existing").Inc()
		return
	}
	m.settlements.WithLabelValues("created").Inc()
	m.settledAmount.WithLabelValues(currency).Add(float64(net))
}

func (m *Metrics) FinalizeFailed(code string) {
	if m == nil {
		return
	}
	if code == "" {
		code = "INTERNAL_ERROR"
	}
	m.finalizeFailures.WithLabelValues(code).Inc()
}

func (m *Metrics) VoteCast(decision string) {
	if m == nil {
		return
	}
	m.votes.WithLabelValues(decision).Inc()
}

func (m *Metrics) ClearanceTransition(status string) {
	if m == nil {
		return
	}
	m.clearanceTransition.WithLabelValues(status).Inc()
}

// Middleware counts requests by matched route.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.requests.WithLabelValues(route, c.Request.Method, strconv.Itoa(c.Writer.Status())).Inc()
		m.durations.WithLabelValues(route, c.Request.Method).Observe(time.Since(start).Seconds())
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
