// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"sale-vesting-engine/internal/domain"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Claim metrics
	ClaimsTotal   *prometheus.CounterVec
	TokensClaimed prometheus.Counter

	// Sale metrics
	PurchasesTotal  *prometheus.CounterVec
	TokensAllocated *prometheus.CounterVec
	PoolRaised      *prometheus.GaugeVec
	AllocationsSet  prometheus.Counter

	// Feed metrics
	FeedSubscribers     prometheus.Gauge
	FeedMessagesDropped prometheus.Counter

	// HTTP metrics
	HTTPRequestDuration *prometheus.HistogramVec

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec

	// Health metrics
	StartTime prometheus.Gauge
}

// NewMetrics creates a new Metrics instance registered with the default registry.
func NewMetrics(namespace string) *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer, namespace)
}

// NewMetricsWith creates a new Metrics instance registered with reg.
func NewMetricsWith(reg prometheus.Registerer, namespace string) *Metrics {
	if namespace == "" {
		namespace = "sale_vesting"
	}
	factory := promauto.With(reg)

	m := &Metrics{
		// Claim metrics
		ClaimsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "claims_total",
			Help:      "Total number of claim attempts by outcome",
		}, []string{"outcome"}),
		TokensClaimed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "tokens_claimed_total",
			Help:      "Total number of tokens moved to claimed",
		}),

		// Sale metrics
		PurchasesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sale",
			Name:      "purchases_total",
			Help:      "Total number of recorded purchases by category",
		}, []string{"category"}),
		TokensAllocated: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sale",
			Name:      "tokens_allocated_total",
			Help:      "Total number of tokens priced by round",
		}, []string{"round"}),
		PoolRaised: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sale",
			Name:      "pool_raised",
			Help:      "Capital raised so far by round",
		}, []string{"round"}),
		AllocationsSet: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "allocations_set_total",
			Help:      "Total number of allocation replacements",
		}),

		// Feed metrics
		FeedSubscribers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "subscribers",
			Help:      "Current number of claim feed subscribers",
		}),
		FeedMessagesDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "messages_dropped_total",
			Help:      "Total number of feed messages dropped for slow subscribers",
		}),

		// HTTP metrics
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "code"}),

		// Database metrics
		DBQueryDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),

		// Health metrics
		StartTime: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "start_time_seconds",
			Help:      "Unix timestamp of process start",
		}),
	}
	m.StartTime.Set(float64(time.Now().Unix()))
	return m
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Claim outcomes.
const (
	OutcomeClaimed        = "claimed"
	OutcomeNothingToClaim = "nothing_to_claim"
	OutcomeConflict       = "conflict"
	OutcomeError          = "error"
)

// RecordClaim records a committed claim.
func (m *Metrics) RecordClaim(e domain.ClaimEvent) {
	m.ClaimsTotal.WithLabelValues(OutcomeClaimed).Inc()
	m.TokensClaimed.Add(float64(e.Amount))
}

// RecordClaimRejected records a claim that moved nothing.
func (m *Metrics) RecordClaimRejected(outcome string) {
	m.ClaimsTotal.WithLabelValues(outcome).Inc()
}

// RecordPurchase records a stored purchase.
func (m *Metrics) RecordPurchase(r domain.InvestmentRecord) {
	m.PurchasesTotal.WithLabelValues(string(r.Category)).Inc()
	if round, ok := r.Category.Round(); ok {
		m.TokensAllocated.WithLabelValues(round.String()).Add(float64(r.Tokens))
	}
}

// SetPoolRaised updates the raised capital gauge of a round.
func (m *Metrics) SetPoolRaised(state domain.PoolState) {
	raised, _ := state.Raised.Float64()
	m.PoolRaised.WithLabelValues(state.Round.String()).Set(raised)
}

// RecordDBQuery records database query metrics.
func (m *Metrics) RecordDBQuery(database, operation string, seconds float64, err error) {
	m.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		m.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}

// RecordHTTPRequest records the duration of a served request.
func (m *Metrics) RecordHTTPRequest(route string, code int, seconds float64) {
	m.HTTPRequestDuration.WithLabelValues(route, strconv.Itoa(code)).Observe(seconds)
}
