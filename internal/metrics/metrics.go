// Package metrics holds the Prometheus collectors for the gas aggregation engine.
// Every method is safe to call on a nil *Metrics, which disables collection.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Fetch outcome labels
const (
	OutcomeSuccess     = "success"
	OutcomeError       = "error"
	OutcomeCircuitOpen = "circuit_open"
	OutcomeCancelled   = "cancelled"
)

// Metrics bundles every collector the service exports
type Metrics struct {
	requestCounter  *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	cycleDuration   prometheus.Histogram
	chainFetches    *prometheus.CounterVec
	fetchDuration   *prometheus.HistogramVec
	fallbacks       *prometheus.CounterVec
	rpcErrors       *prometheus.CounterVec
	feeGauge        *prometheus.GaugeVec
	breakerState    *prometheus.GaugeVec
	historyLength   *prometheus.GaugeVec
	anomalies       *prometheus.CounterVec
}

// New creates the collectors and registers them with reg
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requestCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gas_api_requests_total",
				Help: "Total number of API requests processed",
			},
			[]string{"path", "status"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gas_api_request_duration_seconds",
				Help:    "API request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"path"},
		),
		cycleDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "gas_cycle_duration_seconds",
				Help:    "Duration of one full aggregation cycle",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20},
			},
		),
		chainFetches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gas_chain_fetches_total",
				Help: "Per-chain fee fetch outcomes",
			},
			[]string{"chain", "outcome"},
		),
		fetchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gas_chain_fetch_duration_seconds",
				Help:    "Per-chain fee fetch duration",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"chain"},
		),
		fallbacks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gas_fee_fallbacks_total",
				Help: "Number of times the EIP-1559 path failed and the legacy path was used",
			},
			[]string{"chain"},
		),
		rpcErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gas_rpc_errors_total",
				Help: "JSON-RPC call failures by method",
			},
			[]string{"chain", "method"},
		),
		feeGauge: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "gas_fee_gwei",
				Help: "Most recent fee estimate per chain and tier",
			},
			[]string{"chain", "tier"},
		),
		breakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "gas_circuit_breaker_state",
				Help: "Per-chain circuit breaker state (0=closed, 1=open, 2=half-open)",
			},
			[]string{"chain"},
		),
		historyLength: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "gas_history_length",
				Help: "Number of snapshots held per chain",
			},
			[]string{"chain"},
		),
		anomalies: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gas_fee_anomalies_total",
				Help: "Fee snapshots flagged by anomaly inspection",
			},
			[]string{"chain", "kind"},
		),
	}

	reg.MustRegister(
		m.requestCounter,
		m.requestDuration,
		m.cycleDuration,
		m.chainFetches,
		m.fetchDuration,
		m.fallbacks,
		m.rpcErrors,
		m.feeGauge,
		m.breakerState,
		m.historyLength,
		m.anomalies,
	)

	return m
}

// ObserveRequest records one API request
func (m *Metrics) ObserveRequest(path, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.requestCounter.WithLabelValues(path, status).Inc()
	m.requestDuration.WithLabelValues(path).Observe(d.Seconds())
}

// ObserveCycle records the duration of one aggregation cycle
func (m *Metrics) ObserveCycle(d time.Duration) {
	if m == nil {
		return
	}
	m.cycleDuration.Observe(d.Seconds())
}

// ObserveFetch records the outcome of one chain fetch
func (m *Metrics) ObserveFetch(chain, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.chainFetches.WithLabelValues(chain, outcome).Inc()
	m.fetchDuration.WithLabelValues(chain).Observe(d.Seconds())
}

// IncFallback counts a switch from the EIP-1559 path to the legacy path
func (m *Metrics) IncFallback(chain string) {
	if m == nil {
		return
	}
	m.fallbacks.WithLabelValues(chain).Inc()
}

// IncRPCError counts a failed JSON-RPC call
func (m *Metrics) IncRPCError(chain, method string) {
	if m == nil {
		return
	}
	m.rpcErrors.WithLabelValues(chain, method).Inc()
}

// SetFees publishes the latest fee tiers for a chain
func (m *Metrics) SetFees(chain string, slow, standard, fast, baseFee float64) {
	if m == nil {
		return
	}
	m.feeGauge.WithLabelValues(chain, "slow").Set(slow)
	m.feeGauge.WithLabelValues(chain, "standard").Set(standard)
	m.feeGauge.WithLabelValues(chain, "fast").Set(fast)
	m.feeGauge.WithLabelValues(chain, "base").Set(baseFee)
}

// SetBreakerState publishes a chain's circuit breaker state
func (m *Metrics) SetBreakerState(chain string, state int) {
	if m == nil {
		return
	}
	m.breakerState.WithLabelValues(chain).Set(float64(state))
}

// SetHistoryLength publishes the number of stored snapshots for a chain
func (m *Metrics) SetHistoryLength(chain string, n int) {
	if m == nil {
		return
	}
	m.historyLength.WithLabelValues(chain).Set(float64(n))
}

// IncAnomaly counts one flagged snapshot finding
func (m *Metrics) IncAnomaly(chain, kind string) {
	if m == nil {
		return
	}
	m.anomalies.WithLabelValues(chain, kind).Inc()
}
