package monitoring

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "risk_engine"

// Metrics holds the engine's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Sizing metrics
	decisionsTotal *prometheus.CounterVec
	riskAmount     *prometheus.HistogramVec

	// Ledger metrics
	heatFraction  prometheus.Gauge
	openPositions prometheus.Gauge

	// Breaker metrics
	breakerState      *prometheus.GaugeVec
	consecutiveLosses prometheus.Gauge
	outcomesTotal     *prometheus.CounterVec

	// Collateral metrics
	healthFactor prometheus.Gauge

	// Error metrics
	errorsTotal *prometheus.CounterVec
}

// NewMetrics creates the collectors on a private registry
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		decisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sizing_decisions_total",
				Help:      "Total number of sizing decisions by method",
			},
			[]string{"method", "verdict"},
		),
		riskAmount: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "approved_risk_usd",
				Help:      "Distribution of approved risk amounts in USD",
				Buckets:   prometheus.ExponentialBuckets(10, 2, 12),
			},
			[]string{"symbol"},
		),
		heatFraction: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "portfolio_heat_fraction",
			Help:      "Open risk as a fraction of equity at the last check",
		}),
		openPositions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "open_positions",
			Help:      "Number of open positions in the heat ledger",
		}),
		breakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "circuit_breaker_state",
				Help:      "1 for the current circuit breaker state, 0 otherwise",
			},
			[]string{"state"},
		),
		consecutiveLosses: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "consecutive_losses",
			Help:      "Current consecutive loss streak",
		}),
		outcomesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "trade_outcomes_total",
				Help:      "Total number of recorded trade outcomes",
			},
			[]string{"result"},
		),
		healthFactor: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "collateral_health_factor",
			Help:      "Health factor of the last evaluated collateral position (+Inf without debt)",
		}),
		errorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total number of errors",
			},
			[]string{"type"},
		),
	}

	m.registry.MustRegister(
		m.decisionsTotal,
		m.riskAmount,
		m.heatFraction,
		m.openPositions,
		m.breakerState,
		m.consecutiveLosses,
		m.outcomesTotal,
		m.healthFactor,
		m.errorsTotal,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the registry for tests and custom handlers
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the Prometheus metrics endpoint
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordDecision records a sizing verdict
func (m *Metrics) RecordDecision(symbol, method string, rejected bool, riskUSD float64) {
	if m == nil {
		return
	}
	verdict := "approved"
	if rejected {
		verdict = "rejected"
	}
	m.decisionsTotal.WithLabelValues(method, verdict).Inc()
	if !rejected {
		m.riskAmount.WithLabelValues(symbol).Observe(riskUSD)
	}
}

// UpdateHeat records the latest heat fraction and ledger size
func (m *Metrics) UpdateHeat(fraction float64, positions int) {
	if m == nil {
		return
	}
	m.heatFraction.Set(fraction)
	m.openPositions.Set(float64(positions))
}

// UpdateBreaker marks the current breaker state
func (m *Metrics) UpdateBreaker(current string, losses int) {
	if m == nil {
		return
	}
	for _, state := range []string{"ACTIVE", "REDUCED", "HALTED"} {
		value := 0.0
		if state == current {
			value = 1
		}
		m.breakerState.WithLabelValues(state).Set(value)
	}
	m.consecutiveLosses.Set(float64(losses))
}

// RecordOutcome counts a trade outcome
func (m *Metrics) RecordOutcome(win bool) {
	if m == nil {
		return
	}
	result := "loss"
	if win {
		result = "win"
	}
	m.outcomesTotal.WithLabelValues(result).Inc()
}

// UpdateHealthFactor records the last evaluated health factor
func (m *Metrics) UpdateHealthFactor(hf float64) {
	if m == nil {
		return
	}
	m.healthFactor.Set(hf)
}

// RecordError records an error metric
func (m *Metrics) RecordError(errorType string) {
	if m == nil {
		return
	}
	m.errorsTotal.WithLabelValues(errorType).Inc()
}
