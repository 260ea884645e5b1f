// Package metrics holds the prometheus collectors updated by the tick engine.
//
//	tradeloop_ticks_total{outcome}             ticks by outcome (ok|error|skipped)
//	tradeloop_tick_duration_seconds            tick wall time
//	tradeloop_decisions_total{outcome}         decisions (executed|rejected|failed|hold)
//	tradeloop_gate_rejections_total{gate}      first failing gate
//	tradeloop_orders_total{mode,status}        broker results
//	tradeloop_exits_total{rule,side}           exits by rule
//	tradeloop_reasoning_retries_total{provider}
//	tradeloop_account_equity_usd{account_id}
//	tradeloop_reconcile_mismatches_total
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	Ticks            *prometheus.CounterVec
	TickDuration     prometheus.Histogram
	Decisions        *prometheus.CounterVec
	GateRejections   *prometheus.CounterVec
	Orders           *prometheus.CounterVec
	Exits            *prometheus.CounterVec
	ReasoningRetries *prometheus.CounterVec
	Equity           *prometheus.GaugeVec
	Mismatches       prometheus.Counter
}

// New builds the collectors and registers them on reg when it is non-nil.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Ticks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tradeloop_ticks_total",
			Help: "Ticks processed by outcome",
		}, []string{"outcome"}),
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tradeloop_tick_duration_seconds",
			Help:    "Tick wall time",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		Decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tradeloop_decisions_total",
			Help: "Decisions written by outcome",
		}, []string{"outcome"}),
		GateRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tradeloop_gate_rejections_total",
			Help: "Entries rejected, by the first failing gate",
		}, []string{"gate"}),
		Orders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tradeloop_orders_total",
			Help: "Broker results by mode and status",
		}, []string{"mode", "status"}),
		Exits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tradeloop_exits_total",
			Help: "Exits triggered, by rule and position side",
		}, []string{"rule", "side"}),
		ReasoningRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tradeloop_reasoning_retries_total",
			Help: "Retried reasoning calls by provider",
		}, []string{"provider"}),
		Equity: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tradeloop_account_equity_usd",
			Help: "Account equity after the last tick",
		}, []string{"account_id"}),
		Mismatches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tradeloop_reconcile_mismatches_total",
			Help: "Accounting reconciliation mismatches",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.Ticks, m.TickDuration, m.Decisions, m.GateRejections,
			m.Orders, m.Exits, m.ReasoningRetries, m.Equity, m.Mismatches,
		)
	}
	return m
}

// Helpers below are nil-safe so callers can run without metrics.

func (m *Metrics) ObserveTick(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.Ticks.WithLabelValues(outcome).Inc()
	m.TickDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) IncDecision(outcome string) {
	if m == nil {
		return
	}
	m.Decisions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncGateRejection(gate string) {
	if m == nil || gate == "" {
		return
	}
	m.GateRejections.WithLabelValues(gate).Inc()
}

func (m *Metrics) IncOrder(mode, status string) {
	if m == nil {
		return
	}
	m.Orders.WithLabelValues(mode, status).Inc()
}

func (m *Metrics) IncExit(rule, side string) {
	if m == nil {
		return
	}
	m.Exits.WithLabelValues(rule, side).Inc()
}

func (m *Metrics) IncReasoningRetry(provider string, _ error) {
	if m == nil {
		return
	}
	m.ReasoningRetries.WithLabelValues(provider).Inc()
}

func (m *Metrics) SetEquity(accountID uint64, equity float64) {
	if m == nil {
		return
	}
	m.Equity.WithLabelValues(strconv.FormatUint(accountID, 10)).Set(equity)
}

func (m *Metrics) IncMismatch() {
	if m == nil {
		return
	}
	m.Mismatches.Inc()
}
