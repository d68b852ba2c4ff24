// Package metrics exposes runcore's Prometheus instrumentation. The metric
// surface (a gateway-call counter split by phase/pricing-source, a ledger-
// append counter split by result, a budget-denial counter split by kind, a
// task-status counter, a gateway-latency histogram split by phase, and a
// cost-per-run histogram) is named after the concepts Sergey-Bar-Alfred's
// observability.Metrics tracks by hand (requests/tokens/safety-violations by
// label); here the same label-driven tracking is built on the real
// prometheus/client_golang registry instead of a hand-rolled exposition
// writer, since the corpus carries that library for exactly this job.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every counter/histogram runcore exports.
type Metrics struct {
	GatewayCalls   *prometheus.CounterVec
	LedgerAppends  *prometheus.CounterVec
	BudgetDenials  *prometheus.CounterVec
	TasksTotal     *prometheus.CounterVec
	CostPerRun     prometheus.Histogram
	GatewayLatency *prometheus.HistogramVec
}

// New registers runcore's metrics against reg and returns the handle.
// Pass prometheus.NewRegistry() for isolated tests, or nil to register
// against the default global registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		GatewayCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "runcore_gateway_calls_total",
			Help: "Total LLMGateway calls by phase and pricing source.",
		}, []string{"phase", "pricing_source"}),

		LedgerAppends: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "runcore_ledger_appends_total",
			Help: "Total cost ledger append attempts by result (appended|duplicate|error).",
		}, []string{"result"}),

		BudgetDenials: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "runcore_budget_denials_total",
			Help: "Total preflight denials by kind (run|session|unknown_pricing).",
		}, []string{"kind"}),

		TasksTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "runcore_tasks_total",
			Help: "Total tasks reaching a terminal status.",
		}, []string{"status"}),

		CostPerRun: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "runcore_cost_per_run_usd",
			Help:    "Distribution of total calculated cost per completed run, in USD.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20},
		}),

		GatewayLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "runcore_gateway_call_duration_seconds",
			Help:    "LLMGateway call latency by phase.",
			Buckets: prometheus.DefBuckets,
		}, []string{"phase"}),
	}
}
