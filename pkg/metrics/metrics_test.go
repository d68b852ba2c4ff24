package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistersAllCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	require.NotNil(t, m)

	m.GatewayCalls.WithLabelValues("text", "registry").Inc()
	m.LedgerAppends.WithLabelValues("appended").Inc()
	m.BudgetDenials.WithLabelValues("run").Inc()
	m.TasksTotal.WithLabelValues("done").Inc()
	m.CostPerRun.Observe(1.23)
	m.GatewayLatency.WithLabelValues("text").Observe(0.05)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.GatewayCalls.WithLabelValues("text", "registry")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LedgerAppends.WithLabelValues("appended")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BudgetDenials.WithLabelValues("run")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TasksTotal.WithLabelValues("done")))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{
		"runcore_gateway_calls_total",
		"runcore_ledger_appends_total",
		"runcore_budget_denials_total",
		"runcore_tasks_total",
		"runcore_cost_per_run_usd",
		"runcore_gateway_call_duration_seconds",
	} {
		assert.True(t, names[want], "expected metric family %s to be registered", want)
	}
}

func TestNewWithNilRegistererUsesDefault(t *testing.T) {
	assert.NotPanics(t, func() {
		_ = New(nil)
	})
}
