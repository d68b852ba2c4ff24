package budget

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runcore-labs/runcore/pkg/metrics"
	"github.com/runcore-labs/runcore/pkg/pricing"
	"github.com/runcore-labs/runcore/pkg/runmodel"
)

type fakeTracker struct {
	costs map[string]float64
}

func (f *fakeTracker) GetCurrentCost(ctx context.Context, runID string) (float64, error) {
	return f.costs[runID], nil
}

func newTestManager(t *testing.T, cfg runmodel.BudgetConfig, runCosts map[string]float64) *Manager {
	t.Helper()
	registry := pricing.NewEmptyRegistry()
	registry.RegisterPrice("openai", "gpt-4o", runmodel.PricingEntry{InputPrice: 0.005, OutputPrice: 0.015})
	return NewManager(cfg, &fakeTracker{costs: runCosts}, registry)
}

func TestPreflightDeniesOverRunBudget(t *testing.T) {
	cfg := runmodel.BudgetConfig{MaxCostPerRun: 1.0, MaxCostPerSession: 10.0, WarningThreshold: 0.8}
	mgr := newTestManager(t, cfg, map[string]float64{"run-1": 0.95})

	_, err := mgr.Preflight(context.Background(), "run-1", "sess-1", runmodel.LLMUsage{
		Provider: "openai", Model: "gpt-4o", PromptTokens: 10000, CompletionTokens: 10000,
	})
	require.Error(t, err)
	var budgetErr *runmodel.BudgetExceededError
	assert.True(t, errors.As(err, &budgetErr))
}

func TestPreflightDeniesOverSessionBudget(t *testing.T) {
	cfg := runmodel.BudgetConfig{MaxCostPerRun: 100.0, MaxCostPerSession: 1.0, WarningThreshold: 0.8}
	mgr := newTestManager(t, cfg, map[string]float64{"run-1": 0})

	err := mgr.PostCommit(context.Background(), "sess-1", 0.99)
	require.NoError(t, err)

	_, err = mgr.Preflight(context.Background(), "run-1", "sess-1", runmodel.LLMUsage{
		Provider: "openai", Model: "gpt-4o", PromptTokens: 10000, CompletionTokens: 10000,
	})
	require.Error(t, err)
	var sessionErr *runmodel.SessionBudgetExceededError
	assert.True(t, errors.As(err, &sessionErr))
}

func TestPreflightAllowsWithinBudget(t *testing.T) {
	cfg := runmodel.BudgetConfig{MaxCostPerRun: 10.0, MaxCostPerSession: 20.0, WarningThreshold: 0.8}
	mgr := newTestManager(t, cfg, map[string]float64{"run-1": 0})

	result, err := mgr.Preflight(context.Background(), "run-1", "sess-1", runmodel.LLMUsage{
		Provider: "openai", Model: "gpt-4o", PromptTokens: 100, CompletionTokens: 100,
	})
	require.NoError(t, err)
	assert.Greater(t, result.EstimatedCost, 0.0)
	assert.False(t, result.Warned)
}

func TestPreflightWarnsPastThreshold(t *testing.T) {
	cfg := runmodel.BudgetConfig{MaxCostPerRun: 1.0, MaxCostPerSession: 20.0, WarningThreshold: 0.5}
	mgr := newTestManager(t, cfg, map[string]float64{"run-1": 0.6})

	result, err := mgr.Preflight(context.Background(), "run-1", "sess-1", runmodel.LLMUsage{
		Provider: "openai", Model: "gpt-4o", PromptTokens: 10, CompletionTokens: 10,
	})
	require.NoError(t, err)
	assert.True(t, result.Warned)
}

func TestEstimateCallCostFallsBackToConservativeRate(t *testing.T) {
	cfg := runmodel.BudgetConfig{MaxCostPerRun: 100, MaxCostPerSession: 100, WarningThreshold: 0.8}
	mgr := newTestManager(t, cfg, nil)

	cost := mgr.estimateCallCost(runmodel.LLMUsage{Provider: "acme", Model: "mystery", PromptTokens: 1000, CompletionTokens: 1000})
	assert.InDelta(t, conservativeInputPricePer1K+conservativeOutputPricePer1K, cost, 1e-9)
}

func TestUpdateConfigMergeSemantics(t *testing.T) {
	cfg := runmodel.BudgetConfig{MaxCostPerRun: 5, MaxCostPerSession: 20, WarningThreshold: 0.8}
	mgr := newTestManager(t, cfg, nil)

	mgr.UpdateConfig(runmodel.BudgetConfig{MaxCostPerRun: 10, TreatUnknownAsFailure: true})
	got := mgr.GetConfig()
	assert.Equal(t, 10.0, got.MaxCostPerRun)
	assert.Equal(t, 20.0, got.MaxCostPerSession) // untouched, zero value ignored
	assert.True(t, got.TreatUnknownAsFailure)
}

func TestGetRemainingBudgetAndIsOverBudget(t *testing.T) {
	cfg := runmodel.BudgetConfig{MaxCostPerRun: 5, MaxCostPerSession: 20, WarningThreshold: 0.8}
	mgr := newTestManager(t, cfg, map[string]float64{"run-1": 6})

	remaining, err := mgr.GetRemainingBudget(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, 0.0, remaining)

	over, err := mgr.IsOverBudget(context.Background(), "run-1")
	require.NoError(t, err)
	assert.True(t, over)
}

func TestPreflightDenialsIncrementMetricsByKind(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	runCfg := runmodel.BudgetConfig{MaxCostPerRun: 1.0, MaxCostPerSession: 10.0, WarningThreshold: 0.8}
	runMgr := newTestManager(t, runCfg, map[string]float64{"run-1": 0.95}).WithMetrics(m)
	_, err := runMgr.Preflight(context.Background(), "run-1", "sess-1", runmodel.LLMUsage{
		Provider: "openai", Model: "gpt-4o", PromptTokens: 10000, CompletionTokens: 10000,
	})
	require.Error(t, err)

	sessionCfg := runmodel.BudgetConfig{MaxCostPerRun: 100.0, MaxCostPerSession: 1.0, WarningThreshold: 0.8}
	sessionMgr := newTestManager(t, sessionCfg, map[string]float64{"run-2": 0}).WithMetrics(m)
	require.NoError(t, sessionMgr.PostCommit(context.Background(), "sess-2", 0.99))
	_, err = sessionMgr.Preflight(context.Background(), "run-2", "sess-2", runmodel.LLMUsage{
		Provider: "openai", Model: "gpt-4o", PromptTokens: 10000, CompletionTokens: 10000,
	})
	require.Error(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.BudgetDenials.WithLabelValues("run")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BudgetDenials.WithLabelValues("session")))
}

func TestSeedSessionCostsPrimesMemoryAccumulator(t *testing.T) {
	cfg := runmodel.BudgetConfig{MaxCostPerRun: 5, MaxCostPerSession: 20, WarningThreshold: 0.8}
	mgr := newTestManager(t, cfg, nil)
	mgr.WithAccumulator(&memoryAccumulator{costs: map[string]float64{}})

	mgr.SeedSessionCosts(map[string]float64{"sess-1": 3.0})
	cost, err := mgr.accum.Get(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.Equal(t, 3.0, cost)
}
