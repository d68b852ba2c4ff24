package ledger

import (
	"context"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runcore-labs/runcore/pkg/metrics"
	"github.com/runcore-labs/runcore/pkg/runmodel"
	"github.com/runcore-labs/runcore/pkg/store"
)

func TestLedgerAppendAndAggregate(t *testing.T) {
	ctx := context.Background()
	led := New(store.NewMemoryStore())

	appended, err := led.Append(ctx, runmodel.CostEvent{
		EventID: "e1", IdempotencyKey: "k1", RunID: "run-1",
		Provider: "openai", Model: "gpt-4o", PromptTokens: 100, CompletionTokens: 50,
		TotalTokens: 150, CalculatedCostUSD: 0.01, PricingSource: runmodel.SourceRegistry,
	})
	require.NoError(t, err)
	assert.True(t, appended)

	appended, err = led.Append(ctx, runmodel.CostEvent{
		EventID: "e2", IdempotencyKey: "k2", RunID: "run-1",
		Provider: "openai", Model: "gpt-4o-mini", PromptTokens: 20, CompletionTokens: 10,
		TotalTokens: 30, CalculatedCostUSD: 0.002, PricingSource: runmodel.SourceRegistry,
	})
	require.NoError(t, err)
	assert.True(t, appended)

	snapshot, err := led.Aggregate(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, 2, snapshot.EventCount)
	assert.InDelta(t, 0.012, snapshot.TotalCost, 1e-9)
	assert.Equal(t, 180, snapshot.TotalTokens)
	assert.Len(t, snapshot.ByModel, 2)
	assert.Len(t, snapshot.ByProvider, 1)
}

func TestLedgerAppendIsIdempotent(t *testing.T) {
	ctx := context.Background()
	led := New(store.NewMemoryStore())

	event := runmodel.CostEvent{EventID: "e1", IdempotencyKey: "dup-key", RunID: "run-1", CalculatedCostUSD: 1.0}

	first, err := led.Append(ctx, event)
	require.NoError(t, err)
	assert.True(t, first)

	second, err := led.Append(ctx, event)
	require.NoError(t, err)
	assert.False(t, second)

	snapshot, err := led.Aggregate(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, 1, snapshot.EventCount)
	assert.Equal(t, 1.0, snapshot.TotalCost)
}

func TestLedgerAggregateEmptyRun(t *testing.T) {
	ctx := context.Background()
	led := New(store.NewMemoryStore())

	snapshot, err := led.Aggregate(ctx, "no-such-run")
	require.NoError(t, err)
	assert.Equal(t, 0, snapshot.EventCount)
	assert.Equal(t, 0.0, snapshot.TotalCost)
}

func TestLedgerGetCurrentCost(t *testing.T) {
	ctx := context.Background()
	led := New(store.NewMemoryStore())

	_, err := led.Append(ctx, runmodel.CostEvent{EventID: "e1", IdempotencyKey: "k1", RunID: "run-1", CalculatedCostUSD: 2.5})
	require.NoError(t, err)

	cost, err := led.GetCurrentCost(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, 2.5, cost)
}

func TestLedgerAppendRecordsMetricsByResult(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	led := New(store.NewMemoryStore()).WithMetrics(m)

	event := runmodel.CostEvent{EventID: "e1", IdempotencyKey: "dup-key", RunID: "run-1", CalculatedCostUSD: 1.0}

	_, err := led.Append(ctx, event)
	require.NoError(t, err)
	_, err = led.Append(ctx, event)
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.LedgerAppends.WithLabelValues("appended")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LedgerAppends.WithLabelValues("duplicate")))
}

func TestLedgerAppendConcurrentSerializesPerRun(t *testing.T) {
	ctx := context.Background()
	led := New(store.NewMemoryStore())

	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := led.Append(ctx, runmodel.CostEvent{
				EventID:        string(rune('a' + i)),
				IdempotencyKey: string(rune('a' + i)),
				RunID:          "run-concurrent",
				CalculatedCostUSD: 1.0,
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	snapshot, err := led.Aggregate(ctx, "run-concurrent")
	require.NoError(t, err)
	assert.Equal(t, 30, snapshot.EventCount)
	assert.Equal(t, 30.0, snapshot.TotalCost)
}
