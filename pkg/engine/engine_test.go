package engine

import (
	"context"
	"fmt"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runcore-labs/runcore/pkg/events"
	"github.com/runcore-labs/runcore/pkg/metrics"
	"github.com/runcore-labs/runcore/pkg/redact"
	"github.com/runcore-labs/runcore/pkg/runmodel"
)

// fakeAgent is a deterministic Agent stub: Plan returns a fixed plan, each
// task executes by looking up a canned result or error keyed by id, and
// Synthesize concatenates completed task outputs.
type fakeAgent struct {
	plan        *runmodel.Plan
	planErr     error
	taskResults map[string]runmodel.TaskResult
	taskErrs    map[string]error
	synthesis   string
	synthErr    error
	execOrder   []string
}

func (f *fakeAgent) Type() string { return "fake" }

func (f *fakeAgent) Plan(ctx context.Context, req runmodel.PlanRequest) (*runmodel.Plan, error) {
	return f.plan, f.planErr
}

func (f *fakeAgent) ExecuteTask(ctx context.Context, task *runmodel.Task, req runmodel.TaskExecRequest) (runmodel.TaskResult, error) {
	f.execOrder = append(f.execOrder, task.ID)
	if err, ok := f.taskErrs[task.ID]; ok {
		return runmodel.TaskResult{}, err
	}
	if r, ok := f.taskResults[task.ID]; ok {
		return r, nil
	}
	return runmodel.TaskResult{TaskID: task.ID, Status: runmodel.TaskDone, Output: task.ID + "-done"}, nil
}

func (f *fakeAgent) Synthesize(ctx context.Context, req runmodel.SynthesizeRequest) (string, error) {
	return f.synthesis, f.synthErr
}

func (f *fakeAgent) Capabilities() []runmodel.Capability { return nil }

func linearPlan() *runmodel.Plan {
	return runmodel.NewPlan([]*runmodel.Task{
		{ID: "a", Type: "step"},
		{ID: "b", Type: "step", DependsOn: []string{"a"}},
		{ID: "c", Type: "step", DependsOn: []string{"b"}},
	}, 3)
}

func TestRunHappyPath(t *testing.T) {
	agent := &fakeAgent{plan: linearPlan(), synthesis: "final answer"}
	e := New(Config{MaxConcurrentTasks: 1}, events.NewBus(nil))
	run := runmodel.NewRun("run-1", "sess-1", "fake", "corr-1")

	text, err := e.Run(context.Background(), run, agent, "do the thing", nil)
	require.NoError(t, err)
	assert.Equal(t, "final answer", text)
	assert.Equal(t, runmodel.RunCompleted, run.Status())
	assert.Equal(t, []string{"a", "b", "c"}, agent.execOrder)
}

func TestRunEmptyPlanGoesDirectlyToSynthesize(t *testing.T) {
	agent := &fakeAgent{plan: runmodel.NewPlan(nil, 0), synthesis: "nothing to do"}
	e := New(Config{MaxConcurrentTasks: 1}, events.NewBus(nil))
	run := runmodel.NewRun("run-1", "sess-1", "fake", "corr-1")

	text, err := e.Run(context.Background(), run, agent, "p", nil)
	require.NoError(t, err)
	assert.Equal(t, "nothing to do", text)
	assert.Equal(t, runmodel.RunCompleted, run.Status())
}

func TestRunTaskFailureSkipsDependents(t *testing.T) {
	plan := runmodel.NewPlan([]*runmodel.Task{
		{ID: "a", Type: "step"},
		{ID: "b", Type: "step", DependsOn: []string{"a"}},
		{ID: "c", Type: "step"},
	}, 3)
	agent := &fakeAgent{
		plan:     plan,
		taskErrs: map[string]error{"a": fmt.Errorf("boom")},
	}
	e := New(Config{MaxConcurrentTasks: 1}, events.NewBus(nil))
	run := runmodel.NewRun("run-1", "sess-1", "fake", "corr-1")

	_, err := e.Run(context.Background(), run, agent, "p", nil)
	require.Error(t, err)
	var taskErr *runmodel.TaskExecutionError
	require.ErrorAs(t, err, &taskErr)
	assert.Equal(t, runmodel.RunFailed, run.Status())
	// c has no dependency on the failed task a, so it still executes.
	assert.Contains(t, agent.execOrder, "c")
	// b depends on the failed task a, so it is skipped and never executes.
	assert.NotContains(t, agent.execOrder, "b")
}

func TestRunBudgetErrorBlocksRun(t *testing.T) {
	plan := runmodel.NewPlan([]*runmodel.Task{{ID: "a", Type: "step"}}, 1)
	agent := &fakeAgent{
		plan:     plan,
		taskErrs: map[string]error{"a": &runmodel.BudgetExceededError{RunID: "run-1", ProjectedCost: 10, MaxCost: 5}},
	}
	e := New(Config{MaxConcurrentTasks: 1}, events.NewBus(nil))
	run := runmodel.NewRun("run-1", "sess-1", "fake", "corr-1")

	_, err := e.Run(context.Background(), run, agent, "p", nil)
	require.Error(t, err)
	var budgetErr *runmodel.BudgetExceededError
	require.ErrorAs(t, err, &budgetErr)
	assert.Equal(t, runmodel.RunBlocked, run.Status())
	assert.Equal(t, "budget", run.BlockReason())
}

func TestRunUnknownPricingErrorBlocksRun(t *testing.T) {
	plan := runmodel.NewPlan([]*runmodel.Task{{ID: "a", Type: "step"}}, 1)
	agent := &fakeAgent{
		plan:     plan,
		taskErrs: map[string]error{"a": &runmodel.UnknownPricingError{Provider: "acme", Model: "mystery"}},
	}
	e := New(Config{MaxConcurrentTasks: 1}, events.NewBus(nil))
	run := runmodel.NewRun("run-1", "sess-1", "fake", "corr-1")

	_, err := e.Run(context.Background(), run, agent, "p", nil)
	require.Error(t, err)
	assert.Equal(t, runmodel.RunBlocked, run.Status())
	assert.Equal(t, "unknown_pricing", run.BlockReason())
}

func TestRunInvalidPlanFailsBeforeExecution(t *testing.T) {
	plan := runmodel.NewPlan([]*runmodel.Task{
		{ID: "a", DependsOn: []string{"missing"}},
	}, 1)
	agent := &fakeAgent{plan: plan}
	e := New(Config{MaxConcurrentTasks: 1}, events.NewBus(nil))
	run := runmodel.NewRun("run-1", "sess-1", "fake", "corr-1")

	_, err := e.Run(context.Background(), run, agent, "p", nil)
	require.Error(t, err)
	var planErr *runmodel.PlanValidationError
	require.ErrorAs(t, err, &planErr)
	assert.Equal(t, runmodel.RunFailed, run.Status())
	assert.Empty(t, agent.execOrder)
}

func TestRunSanitizesEventDetailWhenRedactorWired(t *testing.T) {
	leaky := fmt.Errorf("upstream call failed with key sk-abcdefghijklmnopqrstuvwxyz")
	agent := &fakeAgent{plan: linearPlan(), planErr: leaky}
	bus := events.NewBus(nil)
	sub, unsubscribe := bus.Subscribe(8)
	defer unsubscribe()

	e := New(Config{MaxConcurrentTasks: 1}, bus).WithRedactor(redact.New())
	run := runmodel.NewRun("run-1", "sess-1", "fake", "corr-1")

	_, err := e.Run(context.Background(), run, agent, "p", nil)
	require.Error(t, err)

	var failedEvent events.Event
	for ev := range sub {
		if ev.Kind == events.KindRunFailed {
			failedEvent = ev
			break
		}
	}
	assert.NotContains(t, failedEvent.Detail, "sk-abcdefghijklmnopqrstuvwxyz")
	assert.Contains(t, failedEvent.Detail, "***REDACTED***")
}

func TestRunPublishesRawDetailWithoutRedactor(t *testing.T) {
	leaky := fmt.Errorf("upstream call failed with key sk-abcdefghijklmnopqrstuvwxyz")
	agent := &fakeAgent{plan: linearPlan(), planErr: leaky}
	bus := events.NewBus(nil)
	sub, unsubscribe := bus.Subscribe(8)
	defer unsubscribe()

	e := New(Config{MaxConcurrentTasks: 1}, bus)
	run := runmodel.NewRun("run-1", "sess-1", "fake", "corr-1")

	_, err := e.Run(context.Background(), run, agent, "p", nil)
	require.Error(t, err)

	var failedEvent events.Event
	for ev := range sub {
		if ev.Kind == events.KindRunFailed {
			failedEvent = ev
			break
		}
	}
	assert.Contains(t, failedEvent.Detail, "sk-abcdefghijklmnopqrstuvwxyz")
}

func TestRunRecordsTaskAndCostMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	agent := &fakeAgent{plan: linearPlan(), synthesis: "final answer"}
	e := New(Config{MaxConcurrentTasks: 1}, events.NewBus(nil)).WithMetrics(m).WithCostTracker(zeroCostTracker{})
	run := runmodel.NewRun("run-1", "sess-1", "fake", "corr-1")

	_, err := e.Run(context.Background(), run, agent, "do the thing", nil)
	require.NoError(t, err)

	assert.Equal(t, 3.0, testutil.ToFloat64(m.TasksTotal.WithLabelValues("DONE")))
}

type zeroCostTracker struct{}

func (zeroCostTracker) GetCurrentCost(ctx context.Context, runID string) (float64, error) {
	return 0, nil
}

func TestRunDeterministicUnderSingleConcurrency(t *testing.T) {
	plan := runmodel.NewPlan([]*runmodel.Task{
		{ID: "a", Type: "step"},
		{ID: "b", Type: "step"},
		{ID: "c", Type: "step"},
	}, 3)

	for i := 0; i < 5; i++ {
		agent := &fakeAgent{plan: plan, synthesis: "ok"}
		e := New(Config{MaxConcurrentTasks: 1}, events.NewBus(nil))
		run := runmodel.NewRun("run-1", "sess-1", "fake", "corr-1")
		_, err := e.Run(context.Background(), run, agent, "p", nil)
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b", "c"}, agent.execOrder)
	}
}
