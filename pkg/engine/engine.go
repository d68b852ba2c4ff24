// Package engine implements RunEngine (spec.md §4.6): the per-run state
// machine driving plan -> execute -> synthesize. Task dispatch (ready-set
// computation, deterministic selection, bounded fan-out) is grounded in the
// teacher's pkg/queue/executor.go executeStage: one goroutine per dispatched
// unit, a sync.WaitGroup, a buffered result channel, and collectAndSort by
// original launch index — generalized here from "one goroutine per agent in
// a stage" to "one goroutine per ready task, bounded by a maxConcurrentTasks
// semaphore". The in-flight cancellation registry is grounded in
// pkg/queue/pool.go's activeSessions cancel-func map.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/runcore-labs/runcore/pkg/events"
	"github.com/runcore-labs/runcore/pkg/metrics"
	"github.com/runcore-labs/runcore/pkg/redact"
	"github.com/runcore-labs/runcore/pkg/runmodel"
)

// Config bounds a RunEngine's dispatch concurrency.
type Config struct {
	// MaxConcurrentTasks bounds how many ready tasks may execute at once.
	// Default 1 for strict determinism (spec.md §4.6).
	MaxConcurrentTasks int
}

// costReader is the minimal CostLedger-shaped dependency the engine needs to
// observe runcore_cost_per_run_usd at run completion. *ledger.Ledger
// satisfies this.
type costReader interface {
	GetCurrentCost(ctx context.Context, runID string) (float64, error)
}

// Engine drives a single run's plan -> execute -> synthesize lifecycle.
type Engine struct {
	cfg        Config
	bus        *events.Bus
	redactor   *redact.Redactor
	metrics    *metrics.Metrics
	costReader costReader
}

// New builds an Engine.
func New(cfg Config, bus *events.Bus) *Engine {
	if cfg.MaxConcurrentTasks <= 0 {
		cfg.MaxConcurrentTasks = 1
	}
	return &Engine{cfg: cfg, bus: bus}
}

// WithRedactor wires a Redactor so lifecycle event Detail strings (spec.md
// §9: "this applies to ... run lifecycle events") are sanitized best-effort
// before publication. A nil Engine.redactor is a no-op.
func (e *Engine) WithRedactor(r *redact.Redactor) *Engine {
	e.redactor = r
	return e
}

// WithMetrics wires a Metrics handle so task dispatch increments
// runcore_tasks_total by terminal status. A nil Engine.metrics is a no-op.
func (e *Engine) WithMetrics(m *metrics.Metrics) *Engine {
	e.metrics = m
	return e
}

func (e *Engine) recordTaskStatus(status runmodel.TaskStatus) {
	if e.metrics == nil {
		return
	}
	e.metrics.TasksTotal.WithLabelValues(string(status)).Inc()
}

// WithCostTracker wires the CostLedger the engine reads from to observe
// runcore_cost_per_run_usd once a run reaches RunCompleted.
func (e *Engine) WithCostTracker(cr costReader) *Engine {
	e.costReader = cr
	return e
}

// taskOutcome pairs a TaskResult with the dispatch index it was launched at,
// for deterministic sort-by-original-index aggregation (collectAndSort).
type taskOutcome struct {
	index  int
	result runmodel.TaskResult
	err    error
}

// Run drives run through its full lifecycle: planning, execution, synthesis.
// It returns the final synthesized text on success, or an error describing
// why the run reached failed/blocked.
func (e *Engine) Run(ctx context.Context, run *runmodel.Run, agent runmodel.Agent, prompt string, history []runmodel.Message) (string, error) {
	run.SetStatus(runmodel.RunPlanning)
	e.publish(events.KindPlanningStarted, run, "")

	plan, err := agent.Plan(ctx, runmodel.PlanRequest{Run: run.Snapshot(), Prompt: prompt, History: history})
	if err != nil {
		run.Fail(err.Error())
		e.publish(events.KindRunFailed, run, err.Error())
		return "", fmt.Errorf("planning: %w", err)
	}
	if err := plan.Validate(); err != nil {
		run.Fail(err.Error())
		e.publish(events.KindRunFailed, run, err.Error())
		return "", &runmodel.PlanValidationError{Reason: err.Error()}
	}
	e.publish(events.KindPlanningEnded, run, "")

	if len(plan.Tasks) == 0 {
		// Empty plan -> synthesizing directly, per spec.md §4.6 edge case.
		return e.synthesize(ctx, run, agent, prompt, nil)
	}

	run.SetStatus(runmodel.RunExecuting)
	results, runErr := e.execute(ctx, run, agent, plan)
	if runErr != nil {
		return "", runErr
	}

	return e.synthesize(ctx, run, agent, prompt, results)
}

// execute runs the plan's tasks to completion (or to a terminal failure/
// blocked condition), honoring dependsOn ordering and maxConcurrentTasks.
func (e *Engine) execute(ctx context.Context, run *runmodel.Run, agent runmodel.Agent, plan *runmodel.Plan) ([]runmodel.TaskResult, error) {
	status := make(map[string]runmodel.TaskStatus, len(plan.Tasks))
	for id := range plan.Tasks {
		status[id] = runmodel.TaskReady
	}
	results := make(map[string]runmodel.TaskResult, len(plan.Tasks))
	completionOrder := make([]string, 0, len(plan.Tasks))

	cancelFuncs := make(map[string]context.CancelFunc)
	var cancelMu sync.Mutex

	var blockedErr error
	var failed bool

	remaining := len(plan.Tasks)
	for remaining > 0 {
		if ctxErr := ctx.Err(); ctxErr != nil {
			run.Block("cancelled")
			e.publish(events.KindRunBlocked, run, ctxErr.Error())
			return nil, ctxErr
		}
		ready := e.readySet(plan, status)
		if len(ready) == 0 {
			// Nothing ready and tasks remain: either we're waiting on an
			// in-flight dispatch batch (handled below) or every remaining
			// task is unreachable (a dependency failed/skipped upstream but
			// wasn't itself walked yet) — treat as SKIPPED.
			for id, st := range status {
				if st == runmodel.TaskReady {
					status[id] = runmodel.TaskSkipped
					e.recordTaskStatus(runmodel.TaskSkipped)
					remaining--
				}
			}
			continue
		}

		batch := ready
		outcomes := make(chan taskOutcome, len(batch))
		sem := make(chan struct{}, e.cfg.MaxConcurrentTasks)
		var wg sync.WaitGroup

		for idx, id := range batch {
			status[id] = runmodel.TaskRunning
			task := plan.Tasks[id]
			deps := dependencyResults(task, results)

			wg.Add(1)
			sem <- struct{}{}
			taskCtx, cancel := context.WithCancel(ctx)
			cancelMu.Lock()
			cancelFuncs[id] = cancel
			cancelMu.Unlock()

			go func(i int, t *runmodel.Task, ctx context.Context, cancel context.CancelFunc) {
				defer wg.Done()
				defer func() { <-sem }()
				defer cancel()

				e.publish(events.KindTaskStarted, run, t.ID)
				result, err := agent.ExecuteTask(ctx, t, runmodel.TaskExecRequest{
					RunID: run.ID, SessionID: run.SessionID, Dependencies: deps,
				})
				e.publish(events.KindTaskEnded, run, t.ID)
				outcomes <- taskOutcome{index: i, result: result, err: err}
			}(idx, task, taskCtx, cancel)
		}

		wg.Wait()
		close(outcomes)

		sorted := make([]taskOutcome, 0, len(batch))
		for o := range outcomes {
			sorted = append(sorted, o)
		}
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].index < sorted[j].index })

		for _, o := range sorted {
			id := batch[o.index]
			cancelMu.Lock()
			delete(cancelFuncs, id)
			cancelMu.Unlock()

			if o.err != nil {
				var budgetErr *runmodel.BudgetExceededError
				var sessionErr *runmodel.SessionBudgetExceededError
				var pricingErr *runmodel.UnknownPricingError
				if errors.As(o.err, &budgetErr) || errors.As(o.err, &sessionErr) || errors.As(o.err, &pricingErr) {
					blockedErr = o.err
					status[id] = runmodel.TaskFailed
					results[id] = runmodel.TaskResult{TaskID: id, Status: runmodel.TaskFailed, Error: o.err.Error()}
					e.recordTaskStatus(runmodel.TaskFailed)
					remaining--
					continue
				}
				status[id] = runmodel.TaskFailed
				results[id] = runmodel.TaskResult{TaskID: id, Status: runmodel.TaskFailed, Error: o.err.Error()}
				e.recordTaskStatus(runmodel.TaskFailed)
				failed = true
				remaining--
				continue
			}

			if _, already := results[id]; already {
				slog.Warn("duplicate task result ignored", "run_id", run.ID, "task_id", id)
				continue
			}
			o.result.TaskID = id
			if o.result.Status == "" {
				o.result.Status = runmodel.TaskDone
			}
			results[id] = o.result
			status[id] = o.result.Status
			e.recordTaskStatus(o.result.Status)
			completionOrder = append(completionOrder, id)
			remaining--
		}

		if blockedErr != nil {
			e.drainCancel(&cancelMu, cancelFuncs)
			run.Block(blockReason(blockedErr))
			e.publish(events.KindRunBlocked, run, blockedErr.Error())
			return nil, blockedErr
		}
		if failed {
			e.skipDependents(plan, status)
			// drain: wait for nothing further to dispatch, remaining tasks
			// already marked SKIPPED by skipDependents/readySet exhaustion.
			remaining = countOutstanding(status)
		}
	}

	if failed {
		run.Fail("one or more tasks failed")
		e.publish(events.KindRunFailed, run, "task failure")
		return nil, &runmodel.TaskExecutionError{Cause: fmt.Errorf("one or more tasks failed")}
	}

	ordered := make([]runmodel.TaskResult, 0, len(completionOrder))
	for _, id := range completionOrder {
		ordered = append(ordered, results[id])
	}
	return ordered, nil
}

func blockReason(err error) string {
	switch {
	case errors.As(err, new(*runmodel.BudgetExceededError)):
		return "budget"
	case errors.As(err, new(*runmodel.SessionBudgetExceededError)):
		return "budget"
	case errors.As(err, new(*runmodel.UnknownPricingError)):
		return "unknown_pricing"
	default:
		return "unknown"
	}
}

func (e *Engine) drainCancel(mu *sync.Mutex, cancelFuncs map[string]context.CancelFunc) {
	mu.Lock()
	defer mu.Unlock()
	for _, cancel := range cancelFuncs {
		cancel()
	}
}

// readySet returns task ids with status READY whose dependencies are all
// DONE, in deterministic order: lexicographic by id, tie-broken by
// insertion order (spec.md §4.6).
func (e *Engine) readySet(plan *runmodel.Plan, status map[string]runmodel.TaskStatus) []string {
	var ready []string
	for _, id := range plan.Order {
		if status[id] != runmodel.TaskReady {
			continue
		}
		allDepsDone := true
		for _, dep := range plan.Tasks[id].DependsOn {
			if status[dep] != runmodel.TaskDone {
				allDepsDone = false
				break
			}
		}
		if allDepsDone {
			ready = append(ready, id)
		}
	}
	sort.SliceStable(ready, func(i, j int) bool { return ready[i] < ready[j] })
	return ready
}

// skipDependents marks every transitive dependent of a FAILED task as
// SKIPPED (spec.md §4.6).
func (e *Engine) skipDependents(plan *runmodel.Plan, status map[string]runmodel.TaskStatus) {
	changed := true
	for changed {
		changed = false
		for _, id := range plan.Order {
			if status[id] != runmodel.TaskReady {
				continue
			}
			for _, dep := range plan.Tasks[id].DependsOn {
				if status[dep] == runmodel.TaskFailed || status[dep] == runmodel.TaskSkipped {
					status[id] = runmodel.TaskSkipped
					e.recordTaskStatus(runmodel.TaskSkipped)
					changed = true
					break
				}
			}
		}
	}
}

func countOutstanding(status map[string]runmodel.TaskStatus) int {
	n := 0
	for _, st := range status {
		if st == runmodel.TaskReady || st == runmodel.TaskRunning {
			n++
		}
	}
	return n
}

func dependencyResults(task *runmodel.Task, results map[string]runmodel.TaskResult) []runmodel.TaskResult {
	deps := make([]runmodel.TaskResult, 0, len(task.DependsOn))
	for _, id := range task.DependsOn {
		if r, ok := results[id]; ok {
			deps = append(deps, r)
		}
	}
	return deps
}

func (e *Engine) synthesize(ctx context.Context, run *runmodel.Run, agent runmodel.Agent, prompt string, completed []runmodel.TaskResult) (string, error) {
	run.SetStatus(runmodel.RunSynthesizing)
	e.publish(events.KindSynthesizingStarted, run, "")

	text, err := agent.Synthesize(ctx, runmodel.SynthesizeRequest{
		RunID: run.ID, SessionID: run.SessionID, CompletedTasks: completed, OriginalPrompt: prompt,
	})
	if err != nil {
		run.Fail(err.Error())
		e.publish(events.KindRunFailed, run, err.Error())
		return "", fmt.Errorf("synthesis: %w", err)
	}

	e.publish(events.KindSynthesizingEnded, run, "")
	run.SetStatus(runmodel.RunCompleted)
	e.publish(events.KindRunCompleted, run, "")
	e.recordRunCost(ctx, run.ID)
	return text, nil
}

func (e *Engine) recordRunCost(ctx context.Context, runID string) {
	if e.metrics == nil || e.costReader == nil {
		return
	}
	cost, err := e.costReader.GetCurrentCost(ctx, runID)
	if err != nil {
		return
	}
	e.metrics.CostPerRun.Observe(cost)
}

func (e *Engine) publish(kind events.Kind, run *runmodel.Run, detail string) {
	if e.bus == nil {
		return
	}
	if e.redactor != nil {
		detail = e.redactor.SanitizeBestEffort(detail)
	}
	ev := events.Event{Kind: kind, RunID: run.ID, SessionID: run.SessionID, Detail: detail}
	if kind == events.KindTaskStarted || kind == events.KindTaskEnded {
		ev.TaskID = detail
	}
	e.bus.Publish(ev)
}
