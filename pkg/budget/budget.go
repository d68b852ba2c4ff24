// Package budget implements BudgetManager (spec.md §4.4): preflight cost
// admission and post-commit session accounting. Lock-ordering discipline
// (session accumulator mutex acquired before the rate-limiter mutex, never
// the reverse) is grounded in
// a7821173_Kocoro-lab-Shannon__go-orchestrator/internal/budget/manager.go's
// documented ordering comment, adapted to runcore's smaller two-lock case.
package budget

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/runcore-labs/runcore/pkg/metrics"
	"github.com/runcore-labs/runcore/pkg/pricing"
	"github.com/runcore-labs/runcore/pkg/runmodel"
)

// CostTracker is the minimal CostLedger-shaped dependency BudgetManager
// needs: the current accrued cost for a run. *ledger.Ledger satisfies this.
type CostTracker interface {
	GetCurrentCost(ctx context.Context, runID string) (float64, error)
}

// sessionAccumulator abstracts the session-cost store so a single-process
// in-memory map (default) and a Redis-backed cross-process accumulator
// (pkg/budget/redisaccum.go) satisfy the same contract (SPEC_FULL.md §11).
type sessionAccumulator interface {
	Get(ctx context.Context, sessionID string) (float64, error)
	Add(ctx context.Context, sessionID string, delta float64) (float64, error)
	Load(ctx context.Context) (map[string]float64, error)
}

// conservativeFallbackRate is used when a call cannot be priced at all
// during preflight (no provider cost, no registry entry): preflight must
// never estimate zero for an unpriced call (spec.md §4.4 step 1). These are
// GPT-4o-class per-1K-token rates, deliberately conservative.
const (
	conservativeInputPricePer1K  = 0.005
	conservativeOutputPricePer1K = 0.015
)

// Manager implements BudgetManager.
//
// Lock ordering (must always be acquired in this order to avoid deadlock):
//  1. the session accumulator's own mutex (memoryAccumulator.mu)
//  2. limitersMu (per-session rate.Limiter map; never held while calling out)
//
// cfgMu guards cfg on its own and is never held together with either.
type Manager struct {
	cfg      runmodel.BudgetConfig
	cfgMu    sync.RWMutex
	tracker  CostTracker
	registry *pricing.Registry
	accum    sessionAccumulator
	metrics  *metrics.Metrics

	limitersMu sync.Mutex
	limiters   map[string]*rate.Limiter
}

// NewManager builds a BudgetManager over the given CostLedger-shaped tracker
// and PricingRegistry, with an in-memory session accumulator by default.
func NewManager(cfg runmodel.BudgetConfig, tracker CostTracker, registry *pricing.Registry) *Manager {
	return newManager(cfg, tracker, registry, newMemoryAccumulator())
}

func newManager(cfg runmodel.BudgetConfig, tracker CostTracker, registry *pricing.Registry, accum sessionAccumulator) *Manager {
	return &Manager{
		cfg:      cfg,
		tracker:  tracker,
		registry: registry,
		accum:    accum,
		limiters: make(map[string]*rate.Limiter),
	}
}

// WithAccumulator swaps in a different sessionAccumulator implementation
// (e.g. a Redis-backed one for multi-replica deployments). Must be called
// before the manager serves traffic.
func (m *Manager) WithAccumulator(accum sessionAccumulator) {
	m.accum = accum
}

// WithMetrics wires a Metrics handle so Preflight denials increment
// runcore_budget_denials_total. Must be called before the manager serves
// traffic; a nil Manager.metrics is a no-op at every call site.
func (m *Manager) WithMetrics(mx *metrics.Metrics) *Manager {
	m.metrics = mx
	return m
}

func (m *Manager) recordDenial(kind string) {
	if m.metrics == nil {
		return
	}
	m.metrics.BudgetDenials.WithLabelValues(kind).Inc()
}

// GetConfig returns a copy of the current BudgetConfig.
func (m *Manager) GetConfig() runmodel.BudgetConfig {
	m.cfgMu.RLock()
	defer m.cfgMu.RUnlock()
	return m.cfg
}

// UpdateConfig merges a partial config over the current one. Zero-valued
// fields in partial are treated as "leave unchanged" except
// TreatUnknownAsFailure, which always overwrites (it has a meaningful zero
// value).
func (m *Manager) UpdateConfig(partial runmodel.BudgetConfig) {
	m.cfgMu.Lock()
	defer m.cfgMu.Unlock()
	if partial.MaxCostPerRun > 0 {
		m.cfg.MaxCostPerRun = partial.MaxCostPerRun
	}
	if partial.MaxCostPerSession > 0 {
		m.cfg.MaxCostPerSession = partial.MaxCostPerSession
	}
	if partial.WarningThreshold > 0 {
		m.cfg.WarningThreshold = partial.WarningThreshold
	}
	m.cfg.TreatUnknownAsFailure = partial.TreatUnknownAsFailure
}

// LoadSessionCosts returns a snapshot of every session total the configured
// accumulator currently holds, keyed by session id. It reads only; it does
// not re-aggregate from the ledger and does not change the accumulator.
// SeedSessionCosts is the separate entry point for priming the in-memory
// accumulator from a caller-supplied snapshot.
func (m *Manager) LoadSessionCosts(ctx context.Context) (map[string]float64, error) {
	return m.accum.Load(ctx)
}

// estimateCallCost implements spec.md §4.4 step 1: use the estimate's own
// cost if reported, else a registry lookup, else a conservative fallback.
func (m *Manager) estimateCallCost(estimated runmodel.LLMUsage) float64 {
	if estimated.Cost > 0 {
		return estimated.Cost
	}
	if entry, ok := m.registry.GetPrice(estimated.Provider, estimated.Model); ok {
		return float64(estimated.PromptTokens)/1000.0*entry.InputPrice + float64(estimated.CompletionTokens)/1000.0*entry.OutputPrice
	}
	return float64(estimated.PromptTokens)/1000.0*conservativeInputPricePer1K + float64(estimated.CompletionTokens)/1000.0*conservativeOutputPricePer1K
}

// PreflightResult carries the admission outcome plus whether a warning
// threshold was crossed, so callers can log without re-deriving it.
type PreflightResult struct {
	EstimatedCost float64
	Warned        bool
	Throttled     bool
}

// Preflight implements spec.md §4.4's admission check. Returns
// *runmodel.BudgetExceededError or *runmodel.SessionBudgetExceededError on
// denial.
func (m *Manager) Preflight(ctx context.Context, runID, sessionID string, estimated runmodel.LLMUsage) (PreflightResult, error) {
	cfg := m.GetConfig()
	estimatedCost := m.estimateCallCost(estimated)

	currentRun, err := m.tracker.GetCurrentCost(ctx, runID)
	if err != nil {
		return PreflightResult{}, fmt.Errorf("preflight: read current run cost: %w", err)
	}
	projectedRun := currentRun + estimatedCost
	if projectedRun > cfg.MaxCostPerRun {
		m.recordDenial("run")
		return PreflightResult{}, &runmodel.BudgetExceededError{RunID: runID, ProjectedCost: projectedRun, MaxCost: cfg.MaxCostPerRun}
	}

	currentSession, err := m.accum.Get(ctx, sessionID)
	if err != nil {
		return PreflightResult{}, fmt.Errorf("preflight: read session cost: %w", err)
	}
	projectedSession := currentSession + estimatedCost
	if projectedSession > cfg.MaxCostPerSession {
		m.recordDenial("session")
		return PreflightResult{}, &runmodel.SessionBudgetExceededError{SessionID: sessionID, ProjectedCost: projectedSession, MaxCost: cfg.MaxCostPerSession}
	}

	result := PreflightResult{EstimatedCost: estimatedCost}
	if cfg.MaxCostPerRun > 0 && currentRun/cfg.MaxCostPerRun >= cfg.WarningThreshold {
		result.Warned = true
		result.Throttled = m.throttle(ctx, sessionID)
	}
	return result, nil
}

// throttle applies a soft backpressure delay once the run's cost ratio
// (current run cost / MaxCostPerRun) has crossed the warning threshold,
// ahead of the hard cap denying it outright; the limiter is kept per session
// (SPEC_FULL.md §11, golang.org/x/time/rate). Returns whether the call was
// made to wait.
func (m *Manager) throttle(ctx context.Context, sessionID string) bool {
	m.limitersMu.Lock()
	limiter, ok := m.limiters[sessionID]
	if !ok {
		// Once warned, allow roughly one call per 200ms per session rather
		// than denying outright — a soft brake, not a hard stop.
		limiter = rate.NewLimiter(rate.Every(200_000_000), 1)
		m.limiters[sessionID] = limiter
	}
	m.limitersMu.Unlock()

	reservation := limiter.Reserve()
	if !reservation.OK() {
		return false
	}
	delay := reservation.Delay()
	if delay <= 0 {
		return false
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
	return true
}

// PostCommit advances the session accumulator after a successful ledger
// append. Invoked exactly once per appended event by the gateway.
func (m *Manager) PostCommit(ctx context.Context, sessionID string, actualCost float64) error {
	_, err := m.accum.Add(ctx, sessionID, actualCost)
	if err != nil {
		return fmt.Errorf("post-commit: advance session accumulator: %w", err)
	}
	return nil
}

// SeedSessionCosts primes the in-memory accumulator from a reconciled
// snapshot (OQ2). A no-op when the configured accumulator is Redis-backed,
// since INCRBYFLOAT already keeps that total durable across process
// restarts.
func (m *Manager) SeedSessionCosts(totals map[string]float64) {
	if mem, ok := m.accum.(*memoryAccumulator); ok {
		mem.Seed(totals)
	}
}

// GetRemainingBudget returns max(0, maxCostPerRun - currentCost).
func (m *Manager) GetRemainingBudget(ctx context.Context, runID string) (float64, error) {
	cfg := m.GetConfig()
	current, err := m.tracker.GetCurrentCost(ctx, runID)
	if err != nil {
		return 0, err
	}
	remaining := cfg.MaxCostPerRun - current
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// IsOverBudget reports whether the run's current cost is at or past the cap.
func (m *Manager) IsOverBudget(ctx context.Context, runID string) (bool, error) {
	cfg := m.GetConfig()
	current, err := m.tracker.GetCurrentCost(ctx, runID)
	if err != nil {
		return false, err
	}
	return current >= cfg.MaxCostPerRun, nil
}
