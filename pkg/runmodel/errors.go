package runmodel

import "fmt"

// Sentinel errors for the run execution core's error taxonomy (spec.md §7).
// Each is checked with errors.Is; the wrapped struct types below carry the
// context a caller needs to act (run id, projected vs. cap, etc.), following
// the teacher's pkg/config/errors.go idiom of sentinel-plus-wrapped-struct.
var (
	ErrBudgetExceeded        = fmt.Errorf("budget exceeded")
	ErrSessionBudgetExceeded = fmt.Errorf("session budget exceeded")
	ErrUnknownPricing        = fmt.Errorf("unknown pricing")
	ErrModelInvocation       = fmt.Errorf("model invocation failed")
	ErrPlanValidation        = fmt.Errorf("plan validation failed")
	ErrTaskExecution         = fmt.Errorf("task execution failed")
	ErrLedgerIntegrity       = fmt.Errorf("ledger integrity violation")
)

// BudgetExceededError reports a per-run preflight denial.
type BudgetExceededError struct {
	RunID         string
	ProjectedCost float64
	MaxCost       float64
}

func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("run %s: projected cost %.6f exceeds per-run cap %.6f", e.RunID, e.ProjectedCost, e.MaxCost)
}

func (e *BudgetExceededError) Unwrap() error { return ErrBudgetExceeded }

// SessionBudgetExceededError reports a per-session preflight denial.
type SessionBudgetExceededError struct {
	SessionID     string
	ProjectedCost float64
	MaxCost       float64
}

func (e *SessionBudgetExceededError) Error() string {
	return fmt.Sprintf("session %s: projected cost %.6f exceeds per-session cap %.6f", e.SessionID, e.ProjectedCost, e.MaxCost)
}

func (e *SessionBudgetExceededError) Unwrap() error { return ErrSessionBudgetExceeded }

// UnknownPricingError reports a pricing resolution of "unknown" under
// fail-closed policy.
type UnknownPricingError struct {
	Provider string
	Model    string
}

func (e *UnknownPricingError) Error() string {
	return fmt.Sprintf("no pricing entry for %s:%s and unknown-pricing mode is block", e.Provider, e.Model)
}

func (e *UnknownPricingError) Unwrap() error { return ErrUnknownPricing }

// ModelInvocationError wraps an upstream model-client failure. The message
// is intentionally not sanitized here — it is the caller's job (pkg/redact)
// to sanitize before the message reaches a log sink or event bus.
type ModelInvocationError struct {
	Provider string
	Model    string
	Cause    error
}

func (e *ModelInvocationError) Error() string {
	return fmt.Sprintf("model invocation failed for %s:%s: %v", e.Provider, e.Model, e.Cause)
}

func (e *ModelInvocationError) Unwrap() error { return ErrModelInvocation }

// PlanValidationError reports a non-conforming plan (cycle, duplicate id, or
// unknown dependsOn target).
type PlanValidationError struct {
	Reason string
}

func (e *PlanValidationError) Error() string { return fmt.Sprintf("plan validation: %s", e.Reason) }

func (e *PlanValidationError) Unwrap() error { return ErrPlanValidation }

// TaskExecutionError reports a terminal failure inside Agent.ExecuteTask.
type TaskExecutionError struct {
	TaskID string
	Cause  error
}

func (e *TaskExecutionError) Error() string {
	return fmt.Sprintf("task %s execution failed: %v", e.TaskID, e.Cause)
}

func (e *TaskExecutionError) Unwrap() error { return ErrTaskExecution }

// LedgerIntegrityError reports a serialization failure or storage anomaly
// detected on a subsequent read. Treated as fatal for the run.
type LedgerIntegrityError struct {
	RunID string
	Cause error
}

func (e *LedgerIntegrityError) Error() string {
	return fmt.Sprintf("run %s: ledger integrity violation: %v", e.RunID, e.Cause)
}

func (e *LedgerIntegrityError) Unwrap() error { return ErrLedgerIntegrity }
