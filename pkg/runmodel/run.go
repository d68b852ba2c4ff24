// Package runmodel holds the data model shared by the run execution core:
// Run, Session, Plan, Task, TaskResult, LLMUsage, CostEvent, CostSnapshot,
// PricingEntry and BudgetConfig, plus the Agent and ModelClient contracts the
// engine and gateway are built against.
package runmodel

import (
	"sync"
	"time"
)

// RunStatus is the terminal/non-terminal state of a Run.
type RunStatus string

const (
	RunPending      RunStatus = "pending"
	RunPlanning     RunStatus = "planning"
	RunExecuting    RunStatus = "executing"
	RunSynthesizing RunStatus = "synthesizing"
	RunCompleted    RunStatus = "completed"
	RunFailed       RunStatus = "failed"
	RunBlocked      RunStatus = "blocked"
)

// IsTerminal reports whether status is one of completed/failed/blocked.
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunCompleted, RunFailed, RunBlocked:
		return true
	default:
		return false
	}
}

// Run is a single orchestration instance: one plan -> execute -> synthesize
// lifecycle. A Run is immutable once it reaches a terminal status.
type Run struct {
	ID            string
	SessionID     string
	AgentType     string
	CorrelationID string
	CreatedAt     time.Time

	mu          sync.RWMutex
	status      RunStatus
	blockReason string
	errMessage  string
}

// NewRun constructs a pending Run.
func NewRun(id, sessionID, agentType, correlationID string) *Run {
	return &Run{
		ID:            id,
		SessionID:     sessionID,
		AgentType:     agentType,
		CorrelationID: correlationID,
		CreatedAt:     time.Now(),
		status:        RunPending,
	}
}

// Status returns the current status (thread-safe).
func (r *Run) Status() RunStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status
}

// SetStatus transitions the run to a new status (thread-safe). The engine is
// the sole writer; callers outside pkg/engine should treat Run as read-only.
func (r *Run) SetStatus(s RunStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status = s
}

// Block transitions the run to blocked with a reason (e.g. "budget",
// "unknown_pricing", "cancelled").
func (r *Run) Block(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status = RunBlocked
	r.blockReason = reason
}

// Fail transitions the run to failed with an error message.
func (r *Run) Fail(message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status = RunFailed
	r.errMessage = message
}

// BlockReason returns the reason a blocked run was blocked, if any.
func (r *Run) BlockReason() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.blockReason
}

// ErrorMessage returns the failure message for a failed run, if any.
func (r *Run) ErrorMessage() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.errMessage
}

// Snapshot is a point-in-time, lock-free copy of a Run's externally visible
// fields, safe to hand to callers that must not see further mutation.
type Snapshot struct {
	ID            string
	SessionID     string
	AgentType     string
	CorrelationID string
	CreatedAt     time.Time
	Status        RunStatus
	BlockReason   string
	ErrorMessage  string
}

// Snapshot returns a Snapshot of the run's current state.
func (r *Run) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Snapshot{
		ID:            r.ID,
		SessionID:     r.SessionID,
		AgentType:     r.AgentType,
		CorrelationID: r.CorrelationID,
		CreatedAt:     r.CreatedAt,
		Status:        r.status,
		BlockReason:   r.blockReason,
		ErrorMessage:  r.errMessage,
	}
}
