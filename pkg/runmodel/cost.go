package runmodel

import "encoding/json"

// Phase classifies which stage of a run an LLM call belongs to.
type Phase string

const (
	PhasePlanning  Phase = "planning"
	PhaseTask      Phase = "task"
	PhaseSynthesis Phase = "synthesis"
)

// PricingSource is the provenance tag on a resolved cost.
type PricingSource string

const (
	SourceProvider PricingSource = "provider"
	SourceLiteLLM  PricingSource = "litellm"
	SourceRegistry PricingSource = "registry"
	SourceUnknown  PricingSource = "unknown"
)

// LLMUsage is the token/cost accounting a ModelClient reports for one call.
// Raw is the opaque upstream payload inspected only by the litellm pricing
// tier.
type LLMUsage struct {
	Provider         string
	Model            string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	Cost             float64 // provider-reported cost, 0 if not reported
	Raw              json.RawMessage
}

// Normalize clamps negative counts to zero and derives TotalTokens when
// absent, per spec.md §4.5 step 6.
func (u LLMUsage) Normalize() LLMUsage {
	if u.PromptTokens < 0 {
		u.PromptTokens = 0
	}
	if u.CompletionTokens < 0 {
		u.CompletionTokens = 0
	}
	if u.TotalTokens <= 0 {
		u.TotalTokens = u.PromptTokens + u.CompletionTokens
	}
	if u.Cost < 0 {
		u.Cost = 0
	}
	return u
}

// CostEvent is the durable unit of accounting: append-only, never mutated.
type CostEvent struct {
	EventID          string
	IdempotencyKey   string
	RunID            string
	SessionID        string
	TaskID           string // empty for planning/synthesis phases
	AgentType        string
	Phase            Phase
	Provider         string
	Model            string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	ProviderCostUSD  *float64
	CalculatedCostUSD float64
	PricingSource    PricingSource
	CreatedAt        string // ISO-8601
}

// CostSnapshot is a computed, never-cached aggregation of a run's events.
type CostSnapshot struct {
	RunID       string
	TotalCost   float64
	TotalTokens int
	EventCount  int
	ByModel     []ModelCostBreakdown
	ByProvider  []ProviderCostBreakdown
	Timestamp   string
}

// ModelCostBreakdown is a per (provider, model) partition of a CostSnapshot.
type ModelCostBreakdown struct {
	Provider         string
	Model            string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	Cost             float64
}

// ProviderCostBreakdown is a per-provider partition of a CostSnapshot.
type ProviderCostBreakdown struct {
	Provider string
	Cost     float64
}

// PricingEntry is a per-1K-token price pair keyed by "<provider>:<model>".
type PricingEntry struct {
	InputPrice    float64
	OutputPrice   float64
	Currency      string
	EffectiveDate string
}

// BudgetConfig bounds the cost a run or session may accrue.
type BudgetConfig struct {
	MaxCostPerRun     float64
	MaxCostPerSession float64
	WarningThreshold  float64 // in [0,1]
	// TreatUnknownAsFailure records the OQ1 policy choice (default false).
	// It is carried through config and UpdateConfig; neither pkg/gateway nor
	// pkg/engine reads it, so a task whose call resolves to unknown pricing
	// under warn mode completes DONE whatever its value.
	TreatUnknownAsFailure bool
}

// DefaultBudgetConfig returns the spec.md §3 defaults.
func DefaultBudgetConfig() BudgetConfig {
	return BudgetConfig{
		MaxCostPerRun:     5.0,
		MaxCostPerSession: 20.0,
		WarningThreshold:  0.8,
	}
}
