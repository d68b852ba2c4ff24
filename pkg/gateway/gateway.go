// Package gateway implements LLMGateway (spec.md §4.5): the sole chokepoint
// through which every model call flows. The eight-step pipeline (estimate ->
// preflight -> pricing admission -> idempotency key -> invoke -> normalize
// usage -> resolve actual cost -> append ledger + post-commit) is
// implemented exactly as spec.md §4.5 describes. The streaming at-most-once
// commit design is grounded in the teacher's pkg/agent/llm_client.go channel-
// of-Chunk shape and pkg/queue/executor.go's single-call usage pattern in
// generateExecutiveSummary.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/runcore-labs/runcore/pkg/budget"
	"github.com/runcore-labs/runcore/pkg/events"
	"github.com/runcore-labs/runcore/pkg/ledger"
	"github.com/runcore-labs/runcore/pkg/metrics"
	"github.com/runcore-labs/runcore/pkg/pricing"
	"github.com/runcore-labs/runcore/pkg/redact"
	"github.com/runcore-labs/runcore/pkg/runmodel"
)

// defaultCompletionTokenEstimate is the fixed completion-token estimate used
// when estimating usage for preflight (spec.md §4.5 step 1).
const defaultCompletionTokenEstimate = 500

// CallContext carries the identifying context spec.md §4.5 attaches to every
// gateway call.
type CallContext struct {
	RunID          string
	SessionID      string
	TaskID         string // empty for planning/synthesis
	AgentType      string
	Phase          runmodel.Phase
	IdempotencyKey string // optional; computed if empty
}

// Gateway is the LLMGateway implementation.
type Gateway struct {
	client   runmodel.ModelClient
	budget   *budget.Manager
	registry *pricing.Registry
	ledger   *ledger.Ledger
	bus      *events.Bus
	redactor *redact.Redactor
	metrics  *metrics.Metrics

	unknownPricingMode pricing.UnknownPricingMode
}

// New builds a Gateway over its collaborators.
func New(client runmodel.ModelClient, mgr *budget.Manager, registry *pricing.Registry, led *ledger.Ledger, bus *events.Bus, redactor *redact.Redactor, mode pricing.UnknownPricingMode) *Gateway {
	return &Gateway{
		client:             client,
		budget:             mgr,
		registry:           registry,
		ledger:             led,
		bus:                bus,
		redactor:           redactor,
		unknownPricingMode: mode,
	}
}

// WithMetrics wires a Metrics handle so every call increments
// runcore_gateway_calls_total and observes runcore_gateway_call_duration_seconds.
// A nil Gateway.metrics is a no-op at every call site.
func (g *Gateway) WithMetrics(m *metrics.Metrics) *Gateway {
	g.metrics = m
	return g
}

// recordCall increments GatewayCalls and observes GatewayLatency for a single
// gateway invocation (spec.md §4.5), labeled by phase and pricing source.
func (g *Gateway) recordCall(phase runmodel.Phase, pricingSource runmodel.PricingSource, start time.Time) {
	if g.metrics == nil {
		return
	}
	g.metrics.GatewayCalls.WithLabelValues(string(phase), string(pricingSource)).Inc()
	g.metrics.GatewayLatency.WithLabelValues(string(phase)).Observe(time.Since(start).Seconds())
}

// estimateUsage implements spec.md §4.5 step 1: ceil(chars/4) for prompt
// tokens, a fixed default for completion tokens.
func estimateUsage(provider, model string, messages []runmodel.Message) runmodel.LLMUsage {
	var totalChars int
	for _, m := range messages {
		totalChars += len(m.Content)
	}
	promptTokens := int(math.Ceil(float64(totalChars) / 4.0))
	return runmodel.LLMUsage{
		Provider:         provider,
		Model:            model,
		PromptTokens:     promptTokens,
		CompletionTokens: defaultCompletionTokenEstimate,
		TotalTokens:      promptTokens + defaultCompletionTokenEstimate,
	}
}

// idempotencyKeyFor computes the default idempotency key per spec.md §4.5
// step 4 when the caller didn't supply one.
func idempotencyKeyFor(cc CallContext, u runmodel.LLMUsage) string {
	taskID := cc.TaskID
	if taskID == "" {
		taskID = "none"
	}
	return fmt.Sprintf("llm:%s:%s:%s:%s:%s:%s:%d:%d:%d",
		cc.RunID, cc.SessionID, cc.Phase, taskID, u.Provider, u.Model,
		u.PromptTokens, u.CompletionTokens, u.TotalTokens)
}

// preflightAndPrice runs pipeline steps 1-4 shared by every gateway
// operation: estimate usage, preflight admission, pricing admission on the
// estimate, and idempotency key materialization.
func (g *Gateway) preflightAndPrice(ctx context.Context, cc CallContext, messages []runmodel.Message) (runmodel.LLMUsage, string, error) {
	estimated := estimateUsage(g.client.Provider(), g.client.DefaultModel(), messages)

	if _, err := g.budget.Preflight(ctx, cc.RunID, cc.SessionID, estimated); err != nil {
		return runmodel.LLMUsage{}, "", err
	}

	resolution := pricing.Resolve(g.registry, estimated, nil, g.unknownPricingMode)
	if resolution.ShouldBlock {
		if g.metrics != nil {
			g.metrics.BudgetDenials.WithLabelValues("unknown_pricing").Inc()
		}
		return runmodel.LLMUsage{}, "", &runmodel.UnknownPricingError{Provider: estimated.Provider, Model: estimated.Model}
	}

	idemKey := cc.IdempotencyKey
	if idemKey == "" {
		idemKey = idempotencyKeyFor(cc, estimated)
	}
	return estimated, idemKey, nil
}

// commit implements pipeline steps 6-8: normalize actual usage, resolve
// actual cost, append to the ledger, and conditionally post-commit.
func (g *Gateway) commit(ctx context.Context, cc CallContext, idemKey string, estimated, actual runmodel.LLMUsage, raw []byte) (runmodel.CostEvent, error) {
	normalized := actual.Normalize()
	if normalized.Provider == "" {
		normalized.Provider = g.client.Provider()
	}
	if normalized.Model == "" {
		normalized.Model = g.client.DefaultModel()
	}

	resolution := pricing.Resolve(g.registry, normalized, raw, g.unknownPricingMode)
	// Per spec.md §4.5 step 7: if shouldBlock fires here the call has
	// already happened — log and still persist, auditability over purity.
	if resolution.ShouldBlock {
		slog.Warn("unknown pricing after model call; persisting cost event anyway",
			"run_id", cc.RunID, "provider", normalized.Provider, "model", normalized.Model)
	}
	event := runmodel.CostEvent{
		EventID:           uuid.NewString(),
		IdempotencyKey:    idemKey,
		RunID:             cc.RunID,
		SessionID:         cc.SessionID,
		TaskID:            cc.TaskID,
		AgentType:         cc.AgentType,
		Phase:             cc.Phase,
		Provider:          normalized.Provider,
		Model:             normalized.Model,
		PromptTokens:      normalized.PromptTokens,
		CompletionTokens:  normalized.CompletionTokens,
		TotalTokens:       normalized.TotalTokens,
		ProviderCostUSD:   resolution.ProviderCostUSD,
		CalculatedCostUSD: resolution.CalculatedCostUSD,
		PricingSource:     resolution.PricingSource,
		CreatedAt:         time.Now().UTC().Format(time.RFC3339),
	}

	appended, err := g.ledger.Append(ctx, event)
	if err != nil {
		return event, fmt.Errorf("append cost event: %w", err)
	}
	if appended {
		if err := g.budget.PostCommit(ctx, cc.SessionID, event.CalculatedCostUSD); err != nil {
			return event, fmt.Errorf("post-commit session accumulator: %w", err)
		}
	}
	return event, nil
}

// GenerateText implements LLMGateway.generateText.
func (g *Gateway) GenerateText(ctx context.Context, cc CallContext, req runmodel.GenerateRequest) (runmodel.GenerateResult, runmodel.CostEvent, error) {
	start := time.Now()
	estimated, idemKey, err := g.preflightAndPrice(ctx, cc, req.Messages)
	if err != nil {
		return runmodel.GenerateResult{}, runmodel.CostEvent{}, err
	}

	result, err := g.client.GenerateText(ctx, req)
	if err != nil {
		return runmodel.GenerateResult{}, runmodel.CostEvent{}, &runmodel.ModelInvocationError{
			Provider: g.client.Provider(), Model: g.client.DefaultModel(), Cause: err,
		}
	}

	event, err := g.commit(ctx, cc, idemKey, estimated, result.Usage, result.Usage.Raw)
	g.recordCall(cc.Phase, event.PricingSource, start)
	return result, event, err
}

// GenerateStructured implements LLMGateway.generateStructured.
func (g *Gateway) GenerateStructured(ctx context.Context, cc CallContext, req runmodel.GenerateRequest) (runmodel.GenerateResult, runmodel.CostEvent, error) {
	start := time.Now()
	estimated, idemKey, err := g.preflightAndPrice(ctx, cc, req.Messages)
	if err != nil {
		return runmodel.GenerateResult{}, runmodel.CostEvent{}, err
	}

	result, err := g.client.GenerateStructured(ctx, req)
	if err != nil {
		return runmodel.GenerateResult{}, runmodel.CostEvent{}, &runmodel.ModelInvocationError{
			Provider: g.client.Provider(), Model: g.client.DefaultModel(), Cause: err,
		}
	}

	event, err := g.commit(ctx, cc, idemKey, estimated, result.Usage, result.Usage.Raw)
	g.recordCall(cc.Phase, event.PricingSource, start)
	return result, event, err
}

// StreamResult is returned by GenerateStream: a text channel the caller
// drains, plus a Done channel that resolves once the at-most-once cost
// commit has happened (success, cancel, or error all converge on it).
type StreamResult struct {
	Chunks <-chan runmodel.Chunk
	// Done receives the CostEvent that commit built exactly once, after
	// commit completes; on a ledger append or post-commit error it is still
	// that built event, not a zero CostEvent.
	Done <-chan runmodel.CostEvent
}

// GenerateStream implements LLMGateway.generateStream with the at-most-once
// commit design of spec.md §4.5's streaming path: a costPersisted flag plus
// a memoizing commit helper so that normal completion, cancellation, and
// mid-stream error all converge on exactly one ledger append, preferring the
// preflight estimate as a fallback over dropping the event.
func (g *Gateway) GenerateStream(ctx context.Context, cc CallContext, req runmodel.GenerateRequest) (StreamResult, error) {
	start := time.Now()
	estimated, idemKey, err := g.preflightAndPrice(ctx, cc, req.Messages)
	if err != nil {
		return StreamResult{}, err
	}

	upstream, err := g.client.GenerateStream(ctx, req)
	if err != nil {
		return StreamResult{}, &runmodel.ModelInvocationError{
			Provider: g.client.Provider(), Model: g.client.DefaultModel(), Cause: err,
		}
	}

	out := make(chan runmodel.Chunk, 16)
	done := make(chan runmodel.CostEvent, 1)

	var once sync.Once
	var committedEvent runmodel.CostEvent
	commitOnce := func(actual runmodel.LLMUsage, raw []byte) {
		once.Do(func() {
			event, commitErr := g.commit(context.WithoutCancel(ctx), cc, idemKey, estimated, actual, raw)
			if commitErr != nil {
				g.logSanitized("stream cost commit failed", commitErr)
			}
			g.recordCall(cc.Phase, event.PricingSource, start)
			committedEvent = event
			done <- committedEvent
			close(done)
		})
	}

	go func() {
		defer close(out)
		var lastUsage *runmodel.UsageChunk
		for {
			select {
			case chunk, ok := <-upstream:
				if !ok {
					// Stream ended without an explicit usage chunk arriving
					// after the last one we saw (or none at all): commit with
					// whatever usage we observed, falling back to the
					// preflight estimate.
					commitOnce(usageFrom(lastUsage, estimated), rawFrom(lastUsage))
					return
				}
				select {
				case out <- chunk:
				case <-ctx.Done():
					commitOnce(usageFrom(lastUsage, estimated), rawFrom(lastUsage))
					return
				}
				switch c := chunk.(type) {
				case runmodel.UsageChunk:
					u := c
					lastUsage = &u
					commitOnce(usageFrom(lastUsage, estimated), rawFrom(lastUsage))
					return
				case runmodel.ErrorChunk:
					commitOnce(usageFrom(lastUsage, estimated), rawFrom(lastUsage))
					return
				}
			case <-ctx.Done():
				commitOnce(usageFrom(lastUsage, estimated), rawFrom(lastUsage))
				return
			}
		}
	}()

	return StreamResult{Chunks: out, Done: done}, nil
}

func usageFrom(last *runmodel.UsageChunk, estimated runmodel.LLMUsage) runmodel.LLMUsage {
	if last == nil {
		return estimated
	}
	return runmodel.LLMUsage{
		Provider:         estimated.Provider,
		Model:            estimated.Model,
		PromptTokens:     last.InputTokens,
		CompletionTokens: last.OutputTokens,
		TotalTokens:      last.TotalTokens,
		Cost:             last.Cost,
	}
}

func rawFrom(last *runmodel.UsageChunk) []byte {
	if last == nil {
		return nil
	}
	return last.Raw
}

func (g *Gateway) logSanitized(msg string, err error) {
	sanitized := msg
	if g.redactor != nil {
		sanitized = g.redactor.Sanitize(msg + ": " + err.Error())
	}
	slog.Error(sanitized)
}
