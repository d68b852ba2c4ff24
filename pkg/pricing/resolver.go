package pricing

import (
	"encoding/json"

	"github.com/runcore-labs/runcore/pkg/runmodel"
)

// UnknownPricingMode controls what PricingResolver does when neither the
// provider, the upstream payload, nor the registry can price a call.
type UnknownPricingMode string

const (
	UnknownBlock UnknownPricingMode = "block"
	UnknownWarn  UnknownPricingMode = "warn"
)

// litellmKeys is the set of top-level keys PricingResolver inspects on the
// raw upstream payload for an upstream-reported cost (spec.md §4.2 tier 2).
var litellmKeys = []string{"response_cost", "litellm_response_cost", "litellm_cost", "cost", "total_cost"}

// Resolution is the result of PricingResolver.Resolve.
type Resolution struct {
	ProviderCostUSD   *float64
	CalculatedCostUSD float64
	PricingSource     runmodel.PricingSource
	ShouldBlock       bool
}

// Resolve implements the exact three-tier-plus-unknown fallback of spec.md
// §4.2: provider-reported, then upstream/litellm-reported, then registry,
// then unknown.
func Resolve(registry *Registry, usage runmodel.LLMUsage, raw json.RawMessage, mode UnknownPricingMode) Resolution {
	// Tier 1: provider-reported.
	if usage.Cost > 0 {
		cost := usage.Cost
		return Resolution{
			ProviderCostUSD:   &cost,
			CalculatedCostUSD: cost,
			PricingSource:     runmodel.SourceProvider,
			ShouldBlock:       false,
		}
	}

	// Tier 2: upstream/litellm-reported.
	if raw == nil {
		raw = usage.Raw
	}
	if cost, ok := extractLiteLLMCost(raw); ok {
		return Resolution{
			ProviderCostUSD:   &cost,
			CalculatedCostUSD: cost,
			PricingSource:     runmodel.SourceLiteLLM,
			ShouldBlock:       false,
		}
	}

	// Tier 3: registry.
	breakdown := registry.CalculateCost(usage)
	if breakdown.PricingSource == runmodel.SourceRegistry {
		return Resolution{
			CalculatedCostUSD: breakdown.TotalCost,
			PricingSource:     runmodel.SourceRegistry,
			ShouldBlock:       false,
		}
	}

	// Tier 4: unknown.
	return Resolution{
		CalculatedCostUSD: 0,
		PricingSource:     runmodel.SourceUnknown,
		ShouldBlock:       mode == UnknownBlock,
	}
}

// extractLiteLLMCost inspects raw for a positive number under any of the
// recognized top-level keys, or one level deep under "usage". First positive
// number wins, top-level keys checked in declaration order before the
// nested "usage" object.
func extractLiteLLMCost(raw json.RawMessage) (float64, bool) {
	if len(raw) == 0 {
		return 0, false
	}
	var top map[string]any
	if err := json.Unmarshal(raw, &top); err != nil {
		return 0, false
	}

	for _, k := range litellmKeys {
		if v, ok := positiveNumber(top[k]); ok {
			return v, true
		}
	}

	if nested, ok := top["usage"].(map[string]any); ok {
		for _, k := range []string{"total_cost", "cost"} {
			if v, ok := positiveNumber(nested[k]); ok {
				return v, true
			}
		}
	}

	return 0, false
}

func positiveNumber(v any) (float64, bool) {
	f, ok := v.(float64)
	if !ok || f <= 0 {
		return 0, false
	}
	return f, true
}
