// Package pricing implements PricingRegistry and PricingResolver (spec.md
// §4.1, §4.2): the in-memory price table and the three-tier pricing decision
// a cost event's CalculatedCostUSD is derived from. The multi-tier fallback
// itself is grounded directly on spec.md §4.2's algorithm description — no
// single pack repo implements a reusable multi-tier resolver of this shape
// (see DESIGN.md), so this is hand-written domain logic rather than a
// wrapped third-party library.
package pricing

import (
	"embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/runcore-labs/runcore/pkg/runmodel"
)

//go:embed catalog/pricing.default.json
var defaultCatalogFS embed.FS

// Mode controls startup behavior when the seed catalog fails to load.
type Mode string

const (
	// ModeFailClosed aborts construction if the catalog fails to load.
	// Unknown models in production must not silently cost zero.
	ModeFailClosed Mode = "fail_closed"
	// ModeFailOpen warns and continues with an empty registry.
	ModeFailOpen Mode = "fail_open"
)

// Registry is a keyed mapping from "provider:model" to a PricingEntry.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]runmodel.PricingEntry
}

func key(provider, model string) string { return provider + ":" + model }

// NewRegistry seeds a Registry from the embedded default catalog plus an
// optional operator-supplied overlay, under the given startup mode.
func NewRegistry(mode Mode, overlay []byte) (*Registry, error) {
	r := &Registry{entries: make(map[string]runmodel.PricingEntry)}

	data, err := defaultCatalogFS.ReadFile("catalog/pricing.default.json")
	if err != nil {
		if mode == ModeFailClosed {
			return nil, fmt.Errorf("load default pricing catalog: %w", err)
		}
		slog.Warn("default pricing catalog failed to load; continuing with an empty registry", "error", err)
		return r, nil
	}
	if err := r.LoadFromJSON(data); err != nil {
		if mode == ModeFailClosed {
			return nil, fmt.Errorf("parse default pricing catalog: %w", err)
		}
		slog.Warn("default pricing catalog failed to parse; continuing with the registry as loaded", "error", err)
		return r, nil
	}

	if len(overlay) > 0 {
		if err := r.LoadFromJSON(overlay); err != nil {
			if mode == ModeFailClosed {
				return nil, fmt.Errorf("parse pricing overlay: %w", err)
			}
		}
	}
	return r, nil
}

// NewEmptyRegistry returns a Registry with no seeded entries, for tests.
func NewEmptyRegistry() *Registry {
	return &Registry{entries: make(map[string]runmodel.PricingEntry)}
}

// LoadFromJSON merges a `{ "provider:model": PricingEntry, ... }` catalog
// into the registry, overwriting any existing entries with the same key.
func (r *Registry) LoadFromJSON(data []byte) error {
	var catalog map[string]runmodel.PricingEntry
	if err := json.Unmarshal(data, &catalog); err != nil {
		return fmt.Errorf("decode pricing catalog: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for k, v := range catalog {
		r.entries[k] = v
	}
	return nil
}

// GetPrice is an exact-match lookup; no fuzzy matching.
func (r *Registry) GetPrice(provider, model string) (runmodel.PricingEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[key(provider, model)]
	return e, ok
}

// RegisterPrice adds or overwrites a single entry.
func (r *Registry) RegisterPrice(provider, model string, entry runmodel.PricingEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[key(provider, model)] = entry
}

// GetAllPrices returns a snapshot copy of the full table.
func (r *Registry) GetAllPrices() map[string]runmodel.PricingEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]runmodel.PricingEntry, len(r.entries))
	for k, v := range r.entries {
		out[k] = v
	}
	return out
}

// Clear empties the registry. Exposed for the process-wide test-reset hook
// (spec.md §9); callers must guard this behind a test-mode check themselves.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = make(map[string]runmodel.PricingEntry)
}

// CostBreakdown is the registry-tier cost computation result.
type CostBreakdown struct {
	InputCost     float64
	OutputCost    float64
	TotalCost     float64
	Currency      string
	PricingSource runmodel.PricingSource
}

// CalculateCost implements spec.md §4.1's calculateCost: provider-reported
// cost wins outright; else a registry lookup; else unknown/zero.
func (r *Registry) CalculateCost(usage runmodel.LLMUsage) CostBreakdown {
	if usage.Cost > 0 {
		return CostBreakdown{TotalCost: usage.Cost, PricingSource: runmodel.SourceProvider}
	}
	entry, ok := r.GetPrice(usage.Provider, usage.Model)
	if !ok {
		return CostBreakdown{PricingSource: runmodel.SourceUnknown}
	}
	inputCost := float64(usage.PromptTokens) / 1000.0 * entry.InputPrice
	outputCost := float64(usage.CompletionTokens) / 1000.0 * entry.OutputPrice
	currency := entry.Currency
	if currency == "" {
		currency = "USD"
	}
	return CostBreakdown{
		InputCost:     inputCost,
		OutputCost:    outputCost,
		TotalCost:     inputCost + outputCost,
		Currency:      currency,
		PricingSource: runmodel.SourceRegistry,
	}
}
