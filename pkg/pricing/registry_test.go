package pricing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runcore-labs/runcore/pkg/runmodel"
)

func TestNewRegistrySeedsDefaultCatalog(t *testing.T) {
	reg, err := NewRegistry(ModeFailClosed, nil)
	require.NoError(t, err)

	entry, ok := reg.GetPrice("openai", "gpt-4o")
	require.True(t, ok)
	assert.Greater(t, entry.InputPrice, 0.0)
	assert.Greater(t, entry.OutputPrice, 0.0)
}

func TestRegistryOverlayOverridesDefault(t *testing.T) {
	overlay := []byte(`{"openai:gpt-4o": {"InputPrice": 1.23, "OutputPrice": 4.56, "Currency": "USD", "EffectiveDate": "2026-01-01"}}`)
	reg, err := NewRegistry(ModeFailClosed, overlay)
	require.NoError(t, err)

	entry, ok := reg.GetPrice("openai", "gpt-4o")
	require.True(t, ok)
	assert.Equal(t, 1.23, entry.InputPrice)
	assert.Equal(t, 4.56, entry.OutputPrice)
}

func TestRegistryGetPriceExactMatchOnly(t *testing.T) {
	reg := NewEmptyRegistry()
	reg.RegisterPrice("openai", "gpt-4o", runmodel.PricingEntry{InputPrice: 1, OutputPrice: 2})

	_, ok := reg.GetPrice("openai", "gpt-4o-extra")
	assert.False(t, ok)
}

func TestRegistryCalculateCost(t *testing.T) {
	reg := NewEmptyRegistry()
	reg.RegisterPrice("openai", "gpt-4o", runmodel.PricingEntry{InputPrice: 5, OutputPrice: 15, Currency: "USD"})

	t.Run("provider-reported cost wins", func(t *testing.T) {
		breakdown := reg.CalculateCost(runmodel.LLMUsage{Provider: "openai", Model: "gpt-4o", Cost: 0.5})
		assert.Equal(t, runmodel.SourceProvider, breakdown.PricingSource)
		assert.Equal(t, 0.5, breakdown.TotalCost)
	})

	t.Run("registry lookup when no provider cost", func(t *testing.T) {
		breakdown := reg.CalculateCost(runmodel.LLMUsage{Provider: "openai", Model: "gpt-4o", PromptTokens: 1000, CompletionTokens: 1000})
		assert.Equal(t, runmodel.SourceRegistry, breakdown.PricingSource)
		assert.Equal(t, 5.0+15.0, breakdown.TotalCost)
	})

	t.Run("unknown when neither available", func(t *testing.T) {
		breakdown := reg.CalculateCost(runmodel.LLMUsage{Provider: "acme", Model: "mystery-1"})
		assert.Equal(t, runmodel.SourceUnknown, breakdown.PricingSource)
		assert.Equal(t, 0.0, breakdown.TotalCost)
	})
}

func TestRegistryClear(t *testing.T) {
	reg := NewEmptyRegistry()
	reg.RegisterPrice("openai", "gpt-4o", runmodel.PricingEntry{InputPrice: 1})
	reg.Clear()
	_, ok := reg.GetPrice("openai", "gpt-4o")
	assert.False(t, ok)
}

func TestNewRegistryFailOpenSwallowsBadOverlay(t *testing.T) {
	reg, err := NewRegistry(ModeFailOpen, []byte(`not json`))
	require.NoError(t, err)
	_, ok := reg.GetPrice("openai", "gpt-4o")
	assert.True(t, ok) // default catalog still loaded
}

func TestNewRegistryFailClosedRejectsBadOverlay(t *testing.T) {
	_, err := NewRegistry(ModeFailClosed, []byte(`not json`))
	require.Error(t, err)
}
