package embed

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignitabull18/mcphub-ai-enhanced/internal/mcperr"
	"github.com/ignitabull18/mcphub-ai-enhanced/internal/settings"
)

func TestNewRequiresConfig(t *testing.T) {
	_, err := New(nil)
	require.Error(t, err)
	assert.Equal(t, mcperr.KindConfiguration, mcperr.KindOf(err))
}

func TestNewDefaultsToLocal(t *testing.T) {
	e, err := New(&settings.SmartRoutingConfig{Enabled: true})
	require.NoError(t, err)

	local, ok := e.(*Local)
	require.True(t, ok)
	assert.Equal(t, settings.LocalEmbedDimensions, local.Dimensions())
	assert.Equal(t, settings.LocalEmbedModel, local.Model())
}

func TestNewLocalHonorsDimensions(t *testing.T) {
	e, err := New(&settings.SmartRoutingConfig{
		Provider:   settings.EmbedProviderLocal,
		Dimensions: 128,
	})
	require.NoError(t, err)
	assert.Equal(t, 128, e.Dimensions())
}

func TestNewOpenAIProviderNeedsKey(t *testing.T) {
	t.Setenv("MCPHUB_TEST_FACTORY_KEY", "")

	_, err := New(&settings.SmartRoutingConfig{
		Provider:  settings.EmbedProviderOpenAI,
		APIKeyEnv: "MCPHUB_TEST_FACTORY_KEY",
	})
	require.Error(t, err)
	assert.Equal(t, mcperr.KindConfiguration, mcperr.KindOf(err))
}

func TestNewRejectsUnknownProvider(t *testing.T) {
	_, err := New(&settings.SmartRoutingConfig{Provider: "milvus"})
	require.Error(t, err)
	assert.Equal(t, mcperr.KindConfiguration, mcperr.KindOf(err))
	assert.Contains(t, err.Error(), "milvus")
}
