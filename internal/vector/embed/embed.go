// Package embed turns tool descriptions and search queries into dense
// vectors. Two providers are available: a deterministic local trigram
// embedder that needs no network, and an adapter for OpenAI-compatible
// embeddings APIs.
package embed

import (
	"context"

	"github.com/ignitabull18/mcphub-ai-enhanced/internal/mcperr"
	"github.com/ignitabull18/mcphub-ai-enhanced/internal/settings"
)

// Embedder generates embeddings for a batch of texts. Implementations must
// return one vector per input text, in input order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float64, error)

	// Model identifies the embedding space. Vectors produced under a
	// different model name are not comparable and must be discarded.
	Model() string

	// Dimensions returns the fixed vector size, or 0 when the provider
	// decides and the first response fixes it.
	Dimensions() int
}

// New builds the Embedder selected by the smart-routing configuration.
func New(cfg *settings.SmartRoutingConfig) (Embedder, error) {
	if cfg == nil {
		return nil, mcperr.New(mcperr.KindConfiguration, "smart routing is not configured")
	}

	provider := cfg.Provider
	if provider == "" {
		provider = settings.EmbedProviderLocal
	}

	switch provider {
	case settings.EmbedProviderLocal:
		dim := cfg.Dimensions
		if dim <= 0 {
			dim = settings.LocalEmbedDimensions
		}
		return NewLocal(dim), nil
	case settings.EmbedProviderOpenAI:
		return NewOpenAI(cfg)
	default:
		return nil, mcperr.Newf(mcperr.KindConfiguration, "unknown embedding provider %q", provider)
	}
}
