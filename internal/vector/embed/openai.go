package embed

import (
	"context"
	"os"

	openai "github.com/sashabaranov/go-openai"

	"github.com/ignitabull18/mcphub-ai-enhanced/internal/mcperr"
	"github.com/ignitabull18/mcphub-ai-enhanced/internal/settings"
)

const defaultOpenAIModel = "text-embedding-3-small"

// EmbeddingsClient captures the subset of the go-openai client used here.
type EmbeddingsClient interface {
	CreateEmbeddings(ctx context.Context, conv openai.EmbeddingRequestConverter) (openai.EmbeddingResponse, error)
}

// OpenAI embeds text through an OpenAI-compatible embeddings endpoint.
type OpenAI struct {
	client EmbeddingsClient
	model  string
	dim    int
}

// NewOpenAI builds the adapter from the smart-routing configuration. The
// API key is read from the environment variable named by cfg.APIKeyEnv so
// secrets stay out of the config file.
func NewOpenAI(cfg *settings.SmartRoutingConfig) (*OpenAI, error) {
	keyEnv := cfg.APIKeyEnv
	if keyEnv == "" {
		keyEnv = "OPENAI_API_KEY"
	}
	apiKey := os.Getenv(keyEnv)
	if apiKey == "" {
		return nil, mcperr.Newf(mcperr.KindConfiguration,
			"embedding API key missing: set %s or switch smart_routing.provider to %q",
			keyEnv, settings.EmbedProviderLocal)
	}

	clientCfg := openai.DefaultConfig(apiKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	model := cfg.EmbedModel
	if model == "" {
		model = defaultOpenAIModel
	}

	return &OpenAI{
		client: openai.NewClientWithConfig(clientCfg),
		model:  model,
		dim:    cfg.Dimensions,
	}, nil
}

// NewOpenAIWithClient builds the adapter around an existing client.
func NewOpenAIWithClient(client EmbeddingsClient, model string, dim int) *OpenAI {
	if model == "" {
		model = defaultOpenAIModel
	}
	return &OpenAI{client: client, model: model, dim: dim}
}

// Model implements Embedder.
func (o *OpenAI) Model() string { return o.model }

// Dimensions implements Embedder.
func (o *OpenAI) Dimensions() int { return o.dim }

// Embed implements Embedder.
func (o *OpenAI) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	request := openai.EmbeddingRequestStrings{
		Input: texts,
		Model: openai.EmbeddingModel(o.model),
	}
	if o.dim > 0 {
		request.Dimensions = o.dim
	}

	resp, err := o.client.CreateEmbeddings(ctx, request)
	if err != nil {
		return nil, mcperr.Wrapf(mcperr.KindEmbedderUnavailable, err,
			"embeddings request for model %q", o.model)
	}
	if len(resp.Data) != len(texts) {
		return nil, mcperr.Newf(mcperr.KindEmbedderUnavailable,
			"embeddings response for model %q has %d vectors for %d inputs",
			o.model, len(resp.Data), len(texts))
	}

	vectors := make([][]float64, len(texts))
	for i, item := range resp.Data {
		idx := item.Index
		if idx < 0 || idx >= len(vectors) {
			idx = i
		}
		vec := make([]float64, len(item.Embedding))
		for j, v := range item.Embedding {
			vec[j] = float64(v)
		}
		vectors[idx] = vec
	}
	return vectors, nil
}
