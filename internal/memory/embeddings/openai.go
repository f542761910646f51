package embeddings

import (
	"context"

	"github.com/haasonsaas/rapport/internal/errs"
	openai "github.com/sashabaranov/go-openai"
)

// OpenAIConfig configures the hosted OpenAI embedding provider.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string // Optional custom base URL
	Model   string // text-embedding-3-small or text-embedding-3-large
}

// OpenAIProvider embeds through OpenAI's embeddings endpoint.
type OpenAIProvider struct {
	client *openai.Client
	model  string
}

var _ Provider = (*OpenAIProvider)(nil)

// NewOpenAI creates an OpenAI embedding provider.
func NewOpenAI(cfg OpenAIConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, errs.E(errs.KindInvalidArgument, "embeddings.openai", "API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "text-embedding-3-small"
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &OpenAIProvider{
		client: openai.NewClientWithConfig(clientCfg),
		model:  cfg.Model,
	}, nil
}

// Name returns the provider name.
func (p *OpenAIProvider) Name() string {
	return "openai"
}

// Dimension reports the vector width of the configured model.
func (p *OpenAIProvider) Dimension() int {
	switch p.model {
	case "text-embedding-3-large":
		return 3072
	case "text-embedding-3-small", "text-embedding-ada-002":
		return 1536
	default:
		return 1536
	}
}

// MaxBatchSize bounds one request; EmbedBatch splits larger slices.
func (p *OpenAIProvider) MaxBatchSize() int {
	return 2048
}

// Embed generates an embedding for one text.
func (p *OpenAIProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, errs.E(errs.KindUnavailable, "embeddings.openai", "no embedding returned")
	}
	return vectors[0], nil
}

// EmbedBatch embeds texts in request-sized chunks. Results keep input
// order even when the API reorders data entries.
func (p *OpenAIProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	const op = "embeddings.openai"
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += p.MaxBatchSize() {
		end := start + p.MaxBatchSize()
		if end > len(texts) {
			end = len(texts)
		}

		resp, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Input: texts[start:end],
			Model: openai.EmbeddingModel(p.model),
		})
		if err != nil {
			return nil, errs.Wrap(errs.Classify(err), op, err)
		}
		if len(resp.Data) != end-start {
			return nil, errs.Errorf(errs.KindUnavailable, op,
				"got %d embeddings for %d inputs", len(resp.Data), end-start)
		}

		chunk := make([][]float32, end-start)
		for _, data := range resp.Data {
			if data.Index < 0 || data.Index >= len(chunk) {
				return nil, errs.Errorf(errs.KindUnavailable, op,
					"embedding index %d out of range", data.Index)
			}
			chunk[data.Index] = data.Embedding
		}
		out = append(out, chunk...)
	}
	return out, nil
}
