package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/haasonsaas/rapport/internal/errs"
)

// OllamaConfig points the provider at a local Ollama server.
type OllamaConfig struct {
	BaseURL string // Default: http://localhost:11434
	Model   string // nomic-embed-text, mxbai-embed-large
}

// OllamaProvider embeds through a local Ollama server. Construction
// never fails; the server is only contacted per call.
type OllamaProvider struct {
	baseURL string
	model   string
	client  *http.Client
}

var _ Provider = (*OllamaProvider)(nil)

// NewOllama creates an Ollama embedding provider with defaults applied.
func NewOllama(cfg OllamaConfig) *OllamaProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:11434"
	}
	if cfg.Model == "" {
		cfg.Model = "nomic-embed-text"
	}
	return &OllamaProvider{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		model:   cfg.Model,
		client:  &http.Client{Timeout: 60 * time.Second},
	}
}

// Name returns the provider name.
func (p *OllamaProvider) Name() string {
	return "ollama"
}

// Dimension reports the vector width of the configured model.
func (p *OllamaProvider) Dimension() int {
	switch p.model {
	case "nomic-embed-text":
		return 768
	case "mxbai-embed-large":
		return 1024
	case "all-minilm":
		return 384
	default:
		return 768
	}
}

// MaxBatchSize bounds one EmbedBatch slice. The API takes a single
// prompt per request, so batches turn into serial calls.
func (p *OllamaProvider) MaxBatchSize() int {
	return 100
}

// Embed generates an embedding for one text.
func (p *OllamaProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	const op = "embeddings.ollama"

	body, err := json.Marshal(ollamaEmbeddingRequest{Model: p.model, Prompt: text})
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, op, fmt.Errorf("marshal request: %w", err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, op, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, errs.Wrap(errs.Classify(err), op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody, readErr := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		if readErr != nil {
			statusErr := fmt.Errorf("ollama status %d (read body failed: %w)", resp.StatusCode, readErr)
			return nil, errs.Wrap(errs.Classify(statusErr), op, statusErr)
		}
		statusErr := fmt.Errorf("ollama status %d: %s", resp.StatusCode, strings.TrimSpace(string(errBody)))
		return nil, errs.Wrap(errs.Classify(statusErr), op, statusErr)
	}

	var result ollamaEmbeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, errs.Wrap(errs.KindUnavailable, op, fmt.Errorf("decode response: %w", err))
	}
	if len(result.Embedding) == 0 {
		return nil, errs.E(errs.KindUnavailable, op, "empty embedding returned")
	}
	return result.Embedding, nil
}

// EmbedBatch embeds each text with one request apiece.
func (p *OllamaProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := p.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("embed text %d: %w", i, err)
		}
		vectors[i] = vec
	}
	return vectors, nil
}

type ollamaEmbeddingRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbeddingResponse struct {
	Embedding []float32 `json:"embedding"`
}
