// Package llmtest provides scripted in-memory fakes for the model client
// and embedding provider interfaces. Tests use them to drive dialogue and
// memory paths deterministically without network access.
package llmtest

import (
	"context"
	"hash/fnv"
	"strings"
	"sync"

	"github.com/haasonsaas/rapport/internal/llm"
	"github.com/haasonsaas/rapport/internal/memory/embeddings"
)

var (
	_ llm.Client          = (*ScriptedClient)(nil)
	_ embeddings.Provider = (*HashEmbedder)(nil)
)

// ScriptedClient replays a fixed sequence of replies. Once the script is
// exhausted it keeps returning the final reply, so loops that call the
// model more times than scripted still terminate with stable output.
type ScriptedClient struct {
	mu       sync.Mutex
	replies  []string
	index    int
	requests []*llm.GenerateRequest

	// Err, when set, makes every Generate call fail with it.
	Err error
}

// NewScriptedClient creates a client that returns the given replies in order.
func NewScriptedClient(replies ...string) *ScriptedClient {
	return &ScriptedClient{replies: replies}
}

// Name implements llm.Client.
func (c *ScriptedClient) Name() string { return "scripted" }

// Generate records the request and returns the next scripted reply.
func (c *ScriptedClient) Generate(ctx context.Context, req *llm.GenerateRequest) (*llm.GenerateResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.requests = append(c.requests, req)
	if c.Err != nil {
		return nil, c.Err
	}

	var reply string
	if len(c.replies) > 0 {
		reply = c.replies[c.index]
		if c.index < len(c.replies)-1 {
			c.index++
		}
	}

	var input int
	for _, m := range req.Messages {
		input += len(m.Content)
	}

	return &llm.GenerateResult{
		Text:  reply,
		Model: "scripted",
		Usage: llm.Usage{InputTokens: input, OutputTokens: len(reply)},
	}, nil
}

// CallCount reports how many times Generate was invoked.
func (c *ScriptedClient) CallCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.requests)
}

// Requests returns a copy of every recorded request, in call order.
func (c *ScriptedClient) Requests() []*llm.GenerateRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*llm.GenerateRequest, len(c.requests))
	copy(out, c.requests)
	return out
}

// LastRequest returns the most recent recorded request, or nil.
func (c *ScriptedClient) LastRequest() *llm.GenerateRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.requests) == 0 {
		return nil
	}
	return c.requests[len(c.requests)-1]
}

// HashEmbedder is a deterministic embedding provider. Each lowercase token
// bumps one bucket of the vector, so texts sharing words score higher cosine
// similarity than unrelated texts. That is enough signal for ranking tests.
type HashEmbedder struct {
	// Dim is the vector width; zero means 64.
	Dim int

	// Err, when set, makes every Embed call fail with it.
	Err error

	mu    sync.Mutex
	calls int
}

// Name implements embeddings.Provider.
func (e *HashEmbedder) Name() string { return "hash" }

// Dimension implements embeddings.Provider.
func (e *HashEmbedder) Dimension() int {
	if e.Dim > 0 {
		return e.Dim
	}
	return 64
}

// MaxBatchSize implements embeddings.Provider.
func (e *HashEmbedder) MaxBatchSize() int { return 100 }

// Calls reports how many embeddings were computed (batch items count
// individually).
func (e *HashEmbedder) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

// Embed hashes each token into a bucket and returns the resulting vector.
func (e *HashEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.calls++
	err := e.Err
	e.mu.Unlock()
	if err != nil {
		return nil, err
	}

	dim := e.Dimension()
	vec := make([]float32, dim)
	for _, token := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(token))
		vec[int(h.Sum32())%dim]++
	}
	return vec, nil
}

// EmbedBatch embeds each text serially.
func (e *HashEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		vectors[i] = vec
	}
	return vectors, nil
}
