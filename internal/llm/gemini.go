package llm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"google.golang.org/genai"

	"github.com/haasonsaas/rapport/internal/errs"
)

// GeminiConfig configures the Gemini client.
type GeminiConfig struct {
	APIKey       string
	DefaultModel string
}

// GeminiClient implements Client over the Google Gen AI SDK.
type GeminiClient struct {
	client       *genai.Client
	defaultModel string
}

var _ Client = (*GeminiClient)(nil)

// NewGeminiClient creates a Gemini-backed chat client.
func NewGeminiClient(cfg GeminiConfig) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini: API key is required")
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "gemini-2.0-flash"
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: failed to create client: %w", err)
	}

	return &GeminiClient{
		client:       client,
		defaultModel: cfg.DefaultModel,
	}, nil
}

// Name returns the provider identifier.
func (c *GeminiClient) Name() string {
	return "gemini"
}

// Generate sends a non-streaming content generation request.
func (c *GeminiClient) Generate(ctx context.Context, req *GenerateRequest) (*GenerateResult, error) {
	if req == nil {
		return nil, errs.E(errs.KindInvalidArgument, "llm.gemini", "request is nil")
	}

	model := req.Model
	if model == "" {
		model = c.defaultModel
	}

	contents := make([]*genai.Content, 0, len(req.Messages))
	for _, msg := range req.Messages {
		role := genai.RoleUser
		if msg.Role == RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, &genai.Content{
			Role:  role,
			Parts: []*genai.Part{{Text: msg.Content}},
		})
	}

	config := &genai.GenerateContentConfig{}
	if req.System != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: req.System}},
		}
	}
	if req.MaxTokens > 0 {
		maxTokens := min(req.MaxTokens, math.MaxInt32)
		// #nosec G115 -- bounded by min above
		config.MaxOutputTokens = int32(maxTokens)
	}
	if req.Temperature > 0 {
		temp := float32(req.Temperature)
		config.Temperature = &temp
	}
	if len(req.Stop) > 0 {
		config.StopSequences = req.Stop
	}

	resp, err := c.client.Models.GenerateContent(ctx, model, contents, config)
	if err != nil {
		return nil, errs.Wrap(errs.Classify(err), "llm.gemini.generate", err)
	}

	var text strings.Builder
	if len(resp.Candidates) > 0 {
		candidate := resp.Candidates[0]
		if candidate != nil && candidate.Content != nil {
			for _, part := range candidate.Content.Parts {
				if part != nil && part.Text != "" {
					text.WriteString(part.Text)
				}
			}
		}
	}

	result := &GenerateResult{
		Text:  text.String(),
		Model: model,
	}
	if resp.UsageMetadata != nil {
		result.Usage = Usage{
			InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
		}
	}
	return result, nil
}
