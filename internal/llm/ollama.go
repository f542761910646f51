package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/haasonsaas/rapport/internal/errs"
)

// OllamaConfig configures the Ollama client.
type OllamaConfig struct {
	BaseURL      string
	DefaultModel string
	Timeout      time.Duration
}

// OllamaClient implements Client over Ollama's local chat API.
type OllamaClient struct {
	client       *http.Client
	baseURL      string
	defaultModel string
}

var _ Client = (*OllamaClient)(nil)

// NewOllamaClient creates an Ollama-backed chat client.
func NewOllamaClient(cfg OllamaConfig) *OllamaClient {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	model := strings.TrimSpace(cfg.DefaultModel)
	if model == "" {
		model = "llama3"
	}
	return &OllamaClient{
		client:       &http.Client{Timeout: timeout},
		baseURL:      baseURL,
		defaultModel: model,
	}
}

// Name returns the provider identifier.
func (c *OllamaClient) Name() string {
	return "ollama"
}

// Generate sends a non-streaming chat request to Ollama.
func (c *OllamaClient) Generate(ctx context.Context, req *GenerateRequest) (*GenerateResult, error) {
	if req == nil {
		return nil, errs.E(errs.KindInvalidArgument, "llm.ollama", "request is nil")
	}

	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = c.defaultModel
	}

	payload := ollamaChatRequest{
		Model:    model,
		Stream:   false,
		Messages: buildOllamaMessages(req),
	}
	options := map[string]any{}
	if req.MaxTokens > 0 {
		options["num_predict"] = req.MaxTokens
	}
	if req.Temperature > 0 {
		options["temperature"] = req.Temperature
	}
	if len(req.Stop) > 0 {
		options["stop"] = req.Stop
	}
	if len(options) > 0 {
		payload.Options = options
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, "llm.ollama.generate", fmt.Errorf("marshal request: %w", err))
	}

	url := c.baseURL + "/api/chat"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, "llm.ollama.generate", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, errs.Wrap(errs.Classify(err), "llm.ollama.generate", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		errBody, readErr := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
		if readErr != nil {
			statusErr := fmt.Errorf("ollama status %d (read body failed: %w)", resp.StatusCode, readErr)
			return nil, errs.Wrap(errs.Classify(statusErr), "llm.ollama.generate", statusErr)
		}
		statusErr := fmt.Errorf("ollama status %d: %s", resp.StatusCode, strings.TrimSpace(string(errBody)))
		return nil, errs.Wrap(errs.Classify(statusErr), "llm.ollama.generate", statusErr)
	}

	var chatResp ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return nil, errs.Wrap(errs.KindUnavailable, "llm.ollama.generate", fmt.Errorf("decode response: %w", err))
	}
	if chatResp.Error != "" {
		apiErr := errors.New(chatResp.Error)
		return nil, errs.Wrap(errs.Classify(apiErr), "llm.ollama.generate", apiErr)
	}

	var text string
	if chatResp.Message != nil {
		text = chatResp.Message.Content
	}

	return &GenerateResult{
		Text:  text,
		Model: model,
		Usage: Usage{
			InputTokens:  chatResp.PromptEvalCount,
			OutputTokens: chatResp.EvalCount,
		},
	}, nil
}

type ollamaChatRequest struct {
	Model    string              `json:"model"`
	Messages []ollamaChatMessage `json:"messages"`
	Stream   bool                `json:"stream"`
	Options  map[string]any      `json:"options,omitempty"`
}

type ollamaChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatResponse struct {
	Message         *ollamaChatMessage `json:"message"`
	Done            bool               `json:"done"`
	Error           string             `json:"error"`
	EvalCount       int                `json:"eval_count"`
	PromptEvalCount int                `json:"prompt_eval_count"`
}

func buildOllamaMessages(req *GenerateRequest) []ollamaChatMessage {
	messages := make([]ollamaChatMessage, 0, len(req.Messages)+1)
	if system := strings.TrimSpace(req.System); system != "" {
		messages = append(messages, ollamaChatMessage{Role: "system", Content: system})
	}
	for _, msg := range req.Messages {
		role := string(msg.Role)
		if role == "" {
			role = "user"
		}
		messages = append(messages, ollamaChatMessage{Role: role, Content: msg.Content})
	}
	return messages
}
