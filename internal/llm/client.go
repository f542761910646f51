// Package llm contains chat model client implementations.
//
// Each client wraps one provider SDK behind the Client interface: a single
// non-streaming Generate call that takes a system prompt plus a message
// history and returns the assistant text with token usage. Provider errors
// are classified onto the errs taxonomy so callers can branch on kind.
package llm

import (
	"context"
	"fmt"
	"strings"
)

// Role identifies who authored a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single entry in the chat history sent to a model.
type Message struct {
	Role    Role
	Content string
}

// GenerateRequest describes one chat completion call.
type GenerateRequest struct {
	// Model overrides the client's default model when non-empty.
	Model string

	// System is the system prompt, kept separate from Messages because
	// providers disagree on where it goes.
	System string

	// Messages is the conversation history, oldest first.
	Messages []Message

	// Temperature is passed through when > 0; zero means provider default.
	Temperature float64

	// MaxTokens caps the completion length when > 0.
	MaxTokens int

	// Stop lists sequences that end generation early.
	Stop []string
}

// Usage reports token consumption for a single request.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// GenerateResult is the model's reply.
type GenerateResult struct {
	Text  string
	Model string
	Usage Usage
}

// Client is a chat model client. Implementations are safe for concurrent
// use; each Generate call is independent.
type Client interface {
	// Generate sends the request and blocks until the full reply arrives.
	Generate(ctx context.Context, req *GenerateRequest) (*GenerateResult, error)

	// Name returns the stable lowercase provider identifier.
	Name() string
}

// Config selects and configures a chat client.
type Config struct {
	Provider string
	Model    string
	APIKey   string
	BaseURL  string
}

// New builds the chat client named by cfg.Provider.
func New(cfg Config) (Client, error) {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	switch provider {
	case "", "anthropic":
		return NewAnthropicClient(AnthropicConfig{
			APIKey:       cfg.APIKey,
			BaseURL:      cfg.BaseURL,
			DefaultModel: cfg.Model,
		})
	case "openai":
		return NewOpenAIClient(OpenAIConfig{
			APIKey:       cfg.APIKey,
			BaseURL:      cfg.BaseURL,
			DefaultModel: cfg.Model,
		})
	case "google", "gemini":
		return NewGeminiClient(GeminiConfig{
			APIKey:       cfg.APIKey,
			DefaultModel: cfg.Model,
		})
	case "ollama":
		return NewOllamaClient(OllamaConfig{
			BaseURL:      cfg.BaseURL,
			DefaultModel: cfg.Model,
		}), nil
	default:
		return nil, fmt.Errorf("unsupported provider %q", cfg.Provider)
	}
}
