// Package dialogue owns the per-utterance control flow: resolving the
// session, advancing the turn state machine, assembling model context,
// driving the tool loop, and notifying the relationship engine.
//
// Process is the single entry point. Turns within one session are
// serialized by a refcounted per-session lock; separate sessions run
// fully in parallel. A turn that fails after it exists is still
// persisted with a response message carrying a user-facing summary, so
// the session transcript stays linear.
package dialogue

import (
	"github.com/haasonsaas/rapport/internal/contextproc"
	"github.com/haasonsaas/rapport/pkg/models"
)

// DefaultAssistantID names the built-in assistant party when a session
// is created implicitly.
const DefaultAssistantID = "assistant"

// defaultAffectiveTokens mirrors the configuration default so a zero
// config still detects emotional resonance.
var defaultAffectiveTokens = []string{
	"thank", "thanks", "appreciate", "love", "happy",
	"wonderful", "amazing", "great", "glad",
}

// Config tunes the dialogue pipeline.
type Config struct {
	// SystemPrompt is the base system block for every model call.
	SystemPrompt string

	// AssistantID identifies the implicit assistant participant.
	// Defaults to "assistant".
	AssistantID string

	// HistoryLimit is how many prior messages enter the model context.
	// Defaults to 16.
	HistoryLimit int

	// MaxToolCalls caps tool invocations per turn. Defaults to 3.
	MaxToolCalls int

	// RetryAttempts is how many extra attempts a transient model
	// failure gets. Defaults to 2; negative disables retries.
	RetryAttempts int

	// AffectiveTokens mark a reply as emotionally resonant when any of
	// them appears, matched case-insensitively.
	AffectiveTokens []string

	// InjectMode says where rendered side-channel context lands.
	// Defaults to prefix.
	InjectMode contextproc.Mode

	// Model, Temperature, and MaxTokens pass through to the client.
	// MaxTokens defaults to 1024.
	Model       string
	Temperature float64
	MaxTokens   int
}

func sanitizeConfig(cfg Config) Config {
	if cfg.AssistantID == "" {
		cfg.AssistantID = DefaultAssistantID
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 16
	}
	if cfg.MaxToolCalls <= 0 {
		cfg.MaxToolCalls = 3
	}
	if cfg.RetryAttempts < 0 {
		cfg.RetryAttempts = 0
	} else if cfg.RetryAttempts == 0 {
		cfg.RetryAttempts = 2
	}
	if len(cfg.AffectiveTokens) == 0 {
		cfg.AffectiveTokens = defaultAffectiveTokens
	}
	if cfg.InjectMode == "" {
		cfg.InjectMode = contextproc.ModePrefix
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1024
	}
	return cfg
}

// ProcessRequest is one inbound utterance.
type ProcessRequest struct {
	// SessionID targets an existing session; empty creates one.
	SessionID string

	// UserID identifies the speaker. Required.
	UserID string

	// Content is the utterance. Required.
	Content string

	// ContentKind tags the content; empty means text.
	ContentKind models.MessageKind

	// SideChannel carries structured context for injection plus the
	// tool-hint keys (tool, tool_version, tool_args).
	SideChannel map[string]any
}

// ProcessResult is the reply plus the identifiers a transport needs to
// follow up.
type ProcessResult struct {
	SessionID   string
	TurnID      string
	ReplyText   string
	ReplyTags   map[string]any
	ToolResults []ToolResult
}

// ToolResult summarizes one invocation for the caller.
type ToolResult struct {
	Tool    string `json:"tool"`
	Version string `json:"version,omitempty"`
	Status  string `json:"status"`
	Result  string `json:"result,omitempty"`
	Error   string `json:"error,omitempty"`
}
