package contextproc

import (
	"log/slog"
	"strings"

	"github.com/rivo/uniseg"

	"github.com/haasonsaas/rapport/internal/llm"
)

// Mode says where the rendered context lands in the outgoing request.
type Mode string

const (
	// ModePrefix concatenates ahead of the prompt (the latest user
	// message).
	ModePrefix Mode = "prefix"
	// ModeSystem merges into the system prompt.
	ModeSystem Mode = "system"
	// ModeInline prepends a system-role message to the history.
	ModeInline Mode = "inline"
)

// Priority gates and places injection.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// defaultLowHistoryLimit is the history length at which low-priority
// injection stops.
const defaultLowHistoryLimit = 8

// ParseMode maps a config string to a Mode, defaulting to prefix.
func ParseMode(s string) Mode {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeSystem:
		return ModeSystem
	case ModeInline:
		return ModeInline
	default:
		return ModePrefix
	}
}

// ParsePriority maps a config string to a Priority, defaulting to
// medium.
func ParsePriority(s string) Priority {
	switch Priority(strings.ToLower(strings.TrimSpace(s))) {
	case PriorityLow:
		return PriorityLow
	case PriorityHigh:
		return PriorityHigh
	default:
		return PriorityMedium
	}
}

// InjectorConfig controls whether, how much, and where context lands.
type InjectorConfig struct {
	Enabled bool
	// MaxContextTokens caps the rendered prefix by grapheme count;
	// 0 means uncapped.
	MaxContextTokens int
	Priority         Priority
	// LowPriorityMaxHistory is the history length at which low
	// priority stops injecting. Defaults to 8 messages.
	LowPriorityMaxHistory int
	// LogUsage logs each injection with its grapheme count.
	LogUsage bool
}

// Injector places rendered context blocks into outgoing requests.
type Injector struct {
	cfg    InjectorConfig
	logger *slog.Logger
}

// NewInjector builds an injector; a zero config disables injection.
func NewInjector(cfg InjectorConfig, logger *slog.Logger) *Injector {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Priority == "" {
		cfg.Priority = PriorityMedium
	}
	if cfg.LowPriorityMaxHistory <= 0 {
		cfg.LowPriorityMaxHistory = defaultLowHistoryLimit
	}
	return &Injector{cfg: cfg, logger: logger.With("component", "contextproc")}
}

// Inject places prefix into req according to mode. High priority always
// lands ahead of the system prompt regardless of mode; low priority
// skips injection once the history is long. Reports whether anything
// was injected.
func (inj *Injector) Inject(req *llm.GenerateRequest, mode Mode, prefix string) bool {
	if req == nil {
		return false
	}
	capped, ok := inj.gate(prefix, len(req.Messages))
	if !ok {
		return false
	}

	if inj.cfg.Priority == PriorityHigh {
		req.System = joinBlocks(capped, req.System)
		return true
	}

	switch mode {
	case ModeSystem:
		req.System = joinBlocks(req.System, capped)
	case ModeInline:
		msgs := make([]llm.Message, 0, len(req.Messages)+1)
		msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: capped})
		msgs = append(msgs, req.Messages...)
		req.Messages = msgs
	default: // ModePrefix
		for i := len(req.Messages) - 1; i >= 0; i-- {
			if req.Messages[i].Role == llm.RoleUser {
				req.Messages[i].Content = joinBlocks(capped, req.Messages[i].Content)
				return true
			}
		}
		// No user message to prefix; the system prompt is the next
		// best anchor.
		req.System = joinBlocks(req.System, capped)
	}
	return true
}

// gate applies the enable flag, the low-priority history limit, and the
// grapheme cap.
func (inj *Injector) gate(prefix string, historyLen int) (string, bool) {
	if !inj.cfg.Enabled || strings.TrimSpace(prefix) == "" {
		return "", false
	}
	if inj.cfg.Priority == PriorityLow && historyLen >= inj.cfg.LowPriorityMaxHistory {
		inj.logger.Debug("context injection skipped at low priority", "history_len", historyLen)
		return "", false
	}
	capped := capGraphemes(prefix, inj.cfg.MaxContextTokens)
	if inj.cfg.LogUsage {
		inj.logger.Info("context injected",
			"graphemes", uniseg.GraphemeClusterCount(capped),
			"truncated", len(capped) < len(prefix))
	}
	return capped, true
}

func joinBlocks(a, b string) string {
	if a == "" {
		return b
	}
	if b == "" {
		return a
	}
	return a + "\n\n" + b
}
