package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/haasonsaas/rapport/internal/llm"
)

// Decision is the outcome of asking whether an utterance warrants a
// tool call. At most one tool per decision; chaining is the dialogue
// loop's job.
type Decision struct {
	UseTool   bool
	Tool      string
	Version   string
	Args      any
	Reasoning string
}

// Decider picks a tool (or declines) for an utterance. Hints carry
// structured side-channel data such as a forced tool choice.
type Decider interface {
	Decide(ctx context.Context, utterance string, hints map[string]any) (*Decision, error)
}

// Hint keys recognized by both deciders.
const (
	hintTool        = "tool"
	hintToolVersion = "tool_version"
	hintToolArgs    = "tool_args"
)

// decideFromHints honors an explicit tool choice in the hints bag.
func decideFromHints(hints map[string]any) *Decision {
	if hints == nil {
		return nil
	}
	name, _ := hints[hintTool].(string)
	name = strings.TrimSpace(name)
	if name == "" {
		return nil
	}
	d := &Decision{UseTool: true, Tool: name, Reasoning: "requested via side channel"}
	if v, ok := hints[hintToolVersion].(string); ok {
		d.Version = strings.TrimSpace(v)
	}
	if args, ok := hints[hintToolArgs]; ok {
		d.Args = args
	}
	return d
}

var greetings = map[string]struct{}{
	"hi":           {},
	"hello":        {},
	"hey":          {},
	"yo":           {},
	"good morning": {},
	"good evening": {},
	"good night":   {},
	"thanks":       {},
	"thank you":    {},
	"bye":          {},
	"goodbye":      {},
}

// RuleDecider gates tool use on utterance length and registered trigger
// predicates. Greetings never trigger tools.
type RuleDecider struct {
	registry  *Registry
	minLength int
	logger    *slog.Logger
}

// NewRuleDecider builds a rule decider; minLength <= 0 defaults to 6.
func NewRuleDecider(registry *Registry, minLength int, logger *slog.Logger) *RuleDecider {
	if minLength <= 0 {
		minLength = 6
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RuleDecider{registry: registry, minLength: minLength, logger: logger.With("component", "tools")}
}

// Decide selects the first registered tool whose trigger claims the
// utterance. Hints naming a tool bypass the gates.
func (d *RuleDecider) Decide(ctx context.Context, utterance string, hints map[string]any) (*Decision, error) {
	if forced := decideFromHints(hints); forced != nil {
		return forced, nil
	}

	folded := foldText(utterance)
	if utf8.RuneCountInString(folded) < d.minLength {
		return &Decision{Reasoning: "utterance below minimum length"}, nil
	}
	if _, ok := greetings[folded]; ok {
		return &Decision{Reasoning: "greeting"}, nil
	}

	hits := d.registry.Triggered(utterance)
	if len(hits) == 0 {
		return &Decision{Reasoning: "no trigger matched"}, nil
	}
	return &Decision{
		UseTool:   true,
		Tool:      hits[0],
		Args:      map[string]any{"input": strings.TrimSpace(utterance)},
		Reasoning: fmt.Sprintf("trigger matched %s", hits[0]),
	}, nil
}

// ModelDecider asks the model for a structured tool decision. Malformed
// responses default to no tool use.
type ModelDecider struct {
	client   llm.Client
	model    string
	registry *Registry
	logger   *slog.Logger
}

// NewModelDecider builds a model-backed decider.
func NewModelDecider(client llm.Client, model string, registry *Registry, logger *slog.Logger) *ModelDecider {
	if logger == nil {
		logger = slog.Default()
	}
	return &ModelDecider{client: client, model: model, registry: registry, logger: logger.With("component", "tools")}
}

const decisionPrompt = `You decide whether a tool should run for the user's message.
Available tools:
%s
Reply with JSON only, no prose:
{"should_use_tool": bool, "tool_name": string, "tool_args": object, "reasoning": string}`

// modelDecision mirrors the JSON contract the sub-prompt requests.
type modelDecision struct {
	ShouldUseTool bool           `json:"should_use_tool"`
	ToolName      string         `json:"tool_name"`
	ToolVersion   string         `json:"tool_version"`
	ToolArgs      map[string]any `json:"tool_args"`
	Reasoning     string         `json:"reasoning"`
}

// Decide sends the catalog and utterance to the model and parses its
// JSON verdict.
func (d *ModelDecider) Decide(ctx context.Context, utterance string, hints map[string]any) (*Decision, error) {
	if forced := decideFromHints(hints); forced != nil {
		return forced, nil
	}
	if strings.TrimSpace(utterance) == "" {
		return &Decision{Reasoning: "empty utterance"}, nil
	}

	catalog := d.renderCatalog()
	if catalog == "" {
		return &Decision{Reasoning: "no tools registered"}, nil
	}

	req := &llm.GenerateRequest{
		Model:  d.model,
		System: fmt.Sprintf(decisionPrompt, catalog),
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: utterance},
		},
		MaxTokens: 512,
	}
	result, err := d.client.Generate(ctx, req)
	if err != nil {
		return nil, err
	}

	parsed, ok := parseModelDecision(result.Text)
	if !ok {
		d.logger.Warn("tool decision unparseable, defaulting to no tool",
			"reply_bytes", len(result.Text))
		return &Decision{Reasoning: "decision response malformed"}, nil
	}
	if !parsed.ShouldUseTool || strings.TrimSpace(parsed.ToolName) == "" {
		return &Decision{Reasoning: parsed.Reasoning}, nil
	}
	return &Decision{
		UseTool:   true,
		Tool:      strings.TrimSpace(parsed.ToolName),
		Version:   strings.TrimSpace(parsed.ToolVersion),
		Args:      parsed.ToolArgs,
		Reasoning: parsed.Reasoning,
	}, nil
}

func (d *ModelDecider) renderCatalog() string {
	defs := d.registry.Definitions()
	if len(defs) == 0 {
		return ""
	}
	var b strings.Builder
	for _, def := range defs {
		fmt.Fprintf(&b, "- %s", def.Name)
		if def.Version != "" {
			fmt.Fprintf(&b, " (v%s)", def.Version)
		}
		if def.Description != "" {
			fmt.Fprintf(&b, ": %s", def.Description)
		}
		if def.Usage != "" {
			fmt.Fprintf(&b, " Usage: %s", def.Usage)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// parseModelDecision extracts the first JSON object from a model reply,
// tolerating code fences and surrounding prose.
func parseModelDecision(text string) (*modelDecision, bool) {
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end <= start {
		return nil, false
	}
	var parsed modelDecision
	if err := json.Unmarshal([]byte(text[start:end+1]), &parsed); err != nil {
		return nil, false
	}
	return &parsed, true
}
