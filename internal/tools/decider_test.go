package tools

import (
	"context"
	"strings"
	"testing"

	"github.com/haasonsaas/rapport/internal/llm/llmtest"
)

func TestRuleDeciderTriggers(t *testing.T) {
	r := NewRegistry(nil)
	if err := r.RegisterAll("builtin",
		&fakeTool{name: "weather", version: "1.0.0", triggers: []string{"weather"}},
	); err != nil {
		t.Fatalf("RegisterAll() error = %v", err)
	}
	d := NewRuleDecider(r, 0, nil)

	dec, err := d.Decide(context.Background(), "what's the weather in Berlin?", nil)
	if err != nil {
		t.Fatalf("Decide() error = %v", err)
	}
	if !dec.UseTool || dec.Tool != "weather" {
		t.Fatalf("Decide() = %+v, want weather", dec)
	}
	args, ok := dec.Args.(map[string]any)
	if !ok || args["input"] != "what's the weather in Berlin?" {
		t.Fatalf("Args = %v", dec.Args)
	}
}

func TestRuleDeciderGates(t *testing.T) {
	r := NewRegistry(nil)
	if err := r.Register("builtin", &fakeTool{name: "weather", version: "1.0.0", triggers: []string{"hi"}}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	d := NewRuleDecider(r, 6, nil)

	// Too short, even though the trigger substring matches.
	dec, err := d.Decide(context.Background(), "hi", nil)
	if err != nil {
		t.Fatalf("Decide() error = %v", err)
	}
	if dec.UseTool {
		t.Fatalf("Decide(short) = %+v, want no tool", dec)
	}

	// Greetings never trigger tools regardless of length.
	dec, err = d.Decide(context.Background(), "Good Morning", nil)
	if err != nil {
		t.Fatalf("Decide() error = %v", err)
	}
	if dec.UseTool {
		t.Fatalf("Decide(greeting) = %+v, want no tool", dec)
	}

	// Nothing registered claims this one.
	dec, err = d.Decide(context.Background(), "tell me about black holes", nil)
	if err != nil {
		t.Fatalf("Decide() error = %v", err)
	}
	if dec.UseTool {
		t.Fatalf("Decide(no match) = %+v, want no tool", dec)
	}
}

func TestDeciderHintsBypassGates(t *testing.T) {
	r := NewRegistry(nil)
	d := NewRuleDecider(r, 6, nil)

	hints := map[string]any{
		"tool":         "calculator",
		"tool_version": "2.0.0",
		"tool_args":    map[string]any{"expression": "1+1"},
	}
	dec, err := d.Decide(context.Background(), "x", hints)
	if err != nil {
		t.Fatalf("Decide() error = %v", err)
	}
	if !dec.UseTool || dec.Tool != "calculator" || dec.Version != "2.0.0" {
		t.Fatalf("Decide() = %+v", dec)
	}
	args, _ := dec.Args.(map[string]any)
	if args["expression"] != "1+1" {
		t.Fatalf("Args = %v", dec.Args)
	}
}

func TestModelDeciderParsesVerdict(t *testing.T) {
	r := NewRegistry(nil)
	if err := r.Register("builtin", &fakeTool{name: "calculator", version: "2.0.0"}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	client := llmtest.NewScriptedClient(
		`{"should_use_tool": true, "tool_name": "calculator", "tool_args": {"expression": "12*12"}, "reasoning": "arithmetic question"}`,
	)
	d := NewModelDecider(client, "test-model", r, nil)

	dec, err := d.Decide(context.Background(), "what is 12*12?", nil)
	if err != nil {
		t.Fatalf("Decide() error = %v", err)
	}
	if !dec.UseTool || dec.Tool != "calculator" {
		t.Fatalf("Decide() = %+v", dec)
	}
	args, _ := dec.Args.(map[string]any)
	if args["expression"] != "12*12" {
		t.Fatalf("Args = %v", dec.Args)
	}
	if dec.Reasoning != "arithmetic question" {
		t.Fatalf("Reasoning = %q", dec.Reasoning)
	}

	req := client.LastRequest()
	if req == nil || !strings.Contains(req.System, "calculator") {
		t.Fatalf("decision prompt missing catalog: %+v", req)
	}
	if len(req.Messages) != 1 || req.Messages[0].Content != "what is 12*12?" {
		t.Fatalf("request messages = %+v", req.Messages)
	}
}

func TestModelDeciderToleratesProse(t *testing.T) {
	r := NewRegistry(nil)
	if err := r.Register("builtin", &fakeTool{name: "calculator", version: "2.0.0"}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	client := llmtest.NewScriptedClient(
		"Sure! Here is my verdict:\n```json\n{\"should_use_tool\": false, \"reasoning\": \"chit-chat\"}\n```",
	)
	d := NewModelDecider(client, "test-model", r, nil)

	dec, err := d.Decide(context.Background(), "how was your day?", nil)
	if err != nil {
		t.Fatalf("Decide() error = %v", err)
	}
	if dec.UseTool {
		t.Fatalf("Decide() = %+v, want no tool", dec)
	}
	if dec.Reasoning != "chit-chat" {
		t.Fatalf("Reasoning = %q", dec.Reasoning)
	}
}

func TestModelDeciderMalformedDefaultsToNoTool(t *testing.T) {
	r := NewRegistry(nil)
	if err := r.Register("builtin", &fakeTool{name: "calculator", version: "2.0.0"}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	client := llmtest.NewScriptedClient("I would rather not answer in JSON today.")
	d := NewModelDecider(client, "test-model", r, nil)

	dec, err := d.Decide(context.Background(), "what is 2+2?", nil)
	if err != nil {
		t.Fatalf("Decide() error = %v", err)
	}
	if dec.UseTool {
		t.Fatalf("Decide() = %+v, want no tool on malformed reply", dec)
	}
}

func TestModelDeciderEmptyCatalogSkipsModel(t *testing.T) {
	r := NewRegistry(nil)
	client := llmtest.NewScriptedClient(`{"should_use_tool": true, "tool_name": "ghost"}`)
	d := NewModelDecider(client, "test-model", r, nil)

	dec, err := d.Decide(context.Background(), "what is 2+2?", nil)
	if err != nil {
		t.Fatalf("Decide() error = %v", err)
	}
	if dec.UseTool {
		t.Fatalf("Decide() = %+v, want no tool", dec)
	}
	if client.CallCount() != 0 {
		t.Fatalf("CallCount() = %d, want 0 with empty catalog", client.CallCount())
	}
}

func TestParseModelDecision(t *testing.T) {
	if _, ok := parseModelDecision("no json here"); ok {
		t.Fatalf("parseModelDecision() accepted prose")
	}
	if _, ok := parseModelDecision("{broken"); ok {
		t.Fatalf("parseModelDecision() accepted unbalanced JSON")
	}
	parsed, ok := parseModelDecision(`prefix {"should_use_tool": true, "tool_name": "t"} suffix`)
	if !ok || !parsed.ShouldUseTool || parsed.ToolName != "t" {
		t.Fatalf("parseModelDecision() = %+v, %v", parsed, ok)
	}
}
