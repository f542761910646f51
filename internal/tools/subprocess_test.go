package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/haasonsaas/rapport/pkg/toolsdk"
)

func testManifest() *Manifest {
	return &Manifest{
		Name:          "weather",
		Version:       "1.0.0",
		MinCompatible: "1.0.0",
		Description:   "Fetches a forecast.",
		Triggers:      []string{"weather"},
		Command:       []string{"./weather-tool", "--quiet"},
	}
}

func TestSubprocessToolInvoke(t *testing.T) {
	tool := NewSubprocessTool(testManifest(), "/srv/tools/weather")

	var gotArgv []string
	var gotDir string
	tool.run = func(ctx context.Context, argv []string, dir string) ([]byte, error) {
		gotArgv = argv
		gotDir = dir
		resp := toolsdk.InvokeResponse{Result: &toolsdk.Result{Content: "sunny, 21C"}}
		return json.Marshal(resp)
	}

	got, err := tool.Invoke(context.Background(), map[string]any{"city": "Berlin"})
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if got != "sunny, 21C" {
		t.Fatalf("Invoke() = %q", got)
	}
	if gotDir != "/srv/tools/weather" {
		t.Fatalf("dir = %q", gotDir)
	}

	want := []string{"./weather-tool", "--quiet", "invoke", "-tool", "weather", "-version", "1.0.0", "-args", `{"city":"Berlin"}`}
	if len(gotArgv) != len(want) {
		t.Fatalf("argv = %v, want %v", gotArgv, want)
	}
	for i := range want {
		if gotArgv[i] != want[i] {
			t.Fatalf("argv[%d] = %q, want %q", i, gotArgv[i], want[i])
		}
	}
}

func TestSubprocessToolInvokeFailures(t *testing.T) {
	tool := NewSubprocessTool(testManifest(), ".")

	tool.run = func(ctx context.Context, argv []string, dir string) ([]byte, error) {
		return json.Marshal(toolsdk.InvokeResponse{Error: "unknown tool"})
	}
	if _, err := tool.Invoke(context.Background(), nil); err == nil || err.Error() != "unknown tool" {
		t.Fatalf("Invoke() error = %v, want protocol error", err)
	}

	tool.run = func(ctx context.Context, argv []string, dir string) ([]byte, error) {
		return json.Marshal(toolsdk.InvokeResponse{Result: &toolsdk.Result{Content: "city is required", IsError: true}})
	}
	if _, err := tool.Invoke(context.Background(), nil); err == nil || err.Error() != "city is required" {
		t.Fatalf("Invoke() error = %v, want tool error content", err)
	}

	tool.run = func(ctx context.Context, argv []string, dir string) ([]byte, error) {
		return []byte("segfault gibberish"), nil
	}
	if _, err := tool.Invoke(context.Background(), nil); err == nil {
		t.Fatalf("Invoke() error = nil, want decode failure")
	}

	tool.run = func(ctx context.Context, argv []string, dir string) ([]byte, error) {
		return []byte("{}"), nil
	}
	if _, err := tool.Invoke(context.Background(), nil); err == nil {
		t.Fatalf("Invoke() error = nil, want missing result")
	}

	tool.run = func(ctx context.Context, argv []string, dir string) ([]byte, error) {
		return nil, fmt.Errorf("exec: not found")
	}
	if _, err := tool.Invoke(context.Background(), nil); err == nil {
		t.Fatalf("Invoke() error = nil, want runner failure")
	}
}

func TestSubprocessToolTimeout(t *testing.T) {
	m := testManifest()
	m.TimeoutMS = 50
	tool := NewSubprocessTool(m, ".")

	tool.run = func(ctx context.Context, argv []string, dir string) ([]byte, error) {
		deadline, ok := ctx.Deadline()
		if !ok {
			return nil, fmt.Errorf("no deadline set")
		}
		if until := time.Until(deadline); until > 60*time.Millisecond {
			return nil, fmt.Errorf("deadline too far: %v", until)
		}
		return json.Marshal(toolsdk.InvokeResponse{Result: &toolsdk.Result{Content: "ok"}})
	}
	if _, err := tool.Invoke(context.Background(), nil); err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
}

func TestSubprocessToolMetadata(t *testing.T) {
	m := testManifest()
	m.Status = string(StatusDeprecated)
	tool := NewSubprocessTool(m, ".")

	if tool.Name() != "weather" || tool.Version() != "1.0.0" || tool.MinCompatible() != "1.0.0" {
		t.Fatalf("metadata = %s %s %s", tool.Name(), tool.Version(), tool.MinCompatible())
	}
	if mods := tool.Modalities(); len(mods) != 1 || mods[0] != ModalityText {
		t.Fatalf("Modalities() = %v, want text fallback", mods)
	}
	deprecated, note := tool.Deprecated()
	if !deprecated || note == "" {
		t.Fatalf("Deprecated() = %v, %q", deprecated, note)
	}

	if !tool.Triggers("what's the weather like") {
		t.Fatalf("Triggers() = false, want trigger hit")
	}
	if tool.Triggers("tell me a story") {
		t.Fatalf("Triggers() = true, want no hit")
	}
}

func TestSubprocessToolDescribeCommand(t *testing.T) {
	tool := NewSubprocessTool(testManifest(), ".")
	tool.run = func(ctx context.Context, argv []string, dir string) ([]byte, error) {
		if argv[len(argv)-1] != "describe" {
			return nil, fmt.Errorf("argv = %v", argv)
		}
		return json.Marshal(toolsdk.DescribeResponse{Tools: []toolsdk.Definition{
			{Name: "weather", Version: "1.0.0"},
			{Name: "weather", Version: "2.0.0"},
		}})
	}

	defs, err := tool.DescribeCommand(context.Background())
	if err != nil {
		t.Fatalf("DescribeCommand() error = %v", err)
	}
	if len(defs) != 2 || defs[1].Version != "2.0.0" {
		t.Fatalf("DescribeCommand() = %+v", defs)
	}
}
