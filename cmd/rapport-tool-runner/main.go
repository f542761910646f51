// rapport-tool-runner is a demo out-of-process tool binary.
//
// The engine discovers it through a *.tool.yaml manifest whose command
// points here, for example:
//
//	name: diary
//	version: 1.0.0
//	triggers: ["diary", "journal"]
//	command: ["rapport-tool-runner"]
//
// It speaks the toolsdk stdio protocol: `describe` prints the catalog,
// `invoke -tool NAME -args JSON` runs one tool.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rivo/uniseg"

	"github.com/haasonsaas/rapport/pkg/toolsdk"
)

func main() {
	os.Exit(newRuntime().Main(os.Args[1:]))
}

func newRuntime() *toolsdk.Runtime {
	rt := toolsdk.NewRuntime()
	mustRegister(rt, diaryDefinition(), handleDiary)
	mustRegister(rt, wordCountDefinition("1.0.0"), handleWordCount(false))
	mustRegister(rt, wordCountDefinition("1.1.0"), handleWordCount(true))
	return rt
}

func mustRegister(rt *toolsdk.Runtime, def toolsdk.Definition, handler toolsdk.Handler) {
	if err := rt.Register(def, handler); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

func diaryDefinition() toolsdk.Definition {
	return toolsdk.Definition{
		Name:        "diary",
		Version:     "1.0.0",
		Description: "Append a dated entry to the shared diary file",
		Usage:       `{"input": "what happened", "mood": "optional mood word"}`,
		Modalities:  []string{"text"},
		Triggers:    []string{"diary", "journal", "write this down"},
	}
}

type diaryArgs struct {
	Input string `json:"input"`
	Mood  string `json:"mood"`
}

// handleDiary appends the entry and reports a diary collaboration hint,
// which the engine folds into the pair's relationship record.
func handleDiary(ctx context.Context, raw json.RawMessage) (*toolsdk.Result, error) {
	var args diaryArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("decode args: %w", err)
	}
	text := strings.TrimSpace(args.Input)
	if text == "" {
		return &toolsdk.Result{Content: "nothing to record", IsError: true}, nil
	}

	path := diaryPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	now := time.Now().Format(time.RFC3339)
	header := now
	if mood := strings.TrimSpace(args.Mood); mood != "" {
		header += " (" + mood + ")"
	}
	if _, err := fmt.Fprintf(f, "## %s\n%s\n\n", header, text); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(map[string]any{
		"recorded":      true,
		"path":          path,
		"written_at":    now,
		"collaboration": map[string]any{"diary": 1},
	})
	if err != nil {
		return nil, err
	}
	return &toolsdk.Result{Content: string(payload)}, nil
}

func diaryPath() string {
	if p := strings.TrimSpace(os.Getenv("RAPPORT_DIARY_PATH")); p != "" {
		return p
	}
	return "diary.md"
}

func wordCountDefinition(version string) toolsdk.Definition {
	def := toolsdk.Definition{
		Name:        "word_count",
		Version:     version,
		Description: "Count words and characters in the input",
		Usage:       `{"input": "text to measure"}`,
		Modalities:  []string{"text"},
		Triggers:    []string{"how many words", "word count"},
	}
	if version != "1.0.0" {
		def.MinCompatible = "1.0.0"
	}
	return def
}

type wordCountArgs struct {
	Input string `json:"input"`
}

// handleWordCount measures the input. The 1.1.x line adds a unique-word
// count; characters are grapheme clusters, not bytes.
func handleWordCount(uniqueWords bool) toolsdk.Handler {
	return func(ctx context.Context, raw json.RawMessage) (*toolsdk.Result, error) {
		var args wordCountArgs
		if err := json.Unmarshal(raw, &args); err != nil {
			return nil, fmt.Errorf("decode args: %w", err)
		}

		words := strings.Fields(args.Input)
		counts := map[string]any{
			"words":      len(words),
			"characters": uniseg.GraphemeClusterCount(args.Input),
		}
		if uniqueWords {
			seen := make(map[string]struct{}, len(words))
			for _, w := range words {
				seen[strings.ToLower(strings.Trim(w, ".,!?;:\"'"))] = struct{}{}
			}
			delete(seen, "")
			counts["unique_words"] = len(seen)
		}

		payload, err := json.Marshal(counts)
		if err != nil {
			return nil, err
		}
		return &toolsdk.Result{Content: string(payload)}, nil
	}
}
