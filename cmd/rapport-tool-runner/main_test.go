package main

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestHandleDiaryAppendsAndHints(t *testing.T) {
	path := filepath.Join(t.TempDir(), "diary.md")
	t.Setenv("RAPPORT_DIARY_PATH", path)

	res, err := handleDiary(context.Background(), json.RawMessage(`{"input":"we built a kite","mood":"bright"}`))
	if err != nil {
		t.Fatalf("handleDiary() error = %v", err)
	}
	if res.IsError {
		t.Fatalf("unexpected tool error: %s", res.Content)
	}

	var payload struct {
		Recorded      bool           `json:"recorded"`
		Path          string         `json:"path"`
		Collaboration map[string]int `json:"collaboration"`
	}
	if err := json.Unmarshal([]byte(res.Content), &payload); err != nil {
		t.Fatalf("result content is not JSON: %v", err)
	}
	if !payload.Recorded || payload.Path != path {
		t.Errorf("payload = %+v", payload)
	}
	if payload.Collaboration["diary"] != 1 {
		t.Errorf("collaboration hint = %v, want diary=1", payload.Collaboration)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("diary file not written: %v", err)
	}
	text := string(data)
	if !strings.Contains(text, "we built a kite") || !strings.Contains(text, "(bright)") {
		t.Errorf("diary entry = %q", text)
	}
}

func TestHandleDiaryRejectsEmptyInput(t *testing.T) {
	t.Setenv("RAPPORT_DIARY_PATH", filepath.Join(t.TempDir(), "diary.md"))

	res, err := handleDiary(context.Background(), json.RawMessage(`{"input":"   "}`))
	if err != nil {
		t.Fatalf("handleDiary() error = %v", err)
	}
	if !res.IsError {
		t.Fatal("expected IsError for blank input")
	}
}

func TestHandleWordCountVersions(t *testing.T) {
	raw := json.RawMessage(`{"input":"the quick brown fox, the lazy dog"}`)

	res, err := handleWordCount(false)(context.Background(), raw)
	if err != nil {
		t.Fatalf("handleWordCount() error = %v", err)
	}
	var counts map[string]int
	if err := json.Unmarshal([]byte(res.Content), &counts); err != nil {
		t.Fatalf("content = %q: %v", res.Content, err)
	}
	if counts["words"] != 7 {
		t.Errorf("words = %d, want 7", counts["words"])
	}
	if _, ok := counts["unique_words"]; ok {
		t.Error("1.0.0 should not report unique_words")
	}

	res, err = handleWordCount(true)(context.Background(), raw)
	if err != nil {
		t.Fatalf("handleWordCount() error = %v", err)
	}
	if err := json.Unmarshal([]byte(res.Content), &counts); err != nil {
		t.Fatalf("content = %q: %v", res.Content, err)
	}
	if counts["unique_words"] != 6 {
		t.Errorf("unique_words = %d, want 6 (repeated article folds)", counts["unique_words"])
	}
}

func TestRuntimeCatalog(t *testing.T) {
	rt := newRuntime()
	defs := rt.Definitions()
	if len(defs) != 3 {
		t.Fatalf("catalog size = %d, want 3", len(defs))
	}
	byVersion := map[string]bool{}
	for _, def := range defs {
		byVersion[def.Name+"@"+def.Version] = true
	}
	for _, want := range []string{"diary@1.0.0", "word_count@1.0.0", "word_count@1.1.0"} {
		if !byVersion[want] {
			t.Errorf("missing %s in catalog", want)
		}
	}
}
