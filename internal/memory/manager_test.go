package memory

import (
	"context"
	"strings"
	"testing"

	"github.com/haasonsaas/rapport/internal/errs"
	"github.com/haasonsaas/rapport/internal/llm/llmtest"
)

func TestManagerStoreRouting(t *testing.T) {
	m, err := NewManager(Config{}, nil, nil)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	def := m.Default()
	if def == nil {
		t.Fatal("Default() = nil")
	}
	if got, err := m.Store(""); err != nil || got != def {
		t.Fatalf("Store(\"\") = %v, %v, want the default store", got, err)
	}
	if got, err := m.Store(DefaultStoreName); err != nil || got != def {
		t.Fatalf("Store(default) = %v, %v, want the default store", got, err)
	}

	if _, err := m.Store("ghost"); !errs.IsKind(err, errs.KindNotFound) {
		t.Fatalf("Store(ghost) error = %v, want not-found", err)
	}

	diary := m.RegisterStore("diary")
	if diary == nil || diary == def {
		t.Fatalf("RegisterStore(diary) = %v", diary)
	}
	if again := m.RegisterStore("diary"); again != diary {
		t.Fatal("RegisterStore(diary) twice returned different stores")
	}
	if got, err := m.Store("diary"); err != nil || got != diary {
		t.Fatalf("Store(diary) = %v, %v", got, err)
	}

	m.RegisterStore("archive")
	want := []string{"archive", "default", "diary"}
	got := m.Names()
	if len(got) != len(want) {
		t.Fatalf("Names() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Names() = %v, want %v", got, want)
		}
	}
}

func TestManagerSearchAll(t *testing.T) {
	ctx := context.Background()
	m, err := NewManager(Config{}, nil, nil)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	diary := m.RegisterStore("diary")
	facts := m.RegisterStore("facts")

	if _, err := diary.Add(ctx, "lunch meeting on friday", nil); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if _, err := facts.Add(ctx, "the meeting room seats eight", nil); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if _, err := facts.Add(ctx, "coffee is on the third floor", nil); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	buckets, err := m.SearchAll(ctx, "meeting", 5)
	if err != nil {
		t.Fatalf("SearchAll() error = %v", err)
	}
	if len(buckets) != 3 {
		t.Fatalf("SearchAll() returned %d buckets, want 3", len(buckets))
	}
	if len(buckets["diary"]) != 1 {
		t.Fatalf("diary bucket = %d hits, want 1", len(buckets["diary"]))
	}
	if len(buckets["facts"]) != 1 {
		t.Fatalf("facts bucket = %d hits, want 1", len(buckets["facts"]))
	}
	if len(buckets[DefaultStoreName]) != 0 {
		t.Fatalf("default bucket = %d hits, want 0", len(buckets[DefaultStoreName]))
	}
	if got := buckets["facts"][0].Item.Content; got != "the meeting room seats eight" {
		t.Fatalf("facts hit = %q", got)
	}

	if _, err := m.SearchAll(ctx, "   ", 5); !errs.IsKind(err, errs.KindInvalidArgument) {
		t.Fatalf("SearchAll(empty) error = %v, want invalid-argument", err)
	}
}

func TestManagerSharesEmbedderAcrossStores(t *testing.T) {
	ctx := context.Background()
	m, err := NewManager(Config{Capacity: 10}, nil, nil)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	// Swap in the deterministic embedder the way the factory would.
	m.embedder = &llmtest.HashEmbedder{}

	st := m.RegisterStore("vectors")
	if st.embedder == nil {
		t.Fatal("registered store did not inherit the embedder")
	}
	id, err := st.Add(ctx, "tesla roadster specs", nil)
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	item, err := st.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if len(item.Embedding) == 0 {
		t.Fatal("item stored without embedding")
	}

	hits, err := st.Search(ctx, "tesla", 5)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(hits) != 1 || hits[0].Similarity <= 0 {
		t.Fatalf("hits = %v", hits)
	}
}

func TestNewManagerUnknownEmbeddingProvider(t *testing.T) {
	_, err := NewManager(Config{
		Embeddings: &EmbeddingsConfig{Provider: "mystery"},
	}, nil, nil)
	if err == nil || !strings.Contains(err.Error(), "unknown embedding provider") {
		t.Fatalf("NewManager() error = %v, want unknown provider", err)
	}
}

func TestManagerConversations(t *testing.T) {
	m, err := NewManager(Config{ConversationLimit: 2}, nil, nil)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	buf := m.Conversations()
	if buf == nil {
		t.Fatal("Conversations() = nil")
	}
	if buf != m.Conversations() {
		t.Fatal("Conversations() returned a different buffer")
	}
}
