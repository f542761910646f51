package memory

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/haasonsaas/rapport/internal/errs"
	"github.com/haasonsaas/rapport/internal/llm/llmtest"
	"github.com/haasonsaas/rapport/internal/storage"
	"github.com/haasonsaas/rapport/pkg/models"
)

func TestVectorStoreAddAndGet(t *testing.T) {
	ctx := context.Background()
	st := NewVectorStore(StoreConfig{Name: "episodic"})

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	st.SetNowFunc(func() time.Time { return now })

	id, err := st.Add(ctx, "likes green tea", map[string]any{"topic": "preferences"})
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if id == "" {
		t.Fatal("Add() returned empty id")
	}

	now = now.Add(time.Hour)
	item, err := st.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if item.Content != "likes green tea" {
		t.Fatalf("Content = %q, want %q", item.Content, "likes green tea")
	}
	if item.AccessCount != 1 {
		t.Fatalf("AccessCount = %d, want 1", item.AccessCount)
	}
	if !item.LastAccessAt.Equal(now) {
		t.Fatalf("LastAccessAt = %v, want %v", item.LastAccessAt, now)
	}
	if item.Tags["topic"] != "preferences" {
		t.Fatalf("Tags = %v", item.Tags)
	}

	if _, err := st.Get(ctx, id); err != nil {
		t.Fatalf("Get() second call error = %v", err)
	}
	item, err = st.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get() third call error = %v", err)
	}
	if item.AccessCount != 3 {
		t.Fatalf("AccessCount = %d, want 3", item.AccessCount)
	}
}

func TestVectorStoreGetUnknown(t *testing.T) {
	st := NewVectorStore(StoreConfig{})
	_, err := st.Get(context.Background(), "ghost")
	if !errs.IsKind(err, errs.KindNotFound) {
		t.Fatalf("Get(ghost) error = %v, want not-found", err)
	}
}

func TestVectorStoreAddEmptyContent(t *testing.T) {
	st := NewVectorStore(StoreConfig{})
	for _, content := range []string{"", "   \n\t"} {
		if _, err := st.Add(context.Background(), content, nil); !errs.IsKind(err, errs.KindInvalidArgument) {
			t.Fatalf("Add(%q) error = %v, want invalid-argument", content, err)
		}
	}
}

func TestVectorStoreReadsAreCopies(t *testing.T) {
	ctx := context.Background()
	st := NewVectorStore(StoreConfig{})

	id, err := st.Add(ctx, "immutable fact", map[string]any{"k": "v"})
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	got, err := st.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	got.Content = "mutated"
	got.Tags["k"] = "mutated"

	again, err := st.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if again.Content != "immutable fact" || again.Tags["k"] != "v" {
		t.Fatalf("stored item was mutated through a read: %+v", again)
	}
}

func TestVectorStoreSearchCosine(t *testing.T) {
	ctx := context.Background()
	st := NewVectorStore(StoreConfig{Name: "facts", Embedder: &llmtest.HashEmbedder{}})

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	st.SetNowFunc(func() time.Time { return now })

	origID, err := st.Add(ctx, "tesla roadster specs", nil)
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	now = now.Add(time.Hour)
	factoryID, err := st.Add(ctx, "tesla factory tour", nil)
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	now = now.Add(time.Hour)
	weatherID, err := st.Add(ctx, "weather in tallinn today", nil)
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	now = now.Add(time.Hour)
	dupID, err := st.Add(ctx, "tesla roadster specs", nil)
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	hits, err := st.Search(ctx, "tesla roadster", 10)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(hits) != 4 {
		t.Fatalf("Search() returned %d hits, want 4", len(hits))
	}

	wantOrder := []string{dupID, origID, factoryID, weatherID}
	for i, want := range wantOrder {
		if hits[i].Item.ID != want {
			t.Fatalf("hits[%d].ID = %s (%q), want %s", i, hits[i].Item.ID, hits[i].Item.Content, want)
		}
	}

	// Identical texts embed identically; the tie resolves by recency.
	if hits[0].Similarity != hits[1].Similarity {
		t.Fatalf("duplicate contents scored %v vs %v", hits[0].Similarity, hits[1].Similarity)
	}
	if hits[1].Similarity <= hits[2].Similarity || hits[2].Similarity <= hits[3].Similarity {
		t.Fatalf("similarities not descending: %v, %v, %v",
			hits[1].Similarity, hits[2].Similarity, hits[3].Similarity)
	}
	if hits[3].Similarity != 0 {
		t.Fatalf("unrelated item similarity = %v, want 0", hits[3].Similarity)
	}
	for _, h := range hits {
		if h.Similarity < -1 || h.Similarity > 1 {
			t.Fatalf("similarity %v out of [-1,1]", h.Similarity)
		}
	}

	// Top-K bound.
	hits, err = st.Search(ctx, "tesla roadster", 2)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("Search(k=2) returned %d hits", len(hits))
	}
}

func TestVectorStoreSearchSubstring(t *testing.T) {
	ctx := context.Background()
	st := NewVectorStore(StoreConfig{Name: "plain"})

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	st.SetNowFunc(func() time.Time { return now })

	alphaID, err := st.Add(ctx, "Alpha Note", nil)
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	now = now.Add(time.Hour)
	betaID, err := st.Add(ctx, "beta note", nil)
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	now = now.Add(time.Hour)
	if _, err := st.Add(ctx, "unrelated memo", nil); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	// Touch alpha so it outranks beta on last access.
	now = now.Add(time.Hour)
	if _, err := st.Get(ctx, alphaID); err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	hits, err := st.Search(ctx, "NOTE", 10)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("Search() returned %d hits, want 2", len(hits))
	}
	if hits[0].Item.ID != alphaID || hits[1].Item.ID != betaID {
		t.Fatalf("hit order = [%q, %q], want alpha then beta",
			hits[0].Item.Content, hits[1].Item.Content)
	}
	for _, h := range hits {
		if h.Similarity != 0 {
			t.Fatalf("substring hit similarity = %v, want 0", h.Similarity)
		}
	}

	hits, err = st.Search(ctx, "nothing matches this", 10)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(hits) != 0 {
		t.Fatalf("Search() returned %d hits, want 0", len(hits))
	}
}

func TestVectorStoreSearchDefaultK(t *testing.T) {
	ctx := context.Background()
	st := NewVectorStore(StoreConfig{})
	for i := 0; i < 7; i++ {
		if _, err := st.Add(ctx, fmt.Sprintf("meeting note %d", i), nil); err != nil {
			t.Fatalf("Add() error = %v", err)
		}
	}

	hits, err := st.Search(ctx, "meeting", 0)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(hits) != 5 {
		t.Fatalf("Search(k=0) returned %d hits, want default 5", len(hits))
	}
}

func TestVectorStoreSearchEmptyQuery(t *testing.T) {
	st := NewVectorStore(StoreConfig{})
	if _, err := st.Search(context.Background(), "  ", 5); !errs.IsKind(err, errs.KindInvalidArgument) {
		t.Fatalf("Search(empty) error = %v, want invalid-argument", err)
	}
}

func TestVectorStoreUnembeddedItemJoinsSearch(t *testing.T) {
	ctx := context.Background()
	emb := &llmtest.HashEmbedder{}
	st := NewVectorStore(StoreConfig{Name: "mixed", Embedder: emb})

	embeddedID, err := st.Add(ctx, "fox jumps", nil)
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	// Provider outage: the item is stored without a vector.
	emb.Err = errors.New("embedder offline")
	plainID, err := st.Add(ctx, "lazy fox sleeps", nil)
	if err != nil {
		t.Fatalf("Add() during outage error = %v", err)
	}
	emb.Err = nil

	hits, err := st.Search(ctx, "fox", 10)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("Search() returned %d hits, want 2", len(hits))
	}
	if hits[0].Item.ID != embeddedID || hits[0].Similarity <= 0 {
		t.Fatalf("hits[0] = (%s, %v), want embedded item with positive similarity",
			hits[0].Item.Content, hits[0].Similarity)
	}
	if hits[1].Item.ID != plainID || hits[1].Similarity != 0 {
		t.Fatalf("hits[1] = (%s, %v), want substring match at similarity 0",
			hits[1].Item.Content, hits[1].Similarity)
	}
}

func TestVectorStoreSearchFallsBackWhenQueryEmbedFails(t *testing.T) {
	ctx := context.Background()
	emb := &llmtest.HashEmbedder{}
	st := NewVectorStore(StoreConfig{Embedder: emb})

	if _, err := st.Add(ctx, "fox jumps", nil); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	emb.Err = errors.New("embedder offline")
	hits, err := st.Search(ctx, "fox", 10)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("Search() returned %d hits, want 1", len(hits))
	}
	if hits[0].Similarity != 0 {
		t.Fatalf("fallback hit similarity = %v, want 0", hits[0].Similarity)
	}
}

func TestVectorStoreQueryEmbeddingCached(t *testing.T) {
	ctx := context.Background()
	emb := &llmtest.HashEmbedder{}
	st := NewVectorStore(StoreConfig{Embedder: emb})

	if _, err := st.Add(ctx, "fox jumps", nil); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	base := emb.Calls()

	for i := 0; i < 3; i++ {
		if _, err := st.Search(ctx, "fox", 5); err != nil {
			t.Fatalf("Search() error = %v", err)
		}
	}
	if got := emb.Calls() - base; got != 1 {
		t.Fatalf("query embedded %d times, want 1 (cached afterwards)", got)
	}
}

func TestVectorStoreEvictionKeepsAccessedItems(t *testing.T) {
	ctx := context.Background()
	st := NewVectorStore(StoreConfig{Name: "bounded", Capacity: 5})

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	st.SetNowFunc(func() time.Time { return now })

	ids := make([]string, 5)
	for i := range ids {
		id, err := st.Add(ctx, fmt.Sprintf("memo %d", i), nil)
		if err != nil {
			t.Fatalf("Add() error = %v", err)
		}
		ids[i] = id
	}

	// Everything but ids[4] gets read, so ids[4] carries the lowest
	// importance when the next add forces an eviction.
	for _, id := range ids[:4] {
		if _, err := st.Get(ctx, id); err != nil {
			t.Fatalf("Get() error = %v", err)
		}
	}

	newID, err := st.Add(ctx, "memo 5", nil)
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	if _, err := st.Get(ctx, ids[4]); !errs.IsKind(err, errs.KindNotFound) {
		t.Fatalf("Get(unaccessed) error = %v, want not-found after eviction", err)
	}
	survivors := []string{ids[0], ids[1], ids[2], ids[3], newID}
	for _, id := range survivors {
		if _, err := st.Get(ctx, id); err != nil {
			t.Fatalf("Get(%s) error = %v, want survivor", id, err)
		}
	}
	if st.Len() != 5 {
		t.Fatalf("Len() = %d, want 5", st.Len())
	}
}

func TestVectorStoreEvictionPrefersStale(t *testing.T) {
	ctx := context.Background()
	st := NewVectorStore(StoreConfig{Capacity: 3})

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	st.SetNowFunc(func() time.Time { return now })

	oldID, err := st.Add(ctx, "oldest", nil)
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	now = now.Add(time.Hour)
	midID, err := st.Add(ctx, "middle", nil)
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	now = now.Add(time.Hour)
	newID, err := st.Add(ctx, "newest", nil)
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	now = now.Add(time.Hour)
	lastID, err := st.Add(ctx, "incoming", nil)
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	if _, err := st.Get(ctx, oldID); !errs.IsKind(err, errs.KindNotFound) {
		t.Fatalf("Get(oldest) error = %v, want not-found", err)
	}
	for _, id := range []string{midID, newID, lastID} {
		if _, err := st.Get(ctx, id); err != nil {
			t.Fatalf("Get(%s) error = %v", id, err)
		}
	}
}

func TestVectorStoreClear(t *testing.T) {
	ctx := context.Background()
	st := NewVectorStore(StoreConfig{})

	id, err := st.Add(ctx, "gone soon", nil)
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if err := st.Clear(ctx); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	if st.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", st.Len())
	}
	if _, err := st.Get(ctx, id); !errs.IsKind(err, errs.KindNotFound) {
		t.Fatalf("Get() after Clear error = %v, want not-found", err)
	}
}

func TestVectorStoreWriteThrough(t *testing.T) {
	ctx := context.Background()
	stores := storage.NewMemoryStores()
	st := NewVectorStore(StoreConfig{Name: "episodic", Capacity: 1, Backing: stores.MemoryItems})

	firstID, err := st.Add(ctx, "first", nil)
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	persisted, err := stores.MemoryItems.Get(ctx, "episodic", firstID)
	if err != nil {
		t.Fatalf("backing Get() error = %v", err)
	}
	if persisted.AccessCount != 0 {
		t.Fatalf("backing AccessCount = %d, want 0", persisted.AccessCount)
	}

	if _, err := st.Get(ctx, firstID); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	persisted, err = stores.MemoryItems.Get(ctx, "episodic", firstID)
	if err != nil {
		t.Fatalf("backing Get() error = %v", err)
	}
	if persisted.AccessCount != 1 {
		t.Fatalf("backing AccessCount = %d, want 1 after read", persisted.AccessCount)
	}

	secondID, err := st.Add(ctx, "second", nil)
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if _, err := stores.MemoryItems.Get(ctx, "episodic", firstID); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("backing Get(evicted) error = %v, want %v", err, storage.ErrNotFound)
	}
	if _, err := stores.MemoryItems.Get(ctx, "episodic", secondID); err != nil {
		t.Fatalf("backing Get(second) error = %v", err)
	}

	if err := st.Clear(ctx); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	left, err := stores.MemoryItems.List(ctx, "episodic")
	if err != nil {
		t.Fatalf("backing List() error = %v", err)
	}
	if len(left) != 0 {
		t.Fatalf("backing still holds %d items after Clear", len(left))
	}
}

func TestVectorStoreLoadFromBacking(t *testing.T) {
	ctx := context.Background()
	stores := storage.NewMemoryStores()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		item := &models.MemoryItem{
			ID:           fmt.Sprintf("seed-%d", i),
			Content:      fmt.Sprintf("seeded fact %d", i),
			CreatedAt:    base.Add(time.Duration(i) * time.Hour),
			LastAccessAt: base.Add(time.Duration(i) * time.Hour),
		}
		if err := stores.MemoryItems.Put(ctx, "episodic", item); err != nil {
			t.Fatalf("backing Put() error = %v", err)
		}
	}

	st := NewVectorStore(StoreConfig{Name: "episodic", Backing: stores.MemoryItems})
	if err := st.LoadFromBacking(ctx); err != nil {
		t.Fatalf("LoadFromBacking() error = %v", err)
	}
	if st.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", st.Len())
	}
	if _, err := st.Get(ctx, "seed-1"); err != nil {
		t.Fatalf("Get(seed-1) error = %v", err)
	}

	// A bounded store trims the snapshot to capacity, oldest first.
	bounded := NewVectorStore(StoreConfig{Name: "episodic", Capacity: 2, Backing: stores.MemoryItems})
	bounded.SetNowFunc(func() time.Time { return base.Add(3 * time.Hour) })
	if err := bounded.LoadFromBacking(ctx); err != nil {
		t.Fatalf("LoadFromBacking() error = %v", err)
	}
	if bounded.Len() != 2 {
		t.Fatalf("bounded Len() = %d, want 2", bounded.Len())
	}
	if _, err := bounded.Get(ctx, "seed-0"); !errs.IsKind(err, errs.KindNotFound) {
		t.Fatalf("Get(seed-0) error = %v, want not-found", err)
	}
}

func TestVectorStorePersistRoundTrip(t *testing.T) {
	ctx := context.Background()
	src := NewVectorStore(StoreConfig{Name: "diary", Embedder: &llmtest.HashEmbedder{}})

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	src.SetNowFunc(func() time.Time { return now })

	idA, err := src.Add(ctx, "prefers morning walk", map[string]any{"topic": "routine"})
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	now = now.Add(time.Hour)
	idB, err := src.Add(ctx, "weather in tallinn today", nil)
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if _, err := src.Get(ctx, idA); err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	data, err := src.Persist(ctx)
	if err != nil {
		t.Fatalf("Persist() error = %v", err)
	}

	dst := NewVectorStore(StoreConfig{Name: "diary"})
	if err := dst.Load(ctx, data); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	want := src.snapshot()
	got := dst.snapshot()
	if len(got) != len(want) {
		t.Fatalf("restored %d items, want %d", len(got), len(want))
	}
	// Snapshots order by creation time.
	if want[0].ID != idA || want[1].ID != idB {
		t.Fatalf("snapshot order = [%s, %s], want [%s, %s]", want[0].ID, want[1].ID, idA, idB)
	}
	for i := range want {
		w, g := want[i], got[i]
		if g.ID != w.ID || g.Content != w.Content || g.AccessCount != w.AccessCount {
			t.Fatalf("item %d = %+v, want %+v", i, g, w)
		}
		if !g.CreatedAt.Equal(w.CreatedAt) || !g.LastAccessAt.Equal(w.LastAccessAt) {
			t.Fatalf("item %s timestamps differ: %v/%v vs %v/%v",
				g.ID, g.CreatedAt, g.LastAccessAt, w.CreatedAt, w.LastAccessAt)
		}
		if len(g.Embedding) != len(w.Embedding) {
			t.Fatalf("item %s embedding length = %d, want %d", g.ID, len(g.Embedding), len(w.Embedding))
		}
		for j := range w.Embedding {
			if g.Embedding[j] != w.Embedding[j] {
				t.Fatalf("item %s embedding[%d] = %v, want %v", g.ID, j, g.Embedding[j], w.Embedding[j])
			}
		}
	}
}

func TestVectorStoreLoadRejectsBadSnapshots(t *testing.T) {
	ctx := context.Background()
	st := NewVectorStore(StoreConfig{})

	if err := st.Load(ctx, []byte("not json")); !errs.IsKind(err, errs.KindInvalidArgument) {
		t.Fatalf("Load(garbage) error = %v, want invalid-argument", err)
	}
	if err := st.Load(ctx, []byte(`{"version":2,"items":[]}`)); !errs.IsKind(err, errs.KindInvalidArgument) {
		t.Fatalf("Load(version 2) error = %v, want invalid-argument", err)
	}
}

func TestVectorStoreLoadTrimsToCapacity(t *testing.T) {
	ctx := context.Background()
	src := NewVectorStore(StoreConfig{Name: "big"})

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	src.SetNowFunc(func() time.Time { return now })

	ids := make([]string, 5)
	for i := range ids {
		id, err := src.Add(ctx, fmt.Sprintf("fact %d", i), nil)
		if err != nil {
			t.Fatalf("Add() error = %v", err)
		}
		ids[i] = id
		now = now.Add(time.Hour)
	}

	data, err := src.Persist(ctx)
	if err != nil {
		t.Fatalf("Persist() error = %v", err)
	}

	dst := NewVectorStore(StoreConfig{Name: "small", Capacity: 3})
	dst.SetNowFunc(func() time.Time { return now })
	if err := dst.Load(ctx, data); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if dst.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", dst.Len())
	}
	for _, id := range ids[:2] {
		if _, err := dst.Get(ctx, id); !errs.IsKind(err, errs.KindNotFound) {
			t.Fatalf("Get(%s) error = %v, want trimmed", id, err)
		}
	}
	for _, id := range ids[2:] {
		if _, err := dst.Get(ctx, id); err != nil {
			t.Fatalf("Get(%s) error = %v, want kept", id, err)
		}
	}
}

func TestVectorStoreSaveAndLoadFile(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "snapshots", "diary.json")

	src := NewVectorStore(StoreConfig{Name: "diary"})
	if _, err := src.Add(ctx, "remember the milk", nil); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if err := src.SaveFile(ctx, path); err != nil {
		t.Fatalf("SaveFile() error = %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("snapshot file missing: %v", err)
	}

	dst := NewVectorStore(StoreConfig{Name: "diary"})
	if err := dst.LoadFile(ctx, path); err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if dst.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", dst.Len())
	}

	// Missing snapshot files are tolerated.
	before := dst.Len()
	if err := dst.LoadFile(ctx, filepath.Join(dir, "missing.json")); err != nil {
		t.Fatalf("LoadFile(missing) error = %v", err)
	}
	if dst.Len() != before {
		t.Fatalf("Len() changed to %d after loading a missing file", dst.Len())
	}
}
