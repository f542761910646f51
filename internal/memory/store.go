// Package memory implements the short-term conversation buffer and the
// long-term similarity store, plus the manager that routes between named
// stores.
package memory

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/rapport/internal/errs"
	"github.com/haasonsaas/rapport/internal/memory/embeddings"
	"github.com/haasonsaas/rapport/internal/storage"
	"github.com/haasonsaas/rapport/pkg/models"
)

// Importance weights for capacity eviction.
const (
	accessWeight  = 0.7
	recencyWeight = 0.3
)

// defaultSearchK bounds Search results when the caller passes k <= 0.
const defaultSearchK = 5

// Store is the capability set every memory store variant offers.
type Store interface {
	// Add stores content and returns the new item's id. When an
	// embedder is configured the embedding is computed synchronously;
	// embedding failure stores the item unembedded.
	Add(ctx context.Context, content string, tags map[string]any) (string, error)

	// Get returns an item by id, bumping its access counter.
	Get(ctx context.Context, id string) (*models.MemoryItem, error)

	// Search returns up to k hits for a natural-language query, each
	// annotated with similarity in [-1, 1].
	Search(ctx context.Context, query string, k int) ([]*models.MemoryHit, error)

	// Clear drops every item in the store.
	Clear(ctx context.Context) error
}

// StoreConfig configures a VectorStore.
type StoreConfig struct {
	// Name labels log lines and the write-through backing rows.
	Name string
	// Capacity bounds the item count; 0 means unbounded.
	Capacity int
	// Embedder enables cosine search; nil means substring search only.
	Embedder embeddings.Provider
	// Backing, when set, mirrors every write for durability.
	Backing storage.MemoryItemStore
	Logger  *slog.Logger
}

// VectorStore is the in-memory long-term store. One type covers the
// buffered, unbounded, and embedding-backed variants depending on its
// configuration.
type VectorStore struct {
	mu         sync.RWMutex
	name       string
	capacity   int
	embedder   embeddings.Provider
	backing    storage.MemoryItemStore
	items      map[string]*models.MemoryItem
	queryCache *embeddingCache
	logger     *slog.Logger
	nowFunc    func() time.Time
}

var _ Store = (*VectorStore)(nil)

// NewVectorStore builds a store from cfg. Missing fields get safe
// defaults; a zero StoreConfig yields an unbounded substring-only store.
func NewVectorStore(cfg StoreConfig) *VectorStore {
	name := cfg.Name
	if name == "" {
		name = "default"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &VectorStore{
		name:       name,
		capacity:   cfg.Capacity,
		embedder:   cfg.Embedder,
		backing:    cfg.Backing,
		items:      make(map[string]*models.MemoryItem),
		queryCache: newEmbeddingCache(256),
		logger:     logger.With("component", "memory", "store", name),
		nowFunc:    time.Now,
	}
}

// SetNowFunc overrides the clock for tests.
func (s *VectorStore) SetNowFunc(fn func() time.Time) {
	if fn != nil {
		s.nowFunc = fn
	}
}

// Name returns the store's logical name.
func (s *VectorStore) Name() string {
	return s.name
}

// Len reports the current item count.
func (s *VectorStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// Add stores content, embedding it when an embedder is configured.
// Embedding failures are logged and the item is stored without a vector
// so substring search still finds it.
func (s *VectorStore) Add(ctx context.Context, content string, tags map[string]any) (string, error) {
	if strings.TrimSpace(content) == "" {
		return "", errs.E(errs.KindInvalidArgument, "memory.Add", "content is empty")
	}
	if err := ctx.Err(); err != nil {
		return "", errs.Wrap(errs.KindCancelled, "memory.Add", err)
	}

	now := s.nowFunc()
	item := &models.MemoryItem{
		ID:           uuid.NewString(),
		Content:      content,
		Tags:         tags,
		CreatedAt:    now,
		LastAccessAt: now,
	}
	if s.embedder != nil {
		vec, err := s.embedder.Embed(ctx, content)
		if err != nil {
			s.logger.Warn("embedding failed, storing item without vector",
				"id", item.ID, "error", err)
		} else {
			item.Embedding = vec
		}
	}

	var victim *models.MemoryItem
	s.mu.Lock()
	if s.capacity > 0 && len(s.items) >= s.capacity {
		victim = s.evictOneLocked(now)
	}
	s.items[item.ID] = item
	s.mu.Unlock()

	if victim != nil {
		s.logger.Debug("evicted memory item",
			"id", victim.ID, "access_count", victim.AccessCount)
		s.backingDelete(ctx, victim.ID)
	}
	s.backingPut(ctx, item)
	return item.ID, nil
}

// Get returns a copy of the item and bumps its access counter and
// last-access time.
func (s *VectorStore) Get(ctx context.Context, id string) (*models.MemoryItem, error) {
	s.mu.Lock()
	item, ok := s.items[id]
	if !ok {
		s.mu.Unlock()
		return nil, errs.Errorf(errs.KindNotFound, "memory.Get", "memory item %q not found", id)
	}
	item.AccessCount++
	item.LastAccessAt = s.nowFunc()
	out := copyItem(item)
	s.mu.Unlock()

	s.backingPut(ctx, out)
	return out, nil
}

// Search ranks embedded items by cosine similarity against the query
// when a query embedding is available; unembedded items participate via
// substring matching with similarity 0. Without a query embedding the
// whole search is substring-based, ordered by last access descending.
func (s *VectorStore) Search(ctx context.Context, query string, k int) ([]*models.MemoryHit, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, errs.E(errs.KindInvalidArgument, "memory.Search", "query is empty")
	}
	if k <= 0 {
		k = defaultSearchK
	}

	var queryVec []float32
	if s.embedder != nil {
		if cached, ok := s.queryCache.get(query); ok {
			queryVec = cached
		} else if vec, err := s.embedder.Embed(ctx, query); err != nil {
			s.logger.Warn("query embedding failed, falling back to substring search", "error", err)
		} else {
			queryVec = vec
			s.queryCache.set(query, vec)
		}
	}

	needle := strings.ToLower(query)

	s.mu.RLock()
	hits := make([]*models.MemoryHit, 0, len(s.items))
	for _, item := range s.items {
		switch {
		case len(queryVec) > 0 && len(item.Embedding) > 0:
			hits = append(hits, &models.MemoryHit{
				Item:       copyItem(item),
				Similarity: embeddings.Cosine(queryVec, item.Embedding),
			})
		case strings.Contains(strings.ToLower(item.Content), needle):
			hits = append(hits, &models.MemoryHit{Item: copyItem(item)})
		}
	}
	s.mu.RUnlock()

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Similarity != hits[j].Similarity {
			return hits[i].Similarity > hits[j].Similarity
		}
		if !hits[i].Item.LastAccessAt.Equal(hits[j].Item.LastAccessAt) {
			return hits[i].Item.LastAccessAt.After(hits[j].Item.LastAccessAt)
		}
		return hits[i].Item.ID < hits[j].Item.ID
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// Clear drops every item, including from the backing store.
func (s *VectorStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	ids := make([]string, 0, len(s.items))
	for id := range s.items {
		ids = append(ids, id)
	}
	s.items = make(map[string]*models.MemoryItem)
	s.mu.Unlock()

	for _, id := range ids {
		s.backingDelete(ctx, id)
	}
	return nil
}

// LoadFromBacking hydrates the store from its write-through backing,
// trimming to capacity by importance when the snapshot is larger.
func (s *VectorStore) LoadFromBacking(ctx context.Context) error {
	if s.backing == nil {
		return nil
	}
	items, err := s.backing.List(ctx, s.name)
	if err != nil {
		return errs.Wrap(errs.KindUnavailable, "memory.LoadFromBacking", err)
	}

	now := s.nowFunc()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = make(map[string]*models.MemoryItem, len(items))
	for _, item := range items {
		if item == nil || item.ID == "" {
			continue
		}
		s.items[item.ID] = item
	}
	for s.capacity > 0 && len(s.items) > s.capacity {
		s.evictOneLocked(now)
	}
	return nil
}

// importance scores an item for eviction: frequently and recently
// accessed items survive. Recency decays hyperbolically with hours
// since last access, staying in (0, 1].
func importance(item *models.MemoryItem, now time.Time) float64 {
	age := now.Sub(item.LastAccessAt)
	if age < 0 {
		age = 0
	}
	recency := 1 / (1 + age.Hours())
	return accessWeight*float64(item.AccessCount) + recencyWeight*recency
}

// evictOneLocked removes and returns the minimum-importance item, ties
// broken toward the least recently accessed. Caller holds the lock and
// owns backing cleanup.
func (s *VectorStore) evictOneLocked(now time.Time) *models.MemoryItem {
	var victim *models.MemoryItem
	victimScore := 0.0
	for _, item := range s.items {
		score := importance(item, now)
		switch {
		case victim == nil, score < victimScore:
			victim, victimScore = item, score
		case score == victimScore && item.LastAccessAt.Before(victim.LastAccessAt):
			victim = item
		}
	}
	if victim == nil {
		return nil
	}
	delete(s.items, victim.ID)
	return victim
}

func (s *VectorStore) backingPut(ctx context.Context, item *models.MemoryItem) {
	if s.backing == nil {
		return
	}
	if err := s.backing.Put(ctx, s.name, item); err != nil {
		s.logger.Warn("memory write-through failed", "id", item.ID, "error", err)
	}
}

func (s *VectorStore) backingDelete(ctx context.Context, id string) {
	if s.backing == nil {
		return
	}
	if err := s.backing.Delete(ctx, s.name, id); err != nil && !errors.Is(err, storage.ErrNotFound) {
		s.logger.Warn("memory backing delete failed", "id", id, "error", err)
	}
}

// copyItem clones an item so callers never share the store's pointers.
func copyItem(item *models.MemoryItem) *models.MemoryItem {
	out := *item
	if item.Tags != nil {
		out.Tags = make(map[string]any, len(item.Tags))
		for k, v := range item.Tags {
			out.Tags[k] = v
		}
	}
	out.Embedding = append([]float32(nil), item.Embedding...)
	return &out
}

// snapshot returns copies of all items ordered by creation time for
// persistence.
func (s *VectorStore) snapshot() []*models.MemoryItem {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]*models.MemoryItem, 0, len(s.items))
	for _, item := range s.items {
		items = append(items, copyItem(item))
	}
	sort.Slice(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.Before(items[j].CreatedAt)
		}
		return items[i].ID < items[j].ID
	})
	return items
}
