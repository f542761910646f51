package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/haasonsaas/rapport/internal/errs"
	"github.com/haasonsaas/rapport/internal/memory/embeddings"
	"github.com/haasonsaas/rapport/internal/storage"
	"github.com/haasonsaas/rapport/pkg/models"
)

// DefaultStoreName is the store selected when callers pass an empty name.
const DefaultStoreName = "default"

// Config configures the memory subsystem.
type Config struct {
	// ConversationLimit bounds how many conversations stay buffered
	// before LRU eviction. Defaults to 100.
	ConversationLimit int `yaml:"conversation_limit"`

	// Capacity bounds each long-term store's item count; 0 means
	// unbounded.
	Capacity int `yaml:"capacity"`

	// Embeddings selects the vector provider. Nil disables vector
	// search; queries fall back to substring matching.
	Embeddings *EmbeddingsConfig `yaml:"embeddings"`
}

// EmbeddingsConfig contains embedding provider configuration.
type EmbeddingsConfig struct {
	Provider string `yaml:"provider"` // openai, ollama
	APIKey   string `yaml:"api_key"`
	BaseURL  string `yaml:"base_url"`
	Model    string `yaml:"model"`
}

// Manager routes memory operations across named long-term stores and
// owns the shared short-term conversation buffer.
type Manager struct {
	mu            sync.RWMutex
	stores        map[string]*VectorStore
	conversations *ConversationBuffer
	embedder      embeddings.Provider
	backing       storage.MemoryItemStore
	capacity      int
	logger        *slog.Logger
}

// NewManager wires the default store, the conversation buffer, and the
// optional embedding provider. backing may be nil for purely in-memory
// operation.
func NewManager(cfg Config, backing storage.MemoryItemStore, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var embedder embeddings.Provider
	if cfg.Embeddings != nil {
		emb, err := embeddings.New(embeddings.Config{
			Provider: cfg.Embeddings.Provider,
			APIKey:   cfg.Embeddings.APIKey,
			BaseURL:  cfg.Embeddings.BaseURL,
			Model:    cfg.Embeddings.Model,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize embedder: %w", err)
		}
		embedder = emb
	}

	m := &Manager{
		stores:        make(map[string]*VectorStore),
		conversations: NewConversationBuffer(cfg.ConversationLimit),
		embedder:      embedder,
		backing:       backing,
		capacity:      cfg.Capacity,
		logger:        logger,
	}
	m.stores[DefaultStoreName] = m.newStore(DefaultStoreName)
	return m, nil
}

func (m *Manager) newStore(name string) *VectorStore {
	return NewVectorStore(StoreConfig{
		Name:     name,
		Capacity: m.capacity,
		Embedder: m.embedder,
		Backing:  m.backing,
		Logger:   m.logger,
	})
}

// Conversations returns the shared short-term buffer.
func (m *Manager) Conversations() *ConversationBuffer {
	return m.conversations
}

// RegisterStore returns the named store, creating it on first use. The
// empty name selects the default store.
func (m *Manager) RegisterStore(name string) *VectorStore {
	if name == "" {
		name = DefaultStoreName
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.stores[name]; ok {
		return s
	}
	s := m.newStore(name)
	m.stores[name] = s
	return s
}

// Store returns the named store. The empty name selects the default;
// unknown names fail with a not-found error.
func (m *Manager) Store(name string) (*VectorStore, error) {
	if name == "" {
		name = DefaultStoreName
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.stores[name]
	if !ok {
		return nil, errs.Errorf(errs.KindNotFound, "memory.Manager.Store",
			"memory store %q not registered", name)
	}
	return s, nil
}

// Default returns the default store.
func (m *Manager) Default() *VectorStore {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stores[DefaultStoreName]
}

// Names returns the registered store names in sorted order.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.stores))
	for name := range m.stores {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SearchAll fans the query across every registered store and returns a
// bucket of hits per store. A store that fails is logged and reported
// as an empty bucket rather than failing the whole search.
func (m *Manager) SearchAll(ctx context.Context, query string, k int) (map[string][]*models.MemoryHit, error) {
	if strings.TrimSpace(query) == "" {
		return nil, errs.E(errs.KindInvalidArgument, "memory.Manager.SearchAll", "query is empty")
	}

	m.mu.RLock()
	stores := make(map[string]*VectorStore, len(m.stores))
	for name, s := range m.stores {
		stores[name] = s
	}
	m.mu.RUnlock()

	buckets := make(map[string][]*models.MemoryHit, len(stores))
	for name, s := range stores {
		hits, err := s.Search(ctx, query, k)
		if err != nil {
			m.logger.Warn("memory search failed", "store", name, "error", err)
			buckets[name] = nil
			continue
		}
		buckets[name] = hits
	}
	return buckets, nil
}

// ReloadAll rehydrates every registered store from the backing store.
func (m *Manager) ReloadAll(ctx context.Context) error {
	if m.backing == nil {
		return nil
	}
	m.mu.RLock()
	stores := make([]*VectorStore, 0, len(m.stores))
	for _, s := range m.stores {
		stores = append(stores, s)
	}
	m.mu.RUnlock()

	for _, s := range stores {
		if err := s.LoadFromBacking(ctx); err != nil {
			return err
		}
	}
	return nil
}
