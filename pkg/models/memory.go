package models

import (
	"time"
)

// MemoryItem is a retrievable item in a long-term store. The payload is
// opaque to the store beyond text coercion for search. AccessCount never
// decreases; Embedding, when present, has the store's fixed dimension.
type MemoryItem struct {
	ID           string         `json:"id"`
	Content      string         `json:"content"`
	Tags         map[string]any `json:"tags,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	LastAccessAt time.Time      `json:"last_access_at"`
	AccessCount  int            `json:"access_count"`
	Embedding    []float32      `json:"embedding,omitempty"`
}

// MemoryHit is one search result: the item plus its similarity to the
// query in [-1, 1]. Substring fallback hits report a similarity of 0.
type MemoryHit struct {
	Item       *MemoryItem `json:"item"`
	Similarity float64     `json:"similarity"`
}
