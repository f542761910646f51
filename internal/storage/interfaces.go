// Package storage persists the durable entities: sessions, turns and the
// messages and tool invocations they own, long-term memory items,
// relationships, and relationship tasks. Two backends ship: an in-memory
// store for tests and ephemeral runs, and a SQLite store for everything
// else. Operations are linearizable per key; readers of other keys may
// observe writes late.
package storage

import (
	"context"
	"errors"

	"github.com/haasonsaas/rapport/pkg/models"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
)

// SessionStore persists conversation sessions.
type SessionStore interface {
	Create(ctx context.Context, session *models.Session) error
	Get(ctx context.Context, id string) (*models.Session, error)
	// List returns sessions for an owner (all owners when ownerID is
	// empty), most recently active first, plus the unpaged total. The
	// limit is clamped to 1..100 and defaults to 10.
	List(ctx context.Context, ownerID string, limit, offset int) ([]*models.Session, int, error)
	Update(ctx context.Context, session *models.Session) error
	// Delete removes the session and cascades to its turns, messages,
	// and invocations.
	Delete(ctx context.Context, id string) error
}

// TurnStore persists turns. A turn owns its messages and invocations:
// Create and Update write the embedded slices through to the message and
// invocation stores, so those two have no write methods of their own.
type TurnStore interface {
	Create(ctx context.Context, turn *models.Turn) error
	Get(ctx context.Context, id string) (*models.Turn, error)
	// ListBySession returns a session's turns in ordinal order.
	ListBySession(ctx context.Context, sessionID string) ([]*models.Turn, error)
	Update(ctx context.Context, turn *models.Turn) error
}

// MessageStore reads messages written through TurnStore.
type MessageStore interface {
	Get(ctx context.Context, id string) (*models.Message, error)
	// ListByTurn returns a turn's messages, requests before responses,
	// each group in send order.
	ListByTurn(ctx context.Context, turnID string) ([]*models.Message, error)
}

// InvocationStore reads tool invocations written through TurnStore.
type InvocationStore interface {
	Get(ctx context.Context, id string) (*models.ToolInvocation, error)
	ListByTurn(ctx context.Context, turnID string) ([]*models.ToolInvocation, error)
}

// MemoryItemStore persists long-term memory items, partitioned by named
// store. Put is an upsert: retrieval bumps access counters and rewrites.
type MemoryItemStore interface {
	Put(ctx context.Context, store string, item *models.MemoryItem) error
	Get(ctx context.Context, store, id string) (*models.MemoryItem, error)
	List(ctx context.Context, store string) ([]*models.MemoryItem, error)
	Delete(ctx context.Context, store, id string) error
	// StoreNames returns the names of stores that hold at least one item.
	StoreNames(ctx context.Context) ([]string, error)
}

// RelationshipStore persists relationship records. Put is an upsert: the
// engine rewrites counters on every turn.
type RelationshipStore interface {
	Put(ctx context.Context, rel *models.Relationship) error
	Get(ctx context.Context, id string) (*models.Relationship, error)
	List(ctx context.Context) ([]*models.Relationship, error)
	Delete(ctx context.Context, id string) error
}

// TaskStore persists relationship tasks.
type TaskStore interface {
	Create(ctx context.Context, task *models.RelationshipTask) error
	Get(ctx context.Context, id string) (*models.RelationshipTask, error)
	// ListByRelationship returns a relationship's tasks oldest first.
	ListByRelationship(ctx context.Context, relationshipID string) ([]*models.RelationshipTask, error)
	Update(ctx context.Context, task *models.RelationshipTask) error
}

// Stores groups storage dependencies.
type Stores struct {
	Sessions      SessionStore
	Turns         TurnStore
	Messages      MessageStore
	Invocations   InvocationStore
	MemoryItems   MemoryItemStore
	Relationships RelationshipStore
	Tasks         TaskStore
	closer        func() error
}

// Close closes any underlying resources.
func (s Stores) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}

// clampPage normalizes session paging: limit 1..100 defaulting to 10,
// offset never negative.
func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = 10
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
