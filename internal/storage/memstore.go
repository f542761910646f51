package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/haasonsaas/rapport/pkg/models"
)

// memDB is the shared state behind the in-memory stores. One lock covers
// everything because turn writes touch the message and invocation indexes
// and session deletes cascade across entity types.
type memDB struct {
	mu                  sync.RWMutex
	sessions            map[string]*models.Session
	turns               map[string]*models.Turn
	turnsBySession      map[string][]string
	messages            map[string]*models.Message
	messagesByTurn      map[string][]string
	invocations         map[string]*models.ToolInvocation
	invocationsByTurn   map[string][]string
	memoryItems         map[string]map[string]*models.MemoryItem
	relationships       map[string]*models.Relationship
	tasks               map[string]*models.RelationshipTask
	tasksByRelationship map[string][]string
}

func newMemDB() *memDB {
	return &memDB{
		sessions:            make(map[string]*models.Session),
		turns:               make(map[string]*models.Turn),
		turnsBySession:      make(map[string][]string),
		messages:            make(map[string]*models.Message),
		messagesByTurn:      make(map[string][]string),
		invocations:         make(map[string]*models.ToolInvocation),
		invocationsByTurn:   make(map[string][]string),
		memoryItems:         make(map[string]map[string]*models.MemoryItem),
		relationships:       make(map[string]*models.Relationship),
		tasks:               make(map[string]*models.RelationshipTask),
		tasksByRelationship: make(map[string][]string),
	}
}

// NewMemoryStores constructs a Stores backed by process memory.
func NewMemoryStores() Stores {
	db := newMemDB()
	return Stores{
		Sessions:      &memSessionStore{db: db},
		Turns:         &memTurnStore{db: db},
		Messages:      &memMessageStore{db: db},
		Invocations:   &memInvocationStore{db: db},
		MemoryItems:   &memMemoryItemStore{db: db},
		Relationships: &memRelationshipStore{db: db},
		Tasks:         &memTaskStore{db: db},
	}
}

// indexTurn registers a stored turn's embedded messages and invocations.
// Callers hold the write lock.
func (db *memDB) indexTurn(turn *models.Turn) {
	for i := range turn.Requests {
		m := &turn.Requests[i]
		if m.ID == "" {
			continue
		}
		db.messages[m.ID] = m
		db.messagesByTurn[turn.ID] = append(db.messagesByTurn[turn.ID], m.ID)
	}
	for i := range turn.Responses {
		m := &turn.Responses[i]
		if m.ID == "" {
			continue
		}
		db.messages[m.ID] = m
		db.messagesByTurn[turn.ID] = append(db.messagesByTurn[turn.ID], m.ID)
	}
	for i := range turn.Invocations {
		inv := &turn.Invocations[i]
		if inv.ID == "" {
			continue
		}
		db.invocations[inv.ID] = inv
		db.invocationsByTurn[turn.ID] = append(db.invocationsByTurn[turn.ID], inv.ID)
	}
}

// unindexTurn drops a stored turn's embedded messages and invocations.
// Callers hold the write lock.
func (db *memDB) unindexTurn(turnID string) {
	for _, id := range db.messagesByTurn[turnID] {
		delete(db.messages, id)
	}
	delete(db.messagesByTurn, turnID)
	for _, id := range db.invocationsByTurn[turnID] {
		delete(db.invocations, id)
	}
	delete(db.invocationsByTurn, turnID)
}

type memSessionStore struct {
	db *memDB
}

func (s *memSessionStore) Create(ctx context.Context, session *models.Session) error {
	if session == nil || session.ID == "" {
		return fmt.Errorf("session is required")
	}
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if _, exists := s.db.sessions[session.ID]; exists {
		return ErrAlreadyExists
	}
	s.db.sessions[session.ID] = cloneSession(session)
	return nil
}

func (s *memSessionStore) Get(ctx context.Context, id string) (*models.Session, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	session, ok := s.db.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneSession(session), nil
}

func (s *memSessionStore) List(ctx context.Context, ownerID string, limit, offset int) ([]*models.Session, int, error) {
	limit, offset = clampPage(limit, offset)
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()

	sessions := make([]*models.Session, 0, len(s.db.sessions))
	for _, session := range s.db.sessions {
		if ownerID != "" && session.OwnerID != ownerID {
			continue
		}
		sessions = append(sessions, session)
	}
	sort.Slice(sessions, func(i, j int) bool {
		if !sessions[i].LastActivityAt.Equal(sessions[j].LastActivityAt) {
			return sessions[i].LastActivityAt.After(sessions[j].LastActivityAt)
		}
		return sessions[i].ID < sessions[j].ID
	})
	total := len(sessions)

	if offset > len(sessions) {
		offset = len(sessions)
	}
	end := offset + limit
	if end > len(sessions) {
		end = len(sessions)
	}
	page := make([]*models.Session, 0, end-offset)
	for _, session := range sessions[offset:end] {
		page = append(page, cloneSession(session))
	}
	return page, total, nil
}

func (s *memSessionStore) Update(ctx context.Context, session *models.Session) error {
	if session == nil || session.ID == "" {
		return fmt.Errorf("session is required")
	}
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if _, exists := s.db.sessions[session.ID]; !exists {
		return ErrNotFound
	}
	s.db.sessions[session.ID] = cloneSession(session)
	return nil
}

func (s *memSessionStore) Delete(ctx context.Context, id string) error {
	if id == "" {
		return ErrNotFound
	}
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if _, exists := s.db.sessions[id]; !exists {
		return ErrNotFound
	}
	for _, turnID := range s.db.turnsBySession[id] {
		s.db.unindexTurn(turnID)
		delete(s.db.turns, turnID)
	}
	delete(s.db.turnsBySession, id)
	delete(s.db.sessions, id)
	return nil
}

type memTurnStore struct {
	db *memDB
}

func (s *memTurnStore) Create(ctx context.Context, turn *models.Turn) error {
	if turn == nil || turn.ID == "" {
		return fmt.Errorf("turn is required")
	}
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if _, exists := s.db.turns[turn.ID]; exists {
		return ErrAlreadyExists
	}
	stored := cloneTurn(turn)
	s.db.turns[turn.ID] = stored
	s.db.turnsBySession[turn.SessionID] = append(s.db.turnsBySession[turn.SessionID], turn.ID)
	s.db.indexTurn(stored)
	return nil
}

func (s *memTurnStore) Get(ctx context.Context, id string) (*models.Turn, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	turn, ok := s.db.turns[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneTurn(turn), nil
}

func (s *memTurnStore) ListBySession(ctx context.Context, sessionID string) ([]*models.Turn, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	ids := s.db.turnsBySession[sessionID]
	turns := make([]*models.Turn, 0, len(ids))
	for _, id := range ids {
		if turn, ok := s.db.turns[id]; ok {
			turns = append(turns, cloneTurn(turn))
		}
	}
	sort.Slice(turns, func(i, j int) bool { return turns[i].Ordinal < turns[j].Ordinal })
	return turns, nil
}

func (s *memTurnStore) Update(ctx context.Context, turn *models.Turn) error {
	if turn == nil || turn.ID == "" {
		return fmt.Errorf("turn is required")
	}
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	old, exists := s.db.turns[turn.ID]
	if !exists {
		return ErrNotFound
	}
	s.db.unindexTurn(turn.ID)
	if old.SessionID != turn.SessionID {
		s.db.turnsBySession[old.SessionID] = removeID(s.db.turnsBySession[old.SessionID], turn.ID)
		s.db.turnsBySession[turn.SessionID] = append(s.db.turnsBySession[turn.SessionID], turn.ID)
	}
	stored := cloneTurn(turn)
	s.db.turns[turn.ID] = stored
	s.db.indexTurn(stored)
	return nil
}

func removeID(ids []string, id string) []string {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

type memMessageStore struct {
	db *memDB
}

func (s *memMessageStore) Get(ctx context.Context, id string) (*models.Message, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	m, ok := s.db.messages[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneMessage(m), nil
}

func (s *memMessageStore) ListByTurn(ctx context.Context, turnID string) ([]*models.Message, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	ids := s.db.messagesByTurn[turnID]
	messages := make([]*models.Message, 0, len(ids))
	for _, id := range ids {
		if m, ok := s.db.messages[id]; ok {
			messages = append(messages, cloneMessage(m))
		}
	}
	return messages, nil
}

type memInvocationStore struct {
	db *memDB
}

func (s *memInvocationStore) Get(ctx context.Context, id string) (*models.ToolInvocation, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	inv, ok := s.db.invocations[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneInvocation(inv), nil
}

func (s *memInvocationStore) ListByTurn(ctx context.Context, turnID string) ([]*models.ToolInvocation, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	ids := s.db.invocationsByTurn[turnID]
	invocations := make([]*models.ToolInvocation, 0, len(ids))
	for _, id := range ids {
		if inv, ok := s.db.invocations[id]; ok {
			invocations = append(invocations, cloneInvocation(inv))
		}
	}
	return invocations, nil
}

type memMemoryItemStore struct {
	db *memDB
}

func (s *memMemoryItemStore) Put(ctx context.Context, store string, item *models.MemoryItem) error {
	if store == "" {
		return fmt.Errorf("store name is required")
	}
	if item == nil || item.ID == "" {
		return fmt.Errorf("memory item is required")
	}
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	items, ok := s.db.memoryItems[store]
	if !ok {
		items = make(map[string]*models.MemoryItem)
		s.db.memoryItems[store] = items
	}
	items[item.ID] = cloneMemoryItem(item)
	return nil
}

func (s *memMemoryItemStore) Get(ctx context.Context, store, id string) (*models.MemoryItem, error) {
	if store == "" || id == "" {
		return nil, ErrNotFound
	}
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	item, ok := s.db.memoryItems[store][id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneMemoryItem(item), nil
}

func (s *memMemoryItemStore) List(ctx context.Context, store string) ([]*models.MemoryItem, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	items := make([]*models.MemoryItem, 0, len(s.db.memoryItems[store]))
	for _, item := range s.db.memoryItems[store] {
		items = append(items, cloneMemoryItem(item))
	}
	sort.Slice(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.Before(items[j].CreatedAt)
		}
		return items[i].ID < items[j].ID
	})
	return items, nil
}

func (s *memMemoryItemStore) Delete(ctx context.Context, store, id string) error {
	if store == "" || id == "" {
		return ErrNotFound
	}
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	items := s.db.memoryItems[store]
	if _, ok := items[id]; !ok {
		return ErrNotFound
	}
	delete(items, id)
	if len(items) == 0 {
		delete(s.db.memoryItems, store)
	}
	return nil
}

func (s *memMemoryItemStore) StoreNames(ctx context.Context) ([]string, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	names := make([]string, 0, len(s.db.memoryItems))
	for name := range s.db.memoryItems {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

type memRelationshipStore struct {
	db *memDB
}

func (s *memRelationshipStore) Put(ctx context.Context, rel *models.Relationship) error {
	if rel == nil || rel.ID == "" {
		return fmt.Errorf("relationship is required")
	}
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	s.db.relationships[rel.ID] = cloneRelationship(rel)
	return nil
}

func (s *memRelationshipStore) Get(ctx context.Context, id string) (*models.Relationship, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	rel, ok := s.db.relationships[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneRelationship(rel), nil
}

func (s *memRelationshipStore) List(ctx context.Context) ([]*models.Relationship, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	rels := make([]*models.Relationship, 0, len(s.db.relationships))
	for _, rel := range s.db.relationships {
		rels = append(rels, cloneRelationship(rel))
	}
	sort.Slice(rels, func(i, j int) bool {
		if !rels[i].FirstSeenAt.Equal(rels[j].FirstSeenAt) {
			return rels[i].FirstSeenAt.Before(rels[j].FirstSeenAt)
		}
		return rels[i].ID < rels[j].ID
	})
	return rels, nil
}

func (s *memRelationshipStore) Delete(ctx context.Context, id string) error {
	if id == "" {
		return ErrNotFound
	}
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if _, ok := s.db.relationships[id]; !ok {
		return ErrNotFound
	}
	delete(s.db.relationships, id)
	return nil
}

type memTaskStore struct {
	db *memDB
}

func (s *memTaskStore) Create(ctx context.Context, task *models.RelationshipTask) error {
	if task == nil || task.ID == "" {
		return fmt.Errorf("task is required")
	}
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if _, exists := s.db.tasks[task.ID]; exists {
		return ErrAlreadyExists
	}
	s.db.tasks[task.ID] = cloneTask(task)
	s.db.tasksByRelationship[task.RelationshipID] = append(s.db.tasksByRelationship[task.RelationshipID], task.ID)
	return nil
}

func (s *memTaskStore) Get(ctx context.Context, id string) (*models.RelationshipTask, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	task, ok := s.db.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneTask(task), nil
}

func (s *memTaskStore) ListByRelationship(ctx context.Context, relationshipID string) ([]*models.RelationshipTask, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	ids := s.db.tasksByRelationship[relationshipID]
	tasks := make([]*models.RelationshipTask, 0, len(ids))
	for _, id := range ids {
		if task, ok := s.db.tasks[id]; ok {
			tasks = append(tasks, cloneTask(task))
		}
	}
	sort.SliceStable(tasks, func(i, j int) bool { return tasks[i].CreatedAt.Before(tasks[j].CreatedAt) })
	return tasks, nil
}

func (s *memTaskStore) Update(ctx context.Context, task *models.RelationshipTask) error {
	if task == nil || task.ID == "" {
		return fmt.Errorf("task is required")
	}
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	old, exists := s.db.tasks[task.ID]
	if !exists {
		return ErrNotFound
	}
	if old.RelationshipID != task.RelationshipID {
		s.db.tasksByRelationship[old.RelationshipID] = removeID(s.db.tasksByRelationship[old.RelationshipID], task.ID)
		s.db.tasksByRelationship[task.RelationshipID] = append(s.db.tasksByRelationship[task.RelationshipID], task.ID)
	}
	s.db.tasks[task.ID] = cloneTask(task)
	return nil
}
