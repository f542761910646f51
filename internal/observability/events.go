// Event timeline for debugging and replaying turns.
package observability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Additional context keys for correlation IDs
const (
	// InvocationIDKey is the context key for tool invocation IDs.
	InvocationIDKey ContextKey = "invocation_id"

	// MessageIDKey is the context key for message IDs.
	MessageIDKey ContextKey = "message_id"
)

// WithInvocationID adds a tool invocation ID to the context.
func WithInvocationID(ctx context.Context, invocationID string) context.Context {
	return context.WithValue(ctx, InvocationIDKey, invocationID)
}

// InvocationID retrieves the tool invocation ID from the context.
func InvocationID(ctx context.Context) string {
	if id, ok := ctx.Value(InvocationIDKey).(string); ok {
		return id
	}
	return ""
}

// WithMessageID adds a message ID to the context.
func WithMessageID(ctx context.Context, messageID string) context.Context {
	return context.WithValue(ctx, MessageIDKey, messageID)
}

// MessageID retrieves the message ID from the context.
func MessageID(ctx context.Context) string {
	if id, ok := ctx.Value(MessageIDKey).(string); ok {
		return id
	}
	return ""
}

// EventType categorizes events for filtering and display.
type EventType string

const (
	EventTypeTurnStart     EventType = "turn.start"
	EventTypeTurnEnd       EventType = "turn.end"
	EventTypeTurnError     EventType = "turn.error"
	EventTypeContextInject EventType = "context.inject"
	EventTypeToolStart     EventType = "tool.start"
	EventTypeToolEnd       EventType = "tool.end"
	EventTypeToolError     EventType = "tool.error"
	EventTypeModelRequest  EventType = "model.request"
	EventTypeModelResponse EventType = "model.response"
	EventTypeModelError    EventType = "model.error"
	EventTypeMemoryWrite   EventType = "memory.write"
	EventTypeMemoryQuery   EventType = "memory.query"
	EventTypeTaskCreated   EventType = "task.created"
	EventTypeTaskDone      EventType = "task.done"
	EventTypeCustom        EventType = "custom"
)

// Event represents a single event in a turn timeline.
type Event struct {
	ID           string         `json:"id"`
	Type         EventType      `json:"type"`
	Timestamp    time.Time      `json:"timestamp"`
	TurnID       string         `json:"turn_id,omitempty"`
	SessionID    string         `json:"session_id,omitempty"`
	InvocationID string         `json:"invocation_id,omitempty"`
	MessageID    string         `json:"message_id,omitempty"`
	Name         string         `json:"name,omitempty"`
	Data         map[string]any `json:"data,omitempty"`
	Duration     time.Duration  `json:"duration_ns,omitempty"`
	Error        string         `json:"error,omitempty"`
	TraceID      string         `json:"trace_id,omitempty"`
	SpanID       string         `json:"span_id,omitempty"`
}

// EventStore stores and retrieves events for debugging.
type EventStore interface {
	// Record stores an event.
	Record(event *Event) error

	// GetByTurnID returns all events for a turn, sorted by timestamp.
	GetByTurnID(turnID string) ([]*Event, error)

	// GetBySessionID returns all events for a session, sorted by timestamp.
	GetBySessionID(sessionID string) ([]*Event, error)

	// GetByType returns events of a specific type, most recent first.
	GetByType(eventType EventType, limit int) ([]*Event, error)

	// Get returns a single event by ID.
	Get(id string) (*Event, error)

	// Delete removes events older than the given duration.
	Delete(olderThan time.Duration) (int, error)
}

// MemoryEventStore is an in-memory implementation of EventStore.
type MemoryEventStore struct {
	mu        sync.RWMutex
	events    map[string]*Event
	byTurn    map[string][]string // turnID -> eventIDs
	bySession map[string][]string // sessionID -> eventIDs
	maxSize   int
}

// NewMemoryEventStore creates a new in-memory event store.
func NewMemoryEventStore(maxSize int) *MemoryEventStore {
	if maxSize <= 0 {
		maxSize = 10000
	}
	return &MemoryEventStore{
		events:    make(map[string]*Event),
		byTurn:    make(map[string][]string),
		bySession: make(map[string][]string),
		maxSize:   maxSize,
	}
}

func (s *MemoryEventStore) Record(event *Event) error {
	if event == nil {
		return errors.New("event cannot be nil")
	}
	if event.ID == "" {
		event.ID = generateEventID()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.events) >= s.maxSize {
		s.evictOldest()
	}

	s.events[event.ID] = event

	if event.TurnID != "" {
		s.byTurn[event.TurnID] = append(s.byTurn[event.TurnID], event.ID)
	}
	if event.SessionID != "" {
		s.bySession[event.SessionID] = append(s.bySession[event.SessionID], event.ID)
	}

	return nil
}

func (s *MemoryEventStore) GetByTurnID(turnID string) ([]*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collect(s.byTurn[turnID]), nil
}

func (s *MemoryEventStore) GetBySessionID(sessionID string) ([]*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collect(s.bySession[sessionID]), nil
}

func (s *MemoryEventStore) collect(ids []string) []*Event {
	events := make([]*Event, 0, len(ids))
	for _, id := range ids {
		if e, ok := s.events[id]; ok {
			events = append(events, e)
		}
	}
	sort.Slice(events, func(i, j int) bool {
		return events[i].Timestamp.Before(events[j].Timestamp)
	})
	return events
}

func (s *MemoryEventStore) GetByType(eventType EventType, limit int) ([]*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var events []*Event
	for _, e := range s.events {
		if e.Type == eventType {
			events = append(events, e)
		}
	}

	sort.Slice(events, func(i, j int) bool {
		return events[i].Timestamp.After(events[j].Timestamp) // Most recent first
	})

	if limit > 0 && len(events) > limit {
		events = events[:limit]
	}

	return events, nil
}

func (s *MemoryEventStore) Get(id string) (*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.events[id]
	if !ok {
		return nil, fmt.Errorf("event not found: %s", id)
	}
	return e, nil
}

func (s *MemoryEventStore) Delete(olderThan time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-olderThan)
	deleted := 0

	for id, e := range s.events {
		if e.Timestamp.Before(cutoff) {
			delete(s.events, id)
			deleted++
		}
	}

	s.byTurn = rebuildIndex(s.byTurn, s.events)
	s.bySession = rebuildIndex(s.bySession, s.events)

	return deleted, nil
}

func rebuildIndex(index map[string][]string, events map[string]*Event) map[string][]string {
	rebuilt := make(map[string][]string, len(index))
	for key, ids := range index {
		var remaining []string
		for _, id := range ids {
			if _, ok := events[id]; ok {
				remaining = append(remaining, id)
			}
		}
		if len(remaining) > 0 {
			rebuilt[key] = remaining
		}
	}
	return rebuilt
}

func (s *MemoryEventStore) evictOldest() {
	// Remove the oldest 10% to amortize the sort.
	toRemove := s.maxSize / 10
	if toRemove < 1 {
		toRemove = 1
	}

	var events []*Event
	for _, e := range s.events {
		events = append(events, e)
	}
	sort.Slice(events, func(i, j int) bool {
		return events[i].Timestamp.Before(events[j].Timestamp)
	})

	for i := 0; i < toRemove && i < len(events); i++ {
		delete(s.events, events[i].ID)
	}
}

// EventRecorder provides a convenient API for recording turn events.
type EventRecorder struct {
	store  EventStore
	logger *Logger
}

// NewEventRecorder creates a new event recorder.
func NewEventRecorder(store EventStore, logger *Logger) *EventRecorder {
	return &EventRecorder{
		store:  store,
		logger: logger,
	}
}

// Record records an event, extracting correlation IDs from context.
func (r *EventRecorder) Record(ctx context.Context, eventType EventType, name string, data map[string]any) error {
	event := &Event{
		ID:           generateEventID(),
		Type:         eventType,
		Timestamp:    time.Now(),
		TurnID:       TurnID(ctx),
		SessionID:    SessionID(ctx),
		InvocationID: InvocationID(ctx),
		MessageID:    MessageID(ctx),
		Name:         name,
		Data:         data,
		TraceID:      GetTraceID(ctx),
		SpanID:       GetSpanID(ctx),
	}

	if r.logger != nil {
		r.logger.Debug(ctx, "event recorded",
			"event_type", string(eventType),
			"event_name", name,
			"event_id", event.ID,
		)
	}

	return r.store.Record(event)
}

// RecordError records an error event.
func (r *EventRecorder) RecordError(ctx context.Context, eventType EventType, name string, err error, data map[string]any) error {
	if data == nil {
		data = make(map[string]any)
	}
	data["error"] = err.Error()

	event := &Event{
		ID:           generateEventID(),
		Type:         eventType,
		Timestamp:    time.Now(),
		TurnID:       TurnID(ctx),
		SessionID:    SessionID(ctx),
		InvocationID: InvocationID(ctx),
		MessageID:    MessageID(ctx),
		Name:         name,
		Data:         data,
		Error:        err.Error(),
		TraceID:      GetTraceID(ctx),
		SpanID:       GetSpanID(ctx),
	}

	if r.logger != nil {
		r.logger.Error(ctx, "error event recorded",
			"event_type", string(eventType),
			"event_name", name,
			"event_id", event.ID,
			"error", err,
		)
	}

	return r.store.Record(event)
}

// RecordToolStart records a tool invocation start event.
func (r *EventRecorder) RecordToolStart(ctx context.Context, toolName string, args any) error {
	data := map[string]any{
		"tool": toolName,
	}
	if args != nil {
		if b, err := json.Marshal(args); err == nil {
			data["args"] = string(b)
		}
	}
	return r.Record(ctx, EventTypeToolStart, toolName, data)
}

// RecordToolEnd records a tool invocation end event.
func (r *EventRecorder) RecordToolEnd(ctx context.Context, toolName string, duration time.Duration, result any, err error) error {
	data := map[string]any{
		"tool":        toolName,
		"duration_ms": duration.Milliseconds(),
	}
	if result != nil {
		if b, err := json.Marshal(result); err == nil {
			data["result"] = string(b)
		}
	}

	if err != nil {
		return r.RecordError(ctx, EventTypeToolError, toolName, err, data)
	}

	return r.Record(ctx, EventTypeToolEnd, toolName, data)
}

// RecordTurnStart records a turn start event.
func (r *EventRecorder) RecordTurnStart(ctx context.Context, turnID string, data map[string]any) error {
	ctx = WithTurnID(ctx, turnID)
	return r.Record(ctx, EventTypeTurnStart, "turn_start", data)
}

// RecordTurnEnd records a turn end event.
func (r *EventRecorder) RecordTurnEnd(ctx context.Context, duration time.Duration, err error) error {
	data := map[string]any{
		"duration_ms": duration.Milliseconds(),
	}
	if err != nil {
		return r.RecordError(ctx, EventTypeTurnError, "turn_error", err, data)
	}
	return r.Record(ctx, EventTypeTurnEnd, "turn_end", data)
}

// Timeline represents a sequence of events for display.
type Timeline struct {
	TurnID    string           `json:"turn_id"`
	SessionID string           `json:"session_id"`
	StartTime time.Time        `json:"start_time"`
	EndTime   time.Time        `json:"end_time"`
	Duration  time.Duration    `json:"duration"`
	Events    []*Event         `json:"events"`
	Summary   *TimelineSummary `json:"summary"`
}

// TimelineSummary provides aggregate statistics for a timeline.
type TimelineSummary struct {
	TotalEvents   int           `json:"total_events"`
	ErrorCount    int           `json:"error_count"`
	ToolCalls     int           `json:"tool_calls"`
	ModelCalls    int           `json:"model_calls"`
	MemoryOps     int           `json:"memory_ops"`
	TotalDuration time.Duration `json:"total_duration"`
}

// BuildTimeline creates a timeline from events.
func BuildTimeline(events []*Event) *Timeline {
	if len(events) == 0 {
		return &Timeline{Summary: &TimelineSummary{}}
	}

	sort.Slice(events, func(i, j int) bool {
		return events[i].Timestamp.Before(events[j].Timestamp)
	})

	timeline := &Timeline{
		Events:    events,
		StartTime: events[0].Timestamp,
		EndTime:   events[len(events)-1].Timestamp,
		Duration:  events[len(events)-1].Timestamp.Sub(events[0].Timestamp),
		Summary:   &TimelineSummary{TotalEvents: len(events)},
	}

	for _, e := range events {
		if e.TurnID != "" && timeline.TurnID == "" {
			timeline.TurnID = e.TurnID
		}
		if e.SessionID != "" && timeline.SessionID == "" {
			timeline.SessionID = e.SessionID
		}
		if timeline.TurnID != "" && timeline.SessionID != "" {
			break
		}
	}

	for _, e := range events {
		if e.Error != "" {
			timeline.Summary.ErrorCount++
		}
		switch e.Type {
		case EventTypeToolStart:
			timeline.Summary.ToolCalls++
		case EventTypeModelRequest:
			timeline.Summary.ModelCalls++
		case EventTypeMemoryWrite, EventTypeMemoryQuery:
			timeline.Summary.MemoryOps++
		}
		timeline.Summary.TotalDuration += e.Duration
	}

	return timeline
}

// FormatTimeline formats a timeline for display.
func FormatTimeline(timeline *Timeline) string {
	if timeline == nil || len(timeline.Events) == 0 {
		return "No events found"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "=== Timeline for Turn: %s ===\n", timeline.TurnID)
	fmt.Fprintf(&b, "Session: %s\n", timeline.SessionID)
	fmt.Fprintf(&b, "Duration: %v\n", timeline.Duration)
	fmt.Fprintf(&b, "Events: %d (Errors: %d)\n", timeline.Summary.TotalEvents, timeline.Summary.ErrorCount)
	fmt.Fprintf(&b, "Tool calls: %d, Model calls: %d, Memory ops: %d\n\n",
		timeline.Summary.ToolCalls, timeline.Summary.ModelCalls, timeline.Summary.MemoryOps)

	for i, e := range timeline.Events {
		prefix := "├─"
		if i == len(timeline.Events)-1 {
			prefix = "└─"
		}

		timestamp := e.Timestamp.Format("15:04:05.000")
		errorMark := ""
		if e.Error != "" {
			errorMark = " !"
		}

		fmt.Fprintf(&b, "%s [%s] %s: %s%s\n", prefix, timestamp, e.Type, e.Name, errorMark)

		if e.Duration > 0 {
			fmt.Fprintf(&b, "   Duration: %v\n", e.Duration)
		}
		if e.Error != "" {
			fmt.Fprintf(&b, "   Error: %s\n", e.Error)
		}
	}

	return b.String()
}

var eventIDCounter int64
var eventIDMu sync.Mutex

func generateEventID() string {
	eventIDMu.Lock()
	defer eventIDMu.Unlock()
	eventIDCounter++
	return fmt.Sprintf("evt_%d_%d", time.Now().UnixNano(), eventIDCounter)
}
