package models

import (
	"time"
)

// TurnStatus tracks a turn through its one-way state machine:
// pending → in_progress → completed | failed.
type TurnStatus string

const (
	TurnPending    TurnStatus = "pending"
	TurnInProgress TurnStatus = "in_progress"
	TurnCompleted  TurnStatus = "completed"
	TurnFailed     TurnStatus = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s TurnStatus) Terminal() bool {
	return s == TurnCompleted || s == TurnFailed
}

// CanTransition reports whether moving from s to next is a legal step.
func (s TurnStatus) CanTransition(next TurnStatus) bool {
	switch s {
	case TurnPending:
		return next == TurnInProgress || next == TurnFailed
	case TurnInProgress:
		return next == TurnCompleted || next == TurnFailed
	}
	return false
}

// MessageKind tags what a message's content refers to.
type MessageKind string

const (
	MessageText     MessageKind = "text"
	MessageImageRef MessageKind = "image_ref"
	MessageAudioRef MessageKind = "audio_ref"
	MessageFileRef  MessageKind = "file_ref"
	MessageMixed    MessageKind = "mixed"
)

// Message is a single utterance inside a turn. Content is plain text for
// MessageText and a reference (URL, data URI, or path) for the *_ref kinds.
type Message struct {
	ID         string          `json:"id"`
	TurnID     string          `json:"turn_id"`
	Content    string          `json:"content"`
	Kind       MessageKind     `json:"kind"`
	SenderID   string          `json:"sender_id"`
	SenderKind ParticipantKind `json:"sender_kind"`
	Tags       map[string]any  `json:"tags,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// InvocationStatus tracks a tool invocation's lifecycle.
type InvocationStatus string

const (
	InvocationPending   InvocationStatus = "pending"
	InvocationRunning   InvocationStatus = "running"
	InvocationCompleted InvocationStatus = "completed"
	InvocationFailed    InvocationStatus = "failed"
	InvocationCancelled InvocationStatus = "cancelled"
)

// Terminal reports whether the invocation has finished one way or another.
func (s InvocationStatus) Terminal() bool {
	return s == InvocationCompleted || s == InvocationFailed || s == InvocationCancelled
}

// ToolInvocation records one tool call made while processing a turn.
type ToolInvocation struct {
	ID          string           `json:"id"`
	TurnID      string           `json:"turn_id"`
	ToolName    string           `json:"tool_name"`
	ToolVersion string           `json:"tool_version,omitempty"`
	Args        map[string]any   `json:"args,omitempty"`
	Status      InvocationStatus `json:"status"`
	Result      string           `json:"result,omitempty"`
	Error       string           `json:"error,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
}

// Turn is one request/response exchange within a session. Ordinals are
// dense per session, starting at 0. A turn owns its messages and tool
// invocations; everything else links by id.
type Turn struct {
	ID            string           `json:"id"`
	SessionID     string           `json:"session_id"`
	Ordinal       int              `json:"ordinal"`
	InitiatorID   string           `json:"initiator_id"`
	InitiatorKind ParticipantKind  `json:"initiator_kind"`
	ResponderID   string           `json:"responder_id"`
	ResponderKind ParticipantKind  `json:"responder_kind"`
	Status        TurnStatus       `json:"status"`
	StartedAt     time.Time        `json:"started_at"`
	EndedAt       *time.Time       `json:"ended_at,omitempty"`
	Requests      []Message        `json:"requests"`
	Responses     []Message        `json:"responses,omitempty"`
	Invocations   []ToolInvocation `json:"invocations,omitempty"`
	Tags          map[string]any   `json:"tags,omitempty"`
}
