// Package models defines the core data types for Rapport.
package models

import (
	"time"
)

// DialogueKind classifies who talks to whom in a session.
type DialogueKind string

const (
	DialogueHumanAIPrivate   DialogueKind = "human_ai_private"
	DialogueAISelfReflection DialogueKind = "ai_self_reflection"
	DialogueHumanAIGroup     DialogueKind = "human_ai_group"
	DialogueAIMultiHuman     DialogueKind = "ai_multi_human"
	DialogueAIToAI           DialogueKind = "ai_ai"
	DialogueHumanPrivate     DialogueKind = "human_human_private"
	DialogueHumanGroup       DialogueKind = "human_human_group"
)

// Valid reports whether k is one of the recognized dialogue kinds.
func (k DialogueKind) Valid() bool {
	switch k {
	case DialogueHumanAIPrivate, DialogueAISelfReflection, DialogueHumanAIGroup,
		DialogueAIMultiHuman, DialogueAIToAI, DialogueHumanPrivate, DialogueHumanGroup:
		return true
	}
	return false
}

// ParticipantKind identifies what sort of entity a participant is.
type ParticipantKind string

const (
	ParticipantHuman  ParticipantKind = "human"
	ParticipantAI     ParticipantKind = "ai"
	ParticipantSystem ParticipantKind = "system"
)

// Participant is one party in a session.
type Participant struct {
	ID          string          `json:"id"`
	DisplayName string          `json:"display_name,omitempty"`
	Kind        ParticipantKind `json:"kind"`
}

// Session is a conversation thread between a fixed set of participants.
// Kind is immutable after creation; LastActivityAt never moves backward.
type Session struct {
	ID             string         `json:"id"`
	OwnerID        string         `json:"owner_id"`
	Kind           DialogueKind   `json:"kind"`
	Participants   []Participant  `json:"participants"`
	Tags           map[string]any `json:"tags,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	LastActivityAt time.Time      `json:"last_activity_at"`
}

// Participant returns the participant with the given id, if present.
func (s *Session) Participant(id string) (Participant, bool) {
	for _, p := range s.Participants {
		if p.ID == id {
			return p, true
		}
	}
	return Participant{}, false
}

// Touch advances LastActivityAt, never moving it backward.
func (s *Session) Touch(t time.Time) {
	if t.After(s.LastActivityAt) {
		s.LastActivityAt = t
	}
}
