package models

import (
	"time"
)

// RelationshipStatus is the coarse lifecycle state of a relationship.
// active/cooling/silent are derived lazily from activity; broken is set
// only by an explicit disconnect and never reverts on its own.
type RelationshipStatus string

const (
	RelationshipActive  RelationshipStatus = "active"
	RelationshipCooling RelationshipStatus = "cooling"
	RelationshipSilent  RelationshipStatus = "silent"
	RelationshipBroken  RelationshipStatus = "broken"
)

// Relationship is the durable record for one pair of entities. Lookup is
// symmetric: (A,B) and (B,A) resolve to the same record.
type Relationship struct {
	ID    string          `json:"id"`
	AID   string          `json:"a_id"`
	AKind ParticipantKind `json:"a_kind"`
	BID   string          `json:"b_id"`
	BKind ParticipantKind `json:"b_kind"`

	FirstSeenAt  time.Time `json:"first_seen_at"`
	LastActiveAt time.Time `json:"last_active_at"`

	TotalRounds    int `json:"total_rounds"`
	ActiveDays     int `json:"active_days"`
	ResonanceCount int `json:"resonance_count"`

	DiaryCount      int     `json:"diary_count"`
	CoCreationCount int     `json:"co_creation_count"`
	GiftCount       int     `json:"gift_count"`
	Affection       float64 `json:"affection"`
	Recognition     float64 `json:"recognition"`

	// DailyRounds buckets rounds by UTC date (YYYY-MM-DD) for the recent
	// activity window; buckets older than the window are pruned on update.
	DailyRounds map[string]int `json:"daily_rounds,omitempty"`

	Status RelationshipStatus `json:"status"`
}

// IntensityLevel is the coarse band derived from the intensity score.
type IntensityLevel string

const (
	LevelStranger     IntensityLevel = "stranger"
	LevelAcquaintance IntensityLevel = "acquaintance"
	LevelFriend       IntensityLevel = "friend"
	LevelClose        IntensityLevel = "close"
	LevelIntimate     IntensityLevel = "intimate"
)

// RelationshipIntensity is the derived strength view over a relationship:
// three factors in [0,1] combined by fixed weights into Score, plus the
// level band Score falls into.
type RelationshipIntensity struct {
	RelationshipID string         `json:"relationship_id"`
	Interaction    float64        `json:"interaction"`
	Emotional      float64        `json:"emotional"`
	Collaboration  float64        `json:"collaboration"`
	Score          float64        `json:"score"`
	Level          IntensityLevel `json:"level"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// TaskStatus tracks a relationship task's lifecycle.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskCancelled  TaskStatus = "cancelled"
	TaskFailed     TaskStatus = "failed"
)

// Terminal reports whether the task has finished one way or another.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskCancelled || s == TaskFailed
}

// RelationshipTask is a background task materialized from a template when
// a relationship satisfies the template's activation predicates.
type RelationshipTask struct {
	ID             string             `json:"id"`
	RelationshipID string             `json:"relationship_id"`
	Template       string             `json:"template"`
	Title          string             `json:"title"`
	Description    string             `json:"description,omitempty"`
	Priority       int                `json:"priority"` // 1 (low) .. 5 (urgent)
	Status         TaskStatus         `json:"status"`
	CreatedAt      time.Time          `json:"created_at"`
	DueAt          *time.Time         `json:"due_at,omitempty"`
	CompletedAt    *time.Time         `json:"completed_at,omitempty"`
	MinIntensity   float64            `json:"min_intensity"`
	RequiredStatus RelationshipStatus `json:"required_status,omitempty"`
	Tags           map[string]any     `json:"tags,omitempty"`
}
