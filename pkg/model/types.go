package model

import (
	"context"
	"time"
)

// MemoryType classifies a stored memory.
type MemoryType string

const (
	MemoryNote       MemoryType = "note"
	MemoryReminder   MemoryType = "reminder"
	MemoryBirthday   MemoryType = "birthday"
	MemoryEvent      MemoryType = "event"
	MemoryPreference MemoryType = "preference"
)

// ValidMemoryTypes are the allowed memory types.
var ValidMemoryTypes = map[MemoryType]bool{
	MemoryNote:       true,
	MemoryReminder:   true,
	MemoryBirthday:   true,
	MemoryEvent:      true,
	MemoryPreference: true,
}

// ProactiveMemoryTypes are the types surfaced by proactive recall.
var ProactiveMemoryTypes = map[MemoryType]bool{
	MemoryReminder: true,
	MemoryBirthday: true,
	MemoryEvent:    true,
}

// Tone is the companion's preferred conversational register.
type Tone string

const (
	ToneCasual  Tone = "casual"
	ToneFormal  Tone = "formal"
	TonePlayful Tone = "playful"
)

// ValidTones are the allowed tones.
var ValidTones = map[Tone]bool{
	ToneCasual:  true,
	ToneFormal:  true,
	TonePlayful: true,
}

// Memory is a single stored unit of user-specific information.
type Memory struct {
	ID                string     `json:"id"`
	UserID            string     `json:"user_id"`
	Summary           string     `json:"summary"`
	FullText          string     `json:"full_text"`
	EmotionDetected   string     `json:"emotion_detected,omitempty"`
	EmotionConfidence float64    `json:"emotion_confidence"`
	MemoryType        MemoryType `json:"memory_type"`
	RecalledCount     int        `json:"recalled_count"`
	RelevanceScore    float64    `json:"relevance_score,omitempty"`
	TriggerAt         *time.Time `json:"trigger_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// BondingProfile is the per-user relationship state.
type BondingProfile struct {
	ID                   string             `json:"id"`
	UserID               string             `json:"user_id"`
	RelationshipLevel    int                `json:"relationship_level"`
	InteractionCount     int                `json:"interaction_count"`
	ConversationMinutes  float64            `json:"conversation_minutes"`
	MemoryRecallAccuracy float64            `json:"memory_recall_accuracy"`
	PreferredTone        Tone               `json:"preferred_tone"`
	PersonalityTraits    map[string]float64 `json:"avatar_personality_traits"`
	UserPreferences      map[string]string  `json:"user_preferences"`
	LastInteraction      time.Time          `json:"last_interaction"`
	CreatedAt            time.Time          `json:"created_at"`
	UpdatedAt            time.Time          `json:"updated_at"`
}

// BondingStatus is a profile enriched with milestone-derived fields.
type BondingStatus struct {
	BondingProfile
	RelationshipName   string   `json:"relationship_name"`
	MilestonesAchieved []string `json:"milestones_achieved"`
	NextMilestone      string   `json:"next_milestone"`
	ProgressToNext     float64  `json:"progress_to_next"`
}

// MilestoneDefinition is a static description of one bonding level.
type MilestoneDefinition struct {
	Level       int      `json:"level"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Unlocks     []string `json:"unlocked_capabilities"`
}

// PersonaUpdate carries a partial persona merge. Nil fields are untouched.
type PersonaUpdate struct {
	PreferredTone     *Tone              `json:"preferred_tone,omitempty"`
	PersonalityTraits map[string]float64 `json:"avatar_personality_traits,omitempty"`
	UserPreferences   map[string]string  `json:"user_preferences,omitempty"`
}

// StoreParams is the input to Memory.Store.
type StoreParams struct {
	UserID            string     `json:"user_id"`
	Summary           string     `json:"summary"`
	FullText          string     `json:"full_text"`
	MemoryType        MemoryType `json:"memory_type"`
	EmotionDetected   string     `json:"emotion_detected,omitempty"`
	EmotionConfidence float64    `json:"emotion_confidence,omitempty"`
	IdempotencyKey    string     `json:"-"`
}

// RecallResult is the ranked output of a recall query.
type RecallResult struct {
	Memories     []Memory `json:"memories"`
	TotalCount   int      `json:"total_count"`
	SearchTimeMS float64  `json:"search_time_ms"`
}

// ConsolidationReport summarizes a consolidation pass.
type ConsolidationReport struct {
	ClustersMerged   int `json:"clusters_merged"`
	MemoriesAbsorbed int `json:"memories_absorbed"`
	RemainingCount   int `json:"remaining_count"`
}

// BondingService is the bonding engine surface consumed by transports.
type BondingService interface {
	GetStatus(ctx context.Context, userID string) (*BondingStatus, error)
	RecordInteraction(ctx context.Context, userID string, deltaMinutes float64) (*BondingStatus, bool, error)
	UpdatePersona(ctx context.Context, userID string, update PersonaUpdate) (*BondingStatus, error)
	AdjustRecallAccuracy(ctx context.Context, userID string, signal float64) error
}

// MemoryService is the memory engine surface consumed by transports.
type MemoryService interface {
	Store(ctx context.Context, params StoreParams) (*Memory, error)
	Recall(ctx context.Context, userID, query string, topK int) (*RecallResult, error)
	ProactiveRecall(ctx context.Context, userID string) (*RecallResult, error)
	Consolidate(ctx context.Context, userID string, threshold float64) (*ConsolidationReport, error)
}
