package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/evermind-ai/companion/pkg/model"
)

// GetProfile loads a bonding profile, or NotFound if the user has none.
func (d *Database) GetProfile(ctx context.Context, userID string) (*model.BondingProfile, error) {
	row := d.db.QueryRowContext(ctx, `
        SELECT id, user_id, relationship_level, interaction_count, conversation_minutes,
               memory_recall_accuracy, preferred_tone, personality_traits,
               user_preferences, last_interaction, created_at, updated_at
        FROM bonding_profiles WHERE user_id = ?;
    `, userID)

	var p model.BondingProfile
	var traits, prefs sql.NullString
	var last sql.NullTime
	err := row.Scan(&p.ID, &p.UserID, &p.RelationshipLevel, &p.InteractionCount,
		&p.ConversationMinutes, &p.MemoryRecallAccuracy, &p.PreferredTone,
		&traits, &prefs, &last, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.NotFoundf("no bonding profile for user %q", userID)
	}
	if err != nil {
		return nil, err
	}

	p.PersonalityTraits = map[string]float64{}
	if traits.Valid && traits.String != "" {
		_ = json.Unmarshal([]byte(traits.String), &p.PersonalityTraits)
	}
	p.UserPreferences = map[string]string{}
	if prefs.Valid && prefs.String != "" {
		_ = json.Unmarshal([]byte(prefs.String), &p.UserPreferences)
	}
	if last.Valid {
		p.LastInteraction = last.Time
	}
	return &p, nil
}

// SaveProfile inserts or replaces a bonding profile.
func (d *Database) SaveProfile(ctx context.Context, p *model.BondingProfile) error {
	traits, _ := json.Marshal(p.PersonalityTraits)
	prefs, _ := json.Marshal(p.UserPreferences)

	_, err := d.db.ExecContext(ctx, `
        INSERT INTO bonding_profiles(
            id, user_id, relationship_level, interaction_count, conversation_minutes,
            memory_recall_accuracy, preferred_tone, personality_traits,
            user_preferences, last_interaction, created_at, updated_at)
        VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(user_id) DO UPDATE SET
            relationship_level = excluded.relationship_level,
            interaction_count = excluded.interaction_count,
            conversation_minutes = excluded.conversation_minutes,
            memory_recall_accuracy = excluded.memory_recall_accuracy,
            preferred_tone = excluded.preferred_tone,
            personality_traits = excluded.personality_traits,
            user_preferences = excluded.user_preferences,
            last_interaction = excluded.last_interaction,
            updated_at = excluded.updated_at;
    `, p.ID, p.UserID, p.RelationshipLevel, p.InteractionCount, p.ConversationMinutes,
		p.MemoryRecallAccuracy, p.PreferredTone, string(traits), string(prefs),
		p.LastInteraction, p.CreatedAt, p.UpdatedAt)
	return err
}
