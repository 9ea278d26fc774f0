package sqlite

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evermind-ai/companion/pkg/model"
)

func newTestDB(t *testing.T) *Database {
	t.Helper()
	db, err := New(context.Background(), Config{
		Path:   filepath.Join(t.TempDir(), "test.db"),
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func testMemory(id, userID string, created time.Time) *model.Memory {
	return &model.Memory{
		ID:                id,
		UserID:            userID,
		Summary:           "summary " + id,
		FullText:          "full text " + id,
		EmotionDetected:   "happy",
		EmotionConfidence: 0.6,
		MemoryType:        model.MemoryNote,
		CreatedAt:         created,
		UpdatedAt:         created,
	}
}

func TestProfileRoundTrip(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	p := &model.BondingProfile{
		ID:                   "profile-1",
		UserID:               "alice",
		RelationshipLevel:    3,
		InteractionCount:     57,
		ConversationMinutes:  123.5,
		MemoryRecallAccuracy: 42.0,
		PreferredTone:        model.TonePlayful,
		PersonalityTraits:    map[string]float64{"humor": 0.9},
		UserPreferences:      map[string]string{"nickname": "Al"},
		LastInteraction:      now,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	require.NoError(t, db.SaveProfile(ctx, p))

	got, err := db.GetProfile(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "profile-1", got.ID)
	assert.Equal(t, 3, got.RelationshipLevel)
	assert.Equal(t, 57, got.InteractionCount)
	assert.InDelta(t, 123.5, got.ConversationMinutes, 1e-9)
	assert.Equal(t, model.TonePlayful, got.PreferredTone)
	assert.InDelta(t, 0.9, got.PersonalityTraits["humor"], 1e-9)
	assert.Equal(t, "Al", got.UserPreferences["nickname"])
	assert.True(t, got.LastInteraction.Equal(now))
}

func TestProfileUpsert(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	now := time.Now().UTC()
	p := &model.BondingProfile{
		ID: "profile-1", UserID: "bob", RelationshipLevel: 1,
		PreferredTone: model.ToneCasual,
		CreatedAt:     now, UpdatedAt: now, LastInteraction: now,
	}
	require.NoError(t, db.SaveProfile(ctx, p))

	p.RelationshipLevel = 2
	p.InteractionCount = 10
	require.NoError(t, db.SaveProfile(ctx, p))

	got, err := db.GetProfile(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, 2, got.RelationshipLevel)
	assert.Equal(t, 10, got.InteractionCount)
}

func TestGetProfileNotFound(t *testing.T) {
	db := newTestDB(t)

	_, err := db.GetProfile(context.Background(), "nobody")
	require.Error(t, err)
	assert.Equal(t, model.KindNotFound, model.KindOf(err))
}

func TestMemoryRoundTrip(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	m := testMemory("01A", "carol", now)
	m.MemoryType = model.MemoryBirthday
	require.NoError(t, db.InsertMemory(ctx, m))

	got, err := db.GetMemory(ctx, "01A")
	require.NoError(t, err)
	assert.Equal(t, "carol", got.UserID)
	assert.Equal(t, "summary 01A", got.Summary)
	assert.Equal(t, model.MemoryBirthday, got.MemoryType)
	assert.InDelta(t, 0.6, got.EmotionConfidence, 1e-9)
	assert.True(t, got.CreatedAt.Equal(now))

	_, err = db.GetMemory(ctx, "missing")
	assert.Equal(t, model.KindNotFound, model.KindOf(err))
}

func TestListAndCountMemories(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	require.NoError(t, db.InsertMemory(ctx, testMemory("01A", "dana", base)))
	require.NoError(t, db.InsertMemory(ctx, testMemory("01B", "dana", base.Add(time.Minute))))
	require.NoError(t, db.InsertMemory(ctx, testMemory("01C", "ed", base)))

	all, err := db.ListMemories(ctx, "dana")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "01A", all[0].ID)
	assert.Equal(t, "01B", all[1].ID)

	n, err := db.CountMemories(ctx, "dana")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	users, err := db.ListUserIDs(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"dana", "ed"}, users)
}

func TestRecentMemoriesOrder(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	require.NoError(t, db.InsertMemory(ctx, testMemory("01A", "fay", base)))
	require.NoError(t, db.InsertMemory(ctx, testMemory("01B", "fay", base.Add(2*time.Minute))))
	require.NoError(t, db.InsertMemory(ctx, testMemory("01C", "fay", base.Add(time.Minute))))

	recent, err := db.RecentMemories(ctx, "fay", 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "01B", recent[0].ID)
	assert.Equal(t, "01C", recent[1].ID)
}

func TestListMemoriesByTypes(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	base := time.Now().UTC()
	reminder := testMemory("01A", "gil", base)
	reminder.MemoryType = model.MemoryReminder
	note := testMemory("01B", "gil", base)
	event := testMemory("01C", "gil", base)
	event.MemoryType = model.MemoryEvent
	require.NoError(t, db.InsertMemory(ctx, reminder))
	require.NoError(t, db.InsertMemory(ctx, note))
	require.NoError(t, db.InsertMemory(ctx, event))

	got, err := db.ListMemoriesByTypes(ctx, "gil", []model.MemoryType{
		model.MemoryReminder, model.MemoryEvent,
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "01A", got[0].ID)
	assert.Equal(t, "01C", got[1].ID)
}

func TestBumpRecalled(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	base := time.Now().UTC()
	require.NoError(t, db.InsertMemory(ctx, testMemory("01A", "hal", base)))
	require.NoError(t, db.InsertMemory(ctx, testMemory("01B", "hal", base)))

	require.NoError(t, db.BumpRecalled(ctx, []string{"01A"}))
	require.NoError(t, db.BumpRecalled(ctx, []string{"01A", "01B"}))

	a, err := db.GetMemory(ctx, "01A")
	require.NoError(t, err)
	assert.Equal(t, 2, a.RecalledCount)

	b, err := db.GetMemory(ctx, "01B")
	require.NoError(t, err)
	assert.Equal(t, 1, b.RecalledCount)

	require.NoError(t, db.BumpRecalled(ctx, nil))
}

func TestApplyConsolidation(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	base := time.Now().UTC()
	survivor := testMemory("01A", "ida", base)
	absorbed := testMemory("01B", "ida", base)
	bystander := testMemory("01C", "ida", base)
	require.NoError(t, db.InsertMemory(ctx, survivor))
	require.NoError(t, db.InsertMemory(ctx, absorbed))
	require.NoError(t, db.InsertMemory(ctx, bystander))

	survivor.FullText = "full text 01A\nfull text 01B"
	survivor.UpdatedAt = base.Add(time.Minute)
	require.NoError(t, db.ApplyConsolidation(ctx, []model.Memory{*survivor}, []string{"01B"}))

	got, err := db.GetMemory(ctx, "01A")
	require.NoError(t, err)
	assert.Equal(t, "full text 01A\nfull text 01B", got.FullText)

	_, err = db.GetMemory(ctx, "01B")
	assert.Equal(t, model.KindNotFound, model.KindOf(err))

	n, err := db.CountMemories(ctx, "ida")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestIdempotencyKeys(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	_, ok, err := db.LookupIdempotency(ctx, "key-1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, db.PutIdempotency(ctx, "key-1", "jan", "01A"))

	id, ok, err := db.LookupIdempotency(ctx, "key-1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "01A", id)

	// replays keep the first binding
	require.NoError(t, db.PutIdempotency(ctx, "key-1", "jan", "01B"))
	id, _, err = db.LookupIdempotency(ctx, "key-1")
	require.NoError(t, err)
	assert.Equal(t, "01A", id)
}
