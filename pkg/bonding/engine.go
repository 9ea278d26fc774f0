package bonding

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/evermind-ai/companion/internal/userlock"
	"github.com/evermind-ai/companion/pkg/model"
	"github.com/evermind-ai/companion/pkg/store/sqlite"
)

// Options configures the bonding engine.
type Options struct {
	// CreateMissing makes GetStatus and UpdatePersona create a default
	// profile instead of failing with NotFound.
	CreateMissing bool
	OpTimeout     time.Duration
	Logger        *slog.Logger
}

// Engine computes level transitions and owns all profile mutation.
type Engine struct {
	db    *sqlite.Database
	locks *userlock.Registry
	opts  Options
}

// New creates a bonding engine on top of the durable store.
func New(db *sqlite.Database, opts Options) *Engine {
	if opts.OpTimeout <= 0 {
		opts.OpTimeout = 5 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(os.Stdout, nil))
	}
	return &Engine{db: db, locks: userlock.New(), opts: opts}
}

var _ model.BondingService = (*Engine)(nil)

// GetStatus returns the profile with milestone-derived fields filled in.
func (e *Engine) GetStatus(ctx context.Context, userID string) (*model.BondingStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, e.opts.OpTimeout)
	defer cancel()

	lock := e.locks.Get(userID)
	lock.RLock()
	profile, err := e.db.GetProfile(ctx, userID)
	lock.RUnlock()

	if err != nil && model.KindOf(err) == model.KindNotFound && e.opts.CreateMissing {
		lock.Lock()
		profile, err = e.loadOrCreate(ctx, userID)
		lock.Unlock()
	}
	if err != nil {
		return nil, model.WrapInternal(err, "get bonding status")
	}
	return e.status(profile), nil
}

// RecordInteraction bumps the counters, recomputes the level, and reports
// whether a level-up occurred. The profile is created lazily on first use.
func (e *Engine) RecordInteraction(ctx context.Context, userID string, deltaMinutes float64) (*model.BondingStatus, bool, error) {
	if deltaMinutes < 0 {
		return nil, false, model.InvalidArgumentf("delta_minutes must be >= 0, got %v", deltaMinutes)
	}
	ctx, cancel := context.WithTimeout(ctx, e.opts.OpTimeout)
	defer cancel()

	lock := e.locks.Get(userID)
	lock.Lock()
	defer lock.Unlock()

	profile, err := e.loadOrCreate(ctx, userID)
	if err != nil {
		return nil, false, model.WrapInternal(err, "record interaction")
	}

	now := time.Now().UTC()
	profile.InteractionCount++
	profile.ConversationMinutes += deltaMinutes
	profile.LastInteraction = now
	profile.UpdatedAt = now

	// levels never regress: an override can sit ahead of the derived level
	before := profile.RelationshipLevel
	if derived := LevelForCount(profile.InteractionCount); derived > profile.RelationshipLevel {
		profile.RelationshipLevel = derived
	}
	leveledUp := profile.RelationshipLevel > before

	if err := e.db.SaveProfile(ctx, profile); err != nil {
		return nil, false, model.WrapInternal(err, "save bonding profile")
	}
	if leveledUp {
		e.opts.Logger.Info("bonding level up", "user", userID,
			"level", profile.RelationshipLevel, "interactions", profile.InteractionCount)
	}
	return e.status(profile), leveledUp, nil
}

// UpdatePersona merges tone, traits, and preferences into the profile.
// Counters and level are untouched.
func (e *Engine) UpdatePersona(ctx context.Context, userID string, update model.PersonaUpdate) (*model.BondingStatus, error) {
	if update.PreferredTone != nil && !model.ValidTones[*update.PreferredTone] {
		return nil, model.InvalidArgumentf("unknown tone %q", *update.PreferredTone)
	}
	ctx, cancel := context.WithTimeout(ctx, e.opts.OpTimeout)
	defer cancel()

	lock := e.locks.Get(userID)
	lock.Lock()
	defer lock.Unlock()

	var profile *model.BondingProfile
	var err error
	if e.opts.CreateMissing {
		profile, err = e.loadOrCreate(ctx, userID)
	} else {
		profile, err = e.db.GetProfile(ctx, userID)
	}
	if err != nil {
		return nil, model.WrapInternal(err, "update persona")
	}

	if update.PreferredTone != nil {
		profile.PreferredTone = *update.PreferredTone
	}
	for k, v := range update.PersonalityTraits {
		profile.PersonalityTraits[k] = clamp01(v)
	}
	for k, v := range update.UserPreferences {
		profile.UserPreferences[k] = v
	}
	profile.UpdatedAt = time.Now().UTC()

	if err := e.db.SaveProfile(ctx, profile); err != nil {
		return nil, model.WrapInternal(err, "save bonding profile")
	}
	return e.status(profile), nil
}

// AdjustRecallAccuracy folds a recall confidence signal in [0,1] into the
// profile as an exponential moving average (weight 0.2). This is the one
// entry point the memory store uses to touch the profile.
func (e *Engine) AdjustRecallAccuracy(ctx context.Context, userID string, signal float64) error {
	ctx, cancel := context.WithTimeout(ctx, e.opts.OpTimeout)
	defer cancel()

	lock := e.locks.Get(userID)
	lock.Lock()
	defer lock.Unlock()

	profile, err := e.loadOrCreate(ctx, userID)
	if err != nil {
		return model.WrapInternal(err, "adjust recall accuracy")
	}
	profile.MemoryRecallAccuracy = profile.MemoryRecallAccuracy*0.8 + clamp01(signal)*100*0.2
	profile.UpdatedAt = time.Now().UTC()

	if err := e.db.SaveProfile(ctx, profile); err != nil {
		return model.WrapInternal(err, "save bonding profile")
	}
	return nil
}

// Reset performs the administrative soft reset: level and counters back to
// their defaults, persona preserved, profile row kept.
func (e *Engine) Reset(ctx context.Context, userID string) error {
	ctx, cancel := context.WithTimeout(ctx, e.opts.OpTimeout)
	defer cancel()

	lock := e.locks.Get(userID)
	lock.Lock()
	defer lock.Unlock()

	profile, err := e.db.GetProfile(ctx, userID)
	if err != nil {
		return model.WrapInternal(err, "reset bonding profile")
	}
	profile.RelationshipLevel = 1
	profile.InteractionCount = 0
	profile.ConversationMinutes = 0
	profile.MemoryRecallAccuracy = 0
	profile.UpdatedAt = time.Now().UTC()

	if err := e.db.SaveProfile(ctx, profile); err != nil {
		return model.WrapInternal(err, "save bonding profile")
	}
	return nil
}

// SetLevelOverride pins the level independently of the interaction count.
// This is the only path to level 10.
func (e *Engine) SetLevelOverride(ctx context.Context, userID string, level int) error {
	if level < 1 || level > MaxLevel {
		return model.InvalidArgumentf("level must be in [1,%d], got %d", MaxLevel, level)
	}
	ctx, cancel := context.WithTimeout(ctx, e.opts.OpTimeout)
	defer cancel()

	lock := e.locks.Get(userID)
	lock.Lock()
	defer lock.Unlock()

	profile, err := e.loadOrCreate(ctx, userID)
	if err != nil {
		return model.WrapInternal(err, "set level override")
	}
	profile.RelationshipLevel = level
	profile.UpdatedAt = time.Now().UTC()

	if err := e.db.SaveProfile(ctx, profile); err != nil {
		return model.WrapInternal(err, "save bonding profile")
	}
	return nil
}

// loadOrCreate must run under the user's write lock.
func (e *Engine) loadOrCreate(ctx context.Context, userID string) (*model.BondingProfile, error) {
	profile, err := e.db.GetProfile(ctx, userID)
	if err == nil {
		return profile, nil
	}
	if model.KindOf(err) != model.KindNotFound {
		return nil, err
	}

	now := time.Now().UTC()
	traits := make(map[string]float64, len(levelOneTraits))
	for k, v := range levelOneTraits {
		traits[k] = v
	}
	profile = &model.BondingProfile{
		ID:                uuid.NewString(),
		UserID:            userID,
		RelationshipLevel: 1,
		PreferredTone:     model.ToneCasual,
		PersonalityTraits: traits,
		UserPreferences:   map[string]string{},
		LastInteraction:   now,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := e.db.SaveProfile(ctx, profile); err != nil {
		return nil, err
	}
	return profile, nil
}

func (e *Engine) status(p *model.BondingProfile) *model.BondingStatus {
	st := &model.BondingStatus{
		BondingProfile:     *p,
		MilestonesAchieved: achievedNames(p.RelationshipLevel),
		ProgressToNext:     ProgressToNext(p.RelationshipLevel, p.InteractionCount),
	}
	if m, ok := MilestoneFor(p.RelationshipLevel); ok {
		st.RelationshipName = m.Name
	}
	if next, ok := MilestoneFor(p.RelationshipLevel + 1); ok {
		st.NextMilestone = next.Name
	}
	return st
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
