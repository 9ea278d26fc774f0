// Package memory implements the durable memory store: insertion, ranked
// recall, proactive surfacing, and consolidation of near-duplicates.
package memory

import (
	"context"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/evermind-ai/companion/internal/userlock"
	"github.com/evermind-ai/companion/pkg/embed"
	"github.com/evermind-ai/companion/pkg/model"
	"github.com/evermind-ai/companion/pkg/store/sqlite"
	"github.com/evermind-ai/companion/pkg/store/vector"
)

// AccuracyAdjuster is the narrow bonding hook the recall path feeds.
type AccuracyAdjuster interface {
	AdjustRecallAccuracy(ctx context.Context, userID string, signal float64) error
}

// Options configures the memory engine.
type Options struct {
	Lookahead          time.Duration // proactive recall window
	OpTimeout          time.Duration
	RelevanceThreshold float64 // a result at or above this counts toward the accuracy signal
	SummaryMaxLen      int
	DefaultTopK        int
	Logger             *slog.Logger
}

// Engine composes the durable store, the vector index, and the embedder.
type Engine struct {
	db       *sqlite.Database
	index    *vector.Index
	embedder embed.Embedder
	bonding  AccuracyAdjuster
	locks    *userlock.Registry
	opts     Options

	mu            sync.Mutex
	consolidating map[string]bool
}

// New creates a memory engine. bonding may be nil when no profile exists to
// feed accuracy back into.
func New(db *sqlite.Database, index *vector.Index, embedder embed.Embedder, bonding AccuracyAdjuster, opts Options) *Engine {
	if opts.Lookahead <= 0 {
		opts.Lookahead = 7 * 24 * time.Hour
	}
	if opts.OpTimeout <= 0 {
		opts.OpTimeout = 5 * time.Second
	}
	if opts.RelevanceThreshold <= 0 {
		opts.RelevanceThreshold = 0.5
	}
	if opts.SummaryMaxLen <= 0 {
		opts.SummaryMaxLen = 200
	}
	if opts.DefaultTopK <= 0 {
		opts.DefaultTopK = 5
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(os.Stdout, nil))
	}
	return &Engine{
		db:            db,
		index:         index,
		embedder:      embedder,
		bonding:       bonding,
		locks:         userlock.New(),
		opts:          opts,
		consolidating: make(map[string]bool),
	}
}

var _ model.MemoryService = (*Engine)(nil)

// Rebuild re-embeds every stored memory into the vector index. Run at boot;
// the index is in-memory only.
func (e *Engine) Rebuild(ctx context.Context) error {
	users, err := e.db.ListUserIDs(ctx)
	if err != nil {
		return model.WrapInternal(err, "list users for index rebuild")
	}
	total := 0
	for _, userID := range users {
		memories, err := e.db.ListMemories(ctx, userID)
		if err != nil {
			return model.WrapInternal(err, "list memories for index rebuild")
		}
		for i := range memories {
			if err := e.indexMemory(ctx, &memories[i]); err != nil {
				return err
			}
		}
		total += len(memories)
	}
	e.opts.Logger.Info("vector index rebuilt", "users", len(users), "memories", total)
	return nil
}

// Store validates, persists, and indexes a new memory. An idempotency key,
// when supplied, makes replays return the originally created record.
func (e *Engine) Store(ctx context.Context, params model.StoreParams) (*model.Memory, error) {
	if params.UserID == "" {
		return nil, model.InvalidArgumentf("user_id is required")
	}
	if strings.TrimSpace(params.FullText) == "" {
		return nil, model.InvalidArgumentf("full_text must not be empty")
	}
	if params.MemoryType == "" {
		params.MemoryType = model.MemoryNote
	}
	if !model.ValidMemoryTypes[params.MemoryType] {
		return nil, model.InvalidArgumentf("unknown memory_type %q", params.MemoryType)
	}

	ctx, cancel := context.WithTimeout(ctx, e.opts.OpTimeout)
	defer cancel()

	lock := e.locks.Get(params.UserID)
	lock.Lock()
	defer lock.Unlock()

	if params.IdempotencyKey != "" {
		if id, ok, err := e.db.LookupIdempotency(ctx, params.IdempotencyKey); err != nil {
			return nil, model.WrapInternal(err, "idempotency lookup")
		} else if ok {
			return e.db.GetMemory(ctx, id)
		}
	}

	summary := strings.TrimSpace(params.Summary)
	if summary == "" {
		summary = summarize(params.FullText, e.opts.SummaryMaxLen)
	} else {
		summary = summarize(summary, e.opts.SummaryMaxLen)
	}

	emotion, confidence := params.EmotionDetected, params.EmotionConfidence
	if emotion == "" {
		emotion, confidence = detectEmotion(params.FullText)
	}

	now := time.Now().UTC()
	m := &model.Memory{
		ID:                ulid.Make().String(),
		UserID:            params.UserID,
		Summary:           summary,
		FullText:          params.FullText,
		EmotionDetected:   emotion,
		EmotionConfidence: confidence,
		MemoryType:        params.MemoryType,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	// embed before any write so a scoring failure leaves no partial state
	emb, err := e.embedder.Embed(ctx, embedText(m))
	if err != nil {
		return nil, model.WrapInternal(err, "embed memory")
	}
	if err := e.db.InsertMemory(ctx, m); err != nil {
		return nil, model.WrapInternal(err, "insert memory")
	}
	if params.IdempotencyKey != "" {
		if err := e.db.PutIdempotency(ctx, params.IdempotencyKey, m.UserID, m.ID); err != nil {
			return nil, model.WrapInternal(err, "record idempotency key")
		}
	}
	if err := e.index.Add(ctx, m.UserID, m.ID, emb, m.Summary); err != nil {
		return nil, model.WrapInternal(err, "index memory")
	}
	return m, nil
}

// Recall returns top-K memories. An empty query lists the most recent; a
// non-empty query ranks by similarity. Every returned memory's
// recalled_count is bumped exactly once, and scored recalls fold a
// confidence signal into the owner's bonding profile.
func (e *Engine) Recall(ctx context.Context, userID, query string, topK int) (*model.RecallResult, error) {
	if userID == "" {
		return nil, model.InvalidArgumentf("user_id is required")
	}
	if topK <= 0 {
		topK = e.opts.DefaultTopK
	}
	ctx, cancel := context.WithTimeout(ctx, e.opts.OpTimeout)
	defer cancel()

	// recall mutates counters and accuracy, so it serializes like a write
	lock := e.locks.Get(userID)
	lock.Lock()
	defer lock.Unlock()

	start := time.Now()
	total, err := e.db.CountMemories(ctx, userID)
	if err != nil {
		return nil, model.WrapInternal(err, "count memories")
	}

	var ranked []model.Memory
	query = strings.TrimSpace(query)
	if query == "" {
		ranked, err = e.db.RecentMemories(ctx, userID, topK)
		if err != nil {
			return nil, model.WrapInternal(err, "list recent memories")
		}
	} else {
		ranked, err = e.rank(ctx, userID, query, topK)
		if err != nil {
			return nil, err
		}
	}

	ids := make([]string, len(ranked))
	for i := range ranked {
		ids[i] = ranked[i].ID
	}
	if err := e.db.BumpRecalled(ctx, ids); err != nil {
		return nil, model.WrapInternal(err, "bump recalled counts")
	}
	for i := range ranked {
		ranked[i].RecalledCount++
	}

	if query != "" && e.bonding != nil {
		signal := 0.0
		if len(ranked) > 0 {
			hits := 0
			for i := range ranked {
				if ranked[i].RelevanceScore >= e.opts.RelevanceThreshold {
					hits++
				}
			}
			signal = float64(hits) / float64(len(ranked))
		}
		// counters are already committed; the accuracy average is a
		// running estimate, so a failed adjustment must not fail the
		// recall or a retry would bump counters twice
		if err := e.bonding.AdjustRecallAccuracy(ctx, userID, signal); err != nil {
			e.opts.Logger.Warn("adjust recall accuracy", "user", userID, "err", err)
		}
	}

	if ranked == nil {
		ranked = []model.Memory{}
	}
	return &model.RecallResult{
		Memories:     ranked,
		TotalCount:   total,
		SearchTimeMS: float64(time.Since(start).Microseconds()) / 1000.0,
	}, nil
}

// rank scores every indexed memory against the query and keeps the top K.
// Ordering is fully deterministic: score desc, recalled_count desc, id asc.
func (e *Engine) rank(ctx context.Context, userID, query string, topK int) ([]model.Memory, error) {
	queryEmb, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, model.WrapInternal(err, "embed query")
	}
	scored, err := e.index.Search(ctx, userID, queryEmb, e.index.Count(userID))
	if err != nil {
		return nil, model.WrapInternal(err, "vector search")
	}
	if len(scored) == 0 {
		return nil, nil
	}

	scores := make(map[string]float64, len(scored))
	ids := make([]string, 0, len(scored))
	for _, s := range scored {
		scores[s.ID] = s.Similarity
		ids = append(ids, s.ID)
	}
	candidates, err := e.db.FetchMemories(ctx, ids)
	if err != nil {
		return nil, model.WrapInternal(err, "fetch ranked memories")
	}
	for i := range candidates {
		candidates[i].RelevanceScore = scores[candidates[i].ID]
	}
	sort.Slice(candidates, func(i, j int) bool {
		a, b := &candidates[i], &candidates[j]
		if a.RelevanceScore != b.RelevanceScore {
			return a.RelevanceScore > b.RelevanceScore
		}
		if a.RecalledCount != b.RecalledCount {
			return a.RecalledCount > b.RecalledCount
		}
		return a.ID < b.ID
	})
	if len(candidates) > topK {
		candidates = candidates[:topK]
	}
	return candidates, nil
}

// ProactiveRecall surfaces reminders, birthdays, and events whose trigger
// time falls inside the lookahead window, soonest first. Counters are not
// touched.
func (e *Engine) ProactiveRecall(ctx context.Context, userID string) (*model.RecallResult, error) {
	if userID == "" {
		return nil, model.InvalidArgumentf("user_id is required")
	}
	ctx, cancel := context.WithTimeout(ctx, e.opts.OpTimeout)
	defer cancel()

	lock := e.locks.Get(userID)
	lock.RLock()
	defer lock.RUnlock()

	start := time.Now()
	candidates, err := e.db.ListMemoriesByTypes(ctx, userID, []model.MemoryType{
		model.MemoryReminder, model.MemoryBirthday, model.MemoryEvent,
	})
	if err != nil {
		return nil, model.WrapInternal(err, "list proactive candidates")
	}

	now := time.Now().UTC()
	horizon := now.Add(e.opts.Lookahead)
	var upcoming []model.Memory
	for i := range candidates {
		trigger, ok := triggerTime(&candidates[i], now)
		if !ok || trigger.After(horizon) {
			continue
		}
		t := trigger
		candidates[i].TriggerAt = &t
		upcoming = append(upcoming, candidates[i])
	}
	if upcoming == nil {
		upcoming = []model.Memory{}
	}
	sort.Slice(upcoming, func(i, j int) bool {
		if !upcoming[i].TriggerAt.Equal(*upcoming[j].TriggerAt) {
			return upcoming[i].TriggerAt.Before(*upcoming[j].TriggerAt)
		}
		return upcoming[i].ID < upcoming[j].ID
	})

	return &model.RecallResult{
		Memories:     upcoming,
		TotalCount:   len(upcoming),
		SearchTimeMS: float64(time.Since(start).Microseconds()) / 1000.0,
	}, nil
}

func (e *Engine) indexMemory(ctx context.Context, m *model.Memory) error {
	emb, err := e.embedder.Embed(ctx, embedText(m))
	if err != nil {
		return model.WrapInternal(err, "embed memory")
	}
	if err := e.index.Add(ctx, m.UserID, m.ID, emb, m.Summary); err != nil {
		return model.WrapInternal(err, "index memory")
	}
	return nil
}

// embedText is the single text basis used for indexing, recall, and
// consolidation, so all three agree on what "similar" means.
func embedText(m *model.Memory) string {
	return m.Summary + " " + m.FullText
}
