package memory

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/evermind-ai/companion/pkg/embed"
	"github.com/evermind-ai/companion/pkg/model"
)

// Consolidate merges clusters of near-duplicate memories. Within a cluster
// the memory with the highest recalled_count survives (ties: earliest
// created_at, then smallest id); its full_text becomes the concatenation of
// the cluster's unique texts and the rest are deleted. The whole pass
// commits in one transaction, and running it twice with no intervening
// writes is a no-op. Only one consolidation per user may be in flight.
func (e *Engine) Consolidate(ctx context.Context, userID string, threshold float64) (*model.ConsolidationReport, error) {
	if userID == "" {
		return nil, model.InvalidArgumentf("user_id is required")
	}
	if threshold < 0 || threshold > 1 {
		return nil, model.InvalidArgumentf("similarity_threshold must be in [0,1], got %v", threshold)
	}
	if !e.beginConsolidation(userID) {
		return nil, model.Conflictf("consolidation already running for user %q", userID)
	}
	defer e.endConsolidation(userID)

	ctx, cancel := context.WithTimeout(ctx, e.opts.OpTimeout)
	defer cancel()

	lock := e.locks.Get(userID)
	lock.Lock()
	defer lock.Unlock()

	memories, err := e.db.ListMemories(ctx, userID)
	if err != nil {
		return nil, model.WrapInternal(err, "list memories")
	}
	if len(memories) < 2 {
		return &model.ConsolidationReport{RemainingCount: len(memories)}, nil
	}

	embeddings := make([][]float32, len(memories))
	for i := range memories {
		emb, err := e.embedder.Embed(ctx, embedText(&memories[i]))
		if err != nil {
			return nil, model.WrapInternal(err, "embed memory")
		}
		embeddings[i] = emb
	}

	clusters := clusterBySimilarity(embeddings, threshold)

	var survivors []model.Memory
	var absorbed []string
	now := time.Now().UTC()
	for _, cluster := range clusters {
		if len(cluster) < 2 {
			continue
		}
		surIdx := pickSurvivor(memories, cluster)
		survivor := memories[surIdx]
		survivor.FullText = mergeTexts(memories, cluster, surIdx)
		survivor.UpdatedAt = now
		survivors = append(survivors, survivor)
		for _, idx := range cluster {
			if idx != surIdx {
				absorbed = append(absorbed, memories[idx].ID)
			}
		}
	}
	if len(survivors) == 0 {
		return &model.ConsolidationReport{RemainingCount: len(memories)}, nil
	}

	if err := e.db.ApplyConsolidation(ctx, survivors, absorbed); err != nil {
		return nil, model.WrapInternal(err, "apply consolidation")
	}

	// the durable store committed; index maintenance is re-derivable state
	if err := e.index.Remove(ctx, userID, absorbed...); err != nil {
		e.opts.Logger.Warn("drop absorbed memories from index", "user", userID, "err", err)
	}
	for i := range survivors {
		if err := e.indexMemory(ctx, &survivors[i]); err != nil {
			e.opts.Logger.Warn("reindex merged memory", "user", userID, "id", survivors[i].ID, "err", err)
		}
	}

	e.opts.Logger.Info("memories consolidated", "user", userID,
		"clusters", len(survivors), "absorbed", len(absorbed))
	return &model.ConsolidationReport{
		ClustersMerged:   len(survivors),
		MemoriesAbsorbed: len(absorbed),
		RemainingCount:   len(memories) - len(absorbed),
	}, nil
}

func (e *Engine) beginConsolidation(userID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.consolidating[userID] {
		return false
	}
	e.consolidating[userID] = true
	return true
}

func (e *Engine) endConsolidation(userID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.consolidating, userID)
}

// clusterBySimilarity partitions indexes into single-link clusters where
// pairwise cosine similarity meets the threshold, via union-find. Input
// order (id ascending) makes the result deterministic.
func clusterBySimilarity(embeddings [][]float32, threshold float64) [][]int {
	n := len(embeddings)
	parent := make([]int, n)
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(x int) int {
		for parent[x] != x {
			parent[x] = parent[parent[x]]
			x = parent[x]
		}
		return x
	}
	union := func(a, b int) {
		ra, rb := find(a), find(b)
		if ra != rb {
			if rb < ra {
				ra, rb = rb, ra
			}
			parent[rb] = ra
		}
	}

	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if embed.CosineSimilarity(embeddings[i], embeddings[j]) >= threshold {
				union(i, j)
			}
		}
	}

	groups := make(map[int][]int)
	var roots []int
	for i := 0; i < n; i++ {
		r := find(i)
		if _, ok := groups[r]; !ok {
			roots = append(roots, r)
		}
		groups[r] = append(groups[r], i)
	}
	sort.Ints(roots)
	out := make([][]int, 0, len(roots))
	for _, r := range roots {
		out = append(out, groups[r])
	}
	return out
}

// pickSurvivor applies the survivor rule: highest recalled_count, then
// earliest created_at, then smallest id.
func pickSurvivor(memories []model.Memory, cluster []int) int {
	best := cluster[0]
	for _, idx := range cluster[1:] {
		a, b := &memories[idx], &memories[best]
		switch {
		case a.RecalledCount != b.RecalledCount:
			if a.RecalledCount > b.RecalledCount {
				best = idx
			}
		case !a.CreatedAt.Equal(b.CreatedAt):
			if a.CreatedAt.Before(b.CreatedAt) {
				best = idx
			}
		case a.ID < b.ID:
			best = idx
		}
	}
	return best
}

// mergeTexts joins the cluster's unique full texts, survivor first, the
// rest in creation order.
func mergeTexts(memories []model.Memory, cluster []int, surIdx int) string {
	rest := make([]int, 0, len(cluster)-1)
	for _, idx := range cluster {
		if idx != surIdx {
			rest = append(rest, idx)
		}
	}
	sort.Slice(rest, func(i, j int) bool {
		a, b := &memories[rest[i]], &memories[rest[j]]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})

	seen := map[string]bool{memories[surIdx].FullText: true}
	parts := []string{memories[surIdx].FullText}
	for _, idx := range rest {
		text := memories[idx].FullText
		if seen[text] {
			continue
		}
		seen[text] = true
		parts = append(parts, text)
	}
	return strings.Join(parts, "\n")
}
