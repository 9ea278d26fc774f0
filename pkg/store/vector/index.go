// Package vector maintains the in-memory similarity index over memories.
package vector

import (
	"context"
	"fmt"
	"sync"

	chromem "github.com/philippgille/chromem-go"
)

// Scored is one similarity hit.
type Scored struct {
	ID         string
	Similarity float64
}

// Index wraps chromem-go with one collection per user, so one user's
// memories never rank against another's.
type Index struct {
	db   *chromem.DB
	cols map[string]*chromem.Collection
	mu   sync.RWMutex
}

// New creates an empty index.
func New() *Index {
	return &Index{
		db:   chromem.NewDB(),
		cols: make(map[string]*chromem.Collection),
	}
}

func (i *Index) collection(userID string) (*chromem.Collection, error) {
	i.mu.RLock()
	col, ok := i.cols[userID]
	i.mu.RUnlock()
	if ok {
		return col, nil
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	if col, ok := i.cols[userID]; ok {
		return col, nil
	}
	// embeddings are always supplied by the caller, so no embedding func
	col, err := i.db.CreateCollection(fmt.Sprintf("user_%s", userID), nil, nil)
	if err != nil {
		return nil, fmt.Errorf("create collection: %w", err)
	}
	i.cols[userID] = col
	return col, nil
}

// Add indexes (or reindexes) a memory embedding.
func (i *Index) Add(ctx context.Context, userID, id string, embedding []float32, content string) error {
	col, err := i.collection(userID)
	if err != nil {
		return err
	}
	// drop any stale entry first; AddDocument does not replace in place
	_ = col.Delete(ctx, nil, nil, id)
	return col.AddDocument(ctx, chromem.Document{
		ID:        id,
		Embedding: embedding,
		Content:   content,
	})
}

// Remove drops memory ids from the user's collection.
func (i *Index) Remove(ctx context.Context, userID string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	i.mu.RLock()
	col, ok := i.cols[userID]
	i.mu.RUnlock()
	if !ok {
		return nil
	}
	return col.Delete(ctx, nil, nil, ids...)
}

// Count returns the number of indexed memories for a user.
func (i *Index) Count(userID string) int {
	i.mu.RLock()
	col, ok := i.cols[userID]
	i.mu.RUnlock()
	if !ok {
		return 0
	}
	return col.Count()
}

// Search returns up to k hits ordered by similarity descending. Callers
// needing a stricter tiebreak re-sort the result.
func (i *Index) Search(ctx context.Context, userID string, embedding []float32, k int) ([]Scored, error) {
	i.mu.RLock()
	col, ok := i.cols[userID]
	i.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	n := col.Count()
	if n == 0 {
		return nil, nil
	}
	if k <= 0 || k > n {
		k = n
	}
	res, err := col.QueryEmbedding(ctx, embedding, k, nil, nil)
	if err != nil {
		return nil, err
	}
	out := make([]Scored, 0, len(res))
	for _, r := range res {
		out = append(out, Scored{ID: r.ID, Similarity: float64(r.Similarity)})
	}
	return out, nil
}
