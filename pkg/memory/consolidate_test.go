package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evermind-ai/companion/pkg/model"
)

func TestConsolidateMergesDuplicates(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	keeper := env.mustStore(t, "alice", "Loves hiking in the mountains every summer", model.MemoryNote)

	// a recall makes the first copy the better-known one, so it survives
	_, err := env.engine.Recall(ctx, "alice", "", 1)
	require.NoError(t, err)

	dupe := env.mustStore(t, "alice", "Loves hiking in the mountains every summer", model.MemoryNote)
	env.mustStore(t, "alice", "Quantum physics lecture notes chapter seven", model.MemoryNote)

	report, err := env.engine.Consolidate(ctx, "alice", 0.9)
	require.NoError(t, err)

	assert.Equal(t, 1, report.ClustersMerged)
	assert.Equal(t, 1, report.MemoriesAbsorbed)
	assert.Equal(t, 2, report.RemainingCount)

	got, err := env.db.GetMemory(ctx, keeper.ID)
	require.NoError(t, err)
	// identical texts deduplicate instead of concatenating
	assert.Equal(t, "Loves hiking in the mountains every summer", got.FullText)
	assert.Equal(t, 1, got.RecalledCount)

	_, err = env.db.GetMemory(ctx, dupe.ID)
	assert.Equal(t, model.KindNotFound, model.KindOf(err))

	n, err := env.db.CountMemories(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestConsolidateMergesTexts(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first := env.mustStore(t, "bob", "Sam loves eating pepperoni pizza with extra cheese after practice", model.MemoryNote)
	env.mustStore(t, "bob", "Sam loves eating pepperoni pizza with mozzarella cheese after practice", model.MemoryNote)

	report, err := env.engine.Consolidate(ctx, "bob", 0.8)
	require.NoError(t, err)
	assert.Equal(t, 1, report.ClustersMerged)

	got, err := env.db.GetMemory(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t,
		"Sam loves eating pepperoni pizza with extra cheese after practice\n"+
			"Sam loves eating pepperoni pizza with mozzarella cheese after practice",
		got.FullText)
}

func TestConsolidateThresholdBoundary(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// one token apart: similar enough at 0.8, not at 0.95
	env.mustStore(t, "carol", "Sam loves eating pepperoni pizza with extra cheese after practice", model.MemoryNote)
	env.mustStore(t, "carol", "Sam loves eating pepperoni pizza with mozzarella cheese after practice", model.MemoryNote)

	report, err := env.engine.Consolidate(ctx, "carol", 0.95)
	require.NoError(t, err)
	assert.Zero(t, report.ClustersMerged)
	assert.Zero(t, report.MemoriesAbsorbed)
	assert.Equal(t, 2, report.RemainingCount)

	report, err = env.engine.Consolidate(ctx, "carol", 0.8)
	require.NoError(t, err)
	assert.Equal(t, 1, report.ClustersMerged)
	assert.Equal(t, 1, report.MemoriesAbsorbed)
	assert.Equal(t, 1, report.RemainingCount)
}

func TestConsolidateIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.mustStore(t, "dana", "Loves hiking in the mountains every summer", model.MemoryNote)
	env.mustStore(t, "dana", "Loves hiking in the mountains every summer", model.MemoryNote)

	first, err := env.engine.Consolidate(ctx, "dana", 0.85)
	require.NoError(t, err)
	assert.Equal(t, 1, first.MemoriesAbsorbed)

	second, err := env.engine.Consolidate(ctx, "dana", 0.85)
	require.NoError(t, err)
	assert.Zero(t, second.ClustersMerged)
	assert.Zero(t, second.MemoriesAbsorbed)
	assert.Equal(t, first.RemainingCount, second.RemainingCount)
}

func TestConsolidateKeepsIndexUsable(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	survivor := env.mustStore(t, "eve", "Loves hiking in the mountains every summer", model.MemoryNote)
	absorbed := env.mustStore(t, "eve", "Loves hiking in the mountains every summer", model.MemoryNote)

	_, err := env.engine.Consolidate(ctx, "eve", 0.9)
	require.NoError(t, err)

	res, err := env.engine.Recall(ctx, "eve", "hiking mountains summer", 5)
	require.NoError(t, err)
	require.Len(t, res.Memories, 1)
	assert.Equal(t, survivor.ID, res.Memories[0].ID)
	assert.NotEqual(t, absorbed.ID, res.Memories[0].ID)
}

func TestConsolidateIsolatesUsers(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.mustStore(t, "frank", "Loves hiking in the mountains every summer", model.MemoryNote)
	env.mustStore(t, "frank", "Loves hiking in the mountains every summer", model.MemoryNote)
	bystander := env.mustStore(t, "gina", "Loves hiking in the mountains every summer", model.MemoryNote)

	_, err := env.engine.Consolidate(ctx, "frank", 0.9)
	require.NoError(t, err)

	got, err := env.db.GetMemory(ctx, bystander.ID)
	require.NoError(t, err)
	assert.Equal(t, "gina", got.UserID)
}

func TestConsolidateValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.engine.Consolidate(ctx, "", 0.8)
	assert.Equal(t, model.KindInvalidArgument, model.KindOf(err))

	_, err = env.engine.Consolidate(ctx, "alice", -0.1)
	assert.Equal(t, model.KindInvalidArgument, model.KindOf(err))

	_, err = env.engine.Consolidate(ctx, "alice", 1.1)
	assert.Equal(t, model.KindInvalidArgument, model.KindOf(err))
}

func TestConsolidateFewMemories(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	report, err := env.engine.Consolidate(ctx, "empty", 0.8)
	require.NoError(t, err)
	assert.Zero(t, report.RemainingCount)

	env.mustStore(t, "solo", "Just one memory here", model.MemoryNote)
	report, err = env.engine.Consolidate(ctx, "solo", 0.8)
	require.NoError(t, err)
	assert.Equal(t, 1, report.RemainingCount)
	assert.Zero(t, report.MemoriesAbsorbed)
}

func TestConsolidateSingleFlight(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	require.True(t, env.engine.beginConsolidation("hal"))

	_, err := env.engine.Consolidate(ctx, "hal", 0.8)
	assert.Equal(t, model.KindConflict, model.KindOf(err))

	// other users are unaffected by hal's in-flight pass
	_, err = env.engine.Consolidate(ctx, "ida", 0.8)
	require.NoError(t, err)

	env.engine.endConsolidation("hal")
	_, err = env.engine.Consolidate(ctx, "hal", 0.8)
	require.NoError(t, err)
}

func TestClusterBySimilarity(t *testing.T) {
	// orthogonal unit vectors plus one duplicate pair
	a := []float32{1, 0, 0}
	b := []float32{0, 1, 0}
	clusters := clusterBySimilarity([][]float32{a, a, b}, 0.9)
	require.Len(t, clusters, 2)
	assert.Equal(t, []int{0, 1}, clusters[0])
	assert.Equal(t, []int{2}, clusters[1])

	// transitive chaining: a~b and b~c pulls all three together
	ab := []float32{0.7071, 0.7071, 0}
	clusters = clusterBySimilarity([][]float32{a, ab, b}, 0.7)
	require.Len(t, clusters, 1)
	assert.Equal(t, []int{0, 1, 2}, clusters[0])
}

func TestPickSurvivor(t *testing.T) {
	mems := []model.Memory{
		{ID: "01B", RecalledCount: 1},
		{ID: "01A", RecalledCount: 3},
		{ID: "01C", RecalledCount: 3},
	}
	// highest recalled_count wins, id breaks the remaining tie
	assert.Equal(t, 1, pickSurvivor(mems, []int{0, 1, 2}))
	assert.Equal(t, 1, pickSurvivor(mems, []int{1, 2}))
}
