package store

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/ragless-mcp/pkg/types"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(":memory:", Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func makeCluster(name, query string) *types.KnowledgeCluster {
	text := "Evidence text explaining " + name + " in enough detail to matter."
	return &types.KnowledgeCluster{
		ID:          uuid.NewString(),
		Name:        name,
		Description: types.Scalar("About " + name),
		Content:     types.List([]string{"snippet one", "snippet two"}),
		Evidence: []types.EvidenceUnit{
			{Path: "/docs/" + name + ".md", Start: 0, End: len(text), Text: text, Score: 0.8},
		},
		Patterns:       []string{name + " always applies"},
		Constraints:    []types.Constraint{{Kind: "limitation", Text: "bounded scope"}},
		Confidence:     0.8,
		Abstraction:    types.LevelTechnique,
		Lifecycle:      types.LifecycleEmerging,
		Hotness:        0.5,
		Corroborations: 1,
		QueryRefs:      []string{query},
		Scan: types.ScanMeta{
			SourceFiles:   []string{"/docs/" + name + ".md"},
			TotalBytes:    int64(len(text)),
			LastScannedAt: time.Now().Truncate(time.Second),
		},
	}
}

func TestInsertGetRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	cluster := makeCluster("attention", "How does attention work?")
	require.NoError(t, s.Insert(ctx, cluster))

	got, err := s.Get(ctx, cluster.ID)
	require.NoError(t, err)

	assert.Equal(t, cluster.Name, got.Name)
	assert.Equal(t, cluster.Description.String(), got.Description.String())
	assert.True(t, got.Content.IsList())
	assert.Equal(t, cluster.Patterns, got.Patterns)
	assert.Equal(t, cluster.Constraints, got.Constraints)
	assert.Equal(t, cluster.QueryRefs, got.QueryRefs)
	assert.Equal(t, types.LifecycleEmerging, got.Lifecycle)
	assert.InDelta(t, 0.8, got.Confidence, 1e-9)
	require.Len(t, got.Evidence, 1)
	assert.Equal(t, cluster.Evidence[0].Text, got.Evidence[0].Text)
	assert.Equal(t, cluster.Scan.SourceFiles, got.Scan.SourceFiles)
	assert.Equal(t, cluster.Scan.TotalBytes, got.Scan.TotalBytes)
}

func TestGetNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get(context.Background(), "no-such-id")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestUpdatePreservesScanMeta(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	cluster := makeCluster("caching", "how does caching work")
	require.NoError(t, s.Insert(ctx, cluster))

	// A curated update carrying empty scan metadata must not clobber the
	// stored scan columns.
	updated := cluster.Clone()
	updated.Name = "caching strategies"
	updated.Scan = types.ScanMeta{}
	require.NoError(t, s.Update(ctx, updated))

	got, err := s.Get(ctx, cluster.ID)
	require.NoError(t, err)
	assert.Equal(t, "caching strategies", got.Name)
	assert.Equal(t, cluster.Scan.SourceFiles, got.Scan.SourceFiles)
	assert.Equal(t, cluster.Scan.TotalBytes, got.Scan.TotalBytes)
}

func TestUpdateScanMetaPreservesCuratedFields(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	cluster := makeCluster("indexes", "how do indexes work")
	require.NoError(t, s.Insert(ctx, cluster))

	scan := types.ScanMeta{
		SourceFiles:   []string{"/docs/indexes.md"},
		MissingFiles:  []string{"/docs/gone.md"},
		TotalBytes:    4096,
		LastScannedAt: time.Now().Truncate(time.Second),
	}
	require.NoError(t, s.UpdateScanMeta(ctx, cluster.ID, scan))

	got, err := s.Get(ctx, cluster.ID)
	require.NoError(t, err)
	assert.Equal(t, cluster.Name, got.Name)
	assert.Equal(t, cluster.Patterns, got.Patterns)
	assert.Equal(t, []string{"/docs/gone.md"}, got.Scan.MissingFiles)
	assert.Equal(t, int64(4096), got.Scan.TotalBytes)
}

func TestRecordReusePromotionBoundary(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	cluster := makeCluster("promotion", "promotion query")
	require.NoError(t, s.Insert(ctx, cluster))

	// Corroborations start at 1; with N=3 the first reuse (2) must not
	// promote, the second (3) must.
	got, err := s.RecordReuse(ctx, cluster.ID, 0.9)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Corroborations)
	assert.Equal(t, types.LifecycleEmerging, got.Lifecycle)

	got, err = s.RecordReuse(ctx, cluster.ID, 0.9)
	require.NoError(t, err)
	assert.Equal(t, 3, got.Corroborations)
	assert.Equal(t, types.LifecycleStable, got.Lifecycle)

	stored, err := s.Get(ctx, cluster.ID)
	require.NoError(t, err)
	assert.Equal(t, types.LifecycleStable, stored.Lifecycle)
}

func TestRecordReuseNudgesScores(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	cluster := makeCluster("nudge", "nudge query")
	require.NoError(t, s.Insert(ctx, cluster))

	got, err := s.RecordReuse(ctx, cluster.ID, 1.0)
	require.NoError(t, err)
	assert.InDelta(t, 0.6, got.Hotness, 1e-9)
	assert.InDelta(t, 0.8+(1.0-0.8)*confidenceNudge, got.Confidence, 1e-9)

	// Hotness saturates at 1 under repeated reuse.
	for i := 0; i < 10; i++ {
		got, err = s.RecordReuse(ctx, cluster.ID, 1.0)
		require.NoError(t, err)
	}
	assert.LessOrEqual(t, got.Hotness, 1.0)
}

func TestRecordReuseRejectsDeprecated(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	cluster := makeCluster("retired", "retired query")
	require.NoError(t, s.Insert(ctx, cluster))
	require.NoError(t, s.Transition(ctx, cluster.ID, types.LifecycleDeprecated))

	_, err := s.RecordReuse(ctx, cluster.ID, 0.9)
	assert.ErrorIs(t, err, types.ErrStoreConflict)
}

func TestTransitionGuards(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	cluster := makeCluster("lifecycle", "lifecycle query")
	require.NoError(t, s.Insert(ctx, cluster))

	require.NoError(t, s.Transition(ctx, cluster.ID, types.LifecycleStable))
	require.NoError(t, s.Transition(ctx, cluster.ID, types.LifecycleContested))
	require.NoError(t, s.Transition(ctx, cluster.ID, types.LifecycleStable))

	// STABLE cannot go back to EMERGING.
	err := s.Transition(ctx, cluster.ID, types.LifecycleEmerging)
	assert.ErrorIs(t, err, types.ErrStoreConflict)

	// DEPRECATED is terminal.
	require.NoError(t, s.Transition(ctx, cluster.ID, types.LifecycleDeprecated))
	err = s.Transition(ctx, cluster.ID, types.LifecycleStable)
	assert.ErrorIs(t, err, types.ErrStoreConflict)
}

func TestDecayHotness(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	live := makeCluster("live", "live query")
	require.NoError(t, s.Insert(ctx, live))

	retired := makeCluster("frozen", "frozen query")
	require.NoError(t, s.Insert(ctx, retired))
	require.NoError(t, s.Transition(ctx, retired.ID, types.LifecycleDeprecated))

	require.NoError(t, s.DecayHotness(ctx, 0.1))

	gotLive, err := s.Get(ctx, live.ID)
	require.NoError(t, err)
	assert.InDelta(t, 0.45, gotLive.Hotness, 1e-9)

	gotRetired, err := s.Get(ctx, retired.ID)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, gotRetired.Hotness, 1e-9, "deprecated clusters do not decay")

	err = s.DecayHotness(ctx, 1.5)
	assert.ErrorIs(t, err, types.ErrInvalidInput)
}

func TestMerge(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := makeCluster("merge-a", "query a")
	b := makeCluster("merge-b", "query b")
	require.NoError(t, s.Insert(ctx, a))
	require.NoError(t, s.Insert(ctx, b))
	require.NoError(t, s.Transition(ctx, b.ID, types.LifecycleStable))

	merged, err := s.Merge(ctx, []string{a.ID, b.ID})
	require.NoError(t, err)

	assert.Len(t, merged.Evidence, 2)
	assert.Equal(t, types.LifecycleStable, merged.Lifecycle, "merge keeps the more advanced state")
	assert.ElementsMatch(t, []string{"query a", "query b"}, merged.QueryRefs)
	assert.Equal(t, 2, merged.Corroborations)
	assert.InDelta(t, 0.8, merged.Confidence, 1e-9)

	// Sources are gone, the merged cluster is retrievable.
	_, err = s.Get(ctx, a.ID)
	assert.ErrorIs(t, err, types.ErrNotFound)
	_, err = s.Get(ctx, b.ID)
	assert.ErrorIs(t, err, types.ErrNotFound)
	_, err = s.Get(ctx, merged.ID)
	assert.NoError(t, err)
}

func TestSplit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	cluster := makeCluster("split-me", "split query")
	other := "Second span about an unrelated aspect entirely."
	cluster.Evidence = append(cluster.Evidence, types.EvidenceUnit{
		Path: "/docs/other.md", Start: 0, End: len(other), Text: other, Score: 0.4,
	})
	require.NoError(t, s.Insert(ctx, cluster))

	children, err := s.Split(ctx, cluster.ID, func(e types.EvidenceUnit) bool {
		return strings.Contains(e.Path, "split-me")
	})
	require.NoError(t, err)
	require.Len(t, children, 2)

	for _, child := range children {
		assert.Equal(t, types.LifecycleEmerging, child.Lifecycle)
		assert.Len(t, child.Evidence, 1)
		stored, err := s.Get(ctx, child.ID)
		require.NoError(t, err)
		assert.Equal(t, child.Name, stored.Name)
	}

	_, err = s.Get(ctx, cluster.ID)
	assert.ErrorIs(t, err, types.ErrNotFound)

	// A predicate that matches everything cannot partition.
	c2 := makeCluster("unsplittable", "another query")
	require.NoError(t, s.Insert(ctx, c2))
	_, err = s.Split(ctx, c2.ID, func(types.EvidenceUnit) bool { return true })
	assert.ErrorIs(t, err, types.ErrInvalidInput)
}

func TestFindSimilarReuse(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	cluster := makeCluster("attention", "How does attention work?")
	require.NoError(t, s.Insert(ctx, cluster))
	require.NoError(t, s.Insert(ctx, makeCluster("optimizers", "how do optimizers converge")))

	matches, err := s.FindSimilar(ctx, "how does attention work", 5)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, cluster.ID, matches[0].Cluster.ID)
	assert.InDelta(t, 1.0, matches[0].Similarity, 1e-9)
}

func TestFindSimilarAmbiguousTieBand(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Insert(ctx, makeCluster("attention-one", "attention weights explained")))
	require.NoError(t, s.Insert(ctx, makeCluster("attention-two", "attention weights explained")))

	matches, err := s.FindSimilar(ctx, "attention weights explained", 5)
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrAmbiguousReuse)
	assert.Len(t, matches, 2, "ambiguous matches are still returned for later merging")
}

func TestFindSimilarSkipsDeprecated(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	cluster := makeCluster("stale", "stale knowledge query")
	require.NoError(t, s.Insert(ctx, cluster))
	require.NoError(t, s.Transition(ctx, cluster.ID, types.LifecycleDeprecated))

	matches, err := s.FindSimilar(ctx, "stale knowledge query", 5)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestFind(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	attention := makeCluster("attention mechanisms", "How does attention work?")
	require.NoError(t, s.Insert(ctx, attention))
	require.NoError(t, s.Insert(ctx, makeCluster("gradient descent", "how does sgd converge")))

	found, err := s.Find(ctx, "attention", 10)
	require.NoError(t, err)
	require.NotEmpty(t, found)
	assert.Equal(t, attention.ID, found[0].ID)

	_, err = s.Find(ctx, "   ", 10)
	assert.ErrorIs(t, err, types.ErrInvalidInput)
}

func TestListOrdering(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		c := makeCluster(fmt.Sprintf("topic-%d", i), fmt.Sprintf("query %d", i))
		c.Hotness = float64(i) * 0.3
		c.Confidence = 1 - float64(i)*0.2
		require.NoError(t, s.Insert(ctx, c))
	}

	byHotness, err := s.List(ctx, 10, SortByHotness)
	require.NoError(t, err)
	require.Len(t, byHotness, 3)
	assert.Equal(t, "topic-2", byHotness[0].Name)

	byConfidence, err := s.List(ctx, 10, SortByConfidence)
	require.NoError(t, err)
	assert.Equal(t, "topic-0", byConfidence[0].Name)

	limited, err := s.List(ctx, 2, SortByHotness)
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	_, err = s.List(ctx, 10, SortBy("bogus"))
	assert.ErrorIs(t, err, types.ErrInvalidInput)
}

func TestStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := makeCluster("stats-a", "query a")
	b := makeCluster("stats-b", "query b")
	require.NoError(t, s.Insert(ctx, a))
	require.NoError(t, s.Insert(ctx, b))
	require.NoError(t, s.Transition(ctx, b.ID, types.LifecycleStable))

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.Lifecycle[types.LifecycleEmerging])
	assert.Equal(t, 1, stats.Lifecycle[types.LifecycleStable])
	assert.Equal(t, 2, stats.ConfidenceHist[8], "both clusters sit in the 0.8 confidence bucket")
}

func TestTxRollback(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tx, err := s.BeginTx(ctx)
	require.NoError(t, err)

	cluster := makeCluster("ephemeral", "never persisted")
	require.NoError(t, tx.Insert(ctx, cluster))
	require.NoError(t, tx.Rollback())

	_, err = s.Get(ctx, cluster.ID)
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestTxCommit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tx, err := s.BeginTx(ctx)
	require.NoError(t, err)

	cluster := makeCluster("durable", "persisted query")
	require.NoError(t, tx.Insert(ctx, cluster))
	require.NoError(t, tx.Commit())

	got, err := s.Get(ctx, cluster.ID)
	require.NoError(t, err)
	assert.Equal(t, "durable", got.Name)
}
