package retriever

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/ragless-mcp/internal/textsearch"
	"github.com/dshills/ragless-mcp/pkg/types"
)

// recordingDispatcher returns canned matches and records every level it was
// asked to search.
type recordingDispatcher struct {
	perLevel map[int][]types.MatchRecord
	levels   []int
}

func (d *recordingDispatcher) Search(_ context.Context, _ string, _ []string, opts textsearch.Options) ([]types.MatchRecord, error) {
	d.levels = append(d.levels, opts.Level)
	return d.perLevel[opts.Level], nil
}

func (d *recordingDispatcher) Available() error { return nil }

func makeMatches(path string, n int) []types.MatchRecord {
	records := make([]types.MatchRecord, n)
	for i := range records {
		records[i] = types.MatchRecord{
			Path:        path,
			Line:        i + 1,
			StartOffset: i * 40,
			EndOffset:   i*40 + 20,
			Text:        "the attention mechanism weights tokens",
		}
	}
	return records
}

func writeTestCorpus(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	files := map[string]string{
		"attention.md": "# Attention\n\nThe attention mechanism computes weights.\nAttention scores come from dot products.\nSelf attention attends over its own input.\nMulti-head attention splits the space.\nCross attention mixes two sequences.\n",
		"optimizer.md": "# Optimizers\n\nGradient descent updates parameters.\nMomentum smooths the updates.\n",
		"notes.txt":    "Random notes mentioning attention once.\n",
	}
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
	return dir
}

func TestRetrievePriorityHitStopsAtCoarsestLevel(t *testing.T) {
	dir := writeTestCorpus(t)

	// Level 0 already clears the threshold; finer levels must never run.
	fake := &recordingDispatcher{
		perLevel: map[int][]types.MatchRecord{
			0: makeMatches(filepath.Join(dir, "attention.md"), 6),
			1: makeMatches(filepath.Join(dir, "attention.md"), 3),
		},
	}
	r := New(fake)

	resp, err := r.Retrieve(context.Background(), Request{
		Query:   "how does the attention mechanism compute weights",
		Paths:   []string{dir},
		MinHits: 5,
	})
	require.NoError(t, err)

	assert.Equal(t, 0, resp.Level)
	assert.Equal(t, 6, resp.Hits)
	assert.Equal(t, []int{0}, fake.levels, "finer levels dispatched after a priority hit")
}

func TestRetrieveFallsThroughWhenCoarseLevelMisses(t *testing.T) {
	dir := writeTestCorpus(t)
	path := filepath.Join(dir, "attention.md")

	fake := &recordingDispatcher{
		perLevel: map[int][]types.MatchRecord{
			0: makeMatches(path, 2),
			1: makeMatches(path, 1),
		},
	}
	r := New(fake)

	resp, err := r.Retrieve(context.Background(), Request{
		Query:         "attention weights",
		Paths:         []string{dir},
		MinHits:       5,
		KeywordLevels: 2,
	})
	require.NoError(t, err)

	// No level reached the threshold; the best-so-far level wins.
	assert.Equal(t, 0, resp.Level)
	assert.Equal(t, 2, resp.Hits)
	assert.GreaterOrEqual(t, len(fake.levels), 2)
}

func TestRetrieveRanksDenseFileFirst(t *testing.T) {
	dir := writeTestCorpus(t)
	r := New(textsearch.NewScanDispatcher())

	resp, err := r.Retrieve(context.Background(), Request{
		Query: "attention mechanism",
		Paths: []string{dir},
	})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Candidates)

	assert.Equal(t, filepath.Join(dir, "attention.md"), resp.Candidates[0].Path)
	assert.Greater(t, resp.Candidates[0].Score, 0.0)
	assert.Equal(t, types.FileTypeMarkdown, resp.Candidates[0].FileType)
}

func TestRetrieveDeterministicOrdering(t *testing.T) {
	dir := writeTestCorpus(t)
	r := New(textsearch.NewScanDispatcher())

	req := Request{Query: "attention mechanism weights", Paths: []string{dir}}

	first, err := r.Retrieve(context.Background(), req)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		again, err := r.Retrieve(context.Background(), req)
		require.NoError(t, err)
		require.Len(t, again.Candidates, len(first.Candidates))
		for j := range first.Candidates {
			assert.Equal(t, first.Candidates[j].Path, again.Candidates[j].Path)
			assert.InDelta(t, first.Candidates[j].Score, again.Candidates[j].Score, 1e-9)
		}
	}
}

func TestRetrieveUnreadablePaths(t *testing.T) {
	r := New(textsearch.NewScanDispatcher())

	_, err := r.Retrieve(context.Background(), Request{
		Query: "attention",
		Paths: []string{"/nonexistent/one", "/nonexistent/two"},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrNoSearchableInput)
}

func TestRetrieveValidation(t *testing.T) {
	r := New(textsearch.NewScanDispatcher())

	_, err := r.Retrieve(context.Background(), Request{Query: "  ", Paths: []string{"."}})
	assert.ErrorIs(t, err, types.ErrInvalidInput)

	_, err = r.Retrieve(context.Background(), Request{Query: "attention"})
	assert.ErrorIs(t, err, types.ErrInvalidInput)
}

func TestRetrieveCache(t *testing.T) {
	dir := writeTestCorpus(t)
	path := filepath.Join(dir, "attention.md")

	fake := &recordingDispatcher{
		perLevel: map[int][]types.MatchRecord{0: makeMatches(path, 6)},
	}
	r := New(fake)

	req := Request{
		Query:    "attention mechanism",
		Paths:    []string{dir},
		UseCache: true,
		CacheTTL: time.Minute,
	}

	first, err := r.Retrieve(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, first.CacheHit)
	dispatched := len(fake.levels)

	second, err := r.Retrieve(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, second.CacheHit)
	assert.Len(t, fake.levels, dispatched, "cache hit dispatched another search")
	assert.Equal(t, first.Hits, second.Hits)

	// Mutating a cached response must not leak into later hits.
	if len(second.Candidates) > 0 {
		second.Candidates[0].Score = -1
	}
	third, err := r.Retrieve(context.Background(), req)
	require.NoError(t, err)
	if len(third.Candidates) > 0 {
		assert.NotEqual(t, -1.0, third.Candidates[0].Score)
	}
}

func TestRetrieveByName(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"main.py", "test_utils.py", "utils.py", "README.md"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x = 1\n"), 0o644))
	}

	r := New(textsearch.NewScanDispatcher())

	resp, err := r.RetrieveByName(context.Background(), Request{
		Query: "test utils",
		Paths: []string{dir},
	})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Candidates)

	// test_utils.py matches both terms in its basename and must outrank
	// utils.py, which matches only one.
	assert.Equal(t, filepath.Join(dir, "test_utils.py"), resp.Candidates[0].Path)
	assert.NotContains(t, candidatePaths(resp.Candidates), filepath.Join(dir, "README.md"))
}

func TestRetrieveByNameExactStem(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"main.py", "domain.py"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x = 1\n"), 0o644))
	}

	r := New(textsearch.NewScanDispatcher())

	resp, err := r.RetrieveByName(context.Background(), Request{
		Query: "main",
		Paths: []string{dir},
	})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Candidates)
	assert.Equal(t, filepath.Join(dir, "main.py"), resp.Candidates[0].Path)
}

func candidatePaths(candidates []types.FileCandidate) []string {
	paths := make([]string, len(candidates))
	for i, c := range candidates {
		paths[i] = c.Path
	}
	return paths
}
