package retriever

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dshills/ragless-mcp/internal/keyword"
	"github.com/dshills/ragless-mcp/internal/textsearch"
	"github.com/dshills/ragless-mcp/pkg/types"
)

// Request contains parameters for one retrieval pass.
type Request struct {
	Query         string
	Paths         []string
	MaxDepth      int
	TopKFiles     int
	KeywordLevels int
	MinHits       int // Priority-hit threshold
	Include       []string
	Exclude       []string
	Concurrency   int
	UseCache      bool
	CacheTTL      time.Duration
}

// Response carries ranked candidates and retrieval metadata.
type Response struct {
	Candidates []types.FileCandidate
	Level      int // Keyword level that satisfied the search, -1 when none ran
	Hits       int // Deduplicated match count at the winning level
	Warnings   []string
	CacheHit   bool
	Duration   time.Duration
}

// Retriever coordinates the keyword planner and the text-search dispatcher.
type Retriever struct {
	dispatcher textsearch.Dispatcher
	planner    *keyword.Planner
	cache      *responseCache
}

// New creates a Retriever on top of the given dispatcher.
func New(dispatcher textsearch.Dispatcher) *Retriever {
	return &Retriever{
		dispatcher: dispatcher,
		planner:    keyword.New(0),
		cache:      newResponseCache(512),
	}
}

// Retrieve runs priority-hit search and returns candidates sorted by
// non-increasing score. Re-running with identical inputs over an unchanged
// corpus yields identical ordering.
func (r *Retriever) Retrieve(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()

	if err := r.validate(&req); err != nil {
		return nil, err
	}

	if req.UseCache {
		if resp, ok := r.cache.get(req); ok {
			resp.CacheHit = true
			resp.Duration = time.Since(start)
			return resp, nil
		}
	}

	if err := r.dispatcher.Available(); err != nil {
		return nil, err
	}

	levels := r.planner.Plan(req.Query, req.KeywordLevels)
	if len(levels) == 0 {
		return nil, fmt.Errorf("%w: query has no searchable terms", types.ErrInvalidInput)
	}

	opts := textsearch.Options{
		Concurrency: req.Concurrency,
		MaxDepth:    req.MaxDepth,
		Include:     req.Include,
		Exclude:     req.Exclude,
	}

	// Discover once; the same file set serves every level and ranking.
	walk, err := textsearch.DiscoverFiles(req.Paths, opts)
	if err != nil {
		return nil, err
	}

	var (
		best      []types.MatchRecord
		bestLevel = -1
		bestTerms []string
	)

	for i, level := range levels {
		opts.Level = i
		records, err := r.searchLevel(ctx, level, req.Paths, opts)
		if err != nil {
			return nil, err
		}

		if len(records) >= req.MinHits {
			// Priority hit: this level satisfies the search, finer
			// levels are never dispatched.
			best, bestLevel, bestTerms = records, i, level.Terms
			break
		}
		if len(records) > len(best) {
			best, bestLevel, bestTerms = records, i, level.Terms
		}
	}

	resp := &Response{
		Level:    bestLevel,
		Hits:     len(best),
		Warnings: walk.Warnings,
	}
	if len(best) > 0 {
		resp.Candidates = rank(best, bestTerms, walk.Files, req.TopKFiles)
	}
	resp.Duration = time.Since(start)

	if req.UseCache {
		r.cache.put(req, resp)
	}
	return resp, nil
}

// searchLevel dispatches one keyword level. MatchAll levels run one pattern
// per term and keep only files containing every term.
func (r *Retriever) searchLevel(ctx context.Context, level keyword.Level, paths []string, opts textsearch.Options) ([]types.MatchRecord, error) {
	patterns := level.Patterns()

	if level.Match != keyword.MatchAll || len(patterns) == 1 {
		return r.dispatcher.Search(ctx, patterns[0], paths, opts)
	}

	var all []types.MatchRecord
	fileTermCount := make(map[string]int)
	perFile := make(map[string][]types.MatchRecord)

	for _, pattern := range patterns {
		records, err := r.dispatcher.Search(ctx, pattern, paths, opts)
		if err != nil {
			return nil, err
		}
		seen := make(map[string]bool)
		for _, rec := range records {
			perFile[rec.Path] = append(perFile[rec.Path], rec)
			if !seen[rec.Path] {
				seen[rec.Path] = true
				fileTermCount[rec.Path]++
			}
		}
	}

	for path, count := range fileTermCount {
		if count == len(patterns) {
			all = append(all, perFile[path]...)
		}
	}
	return textsearch.MergeOverlapping(all), nil
}

// validate fills defaults and rejects unusable requests.
func (r *Retriever) validate(req *Request) error {
	if strings.TrimSpace(req.Query) == "" {
		return fmt.Errorf("%w: query cannot be empty", types.ErrInvalidInput)
	}
	if len(req.Paths) == 0 {
		return fmt.Errorf("%w: at least one path is required", types.ErrInvalidInput)
	}
	if req.TopKFiles <= 0 {
		req.TopKFiles = 10
	}
	if req.KeywordLevels <= 0 {
		req.KeywordLevels = 3
	}
	if req.MinHits <= 0 {
		req.MinHits = 5
	}
	if req.CacheTTL == 0 {
		req.CacheTTL = time.Hour
	}
	return nil
}
