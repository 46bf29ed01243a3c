package retriever

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/dshills/ragless-mcp/internal/textsearch"
	"github.com/dshills/ragless-mcp/pkg/types"
)

// RetrieveByName matches the query against file names and paths only. No
// content is read and no search tool is dispatched, which keeps this path
// fast enough for interactive completion.
func (r *Retriever) RetrieveByName(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()

	if err := r.validate(&req); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrCancelled, err)
	}

	walk, err := textsearch.DiscoverFiles(req.Paths, textsearch.Options{
		MaxDepth: req.MaxDepth,
		Include:  req.Include,
		Exclude:  req.Exclude,
	})
	if err != nil {
		return nil, err
	}

	terms := nameTerms(req.Query)
	if len(terms) == 0 {
		return nil, fmt.Errorf("%w: query has no usable name terms", types.ErrInvalidInput)
	}

	candidates := make([]types.FileCandidate, 0, 16)
	for _, f := range walk.Files {
		score, matches := scoreName(f.Path, terms)
		if matches == 0 {
			continue
		}
		candidates = append(candidates, types.FileCandidate{
			Path:     f.Path,
			Size:     f.Size,
			FileType: f.Type,
			ModTime:  time.Unix(0, f.ModTime),
			Score:    score,
			Matches:  matches,
		})
	}

	sortCandidates(candidates)
	if req.TopKFiles > 0 && len(candidates) > req.TopKFiles {
		candidates = candidates[:req.TopKFiles]
	}

	return &Response{
		Candidates: candidates,
		Level:      -1,
		Hits:       len(candidates),
		Warnings:   walk.Warnings,
		Duration:   time.Since(start),
	}, nil
}

// nameTerms splits a query into lowercase tokens suitable for matching
// against path components. Unlike the keyword planner, stopwords stay in:
// a file really can be called "the_plan.md".
func nameTerms(query string) []string {
	fields := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9') && r != '.' && r != '_' && r != '-'
	})
	terms := fields[:0]
	for _, f := range fields {
		if len(f) > 1 {
			terms = append(terms, f)
		}
	}
	return terms
}

// scoreName weighs basename matches above directory matches, and an exact
// basename (with or without extension) above a substring hit.
func scoreName(path string, terms []string) (float64, int) {
	base := strings.ToLower(filepath.Base(path))
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	dir := strings.ToLower(filepath.Dir(path))

	var score float64
	matches := 0
	for _, term := range terms {
		switch {
		case base == term || stem == term:
			score += 10
			matches++
		case strings.Contains(base, term):
			score += 4
			matches++
		case strings.Contains(dir, term):
			score += 1
			matches++
		}
	}
	return score, matches
}
