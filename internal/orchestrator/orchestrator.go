package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/dshills/ragless-mcp/internal/cluster"
	"github.com/dshills/ragless-mcp/internal/config"
	"github.com/dshills/ragless-mcp/internal/llm"
	"github.com/dshills/ragless-mcp/internal/retriever"
	"github.com/dshills/ragless-mcp/internal/sampler"
	"github.com/dshills/ragless-mcp/internal/store"
	"github.com/dshills/ragless-mcp/internal/textsearch"
	"github.com/dshills/ragless-mcp/pkg/types"
)

// How many top-ranked candidate files feed the sampler per query.
const sampleFileLimit = 3

// Orchestrator wires the pipeline stages behind the public search API.
type Orchestrator struct {
	cfg     *config.Config
	store   store.Store
	retr    *retriever.Retriever
	client  llm.Client
	builder *cluster.Builder
	judge   sampler.RelevanceScorer
}

// New builds an orchestrator. A nil client restricts every mode to
// heuristic scoring and extractive synthesis.
func New(cfg *config.Config, st store.Store, dispatcher textsearch.Dispatcher, client llm.Client) *Orchestrator {
	o := &Orchestrator{
		cfg:     cfg,
		store:   st,
		retr:    retriever.New(dispatcher),
		client:  client,
		builder: cluster.New(client),
	}
	if client != nil {
		o.judge = llm.NewJudge(client)
	}
	return o
}

// Search runs one query through the mode's pipeline contract.
func (o *Orchestrator) Search(ctx context.Context, q types.SearchQuery) (*types.SearchResult, error) {
	if strings.TrimSpace(q.Query) == "" {
		return nil, fmt.Errorf("%w: query cannot be empty", types.ErrInvalidInput)
	}
	if len(q.Paths) == 0 {
		return nil, fmt.Errorf("%w: at least one search path is required", types.ErrInvalidInput)
	}
	if q.Mode == "" {
		q.Mode = types.ModeFast
	}
	if !q.Mode.Valid() {
		return nil, fmt.Errorf("%w: unknown mode %q", types.ErrInvalidInput, q.Mode)
	}
	if q.TopKFiles <= 0 {
		q.TopKFiles = o.cfg.Retrieval.TopKFiles
	}

	if q.Mode == types.ModeFilenameOnly {
		ctx, cancel := context.WithTimeout(ctx, config.DefaultFilenameTimeout)
		defer cancel()
		return o.searchByName(ctx, q)
	}

	ctx, cancel := context.WithTimeout(ctx, o.cfg.QueryTimeout)
	defer cancel()

	result := &types.SearchResult{}

	// Reuse probe. A sufficiently similar stored cluster answers the
	// query without any retrieval or sampling.
	ambiguous := o.probeReuse(ctx, q, result)
	if result.Reused {
		return result, nil
	}

	if err := o.freshSearch(ctx, q, result, ambiguous); err != nil {
		return nil, o.mapError(err)
	}
	return result, nil
}

// searchByName implements the FILENAME_ONLY contract: pure name matching,
// no sampling, no model calls.
func (o *Orchestrator) searchByName(ctx context.Context, q types.SearchQuery) (*types.SearchResult, error) {
	resp, err := o.retr.RetrieveByName(ctx, retriever.Request{
		Query:     q.Query,
		Paths:     q.Paths,
		MaxDepth:  q.MaxDepth,
		TopKFiles: q.TopKFiles,
		Include:   q.Include,
		Exclude:   q.Exclude,
	})
	if err != nil {
		return nil, o.mapError(err)
	}

	result := &types.SearchResult{
		Candidates: resp.Candidates,
		Warnings:   resp.Warnings,
	}
	if len(resp.Candidates) == 0 {
		result.Answer = fmt.Sprintf("No file names match %q.", q.Query)
		return result, nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d file(s) match %q:\n", len(resp.Candidates), q.Query)
	for _, c := range resp.Candidates {
		fmt.Fprintf(&b, "  %s\n", c.Path)
	}
	result.Answer = strings.TrimRight(b.String(), "\n")
	return result, nil
}

// probeReuse checks the store for a reusable cluster. On a hit it fills the
// result and returns nil; on ambiguity it returns the tied candidates so the
// fresh search can merge near-duplicates afterward.
func (o *Orchestrator) probeReuse(ctx context.Context, q types.SearchQuery, result *types.SearchResult) []store.Match {
	matches, err := o.store.FindSimilar(ctx, q.Query, 5)
	if err != nil {
		if errors.Is(err, types.ErrAmbiguousReuse) {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("reuse was ambiguous (%d similar clusters); running a fresh search", len(matches)))
			return matches
		}
		// A failed probe never fails the query.
		result.Warnings = append(result.Warnings, fmt.Sprintf("reuse probe failed: %v", err))
		return nil
	}
	if len(matches) == 0 {
		return nil
	}

	best := matches[0]
	updated, err := o.store.RecordReuse(ctx, best.Cluster.ID, best.Similarity)
	if err != nil {
		result.Warnings = append(result.Warnings, fmt.Sprintf("reuse update failed: %v", err))
		return nil
	}

	result.Reused = true
	result.ClusterID = updated.ID
	result.Evidence = updated.Evidence
	result.Answer = clusterAnswer(updated, true)
	if q.ReturnCluster {
		result.Cluster = updated
	}
	return nil
}

// freshSearch runs retrieval, sampling, and cluster construction.
func (o *Orchestrator) freshSearch(ctx context.Context, q types.SearchQuery, result *types.SearchResult, ambiguous []store.Match) error {
	resp, err := o.retr.Retrieve(ctx, retriever.Request{
		Query:         q.Query,
		Paths:         q.Paths,
		MaxDepth:      q.MaxDepth,
		TopKFiles:     q.TopKFiles,
		KeywordLevels: o.cfg.Retrieval.KeywordLevels,
		MinHits:       o.cfg.Retrieval.MinHits,
		Include:       q.Include,
		Exclude:       q.Exclude,
		Concurrency:   o.cfg.Retrieval.Concurrency,
	})
	if err != nil {
		return err
	}
	result.Candidates = resp.Candidates
	result.Warnings = append(result.Warnings, resp.Warnings...)

	if len(resp.Candidates) == 0 {
		result.Answer = fmt.Sprintf("No content matches %q.", q.Query)
		return nil
	}

	evidence, partial, err := o.sampleCandidates(ctx, q, resp.Candidates, result)
	if err != nil {
		return err
	}
	result.Evidence = evidence
	result.Partial = partial

	if partial {
		// Best-effort answer from whatever was gathered; nothing is
		// persisted for a cut-short search.
		result.Answer = partialAnswer(q.Query, evidence, resp.Candidates)
		result.Warnings = append(result.Warnings, "query budget exhausted; result is partial")
		return nil
	}
	if len(evidence) == 0 {
		result.Answer = fmt.Sprintf("Files matched %q but no relevant passages were found.", q.Query)
		return nil
	}

	built, err := o.builder.Build(ctx, q.Query, evidence, cluster.Options{
		Synthesize: q.Mode == types.ModeDeep && o.client != nil,
	})
	if err != nil {
		return err
	}
	if err := o.store.Insert(ctx, built); err != nil {
		return err
	}

	if merged := o.mergeNearDuplicate(ctx, built, ambiguous, result); merged != nil {
		built = merged
	}

	result.ClusterID = built.ID
	result.Answer = clusterAnswer(built, false)
	if q.ReturnCluster {
		result.Cluster = built
	}
	return nil
}

// sampleCandidates runs the evidence sampler over the top candidate files.
// Returns partial=true when the query deadline expires mid-way.
func (o *Orchestrator) sampleCandidates(ctx context.Context, q types.SearchQuery, candidates []types.FileCandidate, result *types.SearchResult) ([]types.EvidenceUnit, bool, error) {
	seed := o.cfg.Sampling.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	opts := []sampler.Option{
		sampler.WithSeed(seed),
		sampler.WithBucketSize(o.cfg.Sampling.BucketSize),
	}
	if q.Mode == types.ModeDeep && o.judge != nil {
		opts = append(opts, sampler.WithScorer(&countingScorer{judge: o.judge, usage: &result.Usage}))
	}
	smp := sampler.New(opts...)

	budget := sampler.Budget{
		Probes: o.cfg.Sampling.ProbeBudget,
		Tokens: o.cfg.Sampling.TokenBudget,
		TopK:   o.cfg.Sampling.TopKEvidence,
	}

	limit := sampleFileLimit
	if limit > len(candidates) {
		limit = len(candidates)
	}

	var evidence []types.EvidenceUnit
	for _, cand := range candidates[:limit] {
		if err := ctx.Err(); err != nil {
			partial, perr := o.isDeadline(ctx, err)
			return evidence, partial, perr
		}

		data, err := os.ReadFile(cand.Path)
		if err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("skipping %s: %v", cand.Path, err))
			continue
		}

		units, err := smp.Sample(ctx, q.Query, sampler.Document{Path: cand.Path, Text: string(data)}, budget)
		if err != nil {
			if errors.Is(err, types.ErrCancelled) {
				partial, perr := o.isDeadline(ctx, err)
				return evidence, partial, perr
			}
			return nil, false, err
		}
		for _, u := range units {
			if u.Degraded {
				result.Warnings = append(result.Warnings, fmt.Sprintf("degraded scoring for a span of %s", u.Path))
			}
		}
		evidence = append(evidence, units...)
	}

	sort.SliceStable(evidence, func(i, j int) bool { return evidence[i].Score > evidence[j].Score })
	if k := o.cfg.Sampling.TopKEvidence; k > 0 && len(evidence) > k {
		evidence = evidence[:k]
	}
	return evidence, false, nil
}

// isDeadline converts a context failure into the partial/error split: an
// expired per-query deadline yields a partial result, explicit cancellation
// propagates and discards the work.
func (o *Orchestrator) isDeadline(ctx context.Context, err error) (bool, error) {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true, nil
	}
	return false, fmt.Errorf("%w: %v", types.ErrCancelled, err)
}

// mergeNearDuplicate folds a freshly built cluster into the best ambiguous
// reuse candidate when they draw on the same sources.
func (o *Orchestrator) mergeNearDuplicate(ctx context.Context, built *types.KnowledgeCluster, ambiguous []store.Match, result *types.SearchResult) *types.KnowledgeCluster {
	if len(ambiguous) == 0 {
		return nil
	}
	best := ambiguous[0].Cluster

	if !sharesSources(built, best) {
		return nil
	}
	merged, err := o.store.Merge(ctx, []string{best.ID, built.ID})
	if err != nil {
		result.Warnings = append(result.Warnings, fmt.Sprintf("near-duplicate merge failed: %v", err))
		return nil
	}
	result.Warnings = append(result.Warnings,
		fmt.Sprintf("merged near-duplicate cluster into %s", merged.ID))
	return merged
}

func sharesSources(a, b *types.KnowledgeCluster) bool {
	paths := make(map[string]bool)
	for _, e := range a.Evidence {
		paths[e.Path] = true
	}
	for _, f := range b.Scan.SourceFiles {
		if paths[f] {
			return true
		}
	}
	for _, e := range b.Evidence {
		if paths[e.Path] {
			return true
		}
	}
	return false
}

// GetCluster returns one stored cluster by id.
func (o *Orchestrator) GetCluster(ctx context.Context, id string) (*types.KnowledgeCluster, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: cluster id cannot be empty", types.ErrInvalidInput)
	}
	c, err := o.store.Get(ctx, id)
	if err != nil {
		return nil, o.mapError(err)
	}
	return c, nil
}

// ListClusters returns stored clusters ordered by the sort key.
func (o *Orchestrator) ListClusters(ctx context.Context, limit int, sortBy string) ([]*types.KnowledgeCluster, error) {
	key := store.SortBy(sortBy)
	if sortBy == "" {
		key = store.SortByLastModified
	}
	if !key.Valid() {
		return nil, fmt.Errorf("%w: unknown sort key %q", types.ErrInvalidInput, sortBy)
	}
	clusters, err := o.store.List(ctx, limit, key)
	if err != nil {
		return nil, o.mapError(err)
	}
	return clusters, nil
}

// Stats exposes the store's aggregate distributions.
func (o *Orchestrator) Stats(ctx context.Context) (*store.Stats, error) {
	stats, err := o.store.Stats(ctx)
	if err != nil {
		return nil, o.mapError(err)
	}
	return stats, nil
}

// sentinels the public surface is allowed to return.
var taxonomy = []error{
	types.ErrInvalidInput,
	types.ErrNoSearchableInput,
	types.ErrToolUnavailable,
	types.ErrTransientIO,
	types.ErrLLM,
	types.ErrStoreConflict,
	types.ErrAmbiguousReuse,
	types.ErrCancelled,
	types.ErrNotFound,
}

// mapError guarantees the returned error wraps a taxonomy sentinel. Anything
// unclassified is treated as a transient I/O failure, the only open-ended
// category.
func (o *Orchestrator) mapError(err error) error {
	if err == nil {
		return nil
	}
	for _, sentinel := range taxonomy {
		if errors.Is(err, sentinel) {
			return err
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", types.ErrCancelled, err)
	}
	return fmt.Errorf("%w: %v", types.ErrTransientIO, err)
}

// countingScorer accumulates judge usage into the search result.
type countingScorer struct {
	judge sampler.RelevanceScorer
	usage *types.Usage
}

func (c *countingScorer) ScoreRelevance(ctx context.Context, query, passage string) (float64, string, types.Usage, error) {
	score, justification, usage, err := c.judge.ScoreRelevance(ctx, query, passage)
	c.usage.Add(usage)
	return score, justification, usage, err
}

// clusterAnswer renders a cluster as the user-facing answer text.
func clusterAnswer(c *types.KnowledgeCluster, reused bool) string {
	var b strings.Builder
	if reused {
		fmt.Fprintf(&b, "Reusing stored knowledge: %s\n", c.Name)
	} else {
		fmt.Fprintf(&b, "%s\n", c.Name)
	}
	if desc := c.Description.String(); desc != "" {
		fmt.Fprintf(&b, "%s\n", desc)
	}
	if content := c.Content.String(); content != "" {
		fmt.Fprintf(&b, "\n%s\n", content)
	}
	fmt.Fprintf(&b, "\n(confidence %.2f, %d evidence span(s), lifecycle %s)",
		c.Confidence, len(c.Evidence), c.Lifecycle)
	return b.String()
}

// partialAnswer summarizes what a cut-short search managed to gather.
func partialAnswer(query string, evidence []types.EvidenceUnit, candidates []types.FileCandidate) string {
	if len(evidence) > 0 {
		return fmt.Sprintf("Partial result for %q: %d evidence span(s) gathered before the budget ran out.",
			query, len(evidence))
	}
	return fmt.Sprintf("Partial result for %q: %d candidate file(s) ranked, no evidence sampled yet.",
		query, len(candidates))
}
