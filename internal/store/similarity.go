package store

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/sahilm/fuzzy"

	"github.com/dshills/ragless-mcp/pkg/types"
)

// Find returns clusters ranked against the text: an FTS5 pass narrows the
// population, then a fuzzy match over name and description orders it. When
// FTS finds nothing (typos, partial words) the fuzzy pass runs over all
// clusters instead.
func (s *SQLiteStore) Find(ctx context.Context, text string, limit int) ([]*types.KnowledgeCluster, error) {
	return s.findWithQuerier(ctx, s.db, text, limit)
}

func (s *SQLiteStore) findWithQuerier(ctx context.Context, q querier, text string, limit int) ([]*types.KnowledgeCluster, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("%w: search text cannot be empty", types.ErrInvalidInput)
	}
	if limit <= 0 {
		limit = 10
	}

	ids, err := s.ftsCandidates(ctx, q, text, limit*4)
	if err != nil {
		return nil, err
	}

	var candidates []*types.KnowledgeCluster
	if len(ids) > 0 {
		for _, id := range ids {
			cluster, err := s.getWithQuerier(ctx, q, id)
			if err != nil {
				return nil, err
			}
			candidates = append(candidates, cluster)
		}
	} else {
		// Fuzzy-only fallback over the whole population.
		candidates, err = s.listWithQuerier(ctx, q, 1000, SortByLastModified)
		if err != nil {
			return nil, err
		}
	}
	if len(candidates) == 0 {
		return []*types.KnowledgeCluster{}, nil
	}

	ranked := fuzzyRank(text, candidates)
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked, nil
}

// ftsCandidates queries the FTS5 table with a sanitized OR query.
func (s *SQLiteStore) ftsCandidates(ctx context.Context, q querier, text string, limit int) ([]string, error) {
	terms := tokenize(text)
	if len(terms) == 0 {
		return nil, nil
	}
	for i, t := range terms {
		terms[i] = `"` + t + `"`
	}
	match := strings.Join(terms, " OR ")

	rows, err := q.QueryContext(ctx,
		"SELECT cluster_id FROM clusters_fts WHERE clusters_fts MATCH ? ORDER BY rank LIMIT ?",
		match, limit)
	if err != nil {
		return nil, fmt.Errorf("full-text query failed: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// clusterSource adapts clusters to fuzzy.Source over name plus description.
type clusterSource struct {
	clusters []*types.KnowledgeCluster
}

func (s clusterSource) String(i int) string {
	c := s.clusters[i]
	return c.Name + " " + c.Description.String()
}

func (s clusterSource) Len() int { return len(s.clusters) }

// fuzzyRank orders candidates by fuzzy match quality. Candidates the fuzzy
// matcher rejects outright keep their incoming order behind the matches.
func fuzzyRank(text string, candidates []*types.KnowledgeCluster) []*types.KnowledgeCluster {
	matches := fuzzy.FindFrom(text, clusterSource{clusters: candidates})

	ranked := make([]*types.KnowledgeCluster, 0, len(candidates))
	seen := make(map[int]bool, len(matches))
	for _, m := range matches {
		seen[m.Index] = true
		ranked = append(ranked, candidates[m.Index])
	}
	for i, c := range candidates {
		if !seen[i] {
			ranked = append(ranked, c)
		}
	}
	return ranked
}

// FindSimilar returns reuse candidates for the query. Candidates are all
// non-deprecated clusters whose similarity clears the configured threshold,
// ranked by similarity. If several sit within the tie band of the best one,
// the matches are returned together with types.ErrAmbiguousReuse: the store
// must not silently pick a canonical cluster among near-ties.
func (s *SQLiteStore) FindSimilar(ctx context.Context, query string, topK int) ([]Match, error) {
	return s.findSimilarWithQuerier(ctx, s.db, query, topK)
}

func (s *SQLiteStore) findSimilarWithQuerier(ctx context.Context, q querier, query string, topK int) ([]Match, error) {
	queryTokens := tokenSet(query)
	if len(queryTokens) == 0 {
		return nil, fmt.Errorf("%w: query has no usable terms", types.ErrInvalidInput)
	}
	if topK <= 0 {
		topK = 5
	}

	clusters, err := s.listWithQuerier(ctx, q, 1000, SortByLastModified)
	if err != nil {
		return nil, err
	}

	var matches []Match
	for _, cluster := range clusters {
		if cluster.Lifecycle == types.LifecycleDeprecated {
			continue
		}
		sim := similarity(queryTokens, cluster)
		if sim >= s.opts.SimilarityThreshold {
			matches = append(matches, Match{Cluster: cluster, Similarity: sim})
		}
	}
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Similarity != matches[j].Similarity {
			return matches[i].Similarity > matches[j].Similarity
		}
		return matches[i].Cluster.Hotness > matches[j].Cluster.Hotness
	})
	if len(matches) > topK {
		matches = matches[:topK]
	}

	if len(matches) >= 2 && matches[0].Similarity-matches[1].Similarity <= s.opts.ReuseTieBand {
		return matches, fmt.Errorf("%w: %d candidates within the tie band", types.ErrAmbiguousReuse, len(matches))
	}
	return matches, nil
}

// similarity is the best overlap coefficient between the query tokens and
// any of the cluster's stored queries or its name. The overlap coefficient
// (intersection over the smaller set) scores a query that restates a stored
// one at 1.0 even when one side carries extra words.
func similarity(queryTokens map[string]bool, cluster *types.KnowledgeCluster) float64 {
	best := overlap(queryTokens, tokenSet(cluster.Name))
	for _, ref := range cluster.QueryRefs {
		if sim := overlap(queryTokens, tokenSet(ref)); sim > best {
			best = sim
		}
	}
	return best
}

func overlap(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	small, large := a, b
	if len(b) < len(a) {
		small, large = b, a
	}
	shared := 0
	for t := range small {
		if large[t] {
			shared++
		}
	}
	return float64(shared) / float64(len(small))
}

// similarityStopwords are dropped before token comparison so boilerplate
// question words do not inflate overlap.
var similarityStopwords = map[string]bool{
	"a": true, "an": true, "the": true, "of": true, "in": true, "on": true,
	"to": true, "for": true, "and": true, "or": true, "is": true, "are": true,
	"how": true, "what": true, "why": true, "does": true, "do": true,
	"can": true, "where": true, "when": true, "which": true,
}

func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	})
	tokens := fields[:0]
	for _, f := range fields {
		if len(f) > 1 && !similarityStopwords[f] {
			tokens = append(tokens, f)
		}
	}
	return tokens
}

func tokenSet(text string) map[string]bool {
	set := make(map[string]bool)
	for _, t := range tokenize(text) {
		set[t] = true
	}
	return set
}

func joinRefs(refs []string) string {
	return strings.Join(refs, "\n")
}
