package sampler

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"strings"

	"github.com/dshills/ragless-mcp/pkg/types"
)

const (
	DefaultBucketSize = 512
	DefaultTopK       = 5

	// Weight-update factors for the importance loop.
	neighborBoost = 1.4
	visitedDecay  = 0.15
	weightFloor   = 0.05
)

// Document is the content the sampler probes. Text is held in memory for the
// duration of one sample; megabyte-scale files are the expected upper bound.
type Document struct {
	Path string
	Text string
}

// Budget bounds one sampling run. Probes caps loop iterations, Tokens caps
// the estimated text volume scored, TopK caps the returned evidence.
type Budget struct {
	Probes int
	Tokens int
	TopK   int
}

// RelevanceScorer judges how relevant a passage is to a query. Implemented
// by the LLM boundary; nil means heuristic scoring only.
type RelevanceScorer interface {
	ScoreRelevance(ctx context.Context, query, passage string) (score float64, justification string, usage types.Usage, err error)
}

// Option configures a Sampler.
type Option func(*Sampler)

// WithScorer enables the LLM confirmation pass on the top spans.
func WithScorer(s RelevanceScorer) Option {
	return func(sm *Sampler) { sm.scorer = s }
}

// WithSeed fixes the random source. The default seed is 1, so sampling is
// deterministic unless a caller opts into a varying seed.
func WithSeed(seed int64) Option {
	return func(sm *Sampler) { sm.seed = seed }
}

// WithBucketSize overrides the offset-bucket width in bytes.
func WithBucketSize(size int) Option {
	return func(sm *Sampler) {
		if size > 0 {
			sm.bucketSize = size
		}
	}
}

// Sampler runs Monte-Carlo evidence localization. Safe for concurrent use;
// all mutable state lives in the per-call sampling state.
type Sampler struct {
	scorer     RelevanceScorer
	seed       int64
	bucketSize int
}

func New(opts ...Option) *Sampler {
	s := &Sampler{
		seed:       1,
		bucketSize: DefaultBucketSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// bucket is one fixed-width offset range of the document.
type bucket struct {
	start int
	end   int
}

// probe is one scored window. Windows from different draws may coincide
// after boundary expansion; the highest score per span wins.
type probe struct {
	start int
	end   int
	score float64
}

// state is the explicit loop state: weights, visit marks, counters, and the
// previous round's top scores for the convergence check.
type state struct {
	weights    []float64
	visited    map[int]bool
	probesUsed int
	tokensUsed int
	prevTop    []float64
}

// Sample returns the most query-relevant spans of doc, at most budget.TopK,
// ordered by non-increasing score. An empty document or a zero probe budget
// yields an empty list and no error.
func (s *Sampler) Sample(ctx context.Context, query string, doc Document, budget Budget) ([]types.EvidenceUnit, error) {
	if budget.Probes <= 0 || len(doc.Text) == 0 {
		return []types.EvidenceUnit{}, nil
	}
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: query cannot be empty", types.ErrInvalidInput)
	}
	if budget.TopK <= 0 {
		budget.TopK = DefaultTopK
	}

	buckets := splitBuckets(len(doc.Text), s.bucketSize)
	terms := queryTerms(query)

	st := &state{
		weights: anchorWeights(terms, doc.Text, buckets),
		visited: make(map[int]bool, len(buckets)),
	}

	rng := rand.New(rand.NewSource(s.seed))
	probes := make(map[[2]int]*probe)

	// Convergence is checked once per round; a round is topK draws.
	roundSize := budget.TopK
	sinceRound := 0

	for st.probesUsed < budget.Probes {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: sampling aborted: %v", types.ErrCancelled, err)
		}
		if budget.Tokens > 0 && st.tokensUsed >= budget.Tokens {
			break
		}

		idx := drawBucket(rng, st.weights)
		b := buckets[idx]
		start, end := expandToSentence(doc.Text, b.start, b.end)
		window := doc.Text[start:end]

		score := lexicalOverlap(terms, window)
		key := [2]int{start, end}
		if existing, ok := probes[key]; !ok || score > existing.score {
			probes[key] = &probe{start: start, end: end, score: score}
		}

		st.probesUsed++
		st.tokensUsed += estimateTokens(window)
		s.updateWeights(st, idx, score)

		sinceRound++
		if sinceRound >= roundSize {
			sinceRound = 0
			top := topScores(probes, budget.TopK)
			// Stability only counts once something scored, or once every
			// bucket has been tried; otherwise a run of early misses
			// would end the search before it ever reached the evidence.
			settled := (len(top) > 0 && top[0] > 0) || len(st.visited) == len(buckets)
			if settled && scoresEqual(top, st.prevTop) {
				break
			}
			st.prevTop = top
		}
	}

	units := s.buildEvidence(doc, probes, budget.TopK)
	if s.scorer != nil {
		s.confirm(ctx, query, units)
		sort.SliceStable(units, func(i, j int) bool { return units[i].Score > units[j].Score })
	}
	return units, nil
}

// updateWeights decays the bucket just visited and boosts its neighbors when
// the probe scored anything at all. Evidence tends to cluster, so a hit makes
// adjacent buckets more likely draws.
func (s *Sampler) updateWeights(st *state, idx int, score float64) {
	st.visited[idx] = true
	st.weights[idx] *= visitedDecay
	if st.weights[idx] < weightFloor {
		st.weights[idx] = weightFloor
	}
	if score <= 0 {
		return
	}
	for _, n := range []int{idx - 1, idx + 1} {
		if n < 0 || n >= len(st.weights) || st.visited[n] {
			continue
		}
		st.weights[n] *= neighborBoost * (1 + score)
	}
}

// buildEvidence turns the best probes into evidence units, expanding each to
// its enclosing paragraph and collapsing spans that became identical or
// nested after expansion.
func (s *Sampler) buildEvidence(doc Document, probes map[[2]int]*probe, topK int) []types.EvidenceUnit {
	ranked := make([]*probe, 0, len(probes))
	for _, p := range probes {
		if p.score > 0 {
			ranked = append(ranked, p)
		}
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].start < ranked[j].start
	})

	units := make([]types.EvidenceUnit, 0, topK)
	for _, p := range ranked {
		if len(units) >= topK {
			break
		}
		start, end := expandToParagraph(doc.Text, p.start, p.end)
		if start < 0 {
			start = 0
		}
		if end > len(doc.Text) {
			end = len(doc.Text)
		}
		if start >= end {
			continue
		}
		if coveredBy(units, start, end) {
			continue
		}
		units = append(units, types.EvidenceUnit{
			Path:  doc.Path,
			Start: start,
			End:   end,
			Text:  doc.Text[start:end],
			Score: p.score,
		})
	}
	return units
}

// confirm reruns the top spans through the LLM scorer. A failed call keeps
// the heuristic score and marks the unit degraded.
func (s *Sampler) confirm(ctx context.Context, query string, units []types.EvidenceUnit) {
	for i := range units {
		score, justification, _, err := s.scorer.ScoreRelevance(ctx, query, units[i].Text)
		if err != nil {
			units[i].Degraded = true
			continue
		}
		if score < 0 {
			score = 0
		}
		if score > 1 {
			score = 1
		}
		units[i].Score = score
		units[i].Justification = justification
	}
}

// coveredBy reports whether the span duplicates or nests inside evidence
// already selected.
func coveredBy(units []types.EvidenceUnit, start, end int) bool {
	for _, u := range units {
		if start >= u.Start && end <= u.End {
			return true
		}
	}
	return false
}

func splitBuckets(docLen, size int) []bucket {
	if size <= 0 {
		size = DefaultBucketSize
	}
	buckets := make([]bucket, 0, docLen/size+1)
	for start := 0; start < docLen; start += size {
		end := start + size
		if end > docLen {
			end = docLen
		}
		buckets = append(buckets, bucket{start: start, end: end})
	}
	return buckets
}

// drawBucket samples an index proportionally to its weight.
func drawBucket(rng *rand.Rand, weights []float64) int {
	var total float64
	for _, w := range weights {
		total += w
	}
	target := rng.Float64() * total
	var cum float64
	for i, w := range weights {
		cum += w
		if target < cum {
			return i
		}
	}
	return len(weights) - 1
}

// lexicalOverlap scores a window by the fraction of query terms it contains,
// in [0,1].
func lexicalOverlap(terms []string, window string) float64 {
	if len(terms) == 0 {
		return 0
	}
	lower := strings.ToLower(window)
	hits := 0
	for _, term := range terms {
		if strings.Contains(lower, term) {
			hits++
		}
	}
	return float64(hits) / float64(len(terms))
}

// queryTerms lowercases and splits the query, dropping single-letter tokens.
func queryTerms(query string) []string {
	fields := strings.Fields(strings.ToLower(query))
	terms := fields[:0]
	for _, f := range fields {
		f = strings.Trim(f, ".,;:!?\"'()")
		if len(f) > 1 {
			terms = append(terms, f)
		}
	}
	return terms
}

// estimateTokens approximates LLM token usage at four bytes per token.
func estimateTokens(text string) int {
	return len(text)/4 + 1
}

func topScores(probes map[[2]int]*probe, k int) []float64 {
	scores := make([]float64, 0, len(probes))
	for _, p := range probes {
		scores = append(scores, p.score)
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(scores)))
	if len(scores) > k {
		scores = scores[:k]
	}
	return scores
}

func scoresEqual(a, b []float64) bool {
	if len(a) != len(b) || len(a) == 0 {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
