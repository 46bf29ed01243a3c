package cluster

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/ragless-mcp/internal/llm"
	"github.com/dshills/ragless-mcp/pkg/types"
)

const (
	maxName        = 80
	maxPatterns    = 8
	maxConstraints = 8
	initialHotness = 0.5

	// Confidence is discounted when any evidence carries a degraded score.
	degradedDiscount = 0.9
)

// Options controls one build.
type Options struct {
	// Synthesize asks the LLM for name/description/content instead of the
	// extractive path. Ignored when the builder has no client.
	Synthesize bool
}

// Builder assembles knowledge clusters from evidence. A nil client limits it
// to extractive synthesis.
type Builder struct {
	client llm.Client
	now    func() time.Time
	statFn func(string) (os.FileInfo, error)
}

func New(client llm.Client) *Builder {
	return &Builder{
		client: client,
		now:    time.Now,
		statFn: os.Stat,
	}
}

// Build creates a new cluster from the query and its evidence. The cluster
// starts at EMERGING with one corroboration.
func (b *Builder) Build(ctx context.Context, query string, evidence []types.EvidenceUnit, opts Options) (*types.KnowledgeCluster, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: query cannot be empty", types.ErrInvalidInput)
	}
	if len(evidence) == 0 {
		return nil, fmt.Errorf("%w: no evidence to build from", types.ErrInvalidInput)
	}
	for i := range evidence {
		if err := evidence[i].Validate(); err != nil {
			return nil, fmt.Errorf("%w: evidence %d: %v", types.ErrInvalidInput, i, err)
		}
	}

	now := b.now()
	cluster := &types.KnowledgeCluster{
		ID:             uuid.NewString(),
		Confidence:     confidence(evidence),
		Abstraction:    classifyAbstraction(evidence),
		Lifecycle:      types.LifecycleEmerging,
		Hotness:        initialHotness,
		Corroborations: 1,
		QueryRefs:      []string{query},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	cluster.Evidence = make([]types.EvidenceUnit, len(evidence))
	for i := range evidence {
		cluster.Evidence[i] = evidence[i].Clone()
	}

	synthesized := false
	if opts.Synthesize && b.client != nil {
		if err := b.synthesize(ctx, query, evidence, cluster); err == nil {
			synthesized = true
		}
	}
	if !synthesized {
		b.extract(query, evidence, cluster)
	}

	b.verifyReferences(cluster, now)
	return cluster, nil
}

// extract fills the curated fields without any model call.
func (b *Builder) extract(query string, evidence []types.EvidenceUnit, cluster *types.KnowledgeCluster) {
	cluster.Name = nameFromQuery(query)
	cluster.Description = types.Scalar(fmt.Sprintf(
		"Synthesized from %d evidence span(s) across %d file(s).",
		len(evidence), len(sourcePaths(evidence))))

	snippets := make([]string, 0, len(evidence))
	for _, e := range evidence {
		snippets = append(snippets, strings.TrimSpace(e.Text))
	}
	cluster.Content = types.List(snippets)

	cluster.Patterns = minePatterns(evidence)
	cluster.Constraints = mineConstraints(evidence)
}

// synthesisResult is the JSON shape the model is asked to produce.
type synthesisResult struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Content     string   `json:"content"`
	Patterns    []string `json:"patterns"`
	Constraints []string `json:"constraints"`
}

const synthesisSystemPrompt = `You distill search evidence into a knowledge record.
Respond with a single JSON object and nothing else:
{"name": "<short title>", "description": "<one sentence>", "content": "<concise synthesis of the evidence>", "patterns": ["<recurring pattern>", ...], "constraints": ["<precondition or limitation>", ...]}
Base every field strictly on the provided evidence.`

func (b *Builder) synthesize(ctx context.Context, query string, evidence []types.EvidenceUnit, cluster *types.KnowledgeCluster) error {
	var prompt strings.Builder
	fmt.Fprintf(&prompt, "Query: %s\n\nEvidence:\n", query)
	for i, e := range evidence {
		fmt.Fprintf(&prompt, "[%d] (%s) %s\n\n", i+1, e.Path, strings.TrimSpace(e.Text))
	}

	result, err := b.client.Complete(ctx, llm.CompletionRequest{
		System:     synthesisSystemPrompt,
		Prompt:     prompt.String(),
		MaxTokens:  800,
		JSONOutput: true,
	})
	if err != nil {
		return err
	}

	var parsed synthesisResult
	if err := json.Unmarshal([]byte(strings.TrimSpace(result.Content)), &parsed); err != nil {
		return fmt.Errorf("%w: synthesis returned unparseable output: %v", types.ErrLLM, err)
	}
	if parsed.Name == "" || parsed.Content == "" {
		return fmt.Errorf("%w: synthesis missing required fields", types.ErrLLM)
	}

	cluster.Name = truncate(parsed.Name, maxName)
	cluster.Description = types.Scalar(parsed.Description)
	cluster.Content = types.Scalar(parsed.Content)
	for _, p := range parsed.Patterns {
		if p = strings.TrimSpace(p); p != "" && len(cluster.Patterns) < maxPatterns {
			cluster.Patterns = append(cluster.Patterns, p)
		}
	}
	for _, c := range parsed.Constraints {
		if c = strings.TrimSpace(c); c != "" && len(cluster.Constraints) < maxConstraints {
			cluster.Constraints = append(cluster.Constraints, types.Constraint{Kind: "limitation", Text: c})
		}
	}
	return nil
}

// verifyReferences stats every backing file and flags the missing ones.
func (b *Builder) verifyReferences(cluster *types.KnowledgeCluster, now time.Time) {
	paths := sourcePaths(cluster.Evidence)
	cluster.Scan.SourceFiles = paths
	cluster.Scan.LastScannedAt = now

	for _, path := range paths {
		info, err := b.statFn(path)
		if err != nil {
			cluster.Scan.MissingFiles = append(cluster.Scan.MissingFiles, path)
			cluster.Constraints = append(cluster.Constraints, types.Constraint{
				Kind: "broken_reference",
				Text: fmt.Sprintf("evidence source %s is missing", path),
			})
			continue
		}
		cluster.Scan.TotalBytes += info.Size()
	}
}

// confidence is the span-length-weighted average of evidence scores, with a
// discount when any score is degraded.
func confidence(evidence []types.EvidenceUnit) float64 {
	var weighted, total float64
	degraded := false
	for _, e := range evidence {
		w := float64(e.End - e.Start)
		weighted += e.Score * w
		total += w
		if e.Degraded {
			degraded = true
		}
	}
	if total == 0 {
		return 0
	}
	c := weighted / total
	if degraded {
		c *= degradedDiscount
	}
	if c > 1 {
		c = 1
	}
	if c < 0 {
		c = 0
	}
	return c
}

// abstraction markers, from most general down. First tier with a hit wins;
// evidence without any marker is treated as concrete technique material.
var abstractionMarkers = []struct {
	level types.AbstractionLevel
	words []string
}{
	{types.LevelPhilosophy, []string{"philosophy", "worldview", "belief"}},
	{types.LevelFoundation, []string{"foundation", "fundamental", "axiom", "theory"}},
	{types.LevelParadigm, []string{"paradigm", "model of", "framework"}},
	{types.LevelPrinciple, []string{"principle", "in general", "rule of thumb", "invariant"}},
}

func classifyAbstraction(evidence []types.EvidenceUnit) types.AbstractionLevel {
	var text strings.Builder
	for _, e := range evidence {
		text.WriteString(strings.ToLower(e.Text))
		text.WriteByte('\n')
	}
	body := text.String()

	for _, tier := range abstractionMarkers {
		for _, word := range tier.words {
			if strings.Contains(body, word) {
				return tier.level
			}
		}
	}
	return types.LevelTechnique
}

var patternMarkers = []string{"always", "typically", "usually", "pattern", "each time", "whenever", "tends to"}

var constraintMarkers = []struct {
	kind  string
	words []string
}{
	{"precondition", []string{"requires", "must first", "only if", "only when", "depends on"}},
	{"limitation", []string{"cannot", "does not", "never", "limitation", "unless", "fails when"}},
}

// minePatterns pulls recurring-behavior sentences out of the evidence.
func minePatterns(evidence []types.EvidenceUnit) []string {
	var patterns []string
	seen := make(map[string]bool)
	for _, e := range evidence {
		for _, sentence := range splitSentences(e.Text) {
			lower := strings.ToLower(sentence)
			for _, marker := range patternMarkers {
				if strings.Contains(lower, marker) && !seen[sentence] {
					seen[sentence] = true
					patterns = append(patterns, sentence)
					break
				}
			}
			if len(patterns) >= maxPatterns {
				return patterns
			}
		}
	}
	return patterns
}

// mineConstraints pulls precondition and limitation sentences.
func mineConstraints(evidence []types.EvidenceUnit) []types.Constraint {
	var constraints []types.Constraint
	seen := make(map[string]bool)
	for _, e := range evidence {
		for _, sentence := range splitSentences(e.Text) {
			lower := strings.ToLower(sentence)
			for _, marker := range constraintMarkers {
				matched := false
				for _, word := range marker.words {
					if strings.Contains(lower, word) {
						matched = true
						break
					}
				}
				if matched && !seen[sentence] {
					seen[sentence] = true
					constraints = append(constraints, types.Constraint{Kind: marker.kind, Text: sentence})
					break
				}
			}
			if len(constraints) >= maxConstraints {
				return constraints
			}
		}
	}
	return constraints
}

// splitSentences is a rough splitter, good enough for marker mining.
func splitSentences(text string) []string {
	raw := strings.FieldsFunc(text, func(r rune) bool {
		return r == '.' || r == '!' || r == '?' || r == '\n'
	})
	sentences := make([]string, 0, len(raw))
	for _, s := range raw {
		if s = strings.TrimSpace(s); len(s) > 10 {
			sentences = append(sentences, s)
		}
	}
	return sentences
}

func nameFromQuery(query string) string {
	name := strings.TrimSpace(query)
	name = strings.TrimRight(name, "?!.")
	if name == "" {
		name = "untitled"
	}
	return truncate(name, maxName)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return strings.TrimSpace(s[:n])
}

// sourcePaths returns the unique evidence paths in sorted order.
func sourcePaths(evidence []types.EvidenceUnit) []string {
	seen := make(map[string]bool)
	var paths []string
	for _, e := range evidence {
		if !seen[e.Path] {
			seen[e.Path] = true
			paths = append(paths, e.Path)
		}
	}
	sort.Strings(paths)
	return paths
}
