package keyword

import (
	"regexp"
	"sort"
	"strings"
)

// MatchKind selects how a level's terms combine into a search pattern.
type MatchKind string

const (
	// MatchAny matches a line containing any term (broad OR).
	MatchAny MatchKind = "any"
	// MatchAll matches files containing every term (narrow AND); the
	// dispatcher runs one pattern per term and intersects by file.
	MatchAll MatchKind = "all"
	// MatchPhrase matches the exact phrase.
	MatchPhrase MatchKind = "phrase"
)

// Level is one rung of the coarse-to-fine keyword ladder.
type Level struct {
	Terms []string
	Match MatchKind
}

// Pattern renders the level as a single regex for MatchAny/MatchPhrase, or
// the per-term patterns for MatchAll.
func (l Level) Patterns() []string {
	switch l.Match {
	case MatchAny:
		escaped := make([]string, len(l.Terms))
		for i, t := range l.Terms {
			escaped[i] = regexp.QuoteMeta(t)
		}
		return []string{strings.Join(escaped, "|")}
	case MatchPhrase:
		return []string{regexp.QuoteMeta(strings.Join(l.Terms, " "))}
	default:
		patterns := make([]string, len(l.Terms))
		for i, t := range l.Terms {
			patterns[i] = regexp.QuoteMeta(t)
		}
		return patterns
	}
}

// Planner turns a natural-language query into an ordered sequence of keyword
// levels at increasing specificity. Level 0 is the coarsest.
type Planner struct {
	maxTerms int
}

// New creates a Planner. maxTerms caps the salient terms carried per level.
func New(maxTerms int) *Planner {
	if maxTerms <= 0 {
		maxTerms = 6
	}
	return &Planner{maxTerms: maxTerms}
}

// Plan produces up to maxLevels levels. Output is deterministic for a given
// query: term order depends only on salience rank and original position.
func (p *Planner) Plan(query string, maxLevels int) []Level {
	if maxLevels <= 0 {
		maxLevels = 3
	}

	terms := p.salientTerms(query)
	if len(terms) == 0 {
		return nil
	}

	levels := make([]Level, 0, maxLevels)

	// Level 0: broad OR of every salient term.
	levels = append(levels, Level{Terms: terms, Match: MatchAny})

	// Middle level: AND of the top terms, when there is more than one and
	// room for a middle rung.
	if maxLevels >= 3 && len(terms) >= 2 {
		n := len(terms)
		if n > 3 {
			n = 3
		}
		levels = append(levels, Level{Terms: terms[:n], Match: MatchAll})
	}

	// Final level: the exact phrase, skipping single-term queries where the
	// phrase would duplicate level 0.
	phrase := phraseTerms(query)
	if len(levels) < maxLevels && len(phrase) >= 2 {
		levels = append(levels, Level{Terms: phrase, Match: MatchPhrase})
	}

	return levels
}

var wordRe = regexp.MustCompile(`[A-Za-z0-9_]+`)

// salientTerms extracts content words ranked by length (longer words carry
// more signal in keyword search), position-stable for equal lengths.
func (p *Planner) salientTerms(query string) []string {
	words := wordRe.FindAllString(strings.ToLower(query), -1)

	type ranked struct {
		term string
		pos  int
	}
	seen := make(map[string]bool)
	var candidates []ranked
	for i, w := range words {
		if len(w) < 3 || stopwords[w] || seen[w] {
			continue
		}
		seen[w] = true
		candidates = append(candidates, ranked{term: w, pos: i})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if len(candidates[i].term) != len(candidates[j].term) {
			return len(candidates[i].term) > len(candidates[j].term)
		}
		return candidates[i].pos < candidates[j].pos
	})

	if len(candidates) > p.maxTerms {
		candidates = candidates[:p.maxTerms]
	}

	terms := make([]string, len(candidates))
	for i, c := range candidates {
		terms[i] = c.term
	}
	return terms
}

// phraseTerms keeps the query's content words in original order for the
// exact-phrase level.
func phraseTerms(query string) []string {
	words := wordRe.FindAllString(strings.ToLower(query), -1)
	var out []string
	for _, w := range words {
		if stopwords[w] {
			continue
		}
		out = append(out, w)
	}
	return out
}

// stopwords are filtered before ranking. Kept small on purpose: over-eager
// filtering hurts recall more than a few noisy terms hurt precision.
var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"be": true, "but": true, "by": true, "can": true, "do": true, "does": true,
	"for": true, "from": true, "get": true, "has": true, "have": true,
	"how": true, "in": true, "is": true, "it": true, "its": true, "of": true,
	"on": true, "or": true, "that": true, "the": true, "their": true,
	"this": true, "to": true, "was": true, "what": true, "when": true,
	"where": true, "which": true, "who": true, "why": true, "will": true,
	"with": true, "work": true, "works": true,
}
