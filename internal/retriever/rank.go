package retriever

import (
	"math"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dshills/ragless-mcp/internal/textsearch"
	"github.com/dshills/ragless-mcp/pkg/types"
)

// Ranking weights. The filename/title bonus makes a name hit outweigh an
// equivalent in-body hit; the length penalty divisor keeps match density,
// not absolute count, in charge.
const (
	filenameBonus   = 2.5
	titleBonus      = 1.5
	lengthPenaltyKB = 4.0
)

// rank scores matched files TF-IDF style over the winning level's terms and
// returns the top k candidates in deterministic order.
func rank(records []types.MatchRecord, terms []string, files []textsearch.FileEntry, topK int) []types.FileCandidate {
	entries := make(map[string]textsearch.FileEntry, len(files))
	for _, f := range files {
		entries[f.Path] = f
	}

	// Term frequency per file, counted over matched lines.
	tf := make(map[string]map[string]int)
	for _, rec := range records {
		text := strings.ToLower(rec.Text)
		for _, term := range terms {
			if !strings.Contains(text, term) {
				continue
			}
			if tf[rec.Path] == nil {
				tf[rec.Path] = make(map[string]int)
			}
			tf[rec.Path][term] += strings.Count(text, term)
		}
	}

	// Document frequency per term, over the discovered corpus size.
	df := make(map[string]int)
	for _, termCounts := range tf {
		for term := range termCounts {
			df[term]++
		}
	}
	corpusSize := len(files)
	if corpusSize == 0 {
		corpusSize = len(tf)
	}

	matchCount := make(map[string]int)
	for _, rec := range records {
		matchCount[rec.Path]++
	}

	candidates := make([]types.FileCandidate, 0, len(tf))
	for path, termCounts := range tf {
		entry, known := entries[path]

		var score float64
		for term, count := range termCounts {
			idf := math.Log(1 + float64(corpusSize)/float64(df[term]))
			score += float64(count) * idf
		}

		// Length-normalization penalty: longer files are down-weighted
		// per match so density drives rank.
		if known && entry.Size > 0 {
			score /= 1 + math.Log1p(float64(entry.Size)/(lengthPenaltyKB*1024))
		}

		// Filename and title bonuses.
		base := strings.ToLower(filepath.Base(path))
		title := ""
		if known {
			title = strings.ToLower(textsearch.ExtractTitle(path))
		}
		for _, term := range terms {
			idf := math.Log(1 + float64(corpusSize)/float64(maxInt(df[term], 1)))
			if strings.Contains(base, term) {
				score += filenameBonus * idf
			}
			if title != "" && strings.Contains(title, term) {
				score += titleBonus * idf
			}
		}

		cand := types.FileCandidate{
			Path:    path,
			Score:   score,
			Matches: matchCount[path],
		}
		if known {
			cand.Size = entry.Size
			cand.FileType = entry.Type
			cand.ModTime = time.Unix(0, entry.ModTime)
			cand.Title = textsearch.ExtractTitle(path)
		}
		candidates = append(candidates, cand)
	}

	sortCandidates(candidates)

	if topK > 0 && len(candidates) > topK {
		candidates = candidates[:topK]
	}
	return candidates
}

// sortCandidates orders by score descending, then most-recent modification
// time, then lexicographic path. Determinism here is a contract, not a nicety.
func sortCandidates(candidates []types.FileCandidate) {
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		if !candidates[i].ModTime.Equal(candidates[j].ModTime) {
			return candidates[i].ModTime.After(candidates[j].ModTime)
		}
		return candidates[i].Path < candidates[j].Path
	})
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
