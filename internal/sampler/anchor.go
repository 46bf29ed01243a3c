package sampler

import (
	"strings"

	"github.com/sahilm/fuzzy"
)

// bucketSource adapts document buckets to fuzzy.Source.
type bucketSource struct {
	text    string
	buckets []bucket
}

func (s bucketSource) String(i int) string {
	b := s.buckets[i]
	return s.text[b.start:b.end]
}

func (s bucketSource) Len() int { return len(s.buckets) }

// anchorWeights builds the prior relevance-density curve. Each query term is
// fuzzy-matched against every bucket and match scores accumulate into the
// bucket's weight. Every bucket keeps at least the floor weight so sampling
// can still explore regions phrased differently from the query.
func anchorWeights(terms []string, text string, buckets []bucket) []float64 {
	weights := make([]float64, len(buckets))
	for i := range weights {
		weights[i] = weightFloor
	}

	source := bucketSource{text: strings.ToLower(text), buckets: buckets}
	for _, term := range terms {
		for _, match := range fuzzy.FindFrom(term, source) {
			if match.Score <= 0 {
				continue
			}
			weights[match.Index] += float64(match.Score)
		}
	}

	// Normalize so the anchoring pass, not bucket count, sets the scale.
	var max float64
	for _, w := range weights {
		if w > max {
			max = w
		}
	}
	if max > 0 {
		for i := range weights {
			weights[i] = weights[i]/max + weightFloor
		}
	}
	return weights
}
