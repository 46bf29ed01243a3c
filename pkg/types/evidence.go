package types

import "errors"

// EvidenceUnit is a scored span of raw content located by the sampler.
// Offsets are byte positions within the source file, expanded outward to
// paragraph boundaries so the text is never a dangling fragment.
type EvidenceUnit struct {
	Path          string
	Start         int
	End           int
	Text          string
	Score         float64 // Relevance in [0,1]
	Justification string  // Short reason from the scoring pass, may be empty
	Degraded      bool    // True when LLM scoring failed and the heuristic score stands
}

// Validate checks span and score invariants.
func (e *EvidenceUnit) Validate() error {
	if e.Path == "" {
		return errors.New("evidence requires a source path")
	}
	if e.Start < 0 || e.End <= e.Start {
		return errors.New("evidence span must satisfy 0 <= start < end")
	}
	if e.Score < 0 || e.Score > 1 {
		return errors.New("evidence score must be between 0 and 1")
	}
	return nil
}

// Clone returns an independent copy. Evidence attached to a cluster is
// shared-read, so mutation always goes through a copy.
func (e *EvidenceUnit) Clone() EvidenceUnit {
	return *e
}
