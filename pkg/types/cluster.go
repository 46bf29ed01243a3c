package types

import (
	"errors"
	"time"
)

// Lifecycle is the state of a knowledge cluster. Transitions are
// one-directional except STABLE <-> CONTESTED, which may cycle. DEPRECATED is
// terminal.
type Lifecycle string

const (
	LifecycleEmerging   Lifecycle = "emerging"
	LifecycleStable     Lifecycle = "stable"
	LifecycleContested  Lifecycle = "contested"
	LifecycleDeprecated Lifecycle = "deprecated"
)

// Valid reports whether the value is a known lifecycle state.
func (l Lifecycle) Valid() bool {
	switch l {
	case LifecycleEmerging, LifecycleStable, LifecycleContested, LifecycleDeprecated:
		return true
	}
	return false
}

// CanTransition reports whether moving from l to next is a legal transition.
func (l Lifecycle) CanTransition(next Lifecycle) bool {
	if l == next {
		return true
	}
	switch l {
	case LifecycleEmerging:
		return next == LifecycleStable || next == LifecycleContested || next == LifecycleDeprecated
	case LifecycleStable:
		return next == LifecycleContested || next == LifecycleDeprecated
	case LifecycleContested:
		return next == LifecycleStable || next == LifecycleDeprecated
	case LifecycleDeprecated:
		return false
	}
	return false
}

// rank orders lifecycle states by maturity, used when merging clusters.
func (l Lifecycle) rank() int {
	switch l {
	case LifecycleEmerging:
		return 0
	case LifecycleStable:
		return 2
	case LifecycleContested:
		return 1
	case LifecycleDeprecated:
		return 3
	}
	return -1
}

// MoreAdvanced returns the more mature of two lifecycle states.
func MoreAdvanced(a, b Lifecycle) Lifecycle {
	if b.rank() > a.rank() {
		return b
	}
	return a
}

// AbstractionLevel classifies how general a cluster's content is, from a
// concrete technique up to a guiding philosophy.
type AbstractionLevel int

const (
	LevelTechnique AbstractionLevel = iota
	LevelPrinciple
	LevelParadigm
	LevelFoundation
	LevelPhilosophy
)

// String returns the canonical lowercase name of the level.
func (a AbstractionLevel) String() string {
	switch a {
	case LevelTechnique:
		return "technique"
	case LevelPrinciple:
		return "principle"
	case LevelParadigm:
		return "paradigm"
	case LevelFoundation:
		return "foundation"
	case LevelPhilosophy:
		return "philosophy"
	}
	return "unknown"
}

// ParseAbstractionLevel maps a stored name back to its ordinal.
func ParseAbstractionLevel(s string) (AbstractionLevel, error) {
	switch s {
	case "technique":
		return LevelTechnique, nil
	case "principle":
		return LevelPrinciple, nil
	case "paradigm":
		return LevelParadigm, nil
	case "foundation":
		return LevelFoundation, nil
	case "philosophy":
		return LevelPhilosophy, nil
	}
	return 0, errors.New("unknown abstraction level: " + s)
}

// Constraint is a precondition or limitation statement attached to a cluster.
type Constraint struct {
	Kind string // "precondition", "limitation", or "broken_reference"
	Text string
}

// ScanMeta holds scan-derived metadata for a cluster. It is keyed separately
// from the curated fields so a raw re-scan can never overwrite human- or
// LLM-curated learnings.
type ScanMeta struct {
	SourceFiles   []string // Files backing the evidence at capture time
	MissingFiles  []string // Backing files confirmed missing at last scan
	TotalBytes    int64    // Combined size of the backing files
	LastScannedAt time.Time
}

// KnowledgeCluster is a persistent unit of distilled knowledge synthesized
// from search evidence. Curated fields (Name, Description, Content, Patterns,
// Constraints) are mutated only by reuse updates, explicit merge/split, or
// reflection-driven rewrite; never by a raw re-scan.
type KnowledgeCluster struct {
	ID          string // Stable UUID
	Name        string
	Description FlexText
	Content     FlexText
	Evidence    []EvidenceUnit
	Patterns    []string
	Constraints []Constraint

	Confidence  float64 // [0,1]
	Abstraction AbstractionLevel
	Lifecycle   Lifecycle
	Hotness     float64 // [0,1], decays with disuse, rises with reuse

	Corroborations int      // Independent searches that corroborated this cluster
	QueryRefs      []string // Originating search queries

	Scan      ScanMeta
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Validate checks the cluster's scalar invariants.
func (c *KnowledgeCluster) Validate() error {
	if c.ID == "" {
		return errors.New("cluster requires an id")
	}
	if c.Name == "" {
		return errors.New("cluster requires a name")
	}
	if c.Confidence < 0 || c.Confidence > 1 {
		return errors.New("confidence must be between 0 and 1")
	}
	if c.Hotness < 0 || c.Hotness > 1 {
		return errors.New("hotness must be between 0 and 1")
	}
	if !c.Lifecycle.Valid() {
		return errors.New("invalid lifecycle state")
	}
	for i := range c.Evidence {
		if err := c.Evidence[i].Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Clone returns a deep copy. Stored clusters are handed out by value-copy so
// callers can never mutate store state in place.
func (c *KnowledgeCluster) Clone() *KnowledgeCluster {
	cp := *c
	cp.Evidence = make([]EvidenceUnit, len(c.Evidence))
	copy(cp.Evidence, c.Evidence)
	cp.Patterns = append([]string(nil), c.Patterns...)
	cp.Constraints = append([]Constraint(nil), c.Constraints...)
	cp.QueryRefs = append([]string(nil), c.QueryRefs...)
	cp.Scan.SourceFiles = append([]string(nil), c.Scan.SourceFiles...)
	cp.Scan.MissingFiles = append([]string(nil), c.Scan.MissingFiles...)
	return &cp
}
