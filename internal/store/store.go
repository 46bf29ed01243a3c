package store

import (
	"context"

	"github.com/dshills/ragless-mcp/pkg/types"
)

// SortBy selects the ordering for List.
type SortBy string

const (
	SortByHotness      SortBy = "hotness"
	SortByConfidence   SortBy = "confidence"
	SortByLastModified SortBy = "last_modified"
)

// Valid reports whether the sort key is known.
func (s SortBy) Valid() bool {
	switch s {
	case SortByHotness, SortByConfidence, SortByLastModified:
		return true
	}
	return false
}

// Match is one reuse candidate with its similarity to the probe query.
type Match struct {
	Cluster    *types.KnowledgeCluster
	Similarity float64
}

// Stats aggregates the stored population.
type Stats struct {
	Total          int
	Lifecycle      map[types.Lifecycle]int
	ConfidenceHist [10]int // Bucket i covers [i/10, (i+1)/10)
	HotnessHist    [10]int
}

// SplitPredicate decides which child a piece of evidence belongs to.
type SplitPredicate func(types.EvidenceUnit) bool

// Store defines the persistence contract for knowledge clusters.
type Store interface {
	// Insert persists a new cluster with its evidence.
	Insert(ctx context.Context, cluster *types.KnowledgeCluster) error
	// Get returns a deep copy of the cluster, or types.ErrNotFound.
	Get(ctx context.Context, id string) (*types.KnowledgeCluster, error)
	// Update rewrites curated fields and scalars. Scan metadata is left
	// untouched; use UpdateScanMeta for that.
	Update(ctx context.Context, cluster *types.KnowledgeCluster) error
	// UpdateScanMeta rewrites scan-derived metadata only. It can never
	// modify curated fields.
	UpdateScanMeta(ctx context.Context, id string, scan types.ScanMeta) error
	Delete(ctx context.Context, id string) error

	// Find returns clusters fuzzy-ranked against the text.
	Find(ctx context.Context, text string, limit int) ([]*types.KnowledgeCluster, error)
	// FindSimilar returns reuse candidates above the similarity threshold,
	// ranked by similarity. When several candidates sit within the tie
	// band of the best one it additionally returns types.ErrAmbiguousReuse
	// so the caller falls through to a fresh search.
	FindSimilar(ctx context.Context, query string, topK int) ([]Match, error)

	// RecordReuse bumps hotness, nudges confidence toward the
	// corroborating weight, and counts the corroboration; reaching the
	// promotion threshold moves an EMERGING cluster to STABLE. Returns
	// the updated cluster.
	RecordReuse(ctx context.Context, id string, weight float64) (*types.KnowledgeCluster, error)
	// Transition moves the cluster to the next lifecycle state; an
	// illegal move returns types.ErrStoreConflict.
	Transition(ctx context.Context, id string, next types.Lifecycle) error
	// DecayHotness multiplies every non-deprecated cluster's hotness by
	// (1 - rate).
	DecayHotness(ctx context.Context, rate float64) error

	// Merge unions the evidence of the named clusters into a new cluster,
	// recomputes confidence as the evidence-weighted average, keeps the
	// most advanced lifecycle, and deletes the sources.
	Merge(ctx context.Context, ids []string) (*types.KnowledgeCluster, error)
	// Split partitions the cluster's evidence by the predicate into two
	// children, each starting at EMERGING, and deletes the parent.
	Split(ctx context.Context, id string, pred SplitPredicate) ([]*types.KnowledgeCluster, error)

	List(ctx context.Context, limit int, sortBy SortBy) ([]*types.KnowledgeCluster, error)
	Stats(ctx context.Context) (*Stats, error)

	Close() error
	BeginTx(ctx context.Context) (Tx, error)
}

// Tx is a transaction exposing the full store contract.
type Tx interface {
	Commit() error
	Rollback() error
	Store
}
