// Package types defines the shared data model for indexless retrieval.
//
// The model flows strictly upward through a search:
//
//	paths -> FileCandidate -> MatchRecord -> EvidenceUnit -> KnowledgeCluster
//
// FileCandidate and MatchRecord are ephemeral: they are owned by the retrieval
// pass that created them and discarded when the search finishes. EvidenceUnit
// is owned by the sampler while sampling; once attached to a cluster it is
// shared-read and only ever replaced wholesale, never mutated in place.
// KnowledgeCluster is the only long-lived type and is persisted by the store.
//
// # Curated vs scan-derived fields
//
// A cluster separates curated fields (Name, Description, Content, Patterns,
// Constraints) from scan-derived metadata (ScanMeta). Curated fields are
// produced by synthesis or by a human and must never be overwritten by a raw
// re-scan of the source files. The store enforces this by accepting
// scan-derived writes through a separate call that cannot touch curated
// columns.
//
// # Error taxonomy
//
// Every failure surfaced by the orchestrator wraps one of the sentinel errors
// defined in errors.go. Callers classify with errors.Is; no internal error
// escapes unmapped.
package types
