// Package sampler locates the most query-relevant spans inside a document
// without scanning it linearly with an LLM.
//
// The sampler runs Monte-Carlo importance sampling over fixed-size offset
// buckets. A fuzzy-matching pre-pass builds a prior relevance-density curve
// across the buckets, with a non-zero floor everywhere so regions phrased
// differently from the query are never starved. The sampling loop then draws
// buckets proportionally to their weight, expands each probe window to
// sentence boundaries, and scores it with a cheap lexical-overlap heuristic.
// Weights near a productive probe are boosted and visited buckets decay, so
// the loop converges on evidence neighborhoods instead of resampling the
// same span.
//
// The loop is an explicit state machine with two stopping conditions: budget
// exhaustion (probes or tokens) and top-k score stability across two
// consecutive rounds. Both are deterministic under a fixed seed, so the
// whole procedure is unit-testable without any LLM.
//
// An optional relevance scorer upgrades the top spans with an LLM judgment
// as a final confirmation pass. A failed scorer call degrades that unit to
// its heuristic score rather than aborting the sample.
package sampler
