// Package orchestrator is the public entry point of the search engine. It
// sequences the pipeline for one query: reuse probe against the cluster
// store, hybrid retrieval, evidence sampling, cluster building, persistence.
//
// The three search modes draw different paths through that sequence.
// FILENAME_ONLY stops after name matching and never touches the sampler or
// the LLM boundary. FAST runs the full pipeline with heuristic scoring only.
// DEEP adds LLM relevance confirmation and LLM cluster synthesis.
//
// Every error leaving this package wraps one of the pkg/types sentinels, so
// callers classify failures without knowing which stage produced them. A
// per-query deadline converts to a best-effort result marked partial; caller
// cancellation discards any cluster under construction instead.
package orchestrator
