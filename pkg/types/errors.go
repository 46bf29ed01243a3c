package types

import "errors"

// Error taxonomy. The orchestrator maps every internal failure onto exactly
// one of these before returning; callers classify with errors.Is.
var (
	// ErrInvalidInput covers bad paths, globs, or queries. Not retried.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNoSearchableInput is returned when every supplied path is
	// unreadable or nonexistent.
	ErrNoSearchableInput = errors.New("no searchable input")

	// ErrToolUnavailable means the external text-search utility cannot be
	// invoked. Fatal for the query.
	ErrToolUnavailable = errors.New("search tool unavailable")

	// ErrTransientIO covers file read races and permission flips. Retried
	// with backoff up to a small bound, then skipped with a warning.
	ErrTransientIO = errors.New("transient io error")

	// ErrLLM covers timeouts and malformed structured output from the
	// model endpoint. Degrades to heuristic scoring, never aborts a search.
	ErrLLM = errors.New("llm error")

	// ErrStoreConflict covers concurrent-write races on the cluster store.
	ErrStoreConflict = errors.New("store conflict")

	// ErrAmbiguousReuse is returned when multiple stored clusters sit
	// within the similarity tie band and no canonical one can be picked.
	ErrAmbiguousReuse = errors.New("ambiguous cluster reuse")

	// ErrCancelled indicates explicit caller cancellation or budget
	// exhaustion. The result carries whatever was gathered, marked partial.
	ErrCancelled = errors.New("search cancelled")

	// ErrNotFound is returned when a requested cluster doesn't exist.
	ErrNotFound = errors.New("not found")
)
