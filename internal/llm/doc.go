// Package llm is the single boundary to language-model providers. Everything
// above it depends on the Client interface, so samplers, builders, and tests
// can substitute stubs; only this package knows about a concrete API.
//
// All provider failures are wrapped with types.ErrLLM so callers can classify
// them without inspecting provider-specific error types.
package llm
