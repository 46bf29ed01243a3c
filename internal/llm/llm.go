package llm

import (
	"context"

	"github.com/dshills/ragless-mcp/pkg/types"
)

// CompletionRequest is one model call. JSONOutput asks the provider for a
// strict-JSON response body.
type CompletionRequest struct {
	System     string
	Prompt     string
	MaxTokens  int
	JSONOutput bool
}

// CompletionResult carries the model output plus token accounting.
type CompletionResult struct {
	Content string
	Usage   types.Usage
}

// Client is the provider-neutral completion interface.
type Client interface {
	// Complete runs one blocking completion.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResult, error)
	// Stream runs a completion and delivers content incrementally through
	// onChunk. Returning an error from onChunk aborts the stream.
	Stream(ctx context.Context, req CompletionRequest, onChunk func(chunk string) error) (*CompletionResult, error)
}
