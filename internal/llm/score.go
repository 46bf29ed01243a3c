package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dshills/ragless-mcp/pkg/types"
)

const (
	maxPassageLen = 2000

	scoreSystemPrompt = `You judge how relevant a passage is to a search query.
Respond with a single JSON object and nothing else:
{"score": <number between 0.0 and 1.0>, "justification": "<one short sentence>"}
A score of 1.0 means the passage directly answers the query; 0.0 means it is unrelated.`
)

// scoreResult is the parsed JSON output from the judge call.
type scoreResult struct {
	Score         float64 `json:"score"`
	Justification string  `json:"justification"`
}

// Judge scores passage relevance with a model call. It satisfies the
// sampler's scorer contract.
type Judge struct {
	client Client
}

func NewJudge(client Client) *Judge {
	return &Judge{client: client}
}

// ScoreRelevance returns a relevance score in [0,1] with a one-line
// justification. Provider or parse failures come back wrapped in
// types.ErrLLM so the caller can degrade to its heuristic score.
func (j *Judge) ScoreRelevance(ctx context.Context, query, passage string) (float64, string, types.Usage, error) {
	if len(passage) > maxPassageLen {
		passage = passage[:maxPassageLen]
	}

	prompt := fmt.Sprintf("Query: %s\n\nPassage:\n%s", query, passage)
	result, err := j.client.Complete(ctx, CompletionRequest{
		System:     scoreSystemPrompt,
		Prompt:     prompt,
		MaxTokens:  200,
		JSONOutput: true,
	})
	if err != nil {
		return 0, "", types.Usage{}, err
	}

	parsed, err := parseScore(result.Content)
	if err != nil {
		return 0, "", result.Usage, fmt.Errorf("%w: %v", types.ErrLLM, err)
	}
	return parsed.Score, parsed.Justification, result.Usage, nil
}

// parseScore extracts the judgment JSON, tolerating markdown code fences
// that some models wrap around JSON output despite instructions.
func parseScore(content string) (*scoreResult, error) {
	text := strings.TrimSpace(content)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	var result scoreResult
	if err := json.Unmarshal([]byte(text), &result); err != nil {
		return nil, fmt.Errorf("judge returned unparseable output: %w", err)
	}
	if result.Score < 0 || result.Score > 1 {
		return nil, fmt.Errorf("judge score %v out of range", result.Score)
	}
	return &result, nil
}
