package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/ragless-mcp/pkg/types"
)

// fakeClient returns canned completions in order.
type fakeClient struct {
	responses []string
	errs      []error
	calls     int
}

func (f *fakeClient) Complete(_ context.Context, _ CompletionRequest) (*CompletionResult, error) {
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	content := ""
	if i < len(f.responses) {
		content = f.responses[i]
	}
	return &CompletionResult{
		Content: content,
		Usage:   types.Usage{PromptTokens: 10, CompletionTokens: 5, LLMCalls: 1},
	}, nil
}

func (f *fakeClient) Stream(ctx context.Context, req CompletionRequest, onChunk func(string) error) (*CompletionResult, error) {
	result, err := f.Complete(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := onChunk(result.Content); err != nil {
		return nil, err
	}
	return result, nil
}

func TestJudgeScoreRelevance(t *testing.T) {
	client := &fakeClient{responses: []string{
		`{"score": 0.85, "justification": "passage explains the mechanism"}`,
	}}
	judge := NewJudge(client)

	score, justification, usage, err := judge.ScoreRelevance(context.Background(), "attention", "The attention mechanism...")
	require.NoError(t, err)
	assert.Equal(t, 0.85, score)
	assert.Equal(t, "passage explains the mechanism", justification)
	assert.Equal(t, 1, usage.LLMCalls)
}

func TestJudgeToleratesCodeFences(t *testing.T) {
	client := &fakeClient{responses: []string{
		"```json\n{\"score\": 0.4, \"justification\": \"partial overlap\"}\n```",
	}}
	judge := NewJudge(client)

	score, _, _, err := judge.ScoreRelevance(context.Background(), "q", "p")
	require.NoError(t, err)
	assert.Equal(t, 0.4, score)
}

func TestJudgeRejectsBadOutput(t *testing.T) {
	cases := map[string]string{
		"not json":     "I think the score is about 0.7",
		"out of range": `{"score": 3.2, "justification": "x"}`,
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			judge := NewJudge(&fakeClient{responses: []string{content}})
			_, _, _, err := judge.ScoreRelevance(context.Background(), "q", "p")
			require.Error(t, err)
			assert.ErrorIs(t, err, types.ErrLLM)
		})
	}
}

func TestJudgePropagatesClientError(t *testing.T) {
	judge := NewJudge(&fakeClient{errs: []error{errors.New("boom")}})
	_, _, _, err := judge.ScoreRelevance(context.Background(), "q", "p")
	require.Error(t, err)
}

func TestRetryWithBackoffEventualSuccess(t *testing.T) {
	attempts := 0
	config := RetryConfig{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond, Multiplier: 2}

	result, err := retryWithBackoff(context.Background(), config, func() (string, error) {
		attempts++
		if attempts < 3 {
			return "", errors.New("transient")
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, 3, attempts)
}

func TestRetryWithBackoffExhaustion(t *testing.T) {
	config := RetryConfig{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}

	_, err := retryWithBackoff(context.Background(), config, func() (int, error) {
		return 0, errors.New("always fails")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "always fails")
}

func TestRetryWithBackoffCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	config := RetryConfig{MaxRetries: 5, BaseDelay: time.Hour, MaxDelay: time.Hour, Multiplier: 1}

	done := make(chan error, 1)
	go func() {
		_, err := retryWithBackoff(ctx, config, func() (int, error) {
			return 0, errors.New("transient")
		})
		done <- err
	}()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("retry loop did not honor cancellation")
	}
}

func TestParseScore(t *testing.T) {
	result, err := parseScore(`  {"score": 1.0, "justification": "exact"}  `)
	require.NoError(t, err)
	assert.Equal(t, 1.0, result.Score)

	_, err = parseScore("")
	assert.Error(t, err)
}
