package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/dshills/ragless-mcp/pkg/types"
)

const (
	EnvOpenAIAPIKey = "OPENAI_API_KEY"

	DefaultModel       = "gpt-4o-mini"
	DefaultMaxTokens   = 1024
	DefaultCallTimeout = 30 * time.Second
	DefaultRatePerSec  = 5
)

// Config holds provider settings. Zero values fall back to defaults; the API
// key falls back to the OPENAI_API_KEY environment variable.
type Config struct {
	APIKey      string
	BaseURL     string // Optional override for OpenAI-compatible endpoints
	Model       string
	MaxRetries  int
	CallTimeout time.Duration
	RatePerSec  float64
}

// OpenAIClient implements Client against the OpenAI chat completions API, or
// any endpoint speaking the same protocol via BaseURL.
type OpenAIClient struct {
	client      *openai.Client
	model       string
	limiter     *rate.Limiter
	retry       RetryConfig
	callTimeout time.Duration
}

// NewOpenAIClient builds a rate-limited, retrying client.
func NewOpenAIClient(cfg Config) (*OpenAIClient, error) {
	key := cfg.APIKey
	if key == "" {
		key = os.Getenv(EnvOpenAIAPIKey)
	}
	if key == "" {
		return nil, fmt.Errorf("%w: %s not set", types.ErrLLM, EnvOpenAIAPIKey)
	}

	clientCfg := openai.DefaultConfig(key)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	perSec := cfg.RatePerSec
	if perSec <= 0 {
		perSec = DefaultRatePerSec
	}
	timeout := cfg.CallTimeout
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	retry := DefaultRetryConfig()
	if cfg.MaxRetries > 0 {
		retry.MaxRetries = cfg.MaxRetries
	}

	return &OpenAIClient{
		client:      openai.NewClientWithConfig(clientCfg),
		model:       model,
		limiter:     rate.NewLimiter(rate.Limit(perSec), 1),
		retry:       retry,
		callTimeout: timeout,
	}, nil
}

func (c *OpenAIClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResult, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrCancelled, err)
	}

	chatReq := c.buildRequest(req)

	result, err := retryWithBackoff(ctx, c.retry, func() (*CompletionResult, error) {
		callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
		defer cancel()

		resp, err := c.client.CreateChatCompletion(callCtx, chatReq)
		if err != nil {
			return nil, err
		}
		if len(resp.Choices) == 0 {
			return nil, errors.New("empty choices in response")
		}
		return &CompletionResult{
			Content: resp.Choices[0].Message.Content,
			Usage: types.Usage{
				PromptTokens:     resp.Usage.PromptTokens,
				CompletionTokens: resp.Usage.CompletionTokens,
				LLMCalls:         1,
			},
		}, nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", types.ErrCancelled, ctx.Err())
		}
		return nil, fmt.Errorf("%w: completion failed: %v", types.ErrLLM, err)
	}
	return result, nil
}

func (c *OpenAIClient) Stream(ctx context.Context, req CompletionRequest, onChunk func(chunk string) error) (*CompletionResult, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrCancelled, err)
	}

	chatReq := c.buildRequest(req)
	chatReq.Stream = true
	chatReq.StreamOptions = &openai.StreamOptions{IncludeUsage: true}

	stream, err := c.client.CreateChatCompletionStream(ctx, chatReq)
	if err != nil {
		return nil, fmt.Errorf("%w: stream open failed: %v", types.ErrLLM, err)
	}
	defer stream.Close()

	result := &CompletionResult{Usage: types.Usage{LLMCalls: 1}}
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%w: %v", types.ErrCancelled, ctx.Err())
			}
			return nil, fmt.Errorf("%w: stream read failed: %v", types.ErrLLM, err)
		}

		if resp.Usage != nil {
			result.Usage.PromptTokens = resp.Usage.PromptTokens
			result.Usage.CompletionTokens = resp.Usage.CompletionTokens
		}
		if len(resp.Choices) == 0 {
			continue
		}
		chunk := resp.Choices[0].Delta.Content
		if chunk == "" {
			continue
		}
		result.Content += chunk
		if err := onChunk(chunk); err != nil {
			return nil, fmt.Errorf("%w: chunk handler: %v", types.ErrLLM, err)
		}
	}
	return result, nil
}

func (c *OpenAIClient) buildRequest(req CompletionRequest) openai.ChatCompletionRequest {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	var messages []openai.ChatCompletionMessage
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.Prompt,
	})

	chatReq := openai.ChatCompletionRequest{
		Model:     c.model,
		Messages:  messages,
		MaxTokens: maxTokens,
	}
	if req.JSONOutput {
		chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}
	return chatReq
}
