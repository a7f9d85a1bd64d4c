package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/rs/zerolog/log"

	"github.com/foyerhq/foyer/internal/domain"
)

// chatAPI is the subset of the OpenAI client used here, swappable in tests.
type chatAPI interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
	Moderations(ctx context.Context, req openai.ModerationRequest) (openai.ModerationResponse, error)
}

// OpenAI implements Completer and Moderator against the OpenAI API with
// bounded exponential-backoff retry on transient failures.
type OpenAI struct {
	api         chatAPI
	maxAttempts int
	baseDelay   time.Duration
	timeout     time.Duration
}

// NewOpenAI creates a client. baseURL may be empty for api.openai.com.
func NewOpenAI(apiKey, baseURL string, maxAttempts int, baseDelay, timeout time.Duration) *OpenAI {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAI{
		api:         openai.NewClientWithConfig(cfg),
		maxAttempts: maxAttempts,
		baseDelay:   baseDelay,
		timeout:     timeout,
	}
}

// Complete performs one non-streaming chat completion. Transient failures
// (rate limits, 5xx, timeouts) are retried up to the attempt ceiling and
// then surfaced wrapped in domain.ErrTransient.
func (c *OpenAI) Complete(ctx context.Context, req *Request) (*Result, error) {
	chatReq := openai.ChatCompletionRequest{
		Model:       req.Model,
		Temperature: req.Temperature,
		Messages:    toChatMessages(req.Messages),
		Tools:       toChatTools(req.Tools),
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}

	var resp openai.ChatCompletionResponse
	err := withRetry(ctx, c.maxAttempts, c.baseDelay, func() (bool, error) {
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		var callErr error
		resp, callErr = c.api.CreateChatCompletion(callCtx, chatReq)
		if callErr != nil {
			retryable := isRetryable(callErr)
			if retryable {
				log.Warn().Err(callErr).Msg("completion call failed, retrying")
			}
			return retryable, callErr
		}
		return false, nil
	})
	if err != nil {
		if isRetryable(err) {
			return nil, fmt.Errorf("llm.OpenAI.Complete: %w: %w", domain.ErrTransient, err)
		}
		return nil, fmt.Errorf("llm.OpenAI.Complete: %w", err)
	}

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("llm.OpenAI.Complete: empty response: %w", domain.ErrTransient)
	}

	choice := resp.Choices[0].Message
	result := &Result{
		Content: choice.Content,
		Usage: Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
		},
	}
	for _, tc := range choice.ToolCalls {
		result.ToolCalls = append(result.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: json.RawMessage(tc.Function.Arguments),
		})
	}

	return result, nil
}

// Moderate runs the moderation endpoint on one input.
func (c *OpenAI) Moderate(ctx context.Context, input string) (*Verdict, error) {
	var resp openai.ModerationResponse
	err := withRetry(ctx, c.maxAttempts, c.baseDelay, func() (bool, error) {
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		var callErr error
		resp, callErr = c.api.Moderations(callCtx, openai.ModerationRequest{Input: input})
		return isRetryable(callErr), callErr
	})
	if err != nil {
		if isRetryable(err) {
			return nil, fmt.Errorf("llm.OpenAI.Moderate: %w: %w", domain.ErrTransient, err)
		}
		return nil, fmt.Errorf("llm.OpenAI.Moderate: %w", err)
	}

	if len(resp.Results) == 0 {
		return &Verdict{}, nil
	}

	r := resp.Results[0]
	return &Verdict{Flagged: r.Flagged, Categories: flaggedCategories(r.Categories)}, nil
}

func toChatMessages(msgs []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case "tool":
			out = append(out, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    m.Content,
				ToolCallID: m.CallID,
			})
		case "assistant":
			if m.CallID != "" {
				tc := openai.ToolCall{
					ID:   m.CallID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      m.ToolName,
						Arguments: string(m.Arguments),
					},
				}
				// Calls proposed by one completion replay as a single
				// assistant message: the chat API requires the tool results
				// to answer the message that carries their IDs.
				if n := len(out); n > 0 && out[n-1].Role == openai.ChatMessageRoleAssistant && len(out[n-1].ToolCalls) > 0 {
					out[n-1].ToolCalls = append(out[n-1].ToolCalls, tc)
					continue
				}
				out = append(out, openai.ChatCompletionMessage{
					Role:      openai.ChatMessageRoleAssistant,
					Content:   m.Content,
					ToolCalls: []openai.ToolCall{tc},
				})
				continue
			}
			out = append(out, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: m.Content,
			})
		default:
			out = append(out, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
		}
	}
	return out
}

func toChatTools(tools []ToolDef) []openai.Tool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]openai.Tool, 0, len(tools))
	for _, t := range tools {
		var schema map[string]any
		if err := json.Unmarshal(t.Schema, &schema); err != nil {
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  schema,
			},
		})
	}
	return out
}

// isRetryable classifies rate limits, server errors and timeouts as
// transient.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == 429 || apiErr.HTTPStatusCode >= 500
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, domain.ErrTransient)
}

func flaggedCategories(c openai.ResultCategories) []string {
	var out []string
	flags := []struct {
		name string
		on   bool
	}{
		{"hate", c.Hate},
		{"hate/threatening", c.HateThreatening},
		{"harassment", c.Harassment},
		{"harassment/threatening", c.HarassmentThreatening},
		{"self-harm", c.SelfHarm},
		{"sexual", c.Sexual},
		{"sexual/minors", c.SexualMinors},
		{"violence", c.Violence},
		{"violence/graphic", c.ViolenceGraphic},
	}
	for _, f := range flags {
		if f.on {
			out = append(out, f.name)
		}
	}
	return out
}
