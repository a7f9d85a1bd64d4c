// Package llm is the completion-service boundary: chat completion with tool
// calling plus the mandatory moderation pre-check.
package llm

import (
	"context"
	"encoding/json"
	"time"
)

// Message is one role-tagged entry of the model-facing conversation.
type Message struct {
	Role      string // "system", "user", "assistant", "tool"
	Content   string
	CallID    string
	ToolName  string
	Arguments json.RawMessage
}

// ToolDef advertises one callable function to the model.
type ToolDef struct {
	Name        string
	Description string
	Schema      json.RawMessage
}

// Request is one completion call.
type Request struct {
	Model       string
	MaxTokens   int
	Temperature float32
	Messages    []Message
	Tools       []ToolDef
}

// ToolCall is one function call proposed by the model.
type ToolCall struct {
	ID        string
	Name      string
	Arguments json.RawMessage
}

// Usage carries the token counts of one completion call.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// Result is the completion response: assistant content and/or an ordered
// tool-call list, plus token usage.
type Result struct {
	Content   string
	ToolCalls []ToolCall
	Usage     Usage
}

// Verdict is a moderation decision for one input.
type Verdict struct {
	Flagged    bool
	Categories []string
}

// Completer performs one model turn.
type Completer interface {
	Complete(ctx context.Context, req *Request) (*Result, error)
}

// Moderator runs the required moderation pre-check on user content.
type Moderator interface {
	Moderate(ctx context.Context, input string) (*Verdict, error)
}

// withRetry runs fn up to attempts times with exponential backoff, retrying
// only errors fn classifies as retryable via the returned bool.
func withRetry(ctx context.Context, attempts int, baseDelay time.Duration, fn func() (retryable bool, err error)) error {
	var lastErr error
	delay := baseDelay

	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}

		retryable, err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if !retryable {
			return err
		}
	}

	return lastErr
}
