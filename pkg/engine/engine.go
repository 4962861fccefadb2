package engine

import (
	"context"
	"fmt"
	"strings"
)

// ToolCall represents a tool invocation requested by the model
type ToolCall struct {
	ID    string                 `json:"id"`
	Name  string                 `json:"name"`
	Input map[string]interface{} `json:"input"`
}

// ToolSchema describes a tool advertised to the model
type ToolSchema struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"input_schema"`
}

// Message represents one turn of the conversation sent to the model.
// Tool results are messages with role "tool" carrying the originating
// call ID and an error flag.
type Message struct {
	Role       string     `json:"role"` // user, assistant, tool
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	IsError    bool       `json:"is_error,omitempty"`
}

// TokenUsage tracks token consumption of a single call
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Request is a single reasoning engine invocation
type Request struct {
	Model       string       `json:"model"`
	System      string       `json:"system,omitempty"`
	Messages    []Message    `json:"messages"`
	Tools       []ToolSchema `json:"tools,omitempty"`
	MaxTokens   int          `json:"max_tokens,omitempty"`
	Temperature float64      `json:"temperature,omitempty"`
}

// Response is the model's reply: accumulated text plus any tool
// invocations it requested. An empty ToolCalls slice means the model
// produced a final answer.
type Response struct {
	Content   string      `json:"content"`
	ToolCalls []ToolCall  `json:"tool_calls,omitempty"`
	Usage     *TokenUsage `json:"usage,omitempty"`
}

// Engine is the reasoning engine boundary. Invoke is synchronous from
// the caller's perspective; the calling goroutine suspends on it.
type Engine interface {
	Provider() string
	Invoke(ctx context.Context, req Request) (*Response, error)
}

// New creates an engine for the named provider
func New(provider, apiKey string) (Engine, error) {
	switch provider {
	case "anthropic":
		return NewAnthropicEngine(apiKey), nil
	case "openai":
		return NewOpenAIEngine(apiKey), nil
	default:
		return nil, fmt.Errorf("unknown engine provider: %s", provider)
	}
}

// IsRetryableError reports whether an engine call error is transient
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	msg := err.Error()

	// Network errors
	if strings.Contains(msg, "ECONNRESET") || strings.Contains(msg, "ETIMEDOUT") ||
		strings.Contains(msg, "connection refused") {
		return true
	}

	// Rate limits
	if strings.Contains(msg, "429") || strings.Contains(msg, "rate limit") {
		return true
	}

	// Server errors
	for _, code := range []string{"500", "502", "503", "504"} {
		if strings.Contains(msg, code) {
			return true
		}
	}

	return false
}
