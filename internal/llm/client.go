// Package llm defines the generation collaborator boundary: a blocking
// client that turns a conversation plus available tools into text, tool
// calls and token usage. The orchestration loops only observe whether tool
// calls were requested and whether the reserved finish tool was among them;
// executing tools is the embedder's concern.
package llm

import (
	"context"
)

// Message represents a chat message
type Message struct {
	Role     string `json:"role"`
	Content  string `json:"content"`
	ToolID   string `json:"tool_id,omitempty"`
	ToolName string `json:"tool_name,omitempty"` // Name of the tool for tool responses

	// ToolCalls carries the tool calls requested in an assistant message.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// ToolCall is a single tool invocation requested by the model.
type ToolCall struct {
	ID        string                 `json:"id"`
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments,omitempty"`
}

// ToolSpec describes a tool offered to the model.
type ToolSpec struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"` // JSON schema
}

// CompletionRequest represents a completion request
type CompletionRequest struct {
	Messages     []*Message `json:"messages"`
	Tools        []ToolSpec `json:"tools,omitempty"`
	Temperature  float64    `json:"temperature"`
	MaxTokens    int        `json:"max_tokens,omitempty"`
	SystemPrompt string     `json:"system_prompt,omitempty"`
}

// CompletionResponse represents a completion response
type CompletionResponse struct {
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	StopReason string     `json:"stop_reason"`

	// TokensUsed is the total token count reported by the provider, or an
	// estimate when the provider omits usage data.
	TokensUsed int `json:"tokens_used"`
}

// HasToolCall reports whether a tool with the given name was requested.
func (r *CompletionResponse) HasToolCall(name string) bool {
	if r == nil {
		return false
	}
	for _, call := range r.ToolCalls {
		if call.Name == name {
			return true
		}
	}
	return false
}

// Client is the interface for LLM clients
type Client interface {
	// CompleteWithRequest sends a completion request and returns the response
	CompleteWithRequest(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)
	// Complete is a simplified version for a single prompt
	Complete(ctx context.Context, prompt string) (string, error)
	// GetModelName returns the model name
	GetModelName() string
}

// Model represents an LLM model
type Model struct {
	Provider string `json:"provider"` // openai, anthropic, etc.
	Name     string `json:"name"`
	ID       string `json:"id"`
}
