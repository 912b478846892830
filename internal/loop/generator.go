package loop

import (
	"context"
	"fmt"

	"github.com/codefionn/agentloop/internal/llm"
)

// LLMGenerator adapts an llm.Client to the Generator boundary. Each call
// sends the full conversation, appends the assistant reply to it, and
// surfaces the model's tool calls without executing them.
type LLMGenerator struct {
	client       llm.Client
	systemPrompt string
	temperature  float64
	maxTokens    int
}

// LLMGeneratorOption customizes an LLMGenerator.
type LLMGeneratorOption func(*LLMGenerator)

// WithSystemPrompt sets the system prompt sent with every request.
func WithSystemPrompt(prompt string) LLMGeneratorOption {
	return func(g *LLMGenerator) { g.systemPrompt = prompt }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) LLMGeneratorOption {
	return func(g *LLMGenerator) { g.temperature = t }
}

// WithMaxTokens caps the per-request completion size.
func WithMaxTokens(n int) LLMGeneratorOption {
	return func(g *LLMGenerator) { g.maxTokens = n }
}

// NewLLMGenerator wraps an llm.Client.
func NewLLMGenerator(client llm.Client, opts ...LLMGeneratorOption) (*LLMGenerator, error) {
	if client == nil {
		return nil, fmt.Errorf("llm generator: client is required")
	}
	g := &LLMGenerator{client: client, temperature: 0.7, maxTokens: 4096}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Generate sends the conversation to the model and records the reply.
func (g *LLMGenerator) Generate(ctx context.Context, conv Conversation, tools []llm.ToolSpec) (*Generation, error) {
	req := &llm.CompletionRequest{
		SystemPrompt: g.systemPrompt,
		Messages:     conv.Messages(),
		Tools:        tools,
		Temperature:  g.temperature,
		MaxTokens:    g.maxTokens,
	}

	resp, err := g.client.CompleteWithRequest(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("completion failed: %w", err)
	}

	conv.Append(&llm.Message{
		Role:      "assistant",
		Content:   resp.Content,
		ToolCalls: resp.ToolCalls,
	})

	return &Generation{
		Text:       resp.Content,
		ToolCalls:  resp.ToolCalls,
		TokensUsed: resp.TokensUsed,
	}, nil
}
