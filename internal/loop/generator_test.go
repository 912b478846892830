package loop

import (
	"context"
	"errors"
	"testing"

	"github.com/codefionn/agentloop/internal/llm"
)

// scriptedClient returns canned completion responses and records requests.
type scriptedClient struct {
	responses []*llm.CompletionResponse
	err       error
	requests  []*llm.CompletionRequest
}

func (c *scriptedClient) CompleteWithRequest(_ context.Context, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	c.requests = append(c.requests, req)
	if c.err != nil {
		return nil, c.err
	}
	idx := len(c.requests) - 1
	if idx >= len(c.responses) {
		idx = len(c.responses) - 1
	}
	return c.responses[idx], nil
}

func (c *scriptedClient) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := c.CompleteWithRequest(ctx, &llm.CompletionRequest{
		Messages: []*llm.Message{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

func (c *scriptedClient) GetModelName() string { return "scripted" }

func TestLLMGeneratorAppendsAssistantReply(t *testing.T) {
	client := &scriptedClient{responses: []*llm.CompletionResponse{{
		Content:    "patched the parser",
		ToolCalls:  []llm.ToolCall{{ID: "t1", Name: "edit"}},
		TokensUsed: 42,
	}}}

	gen, err := NewLLMGenerator(client, WithSystemPrompt("be terse"), WithTemperature(0.2))
	if err != nil {
		t.Fatalf("NewLLMGenerator: %v", err)
	}

	conv := NewTranscript("fix the parser")
	result, err := gen.Generate(context.Background(), conv, []llm.ToolSpec{{Name: "edit"}})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if result.Text != "patched the parser" {
		t.Errorf("Text = %q", result.Text)
	}
	if result.TokensUsed != 42 {
		t.Errorf("TokensUsed = %d, want 42", result.TokensUsed)
	}
	if !result.HasToolCall("edit") {
		t.Error("expected the edit tool call to be surfaced")
	}

	if len(client.requests) != 1 {
		t.Fatalf("requests = %d, want 1", len(client.requests))
	}
	req := client.requests[0]
	if req.SystemPrompt != "be terse" {
		t.Errorf("SystemPrompt = %q", req.SystemPrompt)
	}
	if req.Temperature != 0.2 {
		t.Errorf("Temperature = %v", req.Temperature)
	}
	if len(req.Tools) != 1 || req.Tools[0].Name != "edit" {
		t.Errorf("Tools = %+v", req.Tools)
	}

	// The assistant reply lands on the transcript so the next turn sees it.
	messages := conv.Messages()
	if len(messages) != 2 {
		t.Fatalf("transcript has %d messages, want 2", len(messages))
	}
	last := messages[len(messages)-1]
	if last.Role != "assistant" || last.Content != "patched the parser" {
		t.Errorf("last message = %+v", last)
	}
	if len(last.ToolCalls) != 1 {
		t.Errorf("last message tool calls = %+v", last.ToolCalls)
	}
}

func TestLLMGeneratorClientError(t *testing.T) {
	wantErr := errors.New("rate limited")
	gen, err := NewLLMGenerator(&scriptedClient{err: wantErr})
	if err != nil {
		t.Fatalf("NewLLMGenerator: %v", err)
	}

	_, err = gen.Generate(context.Background(), NewTranscript("task"), nil)
	if !errors.Is(err, wantErr) {
		t.Errorf("Generate error = %v, want wrapped %v", err, wantErr)
	}
}

func TestLLMGeneratorRequiresClient(t *testing.T) {
	if _, err := NewLLMGenerator(nil); err == nil {
		t.Error("expected an error for a nil client")
	}
}
