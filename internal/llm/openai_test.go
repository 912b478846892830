package llm

import (
	"testing"

	openai "github.com/openai/openai-go"
)

func TestConvertOpenAITools(t *testing.T) {
	params := convertOpenAITools([]ToolSpec{
		{
			Name:        "edit",
			Description: "edit a file",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"path": map[string]interface{}{"type": "string"},
				},
			},
		},
		{Name: "  "}, // nameless specs are dropped
	})

	if len(params) != 1 {
		t.Fatalf("expected 1 tool param, got %d", len(params))
	}
	if params[0].Function.Name != "edit" {
		t.Errorf("Name = %q", params[0].Function.Name)
	}
	if params[0].Function.Description.Value != "edit a file" {
		t.Errorf("Description = %q", params[0].Function.Description.Value)
	}
	if _, ok := params[0].Function.Parameters["properties"]; !ok {
		t.Errorf("Parameters = %+v", params[0].Function.Parameters)
	}

	if got := convertOpenAITools(nil); got != nil {
		t.Errorf("expected nil for no tools, got %+v", got)
	}
}

func TestConvertOpenAIToolCalls(t *testing.T) {
	calls := convertOpenAIToolCalls([]openai.ChatCompletionMessageToolCall{
		{
			ID: "call_1",
			Function: openai.ChatCompletionMessageToolCallFunction{
				Name:      "edit",
				Arguments: `{"path": "main.go"}`,
			},
		},
		{
			ID: "call_2",
			Function: openai.ChatCompletionMessageToolCallFunction{
				Name:      "finish",
				Arguments: "not json",
			},
		},
	})

	if len(calls) != 2 {
		t.Fatalf("expected 2 tool calls, got %d", len(calls))
	}
	if calls[0].ID != "call_1" || calls[0].Name != "edit" {
		t.Errorf("first call = %+v", calls[0])
	}
	if calls[0].Arguments["path"] != "main.go" {
		t.Errorf("arguments = %+v", calls[0].Arguments)
	}
	// Unparseable arguments are dropped, not fatal.
	if calls[1].Name != "finish" || calls[1].Arguments != nil {
		t.Errorf("second call = %+v", calls[1])
	}
}
