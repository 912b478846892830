package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

const defaultOpenAIModel = "gpt-4o-mini"

// OpenAIClient implements the Client interface using the official OpenAI SDK
// via the chat completions API.
type OpenAIClient struct {
	client openai.Client
	model  string
}

// NewOpenAIClient constructs a client that talks to the OpenAI API.
func NewOpenAIClient(apiKey, modelName string) (Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("openai client requires an API key")
	}

	model := strings.TrimSpace(modelName)
	if model == "" {
		model = defaultOpenAIModel
	}

	return &OpenAIClient{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}, nil
}

func (c *OpenAIClient) GetModelName() string {
	return c.model
}

func (c *OpenAIClient) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := c.CompleteWithRequest(ctx, &CompletionRequest{
		Messages: []*Message{
			{Role: "user", Content: prompt},
		},
		Temperature: 1.0,
	})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

func (c *OpenAIClient) CompleteWithRequest(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	if req == nil {
		return nil, fmt.Errorf("openai completion request cannot be nil")
	}

	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(c.model),
		Messages: convertMessagesToOpenAI(req.SystemPrompt, req.Messages),
	}

	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.MaxTokens))
	}
	if len(req.Tools) > 0 {
		params.Tools = convertOpenAITools(req.Tools)
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai completion failed: %w", err)
	}

	if len(resp.Choices) == 0 {
		return &CompletionResponse{StopReason: "stop"}, nil
	}

	first := resp.Choices[0]
	stopReason := string(first.FinishReason)
	if strings.TrimSpace(stopReason) == "" {
		stopReason = "stop"
	}

	return &CompletionResponse{
		Content:    first.Message.Content,
		ToolCalls:  convertOpenAIToolCalls(first.Message.ToolCalls),
		StopReason: stopReason,
		TokensUsed: int(resp.Usage.TotalTokens),
	}, nil
}

// convertMessagesToOpenAI maps the neutral transcript onto chat completion
// message params. Tool results without a preceding assistant tool_calls
// message are folded into user text so the request stays valid.
func convertMessagesToOpenAI(systemPrompt string, messages []*Message) []openai.ChatCompletionMessageParamUnion {
	result := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages)+1)

	if sys := strings.TrimSpace(systemPrompt); sys != "" {
		result = append(result, openai.SystemMessage(sys))
	}

	for _, msg := range messages {
		if msg == nil {
			continue
		}

		switch normalizeRole(msg.Role) {
		case "system":
			if msg.Content != "" {
				result = append(result, openai.SystemMessage(msg.Content))
			}
		case "assistant":
			content := msg.Content
			if content == "" && len(msg.ToolCalls) > 0 {
				content = describeToolCalls(msg.ToolCalls)
			}
			if content != "" {
				result = append(result, openai.AssistantMessage(content))
			}
		case "tool":
			if msg.Content == "" {
				continue
			}
			name := msg.ToolName
			if name == "" {
				name = msg.ToolID
			}
			if name == "" {
				name = "tool"
			}
			result = append(result, openai.UserMessage(fmt.Sprintf("[%s result]\n%s", name, msg.Content)))
		default:
			if msg.Content != "" {
				result = append(result, openai.UserMessage(msg.Content))
			}
		}
	}

	return result
}

func describeToolCalls(calls []ToolCall) string {
	names := make([]string, 0, len(calls))
	for _, call := range calls {
		if call.Name != "" {
			names = append(names, call.Name)
		}
	}
	if len(names) == 0 {
		return ""
	}
	return "(requested tools: " + strings.Join(names, ", ") + ")"
}

func convertOpenAITools(tools []ToolSpec) []openai.ChatCompletionToolParam {
	result := make([]openai.ChatCompletionToolParam, 0, len(tools))
	for _, spec := range tools {
		name := strings.TrimSpace(spec.Name)
		if name == "" {
			continue
		}

		def := shared.FunctionDefinitionParam{Name: name}
		if desc := strings.TrimSpace(spec.Description); desc != "" {
			def.Description = openai.String(desc)
		}
		if len(spec.Parameters) > 0 {
			def.Parameters = shared.FunctionParameters(spec.Parameters)
		}

		result = append(result, openai.ChatCompletionToolParam{Function: def})
	}

	if len(result) == 0 {
		return nil
	}
	return result
}

func convertOpenAIToolCalls(calls []openai.ChatCompletionMessageToolCall) []ToolCall {
	if len(calls) == 0 {
		return nil
	}

	result := make([]ToolCall, 0, len(calls))
	for _, tc := range calls {
		call := ToolCall{
			ID:   tc.ID,
			Name: tc.Function.Name,
		}
		if args := strings.TrimSpace(tc.Function.Arguments); args != "" {
			var decoded map[string]interface{}
			if err := json.Unmarshal([]byte(args), &decoded); err == nil {
				call.Arguments = decoded
			}
		}
		result = append(result, call)
	}
	return result
}
