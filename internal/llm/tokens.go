package llm

import (
	"encoding/json"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

const (
	systemMessageOverhead = 2
	perMessageOverhead    = 4
)

// EstimateTokens returns the estimated token usage for a system prompt plus
// messages, and whether the estimate is approximate (no exact encoding for
// the model). Loops fall back to this when a provider response carries no
// usage data.
func EstimateTokens(modelID, systemPrompt string, messages []*Message) (int, bool) {
	encoder, approx := encodingForModel(modelID)

	total := tokenCount(encoder, systemPrompt)
	if systemPrompt != "" {
		total += systemMessageOverhead
	}

	for _, msg := range messages {
		if msg == nil {
			continue
		}
		tokens := tokenCount(encoder, msg.Content) + perMessageOverhead

		if msg.ToolID != "" {
			tokens += tokenCount(encoder, msg.ToolID)
		}
		if msg.ToolName != "" {
			tokens += tokenCount(encoder, msg.ToolName)
		}
		if len(msg.ToolCalls) > 0 {
			if data, err := json.Marshal(msg.ToolCalls); err == nil {
				tokens += tokenCount(encoder, string(data))
			}
		}

		total += tokens
	}

	return total, approx
}

// EstimateTokenCount returns a token estimate for a single piece of text.
func EstimateTokenCount(modelID, text string) int {
	encoder, _ := encodingForModel(modelID)
	return tokenCount(encoder, text)
}

func encodingForModel(modelID string) (*tiktoken.Tiktoken, bool) {
	encoder, err := tiktoken.EncodingForModel(modelID)
	if err == nil {
		return encoder, false
	}

	fallback, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, true
	}

	return fallback, true
}

func tokenCount(encoder *tiktoken.Tiktoken, text string) int {
	if text == "" {
		return 0
	}

	if encoder != nil {
		return len(encoder.Encode(text, nil, nil))
	}

	runes := utf8.RuneCountInString(text)
	if runes == 0 {
		return 0
	}

	// Rough heuristic: 1 token ~= 4 characters
	return (runes + 3) / 4
}
