// Package tokencount estimates token counts for usage records when the
// upstream reports none, which happens on interrupted streams. Uses a
// character-based heuristic (~4 chars per token for English) which is
// sufficient for billing fallbacks. Can be replaced with a real tokenizer
// if exact counts are ever needed.
package tokencount

import (
	cfx "github.com/cfx-labs/cfx/internal"
)

const (
	bytesPerToken   = 4
	messageOverhead = 4 // role and formatting frame per message
	replyPrimer     = 3 // every reply is primed with <|start|>assistant<|message|>
)

// EstimateMessages estimates the prompt token count for a chat request.
func EstimateMessages(messages []cfx.Message) int {
	total := 0
	for _, m := range messages {
		total += messageOverhead
		total += estimate(m.Role)
		total += estimate(string(m.Content))
		if m.Name != "" {
			total += estimate(m.Name) + 1 // name costs 1 extra token
		}
		if len(m.ToolCalls) > 0 {
			total += estimate(string(m.ToolCalls))
		}
		if m.ToolCallID != "" {
			total += estimate(m.ToolCallID)
		}
	}
	total += replyPrimer
	return max(total, 1)
}

// EstimateText estimates tokens for a plain text string.
func EstimateText(text string) int {
	return max(estimate(text), 1)
}

// estimate uses the ~4 bytes per token heuristic with ceil division.
func estimate(s string) int {
	if len(s) == 0 {
		return 0
	}
	return (len(s) + bytesPerToken - 1) / bytesPerToken
}
