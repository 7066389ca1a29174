// Package tokencount estimates token counts: a
// provider-agnostic char-based token estimate used by the Context Pruner
// and Compactor to reason about a transcript's size without calling a
// model's own tokenizer.
package tokencount

import (
	"encoding/json"

	"github.com/haasonsaas/mozi/pkg/models"
)

// imageTokenBonus is the flat per-image-block token estimate, roughly
// 8000 chars worth.
const imageTokenBonus = 2000

// EstimateText returns ceil(len(s)/4), the char-based token estimate used
// throughout the estimator.
func EstimateText(s string) int {
	if s == "" {
		return 0
	}
	return (len(s) + 3) / 4
}

// EstimateMessage estimates one message's token cost: the sum of its
// content blocks' text/JSON length (divided by 4, rounded up) plus a flat
// bonus per image block. bashExecution-like messages with no text content
// are estimated from their JSON serialization instead.
func EstimateMessage(msg *models.Message) int {
	if msg == nil {
		return 0
	}
	if msg.Role == models.RoleBashExecution && len(msg.Content) == 0 {
		encoded, err := json.Marshal(msg)
		if err != nil {
			return 0
		}
		return EstimateText(string(encoded))
	}

	total := 0
	for _, b := range msg.Content {
		switch b.Type {
		case models.BlockImage:
			total += imageTokenBonus
		case models.BlockToolCall:
			total += EstimateText(b.ToolName) + EstimateText(string(b.Arguments))
		case models.BlockToolResult:
			total += EstimateText(b.ToolResultContent)
		default:
			total += EstimateText(b.Text)
		}
	}
	return total
}

// EstimateMessages sums EstimateMessage over a transcript.
func EstimateMessages(messages []*models.Message) int {
	total := 0
	for _, m := range messages {
		total += EstimateMessage(m)
	}
	return total
}
