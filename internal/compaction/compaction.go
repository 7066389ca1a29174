// Package compaction implements transcript compaction: history pruning
// by token budget, chunked/staged summarization of the dropped portion, and
// the fallback path used when summary generation itself fails.
package compaction

import (
	"context"
	"fmt"
	"strings"

	"github.com/haasonsaas/mozi/internal/tokencount"
	"github.com/haasonsaas/mozi/pkg/models"
)

const (
	// BaseChunkRatio is the starting ratio of context window used for
	// chunk sizing before the adaptive reduction is applied.
	BaseChunkRatio = 0.4

	// MinChunkRatio is the floor the adaptive ratio is clamped to.
	MinChunkRatio = 0.15

	// SafetyMargin buffers the adaptive ratio calculation against token
	// estimation error.
	SafetyMargin = 1.2

	// OversizedThreshold is the fraction of context window above which a
	// single message is too large to summarize.
	OversizedThreshold = 0.5

	// DefaultMaxHistoryShare is the default fraction of context window the
	// kept history is allowed to occupy.
	DefaultMaxHistoryShare = 0.5

	// DefaultParts is the default chunk count for splitMessagesByTokenShare.
	DefaultParts = 2

	fallbackSummaryFmt = "[Previous conversation with %d messages was compacted. Details unavailable due to summarization error.]"

	summaryInstruction = "Preserve: decisions made and their rationale, TODO items and open questions, " +
		"key constraints and requirements, file paths and important code references, error patterns and solutions found."

	summaryMessagePrefix = "[Previous conversation summary]\n\n"
)

// EstimateTokens and EstimateMessagesTokens delegate to the token
// estimator, kept as package-level aliases because the compactor's own
// operations are defined in terms of them.
func EstimateTokens(msg *models.Message) int               { return tokencount.EstimateMessage(msg) }
func EstimateMessagesTokens(messages []*models.Message) int { return tokencount.EstimateMessages(messages) }

// SplitMessagesByTokenShare greedily packs messages into at most parts
// chunks of roughly equal token share; the last chunk absorbs the
// remainder.
func SplitMessagesByTokenShare(messages []*models.Message, parts int) [][]*models.Message {
	if len(messages) == 0 {
		return nil
	}
	if parts <= 0 {
		parts = DefaultParts
	}
	if parts == 1 || len(messages) < parts {
		return [][]*models.Message{messages}
	}

	totalTokens := EstimateMessagesTokens(messages)
	targetPerPart := totalTokens / parts

	var result [][]*models.Message
	current := make([]*models.Message, 0)
	currentTokens := 0

	for i, msg := range messages {
		current = append(current, msg)
		currentTokens += EstimateTokens(msg)

		remainingParts := parts - len(result) - 1
		isLast := i == len(messages)-1
		if !isLast && remainingParts > 0 && currentTokens >= targetPerPart {
			result = append(result, current)
			current = make([]*models.Message, 0)
			currentTokens = 0
		}
	}
	if len(current) > 0 {
		result = append(result, current)
	}
	return result
}

// ChunkMessagesByMaxTokens splits messages into chunks that never exceed
// maxTokens; a single message exceeding maxTokens is isolated in its own
// chunk.
func ChunkMessagesByMaxTokens(messages []*models.Message, maxTokens int) [][]*models.Message {
	if len(messages) == 0 {
		return nil
	}
	if maxTokens <= 0 {
		return [][]*models.Message{messages}
	}

	var result [][]*models.Message
	current := make([]*models.Message, 0)
	currentTokens := 0

	for _, msg := range messages {
		msgTokens := EstimateTokens(msg)

		if msgTokens > maxTokens {
			if len(current) > 0 {
				result = append(result, current)
				current = make([]*models.Message, 0)
				currentTokens = 0
			}
			result = append(result, []*models.Message{msg})
			continue
		}

		if currentTokens+msgTokens > maxTokens && len(current) > 0 {
			result = append(result, current)
			current = make([]*models.Message, 0)
			currentTokens = 0
		}

		current = append(current, msg)
		currentTokens += msgTokens
	}
	if len(current) > 0 {
		result = append(result, current)
	}
	return result
}

// ComputeAdaptiveChunkRatio scales BaseChunkRatio down when average message
// size is large relative to the context window, clamped to
// [MinChunkRatio, BaseChunkRatio].
func ComputeAdaptiveChunkRatio(messages []*models.Message, contextWindow int) float64 {
	if len(messages) == 0 || contextWindow <= 0 {
		return BaseChunkRatio
	}
	totalTokens := EstimateMessagesTokens(messages)
	avgTokensPerMsg := float64(totalTokens) / float64(len(messages))
	windowRatio := avgTokensPerMsg / float64(contextWindow)

	if windowRatio*SafetyMargin <= 0.1 {
		return BaseChunkRatio
	}
	ratio := BaseChunkRatio * (1 - windowRatio*SafetyMargin)
	if ratio < MinChunkRatio {
		ratio = MinChunkRatio
	}
	if ratio > BaseChunkRatio {
		ratio = BaseChunkRatio
	}
	return ratio
}

// IsOversizedForSummary reports whether msg's estimated tokens (times
// SafetyMargin) exceed OversizedThreshold of the context window.
func IsOversizedForSummary(msg *models.Message, contextWindow int) bool {
	if msg == nil || contextWindow <= 0 {
		return false
	}
	return float64(EstimateTokens(msg))*SafetyMargin > float64(contextWindow)*OversizedThreshold
}

// RepairToolUseResultPairing drops any toolResult message whose id doesn't
// match a tool-call id emitted by a prior assistant message. This is the
// compactor's own pairing check, independent of but identical in policy
// to the sanitizer's pairing-repair stage.
func RepairToolUseResultPairing(messages []*models.Message) []*models.Message {
	knownIDs := make(map[string]bool)
	out := make([]*models.Message, 0, len(messages))
	for _, msg := range messages {
		if msg == nil {
			continue
		}
		for _, tc := range msg.ToolCalls() {
			if tc.ToolCallID != "" {
				knownIDs[tc.ToolCallID] = true
			}
		}
		if msg.Role == models.RoleToolResult {
			orphan := false
			for _, tr := range msg.ToolResults() {
				if !knownIDs[tr.ToolResultForID] {
					orphan = true
					break
				}
			}
			if orphan {
				continue
			}
		}
		out = append(out, msg)
	}
	return out
}

// PruneResult is the outcome of PruneHistoryForContextShare.
type PruneResult struct {
	Messages        []*models.Message
	Dropped         []*models.Message
	DroppedChunks   int
	DroppedMessages int
	DroppedTokens   int
	KeptTokens      int
	BudgetTokens    int
}

// PruneHistoryForContextShare iteratively drops the oldest token-share
// chunk (via SplitMessagesByTokenShare) until the remaining transcript fits
// within maxContextTokens × maxHistoryShare, re-repairing tool pairing on
// the remainder after every drop.
func PruneHistoryForContextShare(messages []*models.Message, maxContextTokens int, maxHistoryShare float64, parts int) *PruneResult {
	result := &PruneResult{Messages: messages, BudgetTokens: maxContextTokens}
	if len(messages) == 0 || maxContextTokens <= 0 {
		return result
	}
	if maxHistoryShare <= 0 || maxHistoryShare > 1 {
		maxHistoryShare = DefaultMaxHistoryShare
	}
	if parts <= 0 {
		parts = DefaultParts
	}

	budgetTokens := int(float64(maxContextTokens) * maxHistoryShare)
	result.BudgetTokens = budgetTokens

	remaining := messages
	var dropped []*models.Message

	for {
		total := EstimateMessagesTokens(remaining)
		if total <= budgetTokens || len(remaining) == 0 {
			result.Messages = remaining
			result.Dropped = dropped
			result.DroppedMessages = len(messages) - len(remaining)
			result.DroppedTokens = EstimateMessagesTokens(messages) - total
			result.KeptTokens = total
			return result
		}

		chunks := SplitMessagesByTokenShare(remaining, parts)
		if len(chunks) <= 1 {
			// Nothing left to split off without emptying the transcript.
			result.Messages = remaining
			result.Dropped = dropped
			result.DroppedMessages = len(messages) - len(remaining)
			result.DroppedTokens = EstimateMessagesTokens(messages) - total
			result.KeptTokens = total
			return result
		}

		oldest := chunks[0]
		dropped = append(dropped, oldest...)
		result.DroppedChunks++

		rest := make([]*models.Message, 0, len(remaining)-len(oldest))
		for _, c := range chunks[1:] {
			rest = append(rest, c...)
		}
		remaining = RepairToolUseResultPairing(rest)
	}
}

// SummaryGenerator produces a prose summary of messages, consulted by
// CompactMessages. A provider call, supplied by the caller.
type SummaryGenerator func(ctx context.Context, messages []*models.Message, instructions string) (string, error)

// CompactResult is the outcome of CompactMessages.
type CompactResult struct {
	Summary         string
	KeptMessages    []*models.Message
	DroppedCount    int
	TokensReclaimed int
}

// CompactMessages prunes history to fit maxHistoryShare of
// contextWindowTokens and summarizes the dropped portion via
// generateSummary. If nothing was dropped, the input is returned unchanged.
// If generateSummary fails, a fixed fallback summary text is used instead so
// compaction always succeeds.
func CompactMessages(ctx context.Context, messages []*models.Message, contextWindowTokens int, maxHistoryShare float64, generateSummary SummaryGenerator) (*CompactResult, error) {
	pruned := PruneHistoryForContextShare(messages, contextWindowTokens, maxHistoryShare, DefaultParts)
	if pruned.DroppedMessages == 0 {
		return &CompactResult{KeptMessages: messages}, nil
	}

	summary, err := generateSummary(ctx, pruned.Dropped, summaryInstruction)
	if err != nil || strings.TrimSpace(summary) == "" {
		summary = fmt.Sprintf(fallbackSummaryFmt, len(pruned.Dropped))
	}

	return &CompactResult{
		Summary:         summary,
		KeptMessages:    pruned.Messages,
		DroppedCount:    pruned.DroppedMessages,
		TokensReclaimed: pruned.DroppedTokens,
	}, nil
}

// CreateSummaryMessage wraps a compaction summary as a user-role message
// with a fixed prefix, so it can be spliced back into a transcript ahead
// of the kept messages.
func CreateSummaryMessage(summary string) *models.Message {
	return models.NewTextMessage(models.RoleUser, summaryMessagePrefix+summary)
}
