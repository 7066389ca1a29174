// Package sanitize implements the payload sanitizer: a
// per-provider transcript repair pipeline gated by a policy derived from
// (modelRef, api, provider), applied in a fixed stage order before a
// transcript is handed to a model API.
package sanitize

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/haasonsaas/mozi/pkg/models"
)

// ToolCallIDMode selects how stage 2 rewrites tool-call ids.
type ToolCallIDMode string

const (
	ToolCallIDOff     ToolCallIDMode = "off"
	ToolCallIDStrict  ToolCallIDMode = "strict"
	ToolCallIDStrict9 ToolCallIDMode = "strict9"
)

// Policy gates which pipeline stages run.
type Policy struct {
	SanitizeToolCallIDs        ToolCallIDMode
	SanitizeThinkingSignatures bool
	RepairToolUseResultPairing bool
	AllowSyntheticToolResults  bool
	ApplyGoogleTurnOrdering    bool
	ValidateGeminiTurns        bool
	ValidateAnthropicTurns     bool
}

// IsGeminiLikeTarget reports whether modelRef names a Gemini-family
// model: true iff the lowercased ref contains "gemini". This is the sole
// definition every caller uses, so no second heuristic can drift from it.
func IsGeminiLikeTarget(modelRef string) bool {
	return strings.Contains(strings.ToLower(modelRef), "gemini")
}

// PolicyFor derives the transcript policy from (modelRef, api,
// provider). Non-Gemini targets get every flag off, so the pipeline
// becomes a no-op that returns the input list by reference
// unchanged" clause.
func PolicyFor(modelRef, api, provider string) Policy {
	if !IsGeminiLikeTarget(modelRef) {
		return Policy{}
	}
	return Policy{
		SanitizeToolCallIDs:        ToolCallIDStrict9,
		SanitizeThinkingSignatures: true,
		RepairToolUseResultPairing: true,
		AllowSyntheticToolResults:  true,
		ApplyGoogleTurnOrdering:    true,
		ValidateGeminiTurns:        true,
		ValidateAnthropicTurns:     false,
	}
}

// requestMetadataKeys are the request-level keys stage 1 strips out of a
// message's Metadata bag.
var requestMetadataKeys = []string{
	"safetySettings", "model", "systemInstruction", "toolConfig", "temperature",
	"topP", "topK", "stopSequences", "maxOutputTokens", "responseMimeType",
	"userAgent", "requestType", "requestId", "sessionId", "generationConfig",
	"thinkingConfig",
}

var (
	strictToolCallIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
	base64LikePattern       = regexp.MustCompile(`^[A-Za-z0-9+/]+={0,2}$`)
)

// Report summarizes what the pipeline changed, surfaced for diagnostics.
type Report struct {
	Messages []*models.Message
}

// Sanitize runs the fixed eight-stage pipeline over messages under
// policy. Messages is never mutated in place; a new slice (and new
// Message values wherever a stage changes one) is returned.
func Sanitize(messages []*models.Message, policy Policy) []*models.Message {
	if policy == (Policy{}) {
		return messages
	}

	out := cloneMessages(messages)
	out = stripRequestMetadata(out)
	out = normalizeToolCallIDs(out, policy.SanitizeToolCallIDs)
	if policy.SanitizeThinkingSignatures {
		out = stripInvalidThinkingSignatures(out)
	}
	out = repairToolCallInputs(out)
	if policy.RepairToolUseResultPairing {
		out = repairToolUseResultPairing(out, policy.AllowSyntheticToolResults)
	}
	if policy.ApplyGoogleTurnOrdering {
		out = applyGoogleTurnOrdering(out)
	}
	if policy.ValidateGeminiTurns {
		out = mergeConsecutiveAssistantTurns(out)
	}
	if policy.ValidateAnthropicTurns {
		out = mergeConsecutiveUserTurns(out)
	}
	return out
}

func cloneMessages(messages []*models.Message) []*models.Message {
	out := make([]*models.Message, len(messages))
	for i, m := range messages {
		if m == nil {
			continue
		}
		cp := *m
		cp.Content = append([]models.ContentBlock(nil), m.Content...)
		if m.Metadata != nil {
			cp.Metadata = make(map[string]any, len(m.Metadata))
			for k, v := range m.Metadata {
				cp.Metadata[k] = v
			}
		}
		out[i] = &cp
	}
	return out
}

// stripRequestMetadata removes request-level keys leaked into a message's
// Metadata bag.
func stripRequestMetadata(messages []*models.Message) []*models.Message {
	for _, m := range messages {
		if m == nil || len(m.Metadata) == 0 {
			continue
		}
		for _, key := range requestMetadataKeys {
			delete(m.Metadata, key)
		}
	}
	return messages
}

// normalizeToolCallIDs rewrites toolCall ids (and their matching
// toolResult.toolCallId) under a stable map, so paired ids stay paired.
func normalizeToolCallIDs(messages []*models.Message, mode ToolCallIDMode) []*models.Message {
	if mode == ToolCallIDOff || mode == "" {
		return messages
	}

	rewrite := map[string]string{}
	seq := 0
	nextID := func(original string) string {
		if mapped, ok := rewrite[original]; ok {
			return mapped
		}
		var mapped string
		switch {
		case original == "":
			seq++
			mapped = fmt.Sprintf("toolcall_%d", seq)
		case mode == ToolCallIDStrict:
			if strictToolCallIDPattern.MatchString(original) {
				mapped = original
			} else {
				mapped = sanitizeToStrict(original)
			}
		case mode == ToolCallIDStrict9:
			mapped = toStrict9(original)
		default:
			mapped = original
		}
		rewrite[original] = mapped
		return mapped
	}

	for _, m := range messages {
		if m == nil {
			continue
		}
		for i := range m.Content {
			b := &m.Content[i]
			switch b.Type {
			case models.BlockToolCall:
				b.ToolCallID = nextID(b.ToolCallID)
			case models.BlockToolResult:
				if mapped, ok := rewrite[b.ToolResultForID]; ok {
					b.ToolResultForID = mapped
				}
			}
		}
	}
	return messages
}

func sanitizeToStrict(s string) string {
	var sb strings.Builder
	for _, r := range s {
		if (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' || r == '-' {
			sb.WriteRune(r)
		} else {
			sb.WriteRune('_')
		}
	}
	if sb.Len() == 0 {
		return "toolcall_0"
	}
	return sb.String()
}

// toStrict9 produces an exactly-9-character [A-Za-z0-9] token: strips
// disallowed characters, right-pads with '0' if short, truncates if
// long, yielding an exactly-9-character [A-Za-z0-9] token.
func toStrict9(s string) string {
	var sb strings.Builder
	for _, r := range s {
		if (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			sb.WriteRune(r)
		}
	}
	cleaned := sb.String()
	if len(cleaned) > 9 {
		return cleaned[:9]
	}
	for len(cleaned) < 9 {
		cleaned += "0"
	}
	return cleaned
}

// stripInvalidThinkingSignatures drops a thinking block whose signature is
// not base64-like with length divisible by 4, and drops the whole message
// if that empties its content.
func stripInvalidThinkingSignatures(messages []*models.Message) []*models.Message {
	out := make([]*models.Message, 0, len(messages))
	for _, m := range messages {
		if m == nil {
			continue
		}
		kept := make([]models.ContentBlock, 0, len(m.Content))
		for _, b := range m.Content {
			if b.Type == models.BlockThinking && !isValidThinkingSignature(b.ThinkingSignature) {
				continue
			}
			kept = append(kept, b)
		}
		if len(kept) == 0 {
			continue
		}
		m.Content = kept
		out = append(out, m)
	}
	return out
}

func isValidThinkingSignature(sig string) bool {
	if sig == "" {
		return false
	}
	if !base64LikePattern.MatchString(sig) {
		return false
	}
	return len(sig)%4 == 0
}

// repairToolCallInputs drops a toolCall block lacking both input and
// arguments, and drops the message if that empties its content.
func repairToolCallInputs(messages []*models.Message) []*models.Message {
	out := make([]*models.Message, 0, len(messages))
	for _, m := range messages {
		if m == nil {
			continue
		}
		kept := make([]models.ContentBlock, 0, len(m.Content))
		for _, b := range m.Content {
			if b.Type == models.BlockToolCall && len(b.Arguments) == 0 {
				continue
			}
			kept = append(kept, b)
		}
		if len(kept) == 0 {
			continue
		}
		m.Content = kept
		out = append(out, m)
	}
	return out
}

// repairToolUseResultPairing repairs tool-use/result pairing between
// assistant turns and their following non-assistant messages.
func repairToolUseResultPairing(messages []*models.Message, allowSynthetic bool) []*models.Message {
	out := make([]*models.Message, 0, len(messages))

	i := 0
	for i < len(messages) {
		m := messages[i]
		if m == nil {
			i++
			continue
		}

		toolCalls := m.ToolCalls()
		if m.Role != models.RoleAssistant || len(toolCalls) == 0 ||
			m.StopReason == models.StopReasonError || m.StopReason == models.StopReasonAborted {
			out = append(out, m)
			i++
			continue
		}

		callOrder := make([]string, 0, len(toolCalls))
		for _, c := range toolCalls {
			callOrder = append(callOrder, c.ToolCallID)
		}
		pending := map[string]bool{}
		for _, id := range callOrder {
			pending[id] = true
		}

		resultsByID := map[string]*models.Message{}
		seen := map[string]bool{}
		var remainder []*models.Message

		j := i + 1
		for ; j < len(messages); j++ {
			next := messages[j]
			if next == nil {
				continue
			}
			if next.Role == models.RoleAssistant {
				break
			}
			results := next.ToolResults()
			if len(results) == 0 {
				remainder = append(remainder, next)
				continue
			}
			for _, r := range results {
				id := r.ToolResultForID
				if !pending[id] {
					continue // orphan, dropped
				}
				if seen[id] {
					continue // duplicate, dropped
				}
				seen[id] = true
				delete(pending, id)
				resultsByID[id] = next
			}
		}

		out = append(out, m)
		for _, id := range callOrder {
			if resultMsg, ok := resultsByID[id]; ok {
				out = append(out, resultMsg)
			} else if allowSynthetic {
				out = append(out, syntheticToolResult(id))
			}
		}
		out = append(out, remainder...)

		i = j
	}

	return out
}

// syntheticToolResult builds a human-readable placeholder result for a
// tool call whose result never arrived.
func syntheticToolResult(toolCallID string) *models.Message {
	return &models.Message{
		Role: models.RoleToolResult,
		Content: []models.ContentBlock{{
			Type:              models.BlockToolResult,
			ToolResultForID:   toolCallID,
			ToolResultContent: "Missing tool result in session history; inserted synthetic error result for transcript repair.",
			IsError:           true,
		}},
		Metadata: map[string]any{"synthetic": true},
	}
}

// applyGoogleTurnOrdering prepends a bootstrap user message when the
// transcript opens on an assistant turn. Idempotent:
// it never runs twice on an already-bootstrapped transcript because a
// leading user message means the condition no longer holds.
func applyGoogleTurnOrdering(messages []*models.Message) []*models.Message {
	if len(messages) == 0 || messages[0] == nil || messages[0].Role != models.RoleAssistant {
		return messages
	}
	bootstrap := models.NewTextMessage(models.RoleUser, "(session bootstrap)")
	return append([]*models.Message{bootstrap}, messages...)
}

// mergeConsecutiveAssistantTurns concatenates consecutive assistant
// messages' content, keeping the later message's usage/stopReason/error.
func mergeConsecutiveAssistantTurns(messages []*models.Message) []*models.Message {
	return mergeConsecutiveRole(messages, models.RoleAssistant, true)
}

// mergeConsecutiveUserTurns concatenates consecutive user messages'
// content into one message.
func mergeConsecutiveUserTurns(messages []*models.Message) []*models.Message {
	return mergeConsecutiveRole(messages, models.RoleUser, false)
}

func mergeConsecutiveRole(messages []*models.Message, role models.Role, keepLaterMeta bool) []*models.Message {
	out := make([]*models.Message, 0, len(messages))
	for _, m := range messages {
		if m == nil {
			continue
		}
		if n := len(out); n > 0 && out[n-1].Role == role && m.Role == role {
			prev := out[n-1]
			merged := *prev
			merged.Content = append(append([]models.ContentBlock(nil), prev.Content...), m.Content...)
			if keepLaterMeta {
				merged.Usage = m.Usage
				merged.StopReason = m.StopReason
				merged.ErrorMessage = m.ErrorMessage
				merged.Timestamp = m.Timestamp
			}
			out[n-1] = &merged
			continue
		}
		out = append(out, m)
	}
	return out
}

// ValidateMessageStructure reports missing/invalid role, unknown role,
// and any presence of request-level field names in metadata.
func ValidateMessageStructure(msg *models.Message) []string {
	if msg == nil {
		return []string{"message is nil"}
	}
	var problems []string
	switch msg.Role {
	case models.RoleUser, models.RoleAssistant, models.RoleToolResult, models.RoleBashExecution:
	case "":
		problems = append(problems, "role is missing")
	default:
		problems = append(problems, fmt.Sprintf("unknown role %q", msg.Role))
	}
	for _, key := range requestMetadataKeys {
		if _, ok := msg.Metadata[key]; ok {
			problems = append(problems, "request-level field leaked into message: "+key)
		}
	}
	return problems
}
