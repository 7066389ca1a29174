// Package models defines the data types shared across the runtime: the
// tagged-variant message/content-block model, session and segment records,
// and the configuration structs (agent, model, sandbox, secret, capability)
// consulted by every component in internal/.
package models

import (
	"encoding/json"
	"time"
)

// Role discriminates a Message's author. It is a closed sum in spirit: every
// switch over Role in this codebase handles all four variants.
type Role string

const (
	RoleUser          Role = "user"
	RoleAssistant     Role = "assistant"
	RoleToolResult    Role = "toolResult"
	RoleBashExecution Role = "bashExecution"
)

// BlockType discriminates a ContentBlock. Like Role, this is a closed sum:
// Text, Image, Thinking, ToolCall, ToolResult.
type BlockType string

const (
	BlockText       BlockType = "text"
	BlockImage      BlockType = "image"
	BlockThinking   BlockType = "thinking"
	BlockToolCall   BlockType = "toolCall"
	BlockToolResult BlockType = "toolResult"
)

// ContentBlock is one ordered element of a Message's content. Exactly one of
// the variant-specific fields is meaningful, selected by Type. A closed
// sum expressed as a single
// discriminated struct rather than an interface, which keeps JSON-lines
// (de)serialization a single round-trippable type.
type ContentBlock struct {
	Type BlockType `json:"type"`

	// Text holds the payload for Text and Thinking blocks.
	Text string `json:"text,omitempty"`

	// ThinkingSignature carries a Thinking block's signature. Accepted input
	// aliases "signature" and "thought_signature" are normalized into this
	// field by UnmarshalJSON.
	ThinkingSignature string `json:"thinkingSignature,omitempty"`

	// Image holds the payload for Image blocks.
	Image *ImageContent `json:"image,omitempty"`

	// ToolCallID, ToolName, Arguments hold the payload for ToolCall blocks.
	ToolCallID string          `json:"id,omitempty"`
	ToolName   string          `json:"name,omitempty"`
	Arguments  json.RawMessage `json:"arguments,omitempty"`

	// ToolResultForID, ToolResultToolName, ToolResultContent, IsError hold
	// the payload for ToolResult blocks. ToolResultForID matches the
	// ToolCallID of the block it pairs with.
	ToolResultForID     string `json:"toolCallId,omitempty"`
	ToolResultToolName  string `json:"toolName,omitempty"`
	ToolResultContent   string `json:"content,omitempty"`
	IsError             bool   `json:"isError,omitempty"`
}

// ImageContent is the payload of a Image content block.
type ImageContent struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data,omitempty"` // base64, when inlined
	URL      string `json:"url,omitempty"`
}

// rawContentBlock aliases ContentBlock to avoid recursive UnmarshalJSON calls
// and normalizes the thinking-signature aliases the source accepts.
type rawContentBlock struct {
	ContentBlock
	Signature        string `json:"signature,omitempty"`
	ThoughtSignature string `json:"thought_signature,omitempty"`
}

// UnmarshalJSON normalizes the thinkingSignature aliases ("signature",
// "thought_signature") that Gemini-family payloads use intercheangeably into
// ThinkingSignature, so every downstream consumer only has to look at one
// field.
func (b *ContentBlock) UnmarshalJSON(data []byte) error {
	var raw rawContentBlock
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*b = raw.ContentBlock
	if b.ThinkingSignature == "" {
		if raw.Signature != "" {
			b.ThinkingSignature = raw.Signature
		} else if raw.ThoughtSignature != "" {
			b.ThinkingSignature = raw.ThoughtSignature
		}
	}
	return nil
}

// StopReason classifies why an assistant turn ended, consulted by the
// payload sanitizer's tool-pairing repair stage.
type StopReason string

const (
	StopReasonNone     StopReason = ""
	StopReasonEnd      StopReason = "end_turn"
	StopReasonToolUse  StopReason = "tool_use"
	StopReasonError    StopReason = "error"
	StopReasonAborted  StopReason = "aborted"
)

// Usage carries token accounting for a completed assistant turn.
type Usage struct {
	InputTokens  int `json:"inputTokens,omitempty"`
	OutputTokens int `json:"outputTokens,omitempty"`
}

// Message is one entry of a transcript: a tagged variant over
// {user, assistant, toolResult, bashExecution}. Content is an ordered list
// of ContentBlock; for plain user/assistant text turns a single Text block
// is used, but the slice form is what every pipeline stage operates on.
type Message struct {
	Role      Role           `json:"role"`
	Content   []ContentBlock `json:"content"`
	Timestamp time.Time      `json:"timestamp"`

	// StopReason and Usage are populated on assistant messages.
	StopReason StopReason `json:"stopReason,omitempty"`
	Usage      *Usage     `json:"usage,omitempty"`

	// ErrorMessage carries a human-readable failure reason, preserved across
	// the sanitizer's consecutive-assistant-turn merge.
	ErrorMessage string `json:"errorMessage,omitempty"`

	// Metadata is an open bag for fields that do not warrant a first-class
	// column (e.g. synthetic-result markers).
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Text returns the concatenation of all Text blocks' content, the common
// case for a plain message.
func (m *Message) Text() string {
	if m == nil {
		return ""
	}
	var out string
	for _, b := range m.Content {
		if b.Type == BlockText {
			out += b.Text
		}
	}
	return out
}

// ToolCalls returns every ToolCall block in emission order.
func (m *Message) ToolCalls() []ContentBlock {
	if m == nil {
		return nil
	}
	var out []ContentBlock
	for _, b := range m.Content {
		if b.Type == BlockToolCall {
			out = append(out, b)
		}
	}
	return out
}

// ToolResults returns every ToolResult block in emission order.
func (m *Message) ToolResults() []ContentBlock {
	if m == nil {
		return nil
	}
	var out []ContentBlock
	for _, b := range m.Content {
		if b.Type == BlockToolResult {
			out = append(out, b)
		}
	}
	return out
}

// HasImage reports whether the message carries at least one Image block,
// consulted by the context pruner (image-bearing tool results are never
// soft-trimmed) and by Runtime.Dispatch to detect turns that need image
// input.
func (m *Message) HasImage() bool {
	if m == nil {
		return false
	}
	for _, b := range m.Content {
		if b.Type == BlockImage {
			return true
		}
	}
	return false
}

// IsEmpty reports whether a message has no content blocks, the condition
// under which the sanitizer drops a message entirely.
func (m *Message) IsEmpty() bool {
	return m == nil || len(m.Content) == 0
}

// NewTextMessage builds a single-block text message.
func NewTextMessage(role Role, text string) *Message {
	return &Message{
		Role:      role,
		Content:   []ContentBlock{{Type: BlockText, Text: text}},
		Timestamp: time.Now(),
	}
}
