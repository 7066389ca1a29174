package models

import (
	"fmt"
	"strings"
	"time"
)

// PeerType discriminates whether a session's peer is a direct message or a
// group, per the sessionKey grammar
// agent:{agentId}:{channelId}[:{accountId}]:{peerType}:{peerId}[:thread:{threadId}].
type PeerType string

const (
	PeerTypeDM    PeerType = "dm"
	PeerTypeGroup PeerType = "group"
)

// BuildSessionKey assembles a session key from its grammar parts.
// accountID and threadID are optional and omitted when empty.
func BuildSessionKey(agentID, channelID, accountID string, peerType PeerType, peerID, threadID string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "agent:%s:%s", agentID, channelID)
	if accountID != "" {
		b.WriteString(":" + accountID)
	}
	fmt.Fprintf(&b, ":%s:%s", peerType, peerID)
	if threadID != "" {
		b.WriteString(":thread:" + threadID)
	}
	return b.String()
}

// IsDmSessionKey reports whether sessionKey addresses a direct-message
// peer.
func IsDmSessionKey(sessionKey string) bool {
	return strings.Contains(sessionKey, ":dm:")
}

// ExtractDmPeerID returns the peer id following the ":dm:" segment,
// stripped of any trailing ":thread:..." suffix. Empty when sessionKey
// is not a DM key.
func ExtractDmPeerID(sessionKey string) string {
	_, after, ok := strings.Cut(sessionKey, ":dm:")
	if !ok {
		return ""
	}
	if peer, _, found := strings.Cut(after, ":thread:"); found {
		return peer
	}
	return after
}

// Session is the in-memory/on-disk keyed state for one agent-peer-channel
// conversation.
type Session struct {
	SessionKey string `json:"sessionKey"`
	AgentID    string `json:"agentId"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	// CurrentModel is the persisted model reference bound to this session,
	// consulted by the agent registry's modelRef resolution precedence.
	CurrentModel string `json:"currentModel,omitempty"`

	// Metadata is an opaque bag including thinking level and
	// lifecycle-control overrides.
	Metadata map[string]any `json:"metadata,omitempty"`

	// LatestSessionID is the id of the current (non-archived) segment.
	LatestSessionID string `json:"latestSessionId"`

	// HistorySessionIDs is the ordered history of prior segment ids, oldest
	// first.
	HistorySessionIDs []string `json:"historySessionIds,omitempty"`

	// Context is the in-memory parsed transcript of the latest segment.
	// It is not persisted directly; it is derived from the segment's JSONL
	// file and kept in sync by Store.Update.
	Context []*Message `json:"-"`
}

// Segment is a contiguous run of transcript within a session. At most
// one non-archived segment exists per session at a time.
type Segment struct {
	SessionID string `json:"sessionId"`
	// SessionKey ties the segment back to its owning session.
	SessionKey string `json:"sessionKey"`
	AgentID    string `json:"agentId"`

	Path string `json:"-"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`

	Archived bool    `json:"archived,omitempty"`
	Summary  *string `json:"summary,omitempty"`

	PrevSessionID string `json:"prevSessionId,omitempty"`
	NextSessionID string `json:"nextSessionId,omitempty"`

	Model    string         `json:"model,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// SegmentHeader is line 1 of a transcript JSONL file.
type SegmentHeader struct {
	Type          string         `json:"type"` // always "session"
	SessionID     string         `json:"sessionId"`
	SessionKey    string         `json:"sessionKey"`
	AgentID       string         `json:"agentId"`
	CreatedAt     time.Time      `json:"createdAt"`
	UpdatedAt     *time.Time     `json:"updatedAt,omitempty"`
	Archived      bool           `json:"archived,omitempty"`
	PrevSessionID string         `json:"prevSessionId,omitempty"`
	NextSessionID string         `json:"nextSessionId,omitempty"`
	Model         string         `json:"model,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// TranscriptLine is one JSON-lines message record (line 2..N of a
// transcript file).
type TranscriptLine struct {
	Type    string   `json:"type"` // always "message"
	Message *Message `json:"message"`
}
