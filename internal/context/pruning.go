// Package context implements tool-result pruning: soft-trim and
// hard-clear of tool-result content under a char budget.
package context

import (
	"strconv"
	"strings"

	"github.com/haasonsaas/mozi/pkg/models"
)

// SoftTrimSettings bounds how a single oversized tool result is trimmed.
type SoftTrimSettings struct {
	MaxChars  int
	HeadChars int
	TailChars int
}

// Settings controls PruneContextMessages. DefaultSettings returns the
// standard values.
type Settings struct {
	SoftTrimRatio      float64
	HardClearRatio     float64
	KeepLastAssistants int
	MinPrunableChars   int
	SoftTrim           SoftTrimSettings
	HardClearPlaceholder string
	// ProtectedTools is unioned with the mandatory protected set at use
	// time; callers only need to supply additions.
	ProtectedTools []string
}

// MandatoryProtectedTools are never prunable regardless of configuration.
var MandatoryProtectedTools = []string{"read_file", "write_file", "edit_file", "create_file"}

// DefaultSettings returns the standard pruning defaults.
func DefaultSettings() Settings {
	return Settings{
		SoftTrimRatio:      0.5,
		HardClearRatio:     0.7,
		KeepLastAssistants: 3,
		MinPrunableChars:   20000,
		SoftTrim: SoftTrimSettings{
			MaxChars:  4000,
			HeadChars: 1500,
			TailChars: 1500,
		},
		HardClearPlaceholder: "[Tool result cleared for context space]",
	}
}

// Stats reports the effect of a PruneContextMessages call.
type Stats struct {
	SoftTrimCount int
	HardClearCount int
	CharsBefore   int
	CharsAfter    int
	CharsSaved    int
	Ratio         float64
}

// protectedToolSet returns the lowercase set of tool names the pruner must
// never touch: the mandatory four plus any caller additions.
func protectedToolSet(extra []string) map[string]bool {
	set := make(map[string]bool, len(MandatoryProtectedTools)+len(extra))
	for _, name := range MandatoryProtectedTools {
		set[strings.ToLower(name)] = true
	}
	for _, name := range extra {
		set[strings.ToLower(strings.TrimSpace(name))] = true
	}
	return set
}

// PruneContextMessages soft-trims then, if still over budget, hard-clears
// tool-result messages between the first user message and a cutoff that
// protects the most recent KeepLastAssistants assistant turns. Messages
// outside [firstUser, cutoff) are never modified. Returns the possibly-new
// message slice (a copy is made only for indices that change) and stats.
func PruneContextMessages(messages []*models.Message, settings Settings, charWindow int) ([]*models.Message, Stats) {
	charsBefore := estimateContextChars(messages)
	stats := Stats{CharsBefore: charsBefore, CharsAfter: charsBefore}
	if len(messages) == 0 || charWindow <= 0 {
		return messages, stats
	}

	cutoff, ok := findAssistantCutoffIndex(messages, settings.KeepLastAssistants)
	if !ok {
		return messages, stats
	}
	firstUser := findFirstUserIndex(messages)
	pruneStart := len(messages)
	if firstUser >= 0 {
		pruneStart = firstUser
	}
	if pruneStart >= cutoff {
		return messages, stats
	}

	ratio := float64(charsBefore) / float64(charWindow)
	if ratio < settings.SoftTrimRatio {
		return messages, stats
	}

	protected := protectedToolSet(settings.ProtectedTools)
	toolNames := buildToolCallNameMap(messages)

	out := cloneMessages(messages)
	totalChars := charsBefore

	type prunableRef struct{ index int }
	var prunable []prunableRef

	for i := pruneStart; i < cutoff; i++ {
		msg := out[i]
		if msg == nil || msg.Role != models.RoleToolResult || msg.HasImage() {
			continue
		}
		if !toolResultIsPrunable(msg, toolNames, protected) {
			continue
		}
		prunable = append(prunable, prunableRef{index: i})

		before := estimateMessageChars(msg)
		trimmed, changed := softTrimMessage(msg, settings.SoftTrim)
		if !changed {
			continue
		}
		out[i] = trimmed
		totalChars += estimateMessageChars(trimmed) - before
		stats.SoftTrimCount++
	}

	ratio = float64(totalChars) / float64(charWindow)
	prunableChars := 0
	for _, ref := range prunable {
		prunableChars += estimateMessageChars(out[ref.index])
	}
	if ratio >= settings.HardClearRatio && prunableChars >= settings.MinPrunableChars {
		for _, ref := range prunable {
			if ratio < settings.HardClearRatio {
				break
			}
			before := estimateMessageChars(out[ref.index])
			cleared := hardClearMessage(out[ref.index], settings.HardClearPlaceholder)
			out[ref.index] = cleared
			totalChars += estimateMessageChars(cleared) - before
			ratio = float64(totalChars) / float64(charWindow)
			stats.HardClearCount++
		}
	}

	stats.CharsAfter = totalChars
	stats.CharsSaved = charsBefore - totalChars
	stats.Ratio = ratio
	if stats.SoftTrimCount == 0 && stats.HardClearCount == 0 {
		return messages, stats
	}
	return out, stats
}

func cloneMessages(messages []*models.Message) []*models.Message {
	out := make([]*models.Message, len(messages))
	copy(out, messages)
	return out
}

func findAssistantCutoffIndex(messages []*models.Message, keepLastAssistants int) (int, bool) {
	if keepLastAssistants <= 0 {
		return len(messages), true
	}
	remaining := keepLastAssistants
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i] != nil && messages[i].Role == models.RoleAssistant {
			remaining--
			if remaining == 0 {
				return i, true
			}
		}
	}
	return 0, false
}

func findFirstUserIndex(messages []*models.Message) int {
	for i, msg := range messages {
		if msg != nil && msg.Role == models.RoleUser {
			return i
		}
	}
	return -1
}

func buildToolCallNameMap(messages []*models.Message) map[string]string {
	names := make(map[string]string)
	for _, msg := range messages {
		if msg == nil {
			continue
		}
		for _, tc := range msg.ToolCalls() {
			if tc.ToolCallID != "" && tc.ToolName != "" {
				names[tc.ToolCallID] = tc.ToolName
			}
		}
	}
	return names
}

func toolResultIsPrunable(msg *models.Message, toolNames map[string]string, protected map[string]bool) bool {
	for _, tr := range msg.ToolResults() {
		name := tr.ToolResultToolName
		if name == "" {
			name = toolNames[tr.ToolResultForID]
		}
		if protected[strings.ToLower(name)] {
			return false
		}
	}
	return len(msg.ToolResults()) > 0
}

func softTrimMessage(msg *models.Message, settings SoftTrimSettings) (*models.Message, bool) {
	changed := false
	blocks := append([]models.ContentBlock(nil), msg.Content...)
	for i, b := range blocks {
		if b.Type != models.BlockToolResult {
			continue
		}
		trimmed, ok := softTrimText(b.ToolResultContent, settings)
		if !ok {
			continue
		}
		b.ToolResultContent = trimmed
		blocks[i] = b
		changed = true
	}
	if !changed {
		return msg, false
	}
	clone := *msg
	clone.Content = blocks
	return &clone, true
}

func softTrimText(content string, settings SoftTrimSettings) (string, bool) {
	rawLen := len(content)
	if rawLen <= settings.MaxChars {
		return content, false
	}
	head := settings.HeadChars
	tail := settings.TailChars
	if head < 0 {
		head = 0
	}
	if tail < 0 {
		tail = 0
	}
	if head+tail >= rawLen {
		return content, false
	}
	headStr := content[:head]
	tailStr := content[rawLen-tail:]
	note := "[Trimmed: kept first " + strconv.Itoa(head) + " and last " + strconv.Itoa(tail) + " of " + strconv.Itoa(rawLen) + " chars]"
	return "<head(" + strconv.Itoa(head) + ")>\n" + headStr + "\n...\n<tail(" + strconv.Itoa(tail) + ")>\n" + tailStr + "\n\n" + note, true
}

func hardClearMessage(msg *models.Message, placeholder string) *models.Message {
	clone := *msg
	clone.Content = []models.ContentBlock{{Type: models.BlockToolResult, ToolResultContent: placeholder}}
	if len(msg.Content) > 0 && msg.Content[0].ToolResultForID != "" {
		clone.Content[0].ToolResultForID = msg.Content[0].ToolResultForID
		clone.Content[0].ToolResultToolName = msg.Content[0].ToolResultToolName
	}
	return &clone
}

func estimateContextChars(messages []*models.Message) int {
	total := 0
	for _, msg := range messages {
		total += estimateMessageChars(msg)
	}
	return total
}

func estimateMessageChars(msg *models.Message) int {
	if msg == nil {
		return 0
	}
	chars := 0
	for _, b := range msg.Content {
		chars += len(b.Text) + len(b.Arguments) + len(b.ToolResultContent)
	}
	return chars
}
