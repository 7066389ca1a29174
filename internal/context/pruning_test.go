package context

import (
	"strings"
	"testing"
	"time"

	"github.com/haasonsaas/mozi/pkg/models"
)

func toolResultMsg(id, tool, content string) *models.Message {
	return &models.Message{
		Role: models.RoleToolResult,
		Content: []models.ContentBlock{
			{Type: models.BlockToolResult, ToolResultForID: id, ToolResultToolName: tool, ToolResultContent: content},
		},
		Timestamp: time.Now(),
	}
}

func assistantWithCall(id, tool string) *models.Message {
	return &models.Message{
		Role: models.RoleAssistant,
		Content: []models.ContentBlock{
			{Type: models.BlockToolCall, ToolCallID: id, ToolName: tool},
		},
		Timestamp: time.Now(),
	}
}

func TestPruneContextMessages_Empty(t *testing.T) {
	out, stats := PruneContextMessages(nil, DefaultSettings(), 1000)
	if out != nil {
		t.Fatalf("expected nil passthrough, got %v", out)
	}
	if stats.CharsBefore != 0 || stats.CharsAfter != 0 {
		t.Fatalf("expected zero stats for empty input, got %+v", stats)
	}
}

func TestPruneContextMessages_BelowSoftTrimRatio_Unchanged(t *testing.T) {
	messages := []*models.Message{
		models.NewTextMessage(models.RoleUser, "hi"),
		models.NewTextMessage(models.RoleAssistant, "hello"),
	}
	out, _ := PruneContextMessages(messages, DefaultSettings(), 1_000_000)
	if len(out) != len(messages) {
		t.Fatalf("expected unchanged message count")
	}
}

func TestPruneContextMessages_SoftTrimsOversizedToolResult(t *testing.T) {
	big := strings.Repeat("x", 10000)
	messages := []*models.Message{
		models.NewTextMessage(models.RoleUser, "go"),
		assistantWithCall("call1", "grep"),
		toolResultMsg("call1", "grep", big),
		models.NewTextMessage(models.RoleAssistant, "done 1"),
		models.NewTextMessage(models.RoleAssistant, "done 2"),
		models.NewTextMessage(models.RoleAssistant, "done 3"),
		models.NewTextMessage(models.RoleAssistant, "done 4"),
	}
	settings := DefaultSettings()
	out, stats := PruneContextMessages(messages, settings, len(big)*2)
	if stats.SoftTrimCount == 0 {
		t.Fatalf("expected at least one soft trim, stats=%+v", stats)
	}
	trimmed := out[2].ToolResults()[0].ToolResultContent
	if len(trimmed) >= len(big) {
		t.Fatalf("expected trimmed content to shrink, got len=%d", len(trimmed))
	}
}

func TestPruneContextMessages_ProtectedToolsNeverTrimmed(t *testing.T) {
	big := strings.Repeat("y", 10000)
	messages := []*models.Message{
		models.NewTextMessage(models.RoleUser, "go"),
		assistantWithCall("call1", "read_file"),
		toolResultMsg("call1", "read_file", big),
		models.NewTextMessage(models.RoleAssistant, "done 1"),
		models.NewTextMessage(models.RoleAssistant, "done 2"),
		models.NewTextMessage(models.RoleAssistant, "done 3"),
	}
	out, _ := PruneContextMessages(messages, DefaultSettings(), len(big)*2)
	if out[2].ToolResults()[0].ToolResultContent != big {
		t.Fatalf("protected tool result must never be modified")
	}
}
