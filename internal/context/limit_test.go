package context

import (
	"testing"

	"github.com/haasonsaas/mozi/pkg/models"
)

func userMsg(text string) *models.Message {
	return models.NewTextMessage(models.RoleUser, text)
}

func assistantMsg(text string) *models.Message {
	return models.NewTextMessage(models.RoleAssistant, text)
}

func TestLimitHistoryTurns_KeepsLastNTurns(t *testing.T) {
	messages := []*models.Message{
		userMsg("1"), assistantMsg("1r"),
		userMsg("2"), assistantMsg("2r"),
		userMsg("3"), assistantMsg("3r"),
	}

	out := LimitHistoryTurns(messages, 2)
	if len(out) != 4 {
		t.Fatalf("expected 4 messages (last 2 turns), got %d", len(out))
	}
	if out[0].Text() != "2" {
		t.Fatalf("expected first kept message to be turn 2's user message, got %q", out[0].Text())
	}
}

func TestLimitHistoryTurns_FewerTurnsThanLimit(t *testing.T) {
	messages := []*models.Message{userMsg("1"), assistantMsg("1r")}
	out := LimitHistoryTurns(messages, 5)
	if len(out) != len(messages) {
		t.Fatalf("expected unchanged input, got %d messages", len(out))
	}
}

func TestLimitHistoryTurns_ZeroIsNoop(t *testing.T) {
	messages := []*models.Message{userMsg("1")}
	out := LimitHistoryTurns(messages, 0)
	if len(out) != 1 {
		t.Fatalf("expected passthrough for turns<=0, got %d", len(out))
	}
}

func TestLimitHistoryTurns_Idempotent(t *testing.T) {
	messages := []*models.Message{
		userMsg("1"), assistantMsg("1r"),
		userMsg("2"), assistantMsg("2r"),
		userMsg("3"), assistantMsg("3r"),
	}
	once := LimitHistoryTurns(messages, 2)
	twice := LimitHistoryTurns(once, 2)
	if len(once) != len(twice) {
		t.Fatalf("expected idempotent result, got %d then %d", len(once), len(twice))
	}
	for i := range once {
		if once[i].Text() != twice[i].Text() {
			t.Fatalf("idempotence mismatch at %d: %q vs %q", i, once[i].Text(), twice[i].Text())
		}
	}
}

func TestLimitHistoryTurns_Empty(t *testing.T) {
	out := LimitHistoryTurns(nil, 3)
	if out != nil {
		t.Fatalf("expected nil passthrough for empty input, got %v", out)
	}
}
