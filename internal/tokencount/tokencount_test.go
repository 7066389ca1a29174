package tokencount

import (
	"testing"

	"github.com/haasonsaas/mozi/pkg/models"
)

func TestEstimateText(t *testing.T) {
	cases := []struct {
		in   string
		want int
	}{
		{"", 0},
		{"a", 1},
		{"abcd", 1},
		{"abcde", 2},
	}
	for _, c := range cases {
		if got := EstimateText(c.in); got != c.want {
			t.Fatalf("EstimateText(%q) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestEstimateMessage_ImageBonus(t *testing.T) {
	msg := &models.Message{
		Role: models.RoleUser,
		Content: []models.ContentBlock{
			{Type: models.BlockText, Text: "hi"},
			{Type: models.BlockImage, Image: &models.ImageContent{MimeType: "image/png", Data: "xx"}},
		},
	}
	got := EstimateMessage(msg)
	want := EstimateText("hi") + imageTokenBonus
	if got != want {
		t.Fatalf("EstimateMessage = %d, want %d", got, want)
	}
}

func TestEstimateMessages_Sum(t *testing.T) {
	messages := []*models.Message{
		models.NewTextMessage(models.RoleUser, "hello"),
		models.NewTextMessage(models.RoleAssistant, "world!!"),
	}
	got := EstimateMessages(messages)
	want := EstimateMessage(messages[0]) + EstimateMessage(messages[1])
	if got != want {
		t.Fatalf("EstimateMessages = %d, want %d", got, want)
	}
}
