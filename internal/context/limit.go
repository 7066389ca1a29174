package context

import "github.com/haasonsaas/mozi/pkg/models"

// LimitHistoryTurns keeps only the last `turns` user-initiated turns of a
// transcript (a turn starts at a user message and runs through the messages
// that follow it up to, but not including, the next user message). It is
// the first stage of the persisted-context load pipeline, ahead of
// pruning and sanitization.
//
// Applying LimitHistoryTurns twice with the same turns value is equal to
// applying it once: the second call sees a transcript with at most `turns`
// user messages already, so it returns it unchanged.
func LimitHistoryTurns(messages []*models.Message, turns int) []*models.Message {
	if turns <= 0 || len(messages) == 0 {
		return messages
	}

	var userIdx []int
	for i, m := range messages {
		if m.Role == models.RoleUser {
			userIdx = append(userIdx, i)
		}
	}
	if len(userIdx) <= turns {
		return messages
	}

	start := userIdx[len(userIdx)-turns]
	out := make([]*models.Message, len(messages)-start)
	copy(out, messages[start:])
	return out
}
