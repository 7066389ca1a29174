package doctor

import (
	"testing"

	"github.com/haasonsaas/mozi/internal/config"
)

func TestCheckChannelPolicies(t *testing.T) {
	cfg := &config.Config{
		Channels: config.ChannelsConfig{
			Telegram: config.ChannelConfig{Enabled: true},
			Discord:  config.ChannelConfig{Enabled: true},
			Slack:    config.ChannelConfig{Enabled: true},
		},
	}
	warnings := CheckChannelPolicies(cfg)
	if len(warnings) < 3 {
		t.Fatalf("expected warnings, got %d", len(warnings))
	}
}
