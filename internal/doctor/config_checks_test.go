package doctor

import (
	"testing"

	"github.com/haasonsaas/mozi/internal/config"
)

func TestProbeConfig_DevEdgeAuthIsError(t *testing.T) {
	cfg := &config.Config{
		Edge: config.EdgeConfig{Enabled: true, AuthMode: "dev"},
	}
	checks := ProbeConfig(cfg)

	var found bool
	for _, c := range checks {
		if c.Severity == SeverityError {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected an error check for edge dev auth mode, got %+v", checks)
	}
}

func TestProbeConfig_ChannelCredentialWarningsSurface(t *testing.T) {
	cfg := &config.Config{
		Channels: config.ChannelsConfig{
			Telegram: config.ChannelConfig{Enabled: true},
		},
	}
	checks := ProbeConfig(cfg)

	var found bool
	for _, c := range checks {
		if c.Name == "config: channel credentials" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a channel credentials check, got %+v", checks)
	}
}

func TestProbeConfig_NilConfigReturnsNoChecks(t *testing.T) {
	if checks := ProbeConfig(nil); checks != nil {
		t.Fatalf("expected nil checks for a nil config, got %+v", checks)
	}
}
