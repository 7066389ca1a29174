package sandbox

import (
	"context"
	"strings"
	"testing"

	"github.com/haasonsaas/mozi/pkg/models"
)

func TestProbe_OffModeAlwaysOK(t *testing.T) {
	result, err := Probe(context.Background(), models.SandboxConfig{Mode: models.SandboxOff})
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if !result.OK {
		t.Fatalf("expected off mode to always be ok")
	}
}

func TestProbe_ContainerModeWithoutImageFails(t *testing.T) {
	result, err := Probe(context.Background(), models.SandboxConfig{Mode: models.SandboxDocker})
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if result.OK {
		t.Fatalf("expected docker mode without an image to be not-ok")
	}
	if len(result.Hints) == 0 {
		t.Fatalf("expected hints explaining the missing image")
	}
}

func TestCacheKey_DiffersByMode(t *testing.T) {
	offKey, err := CacheKey(models.SandboxConfig{Mode: models.SandboxOff}, []string{"ls"})
	if err != nil {
		t.Fatalf("CacheKey: %v", err)
	}
	dockerKey, err := CacheKey(models.SandboxConfig{Mode: models.SandboxDocker, Image: "alpine"}, nil)
	if err != nil {
		t.Fatalf("CacheKey: %v", err)
	}
	if offKey == dockerKey {
		t.Fatalf("expected distinct cache keys for distinct modes")
	}
	if !strings.Contains(offKey, "\"allowlist\"") {
		t.Fatalf("expected off-mode cache key to carry the allowlist, got %q", offKey)
	}
}

func TestCacheKey_VibeboxUsesBridgeConfigNotFullSandbox(t *testing.T) {
	cfg := models.SandboxConfig{
		Mode:    models.SandboxDocker,
		Vibebox: &models.VibeboxConfig{Enabled: true, BinPath: "vibebox"},
		Image:   "should-not-appear-in-cache-key",
	}
	key, err := CacheKey(cfg, nil)
	if err != nil {
		t.Fatalf("CacheKey: %v", err)
	}
	if strings.Contains(key, "should-not-appear-in-cache-key") {
		t.Fatalf("expected vibebox cache key to omit the full sandbox config, got %q", key)
	}
}

func TestCacheKey_IsStableForEqualConfig(t *testing.T) {
	cfg := models.SandboxConfig{Mode: models.SandboxDocker, Image: "alpine"}
	k1, _ := CacheKey(cfg, nil)
	k2, _ := CacheKey(cfg, nil)
	if k1 != k2 {
		t.Fatalf("expected identical configs to produce identical cache keys")
	}
}
