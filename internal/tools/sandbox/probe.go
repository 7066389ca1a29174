package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"

	"github.com/haasonsaas/mozi/pkg/models"
)

// ProbeResult is the {ok, mode, message, hints} shape every backend's
// Probe produces.
type ProbeResult struct {
	OK      bool              `json:"ok"`
	Mode    models.SandboxMode `json:"mode"`
	Message string            `json:"message,omitempty"`
	Hints   []string          `json:"hints,omitempty"`
}

// Probe reports whether cfg's backend is ready to run commands, without
// running any. off is always ok. A vibebox-fronted docker/apple-vm
// backend delegates to the bridge's own probe subcommand; otherwise
// docker/apple-vm without an image configured is never ok, and apple-vm
// is never ok, since only the bridge can run it.
func Probe(ctx context.Context, cfg models.SandboxConfig) (*ProbeResult, error) {
	switch cfg.Mode {
	case models.SandboxOff, "":
		return &ProbeResult{OK: true, Mode: models.SandboxOff, Message: "host execution, no container backend"}, nil
	case models.SandboxDocker, models.SandboxAppleVM:
		if usesVibebox(cfg) {
			bridge := NewVibebox(vibeboxBinPath(cfg), string(cfg.Mode), "")
			return bridge.Probe(ctx, cfg.Mode)
		}
		if cfg.Image == "" {
			return &ProbeResult{
				OK:      false,
				Mode:    cfg.Mode,
				Message: "no image configured for container backend",
				Hints:   []string{"set sandbox.image to a container image reference"},
			}, nil
		}
		if cfg.Mode == models.SandboxDocker {
			if _, err := exec.LookPath("docker"); err != nil {
				return &ProbeResult{
					OK: false, Mode: cfg.Mode, Message: "docker binary not found on PATH",
					Hints: []string{"install Docker or switch sandbox.mode to \"off\""},
				}, nil
			}
		}
		if cfg.Mode == models.SandboxAppleVM {
			return &ProbeResult{
				OK: false, Mode: cfg.Mode, Message: "apple-vm backend requires the vibebox bridge",
				Hints: []string{"set sandbox.vibebox.enabled to true"},
			}, nil
		}
		return &ProbeResult{OK: true, Mode: cfg.Mode, Message: fmt.Sprintf("image %s configured", cfg.Image)}, nil
	default:
		return &ProbeResult{OK: false, Mode: cfg.Mode, Message: "unknown sandbox mode"}, nil
	}
}

// usesVibebox reports whether cfg routes a container-mode backend through
// the vibebox bridge.
func usesVibebox(cfg models.SandboxConfig) bool {
	return cfg.Vibebox != nil && cfg.Vibebox.Enabled
}

func vibeboxBinPath(cfg models.SandboxConfig) string {
	if cfg.Vibebox != nil && cfg.Vibebox.BinPath != "" {
		return cfg.Vibebox.BinPath
	}
	return DefaultVibeboxBinPath
}

// cacheKeyPayload is the JSON shape hashed for executor reuse. Only one
// of Vibebox/Container/Allowlist is populated, selected by Mode.
type cacheKeyPayload struct {
	Mode      models.SandboxMode  `json:"mode"`
	Vibebox   *models.VibeboxConfig `json:"vibebox,omitempty"`
	Container *models.SandboxConfig `json:"container,omitempty"`
	Allowlist []string            `json:"allowlist,omitempty"`
}

// CacheKey returns the stable string a caller uses to decide whether an
// existing executor instance may be reused for cfg. It covers every input
// that affects executor identity.
func CacheKey(cfg models.SandboxConfig, allowlist []string) (string, error) {
	payload := cacheKeyPayload{Mode: cfg.Mode}
	switch {
	case cfg.Mode == models.SandboxOff || cfg.Mode == "":
		payload.Mode = models.SandboxOff
		payload.Allowlist = allowlist
	case usesVibebox(cfg):
		payload.Vibebox = cfg.Vibebox
	default:
		cfgCopy := cfg
		payload.Container = &cfgCopy
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// dispatchExec runs params against whichever backend cfg selects: HostExec
// for off, the vibebox bridge when configured, or a container exec
// backend otherwise.
func dispatchExec(ctx context.Context, cfg models.SandboxConfig, workspaceDir string, allowlist []string, params ExecParams) (*ExecOutput, error) {
	switch cfg.Mode {
	case models.SandboxOff, "":
		return NewHostExec(workspaceDir, allowlist).Run(ctx, params)
	case models.SandboxDocker, models.SandboxAppleVM:
		if usesVibebox(cfg) {
			return NewVibebox(vibeboxBinPath(cfg), string(cfg.Mode), workspaceDir).Exec(ctx, params)
		}
		return runContainerExec(ctx, cfg, workspaceDir, params)
	default:
		return nil, fmt.Errorf("sandbox: unknown mode %q", cfg.Mode)
	}
}
