package sandbox

import (
	"context"
	"os/exec"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/haasonsaas/mozi/pkg/models"
)

var containerDockerCheck struct {
	once sync.Once
	err  error
}

func requireContainerDocker(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping docker container exec integration test in short mode")
	}

	containerDockerCheck.once.Do(func() {
		if _, err := exec.LookPath("docker"); err != nil {
			containerDockerCheck.err = err
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := exec.CommandContext(ctx, "docker", "info").Run(); err != nil {
			containerDockerCheck.err = err
			return
		}
	})

	if containerDockerCheck.err != nil {
		t.Skipf("docker not available for tests: %v", containerDockerCheck.err)
	}
}

func TestRunContainerExec_RejectsNonDockerMode(t *testing.T) {
	_, err := runContainerExec(context.Background(), models.SandboxConfig{Mode: models.SandboxAppleVM}, "", ExecParams{Command: "true"})
	if err == nil || !strings.Contains(err.Error(), "vibebox") {
		t.Fatalf("expected a vibebox-bridge error, got %v", err)
	}
}

func TestRunContainerExec_RejectsMissingImage(t *testing.T) {
	_, err := runContainerExec(context.Background(), models.SandboxConfig{Mode: models.SandboxDocker}, "", ExecParams{Command: "true"})
	if err == nil || !strings.Contains(err.Error(), "no image configured") {
		t.Fatalf("expected a no-image-configured error, got %v", err)
	}
}

func TestRunContainerExec_RunsCommandInContainer(t *testing.T) {
	requireContainerDocker(t)

	cfg := models.SandboxConfig{Mode: models.SandboxDocker, Image: "bash:5-alpine", Network: "none"}
	out, err := runContainerExec(context.Background(), cfg, "", ExecParams{Command: "echo hello"})
	if err != nil {
		t.Fatalf("runContainerExec: %v", err)
	}
	if strings.TrimSpace(out.Stdout) != "hello" {
		t.Fatalf("expected stdout %q, got %q", "hello", out.Stdout)
	}
	if out.ExitCode != 0 {
		t.Fatalf("expected exit code 0, got %d", out.ExitCode)
	}
}

func TestRunContainerExec_CapturesNonZeroExitCode(t *testing.T) {
	requireContainerDocker(t)

	cfg := models.SandboxConfig{Mode: models.SandboxDocker, Image: "bash:5-alpine", Network: "none"}
	out, err := runContainerExec(context.Background(), cfg, "", ExecParams{Command: "exit 7"})
	if err != nil {
		t.Fatalf("runContainerExec: %v", err)
	}
	if out.ExitCode != 7 {
		t.Fatalf("expected exit code 7, got %d", out.ExitCode)
	}
}
