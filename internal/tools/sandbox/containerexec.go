package sandbox

import (
	"context"
	"fmt"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/haasonsaas/mozi/pkg/models"
)

// runContainerExec runs one shell command in a native docker/apple-vm
// container: creates the container with
// workspace mount, env, network, image, and workdir, starts it, waits for
// the command to exit, and collects its demuxed stdout/stderr before
// removing it. apple-vm is not natively drivable from this process without
// the vibebox bridge or an Apple Virtualization.framework binding
// unavailable in the example pack, so it is only reachable here via the
// vibebox path (see dispatchExec); this function backs the docker mode.
func runContainerExec(ctx context.Context, cfg models.SandboxConfig, workspaceDir string, params ExecParams) (*ExecOutput, error) {
	if cfg.Mode != models.SandboxDocker {
		return nil, fmt.Errorf("sandbox: apple-vm backend requires a vibebox bridge (set sandbox.vibebox.enabled)")
	}
	if cfg.Image == "" {
		return nil, fmt.Errorf("sandbox: no image configured for docker backend")
	}

	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("sandbox: create docker client: %w", err)
	}
	defer cli.Close()

	runCtx, cancel := context.WithTimeout(ctx, HostExecDefaultTimeout)
	defer cancel()

	containerConfig, hostConfig := buildContainerConfigs(cfg, workspaceDir, params)

	created, err := cli.ContainerCreate(runCtx, containerConfig, hostConfig, nil, nil, "")
	if err != nil {
		return nil, fmt.Errorf("sandbox: create container: %w", err)
	}
	containerID := created.ID
	defer func() {
		_ = cli.ContainerRemove(context.Background(), containerID, container.RemoveOptions{Force: true, RemoveVolumes: true})
	}()

	if err := cli.ContainerStart(runCtx, containerID, container.StartOptions{}); err != nil {
		return nil, fmt.Errorf("sandbox: start container: %w", err)
	}

	statusCh, errCh := cli.ContainerWait(runCtx, containerID, container.WaitConditionNotRunning)
	var exitCode int
	select {
	case err := <-errCh:
		if err != nil {
			return nil, fmt.Errorf("sandbox: wait for container: %w", err)
		}
	case status := <-statusCh:
		exitCode = int(status.StatusCode)
	}

	logs, err := cli.ContainerLogs(runCtx, containerID, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return nil, fmt.Errorf("sandbox: read container logs: %w", err)
	}
	defer logs.Close()

	var stdout, stderr strings.Builder
	if _, err := stdcopy.StdCopy(&stdout, &stderr, logs); err != nil {
		return nil, fmt.Errorf("sandbox: demux container logs: %w", err)
	}

	return &ExecOutput{Stdout: stdout.String(), Stderr: stderr.String(), ExitCode: exitCode}, nil
}

func buildContainerConfigs(cfg models.SandboxConfig, workspaceDir string, params ExecParams) (*container.Config, *container.HostConfig) {
	containerConfig := &container.Config{
		Image: cfg.Image,
		Cmd:   []string{"sh", "-c", params.Command},
	}
	if params.Cwd != "" {
		containerConfig.WorkingDir = params.Cwd
	} else if workspaceDir != "" && cfg.WorkspaceAccess != models.WorkspaceAccessNone {
		containerConfig.WorkingDir = "/workspace"
	}

	env := make([]string, 0, len(cfg.Env)+len(params.Env))
	for k, v := range cfg.Env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	for k, v := range params.Env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	containerConfig.Env = env

	networkMode := container.NetworkMode("none")
	if cfg.Network != "" && cfg.Network != "none" {
		networkMode = container.NetworkMode(cfg.Network)
	}

	hostConfig := &container.HostConfig{NetworkMode: networkMode}

	if workspaceDir != "" && cfg.WorkspaceAccess != models.WorkspaceAccessNone {
		hostConfig.Mounts = append(hostConfig.Mounts, mount.Mount{
			Type:     mount.TypeBind,
			Source:   workspaceDir,
			Target:   "/workspace",
			ReadOnly: cfg.WorkspaceAccess != models.WorkspaceAccessRW,
		})
	}
	for _, bind := range cfg.Mounts {
		hostConfig.Binds = append(hostConfig.Binds, bind)
	}

	return containerConfig, hostConfig
}
