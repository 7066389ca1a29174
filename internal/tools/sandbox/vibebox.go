package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/haasonsaas/mozi/pkg/models"
)

// DefaultVibeboxBinPath is the bridge binary name used when a
// VibeboxConfig does not override it.
const DefaultVibeboxBinPath = "vibebox"

// vibeboxResponse is the bridge's stdout JSON contract.
type vibeboxResponse struct {
	OK          bool            `json:"ok"`
	Error       string          `json:"error,omitempty"`
	Selected    string          `json:"selected,omitempty"`
	Diagnostics json.RawMessage `json:"diagnostics,omitempty"`
	Stdout      string          `json:"stdout,omitempty"`
	Stderr      string          `json:"stderr,omitempty"`
	ExitCode    int             `json:"exitCode,omitempty"`
}

// VibeboxError carries the bridge's distinguishable failure surface:
// command, args, exit code, stderr, and recovery hints.
type VibeboxError struct {
	Command  string
	Args     []string
	ExitCode int
	Stderr   string
	Hints    []string
	Reason   string
}

func (e *VibeboxError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("vibebox: %s (command=%q exitCode=%d)", e.Reason, e.Command, e.ExitCode)
	}
	return fmt.Sprintf("vibebox: command failed (command=%q exitCode=%d stderr=%q)", e.Command, e.ExitCode, e.Stderr)
}

// FixHints returns the error's recovery hints, surfaced to the caller.
func (e *VibeboxError) FixHints() []string { return e.Hints }

// Vibebox drives an external bridge process, used when a docker or
// apple-vm sandbox has sandbox.vibebox.enabled set. That flag is the only
// setting that selects the bridge; there is no separate backend selector.
type Vibebox struct {
	BinPath     string
	Provider    string
	ProjectRoot string
	Timeout     time.Duration
}

// NewVibebox constructs a Vibebox bridge client. An empty binPath falls
// back to DefaultVibeboxBinPath.
func NewVibebox(binPath, provider, projectRoot string) *Vibebox {
	if binPath == "" {
		binPath = DefaultVibeboxBinPath
	}
	return &Vibebox{BinPath: binPath, Provider: provider, ProjectRoot: projectRoot, Timeout: HostExecDefaultTimeout}
}

// Probe invokes the bridge's `probe` subcommand. mode is the backend mode
// (docker or apple-vm) the bridge is fronting, echoed back in the result.
func (v *Vibebox) Probe(ctx context.Context, mode models.SandboxMode) (*ProbeResult, error) {
	resp, err := v.invoke(ctx, "probe", ExecParams{})
	if err != nil {
		return nil, err
	}
	if !resp.OK {
		return &ProbeResult{OK: false, Mode: mode, Message: resp.Error, Hints: hintsFromDiagnostics(resp.Diagnostics)}, nil
	}
	return &ProbeResult{OK: true, Mode: mode, Message: resp.Selected}, nil
}

// Exec invokes the bridge's `exec` subcommand with the command, cwd, env,
// and timeout the exec tool resolved.
func (v *Vibebox) Exec(ctx context.Context, params ExecParams) (*ExecOutput, error) {
	resp, err := v.invoke(ctx, "exec", params)
	if err != nil {
		return nil, err
	}
	if !resp.OK {
		hints := hintsFromDiagnostics(resp.Diagnostics)
		return nil, &VibeboxError{
			Command:  params.Command,
			ExitCode: resp.ExitCode,
			Stderr:   resp.Stderr,
			Hints:    hints,
			Reason:   resp.Error,
		}
	}
	return &ExecOutput{Stdout: resp.Stdout, Stderr: resp.Stderr, ExitCode: resp.ExitCode}, nil
}

// invoke runs the bridge binary with the given subcommand and parses its
// JSON stdout. Empty stdout and non-JSON stdout are separate failures; an
// ok=false response is returned for the caller to handle, and no field is
// checked for presence.
func (v *Vibebox) invoke(ctx context.Context, subcommand string, params ExecParams) (*vibeboxResponse, error) {
	timeout := v.Timeout
	if timeout <= 0 {
		timeout = HostExecDefaultTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := []string{subcommand, "--json"}
	if v.Provider != "" {
		args = append(args, "--provider", v.Provider)
	}
	if v.ProjectRoot != "" {
		args = append(args, "--project-root", v.ProjectRoot)
	}
	if subcommand == "exec" {
		args = append(args, "--command", params.Command)
		if params.Cwd != "" {
			args = append(args, "--cwd", params.Cwd)
		}
		for k, val := range params.Env {
			args = append(args, "--env", fmt.Sprintf("%s=%s", k, val))
		}
	}
	args = append(args, "--timeout", fmt.Sprintf("%d", timeout.Milliseconds()))

	cmd := exec.CommandContext(runCtx, v.BinPath, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	out := strings.TrimSpace(stdout.String())
	if out == "" {
		return nil, &VibeboxError{
			Command: v.BinPath, Args: args, Stderr: stderr.String(),
			Reason: "bridge produced no stdout",
		}
	}

	var resp vibeboxResponse
	if err := json.Unmarshal([]byte(out), &resp); err != nil {
		return nil, &VibeboxError{
			Command: v.BinPath, Args: args, Stderr: stderr.String(),
			Reason: "bridge stdout is not valid JSON",
		}
	}
	if runErr != nil && resp.ExitCode == 0 {
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			resp.ExitCode = exitErr.ExitCode()
		}
	}
	return &resp, nil
}

// hintsFromDiagnostics extracts a "hints" string array from the bridge's
// opaque diagnostics payload, if present, tolerating any other shape.
func hintsFromDiagnostics(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var shaped struct {
		Hints []string `json:"hints"`
	}
	if err := json.Unmarshal(raw, &shaped); err != nil {
		return nil
	}
	return shaped.Hints
}
