package prompt

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/haasonsaas/mozi/internal/workspace"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestAssemble_SectionOrderAndOmission(t *testing.T) {
	homeDir := t.TempDir()
	workspaceDir := t.TempDir()

	writeFile(t, workspaceDir, "AGENTS.md", "Follow the rules.")
	writeFile(t, workspaceDir, "SOUL.md", "Be concise.")
	writeFile(t, workspaceDir, "USER.md", "- Name: Alex")
	writeFile(t, workspaceDir, "IDENTITY.md", "- Name: Mozi")
	writeFile(t, workspaceDir, "MEMORY.md", "Remembers things.")

	ws, err := workspace.LoadWorkspace(workspace.LoaderConfig{Root: workspaceDir})
	if err != nil {
		t.Fatalf("LoadWorkspace: %v", err)
	}

	res := Assemble(Input{
		Mode:         ModeMain,
		HomeDir:      homeDir,
		WorkspaceDir: workspaceDir,
		BasePrompt:   "You help with coding.",
		Workspace:    ws,
		EnabledTools: []string{"exec", "grep"},
		Sandbox:      Sandbox{WorkspaceDir: workspaceDir, AccessLevel: "rw"},
	})

	wantOrder := []string{
		"# Core Constraints",
		"# Prompt Precedence",
		"# Runtime Base Prompt",
		"# Project & Workspace Rules",
		"# Identity & Persona",
		"# Runtime Context",
	}
	lastIdx := -1
	for _, header := range wantOrder {
		idx := strings.Index(res.Prompt, header)
		if idx == -1 {
			t.Fatalf("expected prompt to contain %q, got:\n%s", header, res.Prompt)
		}
		if idx <= lastIdx {
			t.Fatalf("expected %q to appear after previous section", header)
		}
		lastIdx = idx
	}

	if strings.Contains(res.Prompt, "# Skills") {
		t.Fatal("expected Skills section omitted when no skills supplied")
	}
	if len(res.PromptHash) != 12 {
		t.Fatalf("expected 12-char promptHash, got %q", res.PromptHash)
	}
	if res.Bootstrap {
		t.Fatal("expected bootstrap false without BOOTSTRAP.md")
	}
}

func TestAssemble_BootstrapDetection(t *testing.T) {
	homeDir := t.TempDir()
	writeFile(t, homeDir, "BOOTSTRAP.md", "seed")

	res := Assemble(Input{HomeDir: homeDir})
	if !res.Bootstrap {
		t.Fatal("expected bootstrap true when BOOTSTRAP.md is present")
	}
	if !strings.Contains(res.Prompt, "Bootstrap Mode") {
		t.Fatal("expected Runtime Context to mention Bootstrap Mode")
	}
}

func TestAssemble_ResetGreetingOmitsMemoryAndHeartbeat(t *testing.T) {
	homeDir := t.TempDir()
	workspaceDir := t.TempDir()
	writeFile(t, workspaceDir, "SOUL.md", "Be concise.")
	writeFile(t, workspaceDir, "MEMORY.md", "Secret memory content.")
	writeFile(t, homeDir, "HEARTBEAT.md", "Heartbeat instructions.")

	ws, err := workspace.LoadWorkspace(workspace.LoaderConfig{Root: workspaceDir})
	if err != nil {
		t.Fatalf("LoadWorkspace: %v", err)
	}

	res := Assemble(Input{Mode: ModeResetGreeting, HomeDir: homeDir, WorkspaceDir: workspaceDir, Workspace: ws})
	if strings.Contains(res.Prompt, "Secret memory content.") {
		t.Fatal("expected reset-greeting mode to omit MEMORY.md content")
	}
	if strings.Contains(res.Prompt, "Heartbeat instructions.") {
		t.Fatal("expected reset-greeting mode to omit HEARTBEAT.md content")
	}
	if !strings.Contains(res.Prompt, "Be concise.") {
		t.Fatal("expected reset-greeting mode to retain SOUL.md content")
	}
}

func TestAssemble_SubagentMinimalOmitsIdentityPersona(t *testing.T) {
	workspaceDir := t.TempDir()
	writeFile(t, workspaceDir, "SOUL.md", "Be concise.")
	ws, err := workspace.LoadWorkspace(workspace.LoaderConfig{Root: workspaceDir})
	if err != nil {
		t.Fatalf("LoadWorkspace: %v", err)
	}

	res := Assemble(Input{Mode: ModeSubagentMinimal, WorkspaceDir: workspaceDir, Workspace: ws})
	if strings.Contains(res.Prompt, "# Identity & Persona") {
		t.Fatal("expected subagent-minimal mode to omit Identity & Persona section entirely")
	}
}

func TestAssemble_SkillsSectionListsSkillsNoteWhenToolEnabled(t *testing.T) {
	res := Assemble(Input{
		EnabledTools: []string{"skills_note"},
		Skills:       []Skill{{Name: "deploy", Description: "deploy the app"}},
	})
	if !strings.Contains(res.Prompt, "# Skills") {
		t.Fatal("expected Skills section present")
	}
	if !strings.Contains(res.Prompt, "record key learnings with the skills_note tool") {
		t.Fatal("expected skills_note instruction when tool enabled")
	}
	if !strings.Contains(res.Prompt, "- deploy: deploy the app") {
		t.Fatal("expected skill listing entry")
	}
}

func TestSanitizeLiteral_StripsControlAndBidiChars(t *testing.T) {
	input := "hello‮world\x07!"
	got := sanitizeLiteral(input)
	if strings.ContainsRune(got, 0x202e) {
		t.Fatal("expected bidi override character stripped")
	}
	if strings.ContainsRune(got, 0x07) {
		t.Fatal("expected control character stripped")
	}
	if got != "helloworld!" {
		t.Fatalf("unexpected sanitized output: %q", got)
	}
}

func TestRenderChannelContext(t *testing.T) {
	ts := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	out := RenderChannelContext(ChannelContextFields{
		Channel:  "telegram",
		PeerType: "dm",
		PeerID:   "123",
		SenderID: "u1",
		Timestamp: ts,
	})
	if !strings.HasPrefix(out, "# Channel Context") {
		t.Fatal("expected Channel Context header")
	}
	if !strings.Contains(out, "channel: telegram") || !strings.Contains(out, "peerId: 123") {
		t.Fatalf("unexpected channel context output: %q", out)
	}
	if !strings.Contains(out, "2026-07-31T12:00:00Z") {
		t.Fatalf("expected ISO-8601 timestamp, got %q", out)
	}
}
