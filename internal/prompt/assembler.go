// Package prompt assembles system prompts: it renders
// an agent's layered system prompt in a fixed section order from the
// files workspace.LoadWorkspace already reads, plus bootstrap and
// runtime-context sections this package adds.
package prompt

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/haasonsaas/mozi/internal/workspace"
)

// Mode selects which sections Assemble renders.
type Mode string

const (
	ModeMain            Mode = "main"
	ModeResetGreeting   Mode = "reset-greeting"
	ModeSubagentMinimal Mode = "subagent-minimal"
)

// LoadedFile records one workspace or home file that contributed content
// to the assembled prompt.
type LoadedFile struct {
	Name  string `json:"name"`
	Chars int    `json:"chars"`
}

// SkippedFile records one candidate file the assembler did not load, and
// why.
type SkippedFile struct {
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

// Sandbox describes the sandbox section of Runtime Context.
type Sandbox struct {
	WorkspaceDir string
	AccessLevel  string
}

// Skill is one entry in the Skills section listing.
type Skill struct {
	Name        string
	Description string
}

// Input is everything Assemble needs to build one prompt.
type Input struct {
	Mode Mode

	HomeDir      string
	WorkspaceDir string

	BasePrompt string

	Workspace *workspace.WorkspaceContext

	EnabledTools []string
	Skills       []Skill
	Sandbox      Sandbox
}

// Result is Assemble's output: the prompt string plus metadata about
// what was loaded.
type Result struct {
	Prompt       string
	Mode         Mode
	HomeDir      string
	WorkspaceDir string
	LoadedFiles  []LoadedFile
	SkippedFiles []SkippedFile
	PromptHash   string
	Bootstrap    bool
}

// coreConstraints is the fixed text of the Core Constraints section.
const coreConstraints = `You are a work assistant, not a chatbot.
If no outbound reply is needed, return the exact token NO_REPLY.
Silent token: NO_REPLY`

// promptPrecedence is the fixed numbered resolution order.
const promptPrecedence = `1. Core Constraints
2. Identity & Persona (SOUL.md, IDENTITY.md, USER.md, MEMORY.md)
3. Project & Workspace Rules
4. Runtime Context
5. Skills`

// Assemble renders the system prompt for one binding.
func Assemble(in Input) Result {
	res := Result{Mode: in.Mode, HomeDir: in.HomeDir, WorkspaceDir: in.WorkspaceDir}
	if res.Mode == "" {
		res.Mode = ModeMain
	}

	res.Bootstrap = bootstrapFileExists(in.HomeDir)

	var sections []string

	sections = append(sections, "# Core Constraints\n"+coreConstraints)
	sections = append(sections, "# Prompt Precedence\n"+promptPrecedence)

	if base := strings.TrimSpace(sanitizeLiteral(in.BasePrompt)); base != "" {
		sections = append(sections, "# Runtime Base Prompt\n"+base)
		res.LoadedFiles = append(res.LoadedFiles, LoadedFile{Name: "basePrompt", Chars: len(base)})
	}

	if section, ok := projectWorkspaceSection(in, &res); ok {
		sections = append(sections, section)
	}

	if res.Mode != ModeSubagentMinimal {
		if section, ok := identityPersonaSection(in, &res); ok {
			sections = append(sections, section)
		}
	}

	sections = append(sections, runtimeContextSection(in, &res))

	if section, ok := skillsSection(in); ok {
		sections = append(sections, section)
	}

	res.Prompt = strings.Join(sections, "\n\n")
	res.PromptHash = promptHash(res.Prompt)
	return res
}

func projectWorkspaceSection(in Input, res *Result) (string, bool) {
	var parts []string

	if in.Workspace != nil {
		if agents := strings.TrimSpace(sanitizeLiteral(in.Workspace.AgentsContent)); agents != "" {
			parts = append(parts, "## AGENTS.md\n"+agents)
			res.LoadedFiles = append(res.LoadedFiles, LoadedFile{Name: "AGENTS.md", Chars: len(agents)})
		} else {
			res.SkippedFiles = append(res.SkippedFiles, SkippedFile{Name: "AGENTS.md", Reason: "empty or absent"})
		}
	}

	if names, content := loadWorkspaceFiles(in.WorkspaceDir, res); content != "" {
		_ = names
		parts = append(parts, content)
	}

	if in.Mode != ModeResetGreeting {
		if heartbeat, ok := loadOptionalHomeFile(in.HomeDir, "HEARTBEAT.md", res); ok {
			parts = append(parts, "## HEARTBEAT.md\n"+heartbeat)
		}
	} else {
		res.SkippedFiles = append(res.SkippedFiles, SkippedFile{Name: "HEARTBEAT.md", Reason: "reset-greeting mode omits heartbeat"})
	}

	if len(parts) == 0 {
		return "", false
	}
	return "# Project & Workspace Rules\n" + strings.Join(parts, "\n\n"), true
}

// loadWorkspaceFiles scans workspaceDir for extra markdown files beyond the
// fixed set the workspace loader already reads, so operators can drop
// project-specific notes in the workspace root.
func loadWorkspaceFiles(workspaceDir string, res *Result) ([]string, string) {
	if workspaceDir == "" {
		return nil, ""
	}
	entries, err := os.ReadDir(workspaceDir)
	if err != nil {
		return nil, ""
	}
	known := map[string]bool{
		"AGENTS.md": true, "SOUL.md": true, "USER.md": true, "IDENTITY.md": true,
		"TOOLS.md": true, "MEMORY.md": true, "HEARTBEAT.md": true, "BOOTSTRAP.md": true,
	}
	var names []string
	var parts []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") || known[e.Name()] {
			continue
		}
		data, err := os.ReadFile(filepath.Join(workspaceDir, e.Name()))
		if err != nil {
			res.SkippedFiles = append(res.SkippedFiles, SkippedFile{Name: e.Name(), Reason: "read error"})
			continue
		}
		content := strings.TrimSpace(sanitizeLiteral(string(data)))
		if content == "" {
			continue
		}
		names = append(names, e.Name())
		parts = append(parts, fmt.Sprintf("## %s\n%s", e.Name(), content))
		res.LoadedFiles = append(res.LoadedFiles, LoadedFile{Name: e.Name(), Chars: len(content)})
	}
	sort.Strings(names)
	return names, strings.Join(parts, "\n\n")
}

func identityPersonaSection(in Input, res *Result) (string, bool) {
	var parts []string

	if in.Workspace != nil {
		soul := strings.TrimSpace(sanitizeLiteral(in.Workspace.SoulContent))
		if soul != "" {
			parts = append(parts, "## SOUL.md\n"+soul)
			res.LoadedFiles = append(res.LoadedFiles, LoadedFile{Name: "SOUL.md", Chars: len(soul)})
		}
		identity := strings.TrimSpace(sanitizeLiteral(in.Workspace.IdentityContent))
		if identity != "" {
			parts = append(parts, "## IDENTITY.md\n"+identity)
			res.LoadedFiles = append(res.LoadedFiles, LoadedFile{Name: "IDENTITY.md", Chars: len(identity)})
		}
		user := strings.TrimSpace(sanitizeLiteral(in.Workspace.UserContent))
		if user != "" {
			parts = append(parts, "## USER.md\n"+user)
			res.LoadedFiles = append(res.LoadedFiles, LoadedFile{Name: "USER.md", Chars: len(user)})
		}
		if in.Mode != ModeResetGreeting {
			memory := strings.TrimSpace(sanitizeLiteral(in.Workspace.MemoryContent))
			if memory != "" {
				parts = append(parts, "## MEMORY.md\n"+memory)
				res.LoadedFiles = append(res.LoadedFiles, LoadedFile{Name: "MEMORY.md", Chars: len(memory)})
			}
		} else {
			res.SkippedFiles = append(res.SkippedFiles, SkippedFile{Name: "MEMORY.md", Reason: "reset-greeting mode omits memory"})
		}
	}

	if len(parts) == 0 {
		return "", false
	}
	return "# Identity & Persona\n" + strings.Join(parts, "\n\n"), true
}

func runtimeContextSection(in Input, res *Result) string {
	var lines []string

	if res.Bootstrap {
		lines = append(lines, "Bootstrap Mode: this workspace was just initialized; verify AGENTS.md, SOUL.md, USER.md, and IDENTITY.md before relying on them.")
	}

	if len(in.EnabledTools) > 0 {
		tools := append([]string(nil), in.EnabledTools...)
		sort.Strings(tools)
		lines = append(lines, "Tools: "+strings.Join(tools, ", "))
	}

	access := in.Sandbox.AccessLevel
	if access == "" {
		access = "none"
	}
	lines = append(lines, fmt.Sprintf("Sandbox: workspace=%s access=%s", in.Sandbox.WorkspaceDir, access))

	return "# Runtime Context\n" + strings.Join(lines, "\n")
}

func skillsSection(in Input) (string, bool) {
	if len(in.Skills) == 0 {
		return "", false
	}

	lines := []string{
		"Scan the available skills below and use the most relevant one.",
		"Before using a skill, check for local experience notes in home/skills/<skill>.md if present.",
	}
	if containsTool(in.EnabledTools, "skills_note") {
		lines = append(lines, "After using a skill, record key learnings with the skills_note tool.")
	}

	skills := append([]Skill(nil), in.Skills...)
	sort.Slice(skills, func(i, j int) bool { return skills[i].Name < skills[j].Name })
	for _, s := range skills {
		if s.Description != "" {
			lines = append(lines, fmt.Sprintf("- %s: %s", s.Name, s.Description))
		} else {
			lines = append(lines, fmt.Sprintf("- %s", s.Name))
		}
	}

	return "# Skills\n" + strings.Join(lines, "\n"), true
}

func containsTool(tools []string, name string) bool {
	for _, t := range tools {
		if t == name {
			return true
		}
	}
	return false
}

func loadOptionalHomeFile(homeDir, name string, res *Result) (string, bool) {
	if homeDir == "" {
		return "", false
	}
	data, err := os.ReadFile(filepath.Join(homeDir, name))
	if err != nil {
		if !os.IsNotExist(err) {
			res.SkippedFiles = append(res.SkippedFiles, SkippedFile{Name: name, Reason: "read error"})
		}
		return "", false
	}
	content := strings.TrimSpace(sanitizeLiteral(string(data)))
	if content == "" {
		return "", false
	}
	res.LoadedFiles = append(res.LoadedFiles, LoadedFile{Name: name, Chars: len(content)})
	return content, true
}

func bootstrapFileExists(homeDir string) bool {
	if homeDir == "" {
		return false
	}
	_, err := os.Stat(filepath.Join(homeDir, "BOOTSTRAP.md"))
	return err == nil
}

// sanitizeLiteral strips control characters and bidi-override characters
// from channel/workspace literals before they're embedded in a prompt.
func sanitizeLiteral(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r == '\n' || r == '\t':
			b.WriteRune(r)
		case r < 0x20 || r == 0x7f:
			continue
		case isBidiOverride(r):
			continue
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// isBidiOverride reports whether r is one of the Unicode bidirectional
// control/override characters (U+202A-U+202E, U+2066-U+2069) commonly
// used to visually disguise text.
func isBidiOverride(r rune) bool {
	switch r {
	case 0x202A, 0x202B, 0x202C, 0x202D, 0x202E, 0x2066, 0x2067, 0x2068, 0x2069:
		return true
	default:
		return false
	}
}

// promptHash is a 12-lowercase-hex-char digest of the assembled prompt.
func promptHash(prompt string) string {
	sum := sha256.Sum256([]byte(prompt))
	return hex.EncodeToString(sum[:])[:12]
}

// ChannelContextFields is the shape appended once per session on first
// inbound message.
type ChannelContextFields struct {
	Channel    string
	PeerType   string
	PeerID     string
	AccountID  string
	ThreadID   string
	SenderID   string
	SenderName string
	Timestamp  time.Time
}

// RenderChannelContext renders the `# Channel Context` block, sanitizing
// every literal field the same way Assemble does.
func RenderChannelContext(f ChannelContextFields) string {
	lines := []string{
		"channel: " + sanitizeLiteral(f.Channel),
		"peerType: " + sanitizeLiteral(f.PeerType),
		"peerId: " + sanitizeLiteral(f.PeerID),
	}
	if f.AccountID != "" {
		lines = append(lines, "accountId: "+sanitizeLiteral(f.AccountID))
	}
	if f.ThreadID != "" {
		lines = append(lines, "threadId: "+sanitizeLiteral(f.ThreadID))
	}
	if f.SenderID != "" {
		lines = append(lines, "senderId: "+sanitizeLiteral(f.SenderID))
	}
	if f.SenderName != "" {
		lines = append(lines, "senderName: "+sanitizeLiteral(f.SenderName))
	}
	lines = append(lines, "timestamp: "+f.Timestamp.UTC().Format(time.RFC3339))
	return "# Channel Context\n" + strings.Join(lines, "\n")
}
