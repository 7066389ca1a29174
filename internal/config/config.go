// Package config implements the configuration store: the single
// source of declared agents, models, capability profiles, and sandbox
// defaults, loaded from a JSONC document with $include resolution,
// environment substitution, and schema validation, and mutated only
// through atomic, optimistically-locked writes.
package config

import (
	"github.com/haasonsaas/mozi/pkg/models"
)

// Config is the root configuration document: agents, models, capability
// profiles, and sandbox defaults collected under one root.
type Config struct {
	Paths   PathsConfig   `json:"paths"`
	Logging LoggingConfig `json:"logging"`

	Agents       map[string]models.AgentConfig       `json:"agents"`
	Models       map[string]models.ModelSpec         `json:"models"`
	Capabilities map[string]models.CapabilityProfile `json:"capabilities"`

	Secrets   SecretsConfig   `json:"secrets"`
	Workspace WorkspaceConfig `json:"workspace"`
	Channels  ChannelsConfig  `json:"channels"`
	LLM       LLMConfig       `json:"llm"`
	Database  DatabaseConfig  `json:"database"`
	Auth      AuthConfig      `json:"auth"`
	Edge      EdgeConfig      `json:"edge"`
	Sandbox   SandboxConfig   `json:"sandbox"`
	Runtime   RuntimeConfig   `json:"runtime"`
}

// PathsConfig names the on-disk layout roots, with `~` expanded to the
// user's home directory at load time.
type PathsConfig struct {
	BaseDir      string `json:"baseDir"`
	SessionsDir  string `json:"sessionsDir"`
	WorkspaceDir string `json:"workspaceDir"`
}

// LoggingConfig configures the ambient slog handler.
type LoggingConfig struct {
	Level string `json:"level"`
}

// SecretsConfig names where the secret broker finds its master
// key; the key material itself is never stored in the config document.
type SecretsConfig struct {
	MasterKeyEnvVar string `json:"masterKeyEnvVar"`
	StorePath       string `json:"storePath"`
}

// WorkspaceConfig names the per-agent identity files the prompt
// assembler and workspace loader read, relative to an agent's home
// directory.
type WorkspaceConfig struct {
	Path         string `json:"path"`
	AgentsFile   string `json:"agentsFile"`
	SoulFile     string `json:"soulFile"`
	UserFile     string `json:"userFile"`
	IdentityFile string `json:"identityFile"`
	ToolsFile    string `json:"toolsFile"`
	MemoryFile   string `json:"memoryFile"`
}

// ChannelPolicyConfig governs who may reach an agent through one channel's
// direct-message or group surface.
type ChannelPolicyConfig struct {
	Policy string `json:"policy"` // "open", "allowlist", "closed"
}

// ChannelConfig is the shared shape of one channel adapter's declared
// credentials and peer policy. The core never speaks the channel's wire
// protocol; it only carries the adapter's declared config through the
// doctor/audit checks.
type ChannelConfig struct {
	Enabled       bool                `json:"enabled"`
	BotToken      string              `json:"botToken,omitempty"`
	AppToken      string              `json:"appToken,omitempty"`
	AppID         string              `json:"appId,omitempty"`
	SigningSecret string              `json:"signingSecret,omitempty"`
	DM            ChannelPolicyConfig `json:"dm"`
	Group         ChannelPolicyConfig `json:"group"`
}

// ChannelsConfig declares the channel adapters the runtime dispatches
// through, referenced only via the narrow interface the core consumes.
type ChannelsConfig struct {
	Telegram ChannelConfig `json:"telegram"`
	Discord  ChannelConfig `json:"discord"`
	Slack    ChannelConfig `json:"slack"`
	WhatsApp ChannelConfig `json:"whatsapp"`
	Signal   ChannelConfig `json:"signal"`
	IMessage ChannelConfig `json:"imessage"`
	Matrix   ChannelConfig `json:"matrix"`
	Teams    ChannelConfig `json:"teams"`
}

// ProviderConfig is one LLM provider's declared credentials, consulted by
// the audit checks for hardcoded-secret detection; the runtime core never
// itself dials the provider.
type ProviderConfig struct {
	APIKey  string `json:"apiKey,omitempty"`
	BaseURL string `json:"baseUrl,omitempty"`
}

// LLMConfig declares the catalog of reachable model providers.
type LLMConfig struct {
	Providers map[string]ProviderConfig `json:"providers"`
}

// DatabaseConfig names an optional external store collaborators may use;
// the core's own persistence is file-based.
type DatabaseConfig struct {
	URL string `json:"url,omitempty"`
}

// OAuthProviderConfig is one OAuth login provider's declared client secret.
type OAuthProviderConfig struct {
	ClientID     string `json:"clientId,omitempty"`
	ClientSecret string `json:"clientSecret,omitempty"`
}

// OAuthConfig declares the collaborator-facing login providers.
type OAuthConfig struct {
	Google OAuthProviderConfig `json:"google"`
	GitHub OAuthProviderConfig `json:"github"`
}

// AuthConfig is the ambient auth surface outside the runtime core,
// carried only so the doctor/audit checks have somewhere to look.
type AuthConfig struct {
	OAuth OAuthConfig `json:"oauth"`
}

// EdgeConfig declares an optional remote-control listener; "dev" auth mode
// is the insecure default the doctor flags.
type EdgeConfig struct {
	Enabled  bool     `json:"enabled"`
	AuthMode string   `json:"authMode,omitempty"` // "dev", "token", "tofu"
	Tokens   []string `json:"tokens,omitempty"`
}

// SandboxConfig is the runtime-wide default toggle consulted when an
// agent's own models.SandboxConfig leaves mode unset; it is distinct from
// the per-agent config.
type SandboxConfig struct {
	Enabled bool   `json:"enabled"`
	Mode    string `json:"mode,omitempty"`  // "all", "non-main"
	Scope   string `json:"scope,omitempty"` // "agent", "session", "shared"
}

// RuntimeConfig carries cross-cutting knobs that do not belong to any
// single component: the default auth scope for exec-tool secret
// references and whether tool JSON Schemas of Gemini models are passed
// through the Gemini-compatibility sanitizer (on unless explicitly false;
// non-Gemini models are never sanitized).
type RuntimeConfig struct {
	AuthDefaultScope   string `json:"authDefaultScope,omitempty"`
	SanitizeToolSchema *bool  `json:"sanitizeToolSchema,omitempty"`
	MaxTotalBytes      int64  `json:"maxTotalBytes,omitempty"`
}

// Default returns a Config with the documented defaults applied: paths.*,
// logging.level, and runtime settings. Paths keep their leading `~`; the
// loader expands it.
func Default() *Config {
	return &Config{
		Paths: PathsConfig{
			BaseDir:      "~/.mozi",
			SessionsDir:  "~/.mozi/sessions",
			WorkspaceDir: "~/.mozi/workspace",
		},
		Logging: LoggingConfig{Level: "info"},
		Secrets: SecretsConfig{
			MasterKeyEnvVar: "MOZI_MASTER_KEY",
			StorePath:       "~/.mozi/secrets.json",
		},
		Workspace: WorkspaceConfig{
			AgentsFile:   "AGENTS.md",
			SoulFile:     "SOUL.md",
			UserFile:     "USER.md",
			IdentityFile: "IDENTITY.md",
			ToolsFile:    "TOOLS.md",
			MemoryFile:   "MEMORY.md",
		},
		Runtime: RuntimeConfig{
			AuthDefaultScope: "agent",
			MaxTotalBytes:    20 * 1024 * 1024,
		},
		Agents:       map[string]models.AgentConfig{},
		Models:       map[string]models.ModelSpec{},
		Capabilities: map[string]models.CapabilityProfile{},
	}
}

// sensitiveFieldSuffixes names the field-name endings the redaction
// sentinel applies to.
var sensitiveFieldSuffixes = []string{"apiKey", "APIKey", "botToken", "BotToken", "appToken", "AppToken", "signingSecret", "SigningSecret", "secret", "Secret", "credentials", "Credentials", "clientSecret", "ClientSecret"}

// isSensitiveField reports whether name should be treated as a redactable
// secret-bearing field.
func isSensitiveField(name string) bool {
	for _, suffix := range sensitiveFieldSuffixes {
		if len(name) >= len(suffix) && name[len(name)-len(suffix):] == suffix {
			return true
		}
	}
	return false
}
