package models

import "time"

// ThinkingLevel resolves per-session override, then agent config, then
// defaults.
type ThinkingLevel string

const (
	ThinkingNone   ThinkingLevel = "none"
	ThinkingLow    ThinkingLevel = "low"
	ThinkingMedium ThinkingLevel = "medium"
	ThinkingHigh   ThinkingLevel = "high"
)

// HeartbeatDescriptor is a declared, inert schedule hint carried on
// AgentConfig; the core does not itself run the heartbeat scheduler (that is
// ambient orchestration outside the 15 lettered components), but the
// Prompt Assembler surfaces HEARTBEAT.md and the descriptor is part of the
// persisted agent identity.
type HeartbeatDescriptor struct {
	Enabled  bool   `json:"enabled"`
	Interval string `json:"interval,omitempty"` // e.g. "15m"
}

// ContextPruningConfig carries the knobs consumed by the context pruner,
// attached per-agent so different agents can tune aggressiveness.
type ContextPruningConfig struct {
	SoftTrimRatio        float64  `json:"softTrimRatio,omitempty"`
	HardClearRatio       float64  `json:"hardClearRatio,omitempty"`
	KeepLastAssistants   int      `json:"keepLastAssistants,omitempty"`
	MinPrunableChars     int      `json:"minPrunableChars,omitempty"`
	SoftTrimMaxChars     int      `json:"softTrimMaxChars,omitempty"`
	SoftTrimHeadChars    int      `json:"softTrimHeadChars,omitempty"`
	SoftTrimTailChars    int      `json:"softTrimTailChars,omitempty"`
	ProtectedTools       []string `json:"protectedTools,omitempty"`
}

// AgentConfig is the persisted configuration for one declared agent.
type AgentConfig struct {
	ID   string `json:"id"`
	Main bool   `json:"main,omitempty"`

	HomeDir      string `json:"homeDir"`
	WorkspaceDir string `json:"workspaceDir"`

	BasePrompt string   `json:"basePrompt,omitempty"`
	Skills     []string `json:"skills,omitempty"`
	Tools      []string `json:"tools,omitempty"`

	Subagents SubagentPolicy `json:"subagents,omitempty"`

	Sandbox        SandboxConfig `json:"sandbox,omitempty"`
	ExecAllowlist  []string      `json:"execAllowlist,omitempty"`
	AllowedSecrets []string      `json:"allowedSecrets,omitempty"`

	Heartbeat HeartbeatDescriptor `json:"heartbeat,omitempty"`

	ThinkingLevel ThinkingLevel `json:"thinkingLevel,omitempty"`

	DefaultTimeoutSeconds int `json:"defaultTimeoutSeconds,omitempty"`

	ContextPruning ContextPruningConfig `json:"contextPruning,omitempty"`

	// LifecycleControlModel names a model for lifecycle-control turns, and
	// LifecycleFallbacks its fallbacks. Config validation checks that
	// LifecycleControlModel is declared; the runtime does not read either
	// field.
	LifecycleControlModel string   `json:"lifecycleControlModel,omitempty"`
	LifecycleFallbacks     []string `json:"lifecycleFallbacks,omitempty"`

	PrimaryModel   string   `json:"primaryModel"`
	FallbackModels []string `json:"fallbackModels,omitempty"`

	// ImageModelRouting names models preferred when a turn requires image
	// input, consulted by EnsureSessionModelForInput.
	ImageModelRouting []string `json:"imageModelRouting,omitempty"`
}

// SubagentPolicy governs which child agents a parent may spawn.
type SubagentPolicy struct {
	Allow []string `json:"allow,omitempty"`
}

// SandboxMode selects the sandbox executor backend.
type SandboxMode string

const (
	SandboxOff      SandboxMode = "off"
	SandboxDocker   SandboxMode = "docker"
	SandboxAppleVM  SandboxMode = "apple-vm"
)

// WorkspaceAccess controls how a sandbox backend mounts the agent's
// workspace.
type WorkspaceAccess string

const (
	WorkspaceAccessNone WorkspaceAccess = "none"
	WorkspaceAccessRO   WorkspaceAccess = "ro"
	WorkspaceAccessRW   WorkspaceAccess = "rw"
)

// VibeboxConfig describes the external vibebox bridge process.
type VibeboxConfig struct {
	Enabled bool   `json:"enabled,omitempty"`
	BinPath string `json:"binPath,omitempty"`
}

// SandboxConfig is the persisted sandbox configuration for one agent.
type SandboxConfig struct {
	Mode            SandboxMode     `json:"mode"`
	Vibebox         *VibeboxConfig  `json:"vibebox,omitempty"`
	WorkspaceAccess WorkspaceAccess `json:"workspaceAccess,omitempty"`
	Mounts          []string        `json:"mounts,omitempty"`
	Env             map[string]string `json:"env,omitempty"`
	Network         string          `json:"network,omitempty"`
	Image           string          `json:"image,omitempty"`
	AutoBootstrap   bool            `json:"autoBootstrap,omitempty"`
}

// InputModality is one of the channels a ModelSpec may accept as input or
// produce as output.
type InputModality string

const (
	ModalityText  InputModality = "text"
	ModalityImage InputModality = "image"
	ModalityAudio InputModality = "audio"
	ModalityVideo InputModality = "video"
	ModalityFile  InputModality = "file"
)

// ModelSpec describes one addressable model. The runtime core never
// speaks a wire protocol to a model: ModelSpec is handed to a
// collaborator-supplied ModelTransport.
type ModelSpec struct {
	ProviderID  string `json:"providerId"`
	ModelID     string `json:"modelId"`
	APIFamily   string `json:"apiFamily"`
	BaseURL     string `json:"baseUrl,omitempty"`
	Credentials string `json:"-"` // resolved via the Secret Broker, never serialized

	Headers map[string]string `json:"headers,omitempty"`

	ReasoningCapable bool            `json:"reasoningCapable,omitempty"`
	InputModalities  []InputModality `json:"inputModalities,omitempty"`

	ContextWindow  int `json:"contextWindow"`
	MaxOutputTokens int `json:"maxOutputTokens,omitempty"`
}

// SupportsModality reports whether m lists modality among its accepted
// inputs.
func (m ModelSpec) SupportsModality(modality InputModality) bool {
	for _, mm := range m.InputModalities {
		if mm == modality {
			return true
		}
	}
	return false
}

// SecretScope is the scope a Secret is stored and resolved under.
type SecretScope string

const (
	SecretScopeGlobal SecretScope = "global"
	SecretScopeAgent  SecretScope = "agent"
)

// Secret is one encrypted credential record managed by the secret
// broker.
type Secret struct {
	Name       string      `json:"name"`
	Scope      SecretScope `json:"scope"`
	AgentID    string      `json:"agentId,omitempty"` // set when Scope == SecretScopeAgent
	Ciphertext []byte      `json:"ciphertext"`
	Nonce      []byte      `json:"nonce"`
	CreatedAt  time.Time   `json:"createdAt"`
	UpdatedAt  time.Time   `json:"updatedAt"`
	LastUsedAt *time.Time  `json:"lastUsedAt,omitempty"`
}

// CapabilityKind discriminates the owner of a CapabilityProfile.
type CapabilityKind string

const (
	CapabilityChannel  CapabilityKind = "channel"
	CapabilityProvider CapabilityKind = "provider"
	CapabilityPolicy   CapabilityKind = "policy"
)

// ModalityLimits bounds one modality's acceptable input or output shape.
type ModalityLimits struct {
	Enabled          bool     `json:"enabled"`
	MaxBytes         *int64   `json:"maxBytes,omitempty"`
	MaxDurationMs    *int64   `json:"maxDurationMs,omitempty"`
	AcceptedMimeTypes []string `json:"acceptedMimeTypes,omitempty"`
}

// CapabilityProfile declares what one channel, provider, or policy allows
// per modality, for input and output independently.
type CapabilityProfile struct {
	ID    string         `json:"id"`
	Kind  CapabilityKind `json:"kind"`
	Input  map[InputModality]ModalityLimits `json:"input,omitempty"`
	Output map[InputModality]ModalityLimits `json:"output,omitempty"`
}
