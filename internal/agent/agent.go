// Package agent implements the agent registry: per-session agent/model
// bindings, modelRef resolution, context guardrails, tool allowlist
// building, persisted-context load, and the dispatch loop tool
// implementations run under. It is the integration point for the session
// store, payload sanitizer, context pruner, compactor, prompt assembler,
// and lifecycle bus.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/haasonsaas/mozi/internal/agents"
	"github.com/haasonsaas/mozi/internal/compaction"
	ctxprune "github.com/haasonsaas/mozi/internal/context"
	"github.com/haasonsaas/mozi/internal/lifecycle"
	"github.com/haasonsaas/mozi/internal/observability"
	"github.com/haasonsaas/mozi/internal/overflow"
	"github.com/haasonsaas/mozi/internal/prompt"
	"github.com/haasonsaas/mozi/internal/sanitize"
	"github.com/haasonsaas/mozi/internal/sessions"
	"github.com/haasonsaas/mozi/internal/tools/policy"
	"github.com/haasonsaas/mozi/internal/workspace"
	"github.com/haasonsaas/mozi/pkg/models"
)

// Tool is one LLM-callable action a bound agent may invoke during a turn.
type Tool interface {
	Name() string
	Description() string
	Schema() json.RawMessage
	Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error)
}

// ToolResult is the outcome of one Tool.Execute call, folded into a
// toolResult content block by the dispatch loop.
type ToolResult struct {
	Content string
	IsError bool
}

// schemaSanitizedTool wraps a Tool so its advertised JSON Schema passes
// through sanitize.SanitizeToolSchema before reaching the model, applied
// when shouldSanitizeTools is true for the binding's model. Execute
// behavior is unaffected: the sanitizer only
// narrows what the model is told the schema looks like.
type schemaSanitizedTool struct {
	Tool
}

func (t *schemaSanitizedTool) Schema() json.RawMessage {
	return sanitize.SanitizeToolSchema(t.Tool.Schema())
}

// CompletionRequest is one model-call request assembled by the dispatch
// loop from a session's pruned, sanitized context.
type CompletionRequest struct {
	Model    models.ModelSpec
	Messages []*models.Message
	Tools    []Tool
}

// CompletionChunk is one unit of a streamed model response. Text chunks are
// accumulated into the turn's assistant Message; a non-nil Error terminates
// the stream.
type CompletionChunk struct {
	Text  string
	Error error
	Done  bool
}

// ModelTransport is the collaborator-supplied boundary the registry calls
// to actually speak to a model provider. The runtime core
// never encodes a provider wire protocol itself.
type ModelTransport interface {
	Complete(ctx context.Context, req CompletionRequest) (<-chan CompletionChunk, error)
}

// SkillLoader is the collaborator-supplied boundary for skill
// markdown discovery. Assembling the `# Skills` prompt section consults it
// when non-nil; agents with no configured skills never need one.
type SkillLoader interface {
	LoadAll() ([]prompt.Skill, error)
}

// contextKey is an unexported type for values carried on a turn's context.
type contextKey int

const (
	sessionContextKey contextKey = iota
	toolPolicyContextKey
)

// toolPolicyValue bundles a resolver with the policy it must apply, stored
// together so a single context key round-trips both.
type toolPolicyValue struct {
	resolver *policy.Resolver
	policy   *policy.Policy
}

// WithToolPolicy returns a context carrying the tool-allowlist policy to
// enforce for the remainder of a turn, consulted by Runtime.Dispatch
// before invoking any Tool.
func WithToolPolicy(ctx context.Context, resolver *policy.Resolver, p *policy.Policy) context.Context {
	return context.WithValue(ctx, toolPolicyContextKey, toolPolicyValue{resolver: resolver, policy: p})
}

func toolPolicyFromContext(ctx context.Context) (*policy.Resolver, *policy.Policy, bool) {
	v, ok := ctx.Value(toolPolicyContextKey).(toolPolicyValue)
	if !ok || v.resolver == nil || v.policy == nil {
		return nil, nil, false
	}
	return v.resolver, v.policy, true
}

// SessionFromContext returns the Session bound to the current turn, or nil
// if none was attached (e.g. a context derived outside Runtime.Dispatch).
func SessionFromContext(ctx context.Context) *models.Session {
	s, _ := ctx.Value(sessionContextKey).(*models.Session)
	return s
}

// withSession returns a context carrying sess, consulted by
// SessionFromContext and by tools that need their owning session (e.g. to
// read AgentID for a spawned subagent's parent linkage).
func withSession(ctx context.Context, sess *models.Session) context.Context {
	return context.WithValue(ctx, sessionContextKey, sess)
}

// Binding is the resolved agent/model/tool/prompt state for one session,
// cached by the Runtime and discarded on a model switch that changes
// tool-sanitization requirements.
type Binding struct {
	AgentID string
	Session *models.Session

	Model         models.ModelSpec
	ModelSource   string // "session", "agentDefault", "fallback"
	ContextWindow agents.ContextWindowInfo

	AllowedTools []string

	SystemPrompt string
	PromptResult prompt.Result

	// Messages is the installed, persisted-and-sanitized message list the
	// binding was built with. Dispatch appends the turn's new messages
	// after this base.
	Messages []*models.Message

	// SanitizePolicy is the policy the binding's Messages were sanitized
	// under; Dispatch re-applies it to newly appended turn messages so the
	// transcript handed to the model stays internally consistent.
	SanitizePolicy sanitize.Policy

	ThinkingLevel models.ThinkingLevel
}

// ID returns the stable identity of a binding: its session key, the unit
// the registry indexes bindings and context metrics by.
func (b *Binding) ID() string {
	if b.Session == nil {
		return b.AgentID
	}
	return b.Session.SessionKey
}

// Model is a convenience alias so callers can write agent.Model in place of
// models.ModelSpec when only the Agent Registry's view of a model matters.
type Model = models.ModelSpec

// ModelResolver supplies the agent configs and model catalog the registry
// consults when resolving a modelRef: session override, then agent
// config, then image-input routing, then the fallback chain.
type ModelResolver interface {
	AgentConfig(agentID string) (*models.AgentConfig, bool)
	ModelByRef(ref string) (models.ModelSpec, bool)
}

// ErrNoModel is returned when no modelRef in the resolution chain resolves
// to a known model.
var ErrNoModel = fmt.Errorf("agent: no model resolved")

// ErrContextWindowTooSmall is returned by HandleInbound when the resolved
// model's context window is below the 16 000-token hard minimum.
var ErrContextWindowTooSmall = fmt.Errorf("agent: resolved model's context window is below the hard minimum")

// ErrCompactionFailure is returned by RecoverFromOverflow when an
// overflow is itself classified as a compaction failure: the turn must
// terminate.
var ErrCompactionFailure = fmt.Errorf("agent: compaction failed")

// Runtime is the Agent Registry: it binds sessions to agents and models,
// loads and sanitizes persisted context, enforces context-window
// guardrails, builds each turn's tool allowlist and system prompt, and
// drives the completion dispatch loop.
type Runtime struct {
	log       *slog.Logger
	resolver  ModelResolver
	transport ModelTransport
	toolRes   *policy.Resolver
	allTools  map[string]Tool

	store       *sessions.Store
	bus         *lifecycle.Bus
	skillLoader SkillLoader

	// SanitizeToolSchemaEnabled mirrors runtime.sanitizeToolSchema; true
	// unless explicitly disabled.
	SanitizeToolSchemaEnabled bool

	// DefaultHistoryLimit is the historyLimit resolved from channel config
	// by peer when a caller does not supply one.
	DefaultHistoryLimit int

	// DefaultMaxHistoryShare feeds compaction.CompactMessages when a caller
	// does not supply one.
	DefaultMaxHistoryShare float64

	mu             sync.RWMutex
	bindings       map[string]*Binding // sessionKey -> Binding
	modelOverrides map[string]string   // sessionKey -> non-persistent runtime override

	metrics *observability.Metrics
	tracer  *observability.Tracer
}

// NewRuntime constructs a Runtime. transport may be nil in tests that only
// exercise binding/guardrail/allowlist logic. store and bus may be nil:
// a nil store keeps sessions in-memory only (no persisted-context load),
// and a nil bus silently drops lifecycle events.
func NewRuntime(resolver ModelResolver, transport ModelTransport, tools []Tool, store *sessions.Store, bus *lifecycle.Bus) *Runtime {
	toolRes := policy.NewResolver()
	byName := make(map[string]Tool, len(tools))
	for _, t := range tools {
		byName[t.Name()] = t
	}
	return &Runtime{
		log:                       slog.Default().With("component", "agent"),
		resolver:                  resolver,
		transport:                 transport,
		toolRes:                   toolRes,
		allTools:                  byName,
		store:                     store,
		bus:                       bus,
		SanitizeToolSchemaEnabled: true,
		DefaultMaxHistoryShare:    0.5,
		bindings:                  make(map[string]*Binding),
		modelOverrides:            make(map[string]string),
		metrics:                   observability.DefaultMetrics(),
		tracer:                    observability.DefaultTracer(),
	}
}

// WithSkillLoader attaches the collaborator consulted for the `# Skills`
// prompt section and returns the Runtime for chaining.
func (r *Runtime) WithSkillLoader(l SkillLoader) *Runtime {
	r.skillLoader = l
	return r
}

// Start is a no-op hook kept for symmetry with Shutdown and to give future
// background work (e.g. periodic guardrail re-evaluation) a single place to
// start from.
func (r *Runtime) Start(ctx context.Context) error {
	r.log.InfoContext(ctx, "agent runtime started")
	return nil
}

// Shutdown releases runtime resources. It does not close sessions; session
// lifecycle belongs to the Session Store.
func (r *Runtime) Shutdown(ctx context.Context) error {
	r.log.InfoContext(ctx, "agent runtime shutdown")
	return nil
}

// shouldSanitizeTools reports whether modelID requires the Gemini tool
// schema sanitizer: true iff the model id contains "gemini"
// case-insensitively and runtime.sanitizeToolSchema is not explicitly
// false.
func (r *Runtime) shouldSanitizeTools(modelID string) bool {
	return r.SanitizeToolSchemaEnabled && strings.Contains(strings.ToLower(modelID), "gemini")
}

// resolveModel applies the modelRef resolution precedence: runtime
// override, then persisted currentModel, then the agent's configured
// primary, then (if the turn requires image input) image-model routing,
// then fallbacks.
func (r *Runtime) resolveModel(sess *models.Session, cfg *models.AgentConfig, requiresImage bool) (models.ModelSpec, string, error) {
	r.mu.RLock()
	override, hasOverride := r.modelOverrides[sess.SessionKey]
	r.mu.RUnlock()

	type candidate struct {
		ref    string
		source string
	}
	var candidates []candidate
	if hasOverride && override != "" {
		candidates = append(candidates, candidate{override, "session"})
	} else if sess.CurrentModel != "" {
		candidates = append(candidates, candidate{sess.CurrentModel, "session"})
	}
	candidates = append(candidates, candidate{cfg.PrimaryModel, "agentDefault"})
	if requiresImage {
		for _, ref := range cfg.ImageModelRouting {
			candidates = append(candidates, candidate{ref, "fallback"})
		}
	}
	for _, ref := range cfg.FallbackModels {
		candidates = append(candidates, candidate{ref, "fallback"})
	}

	for _, c := range candidates {
		if c.ref == "" {
			continue
		}
		m, ok := r.resolver.ModelByRef(c.ref)
		if !ok {
			continue
		}
		if requiresImage && !m.SupportsModality(models.ModalityImage) {
			continue
		}
		return m, c.source, nil
	}
	return models.ModelSpec{}, "", ErrNoModel
}

// buildToolAllowlist resolves an agent's declared Tools list against the
// registered tool groups/aliases, producing the concrete set of tool names
// usable for the turn.
func (r *Runtime) buildToolAllowlist(cfg *models.AgentConfig) []string {
	names := make([]string, 0, len(r.allTools))
	for name := range r.allTools {
		names = append(names, name)
	}
	if len(cfg.Tools) == 0 {
		return names
	}
	p := &policy.Policy{Allow: cfg.Tools}
	return r.toolRes.FilterAllowed(p, names)
}

// resolveThinkingLevel applies the thinking-level precedence: per-session
// override (session metadata key "thinkingLevel"), then agent config,
// then unset when neither is present.
func resolveThinkingLevel(sess *models.Session, cfg *models.AgentConfig) models.ThinkingLevel {
	if sess != nil && sess.Metadata != nil {
		if raw, ok := sess.Metadata["thinkingLevel"]; ok {
			if s, ok := raw.(string); ok && s != "" {
				return models.ThinkingLevel(s)
			}
		}
	}
	if cfg.ThinkingLevel != "" {
		return cfg.ThinkingLevel
	}
	return models.ThinkingNone
}

// assembleSystemPrompt builds the layered system prompt for a new binding,
// loading the agent's home-directory workspace files.
func (r *Runtime) assembleSystemPrompt(cfg *models.AgentConfig, allowedTools []string, mode prompt.Mode) (prompt.Result, error) {
	ws, err := workspace.LoadWorkspace(workspace.LoaderConfig{Root: cfg.HomeDir})
	if err != nil {
		ws = &workspace.WorkspaceContext{}
	}

	var skills []prompt.Skill
	if r.skillLoader != nil {
		skills, _ = r.skillLoader.LoadAll()
	}

	access := "none"
	switch cfg.Sandbox.WorkspaceAccess {
	case models.WorkspaceAccessRO:
		access = "ro"
	case models.WorkspaceAccessRW:
		access = "rw"
	}

	res := prompt.Assemble(prompt.Input{
		Mode:         mode,
		HomeDir:      cfg.HomeDir,
		WorkspaceDir: cfg.WorkspaceDir,
		BasePrompt:   cfg.BasePrompt,
		Workspace:    ws,
		EnabledTools: allowedTools,
		Skills:       skills,
		Sandbox: prompt.Sandbox{
			WorkspaceDir: cfg.WorkspaceDir,
			AccessLevel:  access,
		},
	})
	return res, nil
}

// pruningSettingsFor derives context.Settings from an agent's
// ContextPruningConfig, falling back to context.DefaultSettings() for any
// zero-valued field.
func pruningSettingsFor(cfg *models.AgentConfig) ctxprune.Settings {
	settings := ctxprune.DefaultSettings()
	cp := cfg.ContextPruning
	if cp.SoftTrimRatio > 0 {
		settings.SoftTrimRatio = cp.SoftTrimRatio
	}
	if cp.HardClearRatio > 0 {
		settings.HardClearRatio = cp.HardClearRatio
	}
	if cp.KeepLastAssistants > 0 {
		settings.KeepLastAssistants = cp.KeepLastAssistants
	}
	if cp.MinPrunableChars > 0 {
		settings.MinPrunableChars = cp.MinPrunableChars
	}
	if cp.SoftTrimMaxChars > 0 {
		settings.SoftTrim.MaxChars = cp.SoftTrimMaxChars
	}
	if cp.SoftTrimHeadChars > 0 {
		settings.SoftTrim.HeadChars = cp.SoftTrimHeadChars
	}
	if cp.SoftTrimTailChars > 0 {
		settings.SoftTrim.TailChars = cp.SoftTrimTailChars
	}
	if len(cp.ProtectedTools) > 0 {
		settings.ProtectedTools = cp.ProtectedTools
	}
	return settings
}

// loadPersistedContext runs the fixed pipeline applied when a binding is
// built fresh and the session carries prior history: limit history turns,
// then prune, then sanitize for the bound model.
func loadPersistedContext(messages []*models.Message, historyLimit int, cfg *models.AgentConfig, model models.ModelSpec, pol sanitize.Policy) []*models.Message {
	if len(messages) == 0 {
		return messages
	}
	out := ctxprune.LimitHistoryTurns(messages, historyLimit)
	charWindow := model.ContextWindow * 4
	out, _ = ctxprune.PruneContextMessages(out, pruningSettingsFor(cfg), charWindow)
	out = sanitize.Sanitize(out, pol)
	return out
}

// HandleInbound resolves (building if absent) the binding for one inbound
// message: agent/session resolution,
// modelRef resolution, context-window guardrails, tool-allowlist and
// system-prompt construction, and — for a freshly built binding with
// non-empty persisted history — the history-limit/prune/sanitize load
// pipeline.
func (r *Runtime) HandleInbound(ctx context.Context, sessionKey, agentID string, requiresImage bool) (*Binding, error) {
	cfg, ok := r.resolver.AgentConfig(agentID)
	if !ok {
		return nil, fmt.Errorf("agent: unknown agent %q", agentID)
	}

	sess, err := r.getOrCreateSession(sessionKey, agentID)
	if err != nil {
		return nil, err
	}

	model, source, err := r.resolveModel(sess, cfg, requiresImage)
	if err != nil {
		return nil, err
	}

	r.mu.RLock()
	existing, hasExisting := r.bindings[sessionKey]
	r.mu.RUnlock()

	if hasExisting && existing.Model.ProviderID == model.ProviderID && existing.Model.ModelID == model.ModelID {
		return existing, nil
	}

	if hasExisting {
		// Model switch: dispose only if tool-sanitization requirements
		// differ; otherwise rebind in place without discarding the loaded
		// transcript.
		if r.shouldSanitizeTools(existing.Model.ModelID) == r.shouldSanitizeTools(model.ModelID) {
			existing.Model = model
			existing.ModelSource = source
			return existing, nil
		}
	}

	return r.buildBinding(ctx, sess, cfg, model, source, requiresImage)
}

// buildBinding constructs a fresh Binding and caches it.
func (r *Runtime) buildBinding(ctx context.Context, sess *models.Session, cfg *models.AgentConfig, model models.ModelSpec, source string, requiresImage bool) (*Binding, error) {
	guard := agents.EvaluateContextWindowGuard(
		agents.ContextWindowInfo{Tokens: model.ContextWindow, Source: agents.ContextWindowSourceModel},
		nil,
	)
	if guard.ShouldBlock {
		return nil, ErrContextWindowTooSmall
	}
	if guard.ShouldWarn {
		r.log.WarnContext(ctx, "agent context window below recommended floor",
			"agentId", sess.AgentID, "model", model.ModelID, "tokens", guard.Tokens)
	}

	allowed := r.buildToolAllowlist(cfg)
	if r.shouldSanitizeTools(model.ModelID) {
		// Schema sanitization mutates per-tool JSON Schema, not the name
		// list; the allowlist of names itself is unaffected, so no change
		// is needed here beyond recording that this binding requires it
		// when transport-level tool schemas are built.
		_ = requiresImage
	}

	promptResult, err := r.assembleSystemPrompt(cfg, allowed, promptModeFor(sess))
	if err != nil {
		return nil, err
	}

	pol := sanitize.PolicyFor(model.ModelID, model.APIFamily, model.ProviderID)
	historyLimit := r.DefaultHistoryLimit
	messages := loadPersistedContext(sess.Context, historyLimit, cfg, model, pol)

	binding := &Binding{
		AgentID:        sess.AgentID,
		Session:        sess,
		Model:          model,
		ModelSource:    source,
		ContextWindow:  guard.ContextWindowInfo,
		AllowedTools:   allowed,
		SystemPrompt:   promptResult.Prompt,
		PromptResult:   promptResult,
		Messages:       messages,
		SanitizePolicy: pol,
		ThinkingLevel:  resolveThinkingLevel(sess, cfg),
	}

	r.mu.Lock()
	r.bindings[sess.SessionKey] = binding
	r.mu.Unlock()
	return binding, nil
}

// promptModeFor reads the session's prompt-mode override from metadata
// (key "promptMode"): subagent sessions run with a minimal prompt, reset
// greetings with a reduced one, everything else with the full layered
// prompt.
func promptModeFor(sess *models.Session) prompt.Mode {
	if sess != nil && sess.Metadata != nil {
		if raw, ok := sess.Metadata["promptMode"]; ok {
			if s, ok := raw.(string); ok && s != "" {
				return prompt.Mode(s)
			}
		}
	}
	return prompt.ModeMain
}

// getOrCreateSession returns the persisted session if a Session Store is
// attached, otherwise a fresh in-memory-only session (tests and
// store-less deployments).
func (r *Runtime) getOrCreateSession(sessionKey, agentID string) (*models.Session, error) {
	if r.store == nil {
		return &models.Session{SessionKey: sessionKey, AgentID: agentID}, nil
	}
	return r.store.GetOrCreate(sessionKey, agentID)
}

// Bind is a compatibility entrypoint for callers that already hold a
// *models.Session (e.g. constructed directly in a test) rather than a bare
// sessionKey; it never loads from the Session Store.
func (r *Runtime) Bind(ctx context.Context, sess *models.Session, requiresImage bool) (*Binding, error) {
	cfg, ok := r.resolver.AgentConfig(sess.AgentID)
	if !ok {
		return nil, fmt.Errorf("agent: unknown agent %q", sess.AgentID)
	}
	model, source, err := r.resolveModel(sess, cfg, requiresImage)
	if err != nil {
		return nil, err
	}
	return r.buildBinding(ctx, sess, cfg, model, source, requiresImage)
}

// SetSessionModel switches a session's bound model. When persist is true
// the new ref is written into the session's persisted metadata and any
// runtime override is cleared; otherwise it is kept only as a
// non-persistent runtime override. If the switch changes
// tool-sanitization requirements, the cached binding is disposed so the
// next HandleInbound rebuilds it from persisted context; otherwise the
// binding's model is swapped in place.
func (r *Runtime) SetSessionModel(ctx context.Context, sessionKey, modelRef string, persist bool) error {
	r.mu.Lock()
	existing, hasExisting := r.bindings[sessionKey]
	var oldModelID string
	if hasExisting {
		oldModelID = existing.Model.ModelID
	}
	if persist {
		delete(r.modelOverrides, sessionKey)
	} else {
		r.modelOverrides[sessionKey] = modelRef
	}
	r.mu.Unlock()

	if persist && r.store != nil {
		ref := modelRef
		if err := r.store.Update(sessionKey, sessions.Changes{CurrentModel: &ref}); err != nil {
			return err
		}
	}

	if hasExisting {
		newModel, ok := r.resolver.ModelByRef(modelRef)
		if ok && r.shouldSanitizeTools(oldModelID) != r.shouldSanitizeTools(newModel.ModelID) {
			r.mu.Lock()
			delete(r.bindings, sessionKey)
			r.mu.Unlock()
		} else if ok {
			r.mu.Lock()
			existing.Model = newModel
			existing.ModelSource = "session"
			r.mu.Unlock()
		}
	}
	return nil
}

// Binding returns the cached binding for a session key, if one was produced
// by a prior Bind/HandleInbound call.
func (r *Runtime) Binding(sessionKey string) (*Binding, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.bindings[sessionKey]
	return b, ok
}

// runID generates an opaque identifier for one Dispatch call's lifecycle
// events.
func runID() string { return uuid.NewString() }

// Dispatch resolves the session's binding, attaches it to ctx, re-sanitizes
// and appends the turn's new messages to the binding's base message list,
// and streams a completion, enforcing the turn's tool policy (if any was
// attached via WithToolPolicy) when a tool call arrives. Lifecycle start/
// end/error events are published to the attached Bus, if any.
func (r *Runtime) Dispatch(ctx context.Context, sess *models.Session, turn []*models.Message) (<-chan CompletionChunk, error) {
	if r.transport == nil {
		return nil, fmt.Errorf("agent: no model transport configured")
	}
	requiresImage := false
	for _, m := range turn {
		if m.HasImage() {
			requiresImage = true
			break
		}
	}
	binding, err := r.Bind(ctx, sess, requiresImage)
	if err != nil {
		return nil, err
	}

	ctx = withSession(ctx, sess)

	tools := make([]Tool, 0, len(binding.AllowedTools))
	resolver, pol, hasPolicy := toolPolicyFromContext(ctx)
	for _, name := range binding.AllowedTools {
		t, ok := r.allTools[name]
		if !ok {
			continue
		}
		if hasPolicy && !resolver.IsAllowed(pol, name) {
			continue
		}
		if r.shouldSanitizeTools(binding.Model.ModelID) {
			t = &schemaSanitizedTool{Tool: t}
		}
		tools = append(tools, t)
	}

	sanitizedTurn := sanitize.Sanitize(turn, binding.SanitizePolicy)
	full := make([]*models.Message, 0, len(binding.Messages)+len(sanitizedTurn))
	full = append(full, binding.Messages...)
	full = append(full, sanitizedTurn...)

	id := runID()
	r.publishLifecycle(id, sess.SessionKey, lifecycle.LifecycleData{Phase: lifecycle.PhaseStart})

	ctx, span := r.tracer.TraceLLMRequest(ctx, binding.Model.ProviderID, binding.Model.ModelID)
	start := time.Now()

	upstream, err := r.transport.Complete(ctx, CompletionRequest{
		Model:    binding.Model,
		Messages: full,
		Tools:    tools,
	})
	if err != nil {
		r.publishLifecycle(id, sess.SessionKey, lifecycle.LifecycleData{Error: err.Error(), Phase: lifecycle.PhaseError})
		r.tracer.RecordError(span, err)
		span.End()
		r.metrics.RecordLLMRequest(binding.Model.ProviderID, binding.Model.ModelID, "error", time.Since(start).Seconds(), 0, 0)
		r.metrics.RecordRunAttempt("error")
		return nil, err
	}

	return r.watchCompletion(id, sess.SessionKey, upstream, span, binding.Model, start), nil
}

// watchCompletion wraps upstream so the Lifecycle Bus observes exactly one
// terminal end or error event per Dispatch call, regardless of how many
// chunks the transport emits. It also
// closes out the LLM request span and records the request's duration/token
// counts once the stream reaches a terminal chunk.
func (r *Runtime) watchCompletion(id, sessionKey string, upstream <-chan CompletionChunk, span trace.Span, model models.ModelSpec, start time.Time) <-chan CompletionChunk {
	finish := func(status string, promptTokens, completionTokens int, err error) {
		if err != nil {
			r.tracer.RecordError(span, err)
		}
		span.End()
		r.metrics.RecordLLMRequest(model.ProviderID, model.ModelID, status, time.Since(start).Seconds(), promptTokens, completionTokens)
		r.metrics.RecordRunAttempt(status)
	}
	if r.bus == nil {
		out := make(chan CompletionChunk)
		go func() {
			defer close(out)
			for chunk := range upstream {
				out <- chunk
				if chunk.Error != nil {
					finish("error", 0, 0, chunk.Error)
					return
				}
				if chunk.Done {
					finish("ok", 0, 0, nil)
					return
				}
			}
			finish("ok", 0, 0, nil)
		}()
		return out
	}
	out := make(chan CompletionChunk)
	go func() {
		defer close(out)
		for chunk := range upstream {
			out <- chunk
			if chunk.Error != nil {
				r.publishLifecycle(id, sessionKey, lifecycle.LifecycleData{Error: chunk.Error.Error(), Phase: lifecycle.PhaseError})
				finish("error", 0, 0, chunk.Error)
				return
			}
			if chunk.Done {
				r.publishLifecycle(id, sessionKey, lifecycle.LifecycleData{Phase: lifecycle.PhaseEnd})
				finish("ok", 0, 0, nil)
				return
			}
		}
		r.publishLifecycle(id, sessionKey, lifecycle.LifecycleData{Phase: lifecycle.PhaseEnd})
		finish("ok", 0, 0, nil)
	}()
	return out
}

func (r *Runtime) publishLifecycle(runID, sessionKey string, data lifecycle.LifecycleData) {
	if r.bus == nil {
		return
	}
	r.bus.PublishLifecycle(runID, sessionKey, data)
}

// Process runs Dispatch and is kept as the historical entrypoint name used
// by subagent orchestration; it is identical to Dispatch.
func (r *Runtime) Process(ctx context.Context, sess *models.Session, turn []*models.Message) (<-chan CompletionChunk, error) {
	return r.Dispatch(ctx, sess, turn)
}

// PersistTurn appends the turn's completed messages to the session's
// transcript. Persisted context is rolled forward only with messages
// whose assistant step completed: callers invoke this once a turn's
// assistant span has fully completed, and partial tool-call spans must
// never be passed in.
func (r *Runtime) PersistTurn(sessionKey string, turn []*models.Message) error {
	r.mu.Lock()
	binding, ok := r.bindings[sessionKey]
	if ok {
		binding.Messages = append(binding.Messages, turn...)
	}
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("agent: no binding for session %q", sessionKey)
	}
	if r.store == nil {
		return nil
	}
	return r.store.Update(sessionKey, sessions.Changes{Context: binding.Messages})
}

// RecoverFromOverflow classifies a model-call error and, if it is an
// overflow that is not itself a compaction failure, compacts the
// session's binding in place so the caller can retry.
// A compaction-failure-classified error returns ErrCompactionFailure,
// signalling the caller to terminate the turn with a lifecycle error. Any
// other error is returned unclassified so the caller can handle it as a
// plain failure.
func (r *Runtime) RecoverFromOverflow(ctx context.Context, sessionKey string, callErr error, generateSummary compaction.SummaryGenerator) error {
	if callErr == nil {
		return nil
	}
	msg := callErr.Error()
	if !overflow.IsOverflow(msg) {
		return callErr
	}
	if overflow.IsCompactionFailure(msg) {
		return ErrCompactionFailure
	}
	_, err := r.Compact(ctx, sessionKey, generateSummary)
	return err
}

// Compact runs the compactor over the binding's current messages, splices
// the resulting summary ahead of the kept messages, installs it as the
// binding's new message list, and persists it into session state.
func (r *Runtime) Compact(ctx context.Context, sessionKey string, generateSummary compaction.SummaryGenerator) (*compaction.CompactResult, error) {
	ctx, span := r.tracer.Start(ctx, "agent.compact")
	defer span.End()

	r.mu.RLock()
	binding, ok := r.bindings[sessionKey]
	r.mu.RUnlock()
	if !ok {
		err := fmt.Errorf("agent: no binding for session %q", sessionKey)
		r.tracer.RecordError(span, err)
		r.metrics.RecordError("agent.compact", "no_binding")
		return nil, err
	}

	maxShare := r.DefaultMaxHistoryShare
	if maxShare <= 0 {
		maxShare = 0.5
	}
	result, err := compaction.CompactMessages(ctx, binding.Messages, binding.ContextWindow.Tokens, maxShare, generateSummary)
	if err != nil {
		r.tracer.RecordError(span, err)
		r.metrics.RecordError("agent.compact", "compaction_failed")
		r.metrics.RecordCompaction("failed")
		return nil, err
	}
	r.tracer.SetAttributes(span, "dropped_count", result.DroppedCount)
	r.metrics.RecordContextWindow(binding.Model.ProviderID, binding.Model.ModelID, binding.ContextWindow.Tokens)
	if result.DroppedCount == 0 {
		r.metrics.RecordCompaction("noop")
		return result, nil
	}
	r.metrics.RecordCompaction("compacted")

	newMessages := make([]*models.Message, 0, len(result.KeptMessages)+1)
	newMessages = append(newMessages, compaction.CreateSummaryMessage(result.Summary))
	newMessages = append(newMessages, result.KeptMessages...)

	r.mu.Lock()
	binding.Messages = newMessages
	r.mu.Unlock()

	if r.store != nil {
		if err := r.store.Update(sessionKey, sessions.Changes{Context: newMessages}); err != nil {
			return result, err
		}
	}
	return result, nil
}

// ContextUsage reports the fraction of a session's bound model context
// window currently consumed.
func (r *Runtime) ContextUsage(sessionKey string) (used, total int, percentage float64, ok bool) {
	r.mu.RLock()
	b, ok := r.bindings[sessionKey]
	r.mu.RUnlock()
	if !ok {
		return 0, 0, 0, false
	}
	used = compaction.EstimateMessagesTokens(b.Messages)
	total = b.ContextWindow.Tokens
	if total == 0 {
		total = 128000
	}
	return used, total, float64(used) / float64(total), true
}

// ContextBreakdown partitions a session's current messages' estimated
// tokens by role.
type ContextBreakdown struct {
	SystemPromptTokens     int
	UserMessageTokens      int
	AssistantMessageTokens int
	ToolResultTokens       int
	TotalTokens            int
}

// ContextBreakdown computes the role-partitioned token breakdown for a
// session's current binding.
func (r *Runtime) ContextBreakdown(sessionKey string) (ContextBreakdown, bool) {
	r.mu.RLock()
	b, ok := r.bindings[sessionKey]
	r.mu.RUnlock()
	if !ok {
		return ContextBreakdown{}, false
	}
	var out ContextBreakdown
	out.SystemPromptTokens = compaction.EstimateTokens(models.NewTextMessage(models.RoleUser, b.SystemPrompt))
	for _, m := range b.Messages {
		tokens := compaction.EstimateTokens(m)
		switch m.Role {
		case models.RoleUser:
			out.UserMessageTokens += tokens
		case models.RoleAssistant:
			out.AssistantMessageTokens += tokens
		case models.RoleToolResult:
			out.ToolResultTokens += tokens
		}
	}
	out.TotalTokens = out.SystemPromptTokens + out.UserMessageTokens + out.AssistantMessageTokens + out.ToolResultTokens
	return out, true
}

// ModalityRoutingResult reports the outcome of EnsureSessionModelForInput:
// whether a compatible model was found, whether a switch happened, and the
// candidate refs that were considered.
type ModalityRoutingResult struct {
	OK         bool
	Switched   bool
	ModelRef   string
	Candidates []string
}

// EnsureSessionModelForInput resolves a model capable of accepting
// modality for sessionKey, switching the session's bound model (in place,
// non-persistently) if the current one cannot.
func (r *Runtime) EnsureSessionModelForInput(ctx context.Context, sessionKey, agentID string, modality models.InputModality) (ModalityRoutingResult, error) {
	cfg, ok := r.resolver.AgentConfig(agentID)
	if !ok {
		return ModalityRoutingResult{}, fmt.Errorf("agent: unknown agent %q", agentID)
	}

	r.mu.RLock()
	b, hasBinding := r.bindings[sessionKey]
	r.mu.RUnlock()
	if hasBinding && b.Model.SupportsModality(modality) {
		return ModalityRoutingResult{OK: true, ModelRef: b.Model.ModelID}, nil
	}

	var candidates []string
	if modality == models.ModalityImage {
		candidates = append(candidates, cfg.ImageModelRouting...)
	}
	candidates = append(candidates, cfg.FallbackModels...)

	for _, ref := range candidates {
		m, ok := r.resolver.ModelByRef(ref)
		if !ok || !m.SupportsModality(modality) {
			continue
		}
		if err := r.SetSessionModel(ctx, sessionKey, ref, false); err != nil {
			return ModalityRoutingResult{}, err
		}
		return ModalityRoutingResult{OK: true, Switched: true, ModelRef: ref, Candidates: candidates}, nil
	}
	return ModalityRoutingResult{OK: false, Candidates: candidates}, nil
}
