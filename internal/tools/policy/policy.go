// Package policy decides which tools a bound agent may invoke. A Policy
// combines a profile with explicit allow and deny lists; deny rules always
// take precedence over allow rules. Group references ("group:fs") and
// aliases ("read" for "read_file") are expanded by the Resolver.
package policy

import "strings"

// Profile is a pre-configured tool access level.
type Profile string

const (
	// ProfileMinimal allows only the introspection tools.
	ProfileMinimal Profile = "minimal"

	// ProfileCoding allows filesystem, search, and exec tools.
	ProfileCoding Profile = "coding"

	// ProfileFull allows every tool not explicitly denied.
	ProfileFull Profile = "full"
)

// Policy defines one agent's tool access rules.
type Policy struct {
	// Profile is a pre-configured access level applied before Allow/Deny.
	Profile Profile `json:"profile,omitempty"`

	// Allow names tools, aliases, or groups permitted in addition to the
	// profile.
	Allow []string `json:"allow,omitempty"`

	// Deny names tools, aliases, or groups refused even when allowed
	// elsewhere.
	Deny []string `json:"deny,omitempty"`
}

// DefaultGroups are the built-in tool groups, referenced from policies as
// "group:<name>".
var DefaultGroups = map[string][]string{
	"group:fs":            {"read_file", "write_file", "edit_file", "create_file"},
	"group:search":        {"grep", "find", "ls"},
	"group:exec":          {"exec"},
	"group:memory":        {"memory_search", "memory_get"},
	"group:subagent":      {"subagent_run"},
	"group:skills":        {"skills_note"},
	"group:introspection": {"context_usage"},
	"group:core": {
		"read_file", "write_file", "edit_file", "create_file",
		"grep", "find", "ls",
		"exec",
		"memory_search", "memory_get",
		"subagent_run", "skills_note",
		"context_usage",
	},
}

// ProfileDefaults maps each profile to its implied policy.
var ProfileDefaults = map[Profile]*Policy{
	ProfileMinimal: {Allow: []string{"group:introspection"}},
	ProfileCoding:  {Allow: []string{"group:fs", "group:search", "group:exec"}},
	ProfileFull:    {},
}

// ToolAliases maps accepted shorthand names to canonical tool names.
var ToolAliases = map[string]string{
	"read":   "read_file",
	"write":  "write_file",
	"edit":   "edit_file",
	"create": "create_file",
	"bash":   "exec",
	"shell":  "exec",
	"memory": "memory_search",
}

// NormalizeTool resolves an alias to its canonical tool name, passing
// through names that have no alias.
func NormalizeTool(name string) string {
	trimmed := strings.TrimSpace(name)
	if canonical, ok := ToolAliases[strings.ToLower(trimmed)]; ok {
		return canonical
	}
	return trimmed
}

// NormalizeTools maps NormalizeTool over names, dropping empties.
func NormalizeTools(names []string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		if normalized := NormalizeTool(n); normalized != "" {
			out = append(out, normalized)
		}
	}
	return out
}

// NewPolicy returns a Policy with the given profile and empty allow/deny
// lists.
func NewPolicy(profile Profile) *Policy {
	return &Policy{Profile: profile}
}

// WithAllow appends tools to the allow list and returns the policy.
func (p *Policy) WithAllow(tools ...string) *Policy {
	p.Allow = append(p.Allow, tools...)
	return p
}

// WithDeny appends tools to the deny list and returns the policy.
func (p *Policy) WithDeny(tools ...string) *Policy {
	p.Deny = append(p.Deny, tools...)
	return p
}

// Merge combines policies left to right: later profiles win when set, and
// allow/deny lists concatenate.
func Merge(policies ...*Policy) *Policy {
	out := &Policy{}
	for _, p := range policies {
		if p == nil {
			continue
		}
		if p.Profile != "" {
			out.Profile = p.Profile
		}
		out.Allow = append(out.Allow, p.Allow...)
		out.Deny = append(out.Deny, p.Deny...)
	}
	return out
}
