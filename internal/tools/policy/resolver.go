package policy

import (
	"sort"
	"strings"
	"sync"
)

// Resolver expands groups and aliases and evaluates policies against tool
// names. The zero set of registered groups is DefaultGroups; callers may
// add more.
type Resolver struct {
	mu      sync.RWMutex
	groups  map[string][]string
	aliases map[string]string
}

// Decision explains one allow/deny evaluation.
type Decision struct {
	Allowed bool
	Tool    string
	Reason  string
}

// NewResolver constructs a Resolver seeded with DefaultGroups and
// ToolAliases.
func NewResolver() *Resolver {
	r := &Resolver{
		groups:  make(map[string][]string, len(DefaultGroups)),
		aliases: make(map[string]string, len(ToolAliases)),
	}
	for name, tools := range DefaultGroups {
		r.groups[name] = append([]string(nil), tools...)
	}
	for alias, canonical := range ToolAliases {
		r.aliases[alias] = canonical
	}
	return r
}

// AddGroup registers (or replaces) a named group. Names without the
// "group:" prefix get it added.
func (r *Resolver) AddGroup(name string, tools []string) {
	if !strings.HasPrefix(name, "group:") {
		name = "group:" + name
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.groups[name] = append([]string(nil), tools...)
}

// RegisterAlias maps alias to a canonical tool name.
func (r *Resolver) RegisterAlias(alias, canonical string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.aliases[strings.ToLower(strings.TrimSpace(alias))] = canonical
}

// CanonicalName resolves an alias to its canonical tool name.
func (r *Resolver) CanonicalName(name string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.canonicalNameLocked(name)
}

func (r *Resolver) canonicalNameLocked(name string) string {
	trimmed := strings.TrimSpace(name)
	if canonical, ok := r.aliases[strings.ToLower(trimmed)]; ok {
		return canonical
	}
	return trimmed
}

// ExpandGroups replaces group references with their member tools and
// resolves aliases, deduplicating while preserving first-seen order.
func (r *Resolver) ExpandGroups(items []string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]bool)
	var out []string
	add := func(name string) {
		if name == "" || seen[name] {
			return
		}
		seen[name] = true
		out = append(out, name)
	}

	for _, item := range items {
		item = strings.TrimSpace(item)
		if members, ok := r.groups[item]; ok {
			for _, m := range members {
				add(r.canonicalNameLocked(m))
			}
			continue
		}
		add(r.canonicalNameLocked(item))
	}
	return out
}

// IsAllowed reports whether policy permits toolName.
func (r *Resolver) IsAllowed(policy *Policy, toolName string) bool {
	return r.Decide(policy, toolName).Allowed
}

// Decide evaluates policy against toolName and explains which rule caused
// the outcome. Deny rules win over allow rules; ProfileFull allows
// anything not denied.
func (r *Resolver) Decide(policy *Policy, toolName string) Decision {
	normalized := r.CanonicalName(toolName)
	decision := Decision{Tool: normalized, Reason: "no matching allow rule"}

	if policy == nil {
		decision.Reason = "no policy configured"
		return decision
	}

	var allowed []string
	if policy.Profile != "" {
		if profilePolicy, ok := ProfileDefaults[policy.Profile]; ok && profilePolicy != nil {
			allowed = r.ExpandGroups(profilePolicy.Allow)
		}
	}
	if len(policy.Allow) > 0 {
		allowed = append(allowed, r.ExpandGroups(policy.Allow)...)
	}

	for _, d := range r.ExpandGroups(policy.Deny) {
		if d == normalized || matchToolPattern(d, normalized) {
			decision.Reason = "denied by rule: " + d
			return decision
		}
	}

	if policy.Profile == ProfileFull {
		decision.Allowed = true
		decision.Reason = "allowed by profile full"
		return decision
	}

	for _, a := range allowed {
		if a == normalized || matchToolPattern(a, normalized) {
			decision.Allowed = true
			decision.Reason = "allowed by rule: " + a
			return decision
		}
	}
	return decision
}

// matchToolPattern matches a trailing-wildcard pattern ("memory_*")
// against a tool name. Patterns without '*' never match here; exact
// equality is checked by the caller.
func matchToolPattern(pattern, toolName string) bool {
	if !strings.Contains(pattern, "*") {
		return false
	}
	prefix := strings.TrimSuffix(pattern, "*")
	if prefix == pattern {
		return false
	}
	return strings.HasPrefix(toolName, prefix)
}

// FilterAllowed returns the subset of tools that policy permits,
// preserving input order.
func (r *Resolver) FilterAllowed(policy *Policy, tools []string) []string {
	var out []string
	for _, tool := range tools {
		if r.IsAllowed(policy, tool) {
			out = append(out, tool)
		}
	}
	return out
}

// GetAllowed returns the expanded, sorted allow set for a policy
// (profile plus explicit allows, minus denies).
func (r *Resolver) GetAllowed(policy *Policy) []string {
	if policy == nil {
		return nil
	}
	var candidates []string
	if policy.Profile != "" {
		if profilePolicy, ok := ProfileDefaults[policy.Profile]; ok && profilePolicy != nil {
			candidates = r.ExpandGroups(profilePolicy.Allow)
		}
	}
	candidates = append(candidates, r.ExpandGroups(policy.Allow)...)

	var out []string
	seen := make(map[string]bool)
	for _, c := range candidates {
		if seen[c] || !r.IsAllowed(policy, c) {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}
