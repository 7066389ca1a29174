package security

import "github.com/haasonsaas/mozi/internal/config"

// Severity is the risk level of one audit finding.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarn     Severity = "warn"
	SeverityCritical Severity = "critical"
)

// AuditFinding is one result produced by auditing a config document for
// hardcoded secrets or permissive channel/edge policy.
type AuditFinding struct {
	// CheckID names the specific rule that produced this finding, e.g.
	// "config.hardcoded_api_key.anthropic".
	CheckID string

	Severity Severity

	// Title is a one-line summary suitable for the doctor report.
	Title string

	// Detail explains what was observed.
	Detail string

	// Remediation is the suggested fix.
	Remediation string
}

// AuditConfig runs every config-level audit check (secrets embedded in
// plaintext fields, open channel policies, dev-mode edge auth) over cfg and
// returns the combined findings, consulted by the doctor "config"
// checks.
func AuditConfig(cfg *config.Config) []AuditFinding {
	return auditConfigContent(cfg)
}
