package doctor

import (
	"fmt"

	"github.com/haasonsaas/mozi/internal/config"
	"github.com/haasonsaas/mozi/internal/security"
)

// ProbeConfig reports health checks over the config document itself, beyond
// the per-agent checks ProbeAgents covers: hardcoded-secret detection, open
// channel policies, and insecure edge-daemon auth, plus the
// channel credential completeness check CheckChannelPolicies performs.
func ProbeConfig(cfg *config.Config) []Check {
	if cfg == nil {
		return nil
	}

	var checks []Check
	for _, finding := range security.AuditConfig(cfg) {
		checks = append(checks, Check{
			Name:     fmt.Sprintf("config: %s", finding.CheckID),
			Severity: severityFromAudit(finding.Severity),
			Message:  finding.Detail,
		})
	}

	for _, warning := range CheckChannelPolicies(cfg) {
		checks = append(checks, Check{
			Name:     "config: channel credentials",
			Severity: SeverityWarn,
			Message:  warning,
		})
	}

	return checks
}

func severityFromAudit(s security.Severity) Severity {
	switch s {
	case security.SeverityCritical:
		return SeverityError
	case security.SeverityWarn:
		return SeverityWarn
	default:
		return SeverityOK
	}
}
