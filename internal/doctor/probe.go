// Package doctor implements the health-report checks the "mozi doctor"
// command surfaces: each check walks declared configuration
// and reports a severity plus an actionable hint, rather than failing the
// process outright.
package doctor

import (
	"context"
	"fmt"
	"sort"

	"github.com/haasonsaas/mozi/internal/config"
	"github.com/haasonsaas/mozi/internal/secrets"
	"github.com/haasonsaas/mozi/internal/tools/sandbox"
	"github.com/haasonsaas/mozi/pkg/models"
)

// Severity is a check's outcome level.
type Severity string

const (
	SeverityOK    Severity = "ok"
	SeverityWarn  Severity = "warn"
	SeverityError Severity = "error"
)

// Check is a single reported finding.
type Check struct {
	Name     string
	Severity Severity
	Message  string
}

// ProbeAgents walks every declared agent and reports its sandbox and
// secret-scope health: sandbox
// mode docker with no image configured, or an agent declaring
// allowedSecrets the broker has no value for). broker may be nil, in which
// case secret checks are skipped with a warning rather than a panic.
func ProbeAgents(cfg *config.Config, broker *secrets.Broker) []Check {
	if cfg == nil {
		return nil
	}

	ids := make([]string, 0, len(cfg.Agents))
	for id := range cfg.Agents {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var checks []Check
	for _, id := range ids {
		agentCfg := cfg.Agents[id]
		checks = append(checks, probeAgentSandbox(agentCfg)...)
		checks = append(checks, probeAgentSecrets(agentCfg, broker)...)
	}
	return checks
}

func probeAgentSandbox(agentCfg models.AgentConfig) []Check {
	name := fmt.Sprintf("agent %s: sandbox", agentCfg.ID)

	result, err := sandbox.Probe(context.Background(), agentCfg.Sandbox)
	if err != nil {
		return []Check{{Name: name, Severity: SeverityError, Message: err.Error()}}
	}
	if result.OK {
		return []Check{{Name: name, Severity: SeverityOK, Message: fmt.Sprintf("mode %s ready", agentCfg.Sandbox.Mode)}}
	}

	message := result.Message
	if len(result.Hints) > 0 {
		message = fmt.Sprintf("%s (%s)", message, result.Hints[0])
	}
	return []Check{{Name: name, Severity: SeverityWarn, Message: message}}
}

func probeAgentSecrets(agentCfg models.AgentConfig, broker *secrets.Broker) []Check {
	if len(agentCfg.AllowedSecrets) == 0 {
		return nil
	}
	name := fmt.Sprintf("agent %s: secrets", agentCfg.ID)

	if broker == nil {
		return []Check{{Name: name, Severity: SeverityWarn, Message: "secret broker unavailable; skipped allowedSecrets resolution check"}}
	}

	var missing []string
	for _, secretName := range agentCfg.AllowedSecrets {
		if !broker.Check(secretName, agentCfg.ID, nil) {
			missing = append(missing, secretName)
		}
	}
	if len(missing) == 0 {
		return []Check{{Name: name, Severity: SeverityOK, Message: fmt.Sprintf("%d allowed secret(s) resolvable", len(agentCfg.AllowedSecrets))}}
	}
	return []Check{{Name: name, Severity: SeverityWarn, Message: fmt.Sprintf("no value for: %v", missing)}}
}
