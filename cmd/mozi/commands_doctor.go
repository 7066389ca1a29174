package main

import (
	"fmt"

	"github.com/haasonsaas/mozi/internal/config"
	"github.com/haasonsaas/mozi/internal/doctor"
	"github.com/haasonsaas/mozi/internal/secrets"
	"github.com/spf13/cobra"
)

// buildDoctorCmd creates the "doctor" command: a health report over every
// declared agent's sandbox readiness and allowedSecrets resolvability.
func buildDoctorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Report ok/warn/error health checks across declared agents",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDoctor(cmd, configPath)
		},
	}
	return cmd
}

func runDoctor(cmd *cobra.Command, path string) error {
	result := config.Load(path)
	if !result.Success {
		fmt.Fprintln(cmd.OutOrStdout(), "config failed to load:")
		for _, e := range result.Errors {
			fmt.Fprintf(cmd.OutOrStdout(), "  error: %s\n", e)
		}
		return fmt.Errorf("config validation failed")
	}

	var broker *secrets.Broker
	if result.Config.Secrets.StorePath != "" {
		broker, _ = secrets.NewBroker(result.Config.Secrets.StorePath, result.Config.Secrets.MasterKeyEnvVar)
	}

	checks := doctor.ProbeAgents(result.Config, broker)
	checks = append(checks, doctor.ProbeConfig(result.Config)...)
	if len(checks) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no agents declared")
		return nil
	}

	hadError := false
	for _, check := range checks {
		fmt.Fprintf(cmd.OutOrStdout(), "[%s] %s: %s\n", check.Severity, check.Name, check.Message)
		if check.Severity == doctor.SeverityError {
			hadError = true
		}
	}
	if hadError {
		return fmt.Errorf("one or more doctor checks failed")
	}
	return nil
}
